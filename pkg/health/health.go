// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/united-manufacturing-hub/pool-supervisor/pkg/logger"
	"github.com/united-manufacturing-hub/pool-supervisor/pkg/sentry"
)

const (
	// goroutineThreshold fails liveness if the supervisor leaks goroutines.
	// A full pool needs about four per worker.
	goroutineThreshold = 10000

	brokerCheckInterval = 5 * time.Second
	brokerCheckTimeout  = 2 * time.Second
)

// StateReporter is what the readiness check needs from the supervisor.
type StateReporter interface {
	Ready() bool
	State() string
}

// Pinger checks broker reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHandler builds the /live and /ready handler. The broker check runs in the
// background until ctx is done; check results are also exported to registerer.
func NewHandler(ctx context.Context, sup StateReporter, broker Pinger, registerer prometheus.Registerer) healthcheck.Handler {
	handler := healthcheck.NewMetricsHandler(registerer, "pool_supervisor")

	handler.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(goroutineThreshold))
	handler.AddReadinessCheck("supervisor-running", SupervisorRunningCheck(sup))
	handler.AddReadinessCheck("broker", healthcheck.AsyncWithContext(ctx, BrokerCheck(broker, brokerCheckTimeout), brokerCheckInterval))

	return handler
}

// SupervisorRunningCheck passes while the pool is in steady state.
func SupervisorRunningCheck(sup StateReporter) healthcheck.Check {
	return func() error {
		if sup.Ready() {
			return nil
		}
		return fmt.Errorf("supervisor is %s", sup.State())
	}
}

// BrokerCheck pings the broker with a timeout.
func BrokerCheck(broker Pinger, timeout time.Duration) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return broker.Ping(ctx)
	}
}

// Serve starts an HTTP server for handler on addr.
func Serve(addr string, handler http.Handler) *http.Server {
	server := &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.ReportIssuef(sentry.IssueTypeError, logger.For(logger.ComponentHealth), "health endpoint stopped: %v", err)
		}
	}()

	return server
}
