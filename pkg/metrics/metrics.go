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

package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/united-manufacturing-hub/pool-supervisor/pkg/logger"
	"github.com/united-manufacturing-hub/pool-supervisor/pkg/sentry"
)

var (
	// Namespace for all metrics.
	namespace = "pool_supervisor"

	liveRegistrations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_registrations",
			Help:      "Live broker registrations of this host as seen by the last successful health check",
		},
	)

	trackedWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_workers",
			Help:      "Worker processes currently owned by the supervisor",
		},
		[]string{"monitored"},
	)

	restartCycles = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restart_cycles_total",
			Help:      "Whole-pool restart cycles started by the health monitor",
		},
	)

	registryQueryErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_query_errors_total",
			Help:      "Failed registry queries; the affected health checks were skipped",
		},
	)

	unexpectedExits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unexpected_exits_total",
			Help:      "Worker processes that exited without being asked to",
		},
		[]string{"worker"},
	)

	supervisorState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Current supervisor state (0=starting, 1=running, 2=restarting, 3=shutting_down_graceful, 4=shutting_down_crash, 5=terminated, -1=unknown)",
		},
	)

	staleRegistrationsRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_registrations_removed_total",
			Help:      "Stale broker registrations of this host removed by the reconciler",
		},
	)
)

// SetupMetricsEndpoint starts an HTTP server to expose metrics
// This should be called once at application startup.
func SetupMetricsEndpoint(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.ReportIssuef(sentry.IssueTypeError, logger.For(logger.ComponentMetrics), "metrics endpoint stopped: %v", err)
		}
	}()

	return server
}

// SetLiveRegistrations records the result of a successful registry query.
func SetLiveRegistrations(n int) {
	liveRegistrations.Set(float64(n))
}

// SetTrackedWorkers records the size of the owned pool.
func SetTrackedWorkers(monitored, unmonitored int) {
	trackedWorkers.WithLabelValues(strconv.FormatBool(true)).Set(float64(monitored))
	trackedWorkers.WithLabelValues(strconv.FormatBool(false)).Set(float64(unmonitored))
}

func IncRestartCycles() {
	restartCycles.Inc()
}

func IncRegistryQueryErrors() {
	registryQueryErrors.Inc()
}

func IncUnexpectedExits(worker string) {
	unexpectedExits.WithLabelValues(worker).Inc()
}

func AddStaleRegistrationsRemoved(n int) {
	staleRegistrationsRemoved.Add(float64(n))
}

// UpdateSupervisorState exports the supervisor state as a number.
func UpdateSupervisorState(state string) {
	supervisorState.Set(getStateValue(state))
}

func getStateValue(state string) float64 {
	switch state {
	case "starting":
		return 0
	case "running":
		return 1
	case "restarting":
		return 2
	case "shutting_down_graceful":
		return 3
	case "shutting_down_crash":
		return 4
	case "terminated":
		return 5
	default:
		return -1
	}
}
