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

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/pool-supervisor/pkg/config"
	"github.com/united-manufacturing-hub/pool-supervisor/pkg/constants"
	"github.com/united-manufacturing-hub/pool-supervisor/pkg/health"
	"github.com/united-manufacturing-hub/pool-supervisor/pkg/logger"
	"github.com/united-manufacturing-hub/pool-supervisor/pkg/metrics"
	"github.com/united-manufacturing-hub/pool-supervisor/pkg/sentry"
	"github.com/united-manufacturing-hub/pool-supervisor/pkg/service/process_manager"
	"github.com/united-manufacturing-hub/pool-supervisor/pkg/service/registry"
	"github.com/united-manufacturing-hub/pool-supervisor/pkg/supervisor"
	"github.com/united-manufacturing-hub/pool-supervisor/pkg/version"
)

const (
	serverShutdownTimeout = 3 * time.Second
	brokerPingAttempts    = 5
)

func main() {
	os.Exit(int(run()))
}

func run() supervisor.ExitCode {
	logger.Initialize()
	defer func() {
		_ = logger.Sync()
	}()

	log := logger.For(logger.ComponentCore)
	log.Infof("Starting pool-supervisor %s", version.GetAppVersion())

	configFile, err := env.GetAsString("CONFIG_FILE", false, constants.DefaultConfigFile)
	if err != nil {
		log.Warnf("Failed to read CONFIG_FILE, using %s: %v", constants.DefaultConfigFile, err)
	}

	cfg, err := config.Load(configFile, logger.For(logger.ComponentConfig))
	if err != nil {
		log.Errorf("Failed to load config: %v", err)
		return supervisor.ExitUnstable
	}

	if sentry.InitSentry(version.GetAppVersion(), cfg.Agent.SentryDSN, true) {
		defer sentry.Flush()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient, err := registry.NewClient(cfg.Redis.URL)
	if err != nil {
		log.Errorf("Failed to create redis client: %v", err)
		return supervisor.ExitUnstable
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Warnf("Failed to close redis client: %v", err)
		}
	}()
	reg := registry.NewRedisRegistry(redisClient, cfg.Redis.KeyPrefix)
	waitForBroker(ctx, reg, log)

	launcher := process_manager.NewLauncher(cfg.Redis.URL, cfg.Pool.HostIdentity)
	sup := supervisor.New(cfg, launcher, reg)

	if cfg.Agent.MetricsPort > 0 {
		server := metrics.SetupMetricsEndpoint(fmt.Sprintf(":%d", cfg.Agent.MetricsPort))
		defer shutdownServer(server, log)
	}
	if cfg.Agent.HealthPort > 0 {
		handler := health.NewHandler(ctx, sup, reg, prometheus.DefaultRegisterer)
		server := health.Serve(fmt.Sprintf(":%d", cfg.Agent.HealthPort), handler)
		defer shutdownServer(server, log)
	}

	code := sup.Run(ctx)
	log.Infof("Pool supervisor finished with exit code %d", code)

	return code
}

// waitForBroker pings the broker a few times so the first health checks do
// not run against a Redis that is still starting. It never fails startup.
func waitForBroker(ctx context.Context, reg *registry.RedisRegistry, log *zap.SugaredLogger) {
	ping := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, constants.RegistryQueryTimeout)
		defer cancel()
		return reg.Ping(pingCtx)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), brokerPingAttempts-1), ctx)
	err := backoff.RetryNotify(ping, b, func(err error, next time.Duration) {
		log.Infof("Broker not reachable yet, retrying in %s: %v", next.Round(time.Millisecond), err)
	})
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeWarning, log, "broker unreachable at startup, continuing: %v", err)
	}
}

func shutdownServer(server *http.Server, log *zap.SugaredLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("Failed to shutdown %s server: %v", server.Addr, err)
	}
}
