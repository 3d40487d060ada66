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

package constants

import "time"

const (
	// DefaultAppVersion is the version reported by local builds without ldflags.
	// Sentry stays disabled for it.
	DefaultAppVersion = "0.0.0-dev"

	// DefaultDevelopmentEnvironment is the Sentry environment for pre-release versions.
	DefaultDevelopmentEnvironment = "development"

	// DefaultProductionEnvironment is the Sentry environment for release versions.
	DefaultProductionEnvironment = "production"
)

const (
	// DefaultMonitorInterval is the interval between two registry polls of the health monitor.
	DefaultMonitorInterval = 10 * time.Second

	// DefaultMinWorkers is the minimum number of live queue-pull registrations
	// before the pool is rebuilt. Stream consumers never count towards it.
	DefaultMinWorkers = 6

	// DefaultSettleDelay is how long the self-healing cycle waits after
	// respawning before it looks at the registry again (for logging only).
	DefaultSettleDelay = 5 * time.Second

	// DefaultShutdownGracePeriod is the time a worker gets between SIGTERM and SIGKILL.
	DefaultShutdownGracePeriod = 10 * time.Second

	// DefaultStartupGrace suppresses restarts after the initial spawn while
	// workers are still booting. Zero lets the first tick restart the pool.
	DefaultStartupGrace time.Duration = 0

	// RegistryQueryTimeout bounds a single registry read.
	RegistryQueryTimeout = 5 * time.Second

	// RegistryFailureWarnThreshold is the number of consecutive failed
	// registry polls after which the failure is escalated to Sentry.
	RegistryFailureWarnThreshold = 3

	// ReconcileMaxRetries is the number of retries for the stale registration cleanup.
	ReconcileMaxRetries = 2

	// ReconcileInitialBackoff is the first backoff step of the stale registration cleanup.
	ReconcileInitialBackoff = 500 * time.Millisecond
)

const (
	// DefaultGenericWorkers is the number of generic queue-pull workers.
	DefaultGenericWorkers = 6

	// DefaultDedicatedQueue is consumed by a worker of its own so it is never
	// starved by generic work.
	DefaultDedicatedQueue = "audio"

	// DefaultRegistryKeyPrefix is the key prefix of the RQ worker registry.
	DefaultRegistryKeyPrefix = "rq:"

	// DefaultRedisURL is used when REDIS_URL is not set.
	DefaultRedisURL = "redis://localhost:6379/0"

	// DefaultConfigFile is read if present. A missing file is not an error.
	DefaultConfigFile = "/data/pool-supervisor.yaml"

	// DefaultMetricsPort serves /metrics.
	DefaultMetricsPort = 9102

	// DefaultHealthPort serves /live and /ready.
	DefaultHealthPort = 8086
)

// DefaultGenericQueues are the shared queues every generic worker consumes, in priority order.
var DefaultGenericQueues = []string{"transcription", "memory", "default"}

// DefaultQueueWorkerCommand starts a queue-pull worker. The launcher appends
// the broker URL, the registration name and the queue names.
var DefaultQueueWorkerCommand = []string{"uv", "run", "--no-sync", "rq", "worker"}
