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

// Package config loads the supervisor configuration from defaults, an optional
// YAML file and environment variable overrides, and validates the result.
package config

import (
	"errors"
	"time"

	"github.com/united-manufacturing-hub/pool-supervisor/pkg/constants"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// FullConfig is the complete supervisor configuration.
type FullConfig struct {
	Redis   RedisConfig   `yaml:"redis"`
	Pool    PoolConfig    `yaml:"pool"`
	Monitor MonitorConfig `yaml:"monitor"`
	Agent   AgentConfig   `yaml:"agent"`
}

// RedisConfig describes the broker connection shared by the supervisor and the monitored workers.
type RedisConfig struct {
	URL string `yaml:"url" validate:"required,url"`
	// KeyPrefix is the prefix of the worker registry keys, "rq:" for RQ.
	KeyPrefix string `yaml:"keyPrefix" validate:"required"`
}

// PoolConfig describes the worker composition.
type PoolConfig struct {
	// HostIdentity scopes registry reads and cleanups to this host. Defaults to the hostname.
	HostIdentity string `yaml:"hostIdentity" validate:"required"`

	GenericWorkers int      `yaml:"genericWorkers" validate:"gte=0"`
	GenericQueues  []string `yaml:"genericQueues" validate:"required_unless=GenericWorkers 0,dive,required"`
	DedicatedQueue string   `yaml:"dedicatedQueue" validate:"required,excludes=."`

	// QueueWorkerCommand starts a queue-pull worker. Broker URL, worker name
	// and queue names are appended by the launcher.
	QueueWorkerCommand []string `yaml:"queueWorkerCommand" validate:"min=1,dive,required"`

	StreamConsumers []StreamConsumerConfig `yaml:"streamConsumers" validate:"unique=Name,dive"`
}

// StreamConsumerConfig is an optional worker that is only started when the
// configuration key named in EnabledBy is present.
type StreamConsumerConfig struct {
	Name      string   `yaml:"name" validate:"required"`
	EnabledBy string   `yaml:"enabledBy" validate:"required"`
	Command   []string `yaml:"command" validate:"min=1,dive,required"`
}

// MonitorConfig holds the health monitor and teardown timings.
type MonitorConfig struct {
	MinWorkers          int           `yaml:"minWorkers" validate:"gte=1"`
	Interval            time.Duration `yaml:"interval" validate:"gt=0"`
	SettleDelay         time.Duration `yaml:"settleDelay" validate:"gte=0"`
	StartupGrace        time.Duration `yaml:"startupGrace" validate:"gte=0"`
	ShutdownGracePeriod time.Duration `yaml:"shutdownGracePeriod" validate:"gte=0"`
}

// AgentConfig holds the ops surface of the supervisor process itself.
type AgentConfig struct {
	MetricsPort int    `yaml:"metricsPort" validate:"gte=0,lt=65536"`
	HealthPort  int    `yaml:"healthPort" validate:"gte=0,lt=65536"`
	SentryDSN   string `yaml:"sentryDSN" validate:"omitempty,url"`
}

// MonitoredWorkers is the number of queue-pull workers the composition yields.
func (c PoolConfig) MonitoredWorkers() int {
	return c.GenericWorkers + 1
}

// Defaults returns the configuration used when neither file nor environment say otherwise.
func Defaults() FullConfig {
	return FullConfig{
		Redis: RedisConfig{
			URL:       constants.DefaultRedisURL,
			KeyPrefix: constants.DefaultRegistryKeyPrefix,
		},
		Pool: PoolConfig{
			GenericWorkers:     constants.DefaultGenericWorkers,
			GenericQueues:      append([]string(nil), constants.DefaultGenericQueues...),
			DedicatedQueue:     constants.DefaultDedicatedQueue,
			QueueWorkerCommand: append([]string(nil), constants.DefaultQueueWorkerCommand...),
			StreamConsumers: []StreamConsumerConfig{
				{
					Name:      "audio-stream-deepgram",
					EnabledBy: "DEEPGRAM_API_KEY",
					Command:   []string{"uv", "run", "--no-sync", "python", "-m", "workers.audio_stream_deepgram"},
				},
				{
					Name:      "audio-stream-parakeet",
					EnabledBy: "PARAKEET_ASR_URL",
					Command:   []string{"uv", "run", "--no-sync", "python", "-m", "workers.audio_stream_parakeet"},
				},
			},
		},
		Monitor: MonitorConfig{
			MinWorkers:          constants.DefaultMinWorkers,
			Interval:            constants.DefaultMonitorInterval,
			SettleDelay:         constants.DefaultSettleDelay,
			StartupGrace:        constants.DefaultStartupGrace,
			ShutdownGracePeriod: constants.DefaultShutdownGracePeriod,
		},
		Agent: AgentConfig{
			MetricsPort: constants.DefaultMetricsPort,
			HealthPort:  constants.DefaultHealthPort,
		},
	}
}
