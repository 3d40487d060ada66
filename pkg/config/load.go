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

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Load builds the configuration in three layers:
//
//  1. Defaults()
//  2. the YAML file at path, if it exists (a missing file is not an error)
//  3. environment variable overrides (REDIS_URL, HOST_IDENTITY, MIN_RQ_WORKERS, ...)
//
// The result is validated before it is returned. An empty HostIdentity is
// filled in with the hostname.
func Load(path string, log *zap.SugaredLogger) (FullConfig, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	cfg := Defaults()

	if path != "" {
		loaded, err := loadFile(path, cfg)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			log.Infof("No config file at %s, using defaults and environment", path)
		case err != nil:
			return FullConfig{}, err
		default:
			log.Infof("Loaded config file %s", path)
			cfg = loaded
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return FullConfig{}, err
	}

	if cfg.Pool.HostIdentity == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return FullConfig{}, fmt.Errorf("failed to determine host identity: %w", err)
		}
		cfg.Pool.HostIdentity = hostname
	}

	if err := Validate(cfg); err != nil {
		return FullConfig{}, err
	}

	return cfg, nil
}

// loadFile decodes the YAML file at path on top of base.
func loadFile(path string, base FullConfig) (FullConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FullConfig{}, err
	}

	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return FullConfig{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *FullConfig) error {
	var err error

	if cfg.Redis.URL, err = env.GetAsString("REDIS_URL", false, cfg.Redis.URL); err != nil {
		return err
	}
	if cfg.Redis.KeyPrefix, err = env.GetAsString("RQ_KEY_PREFIX", false, cfg.Redis.KeyPrefix); err != nil {
		return err
	}
	if cfg.Pool.HostIdentity, err = env.GetAsString("HOST_IDENTITY", false, cfg.Pool.HostIdentity); err != nil {
		return err
	}
	if cfg.Pool.DedicatedQueue, err = env.GetAsString("RQ_DEDICATED_QUEUE", false, cfg.Pool.DedicatedQueue); err != nil {
		return err
	}
	if cfg.Agent.SentryDSN, err = env.GetAsString("SENTRY_DSN", false, cfg.Agent.SentryDSN); err != nil {
		return err
	}

	intOverrides := map[string]*int{
		"RQ_GENERIC_WORKERS": &cfg.Pool.GenericWorkers,
		"MIN_RQ_WORKERS":     &cfg.Monitor.MinWorkers,
		"METRICS_PORT":       &cfg.Agent.MetricsPort,
		"HEALTH_PORT":        &cfg.Agent.HealthPort,
	}
	for key, target := range intOverrides {
		if err := overrideInt(key, target); err != nil {
			return err
		}
	}

	secondOverrides := map[string]*time.Duration{
		"MONITOR_INTERVAL_SECONDS": &cfg.Monitor.Interval,
		"SETTLE_DELAY_SECONDS":     &cfg.Monitor.SettleDelay,
		"STARTUP_GRACE_SECONDS":    &cfg.Monitor.StartupGrace,
		"SHUTDOWN_GRACE_SECONDS":   &cfg.Monitor.ShutdownGracePeriod,
	}
	for key, target := range secondOverrides {
		if err := overrideSeconds(key, target); err != nil {
			return err
		}
	}

	if queues, ok := lookupNonBlank("RQ_GENERIC_QUEUES"); ok {
		cfg.Pool.GenericQueues = splitList(queues, ",")
	}
	if command, ok := lookupNonBlank("RQ_WORKER_COMMAND"); ok {
		cfg.Pool.QueueWorkerCommand = strings.Fields(command)
	}

	return nil
}

// overrideInt only touches target when key is set, so a value coming from
// the config file survives an unset variable.
func overrideInt(key string, target *int) error {
	if _, ok := lookupNonBlank(key); !ok {
		return nil
	}

	value, err := env.GetAsInt(key, true, *target)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, key, err)
	}
	*target = value

	return nil
}

func overrideSeconds(key string, target *time.Duration) error {
	if _, ok := lookupNonBlank(key); !ok {
		return nil
	}

	seconds, err := env.GetAsInt(key, true, 0)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, key, err)
	}
	*target = time.Duration(seconds) * time.Second

	return nil
}

func lookupNonBlank(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return "", false
	}

	return value, true
}

func splitList(value, sep string) []string {
	parts := strings.Split(value, sep)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}

	return out
}

// Validate checks field constraints and the cross-field rule that the
// composition can actually reach MinWorkers.
func Validate(cfg FullConfig) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if monitored := cfg.Pool.MonitoredWorkers(); cfg.Monitor.MinWorkers > monitored {
		return fmt.Errorf("%w: minWorkers (%d) exceeds the %d queue-pull workers the pool starts, the pool would restart forever",
			ErrInvalidConfig, cfg.Monitor.MinWorkers, monitored)
	}

	return nil
}
