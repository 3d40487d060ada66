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

package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/pool-supervisor/pkg/config"
)

// setEnv sets an environment variable for the duration of the current spec.
func setEnv(key, value string) {
	previous, had := os.LookupEnv(key)
	Expect(os.Setenv(key, value)).To(Succeed())
	DeferCleanup(func() {
		if had {
			_ = os.Setenv(key, previous)
		} else {
			_ = os.Unsetenv(key)
		}
	})
}

var _ = Describe("Load", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		setEnv("HOST_IDENTITY", "worker-host-1")
	})

	It("returns the defaults when there is no file and no environment", func() {
		cfg, err := config.Load(filepath.Join(dir, "missing.yaml"), nil)
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.Pool.GenericWorkers).To(Equal(6))
		Expect(cfg.Pool.GenericQueues).To(Equal([]string{"transcription", "memory", "default"}))
		Expect(cfg.Pool.DedicatedQueue).To(Equal("audio"))
		Expect(cfg.Pool.MonitoredWorkers()).To(Equal(7))
		Expect(cfg.Monitor.MinWorkers).To(Equal(6))
		Expect(cfg.Monitor.Interval).To(Equal(10 * time.Second))
		Expect(cfg.Pool.StreamConsumers).To(HaveLen(2))
		Expect(cfg.Pool.HostIdentity).To(Equal("worker-host-1"))
	})

	It("fills in the hostname when no host identity is configured", func() {
		setEnv("HOST_IDENTITY", "")
		hostname, err := os.Hostname()
		Expect(err).NotTo(HaveOccurred())

		cfg, err := config.Load("", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Pool.HostIdentity).To(Equal(hostname))
	})

	It("reads the YAML file on top of the defaults", func() {
		path := filepath.Join(dir, "supervisor.yaml")
		Expect(os.WriteFile(path, []byte(`
redis:
  url: redis://broker:6379/1
pool:
  genericWorkers: 3
  genericQueues: [memory]
  streamConsumers:
    - name: tap
      enabledBy: TAP_URL
      command: [tap-consumer, --follow]
monitor:
  minWorkers: 2
  interval: 2s
`), 0o644)).To(Succeed())

		cfg, err := config.Load(path, nil)
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.Redis.URL).To(Equal("redis://broker:6379/1"))
		Expect(cfg.Redis.KeyPrefix).To(Equal("rq:"))
		Expect(cfg.Pool.GenericWorkers).To(Equal(3))
		Expect(cfg.Pool.GenericQueues).To(Equal([]string{"memory"}))
		Expect(cfg.Pool.DedicatedQueue).To(Equal("audio"))
		Expect(cfg.Pool.StreamConsumers).To(HaveLen(1))
		Expect(cfg.Pool.StreamConsumers[0].Command).To(Equal([]string{"tap-consumer", "--follow"}))
		Expect(cfg.Monitor.MinWorkers).To(Equal(2))
		Expect(cfg.Monitor.Interval).To(Equal(2 * time.Second))
		Expect(cfg.Monitor.SettleDelay).To(Equal(5 * time.Second))
	})

	It("lets environment variables win over the file", func() {
		path := filepath.Join(dir, "supervisor.yaml")
		Expect(os.WriteFile(path, []byte("monitor:\n  minWorkers: 2\n"), 0o644)).To(Succeed())

		setEnv("MIN_RQ_WORKERS", "4")
		setEnv("MONITOR_INTERVAL_SECONDS", "3")
		setEnv("RQ_GENERIC_QUEUES", "transcription, memory ,,default")
		setEnv("RQ_WORKER_COMMAND", "rq worker --with-scheduler")
		setEnv("REDIS_URL", "redis://other:6379/0")

		cfg, err := config.Load(path, nil)
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.Monitor.MinWorkers).To(Equal(4))
		Expect(cfg.Monitor.Interval).To(Equal(3 * time.Second))
		Expect(cfg.Pool.GenericQueues).To(Equal([]string{"transcription", "memory", "default"}))
		Expect(cfg.Pool.QueueWorkerCommand).To(Equal([]string{"rq", "worker", "--with-scheduler"}))
		Expect(cfg.Redis.URL).To(Equal("redis://other:6379/0"))
	})

	It("rejects a malformed YAML file", func() {
		path := filepath.Join(dir, "broken.yaml")
		Expect(os.WriteFile(path, []byte("pool: [unterminated"), 0o644)).To(Succeed())

		_, err := config.Load(path, nil)
		Expect(err).To(HaveOccurred())
	})

	It("rejects a minimum the composition can never reach", func() {
		setEnv("RQ_GENERIC_WORKERS", "2")
		setEnv("MIN_RQ_WORKERS", "6")

		_, err := config.Load("", nil)
		Expect(err).To(MatchError(config.ErrInvalidConfig))
	})
})

var _ = Describe("Validate", func() {
	var cfg config.FullConfig

	BeforeEach(func() {
		cfg = config.Defaults()
		cfg.Pool.HostIdentity = "host-a"
	})

	It("accepts the defaults once a host identity is set", func() {
		Expect(config.Validate(cfg)).To(Succeed())
	})

	It("requires a host identity", func() {
		cfg.Pool.HostIdentity = ""
		Expect(config.Validate(cfg)).To(MatchError(config.ErrInvalidConfig))
	})

	It("requires a non-zero monitor interval", func() {
		cfg.Monitor.Interval = 0
		Expect(config.Validate(cfg)).To(MatchError(config.ErrInvalidConfig))
	})

	It("requires a worker command", func() {
		cfg.Pool.QueueWorkerCommand = nil
		Expect(config.Validate(cfg)).To(MatchError(config.ErrInvalidConfig))
	})

	It("rejects a dedicated queue with a dot, it would break the worker name", func() {
		cfg.Pool.DedicatedQueue = "audio.hq"
		Expect(config.Validate(cfg)).To(MatchError(config.ErrInvalidConfig))
	})

	It("accepts a host identity that differs from the hostname", func() {
		cfg.Pool.HostIdentity = "pool.eu-west.stable"
		Expect(config.Validate(cfg)).To(Succeed())
	})

	It("rejects duplicate stream consumer names", func() {
		cfg.Pool.StreamConsumers = append(cfg.Pool.StreamConsumers, cfg.Pool.StreamConsumers[0])
		Expect(config.Validate(cfg)).To(MatchError(config.ErrInvalidConfig))
	})

	It("rejects a stream consumer without a gating key", func() {
		cfg.Pool.StreamConsumers[0].EnabledBy = ""
		Expect(config.Validate(cfg)).To(MatchError(config.ErrInvalidConfig))
	})
})
