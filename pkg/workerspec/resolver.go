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

// Package workerspec derives the worker composition of the pool from the configuration.
package workerspec

import (
	"fmt"
	"strings"

	"github.com/united-manufacturing-hub/pool-supervisor/pkg/config"
)

// WorkerSpec describes one worker process of the pool.
type WorkerSpec struct {
	// Name is unique within the pool, e.g. "generic-3" or "audio-stream-deepgram".
	Name string
	// Queues are the broker queues a queue-pull worker consumes, in priority order.
	Queues []string
	// Monitored workers register with the broker and count towards the health threshold.
	Monitored bool
	// Enabled is decided once at startup and never changes.
	Enabled bool
	// Command is the argv of the worker process.
	Command []string
	// EnabledBy is the configuration key that gates an optional spec. Empty for core specs.
	EnabledBy string
}

// LookupFunc reports the value of a configuration key. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

const (
	genericPrefix   = "generic"
	dedicatedPrefix = "dedicated"
)

// ResolveAll returns every spec the configuration knows about, including
// optional specs whose gating key is absent (with Enabled=false).
//
// Order: generic workers, the dedicated worker, then the stream consumers in
// configuration order. The result only depends on cfg and lookup.
func ResolveAll(cfg config.PoolConfig, lookup LookupFunc) []WorkerSpec {
	specs := make([]WorkerSpec, 0, cfg.GenericWorkers+1+len(cfg.StreamConsumers))

	for i := 1; i <= cfg.GenericWorkers; i++ {
		specs = append(specs, WorkerSpec{
			Name:      fmt.Sprintf("%s-%d", genericPrefix, i),
			Queues:    append([]string(nil), cfg.GenericQueues...),
			Monitored: true,
			Enabled:   true,
			Command:   append([]string(nil), cfg.QueueWorkerCommand...),
		})
	}

	specs = append(specs, WorkerSpec{
		Name:      fmt.Sprintf("%s-%s", dedicatedPrefix, cfg.DedicatedQueue),
		Queues:    []string{cfg.DedicatedQueue},
		Monitored: true,
		Enabled:   true,
		Command:   append([]string(nil), cfg.QueueWorkerCommand...),
	})

	for _, consumer := range cfg.StreamConsumers {
		specs = append(specs, WorkerSpec{
			Name:      consumer.Name,
			Monitored: false,
			Enabled:   isPresent(lookup, consumer.EnabledBy),
			Command:   append([]string(nil), consumer.Command...),
			EnabledBy: consumer.EnabledBy,
		})
	}

	return specs
}

// Resolve returns the specs that should be spawned.
func Resolve(cfg config.PoolConfig, lookup LookupFunc) []WorkerSpec {
	all := ResolveAll(cfg, lookup)
	enabled := make([]WorkerSpec, 0, len(all))
	for _, spec := range all {
		if spec.Enabled {
			enabled = append(enabled, spec)
		}
	}

	return enabled
}

// Summary counts the specs and the monitored specs among them.
func Summary(specs []WorkerSpec) (total, monitored int) {
	for _, spec := range specs {
		total++
		if spec.Monitored {
			monitored++
		}
	}

	return total, monitored
}

// Names returns the spec names in order, for logging.
func Names(specs []WorkerSpec) []string {
	names := make([]string, len(specs))
	for i, spec := range specs {
		names[i] = spec.Name
	}

	return names
}

// isPresent treats a blank value the same as an unset key.
func isPresent(lookup LookupFunc, key string) bool {
	if lookup == nil || key == "" {
		return false
	}
	value, ok := lookup(key)

	return ok && strings.TrimSpace(value) != ""
}
