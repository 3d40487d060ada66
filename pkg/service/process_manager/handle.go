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

package process_manager

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/united-manufacturing-hub/pool-supervisor/pkg/workerspec"
)

// WorkerHandle tracks one spawned worker process from Spawn until it is reaped.
type WorkerHandle struct {
	Spec      workerspec.WorkerSpec
	PID       int
	StartedAt time.Time

	// RegistrationName is the worker name passed to the broker. Empty for stream consumers.
	RegistrationName string

	done     chan struct{}
	exitOnce sync.Once
	exitErr  error

	// stopRequested is set before the supervisor asks the process to stop,
	// so that the resulting exit is not mistaken for a crash.
	stopRequested atomic.Bool
}

func newWorkerHandle(spec workerspec.WorkerSpec, pid int, registrationName string) *WorkerHandle {
	return &WorkerHandle{
		Spec:             spec,
		PID:              pid,
		StartedAt:        time.Now(),
		RegistrationName: registrationName,
		done:             make(chan struct{}),
	}
}

// Done is closed once the process has exited and was reaped.
func (h *WorkerHandle) Done() <-chan struct{} {
	return h.done
}

// Exited reports whether the process has been reaped.
func (h *WorkerHandle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// ExitErr returns the wait error of the process. Only meaningful after Done is closed;
// nil means exit status 0.
func (h *WorkerHandle) ExitErr() error {
	<-h.done
	return h.exitErr
}

// MarkStopRequested flags the handle as being stopped on purpose.
// It returns false if the flag was already set.
func (h *WorkerHandle) MarkStopRequested() bool {
	return h.stopRequested.CompareAndSwap(false, true)
}

// StopRequested reports whether the supervisor asked this worker to stop.
func (h *WorkerHandle) StopRequested() bool {
	return h.stopRequested.Load()
}

// Uptime is the time since the process was started.
func (h *WorkerHandle) Uptime() time.Duration {
	return time.Since(h.StartedAt)
}

func (h *WorkerHandle) markExited(err error) {
	h.exitOnce.Do(func() {
		h.exitErr = err
		close(h.done)
	})
}
