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
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/pool-supervisor/pkg/workerspec"
)

// ErrSimulatedCrash is the exit error of a handle ended by MockLauncher.Crash.
var ErrSimulatedCrash = errors.New("simulated worker crash")

// MockLauncher is an in-memory implementation of Service. Handles it returns
// never correspond to real processes.
type MockLauncher struct {
	SpawnFunc     func(ctx context.Context, spec workerspec.WorkerSpec) (*WorkerHandle, error)
	TerminateFunc func(h *WorkerHandle) error

	// IgnoreTerminate keeps handles alive on Terminate, so only Kill ends them.
	IgnoreTerminate bool

	SpawnCalls     int
	TerminateCalls map[int]int
	KillCalls      map[int]int

	handles []*WorkerHandle
	nextPID int
	log     *zap.SugaredLogger
	mutex   sync.Mutex
}

var _ Service = (*MockLauncher)(nil)

// NewMockLauncher creates a new MockLauncher instance
func NewMockLauncher() *MockLauncher {
	return &MockLauncher{
		TerminateCalls: make(map[int]int),
		KillCalls:      make(map[int]int),
		nextPID:        10000,
		log:            zap.NewNop().Sugar(),
	}
}

// WithIgnoreTerminate makes handles survive SIGTERM
func (m *MockLauncher) WithIgnoreTerminate() *MockLauncher {
	m.IgnoreTerminate = true
	return m
}

// Spawn records the call and returns a live fake handle
func (m *MockLauncher) Spawn(ctx context.Context, spec workerspec.WorkerSpec) (*WorkerHandle, error) {
	m.mutex.Lock()
	m.SpawnCalls++
	m.mutex.Unlock()

	if m.SpawnFunc != nil {
		return m.SpawnFunc(ctx, spec)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(spec.Command) == 0 {
		return nil, ErrEmptyCommand
	}

	return m.NewHandle(spec), nil
}

// NewHandle registers and returns a live fake handle without counting a Spawn call.
func (m *MockLauncher) NewHandle(spec workerspec.WorkerSpec) *WorkerHandle {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.nextPID++
	var registrationName string
	if spec.Monitored {
		registrationName = RegistrationName("mock-host", spec.Name)
	}
	h := newWorkerHandle(spec, m.nextPID, registrationName)
	m.handles = append(m.handles, h)
	return h
}

// SpawnAll spawns specs in order with the same rollback as the real launcher
func (m *MockLauncher) SpawnAll(ctx context.Context, specs []workerspec.WorkerSpec) ([]*WorkerHandle, error) {
	return spawnAll(ctx, m, m.log, specs)
}

// Terminate ends the handle unless IgnoreTerminate is set
func (m *MockLauncher) Terminate(h *WorkerHandle) error {
	if h == nil {
		return nil
	}

	m.mutex.Lock()
	m.TerminateCalls[h.PID]++
	ignore := m.IgnoreTerminate
	m.mutex.Unlock()

	if m.TerminateFunc != nil {
		return m.TerminateFunc(h)
	}

	if !ignore {
		h.markExited(nil)
	}
	return nil
}

// Kill always ends the handle
func (m *MockLauncher) Kill(h *WorkerHandle) error {
	if h == nil {
		return nil
	}

	m.mutex.Lock()
	m.KillCalls[h.PID]++
	m.mutex.Unlock()

	h.markExited(nil)
	return nil
}

// WaitAll waits for the handles with the same escalation as the real launcher
func (m *MockLauncher) WaitAll(ctx context.Context, handles []*WorkerHandle, grace time.Duration) error {
	return waitAll(ctx, m, m.log, handles, grace)
}

// Strays returns the PIDs of handles that have not exited
func (m *MockLauncher) Strays(handles []*WorkerHandle) []int {
	var strays []int
	for _, h := range handles {
		if h != nil && !h.Exited() {
			strays = append(strays, h.PID)
		}
	}
	return strays
}

// Crash ends the handle as if the process died on its own
func (m *MockLauncher) Crash(h *WorkerHandle) {
	h.markExited(ErrSimulatedCrash)
}

// Handles returns every handle ever created by this mock
func (m *MockLauncher) Handles() []*WorkerHandle {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	out := make([]*WorkerHandle, len(m.handles))
	copy(out, m.handles)
	return out
}

// Live returns the handles that have not exited yet
func (m *MockLauncher) Live() []*WorkerHandle {
	var live []*WorkerHandle
	for _, h := range m.Handles() {
		if !h.Exited() {
			live = append(live, h)
		}
	}
	return live
}

// TerminateCount returns how often Terminate was called for pid
func (m *MockLauncher) TerminateCount(pid int) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.TerminateCalls[pid]
}

// SpawnCount returns how often Spawn was called
func (m *MockLauncher) SpawnCount() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.SpawnCalls
}
