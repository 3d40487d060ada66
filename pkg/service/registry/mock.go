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

package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrSimulatedOutage is returned by MockRegistry while it is marked unavailable.
var ErrSimulatedOutage = errors.New("simulated registry outage")

// MockRegistry is an in-memory implementation of the Registry interface
type MockRegistry struct {
	ListFunc       func(ctx context.Context, host string) ([]Registration, error)
	DeregisterFunc func(ctx context.Context, host string, reg Registration) error

	registrations []Registration
	deregistered  []string
	listCalls     int
	unavailable   bool
	mutex         sync.Mutex
}

var _ Registry = (*MockRegistry)(nil)

// NewMockRegistry creates a new MockRegistry instance
func NewMockRegistry() *MockRegistry {
	return &MockRegistry{}
}

// Register adds a registration
func (m *MockRegistry) Register(reg Registration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if reg.Key == "" {
		reg.Key = "rq:worker:" + reg.Name
	}
	m.registrations = append(m.registrations, reg)
}

// SetLive replaces the registrations of host with n anonymous live workers
func (m *MockRegistry) SetLive(host string, n int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	kept := m.registrations[:0]
	for _, reg := range m.registrations {
		if !reg.OwnedBy(host) {
			kept = append(kept, reg)
		}
	}
	m.registrations = kept
	for i := 0; i < n; i++ {
		name := WorkerName(host, fmt.Sprintf("live-%d", i), "mock")
		m.registrations = append(m.registrations, Registration{Name: name, Key: "rq:worker:" + name, Hostname: host})
	}
}

// SetUnavailable makes List and Ping fail until called again with false
func (m *MockRegistry) SetUnavailable(unavailable bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.unavailable = unavailable
}

// List returns the registrations of host
func (m *MockRegistry) List(ctx context.Context, host string) ([]Registration, error) {
	m.mutex.Lock()
	m.listCalls++
	unavailable := m.unavailable
	m.mutex.Unlock()

	if m.ListFunc != nil {
		return m.ListFunc(ctx, host)
	}
	if unavailable {
		return nil, ErrSimulatedOutage
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	var out []Registration
	for _, reg := range m.registrations {
		if reg.OwnedBy(host) {
			out = append(out, reg)
		}
	}
	return out, nil
}

// Deregister removes reg unless it belongs to another host
func (m *MockRegistry) Deregister(ctx context.Context, host string, reg Registration) error {
	if m.DeregisterFunc != nil {
		return m.DeregisterFunc(ctx, host, reg)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !reg.OwnedBy(host) {
		return ErrForeignHost
	}

	kept := m.registrations[:0]
	for _, existing := range m.registrations {
		if existing.Name != reg.Name {
			kept = append(kept, existing)
		}
	}
	m.registrations = kept
	m.deregistered = append(m.deregistered, reg.Name)
	return nil
}

// Ping fails while the mock is unavailable
func (m *MockRegistry) Ping(ctx context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.unavailable {
		return ErrSimulatedOutage
	}
	return nil
}

// Deregistered returns the names removed so far
func (m *MockRegistry) Deregistered() []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	out := make([]string, len(m.deregistered))
	copy(out, m.deregistered)
	return out
}

// ListCalls returns how often List was called
func (m *MockRegistry) ListCalls() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.listCalls
}
