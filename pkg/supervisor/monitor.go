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

package supervisor

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/united-manufacturing-hub/pool-supervisor/pkg/constants"
	"github.com/united-manufacturing-hub/pool-supervisor/pkg/metrics"
	"github.com/united-manufacturing-hub/pool-supervisor/pkg/sentry"
	"github.com/united-manufacturing-hub/pool-supervisor/pkg/service/registry"
)

func (s *Supervisor) startMonitor(ctx context.Context) {
	s.monitorDone = make(chan struct{})
	go s.runMonitor(ctx)
}

// runMonitor polls the registry until ctx is done. It never waits for a
// restart cycle it triggered.
func (s *Supervisor) runMonitor(ctx context.Context) {
	defer close(s.monitorDone)

	ticker := time.NewTicker(s.timings.Interval)
	defer ticker.Stop()

	s.monitorLogger.Infof("Health monitor started (interval %s, minimum %d live)", s.timings.Interval, s.timings.MinWorkers)

	for {
		select {
		case <-ctx.Done():
			s.monitorLogger.Debug("Health monitor stopped")
			return
		case <-ticker.C:
			s.checkHealth(ctx)
		}
	}
}

func (s *Supervisor) checkHealth(ctx context.Context) {
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	view, err := registry.Snapshot(queryCtx, s.registry, s.host)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// a failed read says nothing about the workers, skip this tick
		s.registryFailures++
		metrics.IncRegistryQueryErrors()
		if s.registryFailures == constants.RegistryFailureWarnThreshold {
			sentry.ReportPoolIssuef(sentry.IssueTypeWarning, s.monitorLogger,
				sentry.PoolContext{Operation: "registry_query", Extra: map[string]interface{}{"failures": s.registryFailures}},
				"registry unreachable for %d consecutive health checks: %v", s.registryFailures, err)
		} else {
			s.monitorLogger.Warnf("Skipping health check, registry query failed (%d in a row): %v", s.registryFailures, err)
		}
		return
	}
	if s.registryFailures > 0 {
		s.monitorLogger.Infof("Registry reachable again after %d failed queries", s.registryFailures)
		s.registryFailures = 0
	}
	metrics.SetLiveRegistrations(view.Live)

	s.mu.Lock()
	defer s.mu.Unlock()

	expected := s.monitoredLocked()
	s.monitorLogger.Debugf("Live registrations: %d (expected %d, minimum %d)", view.Live, expected, s.timings.MinWorkers)

	if view.Live >= s.timings.MinWorkers {
		return
	}
	if s.restarting {
		s.monitorLogger.Debugf("Only %d live registrations, restart already in progress", view.Live)
		return
	}
	if s.fsm.Current() != StateRunning {
		return
	}
	if remaining := time.Until(s.graceUntil); remaining > 0 {
		s.monitorLogger.Infof("Only %d of %d workers registered, waiting %s for late registrations", view.Live, expected, remaining.Round(time.Second))
		return
	}

	s.restarting = true
	s.fire(EventDegraded)
	metrics.IncRestartCycles()

	cycleID := uuid.NewString()
	s.monitorLogger.Warnf("Only %d live registrations (expected %d, minimum %d), starting restart cycle %s",
		view.Live, expected, s.timings.MinWorkers, cycleID)

	s.restartWG.Add(1)
	go s.restartCycle(ctx, cycleID, view.Live)
}
