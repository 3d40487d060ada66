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

	"github.com/united-manufacturing-hub/pool-supervisor/pkg/sentry"
	"github.com/united-manufacturing-hub/pool-supervisor/pkg/service/registry"
	"github.com/united-manufacturing-hub/pool-supervisor/pkg/workerspec"
)

// restartCycle replaces the whole pool. Individual workers cannot be matched
// to registrations reliably, so nothing is kept.
func (s *Supervisor) restartCycle(ctx context.Context, cycleID string, live int) {
	defer s.restartWG.Done()

	log := s.healingLogger.With("cycle", cycleID)
	started := time.Now()

	s.mu.Lock()
	old := s.detachLocked()
	s.mu.Unlock()

	log.Infof("Stopping %d workers (%d live registrations)", len(old), live)
	s.terminateAll(old, log)
	if err := s.launcher.WaitAll(context.Background(), old, s.timings.ShutdownGracePeriod); err != nil {
		log.Errorf("Failed to reap old workers: %v", err)
	}

	// nothing of this host is running now, so every registration left is stale
	s.reconcile(ctx, nil)

	if s.State() != StateRestarting {
		log.Info("Shutdown began during restart, not respawning")
		return
	}

	specs := workerspec.Resolve(s.pool, s.lookup)
	handles, err := s.launcher.SpawnAll(ctx, specs)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("Shutdown began while respawning")
			return
		}
		sentry.ReportPoolIssuef(sentry.IssueTypeError, log, sentry.PoolContext{Operation: "restart", Cycle: cycleID},
			"failed to rebuild worker pool: %v", err)
		s.reportExit(exitReport{err: err, startupFailed: true})
		return
	}

	// the pool is only handed over while still restarting, otherwise teardown
	// has already collected the old handles and these are ours to stop
	s.mu.Lock()
	if s.fsm.Current() != StateRestarting {
		s.mu.Unlock()
		log.Infof("Shutdown began while respawning, stopping %d new workers", len(handles))
		for _, h := range handles {
			h.MarkStopRequested()
		}
		s.terminateAll(handles, log)
		if err := s.launcher.WaitAll(context.Background(), handles, s.timings.ShutdownGracePeriod); err != nil {
			log.Errorf("Failed to reap new workers: %v", err)
		}
		return
	}
	s.adoptLocked(handles)
	s.mu.Unlock()

	log.Infof("Respawned %d workers, waiting %s before checking registrations", len(handles), s.timings.SettleDelay)

	settle := time.NewTimer(s.timings.SettleDelay)
	defer settle.Stop()
	select {
	case <-settle.C:
	case <-ctx.Done():
		return
	}

	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	view, err := registry.Snapshot(queryCtx, s.registry, s.host)
	cancel()
	if err != nil {
		log.Warnf("Could not read registrations after restart: %v", err)
	} else {
		log.Infof("%d live registrations after restart", view.Live)
	}

	s.mu.Lock()
	s.restarting = false
	if s.fsm.Current() == StateRestarting {
		s.fire(EventRecovered)
	}
	s.mu.Unlock()

	log.Infof("Restart cycle finished after %s", time.Since(started).Round(time.Millisecond))
}
