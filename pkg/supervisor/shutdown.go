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

	"github.com/united-manufacturing-hub/pool-supervisor/pkg/sentry"
)

// shutdown moves to the shutdown state for event and tears the pool down.
func (s *Supervisor) shutdown(event string, code ExitCode) ExitCode {
	s.mu.Lock()
	s.fire(event)
	s.mu.Unlock()

	s.teardown()
	return code
}

// teardown is shared by every way out of Run: stop the monitor, stop and reap
// every worker, wait for a running restart cycle, then check nothing survived.
func (s *Supervisor) teardown() {
	s.mu.Lock()
	cancel := s.lifecycleCancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if s.monitorDone != nil {
		<-s.monitorDone
	}

	s.mu.Lock()
	handles := s.detachLocked()
	s.mu.Unlock()

	s.logger.Infof("Stopping %d workers", len(handles))
	s.terminateAll(handles, s.logger)
	if err := s.launcher.WaitAll(context.Background(), handles, s.timings.ShutdownGracePeriod); err != nil {
		s.logger.Errorf("Failed to reap workers: %v", err)
	}

	s.restartWG.Wait()

	if strays := s.launcher.Strays(handles); len(strays) > 0 {
		sentry.ReportIssuef(sentry.IssueTypeError, s.logger, "%d workers still present after teardown: %v", len(strays), strays)
	}

	s.mu.Lock()
	s.fire(EventTornDown)
	s.mu.Unlock()

	s.logger.Info("Pool stopped")
}
