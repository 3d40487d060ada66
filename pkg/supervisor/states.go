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

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/pool-supervisor/pkg/metrics"
)

const (
	// StateStarting covers the initial spawn and the stale registration cleanup.
	StateStarting = "starting"
	// StateRunning is steady state, the health monitor is active.
	StateRunning = "running"
	// StateRestarting means a whole-pool restart cycle is in flight.
	StateRestarting = "restarting"
	// StateShuttingDownGraceful is entered on SIGINT/SIGTERM.
	StateShuttingDownGraceful = "shutting_down_graceful"
	// StateShuttingDownCrash is entered when a worker dies on its own or the pool cannot be built.
	StateShuttingDownCrash = "shutting_down_crash"
	// StateTerminated means every worker has been reaped.
	StateTerminated = "terminated"
)

const (
	EventStarted       = "started"
	EventDegraded      = "degraded"
	EventRecovered     = "recovered"
	EventSignal        = "signal"
	EventWorkerExited  = "worker_exited"
	EventStartupFailed = "startup_failed"
	EventTornDown      = "torn_down"
)

func newStateMachine(log *zap.SugaredLogger) *fsm.FSM {
	metrics.UpdateSupervisorState(StateStarting)

	return fsm.NewFSM(
		StateStarting,
		fsm.Events{
			{Name: EventStarted, Src: []string{StateStarting}, Dst: StateRunning},
			{Name: EventDegraded, Src: []string{StateRunning}, Dst: StateRestarting},
			{Name: EventRecovered, Src: []string{StateRestarting}, Dst: StateRunning},
			{Name: EventSignal, Src: []string{StateStarting, StateRunning, StateRestarting}, Dst: StateShuttingDownGraceful},
			{Name: EventWorkerExited, Src: []string{StateRunning, StateRestarting}, Dst: StateShuttingDownCrash},
			{Name: EventStartupFailed, Src: []string{StateStarting, StateRestarting}, Dst: StateShuttingDownCrash},
			{Name: EventTornDown, Src: []string{StateShuttingDownGraceful, StateShuttingDownCrash}, Dst: StateTerminated},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.Infof("Supervisor state %s -> %s (%s)", e.Src, e.Dst, e.Event)
				metrics.UpdateSupervisorState(e.Dst)
			},
		},
	)
}

// isShuttingDown reports whether state belongs to the shutdown path.
func isShuttingDown(state string) bool {
	switch state {
	case StateShuttingDownGraceful, StateShuttingDownCrash, StateTerminated:
		return true
	default:
		return false
	}
}
