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

// Package supervisor owns the worker pool: it starts the composition, keeps
// the broker registry in line with it, rebuilds the pool when too few workers
// are registered and ends the whole pool as soon as one worker dies on its own.
package supervisor

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/pool-supervisor/pkg/config"
	"github.com/united-manufacturing-hub/pool-supervisor/pkg/constants"
	"github.com/united-manufacturing-hub/pool-supervisor/pkg/logger"
	"github.com/united-manufacturing-hub/pool-supervisor/pkg/metrics"
	"github.com/united-manufacturing-hub/pool-supervisor/pkg/sentry"
	"github.com/united-manufacturing-hub/pool-supervisor/pkg/service/process_manager"
	"github.com/united-manufacturing-hub/pool-supervisor/pkg/service/registry"
	"github.com/united-manufacturing-hub/pool-supervisor/pkg/workerspec"
)

// ExitCode is the process exit status Run asks for.
type ExitCode int

const (
	// ExitGraceful is returned after a requested shutdown.
	ExitGraceful ExitCode = 0
	// ExitUnstable is returned when a worker died on its own or the pool could not be built.
	ExitUnstable ExitCode = 1
)

// exitReport carries the first reason to abandon the pool to Run.
type exitReport struct {
	handle        *process_manager.WorkerHandle
	err           error
	startupFailed bool
}

// Supervisor runs one worker pool for the lifetime of the process.
type Supervisor struct {
	runID        string
	host         string
	pool         config.PoolConfig
	timings      config.MonitorConfig
	lookup       workerspec.LookupFunc
	queryTimeout time.Duration

	launcher process_manager.Service
	registry registry.Registry

	logger           *zap.SugaredLogger
	monitorLogger    *zap.SugaredLogger
	healingLogger    *zap.SugaredLogger
	reconcilerLogger *zap.SugaredLogger

	// mu guards everything below it, including every FSM transition.
	mu         sync.Mutex
	fsm        *fsm.FSM
	handles    []*process_manager.WorkerHandle
	restarting bool
	graceUntil time.Time

	exits           chan exitReport
	restartWG       sync.WaitGroup
	lifecycleCancel context.CancelFunc
	monitorDone     chan struct{}

	// owned by the monitor goroutine
	registryFailures int
}

// Option customises a Supervisor.
type Option func(*Supervisor)

// WithLookup replaces os.LookupEnv as the source of the gating keys.
func WithLookup(lookup workerspec.LookupFunc) Option {
	return func(s *Supervisor) {
		s.lookup = lookup
	}
}

// WithLogger sends all supervisor logs to log.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Supervisor) {
		s.logger = log
		s.monitorLogger = log
		s.healingLogger = log
		s.reconcilerLogger = log
	}
}

// WithRegistryQueryTimeout bounds every single registry read.
func WithRegistryQueryTimeout(timeout time.Duration) Option {
	return func(s *Supervisor) {
		s.queryTimeout = timeout
	}
}

// New creates a supervisor for cfg. Nothing is started before Run.
func New(cfg config.FullConfig, launcher process_manager.Service, reg registry.Registry, opts ...Option) *Supervisor {
	s := &Supervisor{
		runID:            uuid.NewString(),
		host:             cfg.Pool.HostIdentity,
		pool:             cfg.Pool,
		timings:          cfg.Monitor,
		lookup:           os.LookupEnv,
		queryTimeout:     constants.RegistryQueryTimeout,
		launcher:         launcher,
		registry:         reg,
		logger:           logger.For(logger.ComponentSupervisor),
		monitorLogger:    logger.For(logger.ComponentMonitor),
		healingLogger:    logger.For(logger.ComponentSelfHealing),
		reconcilerLogger: logger.For(logger.ComponentReconciler),
		exits:            make(chan exitReport, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.fsm = newStateMachine(s.logger)

	return s
}

// Run starts the pool and blocks until it is gone. Cancelling ctx is the
// graceful shutdown request.
func (s *Supervisor) Run(ctx context.Context) ExitCode {
	lifecycle, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.lifecycleCancel = cancel
	s.mu.Unlock()

	specs := workerspec.Resolve(s.pool, s.lookup)
	total, monitored := workerspec.Summary(specs)
	s.logger.Infof("Starting pool for host %s (run %s): %d workers, %d monitored, minimum %d live: %s",
		s.host, s.runID, total, monitored, s.timings.MinWorkers, strings.Join(workerspec.Names(specs), ", "))

	handles, err := s.launcher.SpawnAll(lifecycle, specs)
	if err != nil {
		if ctx.Err() != nil {
			s.logger.Info("Shutdown requested during startup")
			return s.shutdown(EventSignal, ExitGraceful)
		}
		sentry.ReportIssuef(sentry.IssueTypeError, s.logger, "failed to start worker pool: %v", err)
		return s.shutdown(EventStartupFailed, ExitUnstable)
	}

	s.mu.Lock()
	s.graceUntil = time.Now().Add(s.timings.StartupGrace)
	s.adoptLocked(handles)
	s.mu.Unlock()

	s.reconcile(lifecycle, handles)

	s.mu.Lock()
	s.fire(EventStarted)
	s.mu.Unlock()

	s.startMonitor(lifecycle)

	select {
	case <-ctx.Done():
		s.logger.Info("Received shutdown signal, stopping the pool")
		return s.shutdown(EventSignal, ExitGraceful)
	case report := <-s.exits:
		if report.startupFailed {
			return s.shutdown(EventStartupFailed, ExitUnstable)
		}
		sentry.ReportPoolIssuef(sentry.IssueTypeError, s.logger,
			sentry.PoolContext{Operation: "watch", Worker: report.handle.Spec.Name},
			"worker %s (pid: %d) exited unexpectedly: %v", report.handle.Spec.Name, report.handle.PID, report.err)
		return s.shutdown(EventWorkerExited, ExitUnstable)
	}
}

// State returns the current supervisor state.
func (s *Supervisor) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fsm.Current()
}

// Ready reports whether the pool is in steady state.
func (s *Supervisor) Ready() bool {
	return s.State() == StateRunning
}

// Handles returns a copy of the currently tracked worker handles.
func (s *Supervisor) Handles() []*process_manager.WorkerHandle {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*process_manager.WorkerHandle, len(s.handles))
	copy(out, s.handles)
	return out
}

// fire sends event to the state machine. Caller holds mu.
func (s *Supervisor) fire(event string) bool {
	if err := s.fsm.Event(context.Background(), event); err != nil {
		s.logger.Warnf("Ignoring event %s in state %s: %v", event, s.fsm.Current(), err)
		return false
	}
	return true
}

// adoptLocked starts tracking handles and watching them for unexpected exits.
func (s *Supervisor) adoptLocked(handles []*process_manager.WorkerHandle) {
	s.handles = append(s.handles, handles...)
	s.updateTrackedLocked()

	for _, h := range handles {
		go s.watch(h)
	}
}

// detachLocked hands all tracked handles to the caller, marked as stopped on purpose.
func (s *Supervisor) detachLocked() []*process_manager.WorkerHandle {
	handles := s.handles
	s.handles = nil
	for _, h := range handles {
		h.MarkStopRequested()
	}
	s.updateTrackedLocked()

	return handles
}

func (s *Supervisor) updateTrackedLocked() {
	monitored := s.monitoredLocked()
	metrics.SetTrackedWorkers(monitored, len(s.handles)-monitored)
}

func (s *Supervisor) monitoredLocked() int {
	n := 0
	for _, h := range s.handles {
		if h.Spec.Monitored {
			n++
		}
	}
	return n
}

func (s *Supervisor) watch(h *process_manager.WorkerHandle) {
	<-h.Done()

	if h.StopRequested() || isShuttingDown(s.State()) {
		s.logger.Debugf("Worker %s (pid: %d) stopped", h.Spec.Name, h.PID)
		return
	}

	err := h.ExitErr()
	s.logger.Errorf("Worker %s (pid: %d) exited after %s without being asked to: %v",
		h.Spec.Name, h.PID, h.Uptime().Round(time.Millisecond), err)
	metrics.IncUnexpectedExits(h.Spec.Name)
	s.reportExit(exitReport{handle: h, err: err})
}

// reportExit delivers the first report to Run and drops the rest.
func (s *Supervisor) reportExit(report exitReport) {
	select {
	case s.exits <- report:
	default:
	}
}

func (s *Supervisor) terminateAll(handles []*process_manager.WorkerHandle, log *zap.SugaredLogger) {
	for _, h := range handles {
		if err := s.launcher.Terminate(h); err != nil {
			log.Warnf("Failed to terminate worker %s: %v", h.Spec.Name, err)
		}
	}
}
