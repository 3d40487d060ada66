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
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/united-manufacturing-hub/pool-supervisor/pkg/logger"
	"github.com/united-manufacturing-hub/pool-supervisor/pkg/service/registry"
	"github.com/united-manufacturing-hub/pool-supervisor/pkg/workerspec"
)

// ErrEmptyCommand is returned by Spawn when a spec resolves to no argv.
var ErrEmptyCommand = errors.New("worker spec has no command")

const (
	// outputDrainDelay bounds how long the reaper waits for stdout/stderr to
	// close after the process itself exited (grandchildren may hold the pipes).
	outputDrainDelay = 2 * time.Second

	// EnvWorkerName is exported to every worker process.
	EnvWorkerName = "WORKER_NAME"
	// EnvHostIdentity is exported to every worker process.
	EnvHostIdentity = "HOST_IDENTITY"
)

// Service is the set of process operations the supervisor depends on.
type Service interface {
	Spawn(ctx context.Context, spec workerspec.WorkerSpec) (*WorkerHandle, error)
	SpawnAll(ctx context.Context, specs []workerspec.WorkerSpec) ([]*WorkerHandle, error)
	Terminate(h *WorkerHandle) error
	Kill(h *WorkerHandle) error
	WaitAll(ctx context.Context, handles []*WorkerHandle, grace time.Duration) error
	Strays(handles []*WorkerHandle) []int
}

var _ Service = (*Launcher)(nil)

// Launcher starts worker processes as OS children, each in its own process group.
type Launcher struct {
	logger       *zap.SugaredLogger
	workerLogger *zap.SugaredLogger

	brokerURL    string
	hostIdentity string
	extraEnv     []string
}

// LauncherOption customises a Launcher.
type LauncherOption func(*Launcher)

// WithLogger overrides the launcher's own logger.
func WithLogger(log *zap.SugaredLogger) LauncherOption {
	return func(l *Launcher) {
		l.logger = log
	}
}

// WithWorkerLogger overrides the logger that receives worker stdout/stderr.
func WithWorkerLogger(log *zap.SugaredLogger) LauncherOption {
	return func(l *Launcher) {
		l.workerLogger = log
	}
}

// WithEnv appends KEY=VALUE pairs to the environment of every worker.
func WithEnv(env ...string) LauncherOption {
	return func(l *Launcher) {
		l.extraEnv = append(l.extraEnv, env...)
	}
}

// NewLauncher creates a launcher that points monitored workers at brokerURL and
// names their registrations after hostIdentity.
func NewLauncher(brokerURL, hostIdentity string, opts ...LauncherOption) *Launcher {
	l := &Launcher{
		logger:       logger.For(logger.ComponentLauncher),
		workerLogger: logger.For(logger.ComponentWorker),
		brokerURL:    brokerURL,
		hostIdentity: hostIdentity,
	}
	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Spawn starts the process for spec and returns without waiting for it.
// The process is not bound to ctx; it runs until Terminate or Kill.
func (l *Launcher) Spawn(ctx context.Context, spec workerspec.WorkerSpec) (*WorkerHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(spec.Command) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyCommand, spec.Name)
	}

	argv := make([]string, len(spec.Command))
	copy(argv, spec.Command)

	var registrationName string
	if spec.Monitored {
		registrationName = RegistrationName(l.hostIdentity, spec.Name)
		argv = append(argv, "--url", l.brokerURL, "--name", registrationName)
		argv = append(argv, spec.Queues...)
	}

	stdout := newLineLogger(l.workerLogger, spec.Name, "stdout")
	stderr := newLineLogger(l.workerLogger, spec.Name, "stderr")

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), l.extraEnv...)
	cmd.Env = append(cmd.Env,
		EnvWorkerName+"="+spec.Name,
		EnvHostIdentity+"="+l.hostIdentity,
	)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = outputDrainDelay
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("error starting worker %s: %w", spec.Name, err)
	}

	h := newWorkerHandle(spec, cmd.Process.Pid, registrationName)

	go func() {
		err := cmd.Wait()
		// mark first, the pid may be reused once the process is reaped
		h.markExited(err)
		stdout.Flush()
		stderr.Flush()
		l.logger.Debugf("Worker %s (pid: %d) reaped: %v", spec.Name, h.PID, err)
	}()

	l.logger.Infof("Started worker %s (pid: %d, monitored: %t)", spec.Name, h.PID, spec.Monitored)

	return h, nil
}

// SpawnAll starts specs in order. On the first failure everything started so
// far is terminated and reaped before the error is returned.
func (l *Launcher) SpawnAll(ctx context.Context, specs []workerspec.WorkerSpec) ([]*WorkerHandle, error) {
	return spawnAll(ctx, l, l.logger, specs)
}

// Terminate sends SIGTERM to the worker's process group.
func (l *Launcher) Terminate(h *WorkerHandle) error {
	return l.signalGroup(h, unix.SIGTERM)
}

// Kill sends SIGKILL to the worker's process group.
func (l *Launcher) Kill(h *WorkerHandle) error {
	return l.signalGroup(h, unix.SIGKILL)
}

func (l *Launcher) signalGroup(h *WorkerHandle, sig unix.Signal) error {
	if h == nil || h.Exited() {
		return nil
	}

	err := unix.Kill(-h.PID, sig)
	if err == nil || errors.Is(err, unix.ESRCH) {
		return nil
	}

	return fmt.Errorf("error sending %s to worker %s (pid: %d): %w", unix.SignalName(sig), h.Spec.Name, h.PID, err)
}

// WaitAll blocks until every handle has been reaped, escalating to Kill for
// handles still alive grace after the call. grace <= 0 never escalates.
func (l *Launcher) WaitAll(ctx context.Context, handles []*WorkerHandle, grace time.Duration) error {
	return waitAll(ctx, l, l.logger, handles, grace)
}

// Strays returns the PIDs of handles that were not reaped and whose process
// the OS still reports.
func (l *Launcher) Strays(handles []*WorkerHandle) []int {
	var strays []int
	for _, h := range handles {
		if h == nil || h.Exited() {
			continue
		}

		alive, err := process.PidExists(int32(h.PID))
		if err != nil {
			l.logger.Warnf("Failed to check pid %d of worker %s: %v", h.PID, h.Spec.Name, err)
		}
		if err != nil || alive {
			strays = append(strays, h.PID)
		}
	}

	return strays
}

// RegistrationName builds the broker-side worker name for a monitored spec:
// <host>.<spec>.<8 hex chars>. The suffix differs on every spawn so a new
// worker never collides with a stale entry of its predecessor.
func RegistrationName(hostIdentity, specName string) string {
	return registry.WorkerName(hostIdentity, specName, uuid.NewString()[:8])
}

func spawnAll(ctx context.Context, svc Service, log *zap.SugaredLogger, specs []workerspec.WorkerSpec) ([]*WorkerHandle, error) {
	handles := make([]*WorkerHandle, 0, len(specs))
	for _, spec := range specs {
		h, err := svc.Spawn(ctx, spec)
		if err != nil {
			log.Errorf("Failed to spawn worker %s, rolling back %d started workers: %v", spec.Name, len(handles), err)
			for _, started := range handles {
				started.MarkStopRequested()
				if termErr := svc.Terminate(started); termErr != nil {
					log.Warnf("Failed to terminate worker %s during rollback: %v", started.Spec.Name, termErr)
				}
			}
			// rollback must not be cut short by the caller's context
			if waitErr := svc.WaitAll(context.Background(), handles, rollbackGrace); waitErr != nil {
				log.Warnf("Failed to reap workers during rollback: %v", waitErr)
			}
			return nil, err
		}
		handles = append(handles, h)
	}

	return handles, nil
}

// rollbackGrace is how long SpawnAll waits for a partial pool before SIGKILL.
const rollbackGrace = 5 * time.Second

func waitAll(ctx context.Context, svc Service, log *zap.SugaredLogger, handles []*WorkerHandle, grace time.Duration) error {
	var g errgroup.Group
	for _, h := range handles {
		if h == nil {
			continue
		}
		g.Go(func() error {
			if grace > 0 {
				timer := time.NewTimer(grace)
				defer timer.Stop()

				select {
				case <-h.Done():
					return nil
				case <-ctx.Done():
					return ctx.Err()
				case <-timer.C:
					log.Warnf("Worker %s (pid: %d) still running after %s, sending SIGKILL", h.Spec.Name, h.PID, grace)
					if err := svc.Kill(h); err != nil {
						log.Errorf("Failed to kill worker %s: %v", h.Spec.Name, err)
					}
				}
			}

			select {
			case <-h.Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("error waiting for workers to exit: %w", err)
	}

	return nil
}
