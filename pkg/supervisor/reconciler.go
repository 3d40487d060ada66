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

	"github.com/cenkalti/backoff"

	"github.com/united-manufacturing-hub/pool-supervisor/pkg/constants"
	"github.com/united-manufacturing-hub/pool-supervisor/pkg/metrics"
	"github.com/united-manufacturing-hub/pool-supervisor/pkg/sentry"
	"github.com/united-manufacturing-hub/pool-supervisor/pkg/service/process_manager"
	"github.com/united-manufacturing-hub/pool-supervisor/pkg/service/registry"
)

// reconcile deregisters every registration of this host that none of owned
// announced. Failures are logged and never stop the caller.
func (s *Supervisor) reconcile(ctx context.Context, owned []*process_manager.WorkerHandle) {
	keep := make(map[string]struct{}, len(owned))
	for _, h := range owned {
		if h.RegistrationName != "" {
			keep[h.RegistrationName] = struct{}{}
		}
	}

	regs, err := s.listWithRetry(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		sentry.ReportPoolIssuef(sentry.IssueTypeWarning, s.reconcilerLogger,
			sentry.PoolContext{Operation: "reconcile"},
			"skipping stale registration cleanup for host %s: %v", s.host, err)
		return
	}

	removed := 0
	for _, reg := range regs {
		if _, ok := keep[reg.Name]; ok {
			continue
		}
		if err := s.registry.Deregister(ctx, s.host, reg); err != nil {
			s.reconcilerLogger.Warnf("Failed to remove stale registration %s: %v", reg.Name, err)
			continue
		}
		removed++
	}

	metrics.AddStaleRegistrationsRemoved(removed)
	if removed > 0 {
		s.reconcilerLogger.Infof("Removed %d stale registrations of host %s", removed, s.host)
	} else {
		s.reconcilerLogger.Debugf("No stale registrations for host %s", s.host)
	}
}

func (s *Supervisor) listWithRetry(ctx context.Context) ([]registry.Registration, error) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = constants.ReconcileInitialBackoff

	var regs []registry.Registration
	err := backoff.RetryNotify(
		func() error {
			queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
			defer cancel()

			var err error
			regs, err = s.registry.List(queryCtx, s.host)
			return err
		},
		backoff.WithContext(backoff.WithMaxRetries(expBackoff, constants.ReconcileMaxRetries), ctx),
		func(err error, next time.Duration) {
			s.reconcilerLogger.Debugf("Registry read failed, retrying in %s: %v", next, err)
		},
	)

	return regs, err
}
