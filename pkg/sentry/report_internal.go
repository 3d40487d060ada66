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

package sentry

import (
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

const debounceWindow = 2 * time.Hour

var shouldDebounceErrors = true

// EnableTestMode disables debouncing for testing.
func EnableTestMode() {
	shouldDebounceErrors = false
}

// debouncer lets one event per window through. The log line is always written.
type debouncer struct {
	mu       sync.Mutex
	lastSent time.Time
}

func (d *debouncer) allow() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if shouldDebounceErrors && time.Since(d.lastSent) < debounceWindow {
		return false
	}
	d.lastSent = time.Now()
	return true
}

var (
	errorDebouncer   debouncer
	warningDebouncer debouncer
)

func report(issueType IssueType, log *zap.SugaredLogger, err error, pc PoolContext) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	switch issueType {
	case IssueTypeError:
		log.Error(err)
		if errorDebouncer.allow() {
			sendSentryEvent(createSentryEvent(sentry.LevelError, err, pc))
		}
	case IssueTypeWarning:
		log.Warn(err)
		if warningDebouncer.allow() {
			sendSentryEvent(createSentryEvent(sentry.LevelWarning, err, pc))
		}
	}
}
