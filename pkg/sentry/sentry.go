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
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/pool-supervisor/pkg/constants"
)

// flushTimeout bounds how long Flush blocks on shutdown.
const flushTimeout = 5 * time.Second

// InitSentry initializes sentry for the given version. An empty dsn leaves
// reporting disabled; issues are then only logged.
// If debounceErrors is true, repeated errors and warnings are not sent more than once per debounce window.
func InitSentry(appVersion, dsn string, debounceErrors bool) bool {
	shouldDebounceErrors = debounceErrors

	if dsn == "" {
		zap.S().Debug("Sentry disabled, no DSN configured")
		return false
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:           dsn,
		Environment:   environmentFor(appVersion),
		Release:       "pool-supervisor@" + appVersion,
		EnableTracing: false,
	})
	if err != nil {
		zap.S().Errorf("Failed to initialize Sentry: %s", err)
		return false
	}

	return true
}

// Flush waits for buffered events to be delivered.
func Flush() {
	sentry.Flush(flushTimeout)
}

func environmentFor(appVersion string) string {
	if appVersion == "" || appVersion == constants.DefaultAppVersion {
		return constants.DefaultDevelopmentEnvironment
	}

	version, err := semver.NewVersion(appVersion)
	if err != nil {
		zap.S().Errorf("Failed to parse app version, using default environment (development): %s", err)
		return constants.DefaultDevelopmentEnvironment
	}
	if version.Prerelease() != "" {
		return constants.DefaultDevelopmentEnvironment
	}

	return constants.DefaultProductionEnvironment
}

func getMeaningfulErrorTitle(err error) string {
	message := err.Error()

	// first phrase, up to a period, comma or colon
	idx := strings.IndexAny(message, ".,:")
	if idx > 0 {
		message = message[:idx]
	}

	if len(message) > 100 {
		message = message[:97] + "..."
	}

	return message
}

func createSentryEvent(level sentry.Level, err error, pc PoolContext) *sentry.Event {
	event := sentry.NewEvent()
	event.Level = level
	event.Message = err.Error()
	event.Exception = []sentry.Exception{{
		Type:       getMeaningfulErrorTitle(err),
		Value:      err.Error(),
		Stacktrace: sentry.ExtractStacktrace(err),
	}}
	event.Fingerprint = []string{
		"{{ default }}",
		"level: " + string(level),
	}
	if pc.Operation != "" {
		event.Fingerprint = append(event.Fingerprint, "operation: "+pc.Operation)
	}

	if tags := pc.tags(); len(tags) > 0 {
		event.Tags = tags
	}
	if len(pc.Extra) > 0 {
		event.Extra = make(map[string]interface{}, len(pc.Extra))
		for key, value := range pc.Extra {
			event.Extra[key] = value
		}
	}

	return event
}

func sendSentryEvent(event *sentry.Event) {
	hub := sentry.CurrentHub()
	if hub.Client() == nil {
		return
	}
	hub.Clone().CaptureEvent(event)
}
