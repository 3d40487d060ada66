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
	"errors"
	"strings"

	"github.com/getsentry/sentry-go"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var _ = Describe("environmentFor", func() {
	DescribeTable("maps versions to environments",
		func(version, expected string) {
			Expect(environmentFor(version)).To(Equal(expected))
		},
		Entry("local build", "0.0.0-dev", "development"),
		Entry("empty", "", "development"),
		Entry("release", "1.4.2", "production"),
		Entry("release with v prefix", "v1.4.2", "production"),
		Entry("release candidate", "1.5.0-rc.1", "development"),
		Entry("garbage", "not-a-version", "development"),
	)
})

var _ = Describe("createSentryEvent", func() {
	It("uses the first phrase as title", func() {
		event := createSentryEvent(sentry.LevelError, errors.New("worker generic-1 exited: exit status 1"), PoolContext{})
		Expect(event.Exception).To(HaveLen(1))
		Expect(event.Exception[0].Type).To(Equal("worker generic-1 exited"))
		Expect(event.Message).To(Equal("worker generic-1 exited: exit status 1"))
	})

	It("truncates long titles", func() {
		title := getMeaningfulErrorTitle(errors.New(strings.Repeat("x", 150)))
		Expect(title).To(HaveLen(100))
		Expect(title).To(HaveSuffix("..."))
	})

	It("tags the pool context and keeps extra data apart", func() {
		event := createSentryEvent(sentry.LevelWarning, errors.New("registry unreachable"), PoolContext{
			Operation: "registry_query",
			Cycle:     "c0ffee",
			Extra:     map[string]interface{}{"failures": 3},
		})
		Expect(event.Tags).To(Equal(map[string]string{"operation": "registry_query", "cycle": "c0ffee"}))
		Expect(event.Extra).To(HaveKeyWithValue("failures", 3))
		Expect(event.Fingerprint).To(ContainElement("operation: registry_query"))
		Expect(event.Fingerprint).To(ContainElement("level: warning"))
	})

	It("groups by level only without an operation", func() {
		event := createSentryEvent(sentry.LevelError, errors.New("worker generic-1 exited"), PoolContext{Worker: "generic-1"})
		Expect(event.Tags).To(HaveKeyWithValue("worker", "generic-1"))
		Expect(event.Extra).To(BeEmpty())
		Expect(event.Fingerprint).To(Equal([]string{"{{ default }}", "level: error"}))
	})
})

var _ = Describe("ReportIssuef", func() {
	var (
		logs *observer.ObservedLogs
		log  *zap.SugaredLogger
	)

	BeforeEach(func() {
		var core zapcore.Core
		core, logs = observer.New(zapcore.DebugLevel)
		log = zap.New(core).Sugar()
	})

	It("always logs, even when the sentry send is debounced", func() {
		shouldDebounceErrors = true
		DeferCleanup(func() { shouldDebounceErrors = true })

		ReportIssuef(IssueTypeWarning, log, "registry query failed %d times", 3)
		ReportIssuef(IssueTypeWarning, log, "registry query failed %d times", 4)
		ReportPoolIssuef(IssueTypeError, log, PoolContext{Operation: "watch", Worker: "generic-1"}, "worker %s crashed", "generic-1")

		Expect(logs.FilterLevelExact(zapcore.WarnLevel).Len()).To(Equal(2))
		Expect(logs.FilterLevelExact(zapcore.ErrorLevel).Len()).To(Equal(1))
	})

	It("tolerates a nil logger", func() {
		Expect(func() { ReportIssuef(IssueTypeError, nil, "boom") }).NotTo(Panic())
	})
})

var _ = Describe("debouncer", func() {
	It("lets one event through per window", func() {
		shouldDebounceErrors = true
		var d debouncer
		Expect(d.allow()).To(BeTrue())
		Expect(d.allow()).To(BeFalse())
	})

	It("lets everything through in test mode", func() {
		EnableTestMode()
		DeferCleanup(func() { shouldDebounceErrors = true })

		var d debouncer
		Expect(d.allow()).To(BeTrue())
		Expect(d.allow()).To(BeTrue())
	})
})
