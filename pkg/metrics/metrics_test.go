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

package metrics

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var _ = Describe("Metrics", func() {
	It("exports the supervisor state as a number", func() {
		UpdateSupervisorState("restarting")
		Expect(testutil.ToFloat64(supervisorState)).To(Equal(2.0))

		UpdateSupervisorState("bogus")
		Expect(testutil.ToFloat64(supervisorState)).To(Equal(-1.0))
	})

	It("splits tracked workers by monitored flag", func() {
		SetTrackedWorkers(7, 2)
		Expect(testutil.ToFloat64(trackedWorkers.WithLabelValues("true"))).To(Equal(7.0))
		Expect(testutil.ToFloat64(trackedWorkers.WithLabelValues("false"))).To(Equal(2.0))
	})

	It("counts restart cycles and stale removals", func() {
		before := testutil.ToFloat64(restartCycles)
		IncRestartCycles()
		Expect(testutil.ToFloat64(restartCycles)).To(Equal(before + 1))

		removed := testutil.ToFloat64(staleRegistrationsRemoved)
		AddStaleRegistrationsRemoved(3)
		Expect(testutil.ToFloat64(staleRegistrationsRemoved)).To(Equal(removed + 3))
	})

	It("counts unexpected exits per worker", func() {
		IncUnexpectedExits("audio-stream-parakeet")
		Expect(testutil.ToFloat64(unexpectedExits.WithLabelValues("audio-stream-parakeet"))).To(BeNumerically(">=", 1))
	})
})
