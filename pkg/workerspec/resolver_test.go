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

package workerspec_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/pool-supervisor/pkg/config"
	"github.com/united-manufacturing-hub/pool-supervisor/pkg/workerspec"
)

func lookupFrom(values map[string]string) workerspec.LookupFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

var _ = Describe("Resolve", func() {
	var pool config.PoolConfig

	BeforeEach(func() {
		pool = config.Defaults().Pool
	})

	It("yields the core composition when no optional key is set", func() {
		specs := workerspec.Resolve(pool, lookupFrom(nil))

		Expect(workerspec.Names(specs)).To(Equal([]string{
			"generic-1", "generic-2", "generic-3", "generic-4", "generic-5", "generic-6",
			"dedicated-audio",
		}))
		total, monitored := workerspec.Summary(specs)
		Expect(total).To(Equal(7))
		Expect(monitored).To(Equal(7))

		Expect(specs[0].Queues).To(Equal([]string{"transcription", "memory", "default"}))
		Expect(specs[6].Queues).To(Equal([]string{"audio"}))
	})

	It("adds both stream consumers when both keys are present", func() {
		specs := workerspec.Resolve(pool, lookupFrom(map[string]string{
			"DEEPGRAM_API_KEY": "dg-key",
			"PARAKEET_ASR_URL": "http://parakeet:8080",
		}))

		total, monitored := workerspec.Summary(specs)
		Expect(total).To(Equal(9))
		Expect(monitored).To(Equal(7))
		Expect(specs[7].Name).To(Equal("audio-stream-deepgram"))
		Expect(specs[7].Monitored).To(BeFalse())
		Expect(specs[7].EnabledBy).To(Equal("DEEPGRAM_API_KEY"))
		Expect(specs[8].Name).To(Equal("audio-stream-parakeet"))
	})

	It("treats a blank value as absent", func() {
		specs := workerspec.Resolve(pool, lookupFrom(map[string]string{
			"DEEPGRAM_API_KEY": "   ",
		}))
		Expect(specs).To(HaveLen(7))
	})

	It("matches core ∪ configured optional specs for every configuration snapshot", func() {
		keys := []string{"DEEPGRAM_API_KEY", "PARAKEET_ASR_URL"}
		optional := map[string]string{
			"DEEPGRAM_API_KEY": "audio-stream-deepgram",
			"PARAKEET_ASR_URL": "audio-stream-parakeet",
		}
		core := []string{
			"generic-1", "generic-2", "generic-3", "generic-4", "generic-5", "generic-6",
			"dedicated-audio",
		}

		for mask := 0; mask < 1<<len(keys); mask++ {
			values := map[string]string{}
			expected := append([]string(nil), core...)
			for i, key := range keys {
				if mask&(1<<i) != 0 {
					values[key] = "configured"
					expected = append(expected, optional[key])
				}
			}

			Expect(workerspec.Names(workerspec.Resolve(pool, lookupFrom(values)))).
				To(Equal(expected), "mask %b", mask)
		}
	})

	It("is deterministic for the same snapshot", func() {
		lookup := lookupFrom(map[string]string{"PARAKEET_ASR_URL": "http://parakeet"})
		Expect(workerspec.Resolve(pool, lookup)).To(Equal(workerspec.Resolve(pool, lookup)))
	})

	It("reports disabled optional specs through ResolveAll", func() {
		all := workerspec.ResolveAll(pool, lookupFrom(map[string]string{"DEEPGRAM_API_KEY": "x"}))
		Expect(all).To(HaveLen(9))
		Expect(all[7].Enabled).To(BeTrue())
		Expect(all[8].Enabled).To(BeFalse())
	})

	It("does not share slices with the configuration", func() {
		specs := workerspec.Resolve(pool, lookupFrom(nil))
		specs[0].Queues[0] = "mutated"
		specs[0].Command[0] = "mutated"

		Expect(pool.GenericQueues[0]).To(Equal("transcription"))
		Expect(pool.QueueWorkerCommand[0]).To(Equal("uv"))
	})

	It("supports a pool without generic workers", func() {
		pool.GenericWorkers = 0
		specs := workerspec.Resolve(pool, lookupFrom(nil))
		Expect(workerspec.Names(specs)).To(Equal([]string{"dedicated-audio"}))
	})
})
