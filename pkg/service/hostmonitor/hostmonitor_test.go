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

package hostmonitor_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/beamline-hub/blh-core/pkg/service/hostmonitor"
)

var _ = Describe("Host Monitor Service", func() {
	var (
		service *hostmonitor.HostMonitorService
		ctx     context.Context
	)

	BeforeEach(func() {
		service = hostmonitor.NewHostMonitorService()
		ctx = context.Background()
	})

	Describe("GetStatus", func() {
		It("should contain CPU metrics", func() {
			status, err := service.GetStatus(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(status.CPU).ToNot(BeNil())
			Expect(status.CPU.CoreCount).To(BeNumerically(">", 0))
			Expect(status.CPU.LoadPercent).To(BeNumerically(">=", 0))
		})

		It("should contain memory metrics", func() {
			status, err := service.GetStatus(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(status.Memory).ToNot(BeNil())
			Expect(status.Memory.TotalBytes).To(BeNumerically(">", 0))
			Expect(status.Memory.UsedBytes).To(BeNumerically("<=", status.Memory.TotalBytes))
		})

		It("should contain disk metrics for the monitored partition", func() {
			status, err := service.GetStatus(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(status.Disk).ToNot(BeNil())
			Expect(status.Disk.Path).To(Equal("/"))
			Expect(status.Disk.TotalBytes).To(BeNumerically(">", 0))
		})

		It("should stamp hostname, architecture and collection time", func() {
			status, err := service.GetStatus(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(status.Architecture).ToNot(BeEmpty())
			Expect(status.CollectedAt).ToNot(BeZero())
		})
	})

	Describe("Warnings", func() {
		It("should report nothing for a healthy sample", func() {
			Expect(service.Warnings(hostmonitor.CreateHealthyHostStatus())).To(BeEmpty())
		})

		It("should name every exceeded threshold", func() {
			warnings := service.Warnings(hostmonitor.CreateDegradedHostStatus())
			Expect(warnings).To(HaveLen(2))
			Expect(warnings[0]).To(ContainSubstring("cpu load 97.5%"))
			Expect(warnings[1]).To(ContainSubstring("memory usage 96.0%"))
		})

		It("should skip sections that failed to collect", func() {
			status := hostmonitor.CreateDegradedHostStatus()
			status.CPU = nil

			warnings := service.Warnings(status)
			Expect(warnings).To(HaveLen(1))
			Expect(warnings[0]).To(ContainSubstring("memory"))
		})

		It("should tolerate a nil sample", func() {
			Expect(service.Warnings(nil)).To(BeEmpty())
		})
	})

	Describe("MockService", func() {
		It("should default to a healthy host", func() {
			mock := hostmonitor.NewMockService()

			status, err := mock.GetStatus(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(mock.Warnings(status)).To(BeEmpty())
		})

		It("should be scriptable per call", func() {
			mock := hostmonitor.NewMockService()
			mock.GetStatusFunc = func(ctx context.Context) (*hostmonitor.HostStatus, error) {
				return hostmonitor.CreateDegradedHostStatus(), nil
			}
			mock.WarningsFunc = func(status *hostmonitor.HostStatus) []string {
				return []string{"cpu load 97.5% above 90.0%"}
			}

			status, err := mock.GetStatus(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(status.CPU.LoadPercent).To(Equal(97.5))
			Expect(mock.Warnings(status)).To(HaveLen(1))
		})
	})
})
