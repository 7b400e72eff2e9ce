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

package config

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/beamline-hub/blh-core/pkg/constants"
	"github.com/beamline-hub/blh-core/pkg/logger"
	"github.com/beamline-hub/blh-core/pkg/service/filesystem"
)

var _ = Describe("LoadConfigWithEnvOverrides", func() {
	var (
		mockFS  *filesystem.MockFileSystem
		manager *FileConfigManagerWithBackoff
		ctx     context.Context
		cancel  context.CancelFunc
		log     *zap.SugaredLogger
	)

	BeforeEach(func() {
		mockFS = filesystem.NewMockFileSystem()
		manager = ensureSingleton()
		manager.WithFileSystemService(mockFS)

		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		log = logger.For(logger.ComponentConfigManager)
	})

	AfterEach(func() {
		cancel()
	})

	Context("when no variables are set", func() {
		It("should return the defaults and persist them", func() {
			config, err := LoadConfigWithEnvOverrides(ctx, manager, log)
			Expect(err).NotTo(HaveOccurred())
			Expect(config).To(Equal(DefaultCoreConfig()))

			exists, err := mockFS.PathExists(ctx, constants.DefaultConfigPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeTrue())
		})
	})

	Context("when variables are set", func() {
		It("should apply them on top of the defaults", func() {
			GinkgoT().Setenv("BLH_CONFIG_PATH", "/beamlines/id13")
			GinkgoT().Setenv("BLH_BEAMLINE", "id13.yaml")
			GinkgoT().Setenv("BLH_SIMULATION", "true")
			GinkgoT().Setenv("METRICS_PORT", "9100")
			GinkgoT().Setenv("API_PORT", "9101")

			config, err := LoadConfigWithEnvOverrides(ctx, manager, log)
			Expect(err).NotTo(HaveOccurred())

			Expect(config.Hardware.ConfigPath).To(Equal("/beamlines/id13"))
			Expect(config.Hardware.Beamline).To(Equal("id13.yaml"))
			Expect(config.Hardware.Simulation).To(BeTrue())
			Expect(config.Core.MetricsPort).To(Equal(9100))
			Expect(config.Core.APIPort).To(Equal(9101))
			Expect(config.Core.JournalDir).To(Equal(constants.JournalDir))
		})
	})

	Context("when simulation is already enabled in the stored config", func() {
		const storedYAML = `
core:
  metricsPort: 9000
  apiPort: 9001
hardware:
  beamline: beamline.yaml
  simulation: true
`

		BeforeEach(func() {
			mockFS.WithFile(constants.DefaultConfigPath, []byte(storedYAML))
		})

		It("should keep it enabled when the variable is not set", func() {
			config, err := LoadConfigWithEnvOverrides(ctx, manager, log)
			Expect(err).NotTo(HaveOccurred())
			Expect(config.Hardware.Simulation).To(BeTrue())
		})

		It("should flip it off for an explicit false", func() {
			GinkgoT().Setenv("BLH_SIMULATION", "false")

			config, err := LoadConfigWithEnvOverrides(ctx, manager, log)
			Expect(err).NotTo(HaveOccurred())
			Expect(config.Hardware.Simulation).To(BeFalse())
		})
	})
})
