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

package config_test

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/beamline-hub/blh-core/pkg/config"
)

var _ = Describe("Watcher", func() {
	var (
		tmpDir  string
		watcher *config.Watcher
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "config-watcher-test-*")
		Expect(err).NotTo(HaveOccurred())

		watcher = config.NewWatcher()
		Expect(watcher.Start(tmpDir)).To(Succeed())
	})

	AfterEach(func() {
		Expect(watcher.Stop()).To(Succeed())
		Expect(os.RemoveAll(tmpDir)).To(Succeed())
	})

	It("should publish a reload event after a document is written", func() {
		path := filepath.Join(tmpDir, "omega.yaml")
		Expect(os.WriteFile(path, []byte("username: omega\n"), 0644)).To(Succeed())

		var event config.ReloadEvent
		Eventually(watcher.Events(), 2*time.Second).Should(Receive(&event))
		Expect(event.Paths).To(ContainElement(path))
	})

	It("should coalesce a burst of writes into a single event", func() {
		path := filepath.Join(tmpDir, "omega.yaml")
		for i := 0; i < 5; i++ {
			Expect(os.WriteFile(path, []byte(fmt.Sprintf("attempt: %d\n", i)), 0644)).To(Succeed())
		}

		Eventually(watcher.Events(), 2*time.Second).Should(Receive())
		Consistently(watcher.Events(), 500*time.Millisecond).ShouldNot(Receive())
	})

	It("should list every changed document in one event", func() {
		omega := filepath.Join(tmpDir, "omega.yaml")
		phi := filepath.Join(tmpDir, "phi.xml")
		Expect(os.WriteFile(omega, []byte("username: omega\n"), 0644)).To(Succeed())
		Expect(os.WriteFile(phi, []byte(`<device class="MockMotor"/>`), 0644)).To(Succeed())

		var event config.ReloadEvent
		Eventually(watcher.Events(), 2*time.Second).Should(Receive(&event))
		Expect(event.Paths).To(ConsistOf(omega, phi))
	})

	It("should ignore files that are not documents", func() {
		Expect(os.WriteFile(filepath.Join(tmpDir, "notes.txt"), []byte("scratch\n"), 0644)).To(Succeed())

		Consistently(watcher.Events(), 600*time.Millisecond).ShouldNot(Receive())
	})

	It("should pick up documents in directories created after start", func() {
		sub := filepath.Join(tmpDir, "motors")
		Expect(os.Mkdir(sub, 0755)).To(Succeed())

		// Give the watcher a moment to add the new directory
		time.Sleep(100 * time.Millisecond)

		path := filepath.Join(sub, "phi.yaml")
		Expect(os.WriteFile(path, []byte("username: phi\n"), 0644)).To(Succeed())

		Eventually(watcher.Events(), 2*time.Second).Should(Receive(HaveField("Paths", ContainElement(path))))
	})

	It("should report removals of documents", func() {
		path := filepath.Join(tmpDir, "omega.yaml")
		Expect(os.WriteFile(path, []byte("username: omega\n"), 0644)).To(Succeed())
		Eventually(watcher.Events(), 2*time.Second).Should(Receive())

		Expect(os.Remove(path)).To(Succeed())
		Eventually(watcher.Events(), 2*time.Second).Should(Receive(HaveField("Paths", ContainElement(path))))
	})

	It("should tolerate Stop being called twice", func() {
		Expect(watcher.Stop()).To(Succeed())
		Expect(watcher.Stop()).To(Succeed())
	})
})
