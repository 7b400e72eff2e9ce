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

package api_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/beamline-hub/blh-core/pkg/api"
	"github.com/beamline-hub/blh-core/pkg/config"
	"github.com/beamline-hub/blh-core/pkg/control"
	"github.com/beamline-hub/blh-core/pkg/hwobj"
	"github.com/beamline-hub/blh-core/pkg/hwobj/objects"
	"github.com/beamline-hub/blh-core/pkg/loader"
	"github.com/beamline-hub/blh-core/pkg/registry"
	"github.com/beamline-hub/blh-core/pkg/service/channel"
	"github.com/beamline-hub/blh-core/pkg/service/filesystem"
)

// fakeCore serves a fixed graph the way the run loop would.
type fakeCore struct {
	graph   atomic.Pointer[loader.Graph]
	manager config.ConfigManager
}

func (f *fakeCore) GetGraph() *loader.Graph {
	return f.graph.Load()
}

func (f *fakeCore) GetConfigManager() config.ConfigManager {
	return f.manager
}

const beamlineDoc = `_initialise_class:
  class: BeamlineRoot
_objects:
  omega: omega.yaml
  dtox: dtox.yaml
  safety_shutter: shutter.yaml
  collect: collect.yaml
session: id13
`

const omegaDoc = `_initialise_class:
  class: MockMotor
username: Omega
velocity: 4.0
GUIstep: 90.0
limits: [-180.0, 180.0]
default_value: 15.0
`

const dtoxDoc = `_initialise_class:
  class: DetectorDistance
username: Detector distance
limits: [50.0, 800.0]
`

const shutterDoc = `_initialise_class:
  class: Shutter
default_position: CLOSED
`

const collectDoc = `_initialise_class:
  class: CollectProcedure
_objects:
  omega: omega
  dtox: dtox
parameter_file: collect_params.json
instrumentation_file: instrumentation.nml
`

const collectDialogJSON = `{
  "schema": {
    "title": "Collect",
    "type": "object",
    "properties": {
      "omega": {"type": "number", "title": "Omega start (deg)", "default": 0.0, "minimum": -360, "maximum": 360},
      "dtox": {"type": "number", "title": "Detector distance (mm)", "default": 300.0, "minimum": 1, "maximum": 2000},
      "num_images": {"type": "integer", "title": "Number of images", "default": 100, "minimum": 1},
      "prefix": {"type": "string", "title": "File prefix", "default": "xtal"}
    },
    "required": ["omega"]
  },
  "ui_schema": {
    "order": ["omega", "dtox", "num_images", "prefix"],
    "update_signal": "collectParametersChanged",
    "return_signal": "collectParametersApplied"
  }
}`

const collectInstrumentNml = `&sdcp_instrument_list
gonio_axis_names = 'omega', 'kappa', 'phi'
gonio_axis_dirs = 1.0, 0.0, 0.0, 0.914, 0.279, -0.297, 1.0, 0.0, 0.0
det_name = 'pilatus2m'
/
`

var _ = Describe("Server", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		sim    *channel.Simulator
		graph  *loader.Graph
		core   *fakeCore
		server *api.Server
	)

	do := func(method, path string, body any) *httptest.ResponseRecorder {
		var reader io.Reader

		if body != nil {
			data, err := json.Marshal(body)
			Expect(err).NotTo(HaveOccurred())
			reader = bytes.NewReader(data)
		}

		req := httptest.NewRequest(method, path, reader)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, req)

		return rec
	}

	decode := func(rec *httptest.ResponseRecorder) map[string]any {
		var out map[string]any
		Expect(json.Unmarshal(rec.Body.Bytes(), &out)).To(Succeed())

		return out
	}

	findObject := func(body map[string]any, role string) map[string]any {
		list, ok := body["objects"].([]any)
		Expect(ok).To(BeTrue())

		for _, item := range list {
			entry, ok := item.(map[string]any)
			Expect(ok).To(BeTrue())

			if entry["role"] == role {
				return entry
			}
		}

		Fail("role " + role + " not in object list")

		return nil
	}

	detailValue := func(role string) any {
		rec := do(http.MethodGet, "/api/v1/objects/"+role, nil)
		Expect(rec.Code).To(Equal(http.StatusOK))

		return decode(rec)["value"]
	}

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)

		hub := channel.NewHub()
		sim = channel.NewSimulator()
		Expect(hub.RegisterAdapter(sim)).To(Succeed())

		// The detector stage does not seed its own point.
		sim.SetPoint("dtox/distance", 300.0)

		fs := filesystem.NewMockFileSystem().
			WithFile("/beamlines/id13/beamline.yaml", []byte(beamlineDoc)).
			WithFile("/beamlines/id13/omega.yaml", []byte(omegaDoc)).
			WithFile("/beamlines/id13/dtox.yaml", []byte(dtoxDoc)).
			WithFile("/beamlines/id13/shutter.yaml", []byte(shutterDoc)).
			WithFile("/beamlines/id13/collect.yaml", []byte(collectDoc)).
			WithFile("/beamlines/id13/collect_params.json", []byte(collectDialogJSON)).
			WithFile("/beamlines/id13/instrumentation.nml", []byte(collectInstrumentNml))

		reg := registry.New()
		Expect(objects.RegisterAll(reg, objects.Services{Hub: hub, FS: fs})).To(Succeed())

		var err error
		graph, err = loader.New(reg, fs).Load(ctx, "/beamlines/id13/beamline.yaml")
		Expect(err).NotTo(HaveOccurred())

		core = &fakeCore{}
		core.graph.Store(graph)

		server = api.NewServer(core, filesystem.NewMockFileSystem())
	})

	AfterEach(func() {
		if g := core.graph.Load(); g != nil {
			Expect(g.Shutdown(ctx)).To(Succeed())
		}

		cancel()
	})

	Describe("Health", func() {
		It("should serve ok with the session once a graph is live", func() {
			rec := do(http.MethodGet, "/health", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			body := decode(rec)
			Expect(body["status"]).To(Equal("ok"))
			Expect(body["session"]).To(Equal(graph.SessionID()))
			Expect(body["objects"]).To(BeNumerically("==", 5))
		})

		It("should serve loading before the first load completes", func() {
			core.graph.Store(nil)

			rec := do(http.MethodGet, "/health", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decode(rec)["status"]).To(Equal("loading"))
		})
	})

	Describe("Listing objects", func() {
		It("should list every object with state and readings", func() {
			rec := do(http.MethodGet, "/api/v1/objects", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			body := decode(rec)
			Expect(body["session"]).To(Equal(graph.SessionID()))

			omega := findObject(body, "omega")
			Expect(omega["class"]).To(Equal(objects.ClassMockMotor))
			Expect(omega["state"]).To(Equal(string(hwobj.StateReady)))
			Expect(omega["value"]).To(BeNumerically("==", 15.0))
			Expect(omega["limits"]).To(Equal([]any{-180.0, 180.0}))

			shutter := findObject(body, "safety_shutter")
			Expect(shutter["position"]).To(Equal(objects.PositionClosed))
		})

		It("should answer 503 before a graph is loaded", func() {
			core.graph.Store(nil)

			rec := do(http.MethodGet, "/api/v1/objects", nil)
			Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
		})
	})

	Describe("Object detail", func() {
		It("should detail an actuator with value and limits", func() {
			rec := do(http.MethodGet, "/api/v1/objects/omega", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			body := decode(rec)
			Expect(body["role"]).To(Equal("omega"))
			Expect(body["value"]).To(BeNumerically("==", 15.0))
			Expect(body["limits"]).To(Equal([]any{-180.0, 180.0}))
			Expect(body).NotTo(HaveKey("positions"))
		})

		It("should detail a positioner with its named positions", func() {
			rec := do(http.MethodGet, "/api/v1/objects/safety_shutter", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			body := decode(rec)
			Expect(body["position"]).To(Equal(objects.PositionClosed))
			Expect(body["positions"]).To(ConsistOf(objects.PositionOpen, objects.PositionClosed))
		})

		It("should answer 404 on an unknown role", func() {
			rec := do(http.MethodGet, "/api/v1/objects/nonexistent", nil)
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("Moving objects", func() {
		It("should move an actuator and wait for the settle", func() {
			rec := do(http.MethodPost, "/api/v1/objects/omega/value",
				map[string]any{"value": 45.0, "timeout_ms": 2000})
			Expect(rec.Code).To(Equal(http.StatusOK))

			body := decode(rec)
			Expect(body["state"]).To(Equal(string(hwobj.StateReady)))
			Expect(detailValue("omega")).To(BeNumerically("==", 45.0))
		})

		It("should dispatch without waiting when no timeout is given", func() {
			rec := do(http.MethodPost, "/api/v1/objects/omega/value",
				map[string]any{"value": 90.0})
			Expect(rec.Code).To(Equal(http.StatusOK))

			Eventually(func() any {
				return detailValue("omega")
			}).Should(BeNumerically("==", 90.0))
		})

		It("should reject a move outside the travel limits", func() {
			rec := do(http.MethodPost, "/api/v1/objects/omega/value",
				map[string]any{"value": 1000.0, "timeout_ms": 1000})
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(decode(rec)["error"]).To(ContainSubstring("outside limits"))
		})

		It("should reject a value write to a discrete positioner", func() {
			rec := do(http.MethodPost, "/api/v1/objects/safety_shutter/value",
				map[string]any{"value": 1.0})
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(decode(rec)["error"]).To(ContainSubstring("not an actuator"))
		})

		It("should drive a positioner to a named position", func() {
			rec := do(http.MethodPost, "/api/v1/objects/safety_shutter/value",
				map[string]any{"position": objects.PositionOpen, "timeout_ms": 2000})
			Expect(rec.Code).To(Equal(http.StatusOK))

			detail := do(http.MethodGet, "/api/v1/objects/safety_shutter", nil)
			Expect(decode(detail)["position"]).To(Equal(objects.PositionOpen))
		})

		It("should reject an unknown position name", func() {
			rec := do(http.MethodPost, "/api/v1/objects/safety_shutter/value",
				map[string]any{"position": "HALF", "timeout_ms": 1000})
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(decode(rec)["error"]).To(ContainSubstring("not a defined position"))
		})

		It("should reject a body naming neither value nor position", func() {
			rec := do(http.MethodPost, "/api/v1/objects/omega/value", map[string]any{})
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should stop an axis", func() {
			rec := do(http.MethodPost, "/api/v1/objects/omega/stop", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decode(rec)["state"]).To(Equal(string(hwobj.StateReady)))
		})

		It("should abort an axis", func() {
			rec := do(http.MethodPost, "/api/v1/objects/omega/abort", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
		})
	})

	Describe("Procedures", func() {
		It("should serve the dialog with live axis values", func() {
			rec := do(http.MethodGet, "/api/v1/procedures/collect/schema", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			body := decode(rec)

			schema, ok := body["schema"].(map[string]any)
			Expect(ok).To(BeTrue())
			Expect(schema["title"]).To(Equal("Collect"))

			values, ok := body["values"].(map[string]any)
			Expect(ok).To(BeTrue())
			Expect(values["omega"]).To(BeNumerically("==", 15.0))
			Expect(values["dtox"]).To(BeNumerically("==", 300.0))
			Expect(values["num_images"]).To(BeNumerically("==", 100))
			Expect(values["prefix"]).To(Equal("xtal"))
		})

		It("should validate and apply a parameter set", func() {
			rec := do(http.MethodPut, "/api/v1/procedures/collect/schema",
				map[string]any{"omega": 30.0, "num_images": 12})
			Expect(rec.Code).To(Equal(http.StatusOK))

			values, ok := decode(rec)["values"].(map[string]any)
			Expect(ok).To(BeTrue())
			Expect(values["omega"]).To(BeNumerically("==", 30.0))
			Expect(values["num_images"]).To(BeNumerically("==", 12))
			Expect(values["dtox"]).To(BeNumerically("==", 300.0))
			Expect(values["prefix"]).To(Equal("xtal"))
		})

		It("should reject a parameter the schema does not allow", func() {
			rec := do(http.MethodPut, "/api/v1/procedures/collect/schema",
				map[string]any{"omega": 5000.0})
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(decode(rec)["error"]).To(ContainSubstring("above maximum"))
		})

		It("should reject a parameter violating the axis travel limits", func() {
			// Schema allows up to 360 but the omega axis only travels to 180.
			rec := do(http.MethodPut, "/api/v1/procedures/collect/schema",
				map[string]any{"omega": 200.0})
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(decode(rec)["error"]).To(ContainSubstring("outside limits"))
		})

		It("should reject schema operations on a plain object", func() {
			rec := do(http.MethodGet, "/api/v1/procedures/omega/schema", nil)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(decode(rec)["error"]).To(ContainSubstring("not a procedure"))
		})

		It("should move the axes on prepare", func() {
			rec := do(http.MethodPost, "/api/v1/procedures/collect/prepare",
				map[string]any{"values": map[string]any{"omega": 90.0}, "timeout_ms": 2000})
			Expect(rec.Code).To(Equal(http.StatusOK))

			values, ok := decode(rec)["values"].(map[string]any)
			Expect(ok).To(BeTrue())
			Expect(values["omega"]).To(BeNumerically("==", 90.0))

			Expect(detailValue("omega")).To(BeNumerically("==", 90.0))
		})
	})

	Describe("Journal access", func() {
		var (
			dir     string
			manager *config.MockConfigManager
			segment string
		)

		BeforeEach(func() {
			dir = GinkgoT().TempDir()

			j, err := control.NewJournal(ctx, dir, filesystem.NewDefaultService())
			Expect(err).NotTo(HaveOccurred())

			j.Append(control.JournalEntry{
				Time:    time.Now().UTC(),
				Tick:    7,
				Session: graph.SessionID(),
				Objects: graph.Snapshot(),
			})
			Expect(j.Close()).To(Succeed())

			names, err := j.Segments(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(names).To(HaveLen(1))
			segment = filepath.Base(names[0])

			manager = config.NewMockConfigManager()
			manager.Config.Core.JournalDir = dir
			core.manager = manager

			server = api.NewServer(core, filesystem.NewDefaultService())
		})

		It("should list segments with their size", func() {
			rec := do(http.MethodGet, "/api/v1/journal", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			segments, ok := decode(rec)["segments"].([]any)
			Expect(ok).To(BeTrue())
			Expect(segments).To(HaveLen(1))

			entry, ok := segments[0].(map[string]any)
			Expect(ok).To(BeTrue())
			Expect(entry["name"]).To(Equal(segment))
			Expect(entry["size"]).To(BeNumerically(">", 0))
		})

		It("should decode a segment into entries", func() {
			rec := do(http.MethodGet, "/api/v1/journal/"+segment, nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			entries, ok := decode(rec)["entries"].([]any)
			Expect(ok).To(BeTrue())
			Expect(entries).To(HaveLen(1))

			entry, ok := entries[0].(map[string]any)
			Expect(ok).To(BeTrue())
			Expect(entry["tick"]).To(BeNumerically("==", 7))
			Expect(entry["session"]).To(Equal(graph.SessionID()))
			Expect(entry["objects"]).To(HaveLen(5))
		})

		It("should stream raw compressed bytes with resume offsets", func() {
			rec := do(http.MethodGet, "/api/v1/journal/"+segment+"/raw", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			body := decode(rec)
			Expect(body["chunk"]).NotTo(BeEmpty())
			Expect(body["eof"]).To(BeTrue())

			next, ok := body["next_offset"].(float64)
			Expect(ok).To(BeTrue())
			Expect(next).To(BeNumerically(">", 0))

			rec = do(http.MethodGet,
				fmt.Sprintf("/api/v1/journal/%s/raw?offset=%d", segment, int64(next)), nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			body = decode(rec)
			Expect(body["eof"]).To(BeTrue())
			Expect(body["next_offset"]).To(BeNumerically("==", next))
		})

		It("should reject a name that is not a journal segment", func() {
			rec := do(http.MethodGet, "/api/v1/journal/passwd", nil)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should answer 404 on a segment that is not there", func() {
			rec := do(http.MethodGet, "/api/v1/journal/journal-00000000000000000000.jsonl.zst", nil)
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})

		It("should answer 404 when journaling is disabled", func() {
			manager.Config.Core.JournalDir = ""

			rec := do(http.MethodGet, "/api/v1/journal", nil)
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})

		It("should answer 503 without a config manager", func() {
			core.manager = nil

			rec := do(http.MethodGet, "/api/v1/journal", nil)
			Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
		})
	})
})
