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

package geometry_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/beamline-hub/blh-core/pkg/geometry"
	"github.com/beamline-hub/blh-core/pkg/hwerr"
)

const instrumentationNml = `! Instrument description for the beamline simulator
&sdcp_instrument_list
det_name = 'pilatus2m'   ! detector model
det_nx = 1475
det_ny = 1679
det_qx = 0.172
det_qy = 0.172
det_org_x = 730.0
det_org_y = 855.0
gonio_name = 'MiniKappa'
gonio_axis_names = 'omega', 'kappa', 'phi'
gonio_axis_dirs = 1.0, 0.0, 0.0,
    0.914, 0.279, -0.297,
    1.0, 0.0, 0.0
gonio_centring_axis_names = 'sampx', 'sampy', 'phiy'
gonio_centring_axis_dirs = 0.0, 1.0, 0.0, 0.0, 0.0, 1.0, 1.0, 0.0, 0.0
beam = 3*0.0
lambda_sd = 2.0d-4
res_limit_def = 3.0
beamstop_param_names = 'beamstop_distance', 'beamstop_size'
beamstop_param_vals = 50.0, 1.0
shutterless = .true.
comment = 'it''s simulated'
/

&segment_list
seg_coords_ref = 0
seg_x = 0.0, 1.0
/

&segment_list
seg_coords_ref = 1
seg_x = 0.0, -1.0
/
`

var _ = Describe("Parse", func() {
	var nml *geometry.Namelist

	BeforeEach(func() {
		var err error
		nml, err = geometry.Parse("gphl/instrumentation.nml", []byte(instrumentationNml))
		Expect(err).NotTo(HaveOccurred())
	})

	It("reads scalar detector parameters", func() {
		instrument, ok := nml.Group("sdcp_instrument_list")
		Expect(ok).To(BeTrue())

		name, ok := instrument.String("det_name")
		Expect(ok).To(BeTrue())
		Expect(name).To(Equal("pilatus2m"))

		nx, ok := instrument.Int("det_nx")
		Expect(ok).To(BeTrue())
		Expect(nx).To(Equal(1475))

		qx, ok := instrument.Float("det_qx")
		Expect(ok).To(BeTrue())
		Expect(qx).To(Equal(0.172))
	})

	It("reads axis direction arrays across continuation lines", func() {
		instrument, _ := nml.Group("sdcp_instrument_list")

		dirs, ok := instrument.Floats("gonio_axis_dirs")
		Expect(ok).To(BeTrue())
		Expect(dirs).To(HaveLen(9))
		Expect(dirs[:3]).To(Equal([]float64{1.0, 0.0, 0.0}))
		Expect(dirs[3:6]).To(Equal([]float64{0.914, 0.279, -0.297}))
		Expect(dirs[6:]).To(Equal([]float64{1.0, 0.0, 0.0}))

		names, ok := instrument.Strings("gonio_axis_names")
		Expect(ok).To(BeTrue())
		Expect(names).To(Equal([]string{"omega", "kappa", "phi"}))
	})

	It("expands repeat counts", func() {
		instrument, _ := nml.Group("sdcp_instrument_list")

		beam, ok := instrument.Floats("beam")
		Expect(ok).To(BeTrue())
		Expect(beam).To(Equal([]float64{0.0, 0.0, 0.0}))
	})

	It("converts Fortran double-precision exponents", func() {
		instrument, _ := nml.Group("sdcp_instrument_list")

		lambda, ok := instrument.Float("lambda_sd")
		Expect(ok).To(BeTrue())
		Expect(lambda).To(Equal(0.0002))
	})

	It("unescapes doubled quotes in strings", func() {
		instrument, _ := nml.Group("sdcp_instrument_list")

		comment, ok := instrument.String("comment")
		Expect(ok).To(BeTrue())
		Expect(comment).To(Equal("it's simulated"))
	})

	It("reads logicals", func() {
		instrument, _ := nml.Group("sdcp_instrument_list")

		shutterless, ok := instrument.Bool("shutterless")
		Expect(ok).To(BeTrue())
		Expect(shutterless).To(BeTrue())
	})

	It("keeps repeated groups separate and ordered", func() {
		segments := nml.Groups("segment_list")
		Expect(segments).To(HaveLen(2))

		first, ok := segments[0].Int("seg_coords_ref")
		Expect(ok).To(BeTrue())
		Expect(first).To(Equal(0))

		second, ok := segments[1].Int("seg_coords_ref")
		Expect(ok).To(BeTrue())
		Expect(second).To(Equal(1))

		x, ok := segments[1].Floats("seg_x")
		Expect(ok).To(BeTrue())
		Expect(x).To(Equal([]float64{0.0, -1.0}))
	})

	It("matches group and key names case-insensitively", func() {
		instrument, ok := nml.Group("SDCP_Instrument_List")
		Expect(ok).To(BeTrue())

		nx, ok := instrument.Int("DET_NX")
		Expect(ok).To(BeTrue())
		Expect(nx).To(Equal(1475))
	})

	It("lists distinct group names in first-appearance order", func() {
		Expect(nml.GroupNames()).To(Equal([]string{"sdcp_instrument_list", "segment_list"}))
	})

	It("keeps keys in declaration order", func() {
		instrument, _ := nml.Group("sdcp_instrument_list")
		Expect(instrument.Keys()[:3]).To(Equal([]string{"det_name", "det_nx", "det_ny"}))
	})

	It("refuses typed access across kinds", func() {
		instrument, _ := nml.Group("sdcp_instrument_list")

		_, ok := instrument.Floats("gonio_axis_names")
		Expect(ok).To(BeFalse())

		_, ok = instrument.Int("det_qx")
		Expect(ok).To(BeFalse())

		_, ok = instrument.Float("no_such_key")
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("Parse of compact input", func() {
	It("accepts a group opened and closed on one line", func() {
		nml, err := geometry.Parse("gphl/simcal.nml", []byte("&simcal_options n_rays = 1000000 /\n"))
		Expect(err).NotTo(HaveOccurred())

		options, ok := nml.Group("simcal_options")
		Expect(ok).To(BeTrue())

		rays, ok := options.Int("n_rays")
		Expect(ok).To(BeTrue())
		Expect(rays).To(Equal(1000000))
	})
})

var _ = Describe("Parse errors", func() {
	It("rejects content outside a group", func() {
		_, err := geometry.Parse("gphl/broken.nml", []byte("det_nx = 1475\n"))
		Expect(hwerr.IsConfiguration(err)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("outside a group"))
	})

	It("rejects an unclosed group", func() {
		_, err := geometry.Parse("gphl/broken.nml", []byte("&segment_list\nseg_x = 1.0\n"))
		Expect(hwerr.IsConfiguration(err)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("not closed"))
	})

	It("rejects an unparseable value", func() {
		_, err := geometry.Parse("gphl/broken.nml", []byte("&g\nx = 1.0.0\n/\n"))
		Expect(hwerr.IsConfiguration(err)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("line 2"))
	})

	It("rejects an unterminated string", func() {
		_, err := geometry.Parse("gphl/broken.nml", []byte("&g\nname = 'pilatus\n/\n"))
		Expect(hwerr.IsConfiguration(err)).To(BeTrue())
	})

	It("rejects a continuation before any assignment", func() {
		_, err := geometry.Parse("gphl/broken.nml", []byte("&g\n1.0, 2.0\n/\n"))
		Expect(hwerr.IsConfiguration(err)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("continuation"))
	})
})
