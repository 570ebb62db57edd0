package derive

import (
	"math"

	"github.com/chewxy/math32"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/amdcmd/internal/gfx"
	"github.com/gogpu/amdcmd/internal/pm4"
)

// Topology is a VGT_PRIMITIVE_TYPE value.
type Topology uint32

// Topologies.
const (
	TopologyNone          Topology = 0x00
	TopologyPointList     Topology = 0x01
	TopologyLineList      Topology = 0x02
	TopologyLineStrip     Topology = 0x03
	TopologyTriangleList  Topology = 0x04
	TopologyTriangleFan   Topology = 0x05
	TopologyTriangleStrip Topology = 0x06
	TopologyPatch         Topology = 0x09
	TopologyLineListAdj   Topology = 0x0A
	TopologyLineStripAdj  Topology = 0x0B
	TopologyTriListAdj    Topology = 0x0C
	TopologyTriStripAdj   Topology = 0x0D
	TopologyRectList      Topology = 0x11
	TopologyLineLoop      Topology = 0x12
	TopologyPolygon       Topology = 0x15
)

var topologyNames = map[Topology]string{
	TopologyNone:          "none",
	TopologyPointList:     "point_list",
	TopologyLineList:      "line_list",
	TopologyLineStrip:     "line_strip",
	TopologyTriangleList:  "triangle_list",
	TopologyTriangleFan:   "triangle_fan",
	TopologyTriangleStrip: "triangle_strip",
	TopologyPatch:         "patch",
	TopologyLineListAdj:   "line_list_adj",
	TopologyLineStripAdj:  "line_strip_adj",
	TopologyTriListAdj:    "triangle_list_adj",
	TopologyTriStripAdj:   "triangle_strip_adj",
	TopologyRectList:      "rect_list",
	TopologyLineLoop:      "line_loop",
	TopologyPolygon:       "polygon",
}

// String returns the topology name.
func (t Topology) String() string {
	if n, ok := topologyNames[t]; ok {
		return n
	}
	return "unknown"
}

// TopologyFromGPU converts an API topology.
func TopologyFromGPU(t gputypes.PrimitiveTopology) Topology {
	switch t {
	case gputypes.PrimitiveTopologyPointList:
		return TopologyPointList
	case gputypes.PrimitiveTopologyLineList:
		return TopologyLineList
	case gputypes.PrimitiveTopologyLineStrip:
		return TopologyLineStrip
	case gputypes.PrimitiveTopologyTriangleStrip:
		return TopologyTriangleStrip
	default:
		return TopologyTriangleList
	}
}

// Rasterized primitive classes (VGT_GS_OUT_PRIM_TYPE).
const (
	OutPrimPoints    uint32 = 0
	OutPrimLines     uint32 = 1
	OutPrimTriangles uint32 = 2
	OutPrimRects     uint32 = 3
)

// OutPrim returns the primitive class the rasterizer sees for t.
func (t Topology) OutPrim() uint32 {
	switch t {
	case TopologyPointList, TopologyPatch:
		return OutPrimPoints
	case TopologyLineList, TopologyLineStrip, TopologyLineListAdj, TopologyLineStripAdj, TopologyLineLoop:
		return OutPrimLines
	case TopologyRectList:
		return OutPrimRects
	default:
		return OutPrimTriangles
	}
}

// IsStrip reports whether t shares vertices between primitives.
func (t Topology) IsStrip() bool {
	switch t {
	case TopologyLineStrip, TopologyTriangleStrip, TopologyTriangleFan,
		TopologyLineStripAdj, TopologyTriStripAdj:
		return true
	}
	return false
}

// PrimsForVertices returns how many primitives count vertices form.
// Patch topologies use patchSize vertices per primitive.
func PrimsForVertices(t Topology, count, patchSize uint32) uint32 {
	switch t {
	case TopologyPointList:
		return count
	case TopologyLineList:
		return count / 2
	case TopologyLineStrip:
		return subFloor(count, 1)
	case TopologyTriangleList:
		return count / 3
	case TopologyTriangleStrip, TopologyTriangleFan, TopologyPolygon:
		return subFloor(count, 2)
	case TopologyLineListAdj:
		return count / 4
	case TopologyLineStripAdj:
		return subFloor(count, 3)
	case TopologyTriListAdj:
		return count / 6
	case TopologyTriStripAdj:
		if count < 6 {
			return 0
		}
		return (count - 4) / 2
	case TopologyRectList:
		return count / 3
	case TopologyLineLoop:
		return count
	case TopologyPatch:
		if patchSize == 0 {
			return 0
		}
		return count / patchSize
	}
	return 0
}

func subFloor(a, b uint32) uint32 {
	if a < b {
		return 0
	}
	return a - b
}

// LineCntl returns PA_SU_LINE_CNTL for a line width.
func LineCntl(width float32) uint32 {
	return uint32(math32.Min(math32.Max(width*8, 0), 0xFFFF))
}

// LineStipple returns PA_SC_LINE_STIPPLE. Strips keep the pattern running
// across segments; lists restart it per line.
func LineStipple(factor uint32, pattern uint16, t Topology) uint32 {
	reset := uint32(1)
	if t == TopologyLineStrip {
		reset = 2
	}
	return pm4.LineStipple{
		Pattern:   uint32(pattern),
		Repeat:    max(factor, 1) - 1,
		AutoReset: reset,
	}.Pack()
}

// DiscardRule returns PA_SC_CLIPRECT_RULE. Every combination of the first
// count rectangles passes unless inclusive mode leaves a pixel outside all
// of them or exclusive mode finds it inside one.
func DiscardRule(enable bool, count int, inclusive bool) uint32 {
	if !enable {
		return 0xFFFF
	}
	var rule uint32
	for i := range 16 {
		subset := i & (1<<count - 1)
		if inclusive && subset == 0 {
			continue
		}
		if !inclusive && subset != 0 {
			continue
		}
		rule |= 1 << i
	}
	return rule
}

// DiscardRectWords returns the PA_SC_CLIPRECT_n TL/BR pairs.
func DiscardRectWords(rects []Rect) []uint32 {
	out := make([]uint32, 0, 2*len(rects))
	for _, r := range rects {
		x := uint32(max(r.X, 0))
		y := uint32(max(r.Y, 0))
		out = append(out, pm4.Cliprect(x, y), pm4.Cliprect(x+r.Width, y+r.Height))
	}
	return out
}

// VRS combiner operations.
const (
	CombinerPassthrough uint32 = 0
	CombinerOverride    uint32 = 1
	CombinerMin         uint32 = 2
	CombinerMax         uint32 = 3
	CombinerSum         uint32 = 4
)

// ShadingRate is a fragment shading rate state.
type ShadingRate struct {
	Width, Height uint32
	// Combiners are the pipeline and attachment combiner ops.
	Combiners [2]uint32
}

// VRSRegs holds GE_VRS_RATE and PA_CL_VRS_CNTL.
type VRSRegs struct {
	Rate uint32
	Cntl uint32
}

// VRS derives rate registers. Mesh pipelines carry the per-primitive rate,
// others the per-vertex rate.
func VRS(r ShadingRate, mesh, hasAttachment bool) VRSRegs {
	w := min(r.Width, 2)
	h := min(r.Height, 2)
	rate := pm4.VRSRate(max(w, 1)-1, max(h, 1)-1)

	cntl := pm4.VRSCntl{
		HTileRateCombiner: CombinerPassthrough,
	}
	if hasAttachment {
		cntl.HTileRateCombiner = r.Combiners[1]
	}
	if mesh {
		cntl.VertexRateCombiner = CombinerPassthrough
		cntl.PrimitiveRateCombiner = r.Combiners[0]
	} else {
		cntl.VertexRateCombiner = r.Combiners[0]
		cntl.PrimitiveRateCombiner = CombinerPassthrough
	}
	return VRSRegs{Rate: rate, Cntl: cntl.Pack()}
}

// DepthBias is the depth bias state.
type DepthBias struct {
	Constant float32
	Clamp    float32
	Slope    float32
}

// DepthBiasWords returns the five dwords starting at
// PA_SU_POLY_OFFSET_CLAMP: clamp then front and back scale/offset. The
// slope is in sixteenths.
func DepthBiasWords(b DepthBias) [5]uint32 {
	slope := math.Float32bits(b.Slope * 16)
	bias := math.Float32bits(b.Constant)
	return [5]uint32{math.Float32bits(b.Clamp), slope, bias, slope, bias}
}

// DepthBiasFormat returns PA_SU_POLY_OFFSET_DB_FMT_CNTL for the bound
// depth format.
func DepthBiasFormat(df DepthFormat) uint32 {
	if !df.HasDepth {
		return 0
	}
	switch {
	case df.Float:
		return pm4.DepthFormatCntl{NegNumDBBits: negBits(23), DBIsFloat: true}.Pack()
	case df.Bits == 16:
		return pm4.DepthFormatCntl{NegNumDBBits: negBits(16)}.Pack()
	default:
		return pm4.DepthFormatCntl{NegNumDBBits: negBits(24)}.Pack()
	}
}

func negBits(n int32) uint32 { return uint32(-n) & 0xFF }

// IAState is the input to IA_MULTI_VGT_PARAM derivation.
type IAState struct {
	Info               gfx.Info
	Topology           Topology
	HasTess            bool
	HasGS              bool
	TessPatches        uint32
	PrimitiveRestart   bool
	Instanced          bool
	Indirect           bool
	CountFromStreamout bool
	VertexCount        uint32
	PatchSize          uint32
}

// MultiVGTParam returns IA_MULTI_VGT_PARAM for GFX6-9 chips. Later chips
// have no such register and get zero.
func MultiVGTParam(s IAState) uint32 {
	info := s.Info
	if info.Level >= gfx.GFX10 {
		return 0
	}
	maxSE := info.NumShaderEngines

	primgroup := uint32(128)
	switch {
	case s.HasTess:
		primgroup = max(s.TessPatches, 1)
	case s.HasGS:
		primgroup = 64
	}

	wd := false
	if info.Level >= gfx.GFX7 {
		if maxSE < 4 ||
			s.Topology == TopologyPolygon || s.Topology == TopologyLineLoop ||
			s.Topology == TopologyTriangleFan || s.Topology == TopologyTriStripAdj ||
			(s.PrimitiveRestart && info.Family < gfx.FamilyPolaris10 &&
				s.Topology != TopologyPointList && s.Topology != TopologyLineStrip &&
				s.Topology != TopologyTriangleStrip) {
			wd = true
		}
		if info.Family == gfx.FamilyHawaii && s.Instanced {
			wd = true
		}
		if info.Level <= gfx.GFX8 && maxSE == 4 && s.Instanced {
			if s.Indirect || PrimsForVertices(s.Topology, s.VertexCount, s.PatchSize) <= 2*primgroup {
				wd = true
			}
		}
		if s.CountFromStreamout {
			wd = true
		}
	}

	eoi := maxSE > 2 && !wd

	partialVS := wd && (info.Family == gfx.FamilyHawaii || (info.Level == gfx.GFX8 && s.HasGS))
	if wd && s.PrimitiveRestart && s.Topology.IsStrip() {
		partialVS = true
	}
	partialES := eoi && info.Level <= gfx.GFX8

	p := pm4.IAMultiVGTParam{
		PrimgroupSize: primgroup - 1,
		PartialVSWave: partialVS,
		SwitchOnEOP:   wd,
		PartialESWave: partialES,
		SwitchOnEOI:   eoi,
		WDSwitchOnEOP: wd && info.Level >= gfx.GFX7,
	}
	switch {
	case info.Level >= gfx.GFX9:
		p.EnInstOptBasic = true
		p.EnInstOptAdv = true
	case info.Level == gfx.GFX8:
		p.MaxPrimgrpInWave = 2
	}
	return p.Pack()
}

// PolygonMode is the polygon fill mode.
type PolygonMode uint8

// Polygon modes.
const (
	PolygonFill PolygonMode = iota
	PolygonLine
	PolygonPoint
)

// hw translates to PA_SU_SC_MODE_CNTL POLYMODE_*_PTYPE.
func (m PolygonMode) hw() uint32 {
	switch m {
	case PolygonLine:
		return 1
	case PolygonPoint:
		return 0
	default:
		return 2
	}
}

// RasterState is the input to PA_SU_SC_MODE_CNTL.
type RasterState struct {
	CullMode         gputypes.CullMode
	FrontFace        gputypes.FrontFace
	PolygonMode      PolygonMode
	DepthBiasEnable  bool
	ProvokingLast    bool
	MultiPrimIBReset bool
}

// SUSCModeCntl derives PA_SU_SC_MODE_CNTL.
func SUSCModeCntl(level gfx.Level, s RasterState) uint32 {
	poly := s.PolygonMode != PolygonFill
	return pm4.SUSCModeCntl{
		CullFront:        s.CullMode == gputypes.CullModeFront,
		CullBack:         s.CullMode == gputypes.CullModeBack,
		FaceCW:           s.FrontFace == gputypes.FrontFaceCW,
		PolyMode:         poly,
		PolyModeFront:    s.PolygonMode.hw(),
		PolyModeBack:     s.PolygonMode.hw(),
		PolyOffsetFront:  s.DepthBiasEnable,
		PolyOffsetBack:   s.DepthBiasEnable,
		PolyOffsetPara:   s.DepthBiasEnable && poly,
		ProvokingVtxLast: s.ProvokingLast,
		MultiPrimIBEna:   s.MultiPrimIBReset && level < gfx.GFX9,
		KeepTogether:     level >= gfx.GFX10 && poly,
	}.Pack()
}

// ShaderControlState is the input to DB_SHADER_CONTROL derivation.
type ShaderControlState struct {
	Level gfx.Level
	// Base is the value baked into the fragment shader.
	Base uint32
	// HasBase is false when no fragment shader is bound.
	HasBase           bool
	RBPlus            bool
	DepthFeedbackLoop bool
	SmoothLines       bool
	AlphaToCoverage   bool
}

// DBShaderControl derives DB_SHADER_CONTROL. Feedback loops and GFX6
// line smoothing force late Z.
func DBShaderControl(s ShaderControlState) uint32 {
	v := s.Base
	if !s.HasBase {
		v = pm4.ShaderControl{
			ZOrder:          pm4.ZOrderEarlyZThenLate,
			DualQuadDisable: s.RBPlus,
		}.Pack()
	}
	if s.DepthFeedbackLoop || (s.SmoothLines && s.Level == gfx.GFX6) {
		v = v&^(3<<4) | pm4.ZOrderLateZ<<4
	}
	if !s.AlphaToCoverage {
		v |= 1 << 11
	}
	return v
}
