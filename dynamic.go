package amdcmd

import (
	"slices"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/amdcmd/internal/derive"
	"github.com/gogpu/amdcmd/internal/dirty"
)

// StencilFace is the stencil state of one face. State carries the compare
// function and the three ops; the masks and reference are set separately.
type StencilFace struct {
	State       hal.StencilFaceState
	CompareMask uint32
	WriteMask   uint32
	Reference   uint32
}

// StencilFaces selects the faces a stencil setter updates.
type StencilFaces uint8

// Stencil face masks.
const (
	StencilFaceFront StencilFaces = 1 << iota
	StencilFaceBack

	StencilFaceFrontAndBack = StencilFaceFront | StencilFaceBack
)

// LogicOp is a framebuffer logic operation, in Vulkan order.
type LogicOp uint8

// Logic operations.
const (
	LogicOpClear LogicOp = iota
	LogicOpAnd
	LogicOpAndReverse
	LogicOpCopy
	LogicOpAndInverted
	LogicOpNoOp
	LogicOpXor
	LogicOpOr
	LogicOpNor
	LogicOpEquivalent
	LogicOpInvert
	LogicOpOrReverse
	LogicOpCopyInverted
	LogicOpOrInverted
	LogicOpNand
	LogicOpSet
)

var rop3Codes = [...]uint32{
	LogicOpClear:        0x00,
	LogicOpAnd:          0x88,
	LogicOpAndReverse:   0x44,
	LogicOpCopy:         0xCC,
	LogicOpAndInverted:  0x22,
	LogicOpNoOp:         0xAA,
	LogicOpXor:          0x66,
	LogicOpOr:           0xEE,
	LogicOpNor:          0x11,
	LogicOpEquivalent:   0x99,
	LogicOpInvert:       0x55,
	LogicOpOrReverse:    0xDD,
	LogicOpCopyInverted: 0x33,
	LogicOpOrInverted:   0xBB,
	LogicOpNand:         0x77,
	LogicOpSet:          0xFF,
}

// rop3 returns the CB_COLOR_CONTROL ROP3 code.
func (o LogicOp) rop3() uint32 {
	if int(o) < len(rop3Codes) {
		return rop3Codes[o]
	}
	return rop3Codes[LogicOpCopy]
}

// VertexBinding is one binding of a dynamic vertex input state.
type VertexBinding struct {
	Binding   uint32
	Stride    uint32
	Instanced bool
	// Divisor is the instance divisor of instanced bindings. Zero is
	// treated as one.
	Divisor uint32
}

// VertexAttribute is one attribute of a dynamic vertex input state.
type VertexAttribute struct {
	Location uint32
	Binding  uint32
	Format   gputypes.VertexFormat
	Offset   uint32
}

// VertexInput is the vertex input state, static in a pipeline or set with
// CmdSetVertexInput.
type VertexInput struct {
	Bindings   []VertexBinding
	Attributes []VertexAttribute
}

func (v *VertexInput) equal(o *VertexInput) bool {
	if v == nil || o == nil {
		return v == o
	}
	return slices.Equal(v.Bindings, o.Bindings) && slices.Equal(v.Attributes, o.Attributes)
}

func (v *VertexInput) clone() *VertexInput {
	if v == nil {
		return nil
	}
	return &VertexInput{
		Bindings:   slices.Clone(v.Bindings),
		Attributes: slices.Clone(v.Attributes),
	}
}

// binding returns the binding description with index b.
func (v *VertexInput) binding(b uint32) (VertexBinding, bool) {
	if v == nil {
		return VertexBinding{}, false
	}
	for _, vb := range v.Bindings {
		if vb.Binding == b {
			return vb, true
		}
	}
	return VertexBinding{}, false
}

// DynamicState is the logical value of every independently settable piece
// of graphics state. It always holds the current value, emitted or not.
type DynamicState struct {
	ViewportCount uint32
	Viewports     [MaxViewports]Viewport
	ScissorCount  uint32
	Scissors      [MaxViewports]Rect

	LineWidth      float32
	DepthBias      DepthBias
	BlendConstants [4]float32
	DepthBoundsMin float32
	DepthBoundsMax float32

	StencilFront StencilFace
	StencilBack  StencilFace

	DiscardRectCount     uint32
	DiscardRects         [MaxDiscardRectangles]Rect
	DiscardRectEnable    bool
	DiscardRectInclusive bool

	SampleLocations       SampleLocations
	SampleLocationsEnable bool

	LineStippleFactor  uint32
	LineStipplePattern uint16
	LineStippleEnable  bool

	CullMode  gputypes.CullMode
	FrontFace gputypes.FrontFace
	Topology  Topology

	DepthTestEnable       bool
	DepthWriteEnable      bool
	DepthCompare          gputypes.CompareFunction
	DepthBoundsTestEnable bool
	StencilTestEnable     bool

	VertexStrides [MaxVertexBindings]uint32
	VertexInput   *VertexInput

	ShadingRate        ShadingRate
	PatchControlPoints uint32

	RasterizerDiscardEnable bool
	DepthBiasEnable         bool
	LogicOp                 LogicOp
	LogicOpEnable           bool
	PrimitiveRestartEnable  bool
	// ColorWriteEnable has one bit per color target.
	ColorWriteEnable uint32

	PolygonMode         PolygonMode
	TessDomainUpperLeft bool

	AlphaToCoverageEnable bool
	SampleMask            uint32

	DepthClipEnable           bool
	DepthClampEnable          bool
	DepthClipNegativeOneToOne bool
	ConservativeMode          ConservativeMode
	ProvokingLast             bool

	// ColorWriteMasks holds a 4-bit RGBA mask per color target.
	ColorWriteMasks [MaxColorAttachments]uint32
	// ColorBlendEnable has one bit per color target.
	ColorBlendEnable    uint32
	ColorBlendEquations [MaxColorAttachments]BlendEquation

	RasterizationSamples uint32
	LineMode             LineMode
	// FeedbackLoopAspects is the mask of attachment aspects read by the
	// fragment shader while being rendered to.
	FeedbackLoopAspects ImageAspect
}

// DefaultDynamicState returns the state a command buffer starts with.
func DefaultDynamicState() DynamicState {
	face := StencilFace{
		State: hal.StencilFaceState{
			Compare:     gputypes.CompareFunctionAlways,
			FailOp:      hal.StencilOperationKeep,
			DepthFailOp: hal.StencilOperationKeep,
			PassOp:      hal.StencilOperationKeep,
		},
		CompareMask: 0xFF,
		WriteMask:   0xFF,
	}
	d := DynamicState{
		LineWidth:            1,
		DepthBoundsMax:       1,
		StencilFront:         face,
		StencilBack:          face,
		CullMode:             gputypes.CullModeNone,
		FrontFace:            gputypes.FrontFaceCCW,
		Topology:             TopologyTriangleList,
		DepthCompare:         gputypes.CompareFunctionAlways,
		PatchControlPoints:   3,
		LogicOp:              LogicOpCopy,
		ColorWriteEnable:     0xFF,
		SampleMask:           0xFFFF,
		DepthClipEnable:      true,
		RasterizationSamples: 1,
	}
	for i := range d.ColorWriteMasks {
		d.ColorWriteMasks[i] = 0xF
	}
	for i := range d.ColorBlendEquations {
		d.ColorBlendEquations[i] = BlendEquation{
			ColorSrc: derive.BlendOne, ColorDst: derive.BlendZero, ColorOp: derive.CombAdd,
			AlphaSrc: derive.BlendOne, AlphaDst: derive.BlendZero, AlphaOp: derive.CombAdd,
		}
	}
	return d
}

// groupCopy copies the fields of one dirty group from src to dst and
// reports whether dst changed.
type groupCopy func(dst, src *DynamicState) bool

func assign[T comparable](dst *T, v T) bool {
	if *dst == v {
		return false
	}
	*dst = v
	return true
}

var groupCopies = map[dirty.Bits]groupCopy{
	dirty.Viewport: func(d, s *DynamicState) bool {
		c := assign(&d.ViewportCount, s.ViewportCount)
		return assign(&d.Viewports, s.Viewports) || c
	},
	dirty.Scissor: func(d, s *DynamicState) bool {
		c := assign(&d.ScissorCount, s.ScissorCount)
		return assign(&d.Scissors, s.Scissors) || c
	},
	dirty.LineWidth:      func(d, s *DynamicState) bool { return assign(&d.LineWidth, s.LineWidth) },
	dirty.DepthBias:      func(d, s *DynamicState) bool { return assign(&d.DepthBias, s.DepthBias) },
	dirty.BlendConstants: func(d, s *DynamicState) bool { return assign(&d.BlendConstants, s.BlendConstants) },
	dirty.DepthBounds: func(d, s *DynamicState) bool {
		c := assign(&d.DepthBoundsMin, s.DepthBoundsMin)
		return assign(&d.DepthBoundsMax, s.DepthBoundsMax) || c
	},
	dirty.StencilCompareMask: func(d, s *DynamicState) bool {
		c := assign(&d.StencilFront.CompareMask, s.StencilFront.CompareMask)
		return assign(&d.StencilBack.CompareMask, s.StencilBack.CompareMask) || c
	},
	dirty.StencilWriteMask: func(d, s *DynamicState) bool {
		c := assign(&d.StencilFront.WriteMask, s.StencilFront.WriteMask)
		return assign(&d.StencilBack.WriteMask, s.StencilBack.WriteMask) || c
	},
	dirty.StencilReference: func(d, s *DynamicState) bool {
		c := assign(&d.StencilFront.Reference, s.StencilFront.Reference)
		return assign(&d.StencilBack.Reference, s.StencilBack.Reference) || c
	},
	dirty.StencilOp: func(d, s *DynamicState) bool {
		c := assign(&d.StencilFront.State, s.StencilFront.State)
		return assign(&d.StencilBack.State, s.StencilBack.State) || c
	},
	dirty.DiscardRectangle: func(d, s *DynamicState) bool {
		c := assign(&d.DiscardRectCount, s.DiscardRectCount)
		return assign(&d.DiscardRects, s.DiscardRects) || c
	},
	dirty.DiscardRectangleEnable: func(d, s *DynamicState) bool { return assign(&d.DiscardRectEnable, s.DiscardRectEnable) },
	dirty.DiscardRectangleMode: func(d, s *DynamicState) bool {
		return assign(&d.DiscardRectInclusive, s.DiscardRectInclusive)
	},
	dirty.SampleLocations: func(d, s *DynamicState) bool {
		if sameSampleLocations(d.SampleLocations, s.SampleLocations) {
			return false
		}
		d.SampleLocations = s.SampleLocations
		d.SampleLocations.Locations = slices.Clone(s.SampleLocations.Locations)
		return true
	},
	dirty.SampleLocationsEnable: func(d, s *DynamicState) bool {
		return assign(&d.SampleLocationsEnable, s.SampleLocationsEnable)
	},
	dirty.LineStipple: func(d, s *DynamicState) bool {
		c := assign(&d.LineStippleFactor, s.LineStippleFactor)
		return assign(&d.LineStipplePattern, s.LineStipplePattern) || c
	},
	dirty.LineStippleEnable:     func(d, s *DynamicState) bool { return assign(&d.LineStippleEnable, s.LineStippleEnable) },
	dirty.CullMode:              func(d, s *DynamicState) bool { return assign(&d.CullMode, s.CullMode) },
	dirty.FrontFace:             func(d, s *DynamicState) bool { return assign(&d.FrontFace, s.FrontFace) },
	dirty.PrimitiveTopology:     func(d, s *DynamicState) bool { return assign(&d.Topology, s.Topology) },
	dirty.DepthTestEnable:       func(d, s *DynamicState) bool { return assign(&d.DepthTestEnable, s.DepthTestEnable) },
	dirty.DepthWriteEnable:      func(d, s *DynamicState) bool { return assign(&d.DepthWriteEnable, s.DepthWriteEnable) },
	dirty.DepthCompareOp:        func(d, s *DynamicState) bool { return assign(&d.DepthCompare, s.DepthCompare) },
	dirty.DepthBoundsTestEnable: func(d, s *DynamicState) bool { return assign(&d.DepthBoundsTestEnable, s.DepthBoundsTestEnable) },
	dirty.StencilTestEnable:     func(d, s *DynamicState) bool { return assign(&d.StencilTestEnable, s.StencilTestEnable) },
	dirty.VertexInputBindingStride: func(d, s *DynamicState) bool {
		return assign(&d.VertexStrides, s.VertexStrides)
	},
	dirty.VertexInput: func(d, s *DynamicState) bool {
		if d.VertexInput.equal(s.VertexInput) {
			return false
		}
		d.VertexInput = s.VertexInput.clone()
		return true
	},
	dirty.FragmentShadingRate:     func(d, s *DynamicState) bool { return assign(&d.ShadingRate, s.ShadingRate) },
	dirty.PatchControlPoints:      func(d, s *DynamicState) bool { return assign(&d.PatchControlPoints, s.PatchControlPoints) },
	dirty.RasterizerDiscardEnable: func(d, s *DynamicState) bool { return assign(&d.RasterizerDiscardEnable, s.RasterizerDiscardEnable) },
	dirty.DepthBiasEnable:         func(d, s *DynamicState) bool { return assign(&d.DepthBiasEnable, s.DepthBiasEnable) },
	dirty.LogicOp:                 func(d, s *DynamicState) bool { return assign(&d.LogicOp, s.LogicOp) },
	dirty.LogicOpEnable:           func(d, s *DynamicState) bool { return assign(&d.LogicOpEnable, s.LogicOpEnable) },
	dirty.PrimitiveRestartEnable:  func(d, s *DynamicState) bool { return assign(&d.PrimitiveRestartEnable, s.PrimitiveRestartEnable) },
	dirty.ColorWriteEnable:        func(d, s *DynamicState) bool { return assign(&d.ColorWriteEnable, s.ColorWriteEnable) },
	dirty.PolygonMode:             func(d, s *DynamicState) bool { return assign(&d.PolygonMode, s.PolygonMode) },
	dirty.TessDomainOrigin:        func(d, s *DynamicState) bool { return assign(&d.TessDomainUpperLeft, s.TessDomainUpperLeft) },
	dirty.AlphaToCoverageEnable:   func(d, s *DynamicState) bool { return assign(&d.AlphaToCoverageEnable, s.AlphaToCoverageEnable) },
	dirty.SampleMask:              func(d, s *DynamicState) bool { return assign(&d.SampleMask, s.SampleMask) },
	dirty.DepthClipEnable:         func(d, s *DynamicState) bool { return assign(&d.DepthClipEnable, s.DepthClipEnable) },
	dirty.DepthClampEnable:        func(d, s *DynamicState) bool { return assign(&d.DepthClampEnable, s.DepthClampEnable) },
	dirty.DepthClipNegativeOneToOne: func(d, s *DynamicState) bool {
		return assign(&d.DepthClipNegativeOneToOne, s.DepthClipNegativeOneToOne)
	},
	dirty.ConservativeRastMode:  func(d, s *DynamicState) bool { return assign(&d.ConservativeMode, s.ConservativeMode) },
	dirty.ProvokingVertexMode:   func(d, s *DynamicState) bool { return assign(&d.ProvokingLast, s.ProvokingLast) },
	dirty.ColorWriteMask:        func(d, s *DynamicState) bool { return assign(&d.ColorWriteMasks, s.ColorWriteMasks) },
	dirty.ColorBlendEnable:      func(d, s *DynamicState) bool { return assign(&d.ColorBlendEnable, s.ColorBlendEnable) },
	dirty.ColorBlendEquation:    func(d, s *DynamicState) bool { return assign(&d.ColorBlendEquations, s.ColorBlendEquations) },
	dirty.RasterizationSamples:  func(d, s *DynamicState) bool { return assign(&d.RasterizationSamples, s.RasterizationSamples) },
	dirty.LineRasterizationMode: func(d, s *DynamicState) bool { return assign(&d.LineMode, s.LineMode) },
	dirty.AttachmentFeedbackLoopEnable: func(d, s *DynamicState) bool {
		return assign(&d.FeedbackLoopAspects, s.FeedbackLoopAspects)
	},
}

func sameSampleLocations(a, b SampleLocations) bool {
	return a.PerPixel == b.PerPixel && a.GridWidth == b.GridWidth &&
		a.GridHeight == b.GridHeight && slices.Equal(a.Locations, b.Locations)
}

// copyStatic installs the groups of src into d and returns the groups
// whose value changed.
func (d *DynamicState) copyStatic(src *DynamicState, groups dirty.Bits) dirty.Bits {
	var changed dirty.Bits
	groups.Each(func(g dirty.Bits) {
		if cp, ok := groupCopies[g]; ok && cp(d, src) {
			changed |= g
		}
	})
	return changed
}

// viewports returns the active viewports.
func (d *DynamicState) viewports() []Viewport { return d.Viewports[:d.ViewportCount] }

// scissors returns the active scissors.
func (d *DynamicState) scissors() []Rect { return d.Scissors[:d.ScissorCount] }

// lines reports whether the rasterized primitive is a line given the
// primitive the last vertex stage outputs.
func (d *DynamicState) lines(outPrim uint32) bool {
	return outPrim == derive.OutPrimLines || d.PolygonMode == PolygonLine
}

// points reports whether points are rasterized.
func (d *DynamicState) points(outPrim uint32) bool {
	return outPrim == derive.OutPrimPoints || d.PolygonMode == PolygonPoint
}

// Hardware compare functions.
const (
	hwCompareNever uint32 = iota
	hwCompareLess
	hwCompareEqual
	hwCompareLessEqual
	hwCompareGreater
	hwCompareNotEqual
	hwCompareGreaterEqual
	hwCompareAlways
)

func hwCompare(f gputypes.CompareFunction) uint32 {
	switch f {
	case gputypes.CompareFunctionNever:
		return hwCompareNever
	case gputypes.CompareFunctionLess:
		return hwCompareLess
	case gputypes.CompareFunctionEqual:
		return hwCompareEqual
	case gputypes.CompareFunctionLessEqual:
		return hwCompareLessEqual
	case gputypes.CompareFunctionGreater:
		return hwCompareGreater
	case gputypes.CompareFunctionNotEqual:
		return hwCompareNotEqual
	case gputypes.CompareFunctionGreaterEqual:
		return hwCompareGreaterEqual
	default:
		return hwCompareAlways
	}
}

// Hardware stencil ops.
const (
	hwStencilKeep     uint32 = 0
	hwStencilZero     uint32 = 1
	hwStencilReplace  uint32 = 3
	hwStencilAddClamp uint32 = 5
	hwStencilSubClamp uint32 = 6
	hwStencilInvert   uint32 = 7
	hwStencilAddWrap  uint32 = 8
	hwStencilSubWrap  uint32 = 9
)

func hwStencilOp(op hal.StencilOperation) uint32 {
	switch op {
	case hal.StencilOperationZero:
		return hwStencilZero
	case hal.StencilOperationReplace:
		return hwStencilReplace
	case hal.StencilOperationIncrementClamp:
		return hwStencilAddClamp
	case hal.StencilOperationDecrementClamp:
		return hwStencilSubClamp
	case hal.StencilOperationInvert:
		return hwStencilInvert
	case hal.StencilOperationIncrementWrap:
		return hwStencilAddWrap
	case hal.StencilOperationDecrementWrap:
		return hwStencilSubWrap
	default:
		return hwStencilKeep
	}
}
