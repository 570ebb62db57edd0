// Package dirty tracks which pieces of command buffer state changed since
// they were last emitted.
//
// Bits 0-49 are one per dynamic state group. Bits 50 and up are structural:
// they cover state that is not settable through a CmdSet* call but whose
// registers are rewritten when the bound pipeline, attachments or buffers
// change.
package dirty

import (
	"math/bits"
	"strings"
)

// Bits is a set of dirty state groups.
type Bits uint64

// Dynamic state groups.
const (
	Viewport Bits = 1 << iota
	Scissor
	LineWidth
	DepthBias
	BlendConstants
	DepthBounds
	StencilCompareMask
	StencilWriteMask
	StencilReference
	DiscardRectangle
	SampleLocations
	LineStipple
	CullMode
	FrontFace
	PrimitiveTopology
	DepthTestEnable
	DepthWriteEnable
	DepthCompareOp
	DepthBoundsTestEnable
	StencilTestEnable
	StencilOp
	VertexInputBindingStride
	FragmentShadingRate
	PatchControlPoints
	RasterizerDiscardEnable
	DepthBiasEnable
	LogicOp
	PrimitiveRestartEnable
	ColorWriteEnable
	VertexInput
	PolygonMode
	TessDomainOrigin
	LogicOpEnable
	LineStippleEnable
	AlphaToCoverageEnable
	SampleMask
	DepthClipEnable
	ConservativeRastMode
	DepthClipNegativeOneToOne
	ProvokingVertexMode
	DepthClampEnable
	ColorWriteMask
	ColorBlendEnable
	RasterizationSamples
	LineRasterizationMode
	ColorBlendEquation
	DiscardRectangleEnable
	DiscardRectangleMode
	AttachmentFeedbackLoopEnable
	SampleLocationsEnable

	// Structural groups.
	Pipeline
	IndexBuffer
	Framebuffer
	VertexBuffer
	StreamoutBuffer
	Guardband
	RBPlus
	ShaderQuery
	OcclusionQuery
	DBShaderControl

	numBits = iota
)

// Masks.
const (
	All        Bits = 1<<numBits - 1
	AllDynamic Bits = Pipeline - 1
	Structural      = All &^ AllDynamic

	// Stencil covers every stencil group.
	Stencil = StencilCompareMask | StencilWriteMask | StencilReference | StencilTestEnable | StencilOp

	// Depth covers DB_DEPTH_CONTROL inputs.
	Depth = DepthTestEnable | DepthWriteEnable | DepthCompareOp | DepthBoundsTestEnable | StencilTestEnable | StencilOp

	// Raster covers PA_SU_SC_MODE_CNTL inputs.
	Raster = CullMode | FrontFace | PolygonMode | DepthBiasEnable | ProvokingVertexMode | LineStippleEnable

	// Clip covers PA_CL_CLIP_CNTL inputs.
	Clip = RasterizerDiscardEnable | DepthClipEnable | DepthClampEnable | DepthClipNegativeOneToOne

	// Blend covers CB_BLENDn_CONTROL and the RB+ optimization inputs.
	Blend = ColorBlendEnable | ColorBlendEquation | ColorWriteMask | LogicOpEnable | AlphaToCoverageEnable

	// MSAA covers PA_SC_AA_CONFIG, DB_EQAA and PA_SC_MODE_CNTL_0 inputs.
	MSAA = RasterizationSamples | LineRasterizationMode | ConservativeRastMode | SampleLocationsEnable | SampleLocations

	// GuardbandInputs re-derive the guardband when changed.
	GuardbandInputs = Viewport | LineWidth | PolygonMode | PrimitiveTopology
)

var names = [numBits]string{
	"viewport",
	"scissor",
	"line_width",
	"depth_bias",
	"blend_constants",
	"depth_bounds",
	"stencil_compare_mask",
	"stencil_write_mask",
	"stencil_reference",
	"discard_rectangle",
	"sample_locations",
	"line_stipple",
	"cull_mode",
	"front_face",
	"primitive_topology",
	"depth_test_enable",
	"depth_write_enable",
	"depth_compare_op",
	"depth_bounds_test_enable",
	"stencil_test_enable",
	"stencil_op",
	"vertex_input_binding_stride",
	"fragment_shading_rate",
	"patch_control_points",
	"rasterizer_discard_enable",
	"depth_bias_enable",
	"logic_op",
	"primitive_restart_enable",
	"color_write_enable",
	"vertex_input",
	"polygon_mode",
	"tess_domain_origin",
	"logic_op_enable",
	"line_stipple_enable",
	"alpha_to_coverage_enable",
	"sample_mask",
	"depth_clip_enable",
	"conservative_rast_mode",
	"depth_clip_negative_one_to_one",
	"provoking_vertex_mode",
	"depth_clamp_enable",
	"color_write_mask",
	"color_blend_enable",
	"rasterization_samples",
	"line_rasterization_mode",
	"color_blend_equation",
	"discard_rectangle_enable",
	"discard_rectangle_mode",
	"attachment_feedback_loop_enable",
	"sample_locations_enable",
	"pipeline",
	"index_buffer",
	"framebuffer",
	"vertex_buffer",
	"streamout_buffer",
	"guardband",
	"rbplus",
	"shader_query",
	"occlusion_query",
	"db_shader_control",
}

// Has reports whether every bit of o is set.
func (b Bits) Has(o Bits) bool { return b&o == o }

// Any reports whether b and o intersect.
func (b Bits) Any(o Bits) bool { return b&o != 0 }

// Count returns the number of set groups.
func (b Bits) Count() int { return bits.OnesCount64(uint64(b)) }

// Each calls fn for every set group in bit order.
func (b Bits) Each(fn func(Bits)) {
	for b != 0 {
		i := bits.TrailingZeros64(uint64(b))
		fn(Bits(1) << i)
		b &^= Bits(1) << i
	}
}

// Name returns the name of a single group, or "" if b is not exactly one
// known group.
func (b Bits) Name() string {
	if b == 0 || b&(b-1) != 0 || b > All {
		return ""
	}
	return names[bits.TrailingZeros64(uint64(b))]
}

// Names returns the names of the set groups in bit order.
func (b Bits) Names() []string {
	out := make([]string, 0, b.Count())
	(b & All).Each(func(g Bits) { out = append(out, g.Name()) })
	return out
}

// String joins the set group names with '|'.
func (b Bits) String() string {
	if b == 0 {
		return "none"
	}
	return strings.Join(b.Names(), "|")
}
