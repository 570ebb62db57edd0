package amdcmd

import (
	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/amdcmd/internal/derive"
	"github.com/gogpu/amdcmd/internal/dirty"
)

// BindPoint selects the pipeline slot and descriptor state a binding
// applies to.
type BindPoint int

// Bind points.
const (
	BindPointGraphics BindPoint = iota
	BindPointCompute
	BindPointRayTracing

	numBindPoints
)

// String returns the bind point name.
func (b BindPoint) String() string {
	switch b {
	case BindPointGraphics:
		return "graphics"
	case BindPointCompute:
		return "compute"
	case BindPointRayTracing:
		return "ray_tracing"
	default:
		return "bindpoint(?)"
	}
}

func (b BindPoint) valid() bool { return b >= 0 && b < numBindPoints }

// GraphicsPipelineDesc describes a graphics pipeline.
//
// Baked state comes from Static when set. Otherwise it is derived from the
// Primitive, DepthStencil, Multisample and Targets fields, with every other
// group at its default.
type GraphicsPipelineDesc struct {
	Vertex      *Shader
	TessControl *Shader
	TessEval    *Shader
	Geometry    *Shader
	Task        *Shader
	Mesh        *Shader
	Fragment    *Shader

	// Dynamic is the set of groups taken from CmdSet* calls instead of
	// the baked state.
	Dynamic DirtyBits
	Static  *DynamicState

	VertexBuffers []gputypes.VertexBufferLayout
	Primitive     gputypes.PrimitiveState
	DepthStencil  *hal.DepthStencilState
	Multisample   gputypes.MultisampleState
	Targets       []gputypes.ColorTargetState

	SampleShading    bool
	MinSampleShading float32

	// StreamoutStrides are the byte strides of the transform feedback
	// buffers the last vertex stage writes.
	StreamoutStrides [MaxStreamoutBuffers]uint32

	// ShadingRate enables per-draw variable rate shading.
	ShadingRate bool
}

// ComputePipelineDesc describes a compute pipeline.
type ComputePipelineDesc struct {
	Compute *Shader
}

// RayTracingPipelineDesc describes a ray tracing pipeline whose stages were
// linked into one compute program.
type RayTracingPipelineDesc struct {
	RayTracing *Shader
}

// Pipeline is an immutable compiled pipeline.
type Pipeline struct {
	bindPoint BindPoint
	shaders   [NumStages]*Shader
	// hw holds the physical shaders in API order, one per hardware stage.
	hw []*Shader

	static  DynamicState
	dynamic dirty.Bits
	needed  dirty.Bits
	state   dirty.PipelineState

	targets          []gputypes.TextureFormat
	sampleShading    bool
	minSampleShading float32
	streamoutStrides [MaxStreamoutBuffers]uint32
}

// BindPoint returns the slot the pipeline binds to.
func (p *Pipeline) BindPoint() BindPoint { return p.bindPoint }

// Shader returns the shader of an API stage, or nil.
func (p *Pipeline) Shader(s Stage) *Shader {
	if s < 0 || s >= NumStages {
		return nil
	}
	return p.shaders[s]
}

// Dynamic returns the groups the pipeline takes from CmdSet* calls.
func (p *Pipeline) Dynamic() DirtyBits { return p.dynamic }

// Needed returns the dynamic groups the pipeline consumes at all.
func (p *Pipeline) Needed() DirtyBits { return p.needed }

// has reports whether API stage s is present.
func (p *Pipeline) has(s Stage) bool { return p.shaders[s] != nil }

// lastVGT returns the last pre-rasterization stage.
func (p *Pipeline) lastVGT() *Shader {
	for _, s := range []Stage{StageGeometry, StageTessEval, StageMesh, StageVertex} {
		if sh := p.shaders[s]; sh != nil {
			return sh
		}
	}
	return nil
}

// firstVGT returns the shader that receives the draw parameters.
func (p *Pipeline) firstVGT() *Shader {
	if sh := p.shaders[StageVertex]; sh != nil {
		return sh
	}
	return p.shaders[StageMesh]
}

// graphicsHW returns the physical shaders that run on the graphics stream.
// The task shader runs on the compute stream.
func (p *Pipeline) graphicsHW() []*Shader {
	out := make([]*Shader, 0, len(p.hw))
	for _, sh := range p.hw {
		if sh.Stage != StageTask {
			out = append(out, sh)
		}
	}
	return out
}

// physicalShaders dedupes stages that run as one hardware stage. Merged
// stages share a HWStage; the last one in API order is the program.
func physicalShaders(shaders *[NumStages]*Shader, stages []Stage) []*Shader {
	var out []*Shader
	seen := map[HWStage]int{}
	for _, st := range stages {
		sh := shaders[st]
		if sh == nil {
			continue
		}
		if sh.Stage == StageTask {
			out = append(out, sh)
			continue
		}
		if i, ok := seen[sh.HWStage]; ok {
			out[i] = sh
			continue
		}
		seen[sh.HWStage] = len(out)
		out = append(out, sh)
	}
	return out
}

func validateGraphics(d *GraphicsPipelineDesc) error {
	switch {
	case d.Vertex == nil && d.Mesh == nil:
		return errors.Wrap(ErrMissingShader, "vertex or mesh shader required")
	case d.Vertex != nil && d.Mesh != nil:
		return errors.Wrap(ErrMissingShader, "vertex and mesh shaders are exclusive")
	case d.Task != nil && d.Mesh == nil:
		return errors.Wrap(ErrMissingShader, "task shader without mesh shader")
	case (d.TessControl == nil) != (d.TessEval == nil):
		return errors.Wrap(ErrMissingShader, "tessellation needs both control and evaluation shaders")
	case d.Mesh != nil && (d.TessControl != nil || d.Geometry != nil):
		return errors.Wrap(ErrMissingShader, "mesh pipelines have no tessellation or geometry stage")
	}
	return nil
}

// CreateGraphicsPipeline builds a graphics pipeline.
func (d *Device) CreateGraphicsPipeline(desc *GraphicsPipelineDesc) (*Pipeline, error) {
	if err := validateGraphics(desc); err != nil {
		return nil, err
	}
	if (desc.Mesh != nil || desc.Task != nil) && !d.info.Level.HasMeshShading() {
		return nil, errors.Wrapf(ErrUnsupported, "mesh shading on %s", d.info.Level)
	}
	if len(desc.Targets) > MaxColorAttachments {
		return nil, ErrTooManyAttachments
	}

	p := &Pipeline{
		bindPoint:        BindPointGraphics,
		dynamic:          desc.Dynamic & dirty.AllDynamic,
		sampleShading:    desc.SampleShading,
		minSampleShading: desc.MinSampleShading,
		streamoutStrides: desc.StreamoutStrides,
	}
	p.shaders[StageVertex] = desc.Vertex
	p.shaders[StageTessControl] = desc.TessControl
	p.shaders[StageTessEval] = desc.TessEval
	p.shaders[StageGeometry] = desc.Geometry
	p.shaders[StageTask] = desc.Task
	p.shaders[StageMesh] = desc.Mesh
	p.shaders[StageFragment] = desc.Fragment
	p.hw = physicalShaders(&p.shaders, graphicsStages)

	for _, t := range desc.Targets {
		p.targets = append(p.targets, t.Format)
	}

	if desc.Static != nil {
		p.static = *desc.Static
		p.static.VertexInput = desc.Static.VertexInput.clone()
	} else {
		p.static = staticFromDesc(desc)
	}
	if !d.info.Level.HasVRS() {
		p.dynamic &^= dirty.FragmentShadingRate
	}
	p.needed = p.neededState(desc, d.info)
	p.state = p.pipelineState(desc)
	return p, nil
}

// CreateComputePipeline builds a compute pipeline.
func (d *Device) CreateComputePipeline(desc *ComputePipelineDesc) (*Pipeline, error) {
	if desc.Compute == nil {
		return nil, errors.Wrap(ErrMissingShader, "compute shader required")
	}
	if desc.Compute.HWStage != HWStageCS {
		return nil, errors.Wrapf(ErrInvalidBindPoint, "compute shader compiled for hardware stage %d", desc.Compute.HWStage)
	}
	p := &Pipeline{bindPoint: BindPointCompute}
	p.shaders[StageCompute] = desc.Compute
	p.hw = []*Shader{desc.Compute}
	return p, nil
}

// CreateRayTracingPipeline builds a ray tracing pipeline.
func (d *Device) CreateRayTracingPipeline(desc *RayTracingPipelineDesc) (*Pipeline, error) {
	sh := desc.RayTracing
	if sh == nil {
		return nil, errors.Wrap(ErrMissingShader, "ray tracing shader required")
	}
	if sh.HWStage != HWStageCS {
		return nil, errors.Wrapf(ErrInvalidBindPoint, "ray tracing shader compiled for hardware stage %d", sh.HWStage)
	}
	if !d.info.Level.HasRayTracing() {
		return nil, errors.Wrapf(ErrUnsupported, "ray tracing on %s", d.info.Level)
	}
	p := &Pipeline{bindPoint: BindPointRayTracing}
	p.shaders[StageRayTracing] = sh
	p.hw = []*Shader{sh}
	return p, nil
}

// staticFromDesc derives the baked state from the WebGPU-style fields.
func staticFromDesc(desc *GraphicsPipelineDesc) DynamicState {
	s := DefaultDynamicState()
	s.Topology = derive.TopologyFromGPU(desc.Primitive.Topology)
	s.CullMode = desc.Primitive.CullMode
	if desc.Primitive.FrontFace == gputypes.FrontFaceCW {
		s.FrontFace = gputypes.FrontFaceCW
	}

	if ds := desc.DepthStencil; ds != nil {
		cmp := ds.DepthCompare
		if cmp == gputypes.CompareFunctionUndefined {
			cmp = gputypes.CompareFunctionAlways
		}
		s.DepthCompare = cmp
		s.DepthWriteEnable = ds.DepthWriteEnabled
		s.DepthTestEnable = cmp != gputypes.CompareFunctionAlways || ds.DepthWriteEnabled
		s.StencilFront = StencilFace{State: ds.StencilFront, CompareMask: ds.StencilReadMask & 0xFF, WriteMask: ds.StencilWriteMask & 0xFF}
		s.StencilBack = StencilFace{State: ds.StencilBack, CompareMask: ds.StencilReadMask & 0xFF, WriteMask: ds.StencilWriteMask & 0xFF}
		s.StencilTestEnable = stencilActive(ds.StencilFront) || stencilActive(ds.StencilBack)
	}

	s.RasterizationSamples = max(desc.Multisample.Count, 1)
	if desc.Multisample.Mask != 0 {
		s.SampleMask = uint32(desc.Multisample.Mask & 0xFFFF)
	}

	for i, t := range desc.Targets {
		s.ColorWriteMasks[i] = uint32(t.WriteMask) & 0xF
		if t.Blend != nil {
			s.ColorBlendEnable |= 1 << i
			s.ColorBlendEquations[i] = derive.EquationFromGPU(t.Blend)
		}
	}

	if len(desc.VertexBuffers) > 0 {
		vi := &VertexInput{}
		for i, l := range desc.VertexBuffers {
			if i >= MaxVertexBindings {
				break
			}
			// #nosec G115 -- bounded by MaxVertexBindings
			b := uint32(i)
			// #nosec G115 -- vertex strides are far below 4 GiB
			stride := uint32(l.ArrayStride)
			s.VertexStrides[i] = stride
			vi.Bindings = append(vi.Bindings, VertexBinding{
				Binding:   b,
				Stride:    stride,
				Instanced: l.StepMode == gputypes.VertexStepModeInstance,
			})
			for _, a := range l.Attributes {
				vi.Attributes = append(vi.Attributes, VertexAttribute{
					Location: a.ShaderLocation,
					Binding:  b,
					Format:   a.Format,
					// #nosec G115 -- attribute offsets are below the stride
					Offset: uint32(a.Offset),
				})
			}
		}
		s.VertexInput = vi
	}
	return s
}

func stencilActive(f hal.StencilFaceState) bool {
	cmp := f.Compare
	if cmp != gputypes.CompareFunctionAlways && cmp != gputypes.CompareFunctionUndefined {
		return true
	}
	return f.FailOp != hal.StencilOperationKeep || f.DepthFailOp != hal.StencilOperationKeep ||
		f.PassOp != hal.StencilOperationKeep
}

// Groups a pipeline with static rasterizer discard still consumes.
const discardNeeded = dirty.PrimitiveTopology | dirty.PrimitiveRestartEnable | dirty.VertexInput |
	dirty.VertexInputBindingStride | dirty.PatchControlPoints | dirty.TessDomainOrigin |
	dirty.RasterizerDiscardEnable | dirty.DepthClipEnable | dirty.DepthClampEnable |
	dirty.DepthClipNegativeOneToOne | dirty.ProvokingVertexMode

// neededState drops the groups the pipeline never reads.
func (p *Pipeline) neededState(desc *GraphicsPipelineDesc, info ChipInfo) dirty.Bits {
	dyn := func(b dirty.Bits) bool { return p.dynamic.Any(b) }
	s := &p.static

	if !dyn(dirty.RasterizerDiscardEnable) && s.RasterizerDiscardEnable {
		return discardNeeded & p.preRasterNeeded()
	}

	n := dirty.AllDynamic
	if !dyn(dirty.DepthBiasEnable) && !s.DepthBiasEnable {
		n &^= dirty.DepthBias
	}
	if !dyn(dirty.DepthBoundsTestEnable) && !s.DepthBoundsTestEnable {
		n &^= dirty.DepthBounds
	}
	if !dyn(dirty.StencilTestEnable) && !s.StencilTestEnable {
		n &^= dirty.StencilCompareMask | dirty.StencilWriteMask | dirty.StencilReference
	}
	if !dyn(dirty.DiscardRectangle|dirty.DiscardRectangleEnable) && s.DiscardRectCount == 0 {
		n &^= dirty.DiscardRectangle
	}
	if !dyn(dirty.SampleLocationsEnable) && !s.SampleLocationsEnable {
		n &^= dirty.SampleLocations
	}
	if !dyn(dirty.LineStippleEnable) && !s.LineStippleEnable {
		n &^= dirty.LineStipple
	}
	if !desc.ShadingRate || !info.Level.HasVRS() {
		n &^= dirty.FragmentShadingRate
	}
	if !dyn(dirty.ColorBlendEquation|dirty.ColorBlendEnable) && !p.readsBlendConstants() {
		n &^= dirty.BlendConstants
	}
	if p.shaders[StageFragment] == nil {
		n &^= dirty.BlendConstants | dirty.ColorWriteMask | dirty.ColorBlendEnable |
			dirty.ColorBlendEquation | dirty.LogicOp | dirty.LogicOpEnable | dirty.AlphaToCoverageEnable
	}
	if !info.Level.HasBinning() {
		n &^= dirty.ConservativeRastMode
	}
	return n & p.preRasterNeeded()
}

// preRasterNeeded masks out the vertex input and tessellation groups the
// pipeline's geometry front end does not have.
func (p *Pipeline) preRasterNeeded() dirty.Bits {
	n := dirty.AllDynamic
	if !p.has(StageTessControl) {
		n &^= dirty.PatchControlPoints | dirty.TessDomainOrigin
	}
	vs := p.shaders[StageVertex]
	if vs == nil {
		n &^= dirty.VertexInput | dirty.VertexInputBindingStride | dirty.PrimitiveRestartEnable
	} else if !vs.NeedsProlog {
		n &^= dirty.VertexInput
	}
	return n
}

func (p *Pipeline) readsBlendConstants() bool {
	for i := range MaxColorAttachments {
		eq := p.static.ColorBlendEquations[i]
		if p.static.ColorBlendEnable&(1<<i) != 0 && eq.UsesConstants() {
			return true
		}
	}
	return false
}

// rastPrim returns the primitive class the rasterizer receives.
func (p *Pipeline) rastPrim() uint32 {
	switch {
	case p.has(StageGeometry):
		return p.shaders[StageGeometry].OutPrim
	case p.has(StageMesh):
		return p.shaders[StageMesh].OutPrim
	case p.has(StageTessEval):
		if p.shaders[StageTessEval].TessDomain == TessIsolines {
			return derive.OutPrimLines
		}
		return derive.OutPrimTriangles
	default:
		return p.static.Topology.OutPrim()
	}
}

// exportFormats returns the static SPI export format of every target.
func (p *Pipeline) exportFormats(eqs *[MaxColorAttachments]BlendEquation, enable uint32) []uint32 {
	fs := p.shaders[StageFragment]
	out := make([]uint32, len(p.targets))
	for i, f := range p.targets {
		cf, ok := derive.LookupColor(f)
		if !ok || fs == nil || fs.ColorOutputs&(1<<i) == 0 {
			continue
		}
		alpha := enable&(1<<i) != 0 && eqs[i].ReadsSrcAlpha()
		out[i] = derive.SPIColorFormat(cf, alpha)
	}
	return out
}

func cbShaderMask(formats []uint32) uint32 {
	var m uint32
	for i, f := range formats {
		if f != derive.SPIExportZero {
			m |= 0xF << (4 * i)
		}
	}
	return m
}

// pipelineState summarizes what a bind of p dirties.
func (p *Pipeline) pipelineState(desc *GraphicsPipelineDesc) dirty.PipelineState {
	st := dirty.PipelineState{
		Dynamic:     p.dynamic,
		Needed:      p.needed,
		RastPrim:    p.rastPrim(),
		HasTess:     p.has(StageTessControl),
		HasMesh:     p.has(StageMesh),
		UsesVRS:     desc.ShadingRate,
		MSAAEnabled: p.static.RasterizationSamples > 1,
	}
	if last := p.lastVGT(); last != nil {
		st.IsNGG = last.NGG
		st.NeedsStreamout = last.Streamout
	}
	if vs := p.shaders[StageVertex]; vs != nil {
		st.HasDynamicVS = vs.NeedsProlog
	}
	if first := p.firstVGT(); first != nil {
		loc := first.Loc(SGPRBaseVertex)
		st.VtxEmitNum = uint32(loc.Count)
		st.VtxBaseSGPR = uint32(loc.SGPR)
	}
	if fs := p.shaders[StageFragment]; fs != nil {
		st.DBShaderControl = fs.DBShaderControl
		st.PSIterSamples = derive.PSIterSamples(p.sampleShading || fs.SampleShading, p.minSampleShading,
			p.static.RasterizationSamples, p.static.RasterizationSamples)
		if !fs.NeedsEpilog {
			formats := p.exportFormats(&p.static.ColorBlendEquations, p.static.ColorBlendEnable)
			st.ColFormat = derive.PackColFormats(formats)
			st.CBShaderMask = cbShaderMask(formats)
		}
	}
	return st
}
