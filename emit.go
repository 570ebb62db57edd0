package amdcmd

import (
	"cmp"
	"math"
	"slices"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/amdcmd/internal/derive"
	"github.com/gogpu/amdcmd/internal/dirty"
	"github.com/gogpu/amdcmd/internal/gfx"
	"github.com/gogpu/amdcmd/internal/pm4"
)

// cached is a register value the command buffer remembers to avoid
// writing it twice.
type cached[T comparable] struct {
	v  T
	ok bool
}

// update stores v and reports whether it differs from the stored value.
func (c *cached[T]) update(v T) bool {
	if c.ok && c.v == v {
		return false
	}
	c.v, c.ok = v, true
	return true
}

// lastEmitted holds the non-context values that are cheaper to compare
// than to rewrite.
type lastEmitted struct {
	instances    cached[uint32]
	indexType    cached[uint32]
	drawParams   cached[[3]uint32]
	primType     cached[uint32]
	iaParam      cached[uint32]
	restart      cached[uint32]
	vrsRate      cached[uint32]
	computeStart cached[[3]uint32]
}

// DB_RENDER_OVERRIDE.DISABLE_VIEWPORT_CLAMP.
const dbDisableViewportClamp uint32 = 1 << 20

// setContextReg writes a context register unless it already holds v.
func (cb *CommandBuffer) setContextReg(reg, v uint32) {
	if old, ok := cb.shadow[reg]; ok && old == v {
		return
	}
	cb.shadow[reg] = v
	pm4.SetContextReg(cb.cs, reg, v)
}

// setContextRegSeq writes a run of context registers unless every one of
// them already holds its value.
func (cb *CommandBuffer) setContextRegSeq(reg uint32, vals ...uint32) {
	if len(vals) == 0 {
		return
	}
	same := true
	for i, v := range vals {
		if old, ok := cb.shadow[reg+4*uint32(i)]; !ok || old != v {
			same = false
			break
		}
	}
	if same {
		return
	}
	cb.forceContextRegSeq(reg, vals...)
}

// forceContextRegSeq writes a run of context registers unconditionally.
func (cb *CommandBuffer) forceContextRegSeq(reg uint32, vals ...uint32) {
	for i, v := range vals {
		cb.shadow[reg+4*uint32(i)] = v
	}
	pm4.SetContextRegSeq(cb.cs, reg, vals...)
}

// CmdBindPipeline binds a graphics, compute or ray tracing pipeline. Binding
// the pipeline already bound is a no-op.
func (cb *CommandBuffer) CmdBindPipeline(p *Pipeline) error {
	if err := cb.check(); err != nil {
		return err
	}
	if p == nil {
		return errors.Wrap(ErrNoPipeline, "binding a nil pipeline")
	}

	switch p.bindPoint {
	case BindPointCompute:
		if cb.compute == p {
			return nil
		}
		cb.compute = p
		cb.pendingPrefetch |= prefetchCompute
	case BindPointRayTracing:
		if cb.rt == p {
			return nil
		}
		cb.rt = p
		cb.pendingPrefetch |= prefetchCompute
	case BindPointGraphics:
		if cb.family != QueueFamilyGeneral {
			return errors.Wrapf(ErrInvalidBindPoint, "graphics pipeline on queue family %d", cb.family)
		}
		if cb.graphics == p {
			return nil
		}
		var prev *dirty.PipelineState
		if cb.graphics != nil {
			prev = &cb.graphics.state
		}
		d := dirty.Diff(prev, &p.state)
		d |= cb.state.copyStatic(&p.static, dirty.AllDynamic&^p.dynamic)
		// New shaders read user data from new SGPRs.
		d |= dirty.VertexBuffer | dirty.StreamoutBuffer
		cb.dirty |= d
		cb.graphics = p
		cb.last.drawParams = cached[[3]uint32]{}

		cb.pendingPrefetch |= prefetchFirstStage
		if len(p.hw) > 1 {
			cb.pendingPrefetch |= prefetchShaders
		}
		if p.has(StageTask) {
			if err := cb.gang.Init(); err != nil {
				cb.recordError(errors.Mark(err, ErrOutOfHostMemory))
				return cb.err
			}
			cb.req.Gang = true
		}
		cb.logger.Debug("amdcmd: graphics pipeline bound", "dirty", d.String())
	default:
		return errors.Wrapf(ErrInvalidBindPoint, "bind point %d", p.bindPoint)
	}

	cb.descriptors[p.bindPoint].invalidate()
	cb.push[p.bindPoint].dirty = true
	for _, sh := range p.hw {
		cb.req.addShader(sh)
		cb.addBuffer(sh.BO)
	}
	return nil
}

// emitter writes the registers derived from a set of dirty groups.
type emitter struct {
	groups dirty.Bits
	emit   func(cb *CommandBuffer)
}

// graphicsEmitters run in order. Later emitters may read state that
// earlier ones derived.
var graphicsEmitters = []emitter{
	{dirty.Pipeline, (*CommandBuffer).emitPipeline},
	{dirty.Pipeline | dirty.VertexInput, (*CommandBuffer).emitVSProlog},
	{dirty.Viewport | dirty.DepthClampEnable | dirty.DepthClipEnable | dirty.DepthClipNegativeOneToOne, (*CommandBuffer).emitViewport},
	{dirty.Scissor | dirty.Viewport, (*CommandBuffer).emitScissor},
	{dirty.Guardband | dirty.GuardbandInputs, (*CommandBuffer).emitGuardband},
	{dirty.LineWidth, (*CommandBuffer).emitLineWidth},
	{dirty.DepthBias, (*CommandBuffer).emitDepthBias},
	{dirty.BlendConstants, (*CommandBuffer).emitBlendConstants},
	{dirty.DepthBounds, (*CommandBuffer).emitDepthBounds},
	{dirty.StencilCompareMask | dirty.StencilWriteMask | dirty.StencilReference, (*CommandBuffer).emitStencilRefMask},
	{dirty.Depth | dirty.Framebuffer, (*CommandBuffer).emitDepthControl},
	{dirty.StencilOp, (*CommandBuffer).emitStencilOp},
	{dirty.DiscardRectangle | dirty.DiscardRectangleEnable | dirty.DiscardRectangleMode, (*CommandBuffer).emitDiscardRectangles},
	{dirty.SampleLocations | dirty.SampleLocationsEnable | dirty.RasterizationSamples | dirty.LineRasterizationMode, (*CommandBuffer).emitSampleLocations},
	{dirty.LineStipple | dirty.PrimitiveTopology, (*CommandBuffer).emitLineStipple},
	{dirty.Raster | dirty.PrimitiveRestartEnable, (*CommandBuffer).emitRasterMode},
	{dirty.PrimitiveTopology | dirty.Pipeline, (*CommandBuffer).emitTopology},
	{dirty.PatchControlPoints, (*CommandBuffer).emitPatchControlPoints},
	{dirty.TessDomainOrigin, (*CommandBuffer).emitTessDomain},
	{dirty.Clip, (*CommandBuffer).emitClip},
	{dirty.PrimitiveRestartEnable, (*CommandBuffer).emitPrimitiveRestart},
	{dirty.Pipeline | dirty.Framebuffer | dirty.Blend | dirty.ColorWriteEnable, (*CommandBuffer).emitPSEpilog},
	{dirty.Blend | dirty.ColorWriteEnable | dirty.LogicOp | dirty.Framebuffer | dirty.RBPlus, (*CommandBuffer).emitBlend},
	{dirty.RBPlus | dirty.Framebuffer | dirty.ColorWriteMask | dirty.ColorBlendEquation | dirty.ColorBlendEnable, (*CommandBuffer).emitRBPlus},
	{dirty.MSAA | dirty.Framebuffer | dirty.LineStippleEnable | dirty.PolygonMode, (*CommandBuffer).emitMSAA},
	{dirty.SampleMask, (*CommandBuffer).emitSampleMask},
	{dirty.FragmentShadingRate | dirty.Framebuffer, (*CommandBuffer).emitVRS},
	{dirty.DBShaderControl | dirty.AlphaToCoverageEnable | dirty.AttachmentFeedbackLoopEnable | dirty.LineRasterizationMode, (*CommandBuffer).emitDBShaderControl},
	{dirty.Framebuffer, (*CommandBuffer).emitFramebuffer},
	{dirty.Framebuffer | dirty.Pipeline | dirty.ColorWriteMask | dirty.RasterizationSamples, (*CommandBuffer).emitBinning},
	{dirty.OcclusionQuery | dirty.Framebuffer, (*CommandBuffer).emitOcclusionControl},
	{dirty.ShaderQuery | dirty.Pipeline, (*CommandBuffer).emitShaderQuery},
}

// emitGraphicsState writes every dirty group the bound pipeline needs.
// Groups it does not need stay dirty for a later pipeline.
func (cb *CommandBuffer) emitGraphicsState() {
	todo := cb.dirty & (cb.graphics.needed | dirty.Structural)
	todo &^= dirty.IndexBuffer | dirty.VertexBuffer | dirty.StreamoutBuffer
	if todo == 0 {
		return
	}
	cb.curDirty = todo
	for _, e := range graphicsEmitters {
		if todo.Any(e.groups) {
			e.emit(cb)
		}
	}
	cb.curDirty = 0
	cb.dirty &^= todo
}

// rastPrim returns the primitive class rasterized by the next draw.
func (cb *CommandBuffer) rastPrim() uint32 {
	p := cb.graphics
	if p.has(StageGeometry) || p.has(StageMesh) || p.has(StageTessEval) {
		return p.rastPrim()
	}
	return cb.state.Topology.OutPrim()
}

func (cb *CommandBuffer) emitPipeline() {
	p := cb.graphics
	for _, sh := range p.graphicsHW() {
		va := sh.VA()
		pm4.SetSHRegSeq(cb.cs, sh.HWStage.pgmReg(), pm4.Lo(va>>8), pm4.Hi(va>>8))
	}
	if ts := p.shaders[StageTask]; ts != nil {
		if ace := cb.gang.Stream(); ace != nil {
			va := ts.VA()
			pm4.SetSHRegSeq(ace, pm4.RegComputePgmLo, pm4.Lo(va>>8), pm4.Hi(va>>8))
		}
	}
	if fs := p.shaders[StageFragment]; fs != nil && !fs.NeedsEpilog {
		cb.setContextReg(pm4.RegSPIShaderColFormat, p.state.ColFormat)
	}
}

// prologKey describes how the bound vertex input is fetched.
func (cb *CommandBuffer) prologKey(vs *Shader) VSPrologKey {
	k := VSPrologKey{HWStage: vs.HWStage}
	vi := cb.state.VertexInput
	if vi == nil {
		return k
	}
	attrs := slices.Clone(vi.Attributes)
	slices.SortFunc(attrs, func(a, b VertexAttribute) int { return cmp.Compare(a.Location, b.Location) })
	t := &cb.dev.traits
	for _, a := range attrs {
		f, ok := t.vertexFormat(a.Format)
		if !ok {
			f = t.rawFormat
		}
		k.Attribs = append(k.Attribs, prologAttrib{Location: a.Location, Binding: a.Binding, Format: f, Offset: a.Offset})
		if b, ok := vi.binding(a.Binding); ok && b.Instanced && a.Location < 32 {
			k.Instanced |= 1 << a.Location
			k.Divisors = append(k.Divisors, max(b.Divisor, 1))
		}
	}
	return k
}

// emitVSProlog points the vertex stage at the prolog for the current vertex
// input. The prolog jumps to the main program.
func (cb *CommandBuffer) emitVSProlog() {
	vs := cb.graphics.shaders[StageVertex]
	if vs == nil || !vs.NeedsProlog {
		return
	}
	part, err := cb.dev.parts.get(PartVSProlog, cb.prologKey(vs).words())
	if err != nil {
		cb.recordError(err)
		return
	}
	cb.addBuffer(part.BO)
	va := part.VA()
	pm4.SetSHRegSeq(cb.cs, vs.HWStage.pgmReg(), pm4.Lo(va>>8), pm4.Hi(va>>8))
}

func (cb *CommandBuffer) emitViewport() {
	st := &cb.state
	vps := st.viewports()
	if len(vps) == 0 {
		return
	}
	mode := derive.ClampMode(st.DepthClampEnable, st.DepthClipEnable, cb.dev.opts.unrestricted)
	xform := make([]uint32, 0, 6*len(vps))
	zr := make([]uint32, 0, 2*len(vps))
	for _, vp := range vps {
		w := derive.ViewportXform(vp).Words(st.DepthClipNegativeOneToOne)
		xform = append(xform, w[:]...)
		zmin, zmax := derive.ZRange(vp, mode)
		zr = append(zr, math.Float32bits(zmin), math.Float32bits(zmax))
	}
	cb.setContextRegSeq(pm4.RegPAClVportXScale, xform...)
	cb.setContextRegSeq(pm4.RegPASCVportZMin0, zr...)

	var override uint32
	if mode == derive.ClampDisabled {
		override = dbDisableViewportClamp
	}
	cb.setContextReg(pm4.RegDBRenderOverride, override)
}

func (cb *CommandBuffer) emitScissor() {
	st := &cb.state
	words := derive.ScissorWords(st.scissors(), st.viewports())
	if len(words) == 0 {
		return
	}
	// The GFX9 scissor bug needs the scissor rewritten whenever the
	// viewport changes, even with the same value.
	if cb.dev.info.HasGFX9ScissorBug && cb.curDirty.Any(dirty.Viewport) {
		cb.forceContextRegSeq(pm4.RegPASCVportScissor0TL, words...)
		return
	}
	cb.setContextRegSeq(pm4.RegPASCVportScissor0TL, words...)
}

func (cb *CommandBuffer) emitGuardband() {
	st := &cb.state
	prim := cb.rastPrim()
	gb := derive.ComputeGuardband(st.viewports(), st.points(prim), st.lines(prim), st.LineWidth)
	w := gb.Words()
	cb.setContextRegSeq(pm4.RegPAClGBVertClipAdj, w[:]...)
}

func (cb *CommandBuffer) emitLineWidth() {
	cb.setContextReg(pm4.RegPASULineCntl, derive.LineCntl(cb.state.LineWidth))
}

func (cb *CommandBuffer) emitDepthBias() {
	w := derive.DepthBiasWords(cb.state.DepthBias)
	cb.setContextRegSeq(pm4.RegPASUPolyOffsetClamp, w[:]...)
}

func (cb *CommandBuffer) emitBlendConstants() {
	c := cb.state.BlendConstants
	cb.setContextRegSeq(pm4.RegCBBlendRed,
		math.Float32bits(c[0]), math.Float32bits(c[1]), math.Float32bits(c[2]), math.Float32bits(c[3]))
}

func (cb *CommandBuffer) emitDepthBounds() {
	st := &cb.state
	cb.setContextRegSeq(pm4.RegDBDepthBoundsMin, math.Float32bits(st.DepthBoundsMin), math.Float32bits(st.DepthBoundsMax))
}

func stencilRefMask(f StencilFace) uint32 {
	return pm4.StencilRefMask{Ref: f.Reference, Mask: f.CompareMask, WriteMask: f.WriteMask}.Pack()
}

func (cb *CommandBuffer) emitStencilRefMask() {
	st := &cb.state
	cb.setContextRegSeq(pm4.RegDBStencilRefMask, stencilRefMask(st.StencilFront), stencilRefMask(st.StencilBack))
}

// emitDepthControl writes DB_DEPTH_CONTROL. Tests on aspects the bound
// attachment lacks are turned off.
func (cb *CommandBuffer) emitDepthControl() {
	st := &cb.state
	df := cb.render.depthFormat
	depth := st.DepthTestEnable && df.HasDepth
	stencil := st.StencilTestEnable && df.HasStencil
	cb.setContextReg(pm4.RegDBDepthControl, pm4.DepthControl{
		StencilEnable:     stencil,
		ZEnable:           depth,
		ZWriteEnable:      depth && st.DepthWriteEnable,
		DepthBoundsEnable: st.DepthBoundsTestEnable && df.HasDepth,
		ZFunc:             hwCompare(st.DepthCompare),
		BackfaceEnable:    stencil,
		StencilFunc:       hwCompare(st.StencilFront.State.Compare),
		StencilFuncBF:     hwCompare(st.StencilBack.State.Compare),
	}.Pack())
}

func (cb *CommandBuffer) emitStencilOp() {
	f, b := cb.state.StencilFront.State, cb.state.StencilBack.State
	cb.setContextReg(pm4.RegDBStencilControl, pm4.StencilControl{
		Fail:    hwStencilOp(f.FailOp),
		ZPass:   hwStencilOp(f.PassOp),
		ZFail:   hwStencilOp(f.DepthFailOp),
		FailBF:  hwStencilOp(b.FailOp),
		ZPassBF: hwStencilOp(b.PassOp),
		ZFailBF: hwStencilOp(b.DepthFailOp),
	}.Pack())
}

func (cb *CommandBuffer) emitDiscardRectangles() {
	st := &cb.state
	n := int(st.DiscardRectCount)
	cb.setContextReg(pm4.RegPASCCliprectRule, derive.DiscardRule(st.DiscardRectEnable && n > 0, n, st.DiscardRectInclusive))
	if n > 0 {
		cb.setContextRegSeq(pm4.RegPASCCliprect0TL, derive.DiscardRectWords(st.DiscardRects[:n])...)
	}
}

// rasterizationSamples returns the sample count the rasterizer runs at.
func (cb *CommandBuffer) rasterizationSamples() uint32 {
	st := &cb.state
	return derive.RasterizationSamples(st.RasterizationSamples, st.lines(cb.rastPrim()), st.LineMode)
}

// sampleRegs returns the sample positions for a sample count: the custom
// pattern when enabled, the standard one otherwise.
func (cb *CommandBuffer) sampleRegs(samples uint32) derive.SampleRegs {
	st := &cb.state
	if st.SampleLocationsEnable && st.SampleLocations.PerPixel == samples && len(st.SampleLocations.Locations) > 0 {
		return derive.UserSampleRegs(st.SampleLocations)
	}
	return derive.DefaultSampleRegs(samples)
}

var sampleLocRegs = [4]uint32{
	pm4.RegPASCAASampleLocsPixelX0Y0,
	pm4.RegPASCAASampleLocsPixelX1Y0,
	pm4.RegPASCAASampleLocsPixelX0Y1,
	pm4.RegPASCAASampleLocsPixelX1Y1,
}

func (cb *CommandBuffer) emitSampleLocations() {
	samples := cb.rasterizationSamples()
	if samples <= 1 {
		return
	}
	regs := cb.sampleRegs(samples)
	n := derive.UserSampleRegCount(samples)
	for p, reg := range sampleLocRegs {
		cb.setContextRegSeq(reg, regs.Pixel[p][:n]...)
	}
	cb.setContextRegSeq(pm4.RegPASCCentroidPriority0, pm4.Lo(regs.CentroidPriority), pm4.Hi(regs.CentroidPriority))
}

func (cb *CommandBuffer) emitLineStipple() {
	st := &cb.state
	cb.setContextReg(pm4.RegPASCLineStipple, derive.LineStipple(st.LineStippleFactor, st.LineStipplePattern, st.Topology))
}

func (cb *CommandBuffer) emitRasterMode() {
	st := &cb.state
	cb.setContextReg(pm4.RegPASUSCModeCntl, derive.SUSCModeCntl(cb.dev.info.Level, derive.RasterState{
		CullMode:         st.CullMode,
		FrontFace:        st.FrontFace,
		PolygonMode:      st.PolygonMode,
		DepthBiasEnable:  st.DepthBiasEnable,
		ProvokingLast:    st.ProvokingLast,
		MultiPrimIBReset: st.PrimitiveRestartEnable && cb.dev.info.Level >= gfx.GFX9,
	}))
}

func (cb *CommandBuffer) emitTopology() {
	p := cb.graphics
	if p.has(StageMesh) {
		return
	}
	prim := uint32(cb.state.Topology)
	if p.has(StageTessControl) {
		prim = uint32(derive.TopologyPatch)
	}
	if cb.last.primType.update(prim) {
		cb.dev.traits.setPrimitiveType(cb.cs, prim)
	}
	cb.setContextReg(pm4.RegVGTGSOutPrimType, cb.rastPrim())
}

// tessPatches returns how many patches a threadgroup processes.
func (cb *CommandBuffer) tessPatches() uint32 {
	cp := max(cb.state.PatchControlPoints, 1)
	return max(64/cp, 1)
}

func (cb *CommandBuffer) emitPatchControlPoints() {
	if !cb.graphics.has(StageTessControl) {
		return
	}
	cp := cb.state.PatchControlPoints & 0x3F
	cb.setContextReg(pm4.RegVGTLSHSConfig, cb.tessPatches()&0x3F|cp<<6|cp<<12)
}

// VGT_TF_PARAM fields.
const (
	tfTypeIsoline  uint32 = 0
	tfTypeTriangle uint32 = 1
	tfTypeQuad     uint32 = 2

	tfOutputLine uint32 = 1
	tfOutputCW   uint32 = 2
	tfOutputCCW  uint32 = 3
)

func (cb *CommandBuffer) emitTessDomain() {
	tes := cb.graphics.shaders[StageTessEval]
	if tes == nil {
		return
	}
	typ, topo := tfTypeTriangle, tfOutputCCW
	if cb.state.TessDomainUpperLeft {
		topo = tfOutputCW
	}
	switch tes.TessDomain {
	case TessQuads:
		typ = tfTypeQuad
	case TessIsolines:
		typ, topo = tfTypeIsoline, tfOutputLine
	}
	cb.setContextReg(pm4.RegVGTTFParam, typ|topo<<5)
}

func (cb *CommandBuffer) emitClip() {
	st := &cb.state
	cb.setContextReg(pm4.RegPAClClipCntl, pm4.ClipCntl{
		DXClipSpaceDef:    !st.DepthClipNegativeOneToOne,
		RasterizationKill: st.RasterizerDiscardEnable,
		DXLinearAttrClip:  true,
		ZClipNearDisable:  !st.DepthClipEnable,
		ZClipFarDisable:   !st.DepthClipEnable,
	}.Pack())
}

func (cb *CommandBuffer) emitPrimitiveRestart() {
	if cb.graphics.has(StageMesh) {
		return
	}
	v := b2u(cb.state.PrimitiveRestartEnable)
	if cb.dev.traits.restartUconfig {
		if cb.last.restart.update(v) {
			pm4.SetUconfigReg(cb.cs, pm4.RegVGTMultiPrimIBResetEnGFX9, v)
		}
		return
	}
	cb.setContextReg(pm4.RegVGTMultiPrimIBResetEn, v)
}

// exportFormats returns the SPI export format of every color target.
func (cb *CommandBuffer) exportFormats() []uint32 {
	p := cb.graphics
	fs := p.shaders[StageFragment]
	if fs == nil {
		return nil
	}
	if !fs.NeedsEpilog {
		return p.exportFormats(&p.static.ColorBlendEquations, p.static.ColorBlendEnable)
	}
	st := &cb.state
	out := make([]uint32, cb.render.colorCount)
	for i := range out {
		t := cb.render.colors[i]
		if t.image == nil || fs.ColorOutputs&(1<<i) == 0 {
			continue
		}
		alpha := st.ColorBlendEnable&(1<<i) != 0 && st.ColorBlendEquations[i].ReadsSrcAlpha()
		out[i] = derive.SPIColorFormat(t.format, alpha)
	}
	return out
}

// targetMask returns CB_TARGET_MASK: the write mask of bound, enabled
// targets.
func (cb *CommandBuffer) targetMask() uint32 {
	st := &cb.state
	var m uint32
	for i := range cb.render.colorCount {
		if cb.render.colors[i].image == nil || st.ColorWriteEnable&(1<<i) == 0 {
			continue
		}
		m |= (st.ColorWriteMasks[i] & 0xF) << (4 * i)
	}
	return m
}

// dualSource reports whether target 0 blends with the second shader
// output.
func (cb *CommandBuffer) dualSource() bool {
	st := &cb.state
	eq := st.ColorBlendEquations[0]
	eq.Enable = st.ColorBlendEnable&1 != 0
	return eq.UsesDualSource()
}

func (cb *CommandBuffer) emitPSEpilog() {
	fs := cb.graphics.shaders[StageFragment]
	if fs == nil || !fs.NeedsEpilog {
		return
	}
	key := PSEpilogKey{
		ColFormat:    derive.PackColFormats(cb.exportFormats()),
		WriteMask:    cb.targetMask(),
		AlphaToCover: cb.state.AlphaToCoverageEnable,
		DualSource:   cb.dualSource(),
	}
	part, err := cb.dev.parts.get(PartPSEpilog, key.words())
	if err != nil {
		cb.recordError(err)
		return
	}
	cb.addBuffer(part.BO)
	if loc := fs.Loc(SGPREpilogPC); loc.Present() {
		pm4.SetSHReg(cb.cs, fs.userReg(loc.SGPR), pm4.Lo(part.VA()))
	}
	cb.setContextReg(pm4.RegSPIShaderColFormat, key.ColFormat)
}

func (cb *CommandBuffer) emitBlend() {
	st := &cb.state
	info := cb.dev.info
	dual := cb.dualSource()
	noOpt := dual || st.LogicOpEnable || (info.Level == gfx.GFX11 && st.AlphaToCoverageEnable)

	ctrl := make([]uint32, MaxColorAttachments)
	opt := make([]uint32, MaxColorAttachments)
	for i := range MaxColorAttachments {
		eq := st.ColorBlendEquations[i]
		eq.Enable = st.ColorBlendEnable&(1<<i) != 0
		ctrl[i] = eq.Control()
		opt[i] = derive.NoOptBlend
		if !noOpt {
			opt[i] = eq.Opt(st.ColorWriteMasks[i])
		}
	}
	cb.setContextRegSeq(pm4.RegCBBlend0Control, ctrl...)
	if info.RBPlus {
		cb.setContextRegSeq(pm4.RegSXMRT0BlendOpt, opt...)
	}

	cb.setContextReg(pm4.RegCBTargetMask, cb.targetMask())
	cb.setContextReg(pm4.RegCBShaderMask, cbShaderMask(cb.exportFormats()))
	cb.setContextReg(pm4.RegCBColorControl, derive.CBColorControl(info.RBPlus, dual, st.LogicOpEnable,
		st.LogicOp.rop3(), cb.render.colorCount > 0))
	cb.setContextReg(pm4.RegDBAlphaToMask, derive.AlphaToMask(st.AlphaToCoverageEnable))
}

func (cb *CommandBuffer) emitRBPlus() {
	if !cb.dev.info.RBPlus {
		return
	}
	formats := cb.exportFormats()
	targets := make([]derive.RBPlusTarget, cb.render.colorCount)
	for i := range targets {
		t := cb.render.colors[i]
		if t.image == nil {
			continue
		}
		targets[i] = derive.RBPlusTarget{Bound: true, Format: t.format, WriteMask: cb.state.ColorWriteMasks[i]}
		if i < len(formats) {
			targets[i].SPIFormat = formats[i]
		}
	}
	w := derive.ComputeRBPlus(targets).Words()
	cb.setContextRegSeq(pm4.RegSXPSDownconvert, w[:]...)
}

// psIterSamples returns how many samples the fragment shader runs per
// pixel at the current sample count.
func (cb *CommandBuffer) psIterSamples(rast uint32) uint32 {
	p := cb.graphics
	fs := p.shaders[StageFragment]
	if fs == nil {
		return 1
	}
	return derive.PSIterSamples(p.sampleShading || fs.SampleShading, p.minSampleShading, max(cb.render.samples, rast), rast)
}

func (cb *CommandBuffer) emitMSAA() {
	st := &cb.state
	level := cb.dev.info.Level
	rast := cb.rasterizationSamples()
	regs := derive.MSAA(derive.MSAAState{
		Level:         level,
		RastSamples:   rast,
		DepthSamples:  max(cb.render.samples, 1),
		PSIterSamples: cb.psIterSamples(rast),
		Conservative:  st.ConservativeMode,
		MaxSampleDist: cb.sampleRegs(rast).MaxSampleDist,
		LineStipple:   st.LineStippleEnable,
	})
	cb.setContextReg(pm4.RegDBEQAA, regs.EQAA)
	cb.setContextReg(pm4.RegPASCAAConfig, regs.AAConfig)
	cb.setContextReg(pm4.RegPASCModeCntl0, regs.ModeCntl0)
	if level.HasBinning() {
		cb.setContextReg(pm4.RegPASCConservativeRasterization, derive.ConservativeRastCntl(st.ConservativeMode, false))
	}
}

func (cb *CommandBuffer) emitSampleMask() {
	m := derive.SampleMask(cb.state.SampleMask)
	cb.setContextRegSeq(pm4.RegPASCAAMaskX0Y0X1Y0, m, m)
}

func (cb *CommandBuffer) emitVRS() {
	if !cb.dev.info.Level.HasVRS() {
		return
	}
	regs := derive.VRS(cb.state.ShadingRate, cb.graphics.has(StageMesh), cb.render.vrs != nil)
	if cb.last.vrsRate.update(regs.Rate) {
		pm4.SetUconfigReg(cb.cs, pm4.RegGEVRSRate, regs.Rate)
	}
	cb.setContextReg(pm4.RegPAClVRSCntl, regs.Cntl)
}

func (cb *CommandBuffer) emitDBShaderControl() {
	st := &cb.state
	info := cb.dev.info
	fs := cb.graphics.shaders[StageFragment]
	s := derive.ShaderControlState{
		Level:             info.Level,
		HasBase:           fs != nil,
		RBPlus:            info.RBPlus,
		DepthFeedbackLoop: st.FeedbackLoopAspects&(AspectDepth|AspectStencil) != 0,
		SmoothLines:       st.LineMode == LineRectangularSmooth,
		AlphaToCoverage:   st.AlphaToCoverageEnable,
	}
	if fs != nil {
		s.Base = cb.graphics.state.DBShaderControl
	}
	cb.setContextReg(pm4.RegDBShaderControl, derive.DBShaderControl(s))
}

// DB_Z_INFO and DB_STENCIL_INFO formats.
const (
	dbZInvalid   uint32 = 0
	dbZ16        uint32 = 1
	dbZ24        uint32 = 2
	dbZ32Float   uint32 = 3
	dbStencil8   uint32 = 1
	dbNumSamples        = 2
)

// CB_COLORn_INFO fields.
const (
	cbInfoFormatShift = 2
	cbInfoNumberShift = 8
	cbInfoSwapShift   = 11
	cbInfoDCCEnable   = uint32(1) << 28
)

func depthInfoFormat(df derive.DepthFormat) uint32 {
	switch {
	case !df.HasDepth:
		return dbZInvalid
	case df.Float:
		return dbZ32Float
	case df.Bits == 16:
		return dbZ16
	default:
		return dbZ24
	}
}

func (cb *CommandBuffer) emitFramebuffer() {
	r := &cb.render
	for i := range uint32(MaxColorAttachments) {
		off := i * pm4.CBColorStride
		t := r.colors[i]
		if i >= r.colorCount || t.image == nil {
			cb.setContextReg(pm4.RegCBColor0Info+off, 0)
			continue
		}
		info := t.format.CB<<cbInfoFormatShift | t.format.Number<<cbInfoNumberShift | t.format.Swap<<cbInfoSwapShift
		if t.image.meta.DCCEnabled(t.level) {
			info |= cbInfoDCCEnable
		}
		cb.setContextReg(pm4.RegCBColor0Base+off, pm4.Lo(t.image.meta.VA>>8))
		cb.setContextReg(pm4.RegCBColor0Info+off, info)
	}

	df := r.depthFormat
	if r.depth != nil {
		zinfo := depthInfoFormat(df) | log2u(r.depth.meta.Samples)<<dbNumSamples
		var sinfo uint32
		if df.HasStencil {
			sinfo = dbStencil8
		}
		cb.setContextReg(pm4.RegDBZInfo, zinfo)
		cb.setContextReg(pm4.RegDBStencilInfo, sinfo)
		cb.setContextReg(pm4.RegDBZReadBase, pm4.Lo(r.depth.meta.VA>>8))
	} else {
		cb.setContextReg(pm4.RegDBZInfo, dbZInvalid)
		cb.setContextReg(pm4.RegDBStencilInfo, 0)
	}
	cb.setContextReg(pm4.RegPASUPolyOffsetDBFmtCntl, derive.DepthBiasFormat(df))

	a := r.area
	x, y := uint32(max(a.X, 0)), uint32(max(a.Y, 0))
	cb.setContextRegSeq(pm4.RegPASCWindowScissorTL, pm4.ScissorTL(x, y), pm4.ScissorBR(x+a.Width, y+a.Height))
}

func log2u(v uint32) uint32 {
	var n uint32
	for v > 1 {
		v >>= 1
		n++
	}
	return n
}

// emitBinning programs the primitive binner for the bound attachments.
func (cb *CommandBuffer) emitBinning() {
	info := cb.dev.info
	if !info.Level.HasBinning() {
		return
	}
	r := &cb.render
	att := derive.BinningAttachments{
		ColorSamples: max(r.samples, 1),
		HasDepth:     r.depthFormat.HasDepth,
		HasStencil:   r.depthFormat.HasStencil,
		DepthSamples: max(r.samples, 1),
	}
	for i := range r.colorCount {
		t := r.colors[i]
		if t.image != nil && cb.state.ColorWriteMasks[i] != 0 {
			att.ColorBlockSizes = append(att.ColorBlockSizes, t.format.BlockSize)
		}
	}
	v := derive.DisabledBinnerCntl(info)
	if r.active && !cb.dev.opts.noBinning {
		ext := derive.BinSize(info, att, cb.psIterSamples(cb.rasterizationSamples()))
		v = derive.BinnerCntl(info, ext, cb.dev.binning)
	}
	cb.setContextReg(pm4.RegPASCBinnerCntl0, v)
}

// DB_COUNT_CONTROL fields.
const (
	dbZPassIncrementDisable uint32 = 1 << 0
	dbPerfectZPassCounts    uint32 = 1 << 1
	dbSampleRateShift              = 4
)

func (cb *CommandBuffer) emitOcclusionControl() {
	v := dbZPassIncrementDisable
	if cb.queries.occlusion > 0 {
		v = dbPerfectZPassCounts | log2u(max(cb.render.samples, 1))<<dbSampleRateShift
	}
	cb.setContextReg(pm4.RegDBCountControl, v)
}

// emitShaderQuery tells NGG shaders whether to count primitives for
// pipeline statistics.
func (cb *CommandBuffer) emitShaderQuery() {
	last := cb.graphics.lastVGT()
	if last == nil || !last.NGG {
		return
	}
	if loc := last.Loc(SGPRShaderQuery); loc.Present() {
		pm4.SetSHReg(cb.cs, last.userReg(loc.SGPR), b2u(cb.queries.pipelineStats > 0))
	}
}
