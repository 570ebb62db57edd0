package amdcmd

import (
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/amdcmd/internal/dirty"
)

// Dynamic state setters. Each one only updates DynamicState and marks its
// group dirty; registers are written by the next draw that needs them.
// Setters are ignored on a buffer that is not recording.

// viewportDirty returns the groups a viewport change dirties.
func (cb *CommandBuffer) viewportDirty() dirty.Bits {
	d := dirty.Viewport | dirty.Guardband
	if cb.dev.info.HasGFX9ScissorBug {
		d |= dirty.Scissor
	}
	return d
}

// CmdSetViewport sets viewports starting at first.
func (cb *CommandBuffer) CmdSetViewport(first uint32, viewports []Viewport) error {
	if err := cb.check(); err != nil {
		return err
	}
	if int(first)+len(viewports) > MaxViewports {
		return errors.Wrapf(ErrTooManyViewports, "viewports %d..%d", first, int(first)+len(viewports))
	}
	copy(cb.state.Viewports[first:], viewports)
	cb.state.ViewportCount = max(cb.state.ViewportCount, first+uint32(len(viewports)))
	cb.dirty |= cb.viewportDirty()
	return nil
}

// CmdSetViewportWithCount replaces all viewports and sets their count.
func (cb *CommandBuffer) CmdSetViewportWithCount(viewports []Viewport) error {
	if err := cb.check(); err != nil {
		return err
	}
	if len(viewports) > MaxViewports {
		return errors.Wrapf(ErrTooManyViewports, "%d viewports", len(viewports))
	}
	copy(cb.state.Viewports[:], viewports)
	cb.state.ViewportCount = uint32(len(viewports))
	cb.dirty |= cb.viewportDirty()
	return nil
}

// CmdSetScissor sets scissors starting at first.
func (cb *CommandBuffer) CmdSetScissor(first uint32, scissors []Rect) error {
	if err := cb.check(); err != nil {
		return err
	}
	if int(first)+len(scissors) > MaxViewports {
		return errors.Wrapf(ErrTooManyViewports, "scissors %d..%d", first, int(first)+len(scissors))
	}
	copy(cb.state.Scissors[first:], scissors)
	cb.state.ScissorCount = max(cb.state.ScissorCount, first+uint32(len(scissors)))
	cb.dirty |= dirty.Scissor
	return nil
}

// CmdSetScissorWithCount replaces all scissors and sets their count.
func (cb *CommandBuffer) CmdSetScissorWithCount(scissors []Rect) error {
	if err := cb.check(); err != nil {
		return err
	}
	if len(scissors) > MaxViewports {
		return errors.Wrapf(ErrTooManyViewports, "%d scissors", len(scissors))
	}
	copy(cb.state.Scissors[:], scissors)
	cb.state.ScissorCount = uint32(len(scissors))
	cb.dirty |= dirty.Scissor
	return nil
}

// CmdSetLineWidth sets the rasterized line width.
func (cb *CommandBuffer) CmdSetLineWidth(w float32) {
	if !cb.recording() {
		return
	}
	cb.state.LineWidth = w
	cb.dirty |= dirty.LineWidth | dirty.Guardband
}

// CmdSetDepthBias sets the depth bias factors.
func (cb *CommandBuffer) CmdSetDepthBias(constant, clamp, slope float32) {
	if !cb.recording() {
		return
	}
	cb.state.DepthBias = DepthBias{Constant: constant, Clamp: clamp, Slope: slope}
	cb.dirty |= dirty.DepthBias
}

// CmdSetBlendConstants sets the blend constant color.
func (cb *CommandBuffer) CmdSetBlendConstants(c [4]float32) {
	if !cb.recording() {
		return
	}
	cb.state.BlendConstants = c
	cb.dirty |= dirty.BlendConstants
}

// CmdSetDepthBounds sets the depth bounds test range.
func (cb *CommandBuffer) CmdSetDepthBounds(minDepth, maxDepth float32) {
	if !cb.recording() {
		return
	}
	cb.state.DepthBoundsMin = minDepth
	cb.state.DepthBoundsMax = maxDepth
	cb.dirty |= dirty.DepthBounds
}

// eachFace calls fn for the faces selected by f.
func (cb *CommandBuffer) eachFace(f StencilFaces, fn func(*StencilFace)) {
	if f&StencilFaceFront != 0 {
		fn(&cb.state.StencilFront)
	}
	if f&StencilFaceBack != 0 {
		fn(&cb.state.StencilBack)
	}
}

// CmdSetStencilCompareMask sets the stencil compare mask of faces.
func (cb *CommandBuffer) CmdSetStencilCompareMask(faces StencilFaces, mask uint32) {
	if !cb.recording() {
		return
	}
	cb.eachFace(faces, func(f *StencilFace) { f.CompareMask = mask & 0xFF })
	cb.dirty |= dirty.StencilCompareMask
}

// CmdSetStencilWriteMask sets the stencil write mask of faces.
func (cb *CommandBuffer) CmdSetStencilWriteMask(faces StencilFaces, mask uint32) {
	if !cb.recording() {
		return
	}
	cb.eachFace(faces, func(f *StencilFace) { f.WriteMask = mask & 0xFF })
	cb.dirty |= dirty.StencilWriteMask
}

// CmdSetStencilReference sets the stencil reference of faces.
func (cb *CommandBuffer) CmdSetStencilReference(faces StencilFaces, ref uint32) {
	if !cb.recording() {
		return
	}
	cb.eachFace(faces, func(f *StencilFace) { f.Reference = ref & 0xFF })
	cb.dirty |= dirty.StencilReference
}

// CmdSetStencilOp sets the stencil ops and compare function of faces.
func (cb *CommandBuffer) CmdSetStencilOp(faces StencilFaces, fail, pass, depthFail hal.StencilOperation, compare gputypes.CompareFunction) {
	if !cb.recording() {
		return
	}
	cb.eachFace(faces, func(f *StencilFace) {
		f.State = hal.StencilFaceState{Compare: compare, FailOp: fail, DepthFailOp: depthFail, PassOp: pass}
	})
	cb.dirty |= dirty.StencilOp
}

// CmdSetStencilTestEnable toggles the stencil test.
func (cb *CommandBuffer) CmdSetStencilTestEnable(enable bool) {
	if !cb.recording() {
		return
	}
	cb.state.StencilTestEnable = enable
	cb.dirty |= dirty.StencilTestEnable
}

// CmdSetDepthTestEnable toggles the depth test.
func (cb *CommandBuffer) CmdSetDepthTestEnable(enable bool) {
	if !cb.recording() {
		return
	}
	cb.state.DepthTestEnable = enable
	cb.dirty |= dirty.DepthTestEnable
}

// CmdSetDepthWriteEnable toggles depth writes.
func (cb *CommandBuffer) CmdSetDepthWriteEnable(enable bool) {
	if !cb.recording() {
		return
	}
	cb.state.DepthWriteEnable = enable
	cb.dirty |= dirty.DepthWriteEnable
}

// CmdSetDepthCompareOp sets the depth compare function.
func (cb *CommandBuffer) CmdSetDepthCompareOp(f gputypes.CompareFunction) {
	if !cb.recording() {
		return
	}
	cb.state.DepthCompare = f
	cb.dirty |= dirty.DepthCompareOp
}

// CmdSetDepthBoundsTestEnable toggles the depth bounds test.
func (cb *CommandBuffer) CmdSetDepthBoundsTestEnable(enable bool) {
	if !cb.recording() {
		return
	}
	cb.state.DepthBoundsTestEnable = enable
	cb.dirty |= dirty.DepthBoundsTestEnable
}

// CmdSetDepthBiasEnable toggles depth bias.
func (cb *CommandBuffer) CmdSetDepthBiasEnable(enable bool) {
	if !cb.recording() {
		return
	}
	cb.state.DepthBiasEnable = enable
	cb.dirty |= dirty.DepthBiasEnable
}

// CmdSetCullMode sets the culled faces.
func (cb *CommandBuffer) CmdSetCullMode(m gputypes.CullMode) {
	if !cb.recording() {
		return
	}
	cb.state.CullMode = m
	cb.dirty |= dirty.CullMode
}

// CmdSetFrontFace sets the front face winding.
func (cb *CommandBuffer) CmdSetFrontFace(f gputypes.FrontFace) {
	if !cb.recording() {
		return
	}
	cb.state.FrontFace = f
	cb.dirty |= dirty.FrontFace
}

// CmdSetPrimitiveTopology sets the input topology.
func (cb *CommandBuffer) CmdSetPrimitiveTopology(t Topology) {
	if !cb.recording() {
		return
	}
	prevPrim := cb.state.Topology.OutPrim()
	cb.state.Topology = t
	cb.dirty |= dirty.PrimitiveTopology
	if t.OutPrim() != prevPrim {
		cb.dirty |= dirty.Guardband | dirty.LineStippleEnable | dirty.RasterizationSamples
	}
}

// CmdSetPrimitiveRestartEnable toggles primitive restart.
func (cb *CommandBuffer) CmdSetPrimitiveRestartEnable(enable bool) {
	if !cb.recording() {
		return
	}
	cb.state.PrimitiveRestartEnable = enable
	cb.dirty |= dirty.PrimitiveRestartEnable
}

// CmdSetRasterizerDiscardEnable toggles rasterizer discard.
func (cb *CommandBuffer) CmdSetRasterizerDiscardEnable(enable bool) {
	if !cb.recording() {
		return
	}
	cb.state.RasterizerDiscardEnable = enable
	cb.dirty |= dirty.RasterizerDiscardEnable
}

// CmdSetLineStipple sets the line stipple factor and pattern.
func (cb *CommandBuffer) CmdSetLineStipple(factor uint32, pattern uint16) {
	if !cb.recording() {
		return
	}
	cb.state.LineStippleFactor = factor
	cb.state.LineStipplePattern = pattern
	cb.dirty |= dirty.LineStipple
}

// CmdSetLineStippleEnable toggles line stippling.
func (cb *CommandBuffer) CmdSetLineStippleEnable(enable bool) {
	if !cb.recording() {
		return
	}
	cb.state.LineStippleEnable = enable
	cb.dirty |= dirty.LineStippleEnable
}

// CmdSetLogicOp sets the framebuffer logic operation.
func (cb *CommandBuffer) CmdSetLogicOp(op LogicOp) {
	if !cb.recording() {
		return
	}
	cb.state.LogicOp = op
	cb.dirty |= dirty.LogicOp
}

// CmdSetLogicOpEnable toggles the framebuffer logic operation.
func (cb *CommandBuffer) CmdSetLogicOpEnable(enable bool) {
	if !cb.recording() {
		return
	}
	cb.state.LogicOpEnable = enable
	cb.dirty |= dirty.LogicOpEnable
}

// CmdSetColorWriteEnable sets the per-target color write enables, one per
// attachment starting at target 0.
func (cb *CommandBuffer) CmdSetColorWriteEnable(enables []bool) error {
	if err := cb.check(); err != nil {
		return err
	}
	if len(enables) > MaxColorAttachments {
		return errors.Wrapf(ErrTooManyAttachments, "%d color write enables", len(enables))
	}
	var m uint32
	for i, e := range enables {
		if e {
			m |= 1 << i
		}
	}
	// Targets beyond the given ones stay enabled.
	m |= 0xFF &^ (1<<len(enables) - 1)
	cb.state.ColorWriteEnable = m
	cb.dirty |= dirty.ColorWriteEnable
	return nil
}

// setPerTarget copies vals into dst[first:] after a range check.
func setPerTarget[T any](cb *CommandBuffer, dst *[MaxColorAttachments]T, first uint32, vals []T, group dirty.Bits) error {
	if err := cb.check(); err != nil {
		return err
	}
	if int(first)+len(vals) > MaxColorAttachments {
		return errors.Wrapf(ErrTooManyAttachments, "targets %d..%d", first, int(first)+len(vals))
	}
	copy(dst[first:], vals)
	cb.dirty |= group
	return nil
}

// CmdSetColorWriteMask sets the RGBA write masks of targets starting at
// first.
func (cb *CommandBuffer) CmdSetColorWriteMask(first uint32, masks []gputypes.ColorWriteMask) error {
	vals := make([]uint32, len(masks))
	for i, m := range masks {
		vals[i] = uint32(m) & 0xF
	}
	return setPerTarget(cb, &cb.state.ColorWriteMasks, first, vals, dirty.ColorWriteMask)
}

// CmdSetColorBlendEnable toggles blending of targets starting at first.
func (cb *CommandBuffer) CmdSetColorBlendEnable(first uint32, enables []bool) error {
	if err := cb.check(); err != nil {
		return err
	}
	if int(first)+len(enables) > MaxColorAttachments {
		return errors.Wrapf(ErrTooManyAttachments, "targets %d..%d", first, int(first)+len(enables))
	}
	for i, e := range enables {
		bit := uint32(1) << (int(first) + i)
		if e {
			cb.state.ColorBlendEnable |= bit
		} else {
			cb.state.ColorBlendEnable &^= bit
		}
	}
	cb.dirty |= dirty.ColorBlendEnable
	return nil
}

// CmdSetColorBlendEquation sets the blend equations of targets starting
// at first.
func (cb *CommandBuffer) CmdSetColorBlendEquation(first uint32, eqs []BlendEquation) error {
	return setPerTarget(cb, &cb.state.ColorBlendEquations, first, eqs, dirty.ColorBlendEquation)
}

// CmdSetPatchControlPoints sets the number of control points per patch.
func (cb *CommandBuffer) CmdSetPatchControlPoints(n uint32) {
	if !cb.recording() {
		return
	}
	cb.state.PatchControlPoints = n
	cb.dirty |= dirty.PatchControlPoints
}

// CmdSetTessellationDomainOrigin selects an upper-left tessellation
// domain origin when upperLeft is set.
func (cb *CommandBuffer) CmdSetTessellationDomainOrigin(upperLeft bool) {
	if !cb.recording() {
		return
	}
	cb.state.TessDomainUpperLeft = upperLeft
	cb.dirty |= dirty.TessDomainOrigin
}

// CmdSetPolygonMode sets the polygon fill mode.
func (cb *CommandBuffer) CmdSetPolygonMode(m PolygonMode) {
	if !cb.recording() {
		return
	}
	prevLines := cb.state.PolygonMode == PolygonLine
	cb.state.PolygonMode = m
	cb.dirty |= dirty.PolygonMode | dirty.Guardband
	if (m == PolygonLine) != prevLines {
		cb.dirty |= dirty.RasterizationSamples | dirty.LineStippleEnable
	}
}

// CmdSetFragmentShadingRate sets the pipeline shading rate and combiners.
func (cb *CommandBuffer) CmdSetFragmentShadingRate(r ShadingRate) {
	if !cb.recording() {
		return
	}
	cb.state.ShadingRate = r
	cb.dirty |= dirty.FragmentShadingRate
}

// CmdSetConservativeRasterizationMode sets conservative rasterization.
func (cb *CommandBuffer) CmdSetConservativeRasterizationMode(m ConservativeMode) {
	if !cb.recording() {
		return
	}
	cb.state.ConservativeMode = m
	cb.dirty |= dirty.ConservativeRastMode
}

// CmdSetProvokingVertexMode selects the last vertex as provoking vertex
// when last is set.
func (cb *CommandBuffer) CmdSetProvokingVertexMode(last bool) {
	if !cb.recording() {
		return
	}
	cb.state.ProvokingLast = last
	cb.dirty |= dirty.ProvokingVertexMode
}

// CmdSetAlphaToCoverageEnable toggles alpha to coverage.
func (cb *CommandBuffer) CmdSetAlphaToCoverageEnable(enable bool) {
	if !cb.recording() {
		return
	}
	cb.state.AlphaToCoverageEnable = enable
	cb.dirty |= dirty.AlphaToCoverageEnable | dirty.DBShaderControl
}

// CmdSetSampleMask sets the coverage sample mask.
func (cb *CommandBuffer) CmdSetSampleMask(mask uint32) {
	if !cb.recording() {
		return
	}
	cb.state.SampleMask = mask & 0xFFFF
	cb.dirty |= dirty.SampleMask
}

// CmdSetRasterizationSamples sets the rasterization sample count.
func (cb *CommandBuffer) CmdSetRasterizationSamples(n uint32) {
	if !cb.recording() {
		return
	}
	cb.state.RasterizationSamples = max(n, 1)
	cb.dirty |= dirty.RasterizationSamples | dirty.OcclusionQuery
}

// CmdSetLineRasterizationMode sets the line rasterization mode.
func (cb *CommandBuffer) CmdSetLineRasterizationMode(m LineMode) {
	if !cb.recording() {
		return
	}
	cb.state.LineMode = m
	cb.dirty |= dirty.LineRasterizationMode
}

// CmdSetSampleLocations sets custom sample locations.
func (cb *CommandBuffer) CmdSetSampleLocations(s SampleLocations) {
	if !cb.recording() {
		return
	}
	cb.state.SampleLocations = s
	cb.state.SampleLocations.Locations = slices.Clone(s.Locations)
	cb.dirty |= dirty.SampleLocations
}

// CmdSetSampleLocationsEnable toggles custom sample locations.
func (cb *CommandBuffer) CmdSetSampleLocationsEnable(enable bool) {
	if !cb.recording() {
		return
	}
	cb.state.SampleLocationsEnable = enable
	cb.dirty |= dirty.SampleLocationsEnable
}

// CmdSetDiscardRectangle sets discard rectangles starting at first.
func (cb *CommandBuffer) CmdSetDiscardRectangle(first uint32, rects []Rect) error {
	if err := cb.check(); err != nil {
		return err
	}
	if int(first)+len(rects) > MaxDiscardRectangles {
		return errors.Wrapf(ErrTooManyDiscardRectangles, "rectangles %d..%d", first, int(first)+len(rects))
	}
	copy(cb.state.DiscardRects[first:], rects)
	cb.state.DiscardRectCount = max(cb.state.DiscardRectCount, first+uint32(len(rects)))
	cb.dirty |= dirty.DiscardRectangle
	return nil
}

// CmdSetDiscardRectangleEnable toggles discard rectangles.
func (cb *CommandBuffer) CmdSetDiscardRectangleEnable(enable bool) {
	if !cb.recording() {
		return
	}
	cb.state.DiscardRectEnable = enable
	cb.dirty |= dirty.DiscardRectangleEnable
}

// CmdSetDiscardRectangleMode makes discard rectangles inclusive when
// inclusive is set.
func (cb *CommandBuffer) CmdSetDiscardRectangleMode(inclusive bool) {
	if !cb.recording() {
		return
	}
	cb.state.DiscardRectInclusive = inclusive
	cb.dirty |= dirty.DiscardRectangleMode
}

// CmdSetDepthClipEnable toggles depth clipping.
func (cb *CommandBuffer) CmdSetDepthClipEnable(enable bool) {
	if !cb.recording() {
		return
	}
	cb.state.DepthClipEnable = enable
	cb.dirty |= dirty.DepthClipEnable | dirty.Viewport
}

// CmdSetDepthClampEnable toggles depth clamping.
func (cb *CommandBuffer) CmdSetDepthClampEnable(enable bool) {
	if !cb.recording() {
		return
	}
	cb.state.DepthClampEnable = enable
	cb.dirty |= dirty.DepthClampEnable | dirty.Viewport
}

// CmdSetDepthClipNegativeOneToOne selects the [-1, 1] clip space depth
// range when enable is set.
func (cb *CommandBuffer) CmdSetDepthClipNegativeOneToOne(enable bool) {
	if !cb.recording() {
		return
	}
	cb.state.DepthClipNegativeOneToOne = enable
	cb.dirty |= dirty.DepthClipNegativeOneToOne | dirty.Viewport
}

// CmdSetAttachmentFeedbackLoopEnable sets the attachment aspects the
// fragment shader reads while rendering to them.
func (cb *CommandBuffer) CmdSetAttachmentFeedbackLoopEnable(aspects ImageAspect) {
	if !cb.recording() {
		return
	}
	cb.state.FeedbackLoopAspects = aspects
	cb.dirty |= dirty.AttachmentFeedbackLoopEnable | dirty.DBShaderControl
}

// CmdSetVertexInput sets the vertex input state of pipelines with
// dynamic vertex input. The strides of the given bindings are set too.
func (cb *CommandBuffer) CmdSetVertexInput(bindings []VertexBinding, attrs []VertexAttribute) error {
	if err := cb.check(); err != nil {
		return err
	}
	for _, b := range bindings {
		if b.Binding >= MaxVertexBindings {
			return errors.Wrapf(ErrBindingOutOfRange, "vertex binding %d", b.Binding)
		}
	}
	for _, a := range attrs {
		if a.Binding >= MaxVertexBindings {
			return errors.Wrapf(ErrBindingOutOfRange, "attribute %d reads binding %d", a.Location, a.Binding)
		}
	}
	vi := &VertexInput{Bindings: slices.Clone(bindings), Attributes: slices.Clone(attrs)}
	for _, b := range bindings {
		cb.state.VertexStrides[b.Binding] = b.Stride
	}
	cb.state.VertexInput = vi
	cb.dirty |= dirty.VertexInput | dirty.VertexInputBindingStride | dirty.VertexBuffer
	return nil
}
