package amdcmd

import (
	"math"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/amdcmd/internal/derive"
	"github.com/gogpu/amdcmd/internal/flush"
	"github.com/gogpu/amdcmd/internal/gfx"
	"github.com/gogpu/amdcmd/internal/pm4"
	"github.com/gogpu/amdcmd/winsys"
)

// prefetchMask selects what to pull into L2 ahead of the next draw or
// dispatch.
type prefetchMask uint8

const (
	prefetchFirstStage prefetchMask = 1 << iota
	prefetchShaders
	prefetchVertexDescriptors
	prefetchCompute

	prefetchGraphics = prefetchFirstStage | prefetchShaders | prefetchVertexDescriptors
)

// prefetchRange warms L2 with a CP DMA copy to nowhere.
func (cb *CommandBuffer) prefetchRange(va uint64, size uint32) {
	if size == 0 {
		return
	}
	size = (size + 63) &^ 63
	pm4.DMAData(cb.cs, pm4.DMASrcSelTCL2|pm4.DMADstSelNowhere, va, va, size, pm4.DMADisableWrConfirm)
	cb.dmaBusy = true
}

func (cb *CommandBuffer) prefetchShader(sh *Shader) {
	if sh != nil {
		cb.prefetchRange(sh.VA(), sh.CodeSize)
	}
}

// prefetch issues the pending graphics prefetches. With firstOnly set only
// the data the first stage needs is fetched, so the draw can start sooner.
func (cb *CommandBuffer) prefetch(firstOnly bool) {
	mask := cb.pendingPrefetch & prefetchGraphics
	if mask == 0 {
		return
	}
	if !cb.dev.info.Level.HasCPDMA() {
		cb.pendingPrefetch &^= prefetchGraphics
		return
	}
	if firstOnly {
		mask &= prefetchFirstStage | prefetchVertexDescriptors
	}
	hw := cb.graphics.graphicsHW()
	if mask&prefetchFirstStage != 0 && len(hw) > 0 {
		cb.prefetchShader(hw[0])
	}
	if mask&prefetchVertexDescriptors != 0 {
		cb.prefetchRange(cb.vertexDescVA, cb.vertexDescSize)
	}
	if mask&prefetchShaders != 0 && len(hw) > 1 {
		for _, sh := range hw[1:] {
			cb.prefetchShader(sh)
		}
	}
	cb.pendingPrefetch &^= mask
}

// drawInfo describes one draw for the shared setup.
type drawInfo struct {
	count     uint32
	instances uint32
	indexed   bool
	indirect  bool
	mesh      bool
	// strmout draws take their vertex count from a transform feedback
	// counter.
	strmout bool
}

// requireGraphics checks that a draw can be recorded at all.
func (cb *CommandBuffer) requireGraphics() error {
	if err := cb.check(); err != nil {
		return err
	}
	if cb.family != QueueFamilyGeneral {
		return errors.Wrapf(ErrInvalidBindPoint, "draw on queue family %d", cb.family)
	}
	if cb.graphics == nil {
		return errors.Wrap(ErrNoPipeline, "draw without a graphics pipeline")
	}
	return nil
}

// beforeDraw brings every piece of state the draw depends on up to date.
// It returns false when the draw must be skipped.
func (cb *CommandBuffer) beforeDraw(d *drawInfo) (bool, error) {
	if err := cb.requireGraphics(); err != nil {
		return false, err
	}
	p := cb.graphics
	if d.mesh != p.has(StageMesh) {
		if d.mesh {
			return false, errors.Wrap(ErrMissingShader, "mesh draw without a mesh shader")
		}
		return false, errors.Wrap(ErrMissingShader, "vertex draw with a mesh pipeline")
	}
	if d.indexed && !cb.index.bound {
		return false, errors.Wrap(ErrInvalidState, "indexed draw without an index buffer")
	}
	if !d.indirect && (d.instances == 0 || d.count == 0 && !d.strmout) {
		return false, nil
	}
	if d.indirect {
		// The CP reads the arguments; earlier CP DMA writes must land.
		cb.waitCPDMA()
	}
	if cb.render.active && cb.dev.info.RBNonCoherent {
		cb.rbNoncoherentDirty = true
	}

	// Registers written while the GPU is idle after the flush cost nothing
	// extra, so write them first and overlap the flush with nothing.
	if cb.flushBits.Any(flush.RequiresIdle) {
		cb.emitGraphicsState()
		cb.emitCacheFlush()
		cb.flushGraphicsBindings()
	} else {
		cb.emitCacheFlush()
		cb.flushVertexDescriptors()
		cb.prefetch(true)
		cb.flushGraphicsBindings()
		cb.emitGraphicsState()
	}
	if cb.err != nil {
		return false, cb.err
	}

	if cb.dev.info.Level < gfx.GFX10 && !d.mesh {
		v := derive.MultiVGTParam(derive.IAState{
			Info:             cb.dev.info,
			Topology:         cb.state.Topology,
			HasTess:          p.has(StageTessControl),
			HasGS:            p.has(StageGeometry),
			TessPatches:      cb.tessPatches(),
			PrimitiveRestart: cb.state.PrimitiveRestartEnable,
			Instanced:        d.instances > 1,
			Indirect:         d.indirect || d.strmout,
			VertexCount:      d.count,
			PatchSize:        cb.state.PatchControlPoints,
		})
		if cb.last.iaParam.update(v) {
			cb.dev.traits.setIAParam(cb.cs, v)
		}
	}
	if !d.indirect && cb.last.instances.update(d.instances) {
		pm4.NumInstances(cb.cs, d.instances)
	}
	return true, nil
}

// flushGraphicsBindings writes the buffer and descriptor bindings of the
// graphics pipeline.
func (cb *CommandBuffer) flushGraphicsBindings() {
	cb.flushVertexDescriptors()
	cb.flushStreamout()
	hw := cb.graphics.hw
	cb.flushDescriptors(BindPointGraphics, hw)
	cb.flushConstants(BindPointGraphics, hw)
}

// afterDraw finishes the background work started for a draw.
func (cb *CommandBuffer) afterDraw() {
	cb.prefetch(false)
	if cb.streamout.active && cb.dev.info.HasVGTStreamoutHang {
		cb.flushBits |= flush.VGTStreamoutSync
	}
	cb.traceMarker()
}

// emitDrawParams writes base vertex and start instance into the first
// vertex stage.
func (cb *CommandBuffer) emitDrawParams(vertexOffset int32, firstInstance uint32) {
	first := cb.graphics.firstVGT()
	if first == nil {
		return
	}
	loc := first.Loc(SGPRBaseVertex)
	if !loc.Present() {
		return
	}
	vals := [3]uint32{uint32(vertexOffset), firstInstance, 0}
	if !cb.last.drawParams.update(vals) {
		return
	}
	pm4.SetSHRegSeq(cb.cs, first.userReg(loc.SGPR), vals[:min(int(loc.Count), len(vals))]...)
}

// drawRegs returns the SH register offsets an indirect draw writes its
// parameters to. A zero draw id register disables the draw id.
func (cb *CommandBuffer) drawRegs() (vtx, inst, drawID uint32) {
	first := cb.graphics.firstVGT()
	if first == nil {
		return 0, 0, 0
	}
	loc := first.Loc(SGPRBaseVertex)
	if !loc.Present() {
		return 0, 0, 0
	}
	vtx = pm4.SHRegOffset(first.userReg(loc.SGPR))
	inst = vtx + 1
	if loc.Count >= 3 {
		drawID = vtx + 2
	}
	return vtx, inst, drawID
}

func (cb *CommandBuffer) emitIndexType() {
	if t := hwIndexType(cb.index.format); cb.last.indexType.update(t) {
		cb.dev.traits.setIndexType(cb.cs, t)
	}
}

// CmdDraw records a non-indexed draw.
func (cb *CommandBuffer) CmdDraw(vertexCount, instanceCount, firstVertex, firstInstance uint32) error {
	d := drawInfo{count: vertexCount, instances: instanceCount}
	if ok, err := cb.beforeDraw(&d); !ok {
		return err
	}
	cb.emitDrawParams(int32(firstVertex), firstInstance)
	pm4.DrawIndexAuto(cb.cs, vertexCount, false, cb.predicate.active)
	cb.afterDraw()
	return nil
}

// CmdDrawIndexed records an indexed draw from the bound index buffer.
func (cb *CommandBuffer) CmdDrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) error {
	d := drawInfo{count: indexCount, instances: instanceCount, indexed: true}
	if ok, err := cb.beforeDraw(&d); !ok {
		return err
	}
	cb.emitIndexType()
	cb.emitDrawParams(vertexOffset, firstInstance)

	ib := &cb.index
	maxIdx := ib.maxIndices()
	va := ib.va + uint64(firstIndex)*indexSize(ib.format)
	if firstIndex < maxIdx {
		maxIdx -= firstIndex
	} else {
		// Out of range: the CP fetches nothing and returns index zero.
		maxIdx, va = 0, ib.va
	}
	pm4.DrawIndex2(cb.cs, maxIdx, va, indexCount, cb.predicate.active)
	cb.afterDraw()
	return nil
}

// IndirectBuffer is the argument buffer of an indirect command.
type IndirectBuffer struct {
	BO     winsys.BO
	Offset uint64
}

// CountBuffer holds the draw count of an indirect-count draw.
type CountBuffer = IndirectBuffer

func (cb *CommandBuffer) drawIndirect(indexed bool, args IndirectBuffer, drawCount, stride uint32, count *CountBuffer) error {
	if args.BO == nil {
		return errors.Wrap(ErrBindingOutOfRange, "indirect draw without an argument buffer")
	}
	d := drawInfo{instances: 1, indexed: indexed, indirect: true}
	if ok, err := cb.beforeDraw(&d); !ok {
		return err
	}
	if count == nil && drawCount == 0 {
		return nil
	}
	cb.addBuffer(args.BO)

	if indexed {
		cb.emitIndexType()
		pm4.IndexBase(cb.cs, cb.index.va)
		pm4.IndexBufferSize(cb.cs, cb.index.maxIndices())
	}
	pm4.SetBase(cb.cs, pm4.BaseIndexDrawIndirect, args.BO.VA())

	vtx, inst, drawID := cb.drawRegs()
	off := uint32(args.Offset)
	pred := cb.predicate.active
	if count == nil && drawCount == 1 && drawID == 0 {
		pm4.DrawIndirect(cb.cs, indexed, off, vtx, inst, pred)
	} else {
		var countVA uint64
		if count != nil && count.BO != nil {
			cb.addBuffer(count.BO)
			countVA = count.BO.VA() + count.Offset
		}
		pm4.DrawIndirectMulti(cb.cs, indexed, off, vtx, inst, drawID, drawCount, countVA, stride, pred)
	}

	// The CP wrote these behind our back.
	cb.last.drawParams = cached[[3]uint32]{}
	cb.last.instances = cached[uint32]{}
	cb.afterDraw()
	return nil
}

// CmdDrawIndirect records drawCount non-indexed draws whose arguments are
// read from args, stride bytes apart.
func (cb *CommandBuffer) CmdDrawIndirect(args IndirectBuffer, drawCount, stride uint32) error {
	return cb.drawIndirect(false, args, drawCount, stride, nil)
}

// CmdDrawIndexedIndirect records drawCount indexed draws whose arguments
// are read from args.
func (cb *CommandBuffer) CmdDrawIndexedIndirect(args IndirectBuffer, drawCount, stride uint32) error {
	return cb.drawIndirect(true, args, drawCount, stride, nil)
}

// CmdDrawIndirectCount records up to maxDrawCount draws; the actual count
// is read from count at execution time.
func (cb *CommandBuffer) CmdDrawIndirectCount(indexed bool, args IndirectBuffer, count CountBuffer, maxDrawCount, stride uint32) error {
	if count.BO == nil {
		return errors.Wrap(ErrBindingOutOfRange, "indirect count draw without a count buffer")
	}
	return cb.drawIndirect(indexed, args, maxDrawCount, stride, &count)
}

// CmdDrawIndirectByteCount draws the vertices a transform feedback pass
// wrote. The vertex count is the byte count stored at counterOffset in
// counter, less counterVertexOffset, divided by vertexStride.
func (cb *CommandBuffer) CmdDrawIndirectByteCount(instanceCount, firstInstance uint32, counter winsys.BO, counterOffset uint64, counterVertexOffset, vertexStride uint32) error {
	if counter == nil {
		return errors.Wrap(ErrBindingOutOfRange, "byte count draw without a counter buffer")
	}
	if vertexStride == 0 || vertexStride%4 != 0 {
		return errors.Wrapf(ErrInvalidState, "byte count draw with vertex stride %d", vertexStride)
	}
	d := drawInfo{instances: instanceCount, strmout: true}
	if ok, err := cb.beforeDraw(&d); !ok {
		return err
	}
	cb.emitDrawParams(0, firstInstance)

	cb.addBuffer(counter)
	va := counter.VA() + counterOffset
	cb.setContextReg(pm4.RegVGTStrmoutDrawOpaqueStride, vertexStride/4)
	cb.setContextReg(pm4.RegVGTStrmoutDrawOpaqueOffset, counterVertexOffset)
	if cb.dev.info.Level >= gfx.GFX9 {
		pm4.LoadContextReg(cb.cs, va, pm4.RegVGTStrmoutBufferFilledSize, 1)
	} else {
		pm4.CopyMemToReg(cb.cs, va, pm4.RegVGTStrmoutBufferFilledSize)
	}
	pm4.DrawIndexAuto(cb.cs, 0, true, cb.predicate.active)
	cb.afterDraw()
	return nil
}

// Task and mesh draws.

// taskInitiator returns the dispatch initiator of a task shader.
func (cb *CommandBuffer) taskInitiator(ts *Shader) uint32 {
	init := pm4.DispatchComputeShaderEn | pm4.DispatchForceStartAt000 | pm4.DispatchOrderMode
	if ts.Wave32 {
		init |= pm4.DispatchCSW32En
	}
	return init
}

// ringReg returns the SH register offset receiving the task ring entry.
func ringReg(sh *Shader) uint32 {
	if sh == nil {
		return 0
	}
	loc := sh.Loc(SGPRRingEntry)
	if !loc.Present() {
		return 0
	}
	return pm4.SHRegOffset(sh.userReg(loc.SGPR))
}

// gridReg returns the SH offset of the grid size SGPRs of sh, or 0 if it
// reads none.
func gridReg(sh *Shader) uint32 {
	loc := sh.Loc(SGPRNumWorkgroups)
	if !loc.Present() {
		return 0
	}
	return pm4.SHRegOffset(sh.userReg(loc.SGPR))
}

// gridSize returns x*y*z saturated to 32 bits.
func gridSize(x, y, z uint32) uint32 {
	return uint32(min(uint64(x)*uint64(y)*uint64(z), math.MaxUint32))
}

// gridDims uploads x, y, z and points the NumWorkgroups SGPRs of sh at
// them.
func (cb *CommandBuffer) gridDims(s pm4.Sink, sh *Shader, x, y, z uint32) bool {
	loc := sh.Loc(SGPRNumWorkgroups)
	if !loc.Present() {
		return true
	}
	va, ok := cb.uploadDwords([]uint32{x, y, z})
	if !ok {
		return false
	}
	pm4.SetSHRegSeq(s, sh.userReg(loc.SGPR), pm4.Lo(va), pm4.Hi(va))
	return true
}

// beforeTask synchronizes the compute stream with the graphics stream
// ahead of a task dispatch.
func (cb *CommandBuffer) beforeTask() error {
	if err := cb.gang.BeforeDispatch(cb.cs); err != nil {
		cb.recordError(errors.Mark(err, ErrOutOfHostMemory))
		return cb.err
	}
	return nil
}

// CmdDrawMeshTasks launches x*y*z task workgroups, or mesh workgroups when
// the pipeline has no task shader.
func (cb *CommandBuffer) CmdDrawMeshTasks(x, y, z uint32) error {
	d := drawInfo{count: gridSize(x, y, z), instances: 1, mesh: true}
	if ok, err := cb.beforeDraw(&d); !ok {
		return err
	}
	p := cb.graphics
	ms := p.shaders[StageMesh]
	pred := cb.predicate.active

	if ts := p.shaders[StageTask]; ts != nil {
		if err := cb.beforeTask(); err != nil {
			return err
		}
		ace := cb.gang.Stream()
		if !cb.gridDims(ace, ts, x, y, z) {
			return cb.err
		}
		pm4.DispatchTaskMeshDirectACE(ace, x, y, z, cb.taskInitiator(ts), ringReg(ts), pred)
		pm4.DispatchTaskMeshGFX(cb.cs, ringReg(ms), 0, pred)
	} else {
		if !cb.gridDims(cb.cs, ms, x, y, z) {
			return cb.err
		}
		pm4.DrawIndexAuto(cb.cs, d.count, false, pred)
	}
	cb.afterDraw()
	return nil
}

// CmdDrawMeshTasksIndirect launches task workgroups with the grid sizes
// read from args. With count set the number of launches is read from the
// count buffer, up to drawCount.
func (cb *CommandBuffer) CmdDrawMeshTasksIndirect(args IndirectBuffer, drawCount, stride uint32, count *CountBuffer) error {
	if args.BO == nil {
		return errors.Wrap(ErrBindingOutOfRange, "indirect mesh draw without an argument buffer")
	}
	if err := cb.requireGraphics(); err != nil {
		return err
	}
	ts := cb.graphics.shaders[StageTask]
	if ts == nil {
		return errors.Wrap(ErrUnsupported, "indirect mesh draws need a task shader")
	}
	d := drawInfo{instances: 1, indirect: true, mesh: true}
	if ok, err := cb.beforeDraw(&d); !ok {
		return err
	}
	if err := cb.beforeTask(); err != nil {
		return err
	}

	ace := cb.gang.Stream()
	ace.AddBuffer(args.BO)
	var countVA uint64
	if count != nil && count.BO != nil {
		ace.AddBuffer(count.BO)
		countVA = count.BO.VA() + count.Offset
	}
	pm4.DispatchTaskMeshIndirectACE(ace, args.BO.VA()+args.Offset, drawCount, countVA, stride, cb.taskInitiator(ts), ringReg(ts), gridReg(ts))
	pm4.DispatchTaskMeshGFX(cb.cs, ringReg(cb.graphics.shaders[StageMesh]), 0, cb.predicate.active)
	cb.afterDraw()
	return nil
}

// Dispatches.

func (cb *CommandBuffer) requireCompute() (*Shader, error) {
	if err := cb.check(); err != nil {
		return nil, err
	}
	if cb.family == QueueFamilyTransfer {
		return nil, errors.Wrap(ErrInvalidBindPoint, "dispatch on the transfer queue")
	}
	if cb.compute == nil {
		return nil, errors.Wrap(ErrNoPipeline, "dispatch without a compute pipeline")
	}
	cs := cb.compute.shaders[StageCompute]
	if cs == nil {
		return nil, errors.Wrap(ErrMissingShader, "compute pipeline without a compute shader")
	}
	return cs, nil
}

func (cb *CommandBuffer) emitComputeShader(sh *Shader) {
	if cb.csProgram == sh {
		return
	}
	va := sh.VA()
	pm4.SetSHRegSeq(cb.cs, pm4.RegComputePgmLo, pm4.Lo(va>>8), pm4.Hi(va>>8))
	cb.csProgram = sh
}

func (cb *CommandBuffer) flushComputeBindings(bp BindPoint, sh *Shader) {
	shaders := []*Shader{sh}
	cb.flushDescriptors(bp, shaders)
	cb.flushConstants(bp, shaders)
}

// beforeDispatch mirrors beforeDraw for the compute and ray tracing bind
// points, which share the compute registers.
func (cb *CommandBuffer) beforeDispatch(bp BindPoint, sh *Shader, indirect bool) error {
	if indirect {
		cb.waitCPDMA()
	}
	if cb.csProgram != sh {
		// The user data registers hold the other bind point's bindings.
		cb.descriptors[bp].invalidate()
		cb.push[bp].dirty = true
	}
	if cb.flushBits.Any(flush.RequiresIdle) {
		cb.emitComputeShader(sh)
		cb.emitCacheFlush()
		cb.flushComputeBindings(bp, sh)
	} else {
		cb.emitCacheFlush()
		if cb.pendingPrefetch&prefetchCompute != 0 {
			if cb.dev.info.Level.HasCPDMA() {
				cb.prefetchShader(sh)
			}
			cb.pendingPrefetch &^= prefetchCompute
		}
		cb.flushComputeBindings(bp, sh)
		cb.emitComputeShader(sh)
	}
	return cb.err
}

func dispatchInitiator(sh *Shader) uint32 {
	init := pm4.DispatchComputeShaderEn
	if sh.Wave32 {
		init |= pm4.DispatchCSW32En
	}
	return init
}

// CmdDispatch launches an x*y*z grid of compute workgroups.
func (cb *CommandBuffer) CmdDispatch(x, y, z uint32) error {
	return cb.CmdDispatchBase(0, 0, 0, x, y, z)
}

// CmdDispatchBase launches a grid whose workgroup ids start at the given
// base.
func (cb *CommandBuffer) CmdDispatchBase(baseX, baseY, baseZ, x, y, z uint32) error {
	sh, err := cb.requireCompute()
	if err != nil {
		return err
	}
	if x == 0 || y == 0 || z == 0 {
		return nil
	}
	if err := cb.beforeDispatch(BindPointCompute, sh, false); err != nil {
		return err
	}
	if !cb.gridDims(cb.cs, sh, x, y, z) {
		return cb.err
	}

	init := dispatchInitiator(sh)
	start := [3]uint32{baseX, baseY, baseZ}
	if start == [3]uint32{} {
		init |= pm4.DispatchForceStartAt000
	} else if cb.last.computeStart.update(start) {
		pm4.SetSHRegSeq(cb.cs, pm4.RegComputeStartX, start[:]...)
	}
	pm4.DispatchDirect(cb.cs, x, y, z, init, cb.predicate.active)
	cb.traceMarker()
	return nil
}

// CmdDispatchIndirect launches a grid whose size is read from args.
func (cb *CommandBuffer) CmdDispatchIndirect(args IndirectBuffer) error {
	sh, err := cb.requireCompute()
	if err != nil {
		return err
	}
	if args.BO == nil {
		return errors.Wrap(ErrBindingOutOfRange, "indirect dispatch without an argument buffer")
	}
	if err := cb.beforeDispatch(BindPointCompute, sh, true); err != nil {
		return err
	}
	cb.addBuffer(args.BO)
	va := args.BO.VA() + args.Offset

	if loc := sh.Loc(SGPRNumWorkgroups); loc.Present() {
		pm4.SetSHRegSeq(cb.cs, sh.userReg(loc.SGPR), pm4.Lo(va), pm4.Hi(va))
	}
	init := dispatchInitiator(sh) | pm4.DispatchForceStartAt000
	if cb.family == QueueFamilyCompute {
		pm4.DispatchIndirectMEC(cb.cs, va, init)
	} else {
		pm4.SetBase(cb.cs, pm4.BaseIndexDispatch, args.BO.VA())
		pm4.DispatchIndirect(cb.cs, uint32(args.Offset), init, cb.predicate.active)
	}
	cb.traceMarker()
	return nil
}
