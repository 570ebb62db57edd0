package amdcmd

import (
	"fmt"
	"log/slog"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/amdcmd/internal/dirty"
	"github.com/gogpu/amdcmd/internal/flush"
	"github.com/gogpu/amdcmd/internal/gang"
	"github.com/gogpu/amdcmd/internal/gfx"
	"github.com/gogpu/amdcmd/internal/layout"
	"github.com/gogpu/amdcmd/internal/meta"
	"github.com/gogpu/amdcmd/internal/pm4"
	"github.com/gogpu/amdcmd/internal/upload"
	"github.com/gogpu/amdcmd/winsys"
)

// Status is the lifecycle state of a command buffer.
//
// State transitions:
//
//	Initial -> Begin() -> Recording
//	Recording -> End() -> Executable
//	Recording -> sticky error -> Invalid
//	Executable -> Begin() -> Recording (implicit reset)
//	Any -> Reset() -> Initial
type Status int

// Command buffer states.
const (
	StatusInitial Status = iota
	StatusRecording
	StatusExecutable
	StatusInvalid
)

// String returns the state name.
func (s Status) String() string {
	switch s {
	case StatusInitial:
		return "initial"
	case StatusRecording:
		return "recording"
	case StatusExecutable:
		return "executable"
	case StatusInvalid:
		return "invalid"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Requirements are the queue resources a command buffer needs at submit
// time. They only grow while recording.
type Requirements struct {
	// ScratchBytesPerWave and ScratchWaves size the scratch ring.
	ScratchBytesPerWave uint32
	ScratchWaves        uint32
	// TaskRingEntries sizes the task shader payload ring.
	TaskRingEntries uint32
	// Gang is set when a compute stream runs alongside the main stream.
	Gang bool
	// Streamout is set when transform feedback was used.
	Streamout bool
}

func (r *Requirements) merge(o Requirements) {
	r.ScratchBytesPerWave = max(r.ScratchBytesPerWave, o.ScratchBytesPerWave)
	r.ScratchWaves = max(r.ScratchWaves, o.ScratchWaves)
	r.TaskRingEntries = max(r.TaskRingEntries, o.TaskRingEntries)
	r.Gang = r.Gang || o.Gang
	r.Streamout = r.Streamout || o.Streamout
}

func (r *Requirements) addShader(sh *Shader) {
	if sh == nil {
		return
	}
	r.ScratchBytesPerWave = max(r.ScratchBytesPerWave, sh.ScratchBytesPerWave)
	if sh.ScratchBytesPerWave > 0 {
		r.ScratchWaves = max(r.ScratchWaves, sh.MaxWaves)
	}
	r.TaskRingEntries = max(r.TaskRingEntries, sh.TaskRingEntries)
}

// CommandBuffer records commands for one queue family into a winsys stream.
//
// A CommandBuffer is not safe for concurrent use. Record different command
// buffers on different goroutines instead.
type CommandBuffer struct {
	dev       *Device
	family    uint32
	secondary bool

	cs      winsys.Stream
	ring    *upload.Ring
	gang    *gang.Gang
	meta    *meta.Engine
	planner *layout.Planner
	logger  *slog.Logger

	status Status
	err    error

	dirty dirty.Bits
	// curDirty is the set of groups being emitted, valid while
	// emitGraphicsState runs.
	curDirty dirty.Bits
	state    DynamicState
	graphics *Pipeline
	compute  *Pipeline
	rt       *Pipeline
	// csProgram is the shader the compute program registers point at, nil
	// when they must be rewritten before the next dispatch.
	csProgram *Shader

	descriptors [numBindPoints]descriptorState
	push        [numBindPoints]pushState

	vertex    vertexState
	streamout streamoutState
	index     indexState
	render    renderingState

	flushBits          flush.Bits
	fence              flush.Fence
	fenceReady         bool
	dmaBusy            bool
	rbNoncoherentDirty bool

	// shadow holds the last value written to each context register.
	shadow map[uint32]uint32
	last   lastEmitted

	req       Requirements
	queries   queryState
	predicate predication

	pendingPrefetch prefetchMask
	vertexDescVA    uint64
	vertexDescSize  uint32
}

var _ meta.Recorder = (*CommandBuffer)(nil)

// CreateCommandBuffer creates a command buffer for a queue family. A
// secondary buffer can only be executed from a primary one with
// CmdExecuteCommands.
func (d *Device) CreateCommandBuffer(family uint32, secondary bool) (*CommandBuffer, error) {
	var ip winsys.IPType
	switch family {
	case QueueFamilyGeneral:
		ip = winsys.IPGfx
	case QueueFamilyCompute:
		ip = winsys.IPCompute
	case QueueFamilyTransfer:
		ip = winsys.IPTransfer
	default:
		return nil, errors.Wrapf(ErrInvalidBindPoint, "unknown queue family %d", family)
	}

	cs, err := d.ws.CreateStream(ip, secondary)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "amdcmd: creating command stream"), ErrOutOfHostMemory)
	}

	cb := &CommandBuffer{
		dev:       d,
		family:    family,
		secondary: secondary,
		cs:        cs,
		logger:    d.Logger(),
	}
	cb.ring = upload.New(d.ws, cs, upload.Config{
		LineSize:  d.traits.lineSize,
		MinSize:   d.opts.ringMinSize,
		HostLimit: d.opts.ringLimit,
		Logger:    cb.logger,
	})
	cb.gang = gang.New(d.ws, d.info.Level, cb.ring, secondary)
	cb.gang.SetLogger(cb.logger)
	cb.meta = meta.New(cb, d.kernels)
	cb.meta.SetLogger(cb.logger)
	cb.planner = &layout.Planner{
		Ops:    cb.meta,
		Flush:  d.flush,
		Family: family,
		Logger: cb.logger,
	}
	cb.resetState()
	return cb, nil
}

// resetState returns all recording state to its initial value.
func (cb *CommandBuffer) resetState() {
	cb.status = StatusInitial
	cb.err = nil
	cb.dirty = dirty.All
	cb.state = DefaultDynamicState()
	cb.graphics = nil
	cb.compute = nil
	cb.rt = nil
	cb.csProgram = nil
	cb.descriptors = [numBindPoints]descriptorState{}
	cb.push = [numBindPoints]pushState{}
	cb.vertex = vertexState{}
	cb.streamout = streamoutState{}
	cb.index = indexState{}
	cb.render = renderingState{}
	cb.flushBits = 0
	cb.fence = flush.Fence{}
	cb.fenceReady = false
	cb.dmaBusy = false
	cb.rbNoncoherentDirty = false
	cb.shadow = make(map[uint32]uint32)
	cb.last = lastEmitted{}
	cb.req = Requirements{}
	cb.queries = queryState{}
	cb.predicate = predication{}
	cb.pendingPrefetch = 0
	cb.vertexDescVA = 0
	cb.vertexDescSize = 0
	cb.planner.Pending = 0
}

// Device returns the device the command buffer was created from.
func (cb *CommandBuffer) Device() *Device { return cb.dev }

// Status returns the lifecycle state.
func (cb *CommandBuffer) Status() Status { return cb.status }

// Err returns the sticky error, or nil.
func (cb *CommandBuffer) Err() error { return cb.err }

// Requirements returns the queue resources the recorded work needs.
func (cb *CommandBuffer) Requirements() Requirements { return cb.req }

// Secondary reports whether this is a secondary command buffer.
func (cb *CommandBuffer) Secondary() bool { return cb.secondary }

// Family returns the queue family the buffer records for.
func (cb *CommandBuffer) Family() uint32 { return cb.family }

// Begin starts recording. Beginning an executable buffer resets it first.
func (cb *CommandBuffer) Begin() error {
	switch cb.status {
	case StatusRecording:
		return errors.Wrap(ErrInvalidState, "begin while recording")
	case StatusInvalid:
		return errors.Wrap(ErrInvalidState, "begin on an invalid command buffer, reset it first")
	case StatusExecutable:
		cb.Reset()
	}
	cb.status = StatusRecording
	return nil
}

// End finishes recording. It returns the sticky error of a buffer that
// failed while recording, in which case the buffer stays invalid.
func (cb *CommandBuffer) End() error {
	if cb.err != nil {
		return cb.err
	}
	if cb.status != StatusRecording {
		return errors.Wrap(ErrInvalidState, "end without begin")
	}

	if cb.family != QueueFamilyTransfer {
		if cb.dev.info.Level == gfx.GFX6 {
			cb.flushBits |= flush.CSPartialFlush | flush.PSPartialFlush | flush.WBL2
		}
		cb.flushBits |= cb.queries.flushBits

		// Render backends writing around L2 must be flushed so the next
		// command buffer can assume clean images.
		if cb.rbNoncoherentDirty && !cb.dev.flush.SkipBufferL2Flushes {
			cb.flushBits |= flush.SrcAccess(flush.AccessColorAttachmentWrite|flush.AccessDepthStencilWrite, nil)
		}
		cb.emitCacheFlush()

		if cb.gang.Active() {
			if err := cb.gang.Finalize(cb.cs); err != nil {
				cb.recordError(errors.Mark(err, ErrOutOfHostMemory))
				return cb.err
			}
		}
	}
	cb.waitCPDMA()

	if err := cb.cs.Finalize(); err != nil {
		cb.recordError(errors.Mark(err, ErrOutOfHostMemory))
		return cb.err
	}
	if err := cb.ring.Err(); err != nil {
		cb.recordError(err)
		return cb.err
	}
	cb.status = StatusExecutable
	return nil
}

// Reset discards everything recorded, including a sticky error.
func (cb *CommandBuffer) Reset() {
	cb.cs.Reset()
	cb.ring.Reset()
	cb.gang.Reset()
	cb.resetState()
}

// Destroy releases the streams and upload memory. The buffer must not be
// used afterwards.
func (cb *CommandBuffer) Destroy() {
	cb.gang.Destroy()
	cb.ring.Destroy()
	cb.cs.Destroy()
}

// Stream returns the main command stream.
func (cb *CommandBuffer) Stream() winsys.Stream { return cb.cs }

// GangStream returns the compute stream running task shaders, or nil.
func (cb *CommandBuffer) GangStream() winsys.Stream { return cb.gang.Stream() }

// Level returns the hardware generation recorded for.
func (cb *CommandBuffer) Level() gfx.Level { return cb.dev.info.Level }

// EmitFlush performs bits right away, together with anything pending.
func (cb *CommandBuffer) EmitFlush(bits flush.Bits) {
	cb.flushBits |= bits
	cb.emitCacheFlush()
}

// MarkDMABusy notes that CP DMA work may still be running.
func (cb *CommandBuffer) MarkDMABusy() { cb.dmaBusy = true }

// InvalidateCompute notes that an internal dispatch overwrote the compute
// program and user data registers.
func (cb *CommandBuffer) InvalidateCompute() {
	cb.csProgram = nil
	for _, bp := range []BindPoint{BindPointCompute, BindPointRayTracing} {
		cb.descriptors[bp].invalidate()
		cb.push[bp].dirty = true
	}
	cb.last.computeStart = cached[[3]uint32]{}
}

// SetError records err as the sticky error.
func (cb *CommandBuffer) SetError(err error) { cb.recordError(err) }

// recordError records the first error and invalidates the buffer. Upload
// ring failures are classified as host or device memory exhaustion.
func (cb *CommandBuffer) recordError(err error) {
	if err == nil || cb.err != nil {
		return
	}
	switch {
	case errors.Is(err, ErrOutOfHostMemory), errors.Is(err, ErrOutOfDeviceMemory):
	case errors.Is(err, upload.ErrHostLimit):
		err = errors.Mark(err, ErrOutOfHostMemory)
	case errors.Is(err, upload.ErrBackingAlloc):
		err = errors.Mark(err, ErrOutOfDeviceMemory)
	}
	cb.err = errors.Wrap(err, "amdcmd: recording failed")
	cb.status = StatusInvalid
	cb.logger.Warn("amdcmd: command buffer invalidated", "error", cb.err.Error())
}

// check returns the error a recording entry point reports before doing
// anything.
func (cb *CommandBuffer) check() error {
	if cb.err != nil {
		return cb.err
	}
	if cb.status != StatusRecording {
		return ErrNotRecording
	}
	return nil
}

// recording reports whether void state setters should take effect.
func (cb *CommandBuffer) recording() bool { return cb.check() == nil }

// alloc allocates upload memory, recording a sticky error on failure.
func (cb *CommandBuffer) alloc(size, align uint32) (upload.Allocation, bool) {
	a, err := cb.ring.AllocAligned(size, align)
	if err != nil {
		cb.recordError(err)
		return upload.Allocation{}, false
	}
	return a, true
}

// uploadDwords copies ws into upload memory and returns its address.
func (cb *CommandBuffer) uploadDwords(ws []uint32) (uint64, bool) {
	va, err := cb.ring.UploadDwords(ws)
	if err != nil {
		cb.recordError(err)
		return 0, false
	}
	return va, true
}

// flushQueue returns the flush queue of the buffer's family.
func (cb *CommandBuffer) flushQueue() (flush.Queue, bool) {
	switch cb.family {
	case QueueFamilyGeneral:
		return flush.QueueGeneral, true
	case QueueFamilyCompute:
		return flush.QueueCompute, true
	}
	return 0, false
}

// ensureFence allocates the flush timestamp and, on chips with the EOP
// bug, the ZPASS_DONE scratch area.
func (cb *CommandBuffer) ensureFence() bool {
	if cb.fenceReady {
		return true
	}
	a, ok := cb.alloc(8, 8)
	if !ok {
		return false
	}
	cb.fence.VA = a.VA
	if cb.dev.info.HasEOPBug && cb.family == QueueFamilyGeneral {
		b, ok := cb.alloc(16*cb.dev.info.NumRenderBackends, 8)
		if !ok {
			return false
		}
		cb.fence.EOPBugVA = b.VA
		cb.gang.Chan.EOPBugVA = b.VA
	}
	cb.fenceReady = true
	return true
}

// emitCacheFlush performs the pending flush bits.
func (cb *CommandBuffer) emitCacheFlush() {
	bits := cb.flushBits
	if bits == 0 {
		return
	}
	cb.flushBits = 0
	q, ok := cb.flushQueue()
	if !ok {
		return
	}
	if !cb.ensureFence() {
		return
	}
	done := cb.dev.traits.flusher.Emit(cb.cs, q, bits, &cb.fence)
	if done.Any(flush.FlushAndInvCB | flush.FlushAndInvDB) {
		cb.rbNoncoherentDirty = false
	}
}

// waitCPDMA waits for outstanding CP DMA transfers.
func (cb *CommandBuffer) waitCPDMA() {
	if !cb.dmaBusy {
		return
	}
	if cb.dev.info.Level.HasCPDMA() {
		pm4.DMAData(cb.cs, pm4.DMASrcSelData|pm4.DMADstSelNowhere, 0, 0, 0, pm4.DMACPSync)
	}
	cb.dmaBusy = false
}

// addBuffer references bo from the main stream.
func (cb *CommandBuffer) addBuffer(bo winsys.BO) {
	if bo != nil {
		cb.cs.AddBuffer(bo)
	}
}
