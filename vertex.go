package amdcmd

import (
	"math/bits"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/amdcmd/internal/dirty"
	"github.com/gogpu/amdcmd/internal/flush"
	"github.com/gogpu/amdcmd/internal/gfx"
	"github.com/gogpu/amdcmd/internal/pm4"
	"github.com/gogpu/amdcmd/winsys"
)

// VertexBufferBinding is a vertex buffer range bound to one binding. A zero
// Size means the rest of the buffer.
type VertexBufferBinding struct {
	BO     winsys.BO
	Offset uint64
	Size   uint64
}

// boundBuffer is a resolved buffer range.
type boundBuffer struct {
	bo   winsys.BO
	va   uint64
	size uint64
}

func resolveRange(bo winsys.BO, offset, size uint64) boundBuffer {
	if bo == nil {
		return boundBuffer{}
	}
	if size == 0 && offset < bo.Size() {
		size = bo.Size() - offset
	}
	return boundBuffer{bo: bo, va: bo.VA() + offset, size: size}
}

type vertexState struct {
	buffers [MaxVertexBindings]boundBuffer
	bound   uint32
}

// CmdBindVertexBuffers binds vertex buffers starting at binding first.
// When strides is not nil it also sets the binding strides, one per
// buffer.
func (cb *CommandBuffer) CmdBindVertexBuffers(first uint32, buffers []VertexBufferBinding, strides []uint32) error {
	if err := cb.check(); err != nil {
		return err
	}
	if int(first)+len(buffers) > MaxVertexBindings {
		return errors.Wrapf(ErrBindingOutOfRange, "vertex bindings %d..%d", first, int(first)+len(buffers))
	}
	if strides != nil && len(strides) != len(buffers) {
		return errors.Wrapf(ErrBindingOutOfRange, "%d strides for %d buffers", len(strides), len(buffers))
	}
	for i, b := range buffers {
		slot := first + uint32(i)
		cb.vertex.buffers[slot] = resolveRange(b.BO, b.Offset, b.Size)
		if b.BO != nil {
			cb.vertex.bound |= 1 << slot
			cb.addBuffer(b.BO)
		} else {
			cb.vertex.bound &^= 1 << slot
		}
		if strides != nil {
			cb.state.VertexStrides[slot] = strides[i]
		}
	}
	cb.dirty |= dirty.VertexBuffer
	if strides != nil {
		cb.dirty |= dirty.VertexInputBindingStride
	}
	return nil
}

// attributeFormat returns descriptor dword 3 for binding b: the format of
// the first attribute fetching from it, or a raw format.
func (cb *CommandBuffer) attributeFormat(b uint32) uint32 {
	t := &cb.dev.traits
	if vi := cb.state.VertexInput; vi != nil {
		for _, a := range vi.Attributes {
			if a.Binding != b {
				continue
			}
			if f, ok := t.vertexFormat(a.Format); ok {
				return f
			}
			break
		}
	}
	return t.rawFormat
}

// bufferDescriptor packs a 4-dword buffer resource.
func bufferDescriptor(level gfx.Level, va uint64, stride, numRecords, format uint32) [4]uint32 {
	w3 := format
	if level >= gfx.GFX10 {
		oob := uint32(1)
		if stride == 0 {
			oob = 3
		}
		w3 |= oob << bufOOBSelectShift
	}
	return [4]uint32{
		pm4.Lo(va),
		pm4.Hi(va)&0xFFFF | (stride&0x3FFF)<<16,
		numRecords,
		w3,
	}
}

// numRecords is the bound of a buffer descriptor: elements, or bytes when
// the stride is zero. GFX8 always checks bytes.
func numRecords(level gfx.Level, size uint64, stride uint32) uint32 {
	n := size
	if level != gfx.GFX8 && stride != 0 {
		n = (size + uint64(stride) - 1) / uint64(stride)
	}
	if n > 0xFFFFFFFF {
		n = 0xFFFFFFFF
	}
	return uint32(n)
}

// vertexDescriptors builds the descriptors of every binding the vertex
// shader fetches, up to the highest one.
func (cb *CommandBuffer) vertexDescriptors(vs *Shader) []uint32 {
	level := cb.dev.info.Level
	count := bits.Len32(vs.VertexBindings)
	words := make([]uint32, 4*count)
	for b := range count {
		if vs.VertexBindings&(1<<b) == 0 || cb.vertex.bound&(1<<b) == 0 {
			continue
		}
		buf := cb.vertex.buffers[b]
		stride := cb.state.VertexStrides[b]
		d := bufferDescriptor(level, buf.va, stride, numRecords(level, buf.size, stride), cb.attributeFormat(uint32(b)))
		copy(words[4*b:], d[:])
	}
	return words
}

// vertexGroups returns the dirty groups flushVertexDescriptors consumes.
// VertexInput is left to the VS prolog emitter when the pipeline needs
// one.
func (cb *CommandBuffer) vertexGroups() dirty.Bits {
	d := dirty.VertexBuffer | dirty.VertexInputBindingStride
	if !cb.graphics.needed.Any(dirty.VertexInput) {
		d |= dirty.VertexInput
	}
	return d
}

// flushVertexDescriptors uploads the vertex buffer descriptors and points
// the vertex shader at them.
func (cb *CommandBuffer) flushVertexDescriptors() {
	consumed := cb.vertexGroups()
	if !cb.dirty.Any(consumed) {
		return
	}
	vs := cb.graphics.shaders[StageVertex]
	if vs == nil {
		cb.dirty &^= consumed
		return
	}
	loc := vs.Loc(SGPRVertexBuffers)
	if !loc.Present() || vs.VertexBindings == 0 {
		cb.dirty &^= consumed
		return
	}
	va, ok := cb.uploadDwords(cb.vertexDescriptors(vs))
	if !ok {
		return
	}
	pm4.SetSHRegSeq(cb.cs, vs.userReg(loc.SGPR), pm4.Lo(va), pm4.Hi(va))
	cb.dirty &^= consumed
	cb.pendingPrefetch |= prefetchVertexDescriptors
	cb.vertexDescVA = va
	cb.vertexDescSize = uint32(4 * 4 * bits.Len32(vs.VertexBindings))
}

// Streamout.

// TransformFeedbackBinding is a buffer range written by transform
// feedback.
type TransformFeedbackBinding struct {
	BO     winsys.BO
	Offset uint64
	Size   uint64
}

type streamoutState struct {
	buffers [MaxStreamoutBuffers]boundBuffer
	enabled uint32
	active  bool
}

// CmdBindTransformFeedbackBuffers binds streamout targets starting at
// first.
func (cb *CommandBuffer) CmdBindTransformFeedbackBuffers(first uint32, buffers []TransformFeedbackBinding) error {
	if err := cb.check(); err != nil {
		return err
	}
	if int(first)+len(buffers) > MaxStreamoutBuffers {
		return errors.Wrapf(ErrBindingOutOfRange, "streamout bindings %d..%d", first, int(first)+len(buffers))
	}
	for i, b := range buffers {
		slot := first + uint32(i)
		cb.streamout.buffers[slot] = resolveRange(b.BO, b.Offset, b.Size)
		if b.BO != nil {
			cb.streamout.enabled |= 1 << slot
			cb.addBuffer(b.BO)
		} else {
			cb.streamout.enabled &^= 1 << slot
		}
	}
	cb.dirty |= dirty.StreamoutBuffer
	return nil
}

// CmdBeginTransformFeedback starts writing the bound streamout targets.
func (cb *CommandBuffer) CmdBeginTransformFeedback() error {
	if err := cb.check(); err != nil {
		return err
	}
	cb.streamout.active = true
	cb.req.Streamout = true
	cb.dirty |= dirty.StreamoutBuffer
	return nil
}

// CmdEndTransformFeedback stops streamout and waits for the VGT to finish
// writing.
func (cb *CommandBuffer) CmdEndTransformFeedback() error {
	if err := cb.check(); err != nil {
		return err
	}
	cb.streamout.active = false
	cb.flushBits |= flush.VGTStreamoutSync
	cb.emitCacheFlush()
	cb.dirty |= dirty.StreamoutBuffer
	return nil
}

// flushStreamout uploads streamout descriptors and enables the buffers
// the last vertex stage writes.
func (cb *CommandBuffer) flushStreamout() {
	if !cb.dirty.Any(dirty.StreamoutBuffer) {
		return
	}
	cb.dirty &^= dirty.StreamoutBuffer

	last := cb.graphics.lastVGT()
	enabled := uint32(0)
	if cb.streamout.active && last != nil && last.Streamout {
		enabled = cb.streamout.enabled
	}
	if !cb.dev.info.Level.HasMeshShading() || (last != nil && !last.NGG) {
		var cfg uint32
		if enabled != 0 {
			cfg = 1
		}
		cb.setContextReg(pm4.RegVGTStrmoutConfig, cfg)
		cb.setContextReg(pm4.RegVGTStrmoutBufferConfig, enabled)
	}
	if enabled == 0 || last == nil {
		return
	}
	loc := last.Loc(SGPRStreamoutBuffers)
	if !loc.Present() {
		return
	}
	level := cb.dev.info.Level
	words := make([]uint32, 4*MaxStreamoutBuffers)
	for i := range MaxStreamoutBuffers {
		if enabled&(1<<i) == 0 {
			continue
		}
		buf := cb.streamout.buffers[i]
		d := bufferDescriptor(level, buf.va, 0, numRecords(level, buf.size, 0), cb.dev.traits.rawFormat)
		copy(words[4*i:], d[:])
	}
	va, ok := cb.uploadDwords(words)
	if !ok {
		return
	}
	pm4.SetSHRegSeq(cb.cs, last.userReg(loc.SGPR), pm4.Lo(va), pm4.Hi(va))
}

// Index buffer.

type indexState struct {
	bo     winsys.BO
	va     uint64
	size   uint64
	format gputypes.IndexFormat
	bound  bool
}

// hwIndexType returns the VGT_INDEX_TYPE value of f.
func hwIndexType(f gputypes.IndexFormat) uint32 {
	if f == gputypes.IndexFormatUint32 {
		return 1
	}
	return 0
}

func indexSize(f gputypes.IndexFormat) uint64 {
	if f == gputypes.IndexFormatUint32 {
		return 4
	}
	return 2
}

// maxIndices returns how many indices fit in the bound range.
func (s *indexState) maxIndices() uint32 {
	n := s.size / indexSize(s.format)
	if n > 0xFFFFFFFF {
		n = 0xFFFFFFFF
	}
	return uint32(n)
}

// CmdBindIndexBuffer binds the index buffer used by indexed draws.
func (cb *CommandBuffer) CmdBindIndexBuffer(bo winsys.BO, offset uint64, format gputypes.IndexFormat) error {
	if err := cb.check(); err != nil {
		return err
	}
	if bo == nil {
		cb.index = indexState{}
		cb.dirty |= dirty.IndexBuffer
		return nil
	}
	r := resolveRange(bo, offset, 0)
	cb.index = indexState{bo: bo, va: r.va, size: r.size, format: format, bound: true}
	cb.addBuffer(bo)
	cb.dirty |= dirty.IndexBuffer
	return nil
}
