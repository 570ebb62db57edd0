package amdcmd

import (
	"encoding/binary"
	"math/bits"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/amdcmd/internal/pm4"
	"github.com/gogpu/amdcmd/winsys"
)

// DynamicBuffer is a uniform or storage buffer whose offset is supplied at
// bind time.
type DynamicBuffer struct {
	BO     winsys.BO
	Offset uint64
	Size   uint64
}

// DescriptorSet is a descriptor set resident in GPU memory.
type DescriptorSet struct {
	BO     winsys.BO
	Offset uint64
	// DynamicBuffers are the dynamic buffers of the set in binding order.
	// Each consumes one dynamic offset.
	DynamicBuffers []DynamicBuffer
}

type descriptorState struct {
	sets  [MaxDescriptorSets]uint64
	valid uint32
	dirty uint32
	// dynamic holds the dynamic buffer descriptors of each set.
	dynamic [MaxDescriptorSets][][4]uint32
}

// invalidate marks every bound set for rewriting, after the user data
// registers were clobbered.
func (s *descriptorState) invalidate() { s.dirty |= s.valid }

// dynamicWords concatenates the dynamic descriptors of all bound sets in
// set order.
func (s *descriptorState) dynamicWords() []uint32 {
	var out []uint32
	for i := range MaxDescriptorSets {
		if s.valid&(1<<i) == 0 {
			continue
		}
		for _, d := range s.dynamic[i] {
			out = append(out, d[:]...)
		}
	}
	return out
}

func (s *descriptorState) dynamicCount() int {
	n := 0
	for i := range MaxDescriptorSets {
		if s.valid&(1<<i) != 0 {
			n += len(s.dynamic[i])
		}
	}
	return n
}

type pushState struct {
	data  [MaxPushConstantSize]byte
	size  uint32
	dirty bool
}

// dword returns push constant dword i.
func (p *pushState) dword(i int) uint32 {
	if 4*i+4 > len(p.data) {
		return 0
	}
	return binary.LittleEndian.Uint32(p.data[4*i:])
}

// StageMask is a set of shader stages, one bit per Stage.
type StageMask uint32

// Stage masks.
const (
	StageMaskVertex      StageMask = 1 << StageVertex
	StageMaskTessControl StageMask = 1 << StageTessControl
	StageMaskTessEval    StageMask = 1 << StageTessEval
	StageMaskGeometry    StageMask = 1 << StageGeometry
	StageMaskTask        StageMask = 1 << StageTask
	StageMaskMesh        StageMask = 1 << StageMesh
	StageMaskFragment    StageMask = 1 << StageFragment
	StageMaskCompute     StageMask = 1 << StageCompute
	StageMaskRayTracing  StageMask = 1 << StageRayTracing

	StageMaskAllGraphics = StageMaskVertex | StageMaskTessControl | StageMaskTessEval |
		StageMaskGeometry | StageMaskTask | StageMaskMesh | StageMaskFragment
	StageMaskAll = StageMaskAllGraphics | StageMaskCompute | StageMaskRayTracing
)

// CmdBindDescriptorSets binds sets starting at set index first. The
// dynamic offsets are consumed in order by the dynamic buffers of the sets.
func (cb *CommandBuffer) CmdBindDescriptorSets(bp BindPoint, first uint32, sets []DescriptorSet, dynamicOffsets []uint32) error {
	if err := cb.check(); err != nil {
		return err
	}
	if !bp.valid() {
		return errors.Wrapf(ErrInvalidBindPoint, "bind point %d", bp)
	}
	if int(first)+len(sets) > MaxDescriptorSets {
		return errors.Wrapf(ErrBindingOutOfRange, "descriptor sets %d..%d", first, int(first)+len(sets))
	}
	want := 0
	for _, s := range sets {
		want += len(s.DynamicBuffers)
	}
	if want != len(dynamicOffsets) {
		return errors.Wrapf(ErrBindingOutOfRange, "%d dynamic offsets for %d dynamic buffers", len(dynamicOffsets), want)
	}

	ds := &cb.descriptors[bp]
	level := cb.dev.info.Level
	raw := cb.dev.traits.rawFormat
	next := 0
	dynamicChanged := false
	for i, s := range sets {
		idx := first + uint32(i)
		if s.BO == nil {
			ds.valid &^= 1 << idx
			dynamicChanged = dynamicChanged || len(ds.dynamic[idx]) > 0
			ds.dynamic[idx] = nil
			continue
		}
		ds.sets[idx] = s.BO.VA() + s.Offset
		ds.valid |= 1 << idx
		ds.dirty |= 1 << idx
		cb.addBuffer(s.BO)

		descs := make([][4]uint32, 0, len(s.DynamicBuffers))
		for _, b := range s.DynamicBuffers {
			off := uint64(dynamicOffsets[next])
			next++
			r := resolveRange(b.BO, b.Offset+off, b.Size)
			cb.addBuffer(b.BO)
			descs = append(descs, bufferDescriptor(level, r.va, 0, numRecords(level, r.size, 0), raw))
		}
		dynamicChanged = dynamicChanged || len(descs) > 0 || len(ds.dynamic[idx]) > 0
		ds.dynamic[idx] = descs
	}
	if n := ds.dynamicCount(); n > MaxDynamicBuffers {
		return errors.Wrapf(ErrBindingOutOfRange, "%d dynamic buffers bound", n)
	}
	if dynamicChanged {
		cb.push[bp].dirty = true
	}
	return nil
}

// CmdPushDescriptorSet uploads the descriptor words of set index set and
// binds the copy.
func (cb *CommandBuffer) CmdPushDescriptorSet(bp BindPoint, set uint32, words []uint32) error {
	if err := cb.check(); err != nil {
		return err
	}
	if !bp.valid() {
		return errors.Wrapf(ErrInvalidBindPoint, "bind point %d", bp)
	}
	if set >= MaxDescriptorSets {
		return errors.Wrapf(ErrBindingOutOfRange, "descriptor set %d", set)
	}
	va, ok := cb.uploadDwords(words)
	if !ok {
		return cb.err
	}
	ds := &cb.descriptors[bp]
	ds.sets[set] = va
	ds.valid |= 1 << set
	ds.dirty |= 1 << set
	if len(ds.dynamic[set]) > 0 {
		ds.dynamic[set] = nil
		cb.push[bp].dirty = true
	}
	return nil
}

// CmdPushConstants updates push constant bytes [offset, offset+len(data))
// for the bind points the stages belong to.
func (cb *CommandBuffer) CmdPushConstants(stages StageMask, offset uint32, data []byte) error {
	if err := cb.check(); err != nil {
		return err
	}
	end := uint64(offset) + uint64(len(data))
	if offset%4 != 0 || len(data)%4 != 0 || end > MaxPushConstantSize {
		return errors.Wrapf(ErrPushConstantRange, "push constants [%d, %d)", offset, end)
	}
	for bp, mask := range [numBindPoints]StageMask{StageMaskAllGraphics, StageMaskCompute, StageMaskRayTracing} {
		if stages&mask == 0 {
			continue
		}
		ps := &cb.push[bp]
		copy(ps.data[offset:], data)
		ps.size = max(ps.size, uint32(end))
		ps.dirty = true
	}
	return nil
}

// sinkFor returns the stream a shader's user data is written to.
func (cb *CommandBuffer) sinkFor(sh *Shader) pm4.Sink {
	if sh.Stage == StageTask {
		return cb.gang.Stream()
	}
	return cb.cs
}

// flushDescriptors writes the dirty set pointers into every shader that
// reads them. Contiguous dirty sets become one register sequence.
func (cb *CommandBuffer) flushDescriptors(bp BindPoint, shaders []*Shader) {
	ds := &cb.descriptors[bp]
	if ds.dirty&ds.valid == 0 {
		return
	}

	var table uint64
	for _, sh := range shaders {
		s := cb.sinkFor(sh)
		if s == nil {
			continue
		}
		if sh.IndirectSets {
			loc := sh.Loc(SGPRIndirectDescriptorSets)
			if !loc.Present() {
				continue
			}
			if table == 0 {
				words := make([]uint32, bits.Len32(ds.valid))
				for i := range words {
					words[i] = pm4.Lo(ds.sets[i])
				}
				va, ok := cb.uploadDwords(words)
				if !ok {
					return
				}
				table = va
			}
			pm4.SetSHReg(s, sh.userReg(loc.SGPR), pm4.Lo(table))
			continue
		}

		loc := sh.Loc(SGPRDescriptorSets)
		if !loc.Present() {
			continue
		}
		mask := ds.dirty & ds.valid & sh.DescriptorSets & (uint32(1)<<loc.Count - 1)
		for mask != 0 {
			start := bits.TrailingZeros32(mask)
			n := bits.TrailingZeros32(^(mask >> start))
			vals := make([]uint32, n)
			for i := range vals {
				vals[i] = pm4.Lo(ds.sets[start+i])
			}
			pm4.SetSHRegSeq(s, sh.userReg(loc.SGPR+uint8(start)), vals...)
			mask &^= (uint32(1)<<n - 1) << start
		}
	}
	ds.dirty = 0
}

// flushConstants uploads the push constant block, with the dynamic buffer
// descriptors after it, and passes it to the shaders that read it.
func (cb *CommandBuffer) flushConstants(bp BindPoint, shaders []*Shader) {
	ps := &cb.push[bp]
	if !ps.dirty {
		return
	}

	needMem := false
	for _, sh := range shaders {
		if sh.Loc(SGPRPushConstants).Present() {
			needMem = true
			break
		}
	}

	var va uint64
	if needMem {
		dyn := cb.descriptors[bp].dynamicWords()
		pushWords := int((ps.size + 15) / 16 * 4)
		words := make([]uint32, pushWords+len(dyn))
		for i := range pushWords {
			words[i] = ps.dword(i)
		}
		copy(words[pushWords:], dyn)
		if len(words) > 0 {
			var ok bool
			if va, ok = cb.uploadDwords(words); !ok {
				return
			}
		}
	}

	for _, sh := range shaders {
		s := cb.sinkFor(sh)
		if s == nil {
			continue
		}
		if loc := sh.Loc(SGPRPushConstants); loc.Present() && va != 0 {
			if loc.Count >= 2 {
				pm4.SetSHRegSeq(s, sh.userReg(loc.SGPR), pm4.Lo(va), pm4.Hi(va))
			} else {
				pm4.SetSHReg(s, sh.userReg(loc.SGPR), pm4.Lo(va))
			}
		}
		if loc := sh.Loc(SGPRInlinePushConstants); loc.Present() && sh.InlinePushConstants != 0 {
			vals := make([]uint32, 0, loc.Count)
			for m := sh.InlinePushConstants; m != 0 && len(vals) < int(loc.Count); m &= m - 1 {
				vals = append(vals, ps.dword(bits.TrailingZeros64(m)))
			}
			pm4.SetSHRegSeq(s, sh.userReg(loc.SGPR), vals...)
		}
	}
	ps.dirty = false
}
