package pm4

// ---------------------------------------------------------------------------
// Register writes
// ---------------------------------------------------------------------------

func setRegSeq(s Sink, op Opcode, base, reg, idx uint32, vals []uint32) {
	s.Append(PKT3(op, len(vals), false))
	s.Append((reg-base)>>2 | idx<<28)
	s.AppendArray(vals)
}

// SetConfigReg writes one config register.
func SetConfigReg(s Sink, reg, v uint32) {
	setRegSeq(s, OpSetConfigReg, ConfigRegBase, reg, 0, []uint32{v})
}

// SetContextReg writes one context register.
func SetContextReg(s Sink, reg, v uint32) {
	setRegSeq(s, OpSetContextReg, ContextRegBase, reg, 0, []uint32{v})
}

// SetContextRegSeq writes consecutive context registers starting at reg.
func SetContextRegSeq(s Sink, reg uint32, vals ...uint32) {
	setRegSeq(s, OpSetContextReg, ContextRegBase, reg, 0, vals)
}

// SetSHReg writes one SH register.
func SetSHReg(s Sink, reg, v uint32) {
	setRegSeq(s, OpSetSHReg, SHRegBase, reg, 0, []uint32{v})
}

// SetSHRegSeq writes consecutive SH registers starting at reg.
func SetSHRegSeq(s Sink, reg uint32, vals ...uint32) {
	setRegSeq(s, OpSetSHReg, SHRegBase, reg, 0, vals)
}

// SetUconfigReg writes one uconfig register.
func SetUconfigReg(s Sink, reg, v uint32) {
	setRegSeq(s, OpSetUconfigReg, UconfigRegBase, reg, 0, []uint32{v})
}

// SetUconfigRegIdx writes a uconfig register through SET_UCONFIG_REG_INDEX.
func SetUconfigRegIdx(s Sink, reg, idx, v uint32) {
	setRegSeq(s, OpSetUconfigRegIndex, UconfigRegBase, reg, idx, []uint32{v})
}

// SHRegOffset returns the dword offset of an SH register, as expected by
// packets that name a register instead of writing it.
func SHRegOffset(reg uint32) uint32 {
	return (reg - SHRegBase) >> 2
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// Event is a VGT event type.
type Event uint32

// VGT event types.
const (
	EventCacheFlushTS        Event = 0x04
	EventCSPartialFlush      Event = 0x07
	EventVGTStreamoutSync    Event = 0x08
	EventVSPartialFlush      Event = 0x0F
	EventPSPartialFlush      Event = 0x10
	EventCacheFlushAndInvTS  Event = 0x14
	EventZPassDone           Event = 0x15
	EventPipelineStatStart   Event = 0x19
	EventPipelineStatStop    Event = 0x1A
	EventSamplePipelineStat  Event = 0x1E
	EventSOVGTStreamoutFlush Event = 0x1F
	EventVGTFlush            Event = 0x24
	EventBottomOfPipeTS      Event = 0x28
	EventFlushAndInvDBDataTS Event = 0x2B
	EventFlushAndInvDBMeta   Event = 0x2C
	EventFlushAndInvCBDataTS Event = 0x2D
	EventFlushAndInvCBMeta   Event = 0x2E
	EventCSDone              Event = 0x2F
	EventPSDone              Event = 0x30
	EventBreakBatch          Event = 0x39
)

// EventType packs the event type field.
func EventType(e Event) uint32 { return uint32(e) & 0x3F }

// EventIndex packs the event index field.
func EventIndex(i uint32) uint32 { return (i & 0xF) << 8 }

// EventWrite emits a plain EVENT_WRITE.
func EventWrite(s Sink, e Event, index uint32) {
	s.Append(PKT3(OpEventWrite, 0, false))
	s.Append(EventType(e) | EventIndex(index))
}

// EventWriteVA emits an EVENT_WRITE carrying an address, as used by
// ZPASS_DONE sample writes.
func EventWriteVA(s Sink, e Event, index uint32, va uint64) {
	s.Append(PKT3(OpEventWrite, 2, false))
	s.Append(EventType(e) | EventIndex(index))
	s.Append(Lo(va))
	s.Append(Hi(va))
}

// End-of-pipe selectors.
const (
	EOPDstSelMem            uint32 = 0
	EOPIntSelNone           uint32 = 0
	EOPIntSelAfterWrConfirm uint32 = 3
	EOPDataSelDiscard       uint32 = 0
	EOPDataSelValue32       uint32 = 1
	EOPDataSelValue64       uint32 = 2
	EOPDataSelTimestamp     uint32 = 3
	EOPDataSelGDS           uint32 = 5
)

// EOPDstSel packs DST_SEL.
func EOPDstSel(x uint32) uint32 { return (x & 3) << 16 }

// EOPIntSel packs INT_SEL.
func EOPIntSel(x uint32) uint32 { return (x & 7) << 24 }

// EOPDataSel packs DATA_SEL.
func EOPDataSel(x uint32) uint32 { return (x & 7) << 29 }

// Cache actions carried by end-of-pipe events on GFX7-GFX9.
const (
	EOPTCWBActionEn uint32 = 1 << 15
	EOPTCL1ActionEn uint32 = 1 << 16
	EOPTCActionEn   uint32 = 1 << 17
	EOPTCNCActionEn uint32 = 1 << 19
	EOPTCMDActionEn uint32 = 1 << 21
)

// Cache-control bits carried by RELEASE_MEM on GFX10+.
const (
	RelGLMWB  uint32 = 1 << 12
	RelGLMInv uint32 = 1 << 13
	RelGLVInv uint32 = 1 << 14
	RelGL1Inv uint32 = 1 << 15
	RelGL2Inv uint32 = 1 << 20
	RelGL2WB  uint32 = 1 << 21

	relSeqShift = 22
)

// RelSeq packs the RELEASE_MEM sequencing field.
func RelSeq(x uint32) uint32 { return (x & 3) << relSeqShift }

// eventIndexFor returns the event index an end-of-pipe event is sent with.
func eventIndexFor(e Event) uint32 {
	if e == EventCSDone || e == EventPSDone {
		return 6
	}
	return 5
}

// ReleaseMem emits RELEASE_MEM. Compute queues on GFX8 use the short form
// without the trailing context id dword.
func ReleaseMem(s Sink, e Event, flags, dataSel uint32, va uint64, data uint64, short bool) {
	intSel := EOPIntSelNone
	if dataSel != EOPDataSelDiscard {
		intSel = EOPIntSelAfterWrConfirm
	}
	count := 6
	if short {
		count = 5
	}
	s.Append(PKT3(OpReleaseMem, count, false))
	s.Append(EventType(e) | EventIndex(eventIndexFor(e)) | flags)
	s.Append(EOPDstSel(EOPDstSelMem) | EOPIntSel(intSel) | EOPDataSel(dataSel))
	s.Append(Lo(va))
	s.Append(Hi(va))
	s.Append(Lo(data))
	s.Append(Hi(data))
	if !short {
		s.Append(0)
	}
}

// EventWriteEOP emits the GFX6-GFX8 end-of-pipe event.
func EventWriteEOP(s Sink, e Event, flags, dataSel uint32, va uint64, data uint64) {
	intSel := EOPIntSelNone
	if dataSel != EOPDataSelDiscard {
		intSel = EOPIntSelAfterWrConfirm
	}
	s.Append(PKT3(OpEventWriteEOP, 4, false))
	s.Append(EventType(e) | EventIndex(5) | flags)
	s.Append(Lo(va))
	s.Append(Hi(va)&0xFFFF | EOPIntSel(intSel) | EOPDataSel(dataSel))
	s.Append(Lo(data))
	s.Append(Hi(data))
}

const eosDataSelValue32 uint32 = 2 << 29

// EventWriteEOS emits an end-of-shader event that stores a 32-bit value once
// the selected shader stage drains.
func EventWriteEOS(s Sink, e Event, va uint64, data uint32) {
	s.Append(PKT3(OpEventWriteEOS, 3, false))
	s.Append(EventType(e) | EventIndex(eventIndexFor(e)))
	s.Append(Lo(va))
	s.Append(Hi(va)&0xFFFF | eosDataSelValue32)
	s.Append(data)
}

// ---------------------------------------------------------------------------
// Memory operations
// ---------------------------------------------------------------------------

// WaitFunc is a WAIT_REG_MEM compare function.
type WaitFunc uint32

// WAIT_REG_MEM compare functions.
const (
	WaitEqual        WaitFunc = 3
	WaitNotEqual     WaitFunc = 4
	WaitGreaterEqual WaitFunc = 5
)

const waitMemSpace uint32 = 1 << 4

// WaitRegMem emits a wait until (*va & mask) fn ref.
func WaitRegMem(s Sink, fn WaitFunc, va uint64, ref, mask uint32) {
	s.Append(PKT3(OpWaitRegMem, 5, false))
	s.Append(uint32(fn) | waitMemSpace)
	s.Append(Lo(va))
	s.Append(Hi(va))
	s.Append(ref)
	s.Append(mask)
	s.Append(4)
}

// WRITE_DATA engines.
const (
	EngineME  uint32 = 0
	EnginePFP uint32 = 1
)

const (
	writeDataDstSelMem uint32 = 5 << 8
	writeDataWrConfirm uint32 = 1 << 20
)

// WriteData emits a confirmed memory write of data at va.
func WriteData(s Sink, engine uint32, va uint64, data ...uint32) {
	s.Append(PKT3(OpWriteData, 2+len(data), false))
	s.Append(writeDataDstSelMem | writeDataWrConfirm | engine<<30)
	s.Append(Lo(va))
	s.Append(Hi(va))
	s.AppendArray(data)
}

// AcquireMemGFX10 emits the GFX10+ ACQUIRE_MEM form with a GCR_CNTL word.
func AcquireMemGFX10(s Sink, gcrCntl uint32) {
	s.Append(PKT3(OpAcquireMem, 6, false))
	s.Append(0)
	s.Append(0xFFFFFFFF)
	s.Append(0x00FFFFFF)
	s.Append(0)
	s.Append(0)
	s.Append(0x0000000A)
	s.Append(gcrCntl)
}

// AcquireMem emits the GFX7-GFX9 ACQUIRE_MEM form. Compute queues set the
// shader type bit.
func AcquireMem(s Sink, coherCntl, sizeHi uint32, compute bool) {
	h := PKT3(OpAcquireMem, 5, false)
	if compute {
		h = ComputeShader(h)
	}
	s.Append(h)
	s.Append(coherCntl)
	s.Append(0xFFFFFFFF)
	s.Append(sizeHi)
	s.Append(0)
	s.Append(0)
	s.Append(0x0000000A)
}

// SurfaceSync emits the GFX6 SURFACE_SYNC.
func SurfaceSync(s Sink, coherCntl uint32) {
	s.Append(PKT3(OpSurfaceSync, 3, false))
	s.Append(coherCntl)
	s.Append(0xFFFFFFFF)
	s.Append(0)
	s.Append(0x0000000A)
}

// PFPSyncME stalls the prefetch parser until the micro engine catches up.
func PFPSyncME(s Sink) {
	s.Append(PKT3(OpPFPSyncME, 0, false))
	s.Append(0)
}

// DMA_DATA selectors and flags.
const (
	DMASrcSelTCL2    uint32 = 3 << 29
	DMASrcSelData    uint32 = 2 << 29
	DMADstSelTCL2    uint32 = 3 << 20
	DMADstSelNowhere uint32 = 2 << 20
	DMACPSync        uint32 = 1 << 31

	DMADisableWrConfirm uint32 = 1 << 26
	dmaByteCountMask    uint32 = (1 << 26) - 1
)

// DMAData emits a CP DMA transfer. A zero byte count with DMACPSync waits
// for all previous CP DMA transfers.
func DMAData(s Sink, header uint32, src, dst uint64, bytes, command uint32) {
	s.Append(PKT3(OpDMAData, 5, false))
	s.Append(header)
	s.Append(Lo(src))
	s.Append(Hi(src))
	s.Append(Lo(dst))
	s.Append(Hi(dst))
	s.Append(bytes&dmaByteCountMask | command)
}

const ibValid uint32 = 1 << 23

// IndirectBuffer emits a jump into an indirect buffer.
func IndirectBuffer(s Sink, va uint64, dwords uint32, predicated bool) {
	s.Append(PKT3(OpIndirectBuffer, 2, predicated))
	s.Append(Lo(va))
	s.Append(Hi(va))
	s.Append(dwords | ibValid)
}

// NOP pads the stream with n dwords.
func NOP(s Sink, n int) {
	switch {
	case n <= 0:
		return
	case n == 1:
		s.Append(type2NOP)
	default:
		s.Append(PKT3(OpNOP, n-2, false))
		for i := 0; i < n-1; i++ {
			s.Append(0)
		}
	}
}

// Predication ops.
const (
	PredOpClear  uint32 = 0
	PredOpBool64 uint32 = 3
	PredOpBool32 uint32 = 4

	predDrawVisible = 1 << 8
	predHintNoWait  = 1 << 12
)

func predicationWord(op uint32, drawVisible bool) uint32 {
	if op == PredOpClear {
		return 0
	}
	word := op<<16 | predHintNoWait
	if drawVisible {
		word |= predDrawVisible
	}
	return word
}

// SetPredication enables or disables predication of following packets.
// An op of PredOpClear disables predication.
func SetPredication(s Sink, op uint32, drawVisible bool, va uint64) {
	s.Append(PKT3(OpSetPredication, 2, false))
	s.Append(predicationWord(op, drawVisible))
	s.Append(Lo(va))
	s.Append(Hi(va))
}

// SetPredicationGFX6 is the GFX6-GFX8 form, which packs the high address
// bits next to the operation.
func SetPredicationGFX6(s Sink, op uint32, drawVisible bool, va uint64) {
	s.Append(PKT3(OpSetPredication, 1, false))
	s.Append(Lo(va))
	s.Append(predicationWord(op, drawVisible) | Hi(va)&0xFF)
}

// ---------------------------------------------------------------------------
// Draws and dispatches
// ---------------------------------------------------------------------------

// Draw initiator source selects.
const (
	DISrcSelDMA       uint32 = 0
	DISrcSelAutoIndex uint32 = 2
	DIUseOpaque       uint32 = 1 << 6
)

// NumInstances sets the instance count of following draws.
func NumInstances(s Sink, n uint32) {
	s.Append(PKT3(OpNumInstances, 0, false))
	s.Append(n)
}

// IndexType sets the index type on generations without the uconfig register.
func IndexType(s Sink, t uint32) {
	s.Append(PKT3(OpIndexType, 0, false))
	s.Append(t)
}

// IndexBufferSize sets the number of indices the index buffer holds.
func IndexBufferSize(s Sink, n uint32) {
	s.Append(PKT3(OpIndexBufferSize, 0, false))
	s.Append(n)
}

// IndexBase sets the index buffer address for indirect indexed draws.
func IndexBase(s Sink, va uint64) {
	s.Append(PKT3(OpIndexBase, 1, false))
	s.Append(Lo(va))
	s.Append(Hi(va))
}

// DrawIndexAuto emits a non-indexed draw.
func DrawIndexAuto(s Sink, vertexCount uint32, opaque, predicate bool) {
	init := DISrcSelAutoIndex
	if opaque {
		init |= DIUseOpaque
	}
	s.Append(PKT3(OpDrawIndexAuto, 1, predicate))
	s.Append(vertexCount)
	s.Append(init)
}

// COPY_DATA selectors.
const (
	copyDataSrcMem    uint32 = 1
	copyDataDstReg    uint32 = 0
	copyDataWrConfirm uint32 = 1 << 20
)

// CopyMemToReg emits a COPY_DATA of the dword at va into register reg.
func CopyMemToReg(s Sink, va uint64, reg uint32) {
	s.Append(PKT3(OpCopyData, 4, false))
	s.Append(copyDataSrcMem | copyDataDstReg | copyDataWrConfirm)
	s.Append(Lo(va))
	s.Append(Hi(va))
	s.Append(reg >> 2)
	s.Append(0)
}

// LoadContextReg emits a LOAD_CONTEXT_REG_INDEX of n dwords at va into the
// context registers starting at reg.
func LoadContextReg(s Sink, va uint64, reg, n uint32) {
	s.Append(PKT3(OpLoadContextRegIndex, 3, false))
	s.Append(Lo(va))
	s.Append(Hi(va))
	s.Append((reg - ContextRegBase) >> 2)
	s.Append(n)
}

// DrawIndex2 emits an indexed draw reading indices at va.
func DrawIndex2(s Sink, maxIndices uint32, va uint64, indexCount uint32, predicate bool) {
	s.Append(PKT3(OpDrawIndex2, 4, predicate))
	s.Append(maxIndices)
	s.Append(Lo(va))
	s.Append(Hi(va))
	s.Append(indexCount)
	s.Append(DISrcSelDMA)
}

// SetBase programs the base address used by indirect packets.
func SetBase(s Sink, baseIndex uint32, va uint64) {
	s.Append(PKT3(OpSetBase, 2, false))
	s.Append(baseIndex)
	s.Append(Lo(va))
	s.Append(Hi(va))
}

// Base indices for SET_BASE.
const (
	BaseIndexDrawIndirect uint32 = 1
	BaseIndexDispatch     uint32 = 2
)

// Multi-draw flags.
const (
	multiDrawIDEnable    uint32 = 1 << 31
	multiCountIndirectEn uint32 = 1 << 30
)

// DrawIndirect emits a single indirect draw. vtxReg and instReg are SH
// register offsets receiving base vertex and start instance.
func DrawIndirect(s Sink, indexed bool, offset, vtxReg, instReg uint32, predicate bool) {
	op, init := OpDrawIndirect, DISrcSelAutoIndex
	if indexed {
		op, init = OpDrawIndexIndirect, DISrcSelDMA
	}
	s.Append(PKT3(op, 3, predicate))
	s.Append(offset)
	s.Append(vtxReg)
	s.Append(instReg)
	s.Append(init)
}

// DrawIndirectMulti emits a multi-draw. drawIDReg of zero disables the draw
// id; countVA of zero disables the indirect count.
func DrawIndirectMulti(s Sink, indexed bool, offset, vtxReg, instReg, drawIDReg, drawCount uint32, countVA uint64, stride uint32, predicate bool) {
	op, init := OpDrawIndirectMulti, DISrcSelAutoIndex
	if indexed {
		op, init = OpDrawIndexIndirectMulti, DISrcSelDMA
	}
	flags := drawIDReg & 0xFFFF
	if drawIDReg != 0 {
		flags |= multiDrawIDEnable
	}
	if countVA != 0 {
		flags |= multiCountIndirectEn
	}
	s.Append(PKT3(op, 8, predicate))
	s.Append(offset)
	s.Append(vtxReg)
	s.Append(instReg)
	s.Append(flags)
	s.Append(drawCount)
	s.Append(Lo(countVA))
	s.Append(Hi(countVA))
	s.Append(stride)
	s.Append(init)
}

// Dispatch initiator bits.
const (
	DispatchComputeShaderEn uint32 = 1 << 0
	DispatchForceStartAt000 uint32 = 1 << 2
	DispatchOrderMode       uint32 = 1 << 3
	DispatchCSW32En         uint32 = 1 << 15
)

// DispatchDirect emits a direct compute dispatch.
func DispatchDirect(s Sink, x, y, z, initiator uint32, predicate bool) {
	s.Append(ComputeShader(PKT3(OpDispatchDirect, 3, predicate)))
	s.Append(x)
	s.Append(y)
	s.Append(z)
	s.Append(initiator)
}

// DispatchIndirect emits an indirect dispatch relative to the SET_BASE
// address.
func DispatchIndirect(s Sink, offset, initiator uint32, predicate bool) {
	s.Append(ComputeShader(PKT3(OpDispatchIndirect, 1, predicate)))
	s.Append(offset)
	s.Append(initiator)
}

// DispatchIndirectMEC emits an indirect dispatch on a compute queue, which
// takes the address inline.
func DispatchIndirectMEC(s Sink, va uint64, initiator uint32) {
	s.Append(ComputeShader(PKT3(OpDispatchIndirect, 2, false)))
	s.Append(Lo(va))
	s.Append(Hi(va))
	s.Append(initiator)
}

const (
	taskMeshXYZDimEnable uint32 = 1 << 30
	resetFilterCam       uint32 = 1 << 2
)

// DispatchTaskMeshGFX emits the graphics-side companion of a task dispatch.
func DispatchTaskMeshGFX(s Sink, ringEntryReg, xyzDimReg uint32, predicate bool) {
	flags := uint32(0)
	if xyzDimReg != 0 {
		flags |= taskMeshXYZDimEnable
	}
	s.Append(PKT3(OpDispatchTaskMeshGFX, 2, predicate) | resetFilterCam)
	s.Append(ringEntryReg&0xFFFF | (xyzDimReg&0xFFFF)<<16)
	s.Append(flags)
	s.Append(DISrcSelAutoIndex)
}

// DispatchTaskMeshDirectACE emits a direct task dispatch on the ACE queue.
func DispatchTaskMeshDirectACE(s Sink, x, y, z, initiator, ringEntryReg uint32, predicate bool) {
	s.Append(ComputeShader(PKT3(OpDispatchTaskMeshDirectACE, 4, predicate)))
	s.Append(x)
	s.Append(y)
	s.Append(z)
	s.Append(initiator)
	s.Append(ringEntryReg & 0xFFFF)
}

// DispatchTaskMeshIndirectACE emits an indirect task dispatch on the ACE
// queue. When xyzDimReg is set the CP also writes the grid size read from
// va into the three SGPRs starting there.
func DispatchTaskMeshIndirectACE(s Sink, va uint64, drawCount uint32, countVA uint64, stride, initiator, ringEntryReg, xyzDimReg uint32) {
	s.Append(ComputeShader(PKT3(OpDispatchTaskMeshIndirectACE, 9, false)))
	s.Append(Lo(va))
	s.Append(Hi(va))
	s.Append(ringEntryReg & 0xFFFF)
	s.Append(bit(countVA != 0) | bit(xyzDimReg != 0)<<2)
	s.Append(xyzDimReg & 0xFFFF)
	s.Append(drawCount)
	s.Append(Lo(countVA))
	s.Append(Hi(countVA))
	s.Append(stride)
	s.Append(initiator)
}
