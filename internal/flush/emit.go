package flush

import (
	"github.com/gogpu/amdcmd/internal/gfx"
	"github.com/gogpu/amdcmd/internal/pm4"
)

// Fence is the per-command-buffer timestamp that CB/DB flushes signal and
// wait on. Count increments with every timestamped flush.
type Fence struct {
	VA    uint64
	Count uint32

	// EOPBugVA receives the ZPASS_DONE that must precede end-of-pipe events
	// on GFX9 graphics queues.
	EOPBugVA uint64
}

// Emitter appends the packets performing a set of cache operations.
type Emitter interface {
	// Emit performs bits on queue q and returns the bits that were
	// actually executed after queue masking.
	Emit(s pm4.Sink, q Queue, bits Bits, f *Fence) Bits
}

// NewEmitter returns the emitter for a hardware generation.
func NewEmitter(level gfx.Level) Emitter {
	if level >= gfx.GFX10 {
		return naviEmitter{level: level}
	}
	return legacyEmitter{level: level}
}

// WriteEventEOP emits an end-of-pipe or end-of-shader event that writes
// data to va once the event is reached.
func WriteEventEOP(s pm4.Sink, level gfx.Level, q Queue, e pm4.Event, flags, dataSel uint32, va, data, eopBugVA uint64) {
	mec := q == QueueCompute && level >= gfx.GFX7
	gfx8MEC := mec && level < gfx.GFX9

	if level >= gfx.GFX9 || gfx8MEC {
		if level == gfx.GFX9 && !mec {
			pm4.EventWriteVA(s, pm4.EventZPassDone, 1, eopBugVA)
		}
		pm4.ReleaseMem(s, e, flags, dataSel, va, data, gfx8MEC)
		return
	}

	if e == pm4.EventCSDone || e == pm4.EventPSDone {
		if mec {
			pm4.ReleaseMem(s, e, flags, dataSel, va, data, true)
		} else {
			pm4.EventWriteEOS(s, e, va, uint32(data))
		}
		return
	}

	// GFX7 and GFX8 need two EOP events before all engines are idle.
	if level == gfx.GFX7 || level == gfx.GFX8 {
		pm4.EventWriteEOP(s, e, flags, dataSel, va, 0)
	}
	pm4.EventWriteEOP(s, e, flags, dataSel, va, data)
}

// CP_COHER_CNTL bits used on GFX6-GFX9.
const (
	coherTCNCActionEna   uint32 = 1 << 3
	coherCB0DestBaseEna  uint32 = 1 << 6
	coherDBDestBaseEna   uint32 = 1 << 14
	coherTCWBActionEna   uint32 = 1 << 18
	coherTCL1ActionEna   uint32 = 1 << 22
	coherTCActionEna     uint32 = 1 << 23
	coherCBActionEna     uint32 = 1 << 25
	coherDBActionEna     uint32 = 1 << 26
	coherSHKCacheActEna  uint32 = 1 << 27
	coherSHICacheActEna  uint32 = 1 << 29
	coherCBAllDestBase   uint32 = 0xFF * coherCB0DestBaseEna
	gfx9CoherSizeHi      uint32 = 0xFFFFFF
	legacyMECCoherSizeHi uint32 = 0xFF
)

type legacyEmitter struct {
	level gfx.Level
}

func (e legacyEmitter) acquire(s pm4.Sink, mec bool, coher uint32) {
	switch {
	case e.level == gfx.GFX9:
		pm4.AcquireMem(s, coher, gfx9CoherSizeHi, mec)
	case mec:
		pm4.AcquireMem(s, coher, legacyMECCoherSizeHi, true)
	default:
		pm4.SurfaceSync(s, coher)
	}
}

func (e legacyEmitter) Emit(s pm4.Sink, q Queue, bits Bits, f *Fence) Bits {
	bits = bits.ForQueue(q)
	if bits == 0 {
		return 0
	}
	if f == nil {
		f = &Fence{}
	}
	executed := bits
	mec := q == QueueCompute && e.level >= gfx.GFX7
	var coher uint32

	if bits.Any(InvICache) {
		coher |= coherSHICacheActEna
	}
	if bits.Any(InvSCache) {
		coher |= coherSHKCacheActEna
	}

	if e.level <= gfx.GFX8 {
		if bits.Any(FlushAndInvCB) {
			coher |= coherCBActionEna | coherCBAllDestBase
			// Needed for DCC.
			if e.level == gfx.GFX8 {
				WriteEventEOP(s, e.level, q, pm4.EventFlushAndInvCBDataTS, 0, pm4.EOPDataSelDiscard, 0, 0, f.EOPBugVA)
			}
		}
		if bits.Any(FlushAndInvDB) {
			coher |= coherDBActionEna | coherDBDestBaseEna
		}
	}

	if bits.Any(FlushAndInvCBMeta) {
		pm4.EventWrite(s, pm4.EventFlushAndInvCBMeta, 0)
	}
	if bits.Any(FlushAndInvDBMeta) {
		pm4.EventWrite(s, pm4.EventFlushAndInvDBMeta, 0)
	}

	if bits.Any(PSPartialFlush) {
		pm4.EventWrite(s, pm4.EventPSPartialFlush, 4)
	} else if bits.Any(VSPartialFlush) {
		pm4.EventWrite(s, pm4.EventVSPartialFlush, 4)
	}
	if bits.Any(CSPartialFlush) {
		pm4.EventWrite(s, pm4.EventCSPartialFlush, 4)
	}

	if e.level == gfx.GFX9 && bits.Any(FlushAndInvCB|FlushAndInvDB) {
		tc := pm4.EOPTCActionEn | pm4.EOPTCMDActionEn
		// Flushing L2 together with CB/DB covers INV_L2, WB_L2 and INV_VCACHE.
		if bits.Any(InvL2) {
			tc = pm4.EOPTCActionEn | pm4.EOPTCWBActionEn
			bits &^= InvL2 | WBL2 | InvVCache
		}
		f.Count++
		WriteEventEOP(s, e.level, QueueGeneral, pm4.EventCacheFlushAndInvTS, tc, pm4.EOPDataSelValue32, f.VA, uint64(f.Count), f.EOPBugVA)
		pm4.WaitRegMem(s, pm4.WaitEqual, f.VA, f.Count, 0xFFFFFFFF)
	}

	if bits.Any(VGTFlush) {
		pm4.EventWrite(s, pm4.EventVGTFlush, 0)
	}
	if bits.Any(VGTStreamoutSync) {
		pm4.EventWrite(s, pm4.EventVGTStreamoutSync, 0)
	}

	// ME executes most packets; keep PFP from racing ahead of it.
	if (coher != 0 || bits.Any(CSPartialFlush|InvVCache|InvL2|WBL2)) && !mec {
		pm4.PFPSyncME(s)
	}

	if bits.Any(InvL2) || (e.level <= gfx.GFX7 && bits.Any(WBL2)) {
		c := coher | coherTCActionEna | coherTCL1ActionEna
		if e.level >= gfx.GFX8 {
			c |= coherTCWBActionEna
		}
		e.acquire(s, mec, c)
		coher = 0
	} else {
		if bits.Any(WBL2) {
			e.acquire(s, mec, coher|coherTCWBActionEna|coherTCNCActionEna)
			coher = 0
		}
		if bits.Any(InvVCache) {
			e.acquire(s, mec, coher|coherTCL1ActionEna)
			coher = 0
		}
	}

	// SURFACE_SYNC waits for idle when a DEST_BASE bit is set, so it goes last.
	if coher != 0 {
		e.acquire(s, mec, coher)
	}

	emitPipelineStats(s, q, bits)
	return executed
}

func emitPipelineStats(s pm4.Sink, q Queue, bits Bits) {
	switch {
	case bits.Any(StartPipelineStats):
		if q == QueueGeneral {
			pm4.EventWrite(s, pm4.EventPipelineStatStart, 0)
		} else {
			pm4.SetSHReg(s, pm4.RegComputePipeStatEn, 1)
		}
	case bits.Any(StopPipelineStats):
		if q == QueueGeneral {
			pm4.EventWrite(s, pm4.EventPipelineStatStop, 0)
		} else {
			pm4.SetSHReg(s, pm4.RegComputePipeStatEn, 0)
		}
	}
}

// GCR_CNTL fields of the GFX10+ ACQUIRE_MEM.
const (
	gcrGLIInvAll  uint32 = 1 << 0
	gcrGL1Range   uint32 = 3 << 2
	gcrGLMWB      uint32 = 1 << 4
	gcrGLMInv     uint32 = 1 << 5
	gcrGLKInv     uint32 = 1 << 7
	gcrGLVInv     uint32 = 1 << 8
	gcrGL1Inv     uint32 = 1 << 9
	gcrGL2Range   uint32 = 3 << 11
	gcrGL2Inv     uint32 = 1 << 14
	gcrGL2WB      uint32 = 1 << 15
	gcrSeqMask    uint32 = 3 << 16
	gcrSeqForward uint32 = 1 << 16
)

// gcrToRelease maps GCR_CNTL cache bits to their RELEASE_MEM encoding.
var gcrToRelease = []struct{ gcr, rel uint32 }{
	{gcrGLMWB, pm4.RelGLMWB},
	{gcrGLMInv, pm4.RelGLMInv},
	{gcrGLVInv, pm4.RelGLVInv},
	{gcrGL1Inv, pm4.RelGL1Inv},
	{gcrGL2Inv, pm4.RelGL2Inv},
	{gcrGL2WB, pm4.RelGL2WB},
}

type naviEmitter struct {
	level gfx.Level
}

func (e naviEmitter) Emit(s pm4.Sink, q Queue, bits Bits, f *Fence) Bits {
	bits = bits.ForQueue(q) &^ VGTStreamoutSync
	if bits == 0 {
		return 0
	}
	if f == nil {
		f = &Fence{}
	}
	mec := q == QueueCompute
	var gcr uint32

	if bits.Any(InvICache) {
		gcr |= gcrGLIInvAll
	}
	if bits.Any(InvSCache) {
		gcr |= gcrGL1Inv | gcrGLKInv
	}
	if bits.Any(InvVCache) {
		gcr |= gcrGL1Inv | gcrGLVInv
	}
	switch {
	case bits.Any(InvL2):
		gcr |= gcrGL2Inv | gcrGL2WB | gcrGLMInv | gcrGLMWB
	case bits.Any(WBL2):
		// GLM cannot write back without invalidating.
		gcr |= gcrGL2WB | gcrGLMWB | gcrGLMInv
	case bits.Any(InvL2Metadata):
		gcr |= gcrGLMInv | gcrGLMWB
	}

	var cbdb pm4.Event
	if bits.Any(FlushAndInvCB | FlushAndInvDB) {
		if bits.Any(FlushAndInvCB) {
			pm4.EventWrite(s, pm4.EventFlushAndInvCBMeta, 0)
		}
		if e.level < gfx.GFX11 && bits.Any(FlushAndInvDB) {
			pm4.EventWrite(s, pm4.EventFlushAndInvDBMeta, 0)
		}

		// CB/DB first, then L1/L2.
		gcr |= gcrSeqForward

		switch {
		case bits.Has(FlushAndInvCB | FlushAndInvDB):
			cbdb = pm4.EventCacheFlushAndInvTS
		case bits.Any(FlushAndInvCB):
			cbdb = pm4.EventFlushAndInvCBDataTS
		case e.level >= gfx.GFX11:
			cbdb = pm4.EventCacheFlushAndInvTS
		default:
			cbdb = pm4.EventFlushAndInvDBDataTS
		}
	} else {
		if bits.Any(PSPartialFlush) {
			pm4.EventWrite(s, pm4.EventPSPartialFlush, 4)
		} else if bits.Any(VSPartialFlush) {
			pm4.EventWrite(s, pm4.EventVSPartialFlush, 4)
		}
	}

	if bits.Any(CSPartialFlush) {
		pm4.EventWrite(s, pm4.EventCSPartialFlush, 4)
	}

	if cbdb != 0 {
		// Cache operations travel with the timestamp in RELEASE_MEM
		// encoding; only SEQ stays behind for the ACQUIRE_MEM.
		var rel uint32
		for _, m := range gcrToRelease {
			if gcr&m.gcr != 0 {
				rel |= m.rel
			}
			gcr &^= m.gcr
		}
		rel |= pm4.RelSeq((gcr & gcrSeqMask) >> 16)

		f.Count++
		WriteEventEOP(s, e.level, q, cbdb, rel, pm4.EOPDataSelValue32, f.VA, uint64(f.Count), f.EOPBugVA)
		pm4.WaitRegMem(s, pm4.WaitEqual, f.VA, f.Count, 0xFFFFFFFF)
	}

	if bits.Any(VGTFlush) {
		pm4.EventWrite(s, pm4.EventVGTFlush, 0)
	}

	// Fields that only modify other fields do not warrant an ACQUIRE_MEM.
	if gcr&^(gcrGL1Range|gcrGL2Range|gcrSeqMask) != 0 {
		pm4.AcquireMemGFX10(s, gcr)
	} else if (cbdb != 0 || bits.Any(VSPartialFlush|PSPartialFlush|CSPartialFlush)) && !mec {
		pm4.PFPSyncME(s)
	}

	emitPipelineStats(s, q, bits)
	return bits
}
