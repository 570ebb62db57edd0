// Package flush computes and emits the cache flushes and invalidations a
// memory dependency requires.
//
// The calculator half is pure: SrcAccess, DstAccess and StageFlush map
// access and stage masks to a Bits set. The emitter half turns an
// accumulated Bits set into packets for one hardware generation.
package flush

import "strings"

// Bits is a set of pending cache operations.
type Bits uint32

// Cache operations. The order matches the hardware documentation so that
// dumped values stay comparable with driver traces.
const (
	InvICache Bits = 1 << iota
	InvSCache
	InvVCache
	InvL2
	WBL2
	InvL2Metadata
	FlushAndInvCBMeta
	FlushAndInvDBMeta
	FlushAndInvDB
	FlushAndInvCB
	VSPartialFlush
	PSPartialFlush
	CSPartialFlush
	VGTFlush
	StartPipelineStats
	StopPipelineStats
	VGTStreamoutSync

	numBits = iota
)

// Common combinations.
const (
	FlushAndInvFramebuffer = FlushAndInvCB | FlushAndInvCBMeta | FlushAndInvDB | FlushAndInvDBMeta

	AllCompute = InvICache | InvSCache | InvVCache | InvL2 | WBL2 | CSPartialFlush

	// RequiresIdle is the subset that drains the pipeline. A draw with any of
	// these pending emits its state before the flush so the register writes
	// overlap the drain.
	RequiresIdle = FlushAndInvCB | FlushAndInvDB | PSPartialFlush | CSPartialFlush

	// graphicsOnly cannot be executed by a compute queue.
	graphicsOnly = FlushAndInvFramebuffer | InvL2Metadata | PSPartialFlush | VSPartialFlush |
		VGTFlush | StartPipelineStats | StopPipelineStats
)

var bitNames = [numBits]string{
	"INV_ICACHE",
	"INV_SCACHE",
	"INV_VCACHE",
	"INV_L2",
	"WB_L2",
	"INV_L2_METADATA",
	"FLUSH_AND_INV_CB_META",
	"FLUSH_AND_INV_DB_META",
	"FLUSH_AND_INV_DB",
	"FLUSH_AND_INV_CB",
	"VS_PARTIAL_FLUSH",
	"PS_PARTIAL_FLUSH",
	"CS_PARTIAL_FLUSH",
	"VGT_FLUSH",
	"START_PIPELINE_STATS",
	"STOP_PIPELINE_STATS",
	"VGT_STREAMOUT_SYNC",
}

// Has reports whether every bit of o is set in b.
func (b Bits) Has(o Bits) bool { return b&o == o }

// Any reports whether b and o intersect.
func (b Bits) Any(o Bits) bool { return b&o != 0 }

// ForQueue drops the operations a compute queue cannot perform.
func (b Bits) ForQueue(q Queue) Bits {
	if q == QueueCompute {
		return b &^ graphicsOnly
	}
	return b
}

// String returns the set bits joined by '|', or "0".
func (b Bits) String() string {
	if b == 0 {
		return "0"
	}
	var sb strings.Builder
	for i := 0; i < numBits; i++ {
		if b&(1<<i) == 0 {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('|')
		}
		sb.WriteString(bitNames[i])
	}
	return sb.String()
}

// Queue selects the command processor that executes a flush.
type Queue uint8

// Queues.
const (
	QueueGeneral Queue = iota
	QueueCompute
)

// String returns the queue name.
func (q Queue) String() string {
	if q == QueueCompute {
		return "compute"
	}
	return "general"
}
