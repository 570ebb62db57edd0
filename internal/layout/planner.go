package layout

import (
	"context"
	"log/slog"
	"math/bits"

	"github.com/gogpu/amdcmd/internal/flush"
	"github.com/gogpu/amdcmd/internal/gfx"
)

// Ops performs the metadata operations a transition asks for. Fills and
// passes return the cache operations their results need before the next
// consumer; the planner accumulates them. Failures are the implementation's
// to record: the planner has no way to undo already planned work.
type Ops interface {
	ClearHTILE(img *Image, r Range, value uint32) flush.Bits
	ClearCMASK(img *Image, r Range, value uint32) flush.Bits
	ClearFMASK(img *Image, r Range, value uint32) flush.Bits
	ClearDCC(img *Image, r Range, value uint32) flush.Bits
	FillBuffer(va, size uint64, value uint32) flush.Bits
	// WriteMetadata stores words at va from the command stream.
	WriteMetadata(va uint64, words ...uint32)
	// EmitFlush performs bits right away. It runs before every pass that
	// reads a surface other work may still be writing.
	EmitFlush(bits flush.Bits)

	ExpandDepth(img *Image, r Range) flush.Bits
	DecompressDCC(img *Image, r Range) flush.Bits
	EliminateFastClear(img *Image, r Range) flush.Bits
	ExpandFMASK(img *Image, r Range) flush.Bits
	RetileDCC(img *Image) flush.Bits
}

// HTILE initial values: fully expanded with the widest valid depth range.
const (
	HTILEInitDepthOnly    uint32 = 0xFFFC000F
	HTILEInitDepthStencil uint32 = 0xFFFFF3FF
)

// DCC fill values.
const (
	DCCInitCompressed uint32 = 0
	DCCInitExpanded   uint32 = 0xFFFFFFFF
)

// CMASK fill values.
const (
	CMASKInitExpanded uint32 = 0xFFFFFFFF
	CMASKInitTCCompat uint32 = 0xCCCCCCCC
)

// fmaskInit is the identity sample mapping per log2 sample count.
var fmaskInit = [4]uint32{0x00000000, 0x02020202, 0xE4E4E4E4, 0x76543210}

// Transition is one image memory barrier.
type Transition struct {
	Image     *Image
	Range     Range
	Old, New  Layout
	SrcFamily uint32
	DstFamily uint32
}

// Planner turns transitions into metadata operations for a command buffer
// recording on queue family Family.
type Planner struct {
	Ops    Ops
	Flush  flush.Config
	Family uint32

	// Pending accumulates the cache operations the planned work requires.
	Pending flush.Bits

	Logger *slog.Logger
}

// FMASKInitValue returns the identity FMASK word for a sample count.
func FMASKInitValue(samples uint32) uint32 { return fmaskInit[log2(samples)&3] }

// HTILEInitValue returns the HTILE word img is initialized to.
func HTILEInitValue(img *Image) uint32 {
	if img.HTILEDepthOnly || !img.Stencil {
		return HTILEInitDepthOnly
	}
	return HTILEInitDepthStencil
}

// skipOwnership reports whether t is the half of an ownership transfer
// that another barrier completes.
func (p *Planner) skipOwnership(t Transition) bool {
	if !t.Image.Exclusive || t.SrcFamily == t.DstFamily {
		return false
	}
	if t.SrcFamily == FamilyExternal || t.SrcFamily == FamilyForeign {
		return true
	}
	if p.Family == QueueTransfer {
		return true
	}
	return p.Family == QueueCompute && (t.SrcFamily == QueueGeneral || t.DstFamily == QueueGeneral)
}

// Apply plans one transition.
func (p *Planner) Apply(t Transition) {
	if p.skipOwnership(t) {
		return
	}
	img := t.Image
	src := QueueMask(img, t.SrcFamily, p.Family)
	dst := QueueMask(img, t.DstFamily, p.Family)

	if l := p.Logger; l != nil && l.Enabled(context.Background(), slog.LevelDebug) {
		l.Debug("layout: transition",
			slog.String("old", t.Old.String()),
			slog.String("new", t.New.String()),
			slog.Uint64("src_mask", uint64(src)),
			slog.Uint64("dst_mask", uint64(dst)))
	}

	if img.IsDepthStencil() {
		p.depth(img, t.Range, t.Old, t.New, src, dst)
	} else {
		p.color(img, t.Range, t.Old, t.New, src, dst)
	}
}

func (p *Planner) depth(img *Image, r Range, prev, next Layout, src, dst uint32) {
	if !img.HasHTILE() {
		return
	}
	from := HTILEIsCompressed(img, prev, src)
	to := HTILEIsCompressed(img, next, dst)

	switch {
	case prev == Undefined, !from && to:
		p.initHTILE(img, r)
	case from && !to:
		p.Pending |= flush.FlushAndInvDB | flush.FlushAndInvDBMeta
		p.pass(func() flush.Bits { return p.Ops.ExpandDepth(img, r) })
		// The expand itself dirties the depth caches.
		p.Pending |= flush.FlushAndInvDB | flush.FlushAndInvDBMeta
	}
}

func (p *Planner) initHTILE(img *Image, r Range) {
	// Earlier depth writes may still be in flight even though the old
	// contents are discarded.
	p.Pending |= flush.SrcAccess(flush.AccessDepthStencilWrite, img)

	// A single-aspect clear is a read-modify-write of HTILE.
	if img.Stencil && r.Aspect != AspectDepth|AspectStencil {
		p.Pending |= flush.DstAccess(p.Flush, flush.AccessShaderRead, img, false)
	}
	p.Pending |= p.Ops.ClearHTILE(img, r, HTILEInitValue(img))

	levels := levelCount(img, r)
	p.Ops.WriteMetadata(img.ClearValueVA(r.BaseLevel), make([]uint32, 2*levels)...)
	if img.TCCompatHTILE && r.Aspect&AspectDepth != 0 {
		p.Ops.WriteMetadata(img.ZRangeVA(r.BaseLevel), make([]uint32, levels)...)
	}
}

func (p *Planner) color(img *Image, r Range, prev, next Layout, src, dst uint32) {
	lvl := r.BaseLevel
	if !img.HasCMASK() && !img.HasFMASK() && !img.DCCEnabled(lvl) {
		return
	}

	if prev == Undefined {
		p.initColor(img, r, next, dst)
		p.retile(img, prev, next, dst)
		return
	}

	var decompressed, eliminated bool
	if img.DCCEnabled(lvl) {
		switch {
		case prev == Preinitialized:
			p.Pending |= p.initDCC(img, r, DCCInitExpanded)
		case DCCIsCompressed(img, lvl, prev, src) && !DCCIsCompressed(img, lvl, next, dst):
			p.pass(func() flush.Bits { return p.Ops.DecompressDCC(img, r) })
			decompressed = true
		case CanFastClear(img, lvl, prev, src) && !CanFastClear(img, lvl, next, dst):
			p.pass(func() flush.Bits { return p.Ops.EliminateFastClear(img, r) })
			eliminated = true
		}
		p.retile(img, prev, next, dst)
	} else if CanFastClear(img, lvl, prev, src) && !CanFastClear(img, lvl, next, dst) {
		p.pass(func() flush.Bits { return p.Ops.EliminateFastClear(img, r) })
		eliminated = true
	}

	from := FMASKCompressionOf(img, prev, src)
	to := FMASKCompressionOf(img, next, dst)
	if from <= to {
		return
	}
	if from == FMASKFull {
		// DCC must not stay compressed over an uncompressed surface when
		// stores cannot keep it valid; the decompress also resolves FMASK.
		if img.DCCEnabled(lvl) && !img.DCCImageStores() && !decompressed {
			p.pass(func() flush.Bits { return p.Ops.DecompressDCC(img, r) })
		} else if !eliminated {
			p.pass(func() flush.Bits { return p.Ops.EliminateFastClear(img, r) })
		}
	}
	if to == FMASKNone {
		p.pass(func() flush.Bits { return p.Ops.ExpandFMASK(img, r) })
	}
}

func (p *Planner) initColor(img *Image, r Range, next Layout, dst uint32) {
	p.Pending |= flush.SrcAccess(flush.AccessColorAttachmentWrite, img)

	var out flush.Bits
	if img.HasCMASK() {
		v := CMASKInitExpanded
		if img.TCCompatCMASK {
			v = CMASKInitTCCompat
		}
		out |= p.Ops.ClearCMASK(img, r, v)
	}
	if img.HasFMASK() {
		out |= p.Ops.ClearFMASK(img, r, FMASKInitValue(img.Samples))
	}
	if img.DCCEnabled(r.BaseLevel) {
		v := DCCInitExpanded
		if DCCIsCompressed(img, r.BaseLevel, next, dst) {
			v = DCCInitCompressed
		}
		out |= p.initDCC(img, r, v)
	}
	if img.HasCMASK() || img.DCCEnabled(r.BaseLevel) {
		levels := levelCount(img, r)
		p.Ops.WriteMetadata(img.FCEPredicateVA(r.BaseLevel), make([]uint32, 2*levels)...)
		p.Ops.WriteMetadata(img.ClearValueVA(r.BaseLevel), make([]uint32, 2*levels)...)
	}
	p.Pending |= out
}

// initDCC fills DCC with value. On GFX8 mip levels past the fast-clearable
// prefix are filled as expanded with a raw buffer fill.
func (p *Planner) initDCC(img *Image, r Range, value uint32) flush.Bits {
	out := p.Ops.ClearDCC(img, r, value)
	if img.Level != gfx.GFX8 {
		return out
	}

	var size uint64
	for _, l := range img.DCCLevelInfo {
		fc := l.FastClearSize * uint64(max(img.Layers, 1))
		if fc == 0 {
			break
		}
		size = l.Offset + fc
	}
	if size != img.DCC.Size {
		out |= p.Ops.FillBuffer(img.VA+img.DCC.Offset+size, img.DCC.Size-size, DCCInitExpanded)
	}
	return out
}

// retile refreshes the displayable DCC copy when the image is handed to
// presentation or to a foreign queue.
func (p *Planner) retile(img *Image, prev, next Layout, dst uint32) {
	if !img.DisplayDCC.Present() || img.Usage&UsageWriteBits == 0 {
		return
	}
	if prev != PresentSrc && (next == PresentSrc || dst&QueueMaskForeign != 0) {
		p.pass(func() flush.Bits { return p.Ops.RetileDCC(img) })
	}
}

// pass runs a metadata pass after flushing everything pending.
func (p *Planner) pass(run func() flush.Bits) {
	if p.Pending != 0 {
		p.Ops.EmitFlush(p.Pending)
		p.Pending = 0
	}
	p.Pending |= run()
}

func levelCount(img *Image, r Range) uint32 {
	if r.LevelCount == ^uint32(0) || r.BaseLevel+r.LevelCount > img.Levels {
		return max(img.Levels, r.BaseLevel+1) - r.BaseLevel
	}
	return max(r.LevelCount, 1)
}

func log2(n uint32) uint32 {
	if n <= 1 {
		return 0
	}
	return uint32(bits.Len32(n) - 1)
}
