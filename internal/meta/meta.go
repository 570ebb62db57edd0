// Package meta records the metadata operations image layout transitions
// need: fills of HTILE, CMASK, FMASK and DCC, and the compute passes that
// expand, decompress, eliminate and retile compressed surfaces.
//
// Small fills go through CP DMA where the chip has it. Everything else is
// a compute dispatch of a WGSL kernel from a [Library].
package meta

import (
	"log/slog"

	"github.com/gogpu/amdcmd/internal/flush"
	"github.com/gogpu/amdcmd/internal/gfx"
	"github.com/gogpu/amdcmd/internal/layout"
	"github.com/gogpu/amdcmd/internal/pm4"
	"github.com/gogpu/amdcmd/winsys"
)

// CPDMAThreshold is the fill size from which compute is faster than CP DMA.
const CPDMAThreshold = 4096

// HTILE bits owned by each aspect.
const (
	htileDepthMask   uint32 = 0xFFFFFC0F
	htileStencilMask uint32 = 0x000003F0
)

// Recorder is the command buffer an Engine records into.
type Recorder interface {
	Stream() winsys.Stream
	Level() gfx.Level
	// EmitFlush performs bits right away.
	EmitFlush(bits flush.Bits)
	// MarkDMABusy notes that CP DMA work may still be running.
	MarkDMABusy()
	// InvalidateCompute notes that the compute program and user data
	// registers were overwritten.
	InvalidateCompute()
	// SetError records a sticky recording error.
	SetError(err error)
}

// Engine implements layout.Ops on top of a Recorder.
type Engine struct {
	rec    Recorder
	lib    *Library
	logger *slog.Logger
}

var _ layout.Ops = (*Engine)(nil)

// New creates an engine.
func New(rec Recorder, lib *Library) *Engine {
	return &Engine{rec: rec, lib: lib}
}

// SetLogger sets the logger for recorded operations. Nil disables logging.
func (e *Engine) SetLogger(l *slog.Logger) { e.logger = l }

func (e *Engine) debug(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, args...)
	}
}

// shaderWriteFlush is what a compute write needs before other clients read.
func shaderWriteFlush(img flush.Image) flush.Bits {
	return flush.CSPartialFlush | flush.InvVCache | flush.SrcAccess(flush.AccessShaderWrite, img)
}

// dispatch runs kernel name over count dwords. The user data layout shared
// by all kernels is dst, src, count, value, mask.
func (e *Engine) dispatch(name string, dst, src uint64, count, value, mask uint32) bool {
	k, err := e.lib.Get(name)
	if err != nil {
		e.rec.SetError(err)
		return false
	}
	cs := e.rec.Stream()
	cs.AddBuffer(k.BO)

	va := k.VA()
	pm4.SetSHRegSeq(cs, pm4.RegComputePgmLo, uint32(va>>8), uint32(va>>40))
	pm4.SetSHRegSeq(cs, pm4.RegComputeUserData,
		pm4.Lo(dst), pm4.Hi(dst), pm4.Lo(src), pm4.Hi(src), count, value, mask)
	groups := (count + WorkgroupSize - 1) / WorkgroupSize
	pm4.DispatchDirect(cs, groups, 1, 1, pm4.DispatchComputeShaderEn|pm4.DispatchForceStartAt000, false)
	e.rec.InvalidateCompute()

	e.debug("meta: dispatch", slog.String("kernel", name), slog.Uint64("groups", uint64(groups)))
	return true
}

// fill writes value under mask to size bytes at va.
func (e *Engine) fill(va, size uint64, value, mask uint32, img flush.Image) flush.Bits {
	size &^= 3
	if size == 0 {
		return 0
	}
	if mask == ^uint32(0) && e.rec.Level().HasCPDMA() && size < CPDMAThreshold {
		pm4.DMAData(e.rec.Stream(), pm4.DMASrcSelData|pm4.DMADstSelTCL2, uint64(value), va, uint32(size), 0)
		e.rec.MarkDMABusy()
		e.debug("meta: cp dma fill", slog.Uint64("va", va), slog.Uint64("size", size))
		return 0
	}
	if !e.dispatch(KernelFill, va, 0, uint32(size/4), value, mask) {
		return 0
	}
	return shaderWriteFlush(img)
}

// htileMask returns the HTILE bits a clear of aspect touches.
func htileMask(img *layout.Image, aspect layout.Aspect) uint32 {
	if img.HTILEDepthOnly || !img.Stencil {
		return ^uint32(0)
	}
	var m uint32
	if aspect&layout.AspectDepth != 0 {
		m |= htileDepthMask
	}
	if aspect&layout.AspectStencil != 0 {
		m |= htileStencilMask
	}
	return m
}

// ClearHTILE implements layout.Ops. A single-aspect clear of a combined
// depth-stencil HTILE keeps the other aspect's bits.
func (e *Engine) ClearHTILE(img *layout.Image, r layout.Range, value uint32) flush.Bits {
	mask := htileMask(img, r.Aspect)
	if mask == 0 {
		return 0
	}
	return e.fill(img.VA+img.HTILE.Offset, img.HTILE.Size, value, mask, img)
}

// ClearCMASK implements layout.Ops.
func (e *Engine) ClearCMASK(img *layout.Image, _ layout.Range, value uint32) flush.Bits {
	return e.fill(img.VA+img.CMASK.Offset, img.CMASK.Size, value, ^uint32(0), img)
}

// ClearFMASK implements layout.Ops.
func (e *Engine) ClearFMASK(img *layout.Image, _ layout.Range, value uint32) flush.Bits {
	return e.fill(img.VA+img.FMASK.Offset, img.FMASK.Size, value, ^uint32(0), img)
}

// ClearDCC implements layout.Ops.
func (e *Engine) ClearDCC(img *layout.Image, _ layout.Range, value uint32) flush.Bits {
	return e.fill(img.VA+img.DCC.Offset, img.DCC.Size, value, ^uint32(0), img)
}

// FillBuffer implements layout.Ops.
func (e *Engine) FillBuffer(va, size uint64, value uint32) flush.Bits {
	return e.fill(va, size, value, ^uint32(0), nil)
}

// WriteMetadata implements layout.Ops.
func (e *Engine) WriteMetadata(va uint64, words ...uint32) {
	if len(words) == 0 {
		return
	}
	pm4.WriteData(e.rec.Stream(), pm4.EnginePFP, va, words...)
}

// EmitFlush implements layout.Ops.
func (e *Engine) EmitFlush(bits flush.Bits) { e.rec.EmitFlush(bits) }

// pass runs an in-place kernel over a metadata surface.
func (e *Engine) pass(name string, img *layout.Image, s layout.Surface, value, mask uint32) flush.Bits {
	if !s.Present() {
		return 0
	}
	if !e.dispatch(name, img.VA, img.VA+s.Offset, uint32(s.Size/4), value, mask) {
		return 0
	}
	return shaderWriteFlush(img)
}

// ExpandDepth implements layout.Ops.
func (e *Engine) ExpandDepth(img *layout.Image, _ layout.Range) flush.Bits {
	return e.pass(KernelHTILEExpand, img, img.HTILE, layout.HTILEInitValue(img), ^uint32(0))
}

// DecompressDCC implements layout.Ops. DCC is left expanded.
func (e *Engine) DecompressDCC(img *layout.Image, _ layout.Range) flush.Bits {
	return e.pass(KernelDCCDecompress, img, img.DCC, layout.DCCInitExpanded, ^uint32(0))
}

// EliminateFastClear implements layout.Ops. The surface the clear state
// lives in is CMASK when present, DCC otherwise. The eliminate predicate
// is reset for the levels in r.
func (e *Engine) EliminateFastClear(img *layout.Image, r layout.Range) flush.Bits {
	s := img.CMASK
	if !s.Present() {
		s = img.DCC
	}
	out := e.pass(KernelFastClearEliminate, img, s, 0, ^uint32(0))
	if img.FCEPredicate != 0 {
		levels := max(r.LevelCount, 1)
		if r.LevelCount == ^uint32(0) {
			levels = max(img.Levels, r.BaseLevel+1) - r.BaseLevel
		}
		e.WriteMetadata(img.FCEPredicateVA(r.BaseLevel), make([]uint32, 2*levels)...)
	}
	return out
}

// ExpandFMASK implements layout.Ops. FMASK is reinitialized to the
// identity mapping afterwards.
func (e *Engine) ExpandFMASK(img *layout.Image, r layout.Range) flush.Bits {
	id := layout.FMASKInitValue(img.Samples)
	out := e.pass(KernelFMASKExpand, img, img.FMASK, id, ^uint32(0))
	if out == 0 {
		return 0
	}
	e.rec.EmitFlush(out)
	return e.ClearFMASK(img, r, id)
}

// RetileDCC implements layout.Ops.
func (e *Engine) RetileDCC(img *layout.Image) flush.Bits {
	if !img.DCC.Present() || !img.DisplayDCC.Present() {
		return 0
	}
	size := min(img.DCC.Size, img.DisplayDCC.Size)
	if !e.dispatch(KernelDCCRetile, img.VA+img.DisplayDCC.Offset, img.VA+img.DCC.Offset,
		uint32(size/4), 0, ^uint32(0)) {
		return 0
	}
	return shaderWriteFlush(img)
}
