package derive

import (
	"math/bits"

	"github.com/gogpu/amdcmd/internal/gfx"
	"github.com/gogpu/amdcmd/internal/pm4"
)

// Extent is a bin size in pixels. The zero Extent disables binning.
type Extent struct {
	Width, Height uint32
}

func (e Extent) area() uint32 { return e.Width * e.Height }

// BinningAttachments summarizes the bound attachments for bin sizing.
type BinningAttachments struct {
	// ColorBlockSizes lists bytes per pixel of every color target that is
	// written.
	ColorBlockSizes []uint32
	ColorSamples    uint32
	HasDepth        bool
	HasStencil      bool
	DepthSamples    uint32
}

// BinningSettings are the per-chip batch limits.
type BinningSettings struct {
	ContextStatesPerBin    uint32
	PersistentStatesPerBin uint32
	FPOVSPerBatch          uint32
}

// DefaultBinningSettings returns the limits used for info.
func DefaultBinningSettings(info gfx.Info) BinningSettings {
	s := BinningSettings{FPOVSPerBatch: 63}
	switch {
	case info.DedicatedVRAM && info.NumRenderBackends > 4:
		s.ContextStatesPerBin, s.PersistentStatesPerBin = 1, 1
	case info.DedicatedVRAM:
		s.ContextStatesPerBin, s.PersistentStatesPerBin = 3, 8
	default:
		s.ContextStatesPerBin, s.PersistentStatesPerBin = 6, 16
	}
	if info.HasGFX9ScissorBug {
		s.ContextStatesPerBin = 1
	}
	return s
}

type binEntry struct {
	start uint32
	size  Extent
}

// gfx9ColorBins is indexed by [log2 RBs per SE][log2 SEs].
var gfx9ColorBins = [3][3][]binEntry{
	{
		{{0, Extent{64, 32}}, {2, Extent{32, 32}}, {3, Extent{16, 32}}, {9, Extent{16, 16}}, {0x7FFFFFFF, Extent{0, 0}}},
		{{0, Extent{128, 32}}, {2, Extent{64, 32}}, {3, Extent{32, 32}}, {5, Extent{16, 32}}, {0x7FFFFFFF, Extent{0, 0}}},
		{{0, Extent{128, 64}}, {2, Extent{64, 64}}, {3, Extent{64, 32}}, {7, Extent{32, 32}}, {9, Extent{16, 32}}, {0x7FFFFFFF, Extent{0, 0}}},
	},
	{
		{{0, Extent{128, 32}}, {2, Extent{64, 32}}, {3, Extent{32, 32}}, {5, Extent{16, 32}}, {33, Extent{16, 16}}, {0x7FFFFFFF, Extent{0, 0}}},
		{{0, Extent{128, 64}}, {2, Extent{64, 64}}, {3, Extent{64, 32}}, {9, Extent{32, 32}}, {17, Extent{32, 16}}, {0x7FFFFFFF, Extent{0, 0}}},
		{{0, Extent{256, 64}}, {2, Extent{128, 64}}, {3, Extent{64, 64}}, {5, Extent{64, 32}}, {9, Extent{32, 32}}, {17, Extent{32, 16}}, {0x7FFFFFFF, Extent{0, 0}}},
	},
	{
		{{0, Extent{128, 64}}, {2, Extent{64, 64}}, {3, Extent{64, 32}}, {7, Extent{32, 32}}, {17, Extent{32, 16}}, {0x7FFFFFFF, Extent{0, 0}}},
		{{0, Extent{256, 64}}, {2, Extent{128, 64}}, {3, Extent{64, 64}}, {5, Extent{64, 32}}, {9, Extent{32, 32}}, {17, Extent{32, 16}}, {0x7FFFFFFF, Extent{0, 0}}},
		{{0, Extent{256, 128}}, {2, Extent{128, 128}}, {3, Extent{128, 64}}, {5, Extent{64, 64}}, {9, Extent{64, 32}}, {17, Extent{32, 32}}, {0x7FFFFFFF, Extent{0, 0}}},
	},
}

// gfx9DepthBins is indexed like gfx9ColorBins.
var gfx9DepthBins = [3][3][]binEntry{
	{
		{{0, Extent{64, 32}}, {2, Extent{32, 32}}, {3, Extent{16, 32}}, {9, Extent{16, 16}}, {0x7FFFFFFF, Extent{0, 0}}},
		{{0, Extent{128, 64}}, {6, Extent{64, 64}}, {7, Extent{64, 32}}, {13, Extent{32, 32}}, {21, Extent{16, 32}}, {0x7FFFFFFF, Extent{0, 0}}},
		{{0, Extent{128, 64}}, {7, Extent{64, 64}}, {8, Extent{64, 32}}, {27, Extent{32, 32}}, {0x7FFFFFFF, Extent{0, 0}}},
	},
	{
		{{0, Extent{128, 64}}, {2, Extent{64, 64}}, {4, Extent{64, 32}}, {7, Extent{32, 32}}, {16, Extent{16, 32}}, {0x7FFFFFFF, Extent{0, 0}}},
		{{0, Extent{128, 128}}, {4, Extent{128, 64}}, {7, Extent{64, 64}}, {13, Extent{64, 32}}, {25, Extent{32, 32}}, {0x7FFFFFFF, Extent{0, 0}}},
		{{0, Extent{256, 64}}, {5, Extent{128, 64}}, {9, Extent{64, 64}}, {19, Extent{64, 32}}, {41, Extent{32, 32}}, {0x7FFFFFFF, Extent{0, 0}}},
	},
	{
		{{0, Extent{256, 64}}, {4, Extent{128, 64}}, {7, Extent{64, 64}}, {13, Extent{64, 32}}, {25, Extent{32, 32}}, {0x7FFFFFFF, Extent{0, 0}}},
		{{0, Extent{256, 128}}, {4, Extent{128, 128}}, {7, Extent{128, 64}}, {13, Extent{64, 64}}, {25, Extent{64, 32}}, {0x7FFFFFFF, Extent{0, 0}}},
		{{0, Extent{256, 128}}, {5, Extent{256, 64}}, {9, Extent{128, 64}}, {19, Extent{64, 64}}, {41, Extent{64, 32}}, {0x7FFFFFFF, Extent{0, 0}}},
	},
}

func lookupBin(table []binEntry, bpp uint32) Extent {
	e := table[0].size
	for _, b := range table[1:] {
		if b.start > bpp {
			break
		}
		e = b.size
	}
	return e
}

func logCeil(v uint32) uint32 {
	if v <= 1 {
		return 0
	}
	return uint32(bits.Len32(v - 1))
}

func logFloor(v uint32) uint32 {
	if v == 0 {
		return 0
	}
	return uint32(bits.Len32(v) - 1)
}

func smaller(a, b Extent) Extent {
	if b.area() < a.area() {
		return b
	}
	return a
}

// BinSize picks the primitive-binning bin size. A zero result means
// binning must be disabled for this state.
func BinSize(info gfx.Info, att BinningAttachments, psIterSamples uint32) Extent {
	if info.Level >= gfx.GFX10 {
		return gfx10BinSize(info, att)
	}
	return gfx9BinSize(info, att, psIterSamples)
}

func gfx9BinSize(info gfx.Info, att BinningAttachments, psIterSamples uint32) Extent {
	se := max(info.NumShaderEngines, 1)
	rbPerSE := min(logCeil(max(info.NumRenderBackends/se, 1)), 2)
	logSE := min(logCeil(se), 2)

	samples := max(att.ColorSamples, 1)
	var colorBytes uint32
	for _, b := range att.ColorBlockSizes {
		colorBytes += b
	}
	effective := samples
	if effective >= 2 && psIterSamples <= 1 {
		effective = 2
	}
	colorBytes *= effective

	ext := Extent{512, 512}
	ext = smaller(ext, lookupBin(gfx9ColorBins[rbPerSE][logSE], colorBytes))

	if att.HasDepth || att.HasStencil {
		var coeff uint32
		if att.HasDepth {
			coeff += 5
		}
		if att.HasStencil {
			coeff++
		}
		dsBytes := 4 * coeff * max(att.DepthSamples, 1)
		ext = smaller(ext, lookupBin(gfx9DepthBins[rbPerSE][logSE], dsBytes))
	}
	return ext
}

// GFX10 tag budgets.
const (
	dbTagCount    = 312
	dbTagSize     = 64
	colorTagCount = 31
	colorTagSize  = 1024
	fmaskTagCount = 44
	fmaskTagSize  = 256
)

func gfx10BinSize(info gfx.Info, att BinningAttachments) Extent {
	rbs := max(info.NumRenderBackends, 1)
	pipes := max(info.PipeCount(), 1)

	part := func(count, size uint32) uint32 {
		return (count * rbs / pipes) * size * pipes
	}
	fromBudget := func(budget, bpp uint32) Extent {
		l := logFloor(budget / max(bpp, 1))
		return Extent{1 << ((l + 1) / 2), 1 << (l / 2)}
	}

	samples := max(att.ColorSamples, 1)
	var colorBytes uint32
	for _, b := range att.ColorBlockSizes {
		colorBytes += b * samples
	}
	ext := fromBudget(part(colorTagCount, colorTagSize), colorBytes)

	if len(att.ColorBlockSizes) > 0 && samples > 1 {
		fmaskBytes := [4]uint32{0, 1, 1, 4}[min(logFloor(samples), 3)] * uint32(len(att.ColorBlockSizes))
		if fmaskBytes > 0 {
			ext = smaller(ext, fromBudget(part(fmaskTagCount, fmaskTagSize), fmaskBytes))
		}
	}

	if att.HasDepth || att.HasStencil {
		dsBytes := (5 + 1) * max(att.DepthSamples, 1)
		ext = smaller(ext, fromBudget(part(dbTagCount, dbTagSize), dsBytes))
	}

	ext.Width = max(ext.Width, 128)
	ext.Height = max(ext.Height, 64)
	return ext
}

// BinnerCntl returns PA_SC_BINNER_CNTL_0 for a bin size. A zero extent
// yields the disabled value for the generation.
func BinnerCntl(info gfx.Info, ext Extent, s BinningSettings) uint32 {
	if ext.Width == 0 || ext.Height == 0 {
		return DisabledBinnerCntl(info)
	}
	return pm4.BinnerCntl{
		Mode:                   pm4.BinningAllowed,
		BinSizeX:               ext.Width == 16,
		BinSizeY:               ext.Height == 16,
		BinSizeXExtend:         binExtend(ext.Width),
		BinSizeYExtend:         binExtend(ext.Height),
		ContextStatesPerBin:    max(s.ContextStatesPerBin, 1) - 1,
		PersistentStatesPerBin: max(s.PersistentStatesPerBin, 1) - 1,
		DisableStartOfPrim:     true,
		FPOVSPerBatch:          s.FPOVSPerBatch,
		OptimalBinSelection:    true,
	}.Pack()
}

func binExtend(v uint32) uint32 {
	if v == 16 {
		return 0
	}
	return logFloor(max(v, 32)) - 5
}

// DisabledBinnerCntl returns PA_SC_BINNER_CNTL_0 with binning off.
func DisabledBinnerCntl(info gfx.Info) uint32 {
	if info.Level >= gfx.GFX10 {
		return pm4.BinnerCntl{
			Mode:               pm4.BinningDisabledNewSC,
			DisableStartOfPrim: true,
		}.Pack()
	}
	return pm4.BinnerCntl{Mode: pm4.BinningForceLegacySC}.Pack()
}
