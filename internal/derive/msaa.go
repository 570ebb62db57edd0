package derive

import (
	"math/bits"

	"github.com/chewxy/math32"

	"github.com/gogpu/amdcmd/internal/gfx"
	"github.com/gogpu/amdcmd/internal/pm4"
)

// LineMode is the line rasterization mode.
type LineMode uint8

// Line modes.
const (
	LineDefault LineMode = iota
	LineRectangular
	LineBresenham
	LineRectangularSmooth
)

// ConservativeMode is the conservative rasterization mode.
type ConservativeMode uint8

// Conservative modes.
const (
	ConservativeDisabled ConservativeMode = iota
	ConservativeOverestimate
	ConservativeUnderestimate
)

// RasterizationSamples returns the sample count the rasterizer uses. Lines
// override it: Bresenham lines are single sampled and smooth lines use
// four samples for coverage.
func RasterizationSamples(samples uint32, lines bool, mode LineMode) uint32 {
	if lines {
		switch mode {
		case LineBresenham:
			return 1
		case LineRectangularSmooth:
			return 4
		}
	}
	return max(samples, 1)
}

// PSIterSamples returns how many samples the fragment shader runs at.
func PSIterSamples(sampleShading bool, minSampleShading float32, colorSamples, rastSamples uint32) uint32 {
	if !sampleShading {
		return 1
	}
	n := uint32(math32.Ceil(minSampleShading * float32(max(colorSamples, rastSamples))))
	return nextPow2(max(n, 1))
}

func nextPow2(v uint32) uint32 {
	if v <= 1 {
		return 1
	}
	return 1 << bits.Len32(v-1)
}

// MSAAState is the input to MSAA register derivation.
type MSAAState struct {
	Level         gfx.Level
	RastSamples   uint32
	DepthSamples  uint32
	PSIterSamples uint32
	Conservative  ConservativeMode
	MaxSampleDist uint32
	LineStipple   bool
}

// MSAARegs holds the registers the MSAA emitter writes.
type MSAARegs struct {
	EQAA      uint32
	AAConfig  uint32
	ModeCntl0 uint32
}

// MSAA derives DB_EQAA, PA_SC_AA_CONFIG and PA_SC_MODE_CNTL_0.
func MSAA(s MSAAState) MSAARegs {
	rast := max(s.RastSamples, 1)
	eqaa := pm4.EQAA{
		HighQualityIntersections: true,
		IncoherentEQAAReads:      true,
		StaticAnchorAssociations: true,
	}
	aa := pm4.AAConfig{}
	mode := pm4.ModeCntl0{
		VportScissorEnable:  true,
		LineStippleEnable:   s.LineStipple,
		AlternateRBsPerTile: s.Level >= gfx.GFX9,
	}

	if rast > 1 {
		logRast := logFloor(rast)
		logZ := logFloor(max(s.DepthSamples, rast))
		logPS := logFloor(max(s.PSIterSamples, 1))

		eqaa.MaxAnchorSamples = logZ
		eqaa.PSIterSamples = logPS
		eqaa.MaskExportNumSamples = logRast
		eqaa.AlphaToMaskNumSamples = logRast

		aa.MSAANumSamples = logRast
		aa.MaxSampleDist = s.MaxSampleDist
		aa.MSAAExposedSamples = logRast
		aa.CoveredCentroidCenter = s.Level >= gfx.GFX103
		mode.MSAAEnable = true
	}

	if s.Conservative != ConservativeDisabled && s.Level >= gfx.GFX9 {
		eqaa.OverrasterizationAmount = 4
		aa.AAMaskCentroidDtmn = true
		if s.Conservative == ConservativeUnderestimate {
			aa.MSAANumSamples = 0
		}
	}

	return MSAARegs{
		EQAA:      eqaa.Pack(),
		AAConfig:  aa.Pack(),
		ModeCntl0: mode.Pack(),
	}
}

// ConservativeRastCntl returns PA_SC_CONSERVATIVE_RASTERIZATION_CNTL.
func ConservativeRastCntl(mode ConservativeMode, innerCoverage bool) uint32 {
	if mode == ConservativeDisabled {
		return pm4.ConservativeRast{NullSquadAAMaskEnable: true}.Pack()
	}
	r := pm4.ConservativeRast{
		PreZAAMaskEnable:       true,
		PostZAAMaskEnable:      true,
		CentroidSampleOverride: true,
	}
	if mode == ConservativeOverestimate && !innerCoverage {
		r.OverRastEnable = true
		r.UnderRastSampleSelect = 1
		r.PBBUncertaintyRegion = true
	} else {
		r.OverRastSampleSelect = 1
		r.UnderRastEnable = true
	}
	return r.Pack()
}

// SampleMask returns the PA_SC_AA_MASK_X0Y0_X1Y0 and _X0Y1_X1Y1 value for
// the low sixteen bits of a sample mask.
func SampleMask(mask uint32) uint32 {
	m := mask & 0xFFFF
	return m | m<<16
}

// AlphaToMask returns DB_ALPHA_TO_MASK with dithered offsets.
func AlphaToMask(enable bool) uint32 {
	// Offsets 3, 1, 0, 2 with rounding.
	v := uint32(3<<8 | 1<<10 | 2<<14 | 1<<16)
	if enable {
		v |= 1
	}
	return v
}
