// Package gfx describes AMD GPU generations and the chip properties the
// command-buffer engine depends on.
package gfx

import "fmt"

// Level is a graphics IP generation.
type Level int

// Graphics generations in release order.
const (
	GFX6 Level = iota
	GFX7
	GFX8
	GFX9
	GFX10
	GFX103
	GFX11
)

var levelNames = [...]string{"gfx6", "gfx7", "gfx8", "gfx9", "gfx10", "gfx10.3", "gfx11"}

// String returns the conventional lower-case generation name.
func (l Level) String() string {
	if l < GFX6 || int(l) >= len(levelNames) {
		return fmt.Sprintf("gfx(%d)", int(l))
	}
	return levelNames[l]
}

// Levels returns every known generation in release order.
func Levels() []Level {
	return []Level{GFX6, GFX7, GFX8, GFX9, GFX10, GFX103, GFX11}
}

// UploadLineSize is the cache line size upload-ring allocations avoid
// straddling.
func (l Level) UploadLineSize() uint32 {
	if l >= GFX10 {
		return 64
	}
	return 32
}

// HasUconfigTopology reports whether VGT_PRIMITIVE_TYPE is a uconfig register.
func (l Level) HasUconfigTopology() bool { return l >= GFX7 }

// HasUconfigIndexType reports whether the index type is set through
// SET_UCONFIG_REG_INDEX instead of the INDEX_TYPE packet.
func (l Level) HasUconfigIndexType() bool { return l >= GFX9 }

// HasCPDMA reports whether DMA_DATA is available for prefetch and fills.
func (l Level) HasCPDMA() bool { return l >= GFX7 }

// HasBinning reports whether the primitive binner exists.
func (l Level) HasBinning() bool { return l >= GFX9 }

// HasMeshShading reports whether task and mesh shaders are supported.
func (l Level) HasMeshShading() bool { return l >= GFX103 }

// HasVRS reports whether variable rate shading is supported.
func (l Level) HasVRS() bool { return l >= GFX103 }

// HasRayTracing reports whether the ray intersection instructions exist.
func (l Level) HasRayTracing() bool { return l >= GFX103 }

// Family is an ASIC family.
type Family int

// Known families.
const (
	FamilyUnknown Family = iota
	FamilyTahiti
	FamilyHawaii
	FamilyPolaris10
	FamilyVega10
	FamilyRaven
	FamilyNavi10
	FamilyNavi21
	FamilyNavi31
)

var familyNames = map[Family]string{
	FamilyUnknown:   "unknown",
	FamilyTahiti:    "tahiti",
	FamilyHawaii:    "hawaii",
	FamilyPolaris10: "polaris10",
	FamilyVega10:    "vega10",
	FamilyRaven:     "raven",
	FamilyNavi10:    "navi10",
	FamilyNavi21:    "navi21",
	FamilyNavi31:    "navi31",
}

// String returns the family name.
func (f Family) String() string {
	if s, ok := familyNames[f]; ok {
		return s
	}
	return fmt.Sprintf("family(%d)", int(f))
}

// Info holds the chip properties consumed while recording.
type Info struct {
	Name   string
	Level  Level
	Family Family

	NumRenderBackends uint32
	NumShaderEngines  uint32
	NumTCCBlocks      uint32

	// RBPlus enables the SX blend-optimization and downconvert registers.
	RBPlus bool
	// HasGFX9ScissorBug requires the scissor to be re-emitted with every
	// viewport change and binning to use a single context state per bin.
	HasGFX9ScissorBug bool
	// DedicatedVRAM is set for discrete GPUs.
	DedicatedVRAM bool
	// RBNonCoherent is set when render backends do not write through L2,
	// so color writes need an L2 flush before other clients read them.
	RBNonCoherent bool
	// HasVGTStreamoutHang forces a VGT_STREAMOUT_SYNC after streamout draws.
	HasVGTStreamoutHang bool
	// HasEOPBug requires a ZPASS_DONE event before each end-of-pipe event.
	HasEOPBug bool
}

// Validate checks that an Info describes a usable chip.
func (i Info) Validate() error {
	if i.Name == "" {
		return fmt.Errorf("gfx: chip has no name")
	}
	if i.Level < GFX6 || i.Level > GFX11 {
		return fmt.Errorf("gfx: chip %q has unknown level %d", i.Name, int(i.Level))
	}
	if i.NumRenderBackends == 0 || i.NumShaderEngines == 0 {
		return fmt.Errorf("gfx: chip %q has no render backends or shader engines", i.Name)
	}
	return nil
}

// PipeCount returns the number of memory pipes used to scale binning
// budgets on GFX10+.
func (i Info) PipeCount() uint32 {
	return max(i.NumRenderBackends, i.NumTCCBlocks)
}
