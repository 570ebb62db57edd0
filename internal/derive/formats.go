package derive

import "github.com/gogpu/gputypes"

// CB_COLOR_INFO formats.
const (
	CBFormatInvalid     uint32 = 0
	CBFormat8           uint32 = 1
	CBFormat16          uint32 = 2
	CBFormat8_8         uint32 = 3
	CBFormat32          uint32 = 4
	CBFormat16_16       uint32 = 5
	CBFormat10_11_11    uint32 = 6
	CBFormat2_10_10_10  uint32 = 9
	CBFormat8_8_8_8     uint32 = 10
	CBFormat32_32       uint32 = 11
	CBFormat16_16_16_16 uint32 = 12
	CBFormat32_32_32_32 uint32 = 14
	CBFormat5_6_5       uint32 = 16
	CBFormat1_5_5_5     uint32 = 17
	CBFormat4_4_4_4     uint32 = 19
	CBFormat5_9_9_9     uint32 = 24
)

// Component swaps.
const (
	SwapStd    uint32 = 0
	SwapAlt    uint32 = 1
	SwapStdRev uint32 = 2
	SwapAltRev uint32 = 3
)

// Number types.
const (
	NumberUnorm uint32 = 0
	NumberSnorm uint32 = 1
	NumberUint  uint32 = 4
	NumberSint  uint32 = 5
	NumberSRGB  uint32 = 6
	NumberFloat uint32 = 7
)

// SPI_SHADER_COL_FORMAT export formats.
const (
	SPIExportZero    uint32 = 0
	SPIExport32R     uint32 = 1
	SPIExport32GR    uint32 = 2
	SPIExport32AR    uint32 = 3
	SPIExportFP16    uint32 = 4
	SPIExportUnorm16 uint32 = 5
	SPIExportSnorm16 uint32 = 6
	SPIExportUint16  uint32 = 7
	SPIExportSint16  uint32 = 8
	SPIExport32ABGR  uint32 = 9
)

const spiExportFieldLen = 4

// ColorFormat describes how a render target format is programmed.
type ColorFormat struct {
	CB     uint32
	Swap   uint32
	Number uint32
	// Channels is the number of stored components.
	Channels int
	// HasAlpha is set when the format stores alpha.
	HasAlpha bool
	// BlockSize is bytes per pixel.
	BlockSize uint32
	// Export is the shader export format used without alpha blending.
	Export uint32
}

var colorFormats = map[gputypes.TextureFormat]ColorFormat{
	gputypes.TextureFormatR8Unorm:      {CBFormat8, SwapStd, NumberUnorm, 1, false, 1, SPIExportFP16},
	gputypes.TextureFormatRG8Unorm:     {CBFormat8_8, SwapStd, NumberUnorm, 2, false, 2, SPIExportFP16},
	gputypes.TextureFormatRGBA8Unorm:   {CBFormat8_8_8_8, SwapStd, NumberUnorm, 4, true, 4, SPIExportFP16},
	gputypes.TextureFormatBGRA8Unorm:   {CBFormat8_8_8_8, SwapAlt, NumberUnorm, 4, true, 4, SPIExportFP16},
	gputypes.TextureFormatRGB10A2Unorm: {CBFormat2_10_10_10, SwapStd, NumberUnorm, 4, true, 4, SPIExportFP16},
	gputypes.TextureFormatR16Float:     {CBFormat16, SwapStd, NumberFloat, 1, false, 2, SPIExportFP16},
	gputypes.TextureFormatRG16Float:    {CBFormat16_16, SwapStd, NumberFloat, 2, false, 4, SPIExportFP16},
	gputypes.TextureFormatRGBA16Float:  {CBFormat16_16_16_16, SwapStd, NumberFloat, 4, true, 8, SPIExportFP16},
	gputypes.TextureFormatR32Float:     {CBFormat32, SwapStd, NumberFloat, 1, false, 4, SPIExport32R},
	gputypes.TextureFormatRGBA32Float:  {CBFormat32_32_32_32, SwapStd, NumberFloat, 4, true, 16, SPIExport32ABGR},
}

// LookupColor returns the color description of f.
func LookupColor(f gputypes.TextureFormat) (ColorFormat, bool) {
	cf, ok := colorFormats[f]
	return cf, ok
}

// SPIColorFormat returns the export format for one render target. A
// single-channel 32-bit target exports alpha too when blending reads
// source alpha.
func SPIColorFormat(cf ColorFormat, needsAlpha bool) uint32 {
	if !needsAlpha {
		return cf.Export
	}
	switch cf.Export {
	case SPIExport32R:
		return SPIExport32AR
	case SPIExport32GR:
		return SPIExport32ABGR
	}
	return cf.Export
}

// PackColFormats packs per-target export formats into
// SPI_SHADER_COL_FORMAT, four bits per target.
func PackColFormats(formats []uint32) uint32 {
	var v uint32
	for i, f := range formats {
		if i >= 8 {
			break
		}
		v |= (f & 0xF) << (i * spiExportFieldLen)
	}
	return v
}

// DepthFormat describes a depth/stencil attachment format.
type DepthFormat struct {
	HasDepth   bool
	HasStencil bool
	// Float is set for floating-point depth.
	Float bool
	// Bits is the number of depth bits.
	Bits uint32
}

var depthFormats = map[gputypes.TextureFormat]DepthFormat{
	gputypes.TextureFormatDepth16Unorm:         {HasDepth: true, Bits: 16},
	gputypes.TextureFormatDepth24PlusStencil8:  {HasDepth: true, HasStencil: true, Bits: 24},
	gputypes.TextureFormatDepth32Float:         {HasDepth: true, Float: true, Bits: 32},
	gputypes.TextureFormatDepth32FloatStencil8: {HasDepth: true, HasStencil: true, Float: true, Bits: 32},
	gputypes.TextureFormatStencil8:             {HasStencil: true},
}

// LookupDepth returns the depth description of f.
func LookupDepth(f gputypes.TextureFormat) (DepthFormat, bool) {
	df, ok := depthFormats[f]
	return df, ok
}
