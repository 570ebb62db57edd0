package derive

import (
	"github.com/gogpu/gputypes"

	"github.com/gogpu/amdcmd/internal/pm4"
)

// CB_BLENDn_CONTROL blend factors.
const (
	BlendZero                  uint32 = 0
	BlendOne                   uint32 = 1
	BlendSrcColor              uint32 = 2
	BlendOneMinusSrcColor      uint32 = 3
	BlendSrcAlpha              uint32 = 4
	BlendOneMinusSrcAlpha      uint32 = 5
	BlendDstAlpha              uint32 = 6
	BlendOneMinusDstAlpha      uint32 = 7
	BlendDstColor              uint32 = 8
	BlendOneMinusDstColor      uint32 = 9
	BlendSrcAlphaSaturate      uint32 = 10
	BlendConstantColor         uint32 = 13
	BlendOneMinusConstantColor uint32 = 14
	BlendSrc1Color             uint32 = 15
	BlendOneMinusSrc1Color     uint32 = 16
	BlendSrc1Alpha             uint32 = 17
	BlendOneMinusSrc1Alpha     uint32 = 18
	BlendConstantAlpha         uint32 = 19
	BlendOneMinusConstantAlpha uint32 = 20
)

// CB_BLENDn_CONTROL combine functions.
const (
	CombAdd             uint32 = 0
	CombSubtract        uint32 = 1
	CombMin             uint32 = 2
	CombMax             uint32 = 3
	CombReverseSubtract uint32 = 4
)

// SX_MRTn_BLEND_OPT factor optimizations.
const (
	OptPreserveNoneIgnoreAll  uint32 = 0
	OptPreserveAllIgnoreNone  uint32 = 1
	OptPreserveC1IgnoreC0     uint32 = 2
	OptPreserveC0IgnoreC1     uint32 = 3
	OptPreserveA1IgnoreA0     uint32 = 4
	OptPreserveA0IgnoreA1     uint32 = 5
	OptPreserveNoneIgnoreA0   uint32 = 6
	OptPreserveNoneIgnoreNone uint32 = 7
)

// SX_MRTn_BLEND_OPT combine functions.
const (
	OptCombNone            uint32 = 0
	OptCombAdd             uint32 = 1
	OptCombSubtract        uint32 = 2
	OptCombMin             uint32 = 3
	OptCombMax             uint32 = 4
	OptCombReverseSubtract uint32 = 5
	OptCombDisabled        uint32 = 6
)

// HWBlendFactor translates a blend factor.
func HWBlendFactor(f gputypes.BlendFactor) uint32 {
	switch f {
	case gputypes.BlendFactorZero:
		return BlendZero
	case gputypes.BlendFactorOne:
		return BlendOne
	case gputypes.BlendFactorSrc:
		return BlendSrcColor
	case gputypes.BlendFactorOneMinusSrc:
		return BlendOneMinusSrcColor
	case gputypes.BlendFactorSrcAlpha:
		return BlendSrcAlpha
	case gputypes.BlendFactorOneMinusSrcAlpha:
		return BlendOneMinusSrcAlpha
	case gputypes.BlendFactorDst:
		return BlendDstColor
	case gputypes.BlendFactorOneMinusDst:
		return BlendOneMinusDstColor
	case gputypes.BlendFactorDstAlpha:
		return BlendDstAlpha
	case gputypes.BlendFactorOneMinusDstAlpha:
		return BlendOneMinusDstAlpha
	case gputypes.BlendFactorSrcAlphaSaturated:
		return BlendSrcAlphaSaturate
	case gputypes.BlendFactorConstant:
		return BlendConstantColor
	case gputypes.BlendFactorOneMinusConstant:
		return BlendOneMinusConstantColor
	default:
		return BlendOne
	}
}

// HWBlendOp translates a blend operation.
func HWBlendOp(op gputypes.BlendOperation) uint32 {
	switch op {
	case gputypes.BlendOperationSubtract:
		return CombSubtract
	case gputypes.BlendOperationReverseSubtract:
		return CombReverseSubtract
	case gputypes.BlendOperationMin:
		return CombMin
	case gputypes.BlendOperationMax:
		return CombMax
	default:
		return CombAdd
	}
}

// BlendEquation is one attachment's blend state in hardware encoding.
type BlendEquation struct {
	Enable                      bool
	ColorSrc, ColorDst, ColorOp uint32
	AlphaSrc, AlphaDst, AlphaOp uint32
}

// EquationFromGPU converts a blend state. A nil state leaves blending off.
func EquationFromGPU(b *gputypes.BlendState) BlendEquation {
	if b == nil {
		return BlendEquation{}
	}
	return BlendEquation{
		Enable:   true,
		ColorSrc: HWBlendFactor(b.Color.SrcFactor),
		ColorDst: HWBlendFactor(b.Color.DstFactor),
		ColorOp:  HWBlendOp(b.Color.Operation),
		AlphaSrc: HWBlendFactor(b.Alpha.SrcFactor),
		AlphaDst: HWBlendFactor(b.Alpha.DstFactor),
		AlphaOp:  HWBlendOp(b.Alpha.Operation),
	}
}

func isMinMax(op uint32) bool { return op == CombMin || op == CombMax }

func isDualSrc(f uint32) bool { return f >= BlendSrc1Color && f <= BlendOneMinusSrc1Alpha }

// UsesDualSource reports whether the equation reads the second shader
// output.
func (e BlendEquation) UsesDualSource() bool {
	return e.Enable && (isDualSrc(e.ColorSrc) || isDualSrc(e.ColorDst) ||
		isDualSrc(e.AlphaSrc) || isDualSrc(e.AlphaDst))
}

// ReadsSrcAlpha reports whether any factor reads source alpha.
func (e BlendEquation) ReadsSrcAlpha() bool {
	if !e.Enable {
		return false
	}
	for _, f := range []uint32{e.ColorSrc, e.ColorDst, e.AlphaSrc, e.AlphaDst} {
		switch f {
		case BlendSrcAlpha, BlendOneMinusSrcAlpha, BlendSrcAlphaSaturate:
			return true
		}
	}
	return false
}

// UsesConstants reports whether the blend constant is read.
func (e BlendEquation) UsesConstants() bool {
	if !e.Enable {
		return false
	}
	for _, f := range []uint32{e.ColorSrc, e.ColorDst, e.AlphaSrc, e.AlphaDst} {
		switch f {
		case BlendConstantColor, BlendOneMinusConstantColor, BlendConstantAlpha, BlendOneMinusConstantAlpha:
			return true
		}
	}
	return false
}

// Control returns CB_BLENDn_CONTROL. Min and max ignore their factors, so
// both are forced to one.
func (e BlendEquation) Control() uint32 {
	if !e.Enable {
		return 0
	}
	e = e.normalized()
	return pm4.BlendControl{
		ColorSrc:      e.ColorSrc,
		ColorComb:     e.ColorOp,
		ColorDst:      e.ColorDst,
		AlphaSrc:      e.AlphaSrc,
		AlphaComb:     e.AlphaOp,
		AlphaDst:      e.AlphaDst,
		SeparateAlpha: e.AlphaSrc != e.ColorSrc || e.AlphaDst != e.ColorDst || e.AlphaOp != e.ColorOp,
		Enable:        true,
	}.Pack()
}

func (e BlendEquation) normalized() BlendEquation {
	if isMinMax(e.ColorOp) {
		e.ColorSrc, e.ColorDst = BlendOne, BlendOne
	}
	if isMinMax(e.AlphaOp) {
		e.AlphaSrc, e.AlphaDst = BlendOne, BlendOne
	}
	return e
}

// removeDst rewrites func(src * DST, dst * 0) as func(src * 0, dst * SRC).
func removeDst(op, src, dst *uint32, dstFactor, srcFactor uint32) {
	if *src != dstFactor || *dst != BlendZero {
		return
	}
	if *op != CombAdd && *op != CombSubtract && *op != CombReverseSubtract {
		return
	}
	*src = BlendZero
	*dst = srcFactor
	switch *op {
	case CombSubtract:
		*op = CombReverseSubtract
	case CombReverseSubtract:
		*op = CombSubtract
	}
}

func optFactor(f uint32, alpha bool) uint32 {
	switch f {
	case BlendZero:
		return OptPreserveNoneIgnoreAll
	case BlendOne:
		return OptPreserveAllIgnoreNone
	case BlendSrcColor:
		if alpha {
			return OptPreserveA1IgnoreA0
		}
		return OptPreserveC1IgnoreC0
	case BlendOneMinusSrcColor:
		if alpha {
			return OptPreserveA0IgnoreA1
		}
		return OptPreserveC0IgnoreC1
	case BlendSrcAlpha:
		return OptPreserveA1IgnoreA0
	case BlendOneMinusSrcAlpha:
		return OptPreserveA0IgnoreA1
	case BlendSrcAlphaSaturate:
		if alpha {
			return OptPreserveAllIgnoreNone
		}
		return OptPreserveNoneIgnoreA0
	default:
		return OptPreserveNoneIgnoreNone
	}
}

func optComb(op uint32) uint32 {
	switch op {
	case CombAdd:
		return OptCombAdd
	case CombSubtract:
		return OptCombSubtract
	case CombMin:
		return OptCombMin
	case CombMax:
		return OptCombMax
	case CombReverseSubtract:
		return OptCombReverseSubtract
	default:
		return OptCombNone
	}
}

func usesDest(f uint32, alpha bool) bool {
	switch f {
	case BlendDstAlpha, BlendOneMinusDstAlpha, BlendDstColor, BlendOneMinusDstColor:
		return true
	case BlendSrcAlphaSaturate:
		return !alpha
	}
	return false
}

// Opt returns SX_MRTn_BLEND_OPT for an attachment. The rewrites here do
// not change results; they let the SX skip reading channels that cannot
// affect the output.
func (e BlendEquation) Opt(writeMask uint32) uint32 {
	if !e.Enable || writeMask == 0 {
		return pm4.BlendOpt{ColorComb: OptCombDisabled, AlphaComb: OptCombDisabled}.Pack()
	}
	e = e.normalized()

	removeDst(&e.ColorOp, &e.ColorSrc, &e.ColorDst, BlendDstColor, BlendSrcColor)
	removeDst(&e.AlphaOp, &e.AlphaSrc, &e.AlphaDst, BlendDstColor, BlendSrcColor)
	removeDst(&e.AlphaOp, &e.AlphaSrc, &e.AlphaDst, BlendDstAlpha, BlendSrcAlpha)

	o := pm4.BlendOpt{
		ColorSrcOpt: optFactor(e.ColorSrc, false),
		ColorDstOpt: optFactor(e.ColorDst, false),
		ColorComb:   optComb(e.ColorOp),
		AlphaSrcOpt: optFactor(e.AlphaSrc, true),
		AlphaDstOpt: optFactor(e.AlphaDst, true),
		AlphaComb:   optComb(e.AlphaOp),
	}
	if usesDest(e.ColorSrc, false) {
		o.ColorDstOpt = OptPreserveNoneIgnoreNone
	}
	if usesDest(e.AlphaSrc, true) {
		o.AlphaDstOpt = OptPreserveNoneIgnoreNone
	}
	if e.ColorSrc == BlendSrcAlphaSaturate &&
		(e.ColorDst == BlendZero || e.ColorDst == BlendSrcAlpha || e.ColorDst == BlendSrcAlphaSaturate) {
		o.ColorDstOpt = OptPreserveNoneIgnoreA0
	}
	return o.Pack()
}

// NoOptBlend is SX_MRTn_BLEND_OPT when the optimizations are off
// entirely, as with dual-source blending.
var NoOptBlend = pm4.BlendOpt{ColorComb: OptCombNone, AlphaComb: OptCombNone}.Pack()

// SX_PS_DOWNCONVERT formats.
const (
	ExportNone       uint32 = 0
	Export32R        uint32 = 1
	Export32A        uint32 = 2
	Export10_11_11   uint32 = 3
	Export2_10_10_10 uint32 = 4
	Export8_8_8_8    uint32 = 5
	Export5_6_5      uint32 = 6
	Export1_5_5_5    uint32 = 7
	Export4_4_4_4    uint32 = 8
	Export16_16GR    uint32 = 9
	Export16_16AR    uint32 = 10
	Export9_9_9_E5   uint32 = 11
)

// SX_BLEND_OPT_EPSILON values.
const (
	Epsilon10Bit uint32 = 3
	Epsilon8Bit  uint32 = 7
	Epsilon6Bit  uint32 = 0xB
	Epsilon5Bit  uint32 = 0xD
	Epsilon4Bit  uint32 = 0xF
)

// RBPlusTarget is one color target slot.
type RBPlusTarget struct {
	Bound     bool
	Format    ColorFormat
	SPIFormat uint32
	WriteMask uint32
}

// RBPlus holds SX_PS_DOWNCONVERT, SX_BLEND_OPT_EPSILON and
// SX_BLEND_OPT_CONTROL.
type RBPlus struct {
	Downconvert uint32
	Epsilon     uint32
	Control     uint32
}

// Words returns the three registers in emission order.
func (r RBPlus) Words() [3]uint32 {
	return [3]uint32{r.Downconvert, r.Epsilon, r.Control}
}

const rbplusSlots = 8

// ComputeRBPlus derives the SX export optimizations for the bound
// targets. Slots past the list are treated as unbound.
func ComputeRBPlus(targets []RBPlusTarget) RBPlus {
	var r RBPlus
	for i := range rbplusSlots {
		var t RBPlusTarget
		if i < len(targets) {
			t = targets[i]
		}
		shift := uint32(i * 4)
		if !t.Bound {
			r.Downconvert |= Export32R << shift
			r.Control |= 0x3 << shift
			continue
		}

		f := t.Format
		hasAlpha := f.HasAlpha
		hasRGB := true
		switch f.CB {
		case CBFormat8, CBFormat16, CBFormat32:
			hasRGB = !hasAlpha
		}
		if t.WriteMask&0x7 == 0 {
			hasRGB = false
		}
		if t.WriteMask&0x8 == 0 {
			hasAlpha = false
		}
		if t.SPIFormat == SPIExportZero {
			hasRGB, hasAlpha = false, false
		}
		// rgb9e5 blends incorrectly with the alpha optimization on.
		if hasRGB && f.CB == CBFormat5_9_9_9 {
			hasAlpha = true
		}

		down, eps := rbplusDownconvert(f, t.SPIFormat)
		r.Downconvert |= down << shift
		r.Epsilon |= eps << shift

		if !hasRGB {
			r.Control |= 0x1 << shift
		}
		if !hasAlpha {
			r.Control |= 0x2 << shift
		}
	}
	return r
}

func rbplusDownconvert(f ColorFormat, spi uint32) (down, eps uint32) {
	switch f.CB {
	case CBFormat8, CBFormat8_8, CBFormat8_8_8_8:
		if spi == SPIExportFP16 || spi == SPIExportUnorm16 || spi == SPIExportSnorm16 {
			return Export8_8_8_8, Epsilon8Bit
		}
	case CBFormat5_6_5:
		if spi == SPIExportUnorm16 || spi == SPIExportFP16 {
			return Export5_6_5, Epsilon6Bit
		}
	case CBFormat1_5_5_5:
		if spi == SPIExportUnorm16 || spi == SPIExportFP16 {
			return Export1_5_5_5, Epsilon5Bit
		}
	case CBFormat4_4_4_4:
		if spi == SPIExportUnorm16 || spi == SPIExportFP16 {
			return Export4_4_4_4, Epsilon4Bit
		}
	case CBFormat32:
		switch spi {
		case SPIExport32R:
			return Export32R, 0
		case SPIExport32AR:
			return Export32A, 0
		}
	case CBFormat16, CBFormat16_16:
		if spi == SPIExportUnorm16 || spi == SPIExportSnorm16 ||
			spi == SPIExportUint16 || spi == SPIExportSint16 || spi == SPIExportFP16 {
			if f.Swap == SwapStd || f.Swap == SwapStdRev {
				return Export16_16GR, 0
			}
			return Export16_16AR, 0
		}
	case CBFormat10_11_11:
		if spi == SPIExportFP16 {
			return Export10_11_11, 0
		}
	case CBFormat2_10_10_10:
		if spi == SPIExportFP16 || spi == SPIExportUnorm16 {
			return Export2_10_10_10, Epsilon10Bit
		}
	case CBFormat5_9_9_9:
		if spi == SPIExportFP16 {
			return Export9_9_9_E5, 0
		}
	}
	return ExportNone, 0
}

// CBColorControl returns CB_COLOR_CONTROL for normal rendering.
func CBColorControl(rbPlus, dualSrc, logicOp bool, rop3 uint32, anyTarget bool) uint32 {
	mode := pm4.CBModeNormal
	if !anyTarget {
		mode = pm4.CBModeDisable
	}
	if !logicOp {
		rop3 = 0xCC
	}
	return pm4.ColorControl{
		DisableDualQuad: rbPlus && (dualSrc || logicOp),
		Mode:            mode,
		ROP3:            rop3,
	}.Pack()
}
