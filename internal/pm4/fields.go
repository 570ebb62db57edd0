package pm4

// DepthControl is DB_DEPTH_CONTROL.
type DepthControl struct {
	StencilEnable     bool
	ZEnable           bool
	ZWriteEnable      bool
	DepthBoundsEnable bool
	ZFunc             uint32
	BackfaceEnable    bool
	StencilFunc       uint32
	StencilFuncBF     uint32
}

// Pack returns the register value.
func (r DepthControl) Pack() uint32 {
	return bit(r.StencilEnable) |
		bit(r.ZEnable)<<1 |
		bit(r.ZWriteEnable)<<2 |
		bit(r.DepthBoundsEnable)<<3 |
		(r.ZFunc&7)<<4 |
		bit(r.BackfaceEnable)<<7 |
		(r.StencilFunc&7)<<8 |
		(r.StencilFuncBF&7)<<20
}

// StencilControl is DB_STENCIL_CONTROL. Op values are hardware stencil ops.
type StencilControl struct {
	Fail, ZPass, ZFail       uint32
	FailBF, ZPassBF, ZFailBF uint32
}

// Pack returns the register value.
func (r StencilControl) Pack() uint32 {
	return r.Fail&0xF |
		(r.ZPass&0xF)<<4 |
		(r.ZFail&0xF)<<8 |
		(r.FailBF&0xF)<<12 |
		(r.ZPassBF&0xF)<<16 |
		(r.ZFailBF&0xF)<<20
}

// StencilRefMask is DB_STENCILREFMASK and its back-face twin.
type StencilRefMask struct {
	Ref, Mask, WriteMask uint32
}

// Pack returns the register value. OPVAL is always 1.
func (r StencilRefMask) Pack() uint32 {
	return r.Ref&0xFF | (r.Mask&0xFF)<<8 | (r.WriteMask&0xFF)<<16 | 1<<24
}

// SUSCModeCntl is PA_SU_SC_MODE_CNTL.
type SUSCModeCntl struct {
	CullFront        bool
	CullBack         bool
	FaceCW           bool
	PolyMode         bool
	PolyModeFront    uint32
	PolyModeBack     uint32
	PolyOffsetFront  bool
	PolyOffsetBack   bool
	PolyOffsetPara   bool
	VtxWindowOffset  bool
	ProvokingVtxLast bool
	MultiPrimIBEna   bool
	KeepTogether     bool
}

// Pack returns the register value.
func (r SUSCModeCntl) Pack() uint32 {
	return bit(r.CullFront) |
		bit(r.CullBack)<<1 |
		bit(r.FaceCW)<<2 |
		bit(r.PolyMode)<<3 |
		(r.PolyModeFront&7)<<5 |
		(r.PolyModeBack&7)<<8 |
		bit(r.PolyOffsetFront)<<11 |
		bit(r.PolyOffsetBack)<<12 |
		bit(r.PolyOffsetPara)<<13 |
		bit(r.VtxWindowOffset)<<16 |
		bit(r.ProvokingVtxLast)<<19 |
		bit(r.MultiPrimIBEna)<<20 |
		bit(r.KeepTogether)<<24
}

// ClipCntl is PA_CL_CLIP_CNTL.
type ClipCntl struct {
	UserClipPlanes    uint32
	DXClipSpaceDef    bool
	RasterizationKill bool
	DXLinearAttrClip  bool
	ZClipNearDisable  bool
	ZClipFarDisable   bool
}

// Pack returns the register value.
func (r ClipCntl) Pack() uint32 {
	return r.UserClipPlanes&0x3F |
		bit(r.DXClipSpaceDef)<<19 |
		bit(r.RasterizationKill)<<22 |
		bit(r.DXLinearAttrClip)<<24 |
		bit(r.ZClipNearDisable)<<26 |
		bit(r.ZClipFarDisable)<<27
}

// CB_COLOR_CONTROL modes.
const (
	CBModeDisable            uint32 = 0
	CBModeNormal             uint32 = 1
	CBModeEliminateFastClear uint32 = 2
	CBModeResolve            uint32 = 3
	CBModeFMaskDecompress    uint32 = 5
	CBModeDCCDecompress      uint32 = 6
)

// ColorControl is CB_COLOR_CONTROL.
type ColorControl struct {
	DisableDualQuad bool
	Mode            uint32
	ROP3            uint32
}

// Pack returns the register value.
func (r ColorControl) Pack() uint32 {
	return bit(r.DisableDualQuad) | (r.Mode&7)<<4 | (r.ROP3&0xFF)<<16
}

// BlendControl is CB_BLENDn_CONTROL.
type BlendControl struct {
	ColorSrc, ColorComb, ColorDst uint32
	AlphaSrc, AlphaComb, AlphaDst uint32
	SeparateAlpha                 bool
	Enable                        bool
	DisableROP3                   bool
}

// Pack returns the register value.
func (r BlendControl) Pack() uint32 {
	return r.ColorSrc&0x1F |
		(r.ColorComb&7)<<5 |
		(r.ColorDst&0x1F)<<8 |
		(r.AlphaSrc&0x1F)<<16 |
		(r.AlphaComb&7)<<21 |
		(r.AlphaDst&0x1F)<<24 |
		bit(r.SeparateAlpha)<<29 |
		bit(r.Enable)<<30 |
		bit(r.DisableROP3)<<31
}

// BlendOpt is SX_MRTn_BLEND_OPT.
type BlendOpt struct {
	ColorSrcOpt, ColorDstOpt, ColorComb uint32
	AlphaSrcOpt, AlphaDstOpt, AlphaComb uint32
}

// Pack returns the register value.
func (r BlendOpt) Pack() uint32 {
	return r.ColorSrcOpt&7 |
		(r.ColorDstOpt&7)<<4 |
		(r.ColorComb&7)<<8 |
		(r.AlphaSrcOpt&7)<<16 |
		(r.AlphaDstOpt&7)<<20 |
		(r.AlphaComb&7)<<24
}

// AAConfig is PA_SC_AA_CONFIG.
type AAConfig struct {
	MSAANumSamples         uint32 // log2
	MaxSampleDist          uint32
	MSAAExposedSamples     uint32 // log2
	CoverageToShaderSelect uint32
	AAMaskCentroidDtmn     bool
	CoveredCentroidCenter  bool
}

// MaxSampleDistMask covers the MAX_SAMPLE_DIST field of PA_SC_AA_CONFIG.
const MaxSampleDistMask uint32 = 0xF << 13

// Pack returns the register value.
func (r AAConfig) Pack() uint32 {
	return r.MSAANumSamples&7 |
		bit(r.AAMaskCentroidDtmn)<<4 |
		(r.CoverageToShaderSelect&3)<<8 |
		(r.MaxSampleDist&0xF)<<13 |
		(r.MSAAExposedSamples&7)<<20 |
		bit(r.CoveredCentroidCenter)<<26
}

// EQAA is DB_EQAA.
type EQAA struct {
	MaxAnchorSamples         uint32 // log2
	PSIterSamples            uint32 // log2
	MaskExportNumSamples     uint32 // log2
	AlphaToMaskNumSamples    uint32 // log2
	HighQualityIntersections bool
	IncoherentEQAAReads      bool
	StaticAnchorAssociations bool
	OverrasterizationAmount  uint32
}

// Pack returns the register value.
func (r EQAA) Pack() uint32 {
	return r.MaxAnchorSamples&7 |
		(r.PSIterSamples&7)<<4 |
		(r.MaskExportNumSamples&7)<<8 |
		(r.AlphaToMaskNumSamples&7)<<12 |
		bit(r.HighQualityIntersections)<<16 |
		bit(r.IncoherentEQAAReads)<<17 |
		bit(r.StaticAnchorAssociations)<<20 |
		(r.OverrasterizationAmount&7)<<24
}

// Binning modes for PA_SC_BINNER_CNTL_0.
const (
	BinningAllowed       uint32 = 0
	BinningForceLegacySC uint32 = 1
	BinningDisabledNewSC uint32 = 3
)

// BinnerCntl is PA_SC_BINNER_CNTL_0.
type BinnerCntl struct {
	Mode                     uint32
	BinSizeX                 bool
	BinSizeY                 bool
	BinSizeXExtend           uint32
	BinSizeYExtend           uint32
	ContextStatesPerBin      uint32 // minus one
	PersistentStatesPerBin   uint32 // minus one
	DisableStartOfPrim       bool
	FPOVSPerBatch            uint32
	OptimalBinSelection      bool
	FlushOnBinningTransition bool
}

// Pack returns the register value.
func (r BinnerCntl) Pack() uint32 {
	return r.Mode&3 |
		bit(r.BinSizeX)<<2 |
		bit(r.BinSizeY)<<3 |
		(r.BinSizeXExtend&7)<<4 |
		(r.BinSizeYExtend&7)<<7 |
		(r.ContextStatesPerBin&7)<<10 |
		(r.PersistentStatesPerBin&0x1F)<<13 |
		bit(r.DisableStartOfPrim)<<18 |
		(r.FPOVSPerBatch&0xFF)<<19 |
		bit(r.OptimalBinSelection)<<27 |
		bit(r.FlushOnBinningTransition)<<28
}

// LineStipple is PA_SC_LINE_STIPPLE.
type LineStipple struct {
	Pattern   uint32
	Repeat    uint32 // factor minus one
	AutoReset uint32
}

// Pack returns the register value.
func (r LineStipple) Pack() uint32 {
	return r.Pattern&0xFFFF | (r.Repeat&0xFF)<<16 | (r.AutoReset&3)<<29
}

// ScissorTL packs a top-left scissor corner with window offset disabled.
func ScissorTL(x, y uint32) uint32 {
	return x&0x7FFF | (y&0x7FFF)<<16 | 1<<31
}

// ScissorBR packs a bottom-right scissor corner.
func ScissorBR(x, y uint32) uint32 {
	return x&0x7FFF | (y&0x7FFF)<<16
}

// ShaderControl is DB_SHADER_CONTROL.
type ShaderControl struct {
	ZExportEnable       bool
	StencilExportEnable bool
	ZOrder              uint32
	KillEnable          bool
	MaskExportEnable    bool
	ExecOnHierFail      bool
	AlphaToMaskDisable  bool
	DepthBeforeShader   bool
	DualQuadDisable     bool
}

// Z orders.
const (
	ZOrderLateZ          uint32 = 0
	ZOrderEarlyZThenLate uint32 = 1
	ZOrderReZ            uint32 = 2
)

// Pack returns the register value.
func (r ShaderControl) Pack() uint32 {
	return bit(r.ZExportEnable) |
		bit(r.StencilExportEnable)<<1 |
		(r.ZOrder&3)<<4 |
		bit(r.KillEnable)<<6 |
		bit(r.MaskExportEnable)<<8 |
		bit(r.ExecOnHierFail)<<9 |
		bit(r.AlphaToMaskDisable)<<11 |
		bit(r.DepthBeforeShader)<<12 |
		bit(r.DualQuadDisable)<<15
}

// VRSCntl is PA_CL_VRS_CNTL.
type VRSCntl struct {
	VertexRateCombiner    uint32
	PrimitiveRateCombiner uint32
	HTileRateCombiner     uint32
	SampleIterCombiner    uint32
}

// Pack returns the register value.
func (r VRSCntl) Pack() uint32 {
	return r.VertexRateCombiner&7 |
		(r.PrimitiveRateCombiner&7)<<3 |
		(r.HTileRateCombiner&7)<<6 |
		(r.SampleIterCombiner&7)<<10
}

// DepthFormatCntl is PA_SU_POLY_OFFSET_DB_FMT_CNTL.
type DepthFormatCntl struct {
	NegNumDBBits uint32
	DBIsFloat    bool
}

// Pack returns the register value.
func (r DepthFormatCntl) Pack() uint32 {
	return r.NegNumDBBits&0xFF | bit(r.DBIsFloat)<<8
}

// ModeCntl0 is PA_SC_MODE_CNTL_0.
type ModeCntl0 struct {
	MSAAEnable          bool
	VportScissorEnable  bool
	LineStippleEnable   bool
	AlternateRBsPerTile bool
}

// Pack returns the register value.
func (r ModeCntl0) Pack() uint32 {
	return bit(r.MSAAEnable) |
		bit(r.VportScissorEnable)<<1 |
		bit(r.LineStippleEnable)<<2 |
		bit(r.AlternateRBsPerTile)<<5
}

// ConservativeRast is PA_SC_CONSERVATIVE_RASTERIZATION_CNTL.
type ConservativeRast struct {
	OverRastEnable         bool
	OverRastSampleSelect   uint32
	UnderRastEnable        bool
	UnderRastSampleSelect  uint32
	PBBUncertaintyRegion   bool
	PreZAAMaskEnable       bool
	PostZAAMaskEnable      bool
	CentroidSampleOverride bool
	NullSquadAAMaskEnable  bool
}

// Pack returns the register value.
func (r ConservativeRast) Pack() uint32 {
	return bit(r.OverRastEnable) |
		(r.OverRastSampleSelect&0xF)<<1 |
		bit(r.UnderRastEnable)<<5 |
		(r.UnderRastSampleSelect&0xF)<<6 |
		bit(r.PBBUncertaintyRegion)<<10 |
		bit(r.PreZAAMaskEnable)<<20 |
		bit(r.PostZAAMaskEnable)<<21 |
		bit(r.CentroidSampleOverride)<<22 |
		bit(r.NullSquadAAMaskEnable)<<23
}

// Cliprect packs a PA_SC_CLIPRECT_n corner.
func Cliprect(x, y uint32) uint32 {
	return x&0x7FFF | (y&0x7FFF)<<16
}

// VRSRate packs GE_VRS_RATE from log2 rates.
func VRSRate(x, y uint32) uint32 {
	return x&0xF | (y&0xF)<<4
}

// IAMultiVGTParam is IA_MULTI_VGT_PARAM.
type IAMultiVGTParam struct {
	PrimgroupSize    uint32 // minus one
	PartialVSWave    bool
	SwitchOnEOP      bool
	PartialESWave    bool
	SwitchOnEOI      bool
	WDSwitchOnEOP    bool
	EnInstOptBasic   bool
	EnInstOptAdv     bool
	MaxPrimgrpInWave uint32
}

// Pack returns the register value.
func (r IAMultiVGTParam) Pack() uint32 {
	return r.PrimgroupSize&0xFFFF |
		bit(r.PartialVSWave)<<16 |
		bit(r.SwitchOnEOP)<<17 |
		bit(r.PartialESWave)<<18 |
		bit(r.SwitchOnEOI)<<19 |
		bit(r.WDSwitchOnEOP)<<20 |
		bit(r.EnInstOptBasic)<<23 |
		bit(r.EnInstOptAdv)<<24 |
		(r.MaxPrimgrpInWave&0xF)<<28
}
