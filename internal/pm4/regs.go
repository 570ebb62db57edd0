package pm4

// Config registers.
const (
	RegVGTPrimitiveTypeGFX6 uint32 = 0x8958
	RegCPStrmoutCntl        uint32 = 0x84FC
)

// SH registers. User data registers are dword arrays starting at the
// listed offset.
const (
	RegSPIShaderPgmLoPS    uint32 = 0xB020
	RegSPIShaderUserDataPS uint32 = 0xB030
	RegSPIShaderPgmLoVS    uint32 = 0xB120
	RegSPIShaderUserDataVS uint32 = 0xB130
	RegSPIShaderPgmLoGS    uint32 = 0xB220
	RegSPIShaderUserDataGS uint32 = 0xB230
	RegSPIShaderPgmLoES    uint32 = 0xB320
	RegSPIShaderUserDataES uint32 = 0xB330
	RegSPIShaderPgmLoHS    uint32 = 0xB420
	RegSPIShaderUserDataHS uint32 = 0xB430
	RegSPIShaderPgmLoLS    uint32 = 0xB520
	RegSPIShaderUserDataLS uint32 = 0xB530
	RegComputeStartX       uint32 = 0xB810
	RegComputePipeStatEn   uint32 = 0xB828
	RegComputePgmLo        uint32 = 0xB830
	RegComputeUserData     uint32 = 0xB900
)

// Context registers.
const (
	RegDBRenderControl               uint32 = 0x28000
	RegDBCountControl                uint32 = 0x28004
	RegDBRenderOverride              uint32 = 0x2800C
	RegDBDepthBoundsMin              uint32 = 0x28020
	RegDBDepthBoundsMax              uint32 = 0x28024
	RegDBZInfo                       uint32 = 0x28040
	RegDBStencilInfo                 uint32 = 0x28044
	RegDBZReadBase                   uint32 = 0x28048
	RegPASCWindowScissorTL           uint32 = 0x28204
	RegPASCWindowScissorBR           uint32 = 0x28208
	RegPASCCliprectRule              uint32 = 0x2820C
	RegPASCCliprect0TL               uint32 = 0x28210
	RegCBTargetMask                  uint32 = 0x28238
	RegCBShaderMask                  uint32 = 0x2823C
	RegPASCVportScissor0TL           uint32 = 0x28250
	RegPASCVportZMin0                uint32 = 0x282D0
	RegCBBlendRed                    uint32 = 0x28414
	RegDBStencilControl              uint32 = 0x2842C
	RegDBStencilRefMask              uint32 = 0x28430
	RegDBStencilRefMaskBF            uint32 = 0x28434
	RegPAClVportXScale               uint32 = 0x2843C
	RegSPIShaderColFormat            uint32 = 0x28714
	RegSXPSDownconvert               uint32 = 0x28754
	RegSXBlendOptEpsilon             uint32 = 0x28758
	RegSXBlendOptControl             uint32 = 0x2875C
	RegSXMRT0BlendOpt                uint32 = 0x28760
	RegCBBlend0Control               uint32 = 0x28780
	RegDBDepthControl                uint32 = 0x28800
	RegDBEQAA                        uint32 = 0x28804
	RegCBColorControl                uint32 = 0x28808
	RegDBShaderControl               uint32 = 0x2880C
	RegPAClClipCntl                  uint32 = 0x28810
	RegPASUSCModeCntl                uint32 = 0x28814
	RegPAClVRSCntl                   uint32 = 0x28848
	RegPASULineCntl                  uint32 = 0x28A08
	RegPASCLineStipple               uint32 = 0x28A0C
	RegPASCModeCntl0                 uint32 = 0x28A48
	RegVGTGSOutPrimType              uint32 = 0x28A6C
	RegVGTMultiPrimIBResetEn         uint32 = 0x28A94
	RegIAMultiVGTParam               uint32 = 0x28AA8
	RegVGTLSHSConfig                 uint32 = 0x28B58
	RegVGTTFParam                    uint32 = 0x28B6C
	RegDBAlphaToMask                 uint32 = 0x28B70
	RegVGTStrmoutDrawOpaqueOffset    uint32 = 0x28B28
	RegVGTStrmoutBufferFilledSize    uint32 = 0x28B2C
	RegVGTStrmoutDrawOpaqueStride    uint32 = 0x28B30
	RegVGTStrmoutConfig              uint32 = 0x28B94
	RegVGTStrmoutBufferConfig        uint32 = 0x28B98
	RegPASUPolyOffsetDBFmtCntl       uint32 = 0x28B78
	RegPASUPolyOffsetClamp           uint32 = 0x28B7C
	RegPASCCentroidPriority0         uint32 = 0x28BD4
	RegPASCAAConfig                  uint32 = 0x28BE0
	RegPAClGBVertClipAdj             uint32 = 0x28BE8
	RegPASCAASampleLocsPixelX0Y0     uint32 = 0x28BF8
	RegPASCAASampleLocsPixelX1Y0     uint32 = 0x28C08
	RegPASCAASampleLocsPixelX0Y1     uint32 = 0x28C18
	RegPASCAASampleLocsPixelX1Y1     uint32 = 0x28C28
	RegPASCAAMaskX0Y0X1Y0            uint32 = 0x28C38
	RegPASCAAMaskX0Y1X1Y1            uint32 = 0x28C3C
	RegPASCBinnerCntl0               uint32 = 0x28C44
	RegPASCConservativeRasterization uint32 = 0x28C4C
	RegCBColor0Base                  uint32 = 0x28C60
	RegCBColor0Info                  uint32 = 0x28C70
)

// CBColorStride is the distance between the register blocks of two
// consecutive color targets.
const CBColorStride uint32 = 0x3C

// Uconfig registers.
const (
	RegVGTPrimitiveType          uint32 = 0x30908
	RegVGTIndexType              uint32 = 0x3090C
	RegVGTMultiPrimIBResetEnGFX9 uint32 = 0x3092C
	RegIAMultiVGTParamGFX9       uint32 = 0x30960
	RegGEVRSRate                 uint32 = 0x3098C
)
