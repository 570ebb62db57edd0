package gfx

func init() {
	Register(Info{
		Name: "tahiti", Level: GFX6, Family: FamilyTahiti,
		NumRenderBackends: 8, NumShaderEngines: 2, NumTCCBlocks: 12,
		DedicatedVRAM: true,
	})
	Register(Info{
		Name: "hawaii", Level: GFX7, Family: FamilyHawaii,
		NumRenderBackends: 16, NumShaderEngines: 4, NumTCCBlocks: 16,
		DedicatedVRAM: true, HasVGTStreamoutHang: true,
	})
	Register(Info{
		Name: "polaris10", Level: GFX8, Family: FamilyPolaris10,
		NumRenderBackends: 8, NumShaderEngines: 4, NumTCCBlocks: 8,
		DedicatedVRAM: true,
	})
	Register(Info{
		Name: "vega10", Level: GFX9, Family: FamilyVega10,
		NumRenderBackends: 16, NumShaderEngines: 4, NumTCCBlocks: 16,
		DedicatedVRAM: true, HasGFX9ScissorBug: true, HasEOPBug: true,
	})
	Register(Info{
		Name: "raven", Level: GFX9, Family: FamilyRaven,
		NumRenderBackends: 2, NumShaderEngines: 1, NumTCCBlocks: 4,
		RBPlus: true, HasGFX9ScissorBug: true, HasEOPBug: true, RBNonCoherent: true,
	})
	Register(Info{
		Name: "navi10", Level: GFX10, Family: FamilyNavi10,
		NumRenderBackends: 16, NumShaderEngines: 2, NumTCCBlocks: 16,
		RBPlus: true, DedicatedVRAM: true,
	})
	Register(Info{
		Name: "navi21", Level: GFX103, Family: FamilyNavi21,
		NumRenderBackends: 16, NumShaderEngines: 4, NumTCCBlocks: 16,
		RBPlus: true, DedicatedVRAM: true,
	})
	Register(Info{
		Name: "navi31", Level: GFX11, Family: FamilyNavi31,
		NumRenderBackends: 24, NumShaderEngines: 6, NumTCCBlocks: 24,
		RBPlus: true, DedicatedVRAM: true,
	})
}
