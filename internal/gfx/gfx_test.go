package gfx

import (
	"strings"
	"testing"
)

func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{GFX6, "gfx6"},
		{GFX9, "gfx9"},
		{GFX103, "gfx10.3"},
		{GFX11, "gfx11"},
		{Level(42), "gfx(42)"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", int(tt.level), got, tt.want)
		}
	}
}

func TestLevelTraits(t *testing.T) {
	if GFX9.UploadLineSize() != 32 || GFX10.UploadLineSize() != 64 {
		t.Error("UploadLineSize() does not switch at GFX10")
	}
	if GFX6.HasUconfigTopology() || !GFX7.HasUconfigTopology() {
		t.Error("HasUconfigTopology() does not switch at GFX7")
	}
	if GFX8.HasUconfigIndexType() || !GFX9.HasUconfigIndexType() {
		t.Error("HasUconfigIndexType() does not switch at GFX9")
	}
	if GFX10.HasMeshShading() || !GFX103.HasMeshShading() {
		t.Error("HasMeshShading() does not switch at GFX10.3")
	}
	if GFX10.HasRayTracing() || !GFX11.HasRayTracing() {
		t.Error("HasRayTracing() does not switch at GFX10.3")
	}
}

func TestPresetsRegistered(t *testing.T) {
	names := Names()
	for _, want := range []string{"tahiti", "hawaii", "polaris10", "vega10", "raven", "navi10", "navi21", "navi31"} {
		if !IsRegistered(want) {
			t.Errorf("IsRegistered(%q) = false, want true", want)
		}
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Errorf("Names() not sorted: %v", names)
		}
	}
}

func TestLookup(t *testing.T) {
	info, err := Lookup("navi21")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if info.Level != GFX103 || info.Family != FamilyNavi21 {
		t.Errorf("Lookup(navi21) = %+v", info)
	}

	_, err = Lookup("nope")
	if err == nil || !strings.Contains(err.Error(), "unknown chip") {
		t.Errorf("Lookup(nope) error = %v, want unknown chip", err)
	}
}

func TestRegisterPanics(t *testing.T) {
	tests := []struct {
		name string
		info Info
	}{
		{"duplicate", Info{Name: "navi10", Level: GFX10, NumRenderBackends: 1, NumShaderEngines: 1}},
		{"no_name", Info{Level: GFX10, NumRenderBackends: 1, NumShaderEngines: 1}},
		{"no_rbs", Info{Name: "broken", Level: GFX10, NumShaderEngines: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("Register() did not panic")
				}
			}()
			Register(tt.info)
		})
	}
}

func TestRegisterUnregister(t *testing.T) {
	custom := Info{Name: "test-chip", Level: GFX8, NumRenderBackends: 4, NumShaderEngines: 2}
	Register(custom)
	defer Unregister("test-chip")

	if got := MustLookup("test-chip"); got.NumRenderBackends != 4 {
		t.Errorf("MustLookup() = %+v", got)
	}
	Unregister("test-chip")
	if IsRegistered("test-chip") {
		t.Error("IsRegistered() = true after Unregister")
	}
}

func TestPipeCount(t *testing.T) {
	info := Info{NumRenderBackends: 8, NumTCCBlocks: 16}
	if got := info.PipeCount(); got != 16 {
		t.Errorf("PipeCount() = %d, want 16", got)
	}
}
