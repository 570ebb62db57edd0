package main

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/gogpu/amdcmd/internal/gfx"
	"github.com/gogpu/amdcmd/internal/pm4"
)

func TestSelectChips(t *testing.T) {
	names, err := selectChips(" vega10, navi21 ,")
	if err != nil {
		t.Fatalf("selectChips() = %v", err)
	}
	if len(names) != 2 || names[0] != "vega10" || names[1] != "navi21" {
		t.Errorf("selectChips() = %v, want [vega10 navi21]", names)
	}

	all, err := selectChips("")
	if err != nil || len(all) != len(gfx.Names()) {
		t.Errorf("selectChips(\"\") = %v, %v, want every preset", all, err)
	}
	if _, err := selectChips("navi21,voodoo2"); err == nil {
		t.Error("selectChips(voodoo2) = nil error, want unknown chip")
	}
}

func TestReplayEveryChip(t *testing.T) {
	const draws = 12
	results, err := run(context.Background(), gfx.Names(), config{draws: draws, trace: true}, 4)
	if err != nil {
		t.Fatalf("run() = %v", err)
	}
	for _, r := range results {
		t.Run(r.chip, func(t *testing.T) {
			if got := r.opcodes[pm4.OpDrawIndexAuto]; got != draws {
				t.Errorf("DRAW_INDEX_AUTO = %d, want %d", got, draws)
			}
			if got := r.opcodes[pm4.OpDispatchDirect]; got != 1 {
				t.Errorf("DISPATCH_DIRECT = %d, want 1", got)
			}
			if r.req.ScratchBytesPerWave != 1024 {
				t.Errorf("ScratchBytesPerWave = %d, want 1024", r.req.ScratchBytesPerWave)
			}
		})
	}
}

func TestReportIsJSON(t *testing.T) {
	results, err := run(context.Background(), []string{"navi21"}, config{draws: 4}, 1)
	if err != nil {
		t.Fatalf("run() = %v", err)
	}

	var out []struct {
		Chip    string         `json:"chip"`
		Opcodes map[string]int `json:"opcodes"`
		State   map[string]any `json:"state"`
	}
	data := report(results, true)
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("report() is not JSON: %v\n%s", err, data)
	}
	if len(out) != 1 || out[0].Chip != "navi21" {
		t.Fatalf("report() = %+v, want one navi21 entry", out)
	}
	if out[0].Opcodes[pm4.OpDrawIndexAuto.String()] != 4 {
		t.Errorf("opcodes = %v, want 4 %v", out[0].Opcodes, pm4.OpDrawIndexAuto)
	}
	if out[0].State["status"] != "executable" {
		t.Errorf("state.status = %v, want executable", out[0].State["status"])
	}
}
