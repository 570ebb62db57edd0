package main

import (
	"slices"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"

	"github.com/gogpu/amdcmd/internal/pm4"
)

// report renders the results as a JSON array, one object per chip.
func report(results []*result, withState bool) []byte {
	w := jwriter.NewWriter()
	arr := w.Array()
	for _, r := range results {
		obj := w.Object()
		obj.Name("chip").String(r.chip)
		obj.Name("level").String(r.level)
		obj.Name("dwords").Int(r.dwords)
		obj.Name("packets").Int(r.packets)
		obj.Name("register_writes").Int(r.regs)
		obj.Name("record_us").Float64(float64(r.duration.Nanoseconds()) / 1e3)

		ops := make([]pm4.Opcode, 0, len(r.opcodes))
		for op := range r.opcodes {
			ops = append(ops, op)
		}
		slices.Sort(ops)
		counts := obj.Name("opcodes").Object()
		for _, op := range ops {
			counts.Name(op.String()).Int(r.opcodes[op])
		}
		counts.End()

		req := obj.Name("requirements").Object()
		req.Name("scratch_bytes_per_wave").Int(int(r.req.ScratchBytesPerWave))
		req.Name("scratch_waves").Int(int(r.req.ScratchWaves))
		req.Name("gang").Bool(r.req.Gang)
		req.End()

		if withState {
			obj.Name("state").Raw(r.state)
		}
		obj.End()
	}
	arr.End()
	return w.Bytes()
}
