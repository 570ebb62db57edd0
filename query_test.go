package amdcmd

import (
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/amdcmd/internal/flush"
	"github.com/gogpu/amdcmd/internal/pm4"
	"github.com/gogpu/amdcmd/winsys/memws"
)

func countEvents(evs []pm4.Event, e pm4.Event) int {
	n := 0
	for _, ev := range evs {
		if ev == e {
			n++
		}
	}
	return n
}

// =============================================================================
// Queries
// =============================================================================

func TestQueryEvents(t *testing.T) {
	tests := []struct {
		name  string
		typ   QueryType
		event pm4.Event
	}{
		{"occlusion", QueryOcclusion, pm4.EventZPassDone},
		{"pipeline_statistics", QueryPipelineStatistics, pm4.EventSamplePipelineStat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newTestDevice(t)
			cb := newRecording(t, dev, QueueFamilyGeneral)
			pool, err := dev.CreateQueryPool(tt.typ, 4)
			mustNoErr(t, "CreateQueryPool()", err)
			defer pool.Destroy()

			mustNoErr(t, "CmdBeginQuery()", cb.CmdBeginQuery(pool, 2))
			mustNoErr(t, "CmdEndQuery()", cb.CmdEndQuery(pool, 2))

			pkts := withOp(packets(t, cb.Stream()), pm4.OpEventWrite)
			if got := countEvents(pm4.Events(pkts), tt.event); got != 2 {
				t.Fatalf("%v events = %d, want 2", tt.event, got)
			}
			begin := uint64(pkts[0].Body[1]) | uint64(pkts[0].Body[2])<<32
			if want := pool.BO().VA() + 2*uint64(pool.Stride()); begin != want {
				t.Errorf("begin sample address = %#x, want %#x", begin, want)
			}
			if !cb.Stream().(*memws.Stream).References(pool.BO().Handle()) {
				t.Error("stream does not reference the query pool")
			}
		})
	}
}

func TestPipelineStatsToggleCounting(t *testing.T) {
	dev := newTestDevice(t)
	cb := newRecording(t, dev, QueueFamilyGeneral)
	pool, err := dev.CreateQueryPool(QueryPipelineStatistics, 2)
	mustNoErr(t, "CreateQueryPool()", err)
	defer pool.Destroy()

	mustNoErr(t, "CmdBeginQuery(0)", cb.CmdBeginQuery(pool, 0))
	mustNoErr(t, "CmdBeginQuery(1)", cb.CmdBeginQuery(pool, 1))
	if !cb.flushBits.Any(flush.StartPipelineStats) {
		t.Errorf("flush bits = %v, want StartPipelineStats", cb.flushBits)
	}
	mustNoErr(t, "CmdEndQuery(1)", cb.CmdEndQuery(pool, 1))
	if cb.flushBits.Any(flush.StopPipelineStats) {
		t.Error("pipeline statistics stopped with a query still active")
	}
	mustNoErr(t, "CmdEndQuery(0)", cb.CmdEndQuery(pool, 0))
	if !cb.flushBits.Any(flush.StopPipelineStats) || cb.flushBits.Any(flush.StartPipelineStats) {
		t.Errorf("flush bits = %v, want StopPipelineStats only", cb.flushBits)
	}
}

func TestOcclusionQueryEnablesCounting(t *testing.T) {
	dev := newTestDevice(t)
	cb := newRecording(t, dev, QueueFamilyGeneral)
	drawReady(t, dev, cb)
	pool, err := dev.CreateQueryPool(QueryOcclusion, 1)
	mustNoErr(t, "CreateQueryPool()", err)
	defer pool.Destroy()

	mustNoErr(t, "CmdDraw()", cb.CmdDraw(3, 1, 0, 0))
	if v, _ := pm4.LastWrite(regWrites(t, cb), pm4.RegDBCountControl); v != dbZPassIncrementDisable {
		t.Errorf("DB_COUNT_CONTROL outside a query = %#x, want %#x", v, dbZPassIncrementDisable)
	}

	mustNoErr(t, "CmdBeginQuery()", cb.CmdBeginQuery(pool, 0))
	mustNoErr(t, "CmdDraw()", cb.CmdDraw(3, 1, 0, 0))
	if v, _ := pm4.LastWrite(regWrites(t, cb), pm4.RegDBCountControl); v&dbPerfectZPassCounts == 0 {
		t.Errorf("DB_COUNT_CONTROL inside a query = %#x, want perfect counts", v)
	}
}

func TestQueryErrors(t *testing.T) {
	dev := newTestDevice(t)
	occ, err := dev.CreateQueryPool(QueryOcclusion, 2)
	mustNoErr(t, "CreateQueryPool()", err)
	defer occ.Destroy()
	stats, err := dev.CreateQueryPool(QueryPipelineStatistics, 1)
	mustNoErr(t, "CreateQueryPool()", err)
	defer stats.Destroy()

	tests := []struct {
		name   string
		family uint32
		run    func(cb *CommandBuffer) error
		want   error
	}{
		{"end_unbegun_occlusion", QueueFamilyGeneral, func(cb *CommandBuffer) error { return cb.CmdEndQuery(occ, 0) }, ErrInvalidState},
		{"end_unbegun_stats", QueueFamilyCompute, func(cb *CommandBuffer) error { return cb.CmdEndQuery(stats, 0) }, ErrInvalidState},
		{"index_out_of_range", QueueFamilyGeneral, func(cb *CommandBuffer) error { return cb.CmdBeginQuery(occ, 2) }, ErrBindingOutOfRange},
		{"nil_pool", QueueFamilyGeneral, func(cb *CommandBuffer) error { return cb.CmdBeginQuery(nil, 0) }, ErrBindingOutOfRange},
		{"transfer_queue", QueueFamilyTransfer, func(cb *CommandBuffer) error { return cb.CmdBeginQuery(stats, 0) }, ErrInvalidBindPoint},
		{"occlusion_on_compute", QueueFamilyCompute, func(cb *CommandBuffer) error { return cb.CmdBeginQuery(occ, 0) }, ErrInvalidBindPoint},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := newRecording(t, dev, tt.family)
			if err := tt.run(cb); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCreateQueryPoolErrors(t *testing.T) {
	dev := newTestDevice(t)
	if _, err := dev.CreateQueryPool(QueryOcclusion, 0); !errors.Is(err, ErrBindingOutOfRange) {
		t.Errorf("CreateQueryPool(count 0) = %v, want ErrBindingOutOfRange", err)
	}
	if _, err := dev.CreateQueryPool(QueryType(9), 1); !errors.Is(err, ErrUnsupported) {
		t.Errorf("CreateQueryPool(type 9) = %v, want ErrUnsupported", err)
	}
	if got := QueryPipelineStatistics.String(); got != "pipeline_statistics" {
		t.Errorf("String() = %q, want %q", got, "pipeline_statistics")
	}
}

// =============================================================================
// Conditional rendering
// =============================================================================

func TestConditionalRenderingPredicatesDraws(t *testing.T) {
	dev := newTestDevice(t)
	cb := newRecording(t, dev, QueueFamilyGeneral)
	drawReady(t, dev, cb)
	bo := newBO(t, dev, 256)

	mustNoErr(t, "CmdBeginConditionalRendering()", cb.CmdBeginConditionalRendering(bo, 8, false))
	mustNoErr(t, "CmdDraw()", cb.CmdDraw(3, 1, 0, 0))
	mustNoErr(t, "CmdEndConditionalRendering()", cb.CmdEndConditionalRendering())
	mustNoErr(t, "CmdDraw()", cb.CmdDraw(6, 1, 0, 0))

	pkts := packets(t, cb.Stream())
	if n := pm4.CountOp(pkts, pm4.OpSetPredication); n != 2 {
		t.Errorf("SET_PREDICATION packets = %d, want 2", n)
	}
	draws := withOp(pkts, pm4.OpDrawIndexAuto)
	if len(draws) != 2 {
		t.Fatalf("DRAW_INDEX_AUTO packets = %d, want 2", len(draws))
	}
	if !draws[0].Predicate {
		t.Error("draw inside conditional rendering is not predicated")
	}
	if draws[1].Predicate {
		t.Error("draw after conditional rendering is still predicated")
	}
}

func TestConditionalRenderingErrors(t *testing.T) {
	dev := newTestDevice(t)
	bo := newBO(t, dev, 256)

	cb := newRecording(t, dev, QueueFamilyGeneral)
	if err := cb.CmdEndConditionalRendering(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("CmdEndConditionalRendering() while inactive = %v, want ErrInvalidState", err)
	}
	mustNoErr(t, "CmdBeginConditionalRendering()", cb.CmdBeginConditionalRendering(bo, 0, true))
	if err := cb.CmdBeginConditionalRendering(bo, 0, true); !errors.Is(err, ErrInvalidState) {
		t.Errorf("nested CmdBeginConditionalRendering() = %v, want ErrInvalidState", err)
	}
	if err := cb.CmdBeginConditionalRendering(nil, 0, false); !errors.Is(err, ErrBindingOutOfRange) {
		t.Errorf("CmdBeginConditionalRendering(nil) = %v, want ErrBindingOutOfRange", err)
	}

	compute := newRecording(t, dev, QueueFamilyCompute)
	if err := compute.CmdBeginConditionalRendering(bo, 0, false); !errors.Is(err, ErrUnsupported) {
		t.Errorf("CmdBeginConditionalRendering() on compute = %v, want ErrUnsupported", err)
	}
}

func TestPredicationPacketFormat(t *testing.T) {
	tests := []struct {
		chip    string
		bodyLen int
	}{
		{"polaris10", 2},
		{"vega10", 3},
	}
	for _, tt := range tests {
		t.Run(tt.chip, func(t *testing.T) {
			dev := newTestDevice(t, WithChip(tt.chip))
			cb := newRecording(t, dev, QueueFamilyGeneral)
			mustNoErr(t, "CmdBeginConditionalRendering()", cb.CmdBeginConditionalRendering(newBO(t, dev, 256), 0, false))

			preds := withOp(packets(t, cb.Stream()), pm4.OpSetPredication)
			if len(preds) != 1 {
				t.Fatalf("SET_PREDICATION packets = %d, want 1", len(preds))
			}
			if got := len(preds[0].Body); got != tt.bodyLen {
				t.Errorf("SET_PREDICATION body = %d dwords, want %d", got, tt.bodyLen)
			}
		})
	}
}
