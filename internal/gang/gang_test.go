package gang

import (
	"testing"

	"github.com/gogpu/amdcmd/internal/flush"
	"github.com/gogpu/amdcmd/internal/gfx"
	"github.com/gogpu/amdcmd/internal/pm4"
	"github.com/gogpu/amdcmd/internal/upload"
	"github.com/gogpu/amdcmd/winsys"
	"github.com/gogpu/amdcmd/winsys/memws"
)

type fixture struct {
	ws   *memws.Winsys
	gfx  *memws.Stream
	ring *upload.Ring
	g    *Gang
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ws := memws.New()
	cs, err := ws.CreateStream(winsys.IPGfx, false)
	if err != nil {
		t.Fatal(err)
	}
	ring := upload.New(ws, cs, upload.Config{})
	g := New(ws, gfx.GFX103, ring, false)
	if err := g.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return &fixture{ws: ws, gfx: cs.(*memws.Stream), ring: ring, g: g}
}

func (f *fixture) ace() *memws.Stream { return f.g.Stream().(*memws.Stream) }

func parse(t *testing.T, s *memws.Stream) []pm4.Packet {
	t.Helper()
	pkts, err := pm4.Parse(s.Words())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return pkts
}

func waits(pkts []pm4.Packet) []uint32 {
	var refs []uint32
	for _, p := range pkts {
		if p.Op == pm4.OpWaitRegMem {
			refs = append(refs, p.Body[3])
		}
	}
	return refs
}

// ===========================================================================
// Channel
// ===========================================================================

func TestInitOnce(t *testing.T) {
	f := newFixture(t)
	first := f.g.Stream()
	if err := f.g.Init(); err != nil {
		t.Fatal(err)
	}
	if f.g.Stream() != first {
		t.Error("Init() replaced an existing stream")
	}
	if f.ace().IP() != winsys.IPCompute {
		t.Errorf("stream IP = %v, want compute", f.ace().IP())
	}
}

func TestBarrierSignalsLeader(t *testing.T) {
	tests := []struct {
		name       string
		src, dst   flush.Stage
		dmaBusy    bool
		wantLeader uint32
	}{
		{"graphics to task", flush.StageColorAttachmentOutput, flush.StageTaskShader, false, 1},
		{"graphics to indirect", flush.StageComputeShader, flush.StageDrawIndirect, false, 1},
		{"graphics to fragment", flush.StageColorAttachmentOutput, flush.StageFragmentShader, false, 0},
		{"copy with dma idle", flush.StageCopy, flush.StageFragmentShader, false, 0},
		{"copy with dma busy", flush.StageCopy, flush.StageFragmentShader, true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.g.Barrier(tt.src, tt.dst, 0, tt.dmaBusy)
			if got := f.g.Chan.Leader.Value; got != tt.wantLeader {
				t.Errorf("Leader.Value = %d, want %d", got, tt.wantLeader)
			}
		})
	}
}

func TestBarrierFlushBits(t *testing.T) {
	f := newFixture(t)
	f.g.Barrier(flush.StageFragmentShader, flush.StageTaskShader,
		flush.InvVCache|flush.FlushAndInvCB|flush.CSPartialFlush|flush.PSPartialFlush, false)
	if want := flush.InvVCache; f.g.Flush != want {
		t.Errorf("Flush = %v, want %v", f.g.Flush, want)
	}

	f.g.Barrier(flush.StageTaskShader, flush.StageFragmentShader, 0, false)
	if !f.g.Flush.Has(flush.CSPartialFlush) {
		t.Errorf("Flush = %v, want CS_PARTIAL_FLUSH after task source", f.g.Flush)
	}
	if f.g.Chan.Follower.Value != 1 {
		t.Errorf("Follower.Value = %d, want 1", f.g.Chan.Follower.Value)
	}
}

func TestBeforeDispatchWaitsOnLeader(t *testing.T) {
	f := newFixture(t)

	if err := f.g.BeforeDispatch(f.gfx); err != nil {
		t.Fatal(err)
	}
	if len(f.ace().Words()) != 0 || len(f.gfx.Words()) != 0 {
		t.Fatal("clean channel emitted packets")
	}
	if f.g.Chan.VA() != 0 {
		t.Error("semaphore allocated before first signal")
	}

	f.g.Barrier(flush.StageColorAttachmentOutput, flush.StageTaskShader, 0, false)
	if err := f.g.BeforeDispatch(f.gfx); err != nil {
		t.Fatal(err)
	}

	gfxPkts := parse(t, f.gfx)
	if n := pm4.CountOp(gfxPkts, pm4.OpReleaseMem); n != 1 {
		t.Fatalf("graphics RELEASE_MEM count = %d, want 1", n)
	}
	rel := gfxPkts[0].Body
	if va := uint64(rel[2]) | uint64(rel[3])<<32; va != f.g.Chan.VA() || rel[4] != 1 {
		t.Errorf("leader write = %#x <- %d, want %#x <- 1", va, rel[4], f.g.Chan.VA())
	}
	if refs := waits(parse(t, f.ace())); len(refs) != 1 || refs[0] != 1 {
		t.Errorf("compute waits = %v, want [1]", refs)
	}
	if f.g.Chan.Leader.Dirty() {
		t.Error("leader still dirty after flush")
	}

	// A second dispatch with nothing new signaled does not wait again.
	before := len(f.ace().Words())
	if err := f.g.BeforeDispatch(f.gfx); err != nil {
		t.Fatal(err)
	}
	if len(f.ace().Words()) != before {
		t.Error("clean leader emitted a second wait")
	}
}

func TestWaitNeverAhead(t *testing.T) {
	f := newFixture(t)
	steps := []struct {
		barrier  bool
		dispatch bool
	}{
		{true, false}, {true, true}, {false, true}, {true, false},
		{true, false}, {false, true}, {true, true},
	}
	for _, s := range steps {
		if s.barrier {
			f.g.Barrier(flush.StageAllGraphics, flush.StageTaskShader, 0, false)
		}
		if s.dispatch {
			if err := f.g.BeforeDispatch(f.gfx); err != nil {
				t.Fatal(err)
			}
		}
	}

	var signaled []uint32
	for _, p := range parse(t, f.gfx) {
		if p.Op == pm4.OpReleaseMem {
			signaled = append(signaled, p.Body[4])
		}
	}
	refs := waits(parse(t, f.ace()))
	if len(refs) != len(signaled) {
		t.Fatalf("waits = %v, signals = %v, want one wait per signal", refs, signaled)
	}
	for i, ref := range refs {
		if ref > signaled[i] {
			t.Errorf("wait %d for %d before leader wrote more than %d", i, ref, signaled[i])
		}
	}
}

// ===========================================================================
// Finalize and splice
// ===========================================================================

func TestFinalizeZeroesSemaphores(t *testing.T) {
	f := newFixture(t)
	f.g.Barrier(flush.StageAllGraphics, flush.StageTaskShader, 0, false)
	if err := f.g.BeforeDispatch(f.gfx); err != nil {
		t.Fatal(err)
	}
	f.g.Flush |= flush.InvSCache
	if err := f.g.Finalize(f.gfx); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	va := f.g.Chan.VA()
	check := func(name string, s *memws.Stream, want uint64) {
		pkts := parse(t, s)
		last := pkts[len(pkts)-1]
		if last.Op != pm4.OpWriteData {
			t.Fatalf("%s last packet = %v, want WRITE_DATA", name, last.Op)
		}
		if got := uint64(last.Body[1]) | uint64(last.Body[2])<<32; got != want || last.Body[3] != 0 {
			t.Errorf("%s zeroes %#x <- %d, want %#x <- 0", name, got, last.Body[3], want)
		}
	}
	check("compute", f.ace(), va)
	check("graphics", f.gfx, va+4)

	if f.g.Flush != 0 {
		t.Errorf("Flush = %v after Finalize, want none", f.g.Flush)
	}
	if !f.ace().Finalized() {
		t.Error("compute stream not finalized")
	}
}

func TestFinalizeWithoutSemaphore(t *testing.T) {
	f := newFixture(t)
	if err := f.g.Finalize(f.gfx); err != nil {
		t.Fatal(err)
	}
	if len(f.ace().Words()) != 0 || len(f.gfx.Words()) != 0 {
		t.Error("Finalize() emitted packets for an unused channel")
	}
}

func TestSplice(t *testing.T) {
	f := newFixture(t)
	sec := New(f.ws, gfx.GFX103, f.ring, true)
	if err := sec.Init(); err != nil {
		t.Fatal(err)
	}
	pm4.NOP(sec.Stream(), 4)
	sec.Barrier(flush.StageAllGraphics, flush.StageTaskShader, flush.InvVCache, false)

	if err := f.g.Splice(f.gfx, sec); err != nil {
		t.Fatalf("Splice() error = %v", err)
	}
	splices := f.ace().Splices()
	if len(splices) != 1 || splices[0].Chained || splices[0].Dwords != 4 {
		t.Fatalf("Splices() = %+v, want one copied 4-dword splice", splices)
	}
	if f.g.Chan.Leader.Value != 1 || !f.g.Chan.Leader.Dirty() {
		t.Errorf("Leader = %+v, want the secondary's unsettled signal carried over", f.g.Chan.Leader)
	}
	if !f.g.Flush.Has(flush.InvVCache) {
		t.Errorf("Flush = %v, want secondary flush bits merged", f.g.Flush)
	}
}

func TestSpliceCreatesPrimaryStream(t *testing.T) {
	ws := memws.New()
	cs, _ := ws.CreateStream(winsys.IPGfx, false)
	ring := upload.New(ws, cs, upload.Config{})
	primary := New(ws, gfx.GFX11, ring, false)
	sec := New(ws, gfx.GFX11, ring, true)
	if err := sec.Init(); err != nil {
		t.Fatal(err)
	}
	if err := primary.Splice(cs, sec); err != nil {
		t.Fatal(err)
	}
	if !primary.Active() {
		t.Error("Splice() of a gang secondary left the primary without a stream")
	}
}

func TestBeforeDispatchWithoutStream(t *testing.T) {
	ws := memws.New()
	cs, _ := ws.CreateStream(winsys.IPGfx, false)
	g := New(ws, gfx.GFX103, upload.New(ws, cs, upload.Config{}), false)
	if err := g.BeforeDispatch(cs); err != ErrNoStream {
		t.Errorf("BeforeDispatch() error = %v, want ErrNoStream", err)
	}
}

func TestSemaphoreAllocFailure(t *testing.T) {
	ws := memws.New(memws.WithBOFailure(func(uint64) bool { return true }))
	cs, _ := ws.CreateStream(winsys.IPGfx, false)
	g := New(ws, gfx.GFX103, upload.New(ws, cs, upload.Config{}), false)
	if err := g.Init(); err != nil {
		t.Fatal(err)
	}
	g.Chan.SignalLeader()
	if err := g.BeforeDispatch(cs); err == nil {
		t.Fatal("BeforeDispatch() succeeded without semaphore memory")
	}
	if len(g.Stream().(*memws.Stream).Words()) != 0 {
		t.Error("wait emitted without semaphore memory")
	}
}
