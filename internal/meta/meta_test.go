package meta

import (
	"errors"
	"strings"
	"testing"

	"github.com/gogpu/naga"

	"github.com/gogpu/amdcmd/internal/flush"
	"github.com/gogpu/amdcmd/internal/gfx"
	"github.com/gogpu/amdcmd/internal/layout"
	"github.com/gogpu/amdcmd/internal/pm4"
	"github.com/gogpu/amdcmd/winsys"
	"github.com/gogpu/amdcmd/winsys/memws"
)

type fakeRecorder struct {
	cs      *memws.Stream
	level   gfx.Level
	flushes []flush.Bits
	dmaBusy bool
	compute int
	err     error
}

func (r *fakeRecorder) Stream() winsys.Stream  { return r.cs }
func (r *fakeRecorder) Level() gfx.Level       { return r.level }
func (r *fakeRecorder) EmitFlush(b flush.Bits) { r.flushes = append(r.flushes, b) }
func (r *fakeRecorder) MarkDMABusy()           { r.dmaBusy = true }
func (r *fakeRecorder) InvalidateCompute()     { r.compute++ }
func (r *fakeRecorder) SetError(err error)     { r.err = err }
func (r *fakeRecorder) packets(t *testing.T) []pm4.Packet {
	t.Helper()
	pkts, err := pm4.Parse(r.cs.Words())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return pkts
}

// fakeSPIRV is a compiler returning the SPIR-V magic and a version word.
type fakeSPIRV struct{ calls int }

func (c *fakeSPIRV) compile(string) ([]byte, error) {
	c.calls++
	return []byte{0x03, 0x02, 0x23, 0x07, 0x00, 0x00, 0x01, 0x00}, nil
}

func newEngine(t *testing.T, level gfx.Level) (*Engine, *fakeRecorder, *fakeSPIRV, *memws.Winsys) {
	t.Helper()
	ws := memws.New()
	cs, err := ws.CreateStream(winsys.IPGfx, false)
	if err != nil {
		t.Fatal(err)
	}
	comp := &fakeSPIRV{}
	lib := NewLibrary(ws, WithCompiler(comp.compile))
	rec := &fakeRecorder{cs: cs.(*memws.Stream), level: level}
	return New(rec, lib), rec, comp, ws
}

func depthStencil() *layout.Image {
	return &layout.Image{
		Level: gfx.GFX9, Usage: layout.UsageDepthStencilAttachment | layout.UsageSampled,
		Samples: 1, Levels: 1, Layers: 1, Depth: true, Stencil: true, Exclusive: true,
		VA: 0x100000, HTILE: layout.Surface{Offset: 0x4000, Size: 0x800}, TCCompatHTILE: true,
		ClearValues: 0x8000, ZRange: 0x8100,
	}
}

func msaaColor() *layout.Image {
	return &layout.Image{
		Level: gfx.GFX9, Usage: layout.UsageColorAttachment | layout.UsageSampled,
		Samples: 4, Levels: 1, Layers: 1, Exclusive: true,
		VA:    0x200000,
		CMASK: layout.Surface{Offset: 0x100, Size: 0x100},
		FMASK: layout.Surface{Offset: 0x200, Size: 0x400},
		ClearValues: 0x800, FCEPredicate: 0x900,
	}
}

func userData(pkts []pm4.Packet) []uint32 {
	var out []uint32
	for _, w := range pm4.RegWrites(pkts) {
		if w.Reg >= pm4.RegComputeUserData && w.Reg < pm4.RegComputeUserData+16*4 {
			out = append(out, w.Value)
		}
	}
	return out
}

// =============================================================================
// Fills
// =============================================================================

func TestSmallFillUsesCPDMA(t *testing.T) {
	e, rec, comp, _ := newEngine(t, gfx.GFX9)

	if got := e.FillBuffer(0x5000, 256, 0xABCD); got != 0 {
		t.Errorf("FillBuffer() = %v, want no flush", got)
	}
	pkts := rec.packets(t)
	if len(pkts) != 1 || pkts[0].Op != pm4.OpDMAData {
		t.Fatalf("packets = %+v, want one DMA_DATA", pkts)
	}
	b := pkts[0].Body
	if b[0] != pm4.DMASrcSelData|pm4.DMADstSelTCL2 {
		t.Errorf("header = %#x, want data to TC L2", b[0])
	}
	if b[1] != 0xABCD || b[3] != 0x5000 || b[5] != 256 {
		t.Errorf("body = %#x, want value 0xabcd to 0x5000, 256 bytes", b)
	}
	if !rec.dmaBusy {
		t.Error("CP DMA fill did not mark DMA busy")
	}
	if comp.calls != 0 {
		t.Errorf("compiler calls = %d, want 0", comp.calls)
	}
}

func TestFillUsesCompute(t *testing.T) {
	tests := []struct {
		name   string
		level  gfx.Level
		size   uint64
		groups uint32
	}{
		{"gfx6 has no cp dma", gfx.GFX6, 256, 1},
		{"large fill", gfx.GFX9, 8192, 32},
		{"threshold", gfx.GFX10, CPDMAThreshold, 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, rec, _, _ := newEngine(t, tt.level)
			got := e.FillBuffer(0x1_0000_5000, tt.size, 7)
			if !got.Has(flush.CSPartialFlush | flush.InvVCache) {
				t.Errorf("FillBuffer() = %v, want CS partial flush and vcache invalidate", got)
			}
			pkts := rec.packets(t)
			if n := pm4.CountOp(pkts, pm4.OpDispatchDirect); n != 1 {
				t.Fatalf("DISPATCH_DIRECT count = %d, want 1", n)
			}
			d := pkts[len(pkts)-1]
			if d.Body[0] != tt.groups || d.Body[1] != 1 || d.Body[2] != 1 {
				t.Errorf("dispatch = %v, want %d x 1 x 1", d.Body[:3], tt.groups)
			}
			want := []uint32{0x5000, 1, 0, 0, uint32(tt.size / 4), 7, ^uint32(0)}
			if got := userData(pkts); !equalWords(got, want) {
				t.Errorf("user data = %#x, want %#x", got, want)
			}
			if rec.compute != 1 {
				t.Errorf("InvalidateCompute calls = %d, want 1", rec.compute)
			}
			if rec.dmaBusy {
				t.Error("compute fill marked DMA busy")
			}
		})
	}
}

func TestFillZeroSize(t *testing.T) {
	e, rec, _, _ := newEngine(t, gfx.GFX9)
	e.FillBuffer(0x5000, 3, 1)
	if n := rec.cs.Len(); n != 0 {
		t.Errorf("stream length = %d, want 0", n)
	}
}

func TestClearHTILEMask(t *testing.T) {
	tests := []struct {
		name   string
		aspect layout.Aspect
		mask   uint32
		dma    bool
	}{
		{"both aspects", layout.AspectDepth | layout.AspectStencil, ^uint32(0), true},
		{"stencil only", layout.AspectStencil, htileStencilMask, false},
		{"depth only", layout.AspectDepth, htileDepthMask, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, rec, _, _ := newEngine(t, gfx.GFX9)
			img := depthStencil()
			e.ClearHTILE(img, layout.Range{Aspect: tt.aspect, LevelCount: 1}, 0x1234)
			pkts := rec.packets(t)
			if got := pm4.CountOp(pkts, pm4.OpDMAData) == 1; got != tt.dma {
				t.Fatalf("CP DMA used = %v, want %v", got, tt.dma)
			}
			if tt.dma {
				return
			}
			ud := userData(pkts)
			if ud[6] != tt.mask {
				t.Errorf("mask = %#x, want %#x", ud[6], tt.mask)
			}
			if ud[0] != uint32(img.VA+img.HTILE.Offset) {
				t.Errorf("dst = %#x, want HTILE address", ud[0])
			}
		})
	}
}

func TestClearHTILEDepthOnlyImage(t *testing.T) {
	e, rec, _, _ := newEngine(t, gfx.GFX9)
	img := depthStencil()
	img.Stencil = false
	e.ClearHTILE(img, layout.Range{Aspect: layout.AspectDepth}, layout.HTILEInitDepthOnly)
	if n := pm4.CountOp(rec.packets(t), pm4.OpDMAData); n != 1 {
		t.Errorf("DMA_DATA count = %d, want 1 for an unmasked clear", n)
	}
}

// =============================================================================
// Passes
// =============================================================================

func TestKernelBuiltOnce(t *testing.T) {
	e, rec, comp, _ := newEngine(t, gfx.GFX10)
	img := depthStencil()
	e.ExpandDepth(img, layout.Range{})
	e.ExpandDepth(img, layout.Range{})
	if comp.calls != 1 {
		t.Errorf("compiler calls = %d, want 1", comp.calls)
	}
	if s := e.lib.Stats(); s.Hits != 1 || s.Misses != 1 {
		t.Errorf("Stats() = %+v, want 1 hit and 1 miss", s)
	}
	k, err := e.lib.Get(KernelHTILEExpand)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.cs.References(k.BO.Handle()) {
		t.Error("stream does not reference the kernel buffer")
	}
	pgm := pm4.RegWrites(rec.packets(t))
	if lo, ok := pm4.LastWrite(pgm, pm4.RegComputePgmLo); !ok || lo != uint32(k.VA()>>8) {
		t.Errorf("COMPUTE_PGM_LO = %#x, want %#x", lo, uint32(k.VA()>>8))
	}
}

func TestCompileFailureIsRecorded(t *testing.T) {
	ws := memws.New()
	cs, _ := ws.CreateStream(winsys.IPGfx, false)
	boom := errors.New("no compiler")
	lib := NewLibrary(ws, WithCompiler(func(string) ([]byte, error) { return nil, boom }))
	rec := &fakeRecorder{cs: cs.(*memws.Stream), level: gfx.GFX9}
	e := New(rec, lib)

	if got := e.ExpandDepth(depthStencil(), layout.Range{}); got != 0 {
		t.Errorf("ExpandDepth() = %v, want 0 after failure", got)
	}
	if !errors.Is(rec.err, boom) {
		t.Errorf("recorded error = %v, want %v", rec.err, boom)
	}
	if n := rec.cs.Len(); n != 0 {
		t.Errorf("stream length = %d, want nothing recorded", n)
	}
}

func TestUnknownKernel(t *testing.T) {
	lib := NewLibrary(memws.New(), WithCompiler((&fakeSPIRV{}).compile))
	if _, err := lib.Get("resolve"); !errors.Is(err, ErrUnknownKernel) {
		t.Errorf("Get(resolve) error = %v, want ErrUnknownKernel", err)
	}
}

func TestEliminateResetsPredicate(t *testing.T) {
	e, rec, _, _ := newEngine(t, gfx.GFX9)
	img := msaaColor()
	got := e.EliminateFastClear(img, layout.Range{Aspect: layout.AspectColor, LevelCount: 1})
	if !got.Has(flush.CSPartialFlush) {
		t.Errorf("EliminateFastClear() = %v, want CS partial flush", got)
	}
	pkts := rec.packets(t)
	last := pkts[len(pkts)-1]
	if last.Op != pm4.OpWriteData {
		t.Fatalf("last packet = %v, want WRITE_DATA", last.Op)
	}
	if va := uint64(last.Body[1]) | uint64(last.Body[2])<<32; va != img.FCEPredicateVA(0) {
		t.Errorf("predicate va = %#x, want %#x", va, img.FCEPredicateVA(0))
	}
	if n := len(last.Body) - 3; n != 2 {
		t.Errorf("predicate words = %d, want 2", n)
	}
	if ud := userData(pkts); ud[2] != uint32(img.VA+img.CMASK.Offset) {
		t.Errorf("src = %#x, want CMASK address", ud[2])
	}
}

func TestExpandFMASKReinitializes(t *testing.T) {
	e, rec, _, _ := newEngine(t, gfx.GFX9)
	img := msaaColor()
	e.ExpandFMASK(img, layout.Range{Aspect: layout.AspectColor, LevelCount: 1})

	if len(rec.flushes) != 1 || !rec.flushes[0].Has(flush.CSPartialFlush) {
		t.Errorf("flushes = %v, want one CS partial flush between pass and refill", rec.flushes)
	}
	pkts := rec.packets(t)
	if n := pm4.CountOp(pkts, pm4.OpDispatchDirect); n != 1 {
		t.Errorf("DISPATCH_DIRECT count = %d, want 1", n)
	}
	last := pkts[len(pkts)-1]
	if last.Op != pm4.OpDMAData || last.Body[1] != layout.FMASKInitValue(4) {
		t.Errorf("last packet = %v %#x, want identity FMASK fill", last.Op, last.Body)
	}
}

func TestRetileCopiesToDisplay(t *testing.T) {
	e, rec, _, _ := newEngine(t, gfx.GFX10)
	img := &layout.Image{
		Level: gfx.GFX10, Usage: layout.UsageColorAttachment, Samples: 1, Levels: 1, Layers: 1,
		VA:         0x400000,
		DCC:        layout.Surface{Offset: 0x1000, Size: 0x800},
		DisplayDCC: layout.Surface{Offset: 0x2000, Size: 0x400},
		DCCMipLevels: 1,
	}
	e.RetileDCC(img)
	ud := userData(rec.packets(t))
	want := []uint32{0x402000, 0, 0x401000, 0, 0x100, 0, ^uint32(0)}
	if !equalWords(ud, want) {
		t.Errorf("user data = %#x, want %#x", ud, want)
	}
}

func TestPassWithoutSurface(t *testing.T) {
	e, rec, _, _ := newEngine(t, gfx.GFX9)
	img := msaaColor()
	img.FMASK = layout.Surface{}
	if got := e.ExpandFMASK(img, layout.Range{}); got != 0 {
		t.Errorf("ExpandFMASK() = %v, want 0 without FMASK", got)
	}
	if n := rec.cs.Len(); n != 0 {
		t.Errorf("stream length = %d, want 0", n)
	}
}

// =============================================================================
// Planner integration
// =============================================================================

func TestPlannerDepthInit(t *testing.T) {
	e, rec, _, _ := newEngine(t, gfx.GFX9)
	p := &layout.Planner{Ops: e, Flush: flush.Config{Level: gfx.GFX9}, Family: layout.QueueGeneral}
	img := depthStencil()
	p.Apply(layout.Transition{
		Image: img,
		Range: layout.Range{Aspect: layout.AspectDepth | layout.AspectStencil, LevelCount: 1, LayerCount: 1},
		Old:   layout.Undefined,
		New:   layout.DepthStencilAttachmentOptimal,
	})

	pkts := rec.packets(t)
	var ops []pm4.Opcode
	for _, pk := range pkts {
		ops = append(ops, pk.Op)
	}
	want := []pm4.Opcode{pm4.OpDMAData, pm4.OpWriteData, pm4.OpWriteData}
	if len(ops) != len(want) {
		t.Fatalf("ops = %v, want %v", ops, want)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Errorf("op[%d] = %v, want %v", i, ops[i], want[i])
		}
	}
	if pkts[0].Body[1] != layout.HTILEInitDepthStencil {
		t.Errorf("HTILE value = %#x, want %#x", pkts[0].Body[1], layout.HTILEInitDepthStencil)
	}
	if !p.Pending.Has(flush.FlushAndInvDB) {
		t.Errorf("Pending = %v, want DB flush", p.Pending)
	}
}

// =============================================================================
// Library
// =============================================================================

func TestLibraryDestroyFreesBuffers(t *testing.T) {
	ws := memws.New()
	lib := NewLibrary(ws, WithCompiler((&fakeSPIRV{}).compile))
	for _, name := range KernelNames() {
		if _, err := lib.Get(name); err != nil {
			t.Fatalf("Get(%s) error = %v", name, err)
		}
	}
	if n := ws.LiveBOs(); n != len(KernelNames()) {
		t.Errorf("LiveBOs() = %d, want %d", n, len(KernelNames()))
	}
	lib.Destroy()
	if n := ws.LiveBOs(); n != 0 {
		t.Errorf("LiveBOs() after Destroy = %d, want 0", n)
	}
}

// TestKernelsCompile checks that every kernel compiles with naga.
func TestKernelsCompile(t *testing.T) {
	for _, name := range KernelNames() {
		t.Run(name, func(t *testing.T) {
			spirv, err := naga.Compile(*kernelSources[name])
			if err != nil {
				msg := err.Error()
				if strings.Contains(msg, "not yet implemented") || strings.Contains(msg, "not supported") {
					t.Skipf("Skipping: naga feature not yet implemented: %v", err)
				}
				t.Fatalf("failed to compile %s: %v", name, err)
			}
			if len(spirv) < 4 || spirv[0] != 0x03 || spirv[1] != 0x02 || spirv[2] != 0x23 || spirv[3] != 0x07 {
				t.Errorf("SPIR-V magic missing from %s", name)
			}
		})
	}
}

func equalWords(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
