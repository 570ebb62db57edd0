package flush

import (
	"testing"

	"github.com/gogpu/amdcmd/internal/gfx"
	"github.com/gogpu/amdcmd/internal/pm4"
)

type sink struct {
	words []uint32
}

func (s *sink) Append(w uint32)         { s.words = append(s.words, w) }
func (s *sink) AppendArray(ws []uint32) { s.words = append(s.words, ws...) }

type image struct {
	colorMeta, depthMeta bool
	coherent, depth      bool
	storage              bool
}

func (i image) HasColorMetadata() bool { return i.colorMeta }
func (i image) HasDepthMetadata() bool { return i.depthMeta }
func (i image) IsCacheCoherent() bool  { return i.coherent }
func (i image) IsDepthStencil() bool   { return i.depth }
func (i image) HasStorageUsage() bool  { return i.storage }

func ops(t *testing.T, words []uint32) []pm4.Opcode {
	t.Helper()
	pkts, err := pm4.Parse(words)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	out := make([]pm4.Opcode, 0, len(pkts))
	for _, p := range pkts {
		out = append(out, p.Op)
	}
	return out
}

func equalOps(a, b []pm4.Opcode) bool {
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

// =============================================================================
// Bits
// =============================================================================

func TestBitsString(t *testing.T) {
	tests := []struct {
		bits Bits
		want string
	}{
		{0, "0"},
		{InvL2, "INV_L2"},
		{FlushAndInvCB | FlushAndInvCBMeta, "FLUSH_AND_INV_CB_META|FLUSH_AND_INV_CB"},
		{VGTStreamoutSync, "VGT_STREAMOUT_SYNC"},
	}
	for _, tt := range tests {
		if got := tt.bits.String(); got != tt.want {
			t.Errorf("Bits(%#x).String() = %q, want %q", uint32(tt.bits), got, tt.want)
		}
	}
}

func TestForQueue(t *testing.T) {
	all := Bits(1<<numBits - 1)
	got := all.ForQueue(QueueCompute)
	if got.Any(FlushAndInvFramebuffer | PSPartialFlush | VSPartialFlush | VGTFlush | InvL2Metadata) {
		t.Errorf("ForQueue(compute) kept graphics bits: %v", got)
	}
	if !got.Has(AllCompute) {
		t.Errorf("ForQueue(compute) = %v, want superset of %v", got, AllCompute)
	}
	if all.ForQueue(QueueGeneral) != all {
		t.Error("ForQueue(general) must not drop bits")
	}
}

// =============================================================================
// Access calculator
// =============================================================================

func TestSrcAccessSingleBits(t *testing.T) {
	const writeAll = FlushAndInvCB | FlushAndInvDB | InvL2 | FlushAndInvCBMeta | FlushAndInvDBMeta
	want := map[Access]Bits{
		AccessShaderWrite:                InvL2,
		AccessShaderStorageWrite:         InvL2,
		AccessColorAttachmentWrite:       FlushAndInvCB | FlushAndInvCBMeta,
		AccessDepthStencilWrite:          FlushAndInvDB | FlushAndInvDBMeta,
		AccessTransferWrite:              writeAll,
		AccessMemoryWrite:                writeAll,
		AccessAccelerationStructureWrite: WBL2,
		AccessTransformFeedbackWrite:     WBL2,
		AccessTransformFeedbackCntWrite:  WBL2,
	}
	for _, a := range AllAccess {
		if got := SrcAccess(a, nil); got != want[a] {
			t.Errorf("SrcAccess(%#x, nil) = %v, want %v", uint64(a), got, want[a])
		}
	}
}

func TestDstAccessSingleBits(t *testing.T) {
	cfg := Config{Level: gfx.GFX8, ScalarLoadsForStorage: true}
	const (
		vmem   = InvVCache | InvL2Metadata | InvL2
		memory = InvVCache | InvSCache | InvL2 | FlushAndInvCB | FlushAndInvCBMeta | FlushAndInvDB | FlushAndInvDBMeta
	)
	want := map[Access]Bits{
		AccessIndirectCommandRead:       InvSCache,
		AccessVertexAttributeRead:       vmem,
		AccessUniformRead:               InvVCache | InvSCache,
		AccessInputAttachmentRead:       vmem,
		AccessShaderRead:                vmem | InvSCache,
		AccessColorAttachmentRead:       FlushAndInvCB | FlushAndInvCBMeta,
		AccessColorAttachmentWrite:      FlushAndInvCB | FlushAndInvCBMeta,
		AccessDepthStencilRead:          FlushAndInvDB | FlushAndInvDBMeta,
		AccessDepthStencilWrite:         FlushAndInvDB | FlushAndInvDBMeta,
		AccessTransferRead:              vmem,
		AccessTransferWrite:             vmem,
		AccessMemoryRead:                memory,
		AccessMemoryWrite:               memory,
		AccessAccelerationStructureRead: InvVCache | InvL2,
		AccessShaderSampledRead:         vmem,
		AccessShaderStorageRead:         vmem | InvSCache,
		AccessShaderBindingTableRead:    vmem | InvSCache,
		AccessDescriptorBufferRead:      InvSCache,
	}
	for _, a := range AllAccess {
		if got := DstAccess(cfg, a, nil, false); got != want[a] {
			t.Errorf("DstAccess(%#x, nil) = %v, want %v", uint64(a), got, want[a])
		}
	}
}

func TestSrcDstCoverWrites(t *testing.T) {
	// Any write followed by any read of global memory must at least touch
	// a cache on one side of the barrier.
	cfg := Config{Level: gfx.GFX8, ScalarLoadsForStorage: true}
	writes := []Access{
		AccessShaderWrite, AccessColorAttachmentWrite, AccessDepthStencilWrite, AccessTransferWrite,
		AccessMemoryWrite, AccessAccelerationStructureWrite, AccessTransformFeedbackWrite,
		AccessShaderStorageWrite,
	}
	reads := []Access{
		AccessIndirectCommandRead, AccessVertexAttributeRead, AccessUniformRead, AccessShaderRead,
		AccessTransferRead, AccessMemoryRead, AccessShaderSampledRead, AccessShaderStorageRead,
	}
	for _, w := range writes {
		for _, r := range reads {
			if SrcAccess(w, nil)|DstAccess(cfg, r, nil, false) == 0 {
				t.Errorf("write %#x -> read %#x produced no cache operation", uint64(w), uint64(r))
			}
		}
	}
}

func TestColorWriteToShaderRead(t *testing.T) {
	cfg := Config{Level: gfx.GFX8, ScalarLoadsForStorage: true}
	img := image{colorMeta: true}

	src := SrcAccess(AccessColorAttachmentWrite, img)
	if want := FlushAndInvCB | FlushAndInvCBMeta; src != want {
		t.Errorf("SrcAccess() = %v, want %v", src, want)
	}
	dst := DstAccess(cfg, AccessShaderRead, img, false)
	if want := InvVCache | InvL2Metadata | InvL2; dst != want {
		t.Errorf("DstAccess() = %v, want %v", dst, want)
	}
}

func TestDstAccessCoherency(t *testing.T) {
	navi := NewConfig(gfx.Info{Name: "t", Level: gfx.GFX10, NumRenderBackends: 1, NumShaderEngines: 1})
	if !navi.SkipBufferL2Flushes {
		t.Fatal("GFX10 with coherent render backends should skip buffer L2 flushes")
	}
	if got := DstAccess(navi, AccessShaderSampledRead, nil, false); got.Any(InvL2) {
		t.Errorf("DstAccess() = %v, want no INV_L2 without dirty render backends", got)
	}
	if got := DstAccess(navi, AccessShaderSampledRead, nil, true); !got.Any(InvL2) {
		t.Errorf("DstAccess() = %v, want INV_L2 with dirty render backends", got)
	}

	raven := NewConfig(gfx.Info{Name: "t", Level: gfx.GFX10, NumRenderBackends: 1, NumShaderEngines: 1, RBNonCoherent: true})
	if raven.SkipBufferL2Flushes {
		t.Error("non-coherent render backends must not skip buffer L2 flushes")
	}
}

func TestMetaWriteThroughRenderBackend(t *testing.T) {
	color := image{colorMeta: true}
	if got := SrcAccess(AccessShaderWrite, color); !got.Has(FlushAndInvCB | InvL2) {
		t.Errorf("SrcAccess(shader write, color image) = %v, want CB and INV_L2", got)
	}
	depth := image{depthMeta: true, depth: true, coherent: true}
	if got := SrcAccess(AccessShaderWrite, depth); got != FlushAndInvDB {
		t.Errorf("SrcAccess(shader write, depth image) = %v, want %v", got, FlushAndInvDB)
	}
	storage := image{storage: true}
	if got := SrcAccess(AccessShaderWrite, storage); got != InvL2 {
		t.Errorf("SrcAccess(shader write, storage image) = %v, want %v", got, InvL2)
	}
}

func TestStageFlush(t *testing.T) {
	tests := []struct {
		name  string
		stage Stage
		want  Bits
	}{
		{"top", StageTopOfPipe, 0},
		{"host", StageHost, 0},
		{"vertex", StageVertexShader, VSPartialFlush},
		{"task implies mesh", StageTaskShader, VSPartialFlush},
		{"fragment", StageFragmentShader, PSPartialFlush},
		{"compute", StageComputeShader, CSPartialFlush},
		{"copy", StageCopy, CSPartialFlush | PSPartialFlush},
		{"bottom", StageBottomOfPipe, CSPartialFlush | PSPartialFlush},
		{"ps wins over vs", StageVertexShader | StageColorAttachmentOutput, PSPartialFlush},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StageFlush(tt.stage); got != tt.want {
				t.Errorf("StageFlush() = %v, want %v", got, tt.want)
			}
		})
	}
}

// =============================================================================
// Emission
// =============================================================================

func TestEmitSequences(t *testing.T) {
	tests := []struct {
		name  string
		level gfx.Level
		queue Queue
		bits  Bits
		want  []pm4.Opcode
	}{
		{"gfx6 inv l2", gfx.GFX6, QueueGeneral, InvL2,
			[]pm4.Opcode{pm4.OpPFPSyncME, pm4.OpSurfaceSync}},
		{"gfx8 cb", gfx.GFX8, QueueGeneral, FlushAndInvCB,
			[]pm4.Opcode{pm4.OpEventWriteEOP, pm4.OpEventWriteEOP, pm4.OpPFPSyncME, pm4.OpSurfaceSync}},
		{"gfx9 cb db l2", gfx.GFX9, QueueGeneral, FlushAndInvCB | FlushAndInvDB | InvL2,
			[]pm4.Opcode{pm4.OpEventWrite, pm4.OpReleaseMem, pm4.OpWaitRegMem}},
		{"gfx9 compute vcache", gfx.GFX9, QueueCompute, InvVCache,
			[]pm4.Opcode{pm4.OpAcquireMem}},
		{"gfx10 cb", gfx.GFX10, QueueGeneral, FlushAndInvCB,
			[]pm4.Opcode{pm4.OpEventWrite, pm4.OpReleaseMem, pm4.OpWaitRegMem, pm4.OpPFPSyncME}},
		{"gfx10 vcache", gfx.GFX10, QueueGeneral, InvVCache,
			[]pm4.Opcode{pm4.OpAcquireMem}},
		{"gfx10 ps partial", gfx.GFX10, QueueGeneral, PSPartialFlush,
			[]pm4.Opcode{pm4.OpEventWrite, pm4.OpPFPSyncME}},
		{"gfx10 compute drops cb", gfx.GFX10, QueueCompute, FlushAndInvCB, []pm4.Opcode{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &sink{}
			f := &Fence{VA: 0x1000, EOPBugVA: 0x2000}
			NewEmitter(tt.level).Emit(s, tt.queue, tt.bits, f)
			if got := ops(t, s.words); !equalOps(got, tt.want) {
				t.Errorf("Emit() packets = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEmitFenceCounts(t *testing.T) {
	s := &sink{}
	f := &Fence{VA: 0x1000}
	e := NewEmitter(gfx.GFX103)
	e.Emit(s, QueueGeneral, FlushAndInvDB, f)
	e.Emit(s, QueueGeneral, FlushAndInvCB|FlushAndInvDB, f)
	if f.Count != 2 {
		t.Fatalf("Fence.Count = %d, want 2", f.Count)
	}

	pkts, err := pm4.Parse(s.words)
	if err != nil {
		t.Fatal(err)
	}
	var waits []uint32
	for _, p := range pkts {
		if p.Op == pm4.OpWaitRegMem {
			waits = append(waits, p.Body[3])
		}
	}
	if len(waits) != 2 || waits[0] != 1 || waits[1] != 2 {
		t.Errorf("wait references = %v, want [1 2]", waits)
	}
}

func TestEmitGFX10CacheControl(t *testing.T) {
	s := &sink{}
	NewEmitter(gfx.GFX10).Emit(s, QueueGeneral, InvVCache|InvSCache, nil)
	pkts, err := pm4.Parse(s.words)
	if err != nil {
		t.Fatal(err)
	}
	if len(pkts) != 1 {
		t.Fatalf("got %d packets, want 1", len(pkts))
	}
	if got, want := pkts[0].Body[len(pkts[0].Body)-1], gcrGL1Inv|gcrGLVInv|gcrGLKInv; got != want {
		t.Errorf("GCR_CNTL = %#x, want %#x", got, want)
	}
}

func TestEmitGFX10MovesCacheBitsIntoRelease(t *testing.T) {
	s := &sink{}
	NewEmitter(gfx.GFX10).Emit(s, QueueGeneral, FlushAndInvCB|InvL2, &Fence{VA: 0x1000})
	pkts, err := pm4.Parse(s.words)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range pkts {
		switch p.Op {
		case pm4.OpReleaseMem:
			if want := pm4.RelGL2Inv | pm4.RelGL2WB | pm4.RelGLMInv | pm4.RelGLMWB; p.Body[0]&want != want {
				t.Errorf("RELEASE_MEM flags = %#x, want %#x set", p.Body[0], want)
			}
		case pm4.OpAcquireMem:
			t.Error("no ACQUIRE_MEM expected once L2 bits travel with the timestamp")
		}
	}
}

func TestEmitPipelineStats(t *testing.T) {
	s := &sink{}
	NewEmitter(gfx.GFX9).Emit(s, QueueGeneral, StartPipelineStats, nil)
	pkts, _ := pm4.Parse(s.words)
	evs := pm4.Events(pkts)
	if len(evs) != 1 || evs[0] != pm4.EventPipelineStatStart {
		t.Errorf("Events() = %v, want [PIPELINESTAT_START]", evs)
	}
}

func TestWriteEventEOPGFX9Workaround(t *testing.T) {
	s := &sink{}
	WriteEventEOP(s, gfx.GFX9, QueueGeneral, pm4.EventBottomOfPipeTS, 0, pm4.EOPDataSelValue32, 0x1000, 1, 0x2000)
	want := []pm4.Opcode{pm4.OpEventWrite, pm4.OpReleaseMem}
	if got := ops(t, s.words); !equalOps(got, want) {
		t.Errorf("packets = %v, want %v", got, want)
	}

	s = &sink{}
	WriteEventEOP(s, gfx.GFX8, QueueCompute, pm4.EventBottomOfPipeTS, 0, pm4.EOPDataSelValue32, 0x1000, 1, 0)
	pkts, _ := pm4.Parse(s.words)
	if len(pkts) != 1 || len(pkts[0].Body) != 6 {
		t.Errorf("GFX8 compute RELEASE_MEM body = %d dwords, want 6", len(pkts[0].Body))
	}
}
