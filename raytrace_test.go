package amdcmd

import (
	"encoding/binary"
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/amdcmd/internal/pm4"
)

func testRayTracingPipeline(t testing.TB, dev *Device) *Pipeline {
	t.Helper()
	sh := testShader(t, dev, StageRayTracing, HWStageCS)
	sh.Locs[SGPRNumWorkgroups] = UserDataLoc{SGPR: 5, Count: 2}
	sh.Locs[SGPRShaderBindingTable] = UserDataLoc{SGPR: 7, Count: 2}
	sh.Locs[SGPRRayLaunchSize] = UserDataLoc{SGPR: 9, Count: 2}
	p, err := dev.CreateRayTracingPipeline(&RayTracingPipelineDesc{RayTracing: sh})
	if err != nil {
		t.Fatalf("CreateRayTracingPipeline() = %v", err)
	}
	return p
}

// uploaded reads n dwords from the upload ring at the pointer written into
// the two user SGPRs at loc.
func uploaded(t testing.TB, cb *CommandBuffer, sh *Shader, loc UserSGPR, n int) []uint32 {
	t.Helper()
	writes := regWrites(t, cb)
	reg := sh.userReg(sh.Loc(loc).SGPR)
	lo, ok := pm4.LastWrite(writes, reg)
	hi, _ := pm4.LastWrite(writes, reg+4)
	if !ok {
		t.Fatalf("%v pointer not written", loc)
	}
	bo := cb.ring.Current()
	data, err := bo.Map()
	if err != nil {
		t.Fatalf("Map() = %v", err)
	}
	off := (uint64(hi)<<32 | uint64(lo)) - bo.VA()
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(data[off+4*uint64(i):])
	}
	return out
}

// =============================================================================
// Trace rays
// =============================================================================

func TestTraceRays(t *testing.T) {
	dev := newTestDevice(t)
	cb := newRecording(t, dev, QueueFamilyCompute)
	p := testRayTracingPipeline(t, dev)
	mustNoErr(t, "CmdBindPipeline()", cb.CmdBindPipeline(p))

	sbt := newBO(t, dev, 4096)
	raygen := ShaderBindingRegion{BO: sbt, Stride: 64, Size: 64}
	miss := ShaderBindingRegion{BO: sbt, Offset: 256, Stride: 32, Size: 96}
	err := cb.CmdTraceRays(raygen, miss, ShaderBindingRegion{}, ShaderBindingRegion{}, 100, 10, 1)
	mustNoErr(t, "CmdTraceRays()", err)

	pkts := packets(t, cb.Stream())
	ds := withOp(pkts, pm4.OpDispatchDirect)
	if len(ds) != 1 {
		t.Fatalf("DISPATCH_DIRECT packets = %d, want 1", len(ds))
	}
	// 100x10 rays in 8x8 wave64 workgroups.
	if b := ds[0].Body; b[0] != 13 || b[1] != 2 || b[2] != 1 {
		t.Errorf("grid = %v, want [13 2 1]", b[:3])
	}

	sh := p.Shader(StageRayTracing)
	if v, ok := pm4.LastWrite(pm4.RegWrites(pkts), pm4.RegComputePgmLo); !ok || v != pm4.Lo(sh.VA()>>8) {
		t.Errorf("COMPUTE_PGM_LO = %#x, want %#x", v, pm4.Lo(sh.VA()>>8))
	}
	table := uploaded(t, cb, sh, SGPRShaderBindingTable, 4*sbtRegionDwords)
	want := []uint32{
		pm4.Lo(sbt.VA()), pm4.Hi(sbt.VA()), 64, 64,
		pm4.Lo(sbt.VA() + 256), pm4.Hi(sbt.VA() + 256), 32, 96,
		0, 0, 0, 0,
		0, 0, 0, 0,
	}
	for i := range want {
		if table[i] != want[i] {
			t.Errorf("table[%d] = %#x, want %#x", i, table[i], want[i])
		}
	}
	if got := uploaded(t, cb, sh, SGPRRayLaunchSize, 3); got[0] != 100 || got[1] != 10 || got[2] != 1 {
		t.Errorf("launch size = %v, want [100 10 1]", got)
	}
}

func TestTraceRaysWave32Block(t *testing.T) {
	dev := newTestDevice(t)
	cb := newRecording(t, dev, QueueFamilyGeneral)
	p := testRayTracingPipeline(t, dev)
	p.Shader(StageRayTracing).Wave32 = true
	mustNoErr(t, "CmdBindPipeline()", cb.CmdBindPipeline(p))

	raygen := ShaderBindingRegion{BO: newBO(t, dev, 256), Stride: 32, Size: 32}
	mustNoErr(t, "CmdTraceRays()", cb.CmdTraceRays(raygen, ShaderBindingRegion{}, ShaderBindingRegion{}, ShaderBindingRegion{}, 16, 9, 2))

	ds := withOp(packets(t, cb.Stream()), pm4.OpDispatchDirect)
	if len(ds) != 1 {
		t.Fatalf("DISPATCH_DIRECT packets = %d, want 1", len(ds))
	}
	b := ds[0].Body
	if b[0] != 2 || b[1] != 3 || b[2] != 2 {
		t.Errorf("grid = %v, want [2 3 2]", b[:3])
	}
	if b[3]&pm4.DispatchCSW32En == 0 {
		t.Errorf("initiator = %#x, want CS_W32_EN", b[3])
	}
}

func TestTraceRaysErrors(t *testing.T) {
	dev := newTestDevice(t)
	raygen := ShaderBindingRegion{BO: newBO(t, dev, 256), Stride: 32, Size: 32}
	var none ShaderBindingRegion

	cb := newRecording(t, dev, QueueFamilyCompute)
	if err := cb.CmdTraceRays(raygen, none, none, none, 1, 1, 1); !errors.Is(err, ErrNoPipeline) {
		t.Errorf("CmdTraceRays() without pipeline = %v, want ErrNoPipeline", err)
	}
	// A compute pipeline does not fill the ray tracing slot.
	mustNoErr(t, "CmdBindPipeline(compute)", cb.CmdBindPipeline(testComputePipeline(t, dev)))
	if err := cb.CmdTraceRays(raygen, none, none, none, 1, 1, 1); !errors.Is(err, ErrNoPipeline) {
		t.Errorf("CmdTraceRays() with a compute pipeline = %v, want ErrNoPipeline", err)
	}

	mustNoErr(t, "CmdBindPipeline()", cb.CmdBindPipeline(testRayTracingPipeline(t, dev)))
	if err := cb.CmdTraceRays(none, none, none, none, 1, 1, 1); !errors.Is(err, ErrBindingOutOfRange) {
		t.Errorf("CmdTraceRays() without raygen = %v, want ErrBindingOutOfRange", err)
	}
	before := streamLen(cb)
	mustNoErr(t, "CmdTraceRays(0 wide)", cb.CmdTraceRays(raygen, none, none, none, 0, 4, 1))
	if got := streamLen(cb); got != before {
		t.Errorf("stream grew from %d to %d dwords for an empty trace", before, got)
	}

	transfer := newRecording(t, dev, QueueFamilyTransfer)
	if err := transfer.CmdTraceRays(raygen, none, none, none, 1, 1, 1); !errors.Is(err, ErrInvalidBindPoint) {
		t.Errorf("CmdTraceRays() on transfer = %v, want ErrInvalidBindPoint", err)
	}

	tests := []struct {
		name string
		dev  *Device
		sh   *Shader
		want error
	}{
		{"no shader", dev, nil, ErrMissingShader},
		{"pixel shader", dev, testShader(t, dev, StageRayTracing, HWStagePS), ErrInvalidBindPoint},
		{"gfx9", newTestDevice(t, WithChip("vega10")), testShader(t, dev, StageRayTracing, HWStageCS), ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.dev.CreateRayTracingPipeline(&RayTracingPipelineDesc{RayTracing: tt.sh})
			if !errors.Is(err, tt.want) {
				t.Errorf("CreateRayTracingPipeline() = %v, want %v", err, tt.want)
			}
		})
	}
}

// =============================================================================
// Shared compute registers
// =============================================================================

func TestComputeAndRayTracingShareRegisters(t *testing.T) {
	dev := newTestDevice(t)
	cb := newRecording(t, dev, QueueFamilyCompute)
	comp := testComputePipeline(t, dev)
	rt := testRayTracingPipeline(t, dev)
	bo := newBO(t, dev, 4096)
	mustNoErr(t, "CmdBindPipeline(compute)", cb.CmdBindPipeline(comp))
	mustNoErr(t, "CmdBindPipeline(rt)", cb.CmdBindPipeline(rt))
	mustNoErr(t, "CmdBindDescriptorSets(compute)", cb.CmdBindDescriptorSets(BindPointCompute, 0, []DescriptorSet{{BO: bo, Offset: 512}}, nil))
	mustNoErr(t, "CmdBindDescriptorSets(rt)", cb.CmdBindDescriptorSets(BindPointRayTracing, 0, []DescriptorSet{{BO: bo, Offset: 1024}}, nil))

	raygen := ShaderBindingRegion{BO: bo, Stride: 32, Size: 32}
	var none ShaderBindingRegion
	mustNoErr(t, "CmdDispatch()", cb.CmdDispatch(1, 1, 1))
	mustNoErr(t, "CmdTraceRays()", cb.CmdTraceRays(raygen, none, none, none, 8, 8, 1))
	writes := regWrites(t, cb)
	if v, _ := pm4.LastWrite(writes, pm4.RegComputeUserData); v != pm4.Lo(bo.VA()+1024) {
		t.Errorf("set 0 after trace = %#x, want the ray tracing set %#x", v, pm4.Lo(bo.VA()+1024))
	}

	mustNoErr(t, "CmdDispatch()", cb.CmdDispatch(1, 1, 1))
	writes = regWrites(t, cb)
	if n := pm4.WritesTo(writes, pm4.RegComputePgmLo); n != 3 {
		t.Errorf("COMPUTE_PGM_LO writes = %d, want 3", n)
	}
	if v, _ := pm4.LastWrite(writes, pm4.RegComputeUserData); v != pm4.Lo(bo.VA()+512) {
		t.Errorf("set 0 after dispatch = %#x, want the compute set %#x", v, pm4.Lo(bo.VA()+512))
	}
	if got := BindPointRayTracing.String(); got != "ray_tracing" {
		t.Errorf("String() = %q, want %q", got, "ray_tracing")
	}
}
