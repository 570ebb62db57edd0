package amdcmd

import (
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/amdcmd/internal/pm4"
	"github.com/gogpu/amdcmd/winsys"
	"github.com/gogpu/amdcmd/winsys/memws"
)

// newTestDevice creates a device on an in-memory winsys and destroys it
// when the test ends.
func newTestDevice(t testing.TB, opts ...DeviceOption) *Device {
	t.Helper()
	return newTestDeviceOn(t, memws.New(), opts...)
}

func newTestDeviceOn(t testing.TB, ws *memws.Winsys, opts ...DeviceOption) *Device {
	t.Helper()
	dev, err := NewDevice(ws, opts...)
	if err != nil {
		t.Fatalf("NewDevice() = %v", err)
	}
	t.Cleanup(dev.Destroy)
	return dev
}

// newRecording creates a primary command buffer and begins it.
func newRecording(t testing.TB, dev *Device, family uint32) *CommandBuffer {
	t.Helper()
	return newBuffer(t, dev, family, false)
}

func newBuffer(t testing.TB, dev *Device, family uint32, secondary bool) *CommandBuffer {
	t.Helper()
	cb, err := dev.CreateCommandBuffer(family, secondary)
	if err != nil {
		t.Fatalf("CreateCommandBuffer(%d) = %v", family, err)
	}
	t.Cleanup(cb.Destroy)
	if err := cb.Begin(); err != nil {
		t.Fatalf("Begin() = %v", err)
	}
	return cb
}

func newBO(t testing.TB, dev *Device, size uint64) winsys.BO {
	t.Helper()
	bo, err := dev.Winsys().CreateBO(size, 256, winsys.DomainVRAM)
	if err != nil {
		t.Fatalf("CreateBO(%d) = %v", size, err)
	}
	return bo
}

// testShader returns a shader with the common user SGPR layout: four set
// pointers at 0, the push constant pointer at 4, then the stage specific
// semantics.
func testShader(t testing.TB, dev *Device, stage Stage, hw HWStage) *Shader {
	t.Helper()
	sh := &Shader{
		Stage:          stage,
		HWStage:        hw,
		BO:             newBO(t, dev, 1024),
		CodeSize:       256,
		DescriptorSets: 0xF,
	}
	sh.Locs[SGPRDescriptorSets] = UserDataLoc{SGPR: 0, Count: 4}
	sh.Locs[SGPRPushConstants] = UserDataLoc{SGPR: 4, Count: 1}
	switch stage {
	case StageVertex:
		sh.Locs[SGPRVertexBuffers] = UserDataLoc{SGPR: 5, Count: 1}
		sh.Locs[SGPRBaseVertex] = UserDataLoc{SGPR: 6, Count: 2}
	case StageCompute:
		sh.Locs[SGPRNumWorkgroups] = UserDataLoc{SGPR: 5, Count: 2}
	case StageTask:
		sh.Locs[SGPRNumWorkgroups] = UserDataLoc{SGPR: 5, Count: 2}
		sh.Locs[SGPRRingEntry] = UserDataLoc{SGPR: 7, Count: 1}
		sh.TaskRingEntries = 256
	case StageMesh:
		sh.Locs[SGPRRingEntry] = UserDataLoc{SGPR: 5, Count: 1}
		sh.NGG = true
	case StageFragment:
		sh.ColorOutputs = 1
	}
	return sh
}

// testPipeline builds a vertex and fragment pipeline drawing into one
// RGBA8 target, with the given groups dynamic.
func testPipeline(t testing.TB, dev *Device, dyn DirtyBits) *Pipeline {
	t.Helper()
	p, err := dev.CreateGraphicsPipeline(&GraphicsPipelineDesc{
		Vertex:   testShader(t, dev, StageVertex, HWStageVS),
		Fragment: testShader(t, dev, StageFragment, HWStagePS),
		Dynamic:  dyn,
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleList,
		},
		Multisample: gputypes.MultisampleState{Count: 1, Mask: 0xFFFFFFFF},
		Targets:     []gputypes.ColorTargetState{{Format: gputypes.TextureFormatRGBA8Unorm, WriteMask: gputypes.ColorWriteMaskAll}},
	})
	if err != nil {
		t.Fatalf("CreateGraphicsPipeline() = %v", err)
	}
	return p
}

func testComputePipeline(t testing.TB, dev *Device) *Pipeline {
	t.Helper()
	p, err := dev.CreateComputePipeline(&ComputePipelineDesc{
		Compute: testShader(t, dev, StageCompute, HWStageCS),
	})
	if err != nil {
		t.Fatalf("CreateComputePipeline() = %v", err)
	}
	return p
}

// packets decodes everything recorded into s so far.
func packets(t testing.TB, s winsys.Stream) []pm4.Packet {
	t.Helper()
	ms, ok := s.(*memws.Stream)
	if !ok {
		t.Fatalf("stream is %T, want *memws.Stream", s)
	}
	pkts, err := pm4.Parse(ms.Words())
	if err != nil {
		t.Fatalf("pm4.Parse() = %v", err)
	}
	return pkts
}

// regWrites returns the register writes recorded into the main stream.
func regWrites(t testing.TB, cb *CommandBuffer) []pm4.RegWrite {
	t.Helper()
	return pm4.RegWrites(packets(t, cb.Stream()))
}

// streamLen returns the dwords recorded into the main stream.
func streamLen(cb *CommandBuffer) int { return cb.Stream().Len() }

func mustNoErr(t testing.TB, what string, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s = %v", what, err)
	}
}

var fullViewport = Viewport{Width: 1920, Height: 1080, MaxDepth: 1}

// withOp returns the packets of pkts that use op.
func withOp(pkts []pm4.Packet, op pm4.Opcode) []pm4.Packet {
	var out []pm4.Packet
	for _, p := range pkts {
		if !p.Type2 && p.Op == op {
			out = append(out, p)
		}
	}
	return out
}
