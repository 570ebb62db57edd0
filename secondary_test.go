package amdcmd

import (
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/amdcmd/internal/pm4"
	"github.com/gogpu/amdcmd/winsys"
	"github.com/gogpu/amdcmd/winsys/memws"
)

// endedSecondary records a secondary that binds its own buffer and ends it.
func endedSecondary(t *testing.T, dev *Device, family uint32) (*CommandBuffer, winsys.BO) {
	t.Helper()
	sec := newBuffer(t, dev, family, true)
	bo := newBO(t, dev, 256)
	mustNoErr(t, "CmdExecuteIndirect()", sec.CmdExecuteIndirect(bo, 0, 16))
	mustNoErr(t, "End()", sec.End())
	return sec, bo
}

func TestExecuteCommandsSplices(t *testing.T) {
	dev := newTestDevice(t)
	sec, bo := endedSecondary(t, dev, QueueFamilyGeneral)
	cb := newRecording(t, dev, QueueFamilyGeneral)

	before := streamLen(cb)
	mustNoErr(t, "CmdExecuteCommands()", cb.CmdExecuteCommands(sec))

	ms := cb.Stream().(*memws.Stream)
	splices := ms.Splices()
	if len(splices) != 1 {
		t.Fatalf("Splices() = %d, want 1", len(splices))
	}
	if got, want := splices[0].Dwords, streamLen(sec); got != want {
		t.Errorf("spliced dwords = %d, want %d", got, want)
	}
	if got := streamLen(cb); got < before+streamLen(sec) {
		t.Errorf("stream length = %d, want at least %d", got, before+streamLen(sec))
	}
	if !ms.References(bo.Handle()) {
		t.Error("primary does not reference the secondary's buffers")
	}
}

func TestExecuteCommandsForgetsState(t *testing.T) {
	dev := newTestDevice(t)
	sec, _ := endedSecondary(t, dev, QueueFamilyGeneral)
	cb := newRecording(t, dev, QueueFamilyGeneral)
	drawReady(t, dev, cb)

	mustNoErr(t, "CmdDraw()", cb.CmdDraw(3, 1, 0, 0))
	mustNoErr(t, "CmdExecuteCommands()", cb.CmdExecuteCommands(sec))
	mustNoErr(t, "CmdDraw()", cb.CmdDraw(3, 1, 0, 0))

	writes := regWrites(t, cb)
	if n := pm4.WritesTo(writes, pm4.RegPAClVportXScale); n != 2 {
		t.Errorf("viewport writes = %d, want 2", n)
	}
	if n := pm4.CountOp(packets(t, cb.Stream()), pm4.OpNumInstances); n != 2 {
		t.Errorf("NUM_INSTANCES packets = %d, want 2", n)
	}
}

func TestExecuteCommandsMergesRequirements(t *testing.T) {
	dev := newTestDevice(t)
	sec := newBuffer(t, dev, QueueFamilyCompute, true)
	sh := testShader(t, dev, StageCompute, HWStageCS)
	sh.ScratchBytesPerWave = 2048
	sh.MaxWaves = 16
	p, err := dev.CreateComputePipeline(&ComputePipelineDesc{Compute: sh})
	mustNoErr(t, "CreateComputePipeline()", err)
	mustNoErr(t, "CmdBindPipeline()", sec.CmdBindPipeline(p))
	mustNoErr(t, "End()", sec.End())

	cb := newRecording(t, dev, QueueFamilyCompute)
	mustNoErr(t, "CmdExecuteCommands()", cb.CmdExecuteCommands(sec))
	if got := cb.Requirements().ScratchBytesPerWave; got != 2048 {
		t.Errorf("ScratchBytesPerWave = %d, want 2048", got)
	}
}

func TestExecuteCommandsErrors(t *testing.T) {
	dev := newTestDevice(t)
	good, _ := endedSecondary(t, dev, QueueFamilyGeneral)
	recording := newBuffer(t, dev, QueueFamilyGeneral, true)
	primary := newRecording(t, dev, QueueFamilyGeneral)
	computeSec, _ := endedSecondary(t, dev, QueueFamilyCompute)

	tests := []struct {
		name string
		cb   *CommandBuffer
		secs []*CommandBuffer
		want error
	}{
		{"nil_secondary", newRecording(t, dev, QueueFamilyGeneral), []*CommandBuffer{nil}, ErrNotExecutable},
		{"still_recording", newRecording(t, dev, QueueFamilyGeneral), []*CommandBuffer{recording}, ErrNotExecutable},
		{"primary_as_secondary", newRecording(t, dev, QueueFamilyGeneral), []*CommandBuffer{primary}, ErrInvalidState},
		{"family_mismatch", newRecording(t, dev, QueueFamilyGeneral), []*CommandBuffer{computeSec}, ErrInvalidState},
		{"from_secondary", newBuffer(t, dev, QueueFamilyGeneral, true), []*CommandBuffer{good}, ErrInvalidState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cb.CmdExecuteCommands(tt.secs...); !errors.Is(err, tt.want) {
				t.Errorf("CmdExecuteCommands() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestExecuteIndirect(t *testing.T) {
	dev := newTestDevice(t)
	cb := newRecording(t, dev, QueueFamilyGeneral)
	bo := newBO(t, dev, 256)

	mustNoErr(t, "CmdBeginConditionalRendering()", cb.CmdBeginConditionalRendering(newBO(t, dev, 64), 0, false))
	mustNoErr(t, "CmdExecuteIndirect()", cb.CmdExecuteIndirect(bo, 64, 48))

	ind := cb.Stream().(*memws.Stream).Indirects()
	if len(ind) != 1 {
		t.Fatalf("Indirects() = %d, want 1", len(ind))
	}
	if ind[0].VA != bo.VA()+64 || ind[0].Dwords != 48 {
		t.Errorf("indirect = %+v, want VA %#x and 48 dwords", ind[0], bo.VA()+64)
	}
	if !ind[0].Predicated {
		t.Error("indirect jump under conditional rendering is not predicated")
	}
	if n := pm4.CountOp(packets(t, cb.Stream()), pm4.OpIndirectBuffer); n != 1 {
		t.Errorf("INDIRECT_BUFFER packets = %d, want 1", n)
	}
}

func TestExecuteIndirectRange(t *testing.T) {
	dev := newTestDevice(t)
	cb := newRecording(t, dev, QueueFamilyGeneral)
	bo := newBO(t, dev, 256)

	tests := []struct {
		name   string
		offset uint64
		dwords uint32
		ok     bool
	}{
		{"whole_buffer", 0, 64, true},
		{"past_end", 0, 65, false},
		{"offset_past_end", 252, 2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := cb.CmdExecuteIndirect(bo, tt.offset, tt.dwords)
			if tt.ok {
				mustNoErr(t, "CmdExecuteIndirect()", err)
				return
			}
			if !errors.Is(err, ErrBindingOutOfRange) {
				t.Errorf("CmdExecuteIndirect() = %v, want ErrBindingOutOfRange", err)
			}
		})
	}
	if err := cb.CmdExecuteIndirect(nil, 0, 1); !errors.Is(err, ErrBindingOutOfRange) {
		t.Errorf("CmdExecuteIndirect(nil) = %v, want ErrBindingOutOfRange", err)
	}
}
