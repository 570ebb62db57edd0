package amdcmd

import (
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/amdcmd/internal/pm4"
	"github.com/gogpu/amdcmd/winsys/memws"
)

// =============================================================================
// Lifecycle
// =============================================================================

func TestCommandBufferLifecycle(t *testing.T) {
	dev := newTestDevice(t)
	cb, err := dev.CreateCommandBuffer(QueueFamilyGeneral, false)
	if err != nil {
		t.Fatalf("CreateCommandBuffer() = %v", err)
	}
	defer cb.Destroy()

	if got := cb.Status(); got != StatusInitial {
		t.Fatalf("Status() = %v, want %v", got, StatusInitial)
	}
	if err := cb.End(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("End() before Begin = %v, want ErrInvalidState", err)
	}
	if err := cb.CmdSetViewport(0, []Viewport{fullViewport}); !errors.Is(err, ErrNotRecording) {
		t.Errorf("CmdSetViewport() before Begin = %v, want ErrNotRecording", err)
	}

	mustNoErr(t, "Begin()", cb.Begin())
	if err := cb.Begin(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Begin() while recording = %v, want ErrInvalidState", err)
	}
	mustNoErr(t, "End()", cb.End())
	if got := cb.Status(); got != StatusExecutable {
		t.Errorf("Status() after End = %v, want %v", got, StatusExecutable)
	}
	if !cb.Stream().(*memws.Stream).Finalized() {
		t.Error("End() did not finalize the stream")
	}

	// Beginning an executable buffer resets it.
	mustNoErr(t, "Begin() again", cb.Begin())
	if got := streamLen(cb); got != 0 {
		t.Errorf("stream length after re-Begin = %d, want 0", got)
	}
}

func TestCreateCommandBufferUnknownFamily(t *testing.T) {
	dev := newTestDevice(t)
	if _, err := dev.CreateCommandBuffer(7, false); !errors.Is(err, ErrInvalidBindPoint) {
		t.Errorf("CreateCommandBuffer(7) = %v, want ErrInvalidBindPoint", err)
	}
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		s    Status
		want string
	}{
		{StatusInitial, "initial"},
		{StatusRecording, "recording"},
		{StatusExecutable, "executable"},
		{StatusInvalid, "invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.s.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

// =============================================================================
// Sticky errors
// =============================================================================

func TestOutOfHostMemoryIsSticky(t *testing.T) {
	dev := newTestDevice(t, WithUploadRingLimit(64))
	cb := newRecording(t, dev, QueueFamilyGeneral)

	err := cb.CmdPushDescriptorSet(BindPointGraphics, 0, make([]uint32, 64))
	if !errors.Is(err, ErrOutOfHostMemory) {
		t.Fatalf("CmdPushDescriptorSet() = %v, want ErrOutOfHostMemory", err)
	}
	if got := cb.Status(); got != StatusInvalid {
		t.Errorf("Status() = %v, want %v", got, StatusInvalid)
	}

	before := streamLen(cb)
	if err := cb.CmdSetViewport(0, []Viewport{fullViewport}); !errors.Is(err, ErrOutOfHostMemory) {
		t.Errorf("CmdSetViewport() after failure = %v, want the sticky error", err)
	}
	if err := cb.CmdDraw(3, 1, 0, 0); !errors.Is(err, ErrOutOfHostMemory) {
		t.Errorf("CmdDraw() after failure = %v, want the sticky error", err)
	}
	if got := streamLen(cb); got != before {
		t.Errorf("stream grew from %d to %d dwords after failure", before, got)
	}
	if err := cb.End(); !errors.Is(err, ErrOutOfHostMemory) {
		t.Errorf("End() = %v, want ErrOutOfHostMemory", err)
	}
	if err := cb.Begin(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Begin() on invalid buffer = %v, want ErrInvalidState", err)
	}

	cb.Reset()
	if err := cb.Err(); err != nil {
		t.Errorf("Err() after Reset = %v, want nil", err)
	}
	mustNoErr(t, "Begin() after Reset", cb.Begin())
}

func TestOutOfDeviceMemory(t *testing.T) {
	ws := memws.New(memws.WithBOFailure(func(size uint64) bool { return size >= 4096 }))
	dev := newTestDeviceOn(t, ws)
	cb := newRecording(t, dev, QueueFamilyGeneral)

	err := cb.CmdPushDescriptorSet(BindPointCompute, 0, []uint32{1, 2, 3, 4})
	if !errors.Is(err, ErrOutOfDeviceMemory) {
		t.Fatalf("CmdPushDescriptorSet() = %v, want ErrOutOfDeviceMemory", err)
	}
	if errors.Is(err, ErrOutOfHostMemory) {
		t.Error("device memory failure also classified as host memory")
	}
}

func TestSetErrorKeepsFirst(t *testing.T) {
	dev := newTestDevice(t)
	cb := newRecording(t, dev, QueueFamilyGeneral)

	cb.SetError(ErrOutOfDeviceMemory)
	cb.SetError(ErrOutOfHostMemory)
	if err := cb.Err(); !errors.Is(err, ErrOutOfDeviceMemory) || errors.Is(err, ErrOutOfHostMemory) {
		t.Errorf("Err() = %v, want only the first error", err)
	}
}

func TestStreamOverflowFailsEnd(t *testing.T) {
	ws := memws.New(memws.WithMaxStreamDwords(16))
	dev := newTestDeviceOn(t, ws)
	cb := newRecording(t, dev, QueueFamilyGeneral)

	for range 10 {
		pm4.NumInstances(cb.Stream(), 2)
	}
	if err := cb.End(); !errors.Is(err, ErrOutOfHostMemory) {
		t.Errorf("End() = %v, want ErrOutOfHostMemory", err)
	}
}

// =============================================================================
// End
// =============================================================================

func TestEndFlushesQueryResults(t *testing.T) {
	dev := newTestDevice(t)
	cb := newRecording(t, dev, QueueFamilyGeneral)
	pool, err := dev.CreateQueryPool(QueryOcclusion, 1)
	mustNoErr(t, "CreateQueryPool()", err)
	defer pool.Destroy()

	mustNoErr(t, "CmdBeginQuery()", cb.CmdBeginQuery(pool, 0))
	mustNoErr(t, "CmdEndQuery()", cb.CmdEndQuery(pool, 0))
	mustNoErr(t, "End()", cb.End())

	if cb.flushBits != 0 {
		t.Errorf("flush bits after End = %v, want none pending", cb.flushBits)
	}
	if n := pm4.CountOp(packets(t, cb.Stream()), pm4.OpEventWrite); n < 2 {
		t.Errorf("EVENT_WRITE packets = %d, want at least the two ZPASS_DONE samples", n)
	}
}

func TestTransferQueueRejectsGraphics(t *testing.T) {
	dev := newTestDevice(t)
	cb := newRecording(t, dev, QueueFamilyTransfer)
	p := testPipeline(t, dev, 0)

	if err := cb.CmdBindPipeline(p); !errors.Is(err, ErrInvalidBindPoint) {
		t.Errorf("CmdBindPipeline() = %v, want ErrInvalidBindPoint", err)
	}
	if err := cb.CmdDraw(3, 1, 0, 0); !errors.Is(err, ErrInvalidBindPoint) {
		t.Errorf("CmdDraw() = %v, want ErrInvalidBindPoint", err)
	}
	mustNoErr(t, "End()", cb.End())
}

func TestRequirementsFromShaders(t *testing.T) {
	dev := newTestDevice(t)
	cb := newRecording(t, dev, QueueFamilyCompute)

	sh := testShader(t, dev, StageCompute, HWStageCS)
	sh.ScratchBytesPerWave = 1024
	sh.MaxWaves = 32
	p, err := dev.CreateComputePipeline(&ComputePipelineDesc{Compute: sh})
	mustNoErr(t, "CreateComputePipeline()", err)
	mustNoErr(t, "CmdBindPipeline()", cb.CmdBindPipeline(p))

	req := cb.Requirements()
	if req.ScratchBytesPerWave != 1024 {
		t.Errorf("ScratchBytesPerWave = %d, want 1024", req.ScratchBytesPerWave)
	}
	if req.ScratchWaves == 0 {
		t.Error("ScratchWaves = 0, want the shader's wave count")
	}
}
