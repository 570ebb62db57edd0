package amdcmd

import (
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/amdcmd/internal/gfx"
	"github.com/gogpu/amdcmd/internal/pm4"
	"github.com/gogpu/amdcmd/winsys/memws"
)

// =============================================================================
// Buffer descriptors
// =============================================================================

func TestNumRecords(t *testing.T) {
	tests := []struct {
		name   string
		level  gfx.Level
		size   uint64
		stride uint32
		want   uint32
	}{
		{"elements", gfx.GFX9, 100, 12, 9},
		{"exact", gfx.GFX10, 96, 12, 8},
		{"zero stride counts bytes", gfx.GFX10, 100, 0, 100},
		{"gfx8 counts bytes", gfx.GFX8, 100, 12, 100},
		{"clamped", gfx.GFX9, 1 << 40, 0, 0xFFFFFFFF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := numRecords(tt.level, tt.size, tt.stride); got != tt.want {
				t.Errorf("numRecords(%v, %d, %d) = %d, want %d", tt.level, tt.size, tt.stride, got, tt.want)
			}
		})
	}
}

func TestBufferDescriptor(t *testing.T) {
	const va = 0x1_2345_6780
	d := bufferDescriptor(gfx.GFX9, va, 16, 10, 0x5)
	if d[0] != 0x2345_6780 || d[1]&0xFFFF != 0x1 || d[1]>>16 != 16 {
		t.Errorf("address/stride words = %#x %#x, want va %#x stride 16", d[0], d[1], uint64(va))
	}
	if d[2] != 10 || d[3] != 0x5 {
		t.Errorf("records/format = %d %#x, want 10 0x5", d[2], d[3])
	}

	tests := []struct {
		stride uint32
		oob    uint32
	}{
		{16, 1},
		{0, 3},
	}
	for _, tt := range tests {
		d := bufferDescriptor(gfx.GFX10, va, tt.stride, 10, 0)
		if got := d[3] >> bufOOBSelectShift & 3; got != tt.oob {
			t.Errorf("stride %d: OOB_SELECT = %d, want %d", tt.stride, got, tt.oob)
		}
	}
}

// =============================================================================
// Binding
// =============================================================================

func TestBindVertexBuffers(t *testing.T) {
	dev := newTestDevice(t)
	cb := newRecording(t, dev, QueueFamilyGeneral)
	bo := newBO(t, dev, 4096)

	err := cb.CmdBindVertexBuffers(1, []VertexBufferBinding{{BO: bo, Offset: 1024}, {}}, []uint32{24, 8})
	mustNoErr(t, "CmdBindVertexBuffers()", err)

	if cb.vertex.bound != 1<<1 {
		t.Errorf("bound = %#b, want only binding 1", cb.vertex.bound)
	}
	got := cb.vertex.buffers[1]
	if got.va != bo.VA()+1024 || got.size != 3072 {
		t.Errorf("binding 1 = va %#x size %d, want va %#x size 3072", got.va, got.size, bo.VA()+1024)
	}
	if cb.state.VertexStrides[1] != 24 || cb.state.VertexStrides[2] != 8 {
		t.Errorf("strides = %v, want 24 and 8 at 1 and 2", cb.state.VertexStrides[:3])
	}
	if !cb.Stream().(*memws.Stream).References(bo.Handle()) {
		t.Error("vertex buffer not referenced by the stream")
	}
}

func TestBindVertexBuffersErrors(t *testing.T) {
	dev := newTestDevice(t)
	cb := newRecording(t, dev, QueueFamilyGeneral)
	bo := newBO(t, dev, 256)

	tests := []struct {
		name    string
		first   uint32
		buffers []VertexBufferBinding
		strides []uint32
	}{
		{"past the last binding", MaxVertexBindings - 1, make([]VertexBufferBinding, 2), nil},
		{"stride count mismatch", 0, []VertexBufferBinding{{BO: bo}}, []uint32{4, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := cb.CmdBindVertexBuffers(tt.first, tt.buffers, tt.strides)
			if !errors.Is(err, ErrBindingOutOfRange) {
				t.Errorf("CmdBindVertexBuffers() = %v, want ErrBindingOutOfRange", err)
			}
		})
	}
}

func TestBindTransformFeedbackBuffers(t *testing.T) {
	dev := newTestDevice(t)
	cb := newRecording(t, dev, QueueFamilyGeneral)
	bo := newBO(t, dev, 1024)

	err := cb.CmdBindTransformFeedbackBuffers(0, []TransformFeedbackBinding{{BO: bo}, {BO: bo, Offset: 512}})
	mustNoErr(t, "CmdBindTransformFeedbackBuffers()", err)
	if cb.streamout.enabled != 0x3 {
		t.Errorf("enabled = %#b, want 0b11", cb.streamout.enabled)
	}
	mustNoErr(t, "CmdBindTransformFeedbackBuffers(nil)", cb.CmdBindTransformFeedbackBuffers(1, []TransformFeedbackBinding{{}}))
	if cb.streamout.enabled != 0x1 {
		t.Errorf("enabled after unbinding = %#b, want 0b1", cb.streamout.enabled)
	}

	err = cb.CmdBindTransformFeedbackBuffers(MaxStreamoutBuffers, []TransformFeedbackBinding{{BO: bo}})
	if !errors.Is(err, ErrBindingOutOfRange) {
		t.Errorf("CmdBindTransformFeedbackBuffers(%d) = %v, want ErrBindingOutOfRange", MaxStreamoutBuffers, err)
	}
}

func TestEndTransformFeedbackSyncs(t *testing.T) {
	tests := []struct {
		chip string
		want int
	}{
		{"vega10", 1},
		// GFX10+ streamout has no VGT to drain.
		{"navi21", 0},
	}
	for _, tt := range tests {
		t.Run(tt.chip, func(t *testing.T) {
			dev := newTestDevice(t, WithChip(tt.chip))
			cb := newRecording(t, dev, QueueFamilyGeneral)
			mustNoErr(t, "CmdBeginTransformFeedback()", cb.CmdBeginTransformFeedback())
			if !cb.Requirements().Streamout {
				t.Error("Requirements().Streamout = false after CmdBeginTransformFeedback")
			}
			mustNoErr(t, "CmdEndTransformFeedback()", cb.CmdEndTransformFeedback())

			evs := pm4.Events(packets(t, cb.Stream()))
			if got := countEvents(evs, pm4.EventVGTStreamoutSync); got != tt.want {
				t.Errorf("VGT_STREAMOUT_SYNC events = %d, want %d", got, tt.want)
			}
			if cb.streamout.active {
				t.Error("streamout still active")
			}
		})
	}
}
