// Package winsys defines the submission-layer collaborators consumed by the
// command-buffer engine: command streams, buffer objects and the factory
// that creates them.
//
// The engine never talks to a kernel driver directly. Everything it needs
// from the submission layer goes through these interfaces, which keeps the
// recording path testable with the in-memory implementation in
// [github.com/gogpu/amdcmd/winsys/memws].
package winsys

// IPType selects the hardware engine a stream is recorded for.
type IPType int

const (
	// IPGfx is the graphics (GFX) queue. It accepts draw and dispatch packets.
	IPGfx IPType = iota
	// IPCompute is an asynchronous compute (ACE/MEC) queue.
	IPCompute
	// IPTransfer is the SDMA queue.
	IPTransfer
)

// String returns the conventional name of the engine.
func (t IPType) String() string {
	switch t {
	case IPGfx:
		return "gfx"
	case IPCompute:
		return "compute"
	case IPTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}

// Domain is the memory heap a buffer object lives in.
type Domain int

const (
	// DomainGTT is host memory mapped through the GART.
	DomainGTT Domain = iota
	// DomainVRAM is device-local memory.
	DomainVRAM
)

// BO is a GPU buffer object.
type BO interface {
	// Handle identifies the buffer for residency tracking.
	Handle() uint32
	// VA is the GPU virtual address of the first byte.
	VA() uint64
	// Size is the allocation size in bytes.
	Size() uint64
	// Map returns a CPU view of the buffer contents.
	Map() ([]byte, error)
}

// Stream is a command stream being recorded.
//
// Streams are not safe for concurrent use. A stream belongs to exactly one
// command buffer.
type Stream interface {
	// Append appends one dword to the stream.
	Append(w uint32)
	// AppendArray appends a run of dwords.
	AppendArray(ws []uint32)
	// CheckSpace guarantees room for n more dwords and returns the reserved
	// capacity. A stream that cannot grow reports its failure from Finalize.
	CheckSpace(n int) int
	// Len returns the number of dwords recorded so far.
	Len() int
	// AddBuffer records that the stream references bo.
	AddBuffer(bo BO)
	// Reset discards all recorded dwords and referenced buffers.
	Reset()
	// Finalize closes the stream for submission.
	Finalize() error
	// ExecuteSecondary splices a secondary stream into this one. When
	// allowChaining is false the secondary contents are copied, which is the
	// only option on compute queues.
	ExecuteSecondary(secondary Stream, allowChaining bool)
	// ExecuteIndirect emits an indirect buffer jump to dwords of bo at offset.
	ExecuteIndirect(bo BO, offset uint64, dwords uint32, predicated bool)
	// Destroy releases the stream.
	Destroy()
}

// Winsys creates streams and buffer objects.
type Winsys interface {
	// CreateStream creates a stream for the given engine.
	CreateStream(ip IPType, secondary bool) (Stream, error)
	// CreateBO allocates a buffer object. Failure is reported as a
	// device-memory error by callers.
	CreateBO(size, alignment uint64, domain Domain) (BO, error)
	// DestroyBO frees a buffer object.
	DestroyBO(bo BO)
}
