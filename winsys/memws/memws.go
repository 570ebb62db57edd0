// Package memws is an in-memory implementation of the winsys interfaces.
//
// Buffers are plain byte slices placed in a fake GPU virtual address space,
// and streams keep every appended dword so recorded command streams can be
// decoded and inspected. It is used by tests and by the replay tool.
package memws

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/amdcmd/internal/pm4"
	"github.com/gogpu/amdcmd/internal/residency"
	"github.com/gogpu/amdcmd/winsys"
)

// Errors reported by the in-memory winsys.
var (
	// ErrStreamFull is returned from Finalize when a stream ran past its
	// configured dword limit.
	ErrStreamFull = errors.New("memws: command stream full")

	// ErrBOAllocation is returned when buffer creation is made to fail.
	ErrBOAllocation = errors.New("memws: buffer allocation failed")

	// ErrFinalized is returned when a finalized stream is finalized again.
	ErrFinalized = errors.New("memws: stream already finalized")
)

// baseVA is where the fake address space starts. Keeping it above 4 GiB
// exercises the high halves of 64-bit address fields.
const baseVA = 0x1_0000_0000

// Option configures a Winsys.
type Option func(*Winsys)

// WithMaxStreamDwords caps every stream at n dwords. Zero means unlimited.
func WithMaxStreamDwords(n int) Option {
	return func(w *Winsys) {
		w.maxDwords = n
	}
}

// WithBOFailure installs a predicate deciding whether a CreateBO call fails.
func WithBOFailure(fail func(size uint64) bool) Option {
	return func(w *Winsys) {
		w.failBO = fail
	}
}

// Winsys is an in-memory winsys. It is safe for concurrent use.
type Winsys struct {
	mu         sync.Mutex
	nextVA     uint64
	nextHandle uint32
	bos        map[uint32]*BO
	maxDwords  int
	failBO     func(size uint64) bool
}

// New creates an empty in-memory winsys.
func New(opts ...Option) *Winsys {
	w := &Winsys{
		nextVA:     baseVA,
		nextHandle: 1,
		bos:        make(map[uint32]*BO),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// CreateStream creates a stream for the given engine.
func (w *Winsys) CreateStream(ip winsys.IPType, secondary bool) (winsys.Stream, error) {
	return &Stream{
		ip:        ip,
		secondary: secondary,
		maxDwords: w.maxDwords,
		words:     make([]uint32, 0, 1024),
		refs:      residency.NewTracker(),
	}, nil
}

// CreateBO allocates a zero-filled buffer in the fake address space.
func (w *Winsys) CreateBO(size, alignment uint64, domain winsys.Domain) (winsys.BO, error) {
	if w.failBO != nil && w.failBO(size) {
		return nil, errors.Wrapf(ErrBOAllocation, "size %d", size)
	}
	if alignment < 4096 {
		alignment = 4096
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	va := (w.nextVA + alignment - 1) &^ (alignment - 1)
	w.nextVA = va + size
	bo := &BO{
		handle: w.nextHandle,
		va:     va,
		domain: domain,
		data:   make([]byte, size),
	}
	w.nextHandle++
	w.bos[bo.handle] = bo
	return bo, nil
}

// DestroyBO frees a buffer.
func (w *Winsys) DestroyBO(bo winsys.BO) {
	if bo == nil {
		return
	}
	w.mu.Lock()
	delete(w.bos, bo.Handle())
	w.mu.Unlock()
}

// LiveBOs returns the number of buffers not yet destroyed.
func (w *Winsys) LiveBOs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.bos)
}

// ReadDword reads the little-endian dword at va.
func (w *Winsys) ReadDword(va uint64) (uint32, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, bo := range w.bos {
		if va >= bo.va && va+4 <= bo.va+uint64(len(bo.data)) {
			off := va - bo.va
			d := bo.data[off : off+4]
			return uint32(d[0]) | uint32(d[1])<<8 | uint32(d[2])<<16 | uint32(d[3])<<24, true
		}
	}
	return 0, false
}

// BO is an in-memory buffer object.
type BO struct {
	handle uint32
	va     uint64
	domain winsys.Domain
	data   []byte
}

// Handle implements winsys.BO.
func (b *BO) Handle() uint32 { return b.handle }

// VA implements winsys.BO.
func (b *BO) VA() uint64 { return b.va }

// Size implements winsys.BO.
func (b *BO) Size() uint64 { return uint64(len(b.data)) }

// Domain returns the heap the buffer was created in.
func (b *BO) Domain() winsys.Domain { return b.domain }

// Map implements winsys.BO. The returned slice aliases the buffer.
func (b *BO) Map() ([]byte, error) { return b.data, nil }

// Splice records one ExecuteSecondary call.
type Splice struct {
	Dwords   int
	Chained  bool
	IP       winsys.IPType
	Position int
}

// Indirect records one ExecuteIndirect call.
type Indirect struct {
	VA         uint64
	Dwords     uint32
	Predicated bool
}

// Stream is an in-memory command stream.
type Stream struct {
	ip        winsys.IPType
	secondary bool
	maxDwords int
	words     []uint32
	refs      *residency.Tracker
	err       error
	finalized bool
	destroyed bool
	splices   []Splice
	indirects []Indirect
}

// Append implements winsys.Stream.
func (s *Stream) Append(w uint32) {
	if !s.room(1) {
		return
	}
	s.words = append(s.words, w)
}

// AppendArray implements winsys.Stream.
func (s *Stream) AppendArray(ws []uint32) {
	if !s.room(len(ws)) {
		return
	}
	s.words = append(s.words, ws...)
}

func (s *Stream) room(n int) bool {
	if s.maxDwords > 0 && len(s.words)+n > s.maxDwords {
		if s.err == nil {
			s.err = errors.Wrapf(ErrStreamFull, "limit %d dwords", s.maxDwords)
		}
		return false
	}
	return true
}

// CheckSpace implements winsys.Stream.
func (s *Stream) CheckSpace(n int) int {
	if !s.room(n) {
		return s.maxDwords - len(s.words)
	}
	if cap(s.words)-len(s.words) < n {
		grown := make([]uint32, len(s.words), 2*cap(s.words)+n)
		copy(grown, s.words)
		s.words = grown
	}
	return cap(s.words) - len(s.words)
}

// Len implements winsys.Stream.
func (s *Stream) Len() int { return len(s.words) }

// AddBuffer implements winsys.Stream.
func (s *Stream) AddBuffer(bo winsys.BO) { s.refs.Add(bo) }

// Reset implements winsys.Stream.
func (s *Stream) Reset() {
	s.words = s.words[:0]
	s.refs.Reset()
	s.err = nil
	s.finalized = false
	s.splices = s.splices[:0]
	s.indirects = s.indirects[:0]
}

// Finalize implements winsys.Stream.
func (s *Stream) Finalize() error {
	if s.finalized {
		return ErrFinalized
	}
	if s.err != nil {
		return s.err
	}
	s.finalized = true
	return nil
}

// ExecuteSecondary implements winsys.Stream. The secondary contents are
// always copied inline; chaining is only recorded.
func (s *Stream) ExecuteSecondary(secondary winsys.Stream, allowChaining bool) {
	sec, ok := secondary.(*Stream)
	if !ok {
		return
	}
	s.splices = append(s.splices, Splice{
		Dwords:   len(sec.words),
		Chained:  allowChaining && s.ip != winsys.IPCompute,
		IP:       s.ip,
		Position: len(s.words),
	})
	s.AppendArray(sec.words)
	s.refs.Merge(sec.refs)
}

// ExecuteIndirect implements winsys.Stream.
func (s *Stream) ExecuteIndirect(bo winsys.BO, offset uint64, dwords uint32, predicated bool) {
	va := bo.VA() + offset
	s.AddBuffer(bo)
	s.indirects = append(s.indirects, Indirect{VA: va, Dwords: dwords, Predicated: predicated})
	pm4.IndirectBuffer(s, va, dwords, predicated)
}

// Destroy implements winsys.Stream.
func (s *Stream) Destroy() {
	s.destroyed = true
	s.words = nil
}

// Words returns the recorded dwords. The slice aliases the stream.
func (s *Stream) Words() []uint32 { return s.words }

// IP returns the engine the stream records for.
func (s *Stream) IP() winsys.IPType { return s.ip }

// Secondary reports whether the stream was created as a secondary.
func (s *Stream) Secondary() bool { return s.secondary }

// Buffers returns the referenced buffers in first-reference order.
func (s *Stream) Buffers() []winsys.BO { return s.refs.Buffers() }

// References reports whether the stream references the given buffer.
func (s *Stream) References(handle uint32) bool { return s.refs.Contains(handle) }

// Finalized reports whether Finalize succeeded.
func (s *Stream) Finalized() bool { return s.finalized }

// Splices returns the recorded ExecuteSecondary calls.
func (s *Stream) Splices() []Splice { return s.splices }

// Indirects returns the recorded ExecuteIndirect calls.
func (s *Stream) Indirects() []Indirect { return s.indirects }
