// Package upload implements the per-command-buffer upload ring: a bump
// allocator over GPU-visible backing buffers used to stage descriptors,
// push constants and other small tables the GPU reads while executing the
// command stream.
//
// Addresses handed out are never reused while the ring is alive. When the
// current backing is exhausted a larger one is created and the old one is
// retired, but kept, because packets already recorded point into it.
package upload

import (
	"context"
	"encoding/binary"
	"log/slog"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/amdcmd/winsys"
)

// Errors reported by the ring. Both are sticky: once an allocation fails,
// every later allocation fails with the same error until Reset.
var (
	// ErrBackingAlloc is returned when a new backing buffer cannot be created.
	ErrBackingAlloc = errors.New("upload: backing buffer allocation failed")

	// ErrHostLimit is returned when growth would exceed the configured host
	// memory limit for retired backings.
	ErrHostLimit = errors.New("upload: host memory limit exceeded")
)

// Growth policy constants.
const (
	// MinBackingSize is the smallest backing buffer the ring creates.
	MinBackingSize = 16 * 1024

	// backingAlign is the granularity backing sizes are rounded up to.
	backingAlign = 4096
)

// Allocation is a block handed out by the ring.
type Allocation struct {
	// VA is the GPU address of the first byte.
	VA uint64
	// Offset is the byte offset within the backing buffer.
	Offset uint64
	// Data is the CPU view of the block. It is exactly the requested size.
	Data []byte
}

// PutDwords writes ws little-endian starting at dword index i.
func (a Allocation) PutDwords(i int, ws ...uint32) {
	for j, w := range ws {
		binary.LittleEndian.PutUint32(a.Data[(i+j)*4:], w)
	}
}

// Stats describes ring usage.
type Stats struct {
	Allocations uint64
	Grows       uint64
	BytesUsed   uint64
	Backings    int
}

// Config configures a Ring.
type Config struct {
	// LineSize is the cache line size allocations avoid straddling.
	// Zero means 32.
	LineSize uint32
	// MinSize overrides MinBackingSize when larger than zero.
	MinSize uint64
	// HostLimit caps the total size of all backings. Zero means unlimited.
	HostLimit uint64
	// Logger receives growth diagnostics. Nil disables logging.
	Logger *slog.Logger
}

// Ring is a bump allocator over one live backing buffer plus the retired
// backings it replaced. It is not safe for concurrent use.
type Ring struct {
	ws     winsys.Winsys
	stream winsys.Stream
	cfg    Config

	bo      winsys.BO
	mapped  []byte
	offset  uint64
	retired []winsys.BO
	total   uint64

	err   error
	stats Stats
}

// New creates an empty ring whose backings are referenced from stream.
// No backing is created until the first allocation.
func New(ws winsys.Winsys, stream winsys.Stream, cfg Config) *Ring {
	if cfg.LineSize == 0 {
		cfg.LineSize = 32
	}
	if cfg.MinSize == 0 {
		cfg.MinSize = MinBackingSize
	}
	return &Ring{ws: ws, stream: stream, cfg: cfg}
}

// Alloc returns size bytes with no alignment beyond cache-line placement.
func (r *Ring) Alloc(size uint32) (Allocation, error) {
	return r.AllocAligned(size, 0)
}

// AllocAligned returns size bytes starting at a multiple of align. An
// allocation whose tail would cross a cache line boundary it could have
// avoided starts on the next line instead.
func (r *Ring) AllocAligned(size, align uint32) (Allocation, error) {
	if r.err != nil {
		return Allocation{}, r.err
	}

	line := uint64(r.cfg.LineSize)
	offset := r.offset
	gap := alignUp(offset, line) - offset
	if uint64(size)&(line-1) > gap {
		offset = alignUp(offset, line)
	}
	if align != 0 {
		offset = alignUp(offset, uint64(align))
	}

	if r.bo == nil || offset+uint64(size) > r.bo.Size() {
		if err := r.grow(uint64(size)); err != nil {
			return Allocation{}, err
		}
		offset = 0
	}

	r.offset = offset + uint64(size)
	r.stats.Allocations++
	r.stats.BytesUsed += uint64(size)
	return Allocation{
		VA:     r.bo.VA() + offset,
		Offset: offset,
		Data:   r.mapped[offset : offset+uint64(size) : offset+uint64(size)],
	}, nil
}

// Upload copies data into a fresh allocation and returns its address.
func (r *Ring) Upload(data []byte) (uint64, error) {
	a, err := r.Alloc(uint32(len(data)))
	if err != nil {
		return 0, err
	}
	copy(a.Data, data)
	return a.VA, nil
}

// UploadDwords copies ws into a fresh allocation and returns its address.
func (r *Ring) UploadDwords(ws []uint32) (uint64, error) {
	a, err := r.Alloc(uint32(len(ws) * 4))
	if err != nil {
		return 0, err
	}
	a.PutDwords(0, ws...)
	return a.VA, nil
}

func (r *Ring) grow(needed uint64) error {
	size := max(needed, r.cfg.MinSize)
	if r.bo != nil {
		size = max(size, 2*r.bo.Size())
	}
	size = alignUp(size, backingAlign)

	if r.cfg.HostLimit != 0 && r.total+size > r.cfg.HostLimit {
		r.err = errors.Wrapf(ErrHostLimit, "growing to %d bytes", size)
		return r.err
	}

	bo, err := r.ws.CreateBO(size, backingAlign, winsys.DomainGTT)
	if err != nil {
		r.err = errors.Mark(errors.Wrapf(err, "upload: creating %d byte backing", size), ErrBackingAlloc)
		return r.err
	}
	mapped, err := bo.Map()
	if err != nil {
		r.ws.DestroyBO(bo)
		r.err = errors.Mark(errors.Wrap(err, "upload: mapping backing"), ErrBackingAlloc)
		return r.err
	}

	if r.bo != nil {
		r.retired = append(r.retired, r.bo)
	}
	r.bo = bo
	r.mapped = mapped
	r.offset = 0
	r.total += size
	r.stats.Grows++
	r.stream.AddBuffer(bo)

	if l := r.cfg.Logger; l != nil && l.Enabled(context.Background(), slog.LevelDebug) {
		l.Debug("upload: ring grown",
			slog.Uint64("size", size),
			slog.Uint64("needed", needed),
			slog.Int("retired", len(r.retired)))
	}
	return nil
}

// Err returns the sticky allocation error, if any.
func (r *Ring) Err() error { return r.err }

// Current returns the live backing buffer, or nil before the first
// allocation.
func (r *Ring) Current() winsys.BO { return r.bo }

// Retired returns the backings replaced by growth.
func (r *Ring) Retired() []winsys.BO { return r.retired }

// Stats returns usage counters.
func (r *Ring) Stats() Stats {
	s := r.stats
	s.Backings = len(r.retired)
	if r.bo != nil {
		s.Backings++
	}
	return s
}

// Reset frees retired backings, rewinds the live backing and clears the
// sticky error. The live backing is re-referenced from the stream, which
// the caller is expected to have reset as well.
func (r *Ring) Reset() {
	for _, bo := range r.retired {
		r.ws.DestroyBO(bo)
	}
	r.retired = nil
	r.offset = 0
	r.err = nil
	r.stats = Stats{}
	r.total = 0
	if r.bo != nil {
		r.total = r.bo.Size()
		r.stream.AddBuffer(r.bo)
	}
}

// Destroy frees every backing.
func (r *Ring) Destroy() {
	for _, bo := range r.retired {
		r.ws.DestroyBO(bo)
	}
	if r.bo != nil {
		r.ws.DestroyBO(r.bo)
	}
	r.retired = nil
	r.bo = nil
	r.mapped = nil
	r.offset = 0
	r.total = 0
}

func alignUp(v, a uint64) uint64 {
	return (v + a - 1) &^ (a - 1)
}
