// Package residency records the buffer objects a command stream references
// so the submission layer knows what to make resident.
package residency

import "github.com/gogpu/amdcmd/winsys"

// Tracker stores referenced buffers in first-reference order.
// Each buffer is stored once no matter how often it is added.
//
// Tracker is not safe for concurrent use. If concurrent access is needed,
// external synchronization must be provided.
type Tracker struct {
	bos   []winsys.BO
	index map[uint32]int
}

// NewTracker creates an empty tracker with pre-allocated capacity.
func NewTracker() *Tracker {
	return &Tracker{
		bos:   make([]winsys.BO, 0, 32),
		index: make(map[uint32]int, 32),
	}
}

// Add records bo. It returns true if bo was not referenced before.
// A nil buffer is ignored.
func (t *Tracker) Add(bo winsys.BO) bool {
	if bo == nil {
		return false
	}
	h := bo.Handle()
	if _, ok := t.index[h]; ok {
		return false
	}
	t.index[h] = len(t.bos)
	t.bos = append(t.bos, bo)
	return true
}

// Contains reports whether the buffer with the given handle is referenced.
func (t *Tracker) Contains(handle uint32) bool {
	_, ok := t.index[handle]
	return ok
}

// Len returns the number of distinct referenced buffers.
func (t *Tracker) Len() int {
	return len(t.bos)
}

// Each calls fn for every referenced buffer in first-reference order.
func (t *Tracker) Each(fn func(winsys.BO)) {
	for _, bo := range t.bos {
		fn(bo)
	}
}

// Buffers returns a copy of the referenced buffers.
func (t *Tracker) Buffers() []winsys.BO {
	out := make([]winsys.BO, len(t.bos))
	copy(out, t.bos)
	return out
}

// Merge adds every buffer referenced by other.
func (t *Tracker) Merge(other *Tracker) {
	if other == nil {
		return
	}
	for _, bo := range other.bos {
		t.Add(bo)
	}
}

// Reset forgets all references, keeping allocated capacity.
func (t *Tracker) Reset() {
	t.bos = t.bos[:0]
	clear(t.index)
}
