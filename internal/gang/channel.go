// Package gang coordinates the secondary compute (ACE) stream that runs
// task shaders alongside the graphics stream.
//
// The two streams advance independently. They synchronize only through a
// Channel: two monotonic counters living in an 8-byte GPU word pair. The
// graphics stream is the leader and signals the first word, the compute
// stream is the follower and signals the second. Each side waits on the
// other's word with WAIT_REG_MEM.
package gang

import (
	"github.com/cockroachdb/errors"

	"github.com/gogpu/amdcmd/internal/flush"
	"github.com/gogpu/amdcmd/internal/gfx"
	"github.com/gogpu/amdcmd/internal/pm4"
	"github.com/gogpu/amdcmd/internal/upload"
)

// Allocator hands out GPU-visible scratch memory. *upload.Ring satisfies it.
type Allocator interface {
	AllocAligned(size, align uint32) (upload.Allocation, error)
}

// Counter is one direction of the channel.
type Counter struct {
	// Value is the logical count, bumped when the other side must wait.
	Value uint32
	// Emitted is the last value written to GPU memory.
	Emitted uint32
}

// Dirty reports whether Value has not been written yet.
func (c Counter) Dirty() bool { return c.Value != c.Emitted }

const (
	leaderOffset   = 0
	followerOffset = 4
	semaphoreSize  = 8
)

// Channel is the leader/follower semaphore pair of one command buffer.
type Channel struct {
	Leader   Counter
	Follower Counter

	level gfx.Level
	alloc Allocator
	va    uint64

	// EOPBugVA is forwarded to end-of-pipe writes on GFX9.
	EOPBugVA uint64
}

// NewChannel creates a channel whose semaphore memory comes from alloc the
// first time a counter is written.
func NewChannel(level gfx.Level, alloc Allocator) *Channel {
	return &Channel{level: level, alloc: alloc}
}

// VA returns the semaphore address, or zero while unallocated.
func (c *Channel) VA() uint64 { return c.va }

func (c *Channel) ensure() error {
	if c.va != 0 {
		return nil
	}
	a, err := c.alloc.AllocAligned(semaphoreSize, semaphoreSize)
	if err != nil {
		return errors.Wrap(err, "gang: allocating semaphore")
	}
	a.PutDwords(0, 0, 0)
	c.va = a.VA
	return nil
}

// SignalLeader records that the follower must wait for graphics work
// recorded so far.
func (c *Channel) SignalLeader() { c.Leader.Value++ }

// SignalFollower records that the leader must wait for task work recorded
// so far.
func (c *Channel) SignalFollower() { c.Follower.Value++ }

// FlushLeader writes a dirty leader value from the graphics stream once
// the preceding work reaches the bottom of the pipe. It reports whether a
// write was emitted.
func (c *Channel) FlushLeader(gfxCS pm4.Sink) (bool, error) {
	if !c.Leader.Dirty() {
		return false, nil
	}
	if err := c.ensure(); err != nil {
		return false, err
	}
	flush.WriteEventEOP(gfxCS, c.level, flush.QueueGeneral, pm4.EventBottomOfPipeTS, 0,
		pm4.EOPDataSelValue32, c.va+leaderOffset, uint64(c.Leader.Value), c.EOPBugVA)
	c.Leader.Emitted = c.Leader.Value
	return true, nil
}

// FlushFollower is FlushLeader for the compute side.
func (c *Channel) FlushFollower(aceCS pm4.Sink) (bool, error) {
	if !c.Follower.Dirty() {
		return false, nil
	}
	if err := c.ensure(); err != nil {
		return false, err
	}
	flush.WriteEventEOP(aceCS, c.level, flush.QueueCompute, pm4.EventBottomOfPipeTS, 0,
		pm4.EOPDataSelValue32, c.va+followerOffset, uint64(c.Follower.Value), c.EOPBugVA)
	c.Follower.Emitted = c.Follower.Value
	return true, nil
}

// WaitLeader makes the compute stream wait for the last leader value
// written. Waiting is never on an unwritten value.
func (c *Channel) WaitLeader(aceCS pm4.Sink) {
	if c.va == 0 {
		return
	}
	pm4.WaitRegMem(aceCS, pm4.WaitGreaterEqual, c.va+leaderOffset, c.Leader.Emitted, 0xFFFFFFFF)
}

// WaitFollower makes the graphics stream wait for the last follower
// value written.
func (c *Channel) WaitFollower(gfxCS pm4.Sink) {
	if c.va == 0 {
		return
	}
	pm4.WaitRegMem(gfxCS, pm4.WaitGreaterEqual, c.va+followerOffset, c.Follower.Emitted, 0xFFFFFFFF)
}

// SyncLeader flushes the leader counter and, if it was written, makes the
// compute stream wait for it.
func (c *Channel) SyncLeader(gfxCS, aceCS pm4.Sink) error {
	wrote, err := c.FlushLeader(gfxCS)
	if wrote {
		c.WaitLeader(aceCS)
	}
	return err
}

// SyncFollower flushes the follower counter and, if it was written, makes
// the graphics stream wait for it.
func (c *Channel) SyncFollower(gfxCS, aceCS pm4.Sink) error {
	wrote, err := c.FlushFollower(aceCS)
	if wrote {
		c.WaitFollower(gfxCS)
	}
	return err
}

// Zero clears both semaphore words so a resubmission starts from zero.
// The follower word is cleared by the graphics stream and the leader word
// by the compute stream, each after its own last wait.
func (c *Channel) Zero(gfxCS, aceCS pm4.Sink) {
	if c.va == 0 {
		return
	}
	pm4.WriteData(aceCS, pm4.EngineME, c.va+leaderOffset, 0)
	pm4.WriteData(gfxCS, pm4.EngineME, c.va+followerOffset, 0)
}

// Reset forgets the counters and the semaphore address.
func (c *Channel) Reset() {
	c.Leader = Counter{}
	c.Follower = Counter{}
	c.va = 0
}
