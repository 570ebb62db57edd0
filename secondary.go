package amdcmd

import (
	"github.com/cockroachdb/errors"

	"github.com/gogpu/amdcmd/internal/dirty"
	"github.com/gogpu/amdcmd/winsys"
)

// CmdExecuteCommands runs secondary command buffers inline. Every piece of
// state the secondaries may have touched is considered lost afterwards.
func (cb *CommandBuffer) CmdExecuteCommands(secondaries ...*CommandBuffer) error {
	if err := cb.check(); err != nil {
		return err
	}
	if cb.secondary {
		return errors.Wrap(ErrInvalidState, "executing commands from a secondary buffer")
	}
	for i, sec := range secondaries {
		switch {
		case sec == nil:
			return errors.Wrapf(ErrNotExecutable, "secondary %d is nil", i)
		case !sec.secondary:
			return errors.Wrapf(ErrInvalidState, "command buffer %d is not a secondary", i)
		case sec.status != StatusExecutable:
			return errors.Wrapf(ErrNotExecutable, "secondary %d is %s", i, sec.status)
		case sec.family != cb.family:
			return errors.Wrapf(ErrInvalidState, "secondary %d records for queue family %d", i, sec.family)
		}
	}
	if len(secondaries) == 0 {
		return nil
	}

	// The secondaries assume nothing is pending when they start.
	cb.emitCacheFlush()
	cb.waitCPDMA()

	for _, sec := range secondaries {
		if sec.gang.Active() {
			cb.req.Gang = true
		}
		if err := cb.gang.Splice(cb.cs, sec.gang); err != nil {
			cb.recordError(errors.Mark(err, ErrOutOfHostMemory))
			return cb.err
		}
		cb.cs.ExecuteSecondary(sec.cs, true)

		cb.req.merge(sec.req)
		cb.flushBits |= sec.flushBits
		cb.dmaBusy = cb.dmaBusy || sec.dmaBusy
		cb.rbNoncoherentDirty = cb.rbNoncoherentDirty || sec.rbNoncoherentDirty
		cb.queries.flushBits |= sec.queries.flushBits
	}
	cb.invalidateAll()
	cb.logger.Debug("amdcmd: executed secondaries", "count", len(secondaries))
	return nil
}

// invalidateAll forgets every register value the command buffer knows.
func (cb *CommandBuffer) invalidateAll() {
	cb.dirty = dirty.All
	clear(cb.shadow)
	cb.last = lastEmitted{}
	for bp := range cb.descriptors {
		cb.descriptors[bp].invalidate()
		cb.push[bp].dirty = true
	}
	cb.csProgram = nil
	cb.pendingPrefetch |= prefetchGraphics | prefetchCompute
}

// CmdExecuteIndirect jumps to dwords of pre-built packets in bo. The jump
// is skipped while conditional rendering discards work.
func (cb *CommandBuffer) CmdExecuteIndirect(bo winsys.BO, offset uint64, dwords uint32) error {
	if err := cb.check(); err != nil {
		return err
	}
	if bo == nil || offset+4*uint64(dwords) > bo.Size() {
		return errors.Wrap(ErrBindingOutOfRange, "indirect buffer range")
	}
	cb.emitCacheFlush()
	cb.cs.ExecuteIndirect(bo, offset, dwords, cb.predicate.active)
	cb.invalidateAll()
	return nil
}
