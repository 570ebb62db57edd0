package amdcmd

import (
	"github.com/cockroachdb/errors"

	"github.com/gogpu/amdcmd/internal/flush"
	"github.com/gogpu/amdcmd/internal/layout"
	"github.com/gogpu/amdcmd/winsys"
)

// MemoryBarrier orders all memory accesses of the source scope before the
// destination scope.
type MemoryBarrier struct {
	SrcStage  PipelineStage
	SrcAccess AccessFlags
	DstStage  PipelineStage
	DstAccess AccessFlags
}

// BufferBarrier is a MemoryBarrier restricted to a buffer range. Queue
// family transfers of buffers need no work on this hardware.
type BufferBarrier struct {
	MemoryBarrier
	BO        winsys.BO
	SrcFamily uint32
	DstFamily uint32
}

// ImageBarrier is a MemoryBarrier on an image that may also change its
// layout or owning queue family.
type ImageBarrier struct {
	MemoryBarrier
	Image     *Image
	Range     SubresourceRange
	OldLayout ImageLayout
	NewLayout ImageLayout
	SrcFamily uint32
	DstFamily uint32
}

// DependencyInfo groups the barriers of one CmdPipelineBarrier2 call.
type DependencyInfo struct {
	Memory  []MemoryBarrier
	Buffers []BufferBarrier
	Images  []ImageBarrier
}

// CmdPipelineBarrier2 records a dependency. Source caches are flushed and
// required layout transitions performed right away; destination
// invalidations are deferred until the next command that needs them.
func (cb *CommandBuffer) CmdPipelineBarrier2(dep *DependencyInfo) error {
	if err := cb.check(); err != nil {
		return err
	}
	if dep == nil {
		return nil
	}
	for i, b := range dep.Images {
		if b.Image == nil {
			return errors.Wrapf(ErrBindingOutOfRange, "image barrier %d without an image", i)
		}
	}

	cfg := cb.dev.flush
	var src, dst flush.Stage
	var srcFlush, dstFlush flush.Bits
	add := func(m MemoryBarrier, img flush.Image) {
		src |= m.SrcStage
		dst |= m.DstStage
		srcFlush |= flush.SrcAccess(m.SrcAccess, img)
		dstFlush |= flush.DstAccess(cfg, m.DstAccess, img, cb.rbNoncoherentDirty)
	}
	for _, m := range dep.Memory {
		add(m, nil)
	}
	for _, b := range dep.Buffers {
		add(b.MemoryBarrier, nil)
	}
	for _, b := range dep.Images {
		add(b.MemoryBarrier, &b.Image.meta)
	}

	cb.flushBits |= flush.StageFlush(src) | srcFlush
	if cb.gang.Active() {
		cb.gang.Barrier(src, dst, cb.flushBits, cb.dmaBusy)
	}

	for _, b := range dep.Images {
		if b.OldLayout == b.NewLayout && b.SrcFamily == b.DstFamily {
			continue
		}
		cb.planner.Pending = 0
		cb.planner.Apply(layout.Transition{
			Image:     &b.Image.meta,
			Range:     b.Image.fullRange(b.Range),
			Old:       b.OldLayout,
			New:       b.NewLayout,
			SrcFamily: b.SrcFamily,
			DstFamily: b.DstFamily,
		})
		cb.flushBits |= cb.planner.Pending
		cb.addBuffer(b.Image.bo)
	}
	cb.flushBits |= dstFlush

	// Transfers may still run on CP DMA, which the flush does not wait for.
	if src&(flush.StageCopy|flush.StageClear|flush.StageAllTransfer|flush.StageBottomOfPipe|flush.StageAllCommands) != 0 {
		cb.waitCPDMA()
	}
	cb.logger.Debug("amdcmd: barrier", "flush", cb.flushBits.String())
	return cb.err
}
