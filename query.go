package amdcmd

import (
	"github.com/cockroachdb/errors"

	"github.com/gogpu/amdcmd/internal/dirty"
	"github.com/gogpu/amdcmd/internal/flush"
	"github.com/gogpu/amdcmd/internal/pm4"
	"github.com/gogpu/amdcmd/winsys"
)

// QueryType selects what a query pool counts.
type QueryType int

// Query types.
const (
	QueryOcclusion QueryType = iota
	QueryPipelineStatistics
)

// String returns the query type name.
func (t QueryType) String() string {
	switch t {
	case QueryOcclusion:
		return "occlusion"
	case QueryPipelineStatistics:
		return "pipeline_statistics"
	}
	return "unknown"
}

// pipelineStatCounters is the number of 64-bit counters one
// SAMPLE_PIPELINESTAT event writes.
const pipelineStatCounters = 11

// EVENT_INDEX values of the query events.
const (
	eventIndexZPassDone      = 1
	eventIndexSamplePipeStat = 2
)

// QueryPool is GPU memory holding the begin and end samples of a fixed
// number of queries.
type QueryPool struct {
	dev    *Device
	typ    QueryType
	count  uint32
	stride uint32
	bo     winsys.BO
}

// CreateQueryPool allocates count queries of type t.
func (d *Device) CreateQueryPool(t QueryType, count uint32) (*QueryPool, error) {
	var stride uint32
	switch t {
	case QueryOcclusion:
		// One begin/end pair of 64-bit counters per render backend.
		stride = 16 * max(d.info.NumRenderBackends, 1)
	case QueryPipelineStatistics:
		stride = 2 * 8 * pipelineStatCounters
	default:
		return nil, errors.Wrapf(ErrUnsupported, "query type %d", t)
	}
	if count == 0 {
		return nil, errors.Wrap(ErrBindingOutOfRange, "query pool without queries")
	}
	bo, err := d.ws.CreateBO(uint64(stride)*uint64(count), 64, winsys.DomainGTT)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "amdcmd: allocating query pool"), ErrOutOfDeviceMemory)
	}
	return &QueryPool{dev: d, typ: t, count: count, stride: stride, bo: bo}, nil
}

// Type returns what the pool counts.
func (p *QueryPool) Type() QueryType { return p.typ }

// BO returns the memory holding the samples.
func (p *QueryPool) BO() winsys.BO { return p.bo }

// Stride returns the bytes between consecutive queries.
func (p *QueryPool) Stride() uint32 { return p.stride }

// Destroy frees the pool memory.
func (p *QueryPool) Destroy() {
	if p.bo != nil {
		p.dev.ws.DestroyBO(p.bo)
		p.bo = nil
	}
}

func (p *QueryPool) va(index uint32) uint64 { return p.bo.VA() + uint64(index)*uint64(p.stride) }

type queryState struct {
	occlusion     int
	pipelineStats int
	// flushBits make query results visible at the end of the buffer.
	flushBits flush.Bits
}

func (cb *CommandBuffer) checkQuery(pool *QueryPool, index uint32) error {
	if err := cb.check(); err != nil {
		return err
	}
	if pool == nil || pool.bo == nil {
		return errors.Wrap(ErrBindingOutOfRange, "nil query pool")
	}
	if index >= pool.count {
		return errors.Wrapf(ErrBindingOutOfRange, "query %d of %d", index, pool.count)
	}
	switch {
	case cb.family == QueueFamilyTransfer:
		return errors.Wrap(ErrInvalidBindPoint, "query on the transfer queue")
	case pool.typ == QueryOcclusion && cb.family != QueueFamilyGeneral:
		return errors.Wrap(ErrInvalidBindPoint, "occlusion query outside the general queue")
	}
	return nil
}

// CmdBeginQuery starts query index of pool.
func (cb *CommandBuffer) CmdBeginQuery(pool *QueryPool, index uint32) error {
	if err := cb.checkQuery(pool, index); err != nil {
		return err
	}
	cb.addBuffer(pool.bo)
	va := pool.va(index)

	switch pool.typ {
	case QueryOcclusion:
		cb.queries.occlusion++
		cb.dirty |= dirty.OcclusionQuery
		pm4.EventWriteVA(cb.cs, pm4.EventZPassDone, eventIndexZPassDone, va)
	case QueryPipelineStatistics:
		if cb.queries.pipelineStats == 0 {
			cb.flushBits = cb.flushBits&^flush.StopPipelineStats | flush.StartPipelineStats
		}
		cb.queries.pipelineStats++
		cb.dirty |= dirty.ShaderQuery
		pm4.EventWriteVA(cb.cs, pm4.EventSamplePipelineStat, eventIndexSamplePipeStat, va)
	}
	return nil
}

// CmdEndQuery ends query index of pool.
func (cb *CommandBuffer) CmdEndQuery(pool *QueryPool, index uint32) error {
	if err := cb.checkQuery(pool, index); err != nil {
		return err
	}
	va := pool.va(index)

	switch pool.typ {
	case QueryOcclusion:
		if cb.queries.occlusion == 0 {
			return errors.Wrap(ErrInvalidState, "ending an occlusion query that was not begun")
		}
		pm4.EventWriteVA(cb.cs, pm4.EventZPassDone, eventIndexZPassDone, va+8)
		cb.queries.occlusion--
		cb.dirty |= dirty.OcclusionQuery
	case QueryPipelineStatistics:
		if cb.queries.pipelineStats == 0 {
			return errors.Wrap(ErrInvalidState, "ending a statistics query that was not begun")
		}
		pm4.EventWriteVA(cb.cs, pm4.EventSamplePipelineStat, eventIndexSamplePipeStat, va+8*pipelineStatCounters)
		cb.queries.pipelineStats--
		if cb.queries.pipelineStats == 0 {
			cb.flushBits = cb.flushBits&^flush.StartPipelineStats | flush.StopPipelineStats
		}
		cb.dirty |= dirty.ShaderQuery
	}
	cb.queries.flushBits |= flush.PSPartialFlush | flush.CSPartialFlush | flush.InvL2 | flush.InvVCache
	return nil
}

// Conditional rendering.

type predication struct {
	active   bool
	inverted bool
	va       uint64
}

// CmdBeginConditionalRendering predicates the following draws and
// dispatches on the 64-bit value at bo+offset: they are discarded when it
// is zero, or when it is non-zero with inverted set.
func (cb *CommandBuffer) CmdBeginConditionalRendering(bo winsys.BO, offset uint64, inverted bool) error {
	if err := cb.check(); err != nil {
		return err
	}
	if bo == nil {
		return errors.Wrap(ErrBindingOutOfRange, "conditional rendering without a buffer")
	}
	if cb.family != QueueFamilyGeneral {
		return errors.Wrapf(ErrUnsupported, "conditional rendering on queue family %d", cb.family)
	}
	if cb.predicate.active {
		return errors.Wrap(ErrInvalidState, "conditional rendering already active")
	}
	// The predicate may have been written by earlier work.
	cb.emitCacheFlush()
	cb.waitCPDMA()

	va := bo.VA() + offset
	cb.addBuffer(bo)
	cb.dev.traits.predicate(cb.cs, pm4.PredOpBool64, !inverted, va)
	cb.predicate = predication{active: true, inverted: inverted, va: va}
	return nil
}

// CmdEndConditionalRendering stops predication.
func (cb *CommandBuffer) CmdEndConditionalRendering() error {
	if err := cb.check(); err != nil {
		return err
	}
	if !cb.predicate.active {
		return errors.Wrap(ErrInvalidState, "conditional rendering not active")
	}
	cb.dev.traits.predicate(cb.cs, pm4.PredOpClear, false, 0)
	cb.predicate = predication{}
	return nil
}
