package amdcmd

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// DumpState returns a JSON description of the recording state: lifecycle,
// pending dirty groups and flushes, bindings and queue requirements. It is
// meant for hang reports and debugging, not for parsing by programs.
func (cb *CommandBuffer) DumpState() []byte {
	w := jwriter.NewWriter()
	obj := w.Object()
	obj.Name("status").String(cb.status.String())
	obj.Name("chip").String(cb.dev.info.Name)
	obj.Name("level").String(cb.dev.info.Level.String())
	obj.Name("family").Int(int(cb.family))
	obj.Name("secondary").Bool(cb.secondary)
	if cb.err != nil {
		obj.Name("error").String(cb.err.Error())
	}
	obj.Name("stream_dwords").Int(cb.cs.Len())
	if gs := cb.gang.Stream(); gs != nil {
		obj.Name("gang_dwords").Int(gs.Len())
	}

	obj.Name("dirty").String(cb.dirty.String())
	obj.Name("flush").String(cb.flushBits.String())
	obj.Name("dma_busy").Bool(cb.dmaBusy)
	obj.Name("rb_noncoherent_dirty").Bool(cb.rbNoncoherentDirty)

	if p := cb.graphics; p != nil {
		g := obj.Name("graphics").Object()
		stages := g.Name("stages").Array()
		for _, sh := range p.hw {
			w.String(sh.Stage.String())
		}
		stages.End()
		g.Name("dynamic").String(p.dynamic.String())
		g.Name("needed").String(p.needed.String())
		g.End()
	}
	obj.Name("compute_bound").Bool(cb.compute != nil)
	obj.Name("ray_tracing_bound").Bool(cb.rt != nil)

	r := obj.Name("rendering").Object()
	r.Name("active").Bool(cb.render.active)
	r.Name("colors").Int(int(cb.render.colorCount))
	r.Name("depth").Bool(cb.render.depth != nil)
	r.Name("samples").Int(int(cb.render.samples))
	r.End()

	q := obj.Name("queries").Object()
	q.Name("occlusion").Int(cb.queries.occlusion)
	q.Name("pipeline_statistics").Int(cb.queries.pipelineStats)
	q.Name("predicated").Bool(cb.predicate.active)
	q.End()

	req := obj.Name("requirements").Object()
	req.Name("scratch_bytes_per_wave").Int(int(cb.req.ScratchBytesPerWave))
	req.Name("scratch_waves").Int(int(cb.req.ScratchWaves))
	req.Name("task_ring_entries").Int(int(cb.req.TaskRingEntries))
	req.Name("gang").Bool(cb.req.Gang)
	req.Name("streamout").Bool(cb.req.Streamout)
	req.End()

	obj.End()
	return w.Bytes()
}
