package main

import (
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"github.com/loov/hrtime"

	"github.com/gogpu/amdcmd"
	"github.com/gogpu/amdcmd/internal/dirty"
	"github.com/gogpu/amdcmd/internal/pm4"
	"github.com/gogpu/amdcmd/winsys"
	"github.com/gogpu/amdcmd/winsys/memws"
)

// config selects what one replay pass records.
type config struct {
	draws  int
	trace  bool
	logger *slog.Logger
}

// result summarizes the stream recorded for one chip.
type result struct {
	chip     string
	level    string
	dwords   int
	packets  int
	regs     int
	opcodes  map[pm4.Opcode]int
	req      amdcmd.Requirements
	duration time.Duration
	state    []byte
}

// fixture holds the objects the workload records against.
type fixture struct {
	dev      *amdcmd.Device
	graphics *amdcmd.Pipeline
	compute  *amdcmd.Pipeline
	target   *amdcmd.Image
	sets     winsys.BO
}

func shader(ws winsys.Winsys, stage amdcmd.Stage, hw amdcmd.HWStage) (*amdcmd.Shader, error) {
	bo, err := ws.CreateBO(1024, 256, winsys.DomainVRAM)
	if err != nil {
		return nil, errors.Wrapf(err, "allocating %v shader", stage)
	}
	sh := &amdcmd.Shader{
		Stage:          stage,
		HWStage:        hw,
		BO:             bo,
		CodeSize:       256,
		DescriptorSets: 0x3,
	}
	sh.Locs[amdcmd.SGPRDescriptorSets] = amdcmd.UserDataLoc{SGPR: 0, Count: 2}
	sh.Locs[amdcmd.SGPRPushConstants] = amdcmd.UserDataLoc{SGPR: 2, Count: 1}
	switch stage {
	case amdcmd.StageVertex:
		sh.Locs[amdcmd.SGPRBaseVertex] = amdcmd.UserDataLoc{SGPR: 3, Count: 2}
	case amdcmd.StageFragment:
		sh.ColorOutputs = 1
	case amdcmd.StageCompute:
		sh.Locs[amdcmd.SGPRNumWorkgroups] = amdcmd.UserDataLoc{SGPR: 3, Count: 2}
		sh.ScratchBytesPerWave = 1024
		sh.MaxWaves = 32
	}
	return sh, nil
}

func newFixture(dev *amdcmd.Device) (*fixture, error) {
	ws := dev.Winsys()
	f := &fixture{dev: dev}

	vs, err := shader(ws, amdcmd.StageVertex, amdcmd.HWStageVS)
	if err != nil {
		return nil, err
	}
	ps, err := shader(ws, amdcmd.StageFragment, amdcmd.HWStagePS)
	if err != nil {
		return nil, err
	}
	cs, err := shader(ws, amdcmd.StageCompute, amdcmd.HWStageCS)
	if err != nil {
		return nil, err
	}

	f.graphics, err = dev.CreateGraphicsPipeline(&amdcmd.GraphicsPipelineDesc{
		Vertex:      vs,
		Fragment:    ps,
		Dynamic:     dirty.Viewport | dirty.Scissor,
		Primitive:   gputypes.PrimitiveState{Topology: gputypes.PrimitiveTopologyTriangleList},
		Multisample: gputypes.MultisampleState{Count: 1, Mask: 0xFFFFFFFF},
		Targets:     []gputypes.ColorTargetState{{Format: gputypes.TextureFormatRGBA8Unorm, WriteMask: gputypes.ColorWriteMaskAll}},
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating graphics pipeline")
	}
	f.compute, err = dev.CreateComputePipeline(&amdcmd.ComputePipelineDesc{Compute: cs})
	if err != nil {
		return nil, errors.Wrap(err, "creating compute pipeline")
	}

	f.target, err = dev.CreateImage(&amdcmd.ImageDesc{
		Format: gputypes.TextureFormatRGBA8Unorm,
		Width:  1280,
		Height: 720,
		Usage:  amdcmd.ImageUsageColorAttachment | amdcmd.ImageUsageSampled,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating render target")
	}
	f.sets, err = ws.CreateBO(4096, 256, winsys.DomainVRAM)
	if err != nil {
		return nil, errors.Wrap(err, "allocating descriptor sets")
	}
	return f, nil
}

// record draws into the render target, hands it to a compute pass and
// dispatches over it.
func (f *fixture) record(cb *amdcmd.CommandBuffer, draws int) error {
	if err := cb.Begin(); err != nil {
		return err
	}
	steps := []func() error{
		func() error {
			return cb.CmdBeginRendering(&amdcmd.RenderingInfo{
				Area:   amdcmd.Rect{Width: 1280, Height: 720},
				Colors: []amdcmd.RenderingAttachment{{Image: f.target, Layout: amdcmd.LayoutColorAttachmentOptimal}},
			})
		},
		func() error { return cb.CmdBindPipeline(f.graphics) },
		func() error {
			return cb.CmdSetViewport(0, []amdcmd.Viewport{{Width: 1280, Height: 720, MaxDepth: 1}})
		},
		func() error { return cb.CmdSetScissor(0, []amdcmd.Rect{{Width: 1280, Height: 720}}) },
		func() error {
			sets := []amdcmd.DescriptorSet{{BO: f.sets}, {BO: f.sets, Offset: 256}}
			return cb.CmdBindDescriptorSets(amdcmd.BindPointGraphics, 0, sets, nil)
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}

	for i := range draws {
		// Vertex counts cycle every four draws and instance counts every
		// three, so most draws repeat some state.
		if err := cb.CmdDraw(uint32(3*(i%4+1)), uint32(1+i/3%2), 0, 0); err != nil {
			return errors.Wrapf(err, "draw %d", i)
		}
	}
	if err := cb.CmdEndRendering(); err != nil {
		return err
	}

	err := cb.CmdPipelineBarrier2(&amdcmd.DependencyInfo{Images: []amdcmd.ImageBarrier{{
		MemoryBarrier: amdcmd.MemoryBarrier{
			SrcStage:  amdcmd.PipelineStageColorAttachmentOutput,
			SrcAccess: amdcmd.AccessColorAttachmentWrite,
			DstStage:  amdcmd.PipelineStageComputeShader,
			DstAccess: amdcmd.AccessShaderRead,
		},
		Image:     f.target,
		OldLayout: amdcmd.LayoutColorAttachmentOptimal,
		NewLayout: amdcmd.LayoutShaderReadOnlyOptimal,
		SrcFamily: amdcmd.QueueFamilyIgnored,
		DstFamily: amdcmd.QueueFamilyIgnored,
	}}})
	if err != nil {
		return err
	}
	if err := cb.CmdBindPipeline(f.compute); err != nil {
		return err
	}
	if err := cb.CmdBindDescriptorSets(amdcmd.BindPointCompute, 0, []amdcmd.DescriptorSet{{BO: f.sets, Offset: 512}}, nil); err != nil {
		return err
	}
	if err := cb.CmdDispatch(1280/8, 720/8, 1); err != nil {
		return err
	}
	return cb.End()
}

// replay records the workload for chip on a fresh in-memory winsys.
func replay(chip string, cfg config) (*result, error) {
	dev, err := amdcmd.NewDevice(memws.New(),
		amdcmd.WithChip(chip),
		amdcmd.WithTraceBuffer(cfg.trace),
		amdcmd.WithLogger(cfg.logger),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", chip)
	}
	defer dev.Destroy()

	f, err := newFixture(dev)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", chip)
	}

	cb, err := f.dev.CreateCommandBuffer(amdcmd.QueueFamilyGeneral, false)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", chip)
	}
	defer cb.Destroy()

	start := hrtime.Now()
	if err := f.record(cb, cfg.draws); err != nil {
		return nil, errors.Wrapf(err, "%s: recording", chip)
	}
	elapsed := hrtime.Since(start)

	words := cb.Stream().(*memws.Stream).Words()
	pkts, err := pm4.Parse(words)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: decoding stream", chip)
	}
	r := &result{
		chip:     chip,
		level:    f.dev.Info().Level.String(),
		dwords:   len(words),
		packets:  len(pkts),
		regs:     len(pm4.RegWrites(pkts)),
		opcodes:  make(map[pm4.Opcode]int),
		req:      cb.Requirements(),
		duration: elapsed,
		state:    cb.DumpState(),
	}
	for _, p := range pkts {
		if !p.Type2 {
			r.opcodes[p.Op]++
		}
	}
	return r, nil
}
