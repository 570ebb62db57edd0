package gang

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/amdcmd/internal/flush"
	"github.com/gogpu/amdcmd/internal/gfx"
	"github.com/gogpu/amdcmd/winsys"
)

// ErrNoStream is returned by operations that need the compute stream
// before it was created.
var ErrNoStream = errors.New("gang: compute stream not created")

// Stages after which task shaders have to be held back.
const taskBlockingStages = flush.StageTopOfPipe | flush.StageDrawIndirect | flush.StageTaskShader

// Source stages whose completion the compute side always waits for with a
// CS partial flush.
const csIdleStages = flush.StageTaskShader | flush.StageAllTransfer | flush.StageBottomOfPipe | flush.StageAllCommands

// Source stages that may still be running CP DMA on the graphics stream.
const dmaStages = flush.StageCopy | flush.StageClear | flush.StageAllTransfer | flush.StageBottomOfPipe | flush.StageAllCommands

// Stages whose work lives on the graphics stream proper.
const gfxStages = flush.StageVertexShader | flush.StageMeshShader | flush.StageFragmentShader |
	flush.StageEarlyFragmentTests | flush.StageLateFragmentTests | flush.StageColorAttachmentOutput |
	flush.StagePreRasterizationShaders | flush.StageAllGraphics | flush.StageAllCommands

// Gang owns the compute stream of one command buffer and its channel to
// the graphics stream. The stream is created lazily, at most once.
type Gang struct {
	ws        winsys.Winsys
	secondary bool
	emitter   flush.Emitter

	stream winsys.Stream
	// Flush accumulates cache operations pending on the compute stream.
	Flush flush.Bits
	Chan  *Channel

	logger *slog.Logger
}

// New creates a coordinator without a stream.
func New(ws winsys.Winsys, level gfx.Level, alloc Allocator, secondary bool) *Gang {
	return &Gang{
		ws:        ws,
		secondary: secondary,
		emitter:   flush.NewEmitter(level),
		Chan:      NewChannel(level, alloc),
	}
}

// SetLogger sets the logger for stream lifecycle events.
func (g *Gang) SetLogger(l *slog.Logger) { g.logger = l }

// Init creates the compute stream if it does not exist yet.
func (g *Gang) Init() error {
	if g.stream != nil {
		return nil
	}
	cs, err := g.ws.CreateStream(winsys.IPCompute, g.secondary)
	if err != nil {
		return errors.Wrap(err, "gang: creating compute stream")
	}
	g.stream = cs
	if g.logger != nil && g.logger.Enabled(context.Background(), slog.LevelDebug) {
		g.logger.Debug("gang: compute stream created", slog.Bool("secondary", g.secondary))
	}
	return nil
}

// Active reports whether the compute stream exists.
func (g *Gang) Active() bool { return g.stream != nil }

// Stream returns the compute stream, or nil before Init.
func (g *Gang) Stream() winsys.Stream { return g.stream }

// CacheFlush emits the pending cache operations on the compute stream.
func (g *Gang) CacheFlush() {
	if g.stream == nil || g.Flush == 0 {
		return
	}
	// Compute queues never see CB/DB flushes, so no fence is needed.
	g.emitter.Emit(g.stream, flush.QueueCompute, g.Flush, nil)
	g.Flush = 0
}

// Barrier mirrors a graphics-stream barrier onto the compute stream.
// gfxFlush is the graphics stream's pending flush set; dmaBusy reports
// CP DMA still in flight on the graphics stream.
func (g *Gang) Barrier(src, dst flush.Stage, gfxFlush flush.Bits, dmaBusy bool) {
	// Stage flushes are decided per queue: the compute side only drains
	// CS work when the source stages ran on it.
	g.Flush |= gfxFlush & flush.AllCompute &^ flush.CSPartialFlush
	if src&csIdleStages != 0 {
		g.Flush |= flush.CSPartialFlush
	}

	if src&dmaStages != 0 && dmaBusy {
		dst |= flush.StageTaskShader
	}
	if dst&taskBlockingStages != 0 {
		g.Chan.SignalLeader()
	}

	// Graphics work consuming task output waits on the follower.
	if src&flush.StageTaskShader != 0 && dst&gfxStages != 0 {
		g.Chan.SignalFollower()
	}
}

// BeforeDispatch prepares the compute stream for a task dispatch: pending
// flushes first, then a wait on the leader if graphics work was signaled.
func (g *Gang) BeforeDispatch(gfxCS winsys.Stream) error {
	if g.stream == nil {
		return ErrNoStream
	}
	g.CacheFlush()
	return g.Chan.SyncLeader(gfxCS, g.stream)
}

// Finalize closes the compute stream: pending flushes are emitted and the
// semaphore words are zeroed if they were ever allocated.
func (g *Gang) Finalize(gfxCS winsys.Stream) error {
	if g.stream == nil {
		return nil
	}
	g.CacheFlush()
	g.Chan.Zero(gfxCS, g.stream)
	return errors.Wrap(g.stream.Finalize(), "gang: finalizing compute stream")
}

// Splice executes a secondary's compute stream inside this one. Pending
// flushes and semaphores are settled first; the secondary's unsettled
// state is carried back afterwards.
func (g *Gang) Splice(gfxCS winsys.Stream, sec *Gang) error {
	if sec == nil || sec.stream == nil {
		if sec != nil {
			g.absorb(sec)
		}
		return nil
	}
	if err := g.Init(); err != nil {
		return err
	}

	g.CacheFlush()
	if err := g.Chan.SyncLeader(gfxCS, g.stream); err != nil {
		return err
	}
	if err := g.Chan.SyncFollower(gfxCS, g.stream); err != nil {
		return err
	}

	// Compute queues have no IB2, so the contents are always copied.
	g.stream.ExecuteSecondary(sec.stream, false)
	g.absorb(sec)
	return nil
}

func (g *Gang) absorb(sec *Gang) {
	g.Flush |= sec.Flush
	if sec.Chan.Leader.Dirty() {
		g.Chan.SignalLeader()
	}
	if sec.Chan.Follower.Dirty() {
		g.Chan.SignalFollower()
	}
}

// Reset clears recorded state but keeps the stream for reuse.
func (g *Gang) Reset() {
	if g.stream != nil {
		g.stream.Reset()
	}
	g.Flush = 0
	g.Chan.Reset()
}

// Destroy releases the compute stream.
func (g *Gang) Destroy() {
	if g.stream != nil {
		g.stream.Destroy()
		g.stream = nil
	}
}
