package amdcmd

import (
	"log/slog"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/amdcmd/internal/derive"
	"github.com/gogpu/amdcmd/internal/flush"
	"github.com/gogpu/amdcmd/internal/gfx"
	"github.com/gogpu/amdcmd/internal/meta"
	"github.com/gogpu/amdcmd/internal/pm4"
	"github.com/gogpu/amdcmd/winsys"
)

// traceBOSize is the size of the device trace buffer.
const traceBOSize = 4096

// Device is the chip-level state shared by all command buffers recorded
// for one GPU: the chip model, the per-generation strategies, the shader
// part cache, the metadata kernel library and the optional trace buffer.
//
// A Device is safe for concurrent use by command buffers recording on
// separate goroutines.
type Device struct {
	info    ChipInfo
	opts    deviceOptions
	ws      winsys.Winsys
	flush   flush.Config
	traits  genTraits
	binning derive.BinningSettings

	parts   *shaderParts
	kernels *meta.Library

	trace   winsys.BO
	traceID atomic.Uint32

	logger atomic.Pointer[slog.Logger]
	// followsPackage is set when no WithLogger option was given.
	followsPackage bool
}

// NewDevice creates a device over ws for the chip selected by the options.
//
// Example:
//
//	ws := memws.New()
//	dev, err := amdcmd.NewDevice(ws, amdcmd.WithChip("navi21"))
//	if err != nil {
//		return err
//	}
//	defer dev.Destroy()
func NewDevice(ws winsys.Winsys, opts ...DeviceOption) (*Device, error) {
	o := defaultDeviceOptions()
	for _, opt := range opts {
		opt(&o)
	}

	info, err := gfx.Lookup(o.chip)
	if err != nil {
		return nil, errors.Mark(err, ErrUnsupported)
	}
	if o.level != nil {
		info.Level = *o.level
	}
	if o.family != nil {
		info.Family = *o.family
	}
	if o.renderBackend != nil {
		info.NumRenderBackends = *o.renderBackend
	}
	if o.shaderEngines != nil {
		info.NumShaderEngines = *o.shaderEngines
	}
	if o.rbPlus != nil {
		info.RBPlus = *o.rbPlus
	}
	if err := info.Validate(); err != nil {
		return nil, errors.Mark(err, ErrUnsupported)
	}

	d := &Device{
		info:    info,
		opts:    o,
		ws:      ws,
		flush:   flush.NewConfig(info),
		traits:  newTraits(info.Level),
		binning: derive.DefaultBinningSettings(info),
		parts:   newShaderParts(ws, o.partBuilder, o.partCapacity),
	}
	var libOpts []meta.LibraryOption
	if o.compiler != nil {
		libOpts = append(libOpts, meta.WithCompiler(o.compiler))
	}
	d.kernels = meta.NewLibrary(ws, libOpts...)

	if o.trace {
		bo, err := ws.CreateBO(traceBOSize, traceBOSize, winsys.DomainGTT)
		if err != nil {
			d.kernels.Destroy()
			return nil, errors.Mark(errors.Wrap(err, "amdcmd: allocating trace buffer"), ErrOutOfDeviceMemory)
		}
		d.trace = bo
	}

	if o.logger != nil {
		d.SetLogger(o.logger)
	} else {
		d.followsPackage = true
		propagateLogger(d)
	}

	d.Logger().Info("amdcmd: device created",
		"chip", info.Name,
		"level", info.Level.String(),
		"family", info.Family.String(),
		"render_backends", info.NumRenderBackends,
		"shader_engines", info.NumShaderEngines,
		"rbplus", info.RBPlus,
		"trace", o.trace)
	return d, nil
}

// SetLogger sets the logger of the device and its caches.
func (d *Device) SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	d.logger.Store(l)
	d.parts.cache.SetLogger(l)
	d.kernels.SetLogger(l)
}

// Logger returns the device logger.
func (d *Device) Logger() *slog.Logger { return d.logger.Load() }

// Info returns the chip model.
func (d *Device) Info() ChipInfo { return d.info }

// Winsys returns the submission layer the device records for.
func (d *Device) Winsys() winsys.Winsys { return d.ws }

// TraceBuffer returns the trace buffer, or nil without WithTraceBuffer.
func (d *Device) TraceBuffer() winsys.BO { return d.trace }

// nextTraceID returns the id the next trace marker writes.
func (d *Device) nextTraceID() uint32 { return d.traceID.Add(1) }

// Destroy releases the device caches and the trace buffer. Command buffers
// of the device must be destroyed first.
func (d *Device) Destroy() {
	if d.followsPackage {
		forgetLogger(d)
	}
	d.kernels.Destroy()
	d.parts.cache.Clear()
	if d.trace != nil {
		d.ws.DestroyBO(d.trace)
		d.trace = nil
	}
}

// genTraits bundles the encodings that differ between generations. It is
// selected once per device so emitters never re-branch on the level for
// these.
type genTraits struct {
	level    gfx.Level
	flusher  flush.Emitter
	lineSize uint32

	// vertexFormat returns the format bits of buffer descriptor dword 3.
	vertexFormat func(gputypes.VertexFormat) (uint32, bool)
	// rawFormat is the format of raw and streamout buffer descriptors.
	rawFormat uint32

	setPrimitiveType func(s pm4.Sink, prim uint32)
	setIndexType     func(s pm4.Sink, t uint32)
	setIAParam       func(s pm4.Sink, v uint32)
	predicate        func(s pm4.Sink, op uint32, drawVisible bool, va uint64)
	// restartUconfig selects the uconfig VGT_MULTI_PRIM_IB_RESET_EN.
	restartUconfig bool
}

// Buffer descriptor dword 3 fields.
const (
	bufDstSelXYZW       uint32 = 4 | 5<<3 | 6<<6 | 7<<9
	bufNumFormatShift          = 12
	bufDataFormatShift         = 15
	bufFormatShiftGFX10        = 12
	bufResourceLevel    uint32 = 1 << 24
	bufOOBSelectShift          = 28

	bufNumFormatFloat uint32 = 7
	bufNumFormatUint  uint32 = 4
	bufDataFormat32   uint32 = 4
)

// Vertex formats fetchable without a prolog.
var (
	legacyVertexFormats = map[gputypes.VertexFormat]uint32{
		gputypes.VertexFormatFloat32:   4,
		gputypes.VertexFormatFloat32x2: 11,
		gputypes.VertexFormatFloat32x3: 13,
		gputypes.VertexFormatFloat32x4: 14,
	}
	naviVertexFormats = map[gputypes.VertexFormat]uint32{
		gputypes.VertexFormatFloat32:   22,
		gputypes.VertexFormatFloat32x2: 50,
		gputypes.VertexFormatFloat32x3: 62,
		gputypes.VertexFormatFloat32x4: 77,
	}
)

func newTraits(level gfx.Level) genTraits {
	t := genTraits{
		level:    level,
		flusher:  flush.NewEmitter(level),
		lineSize: level.UploadLineSize(),
	}

	if level >= gfx.GFX10 {
		t.vertexFormat = func(f gputypes.VertexFormat) (uint32, bool) {
			v, ok := naviVertexFormats[f]
			w := bufDstSelXYZW | v<<bufFormatShiftGFX10
			if level < gfx.GFX11 {
				w |= bufResourceLevel
			}
			return w, ok
		}
		t.rawFormat = bufDstSelXYZW | naviVertexFormats[gputypes.VertexFormatFloat32]<<bufFormatShiftGFX10
		if level < gfx.GFX11 {
			t.rawFormat |= bufResourceLevel
		}
	} else {
		t.vertexFormat = func(f gputypes.VertexFormat) (uint32, bool) {
			v, ok := legacyVertexFormats[f]
			return bufDstSelXYZW | bufNumFormatFloat<<bufNumFormatShift | v<<bufDataFormatShift, ok
		}
		t.rawFormat = bufDstSelXYZW | bufNumFormatUint<<bufNumFormatShift | bufDataFormat32<<bufDataFormatShift
	}

	if level.HasUconfigTopology() {
		t.setPrimitiveType = func(s pm4.Sink, prim uint32) {
			pm4.SetUconfigRegIdx(s, pm4.RegVGTPrimitiveType, 1, prim)
		}
	} else {
		t.setPrimitiveType = func(s pm4.Sink, prim uint32) {
			pm4.SetConfigReg(s, pm4.RegVGTPrimitiveTypeGFX6, prim)
		}
	}

	if level.HasUconfigIndexType() {
		t.setIndexType = func(s pm4.Sink, v uint32) {
			pm4.SetUconfigRegIdx(s, pm4.RegVGTIndexType, 2, v)
		}
		t.restartUconfig = true
	} else {
		t.setIndexType = pm4.IndexType
	}

	switch {
	case level >= gfx.GFX10:
		t.setIAParam = func(pm4.Sink, uint32) {}
	case level == gfx.GFX9:
		t.setIAParam = func(s pm4.Sink, v uint32) {
			pm4.SetUconfigRegIdx(s, pm4.RegIAMultiVGTParamGFX9, 4, v)
		}
	default:
		t.setIAParam = func(s pm4.Sink, v uint32) {
			pm4.SetContextReg(s, pm4.RegIAMultiVGTParam, v)
		}
	}

	if level >= gfx.GFX9 {
		t.predicate = pm4.SetPredication
	} else {
		t.predicate = pm4.SetPredicationGFX6
	}
	return t
}
