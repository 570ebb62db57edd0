package amdcmd

import (
	"log/slog"

	"github.com/gogpu/amdcmd/internal/gfx"
	"github.com/gogpu/amdcmd/internal/meta"
	"github.com/gogpu/amdcmd/internal/shadercache"
)

// DeviceOption configures a Device during creation.
// Use functional options to customize the chip model and caches.
//
// Example:
//
//	// Default chip (navi21)
//	dev, err := amdcmd.NewDevice(ws)
//
//	// A Vega chip with a trace buffer
//	dev, err := amdcmd.NewDevice(ws, amdcmd.WithChip("vega10"), amdcmd.WithTraceBuffer(true))
type DeviceOption func(*deviceOptions)

// deviceOptions holds optional configuration for Device creation.
type deviceOptions struct {
	chip string

	// Overrides applied on top of the chip preset. Nil leaves the preset.
	level         *gfx.Level
	family        *gfx.Family
	renderBackend *uint32
	shaderEngines *uint32
	rbPlus        *bool

	trace        bool
	partCapacity int
	partBuilder  PartBuilder
	ringMinSize  uint64
	ringLimit    uint64
	unrestricted bool
	noBinning    bool
	compiler     meta.Compiler
	logger       *slog.Logger
}

// defaultDeviceOptions returns the default device options.
func defaultDeviceOptions() deviceOptions {
	return deviceOptions{
		chip:         "navi21",
		partCapacity: shadercache.DefaultCapacity,
		partBuilder:  emptyParts{},
	}
}

// WithChip selects a registered chip preset by name.
//
// Example:
//
//	dev, err := amdcmd.NewDevice(ws, amdcmd.WithChip("raven"))
func WithChip(name string) DeviceOption {
	return func(o *deviceOptions) {
		o.chip = name
	}
}

// WithGfxLevel overrides the hardware generation of the chip preset.
func WithGfxLevel(l gfx.Level) DeviceOption {
	return func(o *deviceOptions) {
		o.level = &l
	}
}

// WithFamily overrides the chip family of the preset.
func WithFamily(f gfx.Family) DeviceOption {
	return func(o *deviceOptions) {
		o.family = &f
	}
}

// WithRenderBackends overrides the number of enabled render backends.
func WithRenderBackends(n uint32) DeviceOption {
	return func(o *deviceOptions) {
		o.renderBackend = &n
	}
}

// WithShaderEngines overrides the number of shader engines.
func WithShaderEngines(n uint32) DeviceOption {
	return func(o *deviceOptions) {
		o.shaderEngines = &n
	}
}

// WithRBPlus enables or disables the RB+ blend optimization registers.
func WithRBPlus(enable bool) DeviceOption {
	return func(o *deviceOptions) {
		o.rbPlus = &enable
	}
}

// WithTraceBuffer allocates a trace buffer that receives an incrementing
// id after every draw and dispatch. Useful to locate GPU hangs.
func WithTraceBuffer(enable bool) DeviceOption {
	return func(o *deviceOptions) {
		o.trace = enable
	}
}

// WithShaderPartCache sets the capacity of the VS prolog and PS epilog
// cache shared by all command buffers of the device.
func WithShaderPartCache(capacity int) DeviceOption {
	return func(o *deviceOptions) {
		if capacity > 0 {
			o.partCapacity = capacity
		}
	}
}

// WithShaderPartBuilder installs the compiler of VS prologs and PS
// epilogs. The default builder produces empty parts.
func WithShaderPartBuilder(b PartBuilder) DeviceOption {
	return func(o *deviceOptions) {
		if b != nil {
			o.partBuilder = b
		}
	}
}

// WithUploadRingMinSize sets the smallest backing buffer command buffer
// upload rings allocate.
func WithUploadRingMinSize(n uint64) DeviceOption {
	return func(o *deviceOptions) {
		o.ringMinSize = n
	}
}

// WithUploadRingLimit caps the memory one command buffer's upload ring may
// use. Growth beyond it fails with ErrOutOfHostMemory.
func WithUploadRingLimit(n uint64) DeviceOption {
	return func(o *deviceOptions) {
		o.ringLimit = n
	}
}

// WithUnrestrictedDepthRange enables depth ranges outside [0, 1], which
// disables viewport depth clamping when depth clip is on.
func WithUnrestrictedDepthRange(enable bool) DeviceOption {
	return func(o *deviceOptions) {
		o.unrestricted = enable
	}
}

// WithBinning enables or disables the primitive binner on chips that have
// one. Binning is on by default.
func WithBinning(enable bool) DeviceOption {
	return func(o *deviceOptions) {
		o.noBinning = !enable
	}
}

// WithKernelCompiler replaces the naga compiler used for metadata kernels.
func WithKernelCompiler(c meta.Compiler) DeviceOption {
	return func(o *deviceOptions) {
		o.compiler = c
	}
}

// WithLogger sets the device logger. By default the device follows
// the package logger configured with SetLogger.
func WithLogger(l *slog.Logger) DeviceOption {
	return func(o *deviceOptions) {
		o.logger = l
	}
}
