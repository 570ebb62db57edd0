package meta

import (
	_ "embed"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/naga"

	"github.com/gogpu/amdcmd/internal/shadercache"
	"github.com/gogpu/amdcmd/winsys"
)

// Embedded WGSL kernel sources, compiled on first use.

//go:embed shaders/fill.wgsl
var fillWGSL string

//go:embed shaders/expand.wgsl
var expandWGSL string

//go:embed shaders/eliminate.wgsl
var eliminateWGSL string

//go:embed shaders/copy.wgsl
var copyWGSL string

// Kernel names.
const (
	KernelFill               = "fill"
	KernelHTILEExpand        = "htile_expand"
	KernelDCCDecompress      = "dcc_decompress"
	KernelFastClearEliminate = "fast_clear_eliminate"
	KernelFMASKExpand        = "fmask_expand"
	KernelDCCRetile          = "dcc_retile"
)

var kernelSources = map[string]*string{
	KernelFill:               &fillWGSL,
	KernelHTILEExpand:        &expandWGSL,
	KernelDCCDecompress:      &expandWGSL,
	KernelFastClearEliminate: &eliminateWGSL,
	KernelFMASKExpand:        &expandWGSL,
	KernelDCCRetile:          &copyWGSL,
}

// KernelNames lists every kernel the library can build.
func KernelNames() []string {
	return []string{
		KernelFill,
		KernelHTILEExpand,
		KernelDCCDecompress,
		KernelFastClearEliminate,
		KernelFMASKExpand,
		KernelDCCRetile,
	}
}

// WorkgroupSize is the invocation count of one workgroup of every kernel.
const WorkgroupSize = 64

// ErrUnknownKernel is returned for a kernel name the library has no source
// for.
var ErrUnknownKernel = errors.New("meta: unknown kernel")

// Kernel is a compiled meta kernel resident in GPU memory.
type Kernel struct {
	Name string
	// Code is the SPIR-V binary.
	Code []uint32
	BO   winsys.BO
}

// VA returns the address the compute program registers point at.
func (k *Kernel) VA() uint64 { return k.BO.VA() }

// Compiler turns WGSL source into a SPIR-V byte stream.
type Compiler func(source string) ([]byte, error)

// Library builds and caches meta kernels for a device. It is safe for
// concurrent use by the command buffers of the device.
type Library struct {
	ws      winsys.Winsys
	compile Compiler
	cache   *shadercache.Cache[string, *Kernel]
}

// LibraryOption configures a Library.
type LibraryOption func(*Library)

// WithCompiler replaces the naga WGSL compiler.
func WithCompiler(c Compiler) LibraryOption {
	return func(l *Library) { l.compile = c }
}

// NewLibrary creates an empty library whose kernel buffers are allocated
// from ws.
func NewLibrary(ws winsys.Winsys, opts ...LibraryOption) *Library {
	l := &Library{ws: ws, compile: naga.Compile}
	for _, opt := range opts {
		opt(l)
	}
	l.cache = shadercache.New[string, *Kernel](shadercache.DefaultCapacity, shadercache.StringHasher,
		shadercache.WithEvict(func(_ string, k *Kernel) {
			ws.DestroyBO(k.BO)
		}))
	return l
}

// SetLogger sets the logger of the underlying cache.
func (l *Library) SetLogger(logger *slog.Logger) { l.cache.SetLogger(logger) }

// Stats returns cache statistics.
func (l *Library) Stats() shadercache.Stats { return l.cache.Stats() }

// Get returns the kernel called name, compiling and uploading it on first
// use.
func (l *Library) Get(name string) (*Kernel, error) {
	return l.cache.GetOrBuild(name, func() (*Kernel, error) {
		return l.build(name)
	})
}

func (l *Library) build(name string) (*Kernel, error) {
	src, ok := kernelSources[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownKernel, "%q", name)
	}
	spirv, err := l.compile(*src)
	if err != nil {
		return nil, errors.Wrapf(err, "meta: compiling %s", name)
	}
	if len(spirv) == 0 || len(spirv)%4 != 0 {
		return nil, errors.Newf("meta: %s compiled to %d bytes", name, len(spirv))
	}

	// SPIR-V is little-endian 32-bit words.
	code := make([]uint32, len(spirv)/4)
	for i := range code {
		code[i] = uint32(spirv[i*4]) |
			uint32(spirv[i*4+1])<<8 |
			uint32(spirv[i*4+2])<<16 |
			uint32(spirv[i*4+3])<<24
	}

	bo, err := l.ws.CreateBO(uint64(len(spirv)), 256, winsys.DomainVRAM)
	if err != nil {
		return nil, errors.Wrapf(err, "meta: allocating %s", name)
	}
	data, err := bo.Map()
	if err != nil {
		l.ws.DestroyBO(bo)
		return nil, errors.Wrapf(err, "meta: mapping %s", name)
	}
	copy(data, spirv)

	return &Kernel{Name: name, Code: code, BO: bo}, nil
}

// Destroy frees every kernel buffer.
func (l *Library) Destroy() { l.cache.Clear() }
