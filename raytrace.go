package amdcmd

import (
	"github.com/cockroachdb/errors"

	"github.com/gogpu/amdcmd/internal/pm4"
	"github.com/gogpu/amdcmd/winsys"
)

// ShaderBindingRegion is a strided range of shader records in a shader
// binding table.
type ShaderBindingRegion struct {
	BO     winsys.BO
	Offset uint64
	Stride uint64
	Size   uint64
}

func (r ShaderBindingRegion) va() uint64 {
	if r.BO == nil {
		return 0
	}
	return r.BO.VA() + r.Offset
}

// sbtRegionDwords is the size of one region in the uploaded table: address,
// stride, size.
const sbtRegionDwords = 4

// sbtWords lays out the regions in raygen, miss, hit, callable order.
func sbtWords(regions ...ShaderBindingRegion) []uint32 {
	ws := make([]uint32, 0, sbtRegionDwords*len(regions))
	for _, r := range regions {
		va := r.va()
		ws = append(ws, pm4.Lo(va), pm4.Hi(va), clamp32(r.Stride), clamp32(r.Size))
	}
	return ws
}

func clamp32(v uint64) uint32 {
	// #nosec G115 -- clamped
	return uint32(min(v, 0xFFFFFFFF))
}

// rtBlock is the workgroup size traces launch with. Threads past the launch
// size exit at the top of the program.
func rtBlock(sh *Shader) [3]uint32 {
	if sh.Wave32 {
		return [3]uint32{8, 4, 1}
	}
	return [3]uint32{8, 8, 1}
}

func divCeil(v, d uint32) uint32 {
	q := v / d
	if v%d != 0 {
		q++
	}
	return q
}

func (cb *CommandBuffer) requireRayTracing() (*Shader, error) {
	if err := cb.check(); err != nil {
		return nil, err
	}
	if cb.family == QueueFamilyTransfer {
		return nil, errors.Wrap(ErrInvalidBindPoint, "trace on the transfer queue")
	}
	if cb.rt == nil {
		return nil, errors.Wrap(ErrNoPipeline, "trace without a ray tracing pipeline")
	}
	return cb.rt.shaders[StageRayTracing], nil
}

// userPointer uploads ws and writes its address into the loc SGPRs of sh.
// Shaders that do not read loc are left alone.
func (cb *CommandBuffer) userPointer(sh *Shader, loc UserSGPR, ws []uint32) bool {
	l := sh.Loc(loc)
	if !l.Present() {
		return true
	}
	va, ok := cb.uploadDwords(ws)
	if !ok {
		return false
	}
	pm4.SetSHRegSeq(cb.cs, sh.userReg(l.SGPR), pm4.Lo(va), pm4.Hi(va))
	return true
}

// CmdTraceRays launches a width*height*depth grid of rays with the bound ray
// tracing pipeline.
func (cb *CommandBuffer) CmdTraceRays(raygen, miss, hit, callable ShaderBindingRegion, width, height, depth uint32) error {
	sh, err := cb.requireRayTracing()
	if err != nil {
		return err
	}
	if raygen.BO == nil {
		return errors.Wrap(ErrBindingOutOfRange, "trace without a raygen record")
	}
	if width == 0 || height == 0 || depth == 0 {
		return nil
	}
	if err := cb.beforeDispatch(BindPointRayTracing, sh, false); err != nil {
		return err
	}
	for _, r := range []ShaderBindingRegion{raygen, miss, hit, callable} {
		if r.BO != nil {
			cb.addBuffer(r.BO)
		}
	}
	if !cb.userPointer(sh, SGPRShaderBindingTable, sbtWords(raygen, miss, hit, callable)) ||
		!cb.userPointer(sh, SGPRRayLaunchSize, []uint32{width, height, depth}) {
		return cb.err
	}

	b := rtBlock(sh)
	x, y, z := divCeil(width, b[0]), divCeil(height, b[1]), divCeil(depth, b[2])
	if !cb.gridDims(cb.cs, sh, x, y, z) {
		return cb.err
	}
	pm4.DispatchDirect(cb.cs, x, y, z, dispatchInitiator(sh)|pm4.DispatchForceStartAt000, cb.predicate.active)
	cb.traceMarker()
	return nil
}
