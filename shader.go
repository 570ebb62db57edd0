package amdcmd

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/amdcmd/internal/pm4"
	"github.com/gogpu/amdcmd/internal/shadercache"
	"github.com/gogpu/amdcmd/winsys"
)

// Stage is an API shader stage.
type Stage int

// Shader stages in pipeline order.
const (
	StageVertex Stage = iota
	StageTessControl
	StageTessEval
	StageGeometry
	StageTask
	StageMesh
	StageFragment
	StageCompute
	// StageRayTracing is the ray tracing stages linked into one compute
	// program that launches one thread per ray.
	StageRayTracing

	NumStages
)

var stageNames = [NumStages]string{"vertex", "tess_ctrl", "tess_eval", "geometry", "task", "mesh", "fragment", "compute", "ray_tracing"}

// String returns the stage name.
func (s Stage) String() string {
	if s >= 0 && s < NumStages {
		return stageNames[s]
	}
	return "stage(?)"
}

// graphicsStages are the stages a graphics pipeline may contain.
var graphicsStages = []Stage{StageVertex, StageTessControl, StageTessEval, StageGeometry, StageTask, StageMesh, StageFragment}

// HWStage is the hardware stage a compiled shader runs as. It selects the
// program and user data registers.
type HWStage int

// Hardware stages.
const (
	HWStageVS HWStage = iota
	HWStageLS
	HWStageHS
	HWStageES
	HWStageGS
	HWStagePS
	HWStageCS
)

var hwRegs = [...]struct{ pgm, userData uint32 }{
	HWStageVS: {pm4.RegSPIShaderPgmLoVS, pm4.RegSPIShaderUserDataVS},
	HWStageLS: {pm4.RegSPIShaderPgmLoLS, pm4.RegSPIShaderUserDataLS},
	HWStageHS: {pm4.RegSPIShaderPgmLoHS, pm4.RegSPIShaderUserDataHS},
	HWStageES: {pm4.RegSPIShaderPgmLoES, pm4.RegSPIShaderUserDataES},
	HWStageGS: {pm4.RegSPIShaderPgmLoGS, pm4.RegSPIShaderUserDataGS},
	HWStagePS: {pm4.RegSPIShaderPgmLoPS, pm4.RegSPIShaderUserDataPS},
	HWStageCS: {pm4.RegComputePgmLo, pm4.RegComputeUserData},
}

func (h HWStage) pgmReg() uint32      { return hwRegs[h].pgm }
func (h HWStage) userDataReg() uint32 { return hwRegs[h].userData }

// UserSGPR names a piece of data the driver passes in user SGPRs.
type UserSGPR int

// User SGPR semantics.
const (
	// SGPRDescriptorSets holds one 32-bit set pointer per set index,
	// starting at set 0.
	SGPRDescriptorSets UserSGPR = iota
	// SGPRIndirectDescriptorSets points at a table of all set pointers.
	SGPRIndirectDescriptorSets
	// SGPRPushConstants points at the uploaded push constant block.
	SGPRPushConstants
	// SGPRInlinePushConstants receives the push constant dwords selected by
	// Shader.InlinePushConstants, in ascending order.
	SGPRInlinePushConstants
	// SGPRVertexBuffers points at the vertex buffer descriptors.
	SGPRVertexBuffers
	// SGPRStreamoutBuffers points at the streamout buffer descriptors.
	SGPRStreamoutBuffers
	// SGPRBaseVertex holds base vertex and start instance, plus the draw id
	// when Count is 3.
	SGPRBaseVertex
	// SGPRNumWorkgroups is a 64-bit pointer to the x, y, z workgroup counts.
	SGPRNumWorkgroups
	// SGPRRingEntry receives the task ring entry of task and mesh shaders.
	SGPRRingEntry
	// SGPRShaderQuery enables pipeline statistics emulation in NGG shaders.
	SGPRShaderQuery
	// SGPREpilogPC holds the address of the fragment shader epilog.
	SGPREpilogPC
	// SGPRShaderBindingTable is a 64-bit pointer to the raygen, miss, hit
	// and callable table regions of a trace.
	SGPRShaderBindingTable
	// SGPRRayLaunchSize is a 64-bit pointer to the width, height and depth
	// of a trace.
	SGPRRayLaunchSize

	numUserSGPRs
)

// UserDataLoc is where a semantic lives in a shader's user SGPRs. A zero
// Count means the shader does not use it.
type UserDataLoc struct {
	SGPR  uint8
	Count uint8
}

// Present reports whether the location is used.
func (l UserDataLoc) Present() bool { return l.Count > 0 }

// TessDomain is the tessellator domain of a tessellation evaluation shader.
type TessDomain uint8

// Tessellation domains.
const (
	TessTriangles TessDomain = iota
	TessQuads
	TessIsolines
)

// Shader is a compiled shader resident in GPU memory. The shader compiler
// fills it in; the command buffer only reads it.
type Shader struct {
	Stage   Stage
	HWStage HWStage
	BO      winsys.BO
	// Offset is the program start within BO.
	Offset uint64
	// CodeSize is the program size in bytes, used for prefetching.
	CodeSize uint32

	Locs [numUserSGPRs]UserDataLoc

	// DescriptorSets is the mask of set indices the shader reads.
	DescriptorSets uint32
	// IndirectSets makes the shader read set pointers through
	// SGPRIndirectDescriptorSets instead of one SGPR per set.
	IndirectSets bool
	// InlinePushConstants is the mask of push constant dwords passed
	// directly in SGPRs.
	InlinePushConstants uint64
	// DynamicDescriptors is the number of dynamic buffer descriptors read
	// from the push constant block.
	DynamicDescriptors uint32

	// VertexBindings is the mask of vertex bindings a vertex shader fetches.
	VertexBindings uint32
	// NeedsProlog makes a vertex shader fetch through a VS prolog built from
	// the dynamic vertex input state.
	NeedsProlog bool
	// NeedsEpilog makes a fragment shader export through a PS epilog built
	// from the dynamic color formats.
	NeedsEpilog bool

	// DBShaderControl is the DB_SHADER_CONTROL value of a fragment shader.
	DBShaderControl uint32
	// SampleShading marks fragment shaders that run per sample.
	SampleShading bool
	// ColorOutputs is the mask of color targets a fragment shader writes.
	ColorOutputs uint32

	// OutPrim is the output primitive of geometry and mesh shaders, an
	// OutPrim* value from the derive package.
	OutPrim uint32
	// NGG marks last vertex stages compiled for the NGG pipeline.
	NGG bool
	// TessDomain is the domain of tessellation evaluation shaders.
	TessDomain TessDomain
	// Streamout marks last vertex stages that write transform feedback.
	Streamout bool
	// Wave32 selects 32-wide waves for compute and task shaders.
	Wave32 bool

	// ScratchBytesPerWave and MaxWaves feed the scratch requirement.
	ScratchBytesPerWave uint32
	MaxWaves            uint32
	// TaskRingEntries is the ring size a task shader needs.
	TaskRingEntries uint32
}

// VA returns the address the program registers point at.
func (s *Shader) VA() uint64 { return s.BO.VA() + s.Offset }

// Loc returns the location of a user SGPR semantic.
func (s *Shader) Loc(u UserSGPR) UserDataLoc { return s.Locs[u] }

// userReg returns the SH register of user SGPR sgpr.
func (s *Shader) userReg(sgpr uint8) uint32 {
	return s.HWStage.userDataReg() + 4*uint32(sgpr)
}

// PartKind selects the kind of a generated shader part.
type PartKind uint8

// Shader part kinds.
const (
	PartVSProlog PartKind = iota
	PartPSEpilog
)

// String returns the kind name.
func (k PartKind) String() string {
	if k == PartPSEpilog {
		return "ps_epilog"
	}
	return "vs_prolog"
}

// ShaderPart is a generated prolog or epilog resident in GPU memory.
type ShaderPart struct {
	Kind PartKind
	Hash uint64
	BO   winsys.BO
	Size uint32
}

// VA returns the part's start address.
func (p *ShaderPart) VA() uint64 { return p.BO.VA() }

// PartBuilder compiles shader parts from their key words.
type PartBuilder interface {
	BuildPart(kind PartKind, key []uint32) ([]byte, error)
}

// sEndpgm is the GCN s_endpgm instruction.
const sEndpgm = 0xBF810000

// emptyParts builds parts that end the program immediately.
type emptyParts struct{}

func (emptyParts) BuildPart(PartKind, []uint32) ([]byte, error) {
	return binary.LittleEndian.AppendUint32(nil, sEndpgm), nil
}

type partKey struct {
	kind PartKind
	hash uint64
}

func hashKey(words []uint32) uint64 {
	b := make([]byte, 0, 4*len(words))
	for _, w := range words {
		b = binary.LittleEndian.AppendUint32(b, w)
	}
	return shadercache.HashBytes(b)
}

// VSPrologKey selects a VS prolog: how each attribute location is fetched.
type VSPrologKey struct {
	HWStage HWStage
	// Attribs holds, per location, the binding, format descriptor word and
	// byte offset of enabled attributes.
	Attribs []prologAttrib
	// Instanced is the mask of locations fetched at instance rate.
	Instanced uint32
	// Divisors holds the divisor of each instanced location.
	Divisors []uint32
}

type prologAttrib struct {
	Location, Binding uint32
	Format, Offset    uint32
}

func (k VSPrologKey) words() []uint32 {
	w := []uint32{uint32(k.HWStage), k.Instanced, uint32(len(k.Attribs))}
	for _, a := range k.Attribs {
		w = append(w, a.Location, a.Binding, a.Format, a.Offset)
	}
	return append(w, k.Divisors...)
}

// PSEpilogKey selects a PS epilog: the export format of every target.
type PSEpilogKey struct {
	ColFormat    uint32
	WriteMask    uint32
	AlphaToCover bool
	DualSource   bool
}

func (k PSEpilogKey) words() []uint32 {
	return []uint32{k.ColFormat, k.WriteMask, b2u(k.AlphaToCover) | b2u(k.DualSource)<<1}
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// shaderParts is the device-level part cache.
type shaderParts struct {
	ws      winsys.Winsys
	builder PartBuilder
	cache   *shadercache.Cache[partKey, *ShaderPart]
}

func newShaderParts(ws winsys.Winsys, b PartBuilder, capacity int) *shaderParts {
	p := &shaderParts{ws: ws, builder: b}
	p.cache = shadercache.New[partKey, *ShaderPart](capacity,
		func(k partKey) uint64 { return k.hash ^ uint64(k.kind) },
		shadercache.WithEvict(func(_ partKey, part *ShaderPart) {
			ws.DestroyBO(part.BO)
		}))
	return p
}

// get returns the part for key words, building it on first use.
func (p *shaderParts) get(kind PartKind, words []uint32) (*ShaderPart, error) {
	k := partKey{kind: kind, hash: hashKey(words)}
	return p.cache.GetOrBuild(k, func() (*ShaderPart, error) {
		code, err := p.builder.BuildPart(kind, words)
		if err != nil {
			return nil, errors.Wrapf(err, "amdcmd: building %s", kind)
		}
		if len(code) == 0 {
			return nil, errors.Newf("amdcmd: %s built to zero bytes", kind)
		}
		bo, err := p.ws.CreateBO(uint64(len(code)), 256, winsys.DomainVRAM)
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "amdcmd: allocating %s", kind), ErrOutOfDeviceMemory)
		}
		data, err := bo.Map()
		if err != nil {
			p.ws.DestroyBO(bo)
			return nil, errors.Wrapf(err, "amdcmd: mapping %s", kind)
		}
		copy(data, code)
		// #nosec G115 -- part binaries are far below 4 GiB
		return &ShaderPart{Kind: kind, Hash: k.hash, BO: bo, Size: uint32(len(code))}, nil
	})
}
