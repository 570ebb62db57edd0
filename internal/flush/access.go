package flush

import (
	"math/bits"

	"github.com/gogpu/amdcmd/internal/gfx"
)

// Access is a set of memory access kinds, bit-compatible with
// VkAccessFlags2.
type Access uint64

// Access kinds.
const (
	AccessIndirectCommandRead        Access = 1 << 0
	AccessIndexRead                  Access = 1 << 1
	AccessVertexAttributeRead        Access = 1 << 2
	AccessUniformRead                Access = 1 << 3
	AccessInputAttachmentRead        Access = 1 << 4
	AccessShaderRead                 Access = 1 << 5
	AccessShaderWrite                Access = 1 << 6
	AccessColorAttachmentRead        Access = 1 << 7
	AccessColorAttachmentWrite       Access = 1 << 8
	AccessDepthStencilRead           Access = 1 << 9
	AccessDepthStencilWrite          Access = 1 << 10
	AccessTransferRead               Access = 1 << 11
	AccessTransferWrite              Access = 1 << 12
	AccessHostRead                   Access = 1 << 13
	AccessHostWrite                  Access = 1 << 14
	AccessMemoryRead                 Access = 1 << 15
	AccessMemoryWrite                Access = 1 << 16
	AccessConditionalRenderingRead   Access = 1 << 20
	AccessAccelerationStructureRead  Access = 1 << 21
	AccessAccelerationStructureWrite Access = 1 << 22
	AccessShadingRateAttachmentRead  Access = 1 << 23
	AccessTransformFeedbackWrite     Access = 1 << 25
	AccessTransformFeedbackCntRead   Access = 1 << 26
	AccessTransformFeedbackCntWrite  Access = 1 << 27
	AccessShaderSampledRead          Access = 1 << 32
	AccessShaderStorageRead          Access = 1 << 33
	AccessShaderStorageWrite         Access = 1 << 34
	AccessShaderBindingTableRead     Access = 1 << 40
	AccessDescriptorBufferRead       Access = 1 << 41
)

// AllAccess lists every access kind the calculator knows, in bit order.
var AllAccess = []Access{
	AccessIndirectCommandRead,
	AccessIndexRead,
	AccessVertexAttributeRead,
	AccessUniformRead,
	AccessInputAttachmentRead,
	AccessShaderRead,
	AccessShaderWrite,
	AccessColorAttachmentRead,
	AccessColorAttachmentWrite,
	AccessDepthStencilRead,
	AccessDepthStencilWrite,
	AccessTransferRead,
	AccessTransferWrite,
	AccessHostRead,
	AccessHostWrite,
	AccessMemoryRead,
	AccessMemoryWrite,
	AccessConditionalRenderingRead,
	AccessAccelerationStructureRead,
	AccessAccelerationStructureWrite,
	AccessShadingRateAttachmentRead,
	AccessTransformFeedbackWrite,
	AccessTransformFeedbackCntRead,
	AccessTransformFeedbackCntWrite,
	AccessShaderSampledRead,
	AccessShaderStorageRead,
	AccessShaderStorageWrite,
	AccessShaderBindingTableRead,
	AccessDescriptorBufferRead,
}

// Stage is a set of pipeline stages, bit-compatible with
// VkPipelineStageFlags2.
type Stage uint64

// Pipeline stages.
const (
	StageTopOfPipe                  Stage = 1 << 0
	StageDrawIndirect               Stage = 1 << 1
	StageVertexInput                Stage = 1 << 2
	StageVertexShader               Stage = 1 << 3
	StageTessControlShader          Stage = 1 << 4
	StageTessEvaluationShader       Stage = 1 << 5
	StageGeometryShader             Stage = 1 << 6
	StageFragmentShader             Stage = 1 << 7
	StageEarlyFragmentTests         Stage = 1 << 8
	StageLateFragmentTests          Stage = 1 << 9
	StageColorAttachmentOutput      Stage = 1 << 10
	StageComputeShader              Stage = 1 << 11
	StageAllTransfer                Stage = 1 << 12
	StageBottomOfPipe               Stage = 1 << 13
	StageHost                       Stage = 1 << 14
	StageAllGraphics                Stage = 1 << 15
	StageAllCommands                Stage = 1 << 16
	StageConditionalRendering       Stage = 1 << 18
	StageTaskShader                 Stage = 1 << 19
	StageMeshShader                 Stage = 1 << 20
	StageRayTracingShader           Stage = 1 << 21
	StageShadingRateAttachment      Stage = 1 << 22
	StageTransformFeedback          Stage = 1 << 24
	StageAccelerationStructureBuild Stage = 1 << 25
	StageAccelerationStructureCopy  Stage = 1 << 28
	StageCopy                       Stage = 1 << 32
	StageResolve                    Stage = 1 << 33
	StageBlit                       Stage = 1 << 34
	StageClear                      Stage = 1 << 35
	StageIndexInput                 Stage = 1 << 36
	StageVertexAttributeInput       Stage = 1 << 37
	StagePreRasterizationShaders    Stage = 1 << 38
)

const (
	stagesTransfer = StageCopy | StageResolve | StageBlit | StageClear

	stagesCSIdle = StageComputeShader | StageAllTransfer | StageAccelerationStructureBuild |
		StageAccelerationStructureCopy | StageRayTracingShader | StageBottomOfPipe | StageAllCommands

	stagesPSIdle = StageFragmentShader | StageEarlyFragmentTests | StageLateFragmentTests |
		StageColorAttachmentOutput | StageAllTransfer | StageBottomOfPipe | StageAllGraphics | StageAllCommands

	stagesVSIdle = StageDrawIndirect | StageVertexInput | StageVertexShader | StageTessControlShader |
		StageTessEvaluationShader | StageGeometryShader | StageMeshShader | StageTransformFeedback |
		StagePreRasterizationShaders
)

// Image describes the barrier target when it is an image. A nil Image
// means a buffer or global memory barrier.
type Image interface {
	HasColorMetadata() bool
	HasDepthMetadata() bool
	// IsCacheCoherent reports whether CB/DB writes to the image are visible
	// to shader reads through L2 without an L2 flush.
	IsCacheCoherent() bool
	IsDepthStencil() bool
	HasStorageUsage() bool
}

// Config holds the device properties the calculator consults.
type Config struct {
	Level gfx.Level

	// SkipBufferL2Flushes is set when non-CB/DB clients are L2 coherent with
	// each other, so only render backend writes need an L2 flush.
	SkipBufferL2Flushes bool

	// GridSizeInUserSGPR is set when compute dispatch sizes are passed in
	// user SGPRs instead of being loaded through the scalar cache.
	GridSizeInUserSGPR bool

	// ScalarLoadsForStorage is set when the shader compiler reads storage
	// buffers through scalar loads, which need INV_SCACHE.
	ScalarLoadsForStorage bool
}

// NewConfig derives the calculator configuration for a chip.
func NewConfig(info gfx.Info) Config {
	return Config{
		Level:                 info.Level,
		SkipBufferL2Flushes:   SkipBufferL2Flushes(info),
		ScalarLoadsForStorage: true,
	}
}

// SkipBufferL2Flushes reports whether buffer-only dependencies can skip L2
// flushes on the chip.
func SkipBufferL2Flushes(info gfx.Info) bool {
	return info.Level == gfx.GFX9 || (info.Level >= gfx.GFX10 && !info.RBNonCoherent)
}

type imageTraits struct {
	present  bool
	cbMeta   bool
	dbMeta   bool
	coherent bool
	depth    bool
	storage  bool
}

func traitsOf(img Image) imageTraits {
	if img == nil {
		return imageTraits{cbMeta: true, dbMeta: true}
	}
	return imageTraits{
		present:  true,
		cbMeta:   img.HasColorMetadata(),
		dbMeta:   img.HasDepthMetadata(),
		coherent: img.IsCacheCoherent(),
		depth:    img.IsDepthStencil(),
		storage:  img.HasStorageUsage(),
	}
}

func eachAccess(a Access, fn func(Access)) {
	for a != 0 {
		i := bits.TrailingZeros64(uint64(a))
		fn(Access(1) << i)
		a &^= Access(1) << i
	}
}

// SrcAccess returns the flushes that make writes of the source accesses
// available. Unknown bits contribute nothing.
func SrcAccess(access Access, img Image) Bits {
	t := traitsOf(img)
	var out Bits

	eachAccess(access, func(a Access) {
		switch a {
		case AccessShaderWrite, AccessShaderStorageWrite:
			// Without storage usage this is a meta operation writing
			// through CB or DB. The destination side skips CB/DB flushes
			// for such images, so flush them here.
			if t.present && !t.storage {
				if t.depth {
					out |= FlushAndInvDB
				} else {
					out |= FlushAndInvCB
				}
			}
			if !t.coherent {
				out |= InvL2
			}
		case AccessAccelerationStructureWrite, AccessTransformFeedbackWrite, AccessTransformFeedbackCntWrite:
			if !t.coherent {
				out |= WBL2
			}
		case AccessColorAttachmentWrite:
			out |= FlushAndInvCB
			if t.cbMeta {
				out |= FlushAndInvCBMeta
			}
		case AccessDepthStencilWrite:
			out |= FlushAndInvDB
			if t.dbMeta {
				out |= FlushAndInvDBMeta
			}
		case AccessTransferWrite, AccessMemoryWrite:
			out |= FlushAndInvCB | FlushAndInvDB
			if !t.coherent {
				out |= InvL2
			}
			if t.cbMeta {
				out |= FlushAndInvCBMeta
			}
			if t.dbMeta {
				out |= FlushAndInvDBMeta
			}
		}
	})
	return out
}

// DstAccess returns the invalidations needed before the destination
// accesses may read. rbNoncoherentDirty reports whether the render
// backends wrote data that is not yet coherent in L2.
func DstAccess(cfg Config, access Access, img Image, rbNoncoherentDirty bool) Bits {
	t := traitsOf(img)
	flushCB, flushDB := true, true
	if t.present && !t.storage {
		flushCB, flushDB = false, false
	}

	// The L2 invalidations below target clients other than CB/DB; when no
	// incoherent render backend data is in L2 those clients already agree.
	coherent := t.coherent || (cfg.SkipBufferL2Flushes && !rbNoncoherentDirty)

	var out Bits
	vcache := func() {
		out |= InvVCache
		if t.cbMeta || t.dbMeta {
			out |= InvL2Metadata
		}
		if !coherent {
			out |= InvL2
		}
	}

	eachAccess(access, func(a Access) {
		switch a {
		case AccessIndirectCommandRead:
			if !cfg.GridSizeInUserSGPR {
				out |= InvSCache
			}
		case AccessIndexRead, AccessTransformFeedbackCntWrite:
		case AccessUniformRead:
			out |= InvVCache | InvSCache
		case AccessVertexAttributeRead, AccessInputAttachmentRead, AccessTransferRead, AccessTransferWrite:
			vcache()
		case AccessDescriptorBufferRead:
			out |= InvSCache
		case AccessShaderBindingTableRead, AccessShaderRead, AccessShaderStorageRead:
			if cfg.ScalarLoadsForStorage && !t.present {
				out |= InvSCache
			}
			vcache()
		case AccessShaderSampledRead:
			vcache()
		case AccessAccelerationStructureRead:
			out |= InvVCache
			if cfg.Level < gfx.GFX9 {
				out |= InvL2
			}
		case AccessShaderWrite, AccessShaderStorageWrite, AccessAccelerationStructureWrite:
		case AccessColorAttachmentRead, AccessColorAttachmentWrite:
			if flushCB {
				out |= FlushAndInvCB
			}
			if t.cbMeta {
				out |= FlushAndInvCBMeta
			}
		case AccessDepthStencilRead, AccessDepthStencilWrite:
			if flushDB {
				out |= FlushAndInvDB
			}
			if t.dbMeta {
				out |= FlushAndInvDBMeta
			}
		case AccessMemoryRead, AccessMemoryWrite:
			out |= InvVCache | InvSCache
			if !coherent {
				out |= InvL2
			}
			if flushCB {
				out |= FlushAndInvCB
			}
			if t.cbMeta {
				out |= FlushAndInvCBMeta
			}
			if flushDB {
				out |= FlushAndInvDB
			}
			if t.dbMeta {
				out |= FlushAndInvDBMeta
			}
		}
	})
	return out
}

// StageFlush returns the partial flushes that wait for work in the source
// stages to drain.
func StageFlush(src Stage) Bits {
	// Waiting on task shaders waits on mesh shaders too.
	if src&StageTaskShader != 0 {
		src |= StageMeshShader
	}
	if src&stagesTransfer != 0 {
		src |= StageAllTransfer
	}

	var out Bits
	if src&stagesCSIdle != 0 {
		out |= CSPartialFlush
	}
	if src&stagesPSIdle != 0 {
		out |= PSPartialFlush
	} else if src&stagesVSIdle != 0 {
		out |= VSPartialFlush
	}
	return out
}
