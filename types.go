package amdcmd

import (
	"github.com/gogpu/amdcmd/internal/derive"
	"github.com/gogpu/amdcmd/internal/dirty"
	"github.com/gogpu/amdcmd/internal/flush"
	"github.com/gogpu/amdcmd/internal/gfx"
	"github.com/gogpu/amdcmd/internal/layout"
)

// Table limits.
const (
	MaxViewports         = 16
	MaxDiscardRectangles = 4
	MaxColorAttachments  = 8
	MaxVertexBindings    = 32
	MaxDescriptorSets    = 32
	MaxStreamoutBuffers  = 4
	MaxPushConstantSize  = 256
	MaxDynamicBuffers    = 16
)

// Chip model.
type (
	GfxLevel = gfx.Level
	Family   = gfx.Family
	ChipInfo = gfx.Info
)

// Hardware generations.
const (
	GFX6   = gfx.GFX6
	GFX7   = gfx.GFX7
	GFX8   = gfx.GFX8
	GFX9   = gfx.GFX9
	GFX10  = gfx.GFX10
	GFX103 = gfx.GFX103
	GFX11  = gfx.GFX11
)

// Geometry and rasterization state values.
type (
	Viewport         = derive.Viewport
	Rect             = derive.Rect
	Topology         = derive.Topology
	PolygonMode      = derive.PolygonMode
	LineMode         = derive.LineMode
	ConservativeMode = derive.ConservativeMode
	ShadingRate      = derive.ShadingRate
	DepthBias        = derive.DepthBias
	SampleLocations  = derive.SampleLocations
	SamplePoint      = derive.SamplePoint
	BlendEquation    = derive.BlendEquation
)

// Primitive topologies.
const (
	TopologyPointList     = derive.TopologyPointList
	TopologyLineList      = derive.TopologyLineList
	TopologyLineStrip     = derive.TopologyLineStrip
	TopologyTriangleList  = derive.TopologyTriangleList
	TopologyTriangleFan   = derive.TopologyTriangleFan
	TopologyTriangleStrip = derive.TopologyTriangleStrip
	TopologyPatchList     = derive.TopologyPatch
	TopologyLineListAdj   = derive.TopologyLineListAdj
	TopologyLineStripAdj  = derive.TopologyLineStripAdj
	TopologyTriListAdj    = derive.TopologyTriListAdj
	TopologyTriStripAdj   = derive.TopologyTriStripAdj
)

// Polygon modes.
const (
	PolygonFill  = derive.PolygonFill
	PolygonLine  = derive.PolygonLine
	PolygonPoint = derive.PolygonPoint
)

// Line rasterization modes.
const (
	LineDefault           = derive.LineDefault
	LineRectangular       = derive.LineRectangular
	LineBresenham         = derive.LineBresenham
	LineRectangularSmooth = derive.LineRectangularSmooth
)

// Conservative rasterization modes.
const (
	ConservativeDisabled      = derive.ConservativeDisabled
	ConservativeOverestimate  = derive.ConservativeOverestimate
	ConservativeUnderestimate = derive.ConservativeUnderestimate
)

// Fragment shading rate combiner ops.
const (
	CombinerKeep    = derive.CombinerPassthrough
	CombinerReplace = derive.CombinerOverride
	CombinerMin     = derive.CombinerMin
	CombinerMax     = derive.CombinerMax
	CombinerMul     = derive.CombinerSum
)

// Synchronization.
type (
	AccessFlags   = flush.Access
	PipelineStage = flush.Stage
	FlushBits     = flush.Bits
	DirtyBits     = dirty.Bits
)

// Access kinds most barriers use. Any flush.Access bit is accepted.
const (
	AccessIndirectCommandRead      = flush.AccessIndirectCommandRead
	AccessIndexRead                = flush.AccessIndexRead
	AccessVertexAttributeRead      = flush.AccessVertexAttributeRead
	AccessUniformRead              = flush.AccessUniformRead
	AccessInputAttachmentRead      = flush.AccessInputAttachmentRead
	AccessShaderRead               = flush.AccessShaderRead
	AccessShaderWrite              = flush.AccessShaderWrite
	AccessColorAttachmentRead      = flush.AccessColorAttachmentRead
	AccessColorAttachmentWrite     = flush.AccessColorAttachmentWrite
	AccessDepthStencilRead         = flush.AccessDepthStencilRead
	AccessDepthStencilWrite        = flush.AccessDepthStencilWrite
	AccessTransferRead             = flush.AccessTransferRead
	AccessTransferWrite            = flush.AccessTransferWrite
	AccessHostRead                 = flush.AccessHostRead
	AccessHostWrite                = flush.AccessHostWrite
	AccessMemoryRead               = flush.AccessMemoryRead
	AccessMemoryWrite              = flush.AccessMemoryWrite
	AccessConditionalRenderingRead = flush.AccessConditionalRenderingRead
	AccessTransformFeedbackWrite   = flush.AccessTransformFeedbackWrite
	AccessShaderSampledRead        = flush.AccessShaderSampledRead
	AccessShaderStorageRead        = flush.AccessShaderStorageRead
	AccessShaderStorageWrite       = flush.AccessShaderStorageWrite
)

// Pipeline stages most barriers use. Any flush.Stage bit is accepted.
const (
	PipelineStageTopOfPipe             = flush.StageTopOfPipe
	PipelineStageDrawIndirect          = flush.StageDrawIndirect
	PipelineStageVertexInput           = flush.StageVertexInput
	PipelineStageVertexShader          = flush.StageVertexShader
	PipelineStageFragmentShader        = flush.StageFragmentShader
	PipelineStageEarlyFragmentTests    = flush.StageEarlyFragmentTests
	PipelineStageLateFragmentTests     = flush.StageLateFragmentTests
	PipelineStageColorAttachmentOutput = flush.StageColorAttachmentOutput
	PipelineStageComputeShader         = flush.StageComputeShader
	PipelineStageAllTransfer           = flush.StageAllTransfer
	PipelineStageBottomOfPipe          = flush.StageBottomOfPipe
	PipelineStageAllGraphics           = flush.StageAllGraphics
	PipelineStageAllCommands           = flush.StageAllCommands
	PipelineStageTaskShader            = flush.StageTaskShader
	PipelineStageMeshShader            = flush.StageMeshShader
	PipelineStageTransformFeedback     = flush.StageTransformFeedback
	PipelineStageCopy                  = flush.StageCopy
	PipelineStageClear                 = flush.StageClear
)

// Images.
type (
	ImageLayout      = layout.Layout
	ImageMetadata    = layout.Image
	ImageAspect      = layout.Aspect
	ImageUsage       = layout.Usage
	SubresourceRange = layout.Range
	MetadataSurface  = layout.Surface
)

// Image layouts.
const (
	LayoutUndefined                     = layout.Undefined
	LayoutGeneral                       = layout.General
	LayoutColorAttachmentOptimal        = layout.ColorAttachmentOptimal
	LayoutDepthStencilAttachmentOptimal = layout.DepthStencilAttachmentOptimal
	LayoutDepthStencilReadOnlyOptimal   = layout.DepthStencilReadOnlyOptimal
	LayoutShaderReadOnlyOptimal         = layout.ShaderReadOnlyOptimal
	LayoutTransferSrcOptimal            = layout.TransferSrcOptimal
	LayoutTransferDstOptimal            = layout.TransferDstOptimal
	LayoutReadOnlyOptimal               = layout.ReadOnlyOptimal
	LayoutAttachmentOptimal             = layout.AttachmentOptimal
	LayoutPresentSrc                    = layout.PresentSrc
	LayoutAttachmentFeedbackLoop        = layout.AttachmentFeedbackLoopOptimal
)

// Image usages.
const (
	ImageUsageTransferSrc            = layout.UsageTransferSrc
	ImageUsageTransferDst            = layout.UsageTransferDst
	ImageUsageSampled                = layout.UsageSampled
	ImageUsageStorage                = layout.UsageStorage
	ImageUsageColorAttachment        = layout.UsageColorAttachment
	ImageUsageDepthStencilAttachment = layout.UsageDepthStencilAttachment
	ImageUsageInputAttachment        = layout.UsageInputAttachment
)

// Image aspects.
const (
	AspectColor   = layout.AspectColor
	AspectDepth   = layout.AspectDepth
	AspectStencil = layout.AspectStencil
)

// Queue family indices with special meaning.
const (
	QueueFamilyIgnored  = layout.FamilyIgnored
	QueueFamilyExternal = layout.FamilyExternal
	QueueFamilyForeign  = layout.FamilyForeign
)

// Queue families.
const (
	QueueFamilyGeneral  = layout.QueueGeneral
	QueueFamilyCompute  = layout.QueueCompute
	QueueFamilyTransfer = layout.QueueTransfer
)
