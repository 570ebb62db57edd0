package dirty

// PipelineState is the part of a bound graphics pipeline whose change
// between two binds dirties state other than the pipeline registers.
type PipelineState struct {
	// Dynamic is the set of groups the pipeline takes from CmdSet* calls.
	Dynamic Bits

	// Needed is the set of groups the pipeline consumes at all. Groups not
	// in Needed stay dirty until a pipeline that needs them is bound.
	Needed Bits

	RastPrim        uint32
	IsNGG           bool
	HasTess         bool
	HasMesh         bool
	HasDynamicVS    bool
	PSIterSamples   uint32
	DBShaderControl uint32
	ColFormat       uint32
	CBShaderMask    uint32
	UsesVRS         bool
	VtxEmitNum      uint32
	VtxBaseSGPR     uint32
	NeedsStreamout  bool
	MSAAEnabled     bool
}

// Diff returns the groups that must be re-emitted when the bound pipeline
// changes from prev to next. A nil prev means nothing was bound and
// everything next needs is dirty.
func Diff(prev, next *PipelineState) Bits {
	d := Pipeline | next.Dynamic
	if prev == nil {
		return d | next.Needed | Structural&^(IndexBuffer|VertexBuffer|StreamoutBuffer)
	}

	if prev.RastPrim != next.RastPrim {
		d |= PrimitiveTopology | LineStippleEnable | Guardband | PolygonMode
	}
	if prev.HasTess != next.HasTess {
		d |= PatchControlPoints | TessDomainOrigin | PrimitiveTopology
	}
	if prev.IsNGG != next.IsNGG || prev.HasMesh != next.HasMesh {
		d |= PrimitiveTopology | PrimitiveRestartEnable | Viewport
	}
	if prev.HasDynamicVS != next.HasDynamicVS {
		d |= VertexInput | VertexBuffer
	}
	if prev.VtxEmitNum != next.VtxEmitNum || prev.VtxBaseSGPR != next.VtxBaseSGPR {
		d |= VertexBuffer
	}
	if prev.PSIterSamples != next.PSIterSamples || prev.MSAAEnabled != next.MSAAEnabled {
		d |= RasterizationSamples
	}
	if prev.DBShaderControl != next.DBShaderControl {
		d |= DBShaderControl
	}
	if prev.ColFormat != next.ColFormat || prev.CBShaderMask != next.CBShaderMask {
		d |= RBPlus | ColorWriteEnable | ColorWriteMask
	}
	if prev.UsesVRS != next.UsesVRS {
		d |= FragmentShadingRate
	}
	if prev.NeedsStreamout != next.NeedsStreamout {
		d |= StreamoutBuffer
	}

	// A group baked by prev but dynamic in next still holds prev's value,
	// and the other way around.
	d |= (prev.Dynamic ^ next.Dynamic) & next.Needed
	// Groups that become needed were possibly never emitted.
	d |= next.Needed &^ prev.Needed
	return d
}
