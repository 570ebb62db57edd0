// Package layout decides which metadata operations an image layout
// transition needs.
//
// Every compressible surface kind has a compression state that is a pure
// function of the image, its layout and the set of queue families that
// may access it. A transition compares the states of the old and new
// layouts and asks an Ops collaborator to initialize, decompress or
// eliminate metadata when they differ.
package layout

import "github.com/gogpu/amdcmd/internal/gfx"

// Layout is an image layout.
type Layout int

// Image layouts.
const (
	Undefined Layout = iota
	General
	ColorAttachmentOptimal
	DepthStencilAttachmentOptimal
	DepthStencilReadOnlyOptimal
	ShaderReadOnlyOptimal
	TransferSrcOptimal
	TransferDstOptimal
	Preinitialized
	DepthReadOnlyStencilAttachmentOptimal
	DepthAttachmentStencilReadOnlyOptimal
	DepthAttachmentOptimal
	DepthReadOnlyOptimal
	StencilAttachmentOptimal
	StencilReadOnlyOptimal
	ReadOnlyOptimal
	AttachmentOptimal
	PresentSrc
	SharedPresent
	FragmentShadingRateAttachmentOptimal
	AttachmentFeedbackLoopOptimal
)

var layoutNames = [...]string{
	Undefined:                             "UNDEFINED",
	General:                               "GENERAL",
	ColorAttachmentOptimal:                "COLOR_ATTACHMENT_OPTIMAL",
	DepthStencilAttachmentOptimal:         "DEPTH_STENCIL_ATTACHMENT_OPTIMAL",
	DepthStencilReadOnlyOptimal:           "DEPTH_STENCIL_READ_ONLY_OPTIMAL",
	ShaderReadOnlyOptimal:                 "SHADER_READ_ONLY_OPTIMAL",
	TransferSrcOptimal:                    "TRANSFER_SRC_OPTIMAL",
	TransferDstOptimal:                    "TRANSFER_DST_OPTIMAL",
	Preinitialized:                        "PREINITIALIZED",
	DepthReadOnlyStencilAttachmentOptimal: "DEPTH_READ_ONLY_STENCIL_ATTACHMENT_OPTIMAL",
	DepthAttachmentStencilReadOnlyOptimal: "DEPTH_ATTACHMENT_STENCIL_READ_ONLY_OPTIMAL",
	DepthAttachmentOptimal:                "DEPTH_ATTACHMENT_OPTIMAL",
	DepthReadOnlyOptimal:                  "DEPTH_READ_ONLY_OPTIMAL",
	StencilAttachmentOptimal:              "STENCIL_ATTACHMENT_OPTIMAL",
	StencilReadOnlyOptimal:                "STENCIL_READ_ONLY_OPTIMAL",
	ReadOnlyOptimal:                       "READ_ONLY_OPTIMAL",
	AttachmentOptimal:                     "ATTACHMENT_OPTIMAL",
	PresentSrc:                            "PRESENT_SRC",
	SharedPresent:                         "SHARED_PRESENT",
	FragmentShadingRateAttachmentOptimal:  "FRAGMENT_SHADING_RATE_ATTACHMENT_OPTIMAL",
	AttachmentFeedbackLoopOptimal:         "ATTACHMENT_FEEDBACK_LOOP_OPTIMAL",
}

// String returns the layout name.
func (l Layout) String() string {
	if l >= 0 && int(l) < len(layoutNames) {
		return layoutNames[l]
	}
	return "UNKNOWN"
}

// HTILEState is the depth/stencil compression state of a layout.
type HTILEState int

// HTILE states.
const (
	HTILEUninitialized HTILEState = iota
	// HTILEExpanded means the depth surface is fully decompressed.
	HTILEExpanded
	// HTILECompressedFetchable is compressed in a form texture fetches
	// understand.
	HTILECompressedFetchable
	// HTILECompressed is only readable by the depth block.
	HTILECompressed
)

// Compressed reports whether the state keeps HTILE compression.
func (s HTILEState) Compressed() bool {
	return s == HTILECompressedFetchable || s == HTILECompressed
}

func (s HTILEState) String() string {
	switch s {
	case HTILEUninitialized:
		return "uninitialized"
	case HTILEExpanded:
		return "expanded"
	case HTILECompressedFetchable:
		return "compressed-fetchable"
	case HTILECompressed:
		return "compressed"
	default:
		return "unknown"
	}
}

// DCCState is the color compression state of a layout.
type DCCState int

// DCC states.
const (
	DCCUninitialized DCCState = iota
	DCCExpanded
	DCCCompressed
)

func (s DCCState) String() string {
	switch s {
	case DCCUninitialized:
		return "uninitialized"
	case DCCExpanded:
		return "expanded"
	case DCCCompressed:
		return "compressed"
	default:
		return "unknown"
	}
}

// FMASKCompression is the MSAA compression level of a layout. Levels are
// ordered: moving to a lower level needs decompression.
type FMASKCompression int

// FMASK compression levels.
const (
	FMASKNone FMASKCompression = iota
	// FMASKPartial leaves existing compression in place without using it.
	FMASKPartial
	FMASKFull
)

func (c FMASKCompression) String() string {
	switch c {
	case FMASKNone:
		return "none"
	case FMASKPartial:
		return "partial"
	case FMASKFull:
		return "full"
	default:
		return "unknown"
	}
}

func isUninitialized(l Layout) bool {
	return l == Undefined || l == Preinitialized
}

// HTILEIsCompressed reports whether img keeps HTILE compression in layout
// when accessed by the queues in queueMask.
func HTILEIsCompressed(img *Image, l Layout, queueMask uint32) bool {
	if !img.HasHTILE() {
		return false
	}
	switch l {
	case DepthStencilAttachmentOptimal, AttachmentOptimal,
		DepthAttachmentStencilReadOnlyOptimal, DepthReadOnlyStencilAttachmentOptimal,
		DepthAttachmentOptimal, StencilAttachmentOptimal:
		return true
	case TransferSrcOptimal, DepthStencilReadOnlyOptimal, DepthReadOnlyOptimal,
		StencilReadOnlyOptimal, ReadOnlyOptimal:
		return img.TCCompatHTILE || queueMask == QueueMaskGeneral
	case TransferDstOptimal, General:
		// Safe outside render loops as long as no shader stores to it.
		return img.TCCompatHTILE && queueMask&QueueMaskGeneral != 0 && img.Usage&UsageStorage == 0
	case AttachmentFeedbackLoopOptimal:
		// Reading and writing HTILE in a loop corrupts it.
		return false
	case Undefined, Preinitialized:
		return false
	default:
		return img.TCCompatHTILE
	}
}

// HTILEStateOf classifies layout for the depth metadata of img.
func HTILEStateOf(img *Image, l Layout, queueMask uint32) HTILEState {
	switch {
	case isUninitialized(l):
		return HTILEUninitialized
	case !HTILEIsCompressed(img, l, queueMask):
		return HTILEExpanded
	case img.TCCompatHTILE:
		return HTILECompressedFetchable
	default:
		return HTILECompressed
	}
}

// DCCIsCompressed reports whether mip level of img keeps DCC in layout.
func DCCIsCompressed(img *Image, level uint32, l Layout, queueMask uint32) bool {
	if !img.DCCEnabled(level) {
		return false
	}
	// Nothing can ever write it, so it never needs decompressing.
	if img.Usage&UsageWriteBits == 0 {
		return true
	}
	if (l == TransferDstOptimal || l == General) && queueMask&QueueMaskCompute != 0 && !img.DCCImageStores() {
		return false
	}
	if l == AttachmentFeedbackLoopOptimal {
		return false
	}
	return img.Level >= gfx.GFX10 || l != General
}

// DCCStateOf classifies layout for the color metadata of img.
func DCCStateOf(img *Image, level uint32, l Layout, queueMask uint32) DCCState {
	switch {
	case isUninitialized(l):
		return DCCUninitialized
	case DCCIsCompressed(img, level, l, queueMask):
		return DCCCompressed
	default:
		return DCCExpanded
	}
}

// CanFastClear reports whether mip level of img may hold fast-clear
// metadata in layout. Leaving such a layout requires a fast-clear
// eliminate.
func CanFastClear(img *Image, level uint32, l Layout, queueMask uint32) bool {
	if img.DCCEnabled(level) && !DCCIsCompressed(img, level, l, queueMask) {
		return false
	}
	if img.Usage&UsageColorAttachment == 0 {
		return false
	}
	if l != ColorAttachmentOptimal && l != AttachmentOptimal {
		return false
	}
	// The eliminate only runs on the graphics queue.
	return queueMask == QueueMaskGeneral
}

// FMASKCompressionOf classifies layout for the FMASK of img.
func FMASKCompressionOf(img *Image, l Layout, queueMask uint32) FMASKCompression {
	if !img.HasFMASK() {
		return FMASKNone
	}
	if l == General {
		return FMASKNone
	}
	// Image stores ignore FMASK, so compute writes need it expanded.
	if l == TransferDstOptimal && queueMask&QueueMaskCompute != 0 {
		return FMASKNone
	}
	if img.TCCompatCMASK {
		return FMASKFull
	}
	switch l {
	case TransferSrcOptimal, TransferDstOptimal:
		return FMASKPartial
	case AttachmentFeedbackLoopOptimal:
		return FMASKNone
	default:
		if queueMask == QueueMaskGeneral {
			return FMASKFull
		}
		return FMASKNone
	}
}
