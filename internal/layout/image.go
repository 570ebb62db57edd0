package layout

import "github.com/gogpu/amdcmd/internal/gfx"

// Usage is a set of image usages.
type Usage uint32

// Image usages.
const (
	UsageTransferSrc Usage = 1 << iota
	UsageTransferDst
	UsageSampled
	UsageStorage
	UsageColorAttachment
	UsageDepthStencilAttachment
	UsageTransientAttachment
	UsageInputAttachment

	// UsageWriteBits are the usages through which the GPU can modify the
	// image contents.
	UsageWriteBits = UsageTransferDst | UsageColorAttachment | UsageDepthStencilAttachment | UsageStorage
)

// Aspect is a set of image aspects.
type Aspect uint32

// Image aspects.
const (
	AspectColor Aspect = 1 << iota
	AspectDepth
	AspectStencil
)

// Range is a subresource range.
type Range struct {
	Aspect     Aspect
	BaseLevel  uint32
	LevelCount uint32
	BaseLayer  uint32
	LayerCount uint32
}

// Surface places one metadata surface relative to the image address.
type Surface struct {
	Offset uint64
	Size   uint64
}

// Present reports whether the surface exists.
func (s Surface) Present() bool { return s.Size != 0 }

// DCCLevel describes the DCC of one mip level on GFX8, where only part of
// the mip chain supports fast clears.
type DCCLevel struct {
	// Offset is relative to the DCC surface.
	Offset uint64
	// FastClearSize is the fast-clearable size of one array slice. Zero
	// ends the fast-clearable prefix of the chain.
	FastClearSize uint64
}

// Image is the metadata description of an image: which compression
// surfaces it has, where they live and how the image may be used.
type Image struct {
	Level   gfx.Level
	Usage   Usage
	Samples uint32
	Levels  uint32
	Layers  uint32

	Depth   bool
	Stencil bool

	// Exclusive images belong to one queue family at a time. Concurrent
	// images use ConcurrentMask for every access.
	Exclusive      bool
	ConcurrentMask uint32

	// L2Coherent is set when render backend writes are visible to shader
	// reads through L2.
	L2Coherent bool

	VA uint64

	HTILE         Surface
	TCCompatHTILE bool
	// HTILEDepthOnly selects the depth-only HTILE encoding.
	HTILEDepthOnly bool

	CMASK         Surface
	TCCompatCMASK bool
	FMASK         Surface

	DCC Surface
	// DCCMipLevels is the number of mip levels covered by DCC.
	DCCMipLevels uint32
	// DCCLevelInfo is only consulted on GFX8.
	DCCLevelInfo []DCCLevel
	// DisplayDCC is the displayable copy of DCC that retiling updates.
	DisplayDCC Surface

	// ClearValues holds 8 bytes per mip level.
	ClearValues uint64
	// FCEPredicate holds 8 bytes per mip level.
	FCEPredicate uint64
	// ZRange holds 4 bytes per mip level.
	ZRange uint64
}

// HasHTILE reports whether the image has depth metadata.
func (img *Image) HasHTILE() bool { return img.HTILE.Present() }

// HasCMASK reports whether the image has a CMASK.
func (img *Image) HasCMASK() bool { return img.CMASK.Present() }

// HasFMASK reports whether the image has an FMASK.
func (img *Image) HasFMASK() bool { return img.FMASK.Present() }

// DCCEnabled reports whether mip level level is DCC compressed.
func (img *Image) DCCEnabled(level uint32) bool {
	return img.DCC.Present() && level < img.DCCMipLevels
}

// DCCImageStores reports whether shader stores keep DCC valid.
func (img *Image) DCCImageStores() bool { return img.Level >= gfx.GFX10 }

// ClearValueVA returns the address of the clear value of a mip level.
func (img *Image) ClearValueVA(level uint32) uint64 {
	return img.VA + img.ClearValues + 8*uint64(level)
}

// FCEPredicateVA returns the address of the fast-clear-eliminate predicate
// of a mip level.
func (img *Image) FCEPredicateVA(level uint32) uint64 {
	return img.VA + img.FCEPredicate + 8*uint64(level)
}

// ZRangeVA returns the address of the depth range precision word of a mip
// level.
func (img *Image) ZRangeVA(level uint32) uint64 {
	return img.VA + img.ZRange + 4*uint64(level)
}

// HasColorMetadata implements flush.Image.
func (img *Image) HasColorMetadata() bool {
	return img.HasCMASK() || img.HasFMASK() || img.DCC.Present()
}

// HasDepthMetadata implements flush.Image.
func (img *Image) HasDepthMetadata() bool { return img.HasHTILE() }

// IsCacheCoherent implements flush.Image.
func (img *Image) IsCacheCoherent() bool { return img.L2Coherent }

// IsDepthStencil implements flush.Image.
func (img *Image) IsDepthStencil() bool { return img.Depth || img.Stencil }

// HasStorageUsage implements flush.Image.
func (img *Image) HasStorageUsage() bool { return img.Usage&UsageStorage != 0 }

// Queue family indices with special meaning.
const (
	FamilyIgnored  = ^uint32(0)
	FamilyExternal = ^uint32(0) - 1
	FamilyForeign  = ^uint32(0) - 2
)

// Queue families and their masks.
const (
	QueueGeneral uint32 = iota
	QueueCompute
	QueueTransfer
	numQueues

	// QueueForeign is the pseudo family of every queue outside the device.
	QueueForeign = numQueues

	QueueMaskGeneral = 1 << QueueGeneral
	QueueMaskCompute = 1 << QueueCompute
	QueueMaskForeign = 1 << QueueForeign
	queueMaskAll     = 1<<numQueues - 1
)

// QueueMask returns the set of queues that may access img when it is
// owned by family, as seen from a command buffer of queue family cmd.
func QueueMask(img *Image, family, cmd uint32) uint32 {
	if !img.Exclusive {
		return img.ConcurrentMask
	}
	switch family {
	case FamilyExternal, FamilyForeign:
		return queueMaskAll | QueueMaskForeign
	case FamilyIgnored:
		return 1 << cmd
	default:
		return 1 << family
	}
}
