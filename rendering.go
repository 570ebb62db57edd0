package amdcmd

import (
	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/amdcmd/internal/derive"
	"github.com/gogpu/amdcmd/internal/dirty"
	"github.com/gogpu/amdcmd/internal/gfx"
	"github.com/gogpu/amdcmd/internal/layout"
	"github.com/gogpu/amdcmd/winsys"
)

// ImageCompression selects the metadata surfaces of an image.
type ImageCompression struct {
	HTILE bool
	// TCCompatHTILE lets shaders read compressed depth directly.
	TCCompatHTILE bool
	CMASK         bool
	FMASK         bool
	DCC           bool
	// DCCMipLevels is how many mip levels DCC covers. Zero means all.
	DCCMipLevels uint32
	// DisplayDCC adds the displayable DCC copy kept in sync by retiling.
	DisplayDCC bool
}

// ImageDesc describes an image to create.
type ImageDesc struct {
	Format      gputypes.TextureFormat
	Width       uint32
	Height      uint32
	MipLevels   uint32
	ArrayLayers uint32
	Samples     uint32
	Usage       ImageUsage
	// ConcurrentFamilies lists the queue families sharing a concurrent
	// image. An empty list makes the image exclusive.
	ConcurrentFamilies []uint32
	Compression        ImageCompression
}

// Image is an image bound to device memory, together with the metadata
// layout the command buffer consults for transitions and rendering.
type Image struct {
	dev   *Device
	desc  ImageDesc
	meta  layout.Image
	bo    winsys.BO
	owned bool
	// size is the memory the image and its metadata occupy.
	size uint64
}

// Metadata returns the metadata description of the image.
func (img *Image) Metadata() *ImageMetadata { return &img.meta }

// BO returns the memory backing the image.
func (img *Image) BO() winsys.BO { return img.bo }

// Format returns the texel format.
func (img *Image) Format() gputypes.TextureFormat { return img.desc.Format }

// Size returns the bytes the image and its metadata occupy.
func (img *Image) Size() uint64 { return img.size }

// fullRange replaces zero counts in r with the rest of the image.
func (img *Image) fullRange(r SubresourceRange) SubresourceRange {
	if r.LevelCount == 0 {
		r.LevelCount = img.meta.Levels - min(r.BaseLevel, img.meta.Levels)
	}
	if r.LayerCount == 0 {
		r.LayerCount = img.meta.Layers - min(r.BaseLayer, img.meta.Layers)
	}
	if r.Aspect == 0 {
		switch {
		case img.meta.IsDepthStencil():
			if img.meta.Depth {
				r.Aspect |= AspectDepth
			}
			if img.meta.Stencil {
				r.Aspect |= AspectStencil
			}
		default:
			r.Aspect = AspectColor
		}
	}
	return r
}

const metadataAlign = 256

func alignUp64(v, a uint64) uint64 { return (v + a - 1) / a * a }

func blocksOf(v, block uint32) uint64 { return uint64((v + block - 1) / block) }

// imageLayout places the image and its metadata surfaces in one
// allocation and returns its size.
func imageLayout(info gfx.Info, desc *ImageDesc, meta *layout.Image) (uint64, error) {
	bpp := uint32(0)
	if cf, ok := derive.LookupColor(desc.Format); ok {
		bpp = cf.BlockSize
	} else if df, ok := derive.LookupDepth(desc.Format); ok {
		meta.Depth, meta.Stencil = df.HasDepth, df.HasStencil
		bpp = 4
		if df.HasDepth && df.Bits == 16 && !df.HasStencil {
			bpp = 2
		}
	} else {
		return 0, errors.Wrapf(ErrUnsupported, "image format %v", desc.Format)
	}

	layers := uint64(meta.Layers)
	var size uint64
	for l := range meta.Levels {
		w, h := max(desc.Width>>l, 1), max(desc.Height>>l, 1)
		size += uint64(w) * uint64(h) * uint64(bpp) * uint64(meta.Samples) * layers
	}
	size = alignUp64(size, metadataAlign)
	base := size

	surface := func(n uint64) layout.Surface {
		n = alignUp64(max(n, 1), metadataAlign)
		s := layout.Surface{Offset: size, Size: n}
		size += n
		return s
	}
	tiles := blocksOf(desc.Width, 8) * blocksOf(desc.Height, 8) * layers
	c := desc.Compression
	if meta.IsDepthStencil() {
		if c.HTILE {
			meta.HTILE = surface(4 * tiles)
			meta.TCCompatHTILE = c.TCCompatHTILE
			meta.HTILEDepthOnly = !meta.Stencil
		}
	} else {
		if c.CMASK || c.FMASK {
			meta.CMASK = surface(tiles / 2)
			meta.TCCompatCMASK = c.FMASK && info.Level >= gfx.GFX9
		}
		if c.FMASK && meta.Samples > 1 {
			meta.FMASK = surface(uint64(desc.Width) * uint64(desc.Height) * layers * uint64(meta.Samples) / 2)
		}
		if c.DCC {
			meta.DCC = surface(base / 256)
			meta.DCCMipLevels = meta.Levels
			if c.DCCMipLevels != 0 {
				meta.DCCMipLevels = min(c.DCCMipLevels, meta.Levels)
			}
			if info.Level == gfx.GFX8 {
				meta.DCCLevelInfo = gfx8DCCLevels(desc, meta)
			}
			if c.DisplayDCC {
				meta.DisplayDCC = surface(meta.DCC.Size)
			}
		}
	}
	levels := uint64(meta.Levels)
	meta.ClearValues = surface(8 * levels).Offset
	meta.FCEPredicate = surface(8 * levels).Offset
	meta.ZRange = surface(4 * levels).Offset
	return size, nil
}

// gfx8DCCLevels splits the DCC surface per mip level. Levels smaller than
// one DCC block cannot be fast cleared.
func gfx8DCCLevels(desc *ImageDesc, meta *layout.Image) []layout.DCCLevel {
	out := make([]layout.DCCLevel, meta.DCCMipLevels)
	var off uint64
	for l := range meta.DCCMipLevels {
		w, h := max(desc.Width>>l, 1), max(desc.Height>>l, 1)
		n := blocksOf(w, 16) * blocksOf(h, 16)
		out[l].Offset = off
		if w >= 16 && h >= 16 {
			out[l].FastClearSize = n
		}
		off += n * uint64(meta.Layers)
	}
	return out
}

func (d *Device) newImage(desc *ImageDesc) (*Image, error) {
	if desc == nil || desc.Width == 0 || desc.Height == 0 {
		return nil, errors.Wrap(ErrInvalidState, "image without extent")
	}
	img := &Image{dev: d, desc: *desc}
	m := &img.meta
	m.Level = d.info.Level
	m.Usage = desc.Usage
	m.Samples = max(desc.Samples, 1)
	m.Levels = max(desc.MipLevels, 1)
	m.Layers = max(desc.ArrayLayers, 1)
	if len(desc.ConcurrentFamilies) == 0 {
		m.Exclusive = true
	} else {
		for _, f := range desc.ConcurrentFamilies {
			m.ConcurrentMask |= 1 << f
		}
	}
	size, err := imageLayout(d.info, desc, m)
	if err != nil {
		return nil, err
	}
	img.size = size
	m.L2Coherent = l2Coherent(d.info, m)
	return img, nil
}

// l2Coherent reports whether render backend writes to the image reach L2
// where shaders read them.
func l2Coherent(info gfx.Info, m *layout.Image) bool {
	switch {
	case info.Level >= gfx.GFX10:
		return true
	case info.Level == gfx.GFX9:
		return !info.RBNonCoherent && !m.DCC.Present()
	}
	return false
}

// CreateImage creates an image with its own memory.
func (d *Device) CreateImage(desc *ImageDesc) (*Image, error) {
	img, err := d.newImage(desc)
	if err != nil {
		return nil, err
	}
	bo, err := d.ws.CreateBO(img.size, metadataAlign, winsys.DomainVRAM)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "amdcmd: allocating image memory"), ErrOutOfDeviceMemory)
	}
	img.bind(bo, true)
	return img, nil
}

// ImportImage creates an image in memory allocated elsewhere. The buffer
// must hold the image and all its metadata.
func (d *Device) ImportImage(desc *ImageDesc, bo winsys.BO) (*Image, error) {
	if bo == nil {
		return nil, errors.Wrap(ErrImportMismatch, "importing a nil buffer")
	}
	img, err := d.newImage(desc)
	if err != nil {
		return nil, err
	}
	if bo.Size() < img.size {
		return nil, errors.Wrapf(ErrImportMismatch, "buffer holds %d bytes, image needs %d", bo.Size(), img.size)
	}
	img.bind(bo, false)
	return img, nil
}

func (img *Image) bind(bo winsys.BO, owned bool) {
	img.bo = bo
	img.owned = owned
	img.meta.VA = bo.VA()
}

// Destroy frees the memory of an image created with CreateImage.
func (img *Image) Destroy() {
	if img.owned && img.bo != nil {
		img.dev.ws.DestroyBO(img.bo)
	}
	img.bo = nil
}

// RenderingAttachment is one attachment of a render pass.
type RenderingAttachment struct {
	Image *Image
	// MipLevel is the level rendered to.
	MipLevel uint32
	Layout   ImageLayout
}

// RenderingInfo describes a dynamic render pass.
type RenderingInfo struct {
	Area     Rect
	ViewMask uint32
	Colors   []RenderingAttachment
	// Depth and Stencil may name the same image.
	Depth       *RenderingAttachment
	Stencil     *RenderingAttachment
	ShadingRate *RenderingAttachment
}

type colorTarget struct {
	image  *Image
	level  uint32
	format derive.ColorFormat
}

type renderingState struct {
	active      bool
	area        Rect
	viewMask    uint32
	colors      [MaxColorAttachments]colorTarget
	colorCount  uint32
	depth       *Image
	depthFormat derive.DepthFormat
	samples     uint32
	vrs         *Image
}

// renderingDirty is what changes with every render pass.
const renderingDirty = dirty.Framebuffer | dirty.RBPlus | dirty.OcclusionQuery |
	dirty.Depth | dirty.Stencil | dirty.Blend | dirty.MSAA | dirty.FragmentShadingRate

// CmdBeginRendering starts a dynamic render pass.
func (cb *CommandBuffer) CmdBeginRendering(info *RenderingInfo) error {
	if err := cb.check(); err != nil {
		return err
	}
	if cb.family != QueueFamilyGeneral {
		return errors.Wrapf(ErrInvalidBindPoint, "rendering on queue family %d", cb.family)
	}
	if info == nil {
		return errors.Wrap(ErrInvalidState, "begin rendering without rendering info")
	}
	if len(info.Colors) > MaxColorAttachments {
		return errors.Wrapf(ErrTooManyAttachments, "%d color attachments", len(info.Colors))
	}

	r := renderingState{active: true, area: info.Area, viewMask: info.ViewMask, colorCount: uint32(len(info.Colors))}
	for i, a := range info.Colors {
		if a.Image == nil {
			continue
		}
		cf, ok := derive.LookupColor(a.Image.desc.Format)
		if !ok {
			return errors.Wrapf(ErrUnsupported, "color attachment %d format %v", i, a.Image.desc.Format)
		}
		r.colors[i] = colorTarget{image: a.Image, level: a.MipLevel, format: cf}
		r.samples = max(r.samples, a.Image.meta.Samples)
		cb.addBuffer(a.Image.bo)
	}
	for _, a := range []*RenderingAttachment{info.Depth, info.Stencil} {
		if a == nil || a.Image == nil {
			continue
		}
		df, ok := derive.LookupDepth(a.Image.desc.Format)
		if !ok {
			return errors.Wrapf(ErrUnsupported, "depth attachment format %v", a.Image.desc.Format)
		}
		r.depth = a.Image
		r.depthFormat.HasDepth = r.depthFormat.HasDepth || (df.HasDepth && a == info.Depth)
		r.depthFormat.HasStencil = r.depthFormat.HasStencil || (df.HasStencil && a == info.Stencil)
		r.depthFormat.Float, r.depthFormat.Bits = df.Float, df.Bits
		r.samples = max(r.samples, a.Image.meta.Samples)
		cb.addBuffer(a.Image.bo)
	}
	if a := info.ShadingRate; a != nil && a.Image != nil {
		if !cb.dev.info.Level.HasVRS() {
			return errors.Wrap(ErrUnsupported, "shading rate attachment")
		}
		r.vrs = a.Image
		cb.addBuffer(a.Image.bo)
	}
	r.samples = max(r.samples, 1)

	cb.render = r
	cb.dirty |= renderingDirty
	return nil
}

// CmdEndRendering ends the render pass. The attachments stay programmed
// until the next pass replaces them.
func (cb *CommandBuffer) CmdEndRendering() error {
	if err := cb.check(); err != nil {
		return err
	}
	if !cb.render.active {
		return errors.Wrap(ErrInvalidState, "end rendering outside a render pass")
	}
	cb.render.active = false
	cb.dirty |= dirty.Framebuffer
	return nil
}
