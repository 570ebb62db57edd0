package derive

import (
	"math"

	"github.com/chewxy/math32"

	"github.com/gogpu/amdcmd/internal/pm4"
)

// Viewport is a user viewport in framebuffer coordinates.
type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

// Rect is a framebuffer rectangle.
type Rect struct {
	X, Y          int32
	Width, Height uint32
}

// Xform is the PA_CL_VPORT scale and translate for one viewport.
type Xform struct {
	Scale     [3]float32
	Translate [3]float32
}

// ViewportXform converts a viewport to hardware scale and translate for a
// [0, 1] depth convention.
func ViewportXform(vp Viewport) Xform {
	hw := 0.5 * vp.Width
	hh := 0.5 * vp.Height
	return Xform{
		Scale:     [3]float32{hw, hh, vp.MaxDepth - vp.MinDepth},
		Translate: [3]float32{hw + vp.X, hh + vp.Y, vp.MinDepth},
	}
}

// DepthXform returns the z scale and translate actually programmed. With
// negOneToOne the clip-space z range is [-1, 1] and the transform is halved
// around the middle of the depth range.
func (x Xform) DepthXform(negOneToOne bool) (scale, translate float32) {
	scale, translate = x.Scale[2], x.Translate[2]
	if negOneToOne {
		translate = 0.5 * (translate + translate + scale)
		scale *= 0.5
	}
	return scale, translate
}

// Words returns the six PA_CL_VPORT_XSCALE..ZOFFSET dwords.
func (x Xform) Words(negOneToOne bool) [6]uint32 {
	zs, zt := x.DepthXform(negOneToOne)
	return [6]uint32{
		math.Float32bits(x.Scale[0]),
		math.Float32bits(x.Translate[0]),
		math.Float32bits(x.Scale[1]),
		math.Float32bits(x.Translate[1]),
		math.Float32bits(zs),
		math.Float32bits(zt),
	}
}

// DepthClampMode selects what PA_SC_VPORT_ZMIN/ZMAX clamp fragment depth to.
type DepthClampMode uint8

const (
	// ClampViewport clamps to the viewport depth range.
	ClampViewport DepthClampMode = iota
	// ClampZeroToOne clamps to [0, 1].
	ClampZeroToOne
	// ClampDisabled turns viewport clamping off in DB_RENDER_OVERRIDE.
	ClampDisabled
)

// String returns the mode name.
func (m DepthClampMode) String() string {
	switch m {
	case ClampViewport:
		return "viewport"
	case ClampZeroToOne:
		return "zero_to_one"
	case ClampDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// ClampMode derives the clamp mode. Clamping stays on unless the
// application disabled it explicitly, in which case depth is still clamped
// to [0, 1] while clipping is enabled and unrestricted depth is not.
func ClampMode(clampEnable, clipEnable, unrestrictedDepth bool) DepthClampMode {
	if clampEnable {
		return ClampViewport
	}
	if !clipEnable || unrestrictedDepth {
		return ClampDisabled
	}
	return ClampZeroToOne
}

// ZRange returns the PA_SC_VPORT_ZMIN/ZMAX pair for a viewport.
func ZRange(vp Viewport, mode DepthClampMode) (zmin, zmax float32) {
	if mode == ClampZeroToOne {
		return 0, 1
	}
	return math32.Min(vp.MinDepth, vp.MaxDepth), math32.Max(vp.MinDepth, vp.MaxDepth)
}

// ScissorFromViewport returns the smallest integer rectangle covering vp.
func ScissorFromViewport(vp Viewport) Rect {
	x := ViewportXform(vp)
	sx, sy := math32.Abs(x.Scale[0]), math32.Abs(x.Scale[1])
	r := Rect{
		X: int32(x.Translate[0] - sx),
		Y: int32(x.Translate[1] - sy),
	}
	r.Width = uint32(int32(math32.Ceil(x.Translate[0]+sx)) - r.X)
	r.Height = uint32(int32(math32.Ceil(x.Translate[1]+sy)) - r.Y)
	return r
}

// Intersect returns the intersection of two rectangles. An empty
// intersection has zero extent.
func Intersect(a, b Rect) Rect {
	r := Rect{X: max(a.X, b.X), Y: max(a.Y, b.Y)}
	right := min(a.X+int32(a.Width), b.X+int32(b.Width))
	bottom := min(a.Y+int32(a.Height), b.Y+int32(b.Height))
	if right > r.X {
		r.Width = uint32(right - r.X)
	}
	if bottom > r.Y {
		r.Height = uint32(bottom - r.Y)
	}
	return r
}

// ScissorWords returns the PA_SC_VPORT_SCISSOR_n TL/BR pairs, each scissor
// clipped to its viewport. Counts beyond either slice are ignored.
func ScissorWords(scissors []Rect, viewports []Viewport) []uint32 {
	n := min(len(scissors), len(viewports))
	out := make([]uint32, 0, 2*n)
	for i := range n {
		s := Intersect(scissors[i], ScissorFromViewport(viewports[i]))
		x := uint32(max(s.X, 0))
		y := uint32(max(s.Y, 0))
		out = append(out,
			pm4.ScissorTL(x, y),
			pm4.ScissorBR(x+s.Width, y+s.Height))
	}
	return out
}

// Guardband is PA_CL_GB_{VERT,HORZ}_{CLIP,DISC}_ADJ.
type Guardband struct {
	ClipX, ClipY       float32
	DiscardX, DiscardY float32
}

// guardbandRange is the largest screen coordinate the clipper handles.
const guardbandRange = 32767.0

// pointDiscardPixels is the widest point size, used when wide points may
// be drawn.
const pointDiscardPixels = 8191.875

// ComputeGuardband derives the guardband for a set of viewports. When
// points or lines are drawn, the discard region grows by half the point
// size or line width so wide primitives are not dropped early.
func ComputeGuardband(viewports []Viewport, points, lines bool, lineWidth float32) Guardband {
	gb := Guardband{
		ClipX:    math32.Inf(1),
		ClipY:    math32.Inf(1),
		DiscardX: 1,
		DiscardY: 1,
	}
	for _, vp := range viewports {
		x := ViewportXform(vp)
		sx := math32.Max(math32.Abs(x.Scale[0]), 0.5)
		sy := math32.Max(math32.Abs(x.Scale[1]), 0.5)

		gb.ClipX = math32.Min(gb.ClipX, (guardbandRange-math32.Abs(x.Translate[0]))/sx)
		gb.ClipY = math32.Min(gb.ClipY, (guardbandRange-math32.Abs(x.Translate[1]))/sy)

		if points || lines {
			pixels := lineWidth
			if points {
				pixels = pointDiscardPixels
			}
			gb.DiscardX += pixels / (2 * sx)
			gb.DiscardY += pixels / (2 * sy)
			gb.DiscardX = math32.Min(gb.DiscardX, gb.ClipX)
			gb.DiscardY = math32.Min(gb.DiscardY, gb.ClipY)
		}
	}
	return gb
}

// Words returns the four dwords starting at PA_CL_GB_VERT_CLIP_ADJ.
func (g Guardband) Words() [4]uint32 {
	return [4]uint32{
		math.Float32bits(g.ClipY),
		math.Float32bits(g.DiscardY),
		math.Float32bits(g.ClipX),
		math.Float32bits(g.DiscardX),
	}
}
