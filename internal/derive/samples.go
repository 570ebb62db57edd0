package derive

import "github.com/chewxy/math32"

// SampleLoc is a sample position in sixteenths of a pixel relative to the
// pixel center. Both coordinates are in [-8, 7].
type SampleLoc struct {
	X, Y int32
}

// QuantizeSample converts a position in [0, 1) pixel space to hardware
// fixed point.
func QuantizeSample(x, y float32) SampleLoc {
	q := func(v float32) int32 {
		s := int32(math32.Floor((v - 0.5) * 16))
		return min(max(s, -8), 7)
	}
	return SampleLoc{X: q(x), Y: q(y)}
}

// SamplePoint is a sample position in [0, 1) pixel space.
type SamplePoint struct {
	X, Y float32
}

// SampleLocations is an application sample pattern. Locations covers a
// GridWidth x GridHeight block of pixels, PerPixel samples each, row major.
type SampleLocations struct {
	PerPixel   uint32
	GridWidth  uint32
	GridHeight uint32
	Locations  []SamplePoint
}

// pixel returns the quantized samples of the pattern pixel covering (x, y).
func (s SampleLocations) pixel(x, y uint32) []SampleLoc {
	gw, gh := max(s.GridWidth, 1), max(s.GridHeight, 1)
	base := ((x % gw) + (y%gh)*gw) * s.PerPixel
	out := make([]SampleLoc, s.PerPixel)
	for i := range out {
		if int(base)+i < len(s.Locations) {
			p := s.Locations[int(base)+i]
			out[i] = QuantizeSample(p.X, p.Y)
		}
	}
	return out
}

// SampleRegs holds everything the sample-locations packets program.
type SampleRegs struct {
	// Pixel holds PA_SC_AA_SAMPLE_LOCS_PIXEL_{X0Y0,X1Y0,X0Y1,X1Y1}_{0..3}.
	Pixel            [4][4]uint32
	CentroidPriority uint64
	MaxSampleDist    uint32
}

// packLocs packs up to four samples into one register, one byte each.
func packLocs(locs []SampleLoc) uint32 {
	var v uint32
	for i, l := range locs {
		if i >= 4 {
			break
		}
		v |= (uint32(l.X)&0xF | (uint32(l.Y)&0xF)<<4) << (i * 8)
	}
	return v
}

// CentroidPriority orders samples by distance from the pixel center and
// packs the order into PA_SC_CENTROID_PRIORITY_0/1. Ties keep the lower
// index.
func CentroidPriority(locs []SampleLoc) uint64 {
	n := len(locs)
	if n == 0 {
		return 0
	}
	dist := make([]int32, n)
	for i, l := range locs {
		dist[i] = l.X*l.X + l.Y*l.Y
	}
	order := make([]int, n)
	used := make([]bool, n)
	for i := range n {
		best := -1
		for j := range n {
			if !used[j] && (best < 0 || dist[j] < dist[best]) {
				best = j
			}
		}
		used[best] = true
		order[i] = best
	}

	var lo uint64
	for i := range 8 {
		lo |= uint64(order[i&(n-1)]) << (i * 4)
	}
	return lo | lo<<32
}

// UserSampleRegs converts an application pattern for the 2x2 pixel quad
// the hardware programs.
func UserSampleRegs(s SampleLocations) SampleRegs {
	var r SampleRegs
	pixels := [4][2]uint32{{0, 0}, {1, 0}, {0, 1}, {1, 1}}
	var first []SampleLoc
	var dist int32
	for p, xy := range pixels {
		locs := s.pixel(xy[0], xy[1])
		if p == 0 {
			first = locs
		}
		for i := 0; i < len(locs); i += 4 {
			r.Pixel[p][i/4] = packLocs(locs[i:min(i+4, len(locs))])
		}
		for _, l := range locs {
			dist = max(dist, abs32(l.X), abs32(l.Y))
		}
	}
	r.CentroidPriority = CentroidPriority(first)
	r.MaxSampleDist = uint32(dist)
	return r
}

// UserSampleRegCount is the number of PA_SC_AA_SAMPLE_LOCS registers
// written per pixel for a sample count.
func UserSampleRegCount(samples uint32) int {
	switch samples {
	case 2, 4:
		return 1
	case 8:
		return 2
	default:
		return 0
	}
}

var (
	defaultLocs2x = []SampleLoc{{4, 4}, {-4, -4}}
	defaultLocs4x = []SampleLoc{{-2, -6}, {6, -2}, {-6, 2}, {2, 6}}
	defaultLocs8x = []SampleLoc{
		{1, -3}, {-1, 3}, {5, 1}, {-3, -5},
		{-5, 5}, {-7, -1}, {3, 7}, {7, -7},
	}
)

func defaultLocs(samples uint32) []SampleLoc {
	switch samples {
	case 2:
		return defaultLocs2x
	case 4:
		return defaultLocs4x
	case 8:
		return defaultLocs8x
	default:
		return nil
	}
}

// DefaultSampleRegs returns the standard pattern for a sample count. Every
// pixel of the quad uses the same positions.
func DefaultSampleRegs(samples uint32) SampleRegs {
	var r SampleRegs
	locs := defaultLocs(samples)
	for p := range r.Pixel {
		for i := 0; i < len(locs); i += 4 {
			r.Pixel[p][i/4] = packLocs(locs[i:min(i+4, len(locs))])
		}
	}
	r.MaxSampleDist = DefaultMaxSampleDist(samples)
	r.CentroidPriority = defaultCentroidPriority(samples)
	return r
}

// DefaultMaxSampleDist returns MAX_SAMPLE_DIST for the standard pattern.
func DefaultMaxSampleDist(samples uint32) uint32 {
	switch samples {
	case 2:
		return 4
	case 4:
		return 6
	case 8:
		return 7
	default:
		return 0
	}
}

func defaultCentroidPriority(samples uint32) uint64 {
	switch samples {
	case 2:
		return 0x1010101010101010
	case 4:
		return 0x3210321032103210
	case 8:
		return 0x7654321076543210
	default:
		return 0
	}
}

// SamplePosition returns the standard position of a sample in [0, 1)
// pixel space.
func SamplePosition(samples, index uint32) (x, y float32) {
	locs := defaultLocs(samples)
	if int(index) >= len(locs) {
		return 0.5, 0.5
	}
	l := locs[index]
	return float32(l.X+8) / 16, float32(l.Y+8) / 16
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
