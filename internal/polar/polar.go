// Package polar converts cartesian intensity arrays and template spot lists
// into a common (radius, azimuth) sampled representation around the direct
// beam. Both sides of a correlation must be produced with the same Params so
// their grids are bin-compatible.
package polar

import (
	"math"

	"github.com/crystalplane/orientidx/internal/diffraction"
)

// Params configures the polar grid geometry.
type Params struct {
	// DeltaR is the radial bin width in pixels. Must be > 0.
	DeltaR float64
	// DeltaTheta is the requested azimuthal step in radians. Must be > 0.
	// The effective step is snapped so that an integer number of bins tiles
	// the full circle; see Grid.DeltaTheta for the value actually used.
	DeltaTheta float64
	// MaxR is the radial reach in pixels. Zero means "derive": the distance
	// from the center to the farthest corner of the input array.
	MaxR float64
}

// validate checks the step sizes. MaxR is validated at use, where the
// derivation rule applies.
func (p Params) validate() error {
	if p.DeltaR <= 0 {
		return diffraction.InvalidParameterf("delta_r %g <= 0", p.DeltaR)
	}
	if p.DeltaTheta <= 0 || p.DeltaTheta > 2*math.Pi {
		return diffraction.InvalidParameterf("delta_theta %g outside (0, 2pi]", p.DeltaTheta)
	}
	if p.MaxR < 0 {
		return diffraction.InvalidParameterf("max_r %g < 0", p.MaxR)
	}
	return nil
}

// thetaBins returns the number of azimuthal bins for the requested step,
// snapped so bins tile the circle exactly.
func (p Params) thetaBins() int {
	n := int(math.Round(2 * math.Pi / p.DeltaTheta))
	if n < 1 {
		n = 1
	}
	return n
}

// radialBins returns the number of radial bins covering [0, maxR].
func (p Params) radialBins(maxR float64) int {
	return int(math.Floor(maxR/p.DeltaR)) + 1
}

// Grid is a polar-resampled intensity array. Data is row-major with the
// radial bin as the slow axis: Data[r*NTheta+t] samples radius r*DeltaR at
// azimuth t*DeltaTheta. Azimuth is measured from the +x axis toward +y (the
// row axis), so it wraps at 2*pi.
type Grid struct {
	NR         int
	NTheta     int
	DeltaR     float64
	DeltaTheta float64 // effective step, 2*pi/NTheta
	Data       []float64
}

// NewGrid allocates a zeroed grid with the geometry of p for reach maxR.
func NewGrid(p Params, maxR float64) *Grid {
	nr := p.radialBins(maxR)
	nt := p.thetaBins()
	return &Grid{
		NR:         nr,
		NTheta:     nt,
		DeltaR:     p.DeltaR,
		DeltaTheta: 2 * math.Pi / float64(nt),
		Data:       make([]float64, nr*nt),
	}
}

// At returns the intensity at radial bin r, azimuthal bin t.
func (g *Grid) At(r, t int) float64 { return g.Data[r*g.NTheta+t] }

// Set writes the intensity at radial bin r, azimuthal bin t.
func (g *Grid) Set(r, t int, v float64) { g.Data[r*g.NTheta+t] = v }

// Row returns the azimuthal slice at radial bin r, aliasing the grid data.
func (g *Grid) Row(r int) []float64 {
	return g.Data[r*g.NTheta : (r+1)*g.NTheta]
}

// Clone returns a deep copy.
func (g *Grid) Clone() *Grid {
	out := *g
	out.Data = make([]float64, len(g.Data))
	copy(out.Data, g.Data)
	return &out
}

// Compatible reports whether two grids can be correlated bin for bin.
func (g *Grid) Compatible(o *Grid) bool {
	return g.NR == o.NR && g.NTheta == o.NTheta
}

// Mirror returns the azimuthal mirror (theta -> -theta mod 2*pi) of the
// grid. Bin 0 of each radial row is fixed; the rest reverse.
func (g *Grid) Mirror() *Grid {
	out := g.Clone()
	for r := 0; r < g.NR; r++ {
		src := g.Row(r)
		dst := out.Row(r)
		for t := 1; t < g.NTheta; t++ {
			dst[g.NTheta-t] = src[t]
		}
	}
	return out
}

// RadialProfile collapses the grid over azimuth, yielding the 1D profile
// used by fast correlation.
func (g *Grid) RadialProfile() []float64 {
	out := make([]float64, g.NR)
	for r := 0; r < g.NR; r++ {
		sum := 0.0
		for _, v := range g.Row(r) {
			sum += v
		}
		out[r] = sum
	}
	return out
}

// DeriveMaxR returns the default radial reach for a pattern: the distance
// from its center to the farthest corner of the array.
func DeriveMaxR(p *diffraction.Pattern) float64 {
	max := 0.0
	for _, c := range [4][2]float64{
		{0, 0},
		{float64(p.Width - 1), 0},
		{0, float64(p.Height - 1)},
		{float64(p.Width - 1), float64(p.Height - 1)},
	} {
		dx := c[0] - p.CenterX
		dy := c[1] - p.CenterY
		if d := math.Hypot(dx, dy); d > max {
			max = d
		}
	}
	return max
}

// Resample converts a pattern to its polar representation around its center
// using bilinear interpolation. Sample points falling outside the array
// contribute zero intensity.
func Resample(p *diffraction.Pattern, prm Params) (*Grid, error) {
	if err := prm.validate(); err != nil {
		return nil, err
	}
	if p == nil {
		return nil, diffraction.InvalidParameterf("nil pattern")
	}
	if !p.CenterInBounds() {
		return nil, diffraction.InvalidParameterf("center (%g,%g) outside %dx%d array",
			p.CenterX, p.CenterY, p.Width, p.Height)
	}
	maxR := prm.MaxR
	if maxR == 0 {
		maxR = DeriveMaxR(p)
	}
	g := NewGrid(prm, maxR)
	for r := 0; r < g.NR; r++ {
		radius := float64(r) * g.DeltaR
		row := g.Row(r)
		for t := 0; t < g.NTheta; t++ {
			theta := float64(t) * g.DeltaTheta
			x := p.CenterX + radius*math.Cos(theta)
			y := p.CenterY + radius*math.Sin(theta)
			row[t] = bilinear(p, x, y)
		}
	}
	return g, nil
}

// bilinear samples the pattern at a continuous coordinate. Out-of-bounds
// neighbours count as zero.
func bilinear(p *diffraction.Pattern, x, y float64) float64 {
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	fx := x - float64(x0)
	fy := y - float64(y0)

	v := 0.0
	if w := (1 - fx) * (1 - fy); w > 0 && inBounds(p, x0, y0) {
		v += w * p.At(y0, x0)
	}
	if w := fx * (1 - fy); w > 0 && inBounds(p, x0+1, y0) {
		v += w * p.At(y0, x0+1)
	}
	if w := (1 - fx) * fy; w > 0 && inBounds(p, x0, y0+1) {
		v += w * p.At(y0+1, x0)
	}
	if w := fx * fy; w > 0 && inBounds(p, x0+1, y0+1) {
		v += w * p.At(y0+1, x0+1)
	}
	return v
}

func inBounds(p *diffraction.Pattern, x, y int) bool {
	return x >= 0 && x < p.Width && y >= 0 && y < p.Height
}

// RasterizeTemplate deposits a template's reflections onto a polar grid with
// the geometry of prm and reach maxR, nearest-bin, converting reciprocal
// units to pixels with the library calibration. A reflection beyond the grid
// reach is a shape mismatch: the library and the patterns it is matched
// against disagree on radial extent.
func RasterizeTemplate(t *diffraction.Template, calibration float64, prm Params, maxR float64) (*Grid, error) {
	if err := prm.validate(); err != nil {
		return nil, err
	}
	if calibration <= 0 {
		return nil, diffraction.InvalidParameterf("calibration %g <= 0", calibration)
	}
	if maxR <= 0 {
		return nil, diffraction.InvalidParameterf("max_r %g <= 0 for template rasterisation", maxR)
	}
	g := NewGrid(prm, maxR)
	for i, refl := range t.Reflections {
		rPix := refl.Radius / calibration
		rBin := int(math.Round(rPix / g.DeltaR))
		if rBin >= g.NR {
			return nil, diffraction.ShapeMismatchf("reflection %d at radius %g px beyond grid reach %g px",
				i, rPix, float64(g.NR-1)*g.DeltaR)
		}
		tBin := int(math.Round(refl.Azimuth/g.DeltaTheta)) % g.NTheta
		if tBin < 0 {
			tBin += g.NTheta
		}
		g.Data[rBin*g.NTheta+tBin] += refl.Intensity
	}
	return g, nil
}
