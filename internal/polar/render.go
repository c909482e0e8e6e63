package polar

import (
	"math"

	"github.com/crystalplane/orientidx/internal/diffraction"
)

// RenderOptions controls synthetic pattern rendering.
type RenderOptions struct {
	Width  int
	Height int
	// Rotation is an in-plane rotation in radians applied to every
	// reflection azimuth before rasterisation.
	Rotation float64
	// Mirror reflects the azimuths (theta -> -theta) before rotation.
	Mirror bool
	// SpotSigma, when > 0, spreads each reflection as a small Gaussian of
	// that width in pixels instead of a single-pixel deposit. Sub-pixel
	// spreading keeps rotation-recovery tests meaningful at angles that do
	// not land on bin centers.
	SpotSigma float64
}

// RenderPattern rasterises a template into a dense pattern centered on the
// array, optionally rotated in plane and mirrored. This is plain
// rasterisation for test fixtures and demo data, not diffraction simulation;
// intensities are deposited as given.
func RenderPattern(t *diffraction.Template, calibration float64, opts RenderOptions) (*diffraction.Pattern, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, diffraction.InvalidParameterf("render dimensions %dx%d", opts.Width, opts.Height)
	}
	if calibration <= 0 {
		return nil, diffraction.InvalidParameterf("calibration %g <= 0", calibration)
	}
	p, err := diffraction.NewPattern(make([]float64, opts.Width*opts.Height), opts.Width, opts.Height)
	if err != nil {
		return nil, err
	}
	for _, refl := range t.Reflections {
		az := refl.Azimuth
		if opts.Mirror {
			az = -az
		}
		az += opts.Rotation
		rPix := refl.Radius / calibration
		x := p.CenterX + rPix*math.Cos(az)
		y := p.CenterY + rPix*math.Sin(az)
		if opts.SpotSigma > 0 {
			depositGaussian(p, x, y, refl.Intensity, opts.SpotSigma)
		} else {
			xi := int(math.Round(x))
			yi := int(math.Round(y))
			if xi >= 0 && xi < p.Width && yi >= 0 && yi < p.Height {
				p.Data[yi*p.Width+xi] += refl.Intensity
			}
		}
	}
	return p, nil
}

// depositGaussian adds a normalised Gaussian spot truncated at 3 sigma.
func depositGaussian(p *diffraction.Pattern, cx, cy, intensity, sigma float64) {
	reach := int(math.Ceil(3 * sigma))
	x0 := int(math.Floor(cx))
	y0 := int(math.Floor(cy))
	inv := 1 / (2 * sigma * sigma)
	for y := y0 - reach; y <= y0+reach+1; y++ {
		if y < 0 || y >= p.Height {
			continue
		}
		for x := x0 - reach; x <= x0+reach+1; x++ {
			if x < 0 || x >= p.Width {
				continue
			}
			dx := float64(x) - cx
			dy := float64(y) - cy
			p.Data[y*p.Width+x] += intensity * math.Exp(-(dx*dx+dy*dy)*inv)
		}
	}
}
