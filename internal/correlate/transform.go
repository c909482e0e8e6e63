// Package correlate scores experimental patterns against template libraries
// in their shared polar representation. It provides the rotation-invariant
// fast score used for shortlisting, the angle-resolving full correlation
// with mirror handling, the candidate filter, and n-best selection.
package correlate

import (
	"math"

	"github.com/crystalplane/orientidx/internal/diffraction"
)

// IntensityTransform is applied identically to pattern and template
// intensities before any inner product.
type IntensityTransform string

const (
	// TransformNone leaves intensities unchanged.
	TransformNone IntensityTransform = "none"
	// TransformSqrt takes the square root, compressing dynamic range so
	// strong reflections do not dominate the score.
	TransformSqrt IntensityTransform = "sqrt"
	// TransformLog takes log(1+x), the stronger compression. log1p rather
	// than log so zero-intensity bins stay zero.
	TransformLog IntensityTransform = "log"
)

// Valid reports whether the transform is one of the known values. The empty
// string counts as TransformNone.
func (tr IntensityTransform) Valid() bool {
	switch tr {
	case "", TransformNone, TransformSqrt, TransformLog:
		return true
	}
	return false
}

// Apply transforms the buffer in place.
func (tr IntensityTransform) Apply(data []float64) {
	switch tr {
	case TransformSqrt:
		for i, v := range data {
			data[i] = math.Sqrt(v)
		}
	case TransformLog:
		for i, v := range data {
			data[i] = math.Log1p(v)
		}
	}
}

// Options configures scoring for both correlation modes.
type Options struct {
	Transform IntensityTransform
	// NormalizePattern divides scores by the Euclidean norm of the
	// transformed pattern.
	NormalizePattern bool
	// NormalizeTemplate divides scores by the Euclidean norm of the
	// transformed template.
	NormalizeTemplate bool
}

// Validate checks the transform name.
func (o Options) Validate() error {
	if !o.Transform.Valid() {
		return diffraction.InvalidParameterf("unknown intensity transform %q", o.Transform)
	}
	return nil
}
