package diffraction

import (
	"math"
)

// Reflection is one simulated diffraction spot in polar coordinates relative
// to the optical center, at zero in-plane rotation.
type Reflection struct {
	Radius    float64 // reciprocal-space distance from the direct beam, >= 0
	Azimuth   float64 // [0, 2*pi)
	Intensity float64 // >= 0
}

// Template is an orientation-tagged spot list. The beam direction carries two
// of the three orientation degrees of freedom; the third, the in-plane angle,
// is deliberately unset and is recovered by angular correlation at match time.
type Template struct {
	Reflections   []Reflection
	BeamDirection [3]float64 // unit vector on the orientation-sampling sphere
	GridIndex     int        // index into the orientation sampling grid
}

// Validate checks the template invariants: azimuth in [0, 2*pi), radius and
// intensity non-negative, beam direction of unit length.
func (t *Template) Validate() error {
	for i, r := range t.Reflections {
		if r.Radius < 0 {
			return InvalidParameterf("template reflection %d: radius %g < 0", i, r.Radius)
		}
		if r.Azimuth < 0 || r.Azimuth >= 2*math.Pi {
			return InvalidParameterf("template reflection %d: azimuth %g outside [0, 2pi)", i, r.Azimuth)
		}
		if r.Intensity < 0 {
			return InvalidParameterf("template reflection %d: intensity %g < 0", i, r.Intensity)
		}
	}
	n := math.Sqrt(t.BeamDirection[0]*t.BeamDirection[0] +
		t.BeamDirection[1]*t.BeamDirection[1] +
		t.BeamDirection[2]*t.BeamDirection[2])
	if math.Abs(n-1) > 1e-6 {
		return InvalidParameterf("template beam direction norm %g, want 1", n)
	}
	return nil
}

// MaxRadius returns the largest reflection radius, or 0 for an empty template.
func (t *Template) MaxRadius() float64 {
	max := 0.0
	for _, r := range t.Reflections {
		if r.Radius > max {
			max = r.Radius
		}
	}
	return max
}

// BeamAngles converts the beam direction to spherical angles: the polar angle
// from +z and the azimuthal angle in the xy plane, both in radians. Together
// with the recovered in-plane angle these form the orientation triplet
// reported per match.
func (t *Template) BeamAngles() (polar, azimuthal float64) {
	z := t.BeamDirection[2]
	if z > 1 {
		z = 1
	} else if z < -1 {
		z = -1
	}
	polar = math.Acos(z)
	azimuthal = math.Atan2(t.BeamDirection[1], t.BeamDirection[0])
	if azimuthal < 0 {
		azimuthal += 2 * math.Pi
	}
	return polar, azimuthal
}

// Library is an ordered sequence of templates for one phase. All templates
// share the same calibration and circumscribed radius as the patterns they
// will be matched against.
type Library struct {
	Phase       string // phase key, unique within a collection
	Templates   []Template
	Calibration float64 // pixel-to-reciprocal-space scale, > 0
	MaxRadius   float64 // circumscribed radius of the template set, > 0
}

// Validate checks the library invariants and every contained template.
func (l *Library) Validate() error {
	if len(l.Templates) == 0 {
		return InvalidParameterf("library %q has no templates", l.Phase)
	}
	if l.Calibration <= 0 {
		return InvalidParameterf("library %q: calibration %g <= 0", l.Phase, l.Calibration)
	}
	if l.MaxRadius <= 0 {
		return InvalidParameterf("library %q: max radius %g <= 0", l.Phase, l.MaxRadius)
	}
	for i := range l.Templates {
		if err := l.Templates[i].Validate(); err != nil {
			return InvalidParameterf("library %q template %d: %v", l.Phase, i, err)
		}
		if mr := l.Templates[i].MaxRadius(); mr > l.MaxRadius {
			return ShapeMismatchf("library %q template %d: reflection radius %g exceeds library radius %g",
				l.Phase, i, mr, l.MaxRadius)
		}
	}
	return nil
}

// LibraryCollection maps phase keys to libraries. Phase order is the
// insertion order and defines the phase-index mapping reported in results.
type LibraryCollection struct {
	keys []string
	libs map[string]*Library
}

// NewLibraryCollection returns an empty collection.
func NewLibraryCollection() *LibraryCollection {
	return &LibraryCollection{libs: make(map[string]*Library)}
}

// Add registers a library under its phase key. Duplicate keys and invalid
// libraries are rejected.
func (c *LibraryCollection) Add(l *Library) error {
	if l == nil {
		return InvalidParameterf("nil library")
	}
	if err := l.Validate(); err != nil {
		return err
	}
	if _, ok := c.libs[l.Phase]; ok {
		return InvalidParameterf("duplicate phase key %q", l.Phase)
	}
	c.keys = append(c.keys, l.Phase)
	c.libs[l.Phase] = l
	return nil
}

// PhaseKeys returns the phase keys in insertion order. The returned slice is
// a copy.
func (c *LibraryCollection) PhaseKeys() []string {
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

// Library returns the library for a phase key, or nil if unknown.
func (c *LibraryCollection) Library(phase string) *Library {
	return c.libs[phase]
}

// Len returns the number of phases.
func (c *LibraryCollection) Len() int { return len(c.keys) }
