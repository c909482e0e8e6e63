package diffraction

import (
	"errors"
	"fmt"
)

// Sentinel errors for the two failure classes the engine distinguishes.
// Degenerate norms (zero-intensity pattern or template after transform) are
// deliberately not errors: they resolve to a deterministic zero score.
var (
	// ErrInvalidParameter reports out-of-range or mutually exclusive
	// arguments. Validation happens before any work is dispatched.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrShapeMismatch reports a pattern or template whose calibration or
	// radial reach is incompatible with the requested polar grid. In a
	// batch run it fails the offending position only.
	ErrShapeMismatch = errors.New("shape mismatch")
)

// InvalidParameterf wraps ErrInvalidParameter with a formatted description.
func InvalidParameterf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidParameter, fmt.Sprintf(format, args...))
}

// ShapeMismatchf wraps ErrShapeMismatch with a formatted description.
func ShapeMismatchf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrShapeMismatch, fmt.Sprintf(format, args...))
}

// PositionError localises a per-position failure within a batch run.
type PositionError struct {
	Y     int    // scan row
	X     int    // scan column
	Phase string // phase key, empty if the failure precedes phase dispatch
	Err   error
}

func (e PositionError) Error() string {
	if e.Phase != "" {
		return fmt.Sprintf("position (%d,%d) phase %s: %v", e.Y, e.X, e.Phase, e.Err)
	}
	return fmt.Sprintf("position (%d,%d): %v", e.Y, e.X, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is checks.
func (e PositionError) Unwrap() error { return e.Err }
