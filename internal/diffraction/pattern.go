package diffraction

// Pattern is a dense 2D intensity array with a direct-beam pixel coordinate.
// Data is row-major, len = Height*Width. The core treats patterns as
// read-only; preprocessing (background subtraction, distortion correction)
// happens upstream.
type Pattern struct {
	Data    []float64
	Width   int
	Height  int
	CenterX float64 // direct-beam column, sub-pixel
	CenterY float64 // direct-beam row, sub-pixel
}

// NewPattern builds a centered pattern over an existing intensity buffer.
// The buffer is not copied.
func NewPattern(data []float64, width, height int) (*Pattern, error) {
	if width <= 0 || height <= 0 {
		return nil, InvalidParameterf("pattern dimensions %dx%d", width, height)
	}
	if len(data) != width*height {
		return nil, ShapeMismatchf("pattern buffer length %d, want %d", len(data), width*height)
	}
	return &Pattern{
		Data:    data,
		Width:   width,
		Height:  height,
		CenterX: float64(width-1) / 2,
		CenterY: float64(height-1) / 2,
	}, nil
}

// At returns the intensity at row y, column x. Bounds are the caller's
// responsibility.
func (p *Pattern) At(y, x int) float64 {
	return p.Data[y*p.Width+x]
}

// CenterInBounds reports whether the direct-beam coordinate lies inside the
// array.
func (p *Pattern) CenterInBounds() bool {
	return p.CenterX >= 0 && p.CenterX <= float64(p.Width-1) &&
		p.CenterY >= 0 && p.CenterY <= float64(p.Height-1)
}

// ScanDataset is a 2D scan of patterns, row-major over (scan_y, scan_x).
// Patterns may be nil for positions that failed acquisition; the batch driver
// records those as per-position failures and continues.
type ScanDataset struct {
	ScanHeight int
	ScanWidth  int
	Patterns   []*Pattern // len = ScanHeight*ScanWidth
}

// NewScanDataset validates the scan geometry.
func NewScanDataset(patterns []*Pattern, scanWidth, scanHeight int) (*ScanDataset, error) {
	if scanWidth <= 0 || scanHeight <= 0 {
		return nil, InvalidParameterf("scan dimensions %dx%d", scanWidth, scanHeight)
	}
	if len(patterns) != scanWidth*scanHeight {
		return nil, ShapeMismatchf("scan has %d patterns, want %d", len(patterns), scanWidth*scanHeight)
	}
	return &ScanDataset{ScanHeight: scanHeight, ScanWidth: scanWidth, Patterns: patterns}, nil
}

// At returns the pattern at scan position (y, x), which may be nil.
func (d *ScanDataset) At(y, x int) *Pattern {
	return d.Patterns[y*d.ScanWidth+x]
}
