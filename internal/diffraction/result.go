package diffraction

import "math"

// CorrelationResult is the outcome for one (pattern, template) pair: the best
// in-plane angle, its score, and whether the mirrored template won.
type CorrelationResult struct {
	Angle    float64 // radians, [0, 2*pi)
	Score    float64
	Mirrored bool
}

// Match is one ranked entry of a MatchSet.
type Match struct {
	TemplateIndex int
	Angle         float64
	Score         float64
	Mirrored      bool
}

// MatchSet is the ranked outcome for one pattern against a library: the n
// best matches, scores non-increasing, ties broken by ascending template
// index.
type MatchSet []Match

// RankedMatch is one rank slot of an IndexationResult, with the phase
// resolved and the orientation expanded to its three angles.
type RankedMatch struct {
	PhaseIndex    int
	TemplateIndex int
	Orientation   [3]float64 // in-plane angle first, then beam polar and azimuthal angles
	Score         float64
	Mirrored      bool
}

// IndexationResult aggregates per-position matches over a full scan. The
// arrays are parallel and flat, indexed by (scan_y, scan_x, rank); sentinel
// rows (phase and template index -1, NaN scores) mark positions whose input
// failed. The caller owns the result once returned.
type IndexationResult struct {
	ScanHeight int
	ScanWidth  int
	NBest      int

	// PhaseKeys maps phase index to phase key.
	PhaseKeys []string

	// Flat arrays, len = ScanHeight*ScanWidth*NBest.
	PhaseIndex    []int
	TemplateIndex []int
	Orientation   [][3]float64
	Score         []float64
	Mirrored      []bool

	// Failures lists every position (and phase, where applicable) that was
	// recorded as a sentinel row.
	Failures []PositionError
}

// NewIndexationResult allocates a result with every slot set to the sentinel
// value, so workers only ever fill in successes.
func NewIndexationResult(scanHeight, scanWidth, nBest int, phaseKeys []string) *IndexationResult {
	n := scanHeight * scanWidth * nBest
	r := &IndexationResult{
		ScanHeight:    scanHeight,
		ScanWidth:     scanWidth,
		NBest:         nBest,
		PhaseKeys:     phaseKeys,
		PhaseIndex:    make([]int, n),
		TemplateIndex: make([]int, n),
		Orientation:   make([][3]float64, n),
		Score:         make([]float64, n),
		Mirrored:      make([]bool, n),
	}
	nan := math.NaN()
	for i := 0; i < n; i++ {
		r.PhaseIndex[i] = -1
		r.TemplateIndex[i] = -1
		r.Orientation[i] = [3]float64{nan, nan, nan}
		r.Score[i] = nan
	}
	return r
}

// slot returns the flat index of (y, x, rank).
func (r *IndexationResult) slot(y, x, rank int) int {
	return (y*r.ScanWidth+x)*r.NBest + rank
}

// At returns the match at scan position (y, x) and the given rank.
func (r *IndexationResult) At(y, x, rank int) RankedMatch {
	i := r.slot(y, x, rank)
	return RankedMatch{
		PhaseIndex:    r.PhaseIndex[i],
		TemplateIndex: r.TemplateIndex[i],
		Orientation:   r.Orientation[i],
		Score:         r.Score[i],
		Mirrored:      r.Mirrored[i],
	}
}

// SetAt fills the match at scan position (y, x) and the given rank.
func (r *IndexationResult) SetAt(y, x, rank int, m RankedMatch) {
	i := r.slot(y, x, rank)
	r.PhaseIndex[i] = m.PhaseIndex
	r.TemplateIndex[i] = m.TemplateIndex
	r.Orientation[i] = m.Orientation
	r.Score[i] = m.Score
	r.Mirrored[i] = m.Mirrored
}
