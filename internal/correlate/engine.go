package correlate

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"

	"github.com/crystalplane/orientidx/internal/diffraction"
	"github.com/crystalplane/orientidx/internal/polar"
)

// FullResult is the full-correlation outcome for one template: the best
// shift (as an angle) and score for the template as given and for its
// azimuthal mirror, plus the discrete mirror decision. Ties go to the
// non-mirrored option.
type FullResult struct {
	TemplateIndex int
	Angle         float64 // best in-plane angle for the direct template
	Score         float64
	MirrorAngle   float64 // best in-plane angle for the mirrored template
	MirrorScore   float64
	Mirrored      bool
}

// Best collapses the direct/mirror pair into a single CorrelationResult.
func (r FullResult) Best() diffraction.CorrelationResult {
	if r.Mirrored {
		return diffraction.CorrelationResult{Angle: r.MirrorAngle, Score: r.MirrorScore, Mirrored: true}
	}
	return diffraction.CorrelationResult{Angle: r.Angle, Score: r.Score, Mirrored: false}
}

// PreparedTemplate is a template polar grid with its transform applied and
// its per-row azimuthal spectra and norms precomputed. Preparation is done
// once per library and the result is read-only, so prepared templates are
// safe to share across engines.
type PreparedTemplate struct {
	index   int
	norm    float64      // Euclidean norm of the transformed grid
	profile []float64    // azimuth-collapsed radial profile of the transformed grid
	pnorm   float64      // Euclidean norm of the profile
	rows    []complex128 // per-radius FFT rows, nr * nspec, row-major
	nr      int
	nspec   int
}

// Index returns the template's position within its library.
func (t *PreparedTemplate) Index() int { return t.index }

// Engine computes correlation scores on grids of one fixed geometry. The
// azimuth-shift sweep uses the circular-correlation identity: the shift
// search is a product of per-row spectra followed by one inverse transform,
// O(nr * ntheta * log ntheta) per template instead of the quadratic direct
// sum. Scores and argmax are identical to direct summation either way.
//
// An Engine holds FFT scratch state and is not safe for concurrent use;
// workers each build their own and share only PreparedTemplates.
type Engine struct {
	nr     int
	ntheta int
	nspec  int
	opts   Options
	fft    *fourier.FFT

	acc   []complex128 // accumulated spectrum product, direct
	accM  []complex128 // accumulated spectrum product, mirrored
	corr  []float64
	corrM []float64
}

// NewEngine builds an engine for grids with nr radial and ntheta azimuthal
// bins.
func NewEngine(nr, ntheta int, opts Options) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if nr <= 0 || ntheta <= 0 {
		return nil, diffraction.InvalidParameterf("grid %dx%d", nr, ntheta)
	}
	nspec := ntheta/2 + 1
	return &Engine{
		nr:     nr,
		ntheta: ntheta,
		nspec:  nspec,
		opts:   opts,
		fft:    fourier.NewFFT(ntheta),
		acc:   make([]complex128, nspec),
		accM:  make([]complex128, nspec),
		corr:  make([]float64, ntheta),
		corrM: make([]float64, ntheta),
	}, nil
}

// Prepare applies the intensity transform to a copy of the template grid and
// precomputes its spectra, profile and norms. index is the template's
// position in its library and is carried through to results.
func (e *Engine) Prepare(g *polar.Grid, index int) (*PreparedTemplate, error) {
	if g.NR != e.nr || g.NTheta != e.ntheta {
		return nil, diffraction.ShapeMismatchf("template grid %dx%d, engine %dx%d",
			g.NR, g.NTheta, e.nr, e.ntheta)
	}
	tg := g.Clone()
	e.opts.Transform.Apply(tg.Data)

	pt := &PreparedTemplate{
		index:   index,
		norm:    floats.Norm(tg.Data, 2),
		profile: tg.RadialProfile(),
		nr:      e.nr,
		nspec:   e.nspec,
		rows:    make([]complex128, e.nr*e.nspec),
	}
	pt.pnorm = floats.Norm(pt.profile, 2)
	for r := 0; r < e.nr; r++ {
		e.fft.Coefficients(pt.rows[r*e.nspec:(r+1)*e.nspec], tg.Row(r))
	}
	return pt, nil
}

// PrepareLibrary rasterises and prepares every template of a library onto
// the engine's grid geometry.
func (e *Engine) PrepareLibrary(lib *diffraction.Library, prm polar.Params, maxR float64) ([]*PreparedTemplate, error) {
	out := make([]*PreparedTemplate, len(lib.Templates))
	for i := range lib.Templates {
		g, err := polar.RasterizeTemplate(&lib.Templates[i], lib.Calibration, prm, maxR)
		if err != nil {
			return nil, err
		}
		if out[i], err = e.Prepare(g, i); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// preparedPattern is the per-call transformed pattern state.
type preparedPattern struct {
	rows    []complex128
	norm    float64
	profile []float64
	pnorm   float64
}

func (e *Engine) preparePattern(g *polar.Grid) (*preparedPattern, error) {
	if g.NR != e.nr || g.NTheta != e.ntheta {
		return nil, diffraction.ShapeMismatchf("pattern grid %dx%d, engine %dx%d",
			g.NR, g.NTheta, e.nr, e.ntheta)
	}
	pg := g.Clone()
	e.opts.Transform.Apply(pg.Data)
	pp := &preparedPattern{
		rows:    make([]complex128, e.nr*e.nspec),
		norm:    floats.Norm(pg.Data, 2),
		profile: pg.RadialProfile(),
	}
	pp.pnorm = floats.Norm(pp.profile, 2)
	for r := 0; r < e.nr; r++ {
		e.fft.Coefficients(pp.rows[r*e.nspec:(r+1)*e.nspec], pg.Row(r))
	}
	return pp, nil
}

// scoreScale returns the normalization divisor for a pattern/template norm
// pair, or 0 if a requested norm is degenerate (the deterministic zero-score
// fallback).
func (e *Engine) scoreScale(patternNorm, templateNorm float64) float64 {
	scale := 1.0
	if e.opts.NormalizePattern {
		if patternNorm == 0 {
			return 0
		}
		scale /= patternNorm
	}
	if e.opts.NormalizeTemplate {
		if templateNorm == 0 {
			return 0
		}
		scale /= templateNorm
	}
	return scale
}

// FastScores computes the rotation-invariant radial-profile score of the
// pattern against every prepared template: one scalar per template, no
// angle. Degenerate profiles score zero.
func (e *Engine) FastScores(pattern *polar.Grid, templates []*PreparedTemplate) ([]float64, error) {
	pp, err := e.preparePattern(pattern)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(templates))
	for i, t := range templates {
		scale := e.scoreScale(pp.pnorm, t.pnorm)
		if scale == 0 {
			continue
		}
		out[i] = floats.Dot(pp.profile, t.profile) * scale
	}
	return out, nil
}

// FullCorrelate resolves the best in-plane angle of the pattern against each
// prepared template, for the direct and the mirrored form.
func (e *Engine) FullCorrelate(pattern *polar.Grid, templates []*PreparedTemplate) ([]FullResult, error) {
	pp, err := e.preparePattern(pattern)
	if err != nil {
		return nil, err
	}
	out := make([]FullResult, len(templates))
	for i, t := range templates {
		out[i] = e.correlateOne(pp, t)
	}
	return out, nil
}

// correlateOne runs the azimuth-shift sweep for one pattern/template pair.
//
// For each radius row, score(s) = sum_t P[t]*T[t-s] is a circular
// correlation whose spectrum is P*conj(T); the mirrored template has
// spectrum conj(T) (real input reversed about bin 0), so its product is
// P*T and both sweeps come out of the same per-row pass with no extra
// forward transforms.
func (e *Engine) correlateOne(pp *preparedPattern, t *PreparedTemplate) FullResult {
	for k := range e.acc {
		e.acc[k] = 0
		e.accM[k] = 0
	}
	for r := 0; r < e.nr; r++ {
		prow := pp.rows[r*e.nspec : (r+1)*e.nspec]
		trow := t.rows[r*e.nspec : (r+1)*e.nspec]
		for k := range prow {
			e.acc[k] += prow[k] * cmplx.Conj(trow[k])
			e.accM[k] += prow[k] * trow[k]
		}
	}
	// The inverse transform is unnormalized: forward then inverse scales by
	// the sequence length.
	e.fft.Sequence(e.corr, e.acc)
	e.fft.Sequence(e.corrM, e.accM)
	invN := 1 / float64(e.ntheta)

	scale := e.scoreScale(pp.norm, t.norm) * invN
	best := floats.MaxIdx(e.corr)
	bestM := floats.MaxIdx(e.corrM)

	res := FullResult{
		TemplateIndex: t.index,
		Angle:         float64(best) * 2 * math.Pi / float64(e.ntheta),
		Score:         e.corr[best] * scale,
		MirrorAngle:   float64(bestM) * 2 * math.Pi / float64(e.ntheta),
		MirrorScore:   e.corrM[bestM] * scale,
	}
	if scale == 0 {
		// Degenerate norm: both sweeps collapse to zero, angles stay at
		// whatever argmax the raw sums produced. Pin them to zero for
		// determinism.
		res.Angle, res.MirrorAngle = 0, 0
		res.Score, res.MirrorScore = 0, 0
	}
	res.Mirrored = res.MirrorScore > res.Score
	return res
}

// SweepPair returns the full angular sweep for a single pattern/template
// pair: parallel angle and score arrays over every discrete shift of the
// azimuth axis, for the template as given.
func (e *Engine) SweepPair(pattern, template *polar.Grid) (angles, scores []float64, err error) {
	pp, err := e.preparePattern(pattern)
	if err != nil {
		return nil, nil, err
	}
	pt, err := e.Prepare(template, 0)
	if err != nil {
		return nil, nil, err
	}
	for k := range e.acc {
		e.acc[k] = 0
	}
	for r := 0; r < e.nr; r++ {
		prow := pp.rows[r*e.nspec : (r+1)*e.nspec]
		trow := pt.rows[r*e.nspec : (r+1)*e.nspec]
		for k := range prow {
			e.acc[k] += prow[k] * cmplx.Conj(trow[k])
		}
	}
	e.fft.Sequence(e.corr, e.acc)

	scale := e.scoreScale(pp.norm, pt.norm) / float64(e.ntheta)
	angles = make([]float64, e.ntheta)
	scores = make([]float64, e.ntheta)
	for s := 0; s < e.ntheta; s++ {
		angles[s] = float64(s) * 2 * math.Pi / float64(e.ntheta)
		scores[s] = e.corr[s] * scale
	}
	return angles, scores, nil
}
