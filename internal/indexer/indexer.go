// Package indexer drives template-matching indexation over whole scan
// datasets. It owns the per-position pipeline (resample, fast filter, full
// correlation, n-best selection, cross-phase merge) and fans positions out
// across a worker pool; positions are independent and never share mutable
// state.
package indexer

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/crystalplane/orientidx/internal/correlate"
	"github.com/crystalplane/orientidx/internal/diffraction"
	"github.com/crystalplane/orientidx/internal/monitoring"
	"github.com/crystalplane/orientidx/internal/polar"
)

// CenterFinder locates the direct beam of an uncentered pattern. The search
// itself is an external collaborator; the indexer only applies the result.
type CenterFinder interface {
	FindCenter(p *diffraction.Pattern) (cx, cy float64, err error)
}

// Params configures an indexation run. Validation happens once, in New,
// before any per-position work is dispatched.
type Params struct {
	// DeltaR and DeltaTheta set the polar grid geometry shared by patterns
	// and templates. The radial reach is derived per phase from the
	// library's circumscribed radius.
	DeltaR     float64
	DeltaTheta float64

	Correlate correlate.Options
	Filter    correlate.FilterParams

	// NBest is the number of ranked matches kept per position, jointly
	// across phases.
	NBest int

	// Workers sizes the position pool. Zero means runtime.NumCPU().
	Workers int

	// CenterFinder, when set, re-centers every pattern before resampling.
	CenterFinder CenterFinder
}

// phaseState is the read-only per-phase precomputation shared by all
// workers: grid geometry and prepared template spectra.
type phaseState struct {
	key      string
	lib      *diffraction.Library
	prm      polar.Params
	maxRPix  float64
	nr       int
	ntheta   int
	prepared []*correlate.PreparedTemplate
	keep     int // retained candidate count after the fast filter
}

// Indexer applies the matching pipeline to patterns against a library
// collection. It is safe for concurrent use once constructed; all mutable
// scoring state lives in per-worker engines.
type Indexer struct {
	params Params
	phases []*phaseState
	keys   []string
}

// New validates the run parameters, rasterises every library onto its polar
// grid and precomputes template spectra. Invalid global parameters fail here,
// before any pattern is touched.
func New(libs *diffraction.LibraryCollection, params Params) (*Indexer, error) {
	if libs == nil || libs.Len() == 0 {
		return nil, diffraction.InvalidParameterf("empty library collection")
	}
	if params.DeltaR <= 0 {
		return nil, diffraction.InvalidParameterf("delta_r %g <= 0", params.DeltaR)
	}
	if params.DeltaTheta <= 0 {
		return nil, diffraction.InvalidParameterf("delta_theta %g <= 0", params.DeltaTheta)
	}
	if err := params.Correlate.Validate(); err != nil {
		return nil, err
	}
	if params.NBest < 1 {
		return nil, diffraction.InvalidParameterf("n_best %d < 1", params.NBest)
	}
	if params.Workers < 0 {
		return nil, diffraction.InvalidParameterf("workers %d < 0", params.Workers)
	}

	ix := &Indexer{params: params, keys: libs.PhaseKeys()}
	pooled := 0
	for _, key := range ix.keys {
		lib := libs.Library(key)
		if err := params.Filter.Validate(len(lib.Templates)); err != nil {
			return nil, err
		}
		ps, err := newPhaseState(lib, params)
		if err != nil {
			return nil, err
		}
		ix.phases = append(ix.phases, ps)
		pooled += ps.keep
	}
	if params.NBest > pooled {
		return nil, diffraction.InvalidParameterf("n_best %d exceeds %d pooled candidates across phases",
			params.NBest, pooled)
	}
	return ix, nil
}

func newPhaseState(lib *diffraction.Library, params Params) (*phaseState, error) {
	maxRPix := lib.MaxRadius / lib.Calibration
	prm := polar.Params{DeltaR: params.DeltaR, DeltaTheta: params.DeltaTheta, MaxR: maxRPix}
	probe := polar.NewGrid(prm, maxRPix)

	eng, err := correlate.NewEngine(probe.NR, probe.NTheta, params.Correlate)
	if err != nil {
		return nil, err
	}
	prepared, err := eng.PrepareLibrary(lib, prm, maxRPix)
	if err != nil {
		return nil, err
	}
	ps := &phaseState{
		key:      lib.Phase,
		lib:      lib,
		prm:      prm,
		maxRPix:  maxRPix,
		nr:       probe.NR,
		ntheta:   probe.NTheta,
		prepared: prepared,
	}
	// Retained count is a pure function of the filter params and library
	// size, so it is known before any pattern arrives.
	kept, err := correlate.SelectCandidates(make([]float64, len(lib.Templates)), params.Filter)
	if err != nil {
		return nil, err
	}
	ps.keep = len(kept)
	return ps, nil
}

// engineSet is the per-worker scratch state: one engine per phase.
type engineSet []*correlate.Engine

func (ix *Indexer) newEngineSet() (engineSet, error) {
	set := make(engineSet, len(ix.phases))
	for i, ps := range ix.phases {
		eng, err := correlate.NewEngine(ps.nr, ps.ntheta, ix.params.Correlate)
		if err != nil {
			return nil, err
		}
		set[i] = eng
	}
	return set, nil
}

// phaseCandidate tags a full-correlation result with its phase for the
// cross-phase merge.
type phaseCandidate struct {
	phase int
	res   correlate.FullResult
}

// IndexPattern runs the full pipeline for a single pattern and returns its
// ranked matches. Phase indices follow the collection's key order.
func (ix *Indexer) IndexPattern(p *diffraction.Pattern) ([]diffraction.RankedMatch, error) {
	set, err := ix.newEngineSet()
	if err != nil {
		return nil, err
	}
	return ix.indexWith(set, p)
}

func (ix *Indexer) indexWith(set engineSet, p *diffraction.Pattern) ([]diffraction.RankedMatch, error) {
	if p == nil {
		return nil, diffraction.ShapeMismatchf("missing pattern")
	}
	if ix.params.CenterFinder != nil {
		cx, cy, err := ix.params.CenterFinder.FindCenter(p)
		if err != nil {
			return nil, err
		}
		centered := *p
		centered.CenterX, centered.CenterY = cx, cy
		p = &centered
	}

	var pool []phaseCandidate
	for phaseIdx, ps := range ix.phases {
		grid, err := polar.Resample(p, ps.prm)
		if err != nil {
			return nil, diffraction.PositionError{Phase: ps.key, Err: err}
		}
		eng := set[phaseIdx]

		fast, err := eng.FastScores(grid, ps.prepared)
		if err != nil {
			return nil, diffraction.PositionError{Phase: ps.key, Err: err}
		}
		kept, err := correlate.SelectCandidates(fast, ix.params.Filter)
		if err != nil {
			return nil, diffraction.PositionError{Phase: ps.key, Err: err}
		}
		shortlist := make([]*correlate.PreparedTemplate, len(kept))
		for i, ti := range kept {
			shortlist[i] = ps.prepared[ti]
		}
		full, err := eng.FullCorrelate(grid, shortlist)
		if err != nil {
			return nil, diffraction.PositionError{Phase: ps.key, Err: err}
		}
		for _, r := range full {
			pool = append(pool, phaseCandidate{phase: phaseIdx, res: r})
		}
	}
	return ix.mergePhases(pool)
}

// mergePhases jointly re-selects the overall n best across every phase's
// candidate pool. Ranking matches SelectBest: final score descending, ties
// broken by ascending phase then template index.
func (ix *Indexer) mergePhases(pool []phaseCandidate) ([]diffraction.RankedMatch, error) {
	if ix.params.NBest > len(pool) {
		return nil, diffraction.InvalidParameterf("n_best %d exceeds %d pooled candidates",
			ix.params.NBest, len(pool))
	}
	sort.SliceStable(pool, func(a, b int) bool {
		sa, sb := pool[a].res.Best().Score, pool[b].res.Best().Score
		if sa != sb {
			return sa > sb
		}
		if pool[a].phase != pool[b].phase {
			return pool[a].phase < pool[b].phase
		}
		return pool[a].res.TemplateIndex < pool[b].res.TemplateIndex
	})
	out := make([]diffraction.RankedMatch, ix.params.NBest)
	for i := 0; i < ix.params.NBest; i++ {
		c := pool[i]
		tpl := &ix.phases[c.phase].lib.Templates[c.res.TemplateIndex]
		beamPolar, beamAz := tpl.BeamAngles()
		r := c.res.Best()
		out[i] = diffraction.RankedMatch{
			PhaseIndex:    c.phase,
			TemplateIndex: c.res.TemplateIndex,
			Orientation:   [3]float64{r.Angle, beamPolar, beamAz},
			Score:         r.Score,
			Mirrored:      r.Mirrored,
		}
	}
	return out, nil
}

// IndexDataset applies the pipeline independently to every scan position and
// assembles the per-pixel result maps. A position's failure records a
// sentinel row and never aborts the batch; the failure set comes back on the
// result. Workers write disjoint output slots, so the only shared mutable
// state is the failure list.
func (ix *Indexer) IndexDataset(ctx context.Context, ds *diffraction.ScanDataset) (*diffraction.IndexationResult, error) {
	if ds == nil {
		return nil, diffraction.InvalidParameterf("nil dataset")
	}
	result := diffraction.NewIndexationResult(ds.ScanHeight, ds.ScanWidth, ix.params.NBest, ix.keys)

	workers := ix.params.Workers
	if workers == 0 {
		workers = runtime.NumCPU()
	}

	// One engine set per worker slot; the semaphore token doubles as the
	// claim on a set, so an engine is never used by two goroutines at once.
	engines := make(chan engineSet, workers)
	for i := 0; i < workers; i++ {
		set, err := ix.newEngineSet()
		if err != nil {
			return nil, err
		}
		engines <- set
	}

	start := time.Now()
	var (
		wg sync.WaitGroup
		mu sync.Mutex // guards result.Failures
	)

dispatch:
	for y := 0; y < ds.ScanHeight; y++ {
		for x := 0; x < ds.ScanWidth; x++ {
			var set engineSet
			select {
			case <-ctx.Done():
				break dispatch
			case set = <-engines:
			}

			wg.Add(1)
			go func(py, px int, set engineSet) {
				defer wg.Done()
				defer func() { engines <- set }()

				matches, err := ix.indexWith(set, ds.At(py, px))
				if err != nil {
					perr := diffraction.PositionError{Y: py, X: px, Err: err}
					if inner, ok := err.(diffraction.PositionError); ok {
						perr.Phase = inner.Phase
						perr.Err = inner.Err
					}
					mu.Lock()
					result.Failures = append(result.Failures, perr)
					mu.Unlock()
					return // leaves the sentinel row in place
				}
				for rank, m := range matches {
					result.SetAt(py, px, rank, m)
				}
			}(y, x, set)
		}
	}
	wg.Wait()

	monitoring.Logf("[indexer] indexed %dx%d positions, %d phases, n_best=%d, failures=%d in %s",
		ds.ScanHeight, ds.ScanWidth, len(ix.phases), ix.params.NBest,
		len(result.Failures), time.Since(start).Round(time.Millisecond))

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// PhaseKeys returns the phase-index-to-phase-key mapping used in results.
func (ix *Indexer) PhaseKeys() []string {
	out := make([]string, len(ix.keys))
	copy(out, ix.keys)
	return out
}
