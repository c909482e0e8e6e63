package correlate

import (
	"math"
	"sort"

	"github.com/crystalplane/orientidx/internal/diffraction"
)

// FilterParams controls the fast-score candidate shortlist. FracKeep and
// NKeep are mutually exclusive; zero values mean unset. With both unset the
// filter keeps everything.
type FilterParams struct {
	// FracKeep keeps ceil(FracKeep*N) templates, FracKeep in (0, 1].
	FracKeep float64
	// NKeep keeps exactly NKeep templates, NKeep in 1..N.
	NKeep int
}

// Validate checks ranges and mutual exclusion against a library of size n.
func (p FilterParams) Validate(n int) error {
	if p.FracKeep != 0 && p.NKeep != 0 {
		return diffraction.InvalidParameterf("frac_keep and n_keep are mutually exclusive")
	}
	if p.FracKeep != 0 && (p.FracKeep < 0 || p.FracKeep > 1) {
		return diffraction.InvalidParameterf("frac_keep %g outside (0, 1]", p.FracKeep)
	}
	if p.NKeep != 0 && (p.NKeep < 0 || p.NKeep > n) {
		return diffraction.InvalidParameterf("n_keep %d outside 1..%d", p.NKeep, n)
	}
	return nil
}

// keep returns the retained count for a library of size n.
func (p FilterParams) keep(n int) int {
	if p.NKeep != 0 {
		return p.NKeep
	}
	frac := p.FracKeep
	if frac == 0 {
		frac = 1
	}
	k := int(math.Ceil(frac * float64(n)))
	if k > n {
		k = n
	}
	if k < 1 {
		k = 1
	}
	return k
}

// SelectCandidates shortlists the templates with the highest fast scores.
// Ties break toward the lower template index, and the retained indices come
// back in ascending original order so later outputs attribute back to the
// library unambiguously. Keeping everything is exactly equivalent to
// skipping the filter.
func SelectCandidates(fastScores []float64, p FilterParams) ([]int, error) {
	n := len(fastScores)
	if n == 0 {
		return nil, diffraction.InvalidParameterf("empty fast score set")
	}
	if err := p.Validate(n); err != nil {
		return nil, err
	}
	k := p.keep(n)

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ia, ib := idx[a], idx[b]
		if fastScores[ia] != fastScores[ib] {
			return fastScores[ia] > fastScores[ib]
		}
		return ia < ib
	})
	kept := idx[:k]
	sort.Ints(kept)
	return kept, nil
}
