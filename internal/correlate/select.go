package correlate

import (
	"sort"

	"github.com/crystalplane/orientidx/internal/diffraction"
)

// SelectBest ranks full-correlation results by their final score (the better
// of direct and mirror) and returns the top nBest as a MatchSet: descending
// score, ties broken by ascending template index. Requesting more matches
// than candidates considered is an error.
func SelectBest(results []FullResult, nBest int) (diffraction.MatchSet, error) {
	if nBest < 1 {
		return nil, diffraction.InvalidParameterf("n_best %d < 1", nBest)
	}
	if nBest > len(results) {
		return nil, diffraction.InvalidParameterf("n_best %d exceeds %d candidates considered",
			nBest, len(results))
	}
	ranked := make([]FullResult, len(results))
	copy(ranked, results)
	sort.SliceStable(ranked, func(a, b int) bool {
		sa, sb := ranked[a].Best().Score, ranked[b].Best().Score
		if sa != sb {
			return sa > sb
		}
		return ranked[a].TemplateIndex < ranked[b].TemplateIndex
	})

	out := make(diffraction.MatchSet, nBest)
	for i := 0; i < nBest; i++ {
		best := ranked[i].Best()
		out[i] = diffraction.Match{
			TemplateIndex: ranked[i].TemplateIndex,
			Angle:         best.Angle,
			Score:         best.Score,
			Mirrored:      best.Mirrored,
		}
	}
	return out, nil
}
