package correlate

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/crystalplane/orientidx/internal/diffraction"
)

func TestSelectBest(t *testing.T) {
	results := []FullResult{
		{TemplateIndex: 0, Angle: 0.1, Score: 0.4, MirrorAngle: 0.2, MirrorScore: 0.7, Mirrored: true},
		{TemplateIndex: 1, Angle: 0.3, Score: 0.9, MirrorAngle: 0.4, MirrorScore: 0.5},
		{TemplateIndex: 2, Angle: 0.5, Score: 0.7, MirrorAngle: 0.6, MirrorScore: 0.2},
	}

	got, err := SelectBest(results, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := diffraction.MatchSet{
		{TemplateIndex: 1, Angle: 0.3, Score: 0.9},
		// 0 and 2 tie at 0.7; the lower template index ranks first, and the
		// tied entry from template 0 carries its mirror angle.
		{TemplateIndex: 0, Angle: 0.2, Score: 0.7, Mirrored: true},
		{TemplateIndex: 2, Angle: 0.5, Score: 0.7},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ranking mismatch (-want +got):\n%s", diff)
	}

	// Truncation keeps the same prefix.
	top, err := SelectBest(results, 1)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want[:1], top); diff != "" {
		t.Errorf("top-1 mismatch (-want +got):\n%s", diff)
	}
}

func TestSelectBestBounds(t *testing.T) {
	results := []FullResult{{TemplateIndex: 0, Score: 0.5}}
	if _, err := SelectBest(results, 0); err == nil {
		t.Error("n_best 0 accepted")
	}
	if _, err := SelectBest(results, 2); err == nil {
		t.Error("n_best above candidate count accepted")
	}
}
