package correlate

import (
	"math"
	"math/rand"
	"testing"

	"github.com/crystalplane/orientidx/internal/diffraction"
	"github.com/crystalplane/orientidx/internal/polar"
)

func newTestGrid(t *testing.T, ntheta int, maxR float64) *polar.Grid {
	t.Helper()
	return polar.NewGrid(polar.Params{DeltaR: 1, DeltaTheta: 2 * math.Pi / float64(ntheta)}, maxR)
}

// asymmetricGrid has spots of unequal intensity at azimuth bins 0 and 1 on
// the outer ring, so it is neither rotation- nor mirror-symmetric.
func asymmetricGrid(t *testing.T) *polar.Grid {
	t.Helper()
	g := newTestGrid(t, 8, 2)
	g.Set(2, 0, 3)
	g.Set(2, 1, 1)
	g.Set(1, 5, 2)
	return g
}

// rotateGrid shifts every azimuthal row by s bins: features at bin t move to
// bin t+s, the polar image of an in-plane rotation by s*DeltaTheta.
func rotateGrid(g *polar.Grid, s int) *polar.Grid {
	out := g.Clone()
	for r := 0; r < g.NR; r++ {
		src := g.Row(r)
		dst := out.Row(r)
		for t := 0; t < g.NTheta; t++ {
			dst[(t+s)%g.NTheta] = src[t]
		}
	}
	return out
}

// directSweep is the O(ntheta^2) reference for the azimuth-shift sweep:
// score(s) = sum over bins of pattern * template-rotated-by-s, with the same
// transform and normalization as the engine.
func directSweep(pattern, template *polar.Grid, opts Options) []float64 {
	pg := pattern.Clone()
	tg := template.Clone()
	opts.Transform.Apply(pg.Data)
	opts.Transform.Apply(tg.Data)

	norm := func(d []float64) float64 {
		s := 0.0
		for _, v := range d {
			s += v * v
		}
		return math.Sqrt(s)
	}
	scale := 1.0
	if opts.NormalizePattern {
		n := norm(pg.Data)
		if n == 0 {
			return make([]float64, pg.NTheta)
		}
		scale /= n
	}
	if opts.NormalizeTemplate {
		n := norm(tg.Data)
		if n == 0 {
			return make([]float64, pg.NTheta)
		}
		scale /= n
	}

	n := pg.NTheta
	out := make([]float64, n)
	for s := 0; s < n; s++ {
		sum := 0.0
		for r := 0; r < pg.NR; r++ {
			prow := pg.Row(r)
			trow := tg.Row(r)
			for t := 0; t < n; t++ {
				sum += prow[t] * trow[(t-s+n)%n]
			}
		}
		out[s] = sum * scale
	}
	return out
}

func maxIdx(s []float64) int {
	best := 0
	for i, v := range s {
		if v > s[best] {
			best = i
		}
	}
	return best
}

func TestSweepMatchesDirectSummation(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, ntheta := range []int{8, 5, 12} {
		for _, opts := range []Options{
			{},
			{NormalizePattern: true, NormalizeTemplate: true},
			{Transform: TransformSqrt, NormalizePattern: true, NormalizeTemplate: true},
			{Transform: TransformLog, NormalizeTemplate: true},
		} {
			p := newTestGrid(t, ntheta, 3)
			q := newTestGrid(t, ntheta, 3)
			for i := range p.Data {
				p.Data[i] = rng.Float64() * 5
				q.Data[i] = rng.Float64() * 5
			}

			eng, err := NewEngine(p.NR, p.NTheta, opts)
			if err != nil {
				t.Fatal(err)
			}
			_, scores, err := eng.SweepPair(p, q)
			if err != nil {
				t.Fatal(err)
			}
			want := directSweep(p, q, opts)
			for s := range want {
				if math.Abs(scores[s]-want[s]) > 1e-9 {
					t.Fatalf("ntheta=%d opts=%+v shift %d: fft %g, direct %g",
						ntheta, opts, s, scores[s], want[s])
				}
			}
		}
	}
}

func TestFullCorrelateMatchesDirectSummation(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	opts := Options{NormalizePattern: true, NormalizeTemplate: true}

	p := newTestGrid(t, 8, 3)
	q := newTestGrid(t, 8, 3)
	for i := range p.Data {
		p.Data[i] = rng.Float64()
		q.Data[i] = rng.Float64()
	}

	eng, err := NewEngine(p.NR, p.NTheta, opts)
	if err != nil {
		t.Fatal(err)
	}
	pt, err := eng.Prepare(q, 0)
	if err != nil {
		t.Fatal(err)
	}
	res, err := eng.FullCorrelate(p, []*PreparedTemplate{pt})
	if err != nil {
		t.Fatal(err)
	}

	direct := directSweep(p, q, opts)
	mirrored := directSweep(p, q.Mirror(), opts)
	db, mb := maxIdx(direct), maxIdx(mirrored)
	delta := 2 * math.Pi / float64(p.NTheta)

	if math.Abs(res[0].Score-direct[db]) > 1e-9 || math.Abs(res[0].Angle-float64(db)*delta) > 1e-12 {
		t.Errorf("direct: got (%.6f, %.6f), want (%.6f, %.6f)",
			res[0].Angle, res[0].Score, float64(db)*delta, direct[db])
	}
	if math.Abs(res[0].MirrorScore-mirrored[mb]) > 1e-9 || math.Abs(res[0].MirrorAngle-float64(mb)*delta) > 1e-12 {
		t.Errorf("mirror: got (%.6f, %.6f), want (%.6f, %.6f)",
			res[0].MirrorAngle, res[0].MirrorScore, float64(mb)*delta, mirrored[mb])
	}
	if res[0].Mirrored != (res[0].MirrorScore > res[0].Score) {
		t.Errorf("mirror decision inconsistent: %+v", res[0])
	}
}

func TestSelfMatch(t *testing.T) {
	g := asymmetricGrid(t)
	eng, err := NewEngine(g.NR, g.NTheta, Options{NormalizePattern: true, NormalizeTemplate: true})
	if err != nil {
		t.Fatal(err)
	}
	pt, err := eng.Prepare(g, 0)
	if err != nil {
		t.Fatal(err)
	}
	res, err := eng.FullCorrelate(g, []*PreparedTemplate{pt})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(res[0].Score-1) > 1e-9 {
		t.Errorf("self-match score = %g, want 1", res[0].Score)
	}
	if res[0].Angle != 0 {
		t.Errorf("self-match angle = %g, want 0", res[0].Angle)
	}
	if res[0].Mirrored {
		t.Error("self-match should not prefer the mirror")
	}
}

func TestRotationRecovery(t *testing.T) {
	g := asymmetricGrid(t)
	eng, err := NewEngine(g.NR, g.NTheta, Options{NormalizePattern: true, NormalizeTemplate: true})
	if err != nil {
		t.Fatal(err)
	}
	pt, err := eng.Prepare(g, 0)
	if err != nil {
		t.Fatal(err)
	}
	delta := 2 * math.Pi / float64(g.NTheta)
	for s0 := 0; s0 < g.NTheta; s0++ {
		rotated := rotateGrid(g, s0)
		res, err := eng.FullCorrelate(rotated, []*PreparedTemplate{pt})
		if err != nil {
			t.Fatal(err)
		}
		want := float64(s0) * delta
		if math.Abs(res[0].Angle-want) > 1e-12 {
			t.Errorf("shift %d: recovered angle %g, want %g", s0, res[0].Angle, want)
		}
		if math.Abs(res[0].Score-1) > 1e-9 {
			t.Errorf("shift %d: score %g, want 1", s0, res[0].Score)
		}
	}
}

func TestMirrorConsistency(t *testing.T) {
	g := asymmetricGrid(t)
	eng, err := NewEngine(g.NR, g.NTheta, Options{NormalizePattern: true, NormalizeTemplate: true})
	if err != nil {
		t.Fatal(err)
	}
	pt, err := eng.Prepare(g, 0)
	if err != nil {
		t.Fatal(err)
	}
	res, err := eng.FullCorrelate(g.Mirror(), []*PreparedTemplate{pt})
	if err != nil {
		t.Fatal(err)
	}
	if !res[0].Mirrored {
		t.Error("mirrored pattern should prefer the mirrored template")
	}
	if res[0].Score > res[0].MirrorScore {
		t.Errorf("direct score %g exceeds mirror score %g", res[0].Score, res[0].MirrorScore)
	}
	if math.Abs(res[0].MirrorScore-1) > 1e-9 {
		t.Errorf("mirror score = %g, want 1", res[0].MirrorScore)
	}
	if res[0].MirrorAngle != 0 {
		t.Errorf("mirror angle = %g, want 0", res[0].MirrorAngle)
	}
}

func TestDegenerateNormScoresZero(t *testing.T) {
	g := asymmetricGrid(t)
	zero := newTestGrid(t, 8, 2)

	eng, err := NewEngine(g.NR, g.NTheta, Options{NormalizePattern: true, NormalizeTemplate: true})
	if err != nil {
		t.Fatal(err)
	}
	pt, err := eng.Prepare(g, 0)
	if err != nil {
		t.Fatal(err)
	}

	res, err := eng.FullCorrelate(zero, []*PreparedTemplate{pt})
	if err != nil {
		t.Fatal(err)
	}
	if res[0].Score != 0 || res[0].MirrorScore != 0 {
		t.Errorf("degenerate pattern: scores (%g, %g), want (0, 0)", res[0].Score, res[0].MirrorScore)
	}
	if res[0].Angle != 0 || res[0].MirrorAngle != 0 {
		t.Errorf("degenerate pattern: angles (%g, %g), want (0, 0)", res[0].Angle, res[0].MirrorAngle)
	}
	if res[0].Mirrored {
		t.Error("degenerate tie must break toward the non-mirrored option")
	}

	fast, err := eng.FastScores(zero, []*PreparedTemplate{pt})
	if err != nil {
		t.Fatal(err)
	}
	if fast[0] != 0 {
		t.Errorf("degenerate fast score = %g, want 0", fast[0])
	}

	// A zero-norm template must behave the same way.
	zpt, err := eng.Prepare(zero, 0)
	if err != nil {
		t.Fatal(err)
	}
	res, err = eng.FullCorrelate(g, []*PreparedTemplate{zpt})
	if err != nil {
		t.Fatal(err)
	}
	if res[0].Score != 0 || res[0].MirrorScore != 0 {
		t.Errorf("degenerate template: scores (%g, %g), want (0, 0)", res[0].Score, res[0].MirrorScore)
	}
}

func TestFastScoresRotationInvariant(t *testing.T) {
	g := asymmetricGrid(t)
	eng, err := NewEngine(g.NR, g.NTheta, Options{NormalizePattern: true, NormalizeTemplate: true})
	if err != nil {
		t.Fatal(err)
	}
	pt, err := eng.Prepare(g, 0)
	if err != nil {
		t.Fatal(err)
	}
	base, err := eng.FastScores(g, []*PreparedTemplate{pt})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(base[0]-1) > 1e-9 {
		t.Errorf("self fast score = %g, want 1", base[0])
	}
	for s0 := 1; s0 < g.NTheta; s0++ {
		got, err := eng.FastScores(rotateGrid(g, s0), []*PreparedTemplate{pt})
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(got[0]-base[0]) > 1e-12 {
			t.Errorf("shift %d: fast score %g, want %g", s0, got[0], base[0])
		}
	}
}

func TestShapeMismatchRejected(t *testing.T) {
	g := newTestGrid(t, 8, 2)
	eng, err := NewEngine(g.NR, g.NTheta, Options{})
	if err != nil {
		t.Fatal(err)
	}
	small := newTestGrid(t, 8, 1)
	if _, err := eng.Prepare(small, 0); err == nil {
		t.Error("undersized template grid accepted")
	}
	pt, err := eng.Prepare(g, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.FullCorrelate(small, []*PreparedTemplate{pt}); err == nil {
		t.Error("undersized pattern grid accepted")
	}
}

func TestUnknownTransformRejected(t *testing.T) {
	if _, err := NewEngine(2, 8, Options{Transform: "cube"}); err == nil {
		t.Error("unknown transform accepted")
	}
}

// TestTwoSpotEndToEnd is the worked example: a pattern with two symmetric
// spots against a template with spots at azimuths 0 and 180 degrees on a
// coarse 90-degree grid peaks at a shift of 0 or 180 degrees and scores
// nothing at 90/270.
func TestTwoSpotEndToEnd(t *testing.T) {
	tpl := &diffraction.Template{
		Reflections: []diffraction.Reflection{
			{Radius: 0.02, Azimuth: 0, Intensity: 1},
			{Radius: 0.02, Azimuth: math.Pi, Intensity: 1},
		},
		BeamDirection: [3]float64{0, 0, 1},
	}
	prm := polar.Params{DeltaR: 1, DeltaTheta: math.Pi / 2}
	tg, err := polar.RasterizeTemplate(tpl, 0.01, prm, 2)
	if err != nil {
		t.Fatal(err)
	}
	img, err := polar.RenderPattern(tpl, 0.01, polar.RenderOptions{Width: 5, Height: 5})
	if err != nil {
		t.Fatal(err)
	}
	pg, err := polar.Resample(img, polar.Params{DeltaR: 1, DeltaTheta: math.Pi / 2, MaxR: 2})
	if err != nil {
		t.Fatal(err)
	}

	eng, err := NewEngine(tg.NR, tg.NTheta, Options{NormalizePattern: true, NormalizeTemplate: true})
	if err != nil {
		t.Fatal(err)
	}
	angles, scores, err := eng.SweepPair(pg, tg)
	if err != nil {
		t.Fatal(err)
	}
	if len(angles) != 4 {
		t.Fatalf("sweep length %d, want 4", len(angles))
	}
	if math.Abs(scores[0]-1) > 1e-9 || math.Abs(scores[2]-1) > 1e-9 {
		t.Errorf("scores at 0/180 = %g, %g, want ~1", scores[0], scores[2])
	}
	if math.Abs(scores[1]) > 1e-9 || math.Abs(scores[3]) > 1e-9 {
		t.Errorf("scores at 90/270 = %g, %g, want ~0", scores[1], scores[3])
	}
}
