package dataset

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/crystalplane/orientidx/internal/diffraction"
)

func testLibraries(t *testing.T) *diffraction.LibraryCollection {
	t.Helper()
	libs := diffraction.NewLibraryCollection()
	err := libs.Add(&diffraction.Library{
		Phase:       "alpha",
		Calibration: 0.01,
		MaxRadius:   0.05,
		Templates: []diffraction.Template{
			{
				Reflections: []diffraction.Reflection{
					{Radius: 0.02, Azimuth: 0, Intensity: 2},
					{Radius: 0.05, Azimuth: math.Pi / 3, Intensity: 1},
				},
				BeamDirection: [3]float64{0, 0, 1},
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	err = libs.Add(&diffraction.Library{
		Phase:       "beta",
		Calibration: 0.02,
		MaxRadius:   0.04,
		Templates: []diffraction.Template{
			{
				Reflections:   []diffraction.Reflection{{Radius: 0.04, Azimuth: 1, Intensity: 3}},
				BeamDirection: [3]float64{1, 0, 0},
				GridIndex:     7,
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return libs
}

func TestLibraryRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "libs.gob.gz")
	libs := testLibraries(t)

	if err := SaveLibraries(path, libs); err != nil {
		t.Fatal(err)
	}
	got, err := LoadLibraries(path)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(libs.PhaseKeys(), got.PhaseKeys()); diff != "" {
		t.Fatalf("phase keys mismatch (-want +got):\n%s", diff)
	}
	for _, key := range libs.PhaseKeys() {
		if diff := cmp.Diff(libs.Library(key), got.Library(key)); diff != "" {
			t.Errorf("library %q mismatch (-want +got):\n%s", key, diff)
		}
	}
}

func TestScanRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.gob.gz")

	p0, err := diffraction.NewPattern([]float64{1, 2, 3, 4, 5, 6}, 3, 2)
	if err != nil {
		t.Fatal(err)
	}
	p1, err := diffraction.NewPattern([]float64{0, 0, 7, 0, 0, 0}, 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	p1.CenterX, p1.CenterY = 0.25, 1.5
	ds, err := diffraction.NewScanDataset([]*diffraction.Pattern{p0, nil, p1, nil}, 2, 2)
	if err != nil {
		t.Fatal(err)
	}

	if err := SaveScan(path, ds); err != nil {
		t.Fatal(err)
	}
	got, err := LoadScan(path)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(ds, got); diff != "" {
		t.Errorf("scan mismatch (-want +got):\n%s", diff)
	}
	// Missing positions must come back nil, not as empty patterns.
	if got.At(0, 1) != nil || got.At(1, 1) != nil {
		t.Error("expected nil patterns for missing scan positions")
	}
}

func TestVersionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.gob.gz")
	if err := writeGob(path, libraryFile{Version: fileVersion + 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadLibraries(path); err == nil {
		t.Error("mismatched file version accepted")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := LoadScan(filepath.Join(t.TempDir(), "absent.gob.gz")); err == nil {
		t.Error("missing file accepted")
	}
}

func TestLoadCorruptScan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.gob.gz")
	f := scanFile{
		Version:    fileVersion,
		ScanHeight: 1,
		ScanWidth:  1,
		Patterns:   []patternRecord{{Data: []float64{1, 2}, Width: 3, Height: 2}},
	}
	if err := writeGob(path, f); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadScan(path); err == nil {
		t.Error("truncated pattern buffer accepted")
	}
}
