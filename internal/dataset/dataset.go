// Package dataset reads and writes library collections and scan datasets as
// gob-encoded, gzip-compressed files. These are the concrete exchange
// surfaces between the indexation core and its upstream collaborators
// (simulation and acquisition); no scientific file format is implied.
package dataset

import (
	"compress/gzip"
	"encoding/gob"
	"fmt"
	"os"

	"github.com/crystalplane/orientidx/internal/diffraction"
)

// fileVersion guards against silent schema drift between writer and reader.
const fileVersion = 1

// libraryFile is the on-disk form of a library collection.
type libraryFile struct {
	Version   int
	Libraries []diffraction.Library
}

// scanFile is the on-disk form of a scan dataset. Missing patterns are
// encoded as zero-size entries.
type scanFile struct {
	Version    int
	ScanHeight int
	ScanWidth  int
	Patterns   []patternRecord
}

type patternRecord struct {
	Data    []float64
	Width   int
	Height  int
	CenterX float64
	CenterY float64
}

// SaveLibraries writes a library collection to path.
func SaveLibraries(path string, libs *diffraction.LibraryCollection) error {
	f := libraryFile{Version: fileVersion}
	for _, key := range libs.PhaseKeys() {
		f.Libraries = append(f.Libraries, *libs.Library(key))
	}
	return writeGob(path, f)
}

// LoadLibraries reads a library collection from path, re-validating every
// library on the way in.
func LoadLibraries(path string) (*diffraction.LibraryCollection, error) {
	var f libraryFile
	if err := readGob(path, &f); err != nil {
		return nil, err
	}
	if f.Version != fileVersion {
		return nil, fmt.Errorf("library file %s: version %d, want %d", path, f.Version, fileVersion)
	}
	libs := diffraction.NewLibraryCollection()
	for i := range f.Libraries {
		lib := f.Libraries[i]
		if err := libs.Add(&lib); err != nil {
			return nil, fmt.Errorf("library file %s: %w", path, err)
		}
	}
	return libs, nil
}

// SaveScan writes a scan dataset to path.
func SaveScan(path string, ds *diffraction.ScanDataset) error {
	f := scanFile{
		Version:    fileVersion,
		ScanHeight: ds.ScanHeight,
		ScanWidth:  ds.ScanWidth,
		Patterns:   make([]patternRecord, len(ds.Patterns)),
	}
	for i, p := range ds.Patterns {
		if p == nil {
			continue
		}
		f.Patterns[i] = patternRecord{
			Data:    p.Data,
			Width:   p.Width,
			Height:  p.Height,
			CenterX: p.CenterX,
			CenterY: p.CenterY,
		}
	}
	return writeGob(path, f)
}

// LoadScan reads a scan dataset from path. Zero-size entries come back as
// nil patterns, which the batch driver records as per-position failures.
func LoadScan(path string) (*diffraction.ScanDataset, error) {
	var f scanFile
	if err := readGob(path, &f); err != nil {
		return nil, err
	}
	if f.Version != fileVersion {
		return nil, fmt.Errorf("scan file %s: version %d, want %d", path, f.Version, fileVersion)
	}
	patterns := make([]*diffraction.Pattern, len(f.Patterns))
	for i, rec := range f.Patterns {
		if rec.Width == 0 || rec.Height == 0 {
			continue
		}
		if len(rec.Data) != rec.Width*rec.Height {
			return nil, fmt.Errorf("scan file %s: pattern %d has %d samples, want %d",
				path, i, len(rec.Data), rec.Width*rec.Height)
		}
		patterns[i] = &diffraction.Pattern{
			Data:    rec.Data,
			Width:   rec.Width,
			Height:  rec.Height,
			CenterX: rec.CenterX,
			CenterY: rec.CenterY,
		}
	}
	return diffraction.NewScanDataset(patterns, f.ScanWidth, f.ScanHeight)
}

func writeGob(path string, v interface{}) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	gz := gzip.NewWriter(out)
	if err := gob.NewEncoder(gz).Encode(v); err != nil {
		gz.Close()
		out.Close()
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := gz.Close(); err != nil {
		out.Close()
		return fmt.Errorf("flushing %s: %w", path, err)
	}
	return out.Close()
}

func readGob(path string, v interface{}) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer in.Close()

	gz, err := gzip.NewReader(in)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	defer gz.Close()

	if err := gob.NewDecoder(gz).Decode(v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}
