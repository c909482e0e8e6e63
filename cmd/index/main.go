// Package main provides the batch indexation driver. It loads a template
// library collection and a scan dataset, runs the template-matching pipeline
// over every scan position, prints a summary, and optionally persists the
// run to a SQLite results database.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/crystalplane/orientidx/internal/config"
	"github.com/crystalplane/orientidx/internal/correlate"
	"github.com/crystalplane/orientidx/internal/dataset"
	"github.com/crystalplane/orientidx/internal/diffraction"
	"github.com/crystalplane/orientidx/internal/indexer"
	"github.com/crystalplane/orientidx/internal/storage/sqlite"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to a JSON run configuration (optional)")
		libraryPath = flag.String("library", "", "path to a template library collection file")
		scanPath    = flag.String("scan", "", "path to a scan dataset file")
		dbPath      = flag.String("db", "", "SQLite database to persist the run to (optional)")
	)
	flag.Parse()

	if *libraryPath == "" || *scanPath == "" {
		fmt.Fprintln(os.Stderr, "usage: index -library <file> -scan <file> [-config <file>] [-db <file>]")
		os.Exit(2)
	}

	cfg := config.Empty()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalf("loading config: %v", err)
		}
	}

	libs, err := dataset.LoadLibraries(*libraryPath)
	if err != nil {
		log.Fatalf("loading libraries: %v", err)
	}
	scan, err := dataset.LoadScan(*scanPath)
	if err != nil {
		log.Fatalf("loading scan: %v", err)
	}

	params := indexer.Params{
		DeltaR:     cfg.GetDeltaR(),
		DeltaTheta: cfg.GetDeltaTheta(),
		Correlate: correlate.Options{
			Transform:         correlate.IntensityTransform(cfg.GetTransform()),
			NormalizePattern:  cfg.GetNormalizePattern(),
			NormalizeTemplate: cfg.GetNormalizeTemplate(),
		},
		Filter: correlate.FilterParams{
			FracKeep: cfg.GetFracKeep(),
			NKeep:    cfg.GetNKeep(),
		},
		NBest:   cfg.GetNBest(),
		Workers: cfg.GetWorkers(),
	}

	ix, err := indexer.New(libs, params)
	if err != nil {
		log.Fatalf("configuring indexer: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var store *sqlite.ResultStore
	var run sqlite.RunRecord
	if *dbPath != "" {
		if store, err = sqlite.Open(*dbPath); err != nil {
			log.Fatalf("opening results database: %v", err)
		}
		defer store.Close()

		paramsJSON, err := json.Marshal(cfg)
		if err != nil {
			log.Fatalf("encoding run params: %v", err)
		}
		run = sqlite.NewRunRecord(scan.ScanHeight, scan.ScanWidth, params.NBest, ix.PhaseKeys(), paramsJSON)
		if err := store.InsertRun(run); err != nil {
			log.Fatalf("recording run: %v", err)
		}
		log.Printf("run %s started", run.RunID)
	}

	result, err := ix.IndexDataset(ctx, scan)
	if err != nil {
		if store != nil {
			failures := 0
			if result != nil {
				failures = len(result.Failures)
			}
			store.CompleteRun(run.RunID, "error", err.Error(), failures, time.Now())
		}
		log.Fatalf("indexation: %v", err)
	}

	printSummary(result)

	if store != nil {
		if err := store.InsertResult(run.RunID, result); err != nil {
			log.Fatalf("persisting matches: %v", err)
		}
		if err := store.CompleteRun(run.RunID, "complete", "", len(result.Failures), time.Now()); err != nil {
			log.Fatalf("completing run: %v", err)
		}
		log.Printf("run %s persisted to %s", run.RunID, *dbPath)
	}
}

// printSummary reports rank-0 score statistics and the phase occupancy of
// the indexed map.
func printSummary(res *diffraction.IndexationResult) {
	var scores []float64
	phaseCounts := make([]int, len(res.PhaseKeys))
	for y := 0; y < res.ScanHeight; y++ {
		for x := 0; x < res.ScanWidth; x++ {
			m := res.At(y, x, 0)
			if m.PhaseIndex < 0 || math.IsNaN(m.Score) {
				continue
			}
			scores = append(scores, m.Score)
			phaseCounts[m.PhaseIndex]++
		}
	}

	fmt.Printf("indexed %d/%d positions\n", len(scores), res.ScanHeight*res.ScanWidth)
	if len(scores) > 0 {
		fmt.Printf("rank-0 score: mean=%.4f stddev=%.4f\n", stat.Mean(scores, nil), stat.StdDev(scores, nil))
	}
	for i, key := range res.PhaseKeys {
		fmt.Printf("phase %-2d %-24s %d positions\n", i, key, phaseCounts[i])
	}
	for _, f := range res.Failures {
		fmt.Printf("failed: %v\n", f)
	}
}
