// Package config loads indexation run parameters from JSON files. The schema
// uses pointer-typed optional fields so partial configs are safe: anything
// omitted falls back to the documented default via the Get accessors.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Defaults applied by the Get accessors.
const (
	DefaultDeltaR     = 1.0
	DefaultDeltaTheta = 0.0175 // ~1 degree
	DefaultNBest      = 1
	DefaultTransform  = "none"
)

// RunConfig mirrors the indexer parameter surface. All fields are optional.
type RunConfig struct {
	DeltaR     *float64 `json:"delta_r,omitempty"`
	DeltaTheta *float64 `json:"delta_theta,omitempty"`

	Transform         *string  `json:"intensity_transform,omitempty"` // "none", "sqrt", "log"
	NormalizePattern  *bool    `json:"normalize_pattern,omitempty"`
	NormalizeTemplate *bool    `json:"normalize_template,omitempty"`

	FracKeep *float64 `json:"frac_keep,omitempty"`
	NKeep    *int     `json:"n_keep,omitempty"`

	NBest   *int `json:"n_best,omitempty"`
	Workers *int `json:"workers,omitempty"`
}

// Empty returns a RunConfig with every field unset.
func Empty() *RunConfig { return &RunConfig{} }

// Load reads a RunConfig from a JSON file. The path must end in .json and
// the file must be under 1MB; omitted fields keep their defaults.
func Load(path string) (*RunConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", cleanPath, err)
	}
	return cfg, nil
}

// GetDeltaR returns the radial step, defaulting to DefaultDeltaR.
func (c *RunConfig) GetDeltaR() float64 {
	if c.DeltaR != nil {
		return *c.DeltaR
	}
	return DefaultDeltaR
}

// GetDeltaTheta returns the azimuthal step in radians, defaulting to
// DefaultDeltaTheta.
func (c *RunConfig) GetDeltaTheta() float64 {
	if c.DeltaTheta != nil {
		return *c.DeltaTheta
	}
	return DefaultDeltaTheta
}

// GetTransform returns the intensity transform name, defaulting to
// DefaultTransform.
func (c *RunConfig) GetTransform() string {
	if c.Transform != nil {
		return *c.Transform
	}
	return DefaultTransform
}

// GetNormalizePattern returns the pattern normalization flag, default true.
func (c *RunConfig) GetNormalizePattern() bool {
	if c.NormalizePattern != nil {
		return *c.NormalizePattern
	}
	return true
}

// GetNormalizeTemplate returns the template normalization flag, default true.
func (c *RunConfig) GetNormalizeTemplate() bool {
	if c.NormalizeTemplate != nil {
		return *c.NormalizeTemplate
	}
	return true
}

// GetFracKeep returns the fast-filter fraction, zero when unset so the
// filter's own default (keep all) applies.
func (c *RunConfig) GetFracKeep() float64 {
	if c.FracKeep != nil {
		return *c.FracKeep
	}
	return 0
}

// GetNKeep returns the fast-filter count, zero when unset.
func (c *RunConfig) GetNKeep() int {
	if c.NKeep != nil {
		return *c.NKeep
	}
	return 0
}

// GetNBest returns the ranked match count per position, defaulting to
// DefaultNBest.
func (c *RunConfig) GetNBest() int {
	if c.NBest != nil {
		return *c.NBest
	}
	return DefaultNBest
}

// GetWorkers returns the worker pool size, zero when unset so the indexer
// sizes it from the available cores.
func (c *RunConfig) GetWorkers() int {
	if c.Workers != nil {
		return *c.Workers
	}
	return 0
}
