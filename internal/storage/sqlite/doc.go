// Package sqlite persists indexation runs and their per-position matches.
//
// Persistence is deliberately outside the core pipeline: the indexer returns
// its result arrays to the caller and holds no further reference, and this
// package is only ever imported by the surrounding tooling, never by
// diffraction/, polar/, correlate/ or indexer/.
package sqlite
