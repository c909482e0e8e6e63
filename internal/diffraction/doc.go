// Package diffraction defines the domain types for template-matching
// orientation indexation: simulated templates and their libraries, dense
// experimental patterns, and the result types produced by the correlation
// pipeline.
//
// Types here are passive data. The algorithms that operate on them live in
// polar/ (resampling), correlate/ (scoring) and indexer/ (the batch driver);
// none of those packages is imported from here.
package diffraction
