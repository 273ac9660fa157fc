// Package sc implements dimension-adaptive sparse-grid stochastic
// collocation.
//
// The package owns the numerical core of an uncertainty-quantification
// campaign:
//
//   - [MultiIndex] and [IndexSet]: per-dimension quadrature levels, with
//     [LookAhead] deriving the admissible frontier and [Accept] growing the
//     downward-closed accepted set
//   - [Generator]: sparse collocation grids via the combination technique
//   - [Samples]: observed quantities of interest keyed by point coordinates
//   - [ComputeSurplus]: hierarchical surpluses that drive adaptation
//   - [Surrogate]: interpolation, moments and Sobol indices over the
//     accepted grid
//   - [State]: the serializable aggregate persisted between runs
//
// # Unit space
//
// Points carry both physical coordinates and unit coordinates (the
// probability level of each coordinate). All interpolation happens in unit
// space; physical coordinates key the samples.
//
// # Thread Safety
//
// A [Surrogate] is immutable once built and safe for concurrent use.
// [State] is not; the refinement controller owns it.
package sc
