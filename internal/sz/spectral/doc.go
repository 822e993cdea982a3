// Package spectral owns the fixed-size complex DFT used by the trip
// separator and clutter filter.
//
// Responsibilities: forward and inverse transforms with symmetric 1/sqrt(N)
// scaling, DC-centring shift and unshift.
// Key types: Transform.
//
// Dependency rule: leaf package. Nothing under internal/sz may be imported
// from here.
package spectral
