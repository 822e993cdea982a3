// Package moments owns per-trip power, velocity and width estimation.
//
// Responsibilities: optional moment values, power helpers, the pulse-pair
// and spectral estimators selected through a Method-indexed table, and the
// spectral noise floor.
// Key types: Value, Method, Estimate, Params.
//
// Dependency rule: may depend on internal/sz/spectral only.
package moments
