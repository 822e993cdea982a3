// Package sz owns SZ(8/64) phase-coded trip separation for one beam.
//
// Responsibilities: decoding a dwell into strong and weak trip series,
// notching clutter in each, estimating per-trip moments, and censoring
// unreliable trips.
// Key types: Tables, Separator, GateResult, TripEstimate.
//
// Tables are built once per dwell length and shared read-only between
// workers. A Separator owns its transform, clutter filters and scratch
// buffers, so each worker needs its own.
//
// Dependency rule: may depend on internal/sz/* subpackages, internal/config
// and internal/monitoring. No SQL, HTTP or file I/O is allowed in this
// package.
package sz
