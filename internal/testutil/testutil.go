// Package testutil provides shared test utilities and fixtures.
//
// This package centralises the numeric comparisons used by the signal
// processing tests so tolerances are expressed the same way everywhere.
package testutil

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// ApproxComplex is a cmp option treating complex values within tol of each
// other as equal.
func ApproxComplex(tol float64) cmp.Option {
	return cmp.Comparer(func(a, b complex128) bool {
		return cmplx.Abs(a-b) <= tol
	})
}

// AssertSeriesClose fails the test when got and want differ in length or
// any element differs by more than tol.
func AssertSeriesClose(t *testing.T, want, got []complex128, tol float64) {
	t.Helper()
	if diff := cmp.Diff(want, got, ApproxComplex(tol)); diff != "" {
		t.Errorf("series mismatch (-want +got):\n%s", diff)
	}
}

// MeanPower returns the mean squared magnitude of x.
func MeanPower(x []complex128) float64 {
	if len(x) == 0 {
		return 0
	}
	var p float64
	for _, v := range x {
		p += real(v)*real(v) + imag(v)*imag(v)
	}
	return p / float64(len(x))
}

// Db converts a linear power ratio to decibels.
func Db(x float64) float64 {
	return 10 * math.Log10(x)
}
