package testutil

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestApproxComplex(t *testing.T) {
	t.Parallel()

	if !cmp.Equal([]complex128{1 + 1i}, []complex128{1 + 1.0000001i}, ApproxComplex(1e-6)) {
		t.Error("values within tolerance should compare equal")
	}
	if cmp.Equal([]complex128{1}, []complex128{1.1}, ApproxComplex(1e-6)) {
		t.Error("values outside tolerance should differ")
	}
}

func TestMeanPower(t *testing.T) {
	t.Parallel()

	if got := MeanPower([]complex128{3 + 4i, 0}); got != 12.5 {
		t.Errorf("MeanPower = %v, want 12.5", got)
	}
	if got := MeanPower(nil); got != 0 {
		t.Errorf("MeanPower(nil) = %v, want 0", got)
	}
	if got := Db(100); got != 20 {
		t.Errorf("Db(100) = %v, want 20", got)
	}
}
