// Package phasecode generates the SZ(8/64) switching codes used to diplex
// two trips onto one receive channel, and the code arithmetic that removes or
// re-applies them.
package phasecode

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
)

// UnitTolerance bounds |code[i]| - 1 for a valid table.
const UnitTolerance = 1e-12

// ErrInvalidLength is returned for code lengths that cannot carry an 8-state
// SZ code.
var ErrInvalidLength = errors.New("phasecode: length must be a positive multiple of 8")

// Table holds the immutable codes for one dwell length. Slices returned by
// its accessors are shared and must not be modified.
type Table struct {
	n      int
	negate bool

	trip1     []complex128
	trip2     []complex128
	trip1Conj []complex128
	trip2Conj []complex128
	mod12     []complex128
	mod21     []complex128
}

// Generate builds the SZ(8/64) code table for n pulses. The trip-1 phase
// advances by pi*8*k^2/n on pulse k; trip 2 sees the same code delayed by one
// pulse. negate flips the sign of every phase increment to match radars with
// the opposite transmit convention.
func Generate(n int, negate bool) (*Table, error) {
	if n <= 0 || n%8 != 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLength, n)
	}

	t := &Table{
		n:         n,
		negate:    negate,
		trip1:     make([]complex128, n),
		trip2:     make([]complex128, n),
		trip1Conj: make([]complex128, n),
		trip2Conj: make([]complex128, n),
		mod12:     make([]complex128, n),
		mod21:     make([]complex128, n),
	}

	ratio := 8.0 / float64(n)
	angle := 0.0
	for k := 0; k < n; k++ {
		delta := float64(k*k) * ratio * math.Pi
		if negate {
			delta = -delta
		}
		angle = math.Mod(angle+delta, 2*math.Pi)
		t.trip1[k] = cmplx.Rect(1, angle)
	}

	for k := 0; k < n; k++ {
		t.trip2[k] = t.trip1[(k-1+n)%n]
		t.trip1Conj[k] = cmplx.Conj(t.trip1[k])
		t.trip2Conj[k] = cmplx.Conj(t.trip2[k])
		t.mod12[k] = t.trip1[k] * t.trip2Conj[k]
		t.mod21[k] = cmplx.Conj(t.mod12[k])
	}

	if err := t.CheckUnitMagnitude(UnitTolerance); err != nil {
		return nil, err
	}
	return t, nil
}

// N returns the code length.
func (t *Table) N() int { return t.n }

// Negated reports whether the table was built with negated phase increments.
func (t *Table) Negated() bool { return t.negate }

// Trip1 returns the trip-1 switching code.
func (t *Table) Trip1() []complex128 { return t.trip1 }

// Trip2 returns the trip-2 switching code.
func (t *Table) Trip2() []complex128 { return t.trip2 }

// Trip1Conj returns the conjugate trip-1 code.
func (t *Table) Trip1Conj() []complex128 { return t.trip1Conj }

// Trip2Conj returns the conjugate trip-2 code.
func (t *Table) Trip2Conj() []complex128 { return t.trip2Conj }

// Mod12 returns trip1 * conj(trip2), the modulation trip 2 carries once the
// data are cohered to trip 1. An ideal transmitter's interpulse phase delta
// equals this code.
func (t *Table) Mod12() []complex128 { return t.mod12 }

// Mod21 returns conj(Mod12).
func (t *Table) Mod21() []complex128 { return t.mod21 }

// CheckUnitMagnitude returns an error naming the first element whose
// magnitude differs from 1 by more than tol.
func (t *Table) CheckUnitMagnitude(tol float64) error {
	named := []struct {
		name string
		code []complex128
	}{
		{"trip1", t.trip1},
		{"trip2", t.trip2},
		{"mod12", t.mod12},
		{"mod21", t.mod21},
	}
	for _, c := range named {
		for i, v := range c.code {
			if d := math.Abs(cmplx.Abs(v) - 1); d > tol {
				return fmt.Errorf("phasecode: %s[%d] magnitude off unity by %g", c.name, i, d)
			}
		}
	}
	return nil
}
