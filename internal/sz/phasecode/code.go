package phasecode

import (
	"fmt"
	"math/cmplx"
)

// AddCode applies code to in: dst[i] = in[i] * code[i]. dst may alias in.
func AddCode(dst, in, code []complex128) {
	mustMatch(dst, in, code)
	for i := range in {
		dst[i] = in[i] * code[i]
	}
}

// SubCode removes code from in: dst[i] = in[i] * conj(code[i]).
func SubCode(dst, in, code []complex128) {
	mustMatch(dst, in, code)
	for i := range in {
		dst[i] = in[i] * cmplx.Conj(code[i])
	}
}

// AddCodeTrip applies code delayed by trip-1 pulses, wrapping circularly.
func AddCodeTrip(dst, in, code []complex128, trip int) {
	mustMatch(dst, in, code)
	n := len(in)
	off := tripOffset(n, trip)
	for i := range in {
		dst[i] = in[i] * code[(i+off)%n]
	}
}

// SubCodeTrip removes code delayed by trip-1 pulses, wrapping circularly.
func SubCodeTrip(dst, in, code []complex128, trip int) {
	mustMatch(dst, in, code)
	n := len(in)
	off := tripOffset(n, trip)
	for i := range in {
		dst[i] = in[i] * cmplx.Conj(code[(i+off)%n])
	}
}

// CohereTrip1ToTrip2 re-coheres a trip-1 series to trip 2 using the
// interpulse phase delta: dst = src * delta12.
func CohereTrip1ToTrip2(dst, src, delta12 []complex128) {
	AddCode(dst, src, delta12)
}

// CohereTrip2ToTrip1 re-coheres a trip-2 series to trip 1:
// dst = src * conj(delta12).
func CohereTrip2ToTrip1(dst, src, delta12 []complex128) {
	SubCode(dst, src, delta12)
}

func tripOffset(n, trip int) int {
	return ((-(trip - 1))%n + n) % n
}

func mustMatch(dst, in, code []complex128) {
	if len(dst) != len(in) || len(code) != len(in) {
		panic(fmt.Sprintf("phasecode: length mismatch dst=%d in=%d code=%d", len(dst), len(in), len(code)))
	}
}
