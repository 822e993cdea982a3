package moments

import (
	"math"
	"math/cmplx"
)

// ComputePower returns the mean power of a time series or spectrum.
func ComputePower(iq []complex128) float64 {
	if len(iq) == 0 {
		return 0
	}
	var p float64
	for _, v := range iq {
		p += real(v)*real(v) + imag(v)*imag(v)
	}
	return p / float64(len(iq))
}

// AdjustPower rescales iq in place so its mean power equals target. A series
// with no power, or a non-positive target, is zeroed.
func AdjustPower(iq []complex128, target float64) {
	p := ComputePower(iq)
	if !(p > 0) || !(target > 0) {
		for i := range iq {
			iq[i] = 0
		}
		return
	}
	s := complex(math.Sqrt(target/p), 0)
	for i := range iq {
		iq[i] *= s
	}
}

// Magnitudes writes |x[i]| into dst, allocating when dst is nil.
func Magnitudes(dst []float64, x []complex128) []float64 {
	if dst == nil {
		dst = make([]float64, len(x))
	}
	for i, v := range x {
		dst[i] = cmplx.Abs(v)
	}
	return dst
}

// Lag returns the unnormalised autocorrelation sum(conj(x[i]) * x[i+lag]).
func Lag(iq []complex128, lag int) complex128 {
	var s complex128
	for i := 0; i+lag < len(iq); i++ {
		s += cmplx.Conj(iq[i]) * iq[i+lag]
	}
	return s
}

// R1 returns the magnitude of the lag-one autocorrelation, normalised by N.
func R1(iq []complex128) float64 {
	if len(iq) == 0 {
		return 0
	}
	return cmplx.Abs(Lag(iq, 1)) / float64(len(iq))
}

// Nyquist returns the unambiguous velocity in m/s.
func Nyquist(wavelength, prtSecs float64) float64 {
	return wavelength / (4 * prtSecs)
}

// WrapPhase folds a phase into (-pi, pi] with at most one 2*pi correction.
// Callers combine at most two wrapped terms, so a second correction would
// indicate an upstream bug.
func WrapPhase(x float64) float64 {
	switch {
	case x > math.Pi:
		return x - 2*math.Pi
	case x <= -math.Pi:
		return x + 2*math.Pi
	}
	return x
}
