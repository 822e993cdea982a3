package sz

import (
	"fmt"
	"io"
	"math"
	"math/cmplx"
)

// PrintComplex writes one line per sample: index, I, Q, magnitude and phase
// in degrees.
func PrintComplex(w io.Writer, label string, x []complex128) error {
	if _, err := fmt.Fprintf(w, "---- %s (%d) ----\n", label, len(x)); err != nil {
		return err
	}
	for i, v := range x {
		deg := cmplx.Phase(v) * 180 / math.Pi
		if _, err := fmt.Fprintf(w, "%4d %12.6g %12.6g %12.6g %8.2f\n", i, real(v), imag(v), cmplx.Abs(v), deg); err != nil {
			return err
		}
	}
	return nil
}

// PrintVector writes one line per element.
func PrintVector(w io.Writer, label string, x []float64) error {
	if _, err := fmt.Fprintf(w, "---- %s (%d) ----\n", label, len(x)); err != nil {
		return err
	}
	for i, v := range x {
		if _, err := fmt.Fprintf(w, "%4d %12.6g\n", i, v); err != nil {
			return err
		}
	}
	return nil
}

// Print writes a one-gate summary.
func (r *GateResult) Print(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "strong=%d total=%v dBm ratio=%v dB leakage=%v notch=%d\n",
		r.StrongTrip, r.TotalPowerDbm, r.StrongToWeakDb, r.Leakage, r.NotchStart); err != nil {
		return err
	}
	for _, e := range []*TripEstimate{&r.Trip1, &r.Trip2} {
		if _, err := fmt.Fprintf(w, "  trip %d: power=%v dBm vel=%v width=%v flags=%v clutter=%v\n",
			e.Trip, e.PowerDbm, e.Velocity, e.Width, e.Flags, e.Clutter.Filtered()); err != nil {
			return err
		}
	}
	return nil
}
