package sz

import (
	"github.com/banshee-data/sz864/internal/sz/censor"
	"github.com/banshee-data/sz864/internal/sz/clutter"
	"github.com/banshee-data/sz864/internal/sz/moments"
)

// TripEstimate is one trip's moments and censoring verdict for a gate.
type TripEstimate struct {
	Trip     int
	Power    moments.Value // mW
	PowerDbm moments.Value
	Velocity moments.Value // m/s
	Width    moments.Value // m/s
	Flags    censor.Flags
	Clutter  clutter.Result
}

// Usable reports whether the trip passed every censoring test.
func (e TripEstimate) Usable() bool { return !e.Flags.Censored() }

// GateResult is the separated, censored output for one gate.
type GateResult struct {
	Trip1 TripEstimate
	Trip2 TripEstimate

	// Trip1Series and Trip2Series are the decoded, clutter-filtered time
	// series, each cohered to its own trip. Both are zero when the gate
	// failed the SNR test.
	Trip1Series []complex128
	Trip2Series []complex128

	// StrongTrip is 1 or 2, or 0 when decoding was skipped.
	StrongTrip int

	TotalPowerDbm  moments.Value
	StrongToWeakDb moments.Value
	// Leakage is the mean of the smallest replica peaks relative to the
	// deconvolved weak-trip peak.
	Leakage moments.Value
	// ReplicaPeaksDb holds the six smallest secondary peaks of the
	// deconvolved weak-trip spectrum, relative to its primary peak.
	ReplicaPeaksDb []float64
	// NotchStart is the first bin of the strong-trip notch.
	NotchStart int
}

// Strong returns the strong trip's estimate.
func (r *GateResult) Strong() *TripEstimate {
	if r.StrongTrip == 2 {
		return &r.Trip2
	}
	return &r.Trip1
}

// Weak returns the weak trip's estimate.
func (r *GateResult) Weak() *TripEstimate {
	if r.StrongTrip == 2 {
		return &r.Trip1
	}
	return &r.Trip2
}

// Decoded reports whether the gate went through the trip decode.
func (r *GateResult) Decoded() bool { return r.StrongTrip != 0 }
