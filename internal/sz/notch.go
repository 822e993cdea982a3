package sz

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/sz864/internal/sz/moments"
)

// ComputeNotchStart returns the first bin of a notchWidth-bin notch centred
// on the spectral bin of vel. The result may be negative; notch helpers
// index circularly.
func ComputeNotchStart(notchWidth int, vel, prtSecs, wavelength float64, n int) int {
	nyq := moments.Nyquist(wavelength, prtSecs)
	d := math.Mod(vel/(2*nyq)+1, 1) * float64(n)
	half := notchWidth / 2
	var peak int
	if notchWidth%2 == 0 {
		peak = int(d + 0.5)
	} else {
		peak = int(d)
	}
	return peak - half
}

// AdjustNotchForClutter moves a notch of notchWidth bins starting at
// notchStart by the smallest circular shift that makes it cover the clutter
// notch [clutStart, clutEnd]. clutEnd may be below clutStart when the clutter
// notch straddles DC. A clutter notch wider than the strong-trip notch
// cannot be covered and leaves notchStart unchanged.
func AdjustNotchForClutter(clutStart, clutEnd, notchWidth, notchStart, n int) int {
	clutWidth := mod(clutEnd-clutStart, n) + 1
	if clutWidth > notchWidth {
		return notchStart
	}
	offset := mod(clutStart-notchStart, n)
	if offset+clutWidth <= notchWidth {
		return notchStart
	}
	forward := offset + clutWidth - notchWidth
	back := n - offset
	if forward <= back {
		return notchStart + forward
	}
	return notchStart - back
}

func mod(a, n int) int {
	return (a%n + n) % n
}

// replicaSlots is the number of spectral replicas an SZ(8/64) code spreads
// the other trip into.
const replicaSlots = 8

// replicaProfile locates the primary peak of a deconvolved magnitude
// spectrum and the peak of each of the seven replica slots around it. It
// returns the six smallest secondary peaks in dB relative to the primary,
// and the leakage: the mean of the nReplicas smallest peaks over the
// primary.
func replicaProfile(mag []float64, nReplicas int) ([]float64, moments.Value) {
	n := len(mag)
	kMax := floats.MaxIdx(mag)
	maxMag := mag[kMax]
	if !(maxMag > 0) {
		return nil, moments.None()
	}

	peaks := make([]float64, replicaSlots)
	peaks[0] = maxMag
	binWidth := n / replicaSlots
	kStart := kMax + n/16
	for i := 1; i < replicaSlots; i++ {
		var peak float64
		for k := 0; k < binWidth; k++ {
			if v := mag[(kStart+k)%n]; v > peak {
				peak = v
			}
		}
		peaks[i] = peak
		kStart += binWidth
	}
	sort.Float64s(peaks)
	primary := peaks[replicaSlots-1]

	db := make([]float64, replicaSlots-2)
	for i := range db {
		if peaks[i] > 0 {
			db[i] = 10 * math.Log10(peaks[i]/primary)
		} else {
			db[i] = math.Inf(-1)
		}
	}

	nReplicas = min(max(nReplicas, 1), replicaSlots)
	var sum float64
	for _, p := range peaks[:nReplicas] {
		sum += p
	}
	return db, moments.Some(sum / float64(nReplicas) / primary)
}
