// Package clutter locates and notches near-zero-velocity clutter in a
// Doppler spectrum.
package clutter

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/sz864/internal/sz/moments"
	"github.com/banshee-data/sz864/internal/sz/spectral"
)

// Params configures the notch search. Velocities and widths are in m/s.
type Params struct {
	// MaxClutterVel is how far from DC the spectral peak may sit and still
	// be treated as clutter.
	MaxClutterVel float64
	// InitNotchWidth is the notch width before widening.
	InitNotchWidth float64
	// MaxNotchWidth caps the widened notch.
	MaxNotchWidth float64
	// DbForDbRatio is the number of bins added on each side per dB of
	// clutter above DbForDbThreshold.
	DbForDbRatio     float64
	DbForDbThreshold float64
}

// DefaultParams returns the notch used on undecoded, single-trip data.
func DefaultParams() Params {
	return Params{
		MaxClutterVel:    1.0,
		InitNotchWidth:   1.5,
		MaxNotchWidth:    16.0,
		DbForDbRatio:     0.2,
		DbForDbThreshold: 30,
	}
}

// DefaultSzParams returns the notch used on SZ-decoded trips.
func DefaultSzParams() Params {
	p := DefaultParams()
	p.MaxClutterVel = 2.0
	p.InitNotchWidth = 2.5
	return p
}

// Validate checks that the parameters describe a usable notch.
func (p Params) Validate() error {
	if p.MaxClutterVel < 0 {
		return fmt.Errorf("max clutter velocity must be non-negative, got %f", p.MaxClutterVel)
	}
	if p.InitNotchWidth <= 0 {
		return fmt.Errorf("initial notch width must be positive, got %f", p.InitNotchWidth)
	}
	if p.MaxNotchWidth < p.InitNotchWidth {
		return fmt.Errorf("max notch width %f is below initial notch width %f", p.MaxNotchWidth, p.InitNotchWidth)
	}
	if p.DbForDbRatio < 0 {
		return fmt.Errorf("dB-for-dB ratio must be non-negative, got %f", p.DbForDbRatio)
	}
	return nil
}

// State is the filter's position in the per-dwell cycle.
type State int

const (
	Idle State = iota
	SpectrumReady
	NotchLocated
	Filtered
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case SpectrumReady:
		return "spectrum-ready"
	case NotchLocated:
		return "notch-located"
	case Filtered:
		return "filtered"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Result describes what one filtering pass did.
type Result struct {
	// Found is set when the spectral peak lay within MaxClutterVel of DC.
	Found bool
	// Skipped is set when the notch would have covered more than half the
	// spectrum; the spectrum is then left untouched.
	Skipped bool
	// NotchStart and NotchEnd are inclusive, unshifted bin indices. NotchEnd
	// is below NotchStart when the notch straddles DC.
	NotchStart int
	NotchEnd   int
	NotchWidth int
	// ClutterDb is the clutter peak relative to the mean power outside the
	// notch.
	ClutterDb moments.Value
	// PowerRemoved is the mean power zeroed by the notch; FractionRemoved is
	// its share of the input power.
	PowerRemoved    float64
	FractionRemoved float64
}

// Filtered reports whether the notch was applied.
func (r Result) Filtered() bool { return r.Found && !r.Skipped }

// Filter runs the notch search. It keeps scratch space and is owned by one
// worker.
type Filter struct {
	params Params
	state  State
	power  []float64
}

// NewFilter returns a filter for p.
func NewFilter(p Params) (*Filter, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Filter{params: p}, nil
}

// Params returns the filter configuration.
func (f *Filter) Params() Params { return f.params }

// State returns the current cycle state.
func (f *Filter) State() State { return f.state }

// Reset returns the filter to Idle once the caller has consumed a filtered
// spectrum.
func (f *Filter) Reset() { f.state = Idle }

// FilterSpectrum notches clutter in an unshifted spectrum in place.
func (f *Filter) FilterSpectrum(spec []complex128, prtSecs, wavelength float64) Result {
	n := len(spec)
	if n < 4 {
		f.state = Idle
		return Result{}
	}
	if cap(f.power) < n {
		f.power = make([]float64, n)
	}
	p := f.power[:n]
	for i, v := range spec {
		p[i] = real(v)*real(v) + imag(v)*imag(v)
	}
	spectral.Shift(p)
	f.state = SpectrumReady

	dv := wavelength / (2 * float64(n) * prtSecs)
	centre := n / 2
	peak := floats.MaxIdx(p)
	if !(p[peak] > 0) || math.Abs(float64(peak-centre))*dv > f.params.MaxClutterVel {
		f.state = Idle
		return Result{}
	}

	lo, hi := f.locate(p, centre, peak, dv)
	f.state = NotchLocated

	res := Result{Found: true, NotchWidth: hi - lo + 1}
	res.ClutterDb = clutterDb(p, peak, lo, hi)

	// Shifted index j holds unshifted bin (j+h)%n.
	h := n - n/2
	res.NotchStart = (lo + h) % n
	res.NotchEnd = (hi + h) % n

	if res.NotchWidth > n/2 {
		res.Skipped = true
		f.state = Idle
		return res
	}

	total := moments.ComputePower(spec)
	var removed float64
	for j := lo; j <= hi; j++ {
		k := (j + h) % n
		removed += p[j]
		spec[k] = 0
	}
	res.PowerRemoved = removed / float64(n)
	if total > 0 {
		res.FractionRemoved = res.PowerRemoved / total
	}
	f.state = Filtered
	return res
}

// FilterSeries transforms iq, notches clutter and transforms back in place.
func (f *Filter) FilterSeries(iq []complex128, prtSecs, wavelength float64, tr *spectral.Transform) Result {
	spec := tr.Forward(nil, iq)
	res := f.FilterSpectrum(spec, prtSecs, wavelength)
	if res.Filtered() {
		tr.Inverse(iq, spec)
	}
	f.Reset()
	return res
}

// locate returns the inclusive shifted notch bounds.
func (f *Filter) locate(p []float64, centre, peak int, dv float64) (lo, hi int) {
	n := len(p)
	half := int(math.Round(f.params.InitNotchWidth / 2 / dv))
	if half < 1 {
		half = 1
	}
	lo = max(0, min(centre, peak)-half)
	hi = min(n-1, max(centre, peak)+half)

	// Follow the clutter skirt while it keeps falling.
	for lo > 0 && p[lo-1] < p[lo] {
		lo--
	}
	for hi < n-1 && p[hi+1] < p[hi] {
		hi++
	}

	if db, ok := clutterDb(p, peak, lo, hi).Get(); ok && db > f.params.DbForDbThreshold {
		extra := int((db - f.params.DbForDbThreshold) * f.params.DbForDbRatio)
		lo = max(0, lo-extra)
		hi = min(n-1, hi+extra)
	}

	// The whole notch, not each side, is capped at MaxNotchWidth. Trim the
	// side farther from DC first so the notch keeps covering it.
	maxBins := max(1, int(f.params.MaxNotchWidth/dv))
	for hi-lo+1 > maxBins {
		if hi-centre > centre-lo {
			hi--
		} else {
			lo++
		}
	}
	return lo, hi
}

func clutterDb(p []float64, peak, lo, hi int) moments.Value {
	var sum float64
	count := 0
	for i, v := range p {
		if i < lo || i > hi {
			sum += v
			count++
		}
	}
	if count == 0 {
		return moments.None()
	}
	return moments.RatioDb(moments.Some(p[peak]), moments.Some(sum/float64(count)))
}
