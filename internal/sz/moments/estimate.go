package moments

import (
	"fmt"
	"math"
	"math/cmplx"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/sz864/internal/sz/spectral"
)

// Method selects how velocity and width are estimated from a trip series.
type Method int

const (
	// PulsePair uses the lag-one phase for velocity and the R1/R2 ratio for
	// width.
	PulsePair Method = iota
	// Spectral uses the first and second moments of the noise-subtracted
	// power spectrum around its peak.
	Spectral
)

func (m Method) String() string {
	switch m {
	case PulsePair:
		return "pulsepair"
	case Spectral:
		return "spectral"
	}
	return fmt.Sprintf("method(%d)", int(m))
}

// ParseMethod maps a config name to a Method.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pulsepair", "pp", "td":
		return PulsePair, nil
	case "spectral", "fft":
		return Spectral, nil
	}
	return PulsePair, fmt.Errorf("unknown moments method %q (want pulsepair or spectral)", s)
}

// Params carries the beam metadata an estimator needs.
type Params struct {
	Wavelength float64
	PrtSecs    float64
	// Transform is required by the spectral estimator; its size must match
	// the series length.
	Transform *spectral.Transform
}

// Estimate is the velocity and width of one trip series.
type Estimate struct {
	Velocity Value
	Width    Value
	// NoisePower is the spectral noise floor when the estimator measures
	// one.
	NoisePower Value
}

// Func estimates velocity and width from a time series.
type Func func(iq []complex128, p Params) Estimate

var estimators = map[Method]Func{
	PulsePair: func(iq []complex128, p Params) Estimate {
		vel, width := VelWidthFromTd(iq, Nyquist(p.Wavelength, p.PrtSecs))
		return Estimate{Velocity: vel, Width: width}
	},
	Spectral: func(iq []complex128, p Params) Estimate {
		if p.Transform == nil {
			panic("moments: spectral estimator needs a transform")
		}
		mag := Magnitudes(nil, p.Transform.Forward(nil, iq))
		return VelWidthFromFft(mag, p.Wavelength, p.PrtSecs)
	},
}

// Estimator returns the estimation function for m.
func Estimator(m Method) (Func, error) {
	f, ok := estimators[m]
	if !ok {
		return nil, fmt.Errorf("no estimator for %v", m)
	}
	return f, nil
}

// VelWidthFromTd is the pulse-pair estimator. Velocity is absent when the
// lag-one correlation vanishes; width is absent when either lag is zero.
func VelWidthFromTd(iq []complex128, nyquist float64) (vel, width Value) {
	n := float64(len(iq))
	if n < 3 {
		return None(), None()
	}
	a := Lag(iq, 1)
	b := Lag(iq, 2)

	if a != 0 {
		vel = Some(nyquist / math.Pi * cmplx.Phase(a))
	}

	r1 := cmplx.Abs(a) / n
	r2 := cmplx.Abs(b) / n
	if r1 > 0 && r2 > 0 {
		fac := 2 * nyquist / (math.Pi * math.Sqrt(6))
		width = Some(fac * math.Sqrt(math.Abs(math.Log(r1/r2))))
	}
	return vel, width
}

// noiseRunLength is the number of consecutive sub-threshold bins that ends
// the walk out from the spectral peak.
const noiseRunLength = 3

// VelWidthFromFft estimates velocity and width from an unshifted magnitude
// spectrum. The power spectrum is rotated so its peak sits at N/2, the noise
// floor is measured from the spectrum edges, and the moments are taken over
// the contiguous region around the peak that stays above noise mean plus one
// standard deviation.
func VelWidthFromFft(mag []float64, wavelength, prtSecs float64) Estimate {
	n := len(mag)
	if n < 8 {
		return Estimate{}
	}
	kCent := n / 2
	kMax := floats.MaxIdx(mag)
	if kMax >= kCent {
		kMax -= n
	}
	kOffset := kCent - kMax

	centred := make([]float64, n)
	for i, m := range mag {
		centred[(i+kOffset)%n] = m * m
	}

	noiseMean, noiseSdev := ComputeSpectralNoise(centred)
	threshold := noiseMean + noiseSdev

	kStart := kCent - 1
	count := 0
	for i := kCent - 1; i >= 0; i-- {
		if centred[i] < threshold {
			count++
			if count >= noiseRunLength {
				break
			}
		} else {
			count = 0
		}
		kStart = i
	}

	kEnd := kCent + 1
	count = 0
	for i := kCent + 1; i < n; i++ {
		if centred[i] < threshold {
			count++
			if count >= noiseRunLength {
				break
			}
		} else {
			count = 0
		}
		kEnd = i
	}

	var sumP, sumK, sumK2 float64
	for k := kStart; k <= kEnd; k++ {
		p := centred[k] - noiseMean
		if p < 0 {
			p = 0
		}
		fk := float64(k)
		sumP += p
		sumK += p * fk
		sumK2 += p * fk * fk
	}

	est := Estimate{NoisePower: Some(noiseMean)}
	if sumP <= 0 {
		return est
	}
	meanK := sumK / sumP
	sdevK := 0.0
	if v := sumK2/sumP - meanK*meanK; v > 0 {
		sdevK = math.Sqrt(v)
	}

	velFac := wavelength / (2 * float64(n) * prtSecs)
	est.Velocity = Some(velFac * (meanK - float64(kOffset)))
	est.Width = Some(velFac * sdevK)
	return est
}

// ComputeSpectralNoise estimates the noise floor of a peak-centred power
// spectrum as the quietest of three edge regions: both outer eighths
// together, the lower quarter, and the upper quarter. It returns the mean
// and population standard deviation of that region.
func ComputeSpectralNoise(powerCentred []float64) (mean, sdev float64) {
	n := len(powerCentred)
	n4 := n / 4
	n8 := n / 8
	if n8 == 0 {
		return stat.PopMeanStdDev(powerCentred, nil)
	}

	ends := make([]float64, 0, 2*n8)
	ends = append(ends, powerCentred[:n8]...)
	ends = append(ends, powerCentred[n-n8:]...)

	mEnds, sEnds := stat.PopMeanStdDev(ends, nil)
	mLow, sLow := stat.PopMeanStdDev(powerCentred[:n4], nil)
	mHigh, sHigh := stat.PopMeanStdDev(powerCentred[n-n4:], nil)

	switch {
	case mEnds < mLow && mEnds < mHigh:
		return mEnds, sEnds
	case mLow < mHigh:
		return mLow, sLow
	}
	return mHigh, sHigh
}
