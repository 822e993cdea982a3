// Package diag renders separated gates for inspection: Doppler spectra as
// text, PNG plots and interactive HTML charts, and per-gate beam tables.
package diag

import (
	"errors"
	"fmt"
	"io"
	"math"
	"math/cmplx"

	"github.com/banshee-data/sz864/internal/sz"
	"github.com/banshee-data/sz864/internal/sz/spectral"
	"github.com/banshee-data/sz864/internal/units"
)

// FloorDb is the lowest power drawn, relative to the strongest bin across
// the spectra being rendered.
const FloorDb = -120.0

// ErrNoSpectra is returned when there is nothing to render.
var ErrNoSpectra = errors.New("diag: no spectra")

// Spectrum is a DC-centred Doppler power spectrum.
type Spectrum struct {
	Label string
	// VelocityMps holds each bin's centre velocity, ascending from
	// -Nyquist.
	VelocityMps []float64
	// Power holds the linear power per bin.
	Power []float64
}

// SpectrumOf transforms a time series into a DC-centred spectrum.
func SpectrumOf(label string, iq []complex128, nyquist float64) (Spectrum, error) {
	tr, err := spectral.New(len(iq))
	if err != nil {
		return Spectrum{}, fmt.Errorf("spectrum %s: %w", label, err)
	}
	spec := tr.Forward(nil, iq)
	spectral.Shift(spec)

	n := len(spec)
	s := Spectrum{
		Label:       label,
		VelocityMps: make([]float64, n),
		Power:       make([]float64, n),
	}
	dv := 2 * nyquist / float64(n)
	for k, c := range spec {
		s.VelocityMps[k] = float64(k-n/2) * dv
		a := cmplx.Abs(c)
		s.Power[k] = a * a
	}
	return s, nil
}

// GateSpectra returns the spectra of a gate's decoded trip-1 and trip-2
// series.
func GateSpectra(res *sz.GateResult, nyquist float64) ([]Spectrum, error) {
	if res == nil {
		return nil, ErrNoSpectra
	}
	s1, err := SpectrumOf("trip 1", res.Trip1Series, nyquist)
	if err != nil {
		return nil, err
	}
	s2, err := SpectrumOf("trip 2", res.Trip2Series, nyquist)
	if err != nil {
		return nil, err
	}
	return []Spectrum{s1, s2}, nil
}

// relativeDb converts every spectrum to dB relative to the strongest bin
// across all of them, clamped at FloorDb.
func relativeDb(spectra []Spectrum) [][]float64 {
	var peak float64
	for _, s := range spectra {
		for _, p := range s.Power {
			peak = max(peak, p)
		}
	}
	out := make([][]float64, len(spectra))
	for i, s := range spectra {
		out[i] = make([]float64, len(s.Power))
		for k, p := range s.Power {
			db := FloorDb
			if peak > 0 {
				db = max(units.LinearToDb(p/peak), FloorDb)
			}
			out[i][k] = db
		}
	}
	return out
}

func checkSpectra(spectra []Spectrum) error {
	if len(spectra) == 0 || len(spectra[0].Power) == 0 {
		return ErrNoSpectra
	}
	n := len(spectra[0].Power)
	for _, s := range spectra[1:] {
		if len(s.Power) != n {
			return fmt.Errorf("diag: spectrum %q has %d bins, %q has %d", s.Label, len(s.Power), spectra[0].Label, n)
		}
	}
	return nil
}

// WriteSpectraText writes one row per bin: velocity, then each spectrum's
// relative power in dB.
func WriteSpectraText(w io.Writer, spectra []Spectrum) error {
	if err := checkSpectra(spectra); err != nil {
		return err
	}
	db := relativeDb(spectra)
	if _, err := fmt.Fprintf(w, "%9s", "vel"); err != nil {
		return err
	}
	for _, s := range spectra {
		if _, err := fmt.Fprintf(w, " %9s", s.Label); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}
	for k, v := range spectra[0].VelocityMps {
		if _, err := fmt.Fprintf(w, "%9.3f", v); err != nil {
			return err
		}
		for i := range spectra {
			if _, err := fmt.Fprintf(w, " %9.2f", db[i][k]); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}

// peakVelocity returns the velocity of the strongest bin, or NaN for an
// empty spectrum.
func peakVelocity(s Spectrum) float64 {
	best, v := -1.0, math.NaN()
	for k, p := range s.Power {
		if p > best {
			best, v = p, s.VelocityMps[k]
		}
	}
	return v
}
