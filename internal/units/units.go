// Package units holds the unit conversions used when reporting separated
// trips: speed units for velocities, and dB/linear power.
package units

import (
	"fmt"
	"math"
	"slices"
)

// Speed unit names accepted in configuration.
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	return slices.Contains(ValidUnits, unit)
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "mps, mph, kmph, kph"
}

// ParseSpeedUnit validates a configured unit name.
func ParseSpeedUnit(unit string) (string, error) {
	if !IsValid(unit) {
		return "", fmt.Errorf("invalid velocity unit %q (want one of %s)", unit, GetValidUnitsString())
	}
	return unit, nil
}

// ConvertSpeed converts a speed in m/s to the target units. Unknown units
// leave the value in m/s.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPH:
		return speedMPS * 2.2369362920544
	case KMPH, KPH:
		return speedMPS * 3.6
	default:
		return speedMPS
	}
}

// SpeedLabel returns a short column label for a unit.
func SpeedLabel(unit string) string {
	switch unit {
	case MPH:
		return "mph"
	case KMPH, KPH:
		return "km/h"
	default:
		return "m/s"
	}
}

// DbToLinear converts a dB value to a linear power ratio.
func DbToLinear(db float64) float64 {
	return math.Pow(10, db/10)
}

// LinearToDb converts a linear power ratio to dB. Non-positive input gives
// -Inf.
func LinearToDb(p float64) float64 {
	if p <= 0 {
		return math.Inf(-1)
	}
	return 10 * math.Log10(p)
}

// NyquistVelocity returns the unambiguous velocity in m/s for a wavelength
// in metres and a pulse repetition time in seconds.
func NyquistVelocity(wavelengthM, prtSecs float64) float64 {
	return wavelengthM / (4 * prtSecs)
}
