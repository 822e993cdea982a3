// Package censor decides, per gate and trip, whether an estimate is usable.
//
// Evaluation is a pure function of the evidence and the thresholds; a
// censored gate is reported with its flags and never aborts a beam.
package censor

import (
	"fmt"
	"math"
	"strings"

	"github.com/banshee-data/sz864/internal/sz/moments"
)

// Flags is a bitmask of censoring reasons.
type Flags uint8

const (
	CensorOnSnr        Flags = 1
	CensorOnPowerRatio Flags = 2
	CensorOnReplicas   Flags = 4
)

// Has reports whether every bit in f2 is set.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 && f2 != 0 }

// Censored reports whether any reason is set.
func (f Flags) Censored() bool { return f != 0 }

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	if f&CensorOnSnr != 0 {
		parts = append(parts, "snr")
	}
	if f&CensorOnPowerRatio != 0 {
		parts = append(parts, "power-ratio")
	}
	if f&CensorOnReplicas != 0 {
		parts = append(parts, "replicas")
	}
	return strings.Join(parts, "|")
}

// Thresholds configures the censoring tests. All ratios are in dB.
type Thresholds struct {
	NoiseDbm              float64
	SnrThresholdDb        float64
	StrongToWeakDb        float64
	OutOfTripPowerRatioDb float64
	OutOfTripNReplicas    int
}

// DefaultThresholds returns the operational defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		NoiseDbm:              -113,
		SnrThresholdDb:        3,
		StrongToWeakDb:        45,
		OutOfTripPowerRatioDb: 6,
		OutOfTripNReplicas:    3,
	}
}

// Validate checks the thresholds for internal consistency.
func (t Thresholds) Validate() error {
	if t.OutOfTripNReplicas < 1 || t.OutOfTripNReplicas > MaxReplicaCount {
		return fmt.Errorf("out-of-trip replica count must be between 1 and %d, got %d", MaxReplicaCount, t.OutOfTripNReplicas)
	}
	for name, v := range map[string]float64{
		"noise_dbm":         t.NoiseDbm,
		"snr_threshold_db":  t.SnrThresholdDb,
		"strong_to_weak_db": t.StrongToWeakDb,
		"out_of_trip_db":    t.OutOfTripPowerRatioDb,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s must be finite, got %v", name, v)
		}
	}
	return nil
}

// MaxReplicaCount is the number of secondary peaks a replica profile holds.
const MaxReplicaCount = 6

// Evidence is what one trip's estimate contributes to the decision.
type Evidence struct {
	// PowerDbm is the trip power. Absent power fails the SNR test.
	PowerDbm moments.Value
	// Weak marks the weaker trip of a gate; only it is tested for power
	// ratio and replicas.
	Weak bool
	// StrongToWeakDb is the strong-trip to weak-trip power ratio.
	StrongToWeakDb moments.Value
	// ReplicaPeaksDb holds the secondary spectral peaks relative to the
	// primary, in dB (non-positive).
	ReplicaPeaksDb []float64
}

// Policy evaluates evidence against fixed thresholds.
type Policy struct {
	th Thresholds
}

// NewPolicy returns a policy for th.
func NewPolicy(th Thresholds) (Policy, error) {
	if err := th.Validate(); err != nil {
		return Policy{}, err
	}
	return Policy{th: th}, nil
}

// Thresholds returns the policy configuration.
func (p Policy) Thresholds() Thresholds { return p.th }

// Evaluate returns the censoring flags for ev.
func (p Policy) Evaluate(ev Evidence) Flags {
	var f Flags

	if dbm, ok := ev.PowerDbm.Get(); !ok || dbm < p.th.NoiseDbm+p.th.SnrThresholdDb {
		f |= CensorOnSnr
	}
	if !ev.Weak {
		return f
	}

	if ratio, ok := ev.StrongToWeakDb.Get(); ok && ratio > p.th.StrongToWeakDb {
		f |= CensorOnPowerRatio
	}
	if p.ReplicaCount(ev.ReplicaPeaksDb) >= p.th.OutOfTripNReplicas {
		f |= CensorOnReplicas
	}
	return f
}

// ReplicaCount returns how many secondary peaks lie within the out-of-trip
// power ratio of the primary peak.
func (p Policy) ReplicaCount(peaksDb []float64) int {
	count := 0
	for _, db := range peaksDb {
		if db > -p.th.OutOfTripPowerRatioDb {
			count++
		}
	}
	return count
}
