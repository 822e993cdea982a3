// Package synth generates synthetic SZ(8/64) phase-coded dwells: a point
// target in each trip, optional zero-velocity clutter and white receiver
// noise. It backs the simulator and end-to-end tests.
package synth

import (
	"fmt"
	"math"
	"math/cmplx"
	"math/rand/v2"

	"github.com/banshee-data/sz864/internal/sz/moments"
	"github.com/banshee-data/sz864/internal/sz/phasecode"
	"github.com/banshee-data/sz864/internal/units"
)

// Target is a single-velocity echo. Power is in dBm (0 dBm = 1 mW of mean
// power per sample).
type Target struct {
	VelocityMps float64
	PowerDbm    float64
}

// Gate describes the echoes in one range gate. Nil targets are absent.
// Clutter, when present, is stationary and arrives in trip 1.
type Gate struct {
	Trip1      *Target
	Trip2      *Target
	ClutterDbm *float64
}

// Generator renders gates for one radar configuration. It owns a seeded
// random source and is not safe for concurrent use.
type Generator struct {
	codes      *phasecode.Table
	wavelength float64
	prtSecs    float64
	noiseMw    float64
	rng        *rand.Rand
}

// New returns a generator. noiseDbm of -Inf disables noise.
func New(codes *phasecode.Table, wavelengthM, prtSecs, noiseDbm float64, seed uint64) (*Generator, error) {
	if codes == nil {
		return nil, fmt.Errorf("synth: nil phase codes")
	}
	if !(wavelengthM > 0) || !(prtSecs > 0) {
		return nil, fmt.Errorf("synth: wavelength and prt must be positive, got %g and %g", wavelengthM, prtSecs)
	}
	return &Generator{
		codes:      codes,
		wavelength: wavelengthM,
		prtSecs:    prtSecs,
		noiseMw:    units.DbToLinear(noiseDbm),
		rng:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}, nil
}

// N returns the dwell length.
func (g *Generator) N() int { return g.codes.N() }

// Nyquist returns the unambiguous velocity in m/s.
func (g *Generator) Nyquist() float64 { return moments.Nyquist(g.wavelength, g.prtSecs) }

// Dwell renders gate cohered to trip 1, the way a receiver hands it to the
// separator: trip 1 is coherent and trip 2 carries conj(Mod12).
func (g *Generator) Dwell(gate Gate) []complex128 {
	n := g.N()
	mod12 := g.codes.Mod12()
	t1 := g.series(gate.Trip1)
	t2 := g.series(gate.Trip2)

	x := make([]complex128, n)
	for k := range x {
		x[k] = t1[k] + t2[k]*cmplx.Conj(mod12[k])
	}
	g.addClutterAndNoise(x, gate.ClutterDbm)
	return x
}

// Raw renders gate before any trip is cohered: each trip carries its own
// transmit code. Cohere2Trip on the result with the trip-1 code recovers
// trip 1.
func (g *Generator) Raw(gate Gate) []complex128 {
	n := g.N()
	c1, c2 := g.codes.Trip1(), g.codes.Trip2()
	t1 := g.series(gate.Trip1)
	t2 := g.series(gate.Trip2)

	x := make([]complex128, n)
	for k := range x {
		x[k] = t1[k]*c1[k] + t2[k]*c2[k]
	}
	if gate.ClutterDbm != nil {
		amp := math.Sqrt(units.DbToLinear(*gate.ClutterDbm))
		ph := g.rng.Float64() * 2 * math.Pi
		for k := range x {
			x[k] += cmplx.Rect(amp, ph) * c1[k]
		}
	}
	g.addClutterAndNoise(x, nil)
	return x
}

// Beam renders every gate with Dwell.
func (g *Generator) Beam(gates []Gate) [][]complex128 {
	out := make([][]complex128, len(gates))
	for i, gate := range gates {
		out[i] = g.Dwell(gate)
	}
	return out
}

func (g *Generator) series(t *Target) []complex128 {
	x := make([]complex128, g.N())
	if t == nil {
		return x
	}
	amp := math.Sqrt(units.DbToLinear(t.PowerDbm))
	dphi := math.Pi * t.VelocityMps / g.Nyquist()
	phi0 := g.rng.Float64() * 2 * math.Pi
	for k := range x {
		x[k] = cmplx.Rect(amp, phi0+dphi*float64(k))
	}
	return x
}

func (g *Generator) addClutterAndNoise(x []complex128, clutterDbm *float64) {
	if clutterDbm != nil {
		c := cmplx.Rect(math.Sqrt(units.DbToLinear(*clutterDbm)), g.rng.Float64()*2*math.Pi)
		for k := range x {
			x[k] += c
		}
	}
	if g.noiseMw > 0 {
		sd := math.Sqrt(g.noiseMw / 2)
		for k := range x {
			x[k] += complex(g.rng.NormFloat64()*sd, g.rng.NormFloat64()*sd)
		}
	}
}

// Dbm returns a pointer to v, for Gate.ClutterDbm literals.
func Dbm(v float64) *float64 { return &v }
