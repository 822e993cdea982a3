package clutter

import (
	"math"
	"math/cmplx"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sz864/internal/sz/moments"
	"github.com/banshee-data/sz864/internal/sz/spectral"
	"github.com/banshee-data/sz864/internal/sz/window"
)

const (
	testN          = 64
	testWavelength = 0.1068
	testPrt        = 1e-3
)

// dwell builds a signal at vel m/s with unit power, plus zero-velocity
// clutter clutterDb above it and a little white noise.
func dwell(vel, clutterDb float64, seed uint64) []complex128 {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	nyq := moments.Nyquist(testWavelength, testPrt)
	clutAmp := math.Sqrt(math.Pow(10, clutterDb/10))
	x := make([]complex128, testN)
	for k := range x {
		x[k] = cmplx.Rect(1, math.Pi*vel/nyq*float64(k)+0.3)
		if !math.IsInf(clutterDb, -1) {
			x[k] += cmplx.Rect(clutAmp, 0.7)
		}
		x[k] += complex(rng.NormFloat64(), rng.NormFloat64()) * 1e-3
	}
	return x
}

func windowedSpectrum(t *testing.T, x []complex128) ([]complex128, *spectral.Transform) {
	t.Helper()
	tr, err := spectral.New(testN)
	require.NoError(t, err)
	w, err := window.New(window.VonHann, testN)
	require.NoError(t, err)
	return tr.Forward(nil, w.Apply(nil, x)), tr
}

func TestParams_Validate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, DefaultParams().Validate())
	assert.NoError(t, DefaultSzParams().Validate())
	assert.Greater(t, DefaultSzParams().InitNotchWidth, DefaultParams().InitNotchWidth)

	bad := DefaultParams()
	bad.InitNotchWidth = 0
	_, err := NewFilter(bad)
	assert.Error(t, err)

	bad = DefaultParams()
	bad.MaxNotchWidth = 0.5
	assert.Error(t, bad.Validate())

	bad = DefaultParams()
	bad.MaxClutterVel = -1
	assert.Error(t, bad.Validate())
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "notch-located", NotchLocated.String())
	assert.Equal(t, "state(9)", State(9).String())
}

func TestFilterSpectrum_NoClutter(t *testing.T) {
	t.Parallel()

	spec, _ := windowedSpectrum(t, dwell(10, math.Inf(-1), 1))
	orig := append([]complex128(nil), spec...)

	f, err := NewFilter(DefaultSzParams())
	require.NoError(t, err)
	res := f.FilterSpectrum(spec, testPrt, testWavelength)

	assert.False(t, res.Found)
	assert.False(t, res.Filtered())
	assert.Equal(t, orig, spec)
	assert.Equal(t, Idle, f.State())
}

func TestFilterSpectrum_ClutterRemoved(t *testing.T) {
	t.Parallel()

	spec, _ := windowedSpectrum(t, dwell(10, 20, 2))
	before := moments.VelWidthFromFft(moments.Magnitudes(nil, spec), testWavelength, testPrt)
	assert.Less(t, math.Abs(before.Velocity.Or(99)), 1.0, "unfiltered estimate is pulled to zero")

	f, err := NewFilter(DefaultSzParams())
	require.NoError(t, err)
	res := f.FilterSpectrum(spec, testPrt, testWavelength)

	require.True(t, res.Filtered())
	assert.Equal(t, Filtered, f.State())
	assert.Less(t, res.NotchEnd, res.NotchStart, "notch straddles DC")
	assert.Equal(t, complex128(0), spec[0])
	assert.Greater(t, res.FractionRemoved, 0.9)
	assert.True(t, res.ClutterDb.Valid())

	f.Reset()
	assert.Equal(t, Idle, f.State())

	after := moments.VelWidthFromFft(moments.Magnitudes(nil, spec), testWavelength, testPrt)
	assert.InDelta(t, 10, after.Velocity.Or(math.NaN()), 0.3)
}

func TestFilterSpectrum_Skipped(t *testing.T) {
	t.Parallel()

	spec, _ := windowedSpectrum(t, dwell(10, 20, 3))
	orig := append([]complex128(nil), spec...)

	p := DefaultSzParams()
	p.InitNotchWidth = 30
	p.MaxNotchWidth = 60
	f, err := NewFilter(p)
	require.NoError(t, err)
	res := f.FilterSpectrum(spec, testPrt, testWavelength)

	assert.True(t, res.Found)
	assert.True(t, res.Skipped)
	assert.False(t, res.Filtered())
	assert.Greater(t, res.NotchWidth, testN/2)
	assert.Equal(t, orig, spec)
	assert.Equal(t, Idle, f.State())
}

func TestFilterSpectrum_DbForDbWidens(t *testing.T) {
	t.Parallel()

	x := dwell(15, 60, 4)
	tr, err := spectral.New(testN)
	require.NoError(t, err)

	width := func(ratio float64) int {
		p := DefaultSzParams()
		p.DbForDbRatio = ratio
		p.MaxNotchWidth = 25
		f, err := NewFilter(p)
		require.NoError(t, err)
		res := f.FilterSpectrum(tr.Forward(nil, x), testPrt, testWavelength)
		require.True(t, res.Found)
		return res.NotchWidth
	}

	narrow := width(0)
	wide := width(1)
	assert.Greater(t, wide, narrow)
	assert.LessOrEqual(t, float64(wide)*binWidth, 25.0)
}

const binWidth = testWavelength / (2 * testN * testPrt)

func TestFilterSpectrum_NotchCappedAtMaxWidth(t *testing.T) {
	t.Parallel()

	for name, p := range map[string]Params{"plain": DefaultParams(), "sz": DefaultSzParams()} {
		t.Run(name, func(t *testing.T) {
			spec, _ := windowedSpectrum(t, dwell(15, 60, 6))
			f, err := NewFilter(p)
			require.NoError(t, err)

			res := f.FilterSpectrum(spec, testPrt, testWavelength)
			require.True(t, res.Filtered())
			assert.LessOrEqual(t, float64(res.NotchWidth)*binWidth, p.MaxNotchWidth)
			assert.Equal(t, complex128(0), spec[0], "DC stays inside the notch")
		})
	}
}

func TestFilterSeries(t *testing.T) {
	t.Parallel()

	x := dwell(-12, 30, 5)
	tr, err := spectral.New(testN)
	require.NoError(t, err)
	f, err := NewFilter(DefaultParams())
	require.NoError(t, err)

	before := moments.ComputePower(x)
	res := f.FilterSeries(x, testPrt, testWavelength, tr)
	require.True(t, res.Filtered())
	assert.Equal(t, Idle, f.State())
	assert.InDelta(t, before-res.PowerRemoved, moments.ComputePower(x), 1e-9)

	vel, _ := moments.VelWidthFromTd(x, moments.Nyquist(testWavelength, testPrt))
	assert.InDelta(t, -12, vel.Or(math.NaN()), 0.5)
}

func TestFilterSpectrum_TooShort(t *testing.T) {
	t.Parallel()

	f, err := NewFilter(DefaultParams())
	require.NoError(t, err)
	res := f.FilterSpectrum(make([]complex128, 2), testPrt, testWavelength)
	assert.False(t, res.Found)
}
