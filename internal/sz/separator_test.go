package sz

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/sz864/internal/monitoring"
	"github.com/banshee-data/sz864/internal/sz/censor"
	"github.com/banshee-data/sz864/internal/sz/clutter"
	"github.com/banshee-data/sz864/internal/sz/deconv"
	"github.com/banshee-data/sz864/internal/sz/moments"
	"github.com/banshee-data/sz864/internal/sz/window"
	"github.com/banshee-data/sz864/internal/testutil"
)

const (
	testN   = 64
	testPrt = 1e-3
	// velTol is a little over half a spectral bin at the test PRT.
	velTol = 0.534
)

// gate describes a synthetic dwell: two trips, optional zero-velocity
// clutter on trip 1, and white noise. Powers are linear mW.
type gate struct {
	v1, p1  float64
	v2, p2  float64
	clutter float64
	noise   float64
	seed    uint64
	// broad2 replaces the trip-2 sinusoid with white noise of power p2.
	broad2 bool
}

// iq returns the dwell as received, cohered to trip 1.
func (g gate) iq(tables *Tables) []complex128 {
	rng := rand.New(rand.NewPCG(g.seed, g.seed^0x5a5a))
	nyq := moments.Nyquist(DefaultWavelength, testPrt)
	mod12 := tables.Codes().Mod12()
	a1, a2 := math.Sqrt(g.p1), math.Sqrt(g.p2)
	ac, an := math.Sqrt(g.clutter), math.Sqrt(g.noise/2)

	x := make([]complex128, tables.N())
	for k := range x {
		s1 := cmplx.Rect(a1, math.Pi*g.v1/nyq*float64(k)+0.3)
		s2 := cmplx.Rect(a2, math.Pi*g.v2/nyq*float64(k)+1.1)
		if g.broad2 {
			s2 = complex(rng.NormFloat64(), rng.NormFloat64()) * complex(a2/math.Sqrt2, 0)
		}
		x[k] = s1 + s2*cmplx.Conj(mod12[k]) + cmplx.Rect(ac, 0.7)
		x[k] += complex(rng.NormFloat64(), rng.NormFloat64()) * complex(an, 0)
	}
	return x
}

func newTestSeparator(t *testing.T) (*Separator, *Tables) {
	t.Helper()
	tables, err := NewTables(testN, false)
	require.NoError(t, err)
	s, err := NewSeparator(tables)
	require.NoError(t, err)
	return s, tables
}

func separate(t *testing.T, s *Separator, tables *Tables, g gate) *GateResult {
	t.Helper()
	res, err := s.SeparateTrips(g.iq(tables), tables.Codes().Mod12(), testPrt)
	require.NoError(t, err)
	return res
}

func assertVelocity(t *testing.T, want float64, got moments.Value) {
	t.Helper()
	v, ok := got.Get()
	require.True(t, ok, "velocity absent")
	assert.InDelta(t, want, v, velTol)
}

func TestSeparateTrips_SingleTripIdentity(t *testing.T) {
	t.Parallel()

	s, tables := newTestSeparator(t)
	require.NoError(t, s.SetSzWindow(window.Rect))

	// Bin 12 of 64: 10.0125 m/s.
	in := make([]complex128, testN)
	for k := range in {
		in[k] = cmplx.Exp(complex(0, 2*math.Pi*12*float64(k)/testN))
	}
	res, err := s.SeparateTrips(in, tables.Codes().Mod12(), testPrt)
	require.NoError(t, err)

	assert.Equal(t, 1, res.StrongTrip)
	assert.True(t, res.Decoded())
	testutil.AssertSeriesClose(t, in, res.Trip1Series, 1e-9)
	assert.Equal(t, -12, res.NotchStart)

	assert.True(t, res.Trip1.Usable())
	assert.InDelta(t, 0, res.Trip1.PowerDbm.Or(-999), 1e-6)
	assert.InDelta(t, 10.0125, res.Trip1.Velocity.Or(0), 1e-6)
	assert.True(t, res.Trip2.Flags.Has(censor.CensorOnSnr))
}

func TestSeparateTrips_CleanSingleTrip(t *testing.T) {
	t.Parallel()

	s, tables := newTestSeparator(t)
	s.SetNoiseValueDbm(-40)

	for seed := uint64(1); seed <= 3; seed++ {
		t.Run(fmt.Sprintf("seed%d", seed), func(t *testing.T) {
			res := separate(t, s, tables, gate{v1: 10, p1: 1, noise: 1e-7, seed: seed})

			assert.Equal(t, 1, res.StrongTrip)
			assert.True(t, res.Trip1.Usable(), "trip 1 flags %v", res.Trip1.Flags)
			assertVelocity(t, 10, res.Trip1.Velocity)
			assert.InDelta(t, 0, res.Trip1.PowerDbm.Or(-999), 0.5)
			assert.True(t, res.Trip2.Flags.Has(censor.CensorOnSnr))
			assert.Less(t, res.Trip2.PowerDbm.Or(-999), -60.0)
		})
	}
}

func TestSeparateTrips_EqualPowerTrips(t *testing.T) {
	t.Parallel()

	// Velocity pairs whose separation is a multiple of eight bins alias
	// onto the replicas and are avoided.
	pairs := []struct{ v1, v2 float64 }{
		{10, -7},
		{12.3, -4.1},
		{3, 20},
	}
	s, tables := newTestSeparator(t)
	for _, p := range pairs {
		for seed := uint64(1); seed <= 2; seed++ {
			t.Run(fmt.Sprintf("%g_%g_seed%d", p.v1, p.v2, seed), func(t *testing.T) {
				res := separate(t, s, tables, gate{v1: p.v1, p1: 1, v2: p.v2, p2: 1, noise: 1e-4, seed: seed})

				for _, e := range []TripEstimate{res.Trip1, res.Trip2} {
					assert.Equal(t, censor.Flags(0), e.Flags, "trip %d", e.Trip)
					assert.InDelta(t, 0, e.PowerDbm.Or(-999), 1.0, "trip %d power", e.Trip)
				}
				assertVelocity(t, p.v1, res.Trip1.Velocity)
				assertVelocity(t, p.v2, res.Trip2.Velocity)
				assert.True(t, res.StrongToWeakDb.Valid())
				assert.Len(t, res.ReplicaPeaksDb, censor.MaxReplicaCount)
			})
		}
	}
}

func TestSeparateTrips_BroadWeakTripCensoredOnReplicas(t *testing.T) {
	t.Parallel()

	s, tables := newTestSeparator(t)
	s.SetNoiseValueDbm(-40)

	// A flat weak-trip spectrum leaves several replicas near the primary
	// peak after deconvolution; a single tone leaves none.
	const seeds = 20
	broad, tone := 0, 0
	for seed := uint64(1); seed <= seeds; seed++ {
		res := separate(t, s, tables, gate{v1: 10, p1: 1, p2: 1, broad2: true, noise: 1e-4, seed: seed})
		require.Equal(t, 1, res.StrongTrip)
		assert.False(t, res.Trip1.Flags.Has(censor.CensorOnReplicas))
		if res.Trip2.Flags.Has(censor.CensorOnReplicas) {
			broad++
		}

		res = separate(t, s, tables, gate{v1: 10, p1: 1, v2: -7, p2: 1, noise: 1e-4, seed: seed})
		if res.Trip2.Flags.Has(censor.CensorOnReplicas) {
			tone++
		}
	}
	assert.GreaterOrEqual(t, broad, seeds/2, "broadband weak trip censored in %d of %d dwells", broad, seeds)
	assert.Zero(t, tone, "tone weak trip censored in %d of %d dwells", tone, seeds)
}

func TestSeparateTrips_Trip2Stronger(t *testing.T) {
	t.Parallel()

	s, tables := newTestSeparator(t)
	res := separate(t, s, tables, gate{v1: 10, p1: 0.1, v2: -7, p2: 1, noise: 1e-4, seed: 1})

	assert.Equal(t, 2, res.StrongTrip)
	assert.Same(t, &res.Trip2, res.Strong())
	assert.Same(t, &res.Trip1, res.Weak())
	assertVelocity(t, -7, res.Trip2.Velocity)
	assertVelocity(t, 10, res.Trip1.Velocity)
	assert.InDelta(t, -10, res.Trip1.PowerDbm.Or(-999), 1.0)
	assert.InDelta(t, 10, res.StrongToWeakDb.Or(0), 1.0)
}

func TestSeparateTrips_WeakTripBelowPowerRatio(t *testing.T) {
	t.Parallel()

	s, tables := newTestSeparator(t)
	res := separate(t, s, tables, gate{v1: 10, p1: 1, v2: -7, p2: 1e-5, noise: 1e-9, seed: 2})

	assert.Equal(t, 1, res.StrongTrip)
	assert.True(t, res.Trip1.Usable())
	assert.True(t, res.Trip2.Flags.Has(censor.CensorOnPowerRatio), "flags %v", res.Trip2.Flags)
	assert.False(t, res.Trip2.Flags.Has(censor.CensorOnSnr))
	assert.Greater(t, res.StrongToWeakDb.Or(0), 45.0)
}

func TestSeparateTrips_ClutterOnStrongTrip(t *testing.T) {
	t.Parallel()

	s, tables := newTestSeparator(t)
	res := separate(t, s, tables, gate{v1: 10, p1: 1, clutter: 100, noise: 1e-6, seed: 2})

	assert.Equal(t, 1, res.StrongTrip)
	assert.True(t, res.Trip1.Clutter.Filtered())
	assert.Greater(t, res.Trip1.Clutter.FractionRemoved, 0.9)
	assertVelocity(t, 10, res.Trip1.Velocity)
	assert.InDelta(t, 0, res.Trip1.PowerDbm.Or(-999), 0.5)
}

func TestSeparateTrips_BelowNoise(t *testing.T) {
	t.Parallel()

	s, tables := newTestSeparator(t)
	res, err := s.SeparateTrips(make([]complex128, testN), tables.Codes().Mod12(), testPrt)
	require.NoError(t, err)

	assert.False(t, res.Decoded())
	assert.Equal(t, censor.CensorOnSnr, res.Trip1.Flags)
	assert.Equal(t, censor.CensorOnSnr, res.Trip2.Flags)
	assert.False(t, res.TotalPowerDbm.Valid())
	assert.Equal(t, make([]complex128, testN), res.Trip1Series)
	assert.Equal(t, make([]complex128, testN), res.Trip2Series)
}

func TestSeparateTrips_InputErrors(t *testing.T) {
	t.Parallel()

	s, tables := newTestSeparator(t)
	code := tables.Codes().Mod12()

	_, err := s.SeparateTrips(make([]complex128, 32), code, testPrt)
	assert.ErrorIs(t, err, ErrSizeMismatch)

	_, err = s.SeparateTrips(make([]complex128, testN), code[:32], testPrt)
	assert.ErrorIs(t, err, ErrSizeMismatch)

	_, err = s.SeparateTrips(make([]complex128, testN), code, 0)
	assert.ErrorIs(t, err, ErrNotConfigured)

	s.SetWavelength(0)
	_, err = s.SeparateTrips(make([]complex128, testN), code, testPrt)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSeparateTrips_FreshSeries(t *testing.T) {
	t.Parallel()

	s, tables := newTestSeparator(t)
	first := separate(t, s, tables, gate{v1: 10, p1: 1, v2: -7, p2: 1, noise: 1e-4, seed: 1})
	saved := append([]complex128(nil), first.Trip1Series...)

	separate(t, s, tables, gate{v1: -3, p1: 1, v2: 15, p2: 0.5, noise: 1e-4, seed: 7})
	assert.Equal(t, saved, first.Trip1Series, "a later gate overwrote an earlier result")
}

func TestSeparateTrips_ChangeVelocitySign(t *testing.T) {
	t.Parallel()

	s, tables := newTestSeparator(t)
	g := gate{v1: 10, p1: 1, v2: -7, p2: 1, noise: 1e-4, seed: 1}
	plain := separate(t, s, tables, g)

	s.SetChangeVelocitySign(true)
	flipped := separate(t, s, tables, g)

	assert.InDelta(t, -plain.Trip1.Velocity.Or(0), flipped.Trip1.Velocity.Or(0), 1e-9)
	assert.InDelta(t, -plain.Trip2.Velocity.Or(0), flipped.Trip2.Velocity.Or(0), 1e-9)
	assert.Equal(t, plain.NotchStart, flipped.NotchStart, "notch placement ignores the reporting sign")
}

func TestSignedVelocity_KeepsNyquistPositive(t *testing.T) {
	t.Parallel()

	s, _ := newTestSeparator(t)
	s.SetChangeVelocitySign(true)

	assert.InDelta(t, 1, s.signedVelocity(moments.Some(1), 1).Or(0), 1e-12, "+Nyquist folds back to itself")
	assert.InDelta(t, -0.25, s.signedVelocity(moments.Some(0.25), 1).Or(0), 1e-15)
	assert.False(t, s.signedVelocity(moments.None(), 1).Valid())
}

func TestSeparateTrips_SpectralMoments(t *testing.T) {
	t.Parallel()

	s, tables := newTestSeparator(t)
	require.NoError(t, s.SetMomentsMethod(moments.Spectral))
	res := separate(t, s, tables, gate{v1: 10, p1: 1, v2: -7, p2: 1, noise: 1e-4, seed: 1})

	assertVelocity(t, 10, res.Trip1.Velocity)
	assertVelocity(t, -7, res.Trip2.Velocity)
	assert.True(t, res.Trip1.Width.Valid())
}

func TestSeparateTrips_SharedTablesConcurrent(t *testing.T) {
	t.Parallel()

	tables, err := NewTables(testN, false)
	require.NoError(t, err)
	g := gate{v1: 12.3, p1: 1, v2: -4.1, p2: 1, noise: 1e-4, seed: 3}

	ref, err := NewSeparator(tables)
	require.NoError(t, err)
	want := separate(t, ref, tables, g)

	results := make([]*GateResult, 8)
	eg, _ := errgroup.WithContext(context.Background())
	for i := range results {
		eg.Go(func() error {
			s, err := NewSeparator(tables)
			if err != nil {
				return err
			}
			results[i], err = s.SeparateTrips(g.iq(tables), tables.Codes().Mod12(), testPrt)
			return err
		})
	}
	require.NoError(t, eg.Wait())
	for _, got := range results {
		assert.Equal(t, want.Trip1Series, got.Trip1Series)
		assert.Equal(t, want.Trip2Series, got.Trip2Series)
	}
}

func TestSeparateTrips_DebugLogging(t *testing.T) {
	original := monitoring.Logf
	t.Cleanup(func() { monitoring.Logf = original })
	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	s, tables := newTestSeparator(t)
	s.SetDebug(true)
	separate(t, s, tables, gate{v1: 10, p1: 1, v2: -7, p2: 0.3, noise: 1e-4, seed: 1})

	require.Len(t, lines, 1)
	assert.True(t, strings.HasPrefix(lines[0], "[sz] strong=1"), lines[0])
}

func TestSeparator_Setters(t *testing.T) {
	t.Parallel()

	s, _ := newTestSeparator(t)

	assert.NoError(t, s.SetSzNegatePhaseCodes(false))
	assert.ErrorIs(t, s.SetSzNegatePhaseCodes(true), ErrNotConfigured)

	assert.NoError(t, s.SetSzWindow(window.Blackman))
	assert.Error(t, s.SetSzWindow(window.Type(42)))

	assert.NoError(t, s.SetSzOutOfTripPowerNReplicas(5))
	assert.Equal(t, 5, s.Thresholds().OutOfTripNReplicas)
	assert.Error(t, s.SetSzOutOfTripPowerNReplicas(7))
	assert.Equal(t, 5, s.Thresholds().OutOfTripNReplicas, "rejected value must not stick")

	s.SetSignalToNoiseRatioThreshold(6)
	s.SetSzStrongToWeakPowerRatioThreshold(40)
	s.SetSzOutOfTripPowerRatioThreshold(8)
	th := s.Thresholds()
	assert.Equal(t, 6.0, th.SnrThresholdDb)
	assert.Equal(t, 40.0, th.StrongToWeakDb)
	assert.Equal(t, 8.0, th.OutOfTripPowerRatioDb)

	s.SetSignalToNoiseRatioThreshold(math.NaN())
	assert.Equal(t, 6.0, s.Thresholds().SnrThresholdDb)

	assert.Error(t, s.SetMomentsMethod(moments.Method(9)))
	bad := clutter.DefaultParams()
	bad.InitNotchWidth = -1
	assert.Error(t, s.SetClutterParams(bad))
	assert.Error(t, s.SetSzClutterParams(bad))

	_, err := NewSeparator(nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSeparator_CheckSnThreshold(t *testing.T) {
	t.Parallel()

	s, _ := newTestSeparator(t)
	s.SetNoiseValueDbm(-50)
	s.SetSignalToNoiseRatioThreshold(3)

	assert.True(t, s.CheckSnThreshold(math.Pow(10, -4.6)))
	assert.False(t, s.CheckSnThreshold(math.Pow(10, -4.8)))
	assert.False(t, s.CheckSnThreshold(0))
}

func TestSeparator_IQFilterClutter(t *testing.T) {
	t.Parallel()

	s, tables := newTestSeparator(t)
	in := gate{v1: -12, p1: 1, clutter: 1000, noise: 2e-6, seed: 5}.iq(tables)

	out, res, err := s.IQFilterClutter(in, testPrt)
	require.NoError(t, err)
	assert.True(t, res.Filtered())
	assert.NotEqual(t, in, out)

	vel, _ := moments.VelWidthFromTd(out, moments.Nyquist(DefaultWavelength, testPrt))
	assertVelocity(t, -12, vel)

	_, _, err = s.IQFilterClutter(in[:8], testPrt)
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestSeparator_Cohere2Trip(t *testing.T) {
	t.Parallel()

	s, tables := newTestSeparator(t)
	codes := tables.Codes()
	sig := gate{v1: 5, p1: 1, seed: 1}.iq(tables)

	for trip, code := range map[int][]complex128{1: codes.Trip1(), 2: codes.Trip2()} {
		raw := make([]complex128, testN)
		for k := range raw {
			raw[k] = sig[k] * code[k]
		}
		got, err := s.Cohere2Trip(raw, codes.Trip1(), trip)
		require.NoError(t, err)
		testutil.AssertSeriesClose(t, sig, got, 1e-12)
	}

	_, err := s.Cohere2Trip(sig, codes.Trip1(), 5)
	assert.Error(t, err)
	_, err = s.Cohere2Trip(sig[:8], codes.Trip1(), 1)
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestNewTables_InvalidGeometry(t *testing.T) {
	t.Parallel()

	_, err := NewTables(60, false)
	assert.Error(t, err)
	_, err = NewTables(0, false)
	assert.Error(t, err)

	for _, n := range []int{16, 32, 40} {
		_, err = NewTables(n, false)
		assert.ErrorIs(t, err, deconv.ErrSingular, "n=%d", n)
	}

	tables, err := NewTables(48, true)
	require.NoError(t, err)
	assert.Equal(t, 48, tables.N())
	assert.True(t, tables.Codes().Negated())
	assert.NotNil(t, tables.Decon50())
	assert.Equal(t, 36, tables.Decon75().Geometry().NotchWidth)
	assert.Nil(t, tables.Window(window.Type(42)))
}
