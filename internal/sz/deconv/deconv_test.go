package deconv

import (
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sz864/internal/sz/phasecode"
	"github.com/banshee-data/sz864/internal/sz/spectral"
)

func setup(t *testing.T, n int) (*phasecode.Table, *spectral.Transform) {
	t.Helper()
	codes, err := phasecode.Generate(n, false)
	require.NoError(t, err)
	tr, err := spectral.New(n)
	require.NoError(t, err)
	return codes, tr
}

func TestGeometry_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		g    Geometry
		ok   bool
	}{
		{"three quarter", Notch75(64), true},
		{"half", Notch50(64), true},
		{"power exceeds notch", Geometry{NotchWidth: 16, PowerWidth: 32, FracPower: 0.5}, false},
		{"zero power width", Geometry{NotchWidth: 48, PowerWidth: 0, FracPower: 0.25}, false},
		{"zero notch", Geometry{NotchWidth: 0, PowerWidth: 0, FracPower: 0.25}, false},
		{"wider than spectrum", Geometry{NotchWidth: 48, PowerWidth: 32, FracPower: 0.25}, false},
		{"frac zero", Geometry{NotchWidth: 48, PowerWidth: 16, FracPower: 0}, false},
		{"frac above one", Geometry{NotchWidth: 48, PowerWidth: 16, FracPower: 1.5}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.g.Validate(64)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrGeometry)
			}
		})
	}
}

func TestApplyNotch(t *testing.T) {
	t.Parallel()

	g := Geometry{NotchWidth: 6, PowerWidth: 2, FracPower: 0.25}
	spec := make([]complex128, 8)
	for i := range spec {
		spec[i] = complex(float64(i+1), 0)
	}

	// Notch covers 5,6,7,0,1,2; bins 3 and 4 survive doubled.
	out := g.ApplyNotch(5, spec, nil)
	want := []complex128{0, 0, 0, 8, 10, 0, 0, 0}
	assert.Equal(t, want, out)

	// Negative starts wrap the same way.
	out = g.ApplyNotch(-3, spec, out)
	assert.Equal(t, want, out)
}

func TestBuild_PowerWidthExceedsNotch(t *testing.T) {
	t.Parallel()

	codes, tr := setup(t, 64)
	m, err := Build(codes, Geometry{NotchWidth: 16, PowerWidth: 32, FracPower: 0.5}, tr)
	require.ErrorIs(t, err, ErrGeometry)
	assert.Nil(t, m)
}

func TestBuild_TransformSizeMismatch(t *testing.T) {
	t.Parallel()

	codes, _ := setup(t, 64)
	tr, err := spectral.New(32)
	require.NoError(t, err)
	_, err = Build(codes, Notch75(64), tr)
	assert.Error(t, err)
}

func TestBuild_Kernel(t *testing.T) {
	t.Parallel()

	for _, g := range []Geometry{Notch75(64), Notch50(64)} {
		codes, tr := setup(t, 64)
		m, err := Build(codes, g, tr)
		require.NoError(t, err, "%v", g)
		assert.Equal(t, 64, m.N())
		assert.Equal(t, g, m.Geometry())

		k := m.Kernel()
		var sum float64
		for _, v := range k {
			sum += v
		}
		assert.InDelta(t, 1, sum, 1e-12)

		// SZ(8/64) spreads the other trip into 8 replicas, one every 8 bins.
		for j := range k {
			if j%8 != 0 {
				assert.InDelta(t, 0, k[j], 1e-9, "%v j=%d", g, j)
			}
			assert.InDelta(t, k[j], k[(64-j)%64], 1e-9, "%v symmetric j=%d", g, j)
		}
		for j := 8; j < 64; j += 8 {
			assert.GreaterOrEqual(t, k[0], k[j])
		}
	}
}

func TestMatrix_InvertsConvolution(t *testing.T) {
	t.Parallel()

	codes, tr := setup(t, 64)
	m, err := Build(codes, Notch75(64), tr)
	require.NoError(t, err)
	k := m.Kernel()

	x := make([]float64, 64)
	for i := range x {
		x[i] = 1 + float64((i*37)%11)
	}
	y := make([]float64, 64)
	for r := range y {
		for c := range x {
			y[r] += k[(c-r+64)%64] * x[c]
		}
	}

	got := m.Apply(y, nil)
	for i := range x {
		assert.InDelta(t, x[i], got[i], 1e-6, "i=%d", i)
	}
}

func TestMatrix_ApplyClampsNegative(t *testing.T) {
	t.Parallel()

	codes, tr := setup(t, 64)
	m, err := Build(codes, Notch75(64), tr)
	require.NoError(t, err)

	// A lone spike deconvolves to a pattern with negative side lobes.
	mag := make([]float64, 64)
	mag[10] = 1
	out := m.Apply(mag, nil)
	for i, v := range out {
		assert.GreaterOrEqual(t, v, 0.0, "i=%d", i)
	}
	assert.Panics(t, func() { m.Apply(make([]float64, 8), nil) })
}

func TestBuild_NotchRemovesCodeEnergy(t *testing.T) {
	t.Parallel()

	codes, tr := setup(t, 64)
	g := Notch75(64)
	spec := tr.Forward(nil, codes.Mod12())
	notched := g.ApplyNotch(0, spec, nil)
	kept := 0
	for _, v := range notched {
		if cmplx.Abs(v) > 0 {
			kept++
		}
	}
	assert.LessOrEqual(t, kept, g.PowerWidth)
}
