package window

import (
	"math/cmplx"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sz864/internal/sz/spectral"
	"github.com/banshee-data/sz864/internal/testutil"
)

func TestParseType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Type
	}{
		{"rect", Rect},
		{"Rectangular", Rect},
		{"vonhann", VonHann},
		{" HANN ", VonHann},
		{"blackman", Blackman},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseType(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseType("kaiser")
	assert.Error(t, err)
}

func TestNew_Shapes(t *testing.T) {
	t.Parallel()

	const n = 64
	hann, err := New(VonHann, n)
	require.NoError(t, err)
	c := hann.Coeffs()

	// Symmetric and zero at both ends.
	assert.InDelta(t, 0, c[0], 1e-12)
	assert.InDelta(t, 0, c[n-1], 1e-12)
	for i := 0; i < n/2; i++ {
		assert.InDelta(t, c[i], c[n-1-i], 1e-12)
	}

	bm, err := New(Blackman, n)
	require.NoError(t, err)
	b := bm.Coeffs()
	assert.InDelta(t, 0, b[0], 1e-12)
	assert.Greater(t, b[n/2], b[n/4])

	rect, err := New(Rect, n)
	require.NoError(t, err)
	for _, v := range rect.Coeffs() {
		assert.Equal(t, 1.0, v)
	}
}

func TestNew_UnitMeanSquare(t *testing.T) {
	t.Parallel()

	for _, typ := range []Type{Rect, VonHann, Blackman} {
		for _, n := range []int{1, 8, 64, 256} {
			w, err := New(typ, n)
			require.NoError(t, err)
			assert.InDelta(t, 1.0, w.Gain(), 1e-12, "%v n=%d", typ, n)
		}
	}
}

func TestNew_Invalid(t *testing.T) {
	t.Parallel()

	_, err := New(VonHann, 0)
	assert.Error(t, err)
	_, err = New(Type(42), 8)
	assert.Error(t, err)
	assert.Equal(t, "window(42)", Type(42).String())
}

func TestApply_ConstantPowerPreserved(t *testing.T) {
	t.Parallel()

	const n = 64
	tr, err := spectral.New(n)
	require.NoError(t, err)

	constant := make([]complex128, n)
	for i := range constant {
		constant[i] = complex(2, -1)
	}
	for _, typ := range []Type{Rect, VonHann, Blackman} {
		w, err := New(typ, n)
		require.NoError(t, err)
		spec := tr.Forward(nil, w.Apply(nil, constant))
		assert.InDelta(t, testutil.MeanPower(constant)*w.Gain(), testutil.MeanPower(spec), 1e-9, "%v", typ)
	}
}

func TestApply_WhiteNoisePowerGain(t *testing.T) {
	t.Parallel()

	const n = 256
	rng := rand.New(rand.NewPCG(9, 9))
	tr, err := spectral.New(n)
	require.NoError(t, err)
	w, err := New(Blackman, n)
	require.NoError(t, err)

	// Averaged over many dwells the windowed power matches the raw power
	// times the documented gain.
	var raw, windowed float64
	x := make([]complex128, n)
	for trial := 0; trial < 200; trial++ {
		for i := range x {
			x[i] = complex(rng.NormFloat64(), rng.NormFloat64())
		}
		raw += testutil.MeanPower(x)
		windowed += testutil.MeanPower(tr.Forward(nil, w.Apply(nil, x)))
	}
	assert.InDelta(t, 1.0, windowed/(raw*w.Gain()), 0.05)
}

func TestApply_InPlaceAndLength(t *testing.T) {
	t.Parallel()

	w, err := New(VonHann, 8)
	require.NoError(t, err)
	x := []complex128{1, 1, 1, 1, 1, 1, 1, 1}
	w.Apply(x, x)
	for i, c := range w.Coeffs() {
		assert.InDelta(t, c, cmplx.Abs(x[i]), 1e-12)
	}
	assert.Panics(t, func() { w.Apply(nil, make([]complex128, 4)) })
}
