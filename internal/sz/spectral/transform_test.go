package spectral

import (
	"math"
	"math/cmplx"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomSeries(rng *rand.Rand, n int) []complex128 {
	x := make([]complex128, n)
	for i := range x {
		x[i] = complex(rng.NormFloat64(), rng.NormFloat64())
	}
	return x
}

func power(x []complex128) float64 {
	var p float64
	for _, v := range x {
		p += real(v)*real(v) + imag(v)*imag(v)
	}
	return p / float64(len(x))
}

func TestNew_ZeroSize(t *testing.T) {
	t.Parallel()

	_, err := New(0)
	require.ErrorIs(t, err, ErrZeroSize)

	_, err = New(-4)
	require.ErrorIs(t, err, ErrZeroSize)
}

func TestTransform_RoundTrip(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(7, 11))
	for _, n := range []int{1, 2, 8, 16, 64, 128, 256, 100} {
		tr, err := New(n)
		require.NoError(t, err)

		for trial := 0; trial < 5; trial++ {
			x := randomSeries(rng, n)
			spec := tr.Forward(nil, x)
			back := tr.Inverse(nil, spec)
			for i := range x {
				assert.InDelta(t, 0, cmplx.Abs(back[i]-x[i]), 1e-9*(1+cmplx.Abs(x[i])), "n=%d i=%d", n, i)
			}
		}
	}
}

func TestTransform_Parseval(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(3, 5))
	tr, err := New(64)
	require.NoError(t, err)

	x := randomSeries(rng, 64)
	spec := tr.Forward(nil, x)
	assert.InDelta(t, power(x), power(spec), 1e-9)
}

func TestTransform_ToneLandsInBin(t *testing.T) {
	t.Parallel()

	const n = 64
	tr, err := New(n)
	require.NoError(t, err)

	x := make([]complex128, n)
	for i := range x {
		x[i] = cmplx.Rect(1, 2*math.Pi*5*float64(i)/n)
	}
	spec := tr.Forward(nil, x)
	assert.InDelta(t, math.Sqrt(n), cmplx.Abs(spec[5]), 1e-9)
	for k := range spec {
		if k != 5 {
			assert.InDelta(t, 0, cmplx.Abs(spec[k]), 1e-9)
		}
	}
}

func TestTransform_InPlace(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))
	tr, err := New(32)
	require.NoError(t, err)

	x := randomSeries(rng, 32)
	want := tr.Forward(nil, x)
	got := append([]complex128(nil), x...)
	tr.Forward(got, got)
	for i := range want {
		assert.InDelta(t, 0, cmplx.Abs(want[i]-got[i]), 1e-12)
	}
}

func TestTransform_InitResizes(t *testing.T) {
	t.Parallel()

	tr, err := New(16)
	require.NoError(t, err)
	require.NoError(t, tr.Init(16))
	assert.Equal(t, 16, tr.N())

	require.NoError(t, tr.Init(32))
	assert.Equal(t, 32, tr.N())
	out := tr.Forward(nil, make([]complex128, 32))
	assert.Len(t, out, 32)
}

func TestTransform_Preconditions(t *testing.T) {
	t.Parallel()

	var zero Transform
	assert.Panics(t, func() { zero.Forward(nil, make([]complex128, 4)) })

	tr, err := New(8)
	require.NoError(t, err)
	assert.Panics(t, func() { tr.Inverse(nil, make([]complex128, 4)) })
}

// ---------------------------------------------------------------------------
// Shift / Unshift

func TestShift_DCToCentre(t *testing.T) {
	t.Parallel()

	x := []int{0, 1, 2, 3, 4, 5, 6, 7}
	Shift(x)
	assert.Equal(t, []int{4, 5, 6, 7, 0, 1, 2, 3}, x)
	assert.Equal(t, 0, x[4])

	odd := []int{0, 1, 2, 3, 4}
	Shift(odd)
	assert.Equal(t, []int{3, 4, 0, 1, 2}, odd)
	assert.Equal(t, 0, odd[len(odd)/2])
}

func TestShift_UnshiftInverse(t *testing.T) {
	t.Parallel()

	for n := 1; n <= 33; n++ {
		x := make([]int, n)
		for i := range x {
			x[i] = i * 7
		}
		orig := append([]int(nil), x...)
		Shift(x)
		Unshift(x)
		assert.Equal(t, orig, x, "n=%d", n)

		Unshift(x)
		Shift(x)
		assert.Equal(t, orig, x, "n=%d reversed order", n)
	}
}
