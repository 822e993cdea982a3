package interest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sz864/internal/sz/moments"
)

func ramp(t *testing.T, name string, weight float64) *Map {
	t.Helper()
	m, err := New(name, []Point{{0, 0}, {10, 1}, {20, 1}, {30, 0.5}}, weight)
	require.NoError(t, err)
	return m
}

func TestMap_Interest(t *testing.T) {
	t.Parallel()

	m := ramp(t, "snr", 1)
	tests := []struct {
		v, want float64
	}{
		{-5, 0},
		{0, 0},
		{5, 0.5},
		{10, 1},
		{15, 1},
		{25, 0.75},
		{30, 0.5},
		{100, 0.5},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, m.Interest(tt.v), 1e-12, "v=%g", tt.v)
	}
	assert.Equal(t, "snr", m.Name())
	assert.Equal(t, 1.0, m.Weight())
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		points []Point
		weight float64
	}{
		{"one point", []Point{{0, 1}}, 1},
		{"not increasing", []Point{{0, 0}, {0, 1}}, 1},
		{"interest above one", []Point{{0, 0}, {1, 1.5}}, 1},
		{"negative interest", []Point{{0, -0.1}, {1, 1}}, 1},
		{"zero weight", []Point{{0, 0}, {1, 1}}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New("x", tt.points, tt.weight)
			assert.Error(t, err)
		})
	}
}

func TestCombine(t *testing.T) {
	t.Parallel()

	a := ramp(t, "a", 1)
	b := ramp(t, "b", 3)

	got, err := Combine([]*Map{a, b}, []moments.Value{moments.Some(5), moments.Some(15)})
	require.NoError(t, err)
	assert.InDelta(t, (0.5+3*1.0)/4, got, 1e-12)

	got, err = Combine([]*Map{a, b}, []moments.Value{moments.None(), moments.Some(25)})
	require.NoError(t, err)
	assert.InDelta(t, 0.75, got, 1e-12, "absent values carry no weight")

	_, err = Combine([]*Map{a, b}, []moments.Value{moments.None(), moments.None()})
	assert.ErrorIs(t, err, ErrNoData)

	_, err = Combine([]*Map{a}, nil)
	assert.Error(t, err)
}
