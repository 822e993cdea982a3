// Package interest implements fuzzy-logic interest maps: piecewise-linear
// lookups from a measured value to an interest in [0, 1], combined by
// weighted mean across several fields.
package interest

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/interp"

	"github.com/banshee-data/sz864/internal/sz/moments"
)

// ErrNoData is returned by Combine when no input value is present.
var ErrNoData = errors.New("interest: no field has a value")

// Point is one vertex of an interest map.
type Point struct {
	Value    float64
	Interest float64
}

// Map is an immutable piecewise-linear interest lookup. Values outside the
// first and last points take the interest of the nearest end point.
type Map struct {
	name   string
	weight float64
	lo, hi float64
	pl     interp.PiecewiseLinear
}

// New builds a map from points with strictly increasing values.
func New(name string, points []Point, weight float64) (*Map, error) {
	if len(points) < 2 {
		return nil, fmt.Errorf("interest map %s: need at least 2 points, got %d", name, len(points))
	}
	if !(weight > 0) {
		return nil, fmt.Errorf("interest map %s: weight must be positive, got %g", name, weight)
	}
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		if p.Interest < 0 || p.Interest > 1 {
			return nil, fmt.Errorf("interest map %s: interest %g at point %d outside [0, 1]", name, p.Interest, i)
		}
		if i > 0 && p.Value <= points[i-1].Value {
			return nil, fmt.Errorf("interest map %s: values must increase, point %d has %g after %g", name, i, p.Value, points[i-1].Value)
		}
		xs[i], ys[i] = p.Value, p.Interest
	}
	m := &Map{name: name, weight: weight, lo: xs[0], hi: xs[len(xs)-1]}
	if err := m.pl.Fit(xs, ys); err != nil {
		return nil, fmt.Errorf("interest map %s: %w", name, err)
	}
	return m, nil
}

// Name returns the field name.
func (m *Map) Name() string { return m.name }

// Weight returns the weight used by Combine.
func (m *Map) Weight() float64 { return m.weight }

// Interest returns the interest for v.
func (m *Map) Interest(v float64) float64 {
	return m.pl.Predict(min(max(v, m.lo), m.hi))
}

// Combine returns the weighted mean interest of the present values.
// values[i] is looked up in maps[i]; absent values are skipped.
func Combine(maps []*Map, values []moments.Value) (float64, error) {
	if len(maps) != len(values) {
		return 0, fmt.Errorf("interest: %d maps but %d values", len(maps), len(values))
	}
	var sum, wsum float64
	for i, m := range maps {
		v, ok := values[i].Get()
		if !ok {
			continue
		}
		sum += m.weight * m.Interest(v)
		wsum += m.weight
	}
	if wsum == 0 {
		return 0, ErrNoData
	}
	return sum / wsum, nil
}
