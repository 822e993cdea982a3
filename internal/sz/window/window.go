// Package window provides apodisation windows applied to a dwell before
// spectral analysis.
//
// Coefficients are scaled to unit mean square so a windowed constant signal
// keeps its power; their mean is therefore not unity.
package window

import (
	"fmt"
	"math"
	"strings"
)

// Type selects a window shape.
type Type int

const (
	Rect Type = iota
	VonHann
	Blackman
)

var typeNames = map[Type]string{
	Rect:     "rect",
	VonHann:  "vonhann",
	Blackman: "blackman",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("window(%d)", int(t))
}

// ParseType maps a config name to a Type. Matching is case-insensitive and
// accepts "hann" and "rectangular" as aliases.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rect", "rectangular":
		return Rect, nil
	case "vonhann", "hann", "hanning":
		return VonHann, nil
	case "blackman":
		return Blackman, nil
	}
	return Rect, fmt.Errorf("unknown window type %q (want rect, vonhann or blackman)", s)
}

// Window is an immutable set of N real coefficients.
type Window struct {
	typ    Type
	coeffs []float64
}

// New computes a window of the given type and length.
func New(t Type, n int) (*Window, error) {
	if n <= 0 {
		return nil, fmt.Errorf("window length must be positive, got %d", n)
	}
	c := make([]float64, n)
	switch t {
	case Rect:
		for i := range c {
			c[i] = 1
		}
	case VonHann:
		fillCosine(c, 0.5, 0.5, 0)
	case Blackman:
		fillCosine(c, 0.42, 0.5, 0.08)
	default:
		return nil, fmt.Errorf("unsupported window type %v", t)
	}

	var sumSq float64
	for _, v := range c {
		sumSq += v * v
	}
	if sumSq == 0 {
		return nil, fmt.Errorf("%v window of length %d has no energy", t, n)
	}
	scale := 1 / math.Sqrt(sumSq/float64(n))
	for i := range c {
		c[i] *= scale
	}
	return &Window{typ: t, coeffs: c}, nil
}

// fillCosine writes a0 - a1*cos(2*pi*i/(N-1)) + a2*cos(4*pi*i/(N-1)).
// A single-point window degenerates to a0 - a1 + a2 at i=0, which is zero
// for von Hann, so it is treated as rectangular.
func fillCosine(c []float64, a0, a1, a2 float64) {
	n := len(c)
	if n == 1 {
		c[0] = 1
		return
	}
	den := float64(n - 1)
	for i := range c {
		x := 2 * math.Pi * float64(i) / den
		c[i] = a0 - a1*math.Cos(x) + a2*math.Cos(2*x)
	}
}

// Type returns the window shape.
func (w *Window) Type() Type { return w.typ }

// Len returns the number of coefficients.
func (w *Window) Len() int { return len(w.coeffs) }

// Coeffs returns a copy of the coefficients.
func (w *Window) Coeffs() []float64 {
	return append([]float64(nil), w.coeffs...)
}

// Gain returns the mean-square coefficient, the factor by which the window
// scales the power of a white signal. It is 1 for every window built by New;
// consumers that rescale explicitly divide by it.
func (w *Window) Gain() float64 {
	var s float64
	for _, v := range w.coeffs {
		s += v * v
	}
	return s / float64(len(w.coeffs))
}

// Apply writes src weighted by the window into dst and returns dst. A nil
// dst is allocated; dst may alias src.
func (w *Window) Apply(dst, src []complex128) []complex128 {
	if len(src) != len(w.coeffs) {
		panic(fmt.Sprintf("window: input length %d does not match window length %d", len(src), len(w.coeffs)))
	}
	if dst == nil {
		dst = make([]complex128, len(src))
	}
	for i, v := range src {
		dst[i] = v * complex(w.coeffs[i], 0)
	}
	return dst
}
