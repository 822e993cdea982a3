// Package deconv builds the matrices that undo the spectral smearing left in
// a weak-trip spectrum after the strong trip has been notched out.
//
// Decoding the weak trip from a notched spectrum convolves its true spectrum
// with the spectrum of the notched modulation code. Build measures that
// kernel for a notch geometry and returns the inverse of the circulant
// convolution matrix.
package deconv

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/sz864/internal/sz/moments"
	"github.com/banshee-data/sz864/internal/sz/phasecode"
	"github.com/banshee-data/sz864/internal/sz/spectral"
)

// SmallValue is the magnitude below which matrix entries are zeroed.
const SmallValue = 1e-9

// MaxCondition is the largest condition number accepted for the
// convolution matrix before it is treated as singular.
const MaxCondition = 1e12

var (
	// ErrGeometry reports an impossible notch geometry.
	ErrGeometry = errors.New("deconv: invalid notch geometry")
	// ErrSingular reports a convolution matrix that cannot be inverted.
	ErrSingular = errors.New("deconv: convolution matrix is singular")
)

// Geometry describes a notch: NotchWidth bins removed, the PowerWidth bins
// following it kept, and the kept bins scaled by 1/sqrt(FracPower) to
// restore the fraction of power they carry.
type Geometry struct {
	NotchWidth int
	PowerWidth int
	FracPower  float64
}

// Notch75 is the wide geometry: three quarters notched, one quarter kept.
func Notch75(n int) Geometry {
	return Geometry{NotchWidth: 3 * n / 4, PowerWidth: n / 4, FracPower: 0.25}
}

// Notch50 is the narrow geometry: half notched, half kept.
func Notch50(n int) Geometry {
	return Geometry{NotchWidth: n / 2, PowerWidth: n / 2, FracPower: 0.5}
}

func (g Geometry) String() string {
	return fmt.Sprintf("notch=%d power=%d frac=%g", g.NotchWidth, g.PowerWidth, g.FracPower)
}

// Validate checks g against a spectrum of n bins.
func (g Geometry) Validate(n int) error {
	switch {
	case g.NotchWidth <= 0:
		return fmt.Errorf("%w: notch width must be positive, got %d", ErrGeometry, g.NotchWidth)
	case g.PowerWidth <= 0:
		return fmt.Errorf("%w: power width must be positive, got %d", ErrGeometry, g.PowerWidth)
	case g.PowerWidth > g.NotchWidth:
		return fmt.Errorf("%w: power width %d exceeds notch width %d", ErrGeometry, g.PowerWidth, g.NotchWidth)
	case g.NotchWidth+g.PowerWidth > n:
		return fmt.Errorf("%w: notch %d plus power %d exceeds %d bins", ErrGeometry, g.NotchWidth, g.PowerWidth, n)
	case !(g.FracPower > 0 && g.FracPower <= 1):
		return fmt.Errorf("%w: fractional power must be in (0, 1], got %g", ErrGeometry, g.FracPower)
	}
	return nil
}

// ApplyNotch zeroes the NotchWidth bins starting at start (circularly),
// keeps the PowerWidth bins after them scaled by 1/sqrt(FracPower), and
// zeroes everything else. dst must not alias spec; a nil dst is allocated.
func (g Geometry) ApplyNotch(start int, spec, dst []complex128) []complex128 {
	n := len(spec)
	if dst == nil {
		dst = make([]complex128, n)
	}
	for i := range dst {
		dst[i] = 0
	}
	mult := complex(1/math.Sqrt(g.FracPower), 0)
	first := ((start+g.NotchWidth)%n + n) % n
	for k := 0; k < g.PowerWidth; k++ {
		idx := (first + k) % n
		dst[idx] = spec[idx] * mult
	}
	return dst
}

// Matrix is an immutable deconvolution matrix for one geometry.
type Matrix struct {
	geom   Geometry
	kernel []float64
	inv    *mat.Dense
}

// Build measures the convolution kernel of the notched modulation code and
// inverts its circulant matrix. tr must be planned for codes.N().
func Build(codes *phasecode.Table, g Geometry, tr *spectral.Transform) (*Matrix, error) {
	n := codes.N()
	if err := g.Validate(n); err != nil {
		return nil, err
	}
	if tr.N() != n {
		return nil, fmt.Errorf("deconv: transform size %d does not match code length %d", tr.N(), n)
	}

	spec := tr.Forward(nil, codes.Mod12())
	notched := g.ApplyNotch(0, spec, nil)
	code := tr.Inverse(nil, notched)
	cohered := make([]complex128, n)
	phasecode.SubCode(cohered, code, codes.Mod12())
	kernel := moments.Magnitudes(nil, tr.Forward(nil, cohered))

	var sum float64
	for _, v := range kernel {
		sum += v
	}
	if !(sum > 0) {
		return nil, fmt.Errorf("%w: %v leaves no code energy", ErrSingular, g)
	}
	for i := range kernel {
		kernel[i] /= sum
	}

	conv := mat.NewDense(n, n, nil)
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			v := kernel[(c-r+n)%n]
			if math.Abs(v) < SmallValue {
				v = 0
			}
			conv.Set(r, c, v)
		}
	}

	if cond := mat.Cond(conv, 1); math.IsInf(cond, 1) || cond > MaxCondition {
		return nil, fmt.Errorf("%w: %v has condition number %g", ErrSingular, g, cond)
	}
	var inv mat.Dense
	if err := inv.Inverse(conv); err != nil {
		return nil, fmt.Errorf("%w: %v: %v", ErrSingular, g, err)
	}
	raw := inv.RawMatrix()
	for i, v := range raw.Data {
		if math.Abs(v) < SmallValue {
			raw.Data[i] = 0
		}
	}

	return &Matrix{geom: g, kernel: kernel, inv: &inv}, nil
}

// Geometry returns the notch geometry the matrix was built for.
func (m *Matrix) Geometry() Geometry { return m.geom }

// N returns the matrix dimension.
func (m *Matrix) N() int { return len(m.kernel) }

// Kernel returns a copy of the normalised convolution kernel.
func (m *Matrix) Kernel() []float64 {
	return append([]float64(nil), m.kernel...)
}

// At returns the inverse matrix element at row r, column c.
func (m *Matrix) At(r, c int) float64 { return m.inv.At(r, c) }

// Apply deconvolves a magnitude spectrum into dst, clamping negative
// results to zero. dst must not alias mag; a nil dst is allocated.
func (m *Matrix) Apply(mag, dst []float64) []float64 {
	n := m.N()
	if len(mag) != n {
		panic(fmt.Sprintf("deconv: magnitude length %d does not match matrix size %d", len(mag), n))
	}
	if dst == nil {
		dst = make([]float64, n)
	}
	out := mat.NewVecDense(n, dst)
	out.MulVec(m.inv, mat.NewVecDense(n, mag))
	for i, v := range dst {
		if v < 0 {
			dst[i] = 0
		}
	}
	return dst
}
