package spectral

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// ErrZeroSize is returned when a transform is planned for a non-positive size.
var ErrZeroSize = errors.New("spectral: transform size must be positive")

// Transform is a complex DFT of fixed size N. The gonum plan holds the
// per-size twiddle tables and is rebuilt only when N changes.
//
// A Transform is not safe for concurrent use; give each worker its own.
type Transform struct {
	n     int
	scale float64
	plan  *fourier.CmplxFFT
}

// New returns a transform planned for n points.
func New(n int) (*Transform, error) {
	t := &Transform{}
	if err := t.Init(n); err != nil {
		return nil, err
	}
	return t, nil
}

// Init (re)plans the transform for n points. It is a no-op when the size is
// unchanged.
func (t *Transform) Init(n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: got %d", ErrZeroSize, n)
	}
	if t.plan != nil && t.n == n {
		return nil
	}
	if t.plan == nil {
		t.plan = fourier.NewCmplxFFT(n)
	} else {
		t.plan.Reset(n)
	}
	t.n = n
	t.scale = 1 / math.Sqrt(float64(n))
	return nil
}

// N returns the planned size, or 0 for an uninitialised transform.
func (t *Transform) N() int { return t.n }

// Forward computes the scaled forward DFT of src into dst and returns dst.
// A nil dst is allocated. dst and src may alias.
func (t *Transform) Forward(dst, src []complex128) []complex128 {
	t.check(src)
	dst = t.plan.Coefficients(dst, src)
	t.rescale(dst)
	return dst
}

// Inverse computes the scaled inverse DFT of src into dst and returns dst.
func (t *Transform) Inverse(dst, src []complex128) []complex128 {
	t.check(src)
	dst = t.plan.Sequence(dst, src)
	t.rescale(dst)
	return dst
}

func (t *Transform) check(src []complex128) {
	if t.plan == nil {
		panic("spectral: transform used before Init")
	}
	if len(src) != t.n {
		panic(fmt.Sprintf("spectral: input length %d does not match transform size %d", len(src), t.n))
	}
}

func (t *Transform) rescale(x []complex128) {
	s := complex(t.scale, 0)
	for i := range x {
		x[i] *= s
	}
}
