package sz

import (
	"fmt"

	"github.com/banshee-data/sz864/internal/sz/deconv"
	"github.com/banshee-data/sz864/internal/sz/phasecode"
	"github.com/banshee-data/sz864/internal/sz/spectral"
	"github.com/banshee-data/sz864/internal/sz/window"
)

// Tables holds everything derived once from the dwell length: phase codes,
// windows and both deconvolution matrices. It is immutable after NewTables.
type Tables struct {
	n       int
	codes   *phasecode.Table
	windows map[window.Type]*window.Window
	decon75 *deconv.Matrix
	decon50 *deconv.Matrix
}

// NewTables builds the shared tables for n-pulse dwells. Every configuration
// error surfaces here, before any gate is processed.
func NewTables(n int, negatePhaseCodes bool) (*Tables, error) {
	codes, err := phasecode.Generate(n, negatePhaseCodes)
	if err != nil {
		return nil, fmt.Errorf("phase codes: %w", err)
	}

	t := &Tables{
		n:       n,
		codes:   codes,
		windows: make(map[window.Type]*window.Window, 3),
	}
	for _, typ := range []window.Type{window.Rect, window.VonHann, window.Blackman} {
		w, err := window.New(typ, n)
		if err != nil {
			return nil, fmt.Errorf("window %v: %w", typ, err)
		}
		t.windows[typ] = w
	}

	tr, err := spectral.New(n)
	if err != nil {
		return nil, err
	}
	if t.decon75, err = deconv.Build(codes, deconv.Notch75(n), tr); err != nil {
		return nil, fmt.Errorf("3/4 notch deconvolution: %w", err)
	}
	if t.decon50, err = deconv.Build(codes, deconv.Notch50(n), tr); err != nil {
		return nil, fmt.Errorf("1/2 notch deconvolution: %w", err)
	}
	return t, nil
}

// N returns the dwell length.
func (t *Tables) N() int { return t.n }

// Codes returns the phase-code table.
func (t *Tables) Codes() *phasecode.Table { return t.codes }

// Window returns the precomputed window of type typ, or nil if unknown.
func (t *Tables) Window(typ window.Type) *window.Window { return t.windows[typ] }

// Decon75 returns the wide (3/4 notch) deconvolution matrix used by the
// separator.
func (t *Tables) Decon75() *deconv.Matrix { return t.decon75 }

// Decon50 returns the narrow (1/2 notch) deconvolution matrix.
func (t *Tables) Decon50() *deconv.Matrix { return t.decon50 }
