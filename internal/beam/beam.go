// Package beam separates every gate of a beam in parallel. Gates are
// fanned out to a fixed set of workers, each with its own sz.Separator over
// tables shared for the beam's dwell length.
package beam

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/sz864/internal/config"
	"github.com/banshee-data/sz864/internal/interest"
	"github.com/banshee-data/sz864/internal/metrics"
	"github.com/banshee-data/sz864/internal/monitoring"
	"github.com/banshee-data/sz864/internal/sz"
	"github.com/banshee-data/sz864/internal/sz/censor"
	"github.com/banshee-data/sz864/internal/sz/moments"
	"github.com/banshee-data/sz864/internal/timeutil"
)

var (
	// ErrDecodeUnavailable is returned when no tables can be built for a
	// beam's dwell length.
	ErrDecodeUnavailable = errors.New("beam: SZ decode unavailable")
	// ErrEmptyBeam is returned for a beam with no gates.
	ErrEmptyBeam = errors.New("beam: no gates")
)

// Beam is one beam of cohered I/Q, gate by gate.
type Beam struct {
	// PrtSecs overrides the configured pulse repetition time when positive.
	PrtSecs float64
	// Delta12 is the measured trip-1 to trip-2 phase delta. Nil uses the
	// ideal Mod12 code.
	Delta12 []complex128
	Gates   [][]complex128
}

// TripSummary counts one trip's outcomes across a beam.
type TripSummary struct {
	Usable          int `json:"usable"`
	CensoredSnr     int `json:"censored_snr"`
	CensoredRatio   int `json:"censored_power_ratio"`
	CensoredReplica int `json:"censored_replicas"`
	ClutterFiltered int `json:"clutter_filtered"`
	ClutterSkipped  int `json:"clutter_skipped"`
}

// Summary counts outcomes across a beam.
type Summary struct {
	Gates   int         `json:"gates"`
	Decoded int         `json:"decoded"`
	Trip1   TripSummary `json:"trip1"`
	Trip2   TripSummary `json:"trip2"`
}

func (s *Summary) add(res *sz.GateResult) {
	s.Gates++
	if res.Decoded() {
		s.Decoded++
	}
	for _, pair := range []struct {
		est *sz.TripEstimate
		sum *TripSummary
	}{{&res.Trip1, &s.Trip1}, {&res.Trip2, &s.Trip2}} {
		e, t := pair.est, pair.sum
		if e.Usable() {
			t.Usable++
		}
		if e.Flags.Has(censor.CensorOnSnr) {
			t.CensoredSnr++
		}
		if e.Flags.Has(censor.CensorOnPowerRatio) {
			t.CensoredRatio++
		}
		if e.Flags.Has(censor.CensorOnReplicas) {
			t.CensoredReplica++
		}
		if e.Clutter.Filtered() {
			t.ClutterFiltered++
		} else if e.Clutter.Skipped {
			t.ClutterSkipped++
		}
	}
}

// Result is a processed beam.
type Result struct {
	Started  time.Time
	Duration time.Duration
	NSamples int
	PrtSecs  float64
	Gates    []*sz.GateResult
	// WeakQuality is the weak trip's interest score per gate, absent for
	// gates that were not decoded or when no quality maps are configured.
	WeakQuality []moments.Value
	Summary     Summary
}

// Option configures a Processor.
type Option func(*Processor)

// WithClock sets the clock used to time beams.
func WithClock(c timeutil.Clock) Option { return func(p *Processor) { p.clock = c } }

// WithMetrics records gate and beam outcomes on m.
func WithMetrics(m *metrics.Metrics) Option { return func(p *Processor) { p.metrics = m } }

// WithWorkers overrides the configured worker count.
func WithWorkers(n int) Option { return func(p *Processor) { p.workers = n } }

// WithQualityMaps scores each decoded gate's weak trip from its
// strong-to-weak ratio and leakage, in that order.
func WithQualityMaps(ratio, leakage *interest.Map) Option {
	return func(p *Processor) { p.quality = []*interest.Map{ratio, leakage} }
}

// DefaultQualityMaps returns maps that fall from full interest to none as
// the strong-to-weak ratio approaches the censoring threshold and as
// leakage grows.
func DefaultQualityMaps(strongToWeakDb float64) (ratio, leakage *interest.Map, err error) {
	ratio, err = interest.New("strong_to_weak_db", []interest.Point{
		{Value: 0, Interest: 1},
		{Value: strongToWeakDb / 2, Interest: 1},
		{Value: strongToWeakDb, Interest: 0},
	}, 1)
	if err != nil {
		return nil, nil, err
	}
	leakage, err = interest.New("leakage", []interest.Point{
		{Value: 0, Interest: 1},
		{Value: 0.1, Interest: 1},
		{Value: 0.3, Interest: 0},
	}, 2)
	return ratio, leakage, err
}

// Processor separates beams. It is safe for concurrent use; tables are
// built once per dwell length and reused.
type Processor struct {
	cfg     *config.TuningConfig
	workers int
	clock   timeutil.Clock
	metrics *metrics.Metrics
	quality []*interest.Map

	mu     sync.Mutex
	tables map[int]tablesEntry
}

type tablesEntry struct {
	tables *sz.Tables
	err    error
}

// NewProcessor returns a processor for cfg.
func NewProcessor(cfg *config.TuningConfig, opts ...Option) (*Processor, error) {
	if cfg == nil {
		cfg = config.EmptyTuningConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("beam config: %w", err)
	}
	p := &Processor{
		cfg:     cfg,
		workers: cfg.GetWorkers(),
		clock:   timeutil.RealClock{},
		tables:  make(map[int]tablesEntry),
	}
	for _, o := range opts {
		o(p)
	}
	if p.workers <= 0 {
		p.workers = runtime.NumCPU()
	}
	// Some code lengths that pass config validation give a singular
	// deconvolution matrix. Reject them here rather than on the first beam.
	if _, err := p.Tables(cfg.GetNSamples()); err != nil {
		return nil, fmt.Errorf("beam config: n_samples %d: %w", cfg.GetNSamples(), err)
	}
	return p, nil
}

// Tables returns the shared tables for n-pulse dwells, building them on
// first use. A failed build is remembered.
func (p *Processor) Tables(n int) (*sz.Tables, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.tables[n]; ok {
		return e.tables, e.err
	}
	t, err := sz.NewTables(n, p.cfg.GetNegatePhaseCodes())
	p.tables[n] = tablesEntry{tables: t, err: err}
	return t, err
}

// configFor returns the tuning config with the dwell length set to n.
func (p *Processor) configFor(n int) *config.TuningConfig {
	c := *p.cfg
	c.NSamples = &n
	return &c
}

// Process separates every gate of b. A gate that fails the SNR test or is
// censored is not an error; errors are reserved for malformed beams and
// cancellation.
func (p *Processor) Process(ctx context.Context, b Beam) (*Result, error) {
	if len(b.Gates) == 0 {
		return nil, ErrEmptyBeam
	}
	n := len(b.Gates[0])
	for i, g := range b.Gates {
		if len(g) != n {
			return nil, fmt.Errorf("%w: gate %d has %d samples, gate 0 has %d", sz.ErrSizeMismatch, i, len(g), n)
		}
	}

	tables, err := p.Tables(n)
	if err != nil {
		p.metrics.DecodeUnavailable()
		monitoring.Logf("[beam] decode unavailable for %d-pulse dwells: %v", n, err)
		return nil, fmt.Errorf("%w: %w", ErrDecodeUnavailable, err)
	}
	delta := b.Delta12
	if delta == nil {
		delta = tables.Codes().Mod12()
	}
	prt := b.PrtSecs
	if prt <= 0 {
		prt = p.cfg.GetPrtSecs()
	}
	cfg := p.configFor(n)

	started := p.clock.Now()
	results := make([]*sz.GateResult, len(b.Gates))

	eg, ctx := errgroup.WithContext(ctx)
	jobs := make(chan int)
	eg.Go(func() error {
		defer close(jobs)
		for i := range b.Gates {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
	for range min(p.workers, len(b.Gates)) {
		eg.Go(func() error {
			sep, err := sz.SeparatorFromTuning(tables, cfg)
			if err != nil {
				return err
			}
			for i := range jobs {
				if err := ctx.Err(); err != nil {
					return err
				}
				res, err := sep.SeparateTrips(b.Gates[i], delta, prt)
				if err != nil {
					return fmt.Errorf("gate %d: %w", i, err)
				}
				results[i] = res
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	out := &Result{
		Started:     started,
		Duration:    p.clock.Since(started),
		NSamples:    n,
		PrtSecs:     prt,
		Gates:       results,
		WeakQuality: make([]moments.Value, len(results)),
	}
	for i, res := range results {
		out.Summary.add(res)
		p.metrics.ObserveGate(res)
		out.WeakQuality[i] = p.weakQuality(res)
	}
	p.metrics.ObserveBeam(out.Duration)
	monitoring.Debugf("[beam] %d gates (%d decoded) in %v", out.Summary.Gates, out.Summary.Decoded, out.Duration)
	return out, nil
}

func (p *Processor) weakQuality(res *sz.GateResult) moments.Value {
	if len(p.quality) == 0 || !res.Decoded() {
		return moments.None()
	}
	q, err := interest.Combine(p.quality, []moments.Value{res.StrongToWeakDb, res.Leakage})
	if err != nil {
		return moments.None()
	}
	return moments.Some(q)
}
