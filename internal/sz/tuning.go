package sz

import (
	"fmt"

	"github.com/banshee-data/sz864/internal/config"
	"github.com/banshee-data/sz864/internal/monitoring"
	"github.com/banshee-data/sz864/internal/sz/clutter"
	"github.com/banshee-data/sz864/internal/sz/moments"
	"github.com/banshee-data/sz864/internal/sz/window"
)

// TablesFromTuning builds shared tables for the configured dwell length and
// phase convention.
func TablesFromTuning(cfg *config.TuningConfig) (*Tables, error) {
	return NewTables(cfg.GetNSamples(), cfg.GetNegatePhaseCodes())
}

// ClutterParamsFromTuning returns the single-trip and SZ clutter notch
// parameters.
func ClutterParamsFromTuning(cfg *config.TuningConfig) (plain, sz clutter.Params) {
	plain = clutter.Params{
		MaxClutterVel:    cfg.GetMaxClutterVel(),
		InitNotchWidth:   cfg.GetInitNotchWidth(),
		MaxNotchWidth:    cfg.GetMaxNotchWidth(),
		DbForDbRatio:     cfg.GetDbForDbRatio(),
		DbForDbThreshold: cfg.GetDbForDbThreshold(),
	}
	sz = plain
	sz.MaxClutterVel = cfg.GetSzMaxClutterVel()
	sz.InitNotchWidth = cfg.GetSzInitNotchWidth()
	return plain, sz
}

// SeparatorFromTuning returns a separator over tables configured from cfg.
// The tables must have been built with the same dwell length and phase
// convention. Per-gate logging follows monitoring.DebugEnabled.
func SeparatorFromTuning(tables *Tables, cfg *config.TuningConfig) (*Separator, error) {
	if tables.N() != cfg.GetNSamples() {
		return nil, fmt.Errorf("%w: tables have %d samples, config %d", ErrSizeMismatch, tables.N(), cfg.GetNSamples())
	}
	s, err := NewSeparator(tables)
	if err != nil {
		return nil, err
	}
	if err := s.SetSzNegatePhaseCodes(cfg.GetNegatePhaseCodes()); err != nil {
		return nil, err
	}

	wt, err := window.ParseType(cfg.GetSzWindow())
	if err != nil {
		return nil, err
	}
	if err := s.SetSzWindow(wt); err != nil {
		return nil, err
	}
	method, err := moments.ParseMethod(cfg.GetMomentsMethod())
	if err != nil {
		return nil, err
	}
	if err := s.SetMomentsMethod(method); err != nil {
		return nil, err
	}

	plain, szp := ClutterParamsFromTuning(cfg)
	if err := s.SetClutterParams(plain); err != nil {
		return nil, err
	}
	if err := s.SetSzClutterParams(szp); err != nil {
		return nil, err
	}

	s.SetWavelength(cfg.GetWavelengthM())
	s.SetChangeVelocitySign(cfg.GetChangeVelocitySign())
	s.SetDebug(monitoring.DebugEnabled())
	th := s.Thresholds()
	th.NoiseDbm = cfg.GetNoiseDbm()
	th.SnrThresholdDb = cfg.GetSnrThresholdDb()
	th.StrongToWeakDb = cfg.GetStrongToWeakDb()
	th.OutOfTripPowerRatioDb = cfg.GetOutOfTripDb()
	th.OutOfTripNReplicas = cfg.GetOutOfTripNReplicas()
	if err := s.setThresholds(th); err != nil {
		return nil, err
	}
	return s, nil
}
