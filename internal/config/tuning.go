package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig is the root configuration for trip separation. Every field
// is optional; the Get* accessors supply the operational default for any
// field left unset, so partial files are safe.
type TuningConfig struct {
	// Dwell geometry
	NSamples    *int     `json:"n_samples,omitempty" yaml:"n_samples,omitempty"`
	WavelengthM *float64 `json:"wavelength_m,omitempty" yaml:"wavelength_m,omitempty"`
	PrtSecs     *float64 `json:"prt_secs,omitempty" yaml:"prt_secs,omitempty"`

	// Censoring thresholds
	NoiseDbm           *float64 `json:"noise_dbm,omitempty" yaml:"noise_dbm,omitempty"`
	SnrThresholdDb     *float64 `json:"snr_threshold_db,omitempty" yaml:"snr_threshold_db,omitempty"`
	StrongToWeakDb     *float64 `json:"strong_to_weak_db,omitempty" yaml:"strong_to_weak_db,omitempty"`
	OutOfTripDb        *float64 `json:"out_of_trip_db,omitempty" yaml:"out_of_trip_db,omitempty"`
	OutOfTripNReplicas *int     `json:"out_of_trip_n_replicas,omitempty" yaml:"out_of_trip_n_replicas,omitempty"`

	// Decode options
	NegatePhaseCodes   *bool   `json:"negate_phase_codes,omitempty" yaml:"negate_phase_codes,omitempty"`
	SzWindow           *string `json:"sz_window,omitempty" yaml:"sz_window,omitempty"`           // rect, vonhann or blackman
	MomentsMethod      *string `json:"moments_method,omitempty" yaml:"moments_method,omitempty"` // pulsepair or spectral
	ChangeVelocitySign *bool   `json:"change_velocity_sign,omitempty" yaml:"change_velocity_sign,omitempty"`

	// Clutter notch, in m/s
	MaxClutterVel    *float64 `json:"max_clutter_vel,omitempty" yaml:"max_clutter_vel,omitempty"`
	InitNotchWidth   *float64 `json:"init_notch_width,omitempty" yaml:"init_notch_width,omitempty"`
	SzMaxClutterVel  *float64 `json:"sz_max_clutter_vel,omitempty" yaml:"sz_max_clutter_vel,omitempty"`
	SzInitNotchWidth *float64 `json:"sz_init_notch_width,omitempty" yaml:"sz_init_notch_width,omitempty"`
	MaxNotchWidth    *float64 `json:"max_notch_width,omitempty" yaml:"max_notch_width,omitempty"`
	DbForDbRatio     *float64 `json:"db_for_db_ratio,omitempty" yaml:"db_for_db_ratio,omitempty"`
	DbForDbThreshold *float64 `json:"db_for_db_threshold,omitempty" yaml:"db_for_db_threshold,omitempty"`

	// Beam processing
	Workers       *int    `json:"workers,omitempty" yaml:"workers,omitempty"`
	VelocityUnits *string `json:"velocity_units,omitempty" yaml:"velocity_units,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a config with every field set to its default.
func DefaultTuningConfig() *TuningConfig {
	e := EmptyTuningConfig()
	return &TuningConfig{
		NSamples:           ptrInt(e.GetNSamples()),
		WavelengthM:        ptrFloat64(e.GetWavelengthM()),
		PrtSecs:            ptrFloat64(e.GetPrtSecs()),
		NoiseDbm:           ptrFloat64(e.GetNoiseDbm()),
		SnrThresholdDb:     ptrFloat64(e.GetSnrThresholdDb()),
		StrongToWeakDb:     ptrFloat64(e.GetStrongToWeakDb()),
		OutOfTripDb:        ptrFloat64(e.GetOutOfTripDb()),
		OutOfTripNReplicas: ptrInt(e.GetOutOfTripNReplicas()),
		NegatePhaseCodes:   ptrBool(e.GetNegatePhaseCodes()),
		SzWindow:           ptrString(e.GetSzWindow()),
		MomentsMethod:      ptrString(e.GetMomentsMethod()),
		ChangeVelocitySign: ptrBool(e.GetChangeVelocitySign()),
		MaxClutterVel:      ptrFloat64(e.GetMaxClutterVel()),
		InitNotchWidth:     ptrFloat64(e.GetInitNotchWidth()),
		SzMaxClutterVel:    ptrFloat64(e.GetSzMaxClutterVel()),
		SzInitNotchWidth:   ptrFloat64(e.GetSzInitNotchWidth()),
		MaxNotchWidth:      ptrFloat64(e.GetMaxNotchWidth()),
		DbForDbRatio:       ptrFloat64(e.GetDbForDbRatio()),
		DbForDbThreshold:   ptrFloat64(e.GetDbForDbThreshold()),
		Workers:            ptrInt(e.GetWorkers()),
		VelocityUnits:      ptrString(e.GetVelocityUnits()),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON or YAML file, chosen by
// extension (.json, .yaml or .yml). Files over 1MB are rejected. Fields
// omitted from the file keep their defaults.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", strings.TrimPrefix(ext, "."), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/sz/clutter/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the values that can be checked without building tables.
// Window, method and unit names are checked where they are parsed. Some
// multiples of 8 (16, 32, 40) pass here but give a singular deconvolution
// matrix; they are rejected when the tables are built.
func (c *TuningConfig) Validate() error {
	if c.NSamples != nil {
		if n := *c.NSamples; n <= 0 || n%8 != 0 {
			return fmt.Errorf("n_samples must be a positive multiple of 8, got %d", n)
		}
	}
	if c.WavelengthM != nil && !(*c.WavelengthM > 0) {
		return fmt.Errorf("wavelength_m must be positive, got %f", *c.WavelengthM)
	}
	if c.PrtSecs != nil && !(*c.PrtSecs > 0) {
		return fmt.Errorf("prt_secs must be positive, got %f", *c.PrtSecs)
	}
	if c.OutOfTripNReplicas != nil {
		if n := *c.OutOfTripNReplicas; n < 1 || n > 6 {
			return fmt.Errorf("out_of_trip_n_replicas must be between 1 and 6, got %d", n)
		}
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}

	for name, v := range map[string]*float64{
		"noise_dbm":           c.NoiseDbm,
		"snr_threshold_db":    c.SnrThresholdDb,
		"strong_to_weak_db":   c.StrongToWeakDb,
		"out_of_trip_db":      c.OutOfTripDb,
		"db_for_db_threshold": c.DbForDbThreshold,
	} {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return fmt.Errorf("%s must be finite, got %f", name, *v)
		}
	}
	for name, v := range map[string]*float64{
		"max_clutter_vel":    c.MaxClutterVel,
		"sz_max_clutter_vel": c.SzMaxClutterVel,
		"db_for_db_ratio":    c.DbForDbRatio,
	} {
		if v != nil && !(*v >= 0) {
			return fmt.Errorf("%s must be non-negative, got %f", name, *v)
		}
	}
	for name, v := range map[string]*float64{
		"init_notch_width":    c.InitNotchWidth,
		"sz_init_notch_width": c.SzInitNotchWidth,
		"max_notch_width":     c.MaxNotchWidth,
	} {
		if v != nil && !(*v > 0) {
			return fmt.Errorf("%s must be positive, got %f", name, *v)
		}
	}
	if maxW := c.GetMaxNotchWidth(); maxW < c.GetInitNotchWidth() || maxW < c.GetSzInitNotchWidth() {
		return fmt.Errorf("max_notch_width %f is below an initial notch width", maxW)
	}
	return nil
}

// GetNSamples returns the n_samples value or the default.
func (c *TuningConfig) GetNSamples() int {
	if c.NSamples == nil {
		return 64
	}
	return *c.NSamples
}

// GetWavelengthM returns the wavelength_m value or the default (S band).
func (c *TuningConfig) GetWavelengthM() float64 {
	if c.WavelengthM == nil {
		return 0.1068
	}
	return *c.WavelengthM
}

// GetPrtSecs returns the prt_secs value or the default.
func (c *TuningConfig) GetPrtSecs() float64 {
	if c.PrtSecs == nil {
		return 0.001
	}
	return *c.PrtSecs
}

// GetNoiseDbm returns the noise_dbm value or the default.
func (c *TuningConfig) GetNoiseDbm() float64 {
	if c.NoiseDbm == nil {
		return -113
	}
	return *c.NoiseDbm
}

// GetSnrThresholdDb returns the snr_threshold_db value or the default.
func (c *TuningConfig) GetSnrThresholdDb() float64 {
	if c.SnrThresholdDb == nil {
		return 3
	}
	return *c.SnrThresholdDb
}

// GetStrongToWeakDb returns the strong_to_weak_db value or the default.
func (c *TuningConfig) GetStrongToWeakDb() float64 {
	if c.StrongToWeakDb == nil {
		return 45
	}
	return *c.StrongToWeakDb
}

// GetOutOfTripDb returns the out_of_trip_db value or the default.
func (c *TuningConfig) GetOutOfTripDb() float64 {
	if c.OutOfTripDb == nil {
		return 6
	}
	return *c.OutOfTripDb
}

// GetOutOfTripNReplicas returns the out_of_trip_n_replicas value or the default.
func (c *TuningConfig) GetOutOfTripNReplicas() int {
	if c.OutOfTripNReplicas == nil {
		return 3
	}
	return *c.OutOfTripNReplicas
}

// GetNegatePhaseCodes returns the negate_phase_codes value or the default.
func (c *TuningConfig) GetNegatePhaseCodes() bool {
	if c.NegatePhaseCodes == nil {
		return false
	}
	return *c.NegatePhaseCodes
}

// GetSzWindow returns the sz_window value or the default.
func (c *TuningConfig) GetSzWindow() string {
	if c.SzWindow == nil || *c.SzWindow == "" {
		return "vonhann"
	}
	return *c.SzWindow
}

// GetMomentsMethod returns the moments_method value or the default.
func (c *TuningConfig) GetMomentsMethod() string {
	if c.MomentsMethod == nil || *c.MomentsMethod == "" {
		return "pulsepair"
	}
	return *c.MomentsMethod
}

// GetChangeVelocitySign returns the change_velocity_sign value or the default.
func (c *TuningConfig) GetChangeVelocitySign() bool {
	if c.ChangeVelocitySign == nil {
		return false
	}
	return *c.ChangeVelocitySign
}

// GetMaxClutterVel returns the max_clutter_vel value or the default.
func (c *TuningConfig) GetMaxClutterVel() float64 {
	if c.MaxClutterVel == nil {
		return 1.0
	}
	return *c.MaxClutterVel
}

// GetInitNotchWidth returns the init_notch_width value or the default.
func (c *TuningConfig) GetInitNotchWidth() float64 {
	if c.InitNotchWidth == nil {
		return 1.5
	}
	return *c.InitNotchWidth
}

// GetSzMaxClutterVel returns the sz_max_clutter_vel value or the default.
func (c *TuningConfig) GetSzMaxClutterVel() float64 {
	if c.SzMaxClutterVel == nil {
		return 2.0
	}
	return *c.SzMaxClutterVel
}

// GetSzInitNotchWidth returns the sz_init_notch_width value or the default.
func (c *TuningConfig) GetSzInitNotchWidth() float64 {
	if c.SzInitNotchWidth == nil {
		return 2.5
	}
	return *c.SzInitNotchWidth
}

// GetMaxNotchWidth returns the max_notch_width value or the default.
func (c *TuningConfig) GetMaxNotchWidth() float64 {
	if c.MaxNotchWidth == nil {
		return 16.0
	}
	return *c.MaxNotchWidth
}

// GetDbForDbRatio returns the db_for_db_ratio value or the default.
func (c *TuningConfig) GetDbForDbRatio() float64 {
	if c.DbForDbRatio == nil {
		return 0.2
	}
	return *c.DbForDbRatio
}

// GetDbForDbThreshold returns the db_for_db_threshold value or the default.
func (c *TuningConfig) GetDbForDbThreshold() float64 {
	if c.DbForDbThreshold == nil {
		return 30
	}
	return *c.DbForDbThreshold
}

// GetWorkers returns the workers value or the default. Zero means one
// worker per CPU.
func (c *TuningConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

// GetVelocityUnits returns the velocity_units value or the default.
func (c *TuningConfig) GetVelocityUnits() string {
	if c.VelocityUnits == nil || *c.VelocityUnits == "" {
		return "mps"
	}
	return *c.VelocityUnits
}
