// Command szsim synthesizes a beam of SZ(8/64) phase-coded dwells, separates
// the trips and reports the per-gate moments. It can archive the run to
// SQLite, render a chosen gate's spectra as PNG or HTML and serve the result
// over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"

	"github.com/banshee-data/sz864/internal/api"
	"github.com/banshee-data/sz864/internal/beam"
	"github.com/banshee-data/sz864/internal/config"
	"github.com/banshee-data/sz864/internal/diag"
	"github.com/banshee-data/sz864/internal/fsutil"
	"github.com/banshee-data/sz864/internal/metrics"
	"github.com/banshee-data/sz864/internal/monitoring"
	"github.com/banshee-data/sz864/internal/security"
	"github.com/banshee-data/sz864/internal/store"
	"github.com/banshee-data/sz864/internal/sz/phasecode"
	"github.com/banshee-data/sz864/internal/synth"
	"github.com/banshee-data/sz864/internal/units"
	"github.com/banshee-data/sz864/internal/version"
)

// outputFS receives the rendered PNG and HTML reports.
var outputFS fsutil.FileSystem = fsutil.OSFileSystem{}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatalf("szsim: %v", err)
	}
}

type options struct {
	configPath string
	gates      int
	v1, p1     float64
	v2, p2     float64
	trip2      bool
	ramp       float64
	clutter    *float64
	noise      *float64
	seed       uint64
	unit       string
	workers    int
	dbPath     string
	note       string
	gate       int
	pngPath    string
	htmlPath   string
	beamHTML   string
	spectra    bool
	listen     string
	metrics    bool
	debug      bool
	version    bool
}

func optionalFloat(dst **float64) func(string) error {
	return func(s string) error {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*dst = &v
		return nil
	}
}

func parseFlags(args []string, out io.Writer) (*options, error) {
	var o options
	fs := flag.NewFlagSet("szsim", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&o.configPath, "config", "", "tuning config (.json or .yaml); defaults when empty")
	fs.IntVar(&o.gates, "gates", 16, "number of gates in the beam")
	fs.Float64Var(&o.v1, "v1", 10, "trip-1 velocity (m/s)")
	fs.Float64Var(&o.p1, "p1", 0, "trip-1 power (dBm)")
	fs.Float64Var(&o.v2, "v2", -7, "trip-2 velocity (m/s)")
	fs.Float64Var(&o.p2, "p2", -10, "trip-2 power (dBm)")
	fs.BoolVar(&o.trip2, "trip2", true, "include a trip-2 target")
	fs.Float64Var(&o.ramp, "ramp", 0, "velocity added to both trips per gate (m/s)")
	fs.Func("clutter", "zero-velocity clutter power on trip 1 (dBm); none when unset", optionalFloat(&o.clutter))
	fs.Func("noise", "receiver noise (dBm); the config noise level when unset", optionalFloat(&o.noise))
	fs.Uint64Var(&o.seed, "seed", 1, "random seed for target phases and noise")
	fs.StringVar(&o.unit, "units", "", "velocity units for the report ("+units.GetValidUnitsString()+"); config value when empty")
	fs.IntVar(&o.workers, "workers", 0, "separation workers; config value when 0")
	fs.StringVar(&o.dbPath, "db", "", "archive the run to this SQLite file")
	fs.StringVar(&o.note, "note", "", "note stored with the archived run")
	fs.IntVar(&o.gate, "gate", 0, "gate whose spectra are rendered")
	fs.StringVar(&o.pngPath, "png", "", "write the chosen gate's spectra to this PNG file")
	fs.StringVar(&o.htmlPath, "html", "", "write the chosen gate's spectra to this HTML file")
	fs.StringVar(&o.beamHTML, "beam-html", "", "write per-gate velocities to this HTML file")
	fs.BoolVar(&o.spectra, "spectra", false, "print the chosen gate's spectra as text")
	fs.BoolVar(&o.metrics, "metrics", false, "print processing counters at the end")
	fs.StringVar(&o.listen, "listen", "", "after processing, serve the beam on this address until interrupted")
	fs.BoolVar(&o.debug, "debug", false, "log per-gate decode details")
	fs.BoolVar(&o.version, "version", false, "print the version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if o.gates <= 0 {
		return nil, fmt.Errorf("-gates must be positive, got %d", o.gates)
	}
	if o.gate < 0 || o.gate >= o.gates {
		return nil, fmt.Errorf("-gate %d outside 0..%d", o.gate, o.gates-1)
	}
	for name, path := range map[string]string{"db": o.dbPath, "png": o.pngPath, "html": o.htmlPath, "beam-html": o.beamHTML} {
		if path == "" {
			continue
		}
		if err := security.ValidateExportPath(path); err != nil {
			return nil, fmt.Errorf("-%s: %w", name, err)
		}
	}
	return &o, nil
}

func loadConfig(o *options) (*config.TuningConfig, error) {
	if o.configPath == "" {
		return config.DefaultTuningConfig(), nil
	}
	return config.LoadTuningConfig(o.configPath)
}

func buildBeam(o *options, cfg *config.TuningConfig) ([][]complex128, error) {
	codes, err := phasecode.Generate(cfg.GetNSamples(), cfg.GetNegatePhaseCodes())
	if err != nil {
		return nil, err
	}
	noise := cfg.GetNoiseDbm()
	if o.noise != nil {
		noise = *o.noise
	}
	gen, err := synth.New(codes, cfg.GetWavelengthM(), cfg.GetPrtSecs(), noise, o.seed)
	if err != nil {
		return nil, err
	}

	gates := make([]synth.Gate, o.gates)
	for i := range gates {
		dv := o.ramp * float64(i)
		gates[i] = synth.Gate{
			Trip1:      &synth.Target{VelocityMps: o.v1 + dv, PowerDbm: o.p1},
			ClutterDbm: o.clutter,
		}
		if o.trip2 {
			gates[i].Trip2 = &synth.Target{VelocityMps: o.v2 + dv, PowerDbm: o.p2}
		}
	}
	return gen.Beam(gates), nil
}

func run(ctx context.Context, args []string, out io.Writer) error {
	o, err := parseFlags(args, out)
	if err != nil {
		return err
	}
	if o.version {
		_, err := fmt.Fprintf(out, "szsim %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return err
	}
	monitoring.SetDebug(o.debug)

	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}
	unit := o.unit
	if unit == "" {
		unit = cfg.GetVelocityUnits()
	}
	if unit, err = units.ParseSpeedUnit(unit); err != nil {
		return err
	}

	gates, err := buildBeam(o, cfg)
	if err != nil {
		return err
	}

	m := metrics.New()
	ratio, leakage, err := beam.DefaultQualityMaps(cfg.GetStrongToWeakDb())
	if err != nil {
		return err
	}
	popts := []beam.Option{beam.WithMetrics(m), beam.WithQualityMaps(ratio, leakage)}
	if o.workers > 0 {
		popts = append(popts, beam.WithWorkers(o.workers))
	}
	proc, err := beam.NewProcessor(cfg, popts...)
	if err != nil {
		return err
	}
	res, err := proc.Process(ctx, beam.Beam{Gates: gates})
	if err != nil {
		return err
	}

	if err := diag.WriteBeamTable(out, res, unit); err != nil {
		return err
	}
	if err := renderGate(o, cfg, res, out); err != nil {
		return err
	}
	if o.beamHTML != "" {
		if err := fsutil.WriteRendered(outputFS, o.beamHTML, func(w io.Writer) error {
			return diag.WriteBeamHTML(w, "szsim beam", res, unit)
		}); err != nil {
			return err
		}
	}

	if o.dbPath != "" {
		st, err := store.Open(o.dbPath)
		if err != nil {
			return err
		}
		defer st.Close()
		id, err := st.SaveRun(ctx, cfg, res, o.note)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "archived run %s to %s\n", id, o.dbPath)
	}

	if o.metrics {
		if err := m.WriteSummary(out); err != nil {
			return err
		}
	}

	if o.listen != "" {
		srv := api.NewServer(m, unit)
		srv.SetResult(res, units.NyquistVelocity(cfg.GetWavelengthM(), res.PrtSecs))
		return srv.Run(ctx, o.listen)
	}
	return nil
}

func renderGate(o *options, cfg *config.TuningConfig, res *beam.Result, out io.Writer) error {
	if !o.spectra && o.pngPath == "" && o.htmlPath == "" {
		return nil
	}
	nyq := units.NyquistVelocity(cfg.GetWavelengthM(), res.PrtSecs)
	spectra, err := diag.GateSpectra(res.Gates[o.gate], nyq)
	if err != nil {
		return err
	}
	title := fmt.Sprintf("gate %d", o.gate)

	if o.spectra {
		if err := diag.WriteSpectraText(out, spectra); err != nil {
			return err
		}
	}
	if o.pngPath != "" {
		if err := fsutil.WriteRendered(outputFS, o.pngPath, func(w io.Writer) error {
			return diag.WriteSpectraPNG(w, title, spectra)
		}); err != nil {
			return err
		}
	}
	if o.htmlPath != "" {
		return fsutil.WriteRendered(outputFS, o.htmlPath, func(w io.Writer) error {
			return diag.WriteSpectraHTML(w, title, spectra)
		})
	}
	return nil
}
