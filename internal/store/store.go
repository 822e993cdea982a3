// Package store archives separated beams in SQLite. The schema is managed by
// golang-migrate from migrations embedded in the binary.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/sz864/internal/beam"
	"github.com/banshee-data/sz864/internal/config"
	"github.com/banshee-data/sz864/internal/monitoring"
	"github.com/banshee-data/sz864/internal/sz"
	"github.com/banshee-data/sz864/internal/sz/censor"
	"github.com/banshee-data/sz864/internal/sz/moments"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("store: run not found")

// Store is an open results archive.
type Store struct {
	db *sql.DB
}

// Open opens or creates the archive at path and migrates it to the latest
// schema. Use ":memory:" for a throwaway archive.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// One connection: keeps ":memory:" databases alive and serialises writers.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the archive.
func (s *Store) Close() error { return s.db.Close() }

// MigrateUp applies all pending migrations.
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: closing it would close the shared connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the schema version and dirty flag, or 0 for an
// empty database.
func (s *Store) MigrateVersion() (version uint, dirty bool, err error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...any) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }

// Run is an archived beam's header.
type Run struct {
	ID          uuid.UUID
	StartedAt   time.Time
	Duration    time.Duration
	NSamples    int
	PrtSecs     float64
	WavelengthM float64
	Gates       int
	Decoded     int
	Note        string
	Config      *config.TuningConfig
}

// GateTrip is one trip's archived estimate for a gate.
type GateTrip struct {
	Gate            int
	Trip            int
	Strong          bool
	PowerDbm        moments.Value
	VelocityMps     moments.Value
	WidthMps        moments.Value
	Flags           censor.Flags
	ClutterFiltered bool
	ClutterDb       moments.Value
}

// Gate is one gate's archived decode figures.
type Gate struct {
	Gate           int
	StrongTrip     int
	TotalPowerDbm  moments.Value
	StrongToWeakDb moments.Value
	Leakage        moments.Value
	NotchStart     int
	WeakQuality    moments.Value
}

// SaveRun archives res under a new run ID. cfg is stored alongside for
// reproduction and may be nil.
func (s *Store) SaveRun(ctx context.Context, cfg *config.TuningConfig, res *beam.Result, note string) (uuid.UUID, error) {
	if res == nil || len(res.Gates) == 0 {
		return uuid.Nil, fmt.Errorf("store: nothing to save")
	}
	if cfg == nil {
		cfg = config.EmptyTuningConfig()
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode config: %w", err)
	}
	id := uuid.New()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, started_at, duration_ms, n_samples, prt_secs, wavelength_m, gates, decoded, note, config_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id.String(), res.Started.UTC().Format(time.RFC3339Nano),
		float64(res.Duration)/float64(time.Millisecond),
		res.NSamples, res.PrtSecs, cfg.GetWavelengthM(),
		res.Summary.Gates, res.Summary.Decoded, note, string(cfgJSON))
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert run: %w", err)
	}

	gateStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO gates (run_id, gate, strong_trip, total_power_dbm, strong_to_weak_db, leakage, notch_start, weak_quality)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return uuid.Nil, err
	}
	defer gateStmt.Close()
	tripStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO gate_trips (run_id, gate, trip, strong, power_dbm, velocity_mps, width_mps, flags, clutter_filtered, clutter_db)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return uuid.Nil, err
	}
	defer tripStmt.Close()

	for i, g := range res.Gates {
		quality := moments.None()
		if i < len(res.WeakQuality) {
			quality = res.WeakQuality[i]
		}
		if _, err := gateStmt.ExecContext(ctx, id.String(), i, g.StrongTrip,
			nullable(g.TotalPowerDbm), nullable(g.StrongToWeakDb), nullable(g.Leakage),
			g.NotchStart, nullable(quality)); err != nil {
			return uuid.Nil, fmt.Errorf("insert gate %d: %w", i, err)
		}
		for _, e := range []*sz.TripEstimate{&g.Trip1, &g.Trip2} {
			if _, err := tripStmt.ExecContext(ctx, id.String(), i, e.Trip, g.StrongTrip == e.Trip,
				nullable(e.PowerDbm), nullable(e.Velocity), nullable(e.Width),
				int(e.Flags), e.Clutter.Filtered(), nullable(e.Clutter.ClutterDb)); err != nil {
				return uuid.Nil, fmt.Errorf("insert gate %d trip %d: %w", i, e.Trip, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, err
	}
	monitoring.Debugf("[store] saved run %s (%d gates)", id, len(res.Gates))
	return id, nil
}

// Run returns the header of run id.
func (s *Store) Run(ctx context.Context, id uuid.UUID) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, started_at, duration_ms, n_samples, prt_secs, wavelength_m, gates, decoded, note, config_json
		FROM runs WHERE run_id = ?`, id.String())
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, err
}

// ListRuns returns up to limit runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, started_at, duration_ms, n_samples, prt_secs, wavelength_m, gates, decoded, note, config_json
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run and its gates.
func (s *Store) DeleteRun(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, id.String())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// GateTrips returns every archived trip estimate of run id, ordered by gate
// then trip.
func (s *Store) GateTrips(ctx context.Context, id uuid.UUID) ([]GateTrip, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT gate, trip, strong, power_dbm, velocity_mps, width_mps, flags, clutter_filtered, clutter_db
		FROM gate_trips WHERE run_id = ? ORDER BY gate, trip`, id.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GateTrip
	for rows.Next() {
		var (
			gt                        GateTrip
			power, vel, width, clutDb sql.NullFloat64
			flags                     int
		)
		if err := rows.Scan(&gt.Gate, &gt.Trip, &gt.Strong, &power, &vel, &width, &flags, &gt.ClutterFiltered, &clutDb); err != nil {
			return nil, err
		}
		gt.PowerDbm, gt.VelocityMps, gt.WidthMps, gt.ClutterDb = value(power), value(vel), value(width), value(clutDb)
		gt.Flags = censor.Flags(flags)
		out = append(out, gt)
	}
	return out, rows.Err()
}

// Gates returns the per-gate decode figures of run id, ordered by gate.
func (s *Store) Gates(ctx context.Context, id uuid.UUID) ([]Gate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT gate, strong_trip, total_power_dbm, strong_to_weak_db, leakage, notch_start, weak_quality
		FROM gates WHERE run_id = ? ORDER BY gate`, id.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Gate
	for rows.Next() {
		var (
			g                             Gate
			total, ratio, leakage, weakQ sql.NullFloat64
		)
		if err := rows.Scan(&g.Gate, &g.StrongTrip, &total, &ratio, &leakage, &g.NotchStart, &weakQ); err != nil {
			return nil, err
		}
		g.TotalPowerDbm, g.StrongToWeakDb, g.Leakage, g.WeakQuality = value(total), value(ratio), value(leakage), value(weakQ)
		out = append(out, g)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		r                 Run
		id, started, conf string
		durMs             float64
	)
	if err := sc.Scan(&id, &started, &durMs, &r.NSamples, &r.PrtSecs, &r.WavelengthM, &r.Gates, &r.Decoded, &r.Note, &conf); err != nil {
		return nil, err
	}
	var err error
	if r.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("run id %q: %w", id, err)
	}
	if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return nil, fmt.Errorf("run %s started_at: %w", id, err)
	}
	r.Duration = time.Duration(durMs * float64(time.Millisecond))
	r.Config = config.EmptyTuningConfig()
	if err := json.Unmarshal([]byte(conf), r.Config); err != nil {
		return nil, fmt.Errorf("run %s config: %w", id, err)
	}
	return &r, nil
}

func nullable(v moments.Value) sql.NullFloat64 {
	f, ok := v.Get()
	return sql.NullFloat64{Float64: f, Valid: ok}
}

func value(n sql.NullFloat64) moments.Value {
	if !n.Valid {
		return moments.None()
	}
	return moments.Some(n.Float64)
}
