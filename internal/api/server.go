// Package api serves the most recent separated beam over HTTP: JSON gate
// moments, interactive charts, PNG spectra and the processing metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/sz864/internal/beam"
	"github.com/banshee-data/sz864/internal/diag"
	"github.com/banshee-data/sz864/internal/httputil"
	"github.com/banshee-data/sz864/internal/metrics"
	"github.com/banshee-data/sz864/internal/monitoring"
	"github.com/banshee-data/sz864/internal/sz"
	"github.com/banshee-data/sz864/internal/sz/moments"
	"github.com/banshee-data/sz864/internal/units"
)

// ANSI escape codes for the request log
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// Server holds the beam being served. It is safe for concurrent use.
type Server struct {
	metrics *metrics.Metrics
	units   string

	mu      sync.RWMutex
	result  *beam.Result
	nyquist float64
}

// NewServer returns a server reporting velocities in units. m may be nil.
func NewServer(m *metrics.Metrics, units string) *Server {
	return &Server{metrics: m, units: units}
}

// SetResult replaces the served beam. nyquist is the beam's unambiguous
// velocity in m/s, used to label spectra.
func (s *Server) SetResult(res *beam.Result, nyquist float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = res
	s.nyquist = nyquist
}

func (s *Server) current() (*beam.Result, float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result, s.nyquist
}

// ServeMux returns the routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/beam", s.showBeam)
	mux.HandleFunc("GET /api/gates/{gate}", s.showGate)
	mux.HandleFunc("GET /charts/beam", s.beamChart)
	mux.HandleFunc("GET /charts/gates/{gate}", s.gateChart)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return mux
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           LoggingMiddleware(s.ServeMux()),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	monitoring.Logf("[api] listening on %s", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf("[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6)
	})
}

// TripJSON is one trip's moments. Absent moments are null.
type TripJSON struct {
	Trip     int      `json:"trip"`
	PowerDbm *float64 `json:"power_dbm"`
	Velocity *float64 `json:"velocity"`
	Width    *float64 `json:"width"`
	Flags    string   `json:"flags"`
	Usable   bool     `json:"usable"`
	Clutter  bool     `json:"clutter_filtered"`
}

// GateJSON is one gate's decode.
type GateJSON struct {
	Gate           int        `json:"gate"`
	StrongTrip     int        `json:"strong_trip"`
	TotalPowerDbm  *float64   `json:"total_power_dbm"`
	StrongToWeakDb *float64   `json:"strong_to_weak_db"`
	Leakage        *float64   `json:"leakage"`
	NotchStart     int        `json:"notch_start"`
	WeakQuality    *float64   `json:"weak_quality"`
	ReplicaPeaksDb []*float64 `json:"replica_peaks_db,omitempty"`
	Trips          []TripJSON `json:"trips"`
}

// BeamJSON is the served beam.
type BeamJSON struct {
	Started    time.Time    `json:"started"`
	DurationMs float64      `json:"duration_ms"`
	NSamples   int          `json:"n_samples"`
	PrtSecs    float64      `json:"prt_secs"`
	Units      string       `json:"units"`
	Summary    beam.Summary `json:"summary"`
	Gates      []GateJSON   `json:"gates"`
}

func optional(v moments.Value) *float64 {
	f, ok := v.Get()
	if !ok {
		return nil
	}
	return &f
}

func (s *Server) tripJSON(e *sz.TripEstimate) TripJSON {
	vel := e.Velocity.Map(func(v float64) float64 { return units.ConvertSpeed(v, s.units) })
	width := e.Width.Map(func(v float64) float64 { return units.ConvertSpeed(v, s.units) })
	return TripJSON{
		Trip:     e.Trip,
		PowerDbm: optional(e.PowerDbm),
		Velocity: optional(vel),
		Width:    optional(width),
		Flags:    e.Flags.String(),
		Usable:   e.Usable(),
		Clutter:  e.Clutter.Filtered(),
	}
}

func (s *Server) gateJSON(res *beam.Result, i int) GateJSON {
	g := res.Gates[i]
	out := GateJSON{
		Gate:           i,
		StrongTrip:     g.StrongTrip,
		TotalPowerDbm:  optional(g.TotalPowerDbm),
		StrongToWeakDb: optional(g.StrongToWeakDb),
		Leakage:        optional(g.Leakage),
		NotchStart:     g.NotchStart,
		Trips:          []TripJSON{s.tripJSON(&g.Trip1), s.tripJSON(&g.Trip2)},
	}
	if i < len(res.WeakQuality) {
		out.WeakQuality = optional(res.WeakQuality[i])
	}
	return out
}

func (s *Server) showBeam(w http.ResponseWriter, r *http.Request) {
	res, _ := s.current()
	if res == nil {
		httputil.NotFound(w, "no beam processed yet")
		return
	}
	out := BeamJSON{
		Started:    res.Started,
		DurationMs: float64(res.Duration.Nanoseconds()) / 1e6,
		NSamples:   res.NSamples,
		PrtSecs:    res.PrtSecs,
		Units:      s.units,
		Summary:    res.Summary,
		Gates:      make([]GateJSON, len(res.Gates)),
	}
	for i := range res.Gates {
		out.Gates[i] = s.gateJSON(res, i)
	}
	httputil.WriteJSONOK(w, out)
}

// gateFromPath resolves the {gate} path value, writing the error response
// itself when it cannot.
func (s *Server) gateFromPath(w http.ResponseWriter, r *http.Request) (*beam.Result, float64, int, bool) {
	res, nyq := s.current()
	if res == nil {
		httputil.NotFound(w, "no beam processed yet")
		return nil, 0, 0, false
	}
	i, err := strconv.Atoi(r.PathValue("gate"))
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid gate %q", r.PathValue("gate")))
		return nil, 0, 0, false
	}
	if i < 0 || i >= len(res.Gates) {
		httputil.NotFound(w, fmt.Sprintf("gate %d outside 0..%d", i, len(res.Gates)-1))
		return nil, 0, 0, false
	}
	return res, nyq, i, true
}

func (s *Server) showGate(w http.ResponseWriter, r *http.Request) {
	res, _, i, ok := s.gateFromPath(w, r)
	if !ok {
		return
	}
	out := s.gateJSON(res, i)
	// Silent replica slots are -Inf, which JSON cannot carry.
	for _, db := range res.Gates[i].ReplicaPeaksDb {
		out.ReplicaPeaksDb = append(out.ReplicaPeaksDb, optional(moments.Some(db)))
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) beamChart(w http.ResponseWriter, r *http.Request) {
	res, _ := s.current()
	if res == nil {
		httputil.NotFound(w, "no beam processed yet")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := diag.WriteBeamHTML(w, "Beam velocities", res, s.units); err != nil {
		monitoring.Logf("[api] beam chart: %v", err)
	}
}

func (s *Server) gateChart(w http.ResponseWriter, r *http.Request) {
	res, nyq, i, ok := s.gateFromPath(w, r)
	if !ok {
		return
	}
	spectra, err := diag.GateSpectra(res.Gates[i], nyq)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	title := fmt.Sprintf("Gate %d", i)

	switch format := r.URL.Query().Get("format"); format {
	case "", "html":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		err = diag.WriteSpectraHTML(w, title, spectra)
	case "png":
		w.Header().Set("Content-Type", "image/png")
		err = diag.WriteSpectraPNG(w, title, spectra)
	default:
		httputil.BadRequest(w, fmt.Sprintf("unknown format %q", format))
		return
	}
	if err != nil {
		monitoring.Logf("[api] gate %d chart: %v", i, err)
	}
}
