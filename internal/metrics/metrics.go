// Package metrics exposes beam-processing counters through a private
// Prometheus registry. A nil *Metrics is valid and records nothing.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/banshee-data/sz864/internal/sz"
	"github.com/banshee-data/sz864/internal/sz/censor"
)

const namespace = "sz"

// Metrics holds the collectors for one processor.
type Metrics struct {
	registry *prometheus.Registry

	gatesTotal        prometheus.Counter     // Gates passed to the separator
	decodedTotal      prometheus.Counter     // Gates that went through the trip decode
	censoredTotal     *prometheus.CounterVec // Censored trips (by trip, reason)
	clutterTotal      *prometheus.CounterVec // Clutter notch outcomes (by trip, outcome)
	decodeUnavailable prometheus.Counter     // Beams dropped because tables could not be built
	beamsTotal        prometheus.Counter     // Beams processed
	beamDuration      prometheus.Histogram   // Wall time per beam
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		gatesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gates_total",
			Help:      "Gates passed to the trip separator.",
		}),
		decodedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gates_decoded_total",
			Help:      "Gates that cleared the SNR test and were decoded into two trips.",
		}),
		censoredTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trips_censored_total",
			Help:      "Censored trip estimates by trip and reason.",
		}, []string{"trip", "reason"}),
		clutterTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clutter_notch_total",
			Help:      "Clutter notch outcomes by trip (filtered or skipped).",
		}, []string{"trip", "outcome"}),
		decodeUnavailable: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_unavailable_total",
			Help:      "Beams whose phase-code tables could not be built.",
		}),
		beamsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "beams_total",
			Help:      "Beams processed.",
		}),
		beamDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "beam_duration_seconds",
			Help:      "Wall time to separate all gates of one beam.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

var reasons = []struct {
	flag censor.Flags
	name string
}{
	{censor.CensorOnSnr, "snr"},
	{censor.CensorOnPowerRatio, "power_ratio"},
	{censor.CensorOnReplicas, "replicas"},
}

// ObserveGate records one separated gate.
func (m *Metrics) ObserveGate(res *sz.GateResult) {
	if m == nil || res == nil {
		return
	}
	m.gatesTotal.Inc()
	if res.Decoded() {
		m.decodedTotal.Inc()
	}
	for _, e := range []*sz.TripEstimate{&res.Trip1, &res.Trip2} {
		trip := fmt.Sprint(e.Trip)
		for _, r := range reasons {
			if e.Flags.Has(r.flag) {
				m.censoredTotal.WithLabelValues(trip, r.name).Inc()
			}
		}
		switch {
		case e.Clutter.Filtered():
			m.clutterTotal.WithLabelValues(trip, "filtered").Inc()
		case e.Clutter.Skipped:
			m.clutterTotal.WithLabelValues(trip, "skipped").Inc()
		}
	}
}

// ObserveBeam records a completed beam and its duration.
func (m *Metrics) ObserveBeam(d time.Duration) {
	if m == nil {
		return
	}
	m.beamsTotal.Inc()
	m.beamDuration.Observe(d.Seconds())
}

// DecodeUnavailable records a beam dropped before separation.
func (m *Metrics) DecodeUnavailable() {
	if m == nil {
		return
	}
	m.decodeUnavailable.Inc()
}

// WriteSummary writes one line per non-zero series, sorted by name, for
// printing at the end of a run.
func (m *Metrics) WriteSummary(w io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	var lines []string
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			name := mf.GetName() + labelString(metric.GetLabel())
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				if v := metric.GetCounter().GetValue(); v != 0 {
					lines = append(lines, fmt.Sprintf("%s %g", name, v))
				}
			case dto.MetricType_HISTOGRAM:
				h := metric.GetHistogram()
				if h.GetSampleCount() > 0 {
					lines = append(lines, fmt.Sprintf("%s count=%d sum=%.6fs", name, h.GetSampleCount(), h.GetSampleSum()))
				}
			}
		}
	}
	sort.Strings(lines)
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}

func labelString(labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return ""
	}
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = fmt.Sprintf("%s=%q", l.GetName(), l.GetValue())
	}
	return "{" + strings.Join(parts, ",") + "}"
}
