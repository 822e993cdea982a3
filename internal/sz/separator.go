package sz

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/sz864/internal/monitoring"
	"github.com/banshee-data/sz864/internal/sz/censor"
	"github.com/banshee-data/sz864/internal/sz/clutter"
	"github.com/banshee-data/sz864/internal/sz/moments"
	"github.com/banshee-data/sz864/internal/sz/phasecode"
	"github.com/banshee-data/sz864/internal/sz/spectral"
	"github.com/banshee-data/sz864/internal/sz/window"
)

var (
	// ErrSizeMismatch is returned when a dwell or phase delta does not match
	// the tables' dwell length.
	ErrSizeMismatch = errors.New("sz: sample count does not match tables")
	// ErrNotConfigured is returned when a required setting is missing.
	ErrNotConfigured = errors.New("sz: separator not configured")
)

// DefaultWavelength is an S-band wavelength in metres.
const DefaultWavelength = 0.1068

// Separator decodes SZ(8/64) dwells. It owns mutable scratch space and must
// not be shared between goroutines; build one per worker from shared Tables.
type Separator struct {
	tables *Tables
	n      int

	wavelength    float64
	windowType    window.Type
	method        moments.Method
	estimate      moments.Func
	thresholds    censor.Thresholds
	policy        censor.Policy
	changeVelSign bool
	debug         bool

	tr         *spectral.Transform
	clutFilter *clutter.Filter
	szFilter   *clutter.Filter

	work       []complex128
	strongSpec []complex128
	filtered   []complex128
	notched    []complex128
	weakTd     []complex128
	weakSpec   []complex128
	mag        []float64
	magDecon   []float64
}

// NewSeparator returns a separator with operational defaults: S-band
// wavelength, von Hann window, pulse-pair moments and the default
// censoring thresholds.
func NewSeparator(tables *Tables) (*Separator, error) {
	if tables == nil {
		return nil, fmt.Errorf("%w: nil tables", ErrNotConfigured)
	}
	n := tables.N()
	tr, err := spectral.New(n)
	if err != nil {
		return nil, err
	}
	clutFilter, err := clutter.NewFilter(clutter.DefaultParams())
	if err != nil {
		return nil, err
	}
	szFilter, err := clutter.NewFilter(clutter.DefaultSzParams())
	if err != nil {
		return nil, err
	}

	s := &Separator{
		tables:     tables,
		n:          n,
		wavelength: DefaultWavelength,
		windowType: window.VonHann,
		tr:         tr,
		clutFilter: clutFilter,
		szFilter:   szFilter,
		work:       make([]complex128, n),
		strongSpec: make([]complex128, n),
		filtered:   make([]complex128, n),
		notched:    make([]complex128, n),
		weakTd:     make([]complex128, n),
		weakSpec:   make([]complex128, n),
		mag:        make([]float64, n),
		magDecon:   make([]float64, n),
	}
	if err := s.SetMomentsMethod(moments.PulsePair); err != nil {
		return nil, err
	}
	if err := s.setThresholds(censor.DefaultThresholds()); err != nil {
		return nil, err
	}
	return s, nil
}

// Tables returns the shared tables.
func (s *Separator) Tables() *Tables { return s.tables }

// SetWavelength sets the radar wavelength in metres.
func (s *Separator) SetWavelength(m float64) { s.wavelength = m }

// SetNoiseValueDbm sets the receiver noise floor used by the SNR test.
func (s *Separator) SetNoiseValueDbm(dbm float64) {
	th := s.thresholds
	th.NoiseDbm = dbm
	s.mustSetThresholds(th)
}

// SetSignalToNoiseRatioThreshold sets the SNR below which a trip is
// censored.
func (s *Separator) SetSignalToNoiseRatioThreshold(db float64) {
	th := s.thresholds
	th.SnrThresholdDb = db
	s.mustSetThresholds(th)
}

// SetSzStrongToWeakPowerRatioThreshold sets the strong-to-weak power ratio
// above which the weak trip is censored.
func (s *Separator) SetSzStrongToWeakPowerRatioThreshold(db float64) {
	th := s.thresholds
	th.StrongToWeakDb = db
	s.mustSetThresholds(th)
}

// SetSzOutOfTripPowerRatioThreshold sets how close to the primary peak a
// secondary peak must be to count as a replica.
func (s *Separator) SetSzOutOfTripPowerRatioThreshold(db float64) {
	th := s.thresholds
	th.OutOfTripPowerRatioDb = db
	s.mustSetThresholds(th)
}

// SetSzOutOfTripPowerNReplicas sets how many replicas censor the weak trip.
func (s *Separator) SetSzOutOfTripPowerNReplicas(n int) error {
	th := s.thresholds
	th.OutOfTripNReplicas = n
	return s.setThresholds(th)
}

// SetSzNegatePhaseCodes checks that the shared tables were generated with
// the requested phase convention. The tables are immutable, so a mismatch
// is a configuration error.
func (s *Separator) SetSzNegatePhaseCodes(negate bool) error {
	if s.tables.Codes().Negated() != negate {
		return fmt.Errorf("%w: tables built with negate=%v, requested %v", ErrNotConfigured, s.tables.Codes().Negated(), negate)
	}
	return nil
}

// SetSzWindow selects the window applied to the strong trip before its
// spectrum is taken.
func (s *Separator) SetSzWindow(t window.Type) error {
	if s.tables.Window(t) == nil {
		return fmt.Errorf("unsupported window type %v", t)
	}
	s.windowType = t
	return nil
}

// SetMomentsMethod selects the velocity and width estimator.
func (s *Separator) SetMomentsMethod(m moments.Method) error {
	f, err := moments.Estimator(m)
	if err != nil {
		return err
	}
	s.method = m
	s.estimate = f
	return nil
}

// SetClutterParams configures the notch used by IQFilterClutter.
func (s *Separator) SetClutterParams(p clutter.Params) error {
	f, err := clutter.NewFilter(p)
	if err != nil {
		return fmt.Errorf("clutter params: %w", err)
	}
	s.clutFilter = f
	return nil
}

// SetSzClutterParams configures the notch applied to decoded trips.
func (s *Separator) SetSzClutterParams(p clutter.Params) error {
	f, err := clutter.NewFilter(p)
	if err != nil {
		return fmt.Errorf("sz clutter params: %w", err)
	}
	s.szFilter = f
	return nil
}

// SetChangeVelocitySign flips the sign of every reported velocity, for
// radars whose I/Q convention makes approaching targets positive.
func (s *Separator) SetChangeVelocitySign(change bool) { s.changeVelSign = change }

// SetDebug enables per-gate diagnostic logging.
func (s *Separator) SetDebug(debug bool) { s.debug = debug }

// Thresholds returns the censoring configuration.
func (s *Separator) Thresholds() censor.Thresholds { return s.thresholds }

func (s *Separator) setThresholds(th censor.Thresholds) error {
	p, err := censor.NewPolicy(th)
	if err != nil {
		return fmt.Errorf("censoring thresholds: %w", err)
	}
	s.thresholds = th
	s.policy = p
	return nil
}

// mustSetThresholds applies a change to a dB threshold. Only NaN or
// infinite input can fail validation; those are rejected with a log line
// and the previous configuration kept.
func (s *Separator) mustSetThresholds(th censor.Thresholds) {
	if err := s.setThresholds(th); err != nil {
		monitoring.Logf("[sz] ignoring threshold change: %v", err)
	}
}

// CheckSnThreshold reports whether a linear power clears the noise floor by
// the SNR threshold.
func (s *Separator) CheckSnThreshold(power float64) bool {
	dbm, ok := moments.PowerDb(power).Get()
	return ok && dbm >= s.thresholds.NoiseDbm+s.thresholds.SnrThresholdDb
}

func (s *Separator) checkInputs(iq []complex128, prtSecs float64) error {
	if len(iq) != s.n {
		return fmt.Errorf("%w: got %d samples, want %d", ErrSizeMismatch, len(iq), s.n)
	}
	if !(prtSecs > 0) {
		return fmt.Errorf("%w: prt must be positive, got %g", ErrNotConfigured, prtSecs)
	}
	if !(s.wavelength > 0) {
		return fmt.Errorf("%w: wavelength must be positive, got %g", ErrNotConfigured, s.wavelength)
	}
	return nil
}

// SeparateTrips decodes one gate's dwell, cohered to trip 1, into trip-1 and
// trip-2 series and per-trip estimates. delta12 is the measured interpulse
// phase delta between the trips (Mod12 for an ideal transmitter).
//
// Censored gates are not errors: the returned error is non-nil only for
// inputs that do not match the configuration.
func (s *Separator) SeparateTrips(iq, delta12 []complex128, prtSecs float64) (*GateResult, error) {
	if err := s.checkInputs(iq, prtSecs); err != nil {
		return nil, err
	}
	if len(delta12) != s.n {
		return nil, fmt.Errorf("%w: phase delta has %d samples, want %d", ErrSizeMismatch, len(delta12), s.n)
	}

	res := &GateResult{
		Trip1:       TripEstimate{Trip: 1},
		Trip2:       TripEstimate{Trip: 2},
		Trip1Series: make([]complex128, s.n),
		Trip2Series: make([]complex128, s.n),
	}

	total := moments.ComputePower(iq)
	res.TotalPowerDbm = moments.PowerDb(total)
	if !s.CheckSnThreshold(total) {
		res.Trip1.Flags = censor.CensorOnSnr
		res.Trip2.Flags = censor.CensorOnSnr
		if s.debug {
			monitoring.Logf("[sz] gate below SNR threshold: total=%v dBm", res.TotalPowerDbm)
		}
		return res, nil
	}

	// Trip-1 series is the input; trip 2 is recovered by re-cohering.
	copy(res.Trip1Series, iq)
	phasecode.CohereTrip1ToTrip2(res.Trip2Series, iq, delta12)

	strong, weak := res.Trip1Series, res.Trip2Series
	res.StrongTrip = 1
	if moments.R1(res.Trip2Series) > moments.R1(res.Trip1Series) {
		strong, weak = weak, strong
		res.StrongTrip = 2
	}
	params := s.estimatorParams(prtSecs)

	// Strong trip: window, transform, notch clutter.
	s.tables.Window(s.windowType).Apply(s.work, strong)
	s.tr.Forward(s.strongSpec, s.work)
	copy(s.filtered, s.strongSpec)
	strongClut := s.szFilter.FilterSpectrum(s.filtered, prtSecs, s.wavelength)
	s.szFilter.Reset()

	strongVel := moments.VelWidthFromFft(moments.Magnitudes(s.mag, s.filtered), s.wavelength, prtSecs).Velocity

	// Notch out the strong trip, leaving a quarter of the spectrum that is
	// dominated by the weak trip's replicas.
	geom := s.tables.Decon75().Geometry()
	notchStart := ComputeNotchStart(geom.NotchWidth, strongVel.Or(0), prtSecs, s.wavelength, s.n)
	if strongClut.Filtered() {
		notchStart = AdjustNotchForClutter(strongClut.NotchStart, strongClut.NotchEnd, geom.NotchWidth, notchStart, s.n)
	}
	res.NotchStart = notchStart
	geom.ApplyNotch(notchStart, s.strongSpec, s.notched)

	powerWeak := moments.ComputePower(s.notched)
	powerStrong := total*(1-strongClut.FractionRemoved) - powerWeak

	s.tr.Inverse(strong, s.filtered)
	moments.AdjustPower(strong, powerStrong)

	// Weak trip: re-cohere the notched residue, deconvolve its magnitude
	// spectrum, then rescale the complex spectrum to match.
	s.tr.Inverse(s.weakTd, s.notched)
	if res.StrongTrip == 1 {
		phasecode.CohereTrip1ToTrip2(s.weakTd, s.weakTd, delta12)
	} else {
		phasecode.CohereTrip2ToTrip1(s.weakTd, s.weakTd, delta12)
	}
	s.tr.Forward(s.weakSpec, s.weakTd)
	moments.Magnitudes(s.mag, s.weakSpec)
	s.tables.Decon75().Apply(s.mag, s.magDecon)
	res.ReplicaPeaksDb, res.Leakage = replicaProfile(s.magDecon, s.thresholds.OutOfTripNReplicas)
	for i, m := range s.mag {
		if m > 0 {
			s.weakSpec[i] *= complex(s.magDecon[i]/m, 0)
		} else {
			s.weakSpec[i] = 0
		}
	}

	weakClut := s.szFilter.FilterSpectrum(s.weakSpec, prtSecs, s.wavelength)
	s.tr.Inverse(weak, s.weakSpec)
	s.szFilter.Reset()
	powerWeak *= 1 - weakClut.FractionRemoved
	moments.AdjustPower(weak, powerWeak)

	strongEst := res.Strong()
	weakEst := res.Weak()
	s.fillEstimate(strongEst, strong, powerStrong, strongClut, params)
	s.fillEstimate(weakEst, weak, powerWeak, weakClut, params)
	res.StrongToWeakDb = moments.RatioDb(strongEst.Power, weakEst.Power)

	strongEst.Flags = s.policy.Evaluate(censor.Evidence{PowerDbm: strongEst.PowerDbm})
	weakEst.Flags = s.policy.Evaluate(censor.Evidence{
		PowerDbm:       weakEst.PowerDbm,
		Weak:           true,
		StrongToWeakDb: res.StrongToWeakDb,
		ReplicaPeaksDb: res.ReplicaPeaksDb,
	})

	if s.debug {
		monitoring.Logf("[sz] strong=%d notchStart=%d strong=%v dBm weak=%v dBm ratio=%v leakage=%v flags=%v/%v",
			res.StrongTrip, notchStart, strongEst.PowerDbm, weakEst.PowerDbm,
			res.StrongToWeakDb, res.Leakage, strongEst.Flags, weakEst.Flags)
	}
	return res, nil
}

func (s *Separator) estimatorParams(prtSecs float64) moments.Params {
	return moments.Params{Wavelength: s.wavelength, PrtSecs: prtSecs, Transform: s.tr}
}

func (s *Separator) fillEstimate(est *TripEstimate, series []complex128, power float64, clut clutter.Result, params moments.Params) {
	est.Clutter = clut
	if !(power > 0) {
		return
	}
	est.Power = moments.Some(power)
	est.PowerDbm = moments.PowerDb(power)
	m := s.estimate(series, params)
	est.Velocity = s.signedVelocity(m.Velocity, moments.Nyquist(params.Wavelength, params.PrtSecs))
	est.Width = m.Width
}

// signedVelocity flips the reported sign when configured. The flip is done
// on the phase so +Nyquist stays +Nyquist rather than becoming -Nyquist.
func (s *Separator) signedVelocity(v moments.Value, nyquist float64) moments.Value {
	if !s.changeVelSign {
		return v
	}
	return v.Map(func(x float64) float64 {
		return nyquist / math.Pi * moments.WrapPhase(-x*math.Pi/nyquist)
	})
}

// IQFilterClutter notches clutter in a single-trip series without any trip
// decode. It returns the filtered copy and what the notch did.
func (s *Separator) IQFilterClutter(iq []complex128, prtSecs float64) ([]complex128, clutter.Result, error) {
	if err := s.checkInputs(iq, prtSecs); err != nil {
		return nil, clutter.Result{}, err
	}
	out := append([]complex128(nil), iq...)
	res := s.clutFilter.FilterSeries(out, prtSecs, s.wavelength, s.tr)
	return out, res, nil
}

// Cohere2Trip removes the transmit phase of the given trip (1 to 4) from raw
// I/Q using only the beam's transmit code. No cross-trip cancellation is
// done.
func (s *Separator) Cohere2Trip(iq, beamCode []complex128, trip int) ([]complex128, error) {
	if trip < 1 || trip > 4 {
		return nil, fmt.Errorf("trip must be between 1 and 4, got %d", trip)
	}
	if len(iq) != s.n || len(beamCode) != s.n {
		return nil, fmt.Errorf("%w: iq=%d code=%d, want %d", ErrSizeMismatch, len(iq), len(beamCode), s.n)
	}
	out := make([]complex128, s.n)
	phasecode.SubCodeTrip(out, iq, beamCode, trip)
	return out, nil
}
