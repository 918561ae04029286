package estimator

import (
	"errors"
	"fmt"
	"math"
	"time"

	"iv-monitor-backend/internal/device"
	"iv-monitor-backend/internal/prescription"
)

// Calibration failure modes. A failed calibration must be retried; a
// previously persisted calibration, if any, stays in effect.
var (
	ErrCalibrationTimeout = errors.New("calibration timeout")
	ErrZeroScale          = errors.New("computed scale is zero")
)

// readTimeout bounds a single raw load-cell read.
const readTimeout = time.Second

// confirmPollInterval is the cadence of the wait-for-press loop during
// calibration.
const confirmPollInterval = 50 * time.Millisecond

// Calibration maps raw load-cell readings to grams.
type Calibration struct {
	Offset float64 `json:"offset"`
	Scale  float64 `json:"scale"`
}

// Valid reports whether the calibration can be used for estimation.
func (c Calibration) Valid() bool {
	return c.Scale != 0
}

// Grams converts a raw reading.
func (c Calibration) Grams(raw int64) float64 {
	return (float64(raw) - c.Offset) / c.Scale
}

// Calibrator runs the two-step tare/span procedure against the raw reader,
// gated on operator confirmation with a bounded wait.
type Calibrator struct {
	reader         device.RawReader
	display        device.Display
	confirm        device.Button
	samples        int
	referenceGrams float64
	timeout        time.Duration

	now   func() time.Time
	sleep func(time.Duration)
}

// NewCalibrator wires the calibration procedure to its collaborators.
func NewCalibrator(reader device.RawReader, display device.Display, confirm device.Button, samples int, referenceGrams float64, timeout time.Duration) *Calibrator {
	return &Calibrator{
		reader:         reader,
		display:        display,
		confirm:        confirm,
		samples:        samples,
		referenceGrams: referenceGrams,
		timeout:        timeout,
		now:            time.Now,
		sleep:          time.Sleep,
	}
}

// Run performs Tare then Span and returns the resulting calibration. Any
// timeout or read failure aborts the procedure; the caller retries
// explicitly.
func (c *Calibrator) Run() (Calibration, error) {
	c.display.Clear()
	c.display.WriteLine(0, "CALIBRATION: TARE")
	c.display.WriteLine(1, "Remove all load")
	c.display.WriteLine(2, "Press ACK when ready")
	if !c.waitForConfirm() {
		return Calibration{}, fmt.Errorf("tare step: %w", ErrCalibrationTimeout)
	}

	offsetRaw, err := c.reader.ReadAverage(c.samples, readTimeout)
	if err != nil {
		return Calibration{}, fmt.Errorf("tare read: %w: %v", ErrSensorFault, err)
	}

	c.display.Clear()
	c.display.WriteLine(0, "CALIBRATION: SPAN")
	c.display.WriteLine(1, fmt.Sprintf("Place %.0f g mass", c.referenceGrams))
	c.display.WriteLine(2, "Press ACK when ready")
	if !c.waitForConfirm() {
		return Calibration{}, fmt.Errorf("span step: %w", ErrCalibrationTimeout)
	}

	spanRaw, err := c.reader.ReadAverage(c.samples, readTimeout)
	if err != nil {
		return Calibration{}, fmt.Errorf("span read: %w: %v", ErrSensorFault, err)
	}

	cal := Calibration{
		Offset: float64(offsetRaw),
		Scale:  (float64(spanRaw) - float64(offsetRaw)) / c.referenceGrams,
	}
	if !cal.Valid() {
		return Calibration{}, ErrZeroScale
	}
	return cal, nil
}

// waitForConfirm polls the confirm button until it is pressed or the bounded
// wait elapses. Control always returns to the caller.
func (c *Calibrator) waitForConfirm() bool {
	deadline := c.now().Add(c.timeout)
	for c.now().Before(deadline) {
		if c.confirm.Pressed() {
			return true
		}
		c.sleep(confirmPollInterval)
	}
	return false
}

// weightSample is one accepted load-cell observation.
type weightSample struct {
	at    time.Time
	grams float64
}

// flowEpsilonGrams is the minimum weight decrease counted as flow; smaller
// changes are treated as noise.
const flowEpsilonGrams = 0.5

// WeightSource estimates delivered volume from the reservoir weight. The
// session target volume doubles as the full reservoir capacity, with IV
// fluid taken at 1 g/mL.
type WeightSource struct {
	reader    device.RawReader
	rx        *prescription.Prescription
	cal       Calibration
	tolerance float64

	grams      float64
	lastFlowAt time.Time
	window     []weightSample
}

// NewWeightSource creates a weight-based source. The calibration must be
// valid; callers enforce recalibration before use.
func NewWeightSource(reader device.RawReader, rx *prescription.Prescription, cal Calibration, toleranceGrams float64, now time.Time) *WeightSource {
	return &WeightSource{
		reader:     reader,
		rx:         rx,
		cal:        cal,
		tolerance:  toleranceGrams,
		lastFlowAt: now,
	}
}

// SetCalibration replaces the calibration after a successful recalibration.
func (s *WeightSource) SetCalibration(cal Calibration) {
	s.cal = cal
}

// Estimate converts a raw reading into grams, clamped to the physical range.
// Readings outside [-tolerance, capacity+tolerance] are a sensor fault, not
// a clamp.
func (s *WeightSource) Estimate(raw int64) (float64, error) {
	if !s.cal.Valid() {
		return 0, fmt.Errorf("%w: missing or zero calibration", ErrSensorFault)
	}
	capacity := float64(s.rx.TargetVolumeML())
	grams := s.cal.Grams(raw)
	if grams < -s.tolerance || grams > capacity+s.tolerance {
		return 0, fmt.Errorf("%w: reading %.1f g outside physical bounds", ErrSensorFault, grams)
	}
	return clamp(grams, 0, capacity+s.tolerance), nil
}

// Sample reads the load cell once and updates the rate window and flow
// tracking.
func (s *WeightSource) Sample(now time.Time) error {
	raw, err := s.reader.ReadRaw(readTimeout)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSensorFault, err)
	}
	grams, err := s.Estimate(raw)
	if err != nil {
		return err
	}

	if len(s.window) > 0 && s.grams-grams >= flowEpsilonGrams {
		s.lastFlowAt = now
	}
	s.grams = grams
	s.window = append(s.window, weightSample{at: now, grams: grams})
	s.evict(now)
	return nil
}

func (s *WeightSource) evict(now time.Time) {
	cutoff := 0
	for cutoff < len(s.window) && now.Sub(s.window[cutoff].at) > rateWindow {
		cutoff++
	}
	if cutoff > 0 {
		s.window = append(s.window[:0], s.window[cutoff:]...)
	}
}

// Metrics derives progress from the current reservoir weight and the weight
// change over the rate window.
func (s *WeightSource) Metrics(now time.Time) Metrics {
	var m Metrics
	capacity := float64(s.rx.TargetVolumeML())
	if capacity <= 0 {
		return m
	}

	m.RemainingML = clamp(s.grams, 0, capacity)
	m.DeliveredML = capacity - m.RemainingML
	switch {
	case m.DeliveredML <= 0:
		m.PercentDelivered = 0
	case m.DeliveredML >= capacity:
		m.PercentDelivered = 100
	default:
		m.PercentDelivered = math.Round(m.DeliveredML / capacity * 100)
	}

	s.evict(now)
	if len(s.window) >= 2 {
		oldest := s.window[0]
		newest := s.window[len(s.window)-1]
		span := newest.at.Sub(oldest.at)
		if span >= time.Second {
			delta := oldest.grams - newest.grams
			if delta < 0 {
				delta = 0
			}
			m.RatePerMinute = delta / span.Minutes()
		}
	}
	m.MLPerHour = m.RatePerMinute * 60
	if m.MLPerHour > 0 {
		m.ETA = time.Duration(m.RemainingML / m.MLPerHour * float64(time.Hour))
		m.ETAKnown = true
	}
	return m
}

// TimeSinceFlow is the time since the reservoir weight last decreased by
// more than the noise epsilon.
func (s *WeightSource) TimeSinceFlow(now time.Time) time.Duration {
	return now.Sub(s.lastFlowAt)
}

// Reset clears the rate window and flow tracking; calibration is preserved.
func (s *WeightSource) Reset(now time.Time) {
	s.window = s.window[:0]
	s.grams = 0
	s.lastFlowAt = now
}
