// Package estimator provides the volume estimation strategies: drop counting
// on an IR sensor line and continuous weighing on a calibrated load cell.
// The monitoring engine is written against the Source interface and never
// knows which strategy is active.
package estimator

import (
	"errors"
	"time"
)

// ErrSensorFault marks readings the physical model rules out (no reading
// within the timeout, or a value outside the plausible bounds). Callers
// surface it as a persistent FAULT rather than continuing with bad data.
var ErrSensorFault = errors.New("sensor fault")

// Metrics is a snapshot of the estimated infusion progress.
type Metrics struct {
	DeliveredML      float64       `json:"delivered_ml"`
	RemainingML      float64       `json:"remaining_ml"`
	PercentDelivered float64       `json:"percent_delivered"`
	RatePerMinute    float64       `json:"rate_per_minute"`
	MLPerHour        float64       `json:"ml_per_hour"`
	ETA              time.Duration `json:"eta_ns"`
	ETAKnown         bool          `json:"eta_known"`
}

// Source is a volume estimation strategy. Implementations are sampled by the
// engine once per poll cycle; they are not safe for concurrent use and do not
// need to be, there is exactly one mutator.
type Source interface {
	// Sample reads the physical signal. A returned error wrapping
	// ErrSensorFault forces the engine into FAULT mode.
	Sample(now time.Time) error

	// Metrics returns the current progress estimate.
	Metrics(now time.Time) Metrics

	// TimeSinceFlow is the time elapsed since the last observed flow signal.
	TimeSinceFlow(now time.Time) time.Duration

	// Reset zeroes all counters for a fresh session.
	Reset(now time.Time)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
