package engine

import (
	"time"

	"iv-monitor-backend/internal/estimator"
	"iv-monitor-backend/internal/model"
	"iv-monitor-backend/internal/notify"
	"iv-monitor-backend/internal/prescription"
)

// Milestones are the percent-delivered thresholds that notify once each.
var Milestones = []int{0, 25, 50, 100}

// Session tracks one monitoring episode: the prescription it runs under,
// the latest metrics, and the per-episode notification ledger.
type Session struct {
	rx        *prescription.Prescription
	startedAt time.Time
	metrics   estimator.Metrics
	ledger    *notify.Ledger
	archived  bool
}

// NewSession starts a fresh episode for a completed prescription.
func NewSession(rx *prescription.Prescription, now time.Time) *Session {
	return &Session{
		rx:        rx,
		startedAt: now,
		ledger:    notify.NewLedger(),
	}
}

// Update stores the latest estimator metrics.
func (s *Session) Update(m estimator.Metrics) {
	s.metrics = m
}

// Metrics returns the latest stored metrics.
func (s *Session) Metrics() estimator.Metrics {
	return s.metrics
}

// Prescription returns the owning prescription.
func (s *Session) Prescription() *prescription.Prescription {
	return s.rx
}

// Ledger returns the per-episode one-shot ledger.
func (s *Session) Ledger() *notify.Ledger {
	return s.ledger
}

// StartedAt returns the episode start instant.
func (s *Session) StartedAt() time.Time {
	return s.startedAt
}

// Elapsed is the time since the episode started (or last counter reset).
func (s *Session) Elapsed(now time.Time) time.Duration {
	return now.Sub(s.startedAt)
}

// TimeElapsed reports whether the prescribed duration has passed.
func (s *Session) TimeElapsed(now time.Time) bool {
	return s.Elapsed(now) >= time.Duration(s.rx.DurationMinutes())*time.Minute
}

// VolumeComplete reports whether the target volume has been delivered.
func (s *Session) VolumeComplete() bool {
	return s.metrics.DeliveredML >= float64(s.rx.TargetVolumeML())
}

// ResetCounters clears timing, metrics, and the notification ledger while
// preserving the prescription.
func (s *Session) ResetCounters(now time.Time) {
	s.startedAt = now
	s.metrics = estimator.Metrics{
		RemainingML: float64(s.rx.TargetVolumeML()),
	}
	s.ledger.Reset()
}

// Record builds the archive row for this episode. It returns false when the
// session was already archived.
func (s *Session) Record(endedAt time.Time, outcome string) (model.SessionRecord, bool) {
	if s.archived {
		return model.SessionRecord{}, false
	}
	s.archived = true
	return model.SessionRecord{
		StartedAt:        s.startedAt,
		EndedAt:          endedAt,
		TargetVolumeML:   s.rx.TargetVolumeML(),
		DurationMinutes:  s.rx.DurationMinutes(),
		DripFactor:       s.rx.DripFactor(),
		DeliveredML:      s.metrics.DeliveredML,
		PercentDelivered: s.metrics.PercentDelivered,
		Outcome:          outcome,
	}, true
}
