package engine

import (
	"time"

	"iv-monitor-backend/internal/alarm"
	"iv-monitor-backend/internal/estimator"
	"iv-monitor-backend/internal/notify"
)

// PrescriptionView is the read-only prescription summary exposed to the
// status API.
type PrescriptionView struct {
	TargetVolumeML  int     `json:"target_volume_ml"`
	DurationMinutes int     `json:"duration_minutes"`
	DripFactor      int     `json:"drip_factor"`
	TargetGttPerMin float64 `json:"target_gtt_per_min"`
	TargetMLPerHour float64 `json:"target_ml_per_hour"`
}

// Snapshot is the engine's published view of the monitor. The engine writes
// a fresh snapshot after every cycle; readers (the HTTP API) never touch the
// live state.
type Snapshot struct {
	State        State              `json:"state"`
	NetworkMode  notify.NetworkMode `json:"network_mode"`
	AlarmMode    alarm.Mode         `json:"alarm_mode"`
	Silenced     bool               `json:"silenced"`
	FaultReason  string             `json:"fault_reason,omitempty"`
	Prescription *PrescriptionView  `json:"prescription,omitempty"`
	Metrics      *estimator.Metrics `json:"metrics,omitempty"`
	StartedAt    *time.Time         `json:"started_at,omitempty"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

func (e *Engine) publish(now time.Time) {
	snap := &Snapshot{
		State:       e.state,
		NetworkMode: e.gateway.Mode(),
		AlarmMode:   e.alarms.Mode(),
		Silenced:    e.silenced,
		FaultReason: e.faultReason,
		UpdatedAt:   now,
	}
	if e.rx.IsComplete() {
		snap.Prescription = &PrescriptionView{
			TargetVolumeML:  e.rx.TargetVolumeML(),
			DurationMinutes: e.rx.DurationMinutes(),
			DripFactor:      e.rx.DripFactor(),
			TargetGttPerMin: e.rx.TargetGttPerMin(),
			TargetMLPerHour: e.rx.TargetMLPerHour(),
		}
	}
	if e.session != nil {
		m := e.session.Metrics()
		snap.Metrics = &m
		started := e.session.StartedAt()
		snap.StartedAt = &started
	}
	e.snapshot.Store(snap)
}

// Snapshot returns the most recently published view. It is safe to call
// from any goroutine.
func (e *Engine) Snapshot() *Snapshot {
	if snap := e.snapshot.Load(); snap != nil {
		return snap
	}
	return &Snapshot{State: StateInit, NetworkMode: notify.ModeLocalOnly, AlarmMode: alarm.ModeOff}
}
