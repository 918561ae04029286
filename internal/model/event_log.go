package model

import "time"

// EventLog is the persistent record of everything clinically relevant the
// monitor did: state transitions, alarms, milestones, and notification
// attempts (including failed ones).
type EventLog struct {
	ID          int64     `gorm:"autoIncrement;primaryKey"`
	At          time.Time `gorm:"not null;index"`
	Kind        string    `gorm:"size:64;not null;index"`
	State       string    `gorm:"size:32;not null"`
	Message     string    `gorm:"size:256;not null"`
	DeliveredML float64
	NetworkMode string `gorm:"size:16"`
}
