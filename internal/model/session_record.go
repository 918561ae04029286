package model

import "time"

// Session outcomes.
const (
	OutcomeComplete   = "complete"
	OutcomeTerminated = "terminated"
	OutcomeReplaced   = "replaced"
)

// SessionRecord archives a finished monitoring session together with the
// prescription it ran under.
type SessionRecord struct {
	ID               int64     `gorm:"autoIncrement;primaryKey"`
	StartedAt        time.Time `gorm:"not null;index"`
	EndedAt          time.Time `gorm:"not null"`
	TargetVolumeML   int       `gorm:"not null"`
	DurationMinutes  int       `gorm:"not null"`
	DripFactor       int       `gorm:"not null"`
	DeliveredML      float64   `gorm:"not null"`
	PercentDelivered float64   `gorm:"not null"`
	Outcome          string    `gorm:"size:16;not null"`
}
