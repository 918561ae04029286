package model

import "time"

// CalibrationRecord is the persisted load-cell calibration. A single row
// (ID 1) is kept; absence or a zero scale forces recalibration.
type CalibrationRecord struct {
	ID           int64     `gorm:"primaryKey;autoIncrement:false"`
	Offset       float64   `gorm:"not null"`
	Scale        float64   `gorm:"not null"`
	CalibratedAt time.Time `gorm:"not null"`
}

// CalibrationRecordID is the fixed key of the single calibration row.
const CalibrationRecordID int64 = 1

// Valid reports whether the record can be used for estimation.
func (r *CalibrationRecord) Valid() bool {
	return r != nil && r.Scale != 0
}
