package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"iv-monitor-backend/internal/model"
)

// A helper function to create a mock database connection.
func newTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func TestLoadCalibrationMissing(t *testing.T) {
	db, mock := newTestDB(t)
	s := NewGormStore(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "calibration_records"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "offset", "scale", "calibrated_at"}))

	rec, err := s.LoadCalibration(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadCalibrationFound(t *testing.T) {
	db, mock := newTestDB(t)
	s := NewGormStore(db)
	at := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "calibration_records"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "offset", "scale", "calibrated_at"}).
			AddRow(model.CalibrationRecordID, 1000.0, 10.0, at))

	rec, err := s.LoadCalibration(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.InDelta(t, 1000.0, rec.Offset, 0.001)
	assert.InDelta(t, 10.0, rec.Scale, 0.001)
	assert.True(t, rec.Valid())
}

func TestSaveCalibrationUpserts(t *testing.T) {
	db, mock := newTestDB(t)
	s := NewGormStore(db)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "calibration_records" .*ON CONFLICT \("id"\) DO UPDATE`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec, err := s.SaveCalibration(context.Background(), 1000, 10, time.Now())
	require.NoError(t, err)
	assert.Equal(t, model.CalibrationRecordID, rec.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendEvent(t *testing.T) {
	db, mock := newTestDB(t)
	s := NewGormStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "event_logs"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	err := s.AppendEvent(context.Background(), model.EventLog{
		At:      time.Now(),
		Kind:    "no_flow",
		State:   "no_flow",
		Message: "NO FLOW - Check IV line (42mL delivered)",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentSessionsAppliesDefaultLimit(t *testing.T) {
	db, mock := newTestDB(t)
	s := NewGormStore(db)
	now := time.Now()

	mock.ExpectQuery(`SELECT \* FROM "session_records" ORDER BY started_at DESC LIMIT \$1`).
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "started_at", "ended_at", "target_volume_ml", "duration_minutes", "drip_factor", "delivered_ml", "percent_delivered", "outcome"}).
			AddRow(1, now.Add(-time.Hour), now, 1000, 60, 20, 1000.0, 100.0, model.OutcomeComplete))

	sessions, err := s.RecentSessions(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, model.OutcomeComplete, sessions[0].Outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}
