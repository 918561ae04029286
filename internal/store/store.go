package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"iv-monitor-backend/internal/model"
)

// Store defines the interface for all database operations the monitor needs.
type Store interface {
	DB() *gorm.DB

	// LoadCalibration returns the persisted calibration, or nil when none
	// has been saved yet.
	LoadCalibration(ctx context.Context) (*model.CalibrationRecord, error)
	SaveCalibration(ctx context.Context, offset, scale float64, at time.Time) (*model.CalibrationRecord, error)

	AppendEvent(ctx context.Context, ev model.EventLog) error
	RecentEvents(ctx context.Context, limit int) ([]model.EventLog, error)

	ArchiveSession(ctx context.Context, rec model.SessionRecord) error
	RecentSessions(ctx context.Context, limit int) ([]model.SessionRecord, error)

	Subscriptions(ctx context.Context) ([]model.PushSubscription, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

func (s *gormStore) LoadCalibration(ctx context.Context) (*model.CalibrationRecord, error) {
	var rec model.CalibrationRecord
	err := s.db.WithContext(ctx).First(&rec, model.CalibrationRecordID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load calibration: %w", err)
	}
	return &rec, nil
}

func (s *gormStore) SaveCalibration(ctx context.Context, offset, scale float64, at time.Time) (*model.CalibrationRecord, error) {
	rec := model.CalibrationRecord{
		ID:           model.CalibrationRecordID,
		Offset:       offset,
		Scale:        scale,
		CalibratedAt: at,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"offset", "scale", "calibrated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return nil, fmt.Errorf("failed to save calibration: %w", err)
	}
	return &rec, nil
}

func (s *gormStore) AppendEvent(ctx context.Context, ev model.EventLog) error {
	if err := s.db.WithContext(ctx).Create(&ev).Error; err != nil {
		return fmt.Errorf("failed to append event %q: %w", ev.Kind, err)
	}
	return nil
}

func (s *gormStore) RecentEvents(ctx context.Context, limit int) ([]model.EventLog, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []model.EventLog
	err := s.db.WithContext(ctx).
		Order("at DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}
	return events, nil
}

func (s *gormStore) ArchiveSession(ctx context.Context, rec model.SessionRecord) error {
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to archive session: %w", err)
	}
	return nil
}

func (s *gormStore) RecentSessions(ctx context.Context, limit int) ([]model.SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var sessions []model.SessionRecord
	err := s.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sessions: %w", err)
	}
	return sessions, nil
}

func (s *gormStore) Subscriptions(ctx context.Context) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch subscriptions: %w", err)
	}
	return subs, nil
}
