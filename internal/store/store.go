// Package store persists local play state: resume offsets, watched flags
// and a session history. It is the offline fallback for the resume policy;
// when timeline reports cannot reach the server the local offset still
// lets the next session resume correctly.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PlayState is the locally stored consumption state for one item.
type PlayState struct {
	ItemID    string `gorm:"primaryKey"`
	OffsetMs  int64
	Watched   bool
	UpdatedAt time.Time
}

// SessionRecord is one playback session's audit row.
type SessionRecord struct {
	ID             string `gorm:"primaryKey"`
	ItemID         string `gorm:"index"`
	Mode           string
	StartedAt      time.Time
	EndedAt        *time.Time
	EndReason      string
	LastPositionMs int64
}

// Store wraps the play-state database.
type Store struct {
	db  *gorm.DB
	log hclog.Logger
}

// Open opens (or creates) the database at path and migrates the schema.
func Open(path string, log hclog.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open play-state store: %w", err)
	}
	return New(db, log)
}

// New wraps an existing database handle, migrating the schema. Used
// directly by tests.
func New(db *gorm.DB, log hclog.Logger) (*Store, error) {
	if err := db.AutoMigrate(&PlayState{}, &SessionRecord{}); err != nil {
		return nil, fmt.Errorf("migrate play-state store: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// ResumeOffset returns the stored offset for an item. A watched item
// yields no offset; it restarts from the beginning.
func (s *Store) ResumeOffset(itemID string) (int64, bool, error) {
	var state PlayState
	err := s.db.First(&state, "item_id = ?", itemID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("load play state: %w", err)
	case state.Watched:
		return 0, false, nil
	}
	return state.OffsetMs, state.OffsetMs > 0, nil
}

// SaveProgress upserts the item's offset. watched clears the offset so a
// rewatch starts clean.
func (s *Store) SaveProgress(itemID string, offsetMs int64, watched bool) error {
	state := PlayState{
		ItemID:    itemID,
		OffsetMs:  offsetMs,
		Watched:   watched,
		UpdatedAt: time.Now(),
	}
	if watched {
		state.OffsetMs = 0
	}
	if err := s.db.Save(&state).Error; err != nil {
		return fmt.Errorf("save play state: %w", err)
	}
	return nil
}

// RecordSessionStart inserts the audit row for a new session.
func (s *Store) RecordSessionStart(sessionID, itemID, mode string) error {
	rec := SessionRecord{
		ID:        sessionID,
		ItemID:    itemID,
		Mode:      mode,
		StartedAt: time.Now(),
	}
	if err := s.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("record session start: %w", err)
	}
	return nil
}

// RecordSessionEnd closes the audit row.
func (s *Store) RecordSessionEnd(sessionID, reason string, lastPositionMs int64) error {
	now := time.Now()
	err := s.db.Model(&SessionRecord{}).
		Where("id = ?", sessionID).
		Updates(map[string]any{
			"ended_at":         &now,
			"end_reason":       reason,
			"last_position_ms": lastPositionMs,
		}).Error
	if err != nil {
		return fmt.Errorf("record session end: %w", err)
	}
	return nil
}

// History returns the most recent session records, newest first.
func (s *Store) History(limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var recs []SessionRecord
	if err := s.db.Order("started_at desc").Limit(limit).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("load session history: %w", err)
	}
	return recs, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
