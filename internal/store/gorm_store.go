// Copyright (C) 2026 Plainlex
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/plainlex/plainlex/internal/config"
	"github.com/plainlex/plainlex/internal/logger"
	"github.com/plainlex/plainlex/internal/protocol"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetStoreLogger()
		log = &l
	})
	return log
}

// GormStore wraps the GORM database connection for session archival.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM database connection.
func NewGormStore(cfg *config.DatabaseConfig) (*GormStore, error) {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.GetDSN())
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent), // Reduce GORM log noise
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &GormStore{db: db}, nil
}

// AutoMigrate runs database migrations.
func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(
		&SessionRecord{},
		&StageRecord{},
	)
}

// Close closes the database connection.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Archive persists a session's final snapshot. Idempotent per session id:
// archiving the same session again replaces the earlier record.
func (s *GormStore) Archive(snapshot protocol.SessionSnapshot, results *protocol.AnalysisResults) error {
	record := recordFromSnapshot(snapshot, results)

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_record_id = ?", record.ID).Delete(&StageRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("id = ?", record.ID).Delete(&SessionRecord{}).Error; err != nil {
			return err
		}
		return tx.Create(&record).Error
	})
	if err != nil {
		return fmt.Errorf("failed to archive session %s: %w", snapshot.SessionID, err)
	}

	getLog().Debug().
		Str("session_id", snapshot.SessionID).
		Str("status", string(snapshot.Status)).
		Msg("Session archived")
	return nil
}

// GetSession retrieves an archived session's terminal snapshot, with
// stages in pipeline order. Returns nil, nil when not found.
func (s *GormStore) GetSession(ctx context.Context, sessionID string) (*protocol.SessionSnapshot, error) {
	var record SessionRecord
	err := s.db.WithContext(ctx).
		Preload("Stages", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		First(&record, "id = ?", sessionID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	snap := snapshotFromRecord(&record)
	return &snap, nil
}

// GetResults retrieves the archived analysis results for a session.
// Returns nil, nil when the session is unknown or produced no results.
func (s *GormStore) GetResults(ctx context.Context, sessionID string) (*protocol.AnalysisResults, error) {
	var record SessionRecord
	err := s.db.WithContext(ctx).First(&record, "id = ?", sessionID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return record.Results.Results, nil
}

// GetSessionsByDocument retrieves all archived sessions for a document,
// most recent first.
func (s *GormStore) GetSessionsByDocument(ctx context.Context, documentID string) ([]protocol.SessionSnapshot, error) {
	var records []*SessionRecord
	err := s.db.WithContext(ctx).
		Preload("Stages", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Where("document_id = ?", documentID).
		Order("archived_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	snapshots := make([]protocol.SessionSnapshot, 0, len(records))
	for _, r := range records {
		snapshots = append(snapshots, snapshotFromRecord(r))
	}
	return snapshots, nil
}

func snapshotFromRecord(record *SessionRecord) protocol.SessionSnapshot {
	snap := protocol.SessionSnapshot{
		SessionID:       record.ID,
		DocumentID:      record.DocumentID,
		Status:          protocol.SessionStatus(record.Status),
		OverallProgress: record.OverallProgress,
		CreatedAt:       record.StartedAt,
	}
	for _, st := range record.Stages {
		snap.Stages = append(snap.Stages, protocol.StageSnapshot{
			ID:        st.StageID,
			Name:      st.Name,
			Status:    protocol.StageStatus(st.Status),
			Progress:  st.Progress,
			Message:   st.Message,
			Error:     st.Error,
			StartedAt: st.StartedAt,
			EndedAt:   st.EndedAt,
			Logs:      []protocol.LogLine(st.Logs),
		})
	}
	return snap
}

func recordFromSnapshot(snapshot protocol.SessionSnapshot, results *protocol.AnalysisResults) SessionRecord {
	record := SessionRecord{
		ID:              snapshot.SessionID,
		DocumentID:      snapshot.DocumentID,
		Status:          string(snapshot.Status),
		OverallProgress: snapshot.OverallProgress,
		Results:         ResultsJSON{Results: results},
		StartedAt:       snapshot.CreatedAt,
	}
	for i, st := range snapshot.Stages {
		record.Stages = append(record.Stages, StageRecord{
			SessionRecordID: snapshot.SessionID,
			Position:        i,
			StageID:         st.ID,
			Name:            st.Name,
			Status:          string(st.Status),
			Progress:        st.Progress,
			Message:         st.Message,
			Error:           st.Error,
			StartedAt:       st.StartedAt,
			EndedAt:         st.EndedAt,
			Logs:            StageLogsJSON(st.Logs),
		})
	}
	return record
}
