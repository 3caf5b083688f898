// Package server manages the NetScan database layer.
// It initializes GORM with SQLite and records scan sessions and anomaly
// events reported by the traffic monitor.
package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/vesaa/netscan/internal/config"
	"github.com/vesaa/netscan/internal/models"
	"github.com/vesaa/netscan/internal/monitor"
	"github.com/vesaa/netscan/internal/traffic"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDB opens the database and runs AutoMigrate.
func OpenDB(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DBPath)
	default:
		return nil, fmt.Errorf("unsupported db_driver %q (use 'sqlite')", cfg.DBDriver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if cfg.DBPath == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&models.ScanSession{}, &models.AnomalyEvent{}); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}
	return db, nil
}

// Store persists scan history. It implements monitor.Listener.
type Store struct {
	db     *gorm.DB
	source string
	log    *zap.Logger
}

// NewStore wraps db. source labels the sessions it records ("local",
// "ssh:<host>").
func NewStore(db *gorm.DB, source string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, source: source, log: log}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// StartSession inserts a running session row.
func (s *Store) StartSession(id string, at time.Time) error {
	return s.db.Create(&models.ScanSession{
		SessionID: id,
		StartedAt: at,
		Source:    s.source,
	}).Error
}

// StopSession stamps the session's stop time.
func (s *Store) StopSession(id string, at time.Time) error {
	res := s.db.Model(&models.ScanSession{}).
		Where("session_id = ?", id).
		Update("stopped_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("session %s: %w", id, gorm.ErrRecordNotFound)
	}
	return nil
}

// Record updates the session counters for one tick and stores an
// AnomalyEvent when the verdict is Anomalous.
func (s *Store) Record(r monitor.Result) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{"ticks": gorm.Expr("ticks + ?", 1)}
		if r.Err != "" {
			updates["failures"] = gorm.Expr("failures + ?", 1)
		}
		if r.Report.Verdict == traffic.VerdictAnomalous {
			updates["anomalies"] = gorm.Expr("anomalies + ?", 1)
		}
		if err := tx.Model(&models.ScanSession{}).
			Where("session_id = ?", r.SessionID).
			Updates(updates).Error; err != nil {
			return err
		}

		if r.Report.Verdict != traffic.VerdictAnomalous || r.Report.Rates == nil {
			return nil
		}
		kinds := make([]string, 0, len(r.Report.Anomalies))
		for _, k := range r.Report.Kinds() {
			kinds = append(kinds, string(k))
		}
		rates := r.Report.Rates
		return tx.Create(&models.AnomalyEvent{
			SessionID:       r.SessionID,
			Seq:             r.Seq,
			Kinds:           strings.Join(kinds, ","),
			Headline:        r.Headline,
			IntervalSeconds: r.Report.Interval,
			ErrInPerSec:     rates.ErrInPerSec,
			ErrOutPerSec:    rates.ErrOutPerSec,
			DropInPerSec:    rates.DropInPerSec,
			DropOutPerSec:   rates.DropOutPerSec,
			SentBytesPerSec: rates.SentBytesPerSec,
			RecvBytesPerSec: rates.RecvBytesPerSec,
			DetectedAt:      r.At,
		}).Error
	})
}

// RecentAnomalies returns the newest anomaly events first.
func (s *Store) RecentAnomalies(limit int) ([]models.AnomalyEvent, error) {
	var events []models.AnomalyEvent
	err := s.db.Order("detected_at desc").Order("id desc").Limit(limit).Find(&events).Error
	return events, err
}

// Sessions returns the newest sessions first.
func (s *Store) Sessions(limit int) ([]models.ScanSession, error) {
	var sessions []models.ScanSession
	err := s.db.Order("started_at desc").Order("id desc").Limit(limit).Find(&sessions).Error
	return sessions, err
}

// ── monitor.Listener ──────────────────────────────────────────────────────────

func (s *Store) SessionStarted(id string, at time.Time) {
	if err := s.StartSession(id, at); err != nil {
		s.log.Error("recording session start", zap.String("session", id), zap.Error(err))
	}
}

func (s *Store) SessionStopped(id string, at time.Time) {
	if err := s.StopSession(id, at); err != nil {
		s.log.Error("recording session stop", zap.String("session", id), zap.Error(err))
	}
}

func (s *Store) TickCompleted(r monitor.Result) {
	if err := s.Record(r); err != nil {
		s.log.Error("recording tick", zap.String("session", r.SessionID), zap.Uint64("seq", r.Seq), zap.Error(err))
	}
}
