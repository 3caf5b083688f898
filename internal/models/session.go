// Package models defines GORM data models for NetScan.
package models

import (
	"time"

	"gorm.io/gorm"
)

// ScanSession records one activation of the traffic scan, from Activate to
// Deactivate. StoppedAt is nil while the session is running (or if the
// process died without stopping it).
type ScanSession struct {
	gorm.Model

	SessionID string     `gorm:"uniqueIndex;not null" json:"session_id"`
	StartedAt time.Time  `gorm:"index" json:"started_at"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`

	// Source is "local" or "ssh:<host>".
	Source string `json:"source"`

	// ── Counters maintained while the session runs ──────────────────────────
	Ticks     int `json:"ticks"`
	Anomalies int `json:"anomalies"`
	Failures  int `json:"failures"` // ticks where the counter source failed
}
