package models

import (
	"time"

	"gorm.io/gorm"
)

// AnomalyEvent stores a tick whose verdict was Anomalous. Stable and
// informational ticks are not persisted.
type AnomalyEvent struct {
	gorm.Model

	SessionID string `gorm:"index;not null" json:"session_id"`
	Seq       uint64 `json:"seq"`

	// Kinds is the comma-separated list of fired anomaly names.
	Kinds    string `json:"kinds"`
	Headline string `json:"headline"`

	// ── Rates at detection time (per second) ────────────────────────────────
	IntervalSeconds float64 `json:"interval_seconds"`
	ErrInPerSec     float64 `json:"err_in_per_sec"`
	ErrOutPerSec    float64 `json:"err_out_per_sec"`
	DropInPerSec    float64 `json:"drop_in_per_sec"`
	DropOutPerSec   float64 `json:"drop_out_per_sec"`
	SentBytesPerSec float64 `json:"sent_bytes_per_sec"`
	RecvBytesPerSec float64 `json:"recv_bytes_per_sec"`

	DetectedAt time.Time `gorm:"index" json:"detected_at"`
}
