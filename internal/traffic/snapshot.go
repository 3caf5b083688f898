// Package traffic derives per-second network rates from cumulative interface
// counters and classifies them against fixed error/drop thresholds.
package traffic

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidSnapshot is returned when a counter source hands over data that
// cannot be represented as non-negative counters. It signals a broken
// source, not anomalous traffic.
var ErrInvalidSnapshot = errors.New("invalid counter snapshot")

// CounterSnapshot is one point-in-time reading of cumulative network I/O
// counters. Timestamp is a monotonic clock reading in seconds; it is only
// meaningful relative to other snapshots from the same source.
type CounterSnapshot struct {
	Timestamp float64 `json:"timestamp"`

	BytesSent   uint64 `json:"bytes_sent"`
	BytesRecv   uint64 `json:"bytes_recv"`
	PacketsSent uint64 `json:"packets_sent"`
	PacketsRecv uint64 `json:"packets_recv"`

	ErrIn   uint64 `json:"err_in"`
	ErrOut  uint64 `json:"err_out"`
	DropIn  uint64 `json:"drop_in"`
	DropOut uint64 `json:"drop_out"`
}

// Validate checks the parts of a snapshot the type system cannot.
func (s *CounterSnapshot) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil snapshot", ErrInvalidSnapshot)
	}
	if math.IsNaN(s.Timestamp) || math.IsInf(s.Timestamp, 0) || s.Timestamp < 0 {
		return fmt.Errorf("%w: timestamp %v", ErrInvalidSnapshot, s.Timestamp)
	}
	return nil
}

// ParseCounter converts a textual counter (as read from /proc or a remote
// command) into a uint64. Negative or non-numeric input is rejected.
func ParseCounter(field, raw string) (uint64, error) {
	raw = strings.TrimSpace(raw)
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidSnapshot, field, raw)
	}
	return v, nil
}

// Add returns the field-wise sum of two snapshots, keeping s's timestamp.
// Used to aggregate per-interface counters.
func (s CounterSnapshot) Add(o CounterSnapshot) CounterSnapshot {
	s.BytesSent += o.BytesSent
	s.BytesRecv += o.BytesRecv
	s.PacketsSent += o.PacketsSent
	s.PacketsRecv += o.PacketsRecv
	s.ErrIn += o.ErrIn
	s.ErrOut += o.ErrOut
	s.DropIn += o.DropIn
	s.DropOut += o.DropOut
	return s
}
