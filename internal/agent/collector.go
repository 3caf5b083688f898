// Package agent reads network counters and host telemetry.
// It uses gopsutil for cross-platform system telemetry and an SSH fallback
// for hosts that cannot run the binary themselves.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	psnet "github.com/shirou/gopsutil/v4/net"
	"github.com/vesaa/netscan/internal/traffic"
)

// ErrNoCounters is returned when the OS reports no interface counters.
var ErrNoCounters = errors.New("no network counters available")

// ioCountersFunc matches psnet.IOCountersWithContext.
type ioCountersFunc func(ctx context.Context, pernic bool) ([]psnet.IOCountersStat, error)

// Collector reads the aggregate I/O counters of all local interfaces.
// Timestamps are seconds since the collector was created, taken from a
// monotonic clock.
type Collector struct {
	clock      clock.Clock
	origin     time.Time
	ioCounters ioCountersFunc
}

// NewCollector creates a ready-to-use Collector. A nil clock means the
// system clock.
func NewCollector(clk clock.Clock) *Collector {
	if clk == nil {
		clk = clock.New()
	}
	return &Collector{
		clock:      clk,
		origin:     clk.Now(),
		ioCounters: psnet.IOCountersWithContext,
	}
}

// Snapshot gathers the current counters.
func (c *Collector) Snapshot(ctx context.Context) (*traffic.CounterSnapshot, error) {
	stats, err := c.ioCounters(ctx, false) // aggregate all interfaces
	if err != nil {
		return nil, fmt.Errorf("reading io counters: %w", err)
	}
	if len(stats) == 0 {
		return nil, ErrNoCounters
	}

	snap := fromIOCounters(stats[0])
	snap.Timestamp = c.clock.Since(c.origin).Seconds()
	return &snap, nil
}

func fromIOCounters(s psnet.IOCountersStat) traffic.CounterSnapshot {
	return traffic.CounterSnapshot{
		BytesSent:   s.BytesSent,
		BytesRecv:   s.BytesRecv,
		PacketsSent: s.PacketsSent,
		PacketsRecv: s.PacketsRecv,
		ErrIn:       s.Errin,
		ErrOut:      s.Errout,
		DropIn:      s.Dropin,
		DropOut:     s.Dropout,
	}
}
