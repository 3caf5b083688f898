package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vesaa/netscan/internal/config"
	"github.com/vesaa/netscan/internal/monitor"
	"github.com/vesaa/netscan/internal/traffic"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := OpenDB(&config.Config{DBDriver: "sqlite", DBPath: ":memory:"})
	require.NoError(t, err)
	s := NewStore(db, "local", nil)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func anomalousResult(id string, seq uint64, at time.Time) monitor.Result {
	prev := traffic.CounterSnapshot{Timestamp: 0}
	cur := traffic.CounterSnapshot{Timestamp: 1, ErrIn: 20, DropOut: 30}
	rep := traffic.NewAnalyzer(traffic.DefaultConfig()).Analyze(&prev, &cur)
	return monitor.Result{SessionID: id, Seq: seq, At: at, Report: rep, Headline: rep.Headline()}
}

func TestStoreSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	start := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.StartSession("sess-1", start))

	s.TickCompleted(monitor.Result{SessionID: "sess-1", Seq: 1, Report: traffic.Report{Verdict: traffic.VerdictInsufficientData}})
	s.TickCompleted(monitor.Result{SessionID: "sess-1", Seq: 2, Report: traffic.Report{Verdict: traffic.VerdictInsufficientData}, Err: "io error"})
	require.NoError(t, s.Record(anomalousResult("sess-1", 3, start.Add(6*time.Second))))

	require.NoError(t, s.StopSession("sess-1", start.Add(time.Minute)))

	sessions, err := s.Sessions(10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	got := sessions[0]
	assert.Equal(t, "local", got.Source)
	assert.Equal(t, 3, got.Ticks)
	assert.Equal(t, 1, got.Failures)
	assert.Equal(t, 1, got.Anomalies)
	require.NotNil(t, got.StoppedAt)
	assert.True(t, got.StoppedAt.Equal(start.Add(time.Minute)))
}

func TestStoreRecentAnomalies(t *testing.T) {
	s := newTestStore(t)
	start := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.StartSession("sess-1", start))

	for i := 1; i <= 3; i++ {
		require.NoError(t, s.Record(anomalousResult("sess-1", uint64(i), start.Add(time.Duration(i)*time.Second))))
	}

	events, err := s.RecentAnomalies(2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(3), events[0].Seq)
	assert.Equal(t, uint64(2), events[1].Seq)
	assert.Equal(t, "HighInputErrorRate,HighOutputDropRate", events[0].Kinds)
	assert.InDelta(t, 20, events[0].ErrInPerSec, 1e-9)
	assert.InDelta(t, 30, events[0].DropOutPerSec, 1e-9)
	assert.Contains(t, events[0].Headline, "Anomaly detected!")
}

func TestStoreStopUnknownSession(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.StopSession("missing", time.Now()))
}

func TestOpenDBRejectsUnknownDriver(t *testing.T) {
	_, err := OpenDB(&config.Config{DBDriver: "mysql"})
	assert.Error(t, err)
}
