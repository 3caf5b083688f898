// Package monitor drives periodic traffic analysis. A Monitor owns the
// single previous-snapshot slot, the ticker that schedules polls, and the
// Inactive → Armed → Sampling lifecycle around them.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/vesaa/netscan/internal/traffic"
	"go.uber.org/zap"
)

// ErrNotActive is returned by Tick when no scan session is running.
var ErrNotActive = errors.New("traffic scan is not active")

// State is the lifecycle state of a Monitor.
type State int

const (
	// StateInactive: no session, previous slot empty.
	StateInactive State = iota
	// StateArmed: session started, waiting for a usable comparison.
	StateArmed
	// StateSampling: at least one tick produced a real verdict.
	StateSampling
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateArmed:
		return "armed"
	case StateSampling:
		return "sampling"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Source produces cumulative counter snapshots.
type Source interface {
	Snapshot(ctx context.Context) (*traffic.CounterSnapshot, error)
}

// Result is the outcome of one poll tick.
type Result struct {
	SessionID  string              `json:"session_id"`
	Seq        uint64              `json:"seq"`
	At         time.Time           `json:"at"`
	Report     traffic.Report      `json:"report"`
	Headline   string              `json:"headline"`
	Cumulative *traffic.Cumulative `json:"cumulative,omitempty"`
	Err        string              `json:"error,omitempty"`
}

// Listener observes session lifecycle and tick results. Callbacks run on the
// polling goroutine and must not call Deactivate.
type Listener interface {
	SessionStarted(id string, at time.Time)
	SessionStopped(id string, at time.Time)
	TickCompleted(r Result)
}

// Info is a read-only view of a Monitor.
type Info struct {
	State     State         `json:"state"`
	SessionID string        `json:"session_id,omitempty"`
	Interval  time.Duration `json:"interval"`
	Latest    *Result       `json:"latest,omitempty"`
}

// Monitor schedules snapshot acquisition and analysis.
type Monitor struct {
	source    Source
	analyzer  *traffic.Analyzer
	clock     clock.Clock
	interval  time.Duration
	timeout   time.Duration
	log       *zap.Logger
	listeners []Listener

	// tickMu serialises ticks so the previous slot sees one writer.
	tickMu sync.Mutex

	mu      sync.Mutex
	state   State
	session string
	prev    *traffic.CounterSnapshot
	seq     uint64
	latest  *Result
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock replaces the system clock (tests use clock.NewMock()).
func WithClock(c clock.Clock) Option { return func(m *Monitor) { m.clock = c } }

// WithInterval sets the nominal poll interval.
func WithInterval(d time.Duration) Option { return func(m *Monitor) { m.interval = d } }

// WithSourceTimeout bounds each snapshot acquisition.
func WithSourceTimeout(d time.Duration) Option { return func(m *Monitor) { m.timeout = d } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(m *Monitor) { m.log = l } }

// WithListener registers a Listener.
func WithListener(l Listener) Option {
	return func(m *Monitor) { m.listeners = append(m.listeners, l) }
}

const (
	DefaultInterval      = 3 * time.Second
	DefaultSourceTimeout = 2 * time.Second
)

// New creates an inactive Monitor.
func New(src Source, an *traffic.Analyzer, opts ...Option) *Monitor {
	m := &Monitor{
		source:   src,
		analyzer: an,
		clock:    clock.New(),
		interval: DefaultInterval,
		timeout:  DefaultSourceTimeout,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Info returns the current state and latest result.
func (m *Monitor) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := Info{State: m.state, SessionID: m.session, Interval: m.interval}
	if m.latest != nil {
		r := *m.latest
		info.Latest = &r
	}
	return info
}

// State returns the lifecycle state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Latest returns the most recent result of the current session.
func (m *Monitor) Latest() (Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latest == nil {
		return Result{}, false
	}
	return *m.latest, true
}

// Activate starts a scan session: the previous slot is cleared, a baseline
// snapshot is taken and the poll ticker starts. Activating an active
// Monitor returns the running session.
func (m *Monitor) Activate(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.state != StateInactive {
		id := m.session
		m.mu.Unlock()
		return id, nil
	}
	if m.interval <= 0 {
		m.mu.Unlock()
		return "", fmt.Errorf("invalid poll interval %s", m.interval)
	}

	id := uuid.NewString()
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	ticker := m.clock.Ticker(m.interval)

	m.session = id
	m.state = StateArmed
	m.prev = nil
	m.seq = 0
	m.latest = nil
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	startedAt := m.clock.Now()
	m.log.Info("traffic scan activated", zap.String("session", id), zap.Duration("interval", m.interval))
	for _, l := range m.listeners {
		l.SessionStarted(id, startedAt)
	}

	if _, err := m.tick(ctx, id); err != nil && !errors.Is(err, ErrNotActive) {
		m.log.Error("baseline snapshot rejected", zap.String("session", id), zap.Error(err))
	}

	go m.loop(loopCtx, id, ticker, done)
	return id, nil
}

// Deactivate stops the running session, waits for the poll goroutine and
// clears the previous slot. It is a no-op when inactive.
func (m *Monitor) Deactivate() {
	m.mu.Lock()
	if m.state == StateInactive {
		m.mu.Unlock()
		return
	}
	id, cancel, done := m.session, m.cancel, m.done
	m.state = StateInactive
	m.session = ""
	m.prev = nil
	m.latest = nil
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	cancel()
	<-done

	stoppedAt := m.clock.Now()
	m.log.Info("traffic scan deactivated", zap.String("session", id))
	for _, l := range m.listeners {
		l.SessionStopped(id, stoppedAt)
	}
}

// Tick runs one poll immediately within the active session.
func (m *Monitor) Tick(ctx context.Context) (Result, error) {
	m.mu.Lock()
	id := m.session
	m.mu.Unlock()
	return m.tick(ctx, id)
}

func (m *Monitor) loop(ctx context.Context, id string, ticker *clock.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.tick(ctx, id); err != nil && !errors.Is(err, ErrNotActive) {
				m.log.Error("counter snapshot rejected", zap.String("session", id), zap.Error(err))
			}
		}
	}
}

// tick acquires one snapshot and analyzes it against the previous slot.
// Source failures degrade to InsufficientData; snapshots that fail
// validation are rejected and returned as an error.
func (m *Monitor) tick(ctx context.Context, id string) (Result, error) {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	if !m.isCurrent(id) {
		return Result{}, ErrNotActive
	}

	sctx, cancel := context.WithTimeout(ctx, m.timeout)
	cur, srcErr := m.source.Snapshot(sctx)
	cancel()
	var invalid error
	if srcErr == nil {
		invalid = cur.Validate()
	}

	m.mu.Lock()
	if m.state == StateInactive || m.session != id {
		m.mu.Unlock()
		return Result{}, ErrNotActive
	}
	m.seq++
	res := Result{SessionID: id, Seq: m.seq, At: m.clock.Now()}

	switch {
	case srcErr != nil:
		res.Report = m.analyzer.Analyze(nil, nil)
		res.Err = srcErr.Error()
		res.Headline = "Could not retrieve current network IO stats."
	case invalid != nil:
		res.Report = m.analyzer.Analyze(nil, nil)
		res.Err = invalid.Error()
		res.Headline = "Counter source returned an invalid snapshot."
	default:
		rep := m.analyzer.Analyze(m.prev, cur)
		// cur becomes the baseline even when the interval was too short, so a
		// clock that stepped backwards recovers on the next tick.
		m.prev = cur
		if rep.Verdict != traffic.VerdictInsufficientData && m.state == StateArmed {
			m.state = StateSampling
		}
		cum := traffic.Summarize(*cur)
		res.Report = rep
		res.Cumulative = &cum
		res.Headline = rep.Headline()
		if m.seq == 1 && rep.Verdict == traffic.VerdictInsufficientData {
			res.Headline = "Traffic scan activated. Waiting for next interval to calculate rates..."
		}
	}
	m.latest = &res
	m.mu.Unlock()

	m.logResult(res, srcErr)
	for _, l := range m.listeners {
		l.TickCompleted(res)
	}
	return res, invalid
}

func (m *Monitor) isCurrent(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state != StateInactive && m.session == id
}

func (m *Monitor) logResult(res Result, srcErr error) {
	fields := []zap.Field{
		zap.String("session", res.SessionID),
		zap.Uint64("seq", res.Seq),
		zap.String("verdict", string(res.Report.Verdict)),
	}
	switch {
	case srcErr != nil:
		m.log.Warn("counter snapshot unavailable", append(fields, zap.Error(srcErr))...)
	case res.Report.Verdict == traffic.VerdictAnomalous:
		kinds := make([]string, 0, len(res.Report.Anomalies))
		for _, a := range res.Report.Anomalies {
			kinds = append(kinds, a.String())
		}
		m.log.Warn("network anomaly detected", append(fields, zap.Strings("anomalies", kinds))...)
	default:
		m.log.Debug("traffic tick", append(fields, zap.Float64("interval", res.Report.Interval))...)
	}
}
