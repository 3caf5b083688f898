package traffic

// Verdict is the categorical outcome of one analysis tick.
type Verdict string

const (
	VerdictStable           Verdict = "Stable"
	VerdictAnomalous        Verdict = "Anomalous"
	VerdictIntervalTooShort Verdict = "IntervalTooShort"
	VerdictInsufficientData Verdict = "InsufficientData"
)

// Informational reports whether v is a non-result (nothing to classify yet).
func (v Verdict) Informational() bool {
	return v == VerdictIntervalTooShort || v == VerdictInsufficientData
}

// AnomalyKind names a threshold condition.
type AnomalyKind string

const (
	HighInputErrorRate  AnomalyKind = "HighInputErrorRate"
	HighOutputErrorRate AnomalyKind = "HighOutputErrorRate"
	HighInputDropRate   AnomalyKind = "HighInputDropRate"
	HighOutputDropRate  AnomalyKind = "HighOutputDropRate"
)

// Anomaly is a rate that exceeded its configured threshold.
type Anomaly struct {
	Kind      AnomalyKind `json:"kind"`
	Rate      float64     `json:"rate"`
	Threshold float64     `json:"threshold"`
}

// Config holds the tunable analysis parameters. Intervals are in seconds,
// thresholds in events per second.
type Config struct {
	MinInterval  float64 `json:"min_interval"`
	LongInterval float64 `json:"long_interval"`

	ErrInRate   float64 `json:"err_in_rate"`
	ErrOutRate  float64 `json:"err_out_rate"`
	DropInRate  float64 `json:"drop_in_rate"`
	DropOutRate float64 `json:"drop_out_rate"`
}

// DefaultConfig returns the stock thresholds: intervals at or below 100ms
// are rejected, intervals over a minute are flagged, more than 5 errors/s or
// 10 drops/s in either direction is anomalous.
func DefaultConfig() Config {
	return Config{
		MinInterval:  0.1,
		LongInterval: 60,
		ErrInRate:    5,
		ErrOutRate:   5,
		DropInRate:   10,
		DropOutRate:  10,
	}
}

// Deltas are clamped, non-negative counter differences between two snapshots.
type Deltas struct {
	BytesSent   uint64 `json:"bytes_sent"`
	BytesRecv   uint64 `json:"bytes_recv"`
	PacketsSent uint64 `json:"packets_sent"`
	PacketsRecv uint64 `json:"packets_recv"`
	ErrIn       uint64 `json:"err_in"`
	ErrOut      uint64 `json:"err_out"`
	DropIn      uint64 `json:"drop_in"`
	DropOut     uint64 `json:"drop_out"`
}

// Rates are Deltas normalised by the sampling interval.
type Rates struct {
	SentBytesPerSec   float64 `json:"sent_bytes_per_sec"`
	RecvBytesPerSec   float64 `json:"recv_bytes_per_sec"`
	SentPacketsPerSec float64 `json:"sent_packets_per_sec"`
	RecvPacketsPerSec float64 `json:"recv_packets_per_sec"`
	ErrInPerSec       float64 `json:"err_in_per_sec"`
	ErrOutPerSec      float64 `json:"err_out_per_sec"`
	DropInPerSec      float64 `json:"drop_in_per_sec"`
	DropOutPerSec     float64 `json:"drop_out_per_sec"`
}

// SentBitsPerSec is the egress throughput in bits per second.
func (r Rates) SentBitsPerSec() float64 { return r.SentBytesPerSec * 8 }

// RecvBitsPerSec is the ingress throughput in bits per second.
func (r Rates) RecvBitsPerSec() float64 { return r.RecvBytesPerSec * 8 }

// Report is the outcome of a single Analyze call. Rates and Deltas are nil
// for informational verdicts.
type Report struct {
	Verdict      Verdict   `json:"verdict"`
	Interval     float64   `json:"interval_seconds"`
	LongInterval bool      `json:"long_interval"`
	Rates        *Rates    `json:"rates,omitempty"`
	Deltas       *Deltas   `json:"deltas,omitempty"`
	Anomalies    []Anomaly `json:"anomalies"`
}

// Has reports whether kind fired in this report.
func (r Report) Has(kind AnomalyKind) bool {
	for _, a := range r.Anomalies {
		if a.Kind == kind {
			return true
		}
	}
	return false
}

// Kinds lists the fired anomaly kinds in evaluation order.
func (r Report) Kinds() []AnomalyKind {
	kinds := make([]AnomalyKind, 0, len(r.Anomalies))
	for _, a := range r.Anomalies {
		kinds = append(kinds, a.Kind)
	}
	return kinds
}

// Analyzer turns snapshot pairs into Reports. It holds configuration only;
// the previous snapshot belongs to the caller.
type Analyzer struct {
	cfg Config
}

// NewAnalyzer returns an Analyzer using cfg.
func NewAnalyzer(cfg Config) *Analyzer {
	return &Analyzer{cfg: cfg}
}

// Config returns the analyzer's parameters.
func (a *Analyzer) Config() Config { return a.cfg }

// Analyze compares prev and cur. It never fails: missing data and degenerate
// intervals are reported through the verdict.
func (a *Analyzer) Analyze(prev, cur *CounterSnapshot) Report {
	if prev == nil || cur == nil {
		return Report{Verdict: VerdictInsufficientData, Anomalies: []Anomaly{}}
	}

	interval := cur.Timestamp - prev.Timestamp
	if !(interval > a.cfg.MinInterval) {
		return Report{Verdict: VerdictIntervalTooShort, Interval: interval, Anomalies: []Anomaly{}}
	}

	d := Deltas{
		BytesSent:   clampDelta(prev.BytesSent, cur.BytesSent),
		BytesRecv:   clampDelta(prev.BytesRecv, cur.BytesRecv),
		PacketsSent: clampDelta(prev.PacketsSent, cur.PacketsSent),
		PacketsRecv: clampDelta(prev.PacketsRecv, cur.PacketsRecv),
		ErrIn:       clampDelta(prev.ErrIn, cur.ErrIn),
		ErrOut:      clampDelta(prev.ErrOut, cur.ErrOut),
		DropIn:      clampDelta(prev.DropIn, cur.DropIn),
		DropOut:     clampDelta(prev.DropOut, cur.DropOut),
	}
	r := Rates{
		SentBytesPerSec:   float64(d.BytesSent) / interval,
		RecvBytesPerSec:   float64(d.BytesRecv) / interval,
		SentPacketsPerSec: float64(d.PacketsSent) / interval,
		RecvPacketsPerSec: float64(d.PacketsRecv) / interval,
		ErrInPerSec:       float64(d.ErrIn) / interval,
		ErrOutPerSec:      float64(d.ErrOut) / interval,
		DropInPerSec:      float64(d.DropIn) / interval,
		DropOutPerSec:     float64(d.DropOut) / interval,
	}

	rep := Report{
		Verdict:      VerdictStable,
		Interval:     interval,
		LongInterval: interval > a.cfg.LongInterval,
		Rates:        &r,
		Deltas:       &d,
		Anomalies:    a.classify(r),
	}
	if len(rep.Anomalies) > 0 {
		rep.Verdict = VerdictAnomalous
	}
	return rep
}

// classify checks every threshold independently; all that fire are returned.
func (a *Analyzer) classify(r Rates) []Anomaly {
	checks := []struct {
		kind      AnomalyKind
		rate      float64
		threshold float64
	}{
		{HighInputErrorRate, r.ErrInPerSec, a.cfg.ErrInRate},
		{HighOutputErrorRate, r.ErrOutPerSec, a.cfg.ErrOutRate},
		{HighInputDropRate, r.DropInPerSec, a.cfg.DropInRate},
		{HighOutputDropRate, r.DropOutPerSec, a.cfg.DropOutRate},
	}
	out := []Anomaly{}
	for _, c := range checks {
		if c.rate > c.threshold {
			out = append(out, Anomaly{Kind: c.kind, Rate: c.rate, Threshold: c.threshold})
		}
	}
	return out
}

// clampDelta treats a decreasing counter (reset, reboot, wraparound) as no
// observed traffic.
func clampDelta(prev, cur uint64) uint64 {
	if cur < prev {
		return 0
	}
	return cur - prev
}
