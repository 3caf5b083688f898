package traffic

import (
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
)

// NotAvailable is what the formatters print for values they cannot render.
const NotAvailable = "N/A"

var byteUnits = [...]string{"B", "KiB", "MiB", "GiB", "TiB"}

// FormatBytes renders n using base-1024 units. Whole bytes have no decimals,
// KiB and above one decimal. Negative, NaN and infinite values yield
// NotAvailable.
func FormatBytes(n float64) string {
	if math.IsNaN(n) || math.IsInf(n, 0) || n < 0 {
		return NotAvailable
	}
	unit := 0
	for n >= 1024 && unit < len(byteUnits)-1 {
		n /= 1024
		unit++
	}
	if unit == 0 {
		return fmt.Sprintf("%d %s", int64(n), byteUnits[unit])
	}
	return fmt.Sprintf("%.1f %s", n, byteUnits[unit])
}

// FormatRate renders a bytes-per-second value, e.g. "1.5 KiB/s".
func FormatRate(bytesPerSec float64) string {
	s := FormatBytes(bytesPerSec)
	if s == NotAvailable {
		return s
	}
	return s + "/s"
}

var anomalyLabels = map[AnomalyKind]string{
	HighInputErrorRate:  "High Input Error Rate",
	HighOutputErrorRate: "High Output Error Rate",
	HighInputDropRate:   "High Input Drop Rate",
	HighOutputDropRate:  "High Output Drop Rate",
}

// String is the operator-facing label, including the observed rate.
func (a Anomaly) String() string {
	label, ok := anomalyLabels[a.Kind]
	if !ok {
		label = string(a.Kind)
	}
	return fmt.Sprintf("%s (%.1f/s)", label, a.Rate)
}

// Headline renders the verdict line shown above the cumulative stats.
func (r Report) Headline() string {
	switch r.Verdict {
	case VerdictInsufficientData:
		return "Insufficient data points for rate analysis."
	case VerdictIntervalTooShort:
		return "Interval too short for reliable rate calculation."
	}

	var parts []string
	if r.Verdict == VerdictAnomalous {
		head := "Anomaly detected!"
		if r.LongInterval {
			head += fmt.Sprintf(" (interval: %.0fs)", r.Interval)
		}
		parts = append(parts, head)
		labels := make([]string, 0, len(r.Anomalies))
		for _, a := range r.Anomalies {
			labels = append(labels, a.String())
		}
		parts = append(parts, strings.Join(labels, "; "))
	} else {
		head := "Network stable."
		if r.LongInterval {
			head += fmt.Sprintf(" (interval: %.0fs)", r.Interval)
		}
		parts = append(parts, head)
	}

	if r.Rates != nil {
		parts = append(parts,
			fmt.Sprintf("%s Tx | %s Rx", FormatRate(r.Rates.SentBytesPerSec), FormatRate(r.Rates.RecvBytesPerSec)),
			fmt.Sprintf("%s/%s PPS",
				humanize.Comma(int64(math.Round(r.Rates.SentPacketsPerSec))),
				humanize.Comma(int64(math.Round(r.Rates.RecvPacketsPerSec)))),
		)
	}
	if r.Deltas != nil {
		parts = append(parts, fmt.Sprintf("Errs Δ:%d/%d | Drops Δ:%d/%d",
			r.Deltas.ErrIn, r.Deltas.ErrOut, r.Deltas.DropIn, r.Deltas.DropOut))
	}
	return strings.Join(parts, " | ")
}

// Cumulative is the display form of the raw counters in a snapshot.
type Cumulative struct {
	Sent        string `json:"sent"`
	Recv        string `json:"recv"`
	PacketsSent string `json:"packets_sent"`
	PacketsRecv string `json:"packets_recv"`
	Errors      string `json:"errors"`
	Drops       string `json:"drops"`
}

// Summarize formats the cumulative counters of s.
func Summarize(s CounterSnapshot) Cumulative {
	return Cumulative{
		Sent:        FormatBytes(float64(s.BytesSent)),
		Recv:        FormatBytes(float64(s.BytesRecv)),
		PacketsSent: humanize.Comma(clampInt64(s.PacketsSent)),
		PacketsRecv: humanize.Comma(clampInt64(s.PacketsRecv)),
		Errors:      fmt.Sprintf("%d/%d", s.ErrIn, s.ErrOut),
		Drops:       fmt.Sprintf("%d/%d", s.DropIn, s.DropOut),
	}
}

func clampInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}
