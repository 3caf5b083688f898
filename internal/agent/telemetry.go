package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/sensors"
	"github.com/vesaa/netscan/internal/cache"
	"github.com/vesaa/netscan/internal/traffic"
)

// Status is a point-in-time view of host resource usage.
type Status struct {
	Hostname string `json:"hostname"`
	OS       string `json:"os"`
	Uptime   uint64 `json:"uptime_seconds"`

	CPUPercent float64 `json:"cpu_percent"`

	MemPercent float64 `json:"mem_percent"`
	MemUsed    uint64  `json:"mem_used"`
	MemTotal   uint64  `json:"mem_total"`

	DiskPercent float64 `json:"disk_percent"`
	DiskUsed    uint64  `json:"disk_used"`
	DiskTotal   uint64  `json:"disk_total"`

	// CPUTemp is nil when no sensor produced a plausible reading.
	CPUTemp    *float64 `json:"cpu_temp_celsius,omitempty"`
	TempSource string   `json:"temp_source,omitempty"`

	CollectedAt time.Time `json:"collected_at"`
}

// StatusSummary is Status rendered for display.
type StatusSummary struct {
	CPU         string `json:"cpu_usage"`
	RAM         string `json:"ram_usage"`
	Disk        string `json:"disk_usage"`
	Temperature string `json:"cpu_temperature"`
}

// Summary formats s the way the dashboard shows it.
func (s Status) Summary() StatusSummary {
	temp := "N/A (temperature monitoring unavailable)"
	if s.CPUTemp != nil {
		temp = fmt.Sprintf("%.1f°C (%s)", *s.CPUTemp, s.TempSource)
	}
	return StatusSummary{
		CPU:         fmt.Sprintf("%.1f%%", s.CPUPercent),
		RAM:         fmt.Sprintf("%.1f%% (%s / %s)", s.MemPercent, traffic.FormatBytes(float64(s.MemUsed)), traffic.FormatBytes(float64(s.MemTotal))),
		Disk:        fmt.Sprintf("%.1f%% (%s / %s)", s.DiskPercent, traffic.FormatBytes(float64(s.DiskUsed)), traffic.FormatBytes(float64(s.DiskTotal))),
		Temperature: temp,
	}
}

// Telemetry reads host metrics and interface details through TTL caches so
// dashboard refreshes do not hammer the OS.
type Telemetry struct {
	status *cache.TTL[Status]
	ifaces *cache.TTL[[]Interface]
	extIP  *cache.TTL[ExternalIP]
	lookup *IPLookup
}

// NewTelemetry creates a Telemetry with the given cache lifetimes. lookup
// may be nil, in which case ExternalIP always fails.
func NewTelemetry(statusTTL, ifaceTTL, extIPTTL time.Duration, lookup *IPLookup) *Telemetry {
	return &Telemetry{
		status: cache.New[Status](statusTTL),
		ifaces: cache.New[[]Interface](ifaceTTL),
		extIP:  cache.New[ExternalIP](extIPTTL),
		lookup: lookup,
	}
}

// Status returns the (possibly cached) host status.
func (t *Telemetry) Status(ctx context.Context) (Status, error) {
	return t.status.Get("status", func() (Status, error) { return ReadStatus(ctx) })
}

// Interfaces returns the (possibly cached) interface list.
func (t *Telemetry) Interfaces(ctx context.Context) ([]Interface, error) {
	return t.ifaces.Get("interfaces", func() ([]Interface, error) { return ListInterfaces(ctx) })
}

// ExternalIP returns the (possibly cached) public address. Failures are not
// cached, so the next call retries every service.
func (t *Telemetry) ExternalIP(ctx context.Context) (ExternalIP, error) {
	if t.lookup == nil {
		return ExternalIP{}, ErrNoExternalIP
	}
	return t.extIP.Get("external-ip", func() (ExternalIP, error) { return t.lookup.Lookup(ctx) })
}

// Refresh drops cached values.
func (t *Telemetry) Refresh() {
	t.status.Flush()
	t.ifaces.Flush()
	t.extIP.Flush()
}

// ReadStatus gathers host status directly from the OS. Individual probe
// failures leave their fields zero; only CPU and memory are mandatory.
func ReadStatus(ctx context.Context) (Status, error) {
	st := Status{CollectedAt: time.Now()}

	pcts, err := cpu.PercentWithContext(ctx, 100*time.Millisecond, false)
	if err != nil {
		return st, fmt.Errorf("cpu percent: %w", err)
	}
	if len(pcts) > 0 {
		st.CPUPercent = pcts[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return st, fmt.Errorf("virtual memory: %w", err)
	}
	st.MemPercent = vm.UsedPercent
	st.MemUsed = vm.Used
	st.MemTotal = vm.Total

	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		st.DiskPercent = du.UsedPercent
		st.DiskUsed = du.Used
		st.DiskTotal = du.Total
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		st.Hostname = info.Hostname
		st.Uptime = info.Uptime
		st.OS = info.Platform
		if info.PlatformVersion != "" {
			st.OS = fmt.Sprintf("%s %s", info.Platform, info.PlatformVersion)
		}
	}

	// Temperatures may come back partially populated alongside a warning.
	temps, _ := sensors.TemperaturesWithContext(ctx)
	if c, key, ok := pickTemperature(temps); ok {
		st.CPUTemp = &c
		st.TempSource = key
	}
	return st, nil
}

// preferredSensors are checked in order before any other sensor.
var preferredSensors = []string{
	"cpu_thermal", "cpu-thermal", "k10temp", "coretemp", "soc_thermal",
	"acpitz", "thermal_zone0", "nvme", "pch_skylake", "tctl", "tccd1", "tdie",
	"package id 0",
}

const (
	minPlausibleTemp = -20.0
	maxPlausibleTemp = 130.0
)

// pickTemperature returns the first plausible reading from a preferred
// sensor, falling back to any plausible reading.
func pickTemperature(temps []sensors.TemperatureStat) (float64, string, bool) {
	plausible := func(t sensors.TemperatureStat) bool {
		return t.Temperature > minPlausibleTemp && t.Temperature < maxPlausibleTemp
	}
	for _, pref := range preferredSensors {
		for _, t := range temps {
			if strings.HasPrefix(strings.ToLower(t.SensorKey), pref) && plausible(t) {
				return t.Temperature, t.SensorKey, true
			}
		}
	}
	for _, t := range temps {
		if plausible(t) {
			return t.Temperature, t.SensorKey, true
		}
	}
	return 0, "", false
}
