// Package config provides dynamic configuration management for NetScan.
// It uses Viper to load settings from files and environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/vesaa/netscan/internal/traffic"
)

// Config holds all runtime configuration for NetScan.
type Config struct {
	// ── Server ───────────────────────────────────────────────────────────────
	ServerHost string `mapstructure:"server_host"`
	ServerPort int    `mapstructure:"server_port"`
	DBPath     string `mapstructure:"db_path"`
	DBDriver   string `mapstructure:"db_driver"` // only "sqlite" for now

	// ── Security ──────────────────────────────────────────────────────────────
	// JWTSecret: HS256 signing key for dashboard tokens.
	JWTSecret string `mapstructure:"jwt_secret"`
	AdminUser string `mapstructure:"admin_user"`
	AdminPass string `mapstructure:"admin_pass"`

	// ── Logging ───────────────────────────────────────────────────────────────
	LogLevel string `mapstructure:"log_level"` // debug | info | warn | error
	LogJSON  bool   `mapstructure:"log_json"`

	// ── Traffic scan ─────────────────────────────────────────────────────────
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	SourceTimeout time.Duration `mapstructure:"source_timeout"`
	AutoStart     bool          `mapstructure:"scan_autostart"`

	// Analyzer thresholds. Intervals in seconds, rates per second.
	MinIntervalSeconds  float64 `mapstructure:"min_interval_seconds"`
	LongIntervalSeconds float64 `mapstructure:"long_interval_seconds"`
	ErrInThreshold      float64 `mapstructure:"err_in_threshold"`
	ErrOutThreshold     float64 `mapstructure:"err_out_threshold"`
	DropInThreshold     float64 `mapstructure:"drop_in_threshold"`
	DropOutThreshold    float64 `mapstructure:"drop_out_threshold"`

	// ── Telemetry caches ─────────────────────────────────────────────────────
	StatusCacheTTL    time.Duration `mapstructure:"status_cache_ttl"`
	InterfaceCacheTTL time.Duration `mapstructure:"interface_cache_ttl"`

	// ── External IP lookup ───────────────────────────────────────────────────
	ExternalIPLookup   bool          `mapstructure:"external_ip_lookup"`
	ExternalIPServices []string      `mapstructure:"external_ip_services"` // empty = built-in list
	ExternalIPCacheTTL time.Duration `mapstructure:"external_ip_cache_ttl"`

	// ── SSH source (optional) ────────────────────────────────────────────────
	// When SSHHost is set the scanner samples that host's /proc/net/dev
	// instead of the local counters.
	SSHHost     string `mapstructure:"ssh_host"`
	SSHUser     string `mapstructure:"ssh_user"`
	SSHPassword string `mapstructure:"ssh_password"`
	SSHKeyPath  string `mapstructure:"ssh_key_path"`
}

// Load reads config from file (./config.yaml or ~/.netscan/config.yaml) and
// falls back to defaults. Environment variables with prefix NETSCAN_
// override file values.
func Load() (*Config, error) {
	return load(viper.New(), "")
}

// LoadFile is Load with an explicit config file path.
func LoadFile(path string) (*Config, error) {
	return load(viper.New(), path)
}

func load(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)

	// --- Config file ---
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.netscan")
	}
	if err := v.ReadInConfig(); err != nil {
		// config file is optional; ignore "not found" errors
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	// --- Environment Variables ---
	v.SetEnvPrefix("NETSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_host", "0.0.0.0")
	v.SetDefault("server_port", 8501)
	v.SetDefault("db_path", "netscan.db")
	v.SetDefault("db_driver", "sqlite")

	// Security defaults — MUST be overridden in production via config.yaml or env vars.
	v.SetDefault("jwt_secret", "nS7$kq2!Vx9#mL4^pR8&tW1*zY6@bC3")
	v.SetDefault("admin_user", "admin")
	v.SetDefault("admin_pass", "admin")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)

	v.SetDefault("poll_interval", "3s")
	v.SetDefault("source_timeout", "2s")
	v.SetDefault("scan_autostart", false)

	d := traffic.DefaultConfig()
	v.SetDefault("min_interval_seconds", d.MinInterval)
	v.SetDefault("long_interval_seconds", d.LongInterval)
	v.SetDefault("err_in_threshold", d.ErrInRate)
	v.SetDefault("err_out_threshold", d.ErrOutRate)
	v.SetDefault("drop_in_threshold", d.DropInRate)
	v.SetDefault("drop_out_threshold", d.DropOutRate)

	v.SetDefault("status_cache_ttl", "15s")
	v.SetDefault("interface_cache_ttl", "60s")

	v.SetDefault("external_ip_lookup", true)
	v.SetDefault("external_ip_services", []string{})
	v.SetDefault("external_ip_cache_ttl", "10m")

	v.SetDefault("ssh_host", "")
	v.SetDefault("ssh_user", "root")
	v.SetDefault("ssh_password", "")
	v.SetDefault("ssh_key_path", "")
}

// Validate rejects settings the scanner cannot run with.
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.SourceTimeout <= 0 {
		return fmt.Errorf("source_timeout must be positive, got %s", c.SourceTimeout)
	}
	if c.StatusCacheTTL <= 0 || c.InterfaceCacheTTL <= 0 || c.ExternalIPCacheTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive, got status=%s interface=%s external_ip=%s",
			c.StatusCacheTTL, c.InterfaceCacheTTL, c.ExternalIPCacheTTL)
	}
	if c.MinIntervalSeconds < 0 || c.LongIntervalSeconds < 0 {
		return errors.New("interval thresholds must not be negative")
	}
	for name, v := range map[string]float64{
		"err_in_threshold":   c.ErrInThreshold,
		"err_out_threshold":  c.ErrOutThreshold,
		"drop_in_threshold":  c.DropInThreshold,
		"drop_out_threshold": c.DropOutThreshold,
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative, got %v", name, v)
		}
	}
	return nil
}

// AnalyzerConfig maps the threshold settings onto traffic.Config.
func (c *Config) AnalyzerConfig() traffic.Config {
	return traffic.Config{
		MinInterval:  c.MinIntervalSeconds,
		LongInterval: c.LongIntervalSeconds,
		ErrInRate:    c.ErrInThreshold,
		ErrOutRate:   c.ErrOutThreshold,
		DropInRate:   c.DropInThreshold,
		DropOutRate:  c.DropOutThreshold,
	}
}
