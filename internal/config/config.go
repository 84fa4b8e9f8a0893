// Package config loads and validates the scanner daemon's TOML configuration.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// ScannerConfig holds process-wide scan parameters, mutated only through the
// config boundary and read by the engine and pipeline between probes.
type ScannerConfig struct {
	RTLTCPDevice               int     `toml:"rtl_tcp_device"`
	ScannerDevice              int     `toml:"scanner_device"`
	DefaultDwellSeconds        float64 `toml:"default_dwell_seconds"`
	DefaultSquelchDB           int     `toml:"default_squelch_db"`
	ScanDelaySeconds           float64 `toml:"scan_delay_seconds"`
	ChunkDurationSeconds       int     `toml:"chunk_duration_seconds"`
	MaxSessionDurationSeconds  int     `toml:"max_session_duration_seconds"`
	OpusBitrateKbps            int     `toml:"opus_bitrate_kbps"`
	OpusSampleRate             int     `toml:"opus_sample_rate"`
	MinSignalDurationSeconds   float64 `toml:"min_signal_duration_seconds"`
	SignalTimeoutSeconds       float64 `toml:"signal_timeout_seconds"`
	RetentionDays              int     `toml:"retention_days"`
	StorageCapGB               int     `toml:"storage_cap_gb"`
	NiceLevel                  int     `toml:"nice_level"`
	IoniceClass                int     `toml:"ionice_class"`
	FFmpegThreads              int     `toml:"ffmpeg_threads"`
	ScannerStartupDelaySeconds int     `toml:"scanner_startup_delay_seconds"`
}

// ResourceThresholds holds the limits the resource monitor throttles against.
type ResourceThresholds struct {
	CPUPercentMax     float64 `toml:"cpu_percent_max"`
	IOWaitPercentMax  float64 `toml:"io_wait_percent_max"`
	SwapGrowthMBMax   float64 `toml:"swap_growth_mb_max"`
	MemoryPercentMax  float64 `toml:"memory_percent_max"`
	USBErrorCountMax  int     `toml:"usb_error_count_max"`
	HysteresisSeconds float64 `toml:"hysteresis_seconds"`
}

// ServerConfig holds HTTP/websocket listener settings.
type ServerConfig struct {
	Host            string `toml:"host"`
	Port            int    `toml:"port"`
	ReadTimeoutSecs int    `toml:"read_timeout_secs"`
	WriteTimeoutSecs int   `toml:"write_timeout_secs"`
	IdleTimeoutSecs int    `toml:"idle_timeout_secs"`
}

// LoggingConfig controls the logger.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// StorageConfig controls filesystem and telemetry paths.
type StorageConfig struct {
	BaseDir       string `toml:"base_dir"`
	RecordingsDir string `toml:"recordings_dir"`
	LogsDir       string `toml:"logs_dir"`
	TelemetryDB   string `toml:"telemetry_db"`
}

// Config is the top-level, TOML-decoded configuration.
type Config struct {
	Scanner    ScannerConfig      `toml:"scanner"`
	Thresholds ResourceThresholds `toml:"thresholds"`
	Server     ServerConfig       `toml:"server"`
	Logging    LoggingConfig      `toml:"logging"`
	Storage    StorageConfig      `toml:"storage"`
}

// RTLSDRMinFreqMHz and RTLSDRMaxFreqMHz bound the dongle's usable tuning
// range; FrequencyEntry validation rejects values outside this range.
const (
	RTLSDRMinFreqMHz = 24.0
	RTLSDRMaxFreqMHz = 1766.0
)

// Load decodes a TOML config file at path.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file not found: %w", err)
	}

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadWithFallback tries preferredPath, then a small set of conventional
// search paths, returning the first config that loads successfully.
func LoadWithFallback(preferredPath string) (*Config, error) {
	paths := []string{}
	if preferredPath != "" {
		paths = append(paths, preferredPath)
	}
	paths = append(paths, "configs/scanner.toml", "scanner.toml")

	seen := map[string]bool{}
	var lastErr error
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true

		cfg, err := Load(p)
		if err == nil {
			return cfg, nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return nil, fmt.Errorf("no usable config file found: %w", lastErr)
	}
	return nil, fmt.Errorf("no config path candidates")
}

// Validate fills in defaults in place for zero or non-positive fields. It
// does not check ranges or reject any value, and always returns nil.
func (c *Config) Validate() error {
	if err := c.Scanner.validate(); err != nil {
		return fmt.Errorf("scanner config: %w", err)
	}
	if err := c.Thresholds.validate(); err != nil {
		return fmt.Errorf("resource thresholds: %w", err)
	}
	c.Server.validate()
	c.Logging.validate()
	c.Storage.validate()
	return nil
}

func (s *ScannerConfig) validate() error {
	if s.DefaultDwellSeconds <= 0 {
		s.DefaultDwellSeconds = 2.0
	}
	if s.DefaultSquelchDB == 0 {
		s.DefaultSquelchDB = 40
	}
	if s.ScanDelaySeconds <= 0 {
		s.ScanDelaySeconds = 0.1
	}
	if s.ChunkDurationSeconds <= 0 {
		s.ChunkDurationSeconds = 30
	}
	if s.MaxSessionDurationSeconds <= 0 {
		s.MaxSessionDurationSeconds = 300
	}
	if s.OpusBitrateKbps <= 0 {
		s.OpusBitrateKbps = 64
	}
	if s.OpusSampleRate <= 0 {
		s.OpusSampleRate = 48000
	}
	if s.MinSignalDurationSeconds <= 0 {
		s.MinSignalDurationSeconds = 1.0
	}
	if s.SignalTimeoutSeconds <= 0 {
		s.SignalTimeoutSeconds = 5.0
	}
	if s.RetentionDays <= 0 {
		s.RetentionDays = 14
	}
	if s.StorageCapGB <= 0 {
		s.StorageCapGB = 60
	}
	if s.NiceLevel == 0 {
		s.NiceLevel = 19
	}
	if s.IoniceClass == 0 {
		s.IoniceClass = 3
	}
	if s.FFmpegThreads <= 0 {
		s.FFmpegThreads = 1
	}
	if s.ScannerStartupDelaySeconds == 0 {
		s.ScannerStartupDelaySeconds = 10
	}
	return nil
}

func (t *ResourceThresholds) validate() error {
	if t.CPUPercentMax <= 0 {
		t.CPUPercentMax = 80.0
	}
	if t.IOWaitPercentMax <= 0 {
		t.IOWaitPercentMax = 10.0
	}
	if t.SwapGrowthMBMax <= 0 {
		t.SwapGrowthMBMax = 50.0
	}
	if t.MemoryPercentMax <= 0 {
		t.MemoryPercentMax = 85.0
	}
	if t.USBErrorCountMax <= 0 {
		t.USBErrorCountMax = 10
	}
	if t.HysteresisSeconds <= 0 {
		t.HysteresisSeconds = 30
	}
	return nil
}

func (s *ServerConfig) validate() {
	if s.Host == "" {
		s.Host = "0.0.0.0"
	}
	if s.Port == 0 {
		s.Port = 8080
	}
	if s.ReadTimeoutSecs <= 0 {
		s.ReadTimeoutSecs = 15
	}
	if s.WriteTimeoutSecs <= 0 {
		s.WriteTimeoutSecs = 15
	}
	if s.IdleTimeoutSecs <= 0 {
		s.IdleTimeoutSecs = 60
	}
}

func (l *LoggingConfig) validate() {
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "console"
	}
}

func (s *StorageConfig) validate() {
	if s.BaseDir == "" {
		s.BaseDir = "."
	}
	if s.RecordingsDir == "" {
		s.RecordingsDir = "recordings"
	}
	if s.LogsDir == "" {
		s.LogsDir = "logs"
	}
	if s.TelemetryDB == "" {
		s.TelemetryDB = "telemetry.db"
	}
}
