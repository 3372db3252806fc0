package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Sequencer SequencerConfig `yaml:"sequencer"`
	Store     StoreConfig     `yaml:"store"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
}

// DeviceConfig holds the radio link settings. The UUIDs must match the
// device firmware's QA service.
type DeviceConfig struct {
	Backend         string        `yaml:"backend"`  // "sim" or "none"
	Selector        string        `yaml:"selector"` // device name or address to match during scan
	ScanTimeout     time.Duration `yaml:"scan_timeout"`
	ServiceUUID     string        `yaml:"service_uuid"`
	ControlCharUUID string        `yaml:"control_char_uuid"` // write endpoint
	EventCharUUID   string        `yaml:"event_char_uuid"`   // notify endpoint
	Sim             SimConfig     `yaml:"sim"`
}

// SimConfig tunes the simulated device backend.
type SimConfig struct {
	Latency time.Duration `yaml:"latency"` // delay before each acknowledgement
	Ignore  []string      `yaml:"ignore"`  // command ids the simulated device never answers
}

// CatalogConfig points at an external test catalog. Empty path means the
// built-in factory battery.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// SequencerConfig holds run-loop tuning.
type SequencerConfig struct {
	// SettleDelay is the pause between tests that lets stray late
	// notifications drain before the next test is armed.
	SettleDelay time.Duration `yaml:"settle_delay"`
}

// StoreConfig holds result persistence settings.
type StoreConfig struct {
	Enabled bool          `yaml:"enabled"`
	Path    string        `yaml:"path"` // SQLite database file
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the circuit breaker guarding the result store.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
	Output string `yaml:"output"` // stdout, stderr, or a file path
}

// TracerConfig holds OpenTelemetry settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" or "noop"
}

// Defaults returns a Config with working defaults: simulated backend,
// built-in catalog, persistence to ./benchqc.db.
func Defaults() *Config {
	return &Config{
		Device: DeviceConfig{
			Backend:         "sim",
			ScanTimeout:     10 * time.Second,
			ServiceUUID:     "6e400001-b5a3-f393-e0a9-e50e24dcca9e",
			ControlCharUUID: "6e400002-b5a3-f393-e0a9-e50e24dcca9e",
			EventCharUUID:   "6e400003-b5a3-f393-e0a9-e50e24dcca9e",
			Sim: SimConfig{
				Latency: 50 * time.Millisecond,
			},
		},
		Sequencer: SequencerConfig{
			SettleDelay: 250 * time.Millisecond,
		},
		Store: StoreConfig{
			Enabled: true,
			Path:    "benchqc.db",
			Breaker: BreakerConfig{
				MaxFailures: 3,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter: "noop",
		},
	}
}

// Load reads the config file at path, applies environment overrides, and
// validates the result. A missing file is not an error: defaults apply.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides lets the factory line override the few settings that
// vary per bench without editing the config file.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BENCHQC_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("BENCHQC_DB_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("BENCHQC_DEVICE"); v != "" {
		cfg.Device.Selector = v
	}
}
