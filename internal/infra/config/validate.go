package config

import (
	"fmt"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

var validBackends = map[string]bool{
	"sim":  true,
	"none": true,
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "warning": true, "error": true,
}

// Validate checks cfg for structural correctness. It returns a
// *ValidationError when one or more problems are found, allowing callers
// to see all issues at once.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateDevice(cfg, ve)
	validateSequencer(cfg, ve)
	validateStore(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateDevice(cfg *Config, ve *ValidationError) {
	if !validBackends[cfg.Device.Backend] {
		ve.Add("device.backend must be one of: sim, none (got %q)", cfg.Device.Backend)
	}
	if cfg.Device.ScanTimeout <= 0 {
		ve.Add("device.scan_timeout must be > 0")
	}
	if cfg.Device.ServiceUUID == "" {
		ve.Add("device.service_uuid must not be empty")
	}
	if cfg.Device.ControlCharUUID == "" {
		ve.Add("device.control_char_uuid must not be empty")
	}
	if cfg.Device.EventCharUUID == "" {
		ve.Add("device.event_char_uuid must not be empty")
	}
	if cfg.Device.Sim.Latency < 0 {
		ve.Add("device.sim.latency must be >= 0")
	}
}

func validateSequencer(cfg *Config, ve *ValidationError) {
	if cfg.Sequencer.SettleDelay < 0 {
		ve.Add("sequencer.settle_delay must be >= 0")
	}
}

func validateStore(cfg *Config, ve *ValidationError) {
	if !cfg.Store.Enabled {
		return
	}
	if cfg.Store.Path == "" {
		ve.Add("store.path must not be empty when the store is enabled")
	}
	if cfg.Store.Breaker.Timeout < 0 {
		ve.Add("store.breaker.timeout must be >= 0")
	}
	if cfg.Store.Breaker.Interval < 0 {
		ve.Add("store.breaker.interval must be >= 0")
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level must be one of: debug, info, warn, error (got %q)", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "text", "json":
	default:
		ve.Add("logger.format must be text or json (got %q)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter must be stdout or noop (got %q)", cfg.Tracer.Exporter)
	}
}
