package domain

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TestDefinition is one entry of the QC test catalog. Definitions are
// loaded once at startup and never mutated.
type TestDefinition struct {
	Name      string         `yaml:"name" json:"name"`
	CommandID string         `yaml:"command_id" json:"command_id"`
	Payload   map[string]any `yaml:"payload" json:"payload,omitempty"`
	TimeoutMs int            `yaml:"timeout_ms" json:"timeout_ms"`
}

// Timeout returns the per-test response deadline.
func (d TestDefinition) Timeout() time.Duration {
	return time.Duration(d.TimeoutMs) * time.Millisecond
}

// Catalog is the ordered battery of QC tests run against a device.
type Catalog []TestDefinition

// DefaultCatalog returns the factory QC battery baked into the binary.
// It matches the command set of the device firmware's QA mode.
func DefaultCatalog() Catalog {
	return Catalog{
		{Name: "Audio Test", CommandID: "qa_audio_play", Payload: map[string]any{"file": "boot.wav"}, TimeoutMs: 8000},
		{Name: "Mic Sensitivity", CommandID: "qa_mic_sensitivity_test", Payload: map[string]any{"record_ms": 3000}, TimeoutMs: 6000},
		{Name: "Mic L/R Balance", CommandID: "qa_mic_lr_test", Payload: map[string]any{"wait_ms": 2000, "tone_ms": 2000, "volume_percent": 95, "freq_hz": 1000}, TimeoutMs: 10000},
		{Name: "Battery Test", CommandID: "qa_battery_test", Payload: map[string]any{}, TimeoutMs: 5000},
		{Name: "Volume Set", CommandID: "qa_volume_set", Payload: map[string]any{"percent": 80}, TimeoutMs: 3000},
	}
}

// catalogFile is the YAML shape of an external catalog file.
type catalogFile struct {
	Tests []TestDefinition `yaml:"tests"`
}

// LoadCatalog reads a catalog from a YAML file and validates it.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidCatalog, path, err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidCatalog, path, err)
	}
	c := Catalog(f.Tests)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks structural correctness: non-empty, unique names, wire
// opcodes present, positive timeouts.
func (c Catalog) Validate() error {
	if len(c) == 0 {
		return fmt.Errorf("%w: catalog has no tests", ErrInvalidCatalog)
	}
	seen := make(map[string]bool, len(c))
	for i, d := range c {
		if d.Name == "" {
			return fmt.Errorf("%w: test %d has no name", ErrInvalidCatalog, i)
		}
		if seen[d.Name] {
			return fmt.Errorf("%w: duplicate test name %q", ErrInvalidCatalog, d.Name)
		}
		seen[d.Name] = true
		if d.CommandID == "" {
			return fmt.Errorf("%w: test %q has no command id", ErrInvalidCatalog, d.Name)
		}
		if d.TimeoutMs <= 0 {
			return fmt.Errorf("%w: test %q timeout_ms must be > 0", ErrInvalidCatalog, d.Name)
		}
		// "command" is the opcode field of the wire format; a payload key
		// with the same name would shadow it.
		if _, ok := d.Payload["command"]; ok {
			return fmt.Errorf("%w: test %q payload must not contain a \"command\" key", ErrInvalidCatalog, d.Name)
		}
	}
	return nil
}
