package ble

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"benchqc/internal/domain"
)

// Simulated device identity advertised by SimBackend.
const (
	simDeviceName    = "DINO-QA-SIM"
	simDeviceAddress = "C0:FF:EE:00:00:01"
)

// SimBackend emulates a QA-enabled device so the full QC battery can run
// on a bench without radio hardware. Every command written to the control
// characteristic is acknowledged on the event characteristic after a
// configurable latency, except command ids listed in ignore — those are
// swallowed, which is how timeout handling is exercised end to end.
type SimBackend struct {
	endpoints Endpoints
	latency   time.Duration
	ignore    map[string]bool

	mu        sync.Mutex
	connected bool
	handler   domain.NotificationHandler
}

// NewSimBackend creates a simulated device exposing the given endpoints.
func NewSimBackend(endpoints Endpoints, latency time.Duration, ignore []string) *SimBackend {
	ig := make(map[string]bool, len(ignore))
	for _, id := range ignore {
		ig[id] = true
	}
	return &SimBackend{endpoints: endpoints, latency: latency, ignore: ig}
}

func (s *SimBackend) Scan(_ context.Context, _ time.Duration) ([]Device, error) {
	return []Device{{Name: simDeviceName, Address: simDeviceAddress, RSSI: -40}}, nil
}

func (s *SimBackend) Connect(_ context.Context, address string) error {
	if address != simDeviceAddress {
		return fmt.Errorf("device %s not found", address)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

func (s *SimBackend) Disconnect(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return fmt.Errorf("device %s not connected", address)
	}
	s.connected = false
	s.handler = nil
	return nil
}

func (s *SimBackend) Services(_ context.Context, _ string) ([]string, error) {
	return []string{s.endpoints.ServiceUUID}, nil
}

func (s *SimBackend) Characteristics(_ context.Context, _ string, serviceUUID string) ([]string, error) {
	if serviceUUID != s.endpoints.ServiceUUID {
		return nil, fmt.Errorf("service %s not found", serviceUUID)
	}
	return []string{s.endpoints.ControlCharUUID, s.endpoints.EventCharUUID}, nil
}

func (s *SimBackend) EnableNotifications(_ context.Context, _ string, _ string, charUUID string, h domain.NotificationHandler) error {
	if charUUID != s.endpoints.EventCharUUID {
		return fmt.Errorf("characteristic %s does not notify", charUUID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return fmt.Errorf("not connected")
	}
	s.handler = h
	return nil
}

func (s *SimBackend) WriteCharacteristic(_ context.Context, _ string, _ string, charUUID string, data []byte) error {
	if charUUID != s.endpoints.ControlCharUUID {
		return fmt.Errorf("characteristic %s is not writable", charUUID)
	}
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return fmt.Errorf("not connected")
	}
	s.mu.Unlock()

	var cmd struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(data, &cmd); err != nil {
		return fmt.Errorf("malformed command: %w", err)
	}
	if s.ignore[cmd.Command] {
		return nil // firmware stays silent; the sequencer's timer decides
	}

	time.AfterFunc(s.latency, func() {
		ack, _ := json.Marshal(map[string]any{
			"command": cmd.Command,
			"result":  "ok",
		})
		s.mu.Lock()
		h := s.handler
		connected := s.connected
		s.mu.Unlock()
		if connected && h != nil {
			h(ack)
		}
	})
	return nil
}

var _ Backend = (*SimBackend)(nil)
