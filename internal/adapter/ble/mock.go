package ble

import (
	"context"
	"fmt"
	"sync"
	"time"

	"benchqc/internal/domain"
)

// MockBackend is a scripted test double for Backend. Every failure point of
// the connection phase can be forced through the Fail* fields, and tests
// drive inbound notifications directly with Notify.
type MockBackend struct {
	mu sync.Mutex

	ScanResult []Device
	ScanErr    error

	FailConnect    error
	FailServices   error
	FailChars      error
	FailNotify     error
	FailWrite      error
	FailDisconnect error

	ServiceUUIDs map[string][]string // address -> services
	CharUUIDs    map[string][]string // serviceUUID -> characteristics

	connected map[string]bool
	handler   domain.NotificationHandler
	written   [][]byte
}

// NewMockBackend creates a mock that discovers the given devices and
// exposes the given endpoints on all of them.
func NewMockBackend(devices []Device, ep Endpoints) *MockBackend {
	services := make(map[string][]string, len(devices))
	for _, d := range devices {
		services[d.Address] = []string{ep.ServiceUUID}
	}
	return &MockBackend{
		ScanResult:   devices,
		ServiceUUIDs: services,
		CharUUIDs:    map[string][]string{ep.ServiceUUID: {ep.ControlCharUUID, ep.EventCharUUID}},
		connected:    make(map[string]bool),
	}
}

func (m *MockBackend) Scan(_ context.Context, _ time.Duration) ([]Device, error) {
	if m.ScanErr != nil {
		return nil, m.ScanErr
	}
	return append([]Device{}, m.ScanResult...), nil
}

func (m *MockBackend) Connect(_ context.Context, address string) error {
	if m.FailConnect != nil {
		return m.FailConnect
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected[address] = true
	return nil
}

func (m *MockBackend) Disconnect(address string) error {
	if m.FailDisconnect != nil {
		return m.FailDisconnect
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected[address] {
		return fmt.Errorf("device %s not connected", address)
	}
	m.connected[address] = false
	m.handler = nil
	return nil
}

func (m *MockBackend) Services(_ context.Context, address string) ([]string, error) {
	if m.FailServices != nil {
		return nil, m.FailServices
	}
	return m.ServiceUUIDs[address], nil
}

func (m *MockBackend) Characteristics(_ context.Context, _ string, serviceUUID string) ([]string, error) {
	if m.FailChars != nil {
		return nil, m.FailChars
	}
	return m.CharUUIDs[serviceUUID], nil
}

func (m *MockBackend) EnableNotifications(_ context.Context, _ string, _ string, _ string, h domain.NotificationHandler) error {
	if m.FailNotify != nil {
		return m.FailNotify
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
	return nil
}

func (m *MockBackend) WriteCharacteristic(_ context.Context, _ string, _ string, _ string, data []byte) error {
	if m.FailWrite != nil {
		return m.FailWrite
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.written = append(m.written, append([]byte{}, data...))
	return nil
}

// Notify pushes a raw notification to the subscribed handler, as the radio
// stack would on an inbound event.
func (m *MockBackend) Notify(data []byte) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h(data)
	}
}

// Written returns a copy of all payloads written to the control endpoint.
func (m *MockBackend) Written() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.written))
	copy(out, m.written)
	return out
}

// Connected reports whether the given address currently holds a connection.
func (m *MockBackend) Connected(address string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected[address]
}

var _ Backend = (*MockBackend)(nil)
