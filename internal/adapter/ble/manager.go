package ble

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"benchqc/internal/domain"
)

// ManagerConfig holds the link parameters for one QC bench.
type ManagerConfig struct {
	Selector    string // device name or address to match; empty matches the first QA device found
	ScanTimeout time.Duration
	Endpoints   Endpoints
}

// Manager owns the transport lifecycle for a single device connection and
// the mapping from the logical control/event endpoints to characteristic
// addresses. One Manager serves one session at a time.
type Manager struct {
	backend Backend
	cfg     ManagerConfig
	logger  *slog.Logger

	mu        sync.Mutex
	device    *Device
	resolved  bool
	notifying bool
}

// NewManager creates a connection manager over the given backend.
func NewManager(backend Backend, cfg ManagerConfig, logger *slog.Logger) *Manager {
	return &Manager{backend: backend, cfg: cfg, logger: logger}
}

// Connect scans for the configured device and opens the link. The selector
// matches either the advertised name or the address, case-insensitively.
func (m *Manager) Connect(ctx context.Context) (domain.DeviceIdentity, error) {
	const op = "Manager.Connect"

	m.logger.Info("scanning for device", "selector", m.cfg.Selector, "timeout", m.cfg.ScanTimeout)
	devices, err := m.backend.Scan(ctx, m.cfg.ScanTimeout)
	if err != nil {
		return domain.DeviceIdentity{}, domain.NewDomainError(op, domain.ErrConnectFailed, "scan: "+err.Error())
	}

	dev, ok := matchDevice(devices, m.cfg.Selector)
	if !ok {
		return domain.DeviceIdentity{}, domain.NewDomainError(op, domain.ErrDeviceNotFound, m.cfg.Selector)
	}

	if err := m.backend.Connect(ctx, dev.Address); err != nil {
		return domain.DeviceIdentity{}, domain.NewDomainError(op, domain.ErrConnectFailed, err.Error())
	}

	m.mu.Lock()
	m.device = &dev
	m.mu.Unlock()

	m.logger.Info("connected", "name", dev.Name, "address", dev.Address, "rssi", dev.RSSI)
	return domain.DeviceIdentity{Name: dev.Name, Address: dev.Address}, nil
}

// matchDevice picks the device whose name or address matches the selector.
// An empty selector matches the first discovered device.
func matchDevice(devices []Device, selector string) (Device, bool) {
	if len(devices) == 0 {
		return Device{}, false
	}
	if selector == "" {
		return devices[0], true
	}
	want := strings.ToLower(selector)
	for _, d := range devices {
		if strings.ToLower(d.Name) == want || strings.ToLower(d.Address) == want {
			return d, true
		}
	}
	return Device{}, false
}

// ResolveEndpoints verifies that the connected device exposes the QA
// service and both of its characteristics.
func (m *Manager) ResolveEndpoints(ctx context.Context) error {
	const op = "Manager.ResolveEndpoints"

	dev, err := m.connectedDevice(op)
	if err != nil {
		return err
	}
	ep := m.cfg.Endpoints

	services, err := m.backend.Services(ctx, dev.Address)
	if err != nil {
		return domain.NewDomainError(op, domain.ErrServiceNotFound, err.Error())
	}
	if !containsUUID(services, ep.ServiceUUID) {
		return domain.NewDomainError(op, domain.ErrServiceNotFound, ep.ServiceUUID)
	}

	chars, err := m.backend.Characteristics(ctx, dev.Address, ep.ServiceUUID)
	if err != nil {
		return domain.NewDomainError(op, domain.ErrCharacteristicNotFound, err.Error())
	}
	for _, uuid := range []string{ep.ControlCharUUID, ep.EventCharUUID} {
		if !containsUUID(chars, uuid) {
			return domain.NewDomainError(op, domain.ErrCharacteristicNotFound, uuid)
		}
	}

	m.mu.Lock()
	m.resolved = true
	m.mu.Unlock()

	m.logger.Info("qa service resolved", "service", ep.ServiceUUID)
	return nil
}

func containsUUID(haystack []string, uuid string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, uuid) {
			return true
		}
	}
	return false
}

// EnableNotifications subscribes h to the event characteristic. The
// endpoints must have been resolved first.
func (m *Manager) EnableNotifications(ctx context.Context, h domain.NotificationHandler) error {
	const op = "Manager.EnableNotifications"

	dev, err := m.connectedDevice(op)
	if err != nil {
		return err
	}
	m.mu.Lock()
	resolved := m.resolved
	m.mu.Unlock()
	if !resolved {
		return domain.NewDomainError(op, domain.ErrNotifyEnable, "endpoints not resolved")
	}

	ep := m.cfg.Endpoints
	if err := m.backend.EnableNotifications(ctx, dev.Address, ep.ServiceUUID, ep.EventCharUUID, h); err != nil {
		return domain.NewDomainError(op, domain.ErrNotifyEnable, err.Error())
	}

	m.mu.Lock()
	m.notifying = true
	m.mu.Unlock()

	m.logger.Info("notifications enabled", "characteristic", ep.EventCharUUID)
	return nil
}

// WriteCommand implements domain.CommandWriter: it pushes one encoded
// command to the control characteristic.
func (m *Manager) WriteCommand(ctx context.Context, data []byte) error {
	const op = "Manager.WriteCommand"

	dev, err := m.connectedDevice(op)
	if err != nil {
		return domain.NewDomainError(op, domain.ErrCommandWrite, "not connected")
	}

	ep := m.cfg.Endpoints
	if err := m.backend.WriteCharacteristic(ctx, dev.Address, ep.ServiceUUID, ep.ControlCharUUID, data); err != nil {
		return domain.NewDomainError(op, domain.ErrCommandWrite, err.Error())
	}
	m.logger.Debug("command written", "bytes", len(data))
	return nil
}

// Disconnect tears down the link. It is idempotent and safe to call on a
// nil manager or an already-closed connection.
func (m *Manager) Disconnect() {
	if m == nil {
		return
	}
	m.mu.Lock()
	dev := m.device
	m.device = nil
	m.resolved = false
	m.notifying = false
	m.mu.Unlock()

	if dev == nil {
		return
	}
	if err := m.backend.Disconnect(dev.Address); err != nil {
		m.logger.Warn("disconnect", "address", dev.Address, "error", err)
		return
	}
	m.logger.Info("disconnected", "address", dev.Address)
}

func (m *Manager) connectedDevice(op string) (Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device == nil {
		return Device{}, domain.NewDomainError(op, domain.ErrConnectFailed, "not connected")
	}
	return *m.device, nil
}

var _ domain.ConnectionManager = (*Manager)(nil)
