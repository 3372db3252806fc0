// Package ble owns the wireless link to the device under test: discovery,
// connection, endpoint resolution, command writes, and the inbound
// notification stream.
package ble

import (
	"context"
	"time"

	"benchqc/internal/domain"
)

// Device describes a discovered device.
type Device struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
	RSSI    int    `json:"rssi,omitempty"`
}

// Endpoints are the resolved protocol-level addresses of the QA service:
// a control characteristic (write) and an event characteristic (notify).
type Endpoints struct {
	ServiceUUID     string
	ControlCharUUID string
	EventCharUUID   string
}

// Backend abstracts the radio stack so the connection manager can be
// exercised against a simulated or scripted link.
type Backend interface {
	Scan(ctx context.Context, timeout time.Duration) ([]Device, error)
	Connect(ctx context.Context, address string) error
	Disconnect(address string) error
	Services(ctx context.Context, address string) ([]string, error)
	Characteristics(ctx context.Context, address, serviceUUID string) ([]string, error)
	EnableNotifications(ctx context.Context, address, serviceUUID, charUUID string, h domain.NotificationHandler) error
	WriteCharacteristic(ctx context.Context, address, serviceUUID, charUUID string, data []byte) error
}
