package domain

import "context"

// NotificationHandler receives raw payloads pushed by the device on the
// event endpoint.
type NotificationHandler func(data []byte)

// CommandWriter is the outbound half of the device link: it pushes one
// encoded command to the control endpoint.
type CommandWriter interface {
	WriteCommand(ctx context.Context, data []byte) error
}

// ConnectionManager owns the link lifecycle for one QC session. All steps
// except Disconnect are fatal on failure: the session aborts before any
// test runs.
type ConnectionManager interface {
	// Connect discovers and connects the device under test.
	Connect(ctx context.Context) (DeviceIdentity, error)
	// ResolveEndpoints maps the logical control/event endpoints to
	// transport-level addresses.
	ResolveEndpoints(ctx context.Context) error
	// EnableNotifications subscribes h to the event endpoint.
	EnableNotifications(ctx context.Context, h NotificationHandler) error
	CommandWriter
	// Disconnect releases the link. Idempotent, safe on a never-connected
	// manager.
	Disconnect()
}
