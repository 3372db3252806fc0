package domain

import "time"

// Status is the lifecycle state of a single test outcome.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusPass    Status = "pass"
	StatusFail    Status = "fail"
	StatusTimeout Status = "timeout"
)

// Terminal reports whether s is a final state. An outcome in a terminal
// state is never modified again.
func (s Status) Terminal() bool {
	return s == StatusPass || s == StatusFail || s == StatusTimeout
}

// TestOutcome records the execution of one catalog entry. Outcomes are
// created Pending when the session starts and mutated only by the sequencer
// run loop: Pending -> Running -> {Pass|Fail|Timeout}, never backwards.
type TestOutcome struct {
	Name            string         `json:"name"`
	Status          Status         `json:"status"`
	CommandSent     string         `json:"command_sent,omitempty"`
	ResponsePayload map[string]any `json:"response_payload,omitempty"`
	StartedAt       time.Time      `json:"started_at,omitzero"`
	CompletedAt     time.Time      `json:"completed_at,omitzero"`
	DurationMs      int64          `json:"duration_ms"`
}

// Start marks the outcome Running. It is a no-op unless the outcome is
// still Pending.
func (o *TestOutcome) Start(at time.Time) {
	if o.Status != StatusPending {
		return
	}
	o.Status = StatusRunning
	o.StartedAt = at
}

// Conclude moves a Running outcome to the given terminal status and stamps
// the completion time and duration. It reports whether the transition took
// effect; concluding an already-terminal outcome is a no-op returning false.
func (o *TestOutcome) Conclude(status Status, at time.Time) bool {
	if o.Status != StatusRunning || !status.Terminal() {
		return false
	}
	o.Status = status
	o.CompletedAt = at
	o.DurationMs = at.Sub(o.StartedAt).Milliseconds()
	return true
}
