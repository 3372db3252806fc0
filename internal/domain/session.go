package domain

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// DeviceIdentity identifies the device under test, as reported by the
// connection layer during discovery.
type DeviceIdentity struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// LogEntry is one line of the session's append-only audit log, ordered by
// observation time.
type LogEntry struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// OverallResult is the verdict for a whole session.
type OverallResult string

const (
	OverallPending OverallResult = "pending"
	OverallPass    OverallResult = "pass"
	OverallFail    OverallResult = "fail"
)

// Session is the complete record of one QC battery execution against one
// device. It is owned exclusively by the sequencer while the run is in
// progress; other components report into it only through the sequencer's
// delivery entry point.
type Session struct {
	ID        string
	Device    DeviceIdentity
	StartedAt time.Time
	Log       []LogEntry
	Outcomes  []TestOutcome
	Overall   OverallResult
}

// NewSession creates a session for the given catalog with one Pending
// outcome per test definition, in catalog order.
func NewSession(catalog Catalog) *Session {
	now := time.Now()
	outcomes := make([]TestOutcome, len(catalog))
	for i, def := range catalog {
		outcomes[i] = TestOutcome{Name: def.Name, Status: StatusPending}
	}
	entropy := ulid.Monotonic(rand.New(rand.NewSource(now.UnixNano())), 0)
	return &Session{
		ID:        ulid.MustNew(ulid.Timestamp(now), entropy).String(),
		StartedAt: now,
		Outcomes:  outcomes,
		Overall:   OverallPending,
	}
}

// Logf appends a formatted entry to the session log, stamped with the
// current time. Not goroutine-safe; the sequencer serializes all calls.
func (s *Session) Logf(format string, args ...any) {
	s.Log = append(s.Log, LogEntry{At: time.Now(), Message: fmt.Sprintf(format, args...)})
}

// FinishedSession is the frozen, persistable form of a concluded (or
// aborted) session, in the shape the result store accepts.
type FinishedSession struct {
	SessionID    string        `json:"session_id"`
	Device       DeviceIdentity `json:"device_info"`
	Overall      OverallResult `json:"overall_result"`
	Outcomes     []TestOutcome `json:"test_results"`
	Log          []LogEntry    `json:"detailed_logs"`
	DurationMs   int64         `json:"test_duration_ms"`
	TestsPassed  int           `json:"tests_passed"`
	TestsFailed  int           `json:"tests_failed"`
	TestsTotal   int           `json:"tests_total"`
	FinishedAt   time.Time     `json:"finished_at"`
}

// SessionSummary is a compact view of a persisted session, used for
// history listings.
type SessionSummary struct {
	SessionID   string
	DeviceName  string
	Overall     OverallResult
	TestsPassed int
	TestsTotal  int
	CreatedAt   time.Time
}
