// Package sequencer drives the QC battery: it opens the device link, runs
// the catalog one test at a time, reconciles each test's response against
// its timeout, and reduces the run into a persistable verdict.
package sequencer

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"benchqc/internal/domain"
	"benchqc/internal/infra/logger"
	"benchqc/internal/infra/tracer"
)

// Options tunes the run loop.
type Options struct {
	// SettleDelay is the pause between tests that lets stray late
	// notifications for test i drain before test i+1 is armed. Correctness
	// does not depend on it: the pending slot is cleared before advancing,
	// so a straggler can only ever be logged and discarded.
	SettleDelay time.Duration
}

// Sequencer owns one session at a time. The Run loop is the single writer
// of all outcome and log state; notifications reach it only through
// HandleNotification, which fills the currently armed slot (if any) and
// never mutates outcomes itself.
type Sequencer struct {
	conn    domain.ConnectionManager
	catalog domain.Catalog
	bus     domain.EventBus
	logger  *slog.Logger
	opts    Options

	mu      sync.Mutex
	session *domain.Session
	slot    chan DecodedEvent // non-nil only while a test awaits its response
}

// New creates a sequencer for the given catalog over an established
// connection manager.
func New(conn domain.ConnectionManager, catalog domain.Catalog, bus domain.EventBus, logger *slog.Logger, opts Options) *Sequencer {
	return &Sequencer{
		conn:    conn,
		catalog: catalog,
		bus:     bus,
		logger:  logger,
		opts:    opts,
	}
}

// Router returns an event router wired into this sequencer, for use as the
// connection manager's notification handler.
func (s *Sequencer) Router() *Router {
	return NewRouter(s, s.logger)
}

// HandleNotification implements EventSink. Every event is appended to the
// session log; it is delivered to the run loop only when a test is
// currently awaiting a response, and the armed slot accepts exactly one
// event. Decode failures and late arrivals are logged and discarded.
func (s *Sequencer) HandleNotification(ev DecodedEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return false
	}
	if ev.Err != nil {
		s.session.Logf("decode warning: %v", ev.Err)
		return false
	}
	s.session.Logf("notification received (%d bytes)", len(ev.Raw))

	if s.slot == nil {
		s.session.Logf("late notification discarded: no test awaiting response")
		return false
	}
	select {
	case s.slot <- ev:
		// One response per armed test; further arrivals are strays.
		s.slot = nil
		return true
	default:
		return false
	}
}

// Run executes the whole battery and returns the finished record. The
// returned error is non-nil when the run aborted (connection failure or
// cancellation); outcomes of unreached tests stay Pending and the verdict
// of a partial run with no failures stays Pending.
func (s *Sequencer) Run(ctx context.Context) (domain.FinishedSession, error) {
	ctx, span := tracer.StartSpan(ctx, "qc.session")
	defer span.End()

	session := domain.NewSession(s.catalog)
	s.mu.Lock()
	s.session = session
	s.mu.Unlock()

	log := logger.WithSession(s.logger, session.ID)
	span.SetAttributes(tracer.StringAttr("session_id", session.ID), tracer.IntAttr("tests_total", len(s.catalog)))

	s.publish(domain.EventSessionStarted, session.ID, nil)

	if err := s.connect(ctx, session, log); err != nil {
		s.conn.Disconnect()
		s.logLocked("session aborted: %v", err)
		s.publish(domain.EventSessionAborted, session.ID, errPayload(err))
		tracer.RecordError(span, err)
		s.detach()
		return Finalize(session, log), err
	}
	// Release the link deterministically no matter how the run ends.
	defer func() {
		s.conn.Disconnect()
		s.publish(domain.EventDeviceDisconnected, session.ID, nil)
	}()

	for i := range s.catalog {
		if err := ctx.Err(); err != nil {
			s.abort(session, log, err)
			tracer.RecordError(span, err)
			s.detach()
			return Finalize(session, log), domain.WrapOp("Sequencer.Run", err)
		}

		aborted, err := s.runTest(ctx, session, log, i)
		if aborted {
			s.abort(session, log, err)
			tracer.RecordError(span, err)
			s.detach()
			return Finalize(session, log), domain.WrapOp("Sequencer.Run", err)
		}

		// Settle delay: give stray late events for test i time to drain
		// before test i+1 becomes current.
		if i+1 < len(s.catalog) && s.opts.SettleDelay > 0 {
			select {
			case <-time.After(s.opts.SettleDelay):
			case <-ctx.Done():
			}
		}
	}

	s.detach()
	finished := Finalize(session, log)
	s.publish(domain.EventSessionCompleted, session.ID, verdictPayload(finished))
	tracer.SetOK(span)
	return finished, nil
}

// detach ends notification intake for the current session. The run loop
// calls it before Finalize so that it finalizes as the session's only
// writer; stragglers arriving afterwards find no session and are dropped.
func (s *Sequencer) detach() {
	s.mu.Lock()
	s.session = nil
	s.slot = nil
	s.mu.Unlock()
}

// connect drives the connection phase. Any failure is fatal for the whole
// session; no test has run yet.
func (s *Sequencer) connect(ctx context.Context, session *domain.Session, log *slog.Logger) error {
	s.logLocked("connecting")
	s.publish(domain.EventDeviceConnecting, session.ID, nil)

	identity, err := s.conn.Connect(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	session.Device = identity
	session.Logf("connected to %s (%s)", identity.Name, identity.Address)
	s.mu.Unlock()
	s.publish(domain.EventDeviceConnected, session.ID, devicePayload(identity))

	if err := s.conn.ResolveEndpoints(ctx); err != nil {
		return err
	}
	s.logLocked("qa service resolved")
	s.publish(domain.EventServiceResolved, session.ID, nil)

	if err := s.conn.EnableNotifications(ctx, s.Router().OnNotification); err != nil {
		return err
	}
	s.logLocked("notifications enabled")
	s.publish(domain.EventNotificationsEnabled, session.ID, nil)

	log.Info("device ready", "name", identity.Name, "address", identity.Address)
	return nil
}

// runTest arms test i, writes its command, and waits for response, timeout,
// or cancellation. It reports aborted=true only on cancellation; write and
// encode failures conclude the outcome as Fail and the battery continues.
func (s *Sequencer) runTest(ctx context.Context, session *domain.Session, log *slog.Logger, i int) (aborted bool, err error) {
	def := s.catalog[i]

	ctx, span := tracer.StartSpan(ctx, "qc.test")
	defer span.End()
	span.SetAttributes(tracer.StringAttr("test", def.Name), tracer.StringAttr("command", def.CommandID))

	data, encErr := EncodeCommand(def.CommandID, def.Payload)

	// Arm: mark Running and open the response slot before the command is
	// on the wire, so a fast device cannot race the arming.
	now := time.Now()
	var slot chan DecodedEvent
	s.mu.Lock()
	out := &session.Outcomes[i]
	out.Start(now)
	out.CommandSent = string(data)
	slot = make(chan DecodedEvent, 1)
	s.slot = slot
	session.Logf("test %d/%d %q armed (timeout %dms)", i+1, len(s.catalog), def.Name, def.TimeoutMs)
	s.mu.Unlock()

	s.publish(domain.EventTestStarted, session.ID, testPayload(def.Name, i))
	log.Info("test started", "test", def.Name, "command", def.CommandID)

	fail := func(reason error) {
		s.mu.Lock()
		s.slot = nil
		out.Conclude(domain.StatusFail, time.Now())
		session.Logf("test %q failed: %v", def.Name, reason)
		s.mu.Unlock()
		s.publish(domain.EventTestFailed, session.ID, testPayload(def.Name, i))
		log.Warn("test failed", "test", def.Name, "error", reason)
		tracer.RecordError(span, reason)
	}

	if encErr != nil {
		fail(encErr)
		return false, nil
	}
	if writeErr := s.conn.WriteCommand(ctx, data); writeErr != nil {
		fail(writeErr)
		return false, nil
	}

	timer := time.NewTimer(def.Timeout())
	defer timer.Stop()

	select {
	case ev := <-slot:
		s.mu.Lock()
		s.slot = nil
		out.Conclude(domain.StatusPass, ev.ReceivedAt)
		out.ResponsePayload = ev.Payload
		session.Logf("test %q passed in %dms", def.Name, out.DurationMs)
		s.mu.Unlock()
		s.publish(domain.EventTestPassed, session.ID, testPayload(def.Name, i))
		log.Info("test passed", "test", def.Name, "duration_ms", out.DurationMs)
		tracer.SetOK(span)

	case <-timer.C:
		s.mu.Lock()
		s.slot = nil
		// A response racing the timer may have landed in the slot after
		// the timer was chosen; the timer is authoritative, the response
		// is a stray.
		select {
		case <-slot:
			session.Logf("response for %q arrived together with its timeout; discarded", def.Name)
		default:
		}
		out.Conclude(domain.StatusTimeout, time.Now())
		session.Logf("test %q timed out after %dms", def.Name, def.TimeoutMs)
		s.mu.Unlock()
		s.publish(domain.EventTestTimedOut, session.ID, testPayload(def.Name, i))
		log.Warn("test timed out", "test", def.Name, "timeout_ms", def.TimeoutMs)
		tracer.RecordError(span, domain.ErrTimeout)

	case <-ctx.Done():
		s.mu.Lock()
		s.slot = nil
		// The in-flight outcome is never finalized on abort: only a
		// response, a timeout, or a write error concludes a test.
		session.Logf("test %q interrupted by cancellation", def.Name)
		s.mu.Unlock()
		return true, ctx.Err()
	}

	return false, nil
}

func (s *Sequencer) abort(session *domain.Session, log *slog.Logger, cause error) {
	s.logLocked("session aborted: %v", cause)
	s.publish(domain.EventSessionAborted, session.ID, errPayload(cause))
	log.Warn("session aborted", "error", cause)
}

// logLocked appends to the session log under the sequencer mutex.
func (s *Sequencer) logLocked(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		s.session.Logf(format, args...)
	}
}

func (s *Sequencer) publish(t domain.EventType, sessionID string, payload json.RawMessage) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(context.Background(), domain.Event{
		Type:      t,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Payload:   payload,
	})
}

func testPayload(name string, index int) json.RawMessage {
	data, _ := json.Marshal(map[string]any{"test": name, "index": index})
	return data
}

func devicePayload(id domain.DeviceIdentity) json.RawMessage {
	data, _ := json.Marshal(id)
	return data
}

func errPayload(err error) json.RawMessage {
	data, _ := json.Marshal(map[string]any{"error": err.Error(), "code": domain.ErrorCodeOf(err)})
	return data
}

func verdictPayload(fin domain.FinishedSession) json.RawMessage {
	data, _ := json.Marshal(map[string]any{
		"overall":      fin.Overall,
		"tests_passed": fin.TestsPassed,
		"tests_total":  fin.TestsTotal,
	})
	return data
}
