package sequencer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"benchqc/internal/domain"
	"benchqc/internal/usecase/eventbus"
)

// fakeConn scripts the device side of a run. Commands are acknowledged
// after ackDelay unless listed as silent; per-command write errors and
// per-stage connection failures can be forced.
type fakeConn struct {
	mu sync.Mutex

	connectErr error
	resolveErr error
	notifyErr  error

	silent   map[string]bool
	writeErr map[string]error
	ackDelay time.Duration

	handler     domain.NotificationHandler
	written     []string
	disconnects int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		silent:   make(map[string]bool),
		writeErr: make(map[string]error),
		ackDelay: 2 * time.Millisecond,
	}
}

func (f *fakeConn) Connect(context.Context) (domain.DeviceIdentity, error) {
	if f.connectErr != nil {
		return domain.DeviceIdentity{}, f.connectErr
	}
	return domain.DeviceIdentity{Name: "DINO-QA-01", Address: "AA:BB:CC:DD:EE:FF"}, nil
}

func (f *fakeConn) ResolveEndpoints(context.Context) error { return f.resolveErr }

func (f *fakeConn) EnableNotifications(_ context.Context, h domain.NotificationHandler) error {
	if f.notifyErr != nil {
		return f.notifyErr
	}
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) WriteCommand(_ context.Context, data []byte) error {
	var cmd struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(data, &cmd); err != nil {
		return err
	}
	if err := f.writeErr[cmd.Command]; err != nil {
		return err
	}

	f.mu.Lock()
	f.written = append(f.written, cmd.Command)
	f.mu.Unlock()

	if f.silent[cmd.Command] {
		return nil
	}
	time.AfterFunc(f.ackDelay, func() {
		f.mu.Lock()
		h := f.handler
		f.mu.Unlock()
		if h != nil {
			ack, _ := json.Marshal(map[string]any{"command": cmd.Command, "result": "ok"})
			h(ack)
		}
	})
	return nil
}

// notify pushes a raw notification through the subscribed handler, as the
// radio stack would from its own delivery goroutine.
func (f *fakeConn) notify(data []byte) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(data)
	}
}

func (f *fakeConn) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.handler = nil
}

func (f *fakeConn) writtenCommands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.written...)
}

func testCatalog(n int, timeout int) domain.Catalog {
	cat := make(domain.Catalog, n)
	for i := range cat {
		cat[i] = domain.TestDefinition{
			Name:      fmt.Sprintf("qa_test_%d", i+1),
			CommandID: fmt.Sprintf("qa_test_%d", i+1),
			TimeoutMs: timeout,
		}
	}
	return cat
}

func newTestSequencer(conn *fakeConn, cat domain.Catalog) *Sequencer {
	return New(conn, cat, nil, slog.Default(), Options{})
}

func TestRunAllPass(t *testing.T) {
	conn := newFakeConn()
	cat := testCatalog(3, 500)
	s := newTestSequencer(conn, cat)

	fin, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.OverallPass, fin.Overall)
	assert.Equal(t, 3, fin.TestsPassed)
	assert.Equal(t, 0, fin.TestsFailed)
	assert.Equal(t, 3, fin.TestsTotal)
	assert.Equal(t, "DINO-QA-01", fin.Device.Name)
	assert.NotEmpty(t, fin.SessionID)
	assert.NotEmpty(t, fin.Log)

	for _, out := range fin.Outcomes {
		assert.Equal(t, domain.StatusPass, out.Status)
		assert.Equal(t, "ok", out.ResponsePayload["result"])
		assert.Contains(t, out.CommandSent, out.Name)
		assert.False(t, out.CompletedAt.IsZero())
	}

	assert.Equal(t, []string{"qa_test_1", "qa_test_2", "qa_test_3"}, conn.writtenCommands())
	assert.Equal(t, 1, conn.disconnects)
}

func TestRunSilentTestTimesOutOthersPass(t *testing.T) {
	conn := newFakeConn()
	cat := domain.Catalog{
		{Name: "qa_audio_play", CommandID: "qa_audio_play", TimeoutMs: 300},
		{Name: "qa_mic_sensitivity_test", CommandID: "qa_mic_sensitivity_test", TimeoutMs: 300},
		{Name: "qa_mic_lr_test", CommandID: "qa_mic_lr_test", TimeoutMs: 200},
		{Name: "qa_battery_test", CommandID: "qa_battery_test", TimeoutMs: 300},
		{Name: "qa_volume_set", CommandID: "qa_volume_set", Payload: map[string]any{"level": 5}, TimeoutMs: 300},
	}
	conn.silent["qa_mic_lr_test"] = true
	s := newTestSequencer(conn, cat)

	fin, err := s.Run(context.Background())
	require.NoError(t, err)

	want := []domain.Status{
		domain.StatusPass,
		domain.StatusPass,
		domain.StatusTimeout,
		domain.StatusPass,
		domain.StatusPass,
	}
	for i, out := range fin.Outcomes {
		assert.Equal(t, want[i], out.Status, "outcome %d (%s)", i, out.Name)
	}
	assert.Equal(t, domain.OverallFail, fin.Overall)
	assert.Equal(t, 4, fin.TestsPassed)
	assert.Equal(t, 1, fin.TestsFailed)

	// The timed-out test was concluded by its own timer, so its measured
	// duration tracks the configured timeout.
	timedOut := fin.Outcomes[2]
	assert.GreaterOrEqual(t, timedOut.DurationMs, int64(200))
	assert.Less(t, timedOut.DurationMs, int64(1000))

	// A timeout never stops the battery: every command still went out.
	assert.Len(t, conn.writtenCommands(), 5)
}

func TestRunWriteFailureFailsTestAndContinues(t *testing.T) {
	conn := newFakeConn()
	cat := testCatalog(3, 500)
	conn.writeErr["qa_test_2"] = errors.New("characteristic gone")
	s := newTestSequencer(conn, cat)

	fin, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPass, fin.Outcomes[0].Status)
	assert.Equal(t, domain.StatusFail, fin.Outcomes[1].Status)
	assert.Equal(t, domain.StatusPass, fin.Outcomes[2].Status)
	assert.Equal(t, domain.OverallFail, fin.Overall)
	assert.Equal(t, []string{"qa_test_1", "qa_test_3"}, conn.writtenCommands())
}

func TestRunConnectionPhaseFailureAborts(t *testing.T) {
	cause := domain.NewDomainError("Manager.Connect", domain.ErrDeviceNotFound, "DINO-QA-01")

	tests := []struct {
		name  string
		setup func(*fakeConn)
	}{
		{"connect fails", func(f *fakeConn) { f.connectErr = cause }},
		{"resolve fails", func(f *fakeConn) { f.resolveErr = cause }},
		{"notify enable fails", func(f *fakeConn) { f.notifyErr = cause }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := newFakeConn()
			tt.setup(conn)
			s := newTestSequencer(conn, testCatalog(2, 500))

			fin, err := s.Run(context.Background())
			require.Error(t, err)
			assert.True(t, domain.IsFatal(err))

			// No test ran, no command went out.
			assert.Empty(t, conn.writtenCommands())
			for _, out := range fin.Outcomes {
				assert.Equal(t, domain.StatusPending, out.Status)
			}
			assert.Equal(t, domain.OverallPending, fin.Overall)
			assert.GreaterOrEqual(t, conn.disconnects, 1)
		})
	}
}

func TestRunCancellationLeavesInFlightRunning(t *testing.T) {
	conn := newFakeConn()
	cat := testCatalog(3, 5000)
	conn.silent["qa_test_1"] = true
	s := newTestSequencer(conn, cat)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	fin, err := s.Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	// The interrupted test is never finalized; the rest were never reached.
	assert.Equal(t, domain.StatusRunning, fin.Outcomes[0].Status)
	assert.Equal(t, domain.StatusPending, fin.Outcomes[1].Status)
	assert.Equal(t, domain.StatusPending, fin.Outcomes[2].Status)
	assert.Equal(t, domain.OverallPending, fin.Overall)
	assert.Equal(t, []string{"qa_test_1"}, conn.writtenCommands())
	assert.Equal(t, 1, conn.disconnects)
}

func TestLateNotificationAfterConclusionIsDiscarded(t *testing.T) {
	conn := newFakeConn()
	cat := testCatalog(1, 100)
	conn.silent["qa_test_1"] = true
	s := newTestSequencer(conn, cat)

	fin, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.StatusTimeout, fin.Outcomes[0].Status)

	// A response arriving after the timer decided must not resurrect the
	// outcome.
	matched := s.HandleNotification(DecodedEvent{
		Payload:    map[string]any{"command": "qa_test_1", "result": "ok"},
		Raw:        []byte(`{}`),
		ReceivedAt: time.Now(),
	})
	assert.False(t, matched)
	assert.Equal(t, domain.StatusTimeout, fin.Outcomes[0].Status)
}

func TestRunUnderNotificationFlood(t *testing.T) {
	// A chatty device keeps notifying while the run concludes and
	// finalizes. The session log must only ever have one writer, so the
	// flood may be logged or dropped but never races finalization.
	conn := newFakeConn()
	cat := testCatalog(1, 500)
	s := newTestSequencer(conn, cat)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				conn.notify([]byte(`{"command":"qa_test_1","result":"ok"}`))
			}
		}
	}()

	fin, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.OverallPass, fin.Overall)

	// Intake is closed once the run finalizes: stragglers never match.
	assert.False(t, s.HandleNotification(DecodedEvent{
		Payload:    map[string]any{"command": "qa_test_1", "result": "ok"},
		ReceivedAt: time.Now(),
	}))

	close(stop)
	wg.Wait()
}

func TestHandleNotificationWithoutSession(t *testing.T) {
	s := newTestSequencer(newFakeConn(), testCatalog(1, 100))
	assert.False(t, s.HandleNotification(DecodedEvent{Payload: map[string]any{"result": "ok"}}))
}

func TestRunEmptyCatalogPassesVacuously(t *testing.T) {
	conn := newFakeConn()
	s := newTestSequencer(conn, nil)

	fin, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.OverallPass, fin.Overall)
	assert.Zero(t, fin.TestsTotal)
	assert.Empty(t, conn.writtenCommands())
}

func TestRunPublishesLifecycleEvents(t *testing.T) {
	logger := slog.Default()
	bus := eventbus.New(logger)
	defer bus.Close()

	var mu sync.Mutex
	seen := make(map[domain.EventType]int)
	bus.SubscribeAll(func(_ context.Context, ev domain.Event) {
		mu.Lock()
		seen[ev.Type]++
		mu.Unlock()
	})

	conn := newFakeConn()
	s := New(conn, testCatalog(2, 500), bus, logger, Options{})

	_, err := s.Run(context.Background())
	require.NoError(t, err)
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, seen[domain.EventSessionStarted])
	assert.Equal(t, 1, seen[domain.EventDeviceConnected])
	assert.Equal(t, 2, seen[domain.EventTestStarted])
	assert.Equal(t, 2, seen[domain.EventTestPassed])
	assert.Equal(t, 1, seen[domain.EventSessionCompleted])
	assert.Equal(t, 1, seen[domain.EventDeviceDisconnected])
}

func TestFinalizeVerdicts(t *testing.T) {
	mk := func(statuses ...domain.Status) *domain.Session {
		s := &domain.Session{ID: "T01", StartedAt: time.Now()}
		for i, st := range statuses {
			s.Outcomes = append(s.Outcomes, domain.TestOutcome{
				Name:   fmt.Sprintf("t%d", i),
				Status: st,
			})
		}
		return s
	}

	tests := []struct {
		name       string
		session    *domain.Session
		want       domain.OverallResult
		wantPassed int
		wantFailed int
	}{
		{"all pass", mk(domain.StatusPass, domain.StatusPass), domain.OverallPass, 2, 0},
		{"one fail", mk(domain.StatusPass, domain.StatusFail), domain.OverallFail, 1, 1},
		{"timeout counts as fail", mk(domain.StatusTimeout, domain.StatusPass), domain.OverallFail, 1, 1},
		{"pending without failure stays pending", mk(domain.StatusPass, domain.StatusPending), domain.OverallPending, 1, 0},
		{"running without failure stays pending", mk(domain.StatusRunning, domain.StatusPending), domain.OverallPending, 0, 0},
		{"failure outranks pending", mk(domain.StatusFail, domain.StatusPending), domain.OverallFail, 0, 1},
		{"no tests", mk(), domain.OverallPass, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fin := Finalize(tt.session, slog.Default())
			assert.Equal(t, tt.want, fin.Overall)
			assert.Equal(t, tt.wantPassed, fin.TestsPassed)
			assert.Equal(t, tt.wantFailed, fin.TestsFailed)
			assert.Equal(t, tt.want, tt.session.Overall)
		})
	}
}
