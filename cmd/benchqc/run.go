package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"benchqc/internal/adapter/ble"
	"benchqc/internal/adapter/store"
	"benchqc/internal/domain"
	"benchqc/internal/infra/config"
	"benchqc/internal/usecase/eventbus"
	"benchqc/internal/usecase/sequencer"
)

// executeSession runs one QC battery end to end: backend, connection
// manager, event bus with the progress printer, sequencer, persistence.
func executeSession(ctx context.Context, cfg *config.Config, catalog domain.Catalog, log *slog.Logger) (domain.FinishedSession, error) {
	backend, err := newBackend(cfg)
	if err != nil {
		return domain.FinishedSession{}, err
	}

	endpoints := ble.Endpoints{
		ServiceUUID:     cfg.Device.ServiceUUID,
		ControlCharUUID: cfg.Device.ControlCharUUID,
		EventCharUUID:   cfg.Device.EventCharUUID,
	}
	manager := ble.NewManager(backend, ble.ManagerConfig{
		Selector:    cfg.Device.Selector,
		ScanTimeout: cfg.Device.ScanTimeout,
		Endpoints:   endpoints,
	}, log)

	bus := eventbus.New(log)
	defer bus.Close()
	unsubscribe := bus.SubscribeAll(progressPrinter())
	defer unsubscribe()

	seq := sequencer.New(manager, catalog, bus, log, sequencer.Options{
		SettleDelay: cfg.Sequencer.SettleDelay,
	})

	fin, runErr := seq.Run(ctx)

	// Persistence is archival: its failure is reported but never changes
	// the verdict or the exit code.
	if cfg.Store.Enabled {
		if err := persistResult(cfg, log, bus, fin); err != nil {
			log.Error("persist session", "session_id", fin.SessionID, "error", err)
		}
	}

	return fin, runErr
}

func newBackend(cfg *config.Config) (ble.Backend, error) {
	switch cfg.Device.Backend {
	case "sim":
		return ble.NewSimBackend(ble.Endpoints{
			ServiceUUID:     cfg.Device.ServiceUUID,
			ControlCharUUID: cfg.Device.ControlCharUUID,
			EventCharUUID:   cfg.Device.EventCharUUID,
		}, cfg.Device.Sim.Latency, cfg.Device.Sim.Ignore), nil
	case "none":
		return nil, fmt.Errorf("device backend disabled; set device.backend to \"sim\" or wire a radio backend")
	default:
		return nil, fmt.Errorf("unknown device backend %q", cfg.Device.Backend)
	}
}

func openStore(cfg *config.Config, log *slog.Logger) (domain.ResultStore, error) {
	inner, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	return store.NewBreakerStore(inner, cfg.Store.Breaker, log), nil
}

func persistResult(cfg *config.Config, log *slog.Logger, bus domain.EventBus, fin domain.FinishedSession) error {
	st, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Persist(context.Background(), fin); err != nil {
		return err
	}
	bus.Publish(context.Background(), domain.Event{
		Type:      domain.EventResultPersisted,
		SessionID: fin.SessionID,
	})
	log.Info("session persisted", "session_id", fin.SessionID, "path", cfg.Store.Path)
	return nil
}

// progressPrinter writes one line per lifecycle event so the operator can
// follow the run live.
func progressPrinter() domain.EventHandler {
	return func(_ context.Context, ev domain.Event) {
		switch ev.Type {
		case domain.EventDeviceConnecting:
			fmt.Println("scanning...")
		case domain.EventDeviceConnected:
			fmt.Println("connected")
		case domain.EventTestStarted:
			fmt.Printf("  %s ...\n", eventTestName(ev))
		case domain.EventTestPassed:
			fmt.Printf("  %s PASS\n", eventTestName(ev))
		case domain.EventTestFailed:
			fmt.Printf("  %s FAIL\n", eventTestName(ev))
		case domain.EventTestTimedOut:
			fmt.Printf("  %s TIMEOUT\n", eventTestName(ev))
		}
	}
}

func eventTestName(ev domain.Event) string {
	var payload struct {
		Test string `json:"test"`
	}
	if len(ev.Payload) > 0 {
		_ = json.Unmarshal(ev.Payload, &payload)
	}
	return payload.Test
}

// printSummary renders the result block shown to the operator after every
// run, whether it completed or aborted.
func printSummary(w io.Writer, fin domain.FinishedSession) {
	const rule = "=================================================="

	fmt.Fprintln(w, rule)
	device := fin.Device.Name
	if device == "" {
		device = "(not connected)"
	}
	fmt.Fprintf(w, "QC RESULTS  %s  session %s\n", device, fin.SessionID)
	fmt.Fprintln(w, rule)

	for _, out := range fin.Outcomes {
		switch out.Status {
		case domain.StatusPass, domain.StatusFail, domain.StatusTimeout:
			fmt.Fprintf(w, "  %-8s %-28s %dms\n", strings.ToUpper(string(out.Status)), out.Name, out.DurationMs)
		default:
			fmt.Fprintf(w, "  %-8s %s\n", strings.ToUpper(string(out.Status)), out.Name)
		}
	}

	fmt.Fprintln(w, strings.Repeat("-", len(rule)))
	fmt.Fprintf(w, "OVERALL: %s  (%d/%d passed, %dms)\n",
		strings.ToUpper(string(fin.Overall)), fin.TestsPassed, fin.TestsTotal, fin.DurationMs)
	fmt.Fprintln(w, rule)
}
