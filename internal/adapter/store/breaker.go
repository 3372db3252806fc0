package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"benchqc/internal/domain"
	"benchqc/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 3
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// BreakerStore wraps a ResultStore with circuit breaker protection. A bench
// with a broken database (full disk, corrupt file) fails each persist fast
// instead of stalling the operator between runs; verdicts are unaffected
// either way.
type BreakerStore struct {
	inner   domain.ResultStore
	breaker *gobreaker.CircuitBreaker[any]
	logger  *slog.Logger
}

// NewBreakerStore wraps inner with a circuit breaker. Zero-valued settings
// fall back to defaults.
func NewBreakerStore(inner domain.ResultStore, cfg config.BreakerConfig, logger *slog.Logger) *BreakerStore {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "result-store",
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})

	return &BreakerStore{
		inner:   inner,
		breaker: cb,
		logger:  logger,
	}
}

// Persist implements domain.ResultStore. Calls are routed through the
// circuit breaker.
func (s *BreakerStore) Persist(ctx context.Context, fin domain.FinishedSession) error {
	_, err := s.breaker.Execute(func() (any, error) {
		return nil, s.inner.Persist(ctx, fin)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return domain.NewDomainError("BreakerStore.Persist", domain.ErrPersist,
			fmt.Sprintf("circuit open: %v", err))
	}
	return err
}

// Recent implements domain.ResultStore.
func (s *BreakerStore) Recent(ctx context.Context, limit int) ([]domain.SessionSummary, error) {
	out, err := s.breaker.Execute(func() (any, error) {
		return s.inner.Recent(ctx, limit)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, domain.NewDomainError("BreakerStore.Recent", domain.ErrPersist,
				fmt.Sprintf("circuit open: %v", err))
		}
		return nil, err
	}
	summaries, _ := out.([]domain.SessionSummary)
	return summaries, nil
}

// Close closes the wrapped store directly; teardown must work even with the
// circuit open.
func (s *BreakerStore) Close() error {
	return s.inner.Close()
}

// State returns the current circuit breaker state for monitoring.
func (s *BreakerStore) State() gobreaker.State {
	return s.breaker.State()
}

var _ domain.ResultStore = (*BreakerStore)(nil)
