package domain

import "context"

// ResultStore accepts a finished session record for long-term storage.
// A Persist failure is reported to the caller but never changes the
// already-computed verdict.
type ResultStore interface {
	Persist(ctx context.Context, finished FinishedSession) error
	Recent(ctx context.Context, limit int) ([]SessionSummary, error)
	Close() error
}
