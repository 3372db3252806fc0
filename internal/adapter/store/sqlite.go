// Package store persists finished QC sessions to SQLite. Persistence is an
// archival concern only: a failed write never alters a session's verdict.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"benchqc/internal/domain"
)

// SQLiteStore implements domain.ResultStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and runs
// the schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open result db: %w", err)
	}
	// modernc sqlite serializes writes; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate result db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS qc_sessions (
			session_id     TEXT PRIMARY KEY,
			device_name    TEXT NOT NULL,
			device_address TEXT NOT NULL,
			overall_result TEXT NOT NULL,
			tests_passed   INTEGER NOT NULL,
			tests_failed   INTEGER NOT NULL,
			tests_total    INTEGER NOT NULL,
			duration_ms    INTEGER NOT NULL,
			test_results   TEXT NOT NULL DEFAULT '[]',
			detailed_logs  TEXT NOT NULL DEFAULT '[]',
			created_at     TEXT NOT NULL
		)
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Persist writes one finished session. Writing the same session id twice is
// an error; sessions are immutable once archived.
func (s *SQLiteStore) Persist(ctx context.Context, fin domain.FinishedSession) error {
	const op = "SQLiteStore.Persist"

	results, err := json.Marshal(fin.Outcomes)
	if err != nil {
		return domain.NewDomainError(op, domain.ErrPersist, "marshal results: "+err.Error())
	}
	logs, err := json.Marshal(fin.Log)
	if err != nil {
		return domain.NewDomainError(op, domain.ErrPersist, "marshal logs: "+err.Error())
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO qc_sessions (
			session_id, device_name, device_address, overall_result,
			tests_passed, tests_failed, tests_total, duration_ms,
			test_results, detailed_logs, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fin.SessionID, fin.Device.Name, fin.Device.Address, string(fin.Overall),
		fin.TestsPassed, fin.TestsFailed, fin.TestsTotal, fin.DurationMs,
		string(results), string(logs),
		fin.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return domain.NewDomainError(op, domain.ErrPersist, err.Error())
	}
	return nil
}

// Recent returns the newest persisted sessions, most recent first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]domain.SessionSummary, error) {
	const op = "SQLiteStore.Recent"
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, device_name, overall_result, tests_passed, tests_total, created_at
		FROM qc_sessions ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, domain.NewDomainError(op, domain.ErrPersist, err.Error())
	}
	defer rows.Close()

	var summaries []domain.SessionSummary
	for rows.Next() {
		var sum domain.SessionSummary
		var overall, createdStr string
		if err := rows.Scan(&sum.SessionID, &sum.DeviceName, &overall, &sum.TestsPassed, &sum.TestsTotal, &createdStr); err != nil {
			return nil, domain.NewDomainError(op, domain.ErrPersist, err.Error())
		}
		sum.Overall = domain.OverallResult(overall)
		sum.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

var _ domain.ResultStore = (*SQLiteStore)(nil)
