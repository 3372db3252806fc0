package sequencer

import (
	"log/slog"
	"time"

	"benchqc/internal/domain"
)

// Finalize reduces the session into its persistable record. The verdict is
// Fail when any test failed or timed out, Pending when the battery did not
// run to completion without a failure (aborted runs), and Pass otherwise.
func Finalize(session *domain.Session, log *slog.Logger) domain.FinishedSession {
	var passed, failed int
	verdict := domain.OverallPass
	for _, out := range session.Outcomes {
		switch out.Status {
		case domain.StatusPass:
			passed++
		case domain.StatusFail, domain.StatusTimeout:
			failed++
			verdict = domain.OverallFail
		default:
			// Pending or Running: the battery did not finish this test.
			if verdict == domain.OverallPass {
				verdict = domain.OverallPending
			}
		}
	}

	session.Overall = verdict
	finishedAt := time.Now()
	session.Logf("session finished: %s (%d/%d passed)", verdict, passed, len(session.Outcomes))

	fin := domain.FinishedSession{
		SessionID:   session.ID,
		Device:      session.Device,
		Overall:     verdict,
		Outcomes:    session.Outcomes,
		Log:         session.Log,
		DurationMs:  finishedAt.Sub(session.StartedAt).Milliseconds(),
		TestsPassed: passed,
		TestsFailed: failed,
		TestsTotal:  len(session.Outcomes),
		FinishedAt:  finishedAt,
	}

	log.Info("session finalized",
		"overall", verdict,
		"passed", passed,
		"failed", failed,
		"total", fin.TestsTotal,
		"duration_ms", fin.DurationMs,
	)
	return fin
}
