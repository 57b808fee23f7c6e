package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SessionSweeper removes idle sessions.
type SessionSweeper interface {
	SweepExpired(now time.Time) int
	Len() int
}

// LogPurger deletes request logs older than a cutoff.
type LogPurger interface {
	PurgeLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// TranscriptPurger deletes persisted transcript entries older than a cutoff.
type TranscriptPurger interface {
	PurgeTranscriptsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SweepObserver receives sweep results, e.g. for metrics.
type SweepObserver interface {
	AddSweptSessions(n int)
	SetActiveSessions(n int)
}

// SessionSweepAction returns the session_sweep action. observer may be nil.
func SessionSweepAction(sessions SessionSweeper, now func() time.Time, observer SweepObserver, logger *slog.Logger) func(context.Context) error {
	return func(context.Context) error {
		removed := sessions.SweepExpired(now())
		if observer != nil {
			observer.AddSweptSessions(removed)
			observer.SetActiveSessions(sessions.Len())
		}
		if removed > 0 {
			logger.Info("expired sessions swept", "removed", removed, "remaining", sessions.Len())
		}
		return nil
	}
}

// LogRetentionAction returns the log_retention action, deleting request logs
// and, when transcripts is non-nil, transcript entries older than keep.
func LogRetentionAction(logs LogPurger, transcripts TranscriptPurger, keep time.Duration, now func() time.Time, logger *slog.Logger) func(context.Context) error {
	return func(ctx context.Context) error {
		cutoff := now().Add(-keep)
		n, err := logs.PurgeLogsBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("purge request logs: %w", err)
		}
		var t int64
		if transcripts != nil {
			if t, err = transcripts.PurgeTranscriptsBefore(ctx, cutoff); err != nil {
				return fmt.Errorf("purge transcripts: %w", err)
			}
		}
		if n > 0 || t > 0 {
			logger.Info("retention purge completed", "logs_deleted", n, "transcript_entries_deleted", t, "cutoff", cutoff)
		}
		return nil
	}
}
