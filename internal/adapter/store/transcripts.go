package store

import (
	"context"
	"slices"
	"time"

	"github.com/cfieandres/cyphr-tableau/internal/domain"
)

// AppendTranscript stores entry. Writing the same (session, seq) twice
// keeps the latest message.
func (s *SQLiteStore) AppendTranscript(ctx context.Context, e domain.TranscriptEntry) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO transcripts (session_id, seq, role, content, timestamp) VALUES (?, ?, ?, ?, ?)",
		e.SessionID, e.Seq, e.Message.Role, e.Message.Content, formatTime(e.Message.Timestamp),
	)
	if err != nil {
		return storageErr("SQLiteStore.AppendTranscript", err)
	}
	return nil
}

// LoadTranscript returns the newest limit entries of a session in ascending
// sequence order. A non-positive limit loads everything.
func (s *SQLiteStore) LoadTranscript(ctx context.Context, sessionID string, limit int) ([]domain.TranscriptEntry, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT seq, role, content, timestamp FROM transcripts WHERE session_id = ? ORDER BY seq DESC LIMIT ?",
		sessionID, limit)
	if err != nil {
		return nil, storageErr("SQLiteStore.LoadTranscript", err)
	}
	defer rows.Close()

	var entries []domain.TranscriptEntry
	for rows.Next() {
		e := domain.TranscriptEntry{SessionID: sessionID}
		var ts string
		if err := rows.Scan(&e.Seq, &e.Message.Role, &e.Message.Content, &ts); err != nil {
			return nil, storageErr("SQLiteStore.LoadTranscript", err)
		}
		e.Message.Timestamp = parseTime(ts)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("SQLiteStore.LoadTranscript", err)
	}
	slices.Reverse(entries)
	return entries, nil
}

// DeleteTranscript removes every entry of a session.
func (s *SQLiteStore) DeleteTranscript(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM transcripts WHERE session_id = ?", sessionID); err != nil {
		return storageErr("SQLiteStore.DeleteTranscript", err)
	}
	return nil
}

// PurgeTranscriptsBefore deletes every session whose newest entry is older
// than cutoff, so a live session never loses its head.
func (s *SQLiteStore) PurgeTranscriptsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM transcripts WHERE session_id IN (
			SELECT session_id FROM transcripts GROUP BY session_id HAVING MAX(timestamp) < ?
		)`, formatTime(cutoff))
	if err != nil {
		return 0, storageErr("SQLiteStore.PurgeTranscriptsBefore", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("SQLiteStore.PurgeTranscriptsBefore", err)
	}
	return n, nil
}
