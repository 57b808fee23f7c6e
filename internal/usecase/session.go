package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/cfieandres/cyphr-tableau/internal/domain"
)

// Session store defaults.
const (
	DefaultMaxHistory = 10
	DefaultSessionTTL = 24 * time.Hour

	maxSessionIDLen = 128
)

// Session is one conversation's bounded history. Messages and seq are
// only touched while the store's per-session lock for ID is held.
type Session struct {
	ID         string
	CreatedAt  time.Time
	maxHistory int

	msgs       []domain.Message
	seq        int64
	lastActive atomic.Int64 // unix nanoseconds
}

func (s *Session) touch(t time.Time) { s.lastActive.Store(t.UnixNano()) }

// LastActive returns the time of the last read or write.
func (s *Session) LastActive() time.Time { return time.Unix(0, s.lastActive.Load()) }

// SessionSnapshot is a point-in-time copy of a Session.
type SessionSnapshot struct {
	ID         string           `json:"session_id"`
	Messages   []domain.Message `json:"messages"`
	MaxHistory int              `json:"max_history"`
	CreatedAt  time.Time        `json:"created_at"`
	LastActive time.Time        `json:"last_active"`
}

// SessionStore keeps bounded, expiring conversation histories.
//
// Appends to one session are serialised by a per-session lock; different
// sessions never wait on each other. Expiry is driven from outside through
// SweepExpired.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	locks    *sessionGates

	maxHistory  int
	ttl         time.Duration
	now         func() time.Time
	newID       func() string
	transcripts domain.TranscriptStore
	logger      *slog.Logger
}

// SessionStoreOption configures a SessionStore.
type SessionStoreOption func(*SessionStore)

// WithMaxHistory sets the per-session message capacity.
func WithMaxHistory(n int) SessionStoreOption {
	return func(s *SessionStore) {
		if n > 0 {
			s.maxHistory = n
		}
	}
}

// WithSessionTTL sets how long an idle session survives a sweep.
func WithSessionTTL(ttl time.Duration) SessionStoreOption {
	return func(s *SessionStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithSessionClock overrides the time source.
func WithSessionClock(now func() time.Time) SessionStoreOption {
	return func(s *SessionStore) { s.now = now }
}

// WithSessionIDGenerator overrides session id generation.
func WithSessionIDGenerator(fn func() string) SessionStoreOption {
	return func(s *SessionStore) { s.newID = fn }
}

// WithTranscriptStore mirrors every appended message to ts and lets
// GetOrCreate rehydrate sessions that are no longer in memory.
func WithTranscriptStore(ts domain.TranscriptStore) SessionStoreOption {
	return func(s *SessionStore) { s.transcripts = ts }
}

// NewSessionStore creates an empty store.
func NewSessionStore(logger *slog.Logger, opts ...SessionStoreOption) *SessionStore {
	if logger == nil {
		logger = discardLogger()
	}
	s := &SessionStore{
		sessions:   make(map[string]*Session),
		locks:      newSessionGates(),
		maxHistory: DefaultMaxHistory,
		ttl:        DefaultSessionTTL,
		now:        time.Now,
		newID:      uuid.NewString,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxHistory returns the per-session message capacity.
func (s *SessionStore) MaxHistory() int { return s.maxHistory }

// TTL returns the idle time after which a session is swept.
func (s *SessionStore) TTL() time.Duration { return s.ttl }

// validateSessionID rejects ids that are empty, oversized or contain
// whitespace or control characters.
func validateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: session id cannot be empty", domain.ErrInvalidInput)
	}
	if len(id) > maxSessionIDLen {
		return fmt.Errorf("%w: session id longer than %d bytes", domain.ErrInvalidInput, maxSessionIDLen)
	}
	if strings.IndexFunc(id, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0 {
		return fmt.Errorf("%w: session id contains whitespace or control characters", domain.ErrInvalidInput)
	}
	return nil
}

// GetOrCreate returns the session for id, creating it when id is empty or
// unknown. created reports whether a new session was made.
func (s *SessionStore) GetOrCreate(ctx context.Context, id string) (snap SessionSnapshot, created bool, err error) {
	if id == "" {
		id = s.newID()
	} else if err := validateSessionID(id); err != nil {
		return SessionSnapshot{}, false, domain.NewDomainError("SessionStore.GetOrCreate", err, "")
	}

	if sess, ok := s.lookup(id); ok {
		snap, err := s.snapshot(ctx, sess)
		return snap, false, err
	}

	fresh := s.hydrate(ctx, id)

	s.mu.Lock()
	sess, exists := s.sessions[id]
	if !exists {
		sess = fresh
		s.sessions[id] = sess
	}
	sess.touch(s.now())
	s.mu.Unlock()

	created = !exists && len(fresh.msgs) == 0
	if created {
		s.logger.Debug("session created", "session_id", id)
	}
	snap, err = s.snapshot(ctx, sess)
	return snap, created, err
}

// Get returns a snapshot of an existing session.
func (s *SessionStore) Get(ctx context.Context, id string) (SessionSnapshot, error) {
	sess, ok := s.lookup(id)
	if !ok {
		return SessionSnapshot{}, domain.NewDomainError("SessionStore.Get", domain.ErrSessionNotFound, id)
	}
	return s.snapshot(ctx, sess)
}

// AppendMessage records a message in an existing session, evicting the
// oldest messages first when the session is at capacity.
func (s *SessionStore) AppendMessage(ctx context.Context, id, role, content string) (domain.Message, error) {
	if !domain.ValidConversationRole(role) {
		return domain.Message{}, domain.NewDomainError("SessionStore.AppendMessage", domain.ErrInvalidInput, fmt.Sprintf("role %q", role))
	}
	sess, ok := s.lookup(id)
	if !ok {
		return domain.Message{}, domain.NewDomainError("SessionStore.AppendMessage", domain.ErrSessionNotFound, id)
	}

	unlock, err := s.locks.Acquire(ctx, id)
	if err != nil {
		return domain.Message{}, domain.WrapOp("SessionStore.AppendMessage", err)
	}

	s.mu.RLock()
	current := s.sessions[id]
	s.mu.RUnlock()
	if current != sess {
		unlock()
		return domain.Message{}, domain.NewDomainError("SessionStore.AppendMessage", domain.ErrSessionNotFound, id)
	}

	now := s.now()
	msg := domain.Message{Role: role, Content: content, Timestamp: now}
	if drop := len(sess.msgs) + 1 - sess.maxHistory; drop > 0 {
		n := copy(sess.msgs, sess.msgs[drop:])
		clear(sess.msgs[n:])
		sess.msgs = sess.msgs[:n]
	}
	sess.msgs = append(sess.msgs, msg)
	sess.seq++
	entry := domain.TranscriptEntry{SessionID: id, Seq: sess.seq, Message: msg}
	sess.touch(now)
	unlock()

	if s.transcripts != nil {
		if err := s.transcripts.AppendTranscript(ctx, entry); err != nil {
			s.logger.Warn("transcript append failed", "session_id", id, "seq", entry.Seq, "error", err)
		}
	}
	return msg, nil
}

// Messages returns a copy of the session history in chronological order.
func (s *SessionStore) Messages(ctx context.Context, id string) ([]domain.Message, error) {
	snap, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return snap.Messages, nil
}

// RenderContext flattens the history into a transcript for an LLM prompt:
// "Human: ...\n" for user turns and "Assistant: ...\n\n" for assistant
// turns. It returns "" when the session has no messages.
func (s *SessionStore) RenderContext(ctx context.Context, id string) (string, error) {
	msgs, err := s.Messages(ctx, id)
	if err != nil {
		return "", err
	}
	return RenderTranscript(msgs), nil
}

// RenderTranscript formats msgs the way RenderContext does.
func RenderTranscript(msgs []domain.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case domain.RoleUser:
			b.WriteString("Human: ")
			b.WriteString(m.Content)
			b.WriteString("\n")
		case domain.RoleAssistant:
			b.WriteString("Assistant: ")
			b.WriteString(m.Content)
			b.WriteString("\n\n")
		}
	}
	return b.String()
}

// Delete removes a session and its persisted transcript.
func (s *SessionStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if s.transcripts != nil {
		if err := s.transcripts.DeleteTranscript(ctx, id); err != nil {
			return ok, domain.WrapOp("SessionStore.Delete", err)
		}
	}
	return ok, nil
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// SweepExpired removes every session idle for longer than the TTL as of
// now and returns how many were removed. Persisted transcripts are left
// to the retention job.
func (s *SessionStore) SweepExpired(now time.Time) int {
	cutoff := now.Add(-s.ttl)

	// Phase 1: identify candidates under read lock.
	s.mu.RLock()
	var stale []string
	for id, sess := range s.sessions {
		if sess.LastActive().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	s.mu.RUnlock()

	if len(stale) == 0 {
		return 0
	}

	// Phase 2: delete under write lock, re-checking activity since phase 1.
	removed := 0
	s.mu.Lock()
	for _, id := range stale {
		if sess, ok := s.sessions[id]; ok && sess.LastActive().Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Info("expired sessions swept", "removed", removed, "ttl", s.ttl.String())
	}
	return removed
}

// lookup finds a session and refreshes its activity time. The refresh
// happens under the store lock so a concurrent sweep cannot miss it.
func (s *SessionStore) lookup(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if ok {
		sess.touch(s.now())
	}
	return sess, ok
}

func (s *SessionStore) snapshot(ctx context.Context, sess *Session) (SessionSnapshot, error) {
	unlock, err := s.locks.Acquire(ctx, sess.ID)
	if err != nil {
		return SessionSnapshot{}, domain.WrapOp("SessionStore.snapshot", err)
	}
	defer unlock()

	msgs := make([]domain.Message, len(sess.msgs))
	copy(msgs, sess.msgs)
	return SessionSnapshot{
		ID:         sess.ID,
		Messages:   msgs,
		MaxHistory: sess.maxHistory,
		CreatedAt:  sess.CreatedAt,
		LastActive: sess.LastActive(),
	}, nil
}

// hydrate builds a session for id, restoring its newest messages from the
// transcript store when one is configured and the transcript is still
// within the TTL. Stale transcripts are discarded.
func (s *SessionStore) hydrate(ctx context.Context, id string) *Session {
	now := s.now()
	sess := &Session{ID: id, CreatedAt: now, maxHistory: s.maxHistory}
	if s.transcripts == nil {
		return sess
	}

	entries, err := s.transcripts.LoadTranscript(ctx, id, s.maxHistory)
	if err != nil {
		s.logger.Warn("transcript load failed", "session_id", id, "error", err)
		return sess
	}
	if len(entries) == 0 {
		return sess
	}

	last := entries[len(entries)-1]
	if now.Sub(last.Message.Timestamp) > s.ttl {
		if err := s.transcripts.DeleteTranscript(ctx, id); err != nil {
			s.logger.Warn("stale transcript delete failed", "session_id", id, "error", err)
			// Keep numbering past the stale rows so keys stay unique.
			sess.seq = last.Seq
		}
		return sess
	}

	sess.CreatedAt = entries[0].Message.Timestamp
	sess.seq = last.Seq
	sess.msgs = make([]domain.Message, 0, len(entries))
	for _, e := range entries {
		sess.msgs = append(sess.msgs, e.Message)
	}
	s.logger.Debug("session restored from transcript", "session_id", id, "messages", len(entries))
	return sess
}
