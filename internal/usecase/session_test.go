package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cfieandres/cyphr-tableau/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memTranscripts struct {
	mu      sync.Mutex
	entries map[string][]domain.TranscriptEntry
	deleted []string
}

func newMemTranscripts() *memTranscripts {
	return &memTranscripts{entries: make(map[string][]domain.TranscriptEntry)}
}

func (m *memTranscripts) AppendTranscript(_ context.Context, e domain.TranscriptEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.SessionID] = append(m.entries[e.SessionID], e)
	return nil
}

func (m *memTranscripts) LoadTranscript(_ context.Context, id string, limit int) ([]domain.TranscriptEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := append([]domain.TranscriptEntry(nil), m.entries[id]...)
	sort.Slice(all, func(i, j int) bool { return all[i].Seq < all[j].Seq })
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (m *memTranscripts) DeleteTranscript(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func newTestStore(t *testing.T, opts ...SessionStoreOption) (*SessionStore, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	opts = append([]SessionStoreOption{WithSessionClock(clock.Now)}, opts...)
	return NewSessionStore(nil, opts...), clock
}

func TestSessionStoreGetOrCreateGeneratesID(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	snap, created, err := store.GetOrCreate(ctx, "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, DefaultMaxHistory, snap.MaxHistory)

	again, created, err := store.GetOrCreate(ctx, snap.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, snap.ID, again.ID)

	other, _, err := store.GetOrCreate(ctx, "")
	require.NoError(t, err)
	assert.NotEqual(t, snap.ID, other.ID)
}

func TestSessionStoreGetOrCreateUnknownID(t *testing.T) {
	store, _ := newTestStore(t)
	snap, created, err := store.GetOrCreate(context.Background(), "client-chosen")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "client-chosen", snap.ID)
}

func TestSessionStoreRejectsBadIDs(t *testing.T) {
	store, _ := newTestStore(t)
	for _, id := range []string{"has space", "tab\there", strings.Repeat("x", maxSessionIDLen+1)} {
		_, _, err := store.GetOrCreate(context.Background(), id)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput), "id %q: %v", id, err)
	}
}

func TestSessionStoreSlidingWindow(t *testing.T) {
	store, _ := newTestStore(t, WithMaxHistory(2))
	ctx := context.Background()
	snap, _, err := store.GetOrCreate(ctx, "s")
	require.NoError(t, err)

	for _, m := range []struct{ role, content string }{
		{domain.RoleUser, "a"},
		{domain.RoleAssistant, "b"},
		{domain.RoleUser, "c"},
	} {
		_, err := store.AppendMessage(ctx, snap.ID, m.role, m.content)
		require.NoError(t, err)
	}

	msgs, err := store.Messages(ctx, snap.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleAssistant, msgs[0].Role)
	assert.Equal(t, "b", msgs[0].Content)
	assert.Equal(t, domain.RoleUser, msgs[1].Role)
	assert.Equal(t, "c", msgs[1].Content)
}

func TestSessionStoreNeverExceedsCapacity(t *testing.T) {
	store, _ := newTestStore(t, WithMaxHistory(3))
	ctx := context.Background()
	_, _, err := store.GetOrCreate(ctx, "s")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := store.AppendMessage(ctx, "s", domain.RoleUser, fmt.Sprint(i))
		require.NoError(t, err)
		msgs, err := store.Messages(ctx, "s")
		require.NoError(t, err)
		assert.LessOrEqual(t, len(msgs), 3)
		assert.Equal(t, fmt.Sprint(i), msgs[len(msgs)-1].Content, "newest message is last")
	}
	msgs, _ := store.Messages(ctx, "s")
	assert.Equal(t, []string{"7", "8", "9"}, contents(msgs))
}

func TestSessionStoreRenderContextRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	_, _, err := store.GetOrCreate(ctx, "s")
	require.NoError(t, err)

	text, err := store.RenderContext(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, "", text)

	turns := []struct{ role, content string }{
		{domain.RoleUser, "What were sales?"},
		{domain.RoleAssistant, "Sales were up 4%."},
		{domain.RoleUser, "Why?"},
		{domain.RoleAssistant, "Holiday demand."},
	}
	for _, turn := range turns {
		_, err := store.AppendMessage(ctx, "s", turn.role, turn.content)
		require.NoError(t, err)
	}

	text, err = store.RenderContext(ctx, "s")
	require.NoError(t, err)
	want := "Human: What were sales?\nAssistant: Sales were up 4%.\n\n" +
		"Human: Why?\nAssistant: Holiday demand.\n\n"
	assert.Equal(t, want, text)
}

func TestSessionStoreAppendUnknownSession(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.AppendMessage(context.Background(), "nope", domain.RoleUser, "hi")
	assert.True(t, errors.Is(err, domain.ErrSessionNotFound))

	_, err = store.RenderContext(context.Background(), "nope")
	assert.True(t, errors.Is(err, domain.ErrSessionNotFound))
}

func TestSessionStoreAppendRejectsRole(t *testing.T) {
	store, _ := newTestStore(t)
	_, _, err := store.GetOrCreate(context.Background(), "s")
	require.NoError(t, err)
	_, err = store.AppendMessage(context.Background(), "s", domain.RoleSystem, "x")
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestSessionStoreSweepExpired(t *testing.T) {
	store, clock := newTestStore(t, WithSessionTTL(time.Hour))
	ctx := context.Background()

	_, _, err := store.GetOrCreate(ctx, "old")
	require.NoError(t, err)
	clock.Advance(45 * time.Minute)
	_, _, err = store.GetOrCreate(ctx, "fresh")
	require.NoError(t, err)

	assert.Equal(t, 0, store.SweepExpired(clock.Now()))

	clock.Advance(30 * time.Minute) // old idle 75m, fresh idle 30m
	assert.Equal(t, 1, store.SweepExpired(clock.Now()))
	assert.Equal(t, 1, store.Len())

	_, err = store.Get(ctx, "old")
	assert.True(t, errors.Is(err, domain.ErrSessionNotFound))
	_, err = store.Get(ctx, "fresh")
	assert.NoError(t, err)
}

func TestSessionStoreReadsRefreshActivity(t *testing.T) {
	store, clock := newTestStore(t, WithSessionTTL(time.Hour))
	ctx := context.Background()
	_, _, err := store.GetOrCreate(ctx, "s")
	require.NoError(t, err)

	clock.Advance(50 * time.Minute)
	_, err = store.RenderContext(ctx, "s")
	require.NoError(t, err)

	clock.Advance(50 * time.Minute)
	assert.Equal(t, 0, store.SweepExpired(clock.Now()), "render counts as activity")
}

func TestSessionStoreDelete(t *testing.T) {
	ts := newMemTranscripts()
	store, _ := newTestStore(t, WithTranscriptStore(ts))
	ctx := context.Background()
	_, _, err := store.GetOrCreate(ctx, "s")
	require.NoError(t, err)

	ok, err := store.Delete(ctx, "s")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"s"}, ts.deleted)

	ok, err = store.Delete(ctx, "s")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionStoreConcurrentAppendsSameSession(t *testing.T) {
	ts := newMemTranscripts()
	store, _ := newTestStore(t, WithMaxHistory(5), WithTranscriptStore(ts))
	ctx := context.Background()
	_, _, err := store.GetOrCreate(ctx, "s")
	require.NoError(t, err)

	const writers = 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.AppendMessage(ctx, "s", domain.RoleUser, fmt.Sprint(i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	msgs, err := store.Messages(ctx, "s")
	require.NoError(t, err)
	assert.Len(t, msgs, 5)

	entries, _ := ts.LoadTranscript(ctx, "s", 0)
	require.Len(t, entries, writers)
	for i, e := range entries {
		assert.Equal(t, int64(i+1), e.Seq, "sequence numbers are dense and unique")
	}
}

func TestSessionStoreConcurrentSessions(t *testing.T) {
	store, _ := newTestStore(t, WithMaxHistory(4))
	ctx := context.Background()

	var wg sync.WaitGroup
	for s := 0; s < 10; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			id := fmt.Sprintf("session-%d", s)
			if _, _, err := store.GetOrCreate(ctx, id); err != nil {
				t.Errorf("GetOrCreate: %v", err)
				return
			}
			for i := 0; i < 8; i++ {
				if _, err := store.AppendMessage(ctx, id, domain.RoleUser, fmt.Sprint(i)); err != nil {
					t.Errorf("AppendMessage: %v", err)
				}
			}
		}(s)
	}
	wg.Wait()

	assert.Equal(t, 10, store.Len())
	for s := 0; s < 10; s++ {
		msgs, err := store.Messages(ctx, fmt.Sprintf("session-%d", s))
		require.NoError(t, err)
		assert.Equal(t, []string{"4", "5", "6", "7"}, contents(msgs))
	}
}

func TestSessionStoreRehydratesFromTranscript(t *testing.T) {
	ts := newMemTranscripts()
	ctx := context.Background()

	first, clock := newTestStore(t, WithMaxHistory(3), WithTranscriptStore(ts))
	_, _, err := first.GetOrCreate(ctx, "s")
	require.NoError(t, err)
	for _, c := range []string{"a", "b", "c", "d"} {
		_, err := first.AppendMessage(ctx, "s", domain.RoleUser, c)
		require.NoError(t, err)
	}

	// A new store (e.g. after restart) sharing the transcript store.
	second := NewSessionStore(nil, WithSessionClock(clock.Now), WithMaxHistory(3), WithTranscriptStore(ts))
	snap, created, err := second.GetOrCreate(ctx, "s")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, []string{"b", "c", "d"}, contents(snap.Messages))

	_, err = second.AppendMessage(ctx, "s", domain.RoleAssistant, "e")
	require.NoError(t, err)
	entries, _ := ts.LoadTranscript(ctx, "s", 0)
	assert.Equal(t, int64(5), entries[len(entries)-1].Seq)
}

func TestSessionStoreDiscardsStaleTranscript(t *testing.T) {
	ts := newMemTranscripts()
	ctx := context.Background()

	first, clock := newTestStore(t, WithSessionTTL(time.Hour), WithTranscriptStore(ts))
	_, _, err := first.GetOrCreate(ctx, "s")
	require.NoError(t, err)
	_, err = first.AppendMessage(ctx, "s", domain.RoleUser, "old")
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	second := NewSessionStore(nil, WithSessionClock(clock.Now), WithSessionTTL(time.Hour), WithTranscriptStore(ts))
	snap, created, err := second.GetOrCreate(ctx, "s")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Empty(t, snap.Messages)
	assert.Contains(t, ts.deleted, "s")
}

func contents(msgs []domain.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}
