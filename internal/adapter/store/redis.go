package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/cfieandres/cyphr-tableau/internal/domain"
)

// DefaultRedisKeyPrefix namespaces transcript keys when none is configured.
const DefaultRedisKeyPrefix = "cyphr:"

// OpenRedis parses url, connects, and pings the server.
func OpenRedis(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// RedisTranscriptStore implements domain.TranscriptStore with one sorted
// set per session, scored by sequence number. Keys expire ttl after the
// last append. With a cap set only the newest entries are kept.
type RedisTranscriptStore struct {
	client     goredis.Cmdable
	prefix     string
	ttl        time.Duration
	maxEntries int64
}

// RedisOption configures a RedisTranscriptStore.
type RedisOption func(*RedisTranscriptStore)

// WithMaxEntries trims each transcript to its newest n entries on append.
// Zero or less keeps everything.
func WithMaxEntries(n int) RedisOption {
	return func(s *RedisTranscriptStore) {
		if n > 0 {
			s.maxEntries = int64(n)
		}
	}
}

// NewRedisTranscriptStore creates a transcript store on client. A zero ttl
// keeps transcripts until they are deleted.
func NewRedisTranscriptStore(client goredis.Cmdable, prefix string, ttl time.Duration, opts ...RedisOption) *RedisTranscriptStore {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	s := &RedisTranscriptStore{client: client, prefix: prefix, ttl: ttl}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type redisEntry struct {
	Seq       int64     `json:"seq"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"ts"`
}

func (s *RedisTranscriptStore) key(sessionID string) string {
	return s.prefix + "transcript:" + sessionID
}

// AppendTranscript implements domain.TranscriptStore.
func (s *RedisTranscriptStore) AppendTranscript(ctx context.Context, e domain.TranscriptEntry) error {
	member, err := json.Marshal(redisEntry{
		Seq:       e.Seq,
		Role:      e.Message.Role,
		Content:   e.Message.Content,
		Timestamp: e.Message.Timestamp.UTC(),
	})
	if err != nil {
		return storageErr("RedisTranscriptStore.AppendTranscript", err)
	}

	key := s.key(e.SessionID)
	score := strconv.FormatInt(e.Seq, 10)
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, score, score)
		pipe.ZAdd(ctx, key, goredis.Z{Score: float64(e.Seq), Member: string(member)})
		if s.maxEntries > 0 {
			pipe.ZRemRangeByRank(ctx, key, 0, -(s.maxEntries + 1))
		}
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return storageErr("RedisTranscriptStore.AppendTranscript", err)
	}
	return nil
}

// LoadTranscript implements domain.TranscriptStore.
func (s *RedisTranscriptStore) LoadTranscript(ctx context.Context, sessionID string, limit int) ([]domain.TranscriptEntry, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	members, err := s.client.ZRange(ctx, s.key(sessionID), start, -1).Result()
	if err != nil {
		return nil, storageErr("RedisTranscriptStore.LoadTranscript", err)
	}

	entries := make([]domain.TranscriptEntry, 0, len(members))
	for _, m := range members {
		var re redisEntry
		if err := json.Unmarshal([]byte(m), &re); err != nil {
			return nil, storageErr("RedisTranscriptStore.LoadTranscript", err)
		}
		entries = append(entries, domain.TranscriptEntry{
			SessionID: sessionID,
			Seq:       re.Seq,
			Message:   domain.Message{Role: re.Role, Content: re.Content, Timestamp: re.Timestamp},
		})
	}
	return entries, nil
}

// DeleteTranscript implements domain.TranscriptStore.
func (s *RedisTranscriptStore) DeleteTranscript(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return storageErr("RedisTranscriptStore.DeleteTranscript", err)
	}
	return nil
}

var _ domain.TranscriptStore = (*RedisTranscriptStore)(nil)
