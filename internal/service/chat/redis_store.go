package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zhouzirui/z-tavern/streamview/internal/model/chat"
)

const (
	sessionPrefix    = "session:"
	transcriptPrefix = "transcript:"
	maxMessages      = 50
)

// RedisStore keeps sessions as JSON strings and transcripts as capped lists.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore parses url and returns a store that expires idle sessions after ttl.
func NewRedisStore(url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisStoreFromClient(redis.NewClient(opts), ttl), nil
}

func NewRedisStoreFromClient(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

// Ping checks connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.rdb.Close()
}

func (r *RedisStore) PutSession(ctx context.Context, session chat.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := r.rdb.Set(ctx, sessionPrefix+session.ID, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (r *RedisStore) GetSession(ctx context.Context, sessionID string) (chat.Session, error) {
	data, err := r.rdb.Get(ctx, sessionPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return chat.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return chat.Session{}, fmt.Errorf("failed to load session: %w", err)
	}

	var session chat.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return chat.Session{}, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return session, nil
}

func (r *RedisStore) AppendMessage(ctx context.Context, message chat.Message) error {
	exists, err := r.rdb.Exists(ctx, sessionPrefix+message.SessionID).Result()
	if err != nil {
		return fmt.Errorf("failed to check session: %w", err)
	}
	if exists == 0 {
		return ErrSessionNotFound
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	key := transcriptPrefix + message.SessionID
	pipe := r.rdb.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -maxMessages, -1)
	pipe.Expire(ctx, key, r.ttl)
	pipe.Expire(ctx, sessionPrefix+message.SessionID, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func (r *RedisStore) LoadMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	if _, err := r.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	items, err := r.rdb.LRange(ctx, transcriptPrefix+sessionID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}

	messages := make([]chat.Message, 0, len(items))
	for _, item := range items {
		var msg chat.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}
