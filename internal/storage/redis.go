package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dharsanguruparan/ProgressDrop/internal/model"
)

const (
	sessionKeyPrefix = "progressdrop:session:"
	maxTxRetries     = 16
)

// RedisStore keeps each session as a JSON value with a TTL. Every write
// refreshes the TTL, so in-flight sessions stay alive while they progress
// and finished ones disappear ttl after their last update.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// redisRecord carries the fields the progress JSON hides.
type redisRecord struct {
	ID        string              `json:"id"`
	Filename  string              `json:"filename"`
	Total     int64               `json:"total"`
	Received  int64               `json:"received"`
	Status    model.SessionStatus `json:"status"`
	Error     string              `json:"error,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// ConnectRedis opens a client and verifies the server answers PING.
func ConnectRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

// NewRedisStore constructs a RedisStore.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Create inserts a session with SET NX.
func (r *RedisStore) Create(ctx context.Context, s *model.UploadSession) error {
	data, err := encodeSession(s)
	if err != nil {
		return err
	}
	ok, err := r.client.SetNX(ctx, sessionKey(s.ID), data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("create session %s: %w", s.ID, err)
	}
	if !ok {
		return ErrExists
	}
	return nil
}

// Put inserts or replaces a session.
func (r *RedisStore) Put(ctx context.Context, s *model.UploadSession) error {
	data, err := encodeSession(s)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, sessionKey(s.ID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("put session %s: %w", s.ID, err)
	}
	return nil
}

// Get loads a session.
func (r *RedisStore) Get(ctx context.Context, id string) (*model.UploadSession, error) {
	data, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return decodeSession(data)
}

// Update runs fn inside a WATCH/MULTI optimistic transaction and retries
// when another writer touched the key first.
func (r *RedisStore) Update(ctx context.Context, id string, fn func(*model.UploadSession) error) error {
	key := sessionKey(id)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		s, err := decodeSession(data)
		if err != nil {
			return err
		}
		if err := fn(s); err != nil {
			return err
		}
		next, err := encodeSession(s)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, r.ttl)
			return nil
		})
		return err
	}
	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update session %s: gave up after %d conflicting transactions", id, maxTxRetries)
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func encodeSession(s *model.UploadSession) ([]byte, error) {
	data, err := json.Marshal(redisRecord{
		ID:        s.ID,
		Filename:  s.Filename,
		Total:     s.Total,
		Received:  s.Received,
		Status:    s.Status,
		Error:     s.Error,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	return data, nil
}

func decodeSession(data []byte) (*model.UploadSession, error) {
	var rec redisRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &model.UploadSession{
		ID:        rec.ID,
		Filename:  rec.Filename,
		Total:     rec.Total,
		Received:  rec.Received,
		Status:    rec.Status,
		Error:     rec.Error,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}
