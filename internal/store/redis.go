package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "gaze:calibration:"

// RedisStore keeps records as JSON strings, optionally expiring them.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisStore connects to addr. ttl <= 0 keeps records forever.
func NewRedisStore(addr, password string, db int, ttl time.Duration) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreWithClient(rdb, ttl)
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func redisKey(k Key) string {
	return redisKeyPrefix + k.UserID + ":" + k.Fingerprint
}

// latestKey holds a copy of the user's most recently saved record.
func latestKey(userID string) string {
	return "gaze:latest-calibration:" + userID
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Load returns the record for k.
func (s *RedisStore) Load(ctx context.Context, k Key) (*Record, error) {
	if err := validKey(k); err != nil {
		return nil, err
	}
	return s.get(ctx, redisKey(k))
}

// LoadLatest returns the newest record saved for userID on any device.
func (s *RedisStore) LoadLatest(ctx context.Context, userID string) (*Record, error) {
	return s.get(ctx, latestKey(userID))
}

func (s *RedisStore) get(ctx context.Context, key string) (*Record, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("parse calibration: %w", err)
	}
	return &r, nil
}

// Save stores the record for k.
func (s *RedisStore) Save(ctx context.Context, k Key, r *Record) error {
	if err := validKey(k); err != nil {
		return err
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode calibration: %w", err)
	}
	ttl := s.ttl
	if ttl < 0 {
		ttl = 0
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisKey(k), data, ttl)
		pipe.Set(ctx, latestKey(k.UserID), data, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", redisKey(k), err)
	}
	return nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
