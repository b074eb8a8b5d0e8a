package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/suPer8Hu/chatkeep/internal/completion"
)

const (
	jobTTL    = 24 * time.Hour
	keyPrefix = "chatkeep:"
)

type Store struct {
	client *redis.Client
}

// New dials redis and pings it so misconfiguration fails at startup.
func New(ctx context.Context, addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Store{client: client}, nil
}

func NewFromClient(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func revokedKey(jti string) string {
	return keyPrefix + "revoked:" + jti
}

func jobKey(id string) string {
	return keyPrefix + "job:" + id
}

func attemptsKey(scope, subject string) string {
	return fmt.Sprintf("%sattempts:%s:%s", keyPrefix, scope, subject)
}

// Revoke denylists a token id until the token would have expired anyway.
func (s *Store) Revoke(ctx context.Context, jti string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, revokedKey(jti), "1", ttl).Err()
}

func (s *Store) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, revokedKey(jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) CreateJob(ctx context.Context, j *completion.Job) error {
	b, err := json.Marshal(j)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, jobKey(j.ID), b, jobTTL).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("redisstore: job %s already exists", j.ID)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*completion.Job, error) {
	b, err := s.client.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, completion.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	var j completion.Job
	if err := json.Unmarshal(b, &j); err != nil {
		return nil, fmt.Errorf("redisstore: decode job %s: %w", id, err)
	}
	return &j, nil
}

// UpdateJob overwrites the record and keeps its remaining TTL.
func (s *Store) UpdateJob(ctx context.Context, j *completion.Job) error {
	b, err := json.Marshal(j)
	if err != nil {
		return err
	}
	err = s.client.SetArgs(ctx, jobKey(j.ID), b, redis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if errors.Is(err, redis.Nil) {
		return completion.ErrJobNotFound
	}
	return err
}

// Allow counts one attempt in a fixed window and reports whether the caller
// is still within limit.
func (s *Store) Allow(ctx context.Context, scope, subject string, limit int, window time.Duration) (bool, error) {
	key := attemptsKey(scope, subject)
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return incr.Val() <= int64(limit), nil
}

// Reset clears the attempt counter, used after a successful login.
func (s *Store) Reset(ctx context.Context, scope, subject string) error {
	return s.client.Del(ctx, attemptsKey(scope, subject)).Err()
}
