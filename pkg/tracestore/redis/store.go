// Package redis implements tracestore.Store on Redis, for hosts with more
// than one controller process or runs that outlive any of them.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/aretw0/tendril/pkg/tracestore"
)

// Store implements tracestore.Store using Redis.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Store)

// WithTTL sets the expiration for trace refs. Zero keeps them forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for trace refs.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: "tendril:run:",
		ttl:    0, // No expiration by default
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

func (s *Store) key(runID string) string {
	return s.prefix + runID
}

// Save persists the ref to Redis.
func (s *Store) Save(ctx context.Context, runID string, ref tracestore.Ref) error {
	data, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("failed to marshal trace ref: %w", err)
	}

	if err := s.client.Set(ctx, s.key(runID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// Load retrieves the ref from Redis.
func (s *Store) Load(ctx context.Context, runID string) (tracestore.Ref, error) {
	val, err := s.client.Get(ctx, s.key(runID)).Result()
	if err != nil {
		if err == backend.Nil {
			return tracestore.Ref{}, tracestore.ErrNotFound
		}
		return tracestore.Ref{}, fmt.Errorf("failed to get from redis: %w", err)
	}

	var ref tracestore.Ref
	if err := json.Unmarshal([]byte(val), &ref); err != nil {
		return tracestore.Ref{}, fmt.Errorf("failed to unmarshal trace ref: %w", err)
	}
	return ref, nil
}

// Delete removes the ref.
func (s *Store) Delete(ctx context.Context, runID string) error {
	return s.client.Del(ctx, s.key(runID)).Err()
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
