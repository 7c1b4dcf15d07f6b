// Package redis provides a UserStore backed by Redis. Records are
// stored as JSON strings under a configurable key prefix, one key per
// subject. Provisioning of the records is out of scope; deployments
// typically sync them from an upstream identity system.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/oidcware/resource-server-go/store"
)

// Config for the Redis-backed UserStore. Defaults can be loaded via
// envdecode.
type Config struct {
	// Addr like "localhost:6379". ENV: REDIS_ADDR
	Addr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all user keys. ENV: USERS_KEY_PREFIX
	KeyPrefix string `env:"USERS_KEY_PREFIX,default=users:"`
}

// Store implements store.UserStore over a Redis client.
type Store struct {
	client    *redis.Client
	keyPrefix string
}

var _ store.UserStore = (*Store)(nil)

// New connects to Redis and verifies the connection.
func New(cfg Config) (*Store, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "users:"
	}
	return &Store{client: cl, keyPrefix: prefix}, nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv() (*Store, error) {
	var cfg Config
	// Defaults are provided via struct tags.
	_ = envdecode.Decode(&cfg)
	return New(cfg)
}

// Close closes the Redis client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) key(subject string) string { return s.keyPrefix + subject }

// FindBySubject implements store.UserStore.
func (s *Store) FindBySubject(ctx context.Context, subject string) (*store.UserRecord, error) {
	raw, err := s.client.Get(ctx, s.key(subject)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrUserNotFound
		}
		return nil, fmt.Errorf("redis get %s: %w", s.key(subject), err)
	}
	var u store.UserRecord
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("redis decode user %s: %w", subject, err)
	}
	if u.Subject == "" {
		u.Subject = subject
	}
	return &u, nil
}

// Put stores a record. It exists for provisioning scripts and tests;
// the request path never writes.
func (s *Store) Put(ctx context.Context, u *store.UserRecord) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(u.Subject), raw, 0).Err()
}
