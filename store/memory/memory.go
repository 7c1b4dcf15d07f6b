// Package memory provides an in-memory UserStore seeded with a small
// demo user table. It stands in for a real database in examples and
// tests.
package memory

import (
	"context"
	"sync"

	"github.com/oidcware/resource-server-go/store"
)

// Store is a concurrency-safe in-memory user table.
type Store struct {
	mu    sync.RWMutex
	users map[string]*store.UserRecord
}

var _ store.UserStore = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{users: make(map[string]*store.UserRecord)}
}

// NewSeeded returns a store populated with the demo user table.
func NewSeeded() *Store {
	s := New()
	s.Put(&store.UserRecord{
		Subject:     "1001",
		Name:        "John Smith",
		Email:       "john@example.com",
		Address:     store.Address{Country: "USA"},
		PhoneNumber: "+1 (425) 555-1212",
	})
	s.Put(&store.UserRecord{
		Subject:     "1002",
		Name:        "Jane Smith",
		Email:       "jane@example.com",
		Address:     store.Address{Country: "Chile"},
		PhoneNumber: "+56 (2) 687 2400",
	})
	return s
}

// Put inserts or replaces a record. The store keeps its own copy so
// later caller mutations do not leak in.
func (s *Store) Put(u *store.UserRecord) {
	cp := u.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[cp.Subject] = cp
}

// FindBySubject implements store.UserStore.
func (s *Store) FindBySubject(ctx context.Context, subject string) (*store.UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[subject]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return u.Clone(), nil
}
