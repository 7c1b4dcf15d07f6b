// Package file provides a UserStore backed by a JSON document on disk.
// The file is a JSON array of user records. Edits to the file are
// picked up at runtime via fsnotify, which makes the store convenient
// for demos and small deployments where a database is overkill.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/oidcware/resource-server-go/store"
)

// Store serves user records from a JSON file. Lookups read a snapshot
// map swapped atomically on reload, so readers never block on a reload
// in progress.
type Store struct {
	path string
	log  *slog.Logger

	mu    sync.RWMutex
	users map[string]*store.UserRecord

	watcher *fsnotify.Watcher
	done    chan struct{}
}

var _ store.UserStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for reload diagnostics. Logs are
// discarded by default.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// New loads the user file and starts watching it for changes. Close
// must be called to release the watcher.
func New(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path: path,
		log:  slog.New(slog.DiscardHandler),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.Reload(); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("file store: watcher: %w", err)
	}
	// Watch the directory rather than the file itself so that
	// rename-based atomic replaces (the common editor/deploy pattern)
	// keep being observed.
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("file store: watch %s: %w", filepath.Dir(path), err)
	}
	s.watcher = w
	go s.run()

	return s, nil
}

// Reload re-reads the backing file and swaps in the new table.
func (s *Store) Reload() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("file store: read %s: %w", s.path, err)
	}
	var records []*store.UserRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return fmt.Errorf("file store: parse %s: %w", s.path, err)
	}
	users := make(map[string]*store.UserRecord, len(records))
	for _, u := range records {
		if u.Subject == "" {
			return fmt.Errorf("file store: record without subject in %s", s.path)
		}
		users[u.Subject] = u
	}

	s.mu.Lock()
	s.users = users
	s.mu.Unlock()
	return nil
}

func (s *Store) run() {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			if err := s.Reload(); err != nil {
				// Keep serving the previous snapshot on a bad write.
				s.log.Error("user file reload failed", slog.String("err", err.Error()))
				continue
			}
			s.log.Info("user file reloaded", slog.String("path", s.path))
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Error("user file watcher error", slog.String("err", err.Error()))
		}
	}
}

// FindBySubject implements store.UserStore.
func (s *Store) FindBySubject(ctx context.Context, subject string) (*store.UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	u, ok := s.users[subject]
	s.mu.RUnlock()
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return u.Clone(), nil
}

// Close stops the file watcher.
func (s *Store) Close() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	close(s.done)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
