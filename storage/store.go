package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotFound is returned by Get when the key holds no value.
var ErrNotFound = errors.New("storage: key not found")

// ErrBackendUnavailable wraps failures of the underlying backend.
var ErrBackendUnavailable = errors.New("storage: backend unavailable")

// ErrClosed is returned by operations on a closed hub or view.
var ErrClosed = errors.New("storage: closed")

// Store is a flat string key-value namespace holding JSON text.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Len(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

// Persistent is a Store whose mutations are observable by the other contexts
// of the same origin.
type Persistent interface {
	Store

	// Subscribe registers fn for changes made by other contexts. The returned
	// cancel func detaches it and is safe to call more than once.
	Subscribe(ctx context.Context, fn func(ChangeEvent)) (func(), error)
}

// ChangeEvent describes one mutation of a persistent key. A nil OldValue means
// the key did not exist; a nil NewValue means it was removed.
type ChangeEvent struct {
	Origin   string  `json:"origin"`
	Key      string  `json:"key"`
	OldValue *string `json:"old,omitempty"`
	NewValue *string `json:"new,omitempty"`
}

// GetJSON decodes the value under key into v.
func GetJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), v)
}

// SetJSON stores v under key as JSON text.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: encode %q: %w", key, err)
	}
	return s.Set(ctx, key, string(data))
}

// SessionStore is the per-context namespace. It is safe for concurrent use and
// emits no notifications.
type SessionStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewSessionStore returns an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{data: make(map[string]string)}
}

func (s *SessionStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *SessionStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	s.data[key] = value
	s.mu.Unlock()
	return nil
}

func (s *SessionStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	return nil
}

// Keys returns the stored keys in lexical order.
func (s *SessionStore) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.data), nil
}

func (s *SessionStore) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data), nil
}

func (s *SessionStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.data = make(map[string]string)
	s.mu.Unlock()
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func strPtr(s string) *string {
	return &s
}
