// Package session provides session store backends that do not need AWS: a
// process-local TTL cache and a Redis store. The DynamoDB backend lives in
// the repository package.
package session

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"lead-qualifier/internal/domain"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("session: store closed")

// DefaultMaxEntries bounds the in-memory store.
const DefaultMaxEntries = 100_000

// MemoryStore keeps sessions in a process-local expiring LRU. Put resets the
// entry TTL; Get does not.
type MemoryStore struct {
	cache  *expirable.LRU[string, domain.Session]
	closed atomic.Bool
}

// NewMemoryStore creates a store with the given TTL. maxEntries <= 0 uses
// DefaultMaxEntries.
func NewMemoryStore(ttl time.Duration, maxEntries int) (*MemoryStore, error) {
	if ttl <= 0 {
		return nil, errors.New("session: ttl must be positive")
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryStore{cache: expirable.NewLRU[string, domain.Session](maxEntries, nil, ttl)}, nil
}

func (m *MemoryStore) Get(_ context.Context, phone string) (domain.Session, bool, error) {
	if m.closed.Load() {
		return domain.Session{}, false, ErrClosed
	}
	s, ok := m.cache.Get(domain.NormalizePhone(phone))
	if !ok {
		return domain.Session{}, false, nil
	}
	return s.Clone(), true, nil
}

func (m *MemoryStore) Put(_ context.Context, s domain.Session) error {
	if m.closed.Load() {
		return ErrClosed
	}
	key := domain.NormalizePhone(s.Phone)
	if key == "" {
		return errors.New("session: phone must not be empty")
	}
	s = s.Clone()
	s.Phone = key
	m.cache.Add(key, s)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, phone string) error {
	if m.closed.Load() {
		return ErrClosed
	}
	m.cache.Remove(domain.NormalizePhone(phone))
	return nil
}

// Len reports the number of live entries.
func (m *MemoryStore) Len() int {
	return m.cache.Len()
}

// Close drops all entries. Further calls fail with ErrClosed.
func (m *MemoryStore) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	m.cache.Purge()
	return nil
}
