// Package staging keeps per-user work in progress between HTTP calls:
// staged imports awaiting confirmation and re-match reviews awaiting
// selection. Entries are in memory only and expire after a TTL.
package staging

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/smart-expense-tagger/internal/domain/common"
)

type entry[T any] struct {
	owner   string
	value   T
	expires time.Time
}

// Cache is safe for concurrent use.
type Cache[T any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[uuid.UUID]entry[T]
	now     func() time.Time
}

// NewCache creates a cache whose entries live for ttl after their last Put.
func NewCache[T any](ttl time.Duration) *Cache[T] {
	return &Cache[T]{
		ttl:     ttl,
		entries: make(map[uuid.UUID]entry[T]),
		now:     time.Now,
	}
}

// Put stores v under key for owner, replacing any previous entry.
func (c *Cache[T]) Put(key uuid.UUID, owner string, v T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeLocked()
	c.entries[key] = entry[T]{owner: owner, value: v, expires: c.now().Add(c.ttl)}
}

// Get returns the entry for key. A missing or expired entry is
// common.ErrNotFound and another user's entry is common.ErrForbidden.
func (c *Cache[T]) Get(key uuid.UUID, owner string) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	e, ok := c.entries[key]
	if !ok {
		return zero, common.ErrNotFound
	}
	if c.now().After(e.expires) {
		delete(c.entries, key)
		return zero, common.ErrNotFound
	}
	if e.owner != owner {
		return zero, common.ErrForbidden
	}
	return e.value, nil
}

// Delete removes key if it belongs to owner.
func (c *Cache[T]) Delete(key uuid.UUID, owner string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return common.ErrNotFound
	}
	if e.owner != owner {
		return common.ErrForbidden
	}
	delete(c.entries, key)
	return nil
}

// Len returns the number of live entries.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeLocked()
	return len(c.entries)
}

func (c *Cache[T]) purgeLocked() {
	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
		}
	}
}
