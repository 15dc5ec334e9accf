package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jelmore/jelmore/pkg/session"
)

type cacheEntry struct {
	sess      *session.Session
	expiresAt time.Time
}

// MemoryCache implements CacheStore in process. Entries are evicted
// lazily on read and by a background janitor.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMemoryCache creates a cache and starts its janitor. sweepEvery
// bounds how long an expired entry can linger; zero disables the
// janitor and leaves expiry to reads.
func NewMemoryCache(sweepEvery time.Duration) *MemoryCache {
	c := &MemoryCache{
		entries: make(map[string]cacheEntry),
		stopCh:  make(chan struct{}),
	}
	if sweepEvery > 0 {
		go c.janitor(sweepEvery)
	}
	return c
}

// Get reads a cached session, copying it so callers cannot mutate the
// cached state.
func (c *MemoryCache) Get(_ context.Context, id string) (*session.Session, error) {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()

	if !ok || time.Now().After(e.expiresAt) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return e.sess.Clone(), nil
}

// Set stores a copy of the session for ttl.
func (c *MemoryCache) Set(_ context.Context, s *session.Session, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive, got %s", ttl)
	}
	c.mu.Lock()
	c.entries[s.ID] = cacheEntry{sess: s.Clone(), expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

// Delete removes an entry. Missing keys are not an error.
func (c *MemoryCache) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
	return nil
}

// Keys lists the ids of unexpired entries.
func (c *MemoryCache) Keys(_ context.Context) ([]string, error) {
	now := time.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.entries))
	for id, e := range c.entries {
		if now.Before(e.expiresAt) {
			keys = append(keys, id)
		}
	}
	return keys, nil
}

// Len reports the number of live entries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	now := time.Now()
	for _, e := range c.entries {
		if now.Before(e.expiresAt) {
			n++
		}
	}
	return n
}

// Stop terminates the janitor.
func (c *MemoryCache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *MemoryCache) janitor(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopCh:
			return
		}
	}
}

func (c *MemoryCache) sweep() {
	now := time.Now()
	c.mu.Lock()
	for id, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, id)
		}
	}
	c.mu.Unlock()
}
