package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	count     int64
	expiresAt time.Time
}

// MemoryCounter is per-process; in multi-node deployments each node sees
// only its own traffic, which is acceptable for soft counters.
type MemoryCounter struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryCounter) live(id string, now time.Time) *memoryEntry {
	e, ok := c.entries[id]
	if !ok {
		return nil
	}
	if !now.Before(e.expiresAt) {
		delete(c.entries, id)
		return nil
	}
	return e
}

func (c *MemoryCounter) Record(_ context.Context, id string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e := c.live(id, now)
	if e == nil {
		e = &memoryEntry{}
		c.entries[id] = e
	}
	e.count++
	e.expiresAt = now.Add(window)
	return e.count, nil
}

func (c *MemoryCounter) Count(_ context.Context, id string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e := c.live(id, c.now()); e != nil {
		return e.count, nil
	}
	return 0, nil
}

func (c *MemoryCounter) TTL(_ context.Context, id string) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e := c.live(id, now); e != nil {
		return e.expiresAt.Sub(now), nil
	}
	return 0, nil
}

func (c *MemoryCounter) Clear(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, id)
	return nil
}

// Sweep drops expired entries so the map does not grow without bound.
func (c *MemoryCounter) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for id, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

// Len counts stored entries, expired ones included until swept.
func (c *MemoryCounter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MemoryCounter) Close() error {
	return nil
}
