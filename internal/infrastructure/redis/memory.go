package redis

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryClient is an in-process RedisClient for running without a Redis
// server. Values are stored in their fmt string form, as Redis would.
type MemoryClient struct {
	mu   sync.Mutex
	data map[string]memoryEntry
	now  func() time.Time
}

type memoryEntry struct {
	value   string
	expires time.Time
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{data: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryClient) lookup(key string) (memoryEntry, bool) {
	e, ok := c.data[key]
	if ok && !e.expires.IsZero() && !c.now().Before(e.expires) {
		delete(c.data, key)
		return memoryEntry{}, false
	}
	return e, ok
}

func (c *MemoryClient) entry(value interface{}, expiration time.Duration) memoryEntry {
	e := memoryEntry{value: fmt.Sprint(value)}
	if expiration > 0 {
		e.expires = c.now().Add(expiration)
	}
	return e
}

func (c *MemoryClient) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lookup(key)
	if !ok {
		return "", ErrKeyNotFound
	}
	return e.value, nil
}

func (c *MemoryClient) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = c.entry(value, expiration)
	return nil
}

func (c *MemoryClient) SetNX(_ context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lookup(key); ok {
		return false, nil
	}
	c.data[key] = c.entry(value, expiration)
	return true, nil
}

func (c *MemoryClient) DelIfEqual(_ context.Context, key, value string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lookup(key)
	if !ok || e.value != value {
		return false, nil
	}
	delete(c.data, key)
	return true, nil
}

func (c *MemoryClient) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *MemoryClient) Close() error { return nil }
