package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"
)

type localEntry struct {
	key       string
	value     string
	expiresAt time.Time
}

// LocalCache is an in-process LRU with TTL support.
// It backs single-instance deployments that run without Redis.
type LocalCache struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	order   *list.List
	maxSize int
	now     func() time.Time
}

var _ Cache = (*LocalCache)(nil)

func NewLocalCache(maxSize int) *LocalCache {
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &LocalCache{
		items:   make(map[string]*list.Element, maxSize),
		order:   list.New(),
		maxSize: maxSize,
		now:     time.Now,
	}
}

func (c *LocalCache) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.lookup(key)
	if !ok {
		return "", nil
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*localEntry).value, nil
}

func (c *LocalCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store(key, stringify(value), ttl)
	return nil
}

func (c *LocalCache) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.lookup(key); ok {
		return false, nil
	}
	c.store(key, stringify(value), ttl)
	return true, nil
}

func (c *LocalCache) Del(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		if elem, ok := c.items[key]; ok {
			c.removeElement(elem)
		}
	}
	return nil
}

func (c *LocalCache) Exists(ctx context.Context, keys ...string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, key := range keys {
		if _, ok := c.lookup(key); ok {
			n++
		}
	}
	return n, nil
}

// TTL follows Redis conventions: -2 for a missing key, -1 for no expiry.
func (c *LocalCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.lookup(key)
	if !ok {
		return -2, nil
	}
	entry := elem.Value.(*localEntry)
	if entry.expiresAt.IsZero() {
		return -1, nil
	}
	return entry.expiresAt.Sub(c.now()), nil
}

func (c *LocalCache) Ping(ctx context.Context) error {
	return nil
}

func (c *LocalCache) Close() error {
	return nil
}

// lookup returns a live entry, evicting it if expired. Callers hold c.mu.
func (c *LocalCache) lookup(key string) (*list.Element, bool) {
	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*localEntry)
	if !entry.expiresAt.IsZero() && c.now().After(entry.expiresAt) {
		c.removeElement(elem)
		return nil, false
	}
	return elem, true
}

func (c *LocalCache) store(key, value string, ttl time.Duration) {
	exp := time.Time{}
	if ttl > 0 {
		exp = c.now().Add(ttl)
	}

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*localEntry)
		entry.value = value
		entry.expiresAt = exp
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(&localEntry{key: key, value: value, expiresAt: exp})
	c.items[key] = elem
	if len(c.items) > c.maxSize {
		c.evictOldest()
	}
}

func (c *LocalCache) evictOldest() {
	elem := c.order.Back()
	if elem == nil {
		return
	}
	c.removeElement(elem)
}

func (c *LocalCache) removeElement(elem *list.Element) {
	entry := elem.Value.(*localEntry)
	delete(c.items, entry.key)
	c.order.Remove(elem)
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}
