package cache

import "sync"

// Key identifies one live instance.
type Key struct {
	Class string
	Key   string
}

// Cache maps (class, key) to the single live instance for it. It is safe for
// concurrent use; the values themselves are not protected.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[Key]V
}

func New[V any]() *Cache[V] {
	return &Cache[V]{entries: make(map[Key]V)}
}

func (c *Cache[V]) Get(class, key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[Key{Class: class, Key: key}]
	return v, ok
}

// Put stores v, replacing any previous instance.
func (c *Cache[V]) Put(class, key string, v V) {
	c.mu.Lock()
	c.entries[Key{Class: class, Key: key}] = v
	c.mu.Unlock()
}

// PutIfAbsent stores v unless an instance is already cached. It returns the
// instance that ended up in the cache and whether it was v.
func (c *Cache[V]) PutIfAbsent(class, key string, v V) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := Key{Class: class, Key: key}
	if existing, ok := c.entries[k]; ok {
		return existing, false
	}
	c.entries[k] = v
	return v, true
}

// Evict drops the instance for (class, key) and reports whether one was cached.
func (c *Cache[V]) Evict(class, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := Key{Class: class, Key: key}
	_, ok := c.entries[k]
	delete(c.entries, k)
	return ok
}

// Len counts cached instances of class, or of every class when class is empty.
func (c *Cache[V]) Len(class string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if class == "" {
		return len(c.entries)
	}
	n := 0
	for k := range c.entries {
		if k.Class == class {
			n++
		}
	}
	return n
}

// Clear evicts every instance of class, or everything when class is empty.
func (c *Cache[V]) Clear(class string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if class == "" {
		c.entries = make(map[Key]V)
		return
	}
	for k := range c.entries {
		if k.Class == class {
			delete(c.entries, k)
		}
	}
}
