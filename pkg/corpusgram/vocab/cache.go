package vocab

import "sync"

// Cache maps labels to store ids for each label kind. It is owned by one
// execution. Labels are immutable once created, so entries only go away
// through Forget when a kind is cleared.
type Cache struct {
	mu     sync.RWMutex
	kinds  map[string]map[string]int64
	loaded map[string]bool
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		kinds:  make(map[string]map[string]int64),
		loaded: make(map[string]bool),
	}
}

// split returns the cached ids among labels and the labels that missed.
func (c *Cache) split(kind string, labels []string) (map[string]int64, []string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hits := make(map[string]int64, len(labels))
	var misses []string
	m := c.kinds[kind]
	for _, l := range labels {
		if id, ok := m[l]; ok {
			hits[l] = id
		} else {
			misses = append(misses, l)
		}
	}
	return hits, misses
}

func (c *Cache) put(kind string, ids map[string]int64) {
	if len(ids) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.kinds[kind]
	if m == nil {
		m = make(map[string]int64, len(ids))
		c.kinds[kind] = m
	}
	for l, id := range ids {
		m[l] = id
	}
}

func (c *Cache) isLoaded(kind string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded[kind]
}

func (c *Cache) markLoaded(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded[kind] = true
}

// Len returns the number of cached labels of a kind.
func (c *Cache) Len(kind string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.kinds[kind])
}

// Get returns the cached id of a label.
func (c *Cache) Get(kind, label string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.kinds[kind][label]
	return id, ok
}

// Forget drops every cached label of a kind. Use it after the labels have
// been deleted from the store.
func (c *Cache) Forget(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.kinds, kind)
	delete(c.loaded, kind)
}
