package memory

import (
	"sync"

	"github.com/fastygo/tasksync/repository"
)

// Cache is a process-local LocalCache. It is used when no durable cache is
// configured and as the test double for the store.
type Cache struct {
	mu   sync.RWMutex
	data map[string][]byte

	// FailWrites makes every Write fail with the given error.
	FailWrites error
}

func New() *Cache {
	return &Cache{data: make(map[string][]byte)}
}

func (c *Cache) Read(key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (c *Cache) Write(key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailWrites != nil {
		return c.FailWrites
	}
	c.data[key] = append([]byte(nil), value...)
	return nil
}

func (c *Cache) Remove(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

var _ repository.LocalCache = (*Cache)(nil)
