package counter

import (
	"context"
	"sync"
	"time"
)

// entry — счётчик с моментом закрытия окна.
type entry struct {
	count     int64
	expiresAt time.Time
}

// MemoryCounter — процессное TTL-хранилище счётчиков.
//
// Годится ТОЛЬКО для единственного экземпляра сервиса: состояние не
// разделяется между репликами и теряется при рестарте. Для кластера —
// RedisCounter.
type MemoryCounter struct {
	mu      sync.Mutex
	entries map[string]entry

	// now подменяется в тестах.
	now func() time.Time
}

// NewMemoryCounter создаёт пустое хранилище.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Incr увеличивает счётчик; истёкшее окно перед этим сбрасывается на месте,
// фоновая чистка не нужна.
func (c *MemoryCounter) Incr(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	e, ok := c.entries[key]
	if !ok || !e.expiresAt.After(now) {
		e = entry{count: 0, expiresAt: now.Add(window)}
	}

	e.count++
	c.entries[key] = e

	return e.count, e.expiresAt.Sub(now), nil
}

func (c *MemoryCounter) Get(_ context.Context, key string) (int64, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	e, ok := c.entries[key]
	if !ok || !e.expiresAt.After(now) {
		delete(c.entries, key)
		return 0, 0, nil
	}

	return e.count, e.expiresAt.Sub(now), nil
}

func (c *MemoryCounter) Reset(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	return nil
}

func (c *MemoryCounter) Close() error { return nil }

// Проверка на соответствие интерфейсу Counter.
var _ Counter = (*MemoryCounter)(nil)
