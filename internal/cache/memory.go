package cache

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

type memoryClient struct {
	prefix string
	c      *gocache.Cache
}

// NewMemory crea un cliente in-process. defaultTTL solo limita la limpieza
// periódica; cada Set declara su propio TTL.
func NewMemory(prefix string, defaultTTL time.Duration) Client {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &memoryClient{prefix: prefix, c: gocache.New(defaultTTL, time.Minute)}
}

func (m *memoryClient) Get(_ context.Context, key string) (string, error) {
	v, ok := m.c.Get(prefixed(m.prefix, key))
	if !ok {
		return "", ErrNotFound
	}
	s, _ := v.(string)
	return s, nil
}

func (m *memoryClient) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl == 0 {
		ttl = gocache.NoExpiration
	}
	m.c.Set(prefixed(m.prefix, key), value, ttl)
	return nil
}

func (m *memoryClient) Incr(_ context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	k := prefixed(m.prefix, key)
	for i := 0; i < 3; i++ {
		if err := m.c.Add(k, int64(1), ttl); err == nil {
			return 1, ttl, nil
		}
		n, err := m.c.IncrementInt64(k, 1)
		if err != nil {
			// expiró entre Add e Increment
			continue
		}
		_, exp, _ := m.c.GetWithExpiration(k)
		left := ttl
		if !exp.IsZero() {
			left = time.Until(exp)
		}
		return n, left, nil
	}
	return 0, 0, fmt.Errorf("cache: incr %s: contention", key)
}

func (m *memoryClient) Delete(_ context.Context, key string) error {
	m.c.Delete(prefixed(m.prefix, key))
	return nil
}

func (m *memoryClient) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.c.Get(prefixed(m.prefix, key))
	return ok, nil
}

func (m *memoryClient) Ping(context.Context) error { return nil }

func (m *memoryClient) Close() error {
	m.c.Flush()
	return nil
}
