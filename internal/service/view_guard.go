package service

import (
	"context"
	"sync"
	"time"

	"marketplace/internal/cache"

	"github.com/redis/go-redis/v9"
)

// ViewGuard decides whether a product view counts. A viewer counts at most
// once per product within the guard's window.
type ViewGuard interface {
	// FirstView reports true the first time viewer is seen for productID.
	FirstView(ctx context.Context, viewer, productID string) (bool, error)
}

// RedisViewGuard records views with SETNX and a TTL.
type RedisViewGuard struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisViewGuard creates a guard shared by every instance.
func NewRedisViewGuard(rdb *redis.Client, ttl time.Duration) *RedisViewGuard {
	return &RedisViewGuard{rdb: rdb, ttl: ttl}
}

func (g *RedisViewGuard) FirstView(ctx context.Context, viewer, productID string) (bool, error) {
	return g.rdb.SetNX(ctx, cache.ProductViewKey(viewer, productID), 1, g.ttl).Result()
}

// MemoryViewGuard is the in-process guard used without Redis.
type MemoryViewGuard struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	seen map[string]time.Time
}

// NewMemoryViewGuard creates an empty in-process guard.
func NewMemoryViewGuard(ttl time.Duration) *MemoryViewGuard {
	return &MemoryViewGuard{ttl: ttl, now: time.Now, seen: make(map[string]time.Time)}
}

func (g *MemoryViewGuard) FirstView(_ context.Context, viewer, productID string) (bool, error) {
	key := cache.ProductViewKey(viewer, productID)
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()
	if exp, ok := g.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	for k, exp := range g.seen {
		if !now.Before(exp) {
			delete(g.seen, k)
		}
	}
	g.seen[key] = now.Add(g.ttl)
	return true, nil
}
