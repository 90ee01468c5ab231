package gateway

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/CleanExpo/zenith-integration-hub/internal/models"
)

// CacheBackend stores serialized responses under derived keys.
type CacheBackend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// CachedResponse is the serialized form of a gateway response. Body bytes
// round-trip exactly, so a cache hit is byte-identical to the original.
type CachedResponse struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       []byte            `json:"body"`
}

type memoryCacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is the default backend. Expired entries are dropped lazily
// on read and in bulk by Sweep.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryCacheEntry
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryCacheEntry)}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		if current, ok := c.entries[key]; ok && time.Now().After(current.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	c.entries[key] = memoryCacheEntry{value: value, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

// Sweep drops expired entries and returns how many remain.
func (c *MemoryCache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
	return len(c.entries)
}

// RedisCache shares cached responses across gateway instances.
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "gwcache"
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := c.client.Get(ctx, c.prefix+":"+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return c.client.Set(ctx, c.prefix+":"+key, value, ttl).Err()
}

// ResponseCache derives keys per the route's cache policy and moves
// responses in and out of the backend. Backend failures degrade to cache
// misses; they never fail the request.
type ResponseCache struct {
	backend CacheBackend
	logger  *zap.Logger
}

func NewResponseCache(backend CacheBackend, logger *zap.Logger) *ResponseCache {
	return &ResponseCache{backend: backend, logger: logger}
}

// Key hashes the request identity selected by the route's key strategy.
func (c *ResponseCache) Key(route *models.Route, req *Request, principal string) string {
	parts := []string{route.ID, req.Method, req.Path}
	switch route.Cache.KeyStrategy {
	case models.CacheKeyPath:
	case models.CacheKeyPathQueryPrincipal:
		parts = append(parts, req.RawQuery, principal)
	default: // path_query
		parts = append(parts, req.RawQuery)
	}
	sum := blake3.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:16])
}

func (c *ResponseCache) Get(ctx context.Context, key string) (*CachedResponse, bool) {
	raw, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.logger.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var cached CachedResponse
	if err := json.Unmarshal(raw, &cached); err != nil {
		c.logger.Warn("Cache entry corrupt", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &cached, true
}

func (c *ResponseCache) Set(ctx context.Context, key string, resp *CachedResponse, ttl time.Duration) {
	raw, err := json.Marshal(resp)
	if err != nil {
		c.logger.Warn("Cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.backend.Set(ctx, key, raw, ttl); err != nil {
		c.logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
	}
}
