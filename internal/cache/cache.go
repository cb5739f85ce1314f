// Package cache stores raw LLM expansions so repeated ideas skip the model.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"github.com/kayz/sdxlprompt/internal/config"
	"github.com/kayz/sdxlprompt/internal/logger"
)

// Cache is a string cache keyed by Key digests.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Put(ctx context.Context, key, value string)
	Close() error
}

// New returns the backend named by cfg.Backend, or nil for "none".
func New(cfg config.CacheConfig) (Cache, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "none":
		return nil, nil
	case "memory":
		return NewMemory(cfg.TTL), nil
	case "redis":
		r, err := NewRedis(cfg)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// Key joins parts with a separator that cannot appear in them and hashes
// the result.
func Key(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}

// Memory is an in-process cache.
type Memory struct {
	c *gocache.Cache
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	cleanup := 10 * time.Minute
	if ttl > 0 && ttl < cleanup {
		cleanup = ttl
	}
	return &Memory{c: gocache.New(ttl, cleanup)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool) {
	v, ok := m.c.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (m *Memory) Put(_ context.Context, key, value string) {
	m.c.SetDefault(key, value)
}

func (m *Memory) Close() error {
	m.c.Flush()
	return nil
}

func (m *Memory) Len() int {
	return m.c.ItemCount()
}

// Redis shares expansions between processes.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis connects and pings the server.
func NewRedis(cfg config.CacheConfig) (*Redis, error) {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, fmt.Errorf("cache.redis_addr is required for the redis backend")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &Redis{client: client, prefix: cfg.RedisPrefix, ttl: cfg.TTL}, nil
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool) {
	v, err := r.client.Get(ctx, r.prefix+key).Result()
	if err != nil {
		if err != redis.Nil {
			logger.Warn("redis cache get failed: %v", err)
		}
		return "", false
	}
	return v, true
}

func (r *Redis) Put(ctx context.Context, key, value string) {
	if err := r.client.Set(ctx, r.prefix+key, value, r.ttl).Err(); err != nil {
		logger.Warn("redis cache set failed: %v", err)
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}
