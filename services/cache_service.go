package services

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache constants
const (
	CachePingTimeout = 2 * time.Second
	CacheCallTimeout = 3 * time.Second
)

// CacheBackend is the storage strategy behind CacheService. The backend is
// selected once at startup; when redis is unreachable the no-op backend
// keeps every caller on the miss path so the pipeline never blocks on
// cache health.
type CacheBackend interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration)
}

// redisBackend stores values in redis with server-side TTL expiry.
type redisBackend struct {
	client *redis.Client
}

func (b *redisBackend) Get(ctx context.Context, key string) (string, bool) {
	value, err := b.client.Get(ctx, key).Result()
	if err != nil {
		return "", false
	}
	return value, true
}

func (b *redisBackend) Set(ctx context.Context, key, value string, ttl time.Duration) {
	// Write failures are absorbed; the next read is simply a miss
	b.client.Set(ctx, key, value, ttl)
}

// noopBackend answers every get with a miss and drops every set.
type noopBackend struct{}

func (noopBackend) Get(ctx context.Context, key string) (string, bool) { return "", false }

func (noopBackend) Set(ctx context.Context, key, value string, ttl time.Duration) {}

// CacheService is a get/set-with-TTL cache that degrades to pass-through
// when the backing store is unavailable.
type CacheService struct {
	backend CacheBackend
}

// Global cache service instance
var GlobalCacheService *CacheService

// InitCacheService connects to redis and installs the matching backend.
// A failed ping disables caching instead of returning an error.
func InitCacheService(addr string) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), CachePingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("Redis unavailable, using no cache: %v", err)
		GlobalCacheService = NewCacheService(noopBackend{})
		return
	}

	log.Println("Redis connected")
	GlobalCacheService = NewCacheService(&redisBackend{client: client})
}

// NewCacheService creates a cache service on the given backend
func NewCacheService(backend CacheBackend) *CacheService {
	return &CacheService{backend: backend}
}

// NewDisabledCacheService returns a cache where every read is a miss
func NewDisabledCacheService() *CacheService {
	return NewCacheService(noopBackend{})
}

// Get returns the cached value for key, or a miss once it has expired.
func (s *CacheService) Get(key string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), CacheCallTimeout)
	defer cancel()
	return s.backend.Get(ctx, key)
}

// Set stores value under key for ttl.
func (s *CacheService) Set(key, value string, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), CacheCallTimeout)
	defer cancel()
	s.backend.Set(ctx, key, value, ttl)
}

// GetJSON unmarshals the cached value into dest; false on miss or when the
// stored payload does not parse.
func (s *CacheService) GetJSON(key string, dest interface{}) bool {
	raw, ok := s.Get(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false
	}
	return true
}

// SetJSON marshals value and stores it under key for ttl.
func (s *CacheService) SetJSON(key string, value interface{}, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		log.Printf("Error marshaling cache value for %s: %v", key, err)
		return
	}
	s.Set(key, string(data), ttl)
}
