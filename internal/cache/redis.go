package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"crucible/internal/config"
)

// Cache defines the interface for a caching implementation
type Cache interface {
	// Get retrieves a value from the cache
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with an optional TTL
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key from the cache
	Delete(ctx context.Context, key string) error

	// Ping tests the connection to the cache
	Ping(ctx context.Context) error

	// Close releases resources used by the cache
	Close() error
}

// ErrCacheMiss is returned when a key is not found in the cache
var ErrCacheMiss = fmt.Errorf("cache miss")

// RedisCache implements the Cache interface using Redis
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache creates a new Redis cache instance
func NewRedisCache(config config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Error().Err(err).Msg("Failed to connect to Redis")
		return nil, err
	}

	log.Info().
		Str("address", config.Address).
		Str("prefix", config.Prefix).
		Int("db", config.DB).
		Msg("Redis cache initialized")

	return &RedisCache{
		client: client,
		prefix: config.Prefix,
	}, nil
}

func (c *RedisCache) formatKey(key string) string {
	return c.prefix + ":" + key
}

// Get retrieves a value from the cache
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	formattedKey := c.formatKey(key)

	result, err := c.client.Get(ctx, formattedKey).Bytes()
	if err == redis.Nil {
		log.Debug().Str("key", formattedKey).Msg("Cache miss")
		return nil, ErrCacheMiss
	} else if err != nil {
		log.Error().Err(err).Str("key", formattedKey).Msg("Error getting value from Redis")
		return nil, err
	}

	log.Debug().Str("key", formattedKey).Int("size", len(result)).Msg("Cache hit")
	return result, nil
}

// Set stores a value in the cache
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	formattedKey := c.formatKey(key)

	if err := c.client.Set(ctx, formattedKey, value, ttl).Err(); err != nil {
		log.Error().Err(err).Str("key", formattedKey).Msg("Error setting value in Redis")
		return err
	}

	log.Debug().Str("key", formattedKey).Dur("ttl", ttl).Msg("Cache set")
	return nil
}

// Delete removes a key from the cache
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	formattedKey := c.formatKey(key)

	if err := c.client.Del(ctx, formattedKey).Err(); err != nil {
		log.Error().Err(err).Str("key", formattedKey).Msg("Error deleting key from Redis")
		return err
	}

	return nil
}

// Ping tests the connection to Redis
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the Redis client
func (c *RedisCache) Close() error {
	return c.client.Close()
}
