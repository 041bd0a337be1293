package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/people/pkg/people"
)

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, config RedisConfig) (*redis.Client, error) {
	// Parse Redis URL or use default options
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	// Override with config values if provided
	if config.Password != "" {
		opts.Password = config.Password
	}
	if config.DB > 0 {
		opts.DB = config.DB
	}
	if config.MaxRetries > 0 {
		opts.MaxRetries = config.MaxRetries
	}
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// PersonCache caches persons by id in Redis
type PersonCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPersonCache creates a person cache whose entries live for ttl
func NewPersonCache(client *redis.Client, ttl time.Duration) *PersonCache {
	return &PersonCache{client: client, ttl: ttl}
}

func personKey(id string) string {
	return fmt.Sprintf("person:%s", id)
}

// GetPerson retrieves a person from cache. A miss returns nil, nil.
func (c *PersonCache) GetPerson(ctx context.Context, id string) (*people.Person, error) {
	key := personKey(id)

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var p people.Person
	if err := json.Unmarshal(data, &p); err != nil {
		// Drop the corrupt entry so the next read goes to the store
		c.client.Del(ctx, key)
		return nil, fmt.Errorf("failed to unmarshal person: %w", err)
	}
	return &p, nil
}

// SetPerson stores a person in cache
func (c *PersonCache) SetPerson(ctx context.Context, p *people.Person) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal person: %w", err)
	}
	return c.client.Set(ctx, personKey(p.ID), data, c.ttl).Err()
}

// InvalidatePerson removes a person from cache
func (c *PersonCache) InvalidatePerson(ctx context.Context, id string) error {
	return c.client.Del(ctx, personKey(id)).Err()
}
