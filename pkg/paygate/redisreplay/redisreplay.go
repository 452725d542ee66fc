// Package redisreplay provides a paygate.ReplayGuard shared across gateway
// instances through Redis.
package redisreplay

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/siddimore/bsv-paygate/pkg/paygate"
)

// DefaultKeyPrefix namespaces consumed derivation prefixes.
const DefaultKeyPrefix = "paygate:prefix:"

// redisClient is the subset of Redis the guard needs.
type redisClient interface {
	Exists(ctx context.Context, key string) (bool, error)
	SetNX(ctx context.Context, key string, expiration time.Duration) (bool, error)
	Close() error
}

// Config holds the Redis connection and key settings.
type Config struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// KeyPrefix defaults to DefaultKeyPrefix.
	KeyPrefix string `yaml:"key_prefix"`

	// TTL expires recorded prefixes. Zero keeps them forever.
	TTL time.Duration `yaml:"ttl"`

	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// Guard records prefixes with SET NX, so Record is atomic across every
// process sharing the Redis instance.
type Guard struct {
	client    redisClient
	keyPrefix string
	ttl       time.Duration
}

var _ paygate.ReplayGuard = (*Guard)(nil)

// New connects to Redis and returns a guard.
func New(ctx context.Context, cfg Config) (*Guard, error) {
	client, err := newGoRedisClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newGuard(client, cfg), nil
}

func newGuard(client redisClient, cfg Config) *Guard {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Guard{client: client, keyPrefix: prefix, ttl: cfg.TTL}
}

// Seen reports whether prefix has been recorded.
func (g *Guard) Seen(ctx context.Context, prefix string) (bool, error) {
	ok, err := g.client.Exists(ctx, g.keyPrefix+prefix)
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return ok, nil
}

// Record sets the prefix key if absent.
func (g *Guard) Record(ctx context.Context, prefix string) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.keyPrefix+prefix, g.ttl)
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Close releases the Redis connection.
func (g *Guard) Close() error {
	return g.client.Close()
}

type goRedisClient struct {
	client *redis.Client
}

var _ redisClient = (*goRedisClient)(nil)

func newGoRedisClient(ctx context.Context, cfg Config) (redisClient, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &goRedisClient{client: client}, nil
}

func (c *goRedisClient) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *goRedisClient) SetNX(ctx context.Context, key string, expiration time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), expiration).Result()
}

func (c *goRedisClient) Close() error {
	return c.client.Close()
}
