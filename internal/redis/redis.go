package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrMiss is returned by Get when the key does not exist
var ErrMiss = errors.New("redis: key not found")

type Config struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	Network  string `json:"network" yaml:"network"` // "tcp" or "unix" for socket path
}

// Enabled reports whether a server address is configured
func (c Config) Enabled() bool {
	return c.Addr != ""
}

type Client struct {
	client *redis.Client
	logger *zap.Logger
}

func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	network := "tcp"
	if cfg.Network != "" {
		network = cfg.Network
	}

	// If addr looks like a socket path, automatically use unix
	if len(cfg.Addr) > 0 && cfg.Addr[0] == '/' {
		network = "unix"
	}

	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		Network:      network,
		PoolSize:     20,
		MinIdleConns: 4,
		MaxRetries:   0, // the guard engine attempts every call once
		PoolTimeout:  2 * time.Second,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}

	rdb := redis.NewClient(opts)

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("redis connected", zap.String("network", network), zap.String("addr", cfg.Addr))

	return &Client{client: rdb, logger: logger}, nil
}

// NewFromClient wraps an existing go-redis client
func NewFromClient(rdb *redis.Client, logger *zap.Logger) *Client {
	return &Client{client: rdb, logger: logger}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Basic operations

func (c *Client) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return val, err
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	return c.client.Del(ctx, keys...).Err()
}

// SetNX stores value only if key is absent. Reports whether it was stored.
func (c *Client) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key, value, expiration).Result()
}

// Locks

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// TryLock acquires key for ttl with an owner token. It never waits.
func (c *Client) TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return c.SetNX(ctx, key, token, ttl)
}

// Unlock releases key only if it is still held by token
func (c *Client) Unlock(ctx context.Context, key, token string) error {
	return unlockScript.Run(ctx, c.client, []string{key}, token).Err()
}

// Extend resets the ttl of key if it is still held by token. Reports
// whether the lock is still held.
func (c *Client) Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	n, err := extendScript.Run(ctx, c.client, []string{key}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Pub/sub

func (c *Client) Publish(ctx context.Context, channel string, message interface{}) error {
	return c.client.Publish(ctx, channel, message).Err()
}

// Subscribe calls fn for every message on channel until ctx is done
func (c *Client) Subscribe(ctx context.Context, channel string, fn func(payload string)) error {
	sub := c.client.Subscribe(ctx, channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			fn(msg.Payload)
		}
	}
}

// Pipeline runs fn against a pipeline and executes it
func (c *Client) Pipeline(ctx context.Context, fn func(redis.Pipeliner) error) error {
	pipe := c.client.Pipeline()
	if err := fn(pipe); err != nil {
		return err
	}
	_, err := pipe.Exec(ctx)
	return err
}
