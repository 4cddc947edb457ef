// Package redis holds the Redis client, the durable fired-notification store
// and the API rate limiter.
package redis

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultNamespace prefixes every key this service writes.
const DefaultNamespace = "contestpulse"

// Config holds Redis connection settings.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
	// Namespace prefixes every key; empty means DefaultNamespace.
	Namespace string
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Client wraps the go-redis client with a key namespace.
type Client struct {
	rdb       *redis.Client
	logger    *zap.Logger
	namespace string
}

// New creates a Redis client and fails if the server does not answer a PING.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		MinIdleConns: 2,
		PoolTimeout:  4 * time.Second,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr(), err)
	}

	logger.Info("redis connection established",
		zap.String("addr", cfg.Addr()),
		zap.Int("db", cfg.DB),
	)

	return newClient(rdb, logger, cfg.Namespace), nil
}

func newClient(rdb *redis.Client, logger *zap.Logger, namespace string) *Client {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Client{rdb: rdb, logger: logger, namespace: namespace}
}

// key joins the namespace and parts with ':'.
func (c *Client) key(parts ...string) string {
	k := c.namespace
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// Close gracefully closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks if Redis is responsive.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
