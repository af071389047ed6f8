package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/territorial-engagement/backend/internal/metrics"
	"github.com/territorial-engagement/backend/pkg/circuitbreaker"
	"github.com/territorial-engagement/backend/pkg/logger"
)

const keyPrefix = "activity-engine:result:"

// Client is the optional result cache. Every call goes through a circuit
// breaker; while the backend is unreachable reads are misses and writes are
// dropped.
type Client struct {
	client     *redis.Client
	breaker    *circuitbreaker.Breaker
	defaultTTL time.Duration
}

func NewClient(ctx context.Context, rawURL string, defaultTTL time.Duration) (*Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse cache url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis result cache initialized", zap.String("addr", opts.Addr), zap.Duration("ttl", defaultTTL))

	return &Client{
		client: client,
		breaker: circuitbreaker.New("result-cache", circuitbreaker.Config{
			FailureThreshold: 3,
			OpenTimeout:      30 * time.Second,
			Logger:           logger.Log,
		}),
		defaultTTL: defaultTTL,
	}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// Get decodes the cached value into dest. found is false on a miss or when
// the breaker is open.
func (c *Client) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	var data []byte
	err := c.breaker.Execute(func() error {
		var err error
		data, err = c.client.Get(ctx, keyPrefix+key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		metrics.CacheMisses.WithLabelValues("bypassed").Inc()
		return false, nil
	}
	if err != nil {
		metrics.CacheMisses.WithLabelValues("error").Inc()
		return false, fmt.Errorf("failed to get cached result: %w", err)
	}
	if data == nil {
		metrics.CacheMisses.WithLabelValues("result").Inc()
		return false, nil
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached result: %w", err)
	}

	metrics.CacheHits.WithLabelValues("result").Inc()
	logger.Debug("Result cache hit", zap.String("key", key))
	return true, nil
}

func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	err = c.breaker.Execute(func() error {
		return c.client.Set(ctx, keyPrefix+key, data, ttl).Err()
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to set cached result: %w", err)
	}

	logger.Debug("Result cached", zap.String("key", key), zap.Duration("ttl", ttl))
	return nil
}
