// Package cache keeps completed backtest results in Redis so identical runs
// and job lookups skip the simulation.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"turtle-backtest/services/config"
	"turtle-backtest/services/engine"
)

const keyPrefix = "turtle:"

// ResultCache wraps redis.Client. A nil *ResultCache is valid and caches
// nothing.
type ResultCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// New connects to Redis. An empty address returns a nil cache.
func New(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*ResultCache, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to Redis at %s: %w", cfg.Addr, err)
	}
	logger.Info("Connected to Redis", zap.String("addr", cfg.Addr))
	return &ResultCache{client: client, ttl: cfg.TTL, logger: logger}, nil
}

// ResultKey identifies a run by its effective configuration and inputs.
func ResultKey(configHash, dataChecksum, rollChecksum string) string {
	return fmt.Sprintf("%sresult:%s:%s:%s", keyPrefix, configHash, dataChecksum, rollChecksum)
}

// JobKey indexes a stored result by run id.
func JobKey(runID string) string {
	return keyPrefix + "job:" + runID
}

// Get returns the cached result for key, or false on a miss.
func (c *ResultCache) Get(ctx context.Context, key string) (*engine.Result, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	var res engine.Result
	if err := json.Unmarshal(val, &res); err != nil {
		return nil, false, fmt.Errorf("decode cached result: %w", err)
	}
	return &res, true, nil
}

// Put stores res under its content key and its run id.
func (c *ResultCache) Put(ctx context.Context, res *engine.Result) error {
	if c == nil || res == nil || res.Manifest == nil || res.Manifest.ConfigSnapshot == nil {
		return nil
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	snap := res.Manifest.ConfigSnapshot
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, ResultKey(snap.ConfigHash, snap.DataChecksum, res.Manifest.RollChecksum), payload, c.ttl)
	pipe.Set(ctx, JobKey(res.RunID), payload, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis put: %w", err)
	}
	c.logger.Debug("Cached result", zap.String("run_id", res.RunID), zap.Int("bytes", len(payload)))
	return nil
}

// Job looks a result up by run id.
func (c *ResultCache) Job(ctx context.Context, runID string) (*engine.Result, bool, error) {
	return c.Get(ctx, JobKey(runID))
}

func (c *ResultCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
