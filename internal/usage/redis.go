// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jeranaias/routerchat/internal/retry"
)

// Redis publisher defaults.
const (
	DefaultChannel   = "routerchat:usage"
	DefaultTotalsKey = "routerchat:usage:totals"
	DefaultTimeout   = 5 * time.Second
	DefaultRetries   = 2
)

// RedisConfig configures the Redis publisher.
type RedisConfig struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel receives each record as JSON via PUBLISH.
	Channel string
	// TotalsKey is a hash of running cost per model, bumped with HINCRBYFLOAT.
	TotalsKey string
	// Timeout bounds each publish attempt.
	Timeout time.Duration
	// Retries is the number of extra attempts on failure.
	Retries int
}

// RedisPublisher publishes usage records to Redis.
type RedisPublisher struct {
	config RedisConfig
	client *goredis.Client
	runner retry.Runner
}

// NewRedisPublisher validates cfg and creates the client. No connection is
// made until the first publish.
func NewRedisPublisher(cfg RedisConfig) (*RedisPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis publisher requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis publisher: invalid URL: %w", err)
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.TotalsKey == "" {
		cfg.TotalsKey = DefaultTotalsKey
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &RedisPublisher{
		config: cfg,
		client: goredis.NewClient(opts),
		runner: retry.Runner{
			Policy: retry.Policy{MaxAttempts: 1 + cfg.Retries, BaseDelay: 250 * time.Millisecond, Multiplier: 2},
		},
	}, nil
}

// Publish sends rec on the channel and, for reconciled records, adds its
// cost to the per-model totals hash. Both commands go in one pipeline.
func (p *RedisPublisher) Publish(ctx context.Context, rec Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis: marshal record: %w", err)
	}

	res := p.runner.Do(ctx, func(ctx context.Context, _ int) error {
		ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()

		_, err := p.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Publish(ctx, p.config.Channel, body)
			if rec.Status == StatusReconciled.String() {
				pipe.HIncrByFloat(ctx, p.config.TotalsKey, rec.Model, rec.Cost)
			}
			return nil
		})
		return err
	})
	if res.Err != nil {
		return fmt.Errorf("redis: publish usage: %w", res.Err)
	}
	return nil
}

// Totals returns the running cost per model.
func (p *RedisPublisher) Totals(ctx context.Context) (map[string]float64, error) {
	raw, err := p.client.HGetAll(ctx, p.config.TotalsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read totals: %w", err)
	}
	totals := make(map[string]float64, len(raw))
	for model, v := range raw {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			totals[model] = f
		}
	}
	return totals, nil
}

// Close releases the client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

var _ Publisher = (*RedisPublisher)(nil)
