// Package ratelimit provides the token-bucket rate limiter the workspace
// client uses to coordinate all consumers within the process (§5), with an
// optional Redis-backed sliding window for multi-consumer coordination and
// an in-process fallback when Redis is unavailable — mirroring the
// teacher's Debouncer, which falls back to a local map when its Redis
// client is nil.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter configuration. Defaults match the workspace
// client's §5 contract: 3 req/s, burst-tolerant.
type Config struct {
	RequestsPerSecond int
	BurstSize         int
}

// DefaultConfig returns the workspace API's default limits.
func DefaultConfig() Config {
	return Config{RequestsPerSecond: 3, BurstSize: 3}
}

// Limiter is a token-bucket rate limiter. With a Redis client it
// coordinates across processes via a Lua-scripted sliding window;
// without one (or on Redis error) it falls back to an in-process bucket.
type Limiter struct {
	cfg   Config
	redis *redis.Client

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// New creates a Limiter. redisClient may be nil, in which case the
// limiter runs entirely in-process.
func New(redisClient *redis.Client, cfg Config) *Limiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg = DefaultConfig()
	}
	return &Limiter{
		cfg:        cfg,
		redis:      redisClient,
		tokens:     float64(cfg.BurstSize),
		lastRefill: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	for {
		ok, retryAfter, err := l.tryAcquire(ctx, key)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryAfter):
		}
	}
}

func (l *Limiter) tryAcquire(ctx context.Context, key string) (bool, time.Duration, error) {
	if l.redis != nil {
		allowed, wait, err := l.redisAcquire(ctx, key)
		if err == nil {
			return allowed, wait, nil
		}
		// Redis error: fall back to the in-process bucket rather than
		// blocking the pipeline on a degraded coordination backend.
	}
	return l.localAcquire()
}

func (l *Limiter) localAcquire() (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	l.lastRefill = now
	l.tokens += elapsed * float64(l.cfg.RequestsPerSecond)
	if max := float64(l.cfg.BurstSize); l.tokens > max {
		l.tokens = max
	}

	if l.tokens >= 1 {
		l.tokens--
		return true, 0, nil
	}

	deficit := 1 - l.tokens
	wait := time.Duration(deficit/float64(l.cfg.RequestsPerSecond)*1000) * time.Millisecond
	return false, wait, nil
}

// redisAcquire implements a sliding-window check over a Redis sorted set,
// the same Lua-script shape as the teacher's SlidingWindowLimiter.
func (l *Limiter) redisAcquire(ctx context.Context, key string) (bool, time.Duration, error) {
	now := time.Now()
	windowStart := now.Add(-time.Second)
	redisKey := fmt.Sprintf("collabiq:ratelimit:%s", key)

	script := redis.NewScript(`
		local key = KEYS[1]
		local now = tonumber(ARGV[1])
		local window_start = tonumber(ARGV[2])
		local max_requests = tonumber(ARGV[3])
		local window_ms = tonumber(ARGV[4])

		redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
		local count = redis.call('ZCARD', key)

		if count < max_requests then
			redis.call('ZADD', key, now, now .. '-' .. math.random())
			redis.call('PEXPIRE', key, window_ms * 2)
			return 1
		end

		local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
		if #oldest > 0 then
			return -(oldest[2] + window_ms - now)
		end
		return 0
	`)

	result, err := script.Run(ctx, l.redis, []string{redisKey},
		now.UnixMilli(),
		windowStart.UnixMilli(),
		l.cfg.RequestsPerSecond+l.cfg.BurstSize,
		time.Second.Milliseconds(),
	).Int64()
	if err != nil {
		return false, 0, err
	}

	if result == 1 {
		return true, 0, nil
	}
	if result < 0 {
		return false, time.Duration(-result) * time.Millisecond, nil
	}
	return false, time.Second, nil
}
