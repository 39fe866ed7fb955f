package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Counter increments a counter that expires after ttl and returns its new
// value.
type Counter interface {
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// RedisCounter implements Counter with INCR and EXPIRE NX.
type RedisCounter struct {
	client redis.Cmdable
}

// NewRedisCounter wraps a go-redis client.
func NewRedisCounter(client redis.Cmdable) *RedisCounter {
	return &RedisCounter{client: client}
}

func (c *RedisCounter) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, eris.Wrapf(err, "ratelimit: increment %s", key)
	}
	return incr.Val(), nil
}

// RedisGate is a fixed-window limiter shared through Redis. Every process
// using the same prefix draws from one per-minute budget.
type RedisGate struct {
	counter Counter
	prefix  string
	limit   int64
	window  time.Duration
	now     func() time.Time
}

var _ Gate = (*RedisGate)(nil)

// NewRedis creates a RedisGate allowing requestsPerMinute requests in each
// one-minute window.
func NewRedis(counter Counter, prefix string, requestsPerMinute int) *RedisGate {
	if prefix == "" {
		prefix = "verifier:llm"
	}
	return &RedisGate{
		counter: counter,
		prefix:  prefix,
		limit:   int64(requestsPerMinute),
		window:  time.Minute,
		now:     time.Now,
	}
}

// Dial connects to Redis at url and checks the connection.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "ratelimit: parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, eris.Wrap(err, "ratelimit: ping redis")
	}
	return client, nil
}

// Wait takes a slot in the current window, sleeping until the next window
// when the current one is exhausted.
func (g *RedisGate) Wait(ctx context.Context) error {
	if g.limit <= 0 {
		return nil
	}
	for {
		now := g.now()
		start := now.Truncate(g.window)
		key := g.prefix + ":" + strconv.FormatInt(start.Unix(), 10)

		n, err := g.counter.Increment(ctx, key, 2*g.window)
		if err != nil {
			return err
		}
		if n <= g.limit {
			return nil
		}

		wait := start.Add(g.window).Sub(now)
		zap.L().Debug("ratelimit: window exhausted",
			zap.String("key", key),
			zap.Int64("count", n),
			zap.Duration("wait", wait),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return eris.Wrap(ctx.Err(), "ratelimit: wait")
		case <-timer.C:
		}
	}
}
