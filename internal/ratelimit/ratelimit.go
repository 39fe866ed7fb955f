// Package ratelimit gates calls to the language-model provider. The gate is
// shared by every verification run in a process, or across processes when
// backed by Redis.
package ratelimit

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Gate blocks until the caller may make one provider request.
type Gate interface {
	Wait(ctx context.Context) error
}

// Backends.
const (
	BackendLocal = "local"
	BackendRedis = "redis"
	BackendNone  = "none"
)

// LocalGate is an in-process token bucket.
type LocalGate struct {
	limiter *rate.Limiter
}

var _ Gate = (*LocalGate)(nil)

// NewLocal allows requestsPerMinute requests per minute with the given burst.
func NewLocal(requestsPerMinute, burst int) *LocalGate {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if requestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(requestsPerMinute))
	}
	return &LocalGate{limiter: rate.NewLimiter(limit, burst)}
}

func (g *LocalGate) Wait(ctx context.Context) error {
	return eris.Wrap(g.limiter.Wait(ctx), "ratelimit: wait")
}

// Unlimited never blocks.
type Unlimited struct{}

func (Unlimited) Wait(context.Context) error { return nil }
