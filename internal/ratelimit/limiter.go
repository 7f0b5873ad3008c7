package ratelimit

import "context"

// RateLimiter caps delivery throughput per channel across dispatcher
// replicas, protecting the downstream mail and push providers.
type RateLimiter interface {
	Allow(ctx context.Context, channel string) (bool, error)
	Wait(ctx context.Context, channel string) error
}
