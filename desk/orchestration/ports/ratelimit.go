package deskports

import "context"

// RateLimiter throttles work per key (a session id for chat turns).
type RateLimiter interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
