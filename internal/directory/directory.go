// Package directory resolves user IDs to display usernames. The flush
// scheduler resolves every open session each tick, so production resolvers
// sit behind a TTL-bounded LRU cache.
package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ErrUnknownUser is returned when a resolver has no name for the ID.
var ErrUnknownUser = errors.New("directory: unknown user")

// Resolver maps a user ID to a username.
type Resolver interface {
	Resolve(ctx context.Context, userID string) (string, error)
}

// Func adapts a function to the Resolver interface.
type Func func(ctx context.Context, userID string) (string, error)

func (f Func) Resolve(ctx context.Context, userID string) (string, error) {
	return f(ctx, userID)
}

// Static resolves from a fixed map.
type Static map[string]string

func (s Static) Resolve(ctx context.Context, userID string) (string, error) {
	name, ok := s[userID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}
	return name, nil
}

// Fallback resolves via the primary and falls back to the user ID itself
// when the primary fails. Useful when the ledger should still fill in
// rather than skip users missing from the directory.
type Fallback struct {
	Primary Resolver
}

func (f Fallback) Resolve(ctx context.Context, userID string) (string, error) {
	name, err := f.Primary.Resolve(ctx, userID)
	if err != nil {
		return userID, nil
	}
	return name, nil
}

// Cached wraps a resolver with a TTL-bounded LRU cache. Only successful
// lookups are cached; failures stay failures until the next attempt.
type Cached struct {
	inner Resolver
	cache *expirable.LRU[string, string]
}

// NewCached creates a caching resolver.
func NewCached(inner Resolver, size int, ttl time.Duration) *Cached {
	if size <= 0 {
		size = 1024
	}
	return &Cached{
		inner: inner,
		cache: expirable.NewLRU[string, string](size, nil, ttl),
	}
}

func (c *Cached) Resolve(ctx context.Context, userID string) (string, error) {
	if name, ok := c.cache.Get(userID); ok {
		return name, nil
	}

	name, err := c.inner.Resolve(ctx, userID)
	if err != nil {
		return "", err
	}

	c.cache.Add(userID, name)
	return name, nil
}
