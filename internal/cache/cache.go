// Package cache is the client-side query cache: read results keyed by query
// key, invalidated after mutations and dropped entirely on logout.
package cache

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/felixgeelhaar/meetdash/internal/metrics"
)

// Query keys used across the client. Keys are dot-separated so a prefix
// invalidates a whole family.
const (
	KeyProfile     = "users.profile"
	KeySessions    = "users.sessions"
	KeyMFADevices  = "users.mfa-devices"
	KeyRoles       = "users.roles"
	KeyPermissions = "users.permissions"
	KeyInvitations = "users.invitations"
	KeyAuditLogs   = "users.audit-logs"
	KeySSOSessions = "users.sso-sessions"
	KeySAMLConfigs = "users.sso.saml"
	KeyOIDCConfigs = "users.sso.oidc"
)

const (
	defaultSize = 256
	defaultTTL  = 5 * time.Minute
)

// Cache holds query results. It is safe for concurrent use.
type Cache struct {
	lru     *expirable.LRU[string, any]
	metrics *metrics.Metrics
}

// Option configures a Cache.
type Option func(*settings)

type settings struct {
	size    int
	ttl     time.Duration
	metrics *metrics.Metrics
}

// WithSize bounds the number of cached queries.
func WithSize(n int) Option {
	return func(s *settings) { s.size = n }
}

// WithTTL sets how long a result stays fresh.
func WithTTL(d time.Duration) Option {
	return func(s *settings) { s.ttl = d }
}

// WithMetrics records hits and misses of Fetch.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *settings) { s.metrics = m }
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	s := settings{size: defaultSize, ttl: defaultTTL}
	for _, opt := range opts {
		opt(&s)
	}
	return &Cache{
		lru:     expirable.NewLRU[string, any](s.size, nil, s.ttl),
		metrics: s.metrics,
	}
}

// Get returns the cached value for key.
func (c *Cache) Get(key string) (any, bool) {
	return c.lru.Get(key)
}

// Set stores v under key.
func (c *Cache) Set(key string, v any) {
	c.lru.Add(key, v)
}

// Invalidate drops key and every key nested under it ("users" drops
// "users.profile").
func (c *Cache) Invalidate(key string) {
	for _, k := range c.lru.Keys() {
		if k == key || strings.HasPrefix(k, key+".") {
			c.lru.Remove(k)
		}
	}
}

// Clear drops everything.
func (c *Cache) Clear() {
	c.lru.Purge()
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Fetch returns the cached T for key or calls load and caches its result.
// Load errors are never cached. A cached value of another type is treated
// as a miss.
func Fetch[T any](ctx context.Context, c *Cache, key string, load func(context.Context) (T, error)) (T, error) {
	if c != nil {
		if v, ok := c.Get(key); ok {
			if t, ok := v.(T); ok {
				c.metrics.RecordCache(key, true)
				return t, nil
			}
		}
		c.metrics.RecordCache(key, false)
	}
	v, err := load(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	if c != nil {
		c.Set(key, v)
	}
	return v, nil
}
