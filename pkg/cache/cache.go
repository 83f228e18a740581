// Package cache provides the shared read-through cache used for memoized
// point queries: get-or-compute by key with a caller-supplied TTL, an
// optional shorter process-local TTL, and single-flight suppression of
// concurrent recomputation for the same key.
package cache

import (
	"context"
	"time"

	"github.com/Yiling-J/theine-go"
	"github.com/benbjohnson/clock"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Config for a read-through cache.
type Config struct {
	// MaxEntries caps the number of cached keys; theine evicts beyond it.
	MaxEntries int64

	// DefaultTTL applies when a caller passes a non-positive TTL.
	DefaultTTL time.Duration
}

func (c *Config) MarshalZerologObject(e *zerolog.Event) {
	e.
		Str("maxEntries", humanize.Comma(c.MaxEntries)).
		Dur("defaultTTL", c.DefaultTTL)
}

type entry[V any] struct {
	value V

	// expires is checked against the injected clock rather than relying on
	// theine's internal timer, so tests can drive expiry with a mock clock.
	expires time.Time
}

// ReadThrough is a get-or-compute cache. Safe for concurrent use.
type ReadThrough[V any] struct {
	name  string
	local *theine.Cache[string, entry[V]]
	cfg   Config
	group singleflight.Group
	clock clock.Clock
}

// ReadThroughOption configures a ReadThrough cache.
type ReadThroughOption func(*readThroughConfig)

type readThroughConfig struct {
	clock clock.Clock
}

// WithClock overrides the wall clock used for entry expiry.
func WithClock(clk clock.Clock) ReadThroughOption {
	return func(c *readThroughConfig) { c.clock = clk }
}

// NewReadThrough creates a named read-through cache. The name labels the
// cache's hit/miss metrics.
func NewReadThrough[V any](name string, config *Config, opts ...ReadThroughOption) (*ReadThrough[V], error) {
	rtc := readThroughConfig{clock: clock.New()}
	for _, opt := range opts {
		opt(&rtc)
	}

	built, err := theine.NewBuilder[string, entry[V]](config.MaxEntries).Build()
	if err != nil {
		return nil, err
	}

	return &ReadThrough[V]{
		name:  name,
		local: built,
		cfg:   *config,
		clock: rtc.clock,
	}, nil
}

// GetOption configures a single GetWithSetCallback call.
type GetOption func(*getOptions)

type getOptions struct {
	processLocalTTL time.Duration
}

// WithProcessLocalTTL caps how long the computed value may be served from
// this process, independently of the shared TTL. Values shorter than the
// shared TTL force earlier recomputation here without invalidating other
// consumers.
func WithProcessLocalTTL(ttl time.Duration) GetOption {
	return func(o *getOptions) { o.processLocalTTL = ttl }
}

// GetWithSetCallback returns the cached value for key, computing and storing
// it via compute on miss or expiry. Concurrent callers for the same key share
// one compute invocation. Compute errors are returned uncached.
func (c *ReadThrough[V]) GetWithSetCallback(ctx context.Context, key string, ttl time.Duration, compute func(context.Context) (V, error), opts ...GetOption) (V, error) {
	var o getOptions
	for _, opt := range opts {
		opt(&o)
	}

	if cached, ok := c.lookup(key); ok {
		hitsCount.WithLabelValues(c.name).Inc()
		return cached, nil
	}
	missesCount.WithLabelValues(c.name).Inc()

	value, err, _ := c.group.Do(key, func() (any, error) {
		// Another flight may have stored the value while this one queued.
		if cached, ok := c.lookup(key); ok {
			return cached, nil
		}

		computed, err := compute(ctx)
		if err != nil {
			return nil, err
		}

		c.local.SetWithTTL(key, entry[V]{computed, c.clock.Now().Add(c.effectiveTTL(ttl, o))}, 1, c.effectiveTTL(ttl, o))
		return computed, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return value.(V), nil
}

func (c *ReadThrough[V]) lookup(key string) (V, bool) {
	e, ok := c.local.Get(key)
	if !ok || !c.clock.Now().Before(e.expires) {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *ReadThrough[V]) effectiveTTL(ttl time.Duration, o getOptions) time.Duration {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	if o.processLocalTTL > 0 && o.processLocalTTL < ttl {
		return o.processLocalTTL
	}
	return ttl
}

// Close releases the cache's background resources.
func (c *ReadThrough[V]) Close() {
	c.local.Close()
}
