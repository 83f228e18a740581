// Package sitestats maintains the aggregate counters describing the global
// state of the content collection (edits, articles, pages, users, active
// users, files) behind a lazily-populated, self-healing cache.
package sitestats

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/commonpedia/sitestats/internal/datastore"
	log "github.com/commonpedia/sitestats/internal/logging"
)

var (
	loadTierCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sitestats",
		Subsystem: "cache",
		Name:      "load_tier_total",
		Help:      "outcome of each fallback tier attempted while loading the counters snapshot",
	}, []string{"tier", "outcome"})

	recomputeCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sitestats",
		Subsystem: "cache",
		Name:      "recompute_total",
		Help:      "full recomputations triggered by snapshot validation failure",
	})
)

const (
	defaultGroupCountTTL        = time.Hour
	defaultGroupCountProcessTTL = 5 * time.Minute
)

// StatsCache holds the counters snapshot for the lifetime of one request
// scope, loading it lazily on first access and healing it through an ordered
// chain of fallbacks when the persisted row is missing or inconsistent.
//
// A StatsCache is intentionally lock-free and not safe for concurrent use:
// create one per request/process scope. Cross-process safety of concurrent
// recomputation comes from the idempotent fixed-key upsert, not from mutual
// exclusion.
type StatsCache struct {
	pool        datastore.Pool
	queues      QueueDepthReporter
	groupCounts GroupCountCache
	clock       clock.Clock

	avoidExpensiveOperations bool
	disableGroupExpiry       bool
	groupCountTTL            time.Duration
	groupCountProcessTTL     time.Duration
	recomputerOpts           []RecomputerOption

	runRecompute func(ctx context.Context) error

	loaded  bool
	snap    *Snapshot
	jobs    *int64
	nsPages map[int32]int64
}

// Option configures a StatsCache.
type Option func(*StatsCache)

// WithQueueDepthReporter wires the job-queue collaborator behind JobsCount.
func WithQueueDepthReporter(r QueueDepthReporter) Option {
	return func(c *StatsCache) { c.queues = r }
}

// WithGroupCountCache wires the shared read-through cache behind UsersInGroup.
func WithGroupCountCache(gc GroupCountCache) Option {
	return func(c *StatsCache) { c.groupCounts = gc }
}

// WithClock overrides the wall clock, used for group-expiry cutoffs.
func WithClock(clk clock.Clock) Option {
	return func(c *StatsCache) { c.clock = clk }
}

// WithAvoidExpensiveOperations disables the full-recomputation fallback tier,
// for deployments that would rather serve a known-bad number than scan every
// source table on a read path.
func WithAvoidExpensiveOperations() Option {
	return func(c *StatsCache) { c.avoidExpensiveOperations = true }
}

// WithGroupExpiryDisabled makes UsersInGroup count memberships regardless of
// their expiry timestamps.
func WithGroupExpiryDisabled() Option {
	return func(c *StatsCache) { c.disableGroupExpiry = true }
}

// WithGroupCountTTLs overrides the shared and process-local lifetimes of
// cached per-group user counts.
func WithGroupCountTTLs(ttl, processLocalTTL time.Duration) Option {
	return func(c *StatsCache) {
		c.groupCountTTL = ttl
		c.groupCountProcessTTL = processLocalTTL
	}
}

// WithRecomputerOptions forwards options (article-count method, content
// namespaces, active-user updater) to recomputations triggered by the
// fallback chain.
func WithRecomputerOptions(opts ...RecomputerOption) Option {
	return func(c *StatsCache) { c.recomputerOpts = opts }
}

// NewStatsCache creates an unloaded cache over the given pool. The first
// accessor call populates it.
func NewStatsCache(pool datastore.Pool, opts ...Option) *StatsCache {
	c := &StatsCache{
		pool:                 pool,
		clock:                clock.New(),
		groupCountTTL:        defaultGroupCountTTL,
		groupCountProcessTTL: defaultGroupCountProcessTTL,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.runRecompute = func(ctx context.Context) error {
		recomputeCount.Inc()
		return RecomputeAndCommit(ctx, c.pool, c.recomputerOpts...)
	}
	return c
}

// loadTier is one step of the escalating fallback chain. Tiers are tried in
// order and the chain short-circuits on the first sane snapshot, so adding or
// reordering tiers is a data change rather than a control-flow change.
type loadTier struct {
	name string
	load func(ctx context.Context) (*Snapshot, error)
}

func (c *StatsCache) loadTiers() []loadTier {
	tiers := []loadTier{
		{"replica", func(ctx context.Context) (*Snapshot, error) {
			return loadSnapshot(ctx, c.pool.Replica())
		}},
		// Replica lag can make a merely-stale snapshot look corrupt; the
		// primary is authoritative.
		{"primary", func(ctx context.Context) (*Snapshot, error) {
			return loadSnapshot(ctx, c.pool.Primary())
		}},
	}

	if !c.avoidExpensiveOperations {
		tiers = append(tiers, loadTier{"recompute", func(ctx context.Context) (*Snapshot, error) {
			if err := c.runRecompute(ctx); err != nil {
				return nil, err
			}
			return loadSnapshot(ctx, c.pool.Primary())
		}})
	}
	return tiers
}

// loadAndLazyInit walks the fallback chain and returns the first sane
// snapshot. If every tier yields an insane (or absent) snapshot, the last one
// read is accepted as-is: a best-effort number outranks strict correctness
// here, so corruption is logged but never surfaced as an error. Data-access
// failures do propagate.
func (c *StatsCache) loadAndLazyInit(ctx context.Context) (*Snapshot, error) {
	var last *Snapshot
	for _, tier := range c.loadTiers() {
		snap, err := tier.load(ctx)
		if err != nil {
			return nil, err
		}

		switch {
		case snap == nil:
			loadTierCount.WithLabelValues(tier.name, "absent").Inc()
		case isSane(snap):
			loadTierCount.WithLabelValues(tier.name, "sane").Inc()
			log.Trace().Str("tier", tier.name).Msg("loaded sane site stats snapshot")
			return snap, nil
		default:
			loadTierCount.WithLabelValues(tier.name, "insane").Inc()
			log.Debug().Str("tier", tier.name).Msg("site stats snapshot failed validation")
		}

		if snap != nil {
			last = snap
		}
	}

	if last == nil {
		last = &Snapshot{}
	}
	log.Warn().
		Int64("edits", last.TotalEdits).
		Int64("articles", last.GoodArticles).
		Int64("pages", last.TotalPages).
		Msg("site stats remain invalid after all fallbacks; serving as-is")
	return last, nil
}

// load populates the cache if needed. With forceRecache the current snapshot
// is discarded and re-read. Readers are never blocked on correctness: the
// cache is marked loaded unconditionally once the chain has run.
func (c *StatsCache) load(ctx context.Context, forceRecache bool) error {
	if c.loaded && !forceRecache {
		return nil
	}

	snap, err := c.loadAndLazyInit(ctx)
	if err != nil {
		return err
	}

	// Rows written before the total-pages column existed carry a NULL or -1
	// there; seed the modern shape with zeros and reread.
	if snap.TotalPages == legacyTotalPagesSentinel {
		log.Info().Msg("migrating legacy site stats row")
		if err := upsertCounters(ctx, c.pool.Primary(), 0, 0, 0, 0, 0); err != nil {
			return err
		}
		reloaded, err := loadSnapshot(ctx, c.pool.Replica())
		if err != nil {
			return err
		}
		if reloaded != nil {
			snap = reloaded
		}
	}

	c.snap = snap
	c.loaded = true
	return nil
}

// Unload discards the cached snapshot and all memoized ancillary counts,
// forcing the next accessor call to reload. Use when the underlying data is
// known to have changed.
func (c *StatsCache) Unload() {
	c.loaded = false
	c.snap = nil
	c.jobs = nil
	c.nsPages = nil
}

// Recache forces a fresh load of the snapshot.
func (c *StatsCache) Recache(ctx context.Context) error {
	return c.load(ctx, true)
}

// Edits returns the total edit count.
func (c *StatsCache) Edits(ctx context.Context) (int64, error) {
	if err := c.load(ctx, false); err != nil {
		return 0, err
	}
	return c.snap.TotalEdits, nil
}

// Articles returns the good-article count.
func (c *StatsCache) Articles(ctx context.Context) (int64, error) {
	if err := c.load(ctx, false); err != nil {
		return 0, err
	}
	return c.snap.GoodArticles, nil
}

// Pages returns the total page count.
func (c *StatsCache) Pages(ctx context.Context) (int64, error) {
	if err := c.load(ctx, false); err != nil {
		return 0, err
	}
	return c.snap.TotalPages, nil
}

// Users returns the registered-user count.
func (c *StatsCache) Users(ctx context.Context) (int64, error) {
	if err := c.load(ctx, false); err != nil {
		return 0, err
	}
	return c.snap.Users, nil
}

// ActiveUsers returns the active-user count.
func (c *StatsCache) ActiveUsers(ctx context.Context) (int64, error) {
	if err := c.load(ctx, false); err != nil {
		return 0, err
	}
	return c.snap.ActiveUsers, nil
}

// Images returns the uploaded-file count.
func (c *StatsCache) Images(ctx context.Context) (int64, error) {
	if err := c.load(ctx, false); err != nil {
		return 0, err
	}
	return c.snap.Images, nil
}

// Views always returns zero. Page-view tracking was removed; the accessor
// remains for callers that still read it.
//
// Deprecated: page views are no longer tracked.
func (c *StatsCache) Views() int64 { return 0 }
