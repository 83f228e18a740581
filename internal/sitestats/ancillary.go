package sitestats

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"

	log "github.com/commonpedia/sitestats/internal/logging"
	"github.com/commonpedia/sitestats/pkg/cache"
)

// QueueDepthReporter reports the depth of every known background job queue.
type QueueDepthReporter interface {
	QueueDepths(ctx context.Context) (map[string]int64, error)
}

// GroupCountCache is the shared read-through cache used for per-group user
// counts. Satisfied by *cache.ReadThrough[int64]. The cache owns single-flight
// deduplication of concurrent recomputation; the core does not reimplement it.
type GroupCountCache interface {
	GetWithSetCallback(ctx context.Context, key string, ttl time.Duration, compute func(context.Context) (int64, error), opts ...cache.GetOption) (int64, error)
}

// JobsCount returns the total depth across all job queues, memoized for the
// cache lifetime. A reporter failure downgrades to zero: queue depth is a
// nicety, not worth failing a read over. A total of exactly 1 is also
// normalized to zero — a query against an empty queue still reports a single
// phantom row, and downstream consumers depend on zero meaning "empty".
func (c *StatsCache) JobsCount(ctx context.Context) int64 {
	if c.jobs != nil {
		return *c.jobs
	}

	var total int64
	if c.queues != nil {
		depths, err := c.queues.QueueDepths(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("unable to read job queue depths; reporting zero")
			total = 0
		} else {
			for _, depth := range depths {
				total += depth
			}
		}
	}

	if total == 1 {
		total = 0
	}

	c.jobs = &total
	return total
}

// PagesInNamespace returns the page count for one namespace, memoized per
// namespace id for the cache lifetime. Counted against the replica.
func (c *StatsCache) PagesInNamespace(ctx context.Context, namespace int32) (int64, error) {
	if count, ok := c.nsPages[namespace]; ok {
		return count, nil
	}

	count, err := countRows(ctx, c.pool.Replica(),
		psql.Select("COUNT(*)").From(tablePage).Where(sq.Eq{colPageNamespace: namespace}))
	if err != nil {
		return 0, err
	}

	if c.nsPages == nil {
		c.nsPages = make(map[int32]int64)
	}
	c.nsPages[namespace] = count
	return count, nil
}

// UsersInGroup returns the number of users holding the given group, through
// the shared read-through cache with a one-hour lifetime and a shorter
// process-local one. Expired memberships are excluded unless expiry
// enforcement is disabled by configuration. Without a wired cache the count
// is computed directly.
func (c *StatsCache) UsersInGroup(ctx context.Context, group string) (int64, error) {
	compute := func(ctx context.Context) (int64, error) {
		query := psql.Select("COUNT(*)").From(tableUserGroup).Where(sq.Eq{colUGGroup: group})
		if !c.disableGroupExpiry {
			query = query.Where(sq.Or{
				sq.Eq{colUGExpiry: nil},
				sq.Gt{colUGExpiry: c.clock.Now().UTC()},
			})
		}
		return countRows(ctx, c.pool.Replica(), query)
	}

	if c.groupCounts == nil {
		return compute(ctx)
	}
	return c.groupCounts.GetWithSetCallback(ctx,
		"sitestats:users-in-group:"+group,
		c.groupCountTTL,
		compute,
		cache.WithProcessLocalTTL(c.groupCountProcessTTL),
	)
}
