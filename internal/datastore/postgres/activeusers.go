package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/benbjohnson/clock"

	"github.com/commonpedia/sitestats/internal/datastore"
	log "github.com/commonpedia/sitestats/internal/logging"
)

const (
	tableSiteStats = "site_stats"
	colRowID       = "ss_row_id"
	colActiveUsers = "ss_active_users"

	tableRevision   = "revision"
	colRevActor     = "rev_actor"
	colRevTimestamp = "rev_timestamp"

	statsRowID = 1

	defaultActiveUserWindow = 30 * 24 * time.Hour
)

// ActiveUsersCounter recounts the active-user column of the counters row:
// the number of distinct actors with at least one revision inside the
// activity window.
type ActiveUsersCounter struct {
	db     datastore.Querier
	window time.Duration
	clock  clock.Clock
}

// ActiveUsersOption configures an ActiveUsersCounter.
type ActiveUsersOption func(*ActiveUsersCounter)

// WithActivityWindow overrides the default 30-day window.
func WithActivityWindow(window time.Duration) ActiveUsersOption {
	return func(c *ActiveUsersCounter) { c.window = window }
}

// WithClock overrides the wall clock used to compute the window cutoff.
func WithClock(clk clock.Clock) ActiveUsersOption {
	return func(c *ActiveUsersCounter) { c.clock = clk }
}

// NewActiveUsersCounter creates a counter writing through the supplied
// handle, which must be the primary.
func NewActiveUsersCounter(primary datastore.Querier, opts ...ActiveUsersOption) *ActiveUsersCounter {
	c := &ActiveUsersCounter{
		db:     primary,
		window: defaultActiveUserWindow,
		clock:  clock.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UpdateActiveUsers recounts and stores ss_active_users in one statement.
func (c *ActiveUsersCounter) UpdateActiveUsers(ctx context.Context) error {
	cutoff := c.clock.Now().UTC().Add(-c.window)

	query := psql.
		Update(tableSiteStats).
		Set(colActiveUsers, sq.Expr(fmt.Sprintf(
			"(SELECT COUNT(DISTINCT %s) FROM %s WHERE %s > ?)",
			colRevActor, tableRevision, colRevTimestamp,
		), cutoff)).
		Where(sq.Eq{colRowID: statsRowID})

	sql, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("unable to generate active users sql: %w", err)
	}
	if err := c.db.ExecFunc(ctx, sql, args...); err != nil {
		return fmt.Errorf("unable to update active users: %w", err)
	}

	log.Debug().Time("cutoff", cutoff).Msg("recounted active users")
	return nil
}
