package sitestats

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/commonpedia/sitestats/pkg/cache"
)

type fakeReporter struct {
	depths map[string]int64
	err    error
	calls  int
}

func (f *fakeReporter) QueueDepths(context.Context) (map[string]int64, error) {
	f.calls++
	return f.depths, f.err
}

func TestJobsCount(t *testing.T) {
	tests := []struct {
		name   string
		depths map[string]int64
		want   int64
	}{
		{"empty", map[string]int64{}, 0},
		{"phantom single row", map[string]int64{"refresh-links": 1}, 0},
		{"two queues", map[string]int64{"refresh-links": 2, "html-purge": 3}, 5},
		{"exactly two", map[string]int64{"refresh-links": 2}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewStatsCache(newFakePool(), WithQueueDepthReporter(&fakeReporter{depths: tt.depths}))
			require.Equal(t, tt.want, c.JobsCount(context.Background()))
		})
	}
}

func TestJobsCountDowngradesReporterFailure(t *testing.T) {
	c := NewStatsCache(newFakePool(), WithQueueDepthReporter(&fakeReporter{err: errForced}))
	require.Zero(t, c.JobsCount(context.Background()))
}

func TestJobsCountWithoutReporter(t *testing.T) {
	c := NewStatsCache(newFakePool())
	require.Zero(t, c.JobsCount(context.Background()))
}

func TestJobsCountMemoized(t *testing.T) {
	reporter := &fakeReporter{depths: map[string]int64{"refresh-links": 4}}
	c := NewStatsCache(newFakePool(), WithQueueDepthReporter(reporter))
	ctx := context.Background()

	require.EqualValues(t, 4, c.JobsCount(ctx))
	require.EqualValues(t, 4, c.JobsCount(ctx))
	require.Equal(t, 1, reporter.calls)

	c.Unload()
	require.EqualValues(t, 4, c.JobsCount(ctx))
	require.Equal(t, 2, reporter.calls)
}

func TestPagesInNamespaceMemoizesPerNamespace(t *testing.T) {
	pool := newFakePool()
	pool.replica.counts = map[string]int64{"page_namespace =": 42}

	c := NewStatsCache(pool)
	ctx := context.Background()

	count, err := c.PagesInNamespace(ctx, 0)
	require.NoError(t, err)
	require.EqualValues(t, 42, count)

	_, err = c.PagesInNamespace(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 1, pool.replica.countQueries)

	_, err = c.PagesInNamespace(ctx, 4)
	require.NoError(t, err)
	require.Equal(t, 2, pool.replica.countQueries)
}

func TestUsersInGroupEnforcesExpiry(t *testing.T) {
	pool := newFakePool()
	pool.replica.counts = map[string]int64{"FROM user_group": 7}

	c := NewStatsCache(pool)
	count, err := c.UsersInGroup(context.Background(), "bureaucrat")
	require.NoError(t, err)
	require.EqualValues(t, 7, count)

	require.Len(t, pool.replica.queries, 1)
	require.Contains(t, pool.replica.queries[0], "ug_group =")
	require.Contains(t, pool.replica.queries[0], "ug_expiry IS NULL")
	require.Contains(t, pool.replica.queries[0], "ug_expiry >")
}

func TestUsersInGroupExpiryDisabled(t *testing.T) {
	pool := newFakePool()
	pool.replica.counts = map[string]int64{"FROM user_group": 7}

	c := NewStatsCache(pool, WithGroupExpiryDisabled())
	_, err := c.UsersInGroup(context.Background(), "bureaucrat")
	require.NoError(t, err)

	require.Len(t, pool.replica.queries, 1)
	require.NotContains(t, pool.replica.queries[0], "ug_expiry")
}

func TestUsersInGroupUsesReadThroughCache(t *testing.T) {
	pool := newFakePool()
	pool.replica.counts = map[string]int64{"FROM user_group": 7}

	mock := clock.NewMock()
	groupCounts, err := cache.NewReadThrough[int64]("group-counts-test", &cache.Config{MaxEntries: 128}, cache.WithClock(mock))
	require.NoError(t, err)
	defer groupCounts.Close()

	c := NewStatsCache(pool,
		WithClock(mock),
		WithGroupCountCache(groupCounts),
		WithGroupCountTTLs(time.Hour, 5*time.Minute),
	)
	ctx := context.Background()

	count, err := c.UsersInGroup(ctx, "bureaucrat")
	require.NoError(t, err)
	require.EqualValues(t, 7, count)

	_, err = c.UsersInGroup(ctx, "bureaucrat")
	require.NoError(t, err)
	require.Equal(t, 1, pool.replica.countQueries)

	// a different group is a different key
	_, err = c.UsersInGroup(ctx, "sysop")
	require.NoError(t, err)
	require.Equal(t, 2, pool.replica.countQueries)

	// past the process-local TTL the count is recomputed
	mock.Add(6 * time.Minute)
	_, err = c.UsersInGroup(ctx, "bureaucrat")
	require.NoError(t, err)
	require.Equal(t, 3, pool.replica.countQueries)
}
