package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func TestUpdateActiveUsers(t *testing.T) {
	q := &fakeQuerier{}
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))

	counter := NewActiveUsersCounter(q, WithClock(mock))
	require.NoError(t, counter.UpdateActiveUsers(context.Background()))

	require.Len(t, q.execs, 1)
	require.Contains(t, q.execs[0], "UPDATE site_stats SET ss_active_users")
	require.Contains(t, q.execs[0], "COUNT(DISTINCT rev_actor)")

	require.Len(t, q.execArgs[0], 2)
	require.Equal(t, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC), q.execArgs[0][0])
	require.EqualValues(t, statsRowID, q.execArgs[0][1])
}

func TestUpdateActiveUsersCustomWindow(t *testing.T) {
	q := &fakeQuerier{}
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))

	counter := NewActiveUsersCounter(q, WithClock(mock), WithActivityWindow(24*time.Hour))
	require.NoError(t, counter.UpdateActiveUsers(context.Background()))

	require.Equal(t, time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC), q.execArgs[0][0])
}
