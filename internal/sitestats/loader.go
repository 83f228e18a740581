package sitestats

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/commonpedia/sitestats/internal/datastore"
)

var querySiteStats = psql.
	Select(colTotalEdits, colGoodArticles, colTotalPages, colUsers, colActiveUsers, colImages).
	From(tableSiteStats).
	Where(sq.Eq{colRowID: statsRowID})

// loadSnapshot reads the single counters row from the supplied handle.
// Returns (nil, nil) when the row is absent. No retries and no validation;
// this is purely a data-access primitive and the caller decides which handle
// (replica or primary) to read from.
func loadSnapshot(ctx context.Context, q datastore.Querier) (*Snapshot, error) {
	sql, args, err := querySiteStats.ToSql()
	if err != nil {
		return nil, fmt.Errorf("unable to generate site stats sql: %w", err)
	}

	var snap Snapshot
	var totalPages *int64
	err = q.QueryRowFunc(ctx, func(_ context.Context, row datastore.Row) error {
		return row.Scan(&snap.TotalEdits, &snap.GoodArticles, &totalPages, &snap.Users, &snap.ActiveUsers, &snap.Images)
	}, sql, args...)
	if errors.Is(err, datastore.ErrRowAbsent) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to load site stats: %w", err)
	}

	if totalPages == nil {
		snap.TotalPages = legacyTotalPagesSentinel
	} else {
		snap.TotalPages = *totalPages
	}
	return &snap, nil
}

// countRows runs a squirrel-built COUNT query against the supplied handle.
func countRows(ctx context.Context, q datastore.Querier, query sq.SelectBuilder) (int64, error) {
	sql, args, err := query.ToSql()
	if err != nil {
		return 0, fmt.Errorf("unable to generate count sql: %w", err)
	}

	var count int64
	err = q.QueryRowFunc(ctx, func(_ context.Context, row datastore.Row) error {
		return row.Scan(&count)
	}, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("unable to run count query: %w", err)
	}
	return count, nil
}
