package postgres

import (
	"context"
	"fmt"

	"github.com/commonpedia/sitestats/internal/datastore"
)

const (
	tableJob  = "job"
	colJobCmd = "job_cmd"
)

var queryQueueDepths = psql.
	Select(colJobCmd, "COUNT(*)").
	From(tableJob).
	GroupBy(colJobCmd)

// JobQueue reports background-queue depths from the job table, one queue per
// distinct command.
type JobQueue struct {
	db datastore.Querier
}

// NewJobQueue creates a reporter reading from the supplied handle, normally
// the replica.
func NewJobQueue(db datastore.Querier) *JobQueue {
	return &JobQueue{db: db}
}

// QueueDepths returns the number of queued jobs keyed by queue name.
func (j *JobQueue) QueueDepths(ctx context.Context) (map[string]int64, error) {
	sql, args, err := queryQueueDepths.ToSql()
	if err != nil {
		return nil, fmt.Errorf("unable to generate queue depth sql: %w", err)
	}

	depths := make(map[string]int64)
	err = j.db.QueryFunc(ctx, func(_ context.Context, rows datastore.Rows) error {
		for rows.Next() {
			var queue string
			var depth int64
			if err := rows.Scan(&queue, &depth); err != nil {
				return err
			}
			depths[queue] = depth
		}
		return nil
	}, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("unable to read queue depths: %w", err)
	}
	return depths, nil
}
