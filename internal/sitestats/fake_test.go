package sitestats

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/commonpedia/sitestats/internal/datastore"
)

var errForced = errors.New("forced data access failure")

// statsRow is the raw shape of the site_stats row a fake handle serves. A
// nil totalPages models the legacy NULL column.
type statsRow struct {
	edits      int64
	articles   int64
	totalPages *int64
	users      int64
	active     int64
	images     int64
}

func rowFor(snap Snapshot) *statsRow {
	totalPages := snap.TotalPages
	return &statsRow{
		edits:      snap.TotalEdits,
		articles:   snap.GoodArticles,
		totalPages: &totalPages,
		users:      snap.Users,
		active:     snap.ActiveUsers,
		images:     snap.Images,
	}
}

type execCall struct {
	sql  string
	args []any
}

// fakeHandle answers site_stats loads from its row field and COUNT queries by
// longest-matching substring in counts. Every statement is recorded.
type fakeHandle struct {
	row    *statsRow // nil means the row is absent
	counts map[string]int64
	err    error // forced failure for every call

	statsLoads   int
	countQueries int
	queries      []string
	execs        []execCall
	onExec       func(sql string)
}

var _ datastore.Querier = (*fakeHandle)(nil)

func (f *fakeHandle) ExecFunc(_ context.Context, sql string, args ...any) error {
	if f.err != nil {
		return f.err
	}
	f.execs = append(f.execs, execCall{sql, args})
	if f.onExec != nil {
		f.onExec(sql)
	}
	return nil
}

func (f *fakeHandle) QueryRowFunc(ctx context.Context, rowFunc func(ctx context.Context, row datastore.Row) error, sql string, _ ...any) error {
	if f.err != nil {
		return f.err
	}
	f.queries = append(f.queries, sql)

	if strings.Contains(sql, "FROM site_stats") {
		f.statsLoads++
		if f.row == nil {
			return datastore.ErrRowAbsent
		}
		return rowFunc(ctx, fakeRow{[]any{
			f.row.edits, f.row.articles, f.row.totalPages, f.row.users, f.row.active, f.row.images,
		}})
	}

	f.countQueries++
	var best string
	for pattern := range f.counts {
		if strings.Contains(sql, pattern) && len(pattern) > len(best) {
			best = pattern
		}
	}
	if best == "" {
		return fmt.Errorf("unexpected query: %s", sql)
	}
	return rowFunc(ctx, fakeRow{[]any{f.counts[best]}})
}

func (f *fakeHandle) QueryFunc(_ context.Context, _ func(ctx context.Context, rows datastore.Rows) error, sql string, _ ...any) error {
	return fmt.Errorf("unexpected multi-row query: %s", sql)
}

type fakeRow struct {
	vals []any
}

func (r fakeRow) Scan(dest ...any) error {
	if len(dest) != len(r.vals) {
		return fmt.Errorf("expected %d scan targets, got %d", len(r.vals), len(dest))
	}
	for i, d := range dest {
		switch target := d.(type) {
		case *int64:
			value, ok := r.vals[i].(int64)
			if !ok {
				return fmt.Errorf("value %d is %T, not int64", i, r.vals[i])
			}
			*target = value
		case **int64:
			value, ok := r.vals[i].(*int64)
			if !ok {
				return fmt.Errorf("value %d is %T, not *int64", i, r.vals[i])
			}
			if value == nil {
				*target = nil
			} else {
				copied := *value
				*target = &copied
			}
		default:
			return fmt.Errorf("unsupported scan target %T", d)
		}
	}
	return nil
}

type fakePool struct {
	replica *fakeHandle
	primary *fakeHandle
}

var _ datastore.Pool = (*fakePool)(nil)

func (p *fakePool) Replica() datastore.Querier { return p.replica }
func (p *fakePool) Primary() datastore.Querier { return p.primary }

func newFakePool() *fakePool {
	return &fakePool{replica: &fakeHandle{}, primary: &fakeHandle{}}
}

func saneSnapshot() Snapshot {
	return Snapshot{TotalEdits: 100, GoodArticles: 50, TotalPages: 80, Users: 10, ActiveUsers: 3, Images: 5}
}

func insaneSnapshot() Snapshot {
	// edits < pages violates the cross-field invariant
	return Snapshot{TotalEdits: 10, GoodArticles: 50, TotalPages: 80, Users: 10, ActiveUsers: 3, Images: 5}
}
