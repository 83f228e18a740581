package sitestats

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/commonpedia/sitestats/internal/datastore"
	log "github.com/commonpedia/sitestats/internal/logging"
)

// ArticleCountMethod selects the predicate used to decide whether a content
// page counts as an article.
type ArticleCountMethod string

const (
	// ArticleCountAny counts every non-redirect content page.
	ArticleCountAny ArticleCountMethod = "any"

	// ArticleCountLink additionally requires the page to be linked from
	// somewhere else.
	ArticleCountLink ArticleCountMethod = "link"

	// ArticleCountComma additionally requires the page to have non-empty
	// content.
	ArticleCountComma ArticleCountMethod = "comma"
)

// Validate returns an error for unrecognized methods.
func (m ArticleCountMethod) Validate() error {
	switch m {
	case ArticleCountAny, ArticleCountLink, ArticleCountComma:
		return nil
	default:
		return fmt.Errorf("unknown article count method %q", string(m))
	}
}

// ActiveUsersUpdater recounts the active-user column as a side effect of a
// full recomputation. Implemented outside the core (see the postgres
// subpackage) because "active" is defined by recent-activity data the
// counters table does not hold.
type ActiveUsersUpdater interface {
	UpdateActiveUsers(ctx context.Context) error
}

// Recomputer derives the five primary counters from scratch by scanning the
// source tables, then writes them back as one upserted row. Each count is
// computed at most once per instance. Not safe for concurrent use; create a
// fresh instance per run. No retries: any data-access failure propagates.
type Recomputer struct {
	db     datastore.Querier
	writes datastore.Querier

	method            ArticleCountMethod
	contentNamespaces []int32

	activeUsers ActiveUsersUpdater

	edits, articles, pages, users, files *int64
}

// RecomputerOption configures a Recomputer.
type RecomputerOption func(*Recomputer)

// WithArticleCountMethod overrides the default "any" counting method.
func WithArticleCountMethod(m ArticleCountMethod) RecomputerOption {
	return func(r *Recomputer) { r.method = m }
}

// WithContentNamespaces overrides the namespaces whose pages are candidate
// articles. Defaults to the main namespace only.
func WithContentNamespaces(namespaces ...int32) RecomputerOption {
	return func(r *Recomputer) { r.contentNamespaces = namespaces }
}

// WithWriteHandle directs Refresh's upsert at a different handle than the one
// used for counting. Counting against a low-priority replica while committing
// to the primary keeps the expensive scans off the write path.
func WithWriteHandle(q datastore.Querier) RecomputerOption {
	return func(r *Recomputer) { r.writes = q }
}

// WithActiveUsersUpdater requests an active-user recount after Refresh.
func WithActiveUsersUpdater(u ActiveUsersUpdater) RecomputerOption {
	return func(r *Recomputer) { r.activeUsers = u }
}

// NewRecomputer creates a Recomputer counting against the supplied handle.
// The same handle receives the Refresh upsert unless WithWriteHandle is set.
func NewRecomputer(q datastore.Querier, opts ...RecomputerOption) *Recomputer {
	r := &Recomputer{
		db:                q,
		writes:            q,
		method:            ArticleCountAny,
		contentNamespaces: []int32{0},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CountEdits returns the number of revisions, live plus archived.
func (r *Recomputer) CountEdits(ctx context.Context) (int64, error) {
	if r.edits != nil {
		return *r.edits, nil
	}

	live, err := countRows(ctx, r.db, psql.Select("COUNT(*)").From(tableRevision))
	if err != nil {
		return 0, fmt.Errorf("unable to count revisions: %w", err)
	}
	archived, err := countRows(ctx, r.db, psql.Select("COUNT(*)").From(tableArchive))
	if err != nil {
		return 0, fmt.Errorf("unable to count archived revisions: %w", err)
	}

	total := live + archived
	r.edits = &total
	return total, nil
}

// CountArticles returns the number of distinct non-redirect pages in content
// namespaces, refined by the configured article-count method.
func (r *Recomputer) CountArticles(ctx context.Context) (int64, error) {
	if r.articles != nil {
		return *r.articles, nil
	}

	query := psql.
		Select(fmt.Sprintf("COUNT(DISTINCT %s)", colPageID)).
		From(tablePage).
		Where(sq.Eq{colPageNamespace: r.contentNamespaces}).
		Where(sq.Eq{colPageIsRedirect: false})

	switch r.method {
	case ArticleCountLink:
		query = query.Where(fmt.Sprintf(
			"EXISTS (SELECT 1 FROM %s WHERE %s = %s)",
			tablePageLink, colPLTarget, colPageID,
		))
	case ArticleCountComma:
		query = query.Where(sq.Gt{colPageLen: 0})
	}

	count, err := countRows(ctx, r.db, query)
	if err != nil {
		return 0, fmt.Errorf("unable to count articles: %w", err)
	}
	r.articles = &count
	return count, nil
}

// CountPages returns the total number of pages.
func (r *Recomputer) CountPages(ctx context.Context) (int64, error) {
	return r.memoizedTableCount(ctx, &r.pages, tablePage)
}

// CountUsers returns the total number of registered users.
func (r *Recomputer) CountUsers(ctx context.Context) (int64, error) {
	return r.memoizedTableCount(ctx, &r.users, tableUser)
}

// CountFiles returns the total number of uploaded files.
func (r *Recomputer) CountFiles(ctx context.Context) (int64, error) {
	return r.memoizedTableCount(ctx, &r.files, tableImage)
}

func (r *Recomputer) memoizedTableCount(ctx context.Context, memo **int64, table string) (int64, error) {
	if *memo != nil {
		return **memo, nil
	}

	count, err := countRows(ctx, r.db, psql.Select("COUNT(*)").From(table))
	if err != nil {
		return 0, fmt.Errorf("unable to count %s rows: %w", table, err)
	}
	*memo = &count
	return count, nil
}

// Refresh upserts the counters row with all five counts, computing any that
// were not computed yet. The write is an atomic insert-or-replace keyed by
// the fixed row id, which is what makes concurrent recomputation from
// multiple processes converge instead of corrupting state. The active-user
// column is left untouched.
func (r *Recomputer) Refresh(ctx context.Context) error {
	edits, err := r.CountEdits(ctx)
	if err != nil {
		return err
	}
	articles, err := r.CountArticles(ctx)
	if err != nil {
		return err
	}
	pages, err := r.CountPages(ctx)
	if err != nil {
		return err
	}
	users, err := r.CountUsers(ctx)
	if err != nil {
		return err
	}
	files, err := r.CountFiles(ctx)
	if err != nil {
		return err
	}

	if err := upsertCounters(ctx, r.writes, edits, articles, pages, users, files); err != nil {
		return err
	}

	log.Info().
		Int64("edits", edits).
		Int64("articles", articles).
		Int64("pages", pages).
		Int64("users", users).
		Int64("files", files).
		Msg("recomputed site statistics committed")
	return nil
}

func upsertCounters(ctx context.Context, q datastore.Querier, edits, articles, pages, users, files int64) error {
	query := psql.
		Insert(tableSiteStats).
		Columns(colRowID, colTotalEdits, colGoodArticles, colTotalPages, colUsers, colImages).
		Values(statsRowID, edits, articles, pages, users, files).
		Suffix(fmt.Sprintf(
			"ON CONFLICT (%s) DO UPDATE SET %s = EXCLUDED.%s, %s = EXCLUDED.%s, %s = EXCLUDED.%s, %s = EXCLUDED.%s, %s = EXCLUDED.%s",
			colRowID,
			colTotalEdits, colTotalEdits,
			colGoodArticles, colGoodArticles,
			colTotalPages, colTotalPages,
			colUsers, colUsers,
			colImages, colImages,
		))

	sql, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("unable to generate upsert sql: %w", err)
	}
	if err := q.ExecFunc(ctx, sql, args...); err != nil {
		return fmt.Errorf("unable to upsert site stats: %w", err)
	}
	return nil
}

// RecomputeAndCommit runs all five counts against the replica, commits them
// to the primary, and, when an updater was supplied, recounts active users
// afterward. This is the expensive last resort of the cache's escalation
// chain and the entry point of the maintenance command.
func RecomputeAndCommit(ctx context.Context, pool datastore.Pool, opts ...RecomputerOption) error {
	opts = append([]RecomputerOption{WithWriteHandle(pool.Primary())}, opts...)
	r := NewRecomputer(pool.Replica(), opts...)
	if err := r.Refresh(ctx); err != nil {
		return err
	}

	if r.activeUsers != nil {
		if err := r.activeUsers.UpdateActiveUsers(ctx); err != nil {
			return fmt.Errorf("unable to update active users: %w", err)
		}
	}
	return nil
}
