// Package postgres implements the datastore contract over pgx connection
// pools, one for the read replica and one for the primary.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/ccoveille/go-safecast/v2"
	zerologadapter "github.com/jackc/pgx-zerolog"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"

	"github.com/commonpedia/sitestats/internal/datastore"
	log "github.com/commonpedia/sitestats/internal/logging"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type pgOptions struct {
	maxOpenConns    int
	minOpenConns    int
	connMaxLifetime time.Duration
	connMaxIdleTime time.Duration
}

// Option configures the connection pools.
type Option func(*pgOptions)

// MaxOpenConns caps the number of open connections per pool.
func MaxOpenConns(n int) Option {
	return func(o *pgOptions) { o.maxOpenConns = n }
}

// MinOpenConns sets the number of connections each pool keeps warm.
func MinOpenConns(n int) Option {
	return func(o *pgOptions) { o.minOpenConns = n }
}

// ConnMaxLifetime bounds the total lifetime of a pooled connection.
func ConnMaxLifetime(d time.Duration) Option {
	return func(o *pgOptions) { o.connMaxLifetime = d }
}

// ConnMaxIdleTime bounds how long a pooled connection may sit idle.
func ConnMaxIdleTime(d time.Duration) Option {
	return func(o *pgOptions) { o.connMaxIdleTime = d }
}

// Datastore is a replica/primary pair of pgx pools satisfying
// datastore.Pool.
type Datastore struct {
	replica *pgxpool.Pool
	primary *pgxpool.Pool
}

var _ datastore.Pool = (*Datastore)(nil)

// NewDatastore connects the replica and primary pools. An empty primaryURI
// reuses the replica connection string, for single-node deployments.
func NewDatastore(ctx context.Context, replicaURI, primaryURI string, opts ...Option) (*Datastore, error) {
	var computed pgOptions
	for _, opt := range opts {
		opt(&computed)
	}

	if primaryURI == "" {
		primaryURI = replicaURI
	}

	replica, err := newPool(ctx, replicaURI, computed)
	if err != nil {
		return nil, fmt.Errorf("unable to connect replica pool: %w", err)
	}

	primary := replica
	if primaryURI != replicaURI {
		primary, err = newPool(ctx, primaryURI, computed)
		if err != nil {
			replica.Close()
			return nil, fmt.Errorf("unable to connect primary pool: %w", err)
		}
	}

	return &Datastore{replica: replica, primary: primary}, nil
}

func newPool(ctx context.Context, uri string, opts pgOptions) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(uri)
	if err != nil {
		return nil, err
	}

	if opts.maxOpenConns > 0 {
		maxConns, err := safecast.Convert[int32](opts.maxOpenConns)
		if err != nil {
			return nil, err
		}
		config.MaxConns = maxConns
	}
	if opts.minOpenConns > 0 {
		minConns, err := safecast.Convert[int32](opts.minOpenConns)
		if err != nil {
			return nil, err
		}
		config.MinConns = minConns
	}
	if opts.connMaxLifetime > 0 {
		config.MaxConnLifetime = opts.connMaxLifetime
	}
	if opts.connMaxIdleTime > 0 {
		config.MaxConnIdleTime = opts.connMaxIdleTime
	}

	configurePGXLogger(config)
	return pgxpool.NewWithConfig(ctx, config)
}

// configurePGXLogger routes pgx's trace log through the global zerolog
// logger, demoting pgx's info-level chatter to debug.
func configurePGXLogger(config *pgxpool.Config) {
	levelMapping := func(logger tracelog.Logger) tracelog.LoggerFunc {
		return func(ctx context.Context, level tracelog.LogLevel, msg string, data map[string]interface{}) {
			if level == tracelog.LogLevelInfo {
				level = tracelog.LogLevelDebug
			}
			logger.Log(ctx, level, msg, data)
		}
	}

	l := zerologadapter.NewLogger(log.Logger,
		zerologadapter.WithoutPGXModule(),
		zerologadapter.WithSubDictionary("pgx"),
		zerologadapter.WithContextFunc(func(ctx context.Context, z zerolog.Context) zerolog.Context {
			if logger := log.Ctx(ctx); logger != nil {
				return logger.With()
			}
			return z
		}))
	config.ConnConfig.Tracer = &tracelog.TraceLog{Logger: levelMapping(l), LogLevel: tracelog.LogLevelInfo}
}

// Replica returns the read-mostly handle; it may lag the primary.
func (d *Datastore) Replica() datastore.Querier {
	return pgxQuerier{d.replica}
}

// Primary returns the authoritative handle.
func (d *Datastore) Primary() datastore.Querier {
	return pgxQuerier{d.primary}
}

// Close releases both pools.
func (d *Datastore) Close() {
	d.replica.Close()
	if d.primary != d.replica {
		d.primary.Close()
	}
}

type pgxQuerier struct {
	pool *pgxpool.Pool
}

var _ datastore.Querier = pgxQuerier{}

func (q pgxQuerier) ExecFunc(ctx context.Context, sql string, args ...any) error {
	_, err := q.pool.Exec(ctx, sql, args...)
	return err
}

func (q pgxQuerier) QueryRowFunc(ctx context.Context, rowFunc func(ctx context.Context, row datastore.Row) error, sql string, args ...any) error {
	if err := rowFunc(ctx, q.pool.QueryRow(ctx, sql, args...)); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return datastore.ErrRowAbsent
		}
		return err
	}
	return nil
}

func (q pgxQuerier) QueryFunc(ctx context.Context, rowsFunc func(ctx context.Context, rows datastore.Rows) error, sql string, args ...any) error {
	rows, err := q.pool.Query(ctx, sql, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	if err := rowsFunc(ctx, rows); err != nil {
		return err
	}
	return rows.Err()
}
