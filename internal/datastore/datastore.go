// Package datastore defines the data-access contract the counters cache
// requires from a backing relational store. Implementations live in
// subpackages (currently postgres).
package datastore

import (
	"context"
	"errors"
)

// ErrRowAbsent is surfaced by QueryRowFunc when a single-row query matches
// nothing. Absence is a valid state for single-row lookups, not a failure.
var ErrRowAbsent = errors.New("row not found")

// Row is the subset of a driver row needed to scan one result. Satisfied by
// pgx.Row.
type Row interface {
	Scan(dest ...any) error
}

// Rows is the subset of a driver result set needed to iterate multi-row
// queries. Satisfied by pgx.Rows.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// Querier is a single database access point, wrapping a connection pool or
// transaction. Queries run synchronously; cancellation and timeouts are the
// responsibility of the supplied context and the underlying driver.
type Querier interface {
	// ExecFunc runs a statement that returns no rows.
	ExecFunc(ctx context.Context, sql string, args ...any) error

	// QueryRowFunc runs a single-row query and hands the row to rowFunc.
	// Returns ErrRowAbsent when the query matches no rows.
	QueryRowFunc(ctx context.Context, rowFunc func(ctx context.Context, row Row) error, sql string, args ...any) error

	// QueryFunc runs a multi-row query and hands the result set to rowsFunc.
	QueryFunc(ctx context.Context, rowsFunc func(ctx context.Context, rows Rows) error, sql string, args ...any) error
}

// Pool exposes the two read flavors of the backing store: a read-mostly
// replica that may lag, and the authoritative primary.
type Pool interface {
	Replica() Querier
	Primary() Querier
}
