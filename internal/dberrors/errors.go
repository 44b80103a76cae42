// Package dberrors centralizes the sentinel error taxonomy shared by every
// storage layer: callers compare with errors.Is rather than matching on
// package-specific error types.
package dberrors

import "errors"

var (
	// ErrTableNotFound is returned when a statement references a table that
	// does not exist in the catalog.
	ErrTableNotFound = errors.New("table not found")

	// ErrTableAlreadyExists is returned by CREATE TABLE on a name collision.
	ErrTableAlreadyExists = errors.New("table already exists")

	// ErrInvalidSchema is returned when an insert's value count or types
	// don't match the table's column list.
	ErrInvalidSchema = errors.New("invalid schema")

	// ErrOutOfStorage is reserved: pages are allocated on demand, so nothing
	// in this engine raises it today.
	ErrOutOfStorage = errors.New("out of storage")

	// ErrIOFatal marks a failure that corrupts the commit protocol.
	// cmd/tetodb aborts the process when opening the database fails with it;
	// the REPL prints it for a failed statement or .commit like any other
	// error and keeps running.
	ErrIOFatal = errors.New("fatal I/O error")

	// ErrColumnNotFound is returned when a where-clause or index references
	// an unknown column.
	ErrColumnNotFound = errors.New("column not found")

	// ErrNotIndexed names an operation that needs an index running over a
	// column that has none. Nothing in this engine returns it: range selects
	// and deletes on an unindexed column use a linear heap scan instead.
	ErrNotIndexed = errors.New("column not indexed")
)
