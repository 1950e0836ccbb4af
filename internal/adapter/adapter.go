// Package adapter wraps the embedded DuckDB engine used to scan, stage and
// query table data. Every session is a private in-memory database.
package adapter

import (
	"context"
)

// Config holds the configuration for opening an engine session.
type Config struct {
	// Path is the database file. Empty or ":memory:" opens an in-memory database.
	Path string

	// Settings are applied with SET after connecting, in key order.
	Settings map[string]string

	// Extensions are installed and loaded after connecting.
	Extensions []string
}

// Column describes a column of a relation.
type Column struct {
	Name     string
	Type     string
	Nullable bool
}

// Result is a fully buffered query result. Rows are in engine order and each
// row has one cell per column.
type Result struct {
	Columns []string
	Rows    [][]any
}

// Adapter defines the engine operations used by table formats and the
// query executor.
type Adapter interface {
	// Connect opens the session.
	Connect(ctx context.Context, cfg Config) error

	// Close releases the session and everything registered in it.
	Close() error

	// Exec executes a statement that doesn't return rows.
	Exec(ctx context.Context, sql string) error

	// Query executes a statement and buffers all rows.
	Query(ctx context.Context, sql string) (*Result, error)

	// Describe returns the output columns of a query without running it.
	Describe(ctx context.Context, sql string) ([]Column, error)
}
