package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/laketower/internal/tables"
)

var (
	// ErrUnknownTable is returned for table names absent from the config.
	ErrUnknownTable = errors.New("unknown table")

	// ErrUnknownQuery is returned for query names absent from the config.
	ErrUnknownQuery = errors.New("unknown query")
)

// LoadTable opens the table declared under name.
func (c *Config) LoadTable(ctx context.Context, name string) (tables.Table, error) {
	t, ok := c.Table(name)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownTable, name)
	}
	return tables.Load(ctx, t.Descriptor())
}

// LookupQuery returns the query declared under name.
func (c *Config) LookupQuery(name string) (QueryConfig, error) {
	q, ok := c.Query(name)
	if !ok {
		return QueryConfig{}, fmt.Errorf("%w %q", ErrUnknownQuery, name)
	}
	return q, nil
}

// Datasets resolves the latest dataset of every valid declared table. Invalid
// tables are logged and skipped.
func (c *Config) Datasets(ctx context.Context, logger *slog.Logger) map[string]*tables.Dataset {
	return tables.LoadMany(ctx, c.Descriptors(), logger)
}
