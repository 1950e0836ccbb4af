// Package deltatest builds sample Delta tables for tests.
package deltatest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/laketower/internal/tables"
	"github.com/leapstack-labs/laketower/internal/tables/delta"
)

// Sample table identity.
const (
	TableName        = "delta_table"
	TableDescription = "Sample Delta Table"
)

// WeatherSchema is the schema of the sample table.
var WeatherSchema = tables.Schema{Fields: []tables.Field{
	{Name: "time", Type: "timestamp", Nullable: true},
	{Name: "city", Type: "string", Nullable: true},
	{Name: "temperature", Type: "double", Nullable: true},
}}

// WeatherRows returns the rows of one sample import.
func WeatherRows(day int) [][]any {
	base := time.Date(2025, 1, day, 0, 0, 0, 0, time.UTC)
	return [][]any{
		{base, "Grenoble", 7.5},
		{base.Add(time.Hour), "Paris", 10.25},
		{base.Add(2 * time.Hour), "Lyon", nil},
	}
}

// Options tunes the sample table.
type Options struct {
	// Imports is the number of appended batches after creation.
	Imports int
	// PartitionBy lists partition columns.
	PartitionBy []string
	// Configuration is stored in the table metadata.
	Configuration map[string]string
}

// NewWeatherTable creates the sample table under a fresh temp dir and returns
// its descriptor. With the default options the table has versions 0 to 2.
func NewWeatherTable(t testing.TB, opts *Options) tables.Descriptor {
	t.Helper()
	if opts == nil {
		opts = &Options{Imports: 2}
	}

	d := tables.Descriptor{
		Name:   "weather",
		URI:    filepath.Join(t.TempDir(), "weather"),
		Format: tables.FormatDelta,
	}
	require.NoError(t, os.MkdirAll(d.URI, 0o750))

	ctx := context.Background()
	tbl, err := delta.Create(ctx, d, delta.CreateOptions{
		Name:             TableName,
		Description:      TableDescription,
		Schema:           WeatherSchema,
		PartitionColumns: opts.PartitionBy,
		Configuration:    opts.Configuration,
	}, nil)
	require.NoError(t, err)

	for i := 0; i < opts.Imports; i++ {
		batch := &tables.Batch{Schema: WeatherSchema, Rows: WeatherRows(i + 1)}
		require.NoError(t, tbl.ImportData(ctx, batch, tables.ModeAppend))
	}
	return d
}
