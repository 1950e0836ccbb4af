package delta_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/laketower/internal/adapter"
	"github.com/leapstack-labs/laketower/internal/tables"
	"github.com/leapstack-labs/laketower/internal/tables/delta"
	"github.com/leapstack-labs/laketower/internal/tables/delta/deltatest"
	"github.com/leapstack-labs/laketower/internal/testutil"
)

func openTable(t *testing.T, d tables.Descriptor) *delta.Table {
	t.Helper()
	tbl, err := delta.Open(context.Background(), d, testutil.NewTestLogger(t))
	require.NoError(t, err)
	return tbl
}

// countRows scans the data files of a dataset.
func countRows(t *testing.T, ds *tables.Dataset) int64 {
	t.Helper()
	if len(ds.Files) == 0 {
		return 0
	}
	ctx := context.Background()
	sess, err := adapter.OpenSession(ctx, testutil.NewTestLogger(t))
	require.NoError(t, err)
	defer func() { _ = sess.Close() }()

	locs := make([]string, len(ds.Files))
	for i, f := range ds.Files {
		locs[i] = adapter.QuoteLiteral(f.Location)
	}
	res, err := sess.Query(ctx, fmt.Sprintf("SELECT count(*) FROM read_parquet([%s])", strings.Join(locs, ", ")))
	require.NoError(t, err)
	return res.Rows[0][0].(int64)
}

func writeLog(t *testing.T, root string, version int64, lines ...string) {
	t.Helper()
	dir := filepath.Join(root, "_delta_log")
	require.NoError(t, os.MkdirAll(dir, 0o750))
	path := filepath.Join(dir, fmt.Sprintf("%020d.json", version))
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600))
}

const minimalSchema = `{\"type\":\"struct\",\"fields\":[{\"name\":\"id\",\"type\":\"long\",\"nullable\":true,\"metadata\":{}}]}`

func TestLoad(t *testing.T) {
	ctx := context.Background()
	d := deltatest.NewWeatherTable(t, &deltatest.Options{})

	tbl, err := tables.Load(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, d, tbl.Descriptor())

	empty := tables.Descriptor{Name: "empty", URI: t.TempDir(), Format: tables.FormatDelta}
	_, err = tables.Load(ctx, empty)
	require.Error(t, err)
	assert.ErrorIs(t, err, tables.ErrInvalidTable)

	missing := tables.Descriptor{Name: "missing", URI: filepath.Join(t.TempDir(), "nope"), Format: tables.FormatDelta}
	_, err = tables.Load(ctx, missing)
	assert.ErrorIs(t, err, tables.ErrInvalidTable)

	parquetDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(parquetDir, "data.parquet"), []byte("PAR1"), 0o600))
	_, err = tables.Load(ctx, tables.Descriptor{Name: "plain", URI: parquetDir, Format: tables.FormatDelta})
	assert.ErrorIs(t, err, tables.ErrInvalidTable)
}

func TestMetadata(t *testing.T) {
	d := deltatest.NewWeatherTable(t, &deltatest.Options{
		Imports:       1,
		PartitionBy:   []string{"city"},
		Configuration: map[string]string{"delta.appendOnly": "false"},
	})

	before := time.Now().UTC().Add(-time.Minute)
	meta, err := openTable(t, d).Metadata(context.Background())
	require.NoError(t, err)

	assert.Equal(t, tables.FormatDelta, meta.Format)
	require.NotNil(t, meta.Name)
	assert.Equal(t, deltatest.TableName, *meta.Name)
	require.NotNil(t, meta.Description)
	assert.Equal(t, deltatest.TableDescription, *meta.Description)
	assert.Equal(t, d.URI, meta.URI)
	assert.NotEmpty(t, meta.ID)
	assert.Equal(t, int64(1), meta.Version)
	assert.Equal(t, []string{"city"}, meta.Partitions)
	assert.Equal(t, map[string]string{"delta.appendOnly": "false"}, meta.Configuration)
	assert.Equal(t, time.UTC, meta.CreatedAt.Location())
	assert.True(t, meta.CreatedAt.After(before))
}

func TestSchema(t *testing.T) {
	d := deltatest.NewWeatherTable(t, &deltatest.Options{})

	schema, err := openTable(t, d).Schema(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []tables.Field{
		{Name: "time", Type: "timestamp", Nullable: true, EngineType: "TIMESTAMPTZ"},
		{Name: "city", Type: "string", Nullable: true, EngineType: "VARCHAR"},
		{Name: "temperature", Type: "double", Nullable: true, EngineType: "DOUBLE"},
	}, schema.Fields)
}

func TestCreate_Errors(t *testing.T) {
	ctx := context.Background()
	d := deltatest.NewWeatherTable(t, &deltatest.Options{})

	_, err := delta.Create(ctx, d, delta.CreateOptions{Schema: deltatest.WeatherSchema}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	fresh := tables.Descriptor{Name: "fresh", URI: t.TempDir(), Format: tables.FormatDelta}
	tests := []struct {
		name string
		opts delta.CreateOptions
	}{
		{"no columns", delta.CreateOptions{}},
		{"unknown type", delta.CreateOptions{Schema: tables.Schema{Fields: []tables.Field{{Name: "a", Type: "uuid"}}}}},
		{"unknown partition", delta.CreateOptions{Schema: deltatest.WeatherSchema, PartitionColumns: []string{"country"}}},
		{"only partition columns", delta.CreateOptions{
			Schema:           tables.Schema{Fields: []tables.Field{{Name: "a", Type: "long"}}},
			PartitionColumns: []string{"a"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := delta.Create(ctx, fresh, tt.opts, nil)
			assert.Error(t, err)
		})
	}
}

func TestHistory(t *testing.T) {
	d := deltatest.NewWeatherTable(t, nil)

	history, err := openTable(t, d).History(context.Background())
	require.NoError(t, err)
	require.Len(t, history.Revisions, 3)

	versions := []int64{history.Revisions[0].Version, history.Revisions[1].Version, history.Revisions[2].Version}
	assert.Equal(t, []int64{2, 1, 0}, versions)

	latest := history.Revisions[0]
	assert.Equal(t, "WRITE", latest.Operation)
	assert.Equal(t, "Append", latest.OperationParameters["mode"])
	assert.Equal(t, "[]", latest.OperationParameters["partitionBy"])
	assert.Equal(t, int64(3), latest.OperationMetrics["numOutputRows"])
	assert.Equal(t, int64(1), latest.OperationMetrics["numFiles"])
	require.NotNil(t, latest.ClientVersion)
	assert.Equal(t, delta.ClientVersion, *latest.ClientVersion)
	assert.Equal(t, time.UTC, latest.Timestamp.Location())

	assert.Equal(t, "CREATE TABLE", history.Revisions[2].Operation)
}

func TestHistory_Fallbacks(t *testing.T) {
	root := t.TempDir()
	writeLog(t, root, 0,
		`{"protocol":{"minReaderVersion":1,"minWriterVersion":2}}`,
		`{"metaData":{"id":"abc","format":{"provider":"parquet","options":{}},"schemaString":"`+minimalSchema+`","partitionColumns":[],"configuration":{}}}`,
	)
	writeLog(t, root, 1,
		`{"commitInfo":{"timestamp":1735689600000,"operation":"WRITE","engineInfo":"delta-rs:0.22.0"}}`,
	)

	d := tables.Descriptor{Name: "manual", URI: root, Format: tables.FormatDelta}
	history, err := openTable(t, d).History(context.Background())
	require.NoError(t, err)
	require.Len(t, history.Revisions, 2)

	first := history.Revisions[0]
	assert.Equal(t, int64(1), first.Version)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), first.Timestamp)
	require.NotNil(t, first.ClientVersion)
	assert.Equal(t, "delta-rs:0.22.0", *first.ClientVersion)
	assert.Empty(t, first.OperationMetrics)
	assert.NotNil(t, first.OperationMetrics)

	second := history.Revisions[1]
	assert.Equal(t, int64(0), second.Version)
	assert.Nil(t, second.ClientVersion)
	assert.False(t, second.Timestamp.IsZero(), "falls back to the commit file time")
}

func TestDataset_TimeTravel(t *testing.T) {
	ctx := context.Background()
	d := deltatest.NewWeatherTable(t, nil)
	tbl := openTable(t, d)

	tests := []struct {
		name    string
		ref     tables.VersionRef
		version int64
		files   int
		rows    int64
	}{
		{"latest", tables.VersionRef{}, 2, 2, 6},
		{"version 1", tables.AtVersion(1), 1, 1, 3},
		{"version 0", tables.AtVersion(0), 0, 0, 0},
		{"far future timestamp", tables.AtTime(time.Now().Add(time.Hour)), 2, 2, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds, err := tbl.Dataset(ctx, tt.ref)
			require.NoError(t, err)
			assert.Equal(t, tt.version, ds.Version)
			assert.Len(t, ds.Files, tt.files)
			assert.Equal(t, tt.rows, countRows(t, ds))
			assert.Equal(t, []string{"time", "city", "temperature"}, ds.Schema.Names())
		})
	}

	_, err := tbl.Dataset(ctx, tables.AtVersion(42))
	require.Error(t, err)
	assert.ErrorIs(t, err, tables.ErrVersionNotFound)

	_, err = tbl.Dataset(ctx, tables.AtTime(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.ErrorIs(t, err, tables.ErrVersionNotFound)

	head, err := tbl.Metadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), head.Version, "time travel does not move the head")
}

func TestDataset_RejectsUnsupportedReaderFeature(t *testing.T) {
	root := t.TempDir()
	writeLog(t, root, 0,
		`{"protocol":{"minReaderVersion":3,"minWriterVersion":7,"readerFeatures":["deletionVectors"],"writerFeatures":["deletionVectors"]}}`,
		`{"metaData":{"id":"abc","format":{"provider":"parquet","options":{}},"schemaString":"`+minimalSchema+`","partitionColumns":[],"configuration":{}}}`,
	)

	tbl := openTable(t, tables.Descriptor{Name: "dv", URI: root, Format: tables.FormatDelta})
	_, err := tbl.Dataset(context.Background(), tables.VersionRef{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deletionVectors")

	err = tbl.ImportData(context.Background(), &tables.Batch{Schema: tables.Schema{Fields: []tables.Field{{Name: "id", Type: "long"}}}}, tables.ModeAppend)
	assert.ErrorIs(t, err, tables.ErrImport)
}

func TestDataset_MissingCommit(t *testing.T) {
	d := deltatest.NewWeatherTable(t, nil)
	require.NoError(t, os.Remove(filepath.Join(d.URI, "_delta_log", fmt.Sprintf("%020d.json", 1))))

	_, err := openTable(t, d).Dataset(context.Background(), tables.VersionRef{})
	assert.ErrorIs(t, err, tables.ErrVersionNotFound)
}

func TestImportData_Overwrite(t *testing.T) {
	ctx := context.Background()
	d := deltatest.NewWeatherTable(t, nil)
	tbl := openTable(t, d)

	batch := &tables.Batch{Schema: deltatest.WeatherSchema, Rows: deltatest.WeatherRows(9)[:1]}
	require.NoError(t, tbl.ImportData(ctx, batch, tables.ModeOverwrite))

	ds, err := tbl.Dataset(ctx, tables.VersionRef{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), ds.Version)
	assert.Len(t, ds.Files, 1)
	assert.Equal(t, int64(1), countRows(t, ds))

	history, err := tbl.History(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Overwrite", history.Revisions[0].OperationParameters["mode"])

	old, err := tbl.Dataset(ctx, tables.AtVersion(2))
	require.NoError(t, err)
	assert.Equal(t, int64(6), countRows(t, old))
}

func TestImportData_EmptyBatchCommits(t *testing.T) {
	ctx := context.Background()
	d := deltatest.NewWeatherTable(t, &deltatest.Options{Imports: 1})
	tbl := openTable(t, d)

	require.NoError(t, tbl.ImportData(ctx, &tables.Batch{Schema: deltatest.WeatherSchema}, tables.ModeAppend))

	ds, err := tbl.Dataset(ctx, tables.VersionRef{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), ds.Version)
	assert.Len(t, ds.Files, 1)
}

func TestImportData_SchemaEvolution(t *testing.T) {
	ctx := context.Background()
	d := deltatest.NewWeatherTable(t, &deltatest.Options{Imports: 1})
	tbl := openTable(t, d)

	batch := &tables.Batch{
		Schema: tables.Schema{Fields: []tables.Field{
			{Name: "city", Type: "string"},
			{Name: "humidity", Type: "long"},
			{Name: "temperature", Type: "long"},
		}},
		Rows: [][]any{{"Nice", int64(60), int64(18)}},
	}
	require.NoError(t, tbl.ImportData(ctx, batch, tables.ModeAppend))

	schema, err := tbl.Schema(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"time", "city", "temperature", "humidity"}, schema.Names())

	humidity, ok := schema.Field("humidity")
	require.True(t, ok)
	assert.True(t, humidity.Nullable)
	assert.Equal(t, "long", humidity.Type)

	temperature, ok := schema.Field("temperature")
	require.True(t, ok)
	assert.Equal(t, "double", temperature.Type, "existing columns keep their type")
}

func TestImportData_WideningConversions(t *testing.T) {
	ctx := context.Background()
	d := tables.Descriptor{Name: "t", URI: t.TempDir(), Format: tables.FormatDelta}
	tbl, err := delta.Create(ctx, d, delta.CreateOptions{Schema: tables.Schema{Fields: []tables.Field{
		{Name: "id", Type: "long", Nullable: true},
		{Name: "score", Type: "double", Nullable: true},
		{Name: "label", Type: "string", Nullable: true},
	}}}, testutil.NewTestLogger(t))
	require.NoError(t, err)

	require.NoError(t, tbl.ImportData(ctx, &tables.Batch{
		Schema: tables.Schema{Fields: []tables.Field{
			{Name: "id", Type: "string"},
			{Name: "score", Type: "long"},
			{Name: "label", Type: "double"},
		}},
		Rows: [][]any{{"42", int64(3), 1.5}, {nil, nil, nil}},
	}, tables.ModeAppend))

	ds, err := tbl.Dataset(ctx, tables.VersionRef{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), countRows(t, ds))

	schema, err := tbl.Schema(ctx)
	require.NoError(t, err)
	for name, want := range map[string]string{"id": "long", "score": "double", "label": "string"} {
		f, ok := schema.Field(name)
		require.True(t, ok)
		assert.Equal(t, want, f.Type)
	}
}

func TestImportData_Failures(t *testing.T) {
	ctx := context.Background()

	strictSchema := tables.Schema{Fields: []tables.Field{
		{Name: "id", Type: "long", Nullable: false},
		{Name: "label", Type: "string", Nullable: true},
	}}

	tests := []struct {
		name   string
		create delta.CreateOptions
		batch  *tables.Batch
		mode   tables.ImportMode
		errMsg string
	}{
		{
			name:   "cast failure",
			create: delta.CreateOptions{Schema: deltatest.WeatherSchema},
			batch: &tables.Batch{
				Schema: tables.Schema{Fields: []tables.Field{{Name: "temperature", Type: "string"}}},
				Rows:   [][]any{{"hot"}},
			},
			mode:   tables.ModeAppend,
			errMsg: "failed to convert imported values",
		},
		{
			name:   "double into long column",
			create: delta.CreateOptions{Schema: strictSchema},
			batch: &tables.Batch{
				Schema: tables.Schema{Fields: []tables.Field{{Name: "id", Type: "double"}}},
				Rows:   [][]any{{1.5}, {2.7}},
			},
			mode:   tables.ModeAppend,
			errMsg: "column id has type long and cannot be loaded from double values",
		},
		{
			name:   "fractional text into long column",
			create: delta.CreateOptions{Schema: strictSchema},
			batch: &tables.Batch{
				Schema: tables.Schema{Fields: []tables.Field{{Name: "id", Type: "string"}}},
				Rows:   [][]any{{"3"}, {"1.5"}},
			},
			mode:   tables.ModeAppend,
			errMsg: "column id holds 1 fractional values",
		},
		{
			name: "numeric text into boolean column",
			create: delta.CreateOptions{Schema: tables.Schema{Fields: []tables.Field{
				{Name: "flag", Type: "boolean", Nullable: true},
			}}},
			batch: &tables.Batch{
				Schema: tables.Schema{Fields: []tables.Field{{Name: "flag", Type: "string"}}},
				Rows:   [][]any{{"1"}},
			},
			mode:   tables.ModeAppend,
			errMsg: "column flag has type boolean and cannot be loaded from string values",
		},
		{
			name: "decimal scale narrowing",
			create: delta.CreateOptions{Schema: tables.Schema{Fields: []tables.Field{
				{Name: "amount", Type: "decimal(10,1)", Nullable: true},
			}}},
			batch: &tables.Batch{
				Schema: tables.Schema{Fields: []tables.Field{{Name: "amount", Type: "decimal(10,2)"}}},
				Rows:   [][]any{{10.25}},
			},
			mode:   tables.ModeAppend,
			errMsg: "cannot be loaded from decimal(10,2) values",
		},
		{
			name:   "null in non-nullable column",
			create: delta.CreateOptions{Schema: strictSchema},
			batch: &tables.Batch{
				Schema: tables.Schema{Fields: []tables.Field{{Name: "id", Type: "long"}}},
				Rows:   [][]any{{int64(1)}, {nil}},
			},
			mode:   tables.ModeAppend,
			errMsg: "not nullable",
		},
		{
			name:   "missing non-nullable column",
			create: delta.CreateOptions{Schema: strictSchema},
			batch: &tables.Batch{
				Schema: tables.Schema{Fields: []tables.Field{{Name: "label", Type: "string"}}},
				Rows:   [][]any{{"a"}},
			},
			mode:   tables.ModeAppend,
			errMsg: "non-nullable column id",
		},
		{
			name: "overwrite append-only table",
			create: delta.CreateOptions{
				Schema:        deltatest.WeatherSchema,
				Configuration: map[string]string{"delta.appendOnly": "true"},
			},
			batch:  &tables.Batch{Schema: deltatest.WeatherSchema, Rows: deltatest.WeatherRows(1)},
			mode:   tables.ModeOverwrite,
			errMsg: "append-only",
		},
		{
			name:   "ragged row",
			create: delta.CreateOptions{Schema: deltatest.WeatherSchema},
			batch:  &tables.Batch{Schema: deltatest.WeatherSchema, Rows: [][]any{{"x"}}},
			mode:   tables.ModeAppend,
			errMsg: "row 1 has 1 values",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := tables.Descriptor{Name: "t", URI: t.TempDir(), Format: tables.FormatDelta}
			tbl, err := delta.Create(ctx, d, tt.create, testutil.NewTestLogger(t))
			require.NoError(t, err)

			err = tbl.ImportData(ctx, tt.batch, tt.mode)
			require.Error(t, err)
			assert.ErrorIs(t, err, tables.ErrImport)
			assert.Contains(t, err.Error(), tt.errMsg)

			var importErr *tables.ImportError
			require.True(t, errors.As(err, &importErr))
			assert.Equal(t, d.URI, importErr.Table)

			meta, err := tbl.Metadata(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(0), meta.Version, "a failed import commits nothing")
		})
	}
}

func TestImportData_ConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	d := deltatest.NewWeatherTable(t, &deltatest.Options{})

	const writers = 4
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tbl, err := delta.Open(ctx, d, nil)
			if err != nil {
				errs[i] = err
				return
			}
			batch := &tables.Batch{Schema: deltatest.WeatherSchema, Rows: deltatest.WeatherRows(i + 1)}
			errs[i] = tbl.ImportData(ctx, batch, tables.ModeAppend)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, tables.ErrImport)
	}
	require.GreaterOrEqual(t, succeeded, 1)

	meta, err := openTable(t, d).Metadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(succeeded), meta.Version, "each success commits exactly one version")
}

func TestImportData_Partitioned(t *testing.T) {
	ctx := context.Background()
	d := deltatest.NewWeatherTable(t, &deltatest.Options{Imports: 1, PartitionBy: []string{"city"}})

	ds, err := openTable(t, d).Dataset(ctx, tables.VersionRef{})
	require.NoError(t, err)
	require.Len(t, ds.Files, 3)
	assert.Equal(t, []string{"city"}, ds.Partitions)

	cities := map[string]bool{}
	for _, f := range ds.Files {
		v := f.PartitionValues["city"]
		require.NotNil(t, v)
		cities[*v] = true
		assert.Contains(t, filepath.ToSlash(f.Location), "/city="+*v+"/")
		_, err := os.Stat(f.Location)
		assert.NoError(t, err)
	}
	assert.Equal(t, map[string]bool{"Grenoble": true, "Paris": true, "Lyon": true}, cities)
	assert.Equal(t, int64(3), countRows(t, ds))
}

func TestCheckpoint(t *testing.T) {
	ctx := context.Background()
	d := deltatest.NewWeatherTable(t, &deltatest.Options{
		Imports:       2,
		Configuration: map[string]string{"delta.checkpointInterval": "2"},
	})
	logDir := filepath.Join(d.URI, "_delta_log")

	_, err := os.Stat(filepath.Join(logDir, fmt.Sprintf("%020d.checkpoint.parquet", 2)))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(logDir, "_last_checkpoint"))
	require.NoError(t, err)

	for _, v := range []int64{0, 1} {
		require.NoError(t, os.Remove(filepath.Join(logDir, fmt.Sprintf("%020d.json", v))))
	}

	tbl := openTable(t, d)
	ds, err := tbl.Dataset(ctx, tables.VersionRef{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), ds.Version)
	assert.Len(t, ds.Files, 2)
	assert.Equal(t, int64(6), countRows(t, ds))

	meta, err := tbl.Metadata(ctx)
	require.NoError(t, err)
	require.NotNil(t, meta.Name)
	assert.Equal(t, deltatest.TableName, *meta.Name)

	_, err = tbl.Dataset(ctx, tables.AtVersion(1))
	assert.ErrorIs(t, err, tables.ErrVersionNotFound)

	history, err := tbl.History(ctx)
	require.NoError(t, err)
	require.Len(t, history.Revisions, 1)
	assert.Equal(t, int64(2), history.Revisions[0].Version)

	require.NoError(t, tbl.ImportData(ctx, &tables.Batch{Schema: deltatest.WeatherSchema, Rows: deltatest.WeatherRows(5)}, tables.ModeAppend))
	ds, err = tbl.Dataset(ctx, tables.VersionRef{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), ds.Version)
	assert.Equal(t, int64(9), countRows(t, ds))
}
