package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/laketower/internal/query"
	"github.com/leapstack-labs/laketower/internal/tables"
	"github.com/leapstack-labs/laketower/internal/tables/delta/deltatest"
	"github.com/leapstack-labs/laketower/internal/testutil"
)

func TestReadCSV_Inference(t *testing.T) {
	input := "id,score,flag,label,empty\n" +
		"1,1.5,true,a,\n" +
		"2,,FALSE,,\n" +
		"-3,2e3,true,c,\n"

	batch, err := ReadCSV(strings.NewReader(input), Options{})
	require.NoError(t, err)

	assert.Equal(t, []tables.Field{
		{Name: "id", Type: "long", Nullable: true},
		{Name: "score", Type: "double", Nullable: true},
		{Name: "flag", Type: "boolean", Nullable: true},
		{Name: "label", Type: "string", Nullable: true},
		{Name: "empty", Type: "string", Nullable: true},
	}, batch.Schema.Fields)

	assert.Equal(t, [][]any{
		{int64(1), 1.5, true, "a", nil},
		{int64(2), nil, false, nil, nil},
		{int64(-3), 2000.0, true, "c", nil},
	}, batch.Rows)
}

func TestInferType(t *testing.T) {
	tests := []struct {
		values []string
		want   string
	}{
		{[]string{"1", "22", "-7"}, "long"},
		{[]string{"1", "2.5"}, "double"},
		{[]string{".5", "1e-3"}, "double"},
		{[]string{"NaN", "1.0"}, "string"},
		{[]string{"inf"}, "string"},
		{[]string{"true", "False"}, "boolean"},
		{[]string{"1", "true"}, "string"},
		{[]string{"2025-01-01"}, "string"},
		{[]string{"", ""}, "string"},
		{[]string{"99999999999999999999"}, "double"},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.values, "|"), func(t *testing.T) {
			records := make([][]string, len(tt.values))
			for i, v := range tt.values {
				records[i] = []string{v}
			}
			assert.Equal(t, tt.want, inferType(records, 0))
		})
	}
}

func TestReadCSV_Options(t *testing.T) {
	tests := []struct {
		name  string
		input string
		opts  Options
		want  [][]any
	}{
		{
			name:  "utf-8 bom is stripped",
			input: "\xef\xbb\xbfcity,n\nParis,1\n",
			want:  [][]any{{"Paris", int64(1)}},
		},
		{
			name:  "semicolon delimiter",
			input: "city;n\nParis;1\n",
			opts:  Options{Delimiter: ';'},
			want:  [][]any{{"Paris", int64(1)}},
		},
		{
			name:  "tab delimiter with quoted field",
			input: "city\tn\n\"Saint\tEtienne\"\t2\n",
			opts:  Options{Delimiter: '\t'},
			want:  [][]any{{"Saint\tEtienne", int64(2)}},
		},
		{
			name:  "latin-1",
			input: "city,n\nOrl\xe9ans,3\n",
			opts:  Options{Encoding: "latin1"},
			want:  [][]any{{"Orléans", int64(3)}},
		},
		{
			name:  "header only",
			input: "city,n\n",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch, err := ReadCSV(strings.NewReader(tt.input), tt.opts)
			require.NoError(t, err)
			assert.Equal(t, []string{"city", "n"}, batch.Schema.Names())
			if tt.want == nil {
				assert.Empty(t, batch.Rows)
				return
			}
			assert.Equal(t, tt.want, batch.Rows)
		})
	}
}

func TestReadCSV_ParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		line  int
		msg   string
	}{
		{"empty file", "", 1, "missing header row"},
		{"duplicate header", "a,b,A\n1,2,3\n", 1, "duplicate column name"},
		{"empty header name", "a,,c\n1,2,3\n", 1, "empty name"},
		{"ragged row", "a,b\n1,2\n3\n", 3, "wrong number of fields"},
		{"bare quote", "a,b\n1,x\"y\n", 2, "bare"},
		{"invalid utf-8 row", "name\n\xff\xfeabc\n", 2, "field 1 is not valid utf-8 text"},
		{"invalid utf-8 header", "id,na\xc3me\n1,x\n", 1, "field 2 is not valid utf-8 text"},
		{"invalid utf-8 on a later line", "name,n\nok,1\nb\xe9d,2\n", 3, "not valid utf-8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tt.input), Options{})
			require.Error(t, err)
			assert.ErrorIs(t, err, tables.ErrParse)

			var pe *tables.ParseError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.line, pe.Line)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestReadCSV_UnknownEncoding(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("a\n1\n"), Options{Encoding: "no-such-enc"})
	require.Error(t, err)
	assert.ErrorIs(t, err, tables.ErrParse)
	assert.Equal(t, tables.KindParse, tables.Kind(err))
	assert.ErrorContains(t, err, `unknown encoding "no-such-enc"`)
}

func TestReadCSV_AcceptsNonASCII(t *testing.T) {
	batch, err := ReadCSV(strings.NewReader("city\nSaint-Étienne\n"), Options{})
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"Saint-Étienne"}}, batch.Rows)
}

func TestReadCSV_InvalidOptions(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("a\n1\n"), Options{Delimiter: '"'})
	assert.ErrorContains(t, err, "invalid delimiter")

	_, err = ReadCSV(strings.NewReader("a\n1\n"), Options{Format: "parquet"})
	assert.ErrorContains(t, err, "unsupported file format")
}

func TestParseFileFormat(t *testing.T) {
	f, err := ParseFileFormat("CSV")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	_, err = ParseFileFormat("xlsx")
	assert.Error(t, err)
}

func countRows(t *testing.T, d tables.Descriptor) int64 {
	t.Helper()
	ctx := context.Background()
	datasets := tables.LoadMany(ctx, []tables.Descriptor{d}, testutil.NewTestLogger(t))
	require.Contains(t, datasets, d.Name)

	res, err := query.NewExecutor(nil).Execute(ctx, datasets, `SELECT count(*) FROM "`+d.Name+`"`)
	require.NoError(t, err)
	return res.Rows[0][0].(int64)
}

func TestImportFile(t *testing.T) {
	ctx := context.Background()
	d := deltatest.NewWeatherTable(t, &deltatest.Options{Imports: 1})
	im := NewImporter(testutil.NewTestLogger(t))

	csvData := "time,city,temperature\n" +
		"2025-01-03 00:00:00,Nice,12.5\n" +
		"2025-01-03 01:00:00,Nantes,\n"

	n, err := im.ImportFile(ctx, d, strings.NewReader(csvData), Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(5), countRows(t, d))

	n, err = im.ImportFile(ctx, d, strings.NewReader(csvData), Options{Mode: tables.ModeOverwrite})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(2), countRows(t, d))

	tbl, err := tables.Load(ctx, d)
	require.NoError(t, err)
	history, err := tbl.History(ctx)
	require.NoError(t, err)
	require.Len(t, history.Revisions, 4)
	assert.Equal(t, "Overwrite", history.Revisions[0].OperationParameters["mode"])
	assert.Equal(t, "Append", history.Revisions[1].OperationParameters["mode"])
}

func TestImportFile_Failures(t *testing.T) {
	ctx := context.Background()
	im := NewImporter(nil)

	t.Run("invalid table", func(t *testing.T) {
		d := tables.Descriptor{Name: "nope", URI: t.TempDir(), Format: tables.FormatDelta}
		_, err := im.ImportFile(ctx, d, strings.NewReader("a\n1\n"), Options{})
		assert.ErrorIs(t, err, tables.ErrInvalidTable)
	})

	t.Run("parse error leaves table untouched", func(t *testing.T) {
		d := deltatest.NewWeatherTable(t, &deltatest.Options{Imports: 1})
		_, err := im.ImportFile(ctx, d, strings.NewReader("city,city\nx,y\n"), Options{})
		assert.ErrorIs(t, err, tables.ErrParse)
		assert.Equal(t, int64(3), countRows(t, d))
	})

	t.Run("cast failure", func(t *testing.T) {
		d := deltatest.NewWeatherTable(t, &deltatest.Options{Imports: 1})
		_, err := im.ImportFile(ctx, d, strings.NewReader("city,temperature\nNice,hot\n"), Options{})
		assert.ErrorIs(t, err, tables.ErrImport)
		assert.Equal(t, int64(3), countRows(t, d))
	})
}
