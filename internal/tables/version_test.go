package tables

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersionRef(t *testing.T) {
	ts := time.Date(2025, 2, 1, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		in      string
		want    VersionRef
		wantErr bool
	}{
		{in: "", want: VersionRef{}},
		{in: "latest", want: VersionRef{}},
		{in: "0", want: AtVersion(0)},
		{in: "42", want: AtVersion(42)},
		{in: "2025-02-01T10:30:00Z", want: AtTime(ts)},
		{in: "2025-02-01T12:30:00+02:00", want: AtTime(ts)},
		{in: "2025-02-01 10:30:00", want: AtTime(ts)},
		{in: "-1", wantErr: true},
		{in: "yesterday", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseVersionRef(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.String(), got.String())
			assert.Equal(t, tt.want.IsLatest(), got.IsLatest())
		})
	}
}

func TestParseImportMode(t *testing.T) {
	m, err := ParseImportMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeAppend, m)

	m, err = ParseImportMode("Overwrite")
	require.NoError(t, err)
	assert.Equal(t, ModeOverwrite, m)

	_, err = ParseImportMode("upsert")
	assert.Error(t, err)
}

func TestErrors(t *testing.T) {
	v := int64(7)
	tests := []struct {
		name     string
		err      error
		sentinel error
		kind     string
		msg      string
	}{
		{
			name:     "invalid table",
			err:      &InvalidTableError{Name: "weather", URI: "/data/weather", Format: FormatDelta, Reason: "not a valid delta table"},
			sentinel: ErrInvalidTable,
			kind:     KindInvalidTable,
			msg:      `invalid table "weather" (delta /data/weather): not a valid delta table`,
		},
		{
			name:     "version not found",
			err:      &VersionNotFoundError{URI: "/data/weather", Version: &v},
			sentinel: ErrVersionNotFound,
			kind:     KindVersionNotFound,
			msg:      "version 7 not found for table /data/weather",
		},
		{
			name:     "query",
			err:      &QueryError{Message: "Catalog Error: Table with name nope does not exist!"},
			sentinel: ErrQuery,
			kind:     KindQuery,
			msg:      "Catalog Error: Table with name nope does not exist!",
		},
		{
			name:     "import",
			err:      &ImportError{Table: "/data/weather", Err: errors.New("conflict")},
			sentinel: ErrImport,
			kind:     KindImport,
			msg:      "failed to import into /data/weather: conflict",
		},
		{
			name:     "parse",
			err:      &ParseError{Line: 3, Err: errors.New("wrong number of fields")},
			sentinel: ErrParse,
			kind:     KindParse,
			msg:      "parse error on line 3: wrong number of fields",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.sentinel)
			assert.Equal(t, tt.msg, tt.err.Error())
			assert.Equal(t, tt.kind, Kind(wrapped))
		})
	}
}

func TestKind_Unclassified(t *testing.T) {
	assert.Empty(t, Kind(nil))
	assert.Empty(t, Kind(errors.New("boom")))

	nested := &ImportError{Table: "/data/weather", Err: &ParseError{Line: 2, Err: errors.New("bad")}}
	assert.Equal(t, KindParse, Kind(nested))
}
