package tables

import (
	"context"
	"errors"
	"testing"

	"github.com/leapstack-labs/laketower/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fakeFormat TableFormat = "fake"

type fakeDriver struct {
	valid     map[string]bool
	openErr   error
	datasetOf func(Descriptor) (*Dataset, error)
}

func (d *fakeDriver) IsValid(_ context.Context, desc Descriptor) bool {
	return d.valid[desc.URI]
}

func (d *fakeDriver) Open(_ context.Context, desc Descriptor) (Table, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}
	return &fakeTable{desc: desc, driver: d}, nil
}

type fakeTable struct {
	desc   Descriptor
	driver *fakeDriver
}

func (t *fakeTable) Descriptor() Descriptor                            { return t.desc }
func (t *fakeTable) Metadata(context.Context) (*Metadata, error)       { return &Metadata{URI: t.desc.URI}, nil }
func (t *fakeTable) Schema(context.Context) (Schema, error)            { return Schema{}, nil }
func (t *fakeTable) History(context.Context) (*History, error)         { return &History{}, nil }
func (t *fakeTable) ImportData(context.Context, *Batch, ImportMode) error { return nil }
func (t *fakeTable) Dataset(_ context.Context, _ VersionRef) (*Dataset, error) {
	if t.driver.datasetOf != nil {
		return t.driver.datasetOf(t.desc)
	}
	return &Dataset{Format: fakeFormat, URI: t.desc.URI}, nil
}

func registerFake(t *testing.T, d *fakeDriver) {
	t.Helper()
	Register(fakeFormat, d)
	t.Cleanup(func() {
		registryMu.Lock()
		delete(registry, fakeFormat)
		registryMu.Unlock()
	})
}

func TestLoad(t *testing.T) {
	registerFake(t, &fakeDriver{valid: map[string]bool{"mem://ok": true}})
	ctx := context.Background()

	tbl, err := Load(ctx, Descriptor{Name: "ok", URI: "mem://ok", Format: fakeFormat})
	require.NoError(t, err)
	assert.Equal(t, "ok", tbl.Descriptor().Name)

	_, err = Load(ctx, Descriptor{Name: "bad", URI: "mem://bad", Format: fakeFormat})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTable)

	var invalid *InvalidTableError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, "mem://bad", invalid.URI)

	_, err = Load(ctx, Descriptor{Name: "x", URI: "mem://ok", Format: "iceberg"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTable)
	assert.Contains(t, err.Error(), "unsupported table format")
}

func TestLoad_OpenFailure(t *testing.T) {
	registerFake(t, &fakeDriver{valid: map[string]bool{"mem://ok": true}, openErr: errors.New("boom")})

	_, err := Load(context.Background(), Descriptor{Name: "ok", URI: "mem://ok", Format: fakeFormat})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTable)
	assert.Contains(t, err.Error(), "boom")
}

func TestLoadMany_SkipsInvalid(t *testing.T) {
	registerFake(t, &fakeDriver{
		valid: map[string]bool{"mem://a": true, "mem://b": true, "mem://broken": true},
		datasetOf: func(d Descriptor) (*Dataset, error) {
			if d.URI == "mem://broken" {
				return nil, &VersionNotFoundError{URI: d.URI}
			}
			return &Dataset{Format: fakeFormat, URI: d.URI}, nil
		},
	})

	datasets := LoadMany(context.Background(), []Descriptor{
		{Name: "a", URI: "mem://a", Format: fakeFormat},
		{Name: "missing", URI: "mem://missing", Format: fakeFormat},
		{Name: "b", URI: "mem://b", Format: fakeFormat},
		{Name: "broken", URI: "mem://broken", Format: fakeFormat},
	}, testutil.NewTestLogger(t))

	require.Len(t, datasets, 2)
	assert.Equal(t, "mem://a", datasets["a"].URI)
	assert.Equal(t, "mem://b", datasets["b"].URI)
	assert.NotContains(t, datasets, "missing")
	assert.NotContains(t, datasets, "broken")
}

func TestFormats(t *testing.T) {
	registerFake(t, &fakeDriver{})
	assert.True(t, IsRegistered(fakeFormat))
	assert.Contains(t, Formats(), fakeFormat)
	assert.False(t, IsRegistered("iceberg"))
}

func TestTableFormat_UnmarshalText(t *testing.T) {
	var f TableFormat
	require.NoError(t, f.UnmarshalText([]byte("delta")))
	assert.Equal(t, FormatDelta, f)

	require.NoError(t, f.UnmarshalText([]byte(" Delta ")))
	assert.Equal(t, FormatDelta, f)

	err := f.UnmarshalText([]byte("iceberg"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown table format")
}
