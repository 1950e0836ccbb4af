package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/laketower/internal/tables"
	"github.com/leapstack-labs/laketower/internal/tables/delta/deltatest"
)

const sampleConfig = `
tables:
  - name: weather
    uri: data/weather
    format: delta
  - name: remote
    uri: s3://bucket/events
    format: Delta
    connection:
      s3:
        s3_access_key_id: ${TEST_LAKETOWER_KEY}
        s3_secret_access_key: secret
        s3_region: eu-west-3
        s3_endpoint_url: http://localhost:9000
        s3_allow_http: true
queries:
  - name: daily
    title: Daily average
    sql: SELECT avg(temperature) FROM weather
web:
  port: 9000
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "laketower.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfig(t *testing.T) {
	ResetConfig()
	t.Setenv("TEST_LAKETOWER_KEY", "AKIA123")
	path := writeConfig(t, sampleConfig)

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)

	require.Len(t, cfg.Tables, 2)
	assert.Equal(t, "weather", cfg.Tables[0].Name)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "data", "weather"), cfg.Tables[0].URI)
	assert.Equal(t, tables.FormatDelta, cfg.Tables[0].Format)

	remote := cfg.Tables[1]
	assert.Equal(t, "s3://bucket/events", remote.URI)
	assert.Equal(t, tables.FormatDelta, remote.Format)
	require.NotNil(t, remote.Connection)
	assert.Equal(t, "AKIA123", remote.Connection.S3.AccessKeyID)
	assert.True(t, remote.Connection.S3.AllowHTTP)

	d := remote.Descriptor()
	require.NotNil(t, d.S3())
	assert.Equal(t, "eu-west-3", d.S3().Region)
	assert.Equal(t, "http://localhost:9000", d.S3().EndpointURL)

	q, ok := cfg.Query("daily")
	require.True(t, ok)
	assert.Equal(t, "Daily average", q.DisplayTitle())

	assert.Equal(t, 9000, cfg.Web.Port)
	assert.Equal(t, DefaultWebHost, cfg.Web.Host)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, DefaultOutput, cfg.OutputFormat)
	assert.Equal(t, path, GetConfigFileUsed())
	assert.Same(t, cfg, GetCurrentConfig())
}

func TestLoadConfig_Precedence(t *testing.T) {
	ResetConfig()
	path := writeConfig(t, "log_level: info\noutput: csv\ntables: []\n")

	t.Setenv("LAKETOWER_OUTPUT", "json")
	t.Setenv("LAKETOWER_WEB_PORT", "8123")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log-level", "", "")
	flags.String("output", "", "")
	flags.String("unrelated", "", "")
	require.NoError(t, flags.Parse([]string{"--log-level", "debug", "--unrelated", "x"}))

	cfg, err := LoadConfig(path, flags)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.OutputFormat)
	assert.Equal(t, 8123, cfg.Web.Port)
}

func TestLoadConfig_EnvPath(t *testing.T) {
	ResetConfig()
	path := writeConfig(t, "tables:\n  - name: a\n    uri: /tmp/a\n    format: delta\n")
	t.Setenv(EnvConfigPath, path)

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, cfg.TableNames())
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{"unknown format", "tables:\n  - name: a\n    uri: /a\n    format: iceberg\n", "unknown table format"},
		{"malformed yaml", "tables: [\n", "error reading config file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ResetConfig()
			_, err := LoadConfig(writeConfig(t, tt.content), nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	t.Run("missing explicit file", func(t *testing.T) {
		ResetConfig()
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml"), nil)
		assert.ErrorContains(t, err, "config file not found")
	})
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_BUCKET", "lake")

	assert.Equal(t, "s3://lake/x", expandEnvVars("s3://${TEST_BUCKET}/x"))
	assert.Equal(t, "${TEST_UNSET_VAR}", expandEnvVars("${TEST_UNSET_VAR}"))
	assert.Equal(t, "plain", expandEnvVars("plain"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr []string
	}{
		{
			name: "valid",
			cfg: Config{
				Tables:  []TableConfig{{Name: "a", URI: "/a", Format: tables.FormatDelta}},
				Queries: []QueryConfig{{Name: "q", SQL: "SELECT 1"}},
			},
		},
		{
			name: "table problems",
			cfg: Config{Tables: []TableConfig{
				{Name: "a", URI: "/a", Format: tables.FormatDelta},
				{Name: "a", URI: "", Format: tables.FormatDelta},
				{Name: "", URI: "/c"},
			}},
			wantErr: []string{"duplicate table name", "uri is required", "name is required", "format is required"},
		},
		{
			name:    "query problems",
			cfg:     Config{Queries: []QueryConfig{{Name: "q", SQL: " "}, {Name: "q", SQL: "SELECT 1"}}},
			wantErr: []string{"sql is required", "duplicate query name"},
		},
		{
			name:    "output and port",
			cfg:     Config{OutputFormat: "xml", Web: WebConfig{Port: 70000}},
			wantErr: []string{"invalid output format", "invalid web port"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if len(tt.wantErr) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, msg := range tt.wantErr {
				assert.Contains(t, err.Error(), msg)
			}
		})
	}
}

func TestValidateTables(t *testing.T) {
	d := deltatest.NewWeatherTable(t, nil)
	cfg := &Config{Tables: []TableConfig{
		{Name: d.Name, URI: d.URI, Format: tables.FormatDelta},
		{Name: "missing", URI: filepath.Join(t.TempDir(), "missing"), Format: tables.FormatDelta},
	}}

	statuses := cfg.ValidateTables(context.Background())
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].Valid())
	assert.False(t, statuses[1].Valid())
	assert.ErrorIs(t, statuses[1].Err, tables.ErrInvalidTable)
}

func TestRedacted(t *testing.T) {
	cfg := &Config{Tables: []TableConfig{{
		Name:       "a",
		Connection: &ConnectionConfig{S3: &S3Config{AccessKeyID: "id", SecretAccessKey: "secret"}},
	}}}

	red := cfg.Redacted()
	assert.Equal(t, "********", red.Tables[0].Connection.S3.SecretAccessKey)
	assert.Equal(t, "id", red.Tables[0].Connection.S3.AccessKeyID)
	assert.Equal(t, "secret", cfg.Tables[0].Connection.S3.SecretAccessKey)
}

func TestFromContext(t *testing.T) {
	ResetConfig()
	cfg := FromContext(context.Background())
	assert.Equal(t, DefaultOutput, cfg.OutputFormat)

	want := &Config{OutputFormat: "csv"}
	assert.Same(t, want, FromContext(WithConfig(context.Background(), want)))
	assert.NotNil(t, GetLogger(context.Background()))
}

func TestLoadTable(t *testing.T) {
	d := deltatest.NewWeatherTable(t, nil)
	cfg := &Config{
		Tables:  []TableConfig{{Name: d.Name, URI: d.URI, Format: tables.FormatDelta}},
		Queries: []QueryConfig{{Name: "q", SQL: "SELECT 1"}},
	}
	ctx := context.Background()

	tbl, err := cfg.LoadTable(ctx, d.Name)
	require.NoError(t, err)
	assert.Equal(t, d.URI, tbl.Descriptor().URI)

	_, err = cfg.LoadTable(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownTable)

	_, err = cfg.LookupQuery("nope")
	assert.ErrorIs(t, err, ErrUnknownQuery)

	datasets := cfg.Datasets(ctx, nil)
	assert.Contains(t, datasets, d.Name)
}
