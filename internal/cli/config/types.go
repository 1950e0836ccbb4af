// Package config provides configuration management for the Laketower CLI.
//
// A configuration file lists the tables to expose and a set of named
// queries over them. Values are layered with koanf: built-in defaults, the
// YAML file, LAKETOWER_ environment variables and finally command line flags.
package config

import (
	"github.com/leapstack-labs/laketower/internal/storage"
	"github.com/leapstack-labs/laketower/internal/tables"
)

// S3Config holds the S3 connection options of a table.
type S3Config struct {
	AccessKeyID     string `koanf:"s3_access_key_id" yaml:"s3_access_key_id,omitempty"`
	SecretAccessKey string `koanf:"s3_secret_access_key" yaml:"s3_secret_access_key,omitempty"`
	Region          string `koanf:"s3_region" yaml:"s3_region,omitempty"`
	EndpointURL     string `koanf:"s3_endpoint_url" yaml:"s3_endpoint_url,omitempty"`
	AllowHTTP       bool   `koanf:"s3_allow_http" yaml:"s3_allow_http,omitempty"`
}

// ConnectionConfig holds the storage connection of a table.
type ConnectionConfig struct {
	S3 *S3Config `koanf:"s3" yaml:"s3,omitempty"`
}

// TableConfig declares one table.
type TableConfig struct {
	Name       string             `koanf:"name" yaml:"name"`
	URI        string             `koanf:"uri" yaml:"uri"`
	Format     tables.TableFormat `koanf:"format" yaml:"format"`
	Connection *ConnectionConfig  `koanf:"connection" yaml:"connection,omitempty"`
}

// Descriptor returns the table descriptor used by the table registry.
func (t TableConfig) Descriptor() tables.Descriptor {
	d := tables.Descriptor{Name: t.Name, URI: t.URI, Format: t.Format}
	if t.Connection != nil && t.Connection.S3 != nil {
		s3 := t.Connection.S3
		d.Connection = &tables.Connection{S3: &storage.S3Config{
			AccessKeyID:     s3.AccessKeyID,
			SecretAccessKey: s3.SecretAccessKey,
			Region:          s3.Region,
			EndpointURL:     s3.EndpointURL,
			AllowHTTP:       s3.AllowHTTP,
		}}
	}
	return d
}

// QueryConfig declares a named query.
type QueryConfig struct {
	Name  string `koanf:"name" yaml:"name"`
	Title string `koanf:"title" yaml:"title,omitempty"`
	SQL   string `koanf:"sql" yaml:"sql"`
}

// DisplayTitle returns the title, or the name when no title is set.
func (q QueryConfig) DisplayTitle() string {
	if q.Title != "" {
		return q.Title
	}
	return q.Name
}

// WebConfig holds configuration for the web server.
type WebConfig struct {
	Host  string `koanf:"host" yaml:"host"`
	Port  int    `koanf:"port" yaml:"port"`
	Watch bool   `koanf:"watch" yaml:"watch"`
}

// Config holds all CLI configuration options.
type Config struct {
	Tables       []TableConfig `koanf:"tables" yaml:"tables"`
	Queries      []QueryConfig `koanf:"queries" yaml:"queries,omitempty"`
	Web          WebConfig     `koanf:"web" yaml:"web"`
	LogLevel     string        `koanf:"log_level" yaml:"log_level"`
	OutputFormat string        `koanf:"output" yaml:"output"`
}

// Default configuration values.
const (
	DefaultConfigFile = "laketower.yml"
	DefaultLogLevel   = "warn"
	DefaultOutput     = "table"
	DefaultWebHost    = "127.0.0.1"
	DefaultWebPort    = 8000

	// EnvPrefix prefixes environment overrides, e.g. LAKETOWER_LOG_LEVEL.
	EnvPrefix = "LAKETOWER_"

	// EnvConfigPath names the environment variable holding the config path.
	EnvConfigPath = EnvPrefix + "CONFIG_PATH"
)

// OutputFormats lists the accepted values of the output option.
var OutputFormats = []string{"table", "json", "csv", "markdown"}

// Table returns the table declared under name.
func (c *Config) Table(name string) (TableConfig, bool) {
	for _, t := range c.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableConfig{}, false
}

// Query returns the query declared under name.
func (c *Config) Query(name string) (QueryConfig, bool) {
	for _, q := range c.Queries {
		if q.Name == name {
			return q, true
		}
	}
	return QueryConfig{}, false
}

// Descriptors returns the descriptors of all declared tables in file order.
func (c *Config) Descriptors() []tables.Descriptor {
	out := make([]tables.Descriptor, len(c.Tables))
	for i, t := range c.Tables {
		out[i] = t.Descriptor()
	}
	return out
}

// TableNames returns the declared table names in file order.
func (c *Config) TableNames() []string {
	names := make([]string, len(c.Tables))
	for i, t := range c.Tables {
		names[i] = t.Name
	}
	return names
}

// Redacted returns a copy of c with S3 secrets masked.
func (c *Config) Redacted() *Config {
	out := *c
	out.Tables = make([]TableConfig, len(c.Tables))
	for i, t := range c.Tables {
		if t.Connection != nil && t.Connection.S3 != nil {
			s3 := *t.Connection.S3
			if s3.SecretAccessKey != "" {
				s3.SecretAccessKey = "********"
			}
			t.Connection = &ConnectionConfig{S3: &s3}
		}
		out.Tables[i] = t
	}
	return &out
}
