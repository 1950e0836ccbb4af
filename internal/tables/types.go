// Package tables defines the format independent table surface: descriptors,
// metadata, history, schema, lazy datasets and the format registry.
package tables

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/leapstack-labs/laketower/internal/storage"
)

// TableFormat names an on-storage table format.
type TableFormat string

// Supported table formats.
const (
	FormatDelta TableFormat = "delta"
)

// UnmarshalText rejects unknown format tags.
func (f *TableFormat) UnmarshalText(text []byte) error {
	v := TableFormat(strings.ToLower(strings.TrimSpace(string(text))))
	switch v {
	case FormatDelta:
		*f = v
		return nil
	default:
		return fmt.Errorf("unknown table format %q (supported: %s)", string(text), FormatDelta)
	}
}

// String returns the format tag.
func (f TableFormat) String() string {
	return string(f)
}

// Connection holds storage options for a table.
type Connection struct {
	S3 *storage.S3Config
}

// Descriptor identifies a configured table. It is an immutable value.
type Descriptor struct {
	Name       string
	URI        string
	Format     TableFormat
	Connection *Connection
}

// S3 returns the S3 options of the descriptor, or nil.
func (d Descriptor) S3() *storage.S3Config {
	if d.Connection == nil {
		return nil
	}
	return d.Connection.S3
}

// Metadata describes a table at its current version.
type Metadata struct {
	Format        TableFormat
	Name          *string
	Description   *string
	URI           string
	ID            string
	Version       int64
	CreatedAt     time.Time
	Partitions    []string
	Configuration map[string]string
}

// Revision is one committed version of a table.
type Revision struct {
	Version             int64
	Timestamp           time.Time
	ClientVersion       *string
	Operation           string
	OperationParameters map[string]any
	OperationMetrics    map[string]any
}

// History lists revisions newest first.
type History struct {
	Revisions []Revision
}

// Field is one column of a table schema. Type uses the format's type names,
// for Delta: long, double, string, timestamp, decimal(10,2), array<long>.
type Field struct {
	Name     string
	Type     string
	Nullable bool

	// EngineType is the DuckDB type the column is scanned as.
	EngineType string
}

// Schema is an ordered list of fields.
type Schema struct {
	Fields []Field
}

// Names returns field names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Field returns the field with the given name, compared case-insensitively.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return Field{}, false
}

// DataFile is one data file of a dataset.
type DataFile struct {
	// Location is the engine readable address of the file.
	Location string
	// PartitionValues maps partition columns to their string encoded value; nil means NULL.
	PartitionValues map[string]*string
	Size            int64
}

// Dataset is a lazy, scan-ready handle bound to one table version.
// It holds references to data files and does not read any rows.
type Dataset struct {
	Format     TableFormat
	URI        string
	Version    int64
	Schema     Schema
	Partitions []string
	Files      []DataFile
	Storage    *storage.S3Config
}

// ImportMode selects how imported rows combine with existing data.
type ImportMode string

// Import modes.
const (
	ModeAppend    ImportMode = "append"
	ModeOverwrite ImportMode = "overwrite"
)

// ParseImportMode validates an import mode tag.
func ParseImportMode(s string) (ImportMode, error) {
	switch m := ImportMode(strings.ToLower(s)); m {
	case ModeAppend, ModeOverwrite:
		return m, nil
	case "":
		return ModeAppend, nil
	default:
		return "", fmt.Errorf("unknown import mode %q (expected append or overwrite)", s)
	}
}

// Batch is an in-memory, row oriented table. Cell values are nil, int64,
// float64, bool, string or time.Time.
type Batch struct {
	Schema Schema
	Rows   [][]any
}

// Table is the capability surface every format exposes.
type Table interface {
	// Descriptor returns the descriptor the table was opened from.
	Descriptor() Descriptor

	// Metadata reads the current table metadata.
	Metadata(ctx context.Context) (*Metadata, error)

	// Schema returns the current schema.
	Schema(ctx context.Context) (Schema, error)

	// History lists all retained revisions, newest first.
	History(ctx context.Context) (*History, error)

	// Dataset binds a lazy dataset to the requested version.
	Dataset(ctx context.Context, ref VersionRef) (*Dataset, error)

	// ImportData commits batch as a new table version.
	ImportData(ctx context.Context, batch *Batch, mode ImportMode) error
}
