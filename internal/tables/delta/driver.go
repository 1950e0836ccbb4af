package delta

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/leapstack-labs/laketower/internal/storage"
	"github.com/leapstack-labs/laketower/internal/tables"
)

func init() {
	tables.Register(tables.FormatDelta, driver{})
}

type driver struct{}

// IsValid reports whether d.URI holds a Delta transaction log.
func (driver) IsValid(ctx context.Context, d tables.Descriptor) bool {
	store, err := storage.Open(ctx, d.URI, d.S3())
	if err != nil {
		return false
	}
	_, err = listLog(ctx, store)
	return err == nil
}

func (driver) Open(ctx context.Context, d tables.Descriptor) (tables.Table, error) {
	return Open(ctx, d, slog.Default())
}

// CreateOptions describes a new table.
type CreateOptions struct {
	Name             string
	Description      string
	Schema           tables.Schema
	PartitionColumns []string
	Configuration    map[string]string
}

// Create writes version 0 of a new table at d.URI. It fails if the location
// already has a transaction log.
func Create(ctx context.Context, d tables.Descriptor, opts CreateOptions, logger *slog.Logger) (*Table, error) {
	t, err := Open(ctx, d, logger)
	if err != nil {
		return nil, err
	}

	if _, err := listLog(ctx, t.store); err == nil {
		return nil, fmt.Errorf("a delta table already exists at %s", d.URI)
	}

	schema, err := fromTables(opts.Schema)
	if err != nil {
		return nil, err
	}
	if len(schema.Fields) == 0 {
		return nil, fmt.Errorf("table must have at least one column")
	}

	partitions := make([]string, 0, len(opts.PartitionColumns))
	for _, p := range opts.PartitionColumns {
		f, ok := schema.field(p)
		if !ok {
			return nil, fmt.Errorf("partition column %q is not in the schema", p)
		}
		partitions = append(partitions, f.Name)
	}
	if len(partitions) == len(schema.Fields) {
		return nil, fmt.Errorf("table must have at least one non-partition column")
	}

	schemaString, err := schema.schemaString()
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	md := &metaData{
		ID:               uuid.NewString(),
		Format:           fileFormat{Provider: "parquet", Options: map[string]string{}},
		SchemaString:     schemaString,
		PartitionColumns: partitions,
		Configuration:    map[string]string{},
		CreatedTime:      &now,
	}
	if opts.Name != "" {
		md.Name = &opts.Name
	}
	if opts.Description != "" {
		md.Description = &opts.Description
	}
	for k, v := range opts.Configuration {
		md.Configuration[k] = v
	}

	commit := []action{
		{CommitInfo: &commitInfo{
			Timestamp: &now,
			Operation: "CREATE TABLE",
			OperationParameters: map[string]any{
				"mode":        "ErrorIfExists",
				"partitionBy": jsonString(partitions),
				"location":    d.URI,
			},
			ClientVersion: clientVersion(),
		}},
		{Protocol: &protocol{MinReaderVersion: 1, MinWriterVersion: 2}},
		{MetaData: md},
	}
	data, err := encodeActions(commit)
	if err != nil {
		return nil, err
	}
	if err := t.store.PutIfAbsent(ctx, commitKey(0), data); err != nil {
		return nil, fmt.Errorf("failed to create table at %s: %w", d.URI, err)
	}

	t.logger.Info("table created", "uri", d.URI, "columns", len(schema.Fields), "partitions", partitions)
	return t, nil
}
