// Package delta implements the Delta Lake table format. The transaction log
// is read and written directly; data files are Parquet produced and scanned
// by the embedded engine.
package delta

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/leapstack-labs/laketower/internal/adapter"
	"github.com/leapstack-labs/laketower/internal/storage"
	"github.com/leapstack-labs/laketower/internal/tables"
)

// ClientVersion is recorded in the commitInfo of every commit.
var ClientVersion = "laketower-dev"

// Table is a Delta table rooted at a descriptor URI.
type Table struct {
	desc   tables.Descriptor
	store  storage.Store
	logger *slog.Logger
}

// Open returns a handle to the Delta table at d.URI. It does not read the log.
func Open(ctx context.Context, d tables.Descriptor, logger *slog.Logger) (*Table, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	store, err := storage.Open(ctx, d.URI, d.S3())
	if err != nil {
		return nil, err
	}
	return &Table{desc: d, store: store, logger: logger.With("table", d.Name)}, nil
}

// Descriptor returns the descriptor the table was opened from.
func (t *Table) Descriptor() tables.Descriptor {
	return t.desc
}

// Metadata reads metadata at the head version.
func (t *Table) Metadata(ctx context.Context) (*tables.Metadata, error) {
	snap, err := t.loadSnapshot(ctx, tables.VersionRef{})
	if err != nil {
		return nil, err
	}

	md := snap.metadata
	meta := &tables.Metadata{
		Format:        tables.FormatDelta,
		Name:          md.Name,
		Description:   md.Description,
		URI:           t.desc.URI,
		ID:            md.ID,
		Version:       snap.version,
		Partitions:    snap.partitionColumns(),
		Configuration: make(map[string]string, len(md.Configuration)),
	}
	if md.CreatedTime != nil {
		meta.CreatedAt = fromMillis(*md.CreatedTime)
	}
	for k, v := range md.Configuration {
		meta.Configuration[k] = v
	}
	return meta, nil
}

// Schema returns the head schema.
func (t *Table) Schema(ctx context.Context) (tables.Schema, error) {
	snap, err := t.loadSnapshot(ctx, tables.VersionRef{})
	if err != nil {
		return tables.Schema{}, err
	}
	return snap.schema.toTables()
}

// History lists the commitInfo of every retained commit, newest first.
func (t *Table) History(ctx context.Context) (*tables.History, error) {
	listing, err := listLog(ctx, t.store)
	if err != nil {
		return nil, fmt.Errorf("failed to list transaction log: %w", err)
	}

	versions := make([]int64, 0, len(listing.commits))
	for v := range listing.commits {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })

	history := &tables.History{Revisions: make([]tables.Revision, 0, len(versions))}
	for _, v := range versions {
		actions, err := readCommit(ctx, t.store, v)
		if err != nil {
			return nil, err
		}

		rev := tables.Revision{
			Version:             v,
			Timestamp:           listing.commits[v].ModTime.UTC(),
			OperationParameters: map[string]any{},
			OperationMetrics:    map[string]any{},
		}
		for _, a := range actions {
			ci := a.CommitInfo
			if ci == nil {
				continue
			}
			if ci.Timestamp != nil {
				rev.Timestamp = fromMillis(*ci.Timestamp)
			}
			rev.Operation = ci.Operation
			rev.ClientVersion = ci.ClientVersion
			if rev.ClientVersion == nil {
				rev.ClientVersion = ci.EngineInfo
			}
			if ci.OperationParameters != nil {
				rev.OperationParameters = ci.OperationParameters
			}
			if ci.OperationMetrics != nil {
				rev.OperationMetrics = ci.OperationMetrics
			}
			break
		}
		history.Revisions = append(history.Revisions, rev)
	}
	return history, nil
}

// Dataset binds a lazy dataset to the version ref selects.
func (t *Table) Dataset(ctx context.Context, ref tables.VersionRef) (*tables.Dataset, error) {
	snap, err := t.loadSnapshot(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := checkReader(snap.protocol, snap.metadata); err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", t.desc.URI, err)
	}

	schema, err := snap.schema.toTables()
	if err != nil {
		return nil, err
	}

	ds := &tables.Dataset{
		Format:     tables.FormatDelta,
		URI:        t.desc.URI,
		Version:    snap.version,
		Schema:     schema,
		Partitions: snap.partitionColumns(),
		Storage:    t.desc.S3(),
	}
	for _, f := range snap.activeFiles() {
		loc, err := t.location(f.Path)
		if err != nil {
			return nil, err
		}
		ds.Files = append(ds.Files, tables.DataFile{
			Location:        loc,
			PartitionValues: f.PartitionValues,
			Size:            f.Size,
		})
	}
	return ds, nil
}

// location resolves an add path, which is a URI relative to the table root
// unless it carries a scheme.
func (t *Table) location(path string) (string, error) {
	if strings.Contains(path, "://") {
		if rest, ok := strings.CutPrefix(path, "file://"); ok {
			return url.PathUnescape(rest)
		}
		return path, nil
	}
	key, err := url.PathUnescape(path)
	if err != nil {
		return "", fmt.Errorf("invalid data file path %q: %w", path, err)
	}
	return t.store.Location(key), nil
}

// openSession opens an engine session able to read the table's storage.
func (t *Table) openSession(ctx context.Context) (*adapter.DuckDBAdapter, error) {
	sess, err := adapter.OpenSession(ctx, t.logger)
	if err != nil {
		return nil, err
	}
	if storage.IsRemote(t.desc.URI) {
		secret, err := adapter.S3Secret("delta_table", t.desc.URI, t.desc.S3())
		if err == nil {
			err = sess.CreateSecret(ctx, secret)
		}
		if err != nil {
			_ = sess.Close()
			return nil, err
		}
	}
	return sess, nil
}

// openLocalSession opens an engine session for staging and local file writes.
func (t *Table) openLocalSession(ctx context.Context) (*adapter.DuckDBAdapter, error) {
	return adapter.OpenSession(ctx, t.logger)
}

// upload copies a local file into the table's store.
func (t *Table) upload(ctx context.Context, path, key string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if err := t.store.Put(ctx, key, f); err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

var _ tables.Table = (*Table)(nil)
