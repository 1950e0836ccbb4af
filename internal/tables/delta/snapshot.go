package delta

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/leapstack-labs/laketower/internal/storage"
	"github.com/leapstack-labs/laketower/internal/tables"
)

// snapshot is the table state reconstructed at one version.
type snapshot struct {
	version  int64
	protocol *protocol
	metadata *metaData
	schema   *structType
	files    map[string]*addAction
}

func (s *snapshot) apply(actions []action) {
	for _, a := range actions {
		switch {
		case a.Protocol != nil:
			s.protocol = a.Protocol
		case a.MetaData != nil:
			s.metadata = a.MetaData
		case a.Add != nil:
			s.files[a.Add.Path] = a.Add
		case a.Remove != nil:
			delete(s.files, a.Remove.Path)
		}
	}
}

// activeFiles returns the live data files sorted by path.
func (s *snapshot) activeFiles() []*addAction {
	files := make([]*addAction, 0, len(s.files))
	for _, f := range s.files {
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files
}

func (s *snapshot) partitionColumns() []string {
	return slices.Clone(s.metadata.PartitionColumns)
}

func (s *snapshot) configuration(key string) string {
	return s.metadata.Configuration[key]
}

// loadSnapshot reconstructs the table at ref.
func (t *Table) loadSnapshot(ctx context.Context, ref tables.VersionRef) (*snapshot, error) {
	listing, err := listLog(ctx, t.store)
	if err != nil {
		if isNotExist(err) {
			return nil, t.versionNotFound(ref, "transaction log is empty")
		}
		return nil, fmt.Errorf("failed to list transaction log: %w", err)
	}

	target, err := t.resolveVersion(ctx, listing, ref)
	if err != nil {
		return nil, err
	}
	return t.replay(ctx, listing, target, ref)
}

func (t *Table) resolveVersion(ctx context.Context, listing *logListing, ref tables.VersionRef) (int64, error) {
	head := listing.head()
	switch {
	case ref.Version != nil:
		if *ref.Version < 0 || *ref.Version > head {
			return 0, t.versionNotFound(ref, fmt.Sprintf("latest version is %d", head))
		}
		return *ref.Version, nil
	case ref.Timestamp != nil:
		versions := make([]int64, 0, len(listing.commits))
		for v := range listing.commits {
			versions = append(versions, v)
		}
		sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })

		for _, v := range versions {
			ts, err := t.commitTimestamp(ctx, v, listing.commits[v])
			if err != nil {
				return 0, err
			}
			if !ts.After(*ref.Timestamp) {
				return v, nil
			}
		}
		return 0, t.versionNotFound(ref, "no commit at or before the requested time")
	default:
		return head, nil
	}
}

// commitTimestamp returns the commitInfo timestamp of a commit, falling back
// to the modification time of the commit file.
func (t *Table) commitTimestamp(ctx context.Context, version int64, obj storage.ObjectInfo) (time.Time, error) {
	actions, err := readCommit(ctx, t.store, version)
	if err != nil {
		return time.Time{}, err
	}
	for _, a := range actions {
		if a.CommitInfo != nil && a.CommitInfo.Timestamp != nil {
			return fromMillis(*a.CommitInfo.Timestamp), nil
		}
	}
	return obj.ModTime.UTC(), nil
}

func (t *Table) replay(ctx context.Context, listing *logListing, target int64, ref tables.VersionRef) (*snapshot, error) {
	snap := &snapshot{version: target, files: make(map[string]*addAction)}

	start := int64(0)
	if cp, ok := listing.checkpointAtOrBefore(target); ok {
		actions, err := t.readCheckpoint(ctx, listing.checkpoints[cp])
		switch {
		case err == nil:
			snap.apply(actions)
			start = cp + 1
		case hasCommitZero(listing):
			t.logger.Warn("failed to read checkpoint, replaying full log", "uri", t.desc.URI, "checkpoint", cp, "error", err)
		default:
			return nil, fmt.Errorf("failed to read checkpoint %d: %w", cp, err)
		}
	}

	for v := start; v <= target; v++ {
		if _, ok := listing.commits[v]; !ok {
			return nil, t.versionNotFound(ref, fmt.Sprintf("commit %d is missing from the transaction log", v))
		}
		actions, err := readCommit(ctx, t.store, v)
		if err != nil {
			return nil, err
		}
		snap.apply(actions)
	}

	if snap.protocol == nil || snap.metadata == nil {
		return nil, fmt.Errorf("transaction log of %s has no protocol or metadata at version %d", t.desc.URI, target)
	}
	schema, err := parseSchemaString(snap.metadata.SchemaString)
	if err != nil {
		return nil, err
	}
	snap.schema = schema
	return snap, nil
}

func hasCommitZero(listing *logListing) bool {
	_, ok := listing.commits[0]
	return ok
}

func (t *Table) versionNotFound(ref tables.VersionRef, reason string) error {
	return &tables.VersionNotFoundError{
		URI:       t.desc.URI,
		Version:   ref.Version,
		Timestamp: ref.Timestamp,
		Reason:    reason,
	}
}

var supportedReaderFeatures = map[string]bool{
	"timestampNtz":        true,
	"vacuumProtocolCheck": true,
}

var supportedWriterFeatures = map[string]bool{
	"appendOnly":          true,
	"timestampNtz":        true,
	"vacuumProtocolCheck": true,
}

// checkReader rejects tables whose read protocol needs features the data file
// scan does not implement, such as deletion vectors or column mapping.
func checkReader(p *protocol, md *metaData) error {
	switch {
	case p.MinReaderVersion <= 1:
		return nil
	case p.MinReaderVersion == 2:
		if mode := md.Configuration["delta.columnMapping.mode"]; mode != "" && mode != "none" {
			return fmt.Errorf("reader feature columnMapping is not supported")
		}
		return nil
	case p.MinReaderVersion == 3:
		for _, f := range p.ReaderFeatures {
			if !supportedReaderFeatures[f] {
				return fmt.Errorf("reader feature %s is not supported", f)
			}
		}
		return nil
	default:
		return fmt.Errorf("reader protocol version %d is not supported", p.MinReaderVersion)
	}
}

func checkWriter(p *protocol) error {
	switch {
	case p.MinWriterVersion <= 2:
		return nil
	case p.MinWriterVersion == 7:
		for _, f := range p.WriterFeatures {
			if !supportedWriterFeatures[f] {
				return fmt.Errorf("writer feature %s is not supported", f)
			}
		}
		return nil
	default:
		return fmt.Errorf("writer protocol version %d is not supported", p.MinWriterVersion)
	}
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
