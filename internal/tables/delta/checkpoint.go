package delta

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/leapstack-labs/laketower/internal/adapter"
)

// DefaultCheckpointInterval is used when delta.checkpointInterval is unset.
const DefaultCheckpointInterval = 10

// checkpointColumns types the actions of a checkpoint file for read_json.
const checkpointColumns = `{` +
	`'protocol': 'STRUCT("minReaderVersion" INTEGER, "minWriterVersion" INTEGER, "readerFeatures" VARCHAR[], "writerFeatures" VARCHAR[])', ` +
	`'metaData': 'STRUCT("id" VARCHAR, "name" VARCHAR, "description" VARCHAR, "format" STRUCT("provider" VARCHAR, "options" MAP(VARCHAR, VARCHAR)), "schemaString" VARCHAR, "partitionColumns" VARCHAR[], "configuration" MAP(VARCHAR, VARCHAR), "createdTime" BIGINT)', ` +
	`'add': 'STRUCT("path" VARCHAR, "partitionValues" MAP(VARCHAR, VARCHAR), "size" BIGINT, "modificationTime" BIGINT, "dataChange" BOOLEAN, "stats" VARCHAR)', ` +
	`'remove': 'STRUCT("path" VARCHAR, "deletionTimestamp" BIGINT, "dataChange" BOOLEAN, "extendedFileMetadata" BOOLEAN, "partitionValues" MAP(VARCHAR, VARCHAR), "size" BIGINT)'` +
	`}`

type lastCheckpoint struct {
	Version int64 `json:"version"`
	Size    int   `json:"size"`
}

// readCheckpoint loads every action of a checkpoint through the engine's
// Parquet reader. Rows come back as JSON and decode like commit lines.
func (t *Table) readCheckpoint(ctx context.Context, keys []string) ([]action, error) {
	sess, err := t.openSession(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = sess.Close() }()

	locations := make([]string, len(keys))
	for i, k := range keys {
		locations[i] = adapter.QuoteLiteral(t.store.Location(k))
	}
	query := fmt.Sprintf("SELECT CAST(to_json(cp) AS VARCHAR) FROM read_parquet([%s]) AS cp", strings.Join(locations, ", "))

	res, err := sess.Query(ctx, query)
	if err != nil {
		return nil, err
	}

	actions := make([]action, 0, len(res.Rows))
	for i, row := range res.Rows {
		raw, ok := row[0].(string)
		if !ok {
			return nil, fmt.Errorf("unexpected checkpoint row type %T", row[0])
		}
		a, err := decodeAction([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("checkpoint row %d: %w", i+1, err)
		}
		actions = append(actions, a)
	}
	return actions, nil
}

// checkpointInterval returns the commit interval between checkpoints.
func (s *snapshot) checkpointInterval() int64 {
	if n, err := strconv.ParseInt(s.configuration("delta.checkpointInterval"), 10, 64); err == nil && n > 0 {
		return n
	}
	return DefaultCheckpointInterval
}

// writeCheckpoint stores the state of snap as a single part Parquet
// checkpoint and points _last_checkpoint at it.
func (t *Table) writeCheckpoint(ctx context.Context, snap *snapshot) error {
	dir, err := os.MkdirTemp("", "laketower-checkpoint-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	actions := []action{{Protocol: snap.protocol}, {MetaData: snap.metadata}}
	for _, f := range snap.activeFiles() {
		actions = append(actions, action{Add: f})
	}
	data, err := encodeActions(actions)
	if err != nil {
		return err
	}

	jsonPath := filepath.Join(dir, "actions.json")
	if err := os.WriteFile(jsonPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write checkpoint actions: %w", err)
	}

	sess, err := t.openLocalSession(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	parquetPath := filepath.Join(dir, "checkpoint.parquet")
	copySQL := fmt.Sprintf(
		"COPY (SELECT * FROM read_json(%s, format = 'newline_delimited', columns = %s)) TO %s (FORMAT PARQUET)",
		adapter.QuoteLiteral(jsonPath), checkpointColumns, adapter.QuoteLiteral(parquetPath),
	)
	if err := sess.Exec(ctx, copySQL); err != nil {
		return err
	}

	if err := t.upload(ctx, parquetPath, checkpointKey(snap.version)); err != nil {
		return err
	}

	last, err := json.Marshal(lastCheckpoint{Version: snap.version, Size: len(actions)})
	if err != nil {
		return err
	}
	if err := t.store.Put(ctx, lastCheckpointKey, bytes.NewReader(last)); err != nil {
		return fmt.Errorf("failed to write %s: %w", lastCheckpointKey, err)
	}

	t.logger.Debug("checkpoint written", "uri", t.desc.URI, "version", snap.version, "actions", len(actions))
	return nil
}
