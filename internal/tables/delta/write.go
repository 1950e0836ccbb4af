package delta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/leapstack-labs/laketower/internal/adapter"
	"github.com/leapstack-labs/laketower/internal/storage"
	"github.com/leapstack-labs/laketower/internal/tables"
)

const (
	stagingTable  = "staging"
	incomingTable = "incoming"

	// hiveDefaultPartition is the directory name of NULL partition values.
	hiveDefaultPartition = "__HIVE_DEFAULT_PARTITION__"
)

// ImportData commits batch as version head+1. New columns are added to the
// schema as nullable; existing columns keep their type and incoming values
// are cast to it. Overwrite removes every current file in the same commit.
// A concurrent writer taking the version first fails the import.
func (t *Table) ImportData(ctx context.Context, batch *tables.Batch, mode tables.ImportMode) error {
	if err := t.importData(ctx, batch, mode); err != nil {
		return &tables.ImportError{Table: t.desc.URI, Err: err}
	}
	return nil
}

func (t *Table) importData(ctx context.Context, batch *tables.Batch, mode tables.ImportMode) error {
	if batch == nil {
		return errors.New("no data to import")
	}
	if mode == "" {
		mode = tables.ModeAppend
	}
	if mode != tables.ModeAppend && mode != tables.ModeOverwrite {
		return fmt.Errorf("unknown import mode %q", mode)
	}
	for i, row := range batch.Rows {
		if len(row) != len(batch.Schema.Fields) {
			return fmt.Errorf("row %d has %d values, expected %d", i+1, len(row), len(batch.Schema.Fields))
		}
	}

	snap, err := t.loadSnapshot(ctx, tables.VersionRef{})
	if err != nil {
		return err
	}
	if err := checkWriter(snap.protocol); err != nil {
		return err
	}
	if mode == tables.ModeOverwrite && strings.EqualFold(snap.configuration("delta.appendOnly"), "true") {
		return errors.New("table is append-only, overwrite is not allowed")
	}

	merged, changed, err := mergeSchema(snap.schema, batch.Schema)
	if err != nil {
		return err
	}

	dir, err := os.MkdirTemp("", "laketower-import-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	sess, err := t.openLocalSession(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	if err := stageBatch(ctx, sess, batch); err != nil {
		return err
	}
	if err := buildIncoming(ctx, sess, merged, batch.Schema); err != nil {
		return err
	}
	if err := checkNullability(ctx, sess, merged); err != nil {
		return err
	}

	rows := int64(len(batch.Rows))
	adds, err := t.writeDataFiles(ctx, sess, dir, merged, snap.partitionColumns(), rows)
	if err != nil {
		return err
	}
	_ = sess.Close()

	return t.commit(ctx, snap, merged, changed, mode, adds, rows)
}

// stageBatch loads the batch into a table typed after the batch schema.
func stageBatch(ctx context.Context, sess *adapter.DuckDBAdapter, batch *tables.Batch) error {
	defs := make([]string, len(batch.Schema.Fields))
	kinds := make([]string, len(batch.Schema.Fields))
	for i, f := range batch.Schema.Fields {
		typ, err := parsePrimitive(f.Type)
		if err != nil {
			return fmt.Errorf("column %s: %w", f.Name, err)
		}
		kinds[i], err = stagingType(typ)
		if err != nil {
			return fmt.Errorf("column %s: %w", f.Name, err)
		}
		defs[i] = adapter.QuoteIdent(f.Name) + " " + kinds[i]
	}

	if err := sess.Exec(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", stagingTable, strings.Join(defs, ", "))); err != nil {
		return err
	}
	if len(batch.Rows) == 0 {
		return nil
	}

	rows := make([][]any, len(batch.Rows))
	for i, row := range batch.Rows {
		out := make([]any, len(row))
		for j, v := range row {
			out[j] = stagingValue(v, kinds[j])
		}
		rows[i] = out
	}
	return sess.AppendRows(ctx, stagingTable, rows)
}

// stagingType is the type a batch column is appended as. Timestamps are
// staged without a zone and read as UTC.
func stagingType(t dataType) (string, error) {
	switch {
	case t.Primitive == "timestamp":
		return "TIMESTAMP", nil
	case strings.HasPrefix(t.Primitive, "decimal"):
		return "DOUBLE", nil
	default:
		return t.EngineType()
	}
}

func stagingValue(v any, kind string) any {
	switch x := v.(type) {
	case time.Time:
		return x.UTC()
	case int64:
		if kind == "DOUBLE" {
			return float64(x)
		}
	case int:
		if kind == "DOUBLE" {
			return float64(x)
		}
		return int64(x)
	}
	return v
}

// buildIncoming projects the staged rows onto the merged schema. Columns the
// batch lacks become typed NULLs. Values are only cast to types that hold
// them exactly.
func buildIncoming(ctx context.Context, sess *adapter.DuckDBAdapter, merged *structType, incoming tables.Schema) error {
	cols := make([]string, 0, len(merged.Fields))
	var textToIntegral []string
	for _, f := range merged.Fields {
		engine, err := f.Type.EngineType()
		if err != nil {
			return fmt.Errorf("column %s: %w", f.Name, err)
		}
		src, ok := incoming.Field(f.Name)
		if !ok {
			cols = append(cols, fmt.Sprintf("CAST(NULL AS %s) AS %s", engine, adapter.QuoteIdent(f.Name)))
			continue
		}
		if f.Type.IsNested() {
			return fmt.Errorf("column %s has nested type %s and cannot be loaded from %s values", f.Name, f.Type, src.Type)
		}
		srcType, err := parsePrimitive(src.Type)
		if err != nil {
			return fmt.Errorf("column %s: %w", f.Name, err)
		}
		if !assignable(srcType, f.Type) {
			return fmt.Errorf("column %s has type %s and cannot be loaded from %s values", f.Name, f.Type, srcType)
		}
		if srcType.Primitive == "string" && isIntegral(f.Type) {
			textToIntegral = append(textToIntegral, src.Name)
		}
		cols = append(cols, fmt.Sprintf("CAST(%s AS %s) AS %s", adapter.QuoteIdent(src.Name), engine, adapter.QuoteIdent(f.Name)))
	}

	if err := checkWholeNumbers(ctx, sess, textToIntegral); err != nil {
		return err
	}

	query := fmt.Sprintf("CREATE TABLE %s AS SELECT %s FROM %s", incomingTable, strings.Join(cols, ", "), stagingTable)
	if err := sess.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to convert imported values: %w", err)
	}
	return nil
}

// checkWholeNumbers rejects staged text columns holding fractional numbers,
// which the engine would round when casting to an integer type.
func checkWholeNumbers(ctx context.Context, sess *adapter.DuckDBAdapter, columns []string) error {
	if len(columns) == 0 {
		return nil
	}

	counts := make([]string, len(columns))
	for i, c := range columns {
		num := fmt.Sprintf("TRY_CAST(%s AS DOUBLE)", adapter.QuoteIdent(c))
		counts[i] = fmt.Sprintf("count(*) FILTER (WHERE %s <> trunc(%s))", num, num)
	}
	res, err := sess.Query(ctx, fmt.Sprintf("SELECT %s FROM %s", strings.Join(counts, ", "), stagingTable))
	if err != nil {
		return err
	}
	for i, c := range columns {
		if n := toInt64(res.Rows[0][i]); n > 0 {
			return fmt.Errorf("column %s holds %d fractional values that do not fit an integer type", c, n)
		}
	}
	return nil
}

func checkNullability(ctx context.Context, sess *adapter.DuckDBAdapter, merged *structType) error {
	var required []structField
	for _, f := range merged.Fields {
		if !f.Nullable {
			required = append(required, f)
		}
	}
	if len(required) == 0 {
		return nil
	}

	counts := make([]string, len(required))
	for i, f := range required {
		counts[i] = fmt.Sprintf("count(*) FILTER (WHERE %s IS NULL)", adapter.QuoteIdent(f.Name))
	}
	res, err := sess.Query(ctx, fmt.Sprintf("SELECT %s FROM %s", strings.Join(counts, ", "), incomingTable))
	if err != nil {
		return err
	}
	for i, f := range required {
		if n := toInt64(res.Rows[0][i]); n > 0 {
			return fmt.Errorf("column %s is not nullable but %d imported rows are null", f.Name, n)
		}
	}
	return nil
}

// partitionGroup is one distinct tuple of partition values.
type partitionGroup struct {
	values map[string]*string
	where  string
}

func (t *Table) writeDataFiles(ctx context.Context, sess *adapter.DuckDBAdapter, dir string, schema *structType, partitions []string, rows int64) ([]*addAction, error) {
	if rows == 0 {
		return nil, nil
	}

	partitioned := make(map[string]bool, len(partitions))
	for _, p := range partitions {
		partitioned[strings.ToLower(p)] = true
	}
	var dataCols []string
	for _, f := range schema.Fields {
		if !partitioned[strings.ToLower(f.Name)] {
			dataCols = append(dataCols, adapter.QuoteIdent(f.Name))
		}
	}

	groups, err := partitionGroups(ctx, sess, schema, partitions)
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	adds := make([]*addAction, 0, len(groups))
	for i, g := range groups {
		filter := ""
		if g.where != "" {
			filter = " WHERE " + g.where
		}

		res, err := sess.Query(ctx, fmt.Sprintf("SELECT count(*) FROM %s%s", incomingTable, filter))
		if err != nil {
			return nil, err
		}
		numRecords := toInt64(res.Rows[0][0])

		local := filepath.Join(dir, fmt.Sprintf("part-%05d.parquet", i))
		copySQL := fmt.Sprintf("COPY (SELECT %s FROM %s%s) TO %s (FORMAT PARQUET, COMPRESSION SNAPPY)",
			strings.Join(dataCols, ", "), incomingTable, filter, adapter.QuoteLiteral(local))
		if err := sess.Exec(ctx, copySQL); err != nil {
			return nil, fmt.Errorf("failed to write data file: %w", err)
		}
		fi, err := os.Stat(local)
		if err != nil {
			return nil, fmt.Errorf("failed to stat data file: %w", err)
		}

		key := partitionDir(partitions, g.values) + fmt.Sprintf("part-%05d-%s-c000.snappy.parquet", i, uuid.NewString())
		if err := t.upload(ctx, local, key); err != nil {
			return nil, err
		}

		adds = append(adds, &addAction{
			Path:             encodePath(key),
			PartitionValues:  g.values,
			Size:             fi.Size(),
			ModificationTime: now,
			DataChange:       true,
			Stats:            fmt.Sprintf(`{"numRecords":%d}`, numRecords),
		})
	}
	return adds, nil
}

// partitionGroups returns one group per distinct partition tuple, or a single
// unfiltered group for unpartitioned tables.
func partitionGroups(ctx context.Context, sess *adapter.DuckDBAdapter, schema *structType, partitions []string) ([]partitionGroup, error) {
	if len(partitions) == 0 {
		return []partitionGroup{{values: map[string]*string{}}}, nil
	}

	exprs := make([]string, len(partitions))
	for i, p := range partitions {
		f, ok := schema.field(p)
		if !ok {
			return nil, fmt.Errorf("partition column %s is not in the schema", p)
		}
		exprs[i] = partitionExpr(f)
	}

	res, err := sess.Query(ctx, fmt.Sprintf("SELECT DISTINCT %s FROM %s ORDER BY ALL", strings.Join(exprs, ", "), incomingTable))
	if err != nil {
		return nil, err
	}

	groups := make([]partitionGroup, 0, len(res.Rows))
	for _, row := range res.Rows {
		g := partitionGroup{values: make(map[string]*string, len(partitions))}
		conds := make([]string, len(partitions))
		for i, p := range partitions {
			if row[i] == nil {
				g.values[p] = nil
				conds[i] = exprs[i] + " IS NULL"
				continue
			}
			s := fmt.Sprint(row[i])
			conds[i] = exprs[i] + " = " + adapter.QuoteLiteral(s)
			if s == "" {
				g.values[p] = nil
			} else {
				g.values[p] = &s
			}
		}
		g.where = strings.Join(conds, " AND ")
		groups = append(groups, g)
	}
	return groups, nil
}

// partitionExpr renders the string form of a partition value.
func partitionExpr(f structField) string {
	col := adapter.QuoteIdent(f.Name)
	switch f.Type.Primitive {
	case "timestamp", "timestamp_ntz":
		return fmt.Sprintf("strftime(%s, '%%Y-%%m-%%d %%H:%%M:%%S.%%f')", col)
	default:
		return fmt.Sprintf("CAST(%s AS VARCHAR)", col)
	}
}

// partitionDir renders the Hive style directory of a partition tuple.
func partitionDir(partitions []string, values map[string]*string) string {
	var b strings.Builder
	for _, p := range partitions {
		v := hiveDefaultPartition
		if values[p] != nil {
			v = hiveEscape(*values[p])
		}
		b.WriteString(hiveEscape(p) + "=" + v + "/")
	}
	return b.String()
}

func hiveEscape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x20 || c == 0x7f || strings.IndexByte(`"#%'*/:=?\{[]^`, c) >= 0 {
			fmt.Fprintf(&b, "%%%02X", c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// encodePath turns a store key into the URI encoded relative path of an add action.
func encodePath(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func (t *Table) commit(ctx context.Context, snap *snapshot, schema *structType, changed bool, mode tables.ImportMode, adds []*addAction, rows int64) error {
	version := snap.version + 1
	now := time.Now().UnixMilli()

	var outputBytes int64
	for _, a := range adds {
		outputBytes += a.Size
	}

	modeName := "Append"
	if mode == tables.ModeOverwrite {
		modeName = "Overwrite"
	}

	actions := []action{{CommitInfo: &commitInfo{
		Timestamp: &now,
		Operation: "WRITE",
		OperationParameters: map[string]any{
			"mode":        modeName,
			"partitionBy": jsonString(snap.partitionColumns()),
		},
		OperationMetrics: map[string]any{
			"numFiles":       int64(len(adds)),
			"numOutputRows":  rows,
			"numOutputBytes": outputBytes,
		},
		ClientVersion: clientVersion(),
	}}}

	if changed {
		schemaString, err := schema.schemaString()
		if err != nil {
			return err
		}
		md := *snap.metadata
		md.SchemaString = schemaString
		actions = append(actions, action{MetaData: &md})
	}

	if mode == tables.ModeOverwrite {
		for _, f := range snap.activeFiles() {
			size := f.Size
			actions = append(actions, action{Remove: &removeAction{
				Path:                 f.Path,
				DeletionTimestamp:    &now,
				DataChange:           true,
				ExtendedFileMetadata: true,
				PartitionValues:      f.PartitionValues,
				Size:                 &size,
			}})
		}
	}
	for _, a := range adds {
		actions = append(actions, action{Add: a})
	}

	data, err := encodeActions(actions)
	if err != nil {
		return err
	}
	if err := t.store.PutIfAbsent(ctx, commitKey(version), data); err != nil {
		if errors.Is(err, storage.ErrExist) {
			return fmt.Errorf("version %d was committed by a concurrent writer", version)
		}
		return fmt.Errorf("failed to commit version %d: %w", version, err)
	}

	t.logger.Info("import committed",
		"uri", t.desc.URI,
		"version", version,
		"mode", string(mode),
		"rows", rows,
		"files", len(adds),
	)

	snap.apply(actions)
	snap.version = version
	snap.schema = schema
	if version%snap.checkpointInterval() == 0 {
		if err := t.writeCheckpoint(ctx, snap); err != nil {
			t.logger.Warn("failed to write checkpoint", "uri", t.desc.URI, "version", version, "error", err)
		}
	}
	return nil
}

func clientVersion() *string {
	v := ClientVersion
	return &v
}

func jsonString(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func toInt64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int32:
		return int64(x)
	case int:
		return int64(x)
	case uint64:
		return int64(x)
	case float64:
		return int64(x)
	default:
		return 0
	}
}
