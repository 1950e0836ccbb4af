// Package query federates named datasets into one engine session and runs
// caller SQL against them.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/leapstack-labs/laketower/internal/adapter"
	"github.com/leapstack-labs/laketower/internal/storage"
	"github.com/leapstack-labs/laketower/internal/tables"
)

// Result is a buffered query result.
type Result = adapter.Result

// SessionOpener opens an engine session.
type SessionOpener func(ctx context.Context) (*adapter.DuckDBAdapter, error)

// Executor runs federated queries. Every call gets a fresh session that is
// closed before Execute returns.
type Executor struct {
	logger *slog.Logger
	open   SessionOpener
}

// NewExecutor creates an executor backed by in-memory DuckDB sessions.
func NewExecutor(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Executor{
		logger: logger,
		open: func(ctx context.Context) (*adapter.DuckDBAdapter, error) {
			return adapter.OpenSession(ctx, logger)
		},
	}
}

// WithSessionOpener returns a copy of e that opens sessions with open.
func (e *Executor) WithSessionOpener(open SessionOpener) *Executor {
	c := *e
	c.open = open
	return &c
}

// Execute registers every dataset under its name and runs sql verbatim. Any
// failure is returned as *tables.QueryError carrying the engine message.
func (e *Executor) Execute(ctx context.Context, datasets map[string]*tables.Dataset, sql string) (*Result, error) {
	res, err := e.execute(ctx, datasets, sql)
	if err != nil {
		e.logger.Debug("query failed", "error", err)
		return nil, &tables.QueryError{Message: engineMessage(err)}
	}
	return res, nil
}

func (e *Executor) execute(ctx context.Context, datasets map[string]*tables.Dataset, sql string) (*Result, error) {
	names := make([]string, 0, len(datasets))
	for name := range datasets {
		names = append(names, name)
	}
	sort.Strings(names)
	if err := checkNames(names); err != nil {
		return nil, err
	}

	sess, err := e.open(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = sess.Close() }()

	for _, name := range names {
		if err := register(ctx, sess, name, datasets[name]); err != nil {
			return nil, err
		}
		e.logger.Debug("registered dataset", "table", name, "version", datasets[name].Version, "files", len(datasets[name].Files))
	}

	return sess.Query(ctx, sql)
}

// checkNames rejects datasets whose registered names collide. Engine
// identifiers are case-insensitive.
func checkNames(names []string) error {
	owner := make(map[string]string, 2*len(names))
	for _, name := range names {
		for _, reg := range []string{name, name + "_view"} {
			key := strings.ToLower(reg)
			if other, ok := owner[key]; ok && other != name {
				return fmt.Errorf("tables %q and %q both register %q", other, name, reg)
			}
			owner[key] = name
		}
	}
	return nil
}

// register exposes ds as view "{name}_view" and table "{name}".
func register(ctx context.Context, sess *adapter.DuckDBAdapter, name string, ds *tables.Dataset) error {
	if storage.IsRemote(ds.URI) {
		secret, err := adapter.S3Secret(name+"_secret", ds.URI, ds.Storage)
		if err != nil {
			return err
		}
		if err := sess.CreateSecret(ctx, secret); err != nil {
			return err
		}
	}

	scan, err := scanSQL(ctx, sess, ds)
	if err != nil {
		return err
	}

	view := adapter.QuoteIdent(name + "_view")
	if err := sess.Exec(ctx, fmt.Sprintf("CREATE VIEW %s AS %s", view, scan)); err != nil {
		return err
	}
	return sess.Exec(ctx, fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s", adapter.QuoteIdent(name), view))
}

// fileGroup is a set of data files sharing partition values.
type fileGroup struct {
	values    map[string]*string
	locations []string
}

// scanSQL renders a SELECT over the data files of ds in schema order.
// Partition values become typed constants and columns absent from the files
// become typed NULLs.
func scanSQL(ctx context.Context, sess *adapter.DuckDBAdapter, ds *tables.Dataset) (string, error) {
	if len(ds.Files) == 0 {
		cols := make([]string, len(ds.Schema.Fields))
		for i, f := range ds.Schema.Fields {
			cols[i] = typedNull(f)
		}
		return fmt.Sprintf("SELECT %s WHERE false", strings.Join(cols, ", ")), nil
	}

	partitioned := make(map[string]bool, len(ds.Partitions))
	for _, p := range ds.Partitions {
		partitioned[p] = true
	}

	var selects []string
	for _, g := range groupFiles(ds) {
		source := readParquet(g.locations)
		cols, err := sess.Describe(ctx, "SELECT * FROM "+source)
		if err != nil {
			return "", err
		}
		available := make(map[string]bool, len(cols))
		for _, c := range cols {
			available[strings.ToLower(c.Name)] = true
		}

		proj := make([]string, len(ds.Schema.Fields))
		for i, f := range ds.Schema.Fields {
			col := adapter.QuoteIdent(f.Name)
			switch {
			case partitioned[f.Name]:
				v := g.values[f.Name]
				if v == nil {
					proj[i] = typedNull(f)
				} else {
					proj[i] = fmt.Sprintf("CAST(%s AS %s) AS %s", adapter.QuoteLiteral(*v), f.EngineType, col)
				}
			case available[strings.ToLower(f.Name)]:
				proj[i] = fmt.Sprintf("CAST(%s AS %s) AS %s", col, f.EngineType, col)
			default:
				proj[i] = typedNull(f)
			}
		}
		selects = append(selects, fmt.Sprintf("SELECT %s FROM %s", strings.Join(proj, ", "), source))
	}
	return strings.Join(selects, " UNION ALL "), nil
}

func typedNull(f tables.Field) string {
	return fmt.Sprintf("CAST(NULL AS %s) AS %s", f.EngineType, adapter.QuoteIdent(f.Name))
}

func readParquet(locations []string) string {
	quoted := make([]string, len(locations))
	for i, l := range locations {
		quoted[i] = adapter.QuoteLiteral(l)
	}
	return fmt.Sprintf("read_parquet([%s], union_by_name = true)", strings.Join(quoted, ", "))
}

// groupFiles groups files by partition tuple in first seen order.
func groupFiles(ds *tables.Dataset) []*fileGroup {
	var groups []*fileGroup
	byKey := make(map[string]*fileGroup)
	for _, f := range ds.Files {
		key := partitionKey(ds.Partitions, f.PartitionValues)
		g, ok := byKey[key]
		if !ok {
			g = &fileGroup{values: f.PartitionValues}
			byKey[key] = g
			groups = append(groups, g)
		}
		g.locations = append(g.locations, f.Location)
	}
	return groups
}

func partitionKey(partitions []string, values map[string]*string) string {
	var b strings.Builder
	for _, p := range partitions {
		if v := values[p]; v != nil {
			b.WriteString("v")
			b.WriteString(*v)
		} else {
			b.WriteString("n")
		}
		b.WriteByte(0)
	}
	return b.String()
}

// engineMessage strips wrapping and returns the engine's own error text.
func engineMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
