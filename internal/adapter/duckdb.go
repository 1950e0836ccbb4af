package adapter

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"sort"

	"github.com/marcboeker/go-duckdb"
)

// DuckDBAdapter is an embedded DuckDB session.
type DuckDBAdapter struct {
	BaseSQLAdapter
}

// NewDuckDBAdapter creates a new DuckDB session. A nil logger discards output.
func NewDuckDBAdapter(logger *slog.Logger) *DuckDBAdapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &DuckDBAdapter{BaseSQLAdapter: BaseSQLAdapter{Logger: logger}}
}

// OpenSession connects a fresh in-memory session. Without the ICU extension
// DuckDB reads and renders TIMESTAMPTZ values in UTC.
func OpenSession(ctx context.Context, logger *slog.Logger) (*DuckDBAdapter, error) {
	a := NewDuckDBAdapter(logger)
	if err := a.Connect(ctx, Config{}); err != nil {
		return nil, err
	}
	return a, nil
}

// Connect opens DuckDB at cfg.Path, then applies settings and extensions.
func (a *DuckDBAdapter) Connect(ctx context.Context, cfg Config) error {
	path := cfg.Path
	if path == ":memory:" {
		path = ""
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return fmt.Errorf("failed to open duckdb connection: %w", err)
	}
	// Settings are per connection, so the session is pinned to one.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping duckdb: %w", err)
	}

	a.DB = db
	a.Cfg = cfg

	keys := make([]string, 0, len(cfg.Settings))
	for k := range cfg.Settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := a.Exec(ctx, fmt.Sprintf("SET %s = %s", k, QuoteLiteral(cfg.Settings[k]))); err != nil {
			_ = a.Close()
			return fmt.Errorf("failed to apply setting %s: %w", k, err)
		}
	}

	if err := a.LoadExtensions(ctx, cfg.Extensions...); err != nil {
		_ = a.Close()
		return err
	}

	a.Logger.Debug("engine session opened", "path", cfg.Path)
	return nil
}

// LoadExtensions installs and loads DuckDB extensions.
func (a *DuckDBAdapter) LoadExtensions(ctx context.Context, names ...string) error {
	for _, name := range names {
		if err := a.Exec(ctx, "INSTALL "+name); err != nil {
			return fmt.Errorf("failed to install extension %s: %w", name, err)
		}
		if err := a.Exec(ctx, "LOAD "+name); err != nil {
			return fmt.Errorf("failed to load extension %s: %w", name, err)
		}
	}
	return nil
}

// AppendRows bulk loads rows into an existing table through the DuckDB
// appender. Cell values must match the column types exactly.
func (a *DuckDBAdapter) AppendRows(ctx context.Context, table string, rows [][]any) error {
	if a.DB == nil {
		return fmt.Errorf("database connection not established")
	}

	conn, err := a.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	return conn.Raw(func(raw any) error {
		dc, ok := raw.(driver.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", raw)
		}

		appender, err := duckdb.NewAppenderFromConn(dc, "", table)
		if err != nil {
			return fmt.Errorf("failed to create appender for %s: %w", table, err)
		}

		values := make([]driver.Value, 0)
		for i, row := range rows {
			values = values[:0]
			for _, v := range row {
				values = append(values, v)
			}
			if err := appender.AppendRow(values...); err != nil {
				_ = appender.Close()
				return fmt.Errorf("failed to append row %d: %w", i+1, err)
			}
		}

		if err := appender.Close(); err != nil {
			return fmt.Errorf("failed to flush appender for %s: %w", table, err)
		}
		return nil
	})
}

var _ Adapter = (*DuckDBAdapter)(nil)
