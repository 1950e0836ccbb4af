package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// BaseSQLAdapter provides the database/sql plumbing shared by sessions.
type BaseSQLAdapter struct {
	DB     *sql.DB
	Cfg    Config
	Logger *slog.Logger
}

// Close closes the database connection.
func (b *BaseSQLAdapter) Close() error {
	if b.DB != nil {
		if b.Logger != nil {
			b.Logger.Debug("closing engine session")
		}
		err := b.DB.Close()
		b.DB = nil
		return err
	}
	return nil
}

// Exec executes a SQL statement that doesn't return rows.
func (b *BaseSQLAdapter) Exec(ctx context.Context, sqlStr string) error {
	if b.DB == nil {
		return fmt.Errorf("database connection not established")
	}
	if _, err := b.DB.ExecContext(ctx, sqlStr); err != nil {
		return fmt.Errorf("failed to execute SQL: %w", err)
	}
	return nil
}

// Query executes a SQL statement and collects every row.
func (b *BaseSQLAdapter) Query(ctx context.Context, sqlStr string) (*Result, error) {
	if b.DB == nil {
		return nil, fmt.Errorf("database connection not established")
	}

	rows, err := b.DB.QueryContext(ctx, sqlStr)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectRows(rows)
}

// Describe returns the output columns of sqlStr.
func (b *BaseSQLAdapter) Describe(ctx context.Context, sqlStr string) ([]Column, error) {
	res, err := b.Query(ctx, "DESCRIBE "+sqlStr)
	if err != nil {
		return nil, err
	}

	nameIdx, typeIdx, nullIdx := -1, -1, -1
	for i, c := range res.Columns {
		switch c {
		case "column_name":
			nameIdx = i
		case "column_type":
			typeIdx = i
		case "null":
			nullIdx = i
		}
	}
	if nameIdx < 0 || typeIdx < 0 {
		return nil, fmt.Errorf("unexpected describe output: %v", res.Columns)
	}

	columns := make([]Column, 0, len(res.Rows))
	for _, row := range res.Rows {
		col := Column{
			Name:     fmt.Sprint(row[nameIdx]),
			Type:     fmt.Sprint(row[typeIdx]),
			Nullable: true,
		}
		if nullIdx >= 0 {
			col.Nullable = fmt.Sprint(row[nullIdx]) != "NO"
		}
		columns = append(columns, col)
	}
	return columns, nil
}

// IsConnected returns true if the database connection is established.
func (b *BaseSQLAdapter) IsConnected() bool {
	return b.DB != nil
}

func collectRows(rows *sql.Rows) (*Result, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	res := &Result{Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for i := range values {
			values[i] = normalizeValue(values[i])
		}
		res.Rows = append(res.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return res, nil
}
