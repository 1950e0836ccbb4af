package tables

import (
	sq "github.com/Masterminds/squirrel"

	"github.com/leapstack-labs/laketower/internal/adapter"
)

// DefaultLimit is the row limit of browse queries when none is given.
const DefaultLimit = 10

// statisticsColumns are the SUMMARIZE outputs reported by statistics queries.
var statisticsColumns = []string{"column_name", "count", "avg", "std", "min", "max"}

// BrowseOptions controls BuildBrowseQuery.
type BrowseOptions struct {
	// Limit caps the row count; zero or negative means DefaultLimit.
	Limit int
	// Columns to project; empty means all columns.
	Columns []string
	// SortAsc sorts ascending with NULLs first. It wins over SortDesc.
	SortAsc string
	// SortDesc sorts descending.
	SortDesc string
}

// BuildBrowseQuery renders a DuckDB SELECT over a registered table.
// All identifiers are quoted so digit-leading and reserved names work.
func BuildBrowseQuery(table string, opts BrowseOptions) string {
	cols := []string{"*"}
	if len(opts.Columns) > 0 {
		cols = quoteAll(opts.Columns)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	q := sq.Select(cols...).From(adapter.QuoteIdent(table))
	switch {
	case opts.SortAsc != "":
		q = q.OrderBy(adapter.QuoteIdent(opts.SortAsc) + " ASC NULLS FIRST")
	case opts.SortDesc != "":
		q = q.OrderBy(adapter.QuoteIdent(opts.SortDesc) + " DESC")
	}
	q = q.Limit(uint64(limit))

	return mustSQL(q)
}

// BuildStatisticsQuery renders per-column summary statistics over a table.
func BuildStatisticsQuery(table string) string {
	q := sq.Select(quoteAll(statisticsColumns)...).
		From("(SUMMARIZE " + adapter.QuoteIdent(table) + ")")
	return mustSQL(q)
}

func quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = adapter.QuoteIdent(n)
	}
	return out
}

// mustSQL renders a builder that has no placeholders and always has columns,
// so ToSql cannot fail.
func mustSQL(q sq.SelectBuilder) string {
	sqlStr, _, err := q.ToSql()
	if err != nil {
		panic(err)
	}
	return sqlStr
}
