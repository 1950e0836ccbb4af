package adapter

import (
	"fmt"
	"strings"

	"github.com/marcboeker/go-duckdb"
)

// QuoteIdent quotes an identifier for DuckDB, doubling embedded quotes.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral quotes a string literal for DuckDB.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// normalizeValue converts driver specific values into plain Go values.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case duckdb.Decimal:
		return x.Float64()
	case duckdb.Map:
		m := make(map[string]any, len(x))
		for k, val := range x {
			m[fmt.Sprint(k)] = normalizeValue(val)
		}
		return m
	case map[string]any:
		for k, val := range x {
			x[k] = normalizeValue(val)
		}
		return x
	case []any:
		for i, val := range x {
			x[i] = normalizeValue(val)
		}
		return x
	default:
		return v
	}
}
