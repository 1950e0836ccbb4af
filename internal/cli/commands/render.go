package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/list"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/leapstack-labs/laketower/internal/query"
	"github.com/leapstack-labs/laketower/internal/tables"
)

// Renderer writes command output in the configured format.
type Renderer struct {
	out    io.Writer
	err    io.Writer
	format string
}

// NewRenderer creates a renderer. Format is one of table, json, csv or
// markdown.
func NewRenderer(out, errOut io.Writer, format string) *Renderer {
	return &Renderer{out: out, err: errOut, format: format}
}

// Writer returns the output writer.
func (r *Renderer) Writer() io.Writer { return r.out }

// Format returns the output format.
func (r *Renderer) Format() string { return r.format }

// Println writes a line to the output.
func (r *Renderer) Println(a ...any) {
	_, _ = fmt.Fprintln(r.out, a...)
}

// JSON writes v as indented JSON.
func (r *Renderer) JSON(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Result renders a query result.
func (r *Renderer) Result(res *query.Result) error {
	return renderResult(r.out, res, r.format)
}

// Tree renders a titled tree. Items are strings or nested []any levels.
func (r *Renderer) Tree(title string, items []any) {
	l := list.NewWriter()
	l.SetStyle(list.StyleConnectedRounded)
	l.AppendItem(title)
	l.Indent()
	appendItems(l, items)
	_, _ = fmt.Fprintln(r.out, l.Render())
}

func appendItems(l list.Writer, items []any) {
	for _, item := range items {
		if nested, ok := item.([]any); ok {
			l.Indent()
			appendItems(l, nested)
			l.UnIndent()
			continue
		}
		l.AppendItem(item)
	}
}

var errorPanelStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("9")).
	BorderStyle(lipgloss.RoundedBorder()).
	BorderForeground(lipgloss.Color("9")).
	Padding(0, 1)

// ErrorPanel renders err as a red panel on the error writer.
func (r *Renderer) ErrorPanel(title string, err error) {
	_, _ = fmt.Fprintln(r.err, renderErrorPanel(title, err))
}

// FormatError renders err for the terminal. Query failures get a red panel
// with the engine message.
func FormatError(err error) string {
	if tables.Kind(err) == tables.KindQuery {
		return renderErrorPanel("Query failed", err)
	}
	return fmt.Sprintf("Error: %v", err)
}

func renderErrorPanel(title string, err error) string {
	body := lipgloss.NewStyle().Bold(true).Render(title) + "\n" + err.Error()
	return errorPanelStyle.Render(body)
}

func renderResult(w io.Writer, res *query.Result, format string) error {
	switch format {
	case "json":
		return renderJSON(w, res)
	case "csv":
		return renderCSV(w, res)
	case "md", "markdown":
		return renderMarkdown(w, res)
	default:
		return renderTable(w, res)
	}
}

func renderTable(w io.Writer, res *query.Result) error {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Header = text.FormatDefault

	headerRow := make(table.Row, len(res.Columns))
	for i, col := range res.Columns {
		headerRow[i] = col
	}
	t.AppendHeader(headerRow)

	for _, values := range res.Rows {
		row := make(table.Row, len(values))
		for i, v := range values {
			row[i] = formatValue(v)
		}
		t.AppendRow(row)
	}

	t.Render()
	_, _ = fmt.Fprintf(w, "(%d rows)\n", len(res.Rows))
	return nil
}

// renderJSON writes one object per row. Keys follow column order.
func renderJSON(w io.Writer, res *query.Result) error {
	rows := make([]json.RawMessage, len(res.Rows))
	for i, values := range res.Rows {
		var b strings.Builder
		b.WriteByte('{')
		for j, col := range res.Columns {
			if j > 0 {
				b.WriteByte(',')
			}
			key, _ := json.Marshal(col)
			val, err := json.Marshal(jsonValue(values[j]))
			if err != nil {
				val, _ = json.Marshal(formatValue(values[j]))
			}
			b.Write(key)
			b.WriteByte(':')
			b.Write(val)
		}
		b.WriteByte('}')
		rows[i] = json.RawMessage(b.String())
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

func renderCSV(w io.Writer, res *query.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(res.Columns); err != nil {
		return err
	}
	for _, values := range res.Rows {
		record := make([]string, len(values))
		for i, v := range values {
			if v != nil {
				record[i] = formatValue(v)
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func renderMarkdown(w io.Writer, res *query.Result) error {
	_, _ = fmt.Fprintf(w, "| %s |\n", strings.Join(res.Columns, " | "))
	seps := make([]string, len(res.Columns))
	for i := range seps {
		seps[i] = "---"
	}
	_, _ = fmt.Fprintf(w, "| %s |\n", strings.Join(seps, " | "))

	for _, row := range res.Rows {
		values := make([]string, len(row))
		for i, v := range row {
			values[i] = strings.ReplaceAll(formatValue(v), "|", `\|`)
		}
		_, _ = fmt.Fprintf(w, "| %s |\n", strings.Join(values, " | "))
	}
	return nil
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(val)
	case time.Time:
		return formatTime(val)
	case map[string]any, []any:
		return formatJSON(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func jsonValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		return val
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// sortedKeys returns the keys of m in ascending order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
