// Package ingest parses delimited files into batches and imports them into
// tables.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/leapstack-labs/laketower/internal/tables"
)

// FileFormat names an importable file format.
type FileFormat string

// Supported file formats.
const (
	FormatCSV FileFormat = "csv"
)

// Defaults for Options.
const (
	DefaultDelimiter = ','
	DefaultEncoding  = "utf-8"
)

// Options controls parsing and the import mode.
type Options struct {
	Mode      tables.ImportMode
	Format    FileFormat
	Delimiter rune
	Encoding  string
}

func (o Options) withDefaults() Options {
	if o.Mode == "" {
		o.Mode = tables.ModeAppend
	}
	if o.Format == "" {
		o.Format = FormatCSV
	}
	if o.Delimiter == 0 {
		o.Delimiter = DefaultDelimiter
	}
	if o.Encoding == "" {
		o.Encoding = DefaultEncoding
	}
	return o
}

// ParseFileFormat validates a file format tag.
func ParseFileFormat(s string) (FileFormat, error) {
	switch f := FileFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV:
		return f, nil
	case "":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unsupported file format %q (supported: csv)", s)
	}
}

var floatPattern = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

// ReadCSV decodes r and parses it into a batch. The first row is the header;
// every column is nullable and typed long, double, boolean or string from
// its values. Empty cells are NULL.
func ReadCSV(r io.Reader, opts Options) (*tables.Batch, error) {
	opts = opts.withDefaults()
	if opts.Format != FormatCSV {
		return nil, fmt.Errorf("unsupported file format %q", opts.Format)
	}
	if opts.Delimiter == '"' || opts.Delimiter == '\r' || opts.Delimiter == '\n' {
		return nil, fmt.Errorf("invalid delimiter %q", opts.Delimiter)
	}

	enc, err := htmlindex.Get(opts.Encoding)
	if err != nil {
		return nil, &tables.ParseError{Err: fmt.Errorf("unknown encoding %q", opts.Encoding)}
	}

	reader := csv.NewReader(transform.NewReader(r, unicode.BOMOverride(enc.NewDecoder())))
	reader.Comma = opts.Delimiter

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, &tables.ParseError{Line: 1, Err: errors.New("missing header row")}
	}
	if err != nil {
		return nil, parseError(err)
	}
	if err := checkDecoded(reader, header, opts.Encoding); err != nil {
		return nil, err
	}
	if err := checkHeader(header); err != nil {
		return nil, &tables.ParseError{Line: 1, Err: err}
	}

	var records [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, parseError(err)
		}
		if err := checkDecoded(reader, record, opts.Encoding); err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return buildBatch(header, records), nil
}

// checkDecoded rejects fields holding the replacement character, which the
// decoder substitutes for bytes that are invalid in the source encoding.
func checkDecoded(reader *csv.Reader, record []string, encoding string) error {
	for i, v := range record {
		if strings.ContainsRune(v, utf8.RuneError) {
			line, _ := reader.FieldPos(i)
			return &tables.ParseError{Line: line, Err: fmt.Errorf("field %d is not valid %s text", i+1, encoding)}
		}
	}
	return nil
}

func checkHeader(header []string) error {
	seen := make(map[string]bool, len(header))
	for i, name := range header {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("column %d has an empty name", i+1)
		}
		key := strings.ToLower(name)
		if seen[key] {
			return fmt.Errorf("duplicate column name %q", name)
		}
		seen[key] = true
	}
	return nil
}

func parseError(err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &tables.ParseError{Line: pe.Line, Err: pe.Err}
	}
	return &tables.ParseError{Err: err}
}

func buildBatch(header []string, records [][]string) *tables.Batch {
	batch := &tables.Batch{
		Schema: tables.Schema{Fields: make([]tables.Field, len(header))},
		Rows:   make([][]any, len(records)),
	}
	for i := range batch.Rows {
		batch.Rows[i] = make([]any, len(header))
	}

	for col, name := range header {
		typ := inferType(records, col)
		batch.Schema.Fields[col] = tables.Field{Name: name, Type: typ, Nullable: true}
		for row, record := range records {
			batch.Rows[row][col] = convert(record[col], typ)
		}
	}
	return batch
}

// inferType picks the narrowest of long, double, boolean and string that
// holds every non-empty value of a column.
func inferType(records [][]string, col int) string {
	isLong, isDouble, isBool := true, true, true
	seen := false
	for _, record := range records {
		v := record[col]
		if v == "" {
			continue
		}
		seen = true
		if isLong {
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				isLong = false
			}
		}
		if isDouble && !floatPattern.MatchString(v) {
			isDouble = false
		}
		if isBool && !isBoolLiteral(v) {
			isBool = false
		}
	}

	switch {
	case !seen:
		return "string"
	case isLong:
		return "long"
	case isDouble:
		return "double"
	case isBool:
		return "boolean"
	default:
		return "string"
	}
}

func isBoolLiteral(v string) bool {
	return strings.EqualFold(v, "true") || strings.EqualFold(v, "false")
}

func convert(v, typ string) any {
	if v == "" {
		return nil
	}
	switch typ {
	case "long":
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	case "double":
		f, _ := strconv.ParseFloat(v, 64)
		return f
	case "boolean":
		return strings.EqualFold(v, "true")
	default:
		return v
	}
}
