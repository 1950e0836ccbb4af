package tables

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for errors.Is checks against the typed errors below.
var (
	ErrInvalidTable    = errors.New("invalid table")
	ErrVersionNotFound = errors.New("version not found")
	ErrQuery           = errors.New("query failed")
	ErrImport          = errors.New("import failed")
	ErrParse           = errors.New("parse failed")
)

// InvalidTableError is returned when a descriptor cannot be opened.
type InvalidTableError struct {
	Name   string
	URI    string
	Format TableFormat
	Reason string
}

func (e *InvalidTableError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("invalid table %q (%s %s): %s", e.Name, e.Format, e.URI, e.Reason)
	}
	return fmt.Sprintf("invalid table %s (%s): %s", e.URI, e.Format, e.Reason)
}

// Is matches ErrInvalidTable.
func (e *InvalidTableError) Is(target error) bool { return target == ErrInvalidTable }

// VersionNotFoundError is returned when a requested version cannot be reconstructed.
type VersionNotFoundError struct {
	URI       string
	Version   *int64
	Timestamp *time.Time
	Reason    string
}

func (e *VersionNotFoundError) Error() string {
	var ref string
	switch {
	case e.Version != nil:
		ref = fmt.Sprintf("version %d", *e.Version)
	case e.Timestamp != nil:
		ref = "version at " + e.Timestamp.UTC().Format(time.RFC3339)
	default:
		ref = "latest version"
	}
	msg := fmt.Sprintf("%s not found for table %s", ref, e.URI)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is matches ErrVersionNotFound.
func (e *VersionNotFoundError) Is(target error) bool { return target == ErrVersionNotFound }

// QueryError carries the engine's message for a failed query. It does not
// wrap the native engine error.
type QueryError struct {
	Message string
}

func (e *QueryError) Error() string { return e.Message }

// Is matches ErrQuery.
func (e *QueryError) Is(target error) bool { return target == ErrQuery }

// ImportError is returned when a batch cannot be committed to a table.
type ImportError struct {
	Table string
	Err   error
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("failed to import into %s: %v", e.Table, e.Err)
}

func (e *ImportError) Unwrap() error { return e.Err }

// Is matches ErrImport.
func (e *ImportError) Is(target error) bool { return target == ErrImport }

// ParseError is returned when an input file cannot be parsed.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse error on line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("parse error: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is matches ErrParse.
func (e *ParseError) Is(target error) bool { return target == ErrParse }

// Error kinds reported by Kind.
const (
	KindInvalidTable    = "invalid_table"
	KindVersionNotFound = "version_not_found"
	KindQuery           = "query"
	KindImport          = "import"
	KindParse           = "parse"
)

// Kind classifies err by the sentinel it matches. It returns "" for errors
// outside the table surface.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidTable):
		return KindInvalidTable
	case errors.Is(err, ErrVersionNotFound):
		return KindVersionNotFound
	case errors.Is(err, ErrParse):
		return KindParse
	case errors.Is(err, ErrImport):
		return KindImport
	case errors.Is(err, ErrQuery):
		return KindQuery
	default:
		return ""
	}
}
