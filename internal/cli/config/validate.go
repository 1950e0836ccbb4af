package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/leapstack-labs/laketower/internal/tables"
)

// Validate checks that table and query declarations are well formed. It does
// not touch storage.
func (c *Config) Validate() error {
	var errs []error

	seen := make(map[string]bool, len(c.Tables))
	for i, t := range c.Tables {
		switch {
		case strings.TrimSpace(t.Name) == "":
			errs = append(errs, fmt.Errorf("tables[%d]: name is required", i))
		case seen[t.Name]:
			errs = append(errs, fmt.Errorf("tables[%d]: duplicate table name %q", i, t.Name))
		}
		seen[t.Name] = true

		if strings.TrimSpace(t.URI) == "" {
			errs = append(errs, fmt.Errorf("tables[%d]: uri is required", i))
		}
		if t.Format == "" {
			errs = append(errs, fmt.Errorf("tables[%d]: format is required", i))
		} else if !tables.IsRegistered(t.Format) {
			errs = append(errs, fmt.Errorf("tables[%d]: unsupported table format %q", i, t.Format))
		}
	}

	seenQueries := make(map[string]bool, len(c.Queries))
	for i, q := range c.Queries {
		switch {
		case strings.TrimSpace(q.Name) == "":
			errs = append(errs, fmt.Errorf("queries[%d]: name is required", i))
		case seenQueries[q.Name]:
			errs = append(errs, fmt.Errorf("queries[%d]: duplicate query name %q", i, q.Name))
		}
		seenQueries[q.Name] = true

		if strings.TrimSpace(q.SQL) == "" {
			errs = append(errs, fmt.Errorf("queries[%d]: sql is required", i))
		}
	}

	if c.OutputFormat != "" && !slices.Contains(OutputFormats, c.OutputFormat) {
		errs = append(errs, fmt.Errorf("invalid output format %q (expected one of %s)", c.OutputFormat, strings.Join(OutputFormats, ", ")))
	}
	if c.Web.Port < 0 || c.Web.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid web port %d", c.Web.Port))
	}

	return errors.Join(errs...)
}

// TableStatus is the probe result of one declared table.
type TableStatus struct {
	Name string
	URI  string
	Err  error
}

// Valid reports whether the table could be loaded.
func (s TableStatus) Valid() bool { return s.Err == nil }

// ValidateTables probes every declared table through the format registry.
// Results are in declaration order.
func (c *Config) ValidateTables(ctx context.Context) []TableStatus {
	out := make([]TableStatus, len(c.Tables))
	for i, t := range c.Tables {
		_, err := tables.Load(ctx, t.Descriptor())
		out[i] = TableStatus{Name: t.Name, URI: t.URI, Err: err}
	}
	return out
}
