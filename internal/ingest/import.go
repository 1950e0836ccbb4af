package ingest

import (
	"context"
	"io"
	"log/slog"

	"github.com/leapstack-labs/laketower/internal/tables"
)

// Importer loads delimited files into tables.
type Importer struct {
	logger *slog.Logger
}

// NewImporter creates an importer. A nil logger discards output.
func NewImporter(logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Importer{logger: logger}
}

// ImportFile parses r and commits it to the table d names. It returns the
// number of parsed rows.
func (im *Importer) ImportFile(ctx context.Context, d tables.Descriptor, r io.Reader, opts Options) (int, error) {
	opts = opts.withDefaults()

	tbl, err := tables.Load(ctx, d)
	if err != nil {
		return 0, err
	}

	batch, err := ReadCSV(r, opts)
	if err != nil {
		return 0, err
	}

	if err := tbl.ImportData(ctx, batch, opts.Mode); err != nil {
		return 0, err
	}

	im.logger.Info("file imported",
		"table", d.Name,
		"rows", len(batch.Rows),
		"columns", len(batch.Schema.Fields),
		"mode", string(opts.Mode),
	)
	return len(batch.Rows), nil
}
