package commands

import (
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/laketower/internal/cli/config"
	"github.com/leapstack-labs/laketower/internal/ingest"
	"github.com/leapstack-labs/laketower/internal/tables"
	"github.com/leapstack-labs/laketower/internal/tables/delta"
)

// ImportOptions holds options for the tables import command.
type ImportOptions struct {
	File      string
	Mode      string
	Format    string
	Delimiter string
	Encoding  string
}

func newTablesImportCommand() *cobra.Command {
	opts := &ImportOptions{}

	cmd := &cobra.Command{
		Use:   "import <table>",
		Short: "Import a CSV file into a table",
		Long: `Import a delimited file into a table as a new revision.

Column types are inferred from the file and cast to the table schema.
New columns are added to the schema. In overwrite mode the previous rows
are replaced.`,
		Example: `  laketower tables import weather --file weather.csv
  laketower tables import weather --file export.csv --mode overwrite --delimiter ';' --encoding latin1`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: tableNameCompletion,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "File to import (required)")
	cmd.Flags().StringVar(&opts.Mode, "mode", string(tables.ModeAppend), "Import mode: append or overwrite")
	cmd.Flags().StringVar(&opts.Format, "format", string(ingest.FormatCSV), "File format")
	cmd.Flags().StringVar(&opts.Delimiter, "delimiter", string(ingest.DefaultDelimiter), "Field delimiter")
	cmd.Flags().StringVar(&opts.Encoding, "encoding", ingest.DefaultEncoding, "File character encoding")
	_ = cmd.MarkFlagRequired("file")

	_ = cmd.RegisterFlagCompletionFunc("mode", cobra.FixedCompletions(
		[]string{string(tables.ModeAppend), string(tables.ModeOverwrite)}, cobra.ShellCompDirectiveNoFileComp))

	return cmd
}

func (o *ImportOptions) parse() (ingest.Options, error) {
	mode, err := tables.ParseImportMode(o.Mode)
	if err != nil {
		return ingest.Options{}, err
	}
	format, err := ingest.ParseFileFormat(o.Format)
	if err != nil {
		return ingest.Options{}, err
	}
	delim, err := parseDelimiter(o.Delimiter)
	if err != nil {
		return ingest.Options{}, err
	}
	return ingest.Options{Mode: mode, Format: format, Delimiter: delim, Encoding: o.Encoding}, nil
}

// parseDelimiter accepts a single character or the escape \t.
func parseDelimiter(s string) (rune, error) {
	if s == `\t` {
		return '\t', nil
	}
	if s == "" {
		return 0, nil
	}
	r, size := utf8.DecodeRuneInString(s)
	if size != len(s) {
		return 0, fmt.Errorf("delimiter must be a single character, got %q", s)
	}
	return r, nil
}

func runImport(cmd *cobra.Command, name string, opts *ImportOptions) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	ingestOpts, err := opts.parse()
	if err != nil {
		return err
	}
	tc, ok := cmdCtx.Cfg.Table(name)
	if !ok {
		return fmt.Errorf("%w %q", config.ErrUnknownTable, name)
	}

	f, err := os.Open(opts.File)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	n, err := ingest.NewImporter(cmdCtx.Logger).ImportFile(ctx, tc.Descriptor(), f, ingestOpts)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Imported %d rows into %s (%s)\n", n, name, ingestOpts.Mode)
	return nil
}

// CreateOptions holds options for the tables create command.
type CreateOptions struct {
	Columns     []string
	PartitionBy []string
	Name        string
	Description string
	Properties  map[string]string
}

func newTablesCreateCommand() *cobra.Command {
	opts := &CreateOptions{}

	cmd := &cobra.Command{
		Use:   "create <table>",
		Short: "Create an empty Delta table at a configured location",
		Long: `Create an empty table at the location a configured table points to.

Columns are given as name:type, optionally followed by :not-null. Supported
types are string, long, integer, short, byte, float, double, boolean, binary,
date, timestamp, timestamp_ntz and decimal(p,s).`,
		Example: `  laketower tables create weather \
    --column time:timestamp --column city:string:not-null --column temperature:double \
    --partition-by city --description "Hourly weather"`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: tableNameCompletion,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Columns, "column", nil, "Column as name:type[:not-null] (repeatable)")
	cmd.Flags().StringArrayVar(&opts.PartitionBy, "partition-by", nil, "Partition column (repeatable)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "Table display name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "Table description")
	cmd.Flags().StringToStringVar(&opts.Properties, "property", nil, "Table property as key=value (repeatable)")
	_ = cmd.MarkFlagRequired("column")

	return cmd
}

// parseColumn parses name:type[:not-null]. Decimal types may contain a comma
// but never a colon.
func parseColumn(def string) (tables.Field, error) {
	parts := strings.Split(def, ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return tables.Field{}, fmt.Errorf("invalid column %q (expected name:type[:not-null])", def)
	}
	f := tables.Field{Name: parts[0], Type: strings.ToLower(parts[1]), Nullable: true}
	if len(parts) == 3 {
		if !strings.EqualFold(parts[2], "not-null") {
			return tables.Field{}, fmt.Errorf("invalid column %q: unknown modifier %q", def, parts[2])
		}
		f.Nullable = false
	}
	return f, nil
}

func runCreate(cmd *cobra.Command, name string, opts *CreateOptions) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	tc, ok := cmdCtx.Cfg.Table(name)
	if !ok {
		return fmt.Errorf("%w %q", config.ErrUnknownTable, name)
	}
	if tc.Format != tables.FormatDelta {
		return fmt.Errorf("cannot create %s tables", tc.Format)
	}

	var schema tables.Schema
	for _, def := range opts.Columns {
		f, err := parseColumn(def)
		if err != nil {
			return err
		}
		schema.Fields = append(schema.Fields, f)
	}

	createOpts := delta.CreateOptions{
		Name:             opts.Name,
		Description:      opts.Description,
		Schema:           schema,
		PartitionColumns: opts.PartitionBy,
		Configuration:    opts.Properties,
	}

	if _, err := delta.Create(ctx, tc.Descriptor(), createOpts, cmdCtx.Logger); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created table %s at %s\n", name, tc.URI)
	return nil
}
