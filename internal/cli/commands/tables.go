package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/laketower/internal/tables"
)

// TablesOptions holds options for the tables view command.
type TablesOptions struct {
	Limit    int
	Columns  []string
	SortAsc  string
	SortDesc string
}

// NewTablesCommand creates the tables command.
func NewTablesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tables",
		Short: "Work with the configured tables",
		Long: `Inspect, browse, query and load the tables declared in the configuration.

Every table is addressed by the name it is declared under.`,
	}

	cmd.AddCommand(newTablesListCommand())
	cmd.AddCommand(newTablesInspectCommand())
	cmd.AddCommand(newTablesSchemaCommand())
	cmd.AddCommand(newTablesHistoryCommand())
	cmd.AddCommand(newTablesViewCommand())
	cmd.AddCommand(newTablesStatisticsCommand())
	cmd.AddCommand(NewQueryCommand())
	cmd.AddCommand(newTablesImportCommand())
	cmd.AddCommand(newTablesCreateCommand())

	return cmd
}

type tableEntry struct {
	Name   string `json:"name"`
	Format string `json:"format"`
	URI    string `json:"uri"`
}

func newTablesListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the configured tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			r := cmdCtx.Renderer

			entries := make([]tableEntry, len(cmdCtx.Cfg.Tables))
			items := make([]any, 0, 2*len(cmdCtx.Cfg.Tables))
			for i, t := range cmdCtx.Cfg.Tables {
				entries[i] = tableEntry{Name: t.Name, Format: string(t.Format), URI: t.URI}
				items = append(items, t.Name, []any{"format: " + string(t.Format), "uri: " + t.URI})
			}

			if r.Format() == "json" {
				return r.JSON(entries)
			}
			r.Tree("tables", items)
			return nil
		},
	}
}

type metadataOutput struct {
	Name          string            `json:"name"`
	Format        string            `json:"format"`
	URI           string            `json:"uri"`
	ID            string            `json:"id"`
	Version       int64             `json:"version"`
	DisplayName   *string           `json:"display_name"`
	Description   *string           `json:"description"`
	CreatedAt     time.Time         `json:"created_at"`
	Partitions    []string          `json:"partitions"`
	Configuration map[string]string `json:"configuration"`
	Schema        []fieldOutput     `json:"schema"`
}

type fieldOutput struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

func fieldsOutput(s tables.Schema) []fieldOutput {
	out := make([]fieldOutput, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = fieldOutput{Name: f.Name, Type: f.Type, Nullable: f.Nullable}
	}
	return out
}

func schemaItems(s tables.Schema) []any {
	items := make([]any, len(s.Fields))
	for i, f := range s.Fields {
		nullable := "nullable"
		if !f.Nullable {
			nullable = "not null"
		}
		items[i] = fmt.Sprintf("%s: %s (%s)", f.Name, f.Type, nullable)
	}
	return items
}

func newTablesInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:               "inspect <table>",
		Short:             "Show table metadata",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: tableNameCompletion,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			tbl, err := cmdCtx.Cfg.LoadTable(ctx, args[0])
			if err != nil {
				return err
			}
			md, err := tbl.Metadata(ctx)
			if err != nil {
				return err
			}
			schema, err := tbl.Schema(ctx)
			if err != nil {
				return err
			}

			r := cmdCtx.Renderer
			if r.Format() == "json" {
				return r.JSON(metadataOutput{
					Name:          args[0],
					Format:        string(md.Format),
					URI:           md.URI,
					ID:            md.ID,
					Version:       md.Version,
					DisplayName:   md.Name,
					Description:   md.Description,
					CreatedAt:     md.CreatedAt,
					Partitions:    md.Partitions,
					Configuration: md.Configuration,
					Schema:        fieldsOutput(schema),
				})
			}

			items := []any{
				"format: " + string(md.Format),
				"uri: " + md.URI,
				"id: " + md.ID,
				fmt.Sprintf("version: %d", md.Version),
				"name: " + optional(md.Name),
				"description: " + optional(md.Description),
				"created at: " + formatTime(md.CreatedAt),
				"partitions: " + strings.Join(md.Partitions, ", "),
			}
			if len(md.Configuration) > 0 {
				conf := make([]any, 0, len(md.Configuration))
				for _, k := range sortedKeys(md.Configuration) {
					conf = append(conf, k+": "+md.Configuration[k])
				}
				items = append(items, "configuration", conf)
			}
			items = append(items, "schema", schemaItems(schema))
			r.Tree(args[0], items)
			return nil
		},
	}
}

func newTablesSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:               "schema <table>",
		Short:             "Show the table schema",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: tableNameCompletion,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			tbl, err := cmdCtx.Cfg.LoadTable(ctx, args[0])
			if err != nil {
				return err
			}
			schema, err := tbl.Schema(ctx)
			if err != nil {
				return err
			}

			r := cmdCtx.Renderer
			if r.Format() == "json" {
				return r.JSON(fieldsOutput(schema))
			}
			r.Tree(args[0], schemaItems(schema))
			return nil
		},
	}
}

type revisionOutput struct {
	Version             int64          `json:"version"`
	Timestamp           time.Time      `json:"timestamp"`
	ClientVersion       *string        `json:"client_version"`
	Operation           string         `json:"operation"`
	OperationParameters map[string]any `json:"operation_parameters"`
	OperationMetrics    map[string]any `json:"operation_metrics"`
}

func newTablesHistoryCommand() *cobra.Command {
	return &cobra.Command{
		Use:               "history <table>",
		Short:             "Show the table revision history",
		Long:              `Show every committed revision of a table, newest first.`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: tableNameCompletion,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			tbl, err := cmdCtx.Cfg.LoadTable(ctx, args[0])
			if err != nil {
				return err
			}
			history, err := tbl.History(ctx)
			if err != nil {
				return err
			}

			r := cmdCtx.Renderer
			if r.Format() == "json" {
				out := make([]revisionOutput, len(history.Revisions))
				for i, rev := range history.Revisions {
					out[i] = revisionOutput(rev)
				}
				return r.JSON(out)
			}

			items := make([]any, 0, 2*len(history.Revisions))
			for _, rev := range history.Revisions {
				items = append(items, fmt.Sprintf("version: %d", rev.Version), []any{
					"timestamp: " + formatTime(rev.Timestamp),
					"client version: " + optional(rev.ClientVersion),
					"operation: " + rev.Operation,
					"operation parameters", mapItems(rev.OperationParameters),
					"operation metrics", mapItems(rev.OperationMetrics),
				})
			}
			r.Tree(args[0], items)
			return nil
		},
	}
}

func mapItems(m map[string]any) []any {
	items := make([]any, 0, len(m))
	for _, k := range sortedKeys(m) {
		items = append(items, fmt.Sprintf("%s: %s", k, formatValue(m[k])))
	}
	return items
}

func optional(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func newTablesViewCommand() *cobra.Command {
	opts := &TablesOptions{}

	cmd := &cobra.Command{
		Use:   "view <table>",
		Short: "Browse table rows",
		Example: `  # First 10 rows
  laketower tables view weather

  # Selected columns, sorted, at a past version
  laketower tables view weather --cols time --cols city --sort-desc time --version 3`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: tableNameCompletion,
		RunE: func(cmd *cobra.Command, args []string) error {
			sql := tables.BuildBrowseQuery(args[0], tables.BrowseOptions{
				Limit:    opts.Limit,
				Columns:  opts.Columns,
				SortAsc:  opts.SortAsc,
				SortDesc: opts.SortDesc,
			})
			return runTableQuery(cmd, args[0], sql)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", tables.DefaultLimit, "Maximum number of rows")
	cmd.Flags().StringArrayVar(&opts.Columns, "cols", nil, "Columns to show (repeatable)")
	cmd.Flags().StringVar(&opts.SortAsc, "sort-asc", "", "Sort ascending by column")
	cmd.Flags().StringVar(&opts.SortDesc, "sort-desc", "", "Sort descending by column")
	cmd.Flags().String("version", "", "Table version number or timestamp")
	cmd.MarkFlagsMutuallyExclusive("sort-asc", "sort-desc")

	return cmd
}

func newTablesStatisticsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "statistics <table>",
		Short:             "Show per-column summary statistics",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: tableNameCompletion,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTableQuery(cmd, args[0], tables.BuildStatisticsQuery(args[0]))
		},
	}

	cmd.Flags().String("version", "", "Table version number or timestamp")

	return cmd
}

// runTableQuery runs sql against a single table at the version the command
// selects.
func runTableQuery(cmd *cobra.Command, name, sql string) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	ref, err := parseVersionFlag(cmd)
	if err != nil {
		return err
	}
	tbl, err := cmdCtx.Cfg.LoadTable(ctx, name)
	if err != nil {
		return err
	}
	ds, err := tbl.Dataset(ctx, ref)
	if err != nil {
		return err
	}

	res, err := cmdCtx.Executor.Execute(ctx, map[string]*tables.Dataset{name: ds}, sql)
	if err != nil {
		return err
	}
	return cmdCtx.Renderer.Result(res)
}
