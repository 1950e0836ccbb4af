package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/laketower/internal/tables"
)

// QueryOptions holds options for the query command.
type QueryOptions struct {
	Input string
}

// NewQueryCommand creates the tables query command.
func NewQueryCommand() *cobra.Command {
	opts := &QueryOptions{}

	cmd := &cobra.Command{
		Use:   "query [SQL]",
		Short: "Run SQL across all configured tables",
		Long: `Run a DuckDB SQL query across every valid configured table.

Each table is available under its configured name, and as "<name>_view".
Tables that cannot be loaded are skipped with a warning.

When invoked without arguments on a terminal, enters interactive REPL mode.`,
		Example: `  # Execute SQL directly
  laketower tables query "SELECT city, avg(temperature) FROM weather GROUP BY city"

  # Read SQL from a file
  laketower tables query --input report.sql

  # Output as CSV
  laketower tables query "SELECT * FROM weather" -o csv

  # Interactive mode
  laketower tables query`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "Read SQL from file")

	return cmd
}

func runQuery(cmd *cobra.Command, args []string, opts *QueryOptions) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}

	var sqlQuery string
	switch {
	case len(args) > 0:
		sqlQuery = strings.Join(args, " ")
	case opts.Input != "":
		content, err := os.ReadFile(opts.Input)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
		sqlQuery = string(content)
	case !isTerminal(cmd.InOrStdin()):
		content, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		sqlQuery = string(content)
	default:
		return runQueryREPL(cmd, cmdCtx)
	}

	if strings.TrimSpace(sqlQuery) == "" {
		return errors.New("no SQL query given")
	}
	return executeAndRender(cmd.Context(), cmdCtx, cmdCtx.Cfg.Datasets(cmd.Context(), cmdCtx.Logger), sqlQuery)
}

func executeAndRender(ctx context.Context, cmdCtx *CommandContext, datasets map[string]*tables.Dataset, sqlQuery string) error {
	res, err := cmdCtx.Executor.Execute(ctx, datasets, sqlQuery)
	if err != nil {
		return err
	}
	return cmdCtx.Renderer.Result(res)
}

func runQueryREPL(cmd *cobra.Command, cmdCtx *CommandContext) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	datasets := cmdCtx.Cfg.Datasets(ctx, cmdCtx.Logger)

	var historyFile string
	if dir, err := os.UserCacheDir(); err == nil {
		historyFile = filepath.Join(dir, "laketower", "query_history")
		_ = os.MkdirAll(filepath.Dir(historyFile), 0750)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "laketower> ",
		HistoryFile:     historyFile,
		AutoComplete:    newTableCompleter(datasets),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	_, _ = fmt.Fprintf(out, "Laketower Query REPL (%d tables)\n", len(datasets))
	_, _ = fmt.Fprintln(out, "Type .help for commands, .quit to exit")
	_, _ = fmt.Fprintln(out)

	var multiLineBuffer strings.Builder
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			multiLineBuffer.Reset()
			rl.SetPrompt("laketower> ")
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if multiLineBuffer.Len() == 0 && strings.HasPrefix(line, ".") {
			if quit := handleDotCommand(cmd, cmdCtx, datasets, line); quit {
				break
			}
			continue
		}

		// Accumulate multi-line SQL until semicolon
		multiLineBuffer.WriteString(line)
		if !strings.HasSuffix(line, ";") {
			multiLineBuffer.WriteString(" ")
			rl.SetPrompt("      ...> ")
			continue
		}
		rl.SetPrompt("laketower> ")

		query := strings.TrimSuffix(multiLineBuffer.String(), ";")
		multiLineBuffer.Reset()

		if err := executeAndRender(ctx, cmdCtx, datasets, query); err != nil {
			cmdCtx.Renderer.ErrorPanel("Query failed", err)
		}
		_, _ = fmt.Fprintln(out)
	}

	return nil
}

// handleDotCommand runs a REPL dot-command and reports whether to quit.
func handleDotCommand(cmd *cobra.Command, cmdCtx *CommandContext, datasets map[string]*tables.Dataset, line string) bool {
	parts := strings.Fields(line)
	command := strings.ToLower(parts[0])
	errOut := cmd.ErrOrStderr()

	switch command {
	case ".quit", ".exit":
		return true

	case ".help":
		printREPLHelp(cmd.OutOrStdout())

	case ".tables":
		items := make([]any, 0, len(datasets))
		for _, name := range datasetNames(datasets) {
			items = append(items, fmt.Sprintf("%s (version %d)", name, datasets[name].Version))
		}
		cmdCtx.Renderer.Tree("tables", items)

	case ".schema":
		if len(parts) < 2 {
			_, _ = fmt.Fprintln(errOut, "Usage: .schema <table>")
			return false
		}
		ds, ok := datasets[parts[1]]
		if !ok {
			_, _ = fmt.Fprintf(errOut, "Error: unknown table %q\n", parts[1])
			return false
		}
		cmdCtx.Renderer.Tree(parts[1], schemaItems(ds.Schema))

	case ".clear":
		_, _ = fmt.Fprint(cmd.OutOrStdout(), "\033[H\033[2J")

	default:
		_, _ = fmt.Fprintf(errOut, "Unknown command: %s (type .help for commands)\n", command)
	}
	return false
}

func printREPLHelp(w io.Writer) {
	help := `
Commands:
  .help           Show this help message
  .tables         List the queryable tables
  .schema <name>  Show the schema of a table
  .clear          Clear the screen
  .quit / .exit   Exit the REPL

Tips:
  - SQL statements must end with a semicolon (;)
  - Use arrow keys to navigate history
  - Tab completion works for table names
`
	_, _ = fmt.Fprintln(w, help)
}

func datasetNames(datasets map[string]*tables.Dataset) []string {
	names := make([]string, 0, len(datasets))
	for name := range datasets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// newTableCompleter creates a readline completer for table names.
func newTableCompleter(datasets map[string]*tables.Dataset) *readline.PrefixCompleter {
	var items []readline.PrefixCompleterInterface
	for _, name := range datasetNames(datasets) {
		items = append(items, readline.PcItem(name), readline.PcItem(name+"_view"))
	}

	items = append(items,
		readline.PcItem(".help"),
		readline.PcItem(".tables"),
		readline.PcItem(".schema", readline.PcItemDynamic(func(string) []string {
			return datasetNames(datasets)
		})),
		readline.PcItem(".clear"),
		readline.PcItem(".quit"),
		readline.PcItem(".exit"),
	)

	return readline.NewPrefixCompleter(items...)
}
