package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/leapstack-labs/laketower/internal/cli/config"
	"github.com/leapstack-labs/laketower/internal/query"
	"github.com/leapstack-labs/laketower/internal/tables"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Executor *query.Executor
	Renderer *Renderer
}

// NewCommandContext builds the dependencies of cmd from its context.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, error) {
	cfg := config.FromContext(cmd.Context())
	logger := config.GetLogger(cmd.Context())

	format := cfg.OutputFormat
	if format == "" {
		format = config.DefaultOutput
	}
	if !slices.Contains(config.OutputFormats, format) {
		return nil, fmt.Errorf("invalid output format %q (expected one of %s)", format, strings.Join(config.OutputFormats, ", "))
	}

	return &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Executor: query.NewExecutor(logger),
		Renderer: NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), format),
	}, nil
}

// tableNameCompletion completes declared table names for the first argument.
// Completion runs without the root pre-run hook, so the config is loaded here.
func tableNameCompletion(cmd *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(path, nil)
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	return cfg.TableNames(), cobra.ShellCompDirectiveNoFileComp
}

// queryNameCompletion completes declared query names.
func queryNameCompletion(cmd *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(path, nil)
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	names := make([]string, len(cfg.Queries))
	for i, q := range cfg.Queries {
		names[i] = q.Name
	}
	return names, cobra.ShellCompDirectiveNoFileComp
}

// parseVersionFlag reads the --version flag of cmd.
func parseVersionFlag(cmd *cobra.Command) (tables.VersionRef, error) {
	v, _ := cmd.Flags().GetString("version")
	return tables.ParseVersionRef(v)
}

// isTerminal reports whether r is an interactive terminal.
func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
