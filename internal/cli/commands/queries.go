package commands

import (
	"github.com/spf13/cobra"
)

// NewQueriesCommand creates the queries command.
func NewQueriesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queries",
		Short: "Work with the configured queries",
	}

	cmd.AddCommand(newQueriesListCommand())
	cmd.AddCommand(newQueriesViewCommand())

	return cmd
}

type queryEntry struct {
	Name  string `json:"name"`
	Title string `json:"title"`
	SQL   string `json:"sql"`
}

func newQueriesListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the configured queries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			r := cmdCtx.Renderer

			if r.Format() == "json" {
				out := make([]queryEntry, len(cmdCtx.Cfg.Queries))
				for i, q := range cmdCtx.Cfg.Queries {
					out[i] = queryEntry{Name: q.Name, Title: q.DisplayTitle(), SQL: q.SQL}
				}
				return r.JSON(out)
			}

			items := make([]any, 0, 2*len(cmdCtx.Cfg.Queries))
			for _, q := range cmdCtx.Cfg.Queries {
				items = append(items, q.Name, []any{q.DisplayTitle()})
			}
			r.Tree("queries", items)
			return nil
		},
	}
}

func newQueriesViewCommand() *cobra.Command {
	return &cobra.Command{
		Use:               "view <query>",
		Short:             "Run a configured query",
		Long:              `Run a configured query across every valid configured table and show the result.`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: queryNameCompletion,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			q, err := cmdCtx.Cfg.LookupQuery(args[0])
			if err != nil {
				return err
			}
			return executeAndRender(ctx, cmdCtx, cmdCtx.Cfg.Datasets(ctx, cmdCtx.Logger), q.SQL)
		},
	}
}
