package commands

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/laketower/internal/cli/config"
	"github.com/leapstack-labs/laketower/internal/web"
)

// WebOptions holds options for the web command.
type WebOptions struct {
	Host  string
	Port  int
	Watch bool
}

// NewWebCommand creates the web command.
func NewWebCommand() *cobra.Command {
	opts := &WebOptions{}

	cmd := &cobra.Command{
		Use:   "web",
		Short: "Serve the tables and queries over HTTP",
		Long: `Start an HTTP server exposing the configured tables and queries as a JSON API.

With --watch the configuration file is reloaded when it changes.`,
		Example: `  # Serve on the default address
  laketower web

  # Serve on all interfaces and reload on config changes
  laketower web --host 0.0.0.0 --port 8080 --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWeb(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Host, "host", "", "Host to bind (default: 127.0.0.1)")
	cmd.Flags().IntVar(&opts.Port, "port", 0, "Port to serve on (default: 8000)")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "Reload the configuration when it changes")

	return cmd
}

func runWeb(cmd *cobra.Command, opts *WebOptions) error {
	cmdCtx, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	cfg := cmdCtx.Cfg

	// CLI flags override config file
	host, port, watch := cfg.Web.Host, cfg.Web.Port, cfg.Web.Watch
	if opts.Host != "" {
		host = opts.Host
	}
	if opts.Port != 0 {
		port = opts.Port
	}
	if cmd.Flags().Changed("watch") {
		watch = opts.Watch
	}

	configPath := config.GetConfigFileUsed()
	rootFlags := cmd.Root().PersistentFlags()

	srv := web.NewServer(web.Config{
		Cfg:        cfg,
		ConfigPath: configPath,
		Load: func() (*config.Config, error) {
			return config.LoadConfig(configPath, rootFlags)
		},
		Host:   host,
		Port:   port,
		Watch:  watch,
		Logger: cmdCtx.Logger,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, srv)
}

var serve = func(ctx context.Context, srv *web.Server) error {
	return srv.Serve(ctx)
}
