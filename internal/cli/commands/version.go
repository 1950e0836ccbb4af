package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/laketower/internal/tables"
)

// NewVersionCommand creates the version command.
func NewVersionCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display Laketower version and the supported table formats.`,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Laketower v%s\n", version)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Table formats: %v\n", tables.Formats())
		},
	}
}
