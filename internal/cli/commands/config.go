package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/laketower/internal/cli/config"
)

// NewConfigCommand creates the config command.
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Work with the configuration file",
	}
	cmd.AddCommand(newConfigValidateCommand())
	return cmd
}

type validateOutput struct {
	File   string        `json:"file"`
	Valid  bool          `json:"valid"`
	Errors []string      `json:"errors,omitempty"`
	Tables []tableStatus `json:"tables"`
}

type tableStatus struct {
	Name  string `json:"name"`
	URI   string `json:"uri"`
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// ErrInvalidConfig is returned by config validate when checks fail.
var ErrInvalidConfig = errors.New("configuration is invalid")

func newConfigValidateCommand() *cobra.Command {
	var show bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and probe every table",
		Long: `Validate the configuration file and check that every declared table can
be loaded. Exits with an error when any check fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			cfg := cmdCtx.Cfg
			r := cmdCtx.Renderer

			out := validateOutput{File: config.GetConfigFileUsed(), Valid: true}
			if err := cfg.Validate(); err != nil {
				out.Valid = false
				out.Errors = splitJoined(err)
			}
			for _, s := range cfg.ValidateTables(cmd.Context()) {
				ts := tableStatus{Name: s.Name, URI: s.URI, Valid: s.Valid()}
				if !s.Valid() {
					ts.Error = s.Err.Error()
					out.Valid = false
				}
				out.Tables = append(out.Tables, ts)
			}

			if r.Format() == "json" {
				if err := r.JSON(out); err != nil {
					return err
				}
			} else {
				renderValidation(r, out)
				if show {
					b, err := yaml.Marshal(cfg.Redacted())
					if err != nil {
						return fmt.Errorf("failed to encode config: %w", err)
					}
					r.Println()
					r.Println(string(b))
				}
			}

			if !out.Valid {
				return ErrInvalidConfig
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&show, "show", false, "Print the effective configuration with secrets masked")

	return cmd
}

func renderValidation(r *Renderer, out validateOutput) {
	file := out.File
	if file == "" {
		file = "(no config file)"
	}

	items := make([]any, 0, len(out.Errors)+len(out.Tables)+2)
	if len(out.Errors) > 0 {
		errs := make([]any, len(out.Errors))
		for i, e := range out.Errors {
			errs[i] = e
		}
		items = append(items, "errors", errs)
	}
	tablesItems := make([]any, 0, len(out.Tables))
	for _, t := range out.Tables {
		if t.Valid {
			tablesItems = append(tablesItems, "✓ "+t.Name)
		} else {
			tablesItems = append(tablesItems, "✗ "+t.Name+": "+t.Error)
		}
	}
	items = append(items, "tables", tablesItems)
	r.Tree(file, items)
}

// splitJoined unpacks an errors.Join result into messages.
func splitJoined(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var msgs []string
		for _, e := range joined.Unwrap() {
			msgs = append(msgs, e.Error())
		}
		return msgs
	}
	return []string{err.Error()}
}
