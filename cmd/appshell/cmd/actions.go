package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/appshell/appshell/internal/builtin"
)

var (
	actionsEntity string
	actionsOutput string
)

var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "List registered actions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := bootstrap(ctx, cfg, newLogger(cfg, os.Stderr), io.Discard)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		defs := a.registry.All()
		if actionsEntity != "" {
			defs = a.registry.ForEntity(actionsEntity)
		}
		return writeSummaries(cmd.OutOrStdout(), builtin.Summarize(defs), actionsOutput)
	},
}

func init() {
	actionsCmd.Flags().StringVar(&actionsEntity, "entity", "", "only list actions of this entity")
	actionsCmd.Flags().StringVarP(&actionsOutput, "output", "o", "yaml", "output format: yaml or json")
	rootCmd.AddCommand(actionsCmd)
}

func writeSummaries(w io.Writer, summaries []builtin.ActionSummary, format string) error {
	switch format {
	case "json":
		return writeJSON(w, summaries)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(summaries); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q (want yaml or json)", format)
	}
}
