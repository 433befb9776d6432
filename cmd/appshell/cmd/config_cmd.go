package cmd

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/appshell/appshell/internal/config"
)

const redacted = "[redacted]"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration after file, environment, defaults and --dev
have been applied and validated. Webhook secrets are redacted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(redactConfig(cfg)); err != nil {
			return err
		}
		return enc.Close()
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}

// redactConfig returns a copy of cfg with secrets replaced.
func redactConfig(cfg *config.Config) config.Config {
	out := *cfg
	out.Webhooks = make([]config.WebhookConfig, len(cfg.Webhooks))
	for i, w := range cfg.Webhooks {
		if w.Secret != "" {
			w.Secret = redacted
		}
		out.Webhooks[i] = w
	}
	return out
}
