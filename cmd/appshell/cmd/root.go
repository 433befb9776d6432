// Package cmd provides the CLI commands for appshell.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/appshell/appshell/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "appshell",
	Short: "appshell - action dispatch pipeline and event bus",
	Long: `appshell runs every operation as a named, schema-validated, permissioned
action. Each dispatch is validated, authorized, executed, audited, and may
trigger events, notifications and webhooks after it succeeds.

Quick start:
  1. Run: appshell serve --dev
  2. In another shell: appshell dispatch system.ping --identity dev-user --dev

Configuration:
  Config is loaded from appshell.yaml in the current directory,
  $HOME/.appshell/, or /etc/appshell/.

  Environment variables can override config values with the APPSHELL_ prefix.
  Example: APPSHELL_SERVER_HTTP_ADDR=:9090

Commands:
  serve       Start the pipeline with the health and metrics listener
  dispatch    Dispatch one action and print its result
  actions     List registered actions
  mcp         Serve actions as MCP tools over stdio
  config      Print the effective configuration
  hash-key    Generate a hash for an API key
  version     Print version information`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./appshell.yaml)")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "enable development mode (dev identity, debug logging)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
