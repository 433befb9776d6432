package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	mcpadapter "github.com/appshell/appshell/internal/adapter/inbound/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve actions as MCP tools over stdio",
	Long: `Serve every registered action as an MCP tool over stdin/stdout.

Tool calls run as the identity named by mcp.identity_id, always with the
ai-agent caller type, so permission rules that exclude agents apply.
Logs, audit output and traces go to stderr.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.MCP.IdentityID == "" {
		return errors.New("mcp.identity_id is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	defer stop()

	logger := newLogger(cfg, os.Stderr)
	a, err := bootstrap(ctx, cfg, logger, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	caller, err := a.callerFor(ctx, "", cfg.MCP.IdentityID)
	if err != nil {
		return err
	}

	server := mcpadapter.NewServer(a.registry, a.bus, caller, logger, Version)
	logger.Info("serving MCP over stdio", "identity", caller.UserID, "tools", a.registry.Len())
	if err := server.Run(ctx, &sdkmcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
