package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/appshell/appshell/internal/domain/action"
)

var (
	dispatchInput    string
	dispatchAPIKey   string
	dispatchIdentity string
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch <action-id>",
	Short: "Dispatch one action and print its result",
	Long: `Dispatch one action through the full pipeline and print the result as JSON.

The caller is resolved from --api-key (or APPSHELL_API_KEY), or taken as
configured from --identity. The command exits non-zero when the action fails.

Example:
  appshell dispatch note.create --dev --identity dev-user \
    --input '{"title":"Ship it","tags":["urgent"]}'
  echo '{"id":"..."}' | appshell dispatch note.get --dev --identity dev-user --input -`,
	Args: cobra.ExactArgs(1),
	RunE: runDispatch,
}

func init() {
	dispatchCmd.Flags().StringVar(&dispatchInput, "input", "", `action input as JSON, or "-" to read stdin`)
	dispatchCmd.Flags().StringVar(&dispatchAPIKey, "api-key", "", "API key to authenticate with (default: $APPSHELL_API_KEY)")
	dispatchCmd.Flags().StringVar(&dispatchIdentity, "identity", "", "configured identity to dispatch as")
	rootCmd.AddCommand(dispatchCmd)
}

func runDispatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stderr)

	input, err := parseInput(dispatchInput, cmd.InOrStdin())
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := bootstrap(ctx, cfg, logger, os.Stderr)
	if err != nil {
		return err
	}

	apiKey := dispatchAPIKey
	if apiKey == "" {
		apiKey = os.Getenv("APPSHELL_API_KEY")
	}

	result, err := a.dispatch(ctx, args[0], input, apiKey, dispatchIdentity)
	// Close waits for side effects and flushes the audit trail.
	if closeErr := a.Close(context.Background()); closeErr != nil {
		logger.Warn("shutdown failed", "error", closeErr)
	}
	if err != nil {
		return err
	}

	if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("action %s failed: %s", args[0], result.ErrorType)
	}
	return nil
}

// dispatch resolves the caller and runs actionID through the pipeline.
func (a *app) dispatch(ctx context.Context, actionID string, input any, apiKey, identityID string) (action.Result, error) {
	caller, err := a.callerFor(ctx, apiKey, identityID)
	if err != nil {
		return action.Result{}, err
	}
	return a.bus.Dispatch(ctx, actionID, input, caller), nil
}

// parseInput decodes the --input flag. Empty input is nil, "-" reads stdin.
func parseInput(raw string, stdin io.Reader) (any, error) {
	if raw == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		raw = string(data)
	}
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var input any
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}
	return input, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
