package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/appshell/appshell/internal/domain/auth"
)

var hashKeyArgon2id bool

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [api-key]",
	Short: "Generate a hash for an API key",
	Long: `Generate a hash of an API key for use in config.

The default output format is "sha256:<hex>". With --argon2id the output is
a salted Argon2id PHC string. Either can be used in auth.api_keys.key_hash.

Example:
  appshell hash-key "my-secret-api-key"
  # Output: sha256:7d5e8c...

Security note: The key will appear in shell history.
Consider clearing history after use or using environment variable:
  appshell hash-key "$MY_API_KEY"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := hashAPIKey(args[0], hashKeyArgon2id)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func hashAPIKey(key string, useArgon2id bool) (string, error) {
	if useArgon2id {
		hash, err := auth.HashKeyArgon2id(key)
		if err != nil {
			return "", fmt.Errorf("hash key: %w", err)
		}
		return hash, nil
	}
	return "sha256:" + auth.HashKey(key), nil
}

func init() {
	hashKeyCmd.Flags().BoolVar(&hashKeyArgon2id, "argon2id", false, "emit a salted Argon2id hash instead of SHA-256")
	rootCmd.AddCommand(hashKeyCmd)
}
