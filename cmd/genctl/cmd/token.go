package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/avelaz/genbridge/pkg/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage API tokens",
}

var tokenNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Generate a new API token and its server-side hash",
	Long: `Generate a random API token together with the bcrypt hash the server
stores. Put the hash in the server config as api_token_hash and hand the
token to clients; the plaintext is shown only once.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		token, hash, err := auth.GenerateToken()
		if err != nil {
			return fmt.Errorf("failed to generate token: %w", err)
		}

		if IsJSONOutput() {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]string{
				"token":          token,
				"api_token_hash": hash,
			})
		}

		fmt.Printf("Token (give to clients, shown once):\n  %s\n\n", token)
		fmt.Printf("Server config:\n  api_token_hash: %q\n", hash)
		return nil
	},
}

func init() {
	tokenCmd.AddCommand(tokenNewCmd)
	rootCmd.AddCommand(tokenCmd)
}
