package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Show the admin token of the running server",
	Long: `Show the admin token the running server accepts for creating and
stopping tests. Use it as "Authorization: Bearer <token>" or ?token=.

Example:
  riff token`,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(tokenFilePath())
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no server running. Start with: riff serve")
		}
		return fmt.Errorf("failed to read token file: %w", err)
	}

	token := string(data)
	if token == "" {
		return fmt.Errorf("token file is empty. Restart the server with: riff serve")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Admin token: %s\n", token)
	fmt.Fprintln(cmd.OutOrStdout())
	fmt.Fprintf(cmd.OutOrStdout(), "Example: curl -H 'Authorization: Bearer %s' -X POST http://localhost:%d/api/tests/<id>/stop\n", token, cfg.Server.Port)
	return nil
}
