package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gkobilansky/riff/internal/experiment"
	"github.com/gkobilansky/riff/internal/server"
	"github.com/gkobilansky/riff/internal/store"
)

var port int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the riff HTTP server.

The server provides:
  - Test registry, assignment and event endpoints under /api
  - Merged variant config per subject at /api/subjects/{id}/config
  - Health check at /health and Prometheus metrics at /metrics

Example:
  riff serve --port 8080`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if port != 0 {
		cfg.Server.Port = port
	}

	return withEngine(ctx, func(engine *experiment.Engine, s *store.SQLiteStore) error {
		srv := server.New(engine, server.Options{
			Port:      cfg.Server.Port,
			Token:     cfg.Server.Token,
			TokenFile: tokenFilePath(),
			RateLimit: cfg.Server.RateLimit,
			Store:     s,
		})

		out := cmd.OutOrStdout()
		fmt.Fprintln(out)
		fmt.Fprintf(out, "riff running on http://localhost:%d\n", cfg.Server.Port)
		fmt.Fprintf(out, "Admin token: %s\n", srv.Token())
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Press Ctrl+C to stop")

		return srv.Start(ctx)
	})
}

// tokenFilePath keeps the token file alongside the database.
func tokenFilePath() string {
	return filepath.Join(filepath.Dir(cfg.Database.Path), ".riff-token")
}
