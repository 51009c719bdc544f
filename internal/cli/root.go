package cli

import (
	"github.com/spf13/cobra"

	"github.com/gkobilansky/riff/internal/config"
	"github.com/gkobilansky/riff/internal/logging"
)

var (
	configPath string
	dbPath     string
	logLevel   string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "riff",
	Short: "riff - A/B testing engine for recommendation experiments",
	Long: `riff runs A/B tests over recommendation surfaces.

It buckets subjects into weighted variants deterministically, records their
listening and click events, and reports per-variant metrics with a
two-proportion significance test. State lives in an embedded SQLite database.

Running without a subcommand starts the server (same as 'riff serve').`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	RunE:              runServe,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $RIFF_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides database.path)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides logging.level)")
	rootCmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
}

// loadConfig resolves configuration before any command runs. Flags beat
// environment, which beats the config file.
func loadConfig(cmd *cobra.Command, args []string) error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if dbPath != "" {
		c.Database.Path = dbPath
	}
	if logLevel != "" {
		c.Logging.Level = logLevel
	}

	logging.Init(logging.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})
	cfg = c
	return nil
}
