package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/v2"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/gkobilansky/riff/internal/config"
	"github.com/gkobilansky/riff/internal/experiment"
)

var (
	initOutput string
	initForce  bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a riff config file interactively",
	Long: `Ask a few questions and write a riff.yaml config file.

Load it with --config riff.yaml or RIFF_CONFIG=riff.yaml. Environment
variables such as RIFF_SERVER_PORT still override the file.

Example:
  riff init --output riff.yaml`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVarP(&initOutput, "output", "o", "riff.yaml", "where to write the config")
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")
	rootCmd.AddCommand(initCmd)
}

type initAnswers struct {
	DBPath          string
	Port            int
	LogFormat       string
	PrimaryEvent    string
	CollisionPolicy string
	DefaultDuration time.Duration
}

func runInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(initOutput); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", initOutput)
	}

	answers, err := promptAnswers()
	if err != nil {
		if errors.Is(err, promptui.ErrInterrupt) {
			return nil
		}
		return err
	}

	data, err := renderConfig(answers)
	if err != nil {
		return err
	}
	if err := os.WriteFile(initOutput, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", initOutput, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Wrote %s\n\n", initOutput)
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintf(out, "  riff --config %s create shelf --variant grid:1 --variant carousel:1 --metric clicks\n", initOutput)
	fmt.Fprintf(out, "  riff --config %s serve\n", initOutput)
	return nil
}

func promptAnswers() (initAnswers, error) {
	a := initAnswers{
		DBPath:          cfg.Database.Path,
		Port:            cfg.Server.Port,
		DefaultDuration: cfg.Experiment.DefaultDuration,
	}

	dbPrompt := promptui.Prompt{Label: "Database path", Default: a.DBPath}
	dbPathAnswer, err := dbPrompt.Run()
	if err != nil {
		return a, err
	}
	a.DBPath = dbPathAnswer

	portPrompt := promptui.Prompt{Label: "Port", Default: strconv.Itoa(a.Port), Validate: validatePort}
	portAnswer, err := portPrompt.Run()
	if err != nil {
		return a, err
	}
	a.Port, _ = strconv.Atoi(portAnswer)

	if a.LogFormat, err = selectOne("Log format", []string{"console", "json"}); err != nil {
		return a, err
	}
	events := []string{
		experiment.EventRecommendationClick,
		experiment.EventTrackPlay,
		experiment.EventTrackLike,
		experiment.EventPlaylistSave,
	}
	if a.PrimaryEvent, err = selectOne("Conversion event", events); err != nil {
		return a, err
	}
	if a.CollisionPolicy, err = selectOne("When two tests set the same config key", []string{config.CollisionOverride, config.CollisionError}); err != nil {
		return a, err
	}

	return a, nil
}

func selectOne(label string, items []string) (string, error) {
	prompt := promptui.Select{Label: label, Items: items, Size: len(items)}
	_, value, err := prompt.Run()
	return value, err
}

func validatePort(s string) error {
	p, err := strconv.Atoi(s)
	if err != nil {
		return errors.New("port must be a number")
	}
	if p < 1 || p > 65535 {
		return errors.New("port must be between 1 and 65535")
	}
	return nil
}

// renderConfig lays the answers over the defaults and encodes them as YAML.
func renderConfig(a initAnswers) ([]byte, error) {
	d := config.Default()
	values := map[string]any{
		"database.path":                     a.DBPath,
		"server.port":                       a.Port,
		"server.rate_limit":                 d.Server.RateLimit,
		"logging.level":                     d.Logging.Level,
		"logging.format":                    a.LogFormat,
		"experiment.min_sample_size":        d.Experiment.MinSampleSize,
		"experiment.significance_threshold": d.Experiment.SignificanceThreshold,
		"experiment.primary_event":          a.PrimaryEvent,
		"experiment.default_duration":       a.DefaultDuration.String(),
		"experiment.collision_policy":       a.CollisionPolicy,
	}

	k := koanf.New(".")
	for key, v := range values {
		if err := k.Set(key, v); err != nil {
			return nil, fmt.Errorf("failed to set %s: %w", key, err)
		}
	}

	data, err := k.Marshal(yaml.Parser())
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return data, nil
}
