// Package config loads riff settings from defaults, an optional YAML file and
// RIFF_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	EnvPrefix     = "RIFF_"
	ConfigPathEnv = "RIFF_CONFIG"
)

// Collision policies for merged variant configs.
const (
	CollisionOverride = "override"
	CollisionError    = "error"
)

type Config struct {
	Database   DatabaseConfig   `koanf:"database"`
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Experiment ExperimentConfig `koanf:"experiment"`
}

type DatabaseConfig struct {
	Path string `koanf:"path" validate:"required"`
}

type ServerConfig struct {
	Port      int    `koanf:"port" validate:"min=1,max=65535"`
	Token     string `koanf:"token"`      // Generated at startup when empty
	RateLimit int    `koanf:"rate_limit"` // Event requests per minute per IP, 0 disables
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

type ExperimentConfig struct {
	MinSampleSize         int           `koanf:"min_sample_size" validate:"min=1"`
	SignificanceThreshold float64       `koanf:"significance_threshold" validate:"gt=0,lt=100"`
	PrimaryEvent          string        `koanf:"primary_event" validate:"required"`
	DefaultDuration       time.Duration `koanf:"default_duration" validate:"gt=0"`
	CollisionPolicy       string        `koanf:"collision_policy" validate:"oneof=override error"`
}

func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./riff.db"},
		Server: ServerConfig{
			Port:      8080,
			RateLimit: 600,
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Experiment: ExperimentConfig{
			MinSampleSize:         30,
			SignificanceThreshold: 95,
			PrimaryEvent:          "recommendation_click",
			DefaultDuration:       30 * 24 * time.Hour,
			CollisionPolicy:       CollisionOverride,
		},
	}
}

// Load layers defaults, the YAML file at path (or $RIFF_CONFIG when path is
// empty; a missing file is only an error when named explicitly) and the
// environment, then validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	explicit := path != ""
	if !explicit {
		path = os.Getenv(ConfigPathEnv)
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		} else if explicit {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps RIFF_SERVER_RATE_LIMIT to server.rate_limit: the first
// segment after the prefix is the section, the rest is the field.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(s, "_")
	if !ok {
		return s
	}
	return section + "." + field
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("invalid configuration: %s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
