package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gkobilansky/riff/internal/config"
)

func TestRenderConfig_LoadsBack(t *testing.T) {
	answers := initAnswers{
		DBPath:          "/var/lib/riff/riff.db",
		Port:            9090,
		LogFormat:       "json",
		PrimaryEvent:    "track_play",
		CollisionPolicy: config.CollisionError,
		DefaultDuration: 14 * 24 * time.Hour,
	}

	data, err := renderConfig(answers)
	if err != nil {
		t.Fatalf("renderConfig: %v", err)
	}

	path := filepath.Join(t.TempDir(), "riff.yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("config.Load: %v\n%s", err, data)
	}

	if cfg.Database.Path != answers.DBPath {
		t.Errorf("got db path %s, want %s", cfg.Database.Path, answers.DBPath)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("got port %d, want 9090", cfg.Server.Port)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("got log format %s, want json", cfg.Logging.Format)
	}
	if cfg.Experiment.PrimaryEvent != "track_play" {
		t.Errorf("got primary event %s, want track_play", cfg.Experiment.PrimaryEvent)
	}
	if cfg.Experiment.CollisionPolicy != config.CollisionError {
		t.Errorf("got collision policy %s, want error", cfg.Experiment.CollisionPolicy)
	}
	if cfg.Experiment.DefaultDuration != answers.DefaultDuration {
		t.Errorf("got duration %s, want %s", cfg.Experiment.DefaultDuration, answers.DefaultDuration)
	}
	if cfg.Experiment.MinSampleSize != config.Default().Experiment.MinSampleSize {
		t.Errorf("default min sample size not carried over: %d", cfg.Experiment.MinSampleSize)
	}
}

func TestValidatePort(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"8080", false},
		{"1", false},
		{"65535", false},
		{"0", true},
		{"70000", true},
		{"http", true},
	}

	for _, tt := range tests {
		err := validatePort(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("validatePort(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
	}
}

func TestParseVariant(t *testing.T) {
	v, err := parseVariant(`grid:3:{"layout":"grid","rows":2}`)
	if err != nil {
		t.Fatalf("parseVariant: %v", err)
	}
	if v.ID != "grid" || v.Weight != 3 {
		t.Errorf("got %+v", v)
	}
	if v.Config["layout"] != "grid" || v.Config["rows"] != float64(2) {
		t.Errorf("got config %v", v.Config)
	}

	if v, err := parseVariant("plain:1"); err != nil || v.Config != nil {
		t.Errorf("parseVariant(plain:1) = %+v, %v", v, err)
	}

	for _, bad := range []string{"noweight", "a:x", `a:1:{"broken"`} {
		if _, err := parseVariant(bad); err == nil {
			t.Errorf("parseVariant(%q) should fail", bad)
		}
	}
}

func TestFormatNumber(t *testing.T) {
	tests := map[int]string{
		0:       "0",
		999:     "999",
		1000:    "1,000",
		1234567: "1,234,567",
	}
	for n, want := range tests {
		if got := formatNumber(n); got != want {
			t.Errorf("formatNumber(%d) = %s, want %s", n, got, want)
		}
	}
}
