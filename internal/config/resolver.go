package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

// IsSet reports whether any layer supplied the value.
func (v ResolvedValue) IsSet() bool { return strings.TrimSpace(v.Value) != "" }

type ResolveOptions struct {
	ConfigPath         string
	EnvFile            string // optional .env file, below the process environment
	CLIDBPath          string
	CLIWorkers         string
	CLIReviewThreshold string
	CLISchedule        string
}

type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	DBPath              ResolvedValue `json:"db_path"`
	Workers             ResolvedValue `json:"workers"`
	ReviewThreshold     ResolvedValue `json:"review_threshold"`
	ReaggregateSchedule ResolvedValue `json:"reaggregate_schedule"`
}

type fileConfig struct {
	DBPath              string `yaml:"db_path"`
	Workers             string `yaml:"workers"`
	ReviewThreshold     string `yaml:"review_threshold"`
	ReaggregateSchedule string `yaml:"reaggregate_schedule"`
	Aggregate           struct {
		Workers  string `yaml:"workers"`
		Schedule string `yaml:"schedule"`
	} `yaml:"aggregate"`
}

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".dossier", "config.yaml")
}

// ResolveConfig layers the config file, an optional .env file, the process
// environment and CLI flags, later layers winning. A missing config file is
// not an error; a missing .env file named explicitly is.
func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{ConfigPath: path}

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}

	if cfg != nil {
		apply(&out.DBPath, cfg.DBPath, SourceConfig, path)
		apply(&out.Workers, firstNonEmpty(cfg.Workers, cfg.Aggregate.Workers), SourceConfig, path)
		apply(&out.ReviewThreshold, cfg.ReviewThreshold, SourceConfig, path)
		apply(&out.ReaggregateSchedule, firstNonEmpty(cfg.ReaggregateSchedule, cfg.Aggregate.Schedule), SourceConfig, path)
	}

	dotenv := map[string]string{}
	if envFile := strings.TrimSpace(opts.EnvFile); envFile != "" {
		if dotenv, err = godotenv.Read(envFile); err != nil {
			return out, fmt.Errorf("reading env file %s: %w", envFile, err)
		}
	}
	envVars := []struct {
		dst *ResolvedValue
		key string
	}{
		{&out.DBPath, "DOSSIER_DB"},
		{&out.DBPath, "DOSSIER_DB_PATH"},
		{&out.Workers, "DOSSIER_WORKERS"},
		{&out.ReviewThreshold, "DOSSIER_REVIEW_THRESHOLD"},
		{&out.ReaggregateSchedule, "DOSSIER_SCHEDULE"},
	}
	for _, e := range envVars {
		apply(e.dst, dotenv[e.key], SourceEnv, opts.EnvFile+":"+e.key)
	}
	for _, e := range envVars {
		applyEnv(e.dst, e.key)
	}

	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "--db")
	apply(&out.Workers, opts.CLIWorkers, SourceCLI, "--workers")
	apply(&out.ReviewThreshold, opts.CLIReviewThreshold, SourceCLI, "--review-threshold")
	apply(&out.ReaggregateSchedule, opts.CLISchedule, SourceCLI, "--schedule")

	if out.DBPath.Value != "" {
		out.DBPath.Value = expandUserPath(out.DBPath.Value)
	}

	if _, err := out.WorkerCount(0); err != nil {
		return out, err
	}
	if _, err := out.Threshold(0); err != nil {
		return out, err
	}
	return out, nil
}

// WorkerCount returns the configured worker count, or fallback when unset.
func (r ResolvedConfig) WorkerCount(fallback int) (int, error) {
	if !r.Workers.IsSet() {
		return fallback, nil
	}
	n, err := cast.ToIntE(r.Workers.Value)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("workers %q (from %s): must be a positive integer", r.Workers.Value, describe(r.Workers))
	}
	return n, nil
}

// Threshold returns the configured review threshold, or fallback when unset.
func (r ResolvedConfig) Threshold(fallback float64) (float64, error) {
	if !r.ReviewThreshold.IsSet() {
		return fallback, nil
	}
	f, err := cast.ToFloat64E(r.ReviewThreshold.Value)
	if err != nil || f < 0 || f > 1 {
		return 0, fmt.Errorf("review_threshold %q (from %s): must be a number between 0 and 1", r.ReviewThreshold.Value, describe(r.ReviewThreshold))
	}
	return f, nil
}

func describe(v ResolvedValue) string {
	if v.From != "" {
		return v.From
	}
	return string(v.Source)
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
