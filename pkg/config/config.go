package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/jpfielding/shrink.go/pkg/dispatch"
	"github.com/jpfielding/shrink.go/pkg/intake"
	"github.com/jpfielding/shrink.go/pkg/shrink"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override (e.g., SHRINK_QUALITY)
const EnvPrefix = "SHRINK_"

// Config represents the application configuration
type Config struct {
	Compression shrink.Settings `yaml:"compression"`
	Offload     OffloadConfig   `yaml:"offload"`
	Intake      IntakeConfig    `yaml:"intake"`
	Output      OutputConfig    `yaml:"output"`
	Log         LogConfig       `yaml:"log"`
}

type OffloadConfig struct {
	Enabled         bool `yaml:"enabled"`
	ThresholdPixels int  `yaml:"threshold_pixels"`
}

type IntakeConfig struct {
	MaxFileSize int64    `yaml:"max_file_size"`
	Types       []string `yaml:"types"`
}

type OutputConfig struct {
	Dir string `yaml:"dir"`
	Zip string `yaml:"zip"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	JSON       bool   `yaml:"json"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Compression: shrink.DefaultSettings(),
		Offload: OffloadConfig{
			Enabled:         dispatch.DefaultPolicy().Available,
			ThresholdPixels: dispatch.DefaultThresholdPixels,
		},
		Intake: IntakeConfig{
			MaxFileSize: intake.MaxFileSize,
			Types:       append([]string(nil), intake.DefaultTypes...),
		},
		Output: OutputConfig{Dir: "compressed-images"},
		Log: LogConfig{
			Level:      "INFO",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads the YAML file at path over the defaults (a missing file keeps the
// defaults), then applies .env and SHRINK_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			slog.Debug("config file not found, using defaults", "path", path)
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	// .env is optional; real environment variables win over it
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(EnvPrefix + key)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}
	if v, ok := get("QUALITY"); ok {
		q, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sQUALITY: %w", EnvPrefix, err)
		}
		c.Compression.Quality = q
	}
	for key, dst := range map[string]*int{
		"MAX_WIDTH":         &c.Compression.MaxWidth,
		"MAX_HEIGHT":        &c.Compression.MaxHeight,
		"OFFLOAD_THRESHOLD": &c.Offload.ThresholdPixels,
	} {
		if v, ok := get(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = n
		}
	}
	if v, ok := get("OFFLOAD"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sOFFLOAD: %w", EnvPrefix, err)
		}
		c.Offload.Enabled = b
	}
	if v, ok := get("FORMAT"); ok {
		c.Compression.OutputFormat = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := get("LOG_FILE"); ok {
		c.Log.File = v
	}
	return nil
}

// Validate checks the compression settings and limits
func (c *Config) Validate() error {
	if err := c.Compression.Validate(); err != nil {
		return err
	}
	if c.Offload.ThresholdPixels < 0 {
		return fmt.Errorf("offload.threshold_pixels must not be negative")
	}
	if c.Intake.MaxFileSize < 0 {
		return fmt.Errorf("intake.max_file_size must not be negative")
	}
	if len(c.Intake.Types) == 0 {
		return fmt.Errorf("intake.types must not be empty")
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.Log.Level))); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// Policy converts the offload section into a dispatch policy
func (c *Config) Policy() dispatch.Policy {
	return dispatch.Policy{Available: c.Offload.Enabled, ThresholdPixels: c.Offload.ThresholdPixels}
}

// Rules converts the intake section into intake rules
func (c *Config) Rules() intake.Rules {
	return intake.Rules{Types: c.Intake.Types, MaxFileSize: c.Intake.MaxFileSize}
}

// Level parses Log.Level, defaulting to INFO
func (c *Config) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.Log.Level))); err != nil {
		return slog.LevelInfo
	}
	return level
}
