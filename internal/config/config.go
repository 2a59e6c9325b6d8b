// Package config provides the configuration structure for xtts-generate.
//
// Configuration is optional: every value has a built-in default, a TOML file
// can override the defaults, and environment variables override the file.
// Command-line flags, handled by the driver, always win.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"

	"github.com/Olbrasoft/TextToSpeech/internal/core"
)

// Environment variable naming the config file when --config is not given.
const envConfigPath = "XTTS_GENERATE_CONFIG"

// Default config file name, looked up in the working directory.
const defaultConfigFile = "xtts-generate.toml"

// Built-in defaults.
const (
	defaultEngineBinary               = "xtts-server"
	defaultStartupTimeoutSeconds      = 120
	defaultConditioningTimeoutSeconds = 60
	defaultSynthesisTimeoutSeconds    = 300
)

// ErrConfigNotFound is returned when an explicitly requested config file
// does not exist.
var ErrConfigNotFound = errors.New("config file not found")

// EngineConfig holds the configuration for the XTTS runtime process.
type EngineConfig struct {
	Binary                     string   `env:"XTTS_ENGINE_BIN"  toml:"binary"`
	ExtraArgs                  []string `toml:"extra_args"`
	StartupTimeoutSeconds      int      `toml:"startup_timeout_seconds"`
	ConditioningTimeoutSeconds int      `toml:"conditioning_timeout_seconds"`
	SynthesisTimeoutSeconds    int      `toml:"synthesis_timeout_seconds"`
}

// SynthesisConfig holds default sampling parameters. Command-line flags
// override these per invocation.
type SynthesisConfig struct {
	Language          string  `toml:"language"`
	Temperature       float64 `toml:"temperature"`
	RepetitionPenalty float64 `toml:"repetition_penalty"`
	TopK              int     `toml:"top_k"`
	TopP              float64 `toml:"top_p"`
	Seed              int     `toml:"seed"`
}

// TextConfig holds the configuration for input-text handling.
type TextConfig struct {
	Normalize bool `toml:"normalize"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	LogsDir string `env:"XTTS_LOG_DIR" toml:"logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	Engine    EngineConfig    `toml:"engine"`
	Synthesis SynthesisConfig `toml:"synthesis"`
	Text      TextConfig      `toml:"text"`
	Paths     PathsConfig     `toml:"paths"`
}

// Default returns a configuration populated with built-in defaults.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Binary:                     defaultEngineBinary,
			ExtraArgs:                  nil,
			StartupTimeoutSeconds:      defaultStartupTimeoutSeconds,
			ConditioningTimeoutSeconds: defaultConditioningTimeoutSeconds,
			SynthesisTimeoutSeconds:    defaultSynthesisTimeoutSeconds,
		},
		Synthesis: SynthesisConfig{
			Language:          core.DefaultLanguage,
			Temperature:       core.DefaultTemperature,
			RepetitionPenalty: core.DefaultRepetitionPenalty,
			TopK:              core.DefaultTopK,
			TopP:              core.DefaultTopP,
			Seed:              0,
		},
		Text: TextConfig{
			Normalize: false,
		},
		Paths: PathsConfig{
			LogsDir: os.TempDir(),
		},
	}
}

// Load builds the effective configuration. When explicitPath is non-empty
// the file must exist; otherwise the file named by XTTS_GENERATE_CONFIG, or
// xtts-generate.toml in the working directory, is used when present, and
// silently skipped when not.
func Load(explicitPath string) (*Config, error) {
	cfg := Default()

	path, required := explicitPath, explicitPath != ""
	if path == "" {
		path = discoverConfigPath()
	}

	if path != "" {
		err := loadFile(cfg, path, required)
		if err != nil {
			return nil, err
		}
	}

	err := env.Parse(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	return cfg, nil
}

// StartupTimeout returns the engine startup timeout as a duration.
func (c *Config) StartupTimeout() time.Duration {
	return time.Duration(c.Engine.StartupTimeoutSeconds) * time.Second
}

// ConditioningTimeout returns the conditioning request timeout as a duration.
func (c *Config) ConditioningTimeout() time.Duration {
	return time.Duration(c.Engine.ConditioningTimeoutSeconds) * time.Second
}

// SynthesisTimeout returns the synthesis request timeout as a duration.
func (c *Config) SynthesisTimeout() time.Duration {
	return time.Duration(c.Engine.SynthesisTimeoutSeconds) * time.Second
}

func discoverConfigPath() string {
	if fromEnv := os.Getenv(envConfigPath); fromEnv != "" {
		return fromEnv
	}

	_, statErr := os.Stat(defaultConfigFile)
	if statErr == nil {
		return defaultConfigFile
	}

	return ""
}

func loadFile(cfg *Config, path string, required bool) error {
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		if os.IsNotExist(readErr) && !required {
			return nil
		}

		if os.IsNotExist(readErr) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}

		return fmt.Errorf("failed to read config file %s: %w", path, readErr)
	}

	unmarshalErr := toml.Unmarshal(data, cfg)
	if unmarshalErr != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, unmarshalErr)
	}

	return nil
}
