// Package config loads cellpose2onnx settings from defaults, an optional
// config file, environment variables and command line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/born-ml/cellpose2onnx/internal/catalog"
)

// EnvPrefix prefixes every environment variable the tool reads.
const EnvPrefix = "CELLPOSE2ONNX"

// CellposeModelsEnv is the variable Cellpose itself uses for its models directory.
const CellposeModelsEnv = "CELLPOSE_LOCAL_MODELS_PATH"

// Configuration keys.
const (
	KeyModelsDir       = "models_dir"
	KeyModelURL        = "model_url"
	KeyBuiltinModels   = "builtin_models"
	KeyOutputDirectory = "output_directory"
	KeyGUIAddr         = "gui.addr"
	KeyLogLevel        = "log.level"
	KeyLogFormat       = "log.format"
)

// Config is the resolved configuration.
type Config struct {
	ModelsDir       string
	ModelURL        string
	BuiltinModels   []string
	OutputDirectory string
	GUI             GUIConfig
	Log             LogConfig
}

type GUIConfig struct {
	Addr string
}

type LogConfig struct {
	Level  string
	Format string
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"output_directory": KeyOutputDirectory,
	"models_dir":       KeyModelsDir,
	"log-level":        KeyLogLevel,
	"log-format":       KeyLogFormat,
	"addr":             KeyGUIAddr,
}

// Load resolves the configuration. configFile may be empty; flags may be nil.
// Only flags present in flags and set by the user override other sources.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetDefault(KeyModelsDir, DefaultModelsDir())
	v.SetDefault(KeyModelURL, catalog.DefaultModelURL)
	v.SetDefault(KeyBuiltinModels, catalog.BuiltinModels)
	v.SetDefault(KeyOutputDirectory, "")
	v.SetDefault(KeyGUIAddr, "127.0.0.1:8086")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv(KeyModelsDir, EnvPrefix+"_MODELS_DIR", CellposeModelsEnv); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	if configFile != "" {
		v.SetConfigFile(ExpandTilde(configFile))
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{
		ModelsDir:       ExpandTilde(v.GetString(KeyModelsDir)),
		ModelURL:        v.GetString(KeyModelURL),
		BuiltinModels:   v.GetStringSlice(KeyBuiltinModels),
		OutputDirectory: ExpandTilde(v.GetString(KeyOutputDirectory)),
		GUI: GUIConfig{
			Addr: v.GetString(KeyGUIAddr),
		},
		Log: LogConfig{
			Level:  v.GetString(KeyLogLevel),
			Format: v.GetString(KeyLogFormat),
		},
	}
	if cfg.OutputDirectory == "" {
		cfg.OutputDirectory = filepath.Join(cfg.ModelsDir, "output")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ErrInvalidConfig reports an unusable configuration value.
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate checks values that have no usable fallback.
func (c *Config) Validate() error {
	if c.ModelsDir == "" {
		return fmt.Errorf("%w: %s is empty", ErrInvalidConfig, KeyModelsDir)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: %s must be text or json, got %q", ErrInvalidConfig, KeyLogFormat, c.Log.Format)
	}
	return nil
}

// DefaultModelsDir returns ~/.cellpose/models, or a relative .cellpose/models
// when the home directory is unknown.
func DefaultModelsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".cellpose", "models")
	}
	return filepath.Join(home, ".cellpose", "models")
}

// ExpandTilde replaces a leading ~ with the user's home directory.
func ExpandTilde(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
}
