// Package config loads pipecheck configuration.
//
// Precedence, highest first: runtime overrides (command-line flags),
// environment variables (PIPECHECK_*), the config file, built-in defaults.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// AppName is used for the env prefix and the config directory.
const AppName = "pipecheck"

// EnvPrefix is prepended to every environment variable.
const EnvPrefix = "PIPECHECK"

// Config is the typed configuration.
type Config struct {
	// NCores bounds how many checks run at once.
	NCores int `mapstructure:"ncores"`

	// PollInterval is the status-tree refresh cadence.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// RateLimit caps check launches per second. 0 means unlimited.
	RateLimit float64 `mapstructure:"rate_limit"`

	// Shell is the command prefix checks run under; the check text is
	// appended as the final argument.
	Shell []string `mapstructure:"shell"`

	// SearchPaths are searched for module locators.
	SearchPaths []string `mapstructure:"search_paths"`

	Logging LoggingConfig `mapstructure:"logging"`
	Output  OutputConfig  `mapstructure:"output"`
}

// LoggingConfig configures the CLI logger.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// OutputConfig configures result output.
type OutputConfig struct {
	// Format is "tree" or "jsonl".
	Format string `mapstructure:"format"`
}

// Output formats.
const (
	FormatTree  = "tree"
	FormatJSONL = "jsonl"
)

// EnvSpec maps an environment variable to a config path.
type EnvSpec struct {
	Name string
	Path string
}

var (
	configMu   sync.RWMutex
	appConfig  *Config
	configFile string
)

// SetConfigFile selects an explicit config file. An empty path restores
// the default lookup in the user config directory.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = path
}

// Load builds the configuration. Later overrides win over earlier ones.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.RLock()
	explicit := configFile
	configMu.RUnlock()

	v := viper.New()
	setDefaults(v)

	if err := readConfigFile(v, explicit); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// Validate rejects values no command can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.NCores < 1 {
		errs = append(errs, fmt.Errorf("ncores must be at least 1, got %d", c.NCores))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval))
	}
	if c.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate_limit must not be negative, got %g", c.RateLimit))
	}
	if len(c.Shell) == 0 {
		errs = append(errs, errors.New("shell must name at least one program"))
	}
	switch c.Output.Format {
	case FormatTree, FormatJSONL:
	default:
		errs = append(errs, fmt.Errorf("output.format must be %q or %q, got %q", FormatTree, FormatJSONL, c.Output.Format))
	}
	return errors.Join(errs...)
}

// UserConfigPath returns the default config file location.
func UserConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, AppName, "config.yaml"), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ncores", 1)
	v.SetDefault("poll_interval", "800ms")
	v.SetDefault("rate_limit", 0)
	v.SetDefault("shell", []string{"/usr/bin/env", "bash", "-c"})
	v.SetDefault("search_paths", []string{"."})
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "console")
	v.SetDefault("output.format", FormatTree)
}

func readConfigFile(v *viper.Viper, explicit string) error {
	if explicit != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", explicit, err)
		}
		return nil
	}

	path, err := UserConfigPath()
	if err != nil {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// getEnvSpecs lists the short environment names that do not follow the
// PIPECHECK_<PATH> pattern.
func getEnvSpecs() []EnvSpec {
	return []EnvSpec{
		{Name: EnvPrefix + "_LOG_LEVEL", Path: "logging.level"},
		{Name: EnvPrefix + "_LOG_PROFILE", Path: "logging.profile"},
		{Name: EnvPrefix + "_NCORES", Path: "ncores"},
		{Name: EnvPrefix + "_POLL_INTERVAL", Path: "poll_interval"},
		{Name: EnvPrefix + "_RATE_LIMIT", Path: "rate_limit"},
		{Name: EnvPrefix + "_SHELL", Path: "shell"},
		{Name: EnvPrefix + "_SEARCH_PATHS", Path: "search_paths"},
		{Name: EnvPrefix + "_OUTPUT", Path: "output.format"},
	}
}

// flatten turns nested override maps into dotted viper keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := map[string]any{}
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			for sk, sv := range flatten(key, sub) {
				out[sk] = sv
			}
			continue
		}
		out[key] = val
	}
	return out
}
