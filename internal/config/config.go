// Package config handles configuration loading and validation for syncbridge.
//
// Sources, lowest precedence first: built-in defaults, a .env file, a TOML or
// YAML config file, process environment, command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tracos/syncbridge/internal/bridge"
	"github.com/tracos/syncbridge/internal/logging"
	"github.com/tracos/syncbridge/internal/retry"
)

// Config holds the application configuration.
type Config struct {
	InboundDir     string `mapstructure:"inbound_dir"`
	OutboundDir    string `mapstructure:"outbound_dir"`
	InboundPattern string `mapstructure:"inbound_pattern"`

	// StoreURI selects the backend by scheme: mongodb://, sqlite://,
	// postgres:// or memory://.
	StoreURI   string `mapstructure:"store_uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`

	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`

	MarkPolicy       string        `mapstructure:"mark_policy"`
	OutboundInterval time.Duration `mapstructure:"outbound_interval"`

	LogLevel  string `mapstructure:"log_level"`
	LogFile   string `mapstructure:"log_file"`
	LogFormat string `mapstructure:"log_format"`
}

// envNames maps config keys to the environment variables that set them.
var envNames = map[string]string{
	"inbound_dir":       "DATA_INBOUND_DIR",
	"outbound_dir":      "DATA_OUTBOUND_DIR",
	"inbound_pattern":   "DATA_INBOUND_PATTERN",
	"store_uri":         "MONGO_URI",
	"database":          "MONGO_DATABASE",
	"collection":        "MONGO_COLLECTION",
	"retry_attempts":    "MAX_RETRY_ATTEMPTS",
	"retry_delay":       "RETRY_DELAY",
	"mark_policy":       "OUTBOUND_MARK_POLICY",
	"outbound_interval": "OUTBOUND_INTERVAL",
	"log_level":         "LOG_LEVEL",
	"log_file":          "LOG_FILE",
	"log_format":        "LOG_FORMAT",
}

// Keys returns every config key.
func Keys() []string {
	keys := make([]string, 0, len(envNames))
	for k := range envNames {
		keys = append(keys, k)
	}
	return keys
}

// EnvName returns the environment variable bound to key.
func EnvName(key string) string { return envNames[key] }

// FlagName returns the command-line flag bound to key.
func FlagName(key string) string { return strings.ReplaceAll(key, "_", "-") }

// Default returns a Config with the built-in defaults.
func Default() Config {
	return Config{
		InboundDir:       filepath.Join("data", "inbound"),
		OutboundDir:      filepath.Join("data", "outbound"),
		InboundPattern:   "*.json",
		StoreURI:         "mongodb://localhost:27017",
		Database:         "tractian",
		Collection:       "workorders",
		RetryAttempts:    3,
		RetryDelay:       time.Second,
		MarkPolicy:       string(bridge.MarkAlways),
		OutboundInterval: 30 * time.Second,
		LogLevel:         "info",
		LogFormat:        logging.FormatConsole,
	}
}

func (c Config) asMap() map[string]any {
	return map[string]any{
		"inbound_dir":       c.InboundDir,
		"outbound_dir":      c.OutboundDir,
		"inbound_pattern":   c.InboundPattern,
		"store_uri":         c.StoreURI,
		"database":          c.Database,
		"collection":        c.Collection,
		"retry_attempts":    c.RetryAttempts,
		"retry_delay":       c.RetryDelay,
		"mark_policy":       c.MarkPolicy,
		"outbound_interval": c.OutboundInterval,
		"log_level":         c.LogLevel,
		"log_file":          c.LogFile,
		"log_format":        c.LogFormat,
	}
}

// Options controls where Load looks for configuration.
type Options struct {
	// ConfigFile is a .toml, .yaml or .yml file. It must exist when set.
	ConfigFile string

	// EnvFile is a dotenv file. A missing file is ignored. Defaults to .env.
	EnvFile string

	// Flags, when set, override every other source for flags the user
	// actually passed.
	Flags *pflag.FlagSet
}

// Load assembles the configuration and validates it.
func Load(opts Options) (*Config, error) {
	v := viper.New()
	for key, val := range Default().asMap() {
		v.SetDefault(key, val)
	}

	if opts.EnvFile == "" {
		opts.EnvFile = ".env"
	}
	dotenv, err := readEnvFile(opts.EnvFile)
	if err != nil {
		return nil, err
	}
	for key, env := range envNames {
		if val, ok := dotenv[env]; ok {
			v.SetDefault(key, val)
		}
	}

	if opts.ConfigFile != "" {
		values, err := readConfigFile(opts.ConfigFile)
		if err != nil {
			return nil, err
		}
		if err := v.MergeConfigMap(values); err != nil {
			return nil, fmt.Errorf("merge config file: %w", err)
		}
	}

	for key, env := range envNames {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if opts.Flags != nil {
		for key := range envNames {
			if f := opts.Flags.Lookup(FlagName(key)); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag --%s: %w", f.Name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func readEnvFile(path string) (map[string]string, error) {
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read env file %s: %w", path, err)
	}
	return values, nil
}

func readConfigFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	values := make(map[string]any)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if err := toml.Unmarshal(data, &values); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &values); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file type %q (want .toml, .yaml or .yml)", ext)
	}

	for key := range values {
		if _, ok := envNames[key]; !ok {
			return nil, fmt.Errorf("config file %s: unknown key %q", path, key)
		}
	}
	return values, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.InboundDir == "" {
		return errors.New("inbound_dir cannot be empty")
	}
	if c.OutboundDir == "" {
		return errors.New("outbound_dir cannot be empty")
	}
	if !doublestar.ValidatePattern(c.InboundPattern) {
		return fmt.Errorf("inbound_pattern %q is not a valid glob", c.InboundPattern)
	}
	if c.StoreURI == "" {
		return errors.New("store_uri cannot be empty")
	}
	if c.RetryAttempts < 1 {
		return errors.New("retry_attempts must be at least 1")
	}
	if c.RetryDelay < 0 {
		return errors.New("retry_delay cannot be negative")
	}
	if _, err := bridge.ParseMarkPolicy(c.MarkPolicy); err != nil {
		return err
	}
	if c.OutboundInterval <= 0 {
		return errors.New("outbound_interval must be positive")
	}
	switch strings.ToLower(c.LogFormat) {
	case logging.FormatConsole, logging.FormatJSON:
	default:
		return fmt.Errorf("log_format %q must be %q or %q", c.LogFormat, logging.FormatConsole, logging.FormatJSON)
	}
	return nil
}

// Retry returns the store retry policy.
func (c *Config) Retry() retry.Policy {
	return retry.Policy{MaxAttempts: c.RetryAttempts, Delay: c.RetryDelay}
}

// Mark returns the parsed outbound mark policy.
func (c *Config) Mark() bridge.MarkPolicy {
	p, _ := bridge.ParseMarkPolicy(c.MarkPolicy)
	return p
}

// Logging returns the logger options.
func (c *Config) Logging() logging.Options {
	return logging.Options{Level: c.LogLevel, File: c.LogFile, Format: c.LogFormat}
}
