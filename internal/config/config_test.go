package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracos/syncbridge/internal/bridge"
)

// isolate clears every bound env var for the test and returns an env file
// path in a fresh directory.
func isolate(t *testing.T) string {
	t.Helper()
	for _, env := range envNames {
		t.Setenv(env, "")
		require.NoError(t, os.Unsetenv(env))
	}
	return filepath.Join(t.TempDir(), ".env")
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad_Defaults(t *testing.T) {
	envFile := isolate(t)

	cfg, err := Load(Options{EnvFile: envFile})
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
	assert.Equal(t, bridge.MarkAlways, cfg.Mark())
	assert.Equal(t, 3, cfg.Retry().MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry().Delay)
}

func TestLoad_Precedence(t *testing.T) {
	envFile := isolate(t)
	dir := filepath.Dir(envFile)

	writeFile(t, envFile, "DATA_INBOUND_DIR=/from/dotenv\nMONGO_DATABASE=dotenv_db\nMAX_RETRY_ATTEMPTS=4\nRETRY_DELAY=250ms\n")

	cfgFile := filepath.Join(dir, "syncbridge.toml")
	writeFile(t, cfgFile, `
database = "file_db"
collection = "file_coll"
outbound_interval = "1m"
`)

	t.Setenv("MONGO_COLLECTION", "env_coll")
	t.Setenv("OUTBOUND_MARK_POLICY", "on-save")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String(FlagName("collection"), "", "")
	flags.String(FlagName("log_level"), "info", "")
	require.NoError(t, flags.Parse([]string{"--collection", "flag_coll"}))

	cfg, err := Load(Options{EnvFile: envFile, ConfigFile: cfgFile, Flags: flags})
	require.NoError(t, err)

	assert.Equal(t, "/from/dotenv", cfg.InboundDir, ".env over defaults")
	assert.Equal(t, "file_db", cfg.Database, "config file over .env")
	assert.Equal(t, "flag_coll", cfg.Collection, "flag over env")
	assert.Equal(t, bridge.MarkOnSave, cfg.Mark(), "env over defaults")
	assert.Equal(t, 4, cfg.RetryAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryDelay)
	assert.Equal(t, time.Minute, cfg.OutboundInterval)
	assert.Equal(t, "info", cfg.LogLevel, "unchanged flags do not override")
}

func TestLoad_YAML(t *testing.T) {
	envFile := isolate(t)
	cfgFile := filepath.Join(filepath.Dir(envFile), "syncbridge.yaml")
	writeFile(t, cfgFile, `
store_uri: sqlite:///var/lib/syncbridge/tracos.db
inbound_pattern: "**/*.json"
log_format: json
`)

	cfg, err := Load(Options{EnvFile: envFile, ConfigFile: cfgFile})
	require.NoError(t, err)
	assert.Equal(t, "sqlite:///var/lib/syncbridge/tracos.db", cfg.StoreURI)
	assert.Equal(t, "**/*.json", cfg.InboundPattern)
	assert.Equal(t, "json", cfg.Logging().Format)
}

func TestLoad_ConfigFileErrors(t *testing.T) {
	envFile := isolate(t)
	dir := filepath.Dir(envFile)

	unknown := filepath.Join(dir, "unknown.toml")
	writeFile(t, unknown, `colour = "blue"`)
	broken := filepath.Join(dir, "broken.yaml")
	writeFile(t, broken, "database: [")
	ini := filepath.Join(dir, "syncbridge.ini")
	writeFile(t, ini, "database=x")

	for _, path := range []string{unknown, broken, ini, filepath.Join(dir, "missing.toml")} {
		_, err := Load(Options{EnvFile: envFile, ConfigFile: path})
		assert.Error(t, err, path)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty inbound", func(c *Config) { c.InboundDir = "" }},
		{"empty outbound", func(c *Config) { c.OutboundDir = "" }},
		{"bad pattern", func(c *Config) { c.InboundPattern = "[" }},
		{"empty store", func(c *Config) { c.StoreURI = "" }},
		{"zero attempts", func(c *Config) { c.RetryAttempts = 0 }},
		{"negative delay", func(c *Config) { c.RetryDelay = -time.Second }},
		{"bad policy", func(c *Config) { c.MarkPolicy = "never" }},
		{"zero interval", func(c *Config) { c.OutboundInterval = 0 }},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }},
	}

	base := Default()
	require.NoError(t, base.Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_InvalidEnv(t *testing.T) {
	envFile := isolate(t)
	t.Setenv("MAX_RETRY_ATTEMPTS", "0")

	_, err := Load(Options{EnvFile: envFile})
	assert.ErrorContains(t, err, "retry_attempts")
}

func TestKeys(t *testing.T) {
	keys := Keys()
	assert.Len(t, keys, len(Default().asMap()))
	for _, k := range keys {
		assert.NotEmpty(t, EnvName(k))
		assert.Contains(t, Default().asMap(), k)
	}
	assert.Equal(t, "retry-attempts", FlagName("retry_attempts"))
}
