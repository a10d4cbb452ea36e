package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetConfigCreatesDefaultFile(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg, err := GetConfig(path, path)
	require.NoError(err)

	_, err = os.Stat(path)
	require.NoError(err, "default config file should be created on first use")
	require.Equal(path, cfg.GetPath())
}

func TestGetConfigRejectsMissingExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.yaml")
	_, err := GetConfig(path, "/some/other/default.yaml")
	require.Error(t, err)
}

func TestGetConfigDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg, err := GetConfig(path, path)
	require.NoError(t, err)

	assert.Equal(t, "text", cfg.GetString("output"))
	assert.Equal(t, "error", cfg.GetString("log-level"))
	assert.Equal(t, "http://localhost:11434", cfg.GetString("ollama.base-url"))
	assert.Equal(t, "llama3.2:1b", cfg.GetString("ollama.model"))
	assert.Equal(t, 240, cfg.GetInt("ollama.request-timeout"))
	assert.True(t, cfg.GetBool("show-duration"))
}

func TestGetIntOrElse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg, err := GetConfig(path, path)
	require.NoError(t, err)

	assert.Equal(t, 99, cfg.GetIntOrElse("no.such.key", 99))
	cfg.Set("no.such.key", 7)
	assert.Equal(t, 7, cfg.GetIntOrElse("no.such.key", 99))
}

func TestBindFlagOverridesConfigValue(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg, err := GetConfig(path, path)
	require.NoError(err)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("model", "", "")
	require.NoError(flags.Parse([]string{"--model", "mistral-small"}))
	require.NoError(cfg.BindFlag("ollama.model", flags.Lookup("model")))

	require.Equal("mistral-small", cfg.GetString("ollama.model"))
}

func TestEnvironmentOverridesDefault(t *testing.T) {
	t.Setenv("CARL_OLLAMA_MODEL", "tinyllama")

	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg, err := GetConfig(path, path)
	require.NoError(t, err)

	assert.Equal(t, "tinyllama", cfg.GetString("ollama.model"))
}

func TestSaveRoundTrip(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg, err := GetConfig(path, path)
	require.NoError(err)

	cfg.Set("ollama.model", "llama3.1")
	require.NoError(cfg.Save())

	reloaded, err := GetConfig(path, path)
	require.NoError(err)
	require.Equal("llama3.1", reloaded.GetString("ollama.model"))
}
