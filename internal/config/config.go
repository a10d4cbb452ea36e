package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/carl-labs/carl/internal/meta"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const defaultConfigFileName = "config.yaml"

// Empty type to represent the _type_ Config. Genesis is to support a key in a Context
type Key struct{}

// ConfigKey is a global instance of the Key type
var ConfigKey = Key{}

// Hook provides a generalization of the Viper interface but allows some
// control, specifically over the Save functionality which we extend to
// provide safer file management handling.
type Hook interface {
	// Save writes the configuration to the file system
	Save() error
	// GetString returns a string value from the configuration
	GetString(key string) string
	// GetBool returns a boolean value from the configuration
	GetBool(key string) bool
	// GetInt returns an integer value from the configuration
	GetInt(key string) int
	// GetIntOrElse returns an integer value from the configuration or a default
	GetIntOrElse(key string, orElse int) int
	// Set sets an override for a given key
	Set(k string, v any)
	// Get returns a value from the configuration
	Get(key string) any
	// BindFlag takes a specific configuration path and binds it to a specific flag
	BindFlag(configPath string, f *pflag.Flag) error
	// GetPath returns the file path used to load this configuration
	GetPath() string
}

// GetDefaultConfigPath returns the expanded default config directory depending
// on what environment variables are set. If XDG_CONFIG_HOME is set, the
// default is $XDG_CONFIG_HOME/carl, otherwise os.UserHomeDir()/.config/carl.
func GetDefaultConfigPath() (string, error) {
	val, set := os.LookupEnv("XDG_CONFIG_HOME")
	if !set || val == "" {
		var err error
		val, err = os.UserHomeDir()
		if err != nil {
			return "", err
		}
		val = filepath.Join(val, ".config")
	}
	val = filepath.Join(val, meta.CLIName)
	return os.ExpandEnv(val), nil
}

// ExpandDefaultConfigFilePath returns the default config file path, or the
// empty string if the home directory cannot be resolved.
func ExpandDefaultConfigFilePath() string {
	path, err := GetDefaultConfigPath()
	if err != nil {
		return ""
	}
	return filepath.Join(path, defaultConfigFileName)
}

// GetConfig loads the configuration for this instance of the CLI. A config
// file given explicitly must exist; the default config file is created on
// first use.
func GetConfig(path string, defaultConfigFilePath string) (Hook, error) {
	path = os.ExpandEnv(path)

	vip := viper.New()
	vip.SetConfigType("yaml")
	vip.SetConfigFile(path)
	vip.SetEnvPrefix(strings.ToUpper(meta.CLIName))
	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	vip.AutomaticEnv()

	for key, value := range defaults {
		vip.SetDefault(key, value)
	}

	if _, err := os.Stat(path); err != nil {
		if path != defaultConfigFilePath {
			return nil, fmt.Errorf("the provided config file path does not exist: %s", path)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to initialize config directory: %w", err)
		}
		if err := vip.SafeWriteConfigAs(path); err != nil {
			return nil, fmt.Errorf("failed to initialize default config file: %w", err)
		}
	}

	if err := vip.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return &fileConfig{viper: vip, path: path}, nil
}

type fileConfig struct {
	viper *viper.Viper
	path  string
}

func (c *fileConfig) Save() error {
	return c.viper.WriteConfigAs(c.path)
}

func (c *fileConfig) GetString(key string) string {
	return c.viper.GetString(key)
}

func (c *fileConfig) GetBool(key string) bool {
	return c.viper.GetBool(key)
}

func (c *fileConfig) GetInt(key string) int {
	return c.viper.GetInt(key)
}

func (c *fileConfig) GetIntOrElse(key string, orElse int) int {
	if !c.viper.IsSet(key) {
		return orElse
	}
	return c.viper.GetInt(key)
}

func (c *fileConfig) Set(k string, v any) {
	c.viper.Set(k, v)
}

func (c *fileConfig) Get(key string) any {
	return c.viper.Get(key)
}

func (c *fileConfig) BindFlag(configPath string, f *pflag.Flag) error {
	return c.viper.BindPFlag(configPath, f)
}

func (c *fileConfig) GetPath() string {
	return c.path
}
