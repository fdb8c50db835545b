// Package config loads the piectl configuration file.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = "piectl"
	configFile string = "config.yml"
)

// Color modes for terminal output.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Device is the path of the piehook control device.
	Device string `yaml:"device,omitempty"`
	// Timeout bounds every exchange with the driver, as accepted by
	// time.ParseDuration. Empty means no limit.
	Timeout string `yaml:"timeout,omitempty"`
	// Color selects colored output: auto, always or never.
	Color string `yaml:"color,omitempty"`
	// DefaultExport is the document written by --save.
	DefaultExport string `yaml:"default-export,omitempty"`
}

// TimeoutDuration parses Timeout.
func (c *Config) TimeoutDuration() (time.Duration, error) {
	if c.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %v", c.Timeout, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid timeout %q: negative duration", c.Timeout)
	}
	return d, nil
}

// Validate checks the values that can not be checked by the yaml decoder.
func (c *Config) Validate() error {
	switch c.Color {
	case "", ColorAuto, ColorAlways, ColorNever:
	default:
		return fmt.Errorf("invalid color mode %q", c.Color)
	}
	_, err := c.TimeoutDuration()
	return err
}

// LoadConfig attempts to populate a Config object from the config.yml file,
// creating a commented default file on first use. Problems are reported on
// stderr and an empty Config is returned.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not create config directory: %v.\n", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to get config file path: %v.\n", err)
		return &Config{}
	}
	if _, err := os.Stat(fullConfigFile); os.IsNotExist(err) {
		if err := createDefaultConfig(fullConfigFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating default config file: %v\n", err)
			return &Config{}
		}
	}
	c, err := LoadConfigFrom(fullConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v.\n", err)
		return &Config{}
	}
	return c
}

// LoadConfigFrom reads and validates the config file at path.
func LoadConfigFrom(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open config file: %v", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("unable to read config data: %v", err)
	}

	var c Config
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return nil, fmt.Errorf("unable to decode config file: %v", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %v", path, err)
	}
	return &c, nil
}

func createDefaultConfig(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("unable to create config file: %v", err)
	}
	defer f.Close()
	if err := writeDefaultConfig(f); err != nil {
		return fmt.Errorf("unable to write default configuration: %v", err)
	}
	return nil
}

func writeDefaultConfig(w io.Writer) error {
	_, err := io.WriteString(w,
		`# Configuration file for piectl.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Control device created by the piehook kernel module.
# device: /dev/piehook

# Maximum time allowed for each exchange with the driver, e.g. 2s.
# Leave unset to wait forever.
# timeout: 2s

# Colored output: auto, always or never.
# color: auto

# Document written by "piectl --save".
# default-export: ~/.config/piectl/layout.json
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	if dir := os.Getenv("PIECTL_CONFIG_DIR"); dir != "" {
		return filepath.Join(dir, file), nil
	}
	userConfigDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(userConfigDir, configDir, file), nil
}

// ExpandHome replaces a leading ~ in path with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !hasHomePrefix(path) {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

func hasHomePrefix(path string) bool {
	return len(path) >= 2 && path[0] == '~' && path[1] == filepath.Separator
}
