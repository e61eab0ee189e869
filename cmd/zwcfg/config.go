package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/backkem/zwave/pkg/config/devices"
	"github.com/pion/logging"
	"gopkg.in/yaml.v3"
)

// Config is the zwcfg configuration file.
type Config struct {
	DevicesDir        string `yaml:"devicesDir"`
	PriorityDir       string `yaml:"priorityDir"`
	TemplateCacheSize int    `yaml:"templateCacheSize"`
	LogLevel          string `yaml:"logLevel"`
	Strict            bool   `yaml:"strict"`
}

// DefaultConfig returns the configuration used without a config file.
func DefaultConfig() *Config {
	return &Config{
		DevicesDir: "devices",
		LogLevel:   "warn",
		Strict:     devices.StrictFromEnv(),
	}
}

// LoadConfig reads a YAML config file. Keys missing from the file keep
// their default values. An empty path returns the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if _, err := parseLogLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

var logLevels = map[string]logging.LogLevel{
	"disabled": logging.LogLevelDisabled,
	"error":    logging.LogLevelError,
	"warn":     logging.LogLevelWarn,
	"info":     logging.LogLevelInfo,
	"debug":    logging.LogLevelDebug,
	"trace":    logging.LogLevelTrace,
}

func parseLogLevel(s string) (logging.LogLevel, error) {
	level, ok := logLevels[strings.ToLower(s)]
	if !ok {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// LoggerFactory builds the logger factory for the configured level. Logs go
// to stderr so command output stays parseable.
func (c *Config) LoggerFactory() (logging.LoggerFactory, error) {
	level, err := parseLogLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	f := logging.NewDefaultLoggerFactory()
	f.DefaultLogLevel = level
	f.Writer = os.Stderr
	return f, nil
}

// ManagerConfig returns the device manager settings.
func (c *Config) ManagerConfig(lf logging.LoggerFactory) devices.ManagerConfig {
	return devices.ManagerConfig{
		DevicesDir:        c.DevicesDir,
		PriorityDir:       c.PriorityDir,
		Strict:            c.Strict,
		TemplateCacheSize: c.TemplateCacheSize,
		LoggerFactory:     lf,
	}
}
