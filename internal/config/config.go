package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the usagelens configuration.
type Config struct {
	Amplitude AmplitudeConfig `yaml:"amplitude"`
	Cache     CacheConfig     `yaml:"cache"`
	Query     QueryConfig     `yaml:"query"`
	Ops       OpsConfig       `yaml:"ops"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AmplitudeConfig holds analytics API credentials and retry settings.
type AmplitudeConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKey      string `yaml:"api_key"`
	SecretKey   string `yaml:"secret_key"`
	ProjectID   string `yaml:"project_id"`
	TimeoutSec  int    `yaml:"timeout_sec"`
	MaxRetries  int    `yaml:"max_retries"` // total attempts
	BaseDelayMs int    `yaml:"base_delay_ms"`
}

// CacheConfig holds memoization cache settings.
type CacheConfig struct {
	TTLMinutes int `yaml:"ttl_minutes"`
}

// QueryConfig holds query orchestration settings.
type QueryConfig struct {
	ProjectConcurrency int    `yaml:"project_concurrency"`
	DefaultLimit       int    `yaml:"default_limit"`
	OrgProperty        string `yaml:"org_property"`
}

// OpsConfig holds the optional health/metrics listener settings.
type OpsConfig struct {
	Addr        string `yaml:"addr"` // empty disables the listener
	ShutdownSec int    `yaml:"shutdown_timeout_sec"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Amplitude.BaseURL == "" {
		c.Amplitude.BaseURL = "https://amplitude.com/api/2"
	}
	if c.Amplitude.TimeoutSec <= 0 {
		c.Amplitude.TimeoutSec = 30
	}
	if c.Amplitude.MaxRetries <= 0 {
		c.Amplitude.MaxRetries = 3
	}
	if c.Amplitude.BaseDelayMs <= 0 {
		c.Amplitude.BaseDelayMs = 1000
	}
	if c.Cache.TTLMinutes <= 0 {
		c.Cache.TTLMinutes = 15
	}
	if c.Query.ProjectConcurrency <= 0 {
		c.Query.ProjectConcurrency = 1
	}
	if c.Query.DefaultLimit <= 0 {
		c.Query.DefaultLimit = 100
	}
	if c.Query.OrgProperty == "" {
		c.Query.OrgProperty = "gp:organization"
	}
	if c.Ops.ShutdownSec <= 0 {
		c.Ops.ShutdownSec = 10
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.Amplitude.APIKey == "" {
		return fmt.Errorf("amplitude.api_key is required")
	}
	if c.Amplitude.SecretKey == "" {
		return fmt.Errorf("amplitude.secret_key is required")
	}
	if c.Amplitude.ProjectID == "" {
		return fmt.Errorf("amplitude.project_id is required")
	}
	for _, prefix := range []string{"gp:", "up:", "ep:"} {
		if strings.HasPrefix(c.Query.OrgProperty, prefix) {
			return nil
		}
	}
	return fmt.Errorf("query.org_property must start with gp:, up:, or ep:, got %q", c.Query.OrgProperty)
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
