// Package config provides configuration loading and validation.
//
// Settings come from environment variables. When CONFIG_FILE names a YAML
// file, its values form the base layer and any environment variable that is
// set overrides them. ${VAR} references inside the file are expanded.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for optional settings.
const (
	DefaultLogLevel          = "info"
	DefaultListenAddr        = ":8080"
	DefaultDatabasePath      = "/data/gateway.db"
	DefaultMetricsListenAddr = "localhost:9090"
	DefaultConsoleOrigin     = "https://libsqlstudio.com"
	DefaultConsoleURL        = "https://libsqlstudio.com/embed/sqlite"
	DefaultRemoteTimeout     = 30 * time.Second
	DefaultCacheTTL          = 30 * time.Second
)

// Config holds all application configuration.
type Config struct {
	LogLevel          string        `yaml:"log_level"`           // debug, info, warn, error
	ListenAddr        string        `yaml:"listen_addr"`         // Server listen address (e.g., ":8080")
	DatabasePath      string        `yaml:"database_path"`       // SQLite database path
	EncryptionKey     string        `yaml:"encryption_key"`      // Required: passphrase for stored credentials
	AdminToken        string        `yaml:"admin_token"`         // Required: operator API token
	MetricsListenAddr string        `yaml:"metrics_listen_addr"` // Metrics listener address (e.g., "localhost:9090")
	ConsoleOrigin     string        `yaml:"console_origin"`      // Origin allowed to drive the console bridge
	ConsoleURL        string        `yaml:"console_url"`         // Page loaded in the console iframe
	RemoteTimeout     time.Duration `yaml:"-"`                   // Timeout of every sqld call
	CacheTTL          time.Duration `yaml:"-"`                   // Server info cache TTL, 0 disables

	RemoteTimeoutRaw string `yaml:"remote_timeout"`
	CacheTTLRaw      string `yaml:"cache_ttl"`
}

// env maps environment variables to the fields they set.
func (c *Config) env() map[string]*string {
	return map[string]*string{
		"LOG_LEVEL":           &c.LogLevel,
		"LISTEN_ADDR":         &c.ListenAddr,
		"DATABASE_PATH":       &c.DatabasePath,
		"ENCRYPTION_KEY":      &c.EncryptionKey,
		"ADMIN_TOKEN":         &c.AdminToken,
		"METRICS_LISTEN_ADDR": &c.MetricsListenAddr,
		"CONSOLE_ORIGIN":      &c.ConsoleOrigin,
		"CONSOLE_URL":         &c.ConsoleURL,
		"REMOTE_TIMEOUT":      &c.RemoteTimeoutRaw,
		"CACHE_TTL":           &c.CacheTTLRaw,
	}
}

// Load reads CONFIG_FILE, if set, then applies environment variables and
// defaults. It does not validate; call Validate.
func Load() (*Config, error) {
	cfg := &Config{}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	for name, field := range cfg.env() {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*field = v
		}
	}

	cfg.applyDefaults()
	if err := cfg.parseDurations(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the value of the environment
// variable, or the empty string when it is unset.
func expandEnvVars(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envRef.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.DatabasePath == "" {
		c.DatabasePath = DefaultDatabasePath
	}
	if c.MetricsListenAddr == "" {
		c.MetricsListenAddr = DefaultMetricsListenAddr
	}
	if c.ConsoleOrigin == "" {
		c.ConsoleOrigin = DefaultConsoleOrigin
	}
	if c.ConsoleURL == "" {
		c.ConsoleURL = DefaultConsoleURL
	}
}

func (c *Config) parseDurations() error {
	c.RemoteTimeout = DefaultRemoteTimeout
	if c.RemoteTimeoutRaw != "" {
		d, err := time.ParseDuration(c.RemoteTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing REMOTE_TIMEOUT: %w", err)
		}
		c.RemoteTimeout = d
	}

	c.CacheTTL = DefaultCacheTTL
	if c.CacheTTLRaw != "" {
		d, err := time.ParseDuration(c.CacheTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing CACHE_TTL: %w", err)
		}
		c.CacheTTL = d
	}
	return nil
}

// Validate checks all configuration constraints.
func (c *Config) Validate() error {
	if c.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY environment variable is required")
	}
	if c.AdminToken == "" {
		return fmt.Errorf("ADMIN_TOKEN environment variable is required")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", c.LogLevel)
	}
	if c.RemoteTimeout <= 0 {
		return fmt.Errorf("REMOTE_TIMEOUT must be positive, got %s", c.RemoteTimeout)
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("CACHE_TTL must not be negative, got %s", c.CacheTTL)
	}
	if !strings.HasPrefix(c.ConsoleOrigin, "https://") && !strings.HasPrefix(c.ConsoleOrigin, "http://") {
		return fmt.Errorf("CONSOLE_ORIGIN must be an http(s) origin, got %q", c.ConsoleOrigin)
	}
	return nil
}
