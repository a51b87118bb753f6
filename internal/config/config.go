package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/0xReLogic/recettes/internal/utils"
)

const (
	DefaultPort            = 8081
	DefaultHost            = "0.0.0.0"
	DefaultMaxPortAttempts = 10
	DefaultStaticDir       = "web"
	DefaultMealDBBaseURL   = "https://www.themealdb.com/api/json/v1/1"
	DefaultMealDBTimeoutMs = 10000
	DefaultMaxConcurrency  = 4
	DefaultAdminPort       = 9091
	DefaultMetricsPath     = "/metrics"
)

// Config represents the main configuration structure for recettes
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	MealDB         MealDBConfig         `yaml:"mealdb"`
	Logging        LoggingConfig        `yaml:"logging"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Metrics        MetricsConfig        `yaml:"metrics"`
	AdminAPI       AdminAPIConfig       `yaml:"admin_api"`
	Plugins        PluginsConfig        `yaml:"plugins"`
}

// ServerConfig holds the public server configuration
type ServerConfig struct {
	Host            string         `yaml:"host"`
	Port            int            `yaml:"port"`
	MaxPortAttempts int            `yaml:"max_port_attempts"`
	StaticDir       string         `yaml:"static_dir"`
	Timeouts        TimeoutsConfig `yaml:"timeouts"`
	// TrustedProxies may set X-Forwarded-For / X-Real-IP; empty trusts nobody
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// TimeoutsConfig holds HTTP server timeouts in seconds
type TimeoutsConfig struct {
	Read     int `yaml:"read"`
	Write    int `yaml:"write"`
	Idle     int `yaml:"idle"`
	Shutdown int `yaml:"shutdown"`
}

// MealDBConfig configures the upstream recipe API client
type MealDBConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutMs      int    `yaml:"timeout_ms"`
	FanOut         bool   `yaml:"fan_out"`
	MaxConcurrency int    `yaml:"max_concurrency"`
}

// LoggingConfig controls the global logger and request identifiers
type LoggingConfig struct {
	Level         string          `yaml:"level"`
	Format        string          `yaml:"format"`
	IncludeCaller bool            `yaml:"include_caller"`
	RequestID     RequestIDConfig `yaml:"request_id"`
	Trace         TraceConfig     `yaml:"trace"`
}

// RequestIDConfig controls request id propagation
type RequestIDConfig struct {
	Enabled bool   `yaml:"enabled"`
	Header  string `yaml:"header"`
}

// TraceConfig controls trace id propagation
type TraceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Header  string `yaml:"header"`
}

// RateLimitConfig configures per-client rate limiting on API routes
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// CircuitBreakerConfig configures the breaker guarding upstream calls
type CircuitBreakerConfig struct {
	Enabled          bool `yaml:"enabled"`
	FailureThreshold int  `yaml:"failure_threshold"`
	SuccessThreshold int  `yaml:"success_threshold"`
	TimeoutMs        int  `yaml:"timeout_ms"`
	MaxHalfOpen      int  `yaml:"max_half_open"`
}

// MetricsConfig configures the Prometheus endpoint on the admin server
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AdminAPIConfig configures the admin server
type AdminAPIConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Port      int      `yaml:"port"`
	AuthToken string   `yaml:"auth_token"`
	AllowList []string `yaml:"allow_list"`
	DenyList  []string `yaml:"deny_list"`
}

// PluginsConfig lists the middleware chain applied to the public handler
type PluginsConfig struct {
	Enabled bool           `yaml:"enabled"`
	Chain   []PluginConfig `yaml:"chain"`
}

// PluginConfig is a single named plugin with free-form settings
type PluginConfig struct {
	Name   string                 `yaml:"name"`
	Config map[string]interface{} `yaml:"config"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// LoadConfig loads configuration from the specified YAML file
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	config.ApplyDefaults()
	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadOrDefault loads filePath if it exists and falls back to defaults otherwise.
// An empty path always yields defaults.
func LoadOrDefault(filePath string) (*Config, error) {
	if filePath != "" {
		if _, err := os.Stat(filePath); err == nil {
			return LoadConfig(filePath)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := Default()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every zero value with its default
func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.MaxPortAttempts == 0 {
		c.Server.MaxPortAttempts = DefaultMaxPortAttempts
	}
	if c.Server.StaticDir == "" {
		c.Server.StaticDir = DefaultStaticDir
	}
	if c.Server.Timeouts.Read == 0 {
		c.Server.Timeouts.Read = 15
	}
	if c.Server.Timeouts.Write == 0 {
		// all-letters walks 26 upstream calls
		c.Server.Timeouts.Write = 120
	}
	if c.Server.Timeouts.Idle == 0 {
		c.Server.Timeouts.Idle = 60
	}
	if c.Server.Timeouts.Shutdown == 0 {
		c.Server.Timeouts.Shutdown = 10
	}

	if c.MealDB.BaseURL == "" {
		c.MealDB.BaseURL = DefaultMealDBBaseURL
	}
	if c.MealDB.TimeoutMs == 0 {
		c.MealDB.TimeoutMs = DefaultMealDBTimeoutMs
	}
	if c.MealDB.MaxConcurrency == 0 {
		c.MealDB.MaxConcurrency = DefaultMaxConcurrency
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 10
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}

	if c.CircuitBreaker.FailureThreshold == 0 {
		c.CircuitBreaker.FailureThreshold = 5
	}
	if c.CircuitBreaker.SuccessThreshold == 0 {
		c.CircuitBreaker.SuccessThreshold = 1
	}
	if c.CircuitBreaker.TimeoutMs == 0 {
		c.CircuitBreaker.TimeoutMs = 30000
	}
	if c.CircuitBreaker.MaxHalfOpen == 0 {
		c.CircuitBreaker.MaxHalfOpen = 1
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.AdminAPI.Port == 0 {
		c.AdminAPI.Port = DefaultAdminPort
	}
}

// applyEnv applies environment overrides; PORT replaces server.port
func (c *Config) applyEnv() error {
	raw := strings.TrimSpace(os.Getenv("PORT"))
	if raw == "" {
		return nil
	}
	port, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid PORT environment variable %q: %w", raw, err)
	}
	c.Server.Port = port
	return nil
}

// Validate checks the configuration for values that cannot work
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", c.Server.Port)
	}
	if c.Server.MaxPortAttempts < 1 {
		return fmt.Errorf("server max_port_attempts must be positive, got %d", c.Server.MaxPortAttempts)
	}
	if c.Server.Port+c.Server.MaxPortAttempts-1 > 65535 {
		return fmt.Errorf("server port range %d+%d exceeds 65535", c.Server.Port, c.Server.MaxPortAttempts)
	}

	if _, err := utils.NewClientIPResolver(c.Server.TrustedProxies); err != nil {
		return fmt.Errorf("server trusted_proxies: %w", err)
	}

	u, err := url.Parse(c.MealDB.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid mealdb base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("mealdb base_url must be http or https, got %q", c.MealDB.BaseURL)
	}
	if c.MealDB.TimeoutMs < 0 {
		return fmt.Errorf("mealdb timeout_ms must not be negative")
	}
	if c.MealDB.MaxConcurrency < 1 {
		return fmt.Errorf("mealdb max_concurrency must be positive, got %d", c.MealDB.MaxConcurrency)
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("rate_limit requests_per_second must not be negative")
	}
	if c.AdminAPI.Enabled && (c.AdminAPI.Port < 1 || c.AdminAPI.Port > 65535) {
		return fmt.Errorf("admin_api port out of range: %d", c.AdminAPI.Port)
	}
	return nil
}
