// Package config handles configuration management for feedwire.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides (FEEDWIRE_SERVER_PORT, ...).
const EnvPrefix = "FEEDWIRE"

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Broker    BrokerConfig    `mapstructure:"broker" yaml:"broker"`
	Redis     RedisConfig     `mapstructure:"redis" yaml:"redis"`
	NATS      NATSConfig      `mapstructure:"nats" yaml:"nats"`
	WebSocket WebSocketConfig `mapstructure:"websocket" yaml:"websocket"`
	Auth      AuthConfig      `mapstructure:"auth" yaml:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit" yaml:"ratelimit"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Host           string   `mapstructure:"host" yaml:"host"`
	Port           int      `mapstructure:"port" yaml:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	TrustProxy     bool     `mapstructure:"trust_proxy" yaml:"trust_proxy"` // Honor X-Forwarded-For / X-Real-IP
	Docs           bool     `mapstructure:"docs" yaml:"docs"`               // Serve Swagger UI at /swagger/
}

// BrokerConfig selects the pub/sub transport shared by all processes.
type BrokerConfig struct {
	Driver         string        `mapstructure:"driver" yaml:"driver"` // redis, nats or memory
	Channel        string        `mapstructure:"channel" yaml:"channel"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// RedisConfig holds the shared Redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// WebSocketConfig holds per-connection limits.
type WebSocketConfig struct {
	SendBuffer   int     `mapstructure:"send_buffer" yaml:"send_buffer"`
	MaxMessageKB int     `mapstructure:"max_message_kb" yaml:"max_message_kb"`
	InboundRate  float64 `mapstructure:"inbound_rate" yaml:"inbound_rate"` // Client commands per second
	InboundBurst int     `mapstructure:"inbound_burst" yaml:"inbound_burst"`
}

// AuthConfig holds identity settings for socket upgrades and the trigger API.
type AuthConfig struct {
	SessionCookie   string        `mapstructure:"session_cookie" yaml:"session_cookie"`
	SessionStore    string        `mapstructure:"session_store" yaml:"session_store"` // redis or memory
	SessionPrefix   string        `mapstructure:"session_prefix" yaml:"session_prefix"`
	SessionCacheTTL time.Duration `mapstructure:"session_cache_ttl" yaml:"session_cache_ttl"`
	JWTSecret       string        `mapstructure:"jwt_secret" yaml:"jwt_secret"` // Empty disables bearer tokens
	JWTIssuer       string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
}

// RateLimitConfig holds the request limiter settings.
type RateLimitConfig struct {
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
	Store     string `mapstructure:"store" yaml:"store"` // redis or memory
	// Rules maps entity -> HTTP method -> limit.
	Rules map[string]map[string]RuleConfig `mapstructure:"rules" yaml:"rules"`
}

// RuleConfig is a single request limit.
type RuleConfig struct {
	Requests int `mapstructure:"requests" yaml:"requests"`
	PeriodMS int `mapstructure:"period_ms" yaml:"period_ms"`
}

// Period returns the window length.
func (r RuleConfig) Period() time.Duration {
	return time.Duration(r.PeriodMS) * time.Millisecond
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Load loads configuration from files and environment.
func Load(configPath string) (*Config, error) {
	v, err := read(configPath)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// Watch loads the configuration and reloads it whenever the config file
// changes on disk. onChange receives every reloaded config that validates;
// invalid edits are logged and ignored. Without a config file there is
// nothing to watch and only the initial config is returned.
func Watch(configPath string, onChange func(*Config)) (*Config, error) {
	v, err := read(configPath)
	if err != nil {
		return nil, err
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	if v.ConfigFileUsed() == "" {
		return cfg, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next, err := decode(v)
		if err != nil {
			log.Warn().Err(err).Str("file", e.Name).Msg("ignoring invalid config change")
			return
		}
		log.Info().Str("file", e.Name).Msg("config reloaded")
		onChange(next)
	})
	v.WatchConfig()

	return cfg, nil
}

func read(configPath string) (*viper.Viper, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.feedwire")
		v.AddConfigPath("/etc/feedwire")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// A missing config file is fine; defaults and env cover everything.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	postProcess(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8780)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("server.docs", true)

	v.SetDefault("broker.driver", "redis")
	v.SetDefault("broker.channel", "feedwire:events")
	v.SetDefault("broker.connect_timeout", "10s")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("nats.url", "nats://127.0.0.1:4222")

	v.SetDefault("websocket.send_buffer", 1024)
	v.SetDefault("websocket.max_message_kb", 64)
	v.SetDefault("websocket.inbound_rate", 5.0)
	v.SetDefault("websocket.inbound_burst", 10)

	v.SetDefault("auth.session_cookie", "sid")
	v.SetDefault("auth.session_store", "redis")
	v.SetDefault("auth.session_prefix", "sess:")
	v.SetDefault("auth.session_cache_ttl", "30s")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_issuer", "feedwire")

	v.SetDefault("ratelimit.namespace", "feedwire")
	v.SetDefault("ratelimit.store", "redis")
	v.SetDefault("ratelimit.rules", map[string]any{
		"events": map[string]any{
			"post": map[string]any{"requests": 60, "period_ms": 60000},
		},
	})

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// postProcess normalizes values viper leaves as written.
func postProcess(cfg *Config) {
	cfg.Broker.Driver = strings.ToLower(strings.TrimSpace(cfg.Broker.Driver))
	cfg.RateLimit.Store = strings.ToLower(strings.TrimSpace(cfg.RateLimit.Store))
	cfg.Auth.SessionStore = strings.ToLower(strings.TrimSpace(cfg.Auth.SessionStore))
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	cfg.Logging.Format = strings.ToLower(cfg.Logging.Format)

	// Viper lower-cases map keys; methods are matched upper-case.
	rules := make(map[string]map[string]RuleConfig, len(cfg.RateLimit.Rules))
	for entity, methods := range cfg.RateLimit.Rules {
		normalized := make(map[string]RuleConfig, len(methods))
		for method, rule := range methods {
			normalized[strings.ToUpper(method)] = rule
		}
		rules[entity] = normalized
	}
	cfg.RateLimit.Rules = rules

	if cfg.Metrics.Path != "" && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		cfg.Metrics.Path = "/" + cfg.Metrics.Path
	}
}

// GetConfigDir returns the user config directory for feedwire.
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".feedwire"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}
