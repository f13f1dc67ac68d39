package config

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

var (
	brokerDrivers = []string{"redis", "nats", "memory"}
	storeKinds    = []string{"redis", "memory"}
	logFormats    = []string{"console", "json"}

	limitableMethods = []string{
		http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions,
	}
)

// Validate validates the configuration.
func Validate(cfg *Config) error {
	if err := validateServer(&cfg.Server); err != nil {
		return err
	}

	if err := validateBroker(cfg); err != nil {
		return err
	}

	if err := validateWebSocket(&cfg.WebSocket); err != nil {
		return err
	}

	if err := validateAuth(&cfg.Auth); err != nil {
		return err
	}

	if err := validateRateLimit(&cfg.RateLimit); err != nil {
		return err
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Path == "" {
		return fmt.Errorf("metrics.path cannot be empty when metrics are enabled")
	}

	return validateLogging(&cfg.Logging)
}

func validateServer(cfg *ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if cfg.Host == "" {
		return fmt.Errorf("server.host cannot be empty")
	}

	for _, origin := range cfg.AllowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			return fmt.Errorf("server.allowed_origins contains an empty value")
		}
		if origin == "*" || strings.HasPrefix(origin, "*.") {
			continue
		}
		if err := validateURL(origin, "server.allowed_origins", []string{"http", "https"}); err != nil {
			return err
		}
	}

	return nil
}

// validateBroker checks the transport and every Redis/NATS consumer of it.
func validateBroker(cfg *Config) error {
	if !oneOf(cfg.Broker.Driver, brokerDrivers) {
		return fmt.Errorf("broker.driver must be one of: %s", strings.Join(brokerDrivers, ", "))
	}
	if strings.TrimSpace(cfg.Broker.Channel) == "" {
		return fmt.Errorf("broker.channel cannot be empty")
	}
	if cfg.Broker.ConnectTimeout <= 0 {
		return fmt.Errorf("broker.connect_timeout must be positive")
	}

	needsRedis := cfg.Broker.Driver == "redis" ||
		cfg.RateLimit.Store == "redis" ||
		cfg.Auth.SessionStore == "redis"
	if needsRedis && cfg.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is used as broker or store")
	}
	if cfg.Redis.DB < 0 {
		return fmt.Errorf("redis.db cannot be negative")
	}

	if cfg.Broker.Driver == "nats" {
		if err := validateURL(cfg.NATS.URL, "nats.url", []string{"nats", "tls"}); err != nil {
			return err
		}
	}

	return nil
}

func validateWebSocket(cfg *WebSocketConfig) error {
	if cfg.SendBuffer < 1 {
		return fmt.Errorf("websocket.send_buffer must be at least 1")
	}
	if cfg.MaxMessageKB < 1 {
		return fmt.Errorf("websocket.max_message_kb must be at least 1")
	}
	if cfg.MaxMessageKB > 10240 { // 10MB max
		return fmt.Errorf("websocket.max_message_kb cannot exceed 10240 (10MB)")
	}
	if cfg.InboundRate <= 0 {
		return fmt.Errorf("websocket.inbound_rate must be positive")
	}
	if cfg.InboundBurst < 1 {
		return fmt.Errorf("websocket.inbound_burst must be at least 1")
	}
	return nil
}

func validateAuth(cfg *AuthConfig) error {
	if cfg.SessionCookie == "" {
		return fmt.Errorf("auth.session_cookie cannot be empty")
	}
	if !oneOf(cfg.SessionStore, storeKinds) {
		return fmt.Errorf("auth.session_store must be one of: %s", strings.Join(storeKinds, ", "))
	}
	if cfg.SessionCacheTTL < 0 {
		return fmt.Errorf("auth.session_cache_ttl cannot be negative")
	}
	if cfg.JWTSecret != "" && len(cfg.JWTSecret) < 16 {
		return fmt.Errorf("auth.jwt_secret must be at least 16 characters")
	}
	return nil
}

func validateRateLimit(cfg *RateLimitConfig) error {
	if cfg.Namespace == "" {
		return fmt.Errorf("ratelimit.namespace cannot be empty")
	}
	if !oneOf(cfg.Store, storeKinds) {
		return fmt.Errorf("ratelimit.store must be one of: %s", strings.Join(storeKinds, ", "))
	}

	for entity, methods := range cfg.Rules {
		for method, rule := range methods {
			field := fmt.Sprintf("ratelimit.rules.%s.%s", entity, strings.ToLower(method))
			if !oneOf(method, limitableMethods) {
				return fmt.Errorf("%s: unknown HTTP method", field)
			}
			if rule.Requests < 1 {
				return fmt.Errorf("%s.requests must be at least 1", field)
			}
			if rule.PeriodMS < 1 {
				return fmt.Errorf("%s.period_ms must be at least 1", field)
			}
		}
	}

	return nil
}

func validateLogging(cfg *LoggingConfig) error {
	if _, err := zerolog.ParseLevel(cfg.Level); err != nil {
		return fmt.Errorf("logging.level is invalid: %s", cfg.Level)
	}
	if !oneOf(cfg.Format, logFormats) {
		return fmt.Errorf("logging.format must be one of: %s", strings.Join(logFormats, ", "))
	}
	return nil
}

// validateURL validates that a URL is well-formed and uses an allowed scheme.
func validateURL(rawURL, fieldName string, allowedSchemes []string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", fieldName, err)
	}

	if parsed.Host == "" {
		return fmt.Errorf("%s must include a host", fieldName)
	}

	for _, scheme := range allowedSchemes {
		if strings.EqualFold(parsed.Scheme, scheme) {
			return nil
		}
	}
	return fmt.Errorf("%s must use one of these schemes: %s", fieldName, strings.Join(allowedSchemes, ", "))
}

func oneOf(value string, allowed []string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}
