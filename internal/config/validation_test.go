package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: 8780},
		Broker: BrokerConfig{Driver: "redis", Channel: "feedwire:events", ConnectTimeout: 10 * time.Second},
		Redis:  RedisConfig{Addr: "127.0.0.1:6379"},
		NATS:   NATSConfig{URL: "nats://127.0.0.1:4222"},
		WebSocket: WebSocketConfig{
			SendBuffer:   1024,
			MaxMessageKB: 64,
			InboundRate:  5,
			InboundBurst: 10,
		},
		Auth: AuthConfig{SessionCookie: "sid", SessionStore: "redis", SessionCacheTTL: 30 * time.Second},
		RateLimit: RateLimitConfig{
			Namespace: "feedwire",
			Store:     "redis",
			Rules: map[string]map[string]RuleConfig{
				"events": {"POST": {Requests: 60, PeriodMS: 60000}},
			},
		},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: "",
		},
		{
			name:    "port too low",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port must be between 1 and 65535",
		},
		{
			name:    "port too high",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "server.port must be between 1 and 65535",
		},
		{
			name:    "empty host",
			mutate:  func(c *Config) { c.Server.Host = "" },
			wantErr: "server.host cannot be empty",
		},
		{
			name:    "wildcard origins",
			mutate:  func(c *Config) { c.Server.AllowedOrigins = []string{"*", "*.example.com"} },
			wantErr: "",
		},
		{
			name:    "origin without scheme",
			mutate:  func(c *Config) { c.Server.AllowedOrigins = []string{"example.com"} },
			wantErr: "server.allowed_origins must include a host",
		},
		{
			name:    "empty origin",
			mutate:  func(c *Config) { c.Server.AllowedOrigins = []string{" "} },
			wantErr: "contains an empty value",
		},
		{
			name:    "unknown broker driver",
			mutate:  func(c *Config) { c.Broker.Driver = "kafka" },
			wantErr: "broker.driver must be one of",
		},
		{
			name:    "empty channel",
			mutate:  func(c *Config) { c.Broker.Channel = "" },
			wantErr: "broker.channel cannot be empty",
		},
		{
			name:    "zero connect timeout",
			mutate:  func(c *Config) { c.Broker.ConnectTimeout = 0 },
			wantErr: "broker.connect_timeout must be positive",
		},
		{
			name:    "redis broker without addr",
			mutate:  func(c *Config) { c.Redis.Addr = "" },
			wantErr: "redis.addr is required",
		},
		{
			name: "memory everywhere needs no redis",
			mutate: func(c *Config) {
				c.Redis.Addr = ""
				c.Broker.Driver = "memory"
				c.RateLimit.Store = "memory"
				c.Auth.SessionStore = "memory"
			},
			wantErr: "",
		},
		{
			name: "nats with bad url",
			mutate: func(c *Config) {
				c.Broker.Driver = "nats"
				c.NATS.URL = "http://127.0.0.1:4222"
			},
			wantErr: "nats.url must use one of these schemes",
		},
		{
			name:    "zero send buffer",
			mutate:  func(c *Config) { c.WebSocket.SendBuffer = 0 },
			wantErr: "websocket.send_buffer must be at least 1",
		},
		{
			name:    "message size too large",
			mutate:  func(c *Config) { c.WebSocket.MaxMessageKB = 20000 },
			wantErr: "websocket.max_message_kb cannot exceed",
		},
		{
			name:    "zero inbound rate",
			mutate:  func(c *Config) { c.WebSocket.InboundRate = 0 },
			wantErr: "websocket.inbound_rate must be positive",
		},
		{
			name:    "short jwt secret",
			mutate:  func(c *Config) { c.Auth.JWTSecret = "short" },
			wantErr: "auth.jwt_secret must be at least 16 characters",
		},
		{
			name:    "unknown session store",
			mutate:  func(c *Config) { c.Auth.SessionStore = "sql" },
			wantErr: "auth.session_store must be one of",
		},
		{
			name:    "unknown ratelimit store",
			mutate:  func(c *Config) { c.RateLimit.Store = "etcd" },
			wantErr: "ratelimit.store must be one of",
		},
		{
			name: "unknown method",
			mutate: func(c *Config) {
				c.RateLimit.Rules["events"]["FETCH"] = RuleConfig{Requests: 1, PeriodMS: 1}
			},
			wantErr: "ratelimit.rules.events.fetch: unknown HTTP method",
		},
		{
			name: "zero requests",
			mutate: func(c *Config) {
				c.RateLimit.Rules["events"]["POST"] = RuleConfig{Requests: 0, PeriodMS: 1000}
			},
			wantErr: "ratelimit.rules.events.post.requests must be at least 1",
		},
		{
			name: "zero period",
			mutate: func(c *Config) {
				c.RateLimit.Rules["events"]["POST"] = RuleConfig{Requests: 1, PeriodMS: 0}
			},
			wantErr: "ratelimit.rules.events.post.period_ms must be at least 1",
		},
		{
			name:    "metrics without path",
			mutate:  func(c *Config) { c.Metrics.Path = "" },
			wantErr: "metrics.path cannot be empty",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "loud" },
			wantErr: "logging.level is invalid",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil {
				t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				return
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		raw     string
		schemes []string
		wantErr bool
	}{
		{"https://app.example.com", []string{"http", "https"}, false},
		{"HTTPS://app.example.com", []string{"http", "https"}, false},
		{"nats://10.0.0.1:4222", []string{"nats", "tls"}, false},
		{"ftp://example.com", []string{"http", "https"}, true},
		{"://missing-scheme", []string{"http"}, true},
		{"/relative/path", []string{"http"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			err := validateURL(tt.raw, "field", tt.schemes)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateURL(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
		})
	}
}
