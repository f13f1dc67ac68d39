// Package app orchestrates all components of feedwire.
package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/brianly1003/feedwire/internal/auth"
	"github.com/brianly1003/feedwire/internal/broker"
	"github.com/brianly1003/feedwire/internal/bus"
	"github.com/brianly1003/feedwire/internal/config"
	"github.com/brianly1003/feedwire/internal/domain/ports"
	"github.com/brianly1003/feedwire/internal/ratelimit"
	"github.com/brianly1003/feedwire/internal/security"
	httpserver "github.com/brianly1003/feedwire/internal/server/http"
	"github.com/brianly1003/feedwire/internal/server/websocket"
	"github.com/brianly1003/feedwire/internal/subscription"
)

// TriggerEntity is the rate-limit entity guarding POST /api/events.
const TriggerEntity = "events"

// shutdownTimeout bounds each shutdown step.
const shutdownTimeout = 5 * time.Second

// App is the main application struct that orchestrates all components.
type App struct {
	cfg     *config.Config
	version string

	// Core components
	broker     ports.Broker
	redis      *redis.Client
	ownsRedis  bool
	bus        *bus.Bus
	router     *subscription.Router
	sockets    *websocket.Manager
	sessions   *auth.SessionAuthenticator
	jwt        *auth.JWTAuthenticator
	limits     *ratelimit.Registry
	httpServer *httpserver.Server

	// Instance info
	instanceID string
	startTime  time.Time

	// Lifecycle
	mu      sync.RWMutex
	running bool
}

// New creates the application and wires every component. Nothing listens or
// subscribes until Start.
func New(cfg *config.Config, version string) (*App, error) {
	a := &App{
		cfg:        cfg,
		version:    version,
		instanceID: uuid.New().String(),
	}

	b, err := broker.New(broker.Options{
		Driver:        cfg.Broker.Driver,
		RedisAddr:     cfg.Redis.Addr,
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
		NATSURL:       cfg.NATS.URL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create broker: %w", err)
	}
	a.broker = b
	a.redis = a.redisClient()

	a.bus = bus.New(b, bus.WithChannel(cfg.Broker.Channel))

	// The router pushes through the manager and the manager publishes
	// through the bus, so the router is attached after both exist.
	origins := security.NewOriginChecker(cfg.Server.AllowedOrigins)
	a.sockets = websocket.NewManager(a.bus, websocket.Config{
		SendBuffer:     cfg.WebSocket.SendBuffer,
		MaxMessageSize: int64(cfg.WebSocket.MaxMessageKB) * 1024,
		CommandRate:    cfg.WebSocket.InboundRate,
		CommandBurst:   cfg.WebSocket.InboundBurst,
		CheckOrigin:    origins.CheckOrigin,
	})
	a.router = subscription.NewDefaultRouter(a.sockets)
	a.sockets.SetEntities(a.router.Entities())
	a.bus.SetRouter(a.router)

	authenticator, err := a.authenticator()
	if err != nil {
		a.closeTransports()
		return nil, err
	}

	var store ratelimit.Store
	if cfg.RateLimit.Store == "redis" {
		store = ratelimit.NewRedisStore(a.redis)
	} else {
		store = ratelimit.NewMemoryStore()
	}
	a.limits = ratelimit.NewRegistry(cfg.RateLimit.Namespace, store, Rules(cfg.RateLimit),
		ratelimit.WithClientIP(ratelimit.ClientIP(cfg.Server.TrustProxy)),
		ratelimit.WithUserID(auth.UserID),
	)

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	a.httpServer = httpserver.New(cfg.Server.Host, cfg.Server.Port, httpserver.Options{
		Trigger:       a.bus,
		Sockets:       a.sockets,
		Authenticator: authenticator,
		Limiter:       a.limits.For(TriggerEntity),
		Health:        a.health,
		MetricsPath:   metricsPath,
		Docs:          cfg.Server.Docs,
	})

	return a, nil
}

// redisClient returns the Redis connection shared by the stores. A Redis
// broker lends its own client; otherwise one is opened only if a store needs it.
func (a *App) redisClient() *redis.Client {
	if rb, ok := a.broker.(*broker.RedisBroker); ok {
		return rb.Client()
	}
	if a.cfg.RateLimit.Store != "redis" && a.cfg.Auth.SessionStore != "redis" {
		return nil
	}
	a.ownsRedis = true
	return redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
}

// authenticator builds the identity chain: session cookie first, then bearer
// token when a JWT secret is configured.
func (a *App) authenticator() (auth.Authenticator, error) {
	var sessions auth.SessionStore
	if a.cfg.Auth.SessionStore == "redis" {
		sessions = auth.NewRedisSessionStore(a.redis, a.cfg.Auth.SessionPrefix)
	} else {
		sessions = auth.NewMemorySessionStore()
	}
	a.sessions = auth.NewSessionAuthenticator(a.cfg.Auth.SessionCookie, sessions, a.cfg.Auth.SessionCacheTTL)

	chain := auth.Chain{a.sessions}
	if a.cfg.Auth.JWTSecret != "" {
		jwt, err := auth.NewJWTAuthenticator(a.cfg.Auth.JWTSecret, a.cfg.Auth.JWTIssuer)
		if err != nil {
			return nil, fmt.Errorf("failed to create token authenticator: %w", err)
		}
		a.jwt = jwt
		chain = append(chain, jwt)
	}
	return chain, nil
}

// Start starts the application and blocks until context is cancelled.
func (a *App) Start(ctx context.Context) error {
	if err := a.start(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	return a.shutdown()
}

func (a *App) start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("application is already running")
	}
	a.running = true
	a.startTime = time.Now()
	a.mu.Unlock()

	if err := broker.WaitReady(ctx, a.broker, a.cfg.Broker.ConnectTimeout); err != nil {
		a.abort()
		return fmt.Errorf("broker %s not reachable: %w", a.broker.Name(), err)
	}

	if err := a.bus.Start(ctx); err != nil {
		a.abort()
		return fmt.Errorf("failed to start event bus: %w", err)
	}

	if err := a.httpServer.Start(); err != nil {
		_ = a.bus.Stop()
		a.abort()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	log.Info().
		Str("instance_id", a.instanceID).
		Str("version", a.version).
		Str("broker", a.broker.Name()).
		Str("channel", a.bus.Channel()).
		Str("addr", a.httpServer.Addr()).
		Strs("entities", a.router.Entities()).
		Msg("feedwire started")

	return nil
}

// abort releases transports after a failed start.
func (a *App) abort() {
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
	a.closeTransports()
}

// shutdown stops components in reverse dependency order: no new requests,
// then connections (whose close handlers still use the bus), then the bus.
func (a *App) shutdown() error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	log.Info().Msg("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	if err := a.httpServer.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("error stopping HTTP server")
	}
	cancel()

	ctx, cancel = context.WithTimeout(context.Background(), shutdownTimeout)
	if err := a.sockets.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("connections did not close in time")
	}
	cancel()

	if err := a.bus.Stop(); err != nil {
		log.Error().Err(err).Msg("error stopping event bus")
	}

	a.closeTransports()
	return nil
}

func (a *App) closeTransports() {
	if a.sessions != nil {
		a.sessions.Close()
	}
	if err := a.broker.Close(); err != nil {
		log.Warn().Err(err).Str("driver", a.broker.Name()).Msg("error closing broker")
	}
	if a.ownsRedis && a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing redis client")
		}
	}
}

// Reload applies the parts of a changed config that take effect without a
// restart: rate-limit rules and the log level.
func (a *App) Reload(cfg *config.Config) {
	a.limits.Update(Rules(cfg.RateLimit))

	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil && level != zerolog.GlobalLevel() {
		zerolog.SetGlobalLevel(level)
		log.Info().Str("level", level.String()).Msg("log level changed")
	}
}

// Rules converts configured limits into limiter rules.
func Rules(cfg config.RateLimitConfig) ratelimit.Rules {
	rules := make(ratelimit.Rules, len(cfg.Rules))
	for entity, methods := range cfg.Rules {
		limits := make(map[string]ratelimit.Limit, len(methods))
		for method, rule := range methods {
			limits[method] = ratelimit.Limit{
				NumberOfRequests: rule.Requests,
				Period:           rule.Period(),
			}
		}
		rules[entity] = limits
	}
	return rules
}

// health reports component status for GET /health.
func (a *App) health() (map[string]any, bool) {
	running := a.bus.IsRunning()
	return map[string]any{
		"instance_id":    a.instanceID,
		"version":        a.version,
		"uptime_seconds": a.UptimeSeconds(),
		"broker":         a.broker.Name(),
		"bus_running":    running,
		"connections":    a.sockets.ConnectionCount(),
		"listeners":      a.bus.TotalListeners(),
	}, running
}

// UptimeSeconds returns how long the application has been running.
func (a *App) UptimeSeconds() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.startTime.IsZero() {
		return 0
	}
	return int64(time.Since(a.startTime).Seconds())
}

// IsRunning reports whether Start has completed and shutdown has not begun.
func (a *App) IsRunning() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.running
}

// InstanceID returns the identifier generated for this process.
func (a *App) InstanceID() string {
	return a.instanceID
}

// Bus returns the event bus collaborators trigger through.
func (a *App) Bus() *bus.Bus {
	return a.bus
}

// Connections returns the connection manager.
func (a *App) Connections() *websocket.Manager {
	return a.sockets
}

// TokenIssuer returns the bearer token authenticator, or nil when disabled.
func (a *App) TokenIssuer() *auth.JWTAuthenticator {
	return a.jwt
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler()
}
