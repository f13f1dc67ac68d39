// Package http implements the HTTP surface of feedwire: the socket upgrade,
// the collaborator trigger endpoint, health and metrics.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/brianly1003/feedwire/docs"
	"github.com/brianly1003/feedwire/internal/auth"
	"github.com/brianly1003/feedwire/internal/domain"
	"github.com/brianly1003/feedwire/internal/domain/events"
	"github.com/brianly1003/feedwire/internal/ratelimit"
	"github.com/brianly1003/feedwire/internal/server/http/middleware"
)

// maxTriggerBody caps POST /api/events request bodies.
const maxTriggerBody = 1 << 20

// EventTrigger publishes events on behalf of collaborators.
type EventTrigger interface {
	TriggerEvent(ctx context.Context, event *events.Event) error
}

// Options wires the server's collaborators.
type Options struct {
	Trigger       EventTrigger
	Sockets       http.Handler
	Authenticator auth.Authenticator
	Limiter       *ratelimit.Limiter
	// Health reports component status. A false second value marks the
	// process degraded.
	Health      func() (map[string]any, bool)
	MetricsPath string
	// Docs mounts the Swagger UI under /swagger/.
	Docs bool
}

// Server is the HTTP server.
type Server struct {
	addr   string
	opts   Options
	router *mux.Router
	server *http.Server
}

// New creates the server and registers its routes.
func New(host string, port int, opts Options) *Server {
	s := &Server{
		addr:   fmt.Sprintf("%s:%d", host, port),
		opts:   opts,
		router: mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	if s.opts.MetricsPath != "" {
		s.router.Handle(s.opts.MetricsPath, promhttp.Handler()).Methods(http.MethodGet)
	}

	if s.opts.Docs {
		// Swagger UI endpoint (REST API docs)
		s.router.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
			httpSwagger.DeepLinking(true),
			httpSwagger.DocExpansion("none"),
			httpSwagger.DomID("swagger-ui"),
		))
	}

	var identify func(http.Handler) http.Handler = func(h http.Handler) http.Handler { return h }
	if s.opts.Authenticator != nil {
		identify = auth.Attach(s.opts.Authenticator)
	}

	if s.opts.Sockets != nil {
		s.router.Handle("/ws", identify(s.opts.Sockets))
	}

	if s.opts.Trigger != nil {
		var trigger http.Handler = http.HandlerFunc(s.handleTrigger)
		if s.opts.Limiter != nil {
			trigger = middleware.RateLimit(s.opts.Limiter)(trigger)
		}
		s.router.Handle("/api/events", identify(auth.Require(trigger))).Methods(http.MethodPost)
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Start starts listening in the background.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.router,
		// No ReadTimeout/WriteTimeout: they would cut long-lived sockets.
		// The socket pumps manage their own deadlines.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("HTTP server starting")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	log.Info().Msg("HTTP server stopping")
	return s.server.Shutdown(ctx)
}

// handleHealth handles GET /health
//
//	@Summary		Health check
//	@Description	Reports the bus, broker and connection state of this process.
//	@Tags			health
//	@Produce		json
//	@Success		200	{object}	HealthResponse
//	@Failure		503	{object}	HealthResponse	"Bus subscription lost"
//	@Router			/health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}

	status := http.StatusOK
	if s.opts.Health != nil {
		details, healthy := s.opts.Health()
		for k, v := range details {
			response[k] = v
		}
		if !healthy {
			response["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, response)
}

// handleTrigger handles POST /api/events
//
//	@Summary		Publish an event
//	@Description	Publishes a content event to every feedwire process. Subscription
//	@Description	actions (subscribe, unsubscribe, unregister) are only accepted over the socket.
//	@Tags			events
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			event	body		events.Event	true	"Event to publish"
//	@Success		202		{object}	TriggerResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		401		{object}	ErrorResponse
//	@Failure		413		{object}	ErrorResponse
//	@Failure		429		{object}	ErrorResponse
//	@Failure		502		{object}	ErrorResponse
//	@Router			/api/events [post]
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTriggerBody+1))
	if err != nil {
		writeJSONError(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if len(body) > maxTriggerBody {
		writeJSONError(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	var event events.Event
	if err := json.Unmarshal(body, &event); err != nil {
		writeJSONError(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := event.Validate(); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	// Subscription tables live in the process holding the socket, so control
	// actions are only accepted as socket commands.
	if events.IsControlAction(event.Action) {
		writeJSONError(w, "subscription actions are issued over the socket", http.StatusBadRequest)
		return
	}
	if event.Context == nil {
		event.Context = map[string]any{}
	}
	if event.Options == nil {
		event.Options = map[string]any{}
	}

	if err := s.opts.Trigger.TriggerEvent(r.Context(), &event); err != nil {
		log.Error().
			Err(err).
			Str("entity", event.Entity).
			Str("action", event.Action).
			Str("user_id", auth.UserID(r)).
			Msg("failed to trigger event")
		status := http.StatusBadGateway
		if errors.Is(err, domain.ErrInvalidEvent) || errors.Is(err, domain.ErrEmptyAudience) {
			status = http.StatusBadRequest
		}
		writeJSONError(w, "event not published", status)
		return
	}

	writeJSON(w, http.StatusAccepted, TriggerResponse{
		Status:   "accepted",
		Entity:   event.Entity,
		Action:   event.Action,
		Audience: len(event.Audience),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeJSONError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
