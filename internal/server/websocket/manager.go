package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/brianly1003/feedwire/internal/auth"
	"github.com/brianly1003/feedwire/internal/domain"
	"github.com/brianly1003/feedwire/internal/domain/events"
	"github.com/brianly1003/feedwire/internal/domain/ports"
)

// Defaults for Config.
const (
	DefaultSendBuffer     = 1024
	DefaultMaxMessageSize = 64 * 1024
	DefaultCommandRate    = 5
	DefaultCommandBurst   = 10

	unregisterTimeout = 5 * time.Second
)

// Config tunes the connection manager.
type Config struct {
	// SendBuffer is the outbound queue length per connection.
	SendBuffer int
	// MaxMessageSize caps inbound frames in bytes.
	MaxMessageSize int64
	// CommandRate and CommandBurst throttle inbound commands per connection.
	CommandRate  float64
	CommandBurst int
	// CheckOrigin validates upgrade requests. Nil allows all origins.
	CheckOrigin func(r *http.Request) bool
	// Entities are the entities clients may subscribe to. Each receives an
	// unregister event when a connection closes.
	Entities []string
}

func (c Config) withDefaults() Config {
	if c.SendBuffer <= 0 {
		c.SendBuffer = DefaultSendBuffer
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.CommandRate <= 0 {
		c.CommandRate = DefaultCommandRate
	}
	if c.CommandBurst <= 0 {
		c.CommandBurst = DefaultCommandBurst
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = func(*http.Request) bool { return true }
	}
	return c
}

// Manager owns the live connections of this process.
type Manager struct {
	bus      ports.EventBus
	cfg      Config
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	byUser map[string][]*Client
	byID   map[string]*Client

	// closing tracks accepted connections whose close handler has not run.
	closing sync.WaitGroup
}

// NewManager creates a connection manager publishing through bus.
func NewManager(bus ports.EventBus, cfg Config) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		bus: bus,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
		byUser: make(map[string][]*Client),
		byID:   make(map[string]*Client),
	}
}

var _ ports.ConnectionSender = (*Manager)(nil)

// SetEntities replaces the subscribable entities. Used when the router is
// built after the manager.
func (m *Manager) SetEntities(entities []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Entities = append([]string(nil), entities...)
}

func (m *Manager) entities() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Entities
}

// AddConnection tracks c under userID. The same user may hold many connections.
func (m *Manager) AddConnection(userID string, c *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byUser[userID] = append(m.byUser[userID], c)
	m.byID[c.ID()] = c
}

// RemoveConnection forgets c. It is a no-op for unknown connections.
func (m *Manager) RemoveConnection(userID string, c *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conns := m.byUser[userID]
	for i, existing := range conns {
		if existing != c {
			continue
		}
		next := make([]*Client, 0, len(conns)-1)
		next = append(next, conns[:i]...)
		next = append(next, conns[i+1:]...)
		if len(next) == 0 {
			delete(m.byUser, userID)
		} else {
			m.byUser[userID] = next
		}
		delete(m.byID, c.ID())
		return
	}
}

// GetConnections returns the live connections of userID. The result is a
// copy and is empty, not nil-with-error, for unknown users.
func (m *Manager) GetConnections(userID string) []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conns := m.byUser[userID]
	out := make([]*Client, len(conns))
	copy(out, conns)
	return out
}

// Connection returns the connection with the given id.
func (m *Manager) Connection(connectionID string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byID[connectionID]
	return c, ok
}

// ConnectionCount returns the number of live connections.
func (m *Manager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// SendTo pushes payload to one connection of this process.
func (m *Manager) SendTo(connectionID string, payload events.Payload) error {
	c, ok := m.Connection(connectionID)
	if !ok || c.IsClosed() {
		return fmt.Errorf("connection %s: %w", connectionID, domain.ErrConnectionNotFound)
	}

	data, err := payload.ToJSON()
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	if err := c.Send(data); err != nil {
		if errors.Is(err, ErrConnectionClosed) {
			return fmt.Errorf("connection %s: %w", connectionID, domain.ErrConnectionNotFound)
		}
		return err
	}
	return nil
}

// ServeHTTP upgrades an authenticated request to a socket. Requests without
// an attached identity are rejected before the upgrade.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		rejectedUpgrades.Inc()
		log.Warn().
			Str("remote_addr", r.RemoteAddr).
			Msg("rejecting websocket upgrade without authenticated identity")
		auth.Unauthorized(w, "authentication required")
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("user_id", identity.UserID).Msg("failed to upgrade connection")
		return
	}

	m.accept(conn, identity.UserID)
}

func (m *Manager) accept(conn *websocket.Conn, userID string) *Client {
	c := newClient(conn, userID, m.cfg, m.handleCommand, nil)
	listener := NewClientListener(c)
	c.onClose = func(c *Client) { m.handleClose(c, listener) }

	m.closing.Add(1)
	m.AddConnection(userID, c)
	connectionsGauge.Inc()

	welcome := events.Payload{
		Entity: events.EntityConnection,
		Action: events.ActionWelcome,
		Context: map[string]any{
			events.ContextConnectionID: c.ID(),
			events.ContextUserID:       userID,
		},
		Options: map[string]any{},
	}
	if data, err := welcome.ToJSON(); err == nil {
		_ = c.Send(data)
	}

	m.bus.Listen(userID, listener)
	c.Start()

	log.Info().
		Str("connection_id", c.ID()).
		Str("user_id", userID).
		Int("total", m.ConnectionCount()).
		Msg("connection accepted")
	return c
}

// handleClose runs once per connection. The listener is removed from the
// bus before the connection is forgotten, so no late event can reach a
// dead connection record.
func (m *Manager) handleClose(c *Client, listener *ClientListener) {
	defer m.closing.Done()

	m.bus.StopListening(c.UserID(), listener)
	m.RemoveConnection(c.UserID(), c)
	connectionsGauge.Dec()

	ctx, cancel := context.WithTimeout(context.Background(), unregisterTimeout)
	defer cancel()
	for _, entity := range m.entities() {
		err := m.bus.Trigger(ctx, events.Audience{c.UserID()}, entity, events.ActionUnregister, map[string]any{
			events.ContextUserID:       c.UserID(),
			events.ContextConnectionID: c.ID(),
		}, nil)
		if err != nil {
			log.Warn().
				Err(err).
				Str("entity", entity).
				Str("connection_id", c.ID()).
				Msg("failed to unregister connection subscriptions")
		}
	}

	log.Info().
		Str("connection_id", c.ID()).
		Str("user_id", c.UserID()).
		Int("total", m.ConnectionCount()).
		Msg("connection closed")
}

// Shutdown closes every connection and waits for their close handlers.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	clients := make([]*Client, 0, len(m.byID))
	for _, c := range m.byID {
		clients = append(clients, c)
	}
	m.mu.RUnlock()

	for _, c := range clients {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		m.closing.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
