package websocket

import (
	"context"
	"slices"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/brianly1003/feedwire/internal/domain"
	"github.com/brianly1003/feedwire/internal/domain/events"
)

const commandTimeout = 5 * time.Second

// Command is an inbound client frame.
//
//	{"type":"subscribe","entity":"Notification","action":"create"}
type Command struct {
	Type   string `json:"type"`
	Entity string `json:"entity"`
	Action string `json:"action"`
}

// validate checks a command against the entities clients may subscribe to.
func (cmd Command) validate(entities []string) error {
	if cmd.Type != events.ActionSubscribe && cmd.Type != events.ActionUnsubscribe {
		return domain.NewValidationError("type", "must be subscribe or unsubscribe")
	}
	if !slices.Contains(entities, cmd.Entity) {
		return domain.NewValidationError("entity", "unknown entity "+cmd.Entity)
	}
	if cmd.Action == "" || events.IsControlAction(cmd.Action) {
		return domain.NewValidationError("action", "must name a content action")
	}
	return nil
}

// handleCommand turns a subscribe or unsubscribe command into the control
// event for the connection's own user.
func (m *Manager) handleCommand(c *Client, message []byte) {
	var cmd Command
	if err := json.Unmarshal(message, &cmd); err != nil {
		commandsTotal.WithLabelValues("invalid").Inc()
		c.sendError(domain.ErrCodeInvalidCommand, "malformed command")
		return
	}
	if err := cmd.validate(m.entities()); err != nil {
		commandsTotal.WithLabelValues("invalid").Inc()
		c.sendError(domain.ErrCodeInvalidCommand, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	err := m.bus.Trigger(ctx, events.Audience{c.UserID()}, cmd.Entity, cmd.Type, map[string]any{
		events.ContextAction:       cmd.Action,
		events.ContextUserID:       c.UserID(),
		events.ContextConnectionID: c.ID(),
	}, nil)
	if err != nil {
		commandsTotal.WithLabelValues("error").Inc()
		log.Warn().
			Err(err).
			Str("connection_id", c.ID()).
			Str("entity", cmd.Entity).
			Str("type", cmd.Type).
			Msg("failed to apply command")
		c.sendError(domain.ErrCodeInternalError, "command failed")
		return
	}

	commandsTotal.WithLabelValues("ok").Inc()
	log.Debug().
		Str("connection_id", c.ID()).
		Str("entity", cmd.Entity).
		Str("type", cmd.Type).
		Str("action", cmd.Action).
		Msg("command applied")
}
