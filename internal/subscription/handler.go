package subscription

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/brianly1003/feedwire/internal/domain"
	"github.com/brianly1003/feedwire/internal/domain/events"
	"github.com/brianly1003/feedwire/internal/domain/ports"
)

// Routes maps an event action to the subscription action whose subscribers
// receive it.
type Routes map[string]string

// IdentityRoutes routes each action to subscribers of the same action.
func IdentityRoutes(actions ...string) Routes {
	r := make(Routes, len(actions))
	for _, a := range actions {
		r[a] = a
	}
	return r
}

// Handler owns the subscription table of one entity.
type Handler struct {
	entity string
	routes Routes
	table  *Table
	sender ports.ConnectionSender
}

// NewHandler creates a handler for entity.
func NewHandler(entity string, routes Routes, sender ports.ConnectionSender) *Handler {
	if routes == nil {
		routes = Routes{}
	}
	return &Handler{
		entity: entity,
		routes: routes,
		table:  NewTable(),
		sender: sender,
	}
}

// NewAuthenticationHandler routes session updates and sign-outs.
func NewAuthenticationHandler(sender ports.ConnectionSender) *Handler {
	return NewHandler(events.EntityAuthentication,
		IdentityRoutes(events.ActionUpdate, events.ActionDelete), sender)
}

// NewUserHandler routes profile changes.
func NewUserHandler(sender ports.ConnectionSender) *Handler {
	return NewHandler(events.EntityUser,
		IdentityRoutes(events.ActionCreate, events.ActionUpdate, events.ActionDelete), sender)
}

// NewNotificationHandler routes notification lifecycle events.
func NewNotificationHandler(sender ports.ConnectionSender) *Handler {
	return NewHandler(events.EntityNotification,
		IdentityRoutes(events.ActionCreate, events.ActionUpdate, events.ActionDelete, events.ActionView), sender)
}

// Entity returns the entity name this handler owns.
func (h *Handler) Entity() string { return h.entity }

// Table exposes the handler's subscription table.
func (h *Handler) Table() *Table { return h.table }

// CanHandle reports whether the handler claims (entity, action).
func (h *Handler) CanHandle(entity, action string) bool {
	if entity != h.entity {
		return false
	}
	if events.IsControlAction(action) {
		return true
	}
	_, ok := h.routes[action]
	return ok
}

// Handle applies a control event to the table or pushes a routed event to
// subscribed connections. It returns true only when a control event was
// applied; a malformed control event is logged and reported unhandled.
func (h *Handler) Handle(ev *events.Event) bool {
	switch ev.Action {
	case events.ActionUnregister:
		return h.unregister(ev)
	case events.ActionSubscribe, events.ActionUnsubscribe:
		return h.mutate(ev)
	}

	subAction, ok := h.routes[ev.Action]
	if !ok {
		return false
	}
	h.push(ev, subAction)
	return false
}

func (h *Handler) unregister(ev *events.Event) bool {
	connectionID := ev.ContextString(events.ContextConnectionID)
	if connectionID == "" {
		log.Warn().
			Str("entity", h.entity).
			Msg("unregister event without connectionId")
		return false
	}
	userID := ev.ContextString(events.ContextUserID)

	removed := h.table.Unregister(userID, connectionID)
	log.Debug().
		Str("entity", h.entity).
		Str("user_id", userID).
		Str("connection_id", connectionID).
		Int("buckets", removed).
		Msg("connection unregistered")
	return true
}

func (h *Handler) mutate(ev *events.Event) bool {
	action := ev.ContextString(events.ContextAction)
	userID := ev.ContextString(events.ContextUserID)
	connectionID := ev.ContextString(events.ContextConnectionID)
	if action == "" || userID == "" || connectionID == "" {
		log.Warn().
			Str("entity", h.entity).
			Str("action", ev.Action).
			Interface("context", ev.Context).
			Msg("subscription event missing action, userId or connectionId")
		return false
	}

	var changed bool
	if ev.Action == events.ActionSubscribe {
		changed = h.table.Subscribe(action, userID, connectionID)
	} else {
		changed = h.table.Unsubscribe(action, userID, connectionID)
	}

	log.Debug().
		Str("entity", h.entity).
		Str("op", ev.Action).
		Str("subscription", action).
		Str("user_id", userID).
		Str("connection_id", connectionID).
		Bool("changed", changed).
		Msg("subscription updated")
	return true
}

// push sends the payload to every connection subscribed to subAction for any
// audience member. Connections that no longer exist are pruned.
func (h *Handler) push(ev *events.Event, subAction string) {
	if h.sender == nil {
		return
	}
	payload := ev.Payload()

	for _, userID := range ev.Audience {
		for _, connectionID := range h.table.Connections(subAction, userID) {
			err := h.sender.SendTo(connectionID, payload)
			if err == nil {
				targetedSends.WithLabelValues(h.entity, "ok").Inc()
				continue
			}

			if errors.Is(err, domain.ErrConnectionNotFound) {
				targetedSends.WithLabelValues(h.entity, "stale").Inc()
				h.table.Unregister(userID, connectionID)
				log.Debug().
					Str("entity", h.entity).
					Str("user_id", userID).
					Str("connection_id", connectionID).
					Msg("pruned subscription of closed connection")
				continue
			}

			targetedSends.WithLabelValues(h.entity, "error").Inc()
			log.Warn().
				Err(err).
				Str("entity", h.entity).
				Str("action", ev.Action).
				Str("user_id", userID).
				Str("connection_id", connectionID).
				Msg("failed to push event to subscribed connection")
		}
	}
}
