package subscription

import (
	"sort"

	"github.com/brianly1003/feedwire/internal/domain/events"
	"github.com/brianly1003/feedwire/internal/domain/ports"
)

// Router dispatches events to the handler registered for their entity.
type Router struct {
	handlers map[string]*Handler
}

// NewRouter creates a router over handlers. A later handler for the same
// entity replaces an earlier one.
func NewRouter(handlers ...*Handler) *Router {
	r := &Router{handlers: make(map[string]*Handler, len(handlers))}
	for _, h := range handlers {
		r.handlers[h.Entity()] = h
	}
	return r
}

// NewDefaultRouter wires the Authentication, User and Notification handlers.
func NewDefaultRouter(sender ports.ConnectionSender) *Router {
	return NewRouter(
		NewAuthenticationHandler(sender),
		NewUserHandler(sender),
		NewNotificationHandler(sender),
	)
}

var _ ports.EventRouter = (*Router)(nil)

// Handler returns the handler for entity, or nil.
func (r *Router) Handler(entity string) *Handler {
	return r.handlers[entity]
}

// Entities returns the entities with a registered handler, sorted.
func (r *Router) Entities() []string {
	out := make([]string, 0, len(r.handlers))
	for e := range r.handlers {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// Intercept consumes control events for entities with a handler.
func (r *Router) Intercept(ev *events.Event) bool {
	if !events.IsControlAction(ev.Action) {
		return false
	}
	h, ok := r.handlers[ev.Entity]
	if !ok {
		return false
	}
	return h.Handle(ev)
}

// Route delivers a received content event to subscribed connections.
func (r *Router) Route(ev *events.Event) {
	if events.IsControlAction(ev.Action) {
		return
	}
	h, ok := r.handlers[ev.Entity]
	if !ok || !h.CanHandle(ev.Entity, ev.Action) {
		return
	}
	h.Handle(ev)
}
