package bus

import (
	"github.com/google/uuid"

	"github.com/brianly1003/feedwire/internal/domain/events"
	"github.com/brianly1003/feedwire/internal/domain/ports"
)

// ListenerFunc adapts a plain function to ports.Listener. Each adapter gets
// its own id, so two adapters around the same function are distinct listeners.
type ListenerFunc struct {
	id string
	fn func(events.Payload) error
}

// NewListenerFunc wraps fn in a listener with a fresh id.
func NewListenerFunc(fn func(events.Payload) error) *ListenerFunc {
	return &ListenerFunc{id: uuid.NewString(), fn: fn}
}

var _ ports.Listener = (*ListenerFunc)(nil)

// ID implements ports.Listener.
func (l *ListenerFunc) ID() string { return l.id }

// Deliver implements ports.Listener.
func (l *ListenerFunc) Deliver(payload events.Payload) error {
	return l.fn(payload)
}
