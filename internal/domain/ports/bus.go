// Package ports defines the interfaces between feedwire components.
package ports

import (
	"context"

	"github.com/brianly1003/feedwire/internal/domain/events"
)

// Listener represents an in-process callback bound to one user.
type Listener interface {
	// ID returns a unique identifier for this listener. It is the identity
	// used by StopListening.
	ID() string

	// Deliver hands an event payload to the listener.
	// Returns error if the listener is closed or the delivery fails.
	Deliver(payload events.Payload) error
}

// EventBus defines the contract for cross-process event distribution.
type EventBus interface {
	// Trigger publishes an event for the given audience.
	Trigger(ctx context.Context, audience events.Audience, entity, action string, eventContext, options map[string]any) error

	// Listen registers a listener under userID.
	Listen(userID string, listener Listener)

	// StopListening removes a listener previously registered under userID.
	StopListening(userID string, listener Listener)
}

// Broker is the shared pub/sub transport between processes.
type Broker interface {
	// Name identifies the driver (redis, nats, memory).
	Name() string

	// Ping checks that the transport is reachable.
	Ping(ctx context.Context) error

	// Publish sends a raw message to every subscriber of channel.
	Publish(ctx context.Context, channel string, data []byte) error

	// Subscribe delivers raw messages published on channel. Call the returned
	// cancel function to unsubscribe. The channel is closed on cancel or when
	// the underlying subscription is lost.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)

	// Close releases the transport.
	Close() error
}

// ConnectionSender pushes a payload to one specific live connection.
type ConnectionSender interface {
	SendTo(connectionID string, payload events.Payload) error
}

// EventRouter is the second delivery tier layered on top of listener fan-out.
type EventRouter interface {
	// Intercept runs synchronously in Trigger before publish. Returning true
	// consumes the event.
	Intercept(event *events.Event) bool

	// Route runs after generic fan-out for every event received by this process.
	Route(event *events.Event)
}
