package websocket

import (
	"errors"
	"fmt"

	"github.com/brianly1003/feedwire/internal/domain"
	"github.com/brianly1003/feedwire/internal/domain/events"
	"github.com/brianly1003/feedwire/internal/domain/ports"
)

// ClientListener is the bus listener of one connection. It shares the
// connection's id.
type ClientListener struct {
	client *Client
}

// NewClientListener creates a listener writing to client.
func NewClientListener(client *Client) *ClientListener {
	return &ClientListener{client: client}
}

var _ ports.Listener = (*ClientListener)(nil)

// ID implements ports.Listener.
func (l *ClientListener) ID() string {
	return l.client.ID()
}

// Deliver serializes payload and queues it on the connection.
func (l *ClientListener) Deliver(payload events.Payload) error {
	if l.client.IsClosed() {
		return domain.ErrListenerClosed
	}

	data, err := payload.ToJSON()
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	if err := l.client.Send(data); err != nil {
		if errors.Is(err, ErrConnectionClosed) {
			return domain.ErrListenerClosed
		}
		return err
	}
	return nil
}
