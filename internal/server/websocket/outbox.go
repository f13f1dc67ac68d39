package websocket

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	// ErrBacklogged is returned when a connection's outbox is full. The frame
	// is dropped; the connection stays open.
	ErrBacklogged = errors.New("connection backlogged")

	// ErrConnectionClosed is returned for frames pushed after close.
	ErrConnectionClosed = errors.New("connection closed")
)

// outbox holds the frames waiting to be written to one socket. Bus
// deliveries and handler pushes enqueue; writePump is the only reader.
type outbox struct {
	connectionID string
	frames       chan []byte
	closed       chan struct{}

	mu   sync.Mutex
	shut bool
}

func newOutbox(connectionID string, size int) *outbox {
	if size <= 0 {
		size = DefaultSendBuffer
	}
	return &outbox{
		connectionID: connectionID,
		frames:       make(chan []byte, size),
		closed:       make(chan struct{}),
	}
}

// push enqueues frame without blocking. It holds mu across the enqueue so no
// frame lands after close returns.
func (o *outbox) push(frame []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.shut {
		return ErrConnectionClosed
	}

	select {
	case o.frames <- frame:
		return nil
	default:
		droppedFrames.Inc()
		log.Warn().
			Str("connection_id", o.connectionID).
			Int("queued", len(o.frames)).
			Msg("connection backlogged, dropping frame")
		return ErrBacklogged
	}
}

func (o *outbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.shut {
		o.shut = true
		close(o.closed)
	}
}

func (o *outbox) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.shut
}

func (o *outbox) pending() int {
	return len(o.frames)
}
