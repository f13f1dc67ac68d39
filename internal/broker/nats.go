package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/brianly1003/feedwire/internal/domain"
)

// NATSBroker publishes and subscribes on NATS subjects.
type NATSBroker struct {
	conn *nats.Conn

	mu   sync.Mutex
	subs map[*natsSubscription]struct{}
}

// natsSubscription forwards messages of one subject to out.
type natsSubscription struct {
	channel string
	out     chan []byte
	done    chan struct{}

	mu     sync.Mutex
	closed bool
}

func (s *natsSubscription) deliver(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.out <- data:
	case <-s.done:
	}
}

func (s *natsSubscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
}

// NewNATSBroker connects to url. Reconnection is disabled: a lost connection
// is logged and left to the process supervisor.
func NewNATSBroker(url string, opts ...nats.Option) (*NATSBroker, error) {
	b := &NATSBroker{subs: make(map[*natsSubscription]struct{})}

	defaults := []nats.Option{
		nats.NoReconnect(),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Error().Err(err).Str("url", url).Msg("nats disconnected")
			}
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			log.Error().Err(err).Str("channel", subject).Msg("nats async error")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			b.closeAll()
		}),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	b.conn = nc
	return b, nil
}

// Name returns the driver name.
func (b *NATSBroker) Name() string {
	return DriverNATS
}

// Ping round-trips to the server.
func (b *NATSBroker) Ping(ctx context.Context) error {
	if err := b.conn.FlushWithContext(ctx); err != nil {
		return domain.NewBrokerError("ping", "", err)
	}
	return nil
}

// Publish sends data on the subject named channel.
func (b *NATSBroker) Publish(_ context.Context, channel string, data []byte) error {
	if err := b.conn.Publish(channel, data); err != nil {
		return domain.NewBrokerError("publish", channel, err)
	}
	return nil
}

// Subscribe delivers messages published on channel.
func (b *NATSBroker) Subscribe(_ context.Context, channel string) (<-chan []byte, func(), error) {
	s := &natsSubscription{
		channel: channel,
		out:     make(chan []byte, subscriberBuffer),
		done:    make(chan struct{}),
	}

	sub, err := b.conn.Subscribe(channel, func(msg *nats.Msg) {
		s.deliver(msg.Data)
	})
	if err != nil {
		s.close()
		return nil, nil, domain.NewBrokerError("subscribe", channel, err)
	}
	// Flush ensures the subscription is registered on the server before
	// returning, so that messages published on other connections are routed.
	if err := b.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		s.close()
		return nil, nil, domain.NewBrokerError("subscribe", channel, err)
	}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(s.done)
			if b.conn.IsConnected() {
				if err := sub.Unsubscribe(); err != nil {
					log.Debug().Err(err).Str("channel", channel).Msg("nats unsubscribe")
				}
			}
			b.mu.Lock()
			delete(b.subs, s)
			b.mu.Unlock()
			s.close()
		})
	}
	return s.out, cancel, nil
}

// closeAll ends every open subscription after the connection is lost.
func (b *NATSBroker) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		log.Error().Str("channel", s.channel).Msg("nats connection closed")
		s.close()
	}
	b.subs = make(map[*natsSubscription]struct{})
}

// Close closes the connection. Open subscriptions are ended.
func (b *NATSBroker) Close() error {
	b.conn.Close()
	return nil
}
