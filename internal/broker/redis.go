package broker

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/brianly1003/feedwire/internal/domain"
)

var redisLoggerOnce sync.Once

// redisLogger routes go-redis internal messages (dropped connections, pool
// errors) through zerolog.
type redisLogger struct{}

func (redisLogger) Printf(_ context.Context, format string, v ...interface{}) {
	log.Warn().Str("component", "redis").Msgf(format, v...)
}

// RedisOptions holds connection settings for RedisBroker.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// RedisBroker publishes on one connection and subscribes on a second,
// dedicated one: a connection in subscribe mode cannot issue other commands.
type RedisBroker struct {
	pub *redis.Client
	sub *redis.Client
}

// NewRedisBroker creates a Redis-backed broker. Connections are opened lazily.
func NewRedisBroker(opts RedisOptions) *RedisBroker {
	redisLoggerOnce.Do(func() { redis.SetLogger(redisLogger{}) })

	ro := &redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}
	return &RedisBroker{
		pub: redis.NewClient(ro),
		sub: redis.NewClient(ro),
	}
}

// Client exposes the command connection for other Redis-backed stores.
func (b *RedisBroker) Client() *redis.Client {
	return b.pub
}

// Name returns the driver name.
func (b *RedisBroker) Name() string {
	return DriverRedis
}

// Ping checks both connections.
func (b *RedisBroker) Ping(ctx context.Context) error {
	if err := b.pub.Ping(ctx).Err(); err != nil {
		return domain.NewBrokerError("ping", "", err)
	}
	if err := b.sub.Ping(ctx).Err(); err != nil {
		return domain.NewBrokerError("ping", "", err)
	}
	return nil
}

// Publish sends data on channel.
func (b *RedisBroker) Publish(ctx context.Context, channel string, data []byte) error {
	if err := b.pub.Publish(ctx, channel, data).Err(); err != nil {
		return domain.NewBrokerError("publish", channel, err)
	}
	return nil
}

// Subscribe subscribes on the dedicated subscriber connection. A transport
// error on that connection is logged and ends the subscription: the returned
// channel is closed and nothing resubscribes.
func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	ps := b.sub.Subscribe(ctx, channel)

	// Receive blocks until the subscription is confirmed so that messages
	// published right after Subscribe returns are not missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, domain.NewBrokerError("subscribe", channel, err)
	}

	out := make(chan []byte, subscriberBuffer)
	done := make(chan struct{})

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			if err := ps.Close(); err != nil {
				log.Debug().Err(err).Str("channel", channel).Msg("closing redis subscription")
			}
		})
	}

	// Reads are interrupted by ps.Close, not by a context.
	recvCtx := context.WithoutCancel(ctx)

	go func() {
		defer close(out)
		for {
			msg, err := ps.ReceiveMessage(recvCtx)
			if err != nil {
				select {
				case <-done:
				default:
					log.Error().Err(err).Str("channel", channel).Msg("redis subscription lost")
					// Stop the client from resubscribing behind our back.
					cancel()
				}
				return
			}
			select {
			case out <- []byte(msg.Payload):
			case <-done:
				return
			}
		}
	}()

	return out, cancel, nil
}

// Close closes both connections.
func (b *RedisBroker) Close() error {
	errPub := b.pub.Close()
	errSub := b.sub.Close()
	if errPub != nil {
		return errPub
	}
	return errSub
}
