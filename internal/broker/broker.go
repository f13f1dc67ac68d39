// Package broker provides the shared pub/sub transports used by the event bus.
//
// Every driver delivers each published message to every subscriber of the
// channel, including the publishing process itself.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/brianly1003/feedwire/internal/domain/ports"
)

// Driver names.
const (
	DriverRedis  = "redis"
	DriverNATS   = "nats"
	DriverMemory = "memory"
)

// subscriberBuffer is the per-subscription message buffer.
const subscriberBuffer = 256

// Options selects and configures a driver.
type Options struct {
	Driver string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	NATSURL string
}

// New creates the broker named by opts.Driver.
func New(opts Options) (ports.Broker, error) {
	switch opts.Driver {
	case DriverRedis:
		return NewRedisBroker(RedisOptions{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		}), nil
	case DriverNATS:
		return NewNATSBroker(opts.NATSURL)
	case DriverMemory, "":
		return NewMemoryBroker(), nil
	default:
		return nil, fmt.Errorf("unknown broker driver %q", opts.Driver)
	}
}

// WaitReady pings the broker with exponential backoff until it answers or
// maxElapsed passes. It is a startup probe only; a broker lost at runtime is
// not reconnected by feedwire.
func WaitReady(ctx context.Context, b ports.Broker, maxElapsed time.Duration) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return struct{}{}, b.Ping(pingCtx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(maxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn().Err(err).Str("driver", b.Name()).Dur("retry_in", next).Msg("broker not ready")
		}),
	)
	if err != nil {
		return fmt.Errorf("broker %s not ready: %w", b.Name(), err)
	}
	return nil
}
