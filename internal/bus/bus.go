// Package bus implements the cross-process event bus.
//
// Trigger publishes an event on a single shared channel. Every process,
// including the publisher, receives the message and fans it out to the
// listeners it holds locally for each user in the audience (tier 1). An
// optional router then delivers the event to individually subscribed
// connections (tier 2).
package bus

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/brianly1003/feedwire/internal/domain/events"
	"github.com/brianly1003/feedwire/internal/domain/ports"
)

// DefaultChannel is the well-known publish channel.
const DefaultChannel = "feedwire:events"

// Bus is the event bus of one process.
type Bus struct {
	broker     ports.Broker
	channel    string
	maxWorkers int

	// router is the second delivery tier; nil disables it.
	routerMu sync.RWMutex
	router   ports.EventRouter

	// listeners maps user id to that user's listeners. Slices are replaced,
	// never mutated in place, so a snapshot taken under RLock stays valid.
	mu        sync.RWMutex
	listeners map[string][]ports.Listener

	// deliveryMu is held for reading while listeners are being invoked.
	// StopListening takes it for writing to wait out in-flight deliveries.
	deliveryMu sync.RWMutex

	// Lifecycle
	runMu     sync.Mutex
	running   bool
	stopping  bool
	cancelSub func()
	loopDone  chan struct{}
}

// Option configures a Bus.
type Option func(*Bus)

// WithChannel overrides the publish channel name.
func WithChannel(channel string) Option {
	return func(b *Bus) {
		if channel != "" {
			b.channel = channel
		}
	}
}

// WithMaxWorkers bounds concurrent listener invocations per event.
func WithMaxWorkers(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.maxWorkers = n
		}
	}
}

// WithRouter installs the second delivery tier.
func WithRouter(r ports.EventRouter) Option {
	return func(b *Bus) {
		b.router = r
	}
}

// New creates a bus on top of broker.
func New(broker ports.Broker, opts ...Option) *Bus {
	b := &Bus{
		broker:     broker,
		channel:    DefaultChannel,
		maxWorkers: runtime.GOMAXPROCS(0),
		listeners:  make(map[string][]ports.Listener),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

var _ ports.EventBus = (*Bus)(nil)

// SetRouter installs the second delivery tier after construction. Routers
// usually depend on the connection manager, which itself depends on the bus.
func (b *Bus) SetRouter(r ports.EventRouter) {
	b.routerMu.Lock()
	defer b.routerMu.Unlock()
	b.router = r
}

func (b *Bus) currentRouter() ports.EventRouter {
	b.routerMu.RLock()
	defer b.routerMu.RUnlock()
	return b.router
}

// Channel returns the publish channel name.
func (b *Bus) Channel() string {
	return b.channel
}

// Start subscribes to the publish channel and begins handling messages.
func (b *Bus) Start(ctx context.Context) error {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.running {
		return nil
	}
	if b.cancelSub != nil {
		// Left over from a lost subscription.
		b.cancelSub()
		b.cancelSub = nil
	}

	msgs, cancel, err := b.broker.Subscribe(ctx, b.channel)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", b.channel, err)
	}

	b.cancelSub = cancel
	b.loopDone = make(chan struct{})
	b.running = true
	b.stopping = false

	go b.run(msgs, b.loopDone)

	log.Info().
		Str("channel", b.channel).
		Str("driver", b.broker.Name()).
		Msg("event bus started")
	return nil
}

// Stop unsubscribes and waits for the receive loop to exit. After a lost
// subscription the bus is no longer running but the broker subscription is
// still released here.
func (b *Bus) Stop() error {
	b.runMu.Lock()
	running := b.running
	b.stopping = true
	cancel := b.cancelSub
	b.cancelSub = nil
	done := b.loopDone
	b.runMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if !running {
		return nil
	}
	<-done

	b.runMu.Lock()
	b.running = false
	b.runMu.Unlock()

	log.Info().Str("channel", b.channel).Msg("event bus stopped")
	return nil
}

// IsRunning returns true while the bus is subscribed.
func (b *Bus) IsRunning() bool {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	return b.running
}

// run is the receive loop. Messages are handled one at a time, in arrival order.
func (b *Bus) run(msgs <-chan []byte, done chan struct{}) {
	defer close(done)

	for data := range msgs {
		b.handleMessage(data)
	}

	b.runMu.Lock()
	stopping := b.stopping
	b.running = false
	b.runMu.Unlock()

	if !stopping {
		// No reconnect: the process has lost real-time delivery until it is restarted.
		subscriberLost.Inc()
		log.Error().
			Str("channel", b.channel).
			Str("driver", b.broker.Name()).
			Msg("event bus subscription lost")
	}
}

// handleMessage decodes one published message. Malformed messages are
// logged and skipped.
func (b *Bus) handleMessage(data []byte) {
	event, err := events.Decode(data)
	if err != nil {
		eventsMalformed.Inc()
		log.Warn().Err(err).Int("bytes", len(data)).Msg("dropping malformed event")
		return
	}
	eventsReceived.WithLabelValues(event.Entity).Inc()
	b.HandleEvent(event)
}

// Trigger publishes an event. Control actions claimed by the router are
// consumed locally and never published. Publish failures are returned.
func (b *Bus) Trigger(ctx context.Context, audience events.Audience, entity, action string, eventContext, options map[string]any) error {
	return b.TriggerEvent(ctx, events.New(audience, entity, action, eventContext, options))
}

// TriggerEvent is Trigger for a prebuilt event.
func (b *Bus) TriggerEvent(ctx context.Context, event *events.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}

	if r := b.currentRouter(); r != nil && b.intercept(r, event) {
		eventsIntercepted.WithLabelValues(event.Entity, event.Action).Inc()
		return nil
	}

	data, err := event.Marshal()
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := b.broker.Publish(ctx, b.channel, data); err != nil {
		publishFailures.Inc()
		return err
	}

	eventsTriggered.WithLabelValues(event.Entity).Inc()
	log.Trace().
		Str("entity", event.Entity).
		Str("action", event.Action).
		Int("audience", len(event.Audience)).
		Msg("event published")
	return nil
}

// intercept runs the router's pre-publish hook. A panic counts as not handled.
func (b *Bus) intercept(r ports.EventRouter, event *events.Event) (handled bool) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Interface("panic", rec).
				Str("entity", event.Entity).
				Str("action", event.Action).
				Msg("event router intercept panicked")
			handled = false
		}
	}()
	return r.Intercept(event)
}

// HandleEvent delivers a received event to local listeners and then to the
// router. It returns once every delivery has finished.
func (b *Bus) HandleEvent(event *events.Event) {
	b.fanOut(event)

	if r := b.currentRouter(); r != nil {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error().
						Interface("panic", rec).
						Str("entity", event.Entity).
						Str("action", event.Action).
						Msg("event router panicked")
				}
			}()
			r.Route(event)
		}()
	}
}

type delivery struct {
	userID   string
	listener ports.Listener
}

// fanOut invokes every local listener of every audience member. A user with
// no local listeners is skipped: their connection lives in another process.
func (b *Bus) fanOut(event *events.Event) {
	b.mu.RLock()
	var targets []delivery
	for _, userID := range event.Audience {
		for _, l := range b.listeners[userID] {
			targets = append(targets, delivery{userID: userID, listener: l})
		}
	}
	b.mu.RUnlock()

	if len(targets) == 0 {
		eventsUndelivered.Inc()
		return
	}

	payload := event.Payload()

	b.deliveryMu.RLock()
	defer b.deliveryMu.RUnlock()

	if len(targets) == 1 {
		b.deliver(targets[0], payload)
		return
	}

	workers := b.maxWorkers
	if workers > len(targets) {
		workers = len(targets)
	}
	p := pool.New().WithMaxGoroutines(workers)
	for _, target := range targets {
		target := target
		p.Go(func() {
			b.deliver(target, payload)
		})
	}
	p.Wait()
}

// deliver invokes one listener, isolating its errors and panics.
func (b *Bus) deliver(target delivery, payload events.Payload) {
	defer func() {
		if rec := recover(); rec != nil {
			listenerFailures.WithLabelValues("panic").Inc()
			log.Error().
				Interface("panic", rec).
				Str("user_id", target.userID).
				Str("listener_id", target.listener.ID()).
				Msg("listener panicked")
		}
	}()

	if err := target.listener.Deliver(payload); err != nil {
		listenerFailures.WithLabelValues("error").Inc()
		log.Warn().
			Err(err).
			Str("user_id", target.userID).
			Str("listener_id", target.listener.ID()).
			Str("entity", payload.Entity).
			Str("action", payload.Action).
			Msg("failed to deliver event to listener")
		return
	}
	eventsDelivered.Inc()
}

// Listen registers listener under userID. The same user may hold any number
// of listeners.
func (b *Bus) Listen(userID string, listener ports.Listener) {
	b.mu.Lock()
	current := b.listeners[userID]
	next := make([]ports.Listener, len(current), len(current)+1)
	copy(next, current)
	b.listeners[userID] = append(next, listener)
	b.mu.Unlock()

	listenersGauge.Inc()
	log.Debug().
		Str("user_id", userID).
		Str("listener_id", listener.ID()).
		Msg("listener registered")
}

// StopListening removes listener from userID. It is a no-op when the
// listener is not registered. On return no delivery to listener is in
// progress, so it must not be called from inside Deliver.
func (b *Bus) StopListening(userID string, listener ports.Listener) {
	removed := false

	b.mu.Lock()
	current := b.listeners[userID]
	next := make([]ports.Listener, 0, len(current))
	for _, l := range current {
		if !removed && l.ID() == listener.ID() {
			removed = true
			continue
		}
		next = append(next, l)
	}
	if len(next) == 0 {
		delete(b.listeners, userID)
	} else {
		b.listeners[userID] = next
	}
	b.mu.Unlock()

	if !removed {
		return
	}

	// Wait for in-flight fan-outs that may still hold the old snapshot.
	b.deliveryMu.Lock()
	b.deliveryMu.Unlock()

	listenersGauge.Dec()
	log.Debug().
		Str("user_id", userID).
		Str("listener_id", listener.ID()).
		Msg("listener removed")
}

// ListenerCount returns the number of listeners registered for userID.
func (b *Bus) ListenerCount(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[userID])
}

// TotalListeners returns the number of listeners across all users.
func (b *Bus) TotalListeners() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, ls := range b.listeners {
		n += len(ls)
	}
	return n
}
