package broker

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/brianly1003/feedwire/internal/domain"
)

// MemoryBroker is an in-process broker for single-node deployments and tests.
type MemoryBroker struct {
	// mu is held for reading for the whole of Publish, so a subscription's
	// out channel is only closed while no publisher can be sending on it.
	mu     sync.RWMutex
	subs   map[string]map[*memorySubscription]struct{}
	closed atomic.Bool
}

type memorySubscription struct {
	out      chan []byte
	done     chan struct{}
	stopOnce sync.Once
	finished bool // guarded by MemoryBroker.mu
}

// NewMemoryBroker creates an in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		subs: make(map[string]map[*memorySubscription]struct{}),
	}
}

// Name returns the driver name.
func (b *MemoryBroker) Name() string {
	return DriverMemory
}

// Ping fails only after Close.
func (b *MemoryBroker) Ping(context.Context) error {
	if b.closed.Load() {
		return domain.ErrBrokerClosed
	}
	return nil
}

// Publish copies data to every subscriber of channel. It blocks while a
// subscriber's buffer is full, like a backpressured network transport.
func (b *MemoryBroker) Publish(ctx context.Context, channel string, data []byte) error {
	if b.closed.Load() {
		return domain.NewBrokerError("publish", channel, domain.ErrBrokerClosed)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for s := range b.subs[channel] {
		msg := make([]byte, len(data))
		copy(msg, data)
		select {
		case s.out <- msg:
		case <-s.done:
		case <-ctx.Done():
			return domain.NewBrokerError("publish", channel, ctx.Err())
		}
	}
	return nil
}

// Subscribe registers a subscriber on channel.
func (b *MemoryBroker) Subscribe(_ context.Context, channel string) (<-chan []byte, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return nil, nil, domain.NewBrokerError("subscribe", channel, domain.ErrBrokerClosed)
	}

	s := &memorySubscription{
		out:  make(chan []byte, subscriberBuffer),
		done: make(chan struct{}),
	}
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*memorySubscription]struct{})
	}
	b.subs[channel][s] = struct{}{}

	cancel := func() {
		// Wake blocked publishers before waiting for the write lock.
		s.stop()
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[channel], s)
		s.finish()
	}
	return s.out, cancel, nil
}

func (s *memorySubscription) stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}

func (s *memorySubscription) finish() {
	if !s.finished {
		s.finished = true
		close(s.out)
	}
}

// Close ends all subscriptions.
func (b *MemoryBroker) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	b.mu.RLock()
	all := make([]*memorySubscription, 0)
	for _, set := range b.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range all {
		s.stop()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range all {
		s.finish()
	}
	b.subs = make(map[string]map[*memorySubscription]struct{})
	return nil
}
