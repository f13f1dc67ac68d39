// Package testutil provides shared test utilities and mocks for feedwire tests.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/brianly1003/feedwire/internal/domain/events"
	"github.com/brianly1003/feedwire/internal/domain/ports"
)

// MockListener implements ports.Listener for testing.
type MockListener struct {
	id          string
	payloads    []events.Payload
	mu          sync.Mutex
	deliverErr  error
	deliverFunc func(events.Payload) error
	notify      chan struct{}
}

// NewMockListener creates a new mock listener.
func NewMockListener(id string) *MockListener {
	return &MockListener{
		id:       id,
		payloads: make([]events.Payload, 0),
		notify:   make(chan struct{}, 1024),
	}
}

// ID returns the listener ID.
func (m *MockListener) ID() string {
	return m.id
}

// Deliver records the payload and returns any configured error.
func (m *MockListener) Deliver(p events.Payload) error {
	m.mu.Lock()
	fn := m.deliverFunc
	err := m.deliverErr
	m.mu.Unlock()

	if fn != nil {
		if err := fn(p); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	m.mu.Lock()
	m.payloads = append(m.payloads, p)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

// Payloads returns all received payloads.
func (m *MockListener) Payloads() []events.Payload {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]events.Payload, len(m.payloads))
	copy(result, m.payloads)
	return result
}

// Count returns the number of received payloads.
func (m *MockListener) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payloads)
}

// SetDeliverError configures an error to return on Deliver.
func (m *MockListener) SetDeliverError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliverErr = err
}

// SetDeliverFunc runs fn before recording. A non-nil error from fn is
// returned and the payload is not recorded.
func (m *MockListener) SetDeliverFunc(fn func(events.Payload) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliverFunc = fn
}

// WaitForCount blocks until at least n payloads were received or the timeout
// expires. It reports whether the count was reached.
func (m *MockListener) WaitForCount(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if m.Count() >= n {
			return true
		}
		select {
		case <-m.notify:
		case <-deadline:
			return m.Count() >= n
		}
	}
}

var _ ports.Listener = (*MockListener)(nil)

// SentPayload is one recorded SendTo call.
type SentPayload struct {
	ConnectionID string
	Payload      events.Payload
}

// MockSender implements ports.ConnectionSender for testing.
type MockSender struct {
	mu      sync.Mutex
	sent    []SentPayload
	failFor map[string]error
}

// NewMockSender creates a new mock connection sender.
func NewMockSender() *MockSender {
	return &MockSender{failFor: make(map[string]error)}
}

// SendTo records the payload unless the connection was configured to fail.
func (m *MockSender) SendTo(connectionID string, payload events.Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failFor[connectionID]; ok {
		return err
	}
	m.sent = append(m.sent, SentPayload{ConnectionID: connectionID, Payload: payload})
	return nil
}

// FailFor makes SendTo return err for connectionID.
func (m *MockSender) FailFor(connectionID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failFor[connectionID] = err
}

// Sent returns all recorded sends.
func (m *MockSender) Sent() []SentPayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]SentPayload, len(m.sent))
	copy(result, m.sent)
	return result
}

// SentTo returns the payloads sent to one connection.
func (m *MockSender) SentTo(connectionID string) []events.Payload {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []events.Payload
	for _, s := range m.sent {
		if s.ConnectionID == connectionID {
			result = append(result, s.Payload)
		}
	}
	return result
}

// Reset clears recorded sends.
func (m *MockSender) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = m.sent[:0]
}

var _ ports.ConnectionSender = (*MockSender)(nil)

// MockEventBus implements ports.EventBus for testing. Triggered events are
// recorded and also delivered synchronously to matching local listeners.
type MockEventBus struct {
	mu         sync.Mutex
	triggered  []*events.Event
	listeners  map[string][]ports.Listener
	triggerErr error
}

// NewMockEventBus creates a new mock event bus.
func NewMockEventBus() *MockEventBus {
	return &MockEventBus{listeners: make(map[string][]ports.Listener)}
}

// Trigger records the event and delivers it to local listeners.
func (m *MockEventBus) Trigger(_ context.Context, audience events.Audience, entity, action string, eventContext, options map[string]any) error {
	ev := events.New(audience, entity, action, eventContext, options)
	if err := ev.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.triggerErr != nil {
		err := m.triggerErr
		m.mu.Unlock()
		return err
	}
	m.triggered = append(m.triggered, ev)
	var targets []ports.Listener
	for _, userID := range audience {
		targets = append(targets, m.listeners[userID]...)
	}
	m.mu.Unlock()

	for _, l := range targets {
		_ = l.Deliver(ev.Payload())
	}
	return nil
}

// Listen records the listener.
func (m *MockEventBus) Listen(userID string, listener ports.Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners[userID] = append(m.listeners[userID], listener)
}

// StopListening removes a listener by ID.
func (m *MockEventBus) StopListening(userID string, listener ports.Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ls := m.listeners[userID]
	for i, l := range ls {
		if l.ID() == listener.ID() {
			m.listeners[userID] = append(ls[:i:i], ls[i+1:]...)
			break
		}
	}
	if len(m.listeners[userID]) == 0 {
		delete(m.listeners, userID)
	}
}

// SetTriggerError makes Trigger fail with err.
func (m *MockEventBus) SetTriggerError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggerErr = err
}

// ListenerCount returns the listeners registered for userID.
func (m *MockEventBus) ListenerCount(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners[userID])
}

// Triggered returns all triggered events.
func (m *MockEventBus) Triggered() []*events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*events.Event, len(m.triggered))
	copy(result, m.triggered)
	return result
}

// TriggeredWithAction returns triggered events matching entity and action.
func (m *MockEventBus) TriggeredWithAction(entity, action string) []*events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*events.Event
	for _, ev := range m.triggered {
		if ev.Entity == entity && ev.Action == action {
			result = append(result, ev)
		}
	}
	return result
}

var _ ports.EventBus = (*MockEventBus)(nil)

// Eventually polls cond until it returns true or the timeout expires.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %v: %s", timeout, msg)
	}
}
