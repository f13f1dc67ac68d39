package bus

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brianly1003/feedwire/internal/broker"
	"github.com/brianly1003/feedwire/internal/domain"
	"github.com/brianly1003/feedwire/internal/domain/events"
	"github.com/brianly1003/feedwire/internal/testutil"
)

const waitTimeout = 2 * time.Second

func startBus(t *testing.T, b *broker.MemoryBroker, opts ...Option) *Bus {
	t.Helper()
	bus := New(b, opts...)
	require.NoError(t, bus.Start(context.Background()))
	t.Cleanup(func() { _ = bus.Stop() })
	return bus
}

type recordingRouter struct {
	mu          sync.Mutex
	intercepted []*events.Event
	routed      []*events.Event
}

func (r *recordingRouter) Intercept(ev *events.Event) bool {
	if !events.IsControlAction(ev.Action) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intercepted = append(r.intercepted, ev)
	return true
}

func (r *recordingRouter) Route(ev *events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routed = append(r.routed, ev)
}

func (r *recordingRouter) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.intercepted), len(r.routed)
}

func TestBus_DeliversToEveryListenerOfAudienceMember(t *testing.T) {
	mb := broker.NewMemoryBroker()
	defer mb.Close()
	bus := startBus(t, mb)

	tab1 := testutil.NewMockListener("tab-1")
	tab2 := testutil.NewMockListener("tab-2")
	bus.Listen("u1", tab1)
	bus.Listen("u1", tab2)

	err := bus.Trigger(context.Background(), events.Audience{"u1"}, events.EntityPost, events.ActionCreate,
		map[string]any{"postId": "p1"}, nil)
	require.NoError(t, err)

	require.True(t, tab1.WaitForCount(1, waitTimeout))
	require.True(t, tab2.WaitForCount(1, waitTimeout))

	got := tab1.Payloads()[0]
	assert.Equal(t, events.EntityPost, got.Entity)
	assert.Equal(t, events.ActionCreate, got.Action)
	assert.Equal(t, "p1", got.ContextString("postId"))
	assert.NotNil(t, got.Options)
}

func TestBus_SkipsUsersOutsideAudience(t *testing.T) {
	mb := broker.NewMemoryBroker()
	defer mb.Close()
	bus := startBus(t, mb)

	inAudience := testutil.NewMockListener("in")
	outside := testutil.NewMockListener("out")
	bus.Listen("u1", inAudience)
	bus.Listen("u9", outside)

	require.NoError(t, bus.Trigger(context.Background(), events.Audience{"u1", "u2"}, events.EntityUser, events.ActionUpdate, nil, nil))
	require.True(t, inAudience.WaitForCount(1, waitTimeout))

	// A second event to u9 proves the first one was fully processed.
	require.NoError(t, bus.Trigger(context.Background(), events.Audience{"u9"}, events.EntityUser, events.ActionDelete, nil, nil))
	require.True(t, outside.WaitForCount(1, waitTimeout))
	assert.Equal(t, events.ActionDelete, outside.Payloads()[0].Action)
	assert.Equal(t, 1, outside.Count())
}

func TestBus_PreservesPublishOrder(t *testing.T) {
	mb := broker.NewMemoryBroker()
	defer mb.Close()
	bus := startBus(t, mb)

	l := testutil.NewMockListener("l")
	bus.Listen("u1", l)

	const n = 100
	for i := 0; i < n; i++ {
		require.NoError(t, bus.Trigger(context.Background(), events.Audience{"u1"}, events.EntityNotification,
			events.ActionCreate, map[string]any{"seq": i}, nil))
	}

	require.True(t, l.WaitForCount(n, waitTimeout))
	for i, p := range l.Payloads() {
		require.Equal(t, strconv.Itoa(i), p.ContextString("seq"))
	}
}

func TestBus_CrossProcessDelivery(t *testing.T) {
	mb := broker.NewMemoryBroker()
	defer mb.Close()
	publisher := startBus(t, mb)
	remote := startBus(t, mb)

	local := testutil.NewMockListener("local")
	far := testutil.NewMockListener("far")
	publisher.Listen("u1", local)
	remote.Listen("u1", far)

	require.NoError(t, publisher.Trigger(context.Background(), events.Audience{"u1"}, events.EntityPost, events.ActionCreate, nil, nil))

	require.True(t, local.WaitForCount(1, waitTimeout), "publisher process must hear its own event")
	require.True(t, far.WaitForCount(1, waitTimeout))
}

func TestBus_TriggerRejectsEmptyAudience(t *testing.T) {
	mb := broker.NewMemoryBroker()
	defer mb.Close()
	bus := startBus(t, mb)

	err := bus.Trigger(context.Background(), nil, events.EntityPost, events.ActionCreate, nil, nil)
	require.ErrorIs(t, err, domain.ErrEmptyAudience)

	err = bus.Trigger(context.Background(), events.Audience{"u1"}, "", events.ActionCreate, nil, nil)
	require.ErrorIs(t, err, domain.ErrInvalidEvent)
}

func TestBus_TriggerReturnsPublishFailure(t *testing.T) {
	mb := broker.NewMemoryBroker()
	bus := New(mb)
	require.NoError(t, mb.Close())

	err := bus.Trigger(context.Background(), events.Audience{"u1"}, events.EntityPost, events.ActionCreate, nil, nil)
	require.ErrorIs(t, err, domain.ErrBrokerClosed)
}

func TestBus_StopListening(t *testing.T) {
	mb := broker.NewMemoryBroker()
	defer mb.Close()
	bus := startBus(t, mb)

	first := testutil.NewMockListener("first")
	second := testutil.NewMockListener("second")
	bus.Listen("u1", first)
	bus.Listen("u1", second)
	require.Equal(t, 2, bus.ListenerCount("u1"))

	bus.StopListening("u1", first)
	bus.StopListening("u1", testutil.NewMockListener("never-registered"))
	bus.StopListening("u2", second)
	require.Equal(t, 1, bus.ListenerCount("u1"))

	require.NoError(t, bus.Trigger(context.Background(), events.Audience{"u1"}, events.EntityPost, events.ActionCreate, nil, nil))
	require.True(t, second.WaitForCount(1, waitTimeout))
	assert.Equal(t, 0, first.Count())

	bus.StopListening("u1", second)
	assert.Equal(t, 0, bus.ListenerCount("u1"))
	assert.Equal(t, 0, bus.TotalListeners())
}

func TestBus_StopListeningWaitsForInFlightDelivery(t *testing.T) {
	mb := broker.NewMemoryBroker()
	defer mb.Close()
	bus := startBus(t, mb)

	entered := make(chan struct{})
	release := make(chan struct{})
	slow := testutil.NewMockListener("slow")
	slow.SetDeliverFunc(func(events.Payload) error {
		close(entered)
		<-release
		return nil
	})
	bus.Listen("u1", slow)

	require.NoError(t, bus.Trigger(context.Background(), events.Audience{"u1"}, events.EntityPost, events.ActionCreate, nil, nil))
	<-entered

	stopped := make(chan struct{})
	go func() {
		bus.StopListening("u1", slow)
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("StopListening returned while a delivery was in progress")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(waitTimeout):
		t.Fatal("StopListening did not return after delivery finished")
	}
	assert.Equal(t, 1, slow.Count())
}

func TestBus_FailingListenerDoesNotAffectOthers(t *testing.T) {
	mb := broker.NewMemoryBroker()
	defer mb.Close()
	bus := startBus(t, mb)

	failing := testutil.NewMockListener("failing")
	failing.SetDeliverError(errors.New("socket gone"))
	panicking := testutil.NewMockListener("panicking")
	panicking.SetDeliverFunc(func(events.Payload) error {
		panic("boom")
	})
	healthy := testutil.NewMockListener("healthy")

	bus.Listen("u1", failing)
	bus.Listen("u1", panicking)
	bus.Listen("u1", healthy)

	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Trigger(context.Background(), events.Audience{"u1"}, events.EntityPost, events.ActionCreate, nil, nil))
	}
	require.True(t, healthy.WaitForCount(3, waitTimeout))
	assert.True(t, bus.IsRunning())
}

func TestBus_SkipsMalformedMessages(t *testing.T) {
	mb := broker.NewMemoryBroker()
	defer mb.Close()
	bus := startBus(t, mb)

	l := testutil.NewMockListener("l")
	bus.Listen("u1", l)

	ctx := context.Background()
	require.NoError(t, mb.Publish(ctx, bus.Channel(), []byte("not json")))
	require.NoError(t, mb.Publish(ctx, bus.Channel(), []byte(`{"audience":[],"entity":"Post","action":"create"}`)))
	require.NoError(t, mb.Publish(ctx, bus.Channel(), []byte(`{"audience":"u1","entity":"Post","action":"view"}`)))

	require.True(t, l.WaitForCount(1, waitTimeout))
	assert.Equal(t, events.ActionView, l.Payloads()[0].Action)
}

func TestBus_RouterInterceptsControlEvents(t *testing.T) {
	mb := broker.NewMemoryBroker()
	defer mb.Close()

	router := &recordingRouter{}
	bus := startBus(t, mb, WithRouter(router))

	raw, cancel, err := mb.Subscribe(context.Background(), bus.Channel())
	require.NoError(t, err)
	defer cancel()

	l := testutil.NewMockListener("l")
	bus.Listen("u1", l)

	require.NoError(t, bus.Trigger(context.Background(), events.Audience{"u1"}, events.EntityUser, events.ActionSubscribe,
		map[string]any{events.ContextUserID: "u2", events.ContextConnectionID: "c1"}, nil))
	require.NoError(t, bus.Trigger(context.Background(), events.Audience{"u1"}, events.EntityUser, events.ActionUpdate, nil, nil))

	require.True(t, l.WaitForCount(1, waitTimeout))
	testutil.Eventually(t, waitTimeout, func() bool {
		_, routed := router.counts()
		return routed == 1
	}, "content event routed")

	intercepted, _ := router.counts()
	assert.Equal(t, 1, intercepted)
	assert.Equal(t, events.ActionUpdate, l.Payloads()[0].Action)

	// Only the content event reached the channel.
	select {
	case data := <-raw:
		ev, err := events.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, events.ActionUpdate, ev.Action)
	case <-time.After(waitTimeout):
		t.Fatal("expected published content event")
	}
	select {
	case data := <-raw:
		t.Fatalf("unexpected extra message: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_SetRouterAfterStart(t *testing.T) {
	mb := broker.NewMemoryBroker()
	defer mb.Close()
	bus := startBus(t, mb)

	router := &recordingRouter{}
	bus.SetRouter(router)

	require.NoError(t, bus.Trigger(context.Background(), events.Audience{"u1"}, events.EntityNotification, events.ActionUnregister,
		map[string]any{events.ContextConnectionID: "c1"}, nil))
	intercepted, _ := router.counts()
	assert.Equal(t, 1, intercepted)
}

func TestBus_StartStop(t *testing.T) {
	mb := broker.NewMemoryBroker()
	defer mb.Close()

	bus := New(mb, WithChannel("custom"), WithMaxWorkers(2))
	assert.Equal(t, "custom", bus.Channel())
	assert.False(t, bus.IsRunning())

	require.NoError(t, bus.Start(context.Background()))
	require.NoError(t, bus.Start(context.Background()))
	assert.True(t, bus.IsRunning())

	require.NoError(t, bus.Stop())
	require.NoError(t, bus.Stop())
	assert.False(t, bus.IsRunning())
}

func TestBus_SubscriptionLoss(t *testing.T) {
	mb := broker.NewMemoryBroker()
	bus := New(mb)
	require.NoError(t, bus.Start(context.Background()))

	require.NoError(t, mb.Close())
	testutil.Eventually(t, waitTimeout, func() bool { return !bus.IsRunning() }, "bus stops after broker loss")
	require.NoError(t, bus.Stop())
}

// droppingBroker hands out subscriptions the test can sever, and counts how
// many were released.
type droppingBroker struct {
	*broker.MemoryBroker

	mu       sync.Mutex
	subs     []chan []byte
	released int
}

func (b *droppingBroker) Subscribe(_ context.Context, _ string) (<-chan []byte, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte)
	b.subs = append(b.subs, ch)
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			b.released++
			b.mu.Unlock()
		})
	}, nil
}

func (b *droppingBroker) drop(i int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	close(b.subs[i])
}

func (b *droppingBroker) releasedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.released
}

func TestBus_StopReleasesLostSubscription(t *testing.T) {
	db := &droppingBroker{MemoryBroker: broker.NewMemoryBroker()}
	defer db.Close()

	bus := New(db)
	require.NoError(t, bus.Start(context.Background()))

	db.drop(0)
	testutil.Eventually(t, waitTimeout, func() bool { return !bus.IsRunning() }, "bus stops after subscription loss")
	assert.Equal(t, 0, db.releasedCount())

	require.NoError(t, bus.Stop())
	assert.Equal(t, 1, db.releasedCount())

	require.NoError(t, bus.Stop())
	assert.Equal(t, 1, db.releasedCount())
}

func TestBus_RestartAfterLossReleasesOldSubscription(t *testing.T) {
	db := &droppingBroker{MemoryBroker: broker.NewMemoryBroker()}
	defer db.Close()

	bus := New(db)
	require.NoError(t, bus.Start(context.Background()))
	db.drop(0)
	testutil.Eventually(t, waitTimeout, func() bool { return !bus.IsRunning() }, "bus stops after subscription loss")

	require.NoError(t, bus.Start(context.Background()))
	assert.True(t, bus.IsRunning())
	assert.Equal(t, 1, db.releasedCount())

	require.NoError(t, bus.Stop())
	assert.Equal(t, 2, db.releasedCount())
}

func TestListenerFunc(t *testing.T) {
	var got []string
	a := NewListenerFunc(func(p events.Payload) error {
		got = append(got, p.Action)
		return nil
	})
	b := NewListenerFunc(func(events.Payload) error { return nil })

	assert.NotEqual(t, a.ID(), b.ID())
	require.NoError(t, a.Deliver(events.Payload{Action: "x"}))
	assert.Equal(t, []string{"x"}, got)
}
