package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/brianly1003/feedwire/internal/domain"
)

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "channel closed before a message arrived")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestMemoryBroker_PublishReachesEverySubscriber(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()
	ctx := context.Background()

	ch1, cancel1, err := b.Subscribe(ctx, "feedwire:events")
	require.NoError(t, err)
	defer cancel1()
	ch2, cancel2, err := b.Subscribe(ctx, "feedwire:events")
	require.NoError(t, err)
	defer cancel2()

	require.NoError(t, b.Publish(ctx, "feedwire:events", []byte(`{"a":1}`)))

	require.Equal(t, `{"a":1}`, string(receive(t, ch1)))
	require.Equal(t, `{"a":1}`, string(receive(t, ch2)))
}

func TestMemoryBroker_ChannelsAreIsolated(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()
	ctx := context.Background()

	ch, cancel, err := b.Subscribe(ctx, "one")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, b.Publish(ctx, "two", []byte("x")))

	select {
	case msg := <-ch:
		t.Fatalf("unexpected message %q", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBroker_CancelClosesChannel(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()

	ch, cancel, err := b.Subscribe(context.Background(), "c")
	require.NoError(t, err)

	cancel()
	cancel()

	_, ok := <-ch
	require.False(t, ok)
	require.NoError(t, b.Publish(context.Background(), "c", []byte("late")))
}

func TestMemoryBroker_CancelUnblocksPublisher(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()
	ctx := context.Background()

	_, cancel, err := b.Subscribe(ctx, "c")
	require.NoError(t, err)

	for i := 0; i < subscriberBuffer; i++ {
		require.NoError(t, b.Publish(ctx, "c", []byte("fill")))
	}

	published := make(chan error, 1)
	go func() {
		published <- b.Publish(ctx, "c", []byte("blocked"))
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-published:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("publisher stayed blocked after cancel")
	}
}

func TestMemoryBroker_Closed(t *testing.T) {
	b := NewMemoryBroker()
	ch, _, err := b.Subscribe(context.Background(), "c")
	require.NoError(t, err)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, ok := <-ch
	require.False(t, ok)

	err = b.Publish(context.Background(), "c", []byte("x"))
	require.True(t, errors.Is(err, domain.ErrBrokerClosed))

	var brokerErr *domain.BrokerError
	require.ErrorAs(t, err, &brokerErr)
	require.Equal(t, "publish", brokerErr.Op)

	require.ErrorIs(t, b.Ping(context.Background()), domain.ErrBrokerClosed)
}

func TestNew_Drivers(t *testing.T) {
	b, err := New(Options{Driver: DriverMemory})
	require.NoError(t, err)
	require.Equal(t, DriverMemory, b.Name())

	b, err = New(Options{Driver: DriverRedis, RedisAddr: "127.0.0.1:0"})
	require.NoError(t, err)
	require.Equal(t, DriverRedis, b.Name())
	_ = b.Close()

	_, err = New(Options{Driver: "kafka"})
	require.Error(t, err)
}

func TestWaitReady(t *testing.T) {
	b := NewMemoryBroker()
	require.NoError(t, WaitReady(context.Background(), b, time.Second))

	_ = b.Close()
	err := WaitReady(context.Background(), b, 300*time.Millisecond)
	require.ErrorIs(t, err, domain.ErrBrokerClosed)
}
