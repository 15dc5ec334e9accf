package bus

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jelmore/jelmore/pkg/session"
)

func TestBusPublishSubscribe(t *testing.T) {
	b := NewInProcessBus()
	defer b.Close()

	ch, cancel := b.Subscribe(TopicSessionEvents)
	defer cancel()

	ev := session.NewEvent("s1", session.EventSessionCreated, nil)
	require.NoError(t, b.Publish(context.Background(), TopicSessionEvents, ev))

	select {
	case got := <-ch:
		assert.Equal(t, ev.ID, got.ID)
		assert.Equal(t, session.EventSessionCreated, got.Type)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBusMultipleSubscribers(t *testing.T) {
	b := NewInProcessBus()
	defer b.Close()

	ch1, cancel1 := b.Subscribe(TopicSessionEvents)
	defer cancel1()
	ch2, cancel2 := b.Subscribe(TopicSessionEvents)
	defer cancel2()

	ev := session.NewEvent("s1", session.EventSessionStarted, nil)
	require.NoError(t, b.Publish(context.Background(), TopicSessionEvents, ev))

	for _, ch := range []<-chan session.Event{ch1, ch2} {
		select {
		case got := <-ch:
			assert.Equal(t, ev.ID, got.ID)
		case <-time.After(time.Second):
			t.Fatal("event not delivered to all subscribers")
		}
	}
}

func TestBusTopicIsolation(t *testing.T) {
	b := NewInProcessBus()
	defer b.Close()

	ch, cancel := b.Subscribe("other.topic")
	defer cancel()

	ev := session.NewEvent("s1", session.EventSessionCreated, nil)
	require.NoError(t, b.Publish(context.Background(), TopicSessionEvents, ev))

	select {
	case <-ch:
		t.Fatal("event crossed topics")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusDropsOldestWhenFull(t *testing.T) {
	b := NewInProcessBus()
	defer b.Close()

	ch, cancel := b.Subscribe(TopicSessionEvents)
	defer cancel()

	ctx := context.Background()
	total := subscriberBuffer + 10
	for i := 0; i < total; i++ {
		ev := session.NewEvent(fmt.Sprintf("s%d", i), session.EventOutputReceived, nil)
		require.NoError(t, b.Publish(ctx, TopicSessionEvents, ev))
	}

	// The oldest events were dropped; the newest survives.
	var last session.Event
	for i := 0; i < subscriberBuffer; i++ {
		last = <-ch
	}
	assert.Equal(t, fmt.Sprintf("s%d", total-1), last.SessionID)
}

func TestBusCancelStopsDelivery(t *testing.T) {
	b := NewInProcessBus()
	defer b.Close()

	ch, cancel := b.Subscribe(TopicSessionEvents)
	cancel()

	_, open := <-ch
	assert.False(t, open)

	ev := session.NewEvent("s1", session.EventSessionCreated, nil)
	require.NoError(t, b.Publish(context.Background(), TopicSessionEvents, ev))
}

func TestBusCloseIdempotent(t *testing.T) {
	b := NewInProcessBus()
	ch, _ := b.Subscribe(TopicSessionEvents)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, open := <-ch
	assert.False(t, open)

	// publish after close is a no-op
	ev := session.NewEvent("s1", session.EventSessionCreated, nil)
	assert.NoError(t, b.Publish(context.Background(), TopicSessionEvents, ev))
}

func TestBusPublishCancelledContext(t *testing.T) {
	b := NewInProcessBus()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ev := session.NewEvent("s1", session.EventSessionCreated, nil)
	assert.Error(t, b.Publish(ctx, TopicSessionEvents, ev))
}
