package stream

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jelmore/jelmore/pkg/provider"
)

func assistantEvent(content string) provider.StreamEvent {
	return provider.StreamEvent{
		Type:      provider.StreamAssistant,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

func collect(t *testing.T, ch <-chan provider.StreamEvent) []provider.StreamEvent {
	t.Helper()
	var out []provider.StreamEvent
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-time.After(time.Second):
			t.Fatal("stream did not close")
		}
	}
}

func TestMuxDeliversInOrder(t *testing.T) {
	source := make(chan provider.StreamEvent, 8)
	m := New("s1", source)

	ch, cancel := m.Subscribe(false)
	defer cancel()

	source <- assistantEvent("one")
	source <- assistantEvent("two")
	close(source)

	got := collect(t, ch)
	require.Len(t, got, 3)
	assert.Equal(t, "one", got[0].Content)
	assert.Equal(t, "two", got[1].Content)
	assert.Equal(t, SentinelClosed, got[2].Metadata["state"])
}

func TestMuxFanOut(t *testing.T) {
	source := make(chan provider.StreamEvent, 8)
	m := New("s1", source)

	ch1, cancel1 := m.Subscribe(false)
	defer cancel1()
	ch2, cancel2 := m.Subscribe(false)
	defer cancel2()

	source <- assistantEvent("hello")
	close(source)

	for _, ch := range []<-chan provider.StreamEvent{ch1, ch2} {
		got := collect(t, ch)
		require.Len(t, got, 2)
		assert.Equal(t, "hello", got[0].Content)
	}
}

func TestMuxReplay(t *testing.T) {
	source := make(chan provider.StreamEvent, 8)
	m := New("s1", source)

	// a subscriber keeps the loop observable while history accrues
	early, cancelEarly := m.Subscribe(false)
	defer cancelEarly()

	source <- assistantEvent("first")
	select {
	case <-early:
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	late, cancelLate := m.Subscribe(true)
	defer cancelLate()

	source <- assistantEvent("second")
	close(source)

	got := collect(t, late)
	require.Len(t, got, 3)
	assert.Equal(t, "first", got[0].Content)
	assert.Equal(t, "second", got[1].Content)
}

func TestMuxSubscribeAfterClose(t *testing.T) {
	source := make(chan provider.StreamEvent, 8)
	m := New("s1", source)

	source <- assistantEvent("only")
	close(source)
	<-m.Done()

	ch, cancel := m.Subscribe(true)
	defer cancel()

	got := collect(t, ch)
	require.Len(t, got, 2)
	assert.Equal(t, "only", got[0].Content)
	assert.Equal(t, SentinelClosed, got[1].Metadata["state"])
}

func TestMuxObserverSeesEveryEvent(t *testing.T) {
	source := make(chan provider.StreamEvent, 8)

	var seen []string
	m := New("s1", source, WithObserver(func(ev provider.StreamEvent) {
		seen = append(seen, ev.Content)
	}))

	for i := 0; i < 5; i++ {
		source <- assistantEvent(fmt.Sprintf("ev-%d", i))
	}
	close(source)
	<-m.Done()

	require.Len(t, seen, 5)
	assert.Equal(t, "ev-0", seen[0])
	assert.Equal(t, "ev-4", seen[4])
}

func TestMuxOnClose(t *testing.T) {
	source := make(chan provider.StreamEvent)
	closed := make(chan struct{})
	m := New("s1", source, WithOnClose(func() { close(closed) }))

	close(source)

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("onClose not invoked")
	}
	<-m.Done()
}

func TestMuxSlowSubscriberDropsOldest(t *testing.T) {
	source := make(chan provider.StreamEvent)
	m := New("s1", source)

	ch, cancel := m.Subscribe(false)
	defer cancel()

	total := subscriberBuffer + 16
	for i := 0; i < total; i++ {
		source <- assistantEvent(fmt.Sprintf("ev-%d", i))
	}
	close(source)
	<-m.Done()

	got := collect(t, ch)
	require.NotEmpty(t, got)
	// the sentinel is the newest event and always survives
	assert.Equal(t, SentinelClosed, got[len(got)-1].Metadata["state"])
	assert.LessOrEqual(t, len(got), subscriberBuffer)
}
