package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesSubscribers(t *testing.T) {
	bus := NewBus()
	a, cancelA := bus.Subscribe()
	b, cancelB := bus.Subscribe()
	defer cancelA()
	defer cancelB()

	bus.Publish(Event{Type: TotalDurationChanged, Total: 5.7})

	for _, ch := range []<-chan Event{a, b} {
		e := <-ch
		assert.Equal(t, TotalDurationChanged, e.Type)
		assert.Equal(t, 5.7, e.Total)
		assert.False(t, e.Time.IsZero())
	}
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer+10; i++ {
		bus.Publish(Event{Type: SubtitleChanged})
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestCancelClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe()
	require.Equal(t, 1, bus.Subscribers())

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, bus.Subscribers())

	bus.Publish(Event{Type: SubtitleChanged})
}

func TestNilBusPublish(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() { bus.Publish(Event{Type: AudioStop}) })
}
