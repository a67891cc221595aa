package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusFanOut(t *testing.T) {
	bus := NewEventBus()
	a := bus.Subscribe()
	b := bus.Subscribe()
	defer bus.Unsubscribe(a)
	defer bus.Unsubscribe(b)

	ev := Event{Resource: ResourceBuildings, Action: "created", ID: "batiments.7"}
	bus.Publish(ev)

	assert.Equal(t, ev, <-a)
	assert.Equal(t, ev, <-b)
}

func TestEventBusSlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	for i := 0; i < 100; i++ {
		bus.Publish(Event{Resource: ResourceBuildings, Action: "updated"})
	}
	assert.Len(t, ch, cap(ch))
}

func TestEventBusUnsubscribeTwice(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe()
	require.Equal(t, 1, bus.Subscribers())

	bus.Unsubscribe(ch)
	bus.Unsubscribe(ch)
	assert.Equal(t, 0, bus.Subscribers())

	_, open := <-ch
	assert.False(t, open)
}
