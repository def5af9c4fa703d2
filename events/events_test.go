package events

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/soundux/soundux-routing/routershim"
)

func TestPublishFansOut(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe(1)
	b := bus.Subscribe(1)

	bus.Publish(PassthroughChanged{Active: true, Target: routershim.StreamRecord{Name: "Spotify"}})

	for _, ch := range []chan Event{a, b} {
		ev, ok := (<-ch).(PassthroughChanged)
		assert.True(t, ok)
		assert.Equal(t, "Spotify", ev.Target.Name)
	}
}

func TestPublishSkipsFullSubscribers(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(1)

	bus.Publish(DevicesRemoved{Failures: 0})
	assert.NotPanics(t, func() { bus.Publish(DevicesRemoved{Failures: 1}) })
	assert.Len(t, ch, 1)
	assert.Equal(t, 0, (<-ch).(DevicesRemoved).Failures)
}

func TestNilBus(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() { bus.Publish(ConnectionLost{}) })
}
