package events

import (
	"sync"

	"github.com/soundux/soundux-routing/routershim"
)

// Event is a marker interface for all routing events
type Event interface {
	isEvent()
}

// Base implementation for all events
type baseEvent struct{}

func (baseEvent) isEvent() {}

// LeftoverRemoved is fired for each module from an earlier session unloaded at setup
type LeftoverRemoved struct {
	baseEvent
	ModuleIndex uint32
	Args        string
}

// DevicesCreated is fired once setup has loaded every virtual device
type DevicesCreated struct {
	baseEvent
	Modules []uint32
}

// DevicesRemoved is fired when teardown has unloaded the root devices
type DevicesRemoved struct {
	baseEvent
	Failures int
}

// PassthroughChanged is fired when a playback app is diverted or restored
type PassthroughChanged struct {
	baseEvent
	Active bool
	Target routershim.StreamRecord
}

// SoundInputChanged is fired when a recording app starts or stops receiving board audio
type SoundInputChanged struct {
	baseEvent
	Active bool
	Target routershim.StreamRecord
}

// ConnectionLost is fired once when the server connection drops
type ConnectionLost struct {
	baseEvent
	Err error
}

// Bus provides simple event publish/subscribe
type Bus struct {
	mu          sync.RWMutex
	subscribers []chan Event
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe creates a new event channel for receiving events
func (b *Bus) Subscribe(bufferSize int) chan Event {
	ch := make(chan Event, bufferSize)
	b.mu.Lock()
	b.subscribers = append(b.subscribers, ch)
	b.mu.Unlock()
	return ch
}

// Publish sends an event to all subscribers (non-blocking). A nil bus drops the event.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Skip slow subscribers so routing calls never block on listeners
		}
	}
}
