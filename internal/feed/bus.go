package feed

import (
	"strings"
	"sync"
)

// Forwarder receives every locally raised notification so it can reach other instances.
type Forwarder interface {
	Forward(topic string)
}

// Bus fans change notifications out to the listeners of a topic.
// Notifications carry no payload: listeners reload the state they watch.
type Bus struct {
	topics    map[string]map[*listener]struct{}
	forwarder Forwarder
	mu        sync.RWMutex
}

type listener struct {
	ch chan struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{topics: make(map[string]map[*listener]struct{})}
}

// SetForwarder attaches a forwarder for notifications raised on this instance.
func (b *Bus) SetForwarder(f Forwarder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forwarder = f
}

// Subscribe registers a listener on topic. Pending notifications coalesce into one.
func (b *Bus) Subscribe(topic string) (<-chan struct{}, func()) {
	l := &listener{ch: make(chan struct{}, 1)}

	b.mu.Lock()
	if _, ok := b.topics[topic]; !ok {
		b.topics[topic] = make(map[*listener]struct{})
	}
	b.topics[topic][l] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return l.ch, func() {
		once.Do(func() { b.remove(topic, l) })
	}
}

func (b *Bus) remove(topic string, l *listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if listeners, ok := b.topics[topic]; ok {
		delete(listeners, l)
		if len(listeners) == 0 {
			delete(b.topics, topic)
		}
	}
}

// Notify wakes local listeners of topic and hands the topic to the forwarder.
func (b *Bus) Notify(topic string) {
	b.Deliver(topic)

	b.mu.RLock()
	f := b.forwarder
	b.mu.RUnlock()
	if f != nil {
		f.Forward(topic)
	}
}

// Deliver wakes local listeners only.
func (b *Bus) Deliver(topic string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for l := range b.topics[topic] {
		select {
		case l.ch <- struct{}{}:
		default:
		}
	}
}

// Listeners reports how many listeners are registered on topic.
func (b *Bus) Listeners(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// RoomTopic names the change topic of a room document.
func RoomTopic(roomID string) string {
	return "rooms." + roomID
}

// MessagesTopic names the change topic of a room's message collection.
func MessagesTopic(roomID string) string {
	return "rooms." + roomID + ".messages"
}

// RoomOf extracts the room id from a topic produced by RoomTopic or MessagesTopic.
func RoomOf(topic string) string {
	rest, ok := strings.CutPrefix(topic, "rooms.")
	if !ok {
		return ""
	}
	id, _, _ := strings.Cut(rest, ".")
	return id
}
