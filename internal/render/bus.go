package render

import (
	"sync"
	"sync/atomic"

	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/tiledgeojson/internal/tiled"
)

// Event is one change to a renderable set.
type Event struct {
	Action  string // "add" or "remove"
	Tile    tiled.TileID
	Index   int
	Feature *geojson.Feature // nil for "remove"
}

// SubscriberBuffer is how many events a subscriber may fall behind before
// events are dropped for it.
const SubscriberBuffer = 256

// Subscription receives the events of one Bus subscriber.
type Subscription struct {
	ch       chan Event
	overflow atomic.Bool
}

// Events returns the channel events arrive on. It is closed when the
// subscription ends.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Overflowed reports whether an event was dropped since the last Reset.
// The receiver's view is stale from then on and must be rebuilt.
func (s *Subscription) Overflowed() bool { return s.overflow.Load() }

// Reset discards buffered events and clears the overflow flag. It must run
// where nothing publishes concurrently.
func (s *Subscription) Reset() {
	s.overflow.Store(false)
	for {
		select {
		case _, ok := <-s.ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// Bus is a simple fan-out pub/sub for render events.
type Bus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Publish sends an event to all subscribers without blocking. A subscriber
// whose buffer is full misses the event and is marked overflowed.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		select {
		case sub.ch <- e:
		default:
			sub.overflow.Store(true)
		}
	}
}

// Subscribe registers a new subscriber.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{ch: make(chan Event, SubscriberBuffer)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	_, ok := b.subs[sub]
	delete(b.subs, sub)
	b.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// Close unsubscribes everyone.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// Publisher is a Renderer that turns every call into a bus event.
type Publisher struct {
	Bus *Bus
}

func (p Publisher) Add(tile tiled.TileID, index int, f *geojson.Feature) {
	p.Bus.Publish(Event{Action: "add", Tile: tile, Index: index, Feature: f})
}

func (p Publisher) Remove(tile tiled.TileID, index int) {
	p.Bus.Publish(Event{Action: "remove", Tile: tile, Index: index})
}

var _ tiled.Renderer = Publisher{}
