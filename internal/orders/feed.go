package orders

import (
	"sync"
)

// EventKind names what happened to an order.
type EventKind string

const (
	EventCreated       EventKind = "created"
	EventStatusChanged EventKind = "status_changed"
)

// Event is delivered to Feed subscribers.
type Event struct {
	Kind  EventKind `json:"kind"`
	Order Order     `json:"order"`
}

// Feed holds the latest known copy of each order the process has touched
// and fans out change events to subscribers.
type Feed struct {
	mu     sync.RWMutex
	orders map[string]Order
	subs   map[uint64]func(Event)
	nextID uint64
}

// NewFeed returns an empty Feed.
func NewFeed() *Feed {
	return &Feed{
		orders: map[string]Order{},
		subs:   map[uint64]func(Event){},
	}
}

// Subscribe registers fn for future events. The returned func unsubscribes
// and is safe to call more than once.
func (f *Feed) Subscribe(fn func(Event)) (unsubscribe func()) {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = fn
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}
}

// Publish records e.Order and notifies subscribers synchronously, outside the lock.
func (f *Feed) Publish(e Event) {
	f.mu.Lock()
	f.orders[e.Order.OrderID] = e.Order
	subs := make([]func(Event), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()

	for _, fn := range subs {
		fn(e)
	}
}

// Get returns the cached copy of an order.
func (f *Feed) Get(orderID string) (Order, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	o, ok := f.orders[orderID]
	return o, ok
}

// Snapshot returns every cached order, newest first.
func (f *Feed) Snapshot() []Order {
	f.mu.RLock()
	out := make([]Order, 0, len(f.orders))
	for _, o := range f.orders {
		out = append(out, o)
	}
	f.mu.RUnlock()
	sortNewestFirst(out)
	return out
}

// Subscribers reports how many subscribers are registered.
func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}
