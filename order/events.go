package order

import (
	"sync"
	"time"
)

// EventKind identifies a lifecycle event variant.
type EventKind string

const (
	// EventCreated fires once when an order leaves PENDING_CREATE for a
	// live state.
	EventCreated EventKind = "created"
	// EventFill fires whenever a trade update increased the executed
	// amount.
	EventFill EventKind = "fill"
	// EventCancelled, EventCompleted and EventFailure are the completion
	// variants; exactly one of them fires exactly once per order.
	EventCancelled EventKind = "cancelled"
	EventCompleted EventKind = "completed"
	EventFailure   EventKind = "failure"
	// EventLost fires when an order is quarantined after repeated
	// not-found reports. The failure event for the same order precedes it.
	EventLost EventKind = "lost"
)

// Event carries an order snapshot at the moment of the transition, plus
// the trade that caused it for fill events.
type Event struct {
	Kind      EventKind
	Timestamp time.Time
	Order     Snapshot
	Trade     *TradeUpdate
}

// Events dispatches lifecycle events synchronously to subscribers.
// Synchronous dispatch keeps the exactly-once completion guarantee
// observable: when ProcessOrderUpdate returns, every subscriber has seen
// the event.
type Events struct {
	mu   sync.RWMutex
	subs map[EventKind][]func(Event)
	all  []func(Event)
}

// NewEvents creates an empty event registry.
func NewEvents() *Events {
	return &Events{subs: make(map[EventKind][]func(Event))}
}

// Subscribe registers fn for a single event kind.
func (e *Events) Subscribe(kind EventKind, fn func(Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs[kind] = append(e.subs[kind], fn)
}

// SubscribeAll registers fn for every event kind.
func (e *Events) SubscribeAll(fn func(Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, fn)
}

func (e *Events) publish(ev Event) {
	if e == nil {
		return
	}
	e.mu.RLock()
	kindSubs := e.subs[ev.Kind]
	allSubs := e.all
	e.mu.RUnlock()
	for _, fn := range kindSubs {
		fn(ev)
	}
	for _, fn := range allSubs {
		fn(ev)
	}
}
