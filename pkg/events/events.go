// Package events implements the live-query notification fan-out: an
// in-memory pub/sub broker with per-subscriber buffered channels so one
// slow LIVE consumer cannot stall another.
// Each Notification is addressed to exactly the live query that
// requested it — Broker.Publish takes the live query id and routes to
// its single Subscriber, avoiding a filter step on every fan-out.
package events

import (
	"sync"

	"github.com/google/uuid"

	"github.com/cuemby/nexus/pkg/value"
)

// Action names the kind of write that produced a Notification.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Notification is one LIVE query result.
type Notification struct {
	LiveID   uuid.UUID
	Action   Action
	RecordID value.Value
	Result   value.Value
}

// Subscriber is the channel a single LIVE query's consumer reads from.
type Subscriber chan Notification

// Broker routes notifications to the live query they belong to. One
// Broker is shared by every session attached to a given namespace;
// KILL unsubscribes and closes the live query's channel.
type Broker struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]Subscriber
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[uuid.UUID]Subscriber)}
}

// Subscribe registers liveID and returns the channel its consumer reads
// notifications from. The channel is buffered so a burst of writes
// within one transaction doesn't block the writer on a slow consumer.
func (b *Broker) Subscribe(liveID uuid.UUID) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := make(Subscriber, 64)
	b.subs[liveID] = sub
	return sub
}

// Unsubscribe implements KILL: it closes and removes the live query's
// channel. Publishing to a killed live query after this is a silent no-op,
// matching the "KILL is the only explicit unsubscribe".
func (b *Broker) Unsubscribe(liveID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[liveID]; ok {
		delete(b.subs, liveID)
		close(sub)
	}
}

// Publish delivers one notification to liveID's subscriber. A full
// buffer drops the new notification rather than blocking the write path:
// a lagging LIVE consumer must not slow down unrelated writers.
func (b *Broker) Publish(liveID uuid.UUID, n Notification) {
	b.mu.RLock()
	sub, ok := b.subs[liveID]
	b.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case sub <- n:
	default:
	}
}

// Channel returns the subscriber channel registered for liveID, letting
// a caller that didn't itself create the subscription (pkg/session's
// Bridge, fanning several live queries into one session-level
// notification stream) read from it without re-subscribing.
func (b *Broker) Channel(liveID uuid.UUID) (Subscriber, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sub, ok := b.subs[liveID]
	return sub, ok
}

// Active reports whether liveID currently has a subscriber, letting the
// view/write path skip building a Notification body when nobody would
// receive it.
func (b *Broker) Active(liveID uuid.UUID) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.subs[liveID]
	return ok
}

// Close unsubscribes every live query, used when a session or namespace
// is torn down.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub)
	}
}
