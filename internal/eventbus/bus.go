// Package eventbus implements the process-wide event fan-out (C9) other
// components use to publish lifecycle notices (instance-started,
// instance-crashed, journal-error, signal, ...) without depending on every
// subscriber.
package eventbus

import (
	"sync"

	"github.com/rs/zerolog"
)

// Subscriber receives every event fired under the topic it subscribed to.
type Subscriber func(topic string, payload any)

type subscription struct {
	id  int64
	fn  Subscriber
}

// Bus is a simple publish/subscribe dispatcher. Firing an event calls every
// subscriber for that topic synchronously, in subscription order; a
// subscriber that panics is recovered and logged so it can never take down
// the firer (spec §4.9).
type Bus struct {
	mu       sync.RWMutex
	subs     map[string][]subscription
	nextID   int64
	disabled bool
	log      zerolog.Logger
}

// NewBus creates an empty event bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subs: make(map[string][]subscription),
		log:  log.With().Str("component", "eventbus").Logger(),
	}
}

// Subscribe registers fn for topic and returns a token usable with
// Unsubscribe.
func (b *Bus) Subscribe(topic string, fn Subscriber) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscription{id: id, fn: fn})
	return id
}

// Unsubscribe removes a previously registered subscription.
func (b *Bus) Unsubscribe(topic string, id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[topic]
	for i, s := range subs {
		if s.id == id {
			b.subs[topic] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Fire notifies every subscriber of topic with payload, unless the bus has
// been disabled. Each subscriber call is wrapped so a panic in one
// subscriber never stops the rest from running.
func (b *Bus) Fire(topic string, payload any) {
	b.mu.RLock()
	if b.disabled {
		b.mu.RUnlock()
		return
	}
	// Copy the slice under the lock so Fire is safe against concurrent
	// Subscribe/Unsubscribe calls.
	subs := make([]subscription, len(b.subs[topic]))
	copy(subs, b.subs[topic])
	b.mu.RUnlock()

	for _, s := range subs {
		b.call(topic, payload, s)
	}
}

func (b *Bus) call(topic string, payload any, s subscription) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Str("topic", topic).Msg("event subscriber panicked")
		}
	}()
	s.fn(topic, payload)
}

// Disable suppresses all Fire calls until Enable is called, for use around
// bulk operations (e.g. journal restore) that would otherwise flood
// subscribers with transitional state.
func (b *Bus) Disable() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disabled = true
}

// Enable resumes firing events.
func (b *Bus) Enable() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disabled = false
}
