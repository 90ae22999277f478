// Package events carries engine lifecycle notifications over a channel-based
// pub-sub bus with topic subscriptions.
package events

import (
	"sync"
)

const defaultBufSize = 128

// Bus fans events out to subscriber channels by topic. Publishing never
// blocks: a subscriber that falls behind loses events rather than stalling
// the scheduler.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]chan Event
	all    []chan Event
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]chan Event)}
}

// Subscribe returns a channel receiving events published to one topic.
// bufSize <= 0 uses the default buffer.
func (b *Bus) Subscribe(topic string, bufSize int) <-chan Event {
	ch := newSubChan(bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs[topic] = append(b.subs[topic], ch)
	return ch
}

// SubscribeAll returns a channel receiving events from every topic.
func (b *Bus) SubscribeAll(bufSize int) <-chan Event {
	ch := newSubChan(bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.all = append(b.all, ch)
	return ch
}

func newSubChan(bufSize int) chan Event {
	if bufSize <= 0 {
		bufSize = defaultBufSize
	}
	return make(chan Event, bufSize)
}

// Publish delivers an event to every subscriber of the topic and every
// all-topic subscriber. Full channels drop the event for that subscriber.
func (b *Bus) Publish(topic string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs[topic] {
		trySend(ch, event)
	}
	for _, ch := range b.all {
		trySend(ch, event)
	}
}

func trySend(ch chan Event, event Event) {
	select {
	case ch <- event:
	default:
		// Subscriber is full; drop rather than block.
	}
}

// Close closes every subscriber channel. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, channels := range b.subs {
		for _, ch := range channels {
			close(ch)
		}
	}
	for _, ch := range b.all {
		close(ch)
	}
}
