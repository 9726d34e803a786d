// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package availability

import (
	"context"
	"sync"
)

// EventType tags a status transition.
type EventType string

const (
	EventUsageLimit EventType = "usage-limit"
	EventRateLimit  EventType = "rate-limit"
	EventRecovered  EventType = "recovered"
)

// Event is emitted on every status transition.
type Event struct {
	BackendID string    `json:"backend_id"`
	Status    Status    `json:"status"`
	Type      EventType `json:"type"`
}

// Publisher receives status events. Implementations must not block; Publish
// is called synchronously after the transition is persisted.
type Publisher interface {
	Publish(Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event)

func (f PublisherFunc) Publish(e Event) { f(e) }

// MultiPublisher fans an event out to every publisher in order.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(e Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(e)
		}
	}
}

type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

const subscriberBuffer = 16

// Broadcaster delivers events to any number of subscribers. A subscriber
// that falls behind drops events rather than stalling the tracker.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewBroadcaster returns an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Event]struct{})}
}

// Subscribe returns a channel of events that is closed when ctx is done.
func (b *Broadcaster) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

func (b *Broadcaster) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
