package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

const DefaultSubscriberBuffer = 16

// Broker fans events out to in-process subscribers. There is no replay:
// subscribers only see events published after they subscribed.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[*Subscription]struct{}
	closed      bool
}

type Subscription struct {
	C      <-chan Event
	ch     chan Event
	broker *Broker
	once   sync.Once
}

func NewBroker() *Broker {
	return &Broker{subscribers: make(map[*Subscription]struct{})}
}

// Subscribe registers a subscriber with the given channel buffer. Callers must Close it.
func (b *Broker) Subscribe(buffer int) *Subscription {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Event, buffer)
	sub := &Subscription{C: ch, ch: ch, broker: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	b.subscribers[sub] = struct{}{}
	return sub
}

// Close unsubscribes and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.broker.mu.Lock()
		defer s.broker.mu.Unlock()
		if _, ok := s.broker.subscribers[s]; ok {
			delete(s.broker.subscribers, s)
			close(s.ch)
		}
	})
}

// Publish delivers the event to every subscriber without blocking; a subscriber
// whose buffer is full misses the event.
func (b *Broker) Publish(_ context.Context, topic, payload string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("broker is closed")
	}

	event := Event{Topic: topic, Payload: payload}
	for sub := range b.subscribers {
		select {
		case sub.ch <- event:
		default:
			slog.Warn("subscriber queue is full, dropping event", "topic", topic, "payload", payload)
		}
	}
	return nil
}

func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close ends every subscription and rejects further publishes.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, sub)
	}
}
