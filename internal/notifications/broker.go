// Package notifications provides the realtime channel between writers and
// live subscribers: a topic broker with Redis and in-process backends.
package notifications

import (
	"context"
	"sync"
)

// subscriberBuffer is the per-subscription queue depth.
const subscriberBuffer = 64

// Broker publishes payloads to every current subscriber of a topic.
type Broker interface {
	Publish(ctx context.Context, topic, payload string) error
	// Subscribe returns once the subscription is live, so nothing
	// published after it returns is missed.
	Subscribe(ctx context.Context, topic string) (*Subscription, error)
}

// Subscription delivers payloads on C until Close is called.
type Subscription struct {
	C <-chan string

	once    sync.Once
	closeFn func()
}

// Close stops delivery and releases the subscription. C is closed
// afterwards. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(s.closeFn)
}

// MemoryBroker is an in-process Broker for single-instance deployments and
// tests. Slow subscribers lose payloads once their buffer is full.
type MemoryBroker struct {
	mu     sync.RWMutex
	topics map[string]map[*memorySub]struct{}
}

type memorySub struct {
	ch     chan string
	closed bool
}

// NewMemoryBroker creates an empty in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{topics: make(map[string]map[*memorySub]struct{})}
}

func (b *MemoryBroker) Publish(_ context.Context, topic, payload string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.topics[topic] {
		select {
		case sub.ch <- payload:
		default:
			droppedPayloads.WithLabelValues("memory").Inc()
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(_ context.Context, topic string) (*Subscription, error) {
	sub := &memorySub{ch: make(chan string, subscriberBuffer)}

	b.mu.Lock()
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*memorySub]struct{})
	}
	b.topics[topic][sub] = struct{}{}
	b.mu.Unlock()

	return &Subscription{
		C: sub.ch,
		closeFn: func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.topics[topic], sub)
			if len(b.topics[topic]) == 0 {
				delete(b.topics, topic)
			}
			if !sub.closed {
				sub.closed = true
				close(sub.ch)
			}
		},
	}, nil
}

// subscribers reports the number of live subscriptions on topic.
func (b *MemoryBroker) subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}
