package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricDropped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "mashup",
	Subsystem: "bus",
	Name:      "messages_dropped_total",
	Help:      "Messages dropped because a subscription queue was full.",
})

const defaultBufferSize = 256

// MemoryOption configures a MemoryBus.
type MemoryOption func(*MemoryBus)

// WithBufferSize sets the per-subscription queue length.
func WithBufferSize(n int) MemoryOption {
	return func(b *MemoryBus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// MemoryBus is an in-process implementation of MessageBus.
// It supports wildcards but does not persist messages.
type MemoryBus struct {
	mu            sync.RWMutex
	subscriptions map[string][]*memorySubscription
	bufferSize    int
	closed        atomic.Bool
	subCounter    atomic.Uint64
	dropped       atomic.Uint64
}

// NewMemoryBus creates a new in-memory message bus.
func NewMemoryBus(opts ...MemoryOption) *MemoryBus {
	b := &MemoryBus{
		subscriptions: make(map[string][]*memorySubscription),
		bufferSize:    defaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *MemoryBus) Publish(ctx context.Context, subject string, data []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}

	msg := &Message{
		Subject: subject,
		Data:    append([]byte(nil), data...),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for pattern, subs := range b.subscriptions {
		if !MatchSubject(pattern, subject) {
			continue
		}
		for _, sub := range subs {
			if sub.closed.Load() {
				continue
			}
			// Non-blocking send so a slow handler cannot stall publishers.
			select {
			case sub.messages <- msg:
			default:
				b.dropped.Add(1)
				metricDropped.Inc()
			}
		}
	}

	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	if handler == nil {
		return nil, fmt.Errorf("subscribe %s: nil handler", subject)
	}

	sub := &memorySubscription{
		id:       fmt.Sprintf("sub-%d", b.subCounter.Add(1)),
		subject:  subject,
		messages: make(chan *Message, b.bufferSize),
		done:     make(chan struct{}),
		handler:  handler,
		bus:      b,
	}

	b.mu.Lock()
	b.subscriptions[subject] = append(b.subscriptions[subject], sub)
	b.mu.Unlock()

	go sub.run(ctx)

	return sub, nil
}

// Dropped returns the number of messages dropped on full subscription queues.
func (b *MemoryBus) Dropped() uint64 {
	return b.dropped.Load()
}

func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, subs := range b.subscriptions {
		for _, sub := range subs {
			if !sub.closed.Swap(true) {
				close(sub.done)
			}
		}
	}
	b.subscriptions = make(map[string][]*memorySubscription)

	return nil
}

// memorySubscription implements Subscription for MemoryBus.
type memorySubscription struct {
	id       string
	subject  string
	messages chan *Message
	done     chan struct{}
	handler  MessageHandler
	bus      *MemoryBus
	closed   atomic.Bool
}

func (s *memorySubscription) Unsubscribe() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.done)

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	subs := s.bus.subscriptions[s.subject]
	for i, sub := range subs {
		if sub.id == s.id {
			s.bus.subscriptions[s.subject] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(s.bus.subscriptions[s.subject]) == 0 {
		delete(s.bus.subscriptions, s.subject)
	}

	return nil
}

func (s *memorySubscription) Subject() string {
	return s.subject
}

func (s *memorySubscription) run(ctx context.Context) {
	for {
		select {
		case msg := <-s.messages:
			if s.closed.Load() {
				return
			}
			s.handler(msg)
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}
