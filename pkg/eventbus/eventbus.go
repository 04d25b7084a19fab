// Package eventbus is the publish/subscribe surface the widgets talk to.
// Each widget owns one EventBus bound to its sender id; all of them share a
// single bus.MessageBus underneath.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/odvcencio/mashup/pkg/bus"
	"github.com/odvcencio/mashup/pkg/logging"
)

var (
	metricPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mashup",
		Subsystem: "eventbus",
		Name:      "events_published_total",
		Help:      "Events published by widgets, by event kind.",
	}, []string{"kind"})
	metricDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mashup",
		Subsystem: "eventbus",
		Name:      "events_delivered_total",
		Help:      "Events handed to widget subscribers, by event kind.",
	}, []string{"kind"})
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("eventbus: closed")

// Envelope is the wire form of an event on the message bus.
type Envelope struct {
	Name            string          `json:"name"`
	Sender          string          `json:"sender"`
	DeliverToSender bool            `json:"deliverToSender"`
	Payload         json.RawMessage `json:"payload"`
}

// Event is what subscribers receive.
type Event struct {
	Name    string
	Sender  string
	Payload json.RawMessage
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s: empty payload", e.Name)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("event %s: decode payload: %w", e.Name, err)
	}
	return nil
}

// Kind returns the first token of the event name ("didReplace").
func (e Event) Kind() string {
	return Kind(e.Name)
}

// Kind returns the first dot separated token of an event name.
func Kind(name string) string {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}

// Handler receives events matching a subscription.
type Handler func(ctx context.Context, ev Event)

type publishOptions struct {
	deliverToSender bool
}

// PublishOption adjusts a single Publish call.
type PublishOption func(*publishOptions)

// DeliverToSender controls whether subscriptions made through the
// publishing EventBus receive the event. The default is true.
func DeliverToSender(deliver bool) PublishOption {
	return func(o *publishOptions) {
		o.deliverToSender = deliver
	}
}

// EventBus publishes and subscribes on behalf of one sender.
type EventBus struct {
	transport bus.MessageBus
	sender    string
	logger    *logging.Logger

	mu     sync.Mutex
	subs   []bus.Subscription
	closed bool
}

// New binds a new sender id to transport.
func New(transport bus.MessageBus, logger *logging.Logger) *EventBus {
	return NewWithSender(transport, ulid.Make().String(), logger)
}

// NewWithSender is New with an explicit sender id.
func NewWithSender(transport bus.MessageBus, sender string, logger *logging.Logger) *EventBus {
	if logger == nil {
		logger = logging.Nop()
	}
	return &EventBus{
		transport: transport,
		sender:    sender,
		logger:    logger,
	}
}

// Sender returns the id stamped on published events.
func (b *EventBus) Sender() string {
	return b.sender
}

// Publish sends payload under name. Payload must be JSON serializable.
func (b *EventBus) Publish(ctx context.Context, name string, payload any, opts ...PublishOption) error {
	if b.isClosed() {
		return ErrClosed
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("publish: empty event name")
	}

	options := publishOptions{deliverToSender: true}
	for _, opt := range opts {
		opt(&options)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("publish %s: encode payload: %w", name, err)
	}
	data, err := json.Marshal(Envelope{
		Name:            name,
		Sender:          b.sender,
		DeliverToSender: options.deliverToSender,
		Payload:         raw,
	})
	if err != nil {
		return fmt.Errorf("publish %s: encode envelope: %w", name, err)
	}

	if err := b.transport.Publish(ctx, name, data); err != nil {
		return fmt.Errorf("publish %s: %w", name, err)
	}

	metricPublished.WithLabelValues(Kind(name)).Inc()
	b.logger.Debug(logging.CategoryBus, "publish", name, map[string]any{
		"deliverToSender": options.deliverToSender,
		"bytes":           len(raw),
	})
	return nil
}

// Subscribe registers handler for pattern. Events published by this
// EventBus with DeliverToSender(false) are skipped.
func (b *EventBus) Subscribe(ctx context.Context, pattern string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("subscribe %s: nil handler", pattern)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	sub, err := b.transport.Subscribe(ctx, pattern, func(msg *bus.Message) {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			b.logger.Warn(logging.CategoryBus, "malformed_envelope", msg.Subject, map[string]any{"error": err.Error()})
			return
		}
		if env.Sender == b.sender && !env.DeliverToSender {
			return
		}
		if env.Name == "" {
			env.Name = msg.Subject
		}
		metricDelivered.WithLabelValues(Kind(env.Name)).Inc()
		handler(ctx, Event{Name: env.Name, Sender: env.Sender, Payload: env.Payload})
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", pattern, err)
	}

	b.subs = append(b.subs, sub)
	return nil
}

// Subscriptions returns the patterns subscribed through this bus.
func (b *EventBus) Subscriptions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.subs))
	for _, sub := range b.subs {
		out = append(out, sub.Subject())
	}
	return out
}

// Close drops every subscription made through this bus. The shared
// transport stays open.
func (b *EventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, bus.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *EventBus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
