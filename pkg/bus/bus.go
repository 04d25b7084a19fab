// Package bus provides the message transport underneath the widget event bus.
// Subjects are dot separated tokens ("didReplace.timeSeriesData") and
// subscriptions may use NATS style wildcards.
// The in-memory implementation serves a single process; the NATS
// implementation lets widgets in several processes share one page.
package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrClosed is returned when operating on a closed bus or subscription.
var ErrClosed = errors.New("bus or subscription closed")

// MessageBus is the transport contract used by pkg/eventbus.
// Implementations must be safe for concurrent use.
type MessageBus interface {
	// Publish sends data to every subscription matching subject.
	// It does not wait for delivery.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers handler for subject. Messages for one
	// subscription are delivered in publish order.
	// Supports wildcards: "didReplace.*" matches "didReplace.timeSeriesData".
	Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error)

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(msg *Message)

// Message represents an incoming message from the bus.
type Message struct {
	Subject string
	Data    []byte
}

// Subscription represents an active subscription that can be cancelled.
type Subscription interface {
	// Unsubscribe stops receiving messages and cleans up resources.
	Unsubscribe() error

	// Subject returns the subject pattern this subscription is for.
	Subject() string
}

const (
	DriverMemory = "memory"
	DriverNATS   = "nats"
)

// Config holds configuration for creating a MessageBus.
type Config struct {
	// Driver selects the implementation: "memory" (default) or "nats".
	Driver string `yaml:"driver"`

	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	// Ignored for in-memory bus.
	URL string `yaml:"url"`

	// Name is a client identifier for debugging/monitoring.
	Name string `yaml:"name"`

	// Timeout is the connect timeout.
	Timeout time.Duration `yaml:"timeout"`

	// BufferSize is the per-subscription queue length of the memory bus.
	BufferSize int `yaml:"buffer_size"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Driver:     DriverMemory,
		URL:        "nats://localhost:4222",
		Name:       "mashup",
		Timeout:    10 * time.Second,
		BufferSize: 256,
	}
}

// New creates the MessageBus selected by cfg.Driver.
func New(cfg Config) (MessageBus, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverMemory:
		return NewMemoryBus(WithBufferSize(cfg.BufferSize)), nil
	case DriverNATS:
		return NewNATSBus(cfg)
	default:
		return nil, fmt.Errorf("unknown bus driver %q", cfg.Driver)
	}
}

// MatchSubject reports whether subject matches pattern.
// "*" matches exactly one token and ">" matches one or more trailing tokens.
func MatchSubject(pattern, subject string) bool {
	if pattern == subject {
		return true
	}

	patternParts := strings.Split(pattern, ".")
	subjectParts := strings.Split(subject, ".")

	pi, si := 0, 0
	for pi < len(patternParts) && si < len(subjectParts) {
		switch patternParts[pi] {
		case "*":
			pi++
			si++
		case ">":
			return pi == len(patternParts)-1
		default:
			if patternParts[pi] != subjectParts[si] {
				return false
			}
			pi++
			si++
		}
	}

	return pi == len(patternParts) && si == len(subjectParts)
}
