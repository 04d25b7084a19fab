// Package widget holds what every widget shares: its context (id, event
// bus, logger, locale) and the Host that mounts and unmounts widgets.
package widget

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/odvcencio/mashup/pkg/bus"
	"github.com/odvcencio/mashup/pkg/eventbus"
	"github.com/odvcencio/mashup/pkg/logging"
)

// Context is handed to a widget when it is mounted.
type Context struct {
	ID     string
	Name   string
	Bus    *eventbus.EventBus
	Logger *logging.Logger
	Locale string
}

// Widget is a mounted unit subscribing to and publishing on the bus.
type Widget interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}

// Factory builds a widget from its context.
type Factory func(wctx Context) (Widget, error)

type mounted struct {
	widget Widget
	wctx   Context
}

// Host owns the widgets of one page.
type Host struct {
	transport bus.MessageBus
	logger    *logging.Logger
	locale    string

	mu      sync.Mutex
	widgets []mounted
	started bool
}

// NewHost creates a host whose widgets share transport.
func NewHost(transport bus.MessageBus, logger *logging.Logger, locale string) *Host {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Host{transport: transport, logger: logger, locale: locale}
}

// NewContext creates a widget context with a fresh event bus.
func (h *Host) NewContext(name string) Context {
	logger := h.logger.With(name)
	b := eventbus.New(h.transport, logger)
	return Context{
		ID:     b.Sender(),
		Name:   name,
		Bus:    b,
		Logger: logger,
		Locale: h.locale,
	}
}

// Mount builds a widget and registers it with the host. If the host is
// already started the widget is started immediately.
func (h *Host) Mount(ctx context.Context, name string, factory Factory) (Widget, error) {
	wctx := h.NewContext(name)
	w, err := factory(wctx)
	if err != nil {
		wctx.Bus.Close()
		return nil, fmt.Errorf("mount %s: %w", name, err)
	}

	h.mu.Lock()
	started := h.started
	h.widgets = append(h.widgets, mounted{widget: w, wctx: wctx})
	h.mu.Unlock()

	if started {
		if err := w.Start(ctx); err != nil {
			return nil, fmt.Errorf("start %s: %w", name, err)
		}
	}
	h.logger.Info(logging.CategoryWidget, "mounted", name, map[string]any{"id": wctx.ID})
	return w, nil
}

// Start starts every mounted widget in mount order.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return nil
	}
	h.started = true
	widgets := append([]mounted(nil), h.widgets...)
	h.mu.Unlock()

	for _, m := range widgets {
		if err := m.widget.Start(ctx); err != nil {
			return fmt.Errorf("start %s: %w", m.widget.Name(), err)
		}
	}
	return nil
}

// Stop stops widgets in reverse mount order and closes their event buses.
func (h *Host) Stop() error {
	h.mu.Lock()
	widgets := h.widgets
	h.widgets = nil
	h.started = false
	h.mu.Unlock()

	var errs []error
	for i := len(widgets) - 1; i >= 0; i-- {
		m := widgets[i]
		if err := m.widget.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", m.widget.Name(), err))
		}
		if err := m.wctx.Bus.Close(); err != nil {
			errs = append(errs, err)
		}
		h.logger.Info(logging.CategoryWidget, "unmounted", m.widget.Name(), nil)
	}
	return errors.Join(errs...)
}

// Widgets returns the mounted widgets in mount order.
func (h *Host) Widgets() []Widget {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Widget, 0, len(h.widgets))
	for _, m := range h.widgets {
		out = append(out, m.widget)
	}
	return out
}
