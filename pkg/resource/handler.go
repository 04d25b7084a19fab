package resource

import (
	"context"

	"github.com/odvcencio/mashup/pkg/eventbus"
	"github.com/odvcencio/mashup/pkg/jsonpatch"
	"github.com/odvcencio/mashup/pkg/logging"
)

// Subscriber is the subset of *eventbus.EventBus used to follow resources.
type Subscriber interface {
	Subscribe(ctx context.Context, pattern string, handler eventbus.Handler) error
}

// Callbacks are invoked after the store has taken the change. data is a
// private copy the callback may keep.
type Callbacks struct {
	OnReplace func(ctx context.Context, name string, data any)
	OnUpdate  func(ctx context.Context, name string, data any, patches jsonpatch.Patch)
}

// Handler keeps a Store in sync with resource events on a bus.
type Handler struct {
	sub    Subscriber
	store  *Store
	logger *logging.Logger
}

// NewHandler creates a handler. A nil store gets a fresh one.
func NewHandler(sub Subscriber, store *Store, logger *logging.Logger) *Handler {
	if store == nil {
		store = NewStore()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Handler{sub: sub, store: store, logger: logger}
}

// Store returns the store maintained by the handler.
func (h *Handler) Store() *Store {
	return h.store
}

// Register follows one resource. didReplace.<name> and didUpdate.<name>
// share one subscription so an update is never applied ahead of the
// replace published before it.
func (h *Handler) Register(ctx context.Context, name string, cb Callbacks) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	return h.sub.Subscribe(ctx, "*."+name, h.dispatch(name, cb))
}

// Track follows every resource on the bus through a single ordered
// subscription.
func (h *Handler) Track(ctx context.Context, cb Callbacks) error {
	return h.sub.Subscribe(ctx, ">", h.dispatch("", cb))
}

func (h *Handler) dispatch(expected string, cb Callbacks) eventbus.Handler {
	onReplace := h.onReplace(expected, cb)
	onUpdate := h.onUpdate(expected, cb)
	return func(ctx context.Context, ev eventbus.Event) {
		switch ev.Kind() {
		case KindReplace:
			onReplace(ctx, ev)
		case KindUpdate:
			onUpdate(ctx, ev)
		}
	}
}

func (h *Handler) onReplace(expected string, cb Callbacks) eventbus.Handler {
	return func(ctx context.Context, ev eventbus.Event) {
		var payload ReplacePayload
		if err := ev.Decode(&payload); err != nil {
			h.logger.Warn(logging.CategoryResource, "bad_replace", err.Error(), nil)
			return
		}
		name, ok := h.resolveName(ev.Name, payload.Resource, expected)
		if !ok {
			return
		}
		data, err := h.store.Replace(name, payload.Data)
		if err != nil {
			h.logger.Warn(logging.CategoryResource, "bad_replace", err.Error(), map[string]any{"resource": name})
			return
		}
		h.logger.Debug(logging.CategoryResource, "did_replace", name, nil)
		if cb.OnReplace != nil {
			cb.OnReplace(ctx, name, data)
		}
	}
}

func (h *Handler) onUpdate(expected string, cb Callbacks) eventbus.Handler {
	return func(ctx context.Context, ev eventbus.Event) {
		var payload UpdatePayload
		if err := ev.Decode(&payload); err != nil {
			h.logger.Warn(logging.CategoryResource, "bad_update", err.Error(), nil)
			return
		}
		name, ok := h.resolveName(ev.Name, payload.Resource, expected)
		if !ok {
			return
		}
		data, err := h.store.Update(name, payload.Patches)
		if err != nil {
			h.logger.Warn(logging.CategoryResource, "bad_update", err.Error(), map[string]any{"resource": name})
			return
		}
		h.logger.Debug(logging.CategoryResource, "did_update", name, map[string]any{"operations": len(payload.Patches)})
		if cb.OnUpdate != nil {
			cb.OnUpdate(ctx, name, data, payload.Patches)
		}
	}
}

// resolveName checks the payload's resource field against the event name
// and, for Register, against the registered name.
func (h *Handler) resolveName(event, payloadName, expected string) (string, bool) {
	fromEvent, ok := NameFromEvent(event)
	if !ok {
		return "", false
	}
	if payloadName != "" && payloadName != fromEvent {
		h.logger.Warn(logging.CategoryResource, "resource_mismatch", event, map[string]any{
			"payloadResource": payloadName,
		})
		return "", false
	}
	if expected != "" && fromEvent != expected {
		return "", false
	}
	return fromEvent, true
}
