// Package tableeditor implements the widget that shows a time series
// resource as an editable table and publishes edits as JSON patches.
package tableeditor

import (
	"context"
	"sync"

	mashuperrors "github.com/odvcencio/mashup/pkg/errors"
	"github.com/odvcencio/mashup/pkg/eventbus"
	"github.com/odvcencio/mashup/pkg/jsonpatch"
	"github.com/odvcencio/mashup/pkg/logging"
	"github.com/odvcencio/mashup/pkg/resource"
	"github.com/odvcencio/mashup/pkg/widget"
)

// TimeSeriesFeature names the edited resource.
type TimeSeriesFeature struct {
	Resource string `yaml:"resource" json:"resource"`
}

// Features is the widget configuration.
type Features struct {
	TimeSeries TimeSeriesFeature `yaml:"timeSeries" json:"timeSeries"`
}

// Validate checks the configuration before the widget is built.
func (f Features) Validate() error {
	if err := resource.ValidateName(f.TimeSeries.Resource); err != nil {
		return mashuperrors.Wrap(err, mashuperrors.ErrCodeConfigInvalid, "timeSeries.resource")
	}
	return nil
}

// Widget is the table editor. It is a slave of its resource: it follows
// didReplace and didUpdate and publishes didUpdate for local edits.
type Widget struct {
	wctx     widget.Context
	features Features
	store    *resource.Store
	handler  *resource.Handler
	logger   *logging.Logger

	// editMu serializes edits so a batch and its AfterChange publish one
	// patch against one model.
	editMu sync.Mutex

	mu       sync.Mutex
	resource any
	model    [][]any
	changed  chan struct{}
}

// New builds a table editor on wctx.
func New(wctx widget.Context, features Features) (*Widget, error) {
	if err := features.Validate(); err != nil {
		return nil, err
	}
	logger := wctx.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	store := resource.NewStore()
	return &Widget{
		wctx:     wctx,
		features: features,
		store:    store,
		handler:  resource.NewHandler(wctx.Bus, store, logger),
		logger:   logger,
		changed:  make(chan struct{}),
	}, nil
}

// Factory adapts New for widget.Host.Mount.
func Factory(features Features) widget.Factory {
	return func(wctx widget.Context) (widget.Widget, error) {
		return New(wctx, features)
	}
}

func (w *Widget) Name() string { return w.wctx.Name }

// Start registers the widget as slave of its resource.
func (w *Widget) Start(ctx context.Context) error {
	return w.handler.Register(ctx, w.features.TimeSeries.Resource, resource.Callbacks{
		OnReplace: func(_ context.Context, name string, _ any) {
			w.sync()
			w.logger.Info(logging.CategoryWidget, "resource_replaced", name, nil)
		},
		OnUpdate: func(_ context.Context, name string, _ any, patches jsonpatch.Patch) {
			w.sync()
			w.logger.Info(logging.CategoryWidget, "resource_updated", name, map[string]any{
				"operations": len(patches),
			})
		},
	})
}

func (w *Widget) Stop() error { return nil }

// ResourceName is the name of the edited resource.
func (w *Widget) ResourceName() string { return w.features.TimeSeries.Resource }

// Resource returns a copy of the current resource, or nil before the first
// didReplace.
func (w *Widget) Resource() any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return jsonpatch.Clone(w.resource)
}

// TableModel returns a copy of the current table model.
func (w *Widget) TableModel() [][]any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return cloneModel(w.model)
}

// Changed returns a channel that is closed the next time the resource or
// the model changes.
func (w *Widget) Changed() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.changed
}

// Cell is one table edit.
type Cell struct {
	Row   int
	Col   int
	Value any
}

// SetCell edits one cell of the model. A row or column may be appended
// next to the existing ones; positions further out are rejected. The
// resource is not touched until AfterChange.
func (w *Widget) SetCell(row, col int, value any) error {
	return w.SetCells([]Cell{{Row: row, Col: col, Value: value}})
}

// SetCells applies all cells or none of them.
func (w *Widget) SetCells(cells []Cell) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.resource == nil {
		return mashuperrors.New(mashuperrors.ErrCodeResourceUnknown, "no resource to edit yet").
			WithContext("resource", w.features.TimeSeries.Resource)
	}

	staged := cloneModel(w.model)
	for _, c := range cells {
		var err error
		if staged, err = setCell(staged, c); err != nil {
			return err
		}
	}
	w.model = staged
	return nil
}

// Edit applies cells and publishes the result in one step.
func (w *Widget) Edit(ctx context.Context, cells []Cell) (jsonpatch.Patch, error) {
	w.editMu.Lock()
	defer w.editMu.Unlock()
	if err := w.SetCells(cells); err != nil {
		return nil, err
	}
	return w.afterChange(ctx)
}

func setCell(model [][]any, c Cell) ([][]any, error) {
	width := 0
	if len(model) > 0 {
		width = len(model[0])
	}
	rowLen := 0
	if c.Row >= 0 && c.Row < len(model) {
		rowLen = len(model[c.Row])
	}
	if c.Row < 0 || c.Col < 0 || c.Row > len(model) || c.Col > max(width, rowLen) {
		return nil, mashuperrors.New(mashuperrors.ErrCodeInvalidInput, "cell position out of range").
			WithContext("row", c.Row).
			WithContext("col", c.Col)
	}
	if c.Row == len(model) {
		model = append(model, nil)
	}
	for len(model[c.Row]) <= c.Col {
		model[c.Row] = append(model[c.Row], nil)
	}
	model[c.Row][c.Col] = c.Value
	return model, nil
}

// AfterChange rebuilds the resource from the model and publishes the
// difference as didUpdate. The published patch is returned; it is empty
// (and nothing is published) when the edit did not change the resource.
func (w *Widget) AfterChange(ctx context.Context) (jsonpatch.Patch, error) {
	w.editMu.Lock()
	defer w.editMu.Unlock()
	return w.afterChange(ctx)
}

func (w *Widget) afterChange(ctx context.Context) (jsonpatch.Patch, error) {
	name := w.features.TimeSeries.Resource

	w.mu.Lock()
	if w.resource == nil {
		w.mu.Unlock()
		return nil, mashuperrors.New(mashuperrors.ErrCodeResourceUnknown, "no resource to update").
			WithContext("resource", name)
	}
	previous := w.resource
	rebuilt := rebuildResource(previous, w.model)
	w.mu.Unlock()

	patch, err := jsonpatch.Create(previous, rebuilt)
	if err != nil {
		return nil, mashuperrors.Wrap(err, mashuperrors.ErrCodeInternal, "diff table edit").
			WithContext("resource", name)
	}

	if len(patch) > 0 {
		if err := resource.PublishUpdate(ctx, w.wctx.Bus, name, patch, eventbus.DeliverToSender(false)); err != nil {
			return nil, mashuperrors.Wrap(err, mashuperrors.ErrCodeBusPublish, "publish update").
				WithContext("resource", name)
		}
		// The store may already hold updates from other widgets that
		// arrived after previous was taken; the patch goes on top of them.
		if _, err := w.store.Update(name, patch); err != nil {
			w.logger.Warn(logging.CategoryWidget, "table_rebase_failed", err.Error(), map[string]any{"resource": name})
			if _, err := w.store.Replace(name, rebuilt); err != nil {
				return nil, err
			}
		}
	}
	w.sync()
	w.logger.Debug(logging.CategoryWidget, "table_changed", name, map[string]any{
		"operations": len(patch),
	})
	return patch, nil
}

// sync re-derives resource and model from the store. Reading the store
// under mu keeps concurrent syncs from installing an older value.
func (w *Widget) sync() {
	w.mu.Lock()
	defer w.mu.Unlock()
	data, ok := w.store.Get(w.features.TimeSeries.Resource)
	if !ok {
		return
	}
	w.resource = data
	w.model = deriveModel(data)
	close(w.changed)
	w.changed = make(chan struct{})
}
