// Package dataprovider implements the widget that fetches a resource over
// HTTP and publishes it as the resource master.
package dataprovider

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	mashuperrors "github.com/odvcencio/mashup/pkg/errors"
	"github.com/odvcencio/mashup/pkg/eventbus"
	"github.com/odvcencio/mashup/pkg/logging"
	"github.com/odvcencio/mashup/pkg/resource"
	"github.com/odvcencio/mashup/pkg/widget"
)

// MessageKeyFailedLoading is the message key used when a fetch fails.
const MessageKeyFailedLoading = "i18nFailedLoadingResource"

// Item is one selectable data source.
type Item struct {
	Title    string `yaml:"title" json:"title"`
	Location string `yaml:"location" json:"location"`
}

// DataFeature configures what is published and where it comes from.
type DataFeature struct {
	Resource string `yaml:"resource" json:"resource"`
	Items    []Item `yaml:"items" json:"items"`
	BaseURL  string `yaml:"baseURL,omitempty" json:"baseURL,omitempty"`
}

// Features is the widget configuration.
type Features struct {
	Data     DataFeature                `yaml:"data" json:"data"`
	Messages mashuperrors.FeatureConfig `yaml:"messages" json:"messages"`
}

// Validate checks the configuration before the widget is built.
func (f Features) Validate() error {
	if err := resource.ValidateName(f.Data.Resource); err != nil {
		return mashuperrors.Wrap(err, mashuperrors.ErrCodeConfigInvalid, "data.resource")
	}
	if f.Data.BaseURL != "" {
		if _, err := url.Parse(f.Data.BaseURL); err != nil {
			return mashuperrors.Wrap(err, mashuperrors.ErrCodeConfigInvalid, "data.baseURL")
		}
	}
	return nil
}

// Widget is the data provider.
type Widget struct {
	wctx         widget.Context
	features     Features
	getter       Getter
	publishError mashuperrors.PublishFunc
	logger       *logging.Logger

	mu       sync.Mutex
	selected *Item
}

// New builds a data provider on wctx.
func New(wctx widget.Context, features Features, getter Getter) (*Widget, error) {
	if err := features.Validate(); err != nil {
		return nil, err
	}
	if getter == nil {
		return nil, mashuperrors.New(mashuperrors.ErrCodeInvalidInput, "getter is required")
	}
	logger := wctx.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Widget{
		wctx:         wctx,
		features:     features,
		getter:       getter,
		publishError: mashuperrors.PublisherForFeature(wctx.Bus, features.Messages, wctx.Locale, logger),
		logger:       logger,
	}, nil
}

// Factory adapts New for widget.Host.Mount.
func Factory(features Features, getter Getter) widget.Factory {
	return func(wctx widget.Context) (widget.Widget, error) {
		return New(wctx, features, getter)
	}
}

func (w *Widget) Name() string { return w.wctx.Name }

// Start is a no-op: the provider only publishes.
func (w *Widget) Start(ctx context.Context) error {
	w.logger.Info(logging.CategoryWidget, "started", "data provider ready", map[string]any{
		"resource": w.features.Data.Resource,
		"items":    len(w.features.Data.Items),
	})
	return nil
}

func (w *Widget) Stop() error { return nil }

// Resource is the name of the published resource.
func (w *Widget) Resource() string { return w.features.Data.Resource }

// Items returns a copy of the configured items.
func (w *Widget) Items() []Item {
	return append([]Item(nil), w.features.Data.Items...)
}

// SelectedItem returns the last used item, or nil.
func (w *Widget) SelectedItem() *Item {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.selected == nil {
		return nil
	}
	item := *w.selected
	return &item
}

// UseItemAt uses the configured item at index.
func (w *Widget) UseItemAt(ctx context.Context, index int) error {
	if index < 0 || index >= len(w.features.Data.Items) {
		return mashuperrors.New(mashuperrors.ErrCodeInvalidInput, "item index out of range").
			WithContext("index", index).
			WithContext("items", len(w.features.Data.Items))
	}
	return w.UseItem(ctx, w.features.Data.Items[index])
}

// UseItem selects item and fetches its location once. A successful fetch
// is published as didReplace, a failed one as didEncounterError.HTTP_GET.
// Fetch failures are reported on the bus and not returned.
func (w *Widget) UseItem(ctx context.Context, item Item) error {
	if item.Location == "" {
		return mashuperrors.New(mashuperrors.ErrCodeInvalidInput, "item has no location").
			WithContext("title", item.Title)
	}

	w.mu.Lock()
	selected := item
	w.selected = &selected
	w.mu.Unlock()

	location, err := w.resolve(item.Location)
	if err != nil {
		return mashuperrors.Wrap(err, mashuperrors.ErrCodeInvalidInput, "invalid item location").
			WithContext("location", item.Location)
	}

	name := w.features.Data.Resource
	resp, err := w.getter.Get(ctx, location)
	if err != nil {
		w.logger.Warn(logging.CategoryHTTP, "get_failed", err.Error(), map[string]any{
			"location": location,
			"resource": name,
		})
		return w.publishError(ctx, mashuperrors.ErrCodeHTTPGet, MessageKeyFailedLoading,
			map[string]any{"resource": name},
			failureCause(resp))
	}

	w.logger.Info(logging.CategoryHTTP, "get_succeeded", location, map[string]any{
		"resource": name,
		"status":   resp.Status,
	})
	if err := resource.PublishReplace(ctx, w.wctx.Bus, name, resp.Data, eventbus.DeliverToSender(false)); err != nil {
		return mashuperrors.Wrap(err, mashuperrors.ErrCodeBusPublish, "publish replace").
			WithContext("resource", name)
	}
	return nil
}

func (w *Widget) resolve(location string) (string, error) {
	ref, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	if w.features.Data.BaseURL == "" || ref.IsAbs() {
		return location, nil
	}
	base, err := url.Parse(w.features.Data.BaseURL)
	if err != nil {
		return "", fmt.Errorf("base url: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

// failureCause mirrors what the HTTP layer knew about the failed exchange.
// Transport failures carry no response: status 0, no data, no headers.
func failureCause(resp *Response) map[string]any {
	if resp == nil {
		return map[string]any{"data": nil, "status": 0, "headers": map[string]any{}}
	}
	return map[string]any{
		"data":    resp.Data,
		"status":  resp.Status,
		"headers": flattenHeaders(resp.Headers),
	}
}
