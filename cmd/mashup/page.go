package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/odvcencio/mashup/pkg/bus"
	"github.com/odvcencio/mashup/pkg/config"
	"github.com/odvcencio/mashup/pkg/eventbus"
	"github.com/odvcencio/mashup/pkg/journal"
	"github.com/odvcencio/mashup/pkg/logging"
	"github.com/odvcencio/mashup/pkg/resource"
	"github.com/odvcencio/mashup/pkg/widget"
	"github.com/odvcencio/mashup/pkg/widget/dataprovider"
	"github.com/odvcencio/mashup/pkg/widget/tableeditor"
)

// page is one running set of widgets on a shared transport.
type page struct {
	transport bus.MessageBus
	host      *widget.Host
	provider  *dataprovider.Widget
	editor    *tableeditor.Widget
	tracker   *resource.Handler
	journal   *journal.Journal
	closers   []func() error
}

// buildPage connects the transport, mounts the enabled widgets, starts
// resource tracking and, when enabled, the journal.
func buildPage(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*page, error) {
	transport, err := bus.New(cfg.Bus)
	if err != nil {
		return nil, fmt.Errorf("connect bus: %w", err)
	}
	p := &page{
		transport: transport,
		host:      widget.NewHost(transport, logger, cfg.Locale),
	}
	p.closers = append(p.closers, transport.Close)

	if err := p.mount(ctx, cfg, logger); err != nil {
		p.Close()
		return nil, err
	}
	if err := p.host.Start(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (p *page) mount(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	if cfg.Widgets.DataProvider.Enabled {
		features := cfg.DataProviderFeatures()
		if features.Data.BaseURL == "" {
			features.Data.BaseURL = selfURL(cfg.Server.Address)
		}
		getter := dataprovider.NewHTTPGetter(nil, cfg.Widgets.DataProvider.RequestTimeout)
		w, err := p.host.Mount(ctx, "dataProvider", dataprovider.Factory(features, getter))
		if err != nil {
			return err
		}
		p.provider = w.(*dataprovider.Widget)
	}

	if cfg.Widgets.TableEditor.Enabled {
		w, err := p.host.Mount(ctx, "tableEditor", tableeditor.Factory(cfg.Widgets.TableEditor.Features))
		if err != nil {
			return err
		}
		p.editor = w.(*tableeditor.Widget)
	}

	trackerBus := eventbus.New(p.transport, logger.With("tracker"))
	p.closers = append(p.closers, trackerBus.Close)
	p.tracker = resource.NewHandler(trackerBus, nil, logger.With("tracker"))
	if err := p.tracker.Track(ctx, resource.Callbacks{}); err != nil {
		return fmt.Errorf("track resources: %w", err)
	}

	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		p.journal = j
		p.closers = append(p.closers, j.Close)
		sub, err := j.Attach(ctx, p.transport, logger)
		if err != nil {
			return fmt.Errorf("attach journal: %w", err)
		}
		p.closers = append(p.closers, sub.Unsubscribe)
	}
	return nil
}

// Close stops the widgets and releases everything in reverse order.
func (p *page) Close() error {
	errs := []error{p.host.Stop()}
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil && !errors.Is(err, bus.ErrClosed) {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}

// selfURL is the base URL under which the server serves its own /data.
func selfURL(address string) string {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return "http://" + strings.TrimSuffix(address, "/") + "/"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port) + "/"
}
