package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/odvcencio/mashup/pkg/bus"
	mashuperrors "github.com/odvcencio/mashup/pkg/errors"
	"github.com/odvcencio/mashup/pkg/eventbus"
	"github.com/odvcencio/mashup/pkg/logging"
	"github.com/odvcencio/mashup/pkg/resource"
	"github.com/odvcencio/mashup/pkg/widget"
	"github.com/odvcencio/mashup/pkg/widget/dataprovider"
)

func fetchCmd(root *rootOptions) *cobra.Command {
	var (
		resourceName string
		timeout      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "fetch <location>",
		Short: "Run the data provider once and print the event it publishes",
		Long: `fetch mounts a data provider on an in-process bus, selects one item
with the given location and prints the resulting didReplace or
didEncounterError event as JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			features := cfg.DataProviderFeatures()
			if resourceName != "" {
				features.Data.Resource = resourceName
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			getter := dataprovider.NewHTTPGetter(nil, timeout)
			return runFetch(ctx, cmd.OutOrStdout(), features, getter, cfg.Locale, args[0])
		},
	}

	cmd.Flags().StringVarP(&resourceName, "resource", "r", "", "resource name to publish under (default from config)")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 15*time.Second, "request timeout")
	return cmd
}

// runFetch uses one item and writes the first resulting event to out. An
// error event produces an exitReported error after printing.
func runFetch(ctx context.Context, out io.Writer, features dataprovider.Features, getter dataprovider.Getter, locale, location string) error {
	transport := bus.NewMemoryBus()
	defer transport.Close()

	host := widget.NewHost(transport, logging.Nop(), locale)
	defer host.Stop()

	mounted, err := host.Mount(ctx, "dataProvider", dataprovider.Factory(features, getter))
	if err != nil {
		return withExitCode(err, exitConfig)
	}
	provider := mounted.(*dataprovider.Widget)

	listener := eventbus.New(transport, nil)
	defer listener.Close()
	events := make(chan eventbus.Event, 1)
	forward := func(_ context.Context, ev eventbus.Event) {
		select {
		case events <- ev:
		default:
		}
	}
	if err := listener.Subscribe(ctx, resource.ReplaceEventName(features.Data.Resource), forward); err != nil {
		return err
	}
	if err := listener.Subscribe(ctx, mashuperrors.EventKind+".>", forward); err != nil {
		return err
	}

	if err := provider.UseItem(ctx, dataprovider.Item{Title: location, Location: location}); err != nil {
		return err
	}

	select {
	case ev := <-events:
		if err := printEvent(out, ev); err != nil {
			return err
		}
		if ev.Kind() == mashuperrors.EventKind {
			return withExitCode(fmt.Errorf("%s reported for %s", ev.Name, location), exitReported)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("no event received: %w", ctx.Err())
	}
}

func printEvent(out io.Writer, ev eventbus.Event) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"name":    ev.Name,
		"sender":  ev.Sender,
		"payload": ev.Payload,
	})
}
