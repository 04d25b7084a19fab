package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/odvcencio/mashup/pkg/api"
)

func watchCmd() *cobra.Command {
	var filter string

	cmd := &cobra.Command{
		Use:   "watch [server-url]",
		Short: "Stream the events of a running page",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base := "http://127.0.0.1:8080"
			if len(args) == 1 {
				base = args[0]
			}
			wsURL, err := streamURL(base, filter)
			if err != nil {
				return withExitCode(err, exitConfig)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runWatch(ctx, cmd.OutOrStdout(), wsURL)
		},
	}

	cmd.Flags().StringVarP(&filter, "filter", "f", "", "subject pattern, e.g. didUpdate.>")
	return cmd
}

// streamURL turns a server URL into its /api/v1/ws endpoint.
func streamURL(base, filter string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("server url %q has no host", base)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/v1/ws"
	q := url.Values{}
	if filter != "" {
		q.Set("filter", filter)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func runWatch(ctx context.Context, out io.Writer, wsURL string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", wsURL, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), closeDeadline())
		conn.Close()
	}()

	for {
		var ev api.StreamEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}
		if ev.Type == "heartbeat" {
			continue
		}
		fmt.Fprintln(out, formatStreamEvent(out, ev))
	}
}

func formatStreamEvent(out io.Writer, ev api.StreamEvent) string {
	stamp := ev.Timestamp.Format("15:04:05.000")
	name := ev.Name
	if name == "" {
		name = ev.Type
	}
	color := "36"
	switch ev.Type {
	case "didEncounterError":
		color = "31"
	case "didUpdate":
		color = "33"
	case "didReplace":
		color = "32"
	}
	line := stamp + " " + colorize(out, color, name)
	if len(ev.Payload) > 0 {
		line += " " + compactJSON(ev.Payload)
	}
	return line
}

func compactJSON(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	data, _ := json.Marshal(v)
	return string(data)
}

func closeDeadline() time.Time {
	return time.Now().Add(time.Second)
}
