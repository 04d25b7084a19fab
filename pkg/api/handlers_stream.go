package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/odvcencio/mashup/pkg/bus"
	"github.com/odvcencio/mashup/pkg/eventbus"
	"github.com/odvcencio/mashup/pkg/telemetry"
)

const (
	heartbeatInterval = 30 * time.Second
	streamBuffer      = 128
)

// StreamEvent is the unified event format for SSE and WebSocket clients.
type StreamEvent struct {
	Type      string          `json:"type"`
	Name      string          `json:"name,omitempty"`
	Sender    string          `json:"sender,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Data      map[string]any  `json:"data,omitempty"`
}

// WebSocketMessage is a message received from WebSocket clients.
type WebSocketMessage struct {
	Type string `json:"type"`
}

func toStreamEvent(msg *bus.Message) StreamEvent {
	event := StreamEvent{
		Type:      eventbus.Kind(msg.Subject),
		Name:      msg.Subject,
		Timestamp: time.Now(),
	}
	var env eventbus.Envelope
	if json.Unmarshal(msg.Data, &env) == nil {
		if env.Name != "" {
			event.Name = env.Name
			event.Type = eventbus.Kind(env.Name)
		}
		event.Sender = env.Sender
		event.Payload = env.Payload
	}
	return event
}

// subscribeStream forwards events matching filter (default: everything)
// into a buffered channel, dropping events when the client falls behind.
func (s *Server) subscribeStream(ctx context.Context, filter string) (<-chan StreamEvent, bus.Subscription, error) {
	if filter == "" {
		filter = ">"
	}
	events := make(chan StreamEvent, streamBuffer)
	sub, err := s.cfg.Transport.Subscribe(ctx, filter, func(msg *bus.Message) {
		select {
		case events <- toStreamEvent(msg):
		default:
		}
	})
	if err != nil {
		return nil, nil, err
	}
	return events, sub, nil
}

// handleStream provides an SSE stream of bus events. ?filter= takes a
// subject pattern such as didUpdate.>.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Transport == nil {
		writeError(w, http.StatusServiceUnavailable, "event bus not configured")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx := r.Context()
	filter := r.URL.Query().Get("filter")
	events, sub, err := s.subscribeStream(ctx, filter)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to subscribe: "+err.Error())
		return
	}
	defer sub.Unsubscribe()

	telemetry.ActiveStreams.WithLabelValues("sse").Inc()
	defer telemetry.ActiveStreams.WithLabelValues("sse").Dec()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	send := func(event StreamEvent) bool {
		data, _ := json.Marshal(event)
		if _, err := w.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send(StreamEvent{
		Type:      "connected",
		Timestamp: time.Now(),
		Data:      map[string]any{"filter": sub.Subject()},
	}) {
		return
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !send(StreamEvent{Type: "heartbeat", Timestamp: time.Now()}) {
				return
			}
		case event := <-events:
			if !send(event) {
				return
			}
		}
	}
}

// handleWebSocket streams bus events over a WebSocket. Clients may send
// {"type":"ping"} and receive a pong.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Transport == nil {
		writeError(w, http.StatusServiceUnavailable, "event bus not configured")
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "connection closed")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	filter := r.URL.Query().Get("filter")
	events, sub, err := s.subscribeStream(ctx, filter)
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, "subscription failed")
		return
	}
	defer sub.Unsubscribe()

	telemetry.ActiveStreams.WithLabelValues("websocket").Inc()
	defer telemetry.ActiveStreams.WithLabelValues("websocket").Dec()

	if err := wsjson.Write(ctx, conn, StreamEvent{
		Type:      "connected",
		Timestamp: time.Now(),
		Data:      map[string]any{"filter": sub.Subject(), "protocol": "websocket"},
	}); err != nil {
		return
	}

	outgoing := make(chan StreamEvent, 4)
	go func() {
		defer cancel()
		for {
			var msg WebSocketMessage
			if err := wsjson.Read(ctx, conn, &msg); err != nil {
				return
			}
			if msg.Type == "ping" {
				select {
				case outgoing <- StreamEvent{Type: "pong", Timestamp: time.Now()}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		var event StreamEvent
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			event = StreamEvent{Type: "heartbeat", Timestamp: time.Now()}
		case event = <-outgoing:
		case event = <-events:
		}
		if err := wsjson.Write(ctx, conn, event); err != nil {
			return
		}
	}
}
