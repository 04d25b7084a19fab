package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/odvcencio/mashup/pkg/bus"
	"github.com/odvcencio/mashup/pkg/eventbus"
	"github.com/odvcencio/mashup/pkg/journal"
	"github.com/odvcencio/mashup/pkg/resource"
	"github.com/odvcencio/mashup/pkg/widget"
	"github.com/odvcencio/mashup/pkg/widget/dataprovider"
	"github.com/odvcencio/mashup/pkg/widget/tableeditor"
)

const weekly = `{"timeGrid":["w1","w2"],"series":[{"label":"Revenue","values":[1,2]}]}`

type testPage struct {
	transport *bus.MemoryBus
	provider  *dataprovider.Widget
	editor    *tableeditor.Widget
	store     *resource.Store
	journal   *journal.Journal
	dataDir   string
}

func newTestPage(t *testing.T) *testPage {
	t.Helper()
	ctx := context.Background()

	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "weekly.json"), []byte(weekly), 0o644))
	source := httptest.NewServer(http.StripPrefix("/data/", http.FileServer(http.Dir(dataDir))))
	t.Cleanup(source.Close)

	transport := bus.NewMemoryBus()
	t.Cleanup(func() { transport.Close() })

	host := widget.NewHost(transport, nil, "en")
	provider, err := host.Mount(ctx, "provider", dataprovider.Factory(dataprovider.Features{
		Data: dataprovider.DataFeature{
			Resource: "timeSeriesData",
			BaseURL:  source.URL,
			Items: []dataprovider.Item{
				{Title: "Weekly", Location: "/data/weekly.json"},
				{Title: "Missing", Location: "/data/missing.json"},
			},
		},
	}, dataprovider.NewHTTPGetter(source.Client(), time.Second)))
	require.NoError(t, err)
	editor, err := host.Mount(ctx, "editor", tableeditor.Factory(tableeditor.Features{
		TimeSeries: tableeditor.TimeSeriesFeature{Resource: "timeSeriesData"},
	}))
	require.NoError(t, err)
	require.NoError(t, host.Start(ctx))
	t.Cleanup(func() { host.Stop() })

	tracker := resource.NewHandler(eventbus.New(transport, nil), nil, nil)
	require.NoError(t, tracker.Track(ctx, resource.Callbacks{}))

	j, err := journal.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	sub, err := j.Attach(ctx, transport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { sub.Unsubscribe() })

	return &testPage{
		transport: transport,
		provider:  provider.(*dataprovider.Widget),
		editor:    editor.(*tableeditor.Widget),
		store:     tracker.Store(),
		journal:   j,
		dataDir:   dataDir,
	}
}

func (p *testPage) server(mutate ...func(*ServerConfig)) *Server {
	cfg := ServerConfig{
		Transport: p.transport,
		Provider:  p.provider,
		Editor:    p.editor,
		Resources: p.store,
		Journal:   p.journal,
		DataDir:   p.dataDir,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return NewServer(cfg)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func useWeekly(t *testing.T, p *testPage, h http.Handler) {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/v1/items/0/use", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Eventually(t, func() bool {
		return len(p.editor.TableModel()) == 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHealthz(t *testing.T) {
	h := newTestPage(t).server().Handler()
	rec := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestItemsAndSelection(t *testing.T) {
	p := newTestPage(t)
	h := p.server().Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/items", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "timeSeriesData", body["resource"])
	assert.Len(t, body["items"], 2)

	rec = do(t, h, http.MethodGet, "/api/v1/selection", "")
	assert.Nil(t, decode(t, rec)["selectedItem"])

	useWeekly(t, p, h)

	rec = do(t, h, http.MethodGet, "/api/v1/selection", "")
	selected := decode(t, rec)["selectedItem"].(map[string]any)
	assert.Equal(t, "Weekly", selected["title"])

	rec = do(t, h, http.MethodGet, "/api/v1/resources/timeSeriesData", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"w1", "w2"}, decode(t, rec)["data"].(map[string]any)["timeGrid"])

	rec = do(t, h, http.MethodGet, "/api/v1/resources", "")
	assert.Equal(t, []any{"timeSeriesData"}, decode(t, rec)["resources"])

	rec = do(t, h, http.MethodGet, "/api/v1/resources/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUseItemErrors(t *testing.T) {
	h := newTestPage(t).server().Handler()

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/v1/items/abc/use", "").Code)

	rec := do(t, h, http.MethodPost, "/api/v1/items/9/use", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", decode(t, rec)["code"])

	// A failed fetch is reported on the bus, not in the response.
	assert.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/api/v1/items/1/use", "").Code)
}

func TestUseItemRateLimited(t *testing.T) {
	p := newTestPage(t)
	h := p.server(func(cfg *ServerConfig) {
		cfg.UseRate = 0.001
		cfg.UseBurst = 1
	}).Handler()

	assert.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/api/v1/items/0/use", "").Code)
	rec := do(t, h, http.MethodPost, "/api/v1/items/0/use", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestEditTable(t *testing.T) {
	p := newTestPage(t)
	h := p.server().Handler()
	useWeekly(t, p, h)

	rec := do(t, h, http.MethodGet, "/api/v1/table", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{
		[]any{"", "Revenue"},
		[]any{"w1", 1.0},
		[]any{"w2", 2.0},
	}, decode(t, rec)["tableModel"])

	rec = do(t, h, http.MethodPut, "/api/v1/table/cells", `{"row":1,"col":1,"value":5}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []any{
		map[string]any{"op": "replace", "path": "/series/0/values/0", "value": 5.0},
	}, decode(t, rec)["patches"])

	require.Eventually(t, func() bool {
		data, ok := p.store.Get("timeSeriesData")
		if !ok {
			return false
		}
		values := data.(map[string]any)["series"].([]any)[0].(map[string]any)["values"].([]any)
		return values[0] == 5.0
	}, 2*time.Second, 10*time.Millisecond)

	rec = do(t, h, http.MethodPut, "/api/v1/table/cells", `{"cells":[{"row":1,"col":1,"value":5}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, decode(t, rec)["patches"])

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/api/v1/table/cells", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/api/v1/table/cells", `{"cells":[{"row":1}]}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/api/v1/table/cells", `{"row":-1,"col":0}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/api/v1/table/cells", `not json`).Code)
}

func TestEditTableRejectsWholeBatch(t *testing.T) {
	p := newTestPage(t)
	h := p.server().Handler()
	useWeekly(t, p, h)

	rec := do(t, h, http.MethodPut, "/api/v1/table/cells", `{"cells":[{"row":1,"col":1,"value":99},{"row":-1,"col":0}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, 1.0, p.editor.TableModel()[1][1])

	rec = do(t, h, http.MethodPut, "/api/v1/table/cells", `{"row":2,"col":1,"value":2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []any{}, decode(t, rec)["patches"])
}

func TestEditTableRejectsFarCells(t *testing.T) {
	p := newTestPage(t)
	h := p.server().Handler()
	useWeekly(t, p, h)

	rec := do(t, h, http.MethodPut, "/api/v1/table/cells", `{"row":20000000,"col":0,"value":null}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodPut, "/api/v1/table/cells", `{"row":1,"col":20000000,"value":null}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, p.editor.TableModel(), 3)

	rec = do(t, h, http.MethodPut, "/api/v1/table/cells", `{"cells":[{"row":3,"col":0,"value":"w3"},{"row":3,"col":1,"value":3}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, p.editor.TableModel(), 4)
}

func TestEditTableBeforeResource(t *testing.T) {
	h := newTestPage(t).server().Handler()
	rec := do(t, h, http.MethodPut, "/api/v1/table/cells", `{"row":1,"col":1,"value":5}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestEventsFromJournal(t *testing.T) {
	p := newTestPage(t)
	h := p.server().Handler()
	useWeekly(t, p, h)

	require.Eventually(t, func() bool {
		rec := do(t, h, http.MethodGet, "/api/v1/events?kind=didReplace", "")
		events, _ := decode(t, rec)["events"].([]any)
		return len(events) == 1
	}, 2*time.Second, 10*time.Millisecond)

	rec := do(t, h, http.MethodGet, "/api/v1/events?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["events"], 1)
}

func TestStaticData(t *testing.T) {
	h := newTestPage(t).server().Handler()
	rec := do(t, h, http.MethodGet, "/data/weekly.json", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, weekly, rec.Body.String())
}

func TestUnconfiguredRoutes(t *testing.T) {
	h := NewServer(ServerConfig{}).Handler()
	for _, path := range []string{
		"/api/v1/items", "/api/v1/selection", "/api/v1/table",
		"/api/v1/resources", "/api/v1/events", "/api/v1/stream",
	} {
		assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, path, "").Code, path)
	}
}

func TestSSEStream(t *testing.T) {
	p := newTestPage(t)
	srv := httptest.NewServer(p.server().Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/stream?filter=didReplace.>", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	next := func() StreamEvent {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if data, ok := strings.CutPrefix(strings.TrimSpace(line), "data: "); ok {
				var ev StreamEvent
				require.NoError(t, json.Unmarshal([]byte(data), &ev))
				return ev
			}
		}
	}

	assert.Equal(t, "connected", next().Type)

	publisher := eventbus.New(p.transport, nil)
	require.NoError(t, resource.PublishReplace(ctx, publisher, "other", []any{1}))

	ev := next()
	assert.Equal(t, "didReplace", ev.Type)
	assert.Equal(t, "didReplace.other", ev.Name)
	assert.Equal(t, publisher.Sender(), ev.Sender)
	assert.JSONEq(t, `{"resource":"other","data":[1]}`, string(ev.Payload))
}

func TestWebSocketStream(t *testing.T) {
	p := newTestPage(t)
	srv := httptest.NewServer(p.server().Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/ws", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var ev StreamEvent
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, "connected", ev.Type)

	require.NoError(t, wsjson.Write(ctx, conn, WebSocketMessage{Type: "ping"}))
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, "pong", ev.Type)

	publisher := eventbus.New(p.transport, nil)
	require.NoError(t, resource.PublishUpdate(ctx, publisher, "other", nil))
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, "didUpdate", ev.Type)
	assert.Equal(t, "didUpdate.other", ev.Name)
}
