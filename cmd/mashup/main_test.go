package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/mashup/pkg/api"
	"github.com/odvcencio/mashup/pkg/bus"
	"github.com/odvcencio/mashup/pkg/eventbus"
	"github.com/odvcencio/mashup/pkg/resource"
	"github.com/odvcencio/mashup/pkg/widget/dataprovider"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeJSON(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDiffCommand(t *testing.T) {
	dir := t.TempDir()
	from := writeJSON(t, dir, "from.json", `{"series":[{"label":"a","values":[1,2]}]}`)
	to := writeJSON(t, dir, "to.json", `{"series":[{"label":"a","values":[1,3]}]}`)

	out, err := runCLI(t, "diff", from, to)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"op":"replace","path":"/series/0/values/1","value":3}]`, out)

	out, err = runCLI(t, "diff", "--unified", from, to)
	require.NoError(t, err)
	assert.Contains(t, out, "--- "+from)
	assert.Contains(t, out, "+++ "+to)
	assert.Contains(t, out, "-        2\n")
	assert.Contains(t, out, "+        3\n")
}

func TestDiffCommandErrors(t *testing.T) {
	dir := t.TempDir()
	bad := writeJSON(t, dir, "bad.json", `{`)
	good := writeJSON(t, dir, "good.json", `{}`)

	_, err := runCLI(t, "diff", bad, good)
	require.Error(t, err)
	assert.Equal(t, exitConfig, exitCodeForError(err))

	_, err = runCLI(t, "diff", filepath.Join(dir, "missing.json"), good)
	require.Error(t, err)
	assert.Equal(t, exitFailure, exitCodeForError(err))

	_, err = runCLI(t, "diff", good)
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, version+"\n", out)

	out, err = runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Go version:")
}

func TestExitCodes(t *testing.T) {
	assert.Equal(t, 0, exitCodeForError(nil))
	assert.Equal(t, exitFailure, exitCodeForError(errors.New("boom")))
	assert.Equal(t, exitReported, exitCodeForError(withExitCode(errors.New("x"), exitReported)))
	assert.Nil(t, withExitCode(nil, exitConfig))

	wrapped := withExitCode(errors.New("inner"), exitConfig)
	assert.Equal(t, "inner", wrapped.Error())
	assert.EqualError(t, errors.Unwrap(wrapped), "inner")
}

func TestStreamURL(t *testing.T) {
	tests := []struct {
		base, filter, want string
		wantErr            bool
	}{
		{base: "http://127.0.0.1:8080", want: "ws://127.0.0.1:8080/api/v1/ws"},
		{base: "https://example.test/page/", filter: "didUpdate.>", want: "wss://example.test/page/api/v1/ws?filter=didUpdate.%3E"},
		{base: "ws://host:1", want: "ws://host:1/api/v1/ws"},
		{base: "ftp://host", wantErr: true},
		{base: "http://", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			got, err := streamURL(tt.base, tt.filter)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelfURL(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:8080/", selfURL("127.0.0.1:8080"))
	assert.Equal(t, "http://localhost:9000/", selfURL(":9000"))
	assert.Equal(t, "http://localhost:9000/", selfURL("0.0.0.0:9000"))
	assert.Equal(t, "http://example.test/", selfURL("example.test"))
}

func fetchFeatures() dataprovider.Features {
	return dataprovider.Features{
		Data: dataprovider.DataFeature{Resource: "timeSeriesData"},
	}
}

func TestRunFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ok.json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"timeGrid":[]}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	getter := dataprovider.NewHTTPGetter(srv.Client(), time.Second)

	var out bytes.Buffer
	require.NoError(t, runFetch(ctx, &out, fetchFeatures(), getter, "en", srv.URL+"/ok.json"))
	assert.Contains(t, out.String(), `"name": "didReplace.timeSeriesData"`)
	assert.Contains(t, out.String(), `"timeGrid"`)

	out.Reset()
	err := runFetch(ctx, &out, fetchFeatures(), getter, "en", srv.URL+"/missing.json")
	require.Error(t, err)
	assert.Equal(t, exitReported, exitCodeForError(err))
	assert.Contains(t, out.String(), `"name": "didEncounterError.HTTP_GET"`)
	assert.Contains(t, out.String(), `"status": 404`)
}

func TestRunWatch(t *testing.T) {
	transport := bus.NewMemoryBus()
	defer transport.Close()
	srv := httptest.NewServer(api.NewServer(api.ServerConfig{Transport: transport}).Handler())
	defer srv.Close()

	wsURL, err := streamURL(srv.URL, "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var out syncBuffer
	done := make(chan error, 1)
	go func() { done <- runWatch(ctx, &out, wsURL) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "connected")
	}, 2*time.Second, 10*time.Millisecond)

	publisher := eventbus.New(transport, nil)
	require.NoError(t, resource.PublishReplace(context.Background(), publisher, "other", []any{1}))
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `didReplace.other {"data":[1],"resource":"other"}`)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}
