package preview

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRender struct {
	mu    sync.Mutex
	pages []string
	err   error
	calls int
}

func (f *fakeRender) set(pages []string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages, f.err = pages, err
}

func (f *fakeRender) render(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.pages, f.err
}

func newTestServer(t *testing.T, pages ...string) (*Server, *fakeRender, *httptest.Server) {
	t.Helper()
	fr := &fakeRender{pages: pages}
	s := New(Config{Title: "Report <draft>"}, fr.render, nil)
	require.NoError(t, s.Refresh(context.Background()))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, fr, ts
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestIndexListsPages(t *testing.T) {
	_, _, ts := newTestServer(t, "<svg>1</svg>", "<svg>2</svg>")

	resp, body := get(t, ts.URL+"/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, body, "Report &lt;draft&gt;")
	assert.Contains(t, body, `src="/page/1?v=1"`)
	assert.Contains(t, body, `src="/page/2?v=1"`)
	assert.NotContains(t, body, `class="error"`)
	assert.Contains(t, body, "/ws")

	csp := resp.Header.Get("Content-Security-Policy")
	require.Contains(t, csp, "script-src 'nonce-")
	nonce := strings.SplitN(strings.SplitN(csp, "'nonce-", 2)[1], "'", 2)[0]
	assert.Contains(t, body, `<script nonce="`+nonce+`">`)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestPageServesSVG(t *testing.T) {
	_, _, ts := newTestServer(t, "<svg>1</svg>", "<svg>2</svg>")

	resp, body := get(t, ts.URL+"/page/2")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/svg+xml", resp.Header.Get("Content-Type"))
	assert.Equal(t, "<svg>2</svg>", body)

	for _, path := range []string{"/page/0", "/page/3", "/page/one"} {
		resp, _ := get(t, ts.URL+path)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestRefreshErrorKeepsPages(t *testing.T) {
	s, fr, ts := newTestServer(t, "<svg>good</svg>")

	fr.set(nil, errors.New(`main.typ:1:2: error: unclosed <delimiter>`))
	require.Error(t, s.Refresh(context.Background()))

	snap := s.Snapshot()
	assert.Equal(t, 2, snap.Version)
	assert.Equal(t, 1, snap.PageCount)
	assert.Contains(t, snap.Error, "unclosed")

	_, body := get(t, ts.URL+"/")
	assert.Contains(t, body, "unclosed &lt;delimiter&gt;")
	_, page := get(t, ts.URL+"/page/1")
	assert.Equal(t, "<svg>good</svg>", page)

	fr.set([]string{"<svg>fixed</svg>"}, nil)
	require.NoError(t, s.Refresh(context.Background()))
	assert.Empty(t, s.Snapshot().Error)
}

func TestHealthAndStatus(t *testing.T) {
	_, _, ts := newTestServer(t, "<svg/>")

	resp, body := get(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &health))
	assert.Equal(t, "ok", health["status"])

	_, body = get(t, ts.URL+"/api/status")
	var snap Snapshot
	require.NoError(t, json.Unmarshal([]byte(body), &snap))
	assert.Equal(t, 1, snap.Version)
	assert.Equal(t, 1, snap.PageCount)
	assert.False(t, strings.Contains(body, "<svg"))
}

func TestWebSocketReload(t *testing.T) {
	s, fr, ts := newTestServer(t, "<svg>1</svg>")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	fr.set([]string{"<svg>1</svg>", "<svg>2</svg>"}, nil)
	require.NoError(t, s.Refresh(ctx))

	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)

	var msg UpdateMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "reload", msg.Type)
	assert.Equal(t, 2, msg.Version)

	fr.set(nil, errors.New("boom"))
	require.Error(t, s.Refresh(ctx))
	_, data, err = conn.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, "boom", msg.Content)

	conn.Close(websocket.StatusNormalClosure, "")
	assert.Eventually(t, func() bool { return s.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	s := New(Config{Host: "127.0.0.1", Port: 0}, func(context.Context) ([]string, error) { return nil, nil }, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
