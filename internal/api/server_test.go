package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/driftnet-cli/internal/config"
	"github.com/xkilldash9x/driftnet-cli/internal/events"
	"github.com/xkilldash9x/driftnet-cli/internal/metrics"
	"github.com/xkilldash9x/driftnet-cli/internal/orchestrator"
	"github.com/xkilldash9x/driftnet-cli/internal/proxy"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := config.NewDefaultConfig()
	cfg.Orchestrator.RunRetention = time.Minute

	logger := zaptest.NewLogger(t)
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("driftnet_test", reg)
	hub := events.NewHub(logger)
	t.Cleanup(hub.Shutdown)
	orch := orchestrator.New(cfg, logger, hub, collector)

	return NewServer(cfg, logger, orch, hub, collector, reg)
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestStatusEndpointEmpty(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/api/status", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"activeRuns":0`)
	assert.Contains(t, w.Body.String(), `"subscribers":0`)
}

func TestProxyStatusWithoutStore(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/api/proxy-status", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"persistence":false}`, w.Body.String())
}

func TestProxyStatusWithStore(t *testing.T) {
	s := newTestServer(t)

	hs, err := proxy.OpenHealthStore(zaptest.NewLogger(t), filepath.Join(t.TempDir(), "health.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = hs.Close() })
	s.UseHealthStore(hs)

	w := doRequest(s, http.MethodGet, "/api/proxy-status", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"persistence":true`)
	assert.Contains(t, w.Body.String(), `"trackedProxies":0`)
}

func TestStartRunRejectsMalformedBody(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/api/runs", "{not json")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid request body")
}

func TestStartRunRejectsInvalidConfig(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/api/runs", `{"target":"youtube"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid run configuration")
}

func TestStartRunAcceptedAndObservable(t *testing.T) {
	s := newTestServer(t)

	// A missing proxy file makes the background run fail during setup,
	// before any browser is launched.
	body := `{
		"target": "website",
		"webURL": "https://example.com",
		"proxySource": "file",
		"proxyFile": "/nonexistent/proxies.txt"
	}`
	w := doRequest(s, http.MethodPost, "/api/runs", body)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), "runId")

	var resp struct {
		RunID string `json:"runId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.RunID)

	require.Eventually(t, func() bool {
		get := doRequest(s, http.MethodGet, "/api/runs/"+resp.RunID, "")
		return get.Code == http.StatusOK &&
			strings.Contains(get.Body.String(), `"status":"error"`)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodGet, "/api/runs/no-such-run", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "run not found")
}

func TestStopRunNotFound(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, http.MethodPost, "/api/runs/no-such-run/stop", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpointServesCollector(t *testing.T) {
	s := newTestServer(t)

	// Record at least one request so the counter vector has a series.
	doRequest(s, http.MethodGet, "/health", "")

	w := doRequest(s, http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "driftnet_test_api_requests_total")
}

func TestWebsocketStreamsEvents(t *testing.T) {
	s := newTestServer(t)

	srv := httptest.NewServer(s.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Subscription registration races the dial returning; wait for the hub
	// to see the client before emitting.
	require.Eventually(t, func() bool {
		return s.hub.SubscriberCount() == 1
	}, time.Second, 5*time.Millisecond)

	s.hub.Emit(events.Event{RunID: "run-1", Status: events.StatusStarting})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var evt events.Event
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, "run-1", evt.RunID)
	assert.Equal(t, events.StatusStarting, evt.Status)
}
