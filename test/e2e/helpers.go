// ABOUTME: Test helpers for E2E testing.
// ABOUTME: Provides utilities for starting the runtime, making requests, and assertions.

package e2e_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/helmsmanhq/helmsman/extensions/core"
	"github.com/helmsmanhq/helmsman/internal/admin"
	"github.com/helmsmanhq/helmsman/internal/bus"
	"github.com/helmsmanhq/helmsman/internal/command"
	"github.com/helmsmanhq/helmsman/internal/gateway"
	"github.com/helmsmanhq/helmsman/internal/host"
	"github.com/helmsmanhq/helmsman/internal/httpx"
	"github.com/helmsmanhq/helmsman/internal/logging"
	"github.com/helmsmanhq/helmsman/internal/sched"
	"github.com/helmsmanhq/helmsman/internal/store"

	_ "github.com/helmsmanhq/helmsman/extensions/backup"   // register backup extension
	_ "github.com/helmsmanhq/helmsman/extensions/rulefill" // register rulefill extension
	_ "github.com/helmsmanhq/helmsman/extensions/strmgen"  // register strmgen extension
)

// TestToken is the API token the test runtime is configured with.
const TestToken = "e2e-token"

// TestServer wraps a running runtime with its store and manager.
type TestServer struct {
	Server  *httptest.Server
	Store   *store.Store
	Manager *host.Manager
	Bus     *bus.Bus
	Sched   *sched.Scheduler
}

// StartTestServer wires the full runtime the way the serve command does and
// enables every registered extension.
func StartTestServer(t *testing.T) *TestServer {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "e2e.db")
	s, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	scheduler := sched.New(time.UTC)
	scheduler.Start()
	b := bus.New(bus.DefaultQueueSize)
	cmds := command.NewRegistry(b)
	routes := host.NewRouteRegistry()
	facade := host.NewFacade()
	notifier := host.NewNotifier()
	paths := host.NewPaths(t.TempDir(), time.UTC)
	settings := core.Settings{Timezone: time.UTC, APIToken: TestToken}

	m := host.NewManager(scheduler, b, cmds, routes,
		store.NewConfigStore(s), store.NewDataStore(s),
		facade, notifier, paths, httpx.New(""), settings)

	gw := gateway.New(cmds, b)
	notifier.AddSink(gw)

	m.Load()
	m.EnableAll()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logging.Middleware(s))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/ws/messages", gw)
	routes.Mount(r)
	admin.NewHandlers(m, s, TestToken).RegisterRoutes(r)

	srv := httptest.NewServer(r)

	t.Cleanup(func() {
		srv.Close()
		m.StopAll()
		scheduler.Shutdown(true)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		b.Stop(ctx)
		s.Close()
	})

	return &TestServer{Server: srv, Store: s, Manager: m, Bus: b, Sched: scheduler}
}

// GET makes a GET request carrying the API token.
func (ts *TestServer) GET(t *testing.T, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest("GET", ts.Server.URL+path, nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("X-API-Token", TestToken)

	resp, err := ts.Server.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

// POST makes a POST request with a JSON body and the API token.
func (ts *TestServer) POST(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequest("POST", ts.Server.URL+path, bodyReader)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("X-API-Token", TestToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := ts.Server.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

// DELETE makes a DELETE request with the API token.
func (ts *TestServer) DELETE(t *testing.T, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest("DELETE", ts.Server.URL+path, nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("X-API-Token", TestToken)

	resp, err := ts.Server.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

// AssertStatusCode checks if response has expected status code
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		t.Errorf("expected status %d, got %d. Body: %s", expected, resp.StatusCode, string(body))
	}
}

// DecodeJSON decodes response body as JSON
func DecodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
}

// ReadBody reads and returns the response body
func ReadBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	return string(body)
}
