// ABOUTME: Tests for the dynamic extension route registry.
// ABOUTME: Covers replacement semantics, method gating, and owner teardown.

package host

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/helmsmanhq/helmsman/extensions/core"
)

func textHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, body)
	}
}

func TestSet_AndServe(t *testing.T) {
	rr := NewRouteRegistry()
	rr.Set("backup", core.Endpoint{Path: "backup", Methods: []string{http.MethodGet}, Handler: textHandler("ok")})

	req := httptest.NewRequest("GET", "/plugin/backup/backup", nil)
	rec := httptest.NewRecorder()
	rr.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("got %d %q, want 200 ok", rec.Code, rec.Body.String())
	}
}

func TestSet_ReplacesSamePath(t *testing.T) {
	rr := NewRouteRegistry()
	rr.Set("ext", core.Endpoint{Path: "run", Handler: textHandler("first")})
	rr.Set("ext", core.Endpoint{Path: "run", Handler: textHandler("second")})

	if paths := rr.Paths(); len(paths) != 1 {
		t.Fatalf("paths = %v, want exactly one", paths)
	}

	req := httptest.NewRequest("GET", "/plugin/ext/run", nil)
	rec := httptest.NewRecorder()
	rr.ServeHTTP(rec, req)
	if rec.Body.String() != "second" {
		t.Errorf("body = %q, want the later handler", rec.Body.String())
	}
}

func TestServe_MethodNotAllowed(t *testing.T) {
	rr := NewRouteRegistry()
	rr.Set("ext", core.Endpoint{Path: "run", Methods: []string{http.MethodGet}, Handler: textHandler("ok")})

	req := httptest.NewRequest("POST", "/plugin/ext/run", nil)
	rec := httptest.NewRecorder()
	rr.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("code = %d, want 405", rec.Code)
	}
}

func TestServe_UnknownPath(t *testing.T) {
	rr := NewRouteRegistry()
	req := httptest.NewRequest("GET", "/plugin/nobody/here", nil)
	rec := httptest.NewRecorder()
	rr.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("code = %d, want 404", rec.Code)
	}
}

func TestRemoveOwner_Routes(t *testing.T) {
	rr := NewRouteRegistry()
	rr.Set("a", core.Endpoint{Path: "one", Handler: textHandler("a")})
	rr.Set("a", core.Endpoint{Path: "two", Handler: textHandler("a")})
	rr.Set("b", core.Endpoint{Path: "three", Handler: textHandler("b")})

	rr.RemoveOwner("a")

	if paths := rr.OwnerPaths("a"); len(paths) != 0 {
		t.Errorf("owner a paths = %v, want none", paths)
	}
	if paths := rr.OwnerPaths("b"); len(paths) != 1 {
		t.Errorf("owner b paths = %v, want one", paths)
	}
}

func TestMount_ThroughChi(t *testing.T) {
	rr := NewRouteRegistry()
	rr.Set("ext", core.Endpoint{Path: "status", Handler: textHandler("mounted")})

	r := chi.NewRouter()
	rr.Mount(r)

	req := httptest.NewRequest("GET", "/plugin/ext/status", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "mounted" {
		t.Errorf("got %d %q through chi, want 200 mounted", rec.Code, rec.Body.String())
	}
}

func TestDefaultMethodIsGet(t *testing.T) {
	rr := NewRouteRegistry()
	rr.Set("ext", core.Endpoint{Path: "run", Handler: textHandler("ok")})

	req := httptest.NewRequest("GET", "/plugin/ext/run", nil)
	rec := httptest.NewRecorder()
	rr.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("GET code = %d, want 200", rec.Code)
	}
}
