// ABOUTME: Tests for API-token extraction and validation.
// ABOUTME: Covers the three accepted token forms and middleware rejection.

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*http.Request)
		want  string
	}{
		{"query param", func(r *http.Request) {
			q := r.URL.Query()
			q.Set("apikey", "qtoken")
			r.URL.RawQuery = q.Encode()
		}, "qtoken"},
		{"header", func(r *http.Request) {
			r.Header.Set("X-API-Token", "htoken")
		}, "htoken"},
		{"bearer", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer btoken")
		}, "btoken"},
		{"none", func(*http.Request) {}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/admin/extensions", nil)
			tt.setup(r)
			if got := TokenFromRequest(r); got != tt.want {
				t.Errorf("TokenFromRequest() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTokenFromRequest_QueryWinsOverHeader(t *testing.T) {
	r := httptest.NewRequest("GET", "/x?apikey=first", nil)
	r.Header.Set("X-API-Token", "second")
	if got := TokenFromRequest(r); got != "first" {
		t.Errorf("TokenFromRequest() = %q, want the query token", got)
	}
}

func TestValidToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/x?apikey=right", nil)
	if !ValidToken(r, "right") {
		t.Error("ValidToken() = false for matching token")
	}
	if ValidToken(r, "other") {
		t.Error("ValidToken() = true for mismatched token")
	}
}

func TestValidToken_EmptyConfiguredTokenRejectsAll(t *testing.T) {
	r := httptest.NewRequest("GET", "/x", nil)
	if ValidToken(r, "") {
		t.Error("ValidToken() = true with no configured token")
	}
}

func TestMiddleware(t *testing.T) {
	handler := Middleware("tok")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("through"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: code = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/x?apikey=tok", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "through" {
		t.Errorf("valid token: got %d %q, want 200 through", rec.Code, rec.Body.String())
	}
}
