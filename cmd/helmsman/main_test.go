// ABOUTME: Tests for CLI commands and server wiring.
// ABOUTME: Verifies health check, path validation, and runtime construction.

package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
)

func TestServer_Healthz(t *testing.T) {
	dir := t.TempDir()
	rt, err := newRuntime(filepath.Join(dir, "helmsman.db"), dir)
	if err != nil {
		t.Fatalf("newRuntime() error = %v", err)
	}
	defer rt.store.Close()

	req := httptest.NewRequest("GET", "/healthz", nil)
	rr := httptest.NewRecorder()

	rt.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json.Unmarshal() error = %v, response body: %s", err, rr.Body.String())
	}
	if resp["ok"] != true {
		t.Errorf("ok = %v, want true", resp["ok"])
	}
}

func TestValidateAndCleanDBPath_Valid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "simple relative path", input: "helmsman.db"},
		{name: "path with directory", input: "./data/helmsman.db"},
		{name: "absolute path", input: "/tmp/helmsman.db"},
		{name: "whitespace trimmed", input: "  helmsman.db  "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := validateAndCleanDBPath(tt.input)
			if err != nil {
				t.Errorf("validateAndCleanDBPath(%q) error = %v, want nil", tt.input, err)
			}
			if result == "" {
				t.Errorf("validateAndCleanDBPath(%q) returned empty string", tt.input)
			}
		})
	}
}

func TestValidateAndCleanDBPath_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "dot", input: "."},
		{name: "root", input: "/"},
		{name: "traversal", input: "../etc/helmsman.db"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := validateAndCleanDBPath(tt.input); err == nil {
				t.Errorf("validateAndCleanDBPath(%q) error = nil, want error", tt.input)
			}
		})
	}
}
