// ABOUTME: Tests for the standardized error and envelope response helpers.
// ABOUTME: Validates response shape, JSON fields, and HTTP headers.

package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		code    string
		message string
	}{
		{"malformed config body", http.StatusBadRequest, ErrInvalidBody, "config body is not valid JSON"},
		{"unknown extension", http.StatusNotFound, ErrNotFound, "extension not found"},
		{"missing api token", http.StatusUnauthorized, ErrUnauthorized, "API token required"},
		{"store failure", http.StatusInternalServerError, ErrInternal, "failed to persist config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.status, tt.code, tt.message)

			if w.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, w.Code)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected Content-Type application/json, got %s", ct)
			}

			resp := decodeError(t, w)
			if resp.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, resp.Code)
			}
			if resp.Message != tt.message {
				t.Errorf("expected message %q, got %q", tt.message, resp.Message)
			}
			if resp.Status != tt.status {
				t.Errorf("expected body status %d, got %d", tt.status, resp.Status)
			}
			if resp.Field != "" || resp.Details != "" {
				t.Errorf("expected empty field/details, got %q/%q", resp.Field, resp.Details)
			}
		})
	}
}

func TestWriteErrorWithField(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		message string
		field   string
	}{
		{"invalid cron expression", ErrValidationFailed, "cron 表达式无效", "cron"},
		{"retention out of range", ErrValidationFailed, "retention must be positive", "retention"},
		{"missing mapping target", ErrMissingField, "每行需要 源目录#目的目录", "paths"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteErrorWithField(w, http.StatusBadRequest, tt.code, tt.message, tt.field)

			if w.Code != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d", w.Code)
			}
			resp := decodeError(t, w)
			if resp.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, resp.Field)
			}
			if resp.Details != "" {
				t.Errorf("expected empty details, got %s", resp.Details)
			}
		})
	}
}

func TestWriteErrorWithDetails(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		code    string
		message string
		details string
	}{
		{
			"database write failure",
			http.StatusInternalServerError, ErrDatabaseError,
			"failed to save request log", "database is locked",
		},
		{
			"watcher exhaustion",
			http.StatusServiceUnavailable, ErrServiceUnavailable,
			"目录监控不可用", "inotify watch limit reached",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteErrorWithDetails(w, tt.status, tt.code, tt.message, tt.details)

			if w.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, w.Code)
			}
			resp := decodeError(t, w)
			if resp.Details != tt.details {
				t.Errorf("expected details %q, got %q", tt.details, resp.Details)
			}
			if resp.Field != "" {
				t.Errorf("expected empty field, got %s", resp.Field)
			}
		})
	}
}

// TestErrorResponseJSON tests that optional fields are omitted when unset
func TestErrorResponseJSON(t *testing.T) {
	tests := []struct {
		name      string
		writeFunc func(w http.ResponseWriter)
		extraKey  string
	}{
		{
			name: "plain error",
			writeFunc: func(w http.ResponseWriter) {
				WriteError(w, http.StatusNotFound, ErrNotFound, "extension not found")
			},
		},
		{
			name: "field error",
			writeFunc: func(w http.ResponseWriter) {
				WriteErrorWithField(w, http.StatusBadRequest, ErrMissingField, "cron required", "cron")
			},
			extraKey: "field",
		},
		{
			name: "detailed error",
			writeFunc: func(w http.ResponseWriter) {
				WriteErrorWithDetails(w, http.StatusInternalServerError, ErrInternal, "backup failed", "zip: write error")
			},
			extraKey: "details",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.writeFunc(w)

			var resp map[string]any
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("response is not valid JSON: %v", err)
			}
			for _, key := range []string{"code", "message", "status"} {
				if _, ok := resp[key]; !ok {
					t.Errorf("required key %q missing from response", key)
				}
			}
			wantLen := 3
			if tt.extraKey != "" {
				wantLen = 4
				if _, ok := resp[tt.extraKey]; !ok {
					t.Errorf("key %q missing from response", tt.extraKey)
				}
			}
			if len(resp) != wantLen {
				t.Errorf("response has %d keys, want %d: %v", len(resp), wantLen, resp)
			}
		})
	}
}

// TestErrorStatusCodeMatch tests that the body status mirrors the HTTP header
func TestErrorStatusCodeMatch(t *testing.T) {
	statusCodes := []int{
		http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusNotFound,
		http.StatusConflict,
		http.StatusInternalServerError,
		http.StatusServiceUnavailable,
	}

	for _, statusCode := range statusCodes {
		t.Run(http.StatusText(statusCode), func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, statusCode, ErrInternal, "request failed")

			if w.Code != statusCode {
				t.Errorf("expected HTTP status %d, got %d", statusCode, w.Code)
			}
			if resp := decodeError(t, w); resp.Status != statusCode {
				t.Errorf("expected body status %d, got %d", statusCode, resp.Status)
			}
		})
	}
}

// TestWriteEnvelope tests the user-action result envelope
func TestWriteEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		success bool
		message string
	}{
		{"success", true, "备份完成"},
		{"failure carried in body", false, "目标不存在"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteEnvelope(w, tt.success, tt.message)

			// Operation outcomes always ride HTTP 200
			if w.Code != http.StatusOK {
				t.Errorf("expected status 200, got %d", w.Code)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected Content-Type application/json, got %s", ct)
			}

			var env Envelope
			if err := json.NewDecoder(w.Body).Decode(&env); err != nil {
				t.Fatalf("failed to decode envelope: %v", err)
			}
			if env.Success != tt.success {
				t.Errorf("expected success %v, got %v", tt.success, env.Success)
			}
			if env.Message != tt.message {
				t.Errorf("expected message %q, got %q", tt.message, env.Message)
			}
		})
	}
}

// TestCommonErrorCodes tests that all common error codes are defined
func TestCommonErrorCodes(t *testing.T) {
	codes := []string{
		ErrInvalidRequest,
		ErrInvalidBody,
		ErrMissingField,
		ErrValidationFailed,
		ErrNotFound,
		ErrUnauthorized,
		ErrForbidden,
		ErrConflict,
		ErrInternal,
		ErrDatabaseError,
		ErrServiceUnavailable,
		ErrNotImplemented,
	}

	for _, code := range codes {
		if code == "" {
			t.Errorf("error code constant is empty")
		}
	}
}
