// ABOUTME: Tests for the SQLite store, config blobs, and data blobs.
// ABOUTME: Validates migrations, round-trips, atomic replace, and prefix isolation.

package store

import (
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrations(t *testing.T) {
	s := newTestStore(t)

	version, err := s.getCurrentMigrationVersion()
	if err != nil {
		t.Fatalf("failed to get migration version: %v", err)
	}
	if version != CurrentSchemaVersion {
		t.Errorf("expected schema version %d, got %d", CurrentSchemaVersion, version)
	}
}

func TestConfigGetMissing(t *testing.T) {
	s := newTestStore(t)
	cs := NewConfigStore(s)

	cfg, err := cs.Get("nosuch")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg) != 0 {
		t.Errorf("expected empty config for missing prefix, got %v", cfg)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	s := newTestStore(t)
	cs := NewConfigStore(s)

	in := map[string]any{
		"enabled":   true,
		"cron":      "0 3 * * *",
		"retention": float64(5),
		"dirs":      []any{"/a", "/b"},
	}
	if err := cs.Update("backup", in); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	out, err := cs.Get("backup")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if out["enabled"] != true {
		t.Errorf("expected enabled=true, got %v", out["enabled"])
	}
	if out["cron"] != "0 3 * * *" {
		t.Errorf("expected cron preserved, got %v", out["cron"])
	}
	if out["retention"] != float64(5) {
		t.Errorf("expected retention=5, got %v", out["retention"])
	}
}

func TestConfigUpdateReplacesWholeMap(t *testing.T) {
	s := newTestStore(t)
	cs := NewConfigStore(s)

	if err := cs.Update("x", map[string]any{"a": "1", "b": "2"}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if err := cs.Update("x", map[string]any{"a": "3"}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	out, err := cs.Get("x")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if out["a"] != "3" {
		t.Errorf("expected a=3, got %v", out["a"])
	}
	if _, exists := out["b"]; exists {
		t.Error("expected b removed by full replace, but it survived")
	}
}

func TestConfigDelete(t *testing.T) {
	s := newTestStore(t)
	cs := NewConfigStore(s)

	if err := cs.Update("gone", map[string]any{"k": "v"}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if err := cs.Delete("gone"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	out, err := cs.Get("gone")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected empty config after delete, got %v", out)
	}
}

func TestDataRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ds := NewDataStore(s)

	type record struct {
		Title string `json:"title"`
		Count int    `json:"count"`
	}

	if err := ds.Save("rulefill", "history", []record{{Title: "show", Count: 2}}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	var got []record
	ok, err := ds.Get("rulefill", "history", &got)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !ok {
		t.Fatal("expected key to exist")
	}
	if len(got) != 1 || got[0].Title != "show" || got[0].Count != 2 {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestDataGetMissing(t *testing.T) {
	s := newTestStore(t)
	ds := NewDataStore(s)

	var v map[string]any
	ok, err := ds.Get("p", "nosuch", &v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected ok=false for missing key")
	}
}

// Data isolation: deleting all keys of one prefix leaves other prefixes
// untouched.
func TestDataPrefixIsolation(t *testing.T) {
	s := newTestStore(t)
	ds := NewDataStore(s)

	if err := ds.Save("a", "k", "va"); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := ds.Save("b", "k", "vb"); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if err := ds.DeleteAll("b"); err != nil {
		t.Fatalf("delete all failed: %v", err)
	}

	var v string
	ok, err := ds.Get("a", "k", &v)
	if err != nil || !ok {
		t.Fatalf("expected a/k to survive, ok=%v err=%v", ok, err)
	}
	if v != "va" {
		t.Errorf("expected va, got %q", v)
	}

	ok, _ = ds.Get("b", "k", &v)
	if ok {
		t.Error("expected b/k deleted")
	}
}

func TestDataKeys(t *testing.T) {
	s := newTestStore(t)
	ds := NewDataStore(s)

	for _, k := range []string{"one", "two", "three"} {
		if err := ds.Save("p", k, k); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	keys, err := ds.Keys("p")
	if err != nil {
		t.Fatalf("keys failed: %v", err)
	}
	if len(keys) != 3 {
		t.Fatalf("expected 3 keys, got %d", len(keys))
	}
	if keys[0] != "one" || keys[1] != "two" || keys[2] != "three" {
		t.Errorf("expected insertion order, got %v", keys)
	}
}

func TestRequestLogInsertAndQuery(t *testing.T) {
	s := newTestStore(t)

	entry := &RequestLog{
		PluginID:   "backup",
		Method:     "GET",
		Path:       "/plugin/backup/backup",
		StatusCode: 200,
		DurationMs: 12,
		IPAddress:  "127.0.0.1",
	}
	if err := s.LogRequest(entry); err != nil {
		t.Fatalf("log request failed: %v", err)
	}

	logs, err := s.GetRequestLogs(&RequestLogQuery{PluginID: "backup"})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 log, got %d", len(logs))
	}
	if logs[0].Path != "/plugin/backup/backup" {
		t.Errorf("unexpected path %q", logs[0].Path)
	}

	logs, err = s.GetRequestLogs(&RequestLogQuery{PathPrefix: "/plugin/backup/"})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(logs) != 1 {
		t.Errorf("expected 1 log via path prefix, got %d", len(logs))
	}
}

func TestEscapeLike(t *testing.T) {
	tests := []struct{ in, want string }{
		{"/plugin/backup/", "/plugin/backup/"},
		{"50%_off", `50\%\_off`},
		{`a\b`, `a\\b`},
	}
	for _, tt := range tests {
		if got := escapeLike(tt.in); got != tt.want {
			t.Errorf("escapeLike(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
