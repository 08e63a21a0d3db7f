// ABOUTME: Tests for the backup extension.
// ABOUTME: Covers retention pruning, archive creation, and notification text.

package backup

import (
	"archive/zip"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/helmsmanhq/helmsman/extensions/core"
	"github.com/helmsmanhq/helmsman/internal/host"
)

type captureNotifier struct {
	mu   sync.Mutex
	msgs []core.Notification
}

func (n *captureNotifier) Post(msg core.Notification) {
	n.mu.Lock()
	n.msgs = append(n.msgs, msg)
	n.mu.Unlock()
}

func (n *captureNotifier) texts() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.msgs))
	for i, m := range n.msgs {
		out[i] = m.Text
	}
	return out
}

// seedArchives creates n archives named bk_2024010X000000.zip with
// ascending modification times, oldest first.
func seedArchives(t *testing.T, dir string, n int) []string {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	paths := make([]string, n)
	for i := 0; i < n; i++ {
		day := base.AddDate(0, 0, i)
		name := fmt.Sprintf("bk_%s.zip", day.Format("20060102150405"))
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("zip"), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(path, day, day); err != nil {
			t.Fatal(err)
		}
		paths[i] = path
	}
	return paths
}

func TestPrune_Retention(t *testing.T) {
	dir := t.TempDir()
	paths := seedArchives(t, dir, 7)

	deleted, remain, err := prune(dir, 5)
	if err != nil {
		t.Fatalf("prune() error = %v", err)
	}
	if deleted != 2 || remain != 5 {
		t.Errorf("prune() = (%d, %d), want (2, 5)", deleted, remain)
	}

	// Oldest two gone, rest intact.
	for i, path := range paths {
		_, err := os.Stat(path)
		if i < 2 && !os.IsNotExist(err) {
			t.Errorf("%s still exists, want deleted", filepath.Base(path))
		}
		if i >= 2 && err != nil {
			t.Errorf("%s missing, want kept: %v", filepath.Base(path), err)
		}
	}
}

func TestPrune_UnderRetention(t *testing.T) {
	dir := t.TempDir()
	seedArchives(t, dir, 3)

	deleted, remain, err := prune(dir, 5)
	if err != nil {
		t.Fatalf("prune() error = %v", err)
	}
	if deleted != 0 || remain != 3 {
		t.Errorf("prune() = (%d, %d), want (0, 3)", deleted, remain)
	}
}

func TestListArchives_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	seedArchives(t, dir, 2)
	for _, name := range []string{"notes.txt", "bk_stray", "other.zip"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	archives, err := listArchives(dir)
	if err != nil {
		t.Fatalf("listArchives() error = %v", err)
	}
	if len(archives) != 2 {
		t.Errorf("listArchives() returned %d entries, want 2", len(archives))
	}
}

func newTestContext(t *testing.T, notifier *captureNotifier) (*core.Context, string) {
	t.Helper()
	configDir := t.TempDir()
	return &core.Context{
		Owner:    "backup",
		Logger:   host.NewLogger("backup"),
		Notifier: notifier,
		Paths:    host.NewPaths(configDir, time.UTC),
		Settings: core.Settings{Timezone: time.UTC},
	}, configDir
}

func TestRunOnce_SnapshotAndPrune(t *testing.T) {
	notifier := &captureNotifier{}
	ctx, configDir := newTestContext(t, notifier)

	// Files that must land in the archive.
	for _, name := range []string{"user.db", "user.db-wal", "config.yaml"} {
		if err := os.WriteFile(filepath.Join(configDir, name), []byte("data"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	// A file the snapshot must skip.
	if err := os.WriteFile(filepath.Join(configDir, "random.bin"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	target := t.TempDir()
	seedArchives(t, target, 7)

	b := &Backup{
		ctx: ctx,
		cfg: config{enabled: true, retention: 5, target: target, db: "sqlite", notify: true},
	}

	deleted, remain, err := b.runOnce()
	if err != nil {
		t.Fatalf("runOnce() error = %v", err)
	}
	// 7 seeded + 1 new = 8, pruned down to 5.
	if deleted != 3 || remain != 5 {
		t.Errorf("runOnce() = (%d, %d), want (3, 5)", deleted, remain)
	}

	archives, err := listArchives(target)
	if err != nil {
		t.Fatal(err)
	}
	if len(archives) != 5 {
		t.Fatalf("got %d archives, want 5", len(archives))
	}

	// The newest archive is the one just created; verify its contents.
	zr, err := zip.OpenReader(archives[len(archives)-1])
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer zr.Close()
	names := make(map[string]bool)
	for _, f := range zr.File {
		names[f.Name] = true
	}
	for _, want := range []string{"user.db", "user.db-wal", "config.yaml"} {
		if !names[want] {
			t.Errorf("archive missing %s, has %v", want, names)
		}
	}
	if names["random.bin"] {
		t.Errorf("archive contains random.bin, want skipped")
	}

	// Working directory removed after archiving.
	entries, err := os.ReadDir(target)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.IsDir() {
			t.Errorf("working directory %s left behind", e.Name())
		}
	}
}

func TestRunTriggered_NotificationText(t *testing.T) {
	notifier := &captureNotifier{}
	ctx, configDir := newTestContext(t, notifier)
	if err := os.WriteFile(filepath.Join(configDir, "user.db"), []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	target := t.TempDir()
	seedArchives(t, target, 7)

	b := &Backup{
		ctx: ctx,
		cfg: config{enabled: true, retention: 5, target: target, db: "sqlite", notify: true},
	}
	b.runTriggered()

	texts := notifier.texts()
	if len(texts) != 1 {
		t.Fatalf("got %d notifications, want 1", len(texts))
	}
	if !strings.Contains(texts[0], "清理备份数量 3") {
		t.Errorf("notification %q missing 清理备份数量 3", texts[0])
	}
	if !strings.Contains(texts[0], "剩余备份数量 5") {
		t.Errorf("notification %q missing 剩余备份数量 5", texts[0])
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	c := parseConfig(map[string]any{})
	if c.retention != 10 {
		t.Errorf("retention = %d, want 10", c.retention)
	}
	if c.db != "sqlite" {
		t.Errorf("db = %q, want sqlite", c.db)
	}
	if c.enabled {
		t.Error("enabled = true, want false")
	}
}

func TestParseConfig_JSONNumbers(t *testing.T) {
	c := parseConfig(map[string]any{"retention": float64(3), "enabled": true})
	if c.retention != 3 {
		t.Errorf("retention = %d, want 3", c.retention)
	}
	if !c.enabled {
		t.Error("enabled = false, want true")
	}
}

func TestDumpArgs(t *testing.T) {
	got := dumpArgs("root:secret@db:3306/helmsman")
	want := "-h db:3306 -u root -psecret helmsman"
	if got != want {
		t.Errorf("dumpArgs() = %q, want %q", got, want)
	}
}

func TestForm_DefaultsCoverEveryModel(t *testing.T) {
	b := &Backup{}
	schema, defaults := b.Form()
	for _, model := range schema.Models() {
		if _, ok := defaults[model]; !ok {
			t.Errorf("model %q has no default", model)
		}
	}
}
