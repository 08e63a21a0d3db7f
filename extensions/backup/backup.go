// ABOUTME: Backup extension: periodic snapshot-and-prune of host configuration.
// ABOUTME: Archives config and database files on a cron cadence, keeps N newest archives.

package backup

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/helmsmanhq/helmsman/extensions/core"
	"github.com/helmsmanhq/helmsman/internal/auth"
	"github.com/helmsmanhq/helmsman/internal/bus"
	"github.com/helmsmanhq/helmsman/internal/command"
	"github.com/helmsmanhq/helmsman/internal/errors"
	"github.com/helmsmanhq/helmsman/internal/runner"
)

func init() {
	core.Register(&Backup{})
}

const (
	archivePrefix = "bk_"
	stampLayout   = "20060102150405"
)

// mysqlRemediation is shown when the dump client cannot be installed.
const mysqlRemediation = "手动安装 mysqldump:\n" +
	"  apt-get update\n" +
	"  apt-get install -y default-mysql-client"

type config struct {
	enabled   bool
	cronSpec  string
	retention int
	target    string
	db        string // "sqlite" or "mysql"
	dumpDSN   string // mysql only: user:pass@host/dbname for the dump tool
	notify    bool
	onlyonce  bool
}

func parseConfig(cfg map[string]any) config {
	c := config{
		enabled:   core.BoolValue(cfg, "enabled"),
		cronSpec:  core.StringValue(cfg, "cron"),
		retention: core.IntValue(cfg, "retention", 10),
		target:    core.StringValue(cfg, "target"),
		db:        core.StringValue(cfg, "db"),
		dumpDSN:   core.StringValue(cfg, "dump_dsn"),
		notify:    core.BoolValue(cfg, "notify"),
		onlyonce:  core.BoolValue(cfg, "onlyonce"),
	}
	if c.retention < 1 {
		c.retention = 10
	}
	if c.db == "" {
		c.db = "sqlite"
	}
	return c
}

// Backup snapshots the host's configuration directory into timestamped
// zip archives and prunes archives beyond the retention count.
type Backup struct {
	mu     sync.Mutex
	ctx    *core.Context
	cfg    config
	active bool
}

func (b *Backup) Descriptor() core.Descriptor {
	return core.Descriptor{
		ID:           "backup",
		Name:         "配置备份",
		Desc:         "定时备份配置文件和数据库，保留最近的备份",
		Version:      "1.2",
		Author:       "helmsman",
		Icon:         "backup.png",
		Order:        21,
		AuthLevel:    1,
		ConfigPrefix: "backup",
	}
}

func (b *Backup) Init(ctx *core.Context, cfg map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ctx = ctx
	b.cfg = parseConfig(cfg)
	b.active = b.cfg.enabled
	if !b.cfg.enabled {
		return nil
	}

	ctx.Bus.Subscribe(ctx.Owner, bus.KindPluginAction, bus.ActionFilter("backup", func(bus.Event) {
		b.runTriggered()
	}))

	if b.cfg.onlyonce {
		if _, err := ctx.Sched.AddOnce(ctx.Owner, "备份（一次性）", time.Now(), b.runTriggered); err != nil {
			return err
		}
		// Clear the flag so a reload does not fire a second run.
		next := make(map[string]any, len(cfg))
		for k, v := range cfg {
			next[k] = v
		}
		next["onlyonce"] = false
		if err := ctx.Config.Update(b.Descriptor().ConfigPrefix, next); err != nil {
			ctx.Logger.Warnf("clear onlyonce flag: %v", err)
		}
	}
	return nil
}

func (b *Backup) State() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

func (b *Backup) Form() (core.Schema, map[string]any) {
	schema := core.Schema{Components: []core.Component{
		core.Row(
			core.Col(core.Component{Type: "switch", Model: "enabled", Label: "启用插件"}),
			core.Col(core.Component{Type: "switch", Model: "notify", Label: "发送通知"}),
			core.Col(core.Component{Type: "switch", Model: "onlyonce", Label: "立即运行一次"}),
		),
		core.Row(
			core.Col(core.Component{Type: "cron", Model: "cron", Label: "备份周期", Hint: "五位 cron 表达式"}),
			core.Col(core.Component{Type: "text", Model: "retention", Label: "保留份数"}),
		),
		core.Row(
			core.Col(core.Component{Type: "text", Model: "target", Label: "备份目录", Hint: "留空使用插件数据目录"}),
			core.Col(core.Component{Type: "select", Model: "db", Label: "数据库类型", Items: []core.SelectItem{
				{Title: "SQLite", Value: "sqlite"},
				{Title: "MySQL", Value: "mysql"},
			}}),
		),
		core.Row(
			core.Col(core.Component{Type: "text", Model: "dump_dsn", Label: "MySQL 连接串", Hint: "user:pass@host/dbname，仅 MySQL 需要"}),
		),
	}}
	defaults := map[string]any{
		"enabled":   false,
		"notify":    true,
		"onlyonce":  false,
		"cron":      "0 3 * * *",
		"retention": 10,
		"target":    "",
		"db":        "sqlite",
		"dump_dsn":  "",
	}
	return schema, defaults
}

func (b *Backup) Page() core.Schema {
	b.mu.Lock()
	var target string
	if b.ctx != nil {
		target = b.targetDir()
	}
	b.mu.Unlock()
	if target == "" {
		return core.Schema{}
	}

	archives, _ := listArchives(target)
	items := make([]core.Component, 0, len(archives))
	for i := len(archives) - 1; i >= 0; i-- {
		items = append(items, core.Component{Type: "text", Label: filepath.Base(archives[i])})
	}
	return core.Schema{Components: []core.Component{
		core.Row(core.Col(items...)),
	}}
}

func (b *Backup) Commands() []command.Binding {
	return []command.Binding{{
		Cmd:      "/backup",
		Kind:     bus.KindPluginAction,
		Desc:     "立即备份",
		Category: "管理",
		Data:     map[string]any{"action": "backup"},
	}}
}

func (b *Backup) APIs() []core.Endpoint {
	return []core.Endpoint{{
		Path:    "backup",
		Methods: []string{http.MethodGet},
		Handler: b.handleBackup,
		Summary: "立即运行一次备份",
	}}
}

func (b *Backup) Services() []core.ServiceDescriptor {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.cfg.enabled || b.cfg.cronSpec == "" {
		return nil
	}
	return []core.ServiceDescriptor{{
		ID:       "backup",
		Name:     "定时备份",
		CronSpec: b.cfg.cronSpec,
		Run:      b.runScheduled,
	}}
}

func (b *Backup) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = false
	return nil
}

// handleBackup is the token-guarded ad-hoc trigger.
func (b *Backup) handleBackup(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	token := ""
	if b.ctx != nil {
		token = b.ctx.Settings.APIToken
	}
	b.mu.Unlock()

	if !auth.ValidToken(r, token) {
		errors.WriteError(w, http.StatusUnauthorized, errors.ErrUnauthorized, "invalid api token")
		return
	}
	deleted, remain, err := b.runOnce()
	if err != nil {
		errors.WriteEnvelope(w, false, err.Error())
		return
	}
	errors.WriteEnvelope(w, true, summary(deleted, remain))
}

// runScheduled is the cadence entry. The summary notification follows
// the notify toggle; failures are always logged.
func (b *Backup) runScheduled() {
	b.mu.Lock()
	ctx := b.ctx
	notify := b.cfg.notify
	b.mu.Unlock()

	deleted, remain, err := b.runOnce()
	if err != nil {
		ctx.Logger.Errorf("backup failed: %v", err)
		if notify {
			ctx.Notifier.Post(core.Notification{
				Kind:  core.NotifyPlugin,
				Title: "配置备份失败",
				Text:  err.Error(),
			})
		}
		return
	}
	if notify {
		ctx.Notifier.Post(core.Notification{
			Kind:  core.NotifyPlugin,
			Title: "配置备份完成",
			Text:  summary(deleted, remain),
		})
	}
}

// runTriggered is the user-initiated entry: always reports a terminal
// success or failure notification.
func (b *Backup) runTriggered() {
	b.mu.Lock()
	ctx := b.ctx
	b.mu.Unlock()

	deleted, remain, err := b.runOnce()
	if err != nil {
		ctx.Notifier.Post(core.Notification{
			Kind:  core.NotifyPlugin,
			Title: "配置备份失败",
			Text:  err.Error(),
		})
		return
	}
	ctx.Notifier.Post(core.Notification{
		Kind:  core.NotifyPlugin,
		Title: "配置备份完成",
		Text:  summary(deleted, remain),
	})
}

func summary(deleted, remain int) string {
	return fmt.Sprintf("清理备份数量 %d\n剩余备份数量 %d", deleted, remain)
}

func (b *Backup) targetDir() string {
	if b.cfg.target != "" {
		return b.cfg.target
	}
	return b.ctx.Paths.DataPath(b.Descriptor().ConfigPrefix)
}

// runOnce performs one full snapshot-and-prune cycle and returns the
// pruned and remaining archive counts.
func (b *Backup) runOnce() (deleted, remain int, err error) {
	b.mu.Lock()
	ctx := b.ctx
	cfg := b.cfg
	target := b.targetDir()
	b.mu.Unlock()

	stamp := time.Now().In(ctx.Settings.Timezone).Format(stampLayout)
	workDir := filepath.Join(target, archivePrefix+stamp)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return 0, 0, fmt.Errorf("create working directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	if err := b.collect(ctx, cfg, workDir); err != nil {
		return 0, 0, err
	}

	archive := workDir + ".zip"
	if err := zipDir(workDir, archive); err != nil {
		return 0, 0, fmt.Errorf("archive %s: %w", workDir, err)
	}

	deleted, remain, err = prune(target, cfg.retention)
	if err != nil {
		return deleted, remain, fmt.Errorf("prune archives: %w", err)
	}

	ctx.Logger.Infof("backup created %s, pruned %d, %d remain", filepath.Base(archive), deleted, remain)
	return deleted, remain, nil
}

// collect copies the configuration files and the database snapshot into
// the working directory.
func (b *Backup) collect(ctx *core.Context, cfg config, workDir string) error {
	configDir := ctx.Paths.ConfigPath()

	entries, err := os.ReadDir(configDir)
	if err != nil {
		return fmt.Errorf("read config directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		// Config files plus every user.db sibling (db, -wal, -shm).
		if !strings.HasPrefix(name, "user.db") && !isConfigFile(name) {
			continue
		}
		src := filepath.Join(configDir, name)
		if err := copyFile(src, filepath.Join(workDir, name)); err != nil {
			return fmt.Errorf("copy %s: %w", name, err)
		}
	}

	if cfg.db == "mysql" {
		if err := b.dumpMySQL(ctx, cfg, workDir); err != nil {
			return err
		}
	}
	return nil
}

func isConfigFile(name string) bool {
	switch filepath.Ext(name) {
	case ".yaml", ".yml", ".json", ".env", ".conf", ".ini":
		return true
	}
	return false
}

// dumpMySQL shells out to mysqldump, installing the client inside the
// container when it is missing.
func (b *Backup) dumpMySQL(ctx *core.Context, cfg config, workDir string) error {
	runCtx := context.Background()
	proxy := ctx.Settings.Proxy

	if _, err := runner.Run(runCtx, "command -v mysqldump"); err != nil {
		if !inContainer() {
			ctx.Notifier.Post(core.Notification{
				Kind:  core.NotifyManual,
				Title: "配置备份",
				Text:  mysqlRemediation,
			})
			return fmt.Errorf("mysqldump not found")
		}
		ctx.Logger.Infof("mysqldump missing, installing inside container")
		if _, err := runner.Run(runCtx,
			"apt-get update && apt-get install -y default-mysql-client",
			runner.WithProxyEnv(proxy)); err != nil {
			ctx.Notifier.Post(core.Notification{
				Kind:  core.NotifyManual,
				Title: "配置备份",
				Text:  mysqlRemediation,
			})
			return fmt.Errorf("install mysql client: %w", err)
		}
	}

	out := filepath.Join(workDir, "dump.sql")
	cmdline := fmt.Sprintf("mysqldump %s > %s", dumpArgs(cfg.dumpDSN), out)
	if _, err := runner.Run(runCtx, cmdline); err != nil {
		return fmt.Errorf("mysqldump: %w", err)
	}
	return nil
}

// dumpArgs converts a user:pass@host/dbname DSN into mysqldump arguments.
func dumpArgs(dsn string) string {
	cred, rest, ok := strings.Cut(dsn, "@")
	if !ok {
		return dsn
	}
	user, pass, _ := strings.Cut(cred, ":")
	host, dbname, _ := strings.Cut(rest, "/")
	return fmt.Sprintf("-h %s -u %s -p%s %s", host, user, pass, dbname)
}

func inContainer() bool {
	_, err := os.Stat("/.dockerenv")
	return err == nil
}

// listArchives returns archive paths under dir sorted oldest first by
// modification time.
func listArchives(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	type stamped struct {
		path string
		mod  time.Time
	}
	var archives []stamped
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, archivePrefix) || !strings.HasSuffix(name, ".zip") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		archives = append(archives, stamped{path: filepath.Join(dir, name), mod: info.ModTime()})
	}
	sort.Slice(archives, func(i, j int) bool {
		if archives[i].mod.Equal(archives[j].mod) {
			return archives[i].path < archives[j].path
		}
		return archives[i].mod.Before(archives[j].mod)
	})
	out := make([]string, len(archives))
	for i, a := range archives {
		out[i] = a.path
	}
	return out, nil
}

// prune deletes the oldest archives beyond the retention count and
// returns how many were deleted and how many remain.
func prune(dir string, retention int) (deleted, remain int, err error) {
	archives, err := listArchives(dir)
	if err != nil {
		return 0, 0, err
	}
	excess := len(archives) - retention
	for i := 0; i < excess; i++ {
		if err := os.Remove(archives[i]); err != nil {
			return deleted, len(archives) - deleted, err
		}
		deleted++
	}
	return deleted, len(archives) - deleted, nil
}

// zipDir writes every regular file under dir into a zip archive, paths
// relative to dir.
func zipDir(dir, archive string) error {
	f, err := os.Create(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(w, src)
		return err
	})
	if err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
