// ABOUTME: Strm generator extension: mirrors a media tree into one-line pointer files.
// ABOUTME: Watches source trees, writes .strm artifacts, and propagates cloud deletions.

package strmgen

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/helmsmanhq/helmsman/extensions/core"
	"github.com/helmsmanhq/helmsman/internal/bus"
	"github.com/helmsmanhq/helmsman/internal/command"
	"github.com/helmsmanhq/helmsman/internal/watch"
)

func init() {
	core.Register(&StrmGen{})
}

// videoExts is the media-file whitelist that produces .strm pointers.
var videoExts = map[string]bool{
	".mkv": true, ".mp4": true, ".avi": true, ".ts": true, ".iso": true,
	".rmvb": true, ".m2ts": true, ".mpg": true, ".flv": true, ".wmv": true,
	".mov": true, ".wtv": true, ".webm": true,
}

const (
	modeLocal    = "local"
	modeGatewayA = "gateway_a"
	modeGatewayB = "gateway_b"

	pollInterval = 10 * time.Second
)

// mapping pairs one watched source root with its artifact target root.
type mapping struct {
	source string
	target string
}

// parseMappings reads one mapping per line: `/source/dir#/target/dir`.
func parseMappings(text string) []mapping {
	var out []mapping
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		source, target, ok := strings.Cut(line, "#")
		source = strings.TrimSpace(source)
		target = strings.TrimSpace(target)
		if !ok || source == "" || target == "" {
			continue
		}
		out = append(out, mapping{source: filepath.Clean(source), target: filepath.Clean(target)})
	}
	return out
}

type config struct {
	enabled       bool
	notify        bool
	onlyonce      bool
	mappings      []mapping
	mode          string // local, gateway_a, gateway_b
	monitor       string // notify, polling
	libraryPrefix string // media-server-visible prefix replacing the source root
	cloudPrefix   string // cloud mount root, stripped before URL encoding
	scheme        string
	host          string
	copyNonVideo  bool
	exclude       []string
	preserved     map[string]bool // directory names never pruned
}

func parseConfig(cfg map[string]any) config {
	c := config{
		enabled:       core.BoolValue(cfg, "enabled"),
		notify:        core.BoolValue(cfg, "notify"),
		onlyonce:      core.BoolValue(cfg, "onlyonce"),
		mappings:      parseMappings(core.StringValue(cfg, "paths")),
		mode:          core.StringValue(cfg, "mode"),
		monitor:       core.StringValue(cfg, "monitor"),
		libraryPrefix: core.StringValue(cfg, "library_prefix"),
		cloudPrefix:   core.StringValue(cfg, "cloud_prefix"),
		scheme:        core.StringValue(cfg, "scheme"),
		host:          core.StringValue(cfg, "host"),
		copyNonVideo:  core.BoolValue(cfg, "copy_nonvideo"),
		preserved:     make(map[string]bool),
	}
	for _, line := range strings.Split(core.StringValue(cfg, "exclude"), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			c.exclude = append(c.exclude, line)
		}
	}
	for _, name := range strings.Split(core.StringValue(cfg, "preserved"), ",") {
		if name = strings.TrimSpace(name); name != "" {
			c.preserved[name] = true
		}
	}
	if c.mode == "" {
		c.mode = modeLocal
	}
	if c.monitor == "" {
		c.monitor = "notify"
	}
	if c.scheme == "" {
		c.scheme = "http"
	}
	return c
}

// StrmGen watches media source trees and maintains pointer artifacts in
// the target trees.
type StrmGen struct {
	mu       sync.Mutex
	ctx      *core.Context
	cfg      config
	active   bool
	watchers []watch.Watcher
	wg       sync.WaitGroup
}

func (p *StrmGen) Descriptor() core.Descriptor {
	return core.Descriptor{
		ID:           "strmgen",
		Name:         "云盘 Strm 生成",
		Desc:         "监控云盘挂载目录，为媒体文件生成 strm 指针文件",
		Version:      "2.0",
		Author:       "helmsman",
		Icon:         "strmgen.png",
		Order:        41,
		AuthLevel:    1,
		ConfigPrefix: "strmgen",
	}
}

func (p *StrmGen) Init(ctx *core.Context, cfg map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Re-init tears down the previous watchers first.
	p.stopWatchersLocked()

	p.ctx = ctx
	p.cfg = parseConfig(cfg)
	p.active = p.cfg.enabled
	if !p.cfg.enabled {
		return nil
	}

	compiled, invalid := watch.CompileExcludes(p.cfg.exclude)
	for _, pattern := range invalid {
		// ConfigInvalid: report, keep going without the bad pattern.
		ctx.Logger.Warnf("invalid exclude pattern %q", pattern)
		ctx.Notifier.Post(core.Notification{
			Kind:  core.NotifyPlugin,
			Title: p.Descriptor().Name,
			Text:  fmt.Sprintf("排除规则无效，已忽略：%s", pattern),
		})
	}
	watchCfg := watch.Config{Exclude: compiled}

	for _, m := range p.cfg.mappings {
		w, err := p.newWatcher(watchCfg)
		if err != nil {
			ctx.Logger.Errorf("create watcher for %s: %v", m.source, err)
			continue
		}
		if err := w.Add(m.source); err != nil {
			p.reportWatchError(err, m.source)
			w.Close()
			continue
		}
		p.watchers = append(p.watchers, w)
		p.wg.Add(1)
		go p.watchLoop(w, m, p.cfg)
	}

	ctx.Bus.Subscribe(ctx.Owner, bus.KindPluginAction,
		bus.ActionFilter("cloudsyncdel", p.onCloudSyncDel))
	ctx.Bus.Subscribe(ctx.Owner, bus.KindPluginAction,
		bus.ActionFilter("strmsync", func(bus.Event) { p.fullSweep() }))

	if p.cfg.onlyonce {
		if _, err := ctx.Sched.AddOnce(ctx.Owner, "全量同步", time.Now(), p.fullSweep); err != nil {
			return err
		}
		next := make(map[string]any, len(cfg))
		for k, v := range cfg {
			next[k] = v
		}
		next["onlyonce"] = false
		if err := ctx.Config.Update(p.Descriptor().ConfigPrefix, next); err != nil {
			ctx.Logger.Warnf("clear onlyonce flag: %v", err)
		}
	}
	return nil
}

func (p *StrmGen) newWatcher(cfg watch.Config) (watch.Watcher, error) {
	if p.cfg.monitor == "polling" {
		return watch.NewPolling(pollInterval, cfg), nil
	}
	return watch.NewNotify(cfg)
}

func (p *StrmGen) reportWatchError(err error, path string) {
	if errors.Is(err, watch.ErrWatchLimit) {
		p.ctx.Notifier.Post(core.Notification{
			Kind:  core.NotifyManual,
			Title: p.Descriptor().Name,
			Text:  watch.RemediationHint,
		})
		return
	}
	p.ctx.Logger.Errorf("watch %s: %v", path, err)
}

// watchLoop drains one watcher until it is closed. It works off a config
// snapshot and never touches p.mu: Stop joins these loops while holding it.
func (p *StrmGen) watchLoop(w watch.Watcher, m mapping, cfg config) {
	defer p.wg.Done()
	events, errs := w.Events(), w.Errors()
	for events != nil || errs != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if err := processFile(cfg, ev.Path, m); err != nil {
				p.ctx.Logger.Errorf("process %s: %v", ev.Path, err)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			p.reportWatchError(err, m.source)
		}
	}
}

func (p *StrmGen) State() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *StrmGen) Form() (core.Schema, map[string]any) {
	schema := core.Schema{Components: []core.Component{
		core.Row(
			core.Col(core.Component{Type: "switch", Model: "enabled", Label: "启用插件"}),
			core.Col(core.Component{Type: "switch", Model: "notify", Label: "发送通知"}),
			core.Col(core.Component{Type: "switch", Model: "onlyonce", Label: "立即全量同步一次"}),
		),
		core.Row(
			core.Col(core.Component{
				Type:  "textarea",
				Model: "paths",
				Label: "监控目录",
				Hint:  "每行一条：源目录#目的目录",
			}),
		),
		core.Row(
			core.Col(core.Component{Type: "select", Model: "mode", Label: "Strm 内容", Items: []core.SelectItem{
				{Title: "本地路径替换", Value: modeLocal},
				{Title: "网关 A", Value: modeGatewayA},
				{Title: "网关 B", Value: modeGatewayB},
			}}),
			core.Col(core.Component{Type: "select", Model: "monitor", Label: "监控方式", Items: []core.SelectItem{
				{Title: "系统通知", Value: "notify"},
				{Title: "轮询（网络挂载）", Value: "polling"},
			}}),
			core.Col(core.Component{Type: "switch", Model: "copy_nonvideo", Label: "复制非媒体文件"}),
		),
		core.Row(
			core.Col(core.Component{Type: "text", Model: "library_prefix", Label: "媒体库前缀", Hint: "本地模式下替换源目录前缀"}),
			core.Col(core.Component{Type: "text", Model: "cloud_prefix", Label: "云盘挂载前缀", Hint: "网关模式编码前剥离的前缀"}),
		),
		core.Row(
			core.Col(core.Component{Type: "select", Model: "scheme", Label: "网关协议", Items: []core.SelectItem{
				{Title: "http", Value: "http"},
				{Title: "https", Value: "https"},
			}}),
			core.Col(core.Component{Type: "text", Model: "host", Label: "网关地址", Hint: "例如 127.0.0.1:19798"}),
		),
		core.Row(
			core.Col(core.Component{Type: "textarea", Model: "exclude", Label: "排除规则", Hint: "每行一条正则，匹配完整路径"}),
			core.Col(core.Component{Type: "text", Model: "preserved", Label: "保留目录", Hint: "清理空目录时保留的目录名，逗号分隔"}),
		),
	}}
	defaults := map[string]any{
		"enabled":        false,
		"notify":         false,
		"onlyonce":       false,
		"paths":          "",
		"mode":           modeLocal,
		"monitor":        "notify",
		"copy_nonvideo":  false,
		"library_prefix": "",
		"cloud_prefix":   "",
		"scheme":         "http",
		"host":           "",
		"exclude":        "",
		"preserved":      "",
	}
	return schema, defaults
}

func (p *StrmGen) Page() core.Schema { return core.Schema{} }

func (p *StrmGen) Commands() []command.Binding {
	return []command.Binding{{
		Cmd:      "/strmsync",
		Kind:     bus.KindPluginAction,
		Desc:     "全量同步 strm 文件",
		Category: "管理",
		Data:     map[string]any{"action": "strmsync"},
	}}
}

func (p *StrmGen) APIs() []core.Endpoint { return nil }

func (p *StrmGen) Services() []core.ServiceDescriptor { return nil }

func (p *StrmGen) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopWatchersLocked()
	p.active = false
	return nil
}

// stopWatchersLocked closes every watcher and joins their loops.
func (p *StrmGen) stopWatchersLocked() {
	for _, w := range p.watchers {
		w.Close()
	}
	p.watchers = nil
	p.wg.Wait()
}

// fullSweep walks every source tree and processes each file once.
func (p *StrmGen) fullSweep() {
	p.mu.Lock()
	ctx := p.ctx
	cfg := p.cfg
	p.mu.Unlock()

	compiled, _ := watch.CompileExcludes(cfg.exclude)
	skip := func(path string) bool {
		if strings.HasPrefix(filepath.Base(path), ".") {
			return true
		}
		for _, re := range compiled {
			if re.MatchString(path) {
				return true
			}
		}
		return false
	}

	var processed, failed int
	for _, m := range cfg.mappings {
		err := filepath.WalkDir(m.source, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != m.source && skip(path) {
					return filepath.SkipDir
				}
				return nil
			}
			if skip(path) {
				return nil
			}
			if err := processFile(cfg, path, m); err != nil {
				ctx.Logger.Errorf("process %s: %v", path, err)
				failed++
				return nil
			}
			processed++
			return nil
		})
		if err != nil {
			ctx.Logger.Errorf("sweep %s: %v", m.source, err)
		}
	}

	ctx.Logger.Infof("full sweep done: %d processed, %d failed", processed, failed)
	if cfg.notify {
		ctx.Notifier.Post(core.Notification{
			Kind:  core.NotifyPlugin,
			Title: p.Descriptor().Name,
			Text:  fmt.Sprintf("全量同步完成：处理 %d，失败 %d", processed, failed),
		})
	}
}

// processFile mirrors one source file into the target tree: videos get a
// .strm pointer, other files are copied when the toggle is on.
func processFile(cfg config, src string, m mapping) error {
	rel, err := filepath.Rel(m.source, src)
	if err != nil || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("%s outside source root %s", src, m.source)
	}

	if !videoExts[strings.ToLower(filepath.Ext(src))] {
		if !cfg.copyNonVideo {
			return nil
		}
		dst := filepath.Join(m.target, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		return copyFile(src, dst)
	}

	content, err := pointerContent(cfg, src, m)
	if err != nil {
		return err
	}
	dst := strmPath(m.target, rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, []byte(content), 0o644)
}

// strmPath maps a source-relative media path to its pointer file path.
func strmPath(target, rel string) string {
	ext := filepath.Ext(rel)
	return filepath.Join(target, strings.TrimSuffix(rel, ext)+".strm")
}

// pointerContent renders the single line written into a .strm file.
func pointerContent(cfg config, src string, m mapping) (string, error) {
	switch cfg.mode {
	case modeLocal:
		rel, err := filepath.Rel(m.source, src)
		if err != nil {
			return "", err
		}
		return filepath.Join(cfg.libraryPrefix, rel), nil
	case modeGatewayA, modeGatewayB:
		residual := strings.TrimPrefix(src, cfg.cloudPrefix)
		return gatewayURL(cfg.mode, cfg.scheme, cfg.host, residual), nil
	default:
		return "", fmt.Errorf("unknown strm mode %q", cfg.mode)
	}
}

// gatewayURL renders the cloud-gateway pointer URL for the residual path.
func gatewayURL(mode, scheme, host, residual string) string {
	enc := encodePath(residual)
	if mode == modeGatewayA {
		return fmt.Sprintf("%s://%s/static/%s/%s/False/%s", scheme, host, scheme, host, enc)
	}
	return fmt.Sprintf("%s://%s/d/%s", scheme, host, enc)
}

// encodePath percent-encodes every byte outside the unreserved set,
// including '/'.
func encodePath(s string) string {
	const upperhex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
			c == '-' || c == '_' || c == '.' || c == '~' {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&0xf])
	}
	return b.String()
}

// onCloudSyncDel reverses the library mapping for a deletion reported by
// the companion sync extension: removes the local artifact and the cloud
// file, then prunes empty parents.
func (p *StrmGen) onCloudSyncDel(ev bus.Event) {
	p.mu.Lock()
	ctx := p.ctx
	cfg := p.cfg
	p.mu.Unlock()

	mediaPath := core.StringValue(ev.Data, "media_path")
	if mediaPath == "" || cfg.libraryPrefix == "" {
		return
	}
	rel := strings.TrimPrefix(mediaPath, cfg.libraryPrefix)
	if rel == mediaPath {
		ctx.Logger.Warnf("media path %s outside library prefix %s", mediaPath, cfg.libraryPrefix)
		return
	}
	rel = strings.TrimPrefix(rel, string(filepath.Separator))

	for _, m := range cfg.mappings {
		local := filepath.Join(m.target, rel)
		if videoExts[strings.ToLower(filepath.Ext(rel))] {
			local = strmPath(m.target, rel)
		}
		if removed := removeAndPrune(local, m.target, cfg.preserved); removed {
			ctx.Logger.Infof("deleted artifact %s", local)
		}
	}
	if cfg.cloudPrefix != "" {
		cloud := filepath.Join(cfg.cloudPrefix, rel)
		if removed := removeAndPrune(cloud, cfg.cloudPrefix, cfg.preserved); removed {
			ctx.Logger.Infof("deleted cloud file %s", cloud)
		}
	}
	if cfg.notify {
		ctx.Notifier.Post(core.Notification{
			Kind:  core.NotifyPlugin,
			Title: p.Descriptor().Name,
			Text:  fmt.Sprintf("已同步删除 %s", mediaPath),
		})
	}
}

// removeAndPrune deletes path and walks up deleting empty parents. The
// walk stops at root, at any preserved directory name, and at the first
// non-empty directory.
func removeAndPrune(path, root string, preserved map[string]bool) bool {
	if err := os.Remove(path); err != nil {
		return false
	}
	dir := filepath.Dir(path)
	for dir != root && strings.HasPrefix(dir, root) {
		if preserved[filepath.Base(dir)] {
			break
		}
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			break
		}
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
	return true
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
