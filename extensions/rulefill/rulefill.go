// ABOUTME: Rule-fill extension: patches subscription filter fields from user rules.
// ABOUTME: Reacts to new subscriptions by category and to registered downloads by tmdbid+season.

package rulefill

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/helmsmanhq/helmsman/extensions/core"
	"github.com/helmsmanhq/helmsman/internal/bus"
	"github.com/helmsmanhq/helmsman/internal/command"
)

func init() {
	core.Register(&RuleFill{})
}

const (
	processedKey = "processed"
	historyKey   = "history"
	maxHistory   = 100
)

// rule carries the filter values applied to subscriptions of one
// secondary category.
type rule struct {
	category   string
	include    string
	exclude    string
	sites      []string
	resolution string
	quality    string
	effect     string
}

// parseRules reads one rule per line:
//
//	动漫;include=CR.*简繁;resolution=1080[pi]|x1080
//
// The first field is the category, the rest are key=value pairs.
func parseRules(text string) []rule {
	var rules []rule
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ";")
		r := rule{category: strings.TrimSpace(parts[0])}
		if r.category == "" {
			continue
		}
		for _, part := range parts[1:] {
			key, value, ok := strings.Cut(part, "=")
			if !ok {
				continue
			}
			value = strings.TrimSpace(value)
			switch strings.TrimSpace(key) {
			case "include":
				r.include = value
			case "exclude":
				r.exclude = value
			case "sites":
				r.sites = splitList(value)
			case "resolution":
				r.resolution = value
			case "quality":
				r.quality = value
			case "effect":
				r.effect = value
			}
		}
		rules = append(rules, r)
	}
	return rules
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

type config struct {
	enabled    bool
	notify     bool
	rules      []rule
	fillFields []string // download-fill: release_group, site, resolution, quality, effect
}

func parseConfig(cfg map[string]any) config {
	return config{
		enabled:    core.BoolValue(cfg, "enabled"),
		notify:     core.BoolValue(cfg, "notify"),
		rules:      parseRules(core.StringValue(cfg, "rules")),
		fillFields: core.StringsValue(cfg, "fill_fields"),
	}
}

// historyEntry is one fill operation, persisted for the page view.
type historyEntry struct {
	Time     string   `json:"time"`
	Kind     string   `json:"kind"` // "rule" or "download"
	Name     string   `json:"name"`
	Fields   []string `json:"fields"`
	Category string   `json:"category,omitempty"`
}

// RuleFill fills blank subscription filter fields, either from
// category-keyed rules when a subscription is created or from the
// concrete download when one is registered.
type RuleFill struct {
	mu     sync.Mutex // guards state and data-store read-modify-write
	ctx    *core.Context
	cfg    config
	active bool
}

func (p *RuleFill) Descriptor() core.Descriptor {
	return core.Descriptor{
		ID:           "rulefill",
		Name:         "订阅规则填充",
		Desc:         "新建订阅时按分类规则填充过滤条件，下载登记后回填实际参数",
		Version:      "1.1",
		Author:       "helmsman",
		Icon:         "rulefill.png",
		Order:        32,
		AuthLevel:    1,
		ConfigPrefix: "rulefill",
	}
}

func (p *RuleFill) Init(ctx *core.Context, cfg map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ctx = ctx
	p.cfg = parseConfig(cfg)
	p.active = p.cfg.enabled
	if !p.cfg.enabled {
		return nil
	}

	ctx.Bus.Subscribe(ctx.Owner, bus.KindSubscribeAdded, p.onSubscribeAdded)
	ctx.Bus.Subscribe(ctx.Owner, bus.KindDownloadAdded, p.onDownloadAdded)
	return nil
}

func (p *RuleFill) State() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *RuleFill) Form() (core.Schema, map[string]any) {
	schema := core.Schema{Components: []core.Component{
		core.Row(
			core.Col(core.Component{Type: "switch", Model: "enabled", Label: "启用插件"}),
			core.Col(core.Component{Type: "switch", Model: "notify", Label: "发送通知"}),
		),
		core.Row(
			core.Col(core.Component{
				Type:  "textarea",
				Model: "rules",
				Label: "分类规则",
				Hint:  "每行一条：分类;include=正则;exclude=正则;sites=站点1,站点2;resolution=正则;quality=正则;effect=正则",
			}),
		),
		core.Row(
			core.Col(core.Component{
				Type:     "select",
				Model:    "fill_fields",
				Label:    "下载回填字段",
				Multiple: true,
				Items: []core.SelectItem{
					{Title: "制作组", Value: "release_group"},
					{Title: "站点", Value: "site"},
					{Title: "分辨率", Value: "resolution"},
					{Title: "质量", Value: "quality"},
					{Title: "特效", Value: "effect"},
				},
			}),
		),
	}}
	defaults := map[string]any{
		"enabled":     false,
		"notify":      false,
		"rules":       "",
		"fill_fields": []string{},
	}
	return schema, defaults
}

func (p *RuleFill) Page() core.Schema {
	entries := p.history()
	items := make([]core.Component, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		items = append(items, core.Component{
			Type:  "text",
			Label: fmt.Sprintf("%s [%s] %s: %s", e.Time, e.Kind, e.Name, strings.Join(e.Fields, ", ")),
		})
	}
	return core.Schema{Components: []core.Component{core.Row(core.Col(items...))}}
}

func (p *RuleFill) Commands() []command.Binding { return nil }

func (p *RuleFill) APIs() []core.Endpoint { return nil }

func (p *RuleFill) Services() []core.ServiceDescriptor { return nil }

func (p *RuleFill) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = false
	return nil
}

func (p *RuleFill) ruleFor(category string) (rule, bool) {
	for _, r := range p.cfg.rules {
		if r.category == category {
			return r, true
		}
	}
	return rule{}, false
}

// onSubscribeAdded patches blank filter fields of the new subscription
// from the rule matching its secondary category. Non-blank user values
// are never overwritten.
func (p *RuleFill) onSubscribeAdded(ev bus.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return
	}
	ctx := p.ctx

	id := int64(core.IntValue(ev.Data, "subscription_id", 0))
	if id == 0 {
		return
	}
	media, _ := ev.Data["mediainfo"].(map[string]any)
	category := core.StringValue(media, "category")
	r, ok := p.ruleFor(category)
	if !ok {
		return
	}

	key := fmt.Sprintf("sub:%d", id)
	if p.seenLocked(key) {
		return
	}

	sub, ok := ctx.Subscriptions.Get(id)
	if !ok {
		ctx.Logger.Warnf("subscription %d not found", id)
		return
	}

	fields := map[string]any{}
	if sub.Include == "" && r.include != "" {
		fields["include"] = r.include
	}
	if sub.Exclude == "" && r.exclude != "" {
		fields["exclude"] = r.exclude
	}
	if len(sub.Sites) == 0 && len(r.sites) > 0 {
		fields["sites"] = r.sites
	}
	if sub.Resolution == "" && r.resolution != "" {
		fields["resolution"] = r.resolution
	}
	if sub.Quality == "" && r.quality != "" {
		fields["quality"] = r.quality
	}
	if sub.Effect == "" && r.effect != "" {
		fields["effect"] = r.effect
	}
	if len(fields) == 0 {
		return
	}

	if err := ctx.Subscriptions.Update(id, fields); err != nil {
		ctx.Logger.Errorf("update subscription %d: %v", id, err)
		return
	}
	p.markLocked(key)
	p.appendHistoryLocked(historyEntry{
		Time:     time.Now().In(ctx.Settings.Timezone).Format("2006-01-02 15:04:05"),
		Kind:     "rule",
		Name:     sub.Name,
		Fields:   fieldNames(fields),
		Category: category,
	})
	p.notifyLocked(sub.Name, fields)
}

// onDownloadAdded copies the concrete download's parameters into the
// originating subscription for the user-selected fields.
func (p *RuleFill) onDownloadAdded(ev bus.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active || len(p.cfg.fillFields) == 0 {
		return
	}
	ctx := p.ctx

	hash := core.StringValue(ev.Data, "hash")
	tmdbID := core.IntValue(ev.Data, "tmdbid", 0)
	season := core.IntValue(ev.Data, "season", 0)
	if hash == "" || tmdbID == 0 {
		return
	}

	key := "dl:" + hash
	if p.seenLocked(key) {
		return
	}

	sub, ok := ctx.Subscriptions.Find(tmdbID, season)
	if !ok {
		return
	}

	fields := map[string]any{}
	for _, field := range p.cfg.fillFields {
		value := core.StringValue(ev.Data, field)
		if value == "" {
			continue
		}
		if field == "site" {
			fields["sites"] = []string{value}
			continue
		}
		fields[field] = value
	}
	if len(fields) == 0 {
		return
	}

	if err := ctx.Subscriptions.Update(sub.ID, fields); err != nil {
		ctx.Logger.Errorf("update subscription %d: %v", sub.ID, err)
		return
	}
	p.markLocked(key)
	p.appendHistoryLocked(historyEntry{
		Time:   time.Now().In(ctx.Settings.Timezone).Format("2006-01-02 15:04:05"),
		Kind:   "download",
		Name:   sub.Name,
		Fields: fieldNames(fields),
	})
	p.notifyLocked(sub.Name, fields)
}

func fieldNames(fields map[string]any) []string {
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	return names
}

// seenLocked reports whether the de-dup list contains key. Caller holds
// the mutex; the list lives in the data store.
func (p *RuleFill) seenLocked(key string) bool {
	var processed []string
	if _, err := p.ctx.Data.Get(p.Descriptor().ConfigPrefix, processedKey, &processed); err != nil {
		p.ctx.Logger.Warnf("load processed list: %v", err)
		return false
	}
	for _, k := range processed {
		if k == key {
			return true
		}
	}
	return false
}

func (p *RuleFill) markLocked(key string) {
	var processed []string
	if _, err := p.ctx.Data.Get(p.Descriptor().ConfigPrefix, processedKey, &processed); err != nil {
		p.ctx.Logger.Warnf("load processed list: %v", err)
	}
	processed = append(processed, key)
	if err := p.ctx.Data.Save(p.Descriptor().ConfigPrefix, processedKey, processed); err != nil {
		p.ctx.Logger.Errorf("save processed list: %v", err)
	}
}

func (p *RuleFill) appendHistoryLocked(entry historyEntry) {
	var entries []historyEntry
	if _, err := p.ctx.Data.Get(p.Descriptor().ConfigPrefix, historyKey, &entries); err != nil {
		p.ctx.Logger.Warnf("load history: %v", err)
	}
	entries = append(entries, entry)
	if len(entries) > maxHistory {
		entries = entries[len(entries)-maxHistory:]
	}
	if err := p.ctx.Data.Save(p.Descriptor().ConfigPrefix, historyKey, entries); err != nil {
		p.ctx.Logger.Errorf("save history: %v", err)
	}
}

func (p *RuleFill) history() []historyEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx == nil {
		return nil
	}
	var entries []historyEntry
	if _, err := p.ctx.Data.Get(p.Descriptor().ConfigPrefix, historyKey, &entries); err != nil {
		p.ctx.Logger.Warnf("load history: %v", err)
	}
	return entries
}

func (p *RuleFill) notifyLocked(name string, fields map[string]any) {
	if !p.cfg.notify {
		return
	}
	p.ctx.Notifier.Post(core.Notification{
		Kind:  core.NotifySubscribe,
		Title: "订阅规则填充",
		Text:  fmt.Sprintf("%s 已填充字段：%s", name, strings.Join(fieldNames(fields), ", ")),
	})
}
