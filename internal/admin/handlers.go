// ABOUTME: JSON admin API for the extension runtime.
// ABOUTME: Lists extensions, serves forms and pages, saves config, reloads, uninstalls.

package admin

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/helmsmanhq/helmsman/extensions/core"
	"github.com/helmsmanhq/helmsman/internal/auth"
	"github.com/helmsmanhq/helmsman/internal/errors"
	"github.com/helmsmanhq/helmsman/internal/host"
	"github.com/helmsmanhq/helmsman/internal/store"
)

type Handlers struct {
	manager *host.Manager
	store   *store.Store
	token   string
}

func NewHandlers(m *host.Manager, s *store.Store, token string) *Handlers {
	return &Handlers{manager: m, store: s, token: token}
}

func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(auth.Middleware(h.token))
		r.Get("/extensions", h.listExtensions)
		r.Get("/extensions/{id}", h.getExtension)
		r.Get("/extensions/{id}/form", h.getForm)
		r.Get("/extensions/{id}/page", h.getPage)
		r.Get("/extensions/{id}/config", h.getConfig)
		r.Post("/extensions/{id}/config", h.saveConfig)
		r.Post("/extensions/{id}/reload", h.reload)
		r.Delete("/extensions/{id}", h.uninstall)
		r.Get("/jobs", h.listJobs)
		r.Get("/commands", h.listCommands)
		r.Get("/logs", h.listLogs)
	})
}

type extensionView struct {
	core.Descriptor
	State    string   `json:"state"`
	Active   bool     `json:"active"`
	Routes   []string `json:"routes,omitempty"`
	Commands []string `json:"commands,omitempty"`
}

func (h *Handlers) listExtensions(w http.ResponseWriter, r *http.Request) {
	infos := h.manager.Extensions()
	views := make([]extensionView, 0, len(infos))
	for _, info := range infos {
		views = append(views, extensionView{
			Descriptor: info.Descriptor,
			State:      string(info.State),
			Active:     info.Active,
			Routes:     info.Routes,
			Commands:   info.Commands,
		})
	}
	writeJSON(w, views)
}

func (h *Handlers) getExtension(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ext, state, ok := h.manager.Extension(id)
	if !ok {
		errors.WriteError(w, http.StatusNotFound, errors.ErrNotFound, "extension not found: "+id)
		return
	}
	writeJSON(w, extensionView{
		Descriptor: ext.Descriptor(),
		State:      string(state),
		Active:     ext.State(),
	})
}

type formView struct {
	Schema   core.Schema    `json:"schema"`
	Defaults map[string]any `json:"defaults"`
	Config   map[string]any `json:"config"`
}

// getForm returns the config schema plus the effective config: defaults
// overlaid with whatever is persisted.
func (h *Handlers) getForm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ext, _, ok := h.manager.Extension(id)
	if !ok {
		errors.WriteError(w, http.StatusNotFound, errors.ErrNotFound, "extension not found: "+id)
		return
	}
	schema, defaults := ext.Form()
	persisted, err := h.manager.Configs.Get(ext.Descriptor().ConfigPrefix)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrDatabaseError, "load config: "+err.Error())
		return
	}
	writeJSON(w, formView{
		Schema:   schema,
		Defaults: defaults,
		Config:   core.MergeDefaults(defaults, persisted),
	})
}

func (h *Handlers) getPage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ext, _, ok := h.manager.Extension(id)
	if !ok {
		errors.WriteError(w, http.StatusNotFound, errors.ErrNotFound, "extension not found: "+id)
		return
	}
	writeJSON(w, ext.Page())
}

func (h *Handlers) getConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ext, _, ok := h.manager.Extension(id)
	if !ok {
		errors.WriteError(w, http.StatusNotFound, errors.ErrNotFound, "extension not found: "+id)
		return
	}
	cfg, err := h.manager.Configs.Get(ext.Descriptor().ConfigPrefix)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrDatabaseError, "load config: "+err.Error())
		return
	}
	writeJSON(w, cfg)
}

// saveConfig persists the posted config and reloads the extension so the
// new values take effect immediately.
func (h *Handlers) saveConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var cfg map[string]any
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrInvalidBody, "invalid JSON body: "+err.Error())
		return
	}
	if err := h.manager.UpdateConfig(id, cfg); err != nil {
		errors.WriteEnvelope(w, false, err.Error())
		return
	}
	errors.WriteEnvelope(w, true, "saved")
}

func (h *Handlers) reload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.manager.Reload(id); err != nil {
		errors.WriteEnvelope(w, false, err.Error())
		return
	}
	errors.WriteEnvelope(w, true, "reloaded")
}

func (h *Handlers) uninstall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	purge := r.URL.Query().Get("purge") == "1" || r.URL.Query().Get("purge") == "true"
	if err := h.manager.Uninstall(id, purge); err != nil {
		errors.WriteEnvelope(w, false, err.Error())
		return
	}
	errors.WriteEnvelope(w, true, "uninstalled")
}

type jobView struct {
	Owner   string    `json:"owner"`
	Name    string    `json:"name"`
	Trigger string    `json:"trigger"`
	NextRun time.Time `json:"next_run"`
	Running bool      `json:"running"`
}

func (h *Handlers) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.manager.Sched.Jobs()
	views := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, jobView{
			Owner:   j.Owner,
			Name:    j.Name,
			Trigger: j.Trigger,
			NextRun: j.NextRun,
			Running: j.Running,
		})
	}
	writeJSON(w, views)
}

type commandView struct {
	Cmd      string `json:"cmd"`
	Kind     string `json:"kind"`
	Desc     string `json:"desc"`
	Category string `json:"category"`
}

func (h *Handlers) listCommands(w http.ResponseWriter, r *http.Request) {
	bindings := h.manager.Commands.List()
	views := make([]commandView, 0, len(bindings))
	for _, b := range bindings {
		views = append(views, commandView{
			Cmd:      b.Cmd,
			Kind:     string(b.Kind),
			Desc:     b.Desc,
			Category: b.Category,
		})
	}
	writeJSON(w, views)
}

func (h *Handlers) listLogs(w http.ResponseWriter, r *http.Request) {
	q := store.RequestLogQuery{
		PluginID:   r.URL.Query().Get("extension"),
		PathPrefix: r.URL.Query().Get("path"),
		Limit:      100,
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			errors.WriteErrorWithField(w, http.StatusBadRequest, errors.ErrValidationFailed,
				"limit must be an integer between 1 and 1000", "limit")
			return
		}
		q.Limit = n
	}
	logs, err := h.store.GetRequestLogs(&q)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrDatabaseError, "query logs: "+err.Error())
		return
	}
	writeJSON(w, logs)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
