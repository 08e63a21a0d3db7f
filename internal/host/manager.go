// ABOUTME: Extension lifecycle manager: enable, reload, stop, uninstall.
// ABOUTME: Owns every instance's registrations so stop leaves nothing behind.

package host

import (
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/helmsmanhq/helmsman/extensions/core"
	"github.com/helmsmanhq/helmsman/internal/bus"
	"github.com/helmsmanhq/helmsman/internal/command"
	"github.com/helmsmanhq/helmsman/internal/httpx"
	"github.com/helmsmanhq/helmsman/internal/sched"
)

// State is an extension's lifecycle state as the manager sees it.
type State string

const (
	StateUnloaded State = "unloaded"
	StateLoaded   State = "loaded" // discovered, not initialized (or init failed)
	StateActive   State = "active"
	StateStopped  State = "stopped"
)

// instance tracks one managed extension. The mutex serializes lifecycle
// transitions, including concurrent re-init.
type instance struct {
	mu    sync.Mutex
	ext   core.Extension
	state State
}

// Manager drives the extension lifecycle and owns the shared runtime
// pieces every extension registers against.
type Manager struct {
	Sched    *sched.Scheduler
	Bus      *bus.Bus
	Commands *command.Registry
	Routes   *RouteRegistry
	Configs  core.ConfigStore
	Data     core.DataStore
	Facade   *Facade
	Notifier *Notifier
	Paths    *Paths
	HTTP     *httpx.Client
	Settings core.Settings

	mu        sync.RWMutex
	instances map[string]*instance
}

// NewManager wires a manager over the shared runtime.
func NewManager(s *sched.Scheduler, b *bus.Bus, cmds *command.Registry, routes *RouteRegistry,
	configs core.ConfigStore, data core.DataStore, facade *Facade, notifier *Notifier,
	paths *Paths, client *httpx.Client, settings core.Settings) *Manager {
	return &Manager{
		Sched:     s,
		Bus:       b,
		Commands:  cmds,
		Routes:    routes,
		Configs:   configs,
		Data:      data,
		Facade:    facade,
		Notifier:  notifier,
		Paths:     paths,
		HTTP:      client,
		Settings:  settings,
		instances: make(map[string]*instance),
	}
}

// Load discovers every registered extension, sorted by load order.
func (m *Manager) Load() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ext := range core.All() {
		id := ext.Descriptor().ID
		if _, ok := m.instances[id]; ok {
			continue
		}
		m.instances[id] = &instance{ext: ext, state: StateLoaded}
	}
}

// EnableAll initializes every loaded extension in load order. A failing
// extension is logged and skipped; the rest proceed.
func (m *Manager) EnableAll() {
	for _, ext := range core.All() {
		if err := m.Enable(ext.Descriptor().ID); err != nil {
			log.Printf("extension %s failed to initialize: %v", ext.Descriptor().ID, err)
		}
	}
}

func (m *Manager) get(id string) (*instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[id]
	return inst, ok
}

// Enable initializes an extension with its merged config and registers its
// commands, endpoints, and services. Re-entry is the reload pattern: the
// previous wiring is torn down first, so two consecutive calls produce the
// same registrations as one.
func (m *Manager) Enable(id string) error {
	inst, ok := m.get(id)
	if !ok {
		return fmt.Errorf("extension %s not loaded", id)
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()

	desc := inst.ext.Descriptor()

	// Tear down any previous wiring so a reload never duplicates.
	if inst.state == StateActive {
		m.stopLocked(inst)
	}

	_, defaults := inst.ext.Form()
	persisted, err := m.Configs.Get(desc.ConfigPrefix)
	if err != nil {
		// Corrupt persisted config is the one fatal condition: the
		// extension stays inactive.
		return fmt.Errorf("load config for %s: %w", desc.ConfigPrefix, err)
	}
	cfg := core.MergeDefaults(defaults, persisted)

	ctx := &core.Context{
		Owner:         desc.ID,
		Logger:        NewLogger(desc.ID),
		Notifier:      m.Notifier,
		Sched:         m.Sched,
		Bus:           m.Bus,
		Commands:      m.Commands,
		Config:        m.Configs,
		Data:          m.Data,
		Media:         m.Facade,
		Downloads:     m.Facade,
		Subscribe:     m.Facade.SubscribeChain(),
		Subscriptions: m.Facade.Subscriptions(),
		Download:      m.Facade.DownloadChain(),
		Transfers:     m.Facade.TransferHistory(),
		Sites:         m.Facade,
		Paths:         m.Paths,
		HTTP:          m.HTTP,
		Settings:      m.Settings,
	}

	if err := m.initExtension(inst, ctx, cfg); err != nil {
		// Init may have registered subscriptions or jobs before failing;
		// clear them the way a stop would.
		m.Sched.RemoveOwner(desc.ID)
		m.Bus.UnsubscribeOwner(desc.ID)
		m.Commands.RemoveOwner(desc.ID)
		m.Routes.RemoveOwner(desc.ID)
		inst.state = StateLoaded
		return err
	}

	for _, binding := range inst.ext.Commands() {
		if err := m.Commands.Register(desc.ID, binding); err != nil {
			log.Printf("extension %s: %v", desc.ID, err)
		}
	}
	for _, ep := range inst.ext.APIs() {
		m.Routes.Set(desc.ID, ep)
	}
	for _, svc := range inst.ext.Services() {
		if _, err := m.Sched.AddCron(desc.ID, svc.Name, svc.CronSpec, svc.Run); err != nil {
			// ConfigInvalid: surface to the user, keep the extension
			// running without the affected service.
			log.Printf("extension %s service %s rejected: %v", desc.ID, svc.Name, err)
			m.Notifier.Post(core.Notification{
				Kind:  core.NotifyManual,
				Title: desc.Name,
				Text:  fmt.Sprintf("服务 %s 未注册：%v", svc.Name, err),
			})
		}
	}

	inst.state = StateActive
	return nil
}

// initExtension runs Init with the catch-at-the-boundary rule applied to
// panics.
func (m *Manager) initExtension(inst *instance, ctx *core.Context, cfg map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("init panicked: %v", r)
		}
	}()
	return inst.ext.Init(ctx, cfg)
}

// Reload stops and re-initializes an extension with its current persisted
// config.
func (m *Manager) Reload(id string) error {
	if err := m.Stop(id); err != nil {
		return err
	}
	return m.Enable(id)
}

// UpdateConfig replaces the persisted config and reloads the extension.
// The store update itself never re-inits implicitly; the reload here is
// the admin save flow.
func (m *Manager) UpdateConfig(id string, cfg map[string]any) error {
	inst, ok := m.get(id)
	if !ok {
		return fmt.Errorf("extension %s not loaded", id)
	}
	if err := m.Configs.Update(inst.ext.Descriptor().ConfigPrefix, cfg); err != nil {
		return err
	}
	return m.Reload(id)
}

// Stop tears down an extension: Stop() on the extension, then every
// registration carrying its owner tag. Safe to call repeatedly.
func (m *Manager) Stop(id string) error {
	inst, ok := m.get(id)
	if !ok {
		return fmt.Errorf("extension %s not loaded", id)
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	m.stopLocked(inst)
	return nil
}

func (m *Manager) stopLocked(inst *instance) {
	if inst.state == StateStopped || inst.state == StateUnloaded {
		return
	}
	id := inst.ext.Descriptor().ID

	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("extension %s: Stop panicked: %v", id, r)
			}
		}()
		if err := inst.ext.Stop(); err != nil {
			log.Printf("extension %s: Stop returned error: %v", id, err)
		}
	}()

	m.Sched.RemoveOwner(id)
	m.Bus.UnsubscribeOwner(id)
	m.Commands.RemoveOwner(id)
	m.Routes.RemoveOwner(id)
	inst.state = StateStopped
}

// Uninstall stops an extension and removes it. With purge, its config,
// data blobs, and data directory are wiped; a failing file removal is
// reported but registrations are cleared regardless.
func (m *Manager) Uninstall(id string, purge bool) error {
	inst, ok := m.get(id)
	if !ok {
		return fmt.Errorf("extension %s not loaded", id)
	}

	inst.mu.Lock()
	m.stopLocked(inst)
	desc := inst.ext.Descriptor()

	var fileErr error
	if purge {
		if err := m.Configs.Delete(desc.ConfigPrefix); err != nil {
			log.Printf("extension %s: purge config failed: %v", id, err)
		}
		if err := m.Data.DeleteAll(desc.ConfigPrefix); err != nil {
			log.Printf("extension %s: purge data failed: %v", id, err)
		}
		if err := os.RemoveAll(m.Paths.DataPath(desc.ConfigPrefix)); err != nil {
			fileErr = fmt.Errorf("remove data directory: %w", err)
			log.Printf("extension %s: %v", id, fileErr)
		}
	}
	inst.state = StateUnloaded
	inst.mu.Unlock()

	m.mu.Lock()
	delete(m.instances, id)
	m.mu.Unlock()

	return fileErr
}

// StopAll stops every managed extension.
func (m *Manager) StopAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.instances))
	for id := range m.instances {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		if err := m.Stop(id); err != nil {
			log.Printf("stop %s: %v", id, err)
		}
	}
}

// ExtensionInfo is the admin-facing view of a managed extension.
type ExtensionInfo struct {
	Descriptor core.Descriptor
	State      State
	Active     bool
	Jobs       []sched.JobInfo
	Routes     []string
	Commands   []string
}

// Extensions lists every managed extension in load order.
func (m *Manager) Extensions() []ExtensionInfo {
	var infos []ExtensionInfo
	for _, ext := range core.All() {
		id := ext.Descriptor().ID
		inst, ok := m.get(id)
		if !ok {
			continue
		}
		inst.mu.Lock()
		state := inst.state
		inst.mu.Unlock()
		infos = append(infos, ExtensionInfo{
			Descriptor: ext.Descriptor(),
			State:      state,
			Active:     ext.State(),
			Jobs:       m.Sched.OwnerJobs(id),
			Routes:     m.Routes.OwnerPaths(id),
			Commands:   m.Commands.OwnerCommands(id),
		})
	}
	return infos
}

// Extension returns one managed extension and its state.
func (m *Manager) Extension(id string) (core.Extension, State, bool) {
	inst, ok := m.get(id)
	if !ok {
		return nil, StateUnloaded, false
	}
	inst.mu.Lock()
	state := inst.state
	inst.mu.Unlock()
	return inst.ext, state, true
}
