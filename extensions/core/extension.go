// ABOUTME: Core extension contract for the Helmsman extension runtime.
// ABOUTME: Defines the interface, descriptor, and capability context every extension receives.

package core

import (
	"net/http"
	"time"

	"github.com/helmsmanhq/helmsman/internal/bus"
	"github.com/helmsmanhq/helmsman/internal/command"
	"github.com/helmsmanhq/helmsman/internal/httpx"
	"github.com/helmsmanhq/helmsman/internal/sched"
)

// Descriptor is the immutable identity and metadata of an extension.
// It is created once at registration and never mutated.
type Descriptor struct {
	ID           string `json:"id"`   // stable identifier, also the route mount name
	Name         string `json:"name"` // display name
	Desc         string `json:"desc"`
	Version      string `json:"version"`
	Author       string `json:"author"`
	AuthorURL    string `json:"author_url"`
	Icon         string `json:"icon"`
	Order        int    `json:"order"`      // load order, lower loads earlier
	AuthLevel    int    `json:"auth_level"` // minimum caller privilege for the extension's UI
	ConfigPrefix string `json:"config_prefix"`
}

// Endpoint is an HTTP endpoint an extension exposes under /plugin/<ID>/.
type Endpoint struct {
	Path    string
	Methods []string // GET, POST
	Handler http.HandlerFunc
	Summary string
}

// ServiceDescriptor is a host-owned background service an extension
// contributes. Preferred over self-scheduling when the cadence is
// user-configured.
type ServiceDescriptor struct {
	ID       string
	Name     string
	CronSpec string
	Run      func()
}

// Extension is the interface every extension implements. The host drives
// the lifecycle: Init on enable or reload, Stop on disable, reload, and
// uninstall. Stop must be safe to call repeatedly and from any state.
type Extension interface {
	Descriptor() Descriptor

	// Init wires the extension with its current configuration. It must be
	// idempotent: a second Init with new config internally stops the
	// previous wiring first.
	Init(ctx *Context, cfg map[string]any) error

	// State reports whether the extension is currently active.
	State() bool

	// Form returns the config UI schema and the defaults map that seeds an
	// empty config.
	Form() (Schema, map[string]any)

	// Page returns a read-only UI schema for history/state, or nil.
	Page() Schema

	Commands() []command.Binding
	APIs() []Endpoint
	Services() []ServiceDescriptor

	Stop() error
}

// Settings carries host-level settings extensions may consult.
type Settings struct {
	Timezone *time.Location
	APIToken string
	Proxy    string
}

// ConfigStore is the typed key/value bag persisted per extension prefix.
type ConfigStore interface {
	Get(prefix string) (map[string]any, error)
	Update(prefix string, cfg map[string]any) error
	Delete(prefix string) error
}

// DataStore holds arbitrary JSON blobs per extension under named keys.
type DataStore interface {
	Get(prefix, key string, v any) (bool, error)
	Save(prefix, key string, v any) error
	Delete(prefix, key string) error
	DeleteAll(prefix string) error
	Keys(prefix string) ([]string, error)
}

// Context is the capability bundle the host hands to Init. Extensions act
// on external services only through these façades.
type Context struct {
	Owner string // scheduler/bus/command owner tag, equal to Descriptor().ID

	Logger   Logger
	Notifier Notifier

	Sched    *sched.Scheduler
	Bus      *bus.Bus
	Commands *command.Registry

	Config ConfigStore
	Data   DataStore

	Media         MediaServerRegistry
	Downloads     DownloaderRegistry
	Subscribe     SubscribeChain
	Subscriptions SubscriptionStore
	Download      DownloadChain
	Transfers     TransferHistory
	Sites         SiteRegistry
	Paths         SystemPaths

	HTTP     *httpx.Client
	Settings Settings
}
