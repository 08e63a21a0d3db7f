// ABOUTME: Host capability façade implementations handed to extensions.
// ABOUTME: Logger, notifier fan-out, and in-memory registries populated by the outer host.

package host

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/helmsmanhq/helmsman/extensions/core"
)

// prefixLogger is the per-extension logger façade over the process log.
type prefixLogger struct {
	prefix string
}

// NewLogger returns a logger that prefixes every line with the extension id.
func NewLogger(extID string) core.Logger {
	return &prefixLogger{prefix: extID}
}

func (l *prefixLogger) Debugf(format string, args ...any) { l.printf("DEBUG", format, args...) }
func (l *prefixLogger) Infof(format string, args ...any)  { l.printf("INFO", format, args...) }
func (l *prefixLogger) Warnf(format string, args ...any)  { l.printf("WARN", format, args...) }
func (l *prefixLogger) Errorf(format string, args ...any) { l.printf("ERROR", format, args...) }

func (l *prefixLogger) printf(level, format string, args ...any) {
	log.Printf("["+l.prefix+"] "+level+" "+format, args...)
}

// NotifySink receives every posted notification. The chat gateway and the
// host's own channels register as sinks.
type NotifySink interface {
	Notify(msg core.Notification)
}

// Notifier fans notifications out to registered sinks. Posting never
// blocks on a slow sink; each sink runs behind the poster's goroutine.
type Notifier struct {
	mu    sync.RWMutex
	sinks []NotifySink
}

func NewNotifier() *Notifier {
	return &Notifier{}
}

// AddSink registers a delivery sink.
func (n *Notifier) AddSink(s NotifySink) {
	n.mu.Lock()
	n.sinks = append(n.sinks, s)
	n.mu.Unlock()
}

// Post delivers a notification to every sink and the process log.
func (n *Notifier) Post(msg core.Notification) {
	log.Printf("notify [%s] %s: %s", msg.Kind, msg.Title, msg.Text)
	n.mu.RLock()
	sinks := append([]NotifySink(nil), n.sinks...)
	n.mu.RUnlock()
	for _, s := range sinks {
		s.Notify(msg)
	}
}

// Facade is the registry bundle the outer host populates with its adapter
// instances. Lookups never error for expected misses; absent entries are
// simply missing from results.
type Facade struct {
	mu            sync.RWMutex
	mediaServer   map[string]core.MediaServer
	downloaders   map[string]core.Downloader
	sites         map[string]core.Site
	subscribe     core.SubscribeChain
	download      core.DownloadChain
	transfers     core.TransferHistory
	subscriptions core.SubscriptionStore
}

func NewFacade() *Facade {
	return &Facade{
		mediaServer:   make(map[string]core.MediaServer),
		downloaders:   make(map[string]core.Downloader),
		sites:         make(map[string]core.Site),
		subscriptions: NewMemSubscriptions(),
	}
}

// SetSubscriptions installs the host's subscription record store.
func (f *Facade) SetSubscriptions(s core.SubscriptionStore) {
	f.mu.Lock()
	f.subscriptions = s
	f.mu.Unlock()
}

// Subscriptions returns the installed subscription record store.
func (f *Facade) Subscriptions() core.SubscriptionStore {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.subscriptions
}

// AddMediaServer registers a media server adapter.
func (f *Facade) AddMediaServer(s core.MediaServer) {
	f.mu.Lock()
	f.mediaServer[s.Name()] = s
	f.mu.Unlock()
}

// Servers implements core.MediaServerRegistry.
func (f *Facade) Servers(names []string, kind string) map[string]core.MediaServer {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]core.MediaServer)
	for name, s := range f.mediaServer {
		if kind != "" && s.Kind() != kind {
			continue
		}
		if len(names) > 0 && !contains(names, name) {
			continue
		}
		out[name] = s
	}
	return out
}

// AddDownloader registers a download client adapter.
func (f *Facade) AddDownloader(d core.Downloader) {
	f.mu.Lock()
	f.downloaders[d.Name()] = d
	f.mu.Unlock()
}

// Downloaders implements core.DownloaderRegistry.
func (f *Facade) Downloaders(kind string) map[string]core.Downloader {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]core.Downloader)
	for name, d := range f.downloaders {
		if kind != "" && d.Kind() != kind {
			continue
		}
		out[name] = d
	}
	return out
}

// IsKind implements core.DownloaderRegistry.
func (f *Facade) IsKind(kind string, d core.Downloader) bool {
	return d != nil && d.Kind() == kind
}

// AddSite registers a site with its stored cookie.
func (f *Facade) AddSite(s core.Site) {
	f.mu.Lock()
	f.sites[s.Domain] = s
	f.mu.Unlock()
}

// ByDomain implements core.SiteRegistry.
func (f *Facade) ByDomain(domain string) (*core.Site, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.sites[domain]
	if !ok {
		return nil, false
	}
	return &s, true
}

// SetChains installs the host's subscribe and download chains.
func (f *Facade) SetChains(sub core.SubscribeChain, dl core.DownloadChain, th core.TransferHistory) {
	f.mu.Lock()
	f.subscribe = sub
	f.download = dl
	f.transfers = th
	f.mu.Unlock()
}

// SubscribeChain returns the installed chain, or a no-op one.
func (f *Facade) SubscribeChain() core.SubscribeChain {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.subscribe == nil {
		return noopSubscribe{}
	}
	return f.subscribe
}

// DownloadChain returns the installed chain, or a no-op one.
func (f *Facade) DownloadChain() core.DownloadChain {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.download == nil {
		return noopDownload{}
	}
	return f.download
}

// TransferHistory returns the installed history, or an empty one.
func (f *Facade) TransferHistory() core.TransferHistory {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.transfers == nil {
		return noopTransfers{}
	}
	return f.transfers
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type noopSubscribe struct{}

func (noopSubscribe) Exists(core.MediaInfo) bool { return false }
func (noopSubscribe) Add(ctx context.Context, title string, year int, kind core.MediaKind, ids core.ExternalIDs, existOK bool, username string) error {
	return nil
}

type noopDownload struct{}

func (noopDownload) MissingInfo(ctx context.Context, meta core.MetaInfo, media core.MediaInfo) (bool, []core.SeasonGap, error) {
	return false, nil, nil
}

type noopTransfers struct{}

func (noopTransfers) ListSince(time.Time) ([]core.TransferRecord, error) { return nil, nil }
