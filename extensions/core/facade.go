// ABOUTME: Host capability façades consumed by extensions.
// ABOUTME: Narrow interfaces over the host's media, download, subscription, and site subsystems.

package core

import (
	"context"
	"time"
)

// Logger is the per-extension logger façade.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// NotifyKind is the closed set of notification categories.
type NotifyKind string

const (
	NotifyPlugin      NotifyKind = "Plugin"
	NotifyManual      NotifyKind = "Manual"
	NotifySiteMessage NotifyKind = "SiteMessage"
	NotifyMediaServer NotifyKind = "MediaServer"
	NotifySubscribe   NotifyKind = "Subscribe"
	NotifyDownload    NotifyKind = "Download"
)

// Notification is a message posted through the host's notification fan-out.
type Notification struct {
	Kind     NotifyKind
	Title    string
	Text     string
	ImageURL string
	Channel  string
	UserID   string
}

// Notifier posts messages through the host's notification channels.
type Notifier interface {
	Post(msg Notification)
}

// MediaKind classifies media as movie or series.
type MediaKind string

const (
	MediaMovie MediaKind = "movie"
	MediaTV    MediaKind = "tv"
)

// ExternalIDs carries the external identifiers of a media item.
type ExternalIDs struct {
	TMDBID int
	IMDBID string
	TVDBID int
}

// MediaInfo describes a recognized media item.
type MediaInfo struct {
	Title    string
	Year     int
	Kind     MediaKind
	Category string // secondary category, e.g. 动漫
	IDs      ExternalIDs
	Season   int
}

// MetaInfo is the parsed identification metadata of a release name.
type MetaInfo struct {
	Name         string
	Season       int
	Episodes     []int
	Resolution   string
	Quality      string
	ReleaseGroup string
	Effects      []string // HDR, DV, Atmos
}

// ServerConfig exposes a media server's connection settings.
type ServerConfig struct {
	Host   string
	APIKey string
	User   string
}

// MediaItem is one library item of a media server.
type MediaItem struct {
	ID    string
	Title string
	Path  string
}

// MediaServer is an instance-level handle to one configured media server.
type MediaServer interface {
	Name() string
	Kind() string // emby, jellyfin, plex
	Config() ServerConfig
	RefreshLibrary(ctx context.Context) error
	Items(ctx context.Context, parentID string) ([]MediaItem, error)
}

// MediaServerRegistry lists configured media servers, optionally filtered
// by name and type. Missing names are simply absent from the result.
type MediaServerRegistry interface {
	Servers(names []string, kind string) map[string]MediaServer
}

// Downloader is an instance-level handle to one download client.
type Downloader interface {
	Name() string
	Kind() string // qbittorrent, transmission
	AddTorrent(ctx context.Context, content []byte, downloadDir string, paused bool, cookie string) (string, error)
}

// DownloaderRegistry lists configured download clients.
type DownloaderRegistry interface {
	Downloaders(kind string) map[string]Downloader
	IsKind(kind string, d Downloader) bool
}

// SubscribeChain is the host's subscription subsystem.
type SubscribeChain interface {
	Exists(media MediaInfo) bool
	Add(ctx context.Context, title string, year int, kind MediaKind, ids ExternalIDs, existOK bool, username string) error
}

// Subscription is one subscription record of the host, as exposed to
// extensions that patch filter fields.
type Subscription struct {
	ID           int64
	Name         string
	Year         int
	TMDBID       int
	Season       int
	Username     string
	Include      string
	Exclude      string
	Sites        []string
	Resolution   string
	Quality      string
	Effect       string
	ReleaseGroup string
}

// SubscriptionStore reads and patches subscription records. Update applies
// only the given fields; the host persists the rest untouched.
type SubscriptionStore interface {
	Get(id int64) (*Subscription, bool)
	Find(tmdbID, season int) (*Subscription, bool)
	Update(id int64, fields map[string]any) error
}

// SeasonGap describes missing episodes of one season.
type SeasonGap struct {
	Season   int
	Episodes []int
}

// DownloadChain is the host's download/transfer subsystem.
type DownloadChain interface {
	MissingInfo(ctx context.Context, meta MetaInfo, media MediaInfo) (complete bool, gaps []SeasonGap, err error)
}

// TransferRecord is one completed transfer known to the host.
type TransferRecord struct {
	ID       int64
	Title    string
	Path     string
	Date     time.Time
	TMDBID   int
	Season   int
	Episode  int
}

// TransferHistory reads the host's transfer history.
type TransferHistory interface {
	ListSince(t time.Time) ([]TransferRecord, error)
}

// Site is a tracker site with its stored cookie.
type Site struct {
	Name      string
	Domain    string
	Cookie    string
	UserAgent string
	Proxy     bool
}

// SiteRegistry resolves sites by domain. Unknown domains return false, not
// an error.
type SiteRegistry interface {
	ByDomain(domain string) (*Site, bool)
}

// SystemPaths exposes the host's filesystem layout.
type SystemPaths interface {
	ConfigPath() string
	DataPath(prefix string) string
	Timezone() *time.Location
}
