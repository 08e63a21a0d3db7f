// ABOUTME: Dynamic HTTP route registry for extension-exposed endpoints.
// ABOUTME: Routes are keyed by path; re-registration replaces, stale routes never linger.

package host

import (
	"net/http"
	"sort"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/helmsmanhq/helmsman/extensions/core"
)

// MountPrefix is where extension endpoints are served.
const MountPrefix = "/plugin"

type routeEntry struct {
	owner    string
	endpoint core.Endpoint
	methods  map[string]bool
}

// RouteRegistry holds the live extension routes. The chi mux consults it
// per request, so routes can be added and removed on reload without
// restarting the server.
type RouteRegistry struct {
	mu     sync.RWMutex
	routes map[string]routeEntry // full path -> entry
}

func NewRouteRegistry() *RouteRegistry {
	return &RouteRegistry{routes: make(map[string]routeEntry)}
}

// fullPath joins the mount prefix, owner, and endpoint path.
func fullPath(owner, path string) string {
	if len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	return MountPrefix + "/" + owner + "/" + path
}

// Set registers an endpoint, removing any existing route at the same path
// first. Replacement is the reload pattern: routes are keyed by path.
func (rr *RouteRegistry) Set(owner string, ep core.Endpoint) {
	methods := make(map[string]bool, len(ep.Methods))
	for _, m := range ep.Methods {
		methods[m] = true
	}
	if len(methods) == 0 {
		methods[http.MethodGet] = true
	}

	full := fullPath(owner, ep.Path)
	rr.mu.Lock()
	delete(rr.routes, full)
	rr.routes[full] = routeEntry{owner: owner, endpoint: ep, methods: methods}
	rr.mu.Unlock()
}

// RemoveOwner drops every route held by an owner.
func (rr *RouteRegistry) RemoveOwner(owner string) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	for path, entry := range rr.routes {
		if entry.owner == owner {
			delete(rr.routes, path)
		}
	}
}

// Paths lists the registered route paths, sorted.
func (rr *RouteRegistry) Paths() []string {
	rr.mu.RLock()
	defer rr.mu.RUnlock()
	paths := make([]string, 0, len(rr.routes))
	for p := range rr.routes {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// OwnerPaths lists the route paths held by one owner.
func (rr *RouteRegistry) OwnerPaths(owner string) []string {
	rr.mu.RLock()
	defer rr.mu.RUnlock()
	var paths []string
	for p, entry := range rr.routes {
		if entry.owner == owner {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths
}

// ServeHTTP dispatches to the registered handler for the request path.
func (rr *RouteRegistry) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rr.mu.RLock()
	entry, ok := rr.routes[r.URL.Path]
	rr.mu.RUnlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	if !entry.methods[r.Method] {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		w.Write([]byte(`{"success":false,"message":"method not allowed"}`))
		return
	}
	entry.endpoint.Handler(w, r)
}

// Mount attaches the registry to a chi router under the plugin prefix.
func (rr *RouteRegistry) Mount(r chi.Router) {
	r.Handle(MountPrefix+"/*", rr)
}
