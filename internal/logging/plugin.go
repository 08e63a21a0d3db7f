// ABOUTME: Plugin detection for request logging.
// ABOUTME: Determines which extension a request belongs to based on URL path.

package logging

import "strings"

// PluginFromPath extracts the extension id from a /plugin/<id>/... path.
// Returns "" for paths outside the plugin mount.
func PluginFromPath(path string) string {
	const mount = "/plugin/"
	if !strings.HasPrefix(path, mount) {
		return ""
	}
	rest := strings.TrimPrefix(path, mount)
	if i := strings.IndexByte(rest, '/'); i > 0 {
		return rest[:i]
	}
	return rest
}
