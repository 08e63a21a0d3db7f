// ABOUTME: Filesystem layout of the host: config path and per-extension data paths.
// ABOUTME: Data paths are created on first use under <config>/plugins/<prefix>.

package host

import (
	"log"
	"os"
	"path/filepath"
	"time"
)

// Paths implements core.SystemPaths over a config root directory.
type Paths struct {
	configPath string
	loc        *time.Location
}

// NewPaths creates the path layout rooted at configPath.
func NewPaths(configPath string, loc *time.Location) *Paths {
	if loc == nil {
		loc = time.Local
	}
	return &Paths{configPath: configPath, loc: loc}
}

func (p *Paths) ConfigPath() string {
	return p.configPath
}

// DataPath returns the extension's data directory, creating it if needed.
func (p *Paths) DataPath(prefix string) string {
	dir := filepath.Join(p.configPath, "plugins", prefix)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("failed to create data path %s: %v", dir, err)
	}
	return dir
}

func (p *Paths) Timezone() *time.Location {
	return p.loc
}
