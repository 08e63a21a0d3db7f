// ABOUTME: Typed config blob persistence per extension prefix.
// ABOUTME: Atomic full-replace updates over the plugin_config table.

package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// ConfigStore persists one opaque JSON config map per extension prefix.
// Updates are full replaces: either the new map is visible to future Get
// calls or none of it is.
type ConfigStore struct {
	db *sql.DB
}

func NewConfigStore(s *Store) *ConfigStore {
	return &ConfigStore{db: s.db}
}

// Get returns the persisted config for a prefix. A missing prefix yields
// an empty map, not an error.
func (c *ConfigStore) Get(prefix string) (map[string]any, error) {
	var raw string
	err := c.db.QueryRow(`SELECT value FROM plugin_config WHERE prefix = ?`, prefix).Scan(&raw)
	if err == sql.ErrNoRows {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get config %s: %w", prefix, err)
	}

	var cfg map[string]any
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("corrupt config for %s: %w", prefix, err)
	}
	return cfg, nil
}

// Update replaces the stored config atomically with a single upsert.
func (c *ConfigStore) Update(prefix string, cfg map[string]any) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config %s: %w", prefix, err)
	}
	_, err = c.db.Exec(`
		INSERT INTO plugin_config (prefix, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(prefix) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, prefix, string(raw))
	if err != nil {
		return fmt.Errorf("update config %s: %w", prefix, err)
	}
	return nil
}

// Delete wipes the stored config for a prefix.
func (c *ConfigStore) Delete(prefix string) error {
	_, err := c.db.Exec(`DELETE FROM plugin_config WHERE prefix = ?`, prefix)
	return err
}
