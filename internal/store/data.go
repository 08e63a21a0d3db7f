// ABOUTME: Free-form JSON blob persistence per (extension prefix, key).
// ABOUTME: No schema enforced; extensions own their list layouts.

package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// DataStore holds arbitrary JSON values per extension under named keys.
type DataStore struct {
	db *sql.DB
}

func NewDataStore(s *Store) *DataStore {
	return &DataStore{db: s.db}
}

// Get unmarshals the stored value for (prefix, key) into v. Returns false
// without error when the key is absent.
func (d *DataStore) Get(prefix, key string, v any) (bool, error) {
	var raw string
	err := d.db.QueryRow(`SELECT value FROM plugin_data WHERE prefix = ? AND key = ?`, prefix, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get data %s/%s: %w", prefix, key, err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("decode data %s/%s: %w", prefix, key, err)
	}
	return true, nil
}

// Save stores a JSON-serializable value under (prefix, key).
func (d *DataStore) Save(prefix, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal data %s/%s: %w", prefix, key, err)
	}
	_, err = d.db.Exec(`
		INSERT INTO plugin_data (prefix, key, value, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(prefix, key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, prefix, key, string(raw))
	if err != nil {
		return fmt.Errorf("save data %s/%s: %w", prefix, key, err)
	}
	return nil
}

// Delete removes one key for an extension.
func (d *DataStore) Delete(prefix, key string) error {
	_, err := d.db.Exec(`DELETE FROM plugin_data WHERE prefix = ? AND key = ?`, prefix, key)
	return err
}

// DeleteAll wipes every key for an extension.
func (d *DataStore) DeleteAll(prefix string) error {
	_, err := d.db.Exec(`DELETE FROM plugin_data WHERE prefix = ?`, prefix)
	return err
}

// Keys lists the stored keys for an extension in insertion order.
func (d *DataStore) Keys(prefix string) ([]string, error) {
	rows, err := d.db.Query(`SELECT key FROM plugin_data WHERE prefix = ? ORDER BY rowid`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
