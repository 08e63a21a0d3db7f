// ABOUTME: Request log storage operations for plugin-scoped HTTP routes.
// ABOUTME: Handles inserting and querying HTTP request logs.

package store

import "time"

// RequestLog represents an HTTP request log entry
type RequestLog struct {
	ID         int64
	Timestamp  time.Time
	PluginID   string
	Method     string
	Path       string
	StatusCode int
	DurationMs int
	IPAddress  string
	Error      string
}

// LogRequest inserts a request log entry
func (s *Store) LogRequest(entry *RequestLog) error {
	_, err := s.db.Exec(`
		INSERT INTO request_logs (plugin_id, method, path, status_code, duration_ms, ip_address, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entry.PluginID, entry.Method, entry.Path, entry.StatusCode, entry.DurationMs, entry.IPAddress, entry.Error)
	return err
}

// RequestLogQuery represents filters for request logs
type RequestLogQuery struct {
	Limit      int
	Offset     int
	PluginID   string
	Method     string
	PathPrefix string
	StatusCode int
}

// GetRequestLogs retrieves request logs with filtering, newest first
func (s *Store) GetRequestLogs(q *RequestLogQuery) ([]*RequestLog, error) {
	query := `SELECT id, timestamp, COALESCE(plugin_id, ''), method, path, status_code, duration_ms,
	          COALESCE(ip_address, ''), COALESCE(error, '')
	          FROM request_logs WHERE 1=1`
	args := []any{}

	if q.PluginID != "" {
		query += " AND plugin_id = ?"
		args = append(args, q.PluginID)
	}
	if q.Method != "" {
		query += " AND method = ?"
		args = append(args, q.Method)
	}
	if q.PathPrefix != "" {
		query += ` AND path LIKE ? ESCAPE '\'`
		args = append(args, escapeLike(q.PathPrefix)+"%")
	}
	if q.StatusCode > 0 {
		query += " AND status_code = ?"
		args = append(args, q.StatusCode)
	}

	query += " ORDER BY timestamp DESC"

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, q.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*RequestLog
	for rows.Next() {
		var entry RequestLog
		if err := rows.Scan(&entry.ID, &entry.Timestamp, &entry.PluginID, &entry.Method, &entry.Path,
			&entry.StatusCode, &entry.DurationMs, &entry.IPAddress, &entry.Error); err != nil {
			return nil, err
		}
		logs = append(logs, &entry)
	}
	return logs, rows.Err()
}
