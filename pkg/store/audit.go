package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ActionRecord is one row of the append-only audit log.
type ActionRecord struct {
	ID        int64           `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Kind      string          `json:"action_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
}

// LogAction appends one audit record. The log is append-only; concurrent
// writers are safe under SQLite's own locking.
func (s *Store) LogAction(ctx context.Context, kind string, payload, result map[string]any) error {
	var payloadJSON, resultJSON any
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		payloadJSON = string(b)
	}
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		resultJSON = string(b)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO actions (timestamp, action_type, payload, result_json)
		VALUES (?, ?, ?, ?)
	`, time.Now().UTC(), kind, payloadJSON, resultJSON)
	if err != nil {
		return fmt.Errorf("failed to append action: %w", err)
	}
	return nil
}

// RecentActions returns the newest audit records, newest first.
func (s *Store) RecentActions(ctx context.Context, limit int) ([]ActionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, action_type, payload, result_json
		FROM actions ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query actions: %w", err)
	}
	defer rows.Close()

	var records []ActionRecord
	for rows.Next() {
		var r ActionRecord
		var payload, result []byte
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.Kind, &payload, &result); err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		r.Payload = payload
		r.Result = result
		records = append(records, r)
	}
	return records, rows.Err()
}
