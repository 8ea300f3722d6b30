package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// MarkKeyDisabled durably latches the credential off. Idempotent:
// last-write-wins on the timestamp.
func (s *Store) MarkKeyDisabled(ctx context.Context, keyID, apiKey string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO keys (id, key, disabled_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET key = excluded.key, disabled_at = excluded.disabled_at
	`, keyID, apiKey, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark key disabled: %w", err)
	}
	return nil
}

// IsKeyDisabled reports whether the credential has been latched off. Reads
// durable state directly; another process sharing the database may have set
// the latch since the last call.
func (s *Store) IsKeyDisabled(ctx context.Context, keyID string) (bool, error) {
	var disabledAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT disabled_at FROM keys WHERE id = ?
	`, keyID).Scan(&disabledAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read key state: %w", err)
	}
	return disabledAt.Valid, nil
}
