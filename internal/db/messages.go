package db

import (
	"context"
	"time"

	"mediasub/internal/models"
)

// CreateMessage persists a new queue envelope in PENDING. The body column
// is never updated afterwards; the table is an append-only dispatch log.
func (s *Store) CreateMessage(ctx context.Context, m *models.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, type, body, send_status)
		VALUES ($1, $2, $3, $4)`,
		m.ID, m.Type, m.Body, models.SendPending)
	return err
}

// MarkMessageStatus advances the delivery status of a message.
func (s *Store) MarkMessageStatus(ctx context.Context, id string, status models.SendStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET send_status = $1, updated_at = NOW() WHERE id = $2`,
		status, id)
	return err
}

// MarkMessageFailure records a failed push together with the retry
// bookkeeping the audit tooling reads.
func (s *Store) MarkMessageFailure(ctx context.Context, id string, nextRetry time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET send_status = $1, retry_count = retry_count + 1, next_retry_time = $2, updated_at = NOW()
		WHERE id = $3`,
		models.SendFailure, nextRetry, id)
	return err
}

// GetMessage reads one envelope row back.
func (s *Store) GetMessage(ctx context.Context, id string) (models.Message, error) {
	var m models.Message
	err := s.db.GetContext(ctx, &m, "SELECT * FROM messages WHERE id = $1", id)
	return m, err
}
