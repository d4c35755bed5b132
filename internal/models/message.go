package models

import "time"

// SendStatus tracks one delivery attempt of a persisted message. It moves
// PENDING -> SENDING -> SUCCESS or FAILURE and never backwards.
type SendStatus string

const (
	SendPending SendStatus = "PENDING"
	SendSending SendStatus = "SENDING"
	SendSuccess SendStatus = "SUCCESS"
	SendFailure SendStatus = "FAILURE"
)

// Message is the durable copy of a queue envelope. Rows are append-only:
// the body never changes after creation and rows are not deleted in normal
// operation, so the table doubles as a dispatch audit log.
type Message struct {
	ID            string     `db:"id"`
	Type          string     `db:"type"`
	Body          string     `db:"body"`
	SendStatus    SendStatus `db:"send_status"`
	RetryCount    int        `db:"retry_count"`
	NextRetryTime *time.Time `db:"next_retry_time"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
}
