package models

import (
	"errors"
	"time"
)

// TaskStatus is the lifecycle state of a download task.
type TaskStatus string

const (
	TaskPending     TaskStatus = "PENDING"
	TaskWaiting     TaskStatus = "WAITING"
	TaskDownloading TaskStatus = "DOWNLOADING"
	TaskPaused      TaskStatus = "PAUSED"
	TaskCompleted   TaskStatus = "COMPLETED"
	TaskFailed      TaskStatus = "FAILED"
	TaskDeleted     TaskStatus = "DELETED"
	TaskUnsupported TaskStatus = "UNSUPPORTED"
)

// ErrIllegalTransition is returned when a status change is not in the
// transition table. The caller must leave the row untouched.
var ErrIllegalTransition = errors.New("illegal task status transition")

// taskTransitions is the single source of truth for legal status changes.
// UNSUPPORTED is entered directly from extraction, before a download is
// ever attempted, which is why it only appears as a target from the two
// pre-download states. DELETED is terminal.
var taskTransitions = map[TaskStatus]map[TaskStatus]bool{
	TaskPending: {
		TaskDownloading: true,
		TaskFailed:      true,
		TaskDeleted:     true,
		TaskUnsupported: true,
	},
	TaskWaiting: {
		TaskDownloading: true,
		TaskFailed:      true,
		TaskDeleted:     true,
		TaskUnsupported: true,
	},
	TaskDownloading: {
		TaskCompleted: true,
		TaskFailed:    true,
		TaskPaused:    true,
	},
	TaskPaused: {
		TaskDownloading: true,
		TaskDeleted:     true,
	},
	TaskFailed: {
		TaskPending: true,
		TaskDeleted: true,
	},
	TaskCompleted: {
		TaskDeleted: true,
	},
	TaskDeleted:     {},
	TaskUnsupported: {},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to TaskStatus) bool {
	next, ok := taskTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// IsKnownStatus reports whether the value is one of the defined states.
func IsKnownStatus(s TaskStatus) bool {
	_, ok := taskTransitions[s]
	return ok
}

// IsTerminal reports whether no further transition is possible.
func (s TaskStatus) IsTerminal() bool {
	next, ok := taskTransitions[s]
	return ok && len(next) == 0
}

// Task is the durable record of one download attempt's lifecycle. One task
// maps to exactly one video; a retry reuses the row instead of creating a
// new one.
type Task struct {
	ID             int64      `db:"id"`
	VideoID        int64      `db:"video_id"`
	Status         TaskStatus `db:"status"`
	DownloadedSize int64      `db:"downloaded_size"`
	TotalSize      int64      `db:"total_size"`
	Speed          string     `db:"speed"`
	Eta            string     `db:"eta"`
	Percent        string     `db:"percent"`
	Retry          int        `db:"retry"`
	ErrorMessage   *string    `db:"error_message"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}
