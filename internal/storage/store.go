package storage

import "context"

// Store is the persistence API used by the spam service. Every call is
// atomic and durable on return; there are no partial writes to tolerate.
type Store interface {
	CreateTask(ctx context.Context, t SpamTask) error
	Task(ctx context.Context, taskID string) (SpamTask, error)
	Tasks(ctx context.Context, f TaskFilter) ([]SpamTask, error)

	// RecordProgress sets sent_count and stamps last_sent_time. sent_count
	// is monotonic: a write lower than or equal to the stored value is a
	// no-op, as is a missing row (the task may have been stopped and
	// deleted while the send was in flight).
	RecordProgress(ctx context.Context, taskID string, sentCount int) error
	SetTaskStatus(ctx context.Context, taskID string, st Status) error

	DeleteTask(ctx context.Context, taskID string) error
	DeleteTasksByChat(ctx context.Context, chatID int64) error

	// AllocateTaskID returns the smallest positive integer (as text) not
	// used by any existing task. Non-numeric historical ids are skipped by
	// the scan but never produced.
	AllocateTaskID(ctx context.Context) (string, error)

	GetConfig(ctx context.Context, key, def string) (string, error)
	SetConfig(ctx context.Context, key, value string) error

	Close() error
}
