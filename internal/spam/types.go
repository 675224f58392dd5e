package spam

import (
	"context"
	"errors"
	"time"

	"blastbot/internal/schedule"
	"blastbot/internal/transport"
)

var (
	ErrInvalidCount   = errors.New("total count must be positive")
	ErrInvalidDelay   = errors.New("delay must be positive")
	ErrEmptyMessage   = errors.New("message is empty")
	ErrAlreadyRunning = errors.New("task is already running")
	ErrNotPaused      = errors.New("task is not paused")
)

// Messenger is the slice of the transport the service needs: one-shot
// delivery plus best-effort name resolution.
type Messenger interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string) error
	ChatName(ctx context.Context, chatID int64) (string, error)
}

// Reporter receives user-facing lifecycle reports, fire-and-forget.
type Reporter interface {
	Report(text string)
}

// CreateRequest describes one new broadcast.
type CreateRequest struct {
	ChatID     int64
	Message    string
	Delay      time.Duration
	TotalCount int

	// ScheduledMinute optionally pins sends to a minute of day (0..1439).
	ScheduledMinute *int
	// Weekdays optionally restricts sends to given days (zero = every day).
	Weekdays schedule.WeekdaySet
}

// TaskStatus is one row of the status report.
type TaskStatus struct {
	TaskID     string
	ChatID     int64
	Status     string
	SentCount  int
	TotalCount int
	NextDue    time.Time
	Running    bool
}
