package storage

import (
	"errors"
	"time"

	"blastbot/internal/schedule"
)

var (
	ErrNotFound   = errors.New("task not found")
	ErrTaskExists = errors.New("task id already exists")
)

type Status string

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
)

// SpamTask is one scheduled broadcast. TaskID, ChatID, Message, Delay and
// TotalCount are immutable once the row exists; the executor mutates only
// SentCount/LastSentTime, and pause/resume mutates Status.
type SpamTask struct {
	TaskID     string
	ChatID     int64
	Message    string
	Delay      time.Duration // whole seconds on disk
	TotalCount int
	SentCount  int
	StartTime  time.Time
	Status     Status
	// LastSentTime is zero until the first successful send.
	LastSentTime time.Time

	// ScheduledMinute is the minute of day (0..1439) sends must align to;
	// nil means "same time as the previous send".
	ScheduledMinute *int
	// Weekdays restricts sends to given days; the zero set allows every day.
	Weekdays schedule.WeekdaySet
}

// Remaining reports how many sends are still owed.
func (t SpamTask) Remaining() int { return t.TotalCount - t.SentCount }

// TaskFilter narrows Tasks(). Zero values mean "no filter".
type TaskFilter struct {
	Status Status
	ChatID int64
}

// Config configures the store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}
