package spam

import (
	"context"
	"fmt"
	"time"

	"blastbot/internal/schedule"
	"blastbot/internal/storage"
	"blastbot/internal/transport"
	"blastbot/pkg/logx"
)

// run is the body of one execution unit. It loops: wait until due, send
// once, persist progress, compute the next due time. It exits on
// completion, cancellation or delivery failure, deregistering itself on
// every path. Cancellation is observed only at suspension points; a send
// already in flight completes.
func (s *Service) run(ctx context.Context, t storage.SpamTask, cancel <-chan struct{}) {
	defer s.rt.removeIf(t.ChatID, t.TaskID, cancel)

	log := s.log.With(logx.String("task", t.TaskID), logx.Int64("chat", t.ChatID))
	chatName := s.chatName(ctx, t.ChatID)

	var due time.Time
	if t.LastSentTime.IsZero() {
		due = schedule.FirstDue(t.ScheduledMinute, t.Weekdays, time.Now())
	} else {
		// Recovered or resumed mid-run: continue from the persisted send.
		due = schedule.NextDue(t.LastSentTime, t.Delay, t.Weekdays)
	}

	for i := t.SentCount + 1; i <= t.TotalCount; i++ {
		if !s.waitUntil(ctx, due, cancel) {
			log.Debug("unit cancelled while waiting", logx.Int("next_send", i))
			return
		}
		// Re-check at the loop head. The cancel channel identifies THIS
		// unit, so a replacement unit registered for the same pair (pause
		// then immediate resume) does not mask the cancellation.
		select {
		case <-cancel:
			log.Debug("unit cancelled", logx.Int("next_send", i))
			return
		default:
		}

		if err := s.messenger.SendText(ctx, transport.ChatTarget{ChatID: t.ChatID}, t.Message); err != nil {
			// Delivery failures are not retried: the task fails, its row is
			// removed, and the user must re-issue it.
			log.Warn("delivery failed", logx.Int("send", i), logx.Err(err))
			if derr := s.store.DeleteTask(ctx, t.TaskID); derr != nil {
				log.Error("failed deleting failed task", logx.Err(derr))
			}
			s.reporter.Report(fmt.Sprintf(
				"❌ Broadcast %s failed!\n👤 Chat: %s\n📊 Sent: %d/%d\n⚠️ Error: %v",
				t.TaskID, chatName, i-1, t.TotalCount, err))
			return
		}

		sentAt := time.Now()
		if err := s.store.RecordProgress(ctx, t.TaskID, i); err != nil {
			log.Error("failed persisting progress", logx.Int("sent", i), logx.Err(err))
		}
		s.reporter.Report(fmt.Sprintf(
			"📤 Sent %d/%d\n👤 Chat: %s\n💬 Text: %s\n⏱ Delay: %s",
			i, t.TotalCount, chatName, t.Message, schedule.FormatDelay(t.Delay)))

		if i == t.TotalCount {
			if err := s.store.DeleteTask(ctx, t.TaskID); err != nil {
				log.Error("failed deleting completed task", logx.Err(err))
			}
			log.Info("broadcast completed", logx.Int("sent", i))
			s.reporter.Report(fmt.Sprintf(
				"✅ Broadcast %s completed!\n👤 Chat: %s\n📊 Sent: %d messages",
				t.TaskID, chatName, t.TotalCount))
			return
		}

		due = schedule.NextDue(sentAt, t.Delay, t.Weekdays)
	}
}

// waitUntil suspends the unit until due. Reports false when the unit was
// cancelled (or the service shut down) before the due time arrived.
func (s *Service) waitUntil(ctx context.Context, due time.Time, cancel <-chan struct{}) bool {
	d := time.Until(due)
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-cancel:
		return false
	case <-ctx.Done():
		return false
	}
}

// chatName resolves a display name for reports, best-effort.
func (s *Service) chatName(ctx context.Context, chatID int64) string {
	name, err := s.messenger.ChatName(ctx, chatID)
	if err != nil || name == "" {
		return fmt.Sprintf("Chat %d", chatID)
	}
	return name
}
