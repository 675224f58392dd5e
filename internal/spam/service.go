package spam

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"blastbot/internal/schedule"
	"blastbot/internal/storage"
	"blastbot/pkg/logx"
)

// Service is the broadcast engine for one account. It owns the Runtime
// registry, starts/cancels execution units, and keeps the store and the
// registry in step for every operation.
type Service struct {
	store     storage.Store
	messenger Messenger
	reporter  Reporter
	log       logx.Logger

	rt *Runtime

	mu        sync.Mutex
	runCtx    context.Context
	runCancel context.CancelFunc
	janitor   *cron.Cron
}

func New(store storage.Store, m Messenger, rep Reporter, log logx.Logger) *Service {
	return &Service{
		store:     store,
		messenger: m,
		reporter:  rep,
		log:       log,
		rt:        NewRuntime(),
	}
}

// Start recovers persisted active tasks into fresh execution units and
// schedules the hourly janitor sweep.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.runCancel != nil {
		s.mu.Unlock()
		return nil
	}
	rctx, cancel := context.WithCancel(context.Background())
	s.runCtx = rctx
	s.runCancel = cancel

	s.janitor = cron.New()
	_, err := s.janitor.AddFunc("@hourly", func() { s.Sweep(rctx) })
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.janitor.Start()

	return s.Recover(ctx)
}

// Stop cancels every unit and halts the janitor. Persisted state is left
// untouched so the tasks resume after the next start.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	cancel := s.runCancel
	s.runCancel = nil
	jan := s.janitor
	s.janitor = nil
	s.mu.Unlock()

	if jan != nil {
		<-jan.Stop().Done()
	}
	dones := s.rt.CancelAll()
	if cancel != nil {
		cancel() // aborts in-flight sends so the drain below is bounded
	}
	waitUnits(dones)
	s.log.Info("spam service stopped", logx.Int("cancelled_units", len(dones)))
}

// Create validates, persists and starts one new broadcast, returning the
// stored task.
func (s *Service) Create(ctx context.Context, req CreateRequest) (storage.SpamTask, error) {
	if req.TotalCount <= 0 {
		return storage.SpamTask{}, ErrInvalidCount
	}
	if req.Delay <= 0 {
		return storage.SpamTask{}, ErrInvalidDelay
	}
	if strings.TrimSpace(req.Message) == "" {
		return storage.SpamTask{}, ErrEmptyMessage
	}

	id, err := s.store.AllocateTaskID(ctx)
	if err != nil {
		return storage.SpamTask{}, err
	}
	t := storage.SpamTask{
		TaskID:          id,
		ChatID:          req.ChatID,
		Message:         req.Message,
		Delay:           req.Delay,
		TotalCount:      req.TotalCount,
		StartTime:       time.Now(),
		Status:          storage.StatusActive,
		ScheduledMinute: req.ScheduledMinute,
		Weekdays:        req.Weekdays,
	}
	if err := s.store.CreateTask(ctx, t); err != nil {
		return storage.SpamTask{}, err
	}
	if err := s.startUnit(t); err != nil {
		// Registry collision for a fresh id means the store and registry
		// disagree; drop the row rather than leave an orphan.
		_ = s.store.DeleteTask(ctx, id)
		return storage.SpamTask{}, err
	}
	s.log.Info("broadcast created",
		logx.String("task", t.TaskID), logx.Int64("chat", t.ChatID),
		logx.Int("total", t.TotalCount), logx.Duration("delay", t.Delay))
	return t, nil
}

// StopTask cancels and deletes one broadcast. It waits for the outgoing
// unit to exit so a send already in flight cannot write to the row after
// its deletion.
func (s *Service) StopTask(ctx context.Context, taskID string) (storage.SpamTask, error) {
	t, err := s.store.Task(ctx, taskID)
	if err != nil {
		return storage.SpamTask{}, err
	}
	s.cancelAndDrain(taskID)
	if err := s.store.DeleteTask(ctx, taskID); err != nil {
		return storage.SpamTask{}, err
	}
	s.log.Info("broadcast stopped", logx.String("task", taskID))
	return t, nil
}

// StopChat cancels and deletes every broadcast targeting chatID,
// returning how many rows were removed.
func (s *Service) StopChat(ctx context.Context, chatID int64) (int, error) {
	tasks, err := s.store.Tasks(ctx, storage.TaskFilter{ChatID: chatID})
	if err != nil {
		return 0, err
	}
	waitUnits(s.rt.CancelChat(chatID))
	if err := s.store.DeleteTasksByChat(ctx, chatID); err != nil {
		return 0, err
	}
	if len(tasks) > 0 {
		s.log.Info("broadcasts stopped for chat",
			logx.Int64("chat", chatID), logx.Int("count", len(tasks)))
	}
	return len(tasks), nil
}

// StopAll cancels and deletes every broadcast of the account.
func (s *Service) StopAll(ctx context.Context) (int, error) {
	tasks, err := s.store.Tasks(ctx, storage.TaskFilter{})
	if err != nil {
		return 0, err
	}
	waitUnits(s.rt.CancelAll())
	for _, t := range tasks {
		if err := s.store.DeleteTask(ctx, t.TaskID); err != nil {
			return 0, err
		}
	}
	s.log.Info("all broadcasts stopped", logx.Int("count", len(tasks)))
	return len(tasks), nil
}

// Pause cancels the unit and marks the row paused, as one logical
// operation from the caller's perspective. It waits for the outgoing unit
// to exit, so a send in flight at the moment of pausing has its progress
// persisted before the status flips; a later Resume therefore reads the
// final count and never replays that send.
func (s *Service) Pause(ctx context.Context, taskID string) (storage.SpamTask, error) {
	if _, err := s.store.Task(ctx, taskID); err != nil {
		return storage.SpamTask{}, err
	}
	s.cancelAndDrain(taskID)
	// Re-read after the drain: the unit may have recorded one more send,
	// or completed (deleting the row) while we waited.
	t, err := s.store.Task(ctx, taskID)
	if err != nil {
		return storage.SpamTask{}, err
	}
	if err := s.store.SetTaskStatus(ctx, taskID, storage.StatusPaused); err != nil {
		return storage.SpamTask{}, err
	}
	t.Status = storage.StatusPaused
	s.log.Info("broadcast paused", logx.String("task", taskID))
	return t, nil
}

// PauseAll pauses every active broadcast.
func (s *Service) PauseAll(ctx context.Context) (int, error) {
	waitUnits(s.rt.CancelAll())
	// List after the drain so rows completed while we waited are excluded.
	tasks, err := s.store.Tasks(ctx, storage.TaskFilter{Status: storage.StatusActive})
	if err != nil {
		return 0, err
	}
	for _, t := range tasks {
		if err := s.store.SetTaskStatus(ctx, t.TaskID, storage.StatusPaused); err != nil {
			return 0, err
		}
	}
	s.log.Info("all broadcasts paused", logx.Int("count", len(tasks)))
	return len(tasks), nil
}

// Resume marks a paused row active again and starts a fresh unit
// continuing from its persisted progress.
func (s *Service) Resume(ctx context.Context, taskID string) (storage.SpamTask, error) {
	t, err := s.store.Task(ctx, taskID)
	if err != nil {
		return storage.SpamTask{}, err
	}
	if t.Status != storage.StatusPaused {
		return storage.SpamTask{}, fmt.Errorf("%w: %s", ErrNotPaused, taskID)
	}
	if err := s.store.SetTaskStatus(ctx, taskID, storage.StatusActive); err != nil {
		return storage.SpamTask{}, err
	}
	t.Status = storage.StatusActive
	if err := s.startUnit(t); err != nil {
		return storage.SpamTask{}, err
	}
	s.log.Info("broadcast resumed", logx.String("task", taskID),
		logx.Int("sent", t.SentCount), logx.Int("total", t.TotalCount))
	return t, nil
}

// ResumeAll resumes every paused broadcast, returning how many were started.
func (s *Service) ResumeAll(ctx context.Context) (int, error) {
	tasks, err := s.store.Tasks(ctx, storage.TaskFilter{Status: storage.StatusPaused})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range tasks {
		if _, err := s.Resume(ctx, t.TaskID); err != nil {
			if errors.Is(err, ErrAlreadyRunning) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// Status lists every persisted broadcast with a due-time estimate.
func (s *Service) Status(ctx context.Context) ([]TaskStatus, error) {
	tasks, err := s.store.Tasks(ctx, storage.TaskFilter{})
	if err != nil {
		return nil, err
	}
	now := time.Now()
	out := make([]TaskStatus, 0, len(tasks))
	for _, t := range tasks {
		st := TaskStatus{
			TaskID:     t.TaskID,
			ChatID:     t.ChatID,
			Status:     string(t.Status),
			SentCount:  t.SentCount,
			TotalCount: t.TotalCount,
			Running:    s.rt.IsRunning(t.ChatID, t.TaskID),
		}
		if t.Status == storage.StatusActive {
			st.NextDue = s.dueEstimate(t, now)
		}
		out = append(out, st)
	}
	return out, nil
}

// Recover rebuilds execution units from persisted state. Active tasks
// with remaining work get a fresh unit continuing from sent_count;
// exhausted ones are deleted.
func (s *Service) Recover(ctx context.Context) error {
	tasks, err := s.store.Tasks(ctx, storage.TaskFilter{Status: storage.StatusActive})
	if err != nil {
		return err
	}
	started, finished := 0, 0
	for _, t := range tasks {
		if t.Remaining() <= 0 {
			if err := s.store.DeleteTask(ctx, t.TaskID); err != nil {
				return err
			}
			finished++
			continue
		}
		if err := s.startUnit(t); err != nil {
			s.log.Warn("recovery skipped task", logx.String("task", t.TaskID), logx.Err(err))
			continue
		}
		started++
	}
	s.log.Info("recovery complete",
		logx.Int("resumed", started), logx.Int("swept", finished))
	return nil
}

// Sweep deletes rows with no remaining work that have no running unit.
// Completion normally deletes its own row; the sweep catches rows
// orphaned by a crash between the final send and the delete.
func (s *Service) Sweep(ctx context.Context) {
	tasks, err := s.store.Tasks(ctx, storage.TaskFilter{})
	if err != nil {
		s.log.Warn("sweep failed", logx.Err(err))
		return
	}
	for _, t := range tasks {
		if t.Remaining() <= 0 && !s.rt.IsRunning(t.ChatID, t.TaskID) {
			if err := s.store.DeleteTask(ctx, t.TaskID); err != nil {
				s.log.Warn("sweep delete failed", logx.String("task", t.TaskID), logx.Err(err))
				continue
			}
			s.log.Info("swept finished task", logx.String("task", t.TaskID))
		}
	}
}

// Runtime exposes the unit registry (for status display and tests).
func (s *Service) Runtime() *Runtime { return s.rt }

func (s *Service) startUnit(t storage.SpamTask) error {
	s.mu.Lock()
	rctx := s.runCtx
	s.mu.Unlock()
	if rctx == nil {
		// Unit lifetimes are bound to the service; before Start/after Stop
		// units would never be cancelled on shutdown.
		rctx = context.Background()
	}
	ok := s.rt.Start(t.ChatID, t.TaskID, func(cancel <-chan struct{}) {
		defer func() {
			// run's own deferred deregistration has already fired during
			// unwinding; only the panic itself needs containing here.
			if p := recover(); p != nil {
				s.log.Error("execution unit panicked",
					logx.String("task", t.TaskID), logx.Any("panic", p))
			}
		}()
		s.run(rctx, t, cancel)
	})
	if !ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, t.TaskID)
	}
	return nil
}

// cancelAndDrain cancels the unit owning taskID and blocks until its
// goroutine has exited. A send already in flight completes (and persists)
// first; sends waiting on a timer abort immediately.
func (s *Service) cancelAndDrain(taskID string) {
	if done, ok := s.rt.Cancel(taskID); ok {
		<-done
	}
}

func waitUnits(dones []<-chan struct{}) {
	for _, done := range dones {
		<-done
	}
}

func (s *Service) dueEstimate(t storage.SpamTask, now time.Time) time.Time {
	if t.LastSentTime.IsZero() {
		return schedule.FirstDue(t.ScheduledMinute, t.Weekdays, now)
	}
	return schedule.NextDue(t.LastSentTime, t.Delay, t.Weekdays)
}
