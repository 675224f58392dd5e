package spam

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"blastbot/internal/storage"
	"blastbot/internal/transport"
	"blastbot/pkg/logx"
)

type fakeMessenger struct {
	mu    sync.Mutex
	sends []transport.ChatTarget
	// failFrom makes send number n (1-based) and later fail; 0 disables.
	failFrom int
}

func (f *fakeMessenger) SendText(ctx context.Context, to transport.ChatTarget, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFrom > 0 && len(f.sends)+1 >= f.failFrom {
		return errors.New("flood wait")
	}
	f.sends = append(f.sends, to)
	return nil
}

func (f *fakeMessenger) ChatName(ctx context.Context, chatID int64) (string, error) {
	return fmt.Sprintf("chat-%d", chatID), nil
}

func (f *fakeMessenger) sent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

type fakeReporter struct {
	mu      sync.Mutex
	reports []string
}

func (f *fakeReporter) Report(text string) {
	f.mu.Lock()
	f.reports = append(f.reports, text)
	f.mu.Unlock()
}

func (f *fakeReporter) find(substr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.reports {
		if strings.Contains(r, substr) {
			return true
		}
	}
	return false
}

func newTestService(t *testing.T) (*Service, storage.Store, *fakeMessenger, *fakeReporter) {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	m := &fakeMessenger{}
	rep := &fakeReporter{}
	svc := New(st, m, rep, logx.Nop())
	t.Cleanup(func() { svc.Stop(context.Background()) })
	return svc, st, m, rep
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	base := CreateRequest{ChatID: 1, Message: "hi", Delay: time.Second, TotalCount: 3}

	bad := base
	bad.TotalCount = 0
	if _, err := svc.Create(ctx, bad); !errors.Is(err, ErrInvalidCount) {
		t.Fatalf("zero count err = %v, want ErrInvalidCount", err)
	}
	bad = base
	bad.TotalCount = -2
	if _, err := svc.Create(ctx, bad); !errors.Is(err, ErrInvalidCount) {
		t.Fatalf("negative count err = %v, want ErrInvalidCount", err)
	}
	bad = base
	bad.Delay = 0
	if _, err := svc.Create(ctx, bad); !errors.Is(err, ErrInvalidDelay) {
		t.Fatalf("zero delay err = %v, want ErrInvalidDelay", err)
	}
	bad = base
	bad.Message = "  "
	if _, err := svc.Create(ctx, bad); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("blank message err = %v, want ErrEmptyMessage", err)
	}
}

func TestBroadcastRunsToCompletion(t *testing.T) {
	t.Parallel()
	svc, st, m, rep := newTestService(t)
	ctx := context.Background()

	task, err := svc.Create(ctx, CreateRequest{
		ChatID: 10, Message: "hi", Delay: time.Second, TotalCount: 2,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// unconstrained first send is due immediately
	waitFor(t, 2*time.Second, func() bool { return m.sent() >= 1 }, "first send never happened")
	// second send after the one-second delay
	waitFor(t, 3*time.Second, func() bool { return m.sent() == 2 }, "second send never happened")

	// completion deletes the row and deregisters the unit
	waitFor(t, 2*time.Second, func() bool {
		_, err := st.Task(ctx, task.TaskID)
		return errors.Is(err, storage.ErrNotFound)
	}, "completed task still persisted")
	waitFor(t, time.Second, func() bool { return svc.Runtime().Len() == 0 }, "unit still registered")

	if !rep.find("completed") {
		t.Fatal("completion was not reported")
	}
}

func TestConcurrentTasksSameChat(t *testing.T) {
	t.Parallel()
	svc, st, m, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.Create(ctx, CreateRequest{
			ChatID: 7, Message: "hi", Delay: time.Minute, TotalCount: 5,
		}); err != nil {
			t.Fatalf("Create #%d: %v", i, err)
		}
	}
	if svc.Runtime().Len() != 3 {
		t.Fatalf("Runtime.Len = %d, want 3", svc.Runtime().Len())
	}

	// each sends its immediate first message independently
	waitFor(t, 2*time.Second, func() bool { return m.sent() == 3 }, "expected 3 first sends")

	tasks, err := st.Tasks(ctx, storage.TaskFilter{ChatID: 7})
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("persisted %d tasks, want 3", len(tasks))
	}
	seen := map[string]bool{}
	for _, task := range tasks {
		if seen[task.TaskID] {
			t.Fatalf("duplicate task id %s", task.TaskID)
		}
		seen[task.TaskID] = true
	}
}

func TestPauseResumeStop(t *testing.T) {
	t.Parallel()
	svc, st, m, _ := newTestService(t)
	ctx := context.Background()

	task, err := svc.Create(ctx, CreateRequest{
		ChatID: 3, Message: "hi", Delay: 5 * time.Second, TotalCount: 3,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return m.sent() == 1 }, "first send never happened")
	waitFor(t, 2*time.Second, func() bool {
		got, err := st.Task(ctx, task.TaskID)
		return err == nil && got.SentCount == 1
	}, "progress not persisted")

	paused, err := svc.Pause(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if paused.TaskID != task.TaskID {
		t.Fatalf("paused wrong task: %s", paused.TaskID)
	}
	waitFor(t, time.Second, func() bool { return svc.Runtime().Len() == 0 }, "unit survived pause")

	got, err := st.Task(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("Task after pause: %v", err)
	}
	if got.Status != storage.StatusPaused || got.SentCount != 1 {
		t.Fatalf("pause lost progress: %+v", got)
	}

	if _, err := svc.Resume(ctx, "does-not-exist"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Resume missing err = %v, want ErrNotFound", err)
	}

	if _, err := svc.Resume(ctx, task.TaskID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if !svc.Runtime().IsRunning(3, task.TaskID) {
		t.Fatal("resume did not start a unit")
	}
	// resumed unit waits out the remaining delay; no instant re-send
	time.Sleep(300 * time.Millisecond)
	if m.sent() != 1 {
		t.Fatalf("resume re-sent immediately: %d sends", m.sent())
	}

	if _, err := svc.StopTask(ctx, task.TaskID); err != nil {
		t.Fatalf("StopTask: %v", err)
	}
	if _, err := st.Task(ctx, task.TaskID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatal("stopped task still persisted")
	}
	waitFor(t, time.Second, func() bool { return svc.Runtime().Len() == 0 }, "unit survived stop")

	// stopped unit must not record further progress
	time.Sleep(300 * time.Millisecond)
	if m.sent() != 1 {
		t.Fatalf("sends after stop: %d, want 1", m.sent())
	}
}

// gateMessenger blocks its first send until released, so tests can hold a
// send in flight while issuing control operations.
type gateMessenger struct {
	entered chan struct{}
	release chan struct{}

	mu sync.Mutex
	n  int
}

func newGateMessenger() *gateMessenger {
	return &gateMessenger{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gateMessenger) SendText(ctx context.Context, to transport.ChatTarget, text string) error {
	g.mu.Lock()
	g.n++
	first := g.n == 1
	g.mu.Unlock()
	if first {
		close(g.entered)
		<-g.release
	}
	return nil
}

func (g *gateMessenger) ChatName(ctx context.Context, chatID int64) (string, error) {
	return fmt.Sprintf("chat-%d", chatID), nil
}

func (g *gateMessenger) sent() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

// Pausing while a send is in flight, then resuming, must hand the task to
// exactly one live unit: the old unit's deregistration may not take the
// replacement down with it, and the replacement must continue from the
// progress the in-flight send persisted.
func TestPauseDuringSendThenResume(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	m := newGateMessenger()
	svc := New(st, m, &fakeReporter{}, logx.Nop())
	t.Cleanup(func() { svc.Stop(context.Background()) })
	ctx := context.Background()

	task, err := svc.Create(ctx, CreateRequest{
		ChatID: 1, Message: "hi", Delay: time.Second, TotalCount: 10,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	<-m.entered // send #1 is now in flight

	pauseDone := make(chan error, 1)
	go func() {
		_, err := svc.Pause(ctx, task.TaskID)
		pauseDone <- err
	}()
	time.Sleep(50 * time.Millisecond) // let Pause cancel and block on the drain
	close(m.release)

	select {
	case err := <-pauseDone:
		if err != nil {
			t.Fatalf("Pause: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Pause never returned after the send drained")
	}

	got, err := st.Task(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("Task after pause: %v", err)
	}
	if got.Status != storage.StatusPaused || got.SentCount != 1 {
		t.Fatalf("after pause: status=%s sent=%d, want paused/1", got.Status, got.SentCount)
	}
	if svc.Runtime().Len() != 0 {
		t.Fatal("unit survived pause")
	}

	if _, err := svc.Resume(ctx, task.TaskID); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	// the resumed unit must stay registered and keep making progress
	waitFor(t, 4*time.Second, func() bool { return m.sent() >= 3 }, "resumed broadcast stopped sending")
	if !svc.Runtime().IsRunning(1, task.TaskID) {
		t.Fatal("resumed unit deregistered while work remains")
	}
	cur, err := st.Task(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("Task after resume: %v", err)
	}
	if cur.Status != storage.StatusActive || cur.SentCount < 2 {
		t.Fatalf("after resume: status=%s sent=%d, want active and >= 2", cur.Status, cur.SentCount)
	}
	if cur.SentCount > m.sent() {
		t.Fatalf("persisted %d sends but only %d happened", cur.SentCount, m.sent())
	}
}

func TestResumeNotPaused(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	task, err := svc.Create(ctx, CreateRequest{
		ChatID: 4, Message: "hi", Delay: time.Minute, TotalCount: 2,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Resume(ctx, task.TaskID); !errors.Is(err, ErrNotPaused) {
		t.Fatalf("Resume active err = %v, want ErrNotPaused", err)
	}
}

func TestDeliveryFailureKillsTask(t *testing.T) {
	t.Parallel()
	svc, st, m, rep := newTestService(t)
	ctx := context.Background()
	m.failFrom = 1

	task, err := svc.Create(ctx, CreateRequest{
		ChatID: 9, Message: "hi", Delay: time.Second, TotalCount: 3,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		_, err := st.Task(ctx, task.TaskID)
		return errors.Is(err, storage.ErrNotFound)
	}, "failed task still persisted")
	waitFor(t, time.Second, func() bool { return svc.Runtime().Len() == 0 }, "failed unit still registered")

	if !rep.find("failed") {
		t.Fatal("failure was not reported")
	}
}

// Failure of one task never touches its siblings.
func TestFailureIsolation(t *testing.T) {
	t.Parallel()
	svc, st, m, _ := newTestService(t)
	ctx := context.Background()

	healthy, err := svc.Create(ctx, CreateRequest{
		ChatID: 1, Message: "hi", Delay: time.Minute, TotalCount: 5,
	})
	if err != nil {
		t.Fatalf("Create healthy: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return m.sent() == 1 }, "healthy first send missing")

	m.failFrom = 2 // everything from now on fails
	doomed, err := svc.Create(ctx, CreateRequest{
		ChatID: 2, Message: "hi", Delay: time.Minute, TotalCount: 5,
	})
	if err != nil {
		t.Fatalf("Create doomed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		_, err := st.Task(ctx, doomed.TaskID)
		return errors.Is(err, storage.ErrNotFound)
	}, "doomed task still persisted")

	if !svc.Runtime().IsRunning(1, healthy.TaskID) {
		t.Fatal("healthy unit was killed by sibling failure")
	}
	if _, err := st.Task(ctx, healthy.TaskID); err != nil {
		t.Fatalf("healthy task lost: %v", err)
	}
}

func TestRecovery(t *testing.T) {
	t.Parallel()
	svc, st, m, _ := newTestService(t)
	ctx := context.Background()

	// Simulate state persisted by a previous process: 2 of 5 sent, and the
	// delay has long elapsed by "restart" time.
	if err := st.CreateTask(ctx, storage.SpamTask{
		TaskID: "1", ChatID: 50, Message: "hi",
		Delay: time.Second, TotalCount: 5,
		StartTime: time.Now(), Status: storage.StatusActive,
	}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := st.RecordProgress(ctx, "1", 2); err != nil {
		t.Fatalf("RecordProgress: %v", err)
	}

	// An exhausted leftover row must be swept, not resumed.
	if err := st.CreateTask(ctx, storage.SpamTask{
		TaskID: "2", ChatID: 51, Message: "done",
		Delay: time.Second, TotalCount: 3,
		StartTime: time.Now(), Status: storage.StatusActive,
	}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := st.RecordProgress(ctx, "2", 3); err != nil {
		t.Fatalf("RecordProgress: %v", err)
	}

	// A paused task stays down across restarts.
	if err := st.CreateTask(ctx, storage.SpamTask{
		TaskID: "3", ChatID: 52, Message: "later",
		Delay: time.Second, TotalCount: 3,
		StartTime: time.Now(), Status: storage.StatusActive,
	}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := st.SetTaskStatus(ctx, "3", storage.StatusPaused); err != nil {
		t.Fatalf("SetTaskStatus: %v", err)
	}

	time.Sleep(1200 * time.Millisecond) // let the delay elapse "offline"

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// elapsed > delay, so the next send happens immediately, continuing
	// from sent_count=2
	waitFor(t, 2*time.Second, func() bool { return m.sent() >= 1 }, "recovered task did not send")
	waitFor(t, 2*time.Second, func() bool {
		got, err := st.Task(ctx, "1")
		return err == nil && got.SentCount == 3
	}, "recovered task did not continue from persisted progress")

	if _, err := st.Task(ctx, "2"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatal("exhausted task survived recovery")
	}
	if svc.Runtime().IsRunning(52, "3") {
		t.Fatal("paused task was resumed by recovery")
	}
	got, err := st.Task(ctx, "3")
	if err != nil || got.Status != storage.StatusPaused {
		t.Fatalf("paused task damaged by recovery: %+v, %v", got, err)
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	task, err := svc.Create(ctx, CreateRequest{
		ChatID: 12, Message: "hi", Delay: time.Minute, TotalCount: 4,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	list, err := svc.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("Status returned %d rows, want 1", len(list))
	}
	st := list[0]
	if st.TaskID != task.TaskID || st.ChatID != 12 || st.TotalCount != 4 {
		t.Fatalf("unexpected status row: %+v", st)
	}
	if !st.Running {
		t.Fatal("status row not marked running")
	}
	if st.NextDue.IsZero() {
		t.Fatal("status row missing due estimate")
	}
}

func TestSweep(t *testing.T) {
	t.Parallel()
	svc, st, _, _ := newTestService(t)
	ctx := context.Background()

	if err := st.CreateTask(ctx, storage.SpamTask{
		TaskID: "1", ChatID: 1, Message: "orphan",
		Delay: time.Second, TotalCount: 2,
		StartTime: time.Now(), Status: storage.StatusActive,
	}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := st.RecordProgress(ctx, "1", 2); err != nil {
		t.Fatalf("RecordProgress: %v", err)
	}

	svc.Sweep(ctx)
	if _, err := st.Task(ctx, "1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatal("sweep left an exhausted row behind")
	}
}
