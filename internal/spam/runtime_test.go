package spam

import (
	"testing"
	"time"
)

func TestRuntimeStartAndCancel(t *testing.T) {
	t.Parallel()
	rt := NewRuntime()

	observed := make(chan struct{})
	ok := rt.Start(1, "1", func(cancel <-chan struct{}) {
		<-cancel
		close(observed)
	})
	if !ok {
		t.Fatal("Start returned false for a fresh pair")
	}
	if !rt.IsRunning(1, "1") {
		t.Fatal("unit not registered after Start")
	}

	// same pair must not double-start
	if rt.Start(1, "1", func(<-chan struct{}) {}) {
		t.Fatal("Start overwrote an existing unit")
	}

	// same chat, different task is independent
	if !rt.Start(1, "2", func(cancel <-chan struct{}) { <-cancel }) {
		t.Fatal("second task in same chat refused")
	}
	if rt.Len() != 2 {
		t.Fatalf("Len = %d, want 2", rt.Len())
	}

	done, ok := rt.Cancel("1")
	if !ok {
		t.Fatal("Cancel found no unit")
	}
	if rt.IsRunning(1, "1") {
		t.Fatal("unit still registered after Cancel")
	}
	select {
	case <-observed:
	case <-time.After(time.Second):
		t.Fatal("unit did not observe cancellation")
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("done not closed after unit exit")
	}

	if _, ok := rt.Cancel("1"); ok {
		t.Fatal("Cancel of removed unit reported true")
	}
}

func TestRuntimeCancelChat(t *testing.T) {
	t.Parallel()
	rt := NewRuntime()
	for _, id := range []string{"1", "2"} {
		rt.Start(5, id, func(cancel <-chan struct{}) { <-cancel })
	}
	rt.Start(6, "3", func(cancel <-chan struct{}) { <-cancel })

	dones := rt.CancelChat(5)
	if len(dones) != 2 {
		t.Fatalf("CancelChat signalled %d units, want 2", len(dones))
	}
	for _, done := range dones {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("cancelled unit never exited")
		}
	}
	if rt.IsRunning(5, "1") || rt.IsRunning(5, "2") {
		t.Fatal("chat 5 units still registered")
	}
	if !rt.IsRunning(6, "3") {
		t.Fatal("unrelated chat was cancelled")
	}
}

func TestRuntimeCancelAll(t *testing.T) {
	t.Parallel()
	rt := NewRuntime()
	rt.Start(1, "1", func(cancel <-chan struct{}) { <-cancel })
	rt.Start(2, "2", func(cancel <-chan struct{}) { <-cancel })

	if dones := rt.CancelAll(); len(dones) != 2 {
		t.Fatalf("CancelAll signalled %d units, want 2", len(dones))
	}
	if rt.Len() != 0 {
		t.Fatalf("Len after CancelAll = %d, want 0", rt.Len())
	}
}

func TestRuntimeSelfRemove(t *testing.T) {
	t.Parallel()
	rt := NewRuntime()
	done := make(chan struct{})
	rt.Start(1, "1", func(cancel <-chan struct{}) {
		rt.removeIf(1, "1", cancel)
		close(done)
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("unit never ran")
	}
	if rt.IsRunning(1, "1") {
		t.Fatal("unit still registered after self-remove")
	}
}

// A cancelled unit's late deregistration must not evict the replacement
// registered under the same key after a pause/resume or id reuse.
func TestRuntimeStaleRemoveSparesReplacement(t *testing.T) {
	t.Parallel()
	rt := NewRuntime()

	staleCancel := make(chan (<-chan struct{}), 1)
	release := make(chan struct{})
	rt.Start(1, "1", func(cancel <-chan struct{}) {
		staleCancel <- cancel
		<-release
	})
	stale := <-staleCancel

	if _, ok := rt.Cancel("1"); !ok {
		t.Fatal("Cancel found no unit")
	}
	if !rt.Start(1, "1", func(cancel <-chan struct{}) { <-cancel }) {
		t.Fatal("replacement refused after Cancel")
	}

	// the stale unit deregisters on its way out; only its own entry may go
	rt.removeIf(1, "1", stale)
	close(release)
	if !rt.IsRunning(1, "1") {
		t.Fatal("stale deregistration evicted the replacement unit")
	}

	replDone, ok := rt.Cancel("1")
	if !ok {
		t.Fatal("replacement missing at cleanup")
	}
	select {
	case <-replDone:
	case <-time.After(time.Second):
		t.Fatal("replacement never exited")
	}
}
