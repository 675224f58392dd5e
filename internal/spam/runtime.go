package spam

import "sync"

// handle represents one live execution unit. Its cancel channel is closed
// at most once, when the unit is cancelled from outside; done is closed by
// the runtime when the unit's goroutine has fully exited.
type handle struct {
	cancel chan struct{}
	done   chan struct{}
}

// Runtime owns the registry of executing units. It is process-scoped
// state for a single account: created at startup, torn down at shutdown,
// never shared across accounts.
type Runtime struct {
	mu    sync.Mutex
	units map[int64]map[string]*handle // chat_id -> task_id -> unit
}

func NewRuntime() *Runtime {
	return &Runtime{units: map[int64]map[string]*handle{}}
}

// Start registers a new unit for (chatID, taskID) and spawns work in its
// own goroutine. If a unit is already registered for that exact pair
// nothing is started and Start reports false.
func (r *Runtime) Start(chatID int64, taskID string, work func(cancel <-chan struct{})) bool {
	r.mu.Lock()
	byTask := r.units[chatID]
	if byTask == nil {
		byTask = map[string]*handle{}
		r.units[chatID] = byTask
	}
	if _, exists := byTask[taskID]; exists {
		r.mu.Unlock()
		return false
	}
	h := &handle{cancel: make(chan struct{}), done: make(chan struct{})}
	byTask[taskID] = h
	r.mu.Unlock()

	go func() {
		defer close(h.done)
		work(h.cancel)
	}()
	return true
}

// Cancel signals the unit owning taskID to stop and removes it from the
// registry. Cancellation is cooperative: the unit observes it at its next
// suspension point. The returned channel closes once the unit's goroutine
// has exited; nil when no unit was found.
func (r *Runtime) Cancel(taskID string) (<-chan struct{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for chatID, byTask := range r.units {
		if h, ok := byTask[taskID]; ok {
			close(h.cancel)
			delete(byTask, taskID)
			if len(byTask) == 0 {
				delete(r.units, chatID)
			}
			return h.done, true
		}
	}
	return nil, false
}

// CancelChat cancels every unit targeting chatID, returning the done
// channels of the signalled units.
func (r *Runtime) CancelChat(chatID int64) []<-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	byTask := r.units[chatID]
	dones := make([]<-chan struct{}, 0, len(byTask))
	for _, h := range byTask {
		close(h.cancel)
		dones = append(dones, h.done)
	}
	delete(r.units, chatID)
	return dones
}

// CancelAll cancels every registered unit, returning their done channels.
func (r *Runtime) CancelAll() []<-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	var dones []<-chan struct{}
	for _, byTask := range r.units {
		for _, h := range byTask {
			close(h.cancel)
			dones = append(dones, h.done)
		}
	}
	r.units = map[int64]map[string]*handle{}
	return dones
}

// IsRunning reports whether a unit is registered for (chatID, taskID).
func (r *Runtime) IsRunning(chatID int64, taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.units[chatID][taskID]
	return ok
}

// removeIf deregisters the unit identified by its own cancel channel;
// called by the unit itself on the way out. A unit that was already
// cancelled (and replaced under the same key) must not evict its
// replacement, so the registered handle's identity is checked first.
func (r *Runtime) removeIf(chatID int64, taskID string, cancel <-chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byTask := r.units[chatID]
	h, ok := byTask[taskID]
	if !ok || (<-chan struct{})(h.cancel) != cancel {
		return
	}
	delete(byTask, taskID)
	if len(byTask) == 0 {
		delete(r.units, chatID)
	}
}

// Len reports the number of registered units.
func (r *Runtime) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, byTask := range r.units {
		n += len(byTask)
	}
	return n
}
