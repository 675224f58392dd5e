// Package spam runs recurring broadcasts.
//
// One goroutine ("execution unit") exists per active task; the Runtime
// registry maps chat_id -> task_id -> unit handle and removal from that
// map is the cancellation signal. The persisted spam_tasks row is the
// source of truth; units are rebuilt from it at startup.
package spam
