// Package storage is the durable source of truth for broadcast tasks.
//
// It persists two tables per account:
//   - config: string key/value settings (last write wins)
//   - spam_tasks: one row per scheduled broadcast
//
// The running executor goroutines are only a cache of "this task is
// currently executing"; after a restart the whole execution state is
// rebuilt from these rows.
package storage
