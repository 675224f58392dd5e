package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"blastbot/internal/schedule"
	"blastbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open opens (creating if necessary) the per-account sqlite database and
// applies migrations.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &sqliteStore{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
		return err
	}

	// Additive columns. Old rows keep NULL, which reads back as
	// "no recurrence constraint".
	cols, err := s.tableColumns(ctx, "spam_tasks")
	if err != nil {
		return err
	}
	if !cols["scheduled_time"] {
		if _, err := s.db.ExecContext(ctx, `ALTER TABLE spam_tasks ADD COLUMN scheduled_time INTEGER`); err != nil {
			return err
		}
		s.log.Info("migrated spam_tasks: added scheduled_time")
	}
	if !cols["weekdays"] {
		if _, err := s.db.ExecContext(ctx, `ALTER TABLE spam_tasks ADD COLUMN weekdays TEXT`); err != nil {
			return err
		}
		s.log.Info("migrated spam_tasks: added weekdays")
	}
	return nil
}

func (s *sqliteStore) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := map[string]bool{}
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const taskColumns = `task_id, chat_id, message, delay, total_count, sent_count,
	start_time, status, last_sent_time, scheduled_time, weekdays`

func (s *sqliteStore) CreateTask(ctx context.Context, t SpamTask) error {
	var sched any
	if t.ScheduledMinute != nil {
		sched = *t.ScheduledMinute
	}
	var days any
	if !t.Weekdays.IsZero() {
		days = t.Weekdays.CSV()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO spam_tasks(`+taskColumns+`)
		 VALUES(?,?,?,?,?,0,?,?,0,?,?)`,
		t.TaskID, t.ChatID, t.Message, int64(t.Delay/time.Second), t.TotalCount,
		t.StartTime.Unix(), string(StatusActive), sched, days,
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint") {
		return fmt.Errorf("%w: %s", ErrTaskExists, t.TaskID)
	}
	return err
}

func (s *sqliteStore) Task(ctx context.Context, taskID string) (SpamTask, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM spam_tasks WHERE task_id = ?`, taskID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SpamTask{}, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	return t, err
}

func (s *sqliteStore) Tasks(ctx context.Context, f TaskFilter) ([]SpamTask, error) {
	q := `SELECT ` + taskColumns + ` FROM spam_tasks`
	var (
		conds []string
		args  []any
	)
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.ChatID != 0 {
		conds = append(conds, "chat_id = ?")
		args = append(args, f.ChatID)
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY CAST(task_id AS INTEGER), task_id"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SpamTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) RecordProgress(ctx context.Context, taskID string, sentCount int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE spam_tasks SET sent_count = ?, last_sent_time = ?
		 WHERE task_id = ? AND sent_count < ?`,
		sentCount, time.Now().Unix(), taskID, sentCount,
	)
	return err
}

func (s *sqliteStore) SetTaskStatus(ctx context.Context, taskID string, st Status) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE spam_tasks SET status = ? WHERE task_id = ?`, string(st), taskID)
	return err
}

func (s *sqliteStore) DeleteTask(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM spam_tasks WHERE task_id = ?`, taskID)
	return err
}

func (s *sqliteStore) DeleteTasksByChat(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM spam_tasks WHERE chat_id = ?`, chatID)
	return err
}

func (s *sqliteStore) AllocateTaskID(ctx context.Context) (string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT task_id FROM spam_tasks`)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	used := map[int]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		if n, err := strconv.Atoi(id); err == nil && n > 0 {
			used[n] = true
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	n := 1
	for used[n] {
		n++
	}
	return strconv.Itoa(n), nil
}

func (s *sqliteStore) GetConfig(ctx context.Context, key, def string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return def, err
	}
	return v, nil
}

func (s *sqliteStore) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO config(key, value) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (SpamTask, error) {
	var (
		t        SpamTask
		delaySec int64
		start    int64
		lastSent int64
		status   string
		sched    sql.NullInt64
		days     sql.NullString
	)
	err := r.Scan(&t.TaskID, &t.ChatID, &t.Message, &delaySec, &t.TotalCount,
		&t.SentCount, &start, &status, &lastSent, &sched, &days)
	if err != nil {
		return SpamTask{}, err
	}
	t.Delay = time.Duration(delaySec) * time.Second
	t.StartTime = time.Unix(start, 0)
	t.Status = Status(status)
	if lastSent > 0 {
		t.LastSentTime = time.Unix(lastSent, 0)
	}
	if sched.Valid {
		m := int(sched.Int64)
		t.ScheduledMinute = &m
	}
	if days.Valid && days.String != "" {
		set, err := schedule.ParseWeekdays(days.String)
		if err != nil {
			// A malformed persisted value means "no constraint" rather than
			// a dead row; creation never writes one.
			set = 0
		}
		t.Weekdays = set
	}
	return t, nil
}
