package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/elonfeng/notepulse/pkg/ces"
)

// Task statuses.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// Task is a persisted analysis task.
type Task struct {
	ID          string       `db:"id" json:"id"`
	Status      string       `db:"status" json:"status"`
	Keywords    string       `db:"keywords" json:"keywords"`
	PayloadJSON string       `db:"payload" json:"-"`
	Items       []ces.Item   `db:"-" json:"items,omitempty"`
	NotesIn     int          `db:"notes_in" json:"notes_in"`
	Kept        int          `db:"kept" json:"kept"`
	CallbackOK  bool         `db:"callback_ok" json:"callback_ok"`
	Error       string       `db:"error" json:"error,omitempty"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	FinishedAt  sql.NullTime `db:"finished_at" json:"finished_at,omitempty"`
}

// Result is one kept item of a finished task.
type Result struct {
	ID          int64     `db:"id" json:"id"`
	TaskID      string    `db:"task_id" json:"task_id"`
	NoteID      string    `db:"note_id" json:"note_id"`
	Rank        int       `db:"rank" json:"rank"`
	CES         float64   `db:"ces" json:"ces"`
	WeightedCES float64   `db:"weighted_ces" json:"weighted_ces"`
	Tags        string    `db:"tags" json:"tags"`
	PayloadJSON string    `db:"payload" json:"-"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// TaskListOpts controls task listing.
type TaskListOpts struct {
	Status string
	Limit  int
}

// Store is the persistence interface.
type Store interface {
	CreateTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	ListTasks(ctx context.Context, opts TaskListOpts) ([]Task, error)
	MarkRunning(ctx context.Context, id string) error
	MarkDone(ctx context.Context, id string, notesIn, kept int, callbackOK bool) error
	MarkFailed(ctx context.Context, id string, msg string) error
	ResetRunning(ctx context.Context) error
	PendingTasks(ctx context.Context) ([]Task, error)

	SaveResults(ctx context.Context, taskID string, results []Result) error
	ListResults(ctx context.Context, taskID string) ([]Result, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateTask(ctx context.Context, t *Task) error {
	payloadJSON, _ := json.Marshal(t.Items)
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, status, keywords, payload, notes_in, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.ID, t.Status, t.Keywords, string(payloadJSON), len(t.Items), t.CreatedAt)
	if err != nil {
		return fmt.Errorf("create task %s: %w", t.ID, err)
	}
	t.PayloadJSON = string(payloadJSON)
	t.NotesIn = len(t.Items)
	return nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*Task, error) {
	var t Task
	err := s.db.GetContext(ctx, &t, "SELECT * FROM tasks WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	json.Unmarshal([]byte(t.PayloadJSON), &t.Items)
	return &t, nil
}

func (s *SQLiteStore) ListTasks(ctx context.Context, opts TaskListOpts) ([]Task, error) {
	query := "SELECT * FROM tasks WHERE 1=1"
	var args []any

	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, opts.Status)
	}

	query += " ORDER BY created_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	var tasks []Task
	if err := s.db.SelectContext(ctx, &tasks, query, args...); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

func (s *SQLiteStore) MarkRunning(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET status = ? WHERE id = ?", StatusRunning, id)
	if err != nil {
		return fmt.Errorf("mark running %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) MarkDone(ctx context.Context, id string, notesIn, kept int, callbackOK bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, notes_in = ?, kept = ?, callback_ok = ?, finished_at = ?
		WHERE id = ?
	`, StatusDone, notesIn, kept, callbackOK, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark done %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, id string, msg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, StatusFailed, msg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark failed %s: %w", id, err)
	}
	return nil
}

// ResetRunning puts tasks interrupted by a shutdown back in the queue.
func (s *SQLiteStore) ResetRunning(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET status = ? WHERE status = ?", StatusPending, StatusRunning)
	if err != nil {
		return fmt.Errorf("reset running tasks: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PendingTasks(ctx context.Context) ([]Task, error) {
	var tasks []Task
	err := s.db.SelectContext(ctx, &tasks,
		"SELECT * FROM tasks WHERE status = ? ORDER BY created_at", StatusPending)
	if err != nil {
		return nil, fmt.Errorf("pending tasks: %w", err)
	}
	for i := range tasks {
		json.Unmarshal([]byte(tasks[i].PayloadJSON), &tasks[i].Items)
	}
	return tasks, nil
}

func (s *SQLiteStore) SaveResults(ctx context.Context, taskID string, results []Result) error {
	now := time.Now().UTC()
	for i := range results {
		r := &results[i]
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO results (task_id, note_id, rank, ces, weighted_ces, tags, payload, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, taskID, r.NoteID, r.Rank, r.CES, r.WeightedCES, r.Tags, r.PayloadJSON, now)
		if err != nil {
			return fmt.Errorf("save result %s/%s: %w", taskID, r.NoteID, err)
		}
		r.ID, _ = res.LastInsertId()
		r.TaskID = taskID
		r.CreatedAt = now
	}
	return nil
}

func (s *SQLiteStore) ListResults(ctx context.Context, taskID string) ([]Result, error) {
	var results []Result
	err := s.db.SelectContext(ctx, &results,
		"SELECT * FROM results WHERE task_id = ? ORDER BY rank", taskID)
	if err != nil {
		return nil, fmt.Errorf("list results %s: %w", taskID, err)
	}
	return results, nil
}
