package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ibeckermayer/modwatch/internal/types"
)

// ErrNoArchivedTask is returned when the archive holds no matching task
var ErrNoArchivedTask = errors.New("no archived task")

// Archive keeps completed monitoring sessions in SQLite so the dashboard can
// be rebuilt when the scraping service has nothing to offer.
type Archive struct {
	db *sql.DB
}

// TaskRecord summarises an archived task
type TaskRecord struct {
	TaskID     string
	SessionID  string
	Phase      types.Phase
	Error      string
	Items      int
	Comments   int
	ArchivedAt time.Time
}

// OpenArchive opens (and if needed creates) the archive at dbPath
func OpenArchive(dbPath string) (*Archive, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer; a single connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	a := &Archive{db: db}
	if err := a.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return a, nil
}

// Close closes the database connection
func (a *Archive) Close() error {
	return a.db.Close()
}

// migrate creates the database schema
func (a *Archive) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		task_id TEXT PRIMARY KEY,
		session_id TEXT,
		phase TEXT NOT NULL,
		error TEXT,
		progress TEXT,
		archived_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS items (
		task_id TEXT NOT NULL REFERENCES tasks(task_id) ON DELETE CASCADE,
		url TEXT NOT NULL,
		position INTEGER NOT NULL,
		comment_count INTEGER NOT NULL,
		PRIMARY KEY (task_id, url)
	);

	CREATE TABLE IF NOT EXISTS comments (
		task_id TEXT NOT NULL,
		url TEXT NOT NULL,
		idx INTEGER NOT NULL,
		author_name TEXT,
		text TEXT,
		label TEXT,
		profile_url TEXT,
		PRIMARY KEY (task_id, url, idx)
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_archived_at ON tasks(archived_at);
	CREATE INDEX IF NOT EXISTS idx_comments_label ON comments(label);
	`

	_, err := a.db.Exec(schema)
	return err
}

// SaveTask stores a task and its items, replacing any earlier copy of the same task
func (a *Archive) SaveTask(ctx context.Context, sessionID string, task types.TaskState, items []types.ContentItem) error {
	progressJSON, _ := json.Marshal(task.Progress)

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin archive transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (task_id, session_id, phase, error, progress, archived_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			session_id = excluded.session_id,
			phase = excluded.phase,
			error = excluded.error,
			progress = excluded.progress,
			archived_at = excluded.archived_at
	`, task.TaskID, sessionID, string(task.Phase), task.ErrorMessage, string(progressJSON), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE task_id = ?`, task.TaskID); err != nil {
		return fmt.Errorf("failed to clear comments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE task_id = ?`, task.TaskID); err != nil {
		return fmt.Errorf("failed to clear items: %w", err)
	}

	for pos, it := range items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO items (task_id, url, position, comment_count)
			VALUES (?, ?, ?, ?)
		`, task.TaskID, it.URL, pos, it.CommentCount)
		if err != nil {
			return fmt.Errorf("failed to save item %s: %w", it.URL, err)
		}
		for i, c := range it.Comments {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO comments (task_id, url, idx, author_name, text, label, profile_url)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, task.TaskID, it.URL, i, c.AuthorName, c.Text, c.Label, c.AuthorProfileURL)
			if err != nil {
				return fmt.Errorf("failed to save comment: %w", err)
			}
		}
	}

	return tx.Commit()
}

// LoadTask returns an archived task and its items in their original order
func (a *Archive) LoadTask(ctx context.Context, taskID string) (types.TaskState, []types.ContentItem, error) {
	var task types.TaskState
	var phase, errMsg, progressJSON sql.NullString

	err := a.db.QueryRowContext(ctx, `
		SELECT task_id, phase, error, progress FROM tasks WHERE task_id = ?
	`, taskID).Scan(&task.TaskID, &phase, &errMsg, &progressJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return task, nil, fmt.Errorf("%w: %s", ErrNoArchivedTask, taskID)
	}
	if err != nil {
		return task, nil, err
	}
	task.Phase = types.Phase(phase.String)
	task.ErrorMessage = errMsg.String
	if progressJSON.Valid {
		json.Unmarshal([]byte(progressJSON.String), &task.Progress)
	}

	items, err := a.loadItems(ctx, taskID)
	if err != nil {
		return task, nil, err
	}
	return task, items, nil
}

// LatestTask returns the most recently archived completed task
func (a *Archive) LatestTask(ctx context.Context) (types.TaskState, []types.ContentItem, error) {
	var taskID string
	err := a.db.QueryRowContext(ctx, `
		SELECT task_id FROM tasks WHERE phase = ? ORDER BY archived_at DESC, rowid DESC LIMIT 1
	`, string(types.PhaseCompleted)).Scan(&taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return types.TaskState{}, nil, ErrNoArchivedTask
	}
	if err != nil {
		return types.TaskState{}, nil, err
	}
	return a.LoadTask(ctx, taskID)
}

// ListTasks returns the most recent tasks first
func (a *Archive) ListTasks(ctx context.Context, limit int) ([]TaskRecord, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT t.task_id, t.session_id, t.phase, t.error, t.archived_at,
			(SELECT COUNT(*) FROM items i WHERE i.task_id = t.task_id),
			(SELECT COALESCE(SUM(comment_count), 0) FROM items i WHERE i.task_id = t.task_id)
		FROM tasks t
		ORDER BY t.archived_at DESC, t.rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		var r TaskRecord
		var sessionID, phase, errMsg sql.NullString
		if err := rows.Scan(&r.TaskID, &sessionID, &phase, &errMsg, &r.ArchivedAt, &r.Items, &r.Comments); err != nil {
			return nil, err
		}
		r.SessionID = sessionID.String
		r.Phase = types.Phase(phase.String)
		r.Error = errMsg.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (a *Archive) loadItems(ctx context.Context, taskID string) ([]types.ContentItem, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT url, comment_count FROM items WHERE task_id = ? ORDER BY position
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []types.ContentItem
	index := make(map[string]int)
	for rows.Next() {
		var it types.ContentItem
		if err := rows.Scan(&it.URL, &it.CommentCount); err != nil {
			return nil, err
		}
		index[it.URL] = len(items)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	crows, err := a.db.QueryContext(ctx, `
		SELECT url, author_name, text, label, profile_url FROM comments WHERE task_id = ? ORDER BY url, idx
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer crows.Close()

	for crows.Next() {
		var url string
		var author, text, label, profile sql.NullString
		if err := crows.Scan(&url, &author, &text, &label, &profile); err != nil {
			return nil, err
		}
		pos, ok := index[url]
		if !ok {
			continue
		}
		items[pos].Comments = append(items[pos].Comments, types.Comment{
			AuthorName:       author.String,
			Text:             text.String,
			Label:            label.String,
			AuthorProfileURL: profile.String,
		})
	}
	return items, crows.Err()
}
