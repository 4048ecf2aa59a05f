package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Sirius1942/Omniparser-tars/internal/engine"
)

// ErrNotFound is returned by Load when no checkpoint exists for a task.
var ErrNotFound = errors.New("checkpoint not found")

// Store persists task state snapshots to SQLite, one row per task. Each
// save overwrites the previous snapshot so a task can be inspected or
// resumed at its latest phase boundary.
type Store struct {
	db *sql.DB
}

var _ engine.CheckpointSaver = (*Store)(nil)

// NewStore opens (or creates) the checkpoint database at the given path.
func NewStore(ctx context.Context, dbPath string) (*Store, error) {
	// WAL mode allows concurrent readers while a save is in flight.
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support multiple writers well
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
    task_id     TEXT PRIMARY KEY,
    state       TEXT NOT NULL,
    phase       TEXT NOT NULL,
    iteration   INTEGER NOT NULL,
    is_complete INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_updated ON checkpoints(updated_at);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create checkpoints table: %w", err)
	}
	return nil
}

// Save upserts the latest snapshot of the task.
func (s *Store) Save(ctx context.Context, st *engine.TaskState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal task state: %w", err)
	}
	complete := 0
	if st.IsComplete {
		complete = 1
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO checkpoints (task_id, state, phase, iteration, is_complete, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(task_id) DO UPDATE SET
    state = excluded.state,
    phase = excluded.phase,
    iteration = excluded.iteration,
    is_complete = excluded.is_complete,
    updated_at = excluded.updated_at`,
		st.TaskID, string(raw), string(st.CurrentPhase), st.IterationCount, complete, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save checkpoint for %s: %w", st.TaskID, err)
	}
	return nil
}

// Load returns the latest snapshot for a task, or ErrNotFound.
func (s *Store) Load(ctx context.Context, taskID string) (*engine.TaskState, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM checkpoints WHERE task_id = ?`, taskID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint for %s: %w", taskID, err)
	}
	var st engine.TaskState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("decode checkpoint for %s: %w", taskID, err)
	}
	return &st, nil
}

// List returns task IDs of stored checkpoints, most recently updated first.
func (s *Store) List(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id FROM checkpoints ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan checkpoint row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
