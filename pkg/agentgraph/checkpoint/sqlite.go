package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists checkpoints to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens (or creates) a SQLite checkpoint database.
// path is a file path or ":memory:".
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Each :memory: connection is a separate database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id   TEXT    NOT NULL,
			sequence_no INTEGER NOT NULL,
			state_blob  BLOB    NOT NULL,
			created_at  TEXT    NOT NULL,
			PRIMARY KEY (thread_id, sequence_no)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, cp Checkpoint) error {
	if err := validate(cp); err != nil {
		return err
	}
	cp = stamp(cp)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (thread_id, sequence_no, state_blob, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(thread_id, sequence_no) DO NOTHING
	`, cp.ThreadID, cp.Sequence, cp.Blob, cp.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("put checkpoint: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("put checkpoint: %w", err)
	}
	if n == 0 {
		return ErrSequenceConflict
	}
	return nil
}

// Latest implements Store.
func (s *SQLiteStore) Latest(ctx context.Context, threadID string) (Checkpoint, error) {
	return s.queryOne(ctx, threadID, `
		SELECT sequence_no, state_blob, created_at FROM checkpoints
		WHERE thread_id = ?
		ORDER BY sequence_no DESC
		LIMIT 1
	`, threadID)
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, threadID string, sequence int64) (Checkpoint, error) {
	return s.queryOne(ctx, threadID, `
		SELECT sequence_no, state_blob, created_at FROM checkpoints
		WHERE thread_id = ? AND sequence_no = ?
	`, threadID, sequence)
}

func (s *SQLiteStore) queryOne(ctx context.Context, threadID, query string, args ...any) (Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Checkpoint{}, ErrStoreClosed
	}

	cp := Checkpoint{ThreadID: threadID}
	var created string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&cp.Sequence, &cp.Blob, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("load checkpoint: %w", err)
	}
	cp.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return cp, nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, threadID string) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence_no, created_at, LENGTH(state_blob)
		FROM checkpoints
		WHERE thread_id = ?
		ORDER BY sequence_no
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	infos := []Info{}
	for rows.Next() {
		info := Info{ThreadID: threadID}
		var created string
		if err := rows.Scan(&info.Sequence, &created, &info.Size); err != nil {
			return nil, fmt.Errorf("scan checkpoint info: %w", err)
		}
		info.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return infos, nil
}

// DeleteThread implements Store.
func (s *SQLiteStore) DeleteThread(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("delete thread checkpoints: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
