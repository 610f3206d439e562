// Package checkpoint persists state snapshots for crash recovery.
//
// Checkpoints are append-only: each write adds a new (thread_id, sequence_no)
// record and nothing is updated in place. Readers only ever need the latest
// record of a thread. Garbage collection of old records happens out of band
// (DeleteThread, or a TTL on stores that support one).
package checkpoint

import (
	"context"
	"errors"
	"time"
)

// Store persists checkpoints keyed by thread ID.
// Implementations must be safe for concurrent use.
type Store interface {
	// Put appends a checkpoint. Returns ErrSequenceConflict if the thread
	// already has a checkpoint with the same sequence number.
	Put(ctx context.Context, cp Checkpoint) error

	// Latest returns the checkpoint with the highest sequence number.
	// Returns ErrNotFound if the thread has none.
	Latest(ctx context.Context, threadID string) (Checkpoint, error)

	// Get returns a specific checkpoint, or ErrNotFound.
	Get(ctx context.Context, threadID string, sequence int64) (Checkpoint, error)

	// List returns metadata for every checkpoint of a thread, ordered by
	// sequence. An unknown thread yields an empty slice.
	List(ctx context.Context, threadID string) ([]Info, error)

	// DeleteThread removes all checkpoints of a thread.
	DeleteThread(ctx context.Context, threadID string) error

	// Close releases connections and files.
	Close() error
}

// Checkpoint is one immutable snapshot record.
type Checkpoint struct {
	ThreadID  string    `json:"thread_id"`
	Sequence  int64     `json:"sequence_no"`
	Blob      []byte    `json:"state_blob"`
	CreatedAt time.Time `json:"created_at"`
}

// Info describes a checkpoint without its blob.
type Info struct {
	ThreadID  string
	Sequence  int64
	CreatedAt time.Time
	Size      int64
}

var (
	// ErrNotFound indicates a checkpoint doesn't exist.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")

	// ErrSequenceConflict indicates a write for an existing (thread, sequence).
	ErrSequenceConflict = errors.New("checkpoint sequence already exists")

	// ErrInvalidCheckpoint indicates a record with no thread or a
	// non-positive sequence.
	ErrInvalidCheckpoint = errors.New("invalid checkpoint")
)

func validate(cp Checkpoint) error {
	if cp.ThreadID == "" {
		return errors.Join(ErrInvalidCheckpoint, errors.New("thread id is empty"))
	}
	if cp.Sequence <= 0 {
		return errors.Join(ErrInvalidCheckpoint, errors.New("sequence must be positive"))
	}
	return nil
}

func stamp(cp Checkpoint) Checkpoint {
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	return cp
}
