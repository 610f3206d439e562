package checkpoint

import (
	"cmp"
	"context"
	"slices"
	"sync"
)

// MemoryStore keeps checkpoints in process memory.
// Suitable for tests and single-process deployments without crash recovery.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string][]Checkpoint // ordered by sequence
	closed  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string][]Checkpoint)}
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, cp Checkpoint) error {
	if err := validate(cp); err != nil {
		return err
	}
	cp = stamp(cp)
	cp.Blob = slices.Clone(cp.Blob)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	records := s.threads[cp.ThreadID]
	i, found := slices.BinarySearchFunc(records, cp.Sequence, func(c Checkpoint, seq int64) int {
		return cmp.Compare(c.Sequence, seq)
	})
	if found {
		return ErrSequenceConflict
	}
	s.threads[cp.ThreadID] = slices.Insert(records, i, cp)
	return nil
}

// Latest implements Store.
func (s *MemoryStore) Latest(_ context.Context, threadID string) (Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Checkpoint{}, ErrStoreClosed
	}

	records := s.threads[threadID]
	if len(records) == 0 {
		return Checkpoint{}, ErrNotFound
	}
	return copyCheckpoint(records[len(records)-1]), nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, threadID string, sequence int64) (Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return Checkpoint{}, ErrStoreClosed
	}

	for _, cp := range s.threads[threadID] {
		if cp.Sequence == sequence {
			return copyCheckpoint(cp), nil
		}
	}
	return Checkpoint{}, ErrNotFound
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, threadID string) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	records := s.threads[threadID]
	infos := make([]Info, 0, len(records))
	for _, cp := range records {
		infos = append(infos, Info{
			ThreadID:  cp.ThreadID,
			Sequence:  cp.Sequence,
			CreatedAt: cp.CreatedAt,
			Size:      int64(len(cp.Blob)),
		})
	}
	return infos, nil
}

// DeleteThread implements Store.
func (s *MemoryStore) DeleteThread(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	delete(s.threads, threadID)
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.threads = nil
	return nil
}

func copyCheckpoint(cp Checkpoint) Checkpoint {
	cp.Blob = slices.Clone(cp.Blob)
	return cp
}
