package errlog

import (
	"context"
	"sync"

	"github.com/dl-alexandre/cellsync/internal/sync/index"
)

type MemoryStore struct {
	mu       sync.Mutex
	messages []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, message string, _ int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
	return nil
}

func (s *MemoryStore) List(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...), nil
}

func (s *MemoryStore) Pop(context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return "", false, nil
	}
	last := s.messages[len(s.messages)-1]
	s.messages = s.messages[:len(s.messages)-1]
	return last, true, nil
}

func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	return nil
}

// IndexStore keeps the log in the sqlite index so it survives restarts
type IndexStore struct {
	db *index.DB
}

func NewIndexStore(db *index.DB) *IndexStore {
	return &IndexStore{db: db}
}

func (s *IndexStore) Append(ctx context.Context, message string, at int64) error {
	return s.db.AppendError(ctx, message, at)
}

func (s *IndexStore) List(ctx context.Context) ([]string, error) {
	entries, err := s.db.ListErrors(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Message)
	}
	return out, nil
}

func (s *IndexStore) Pop(ctx context.Context) (string, bool, error) {
	e, err := s.db.PopError(ctx)
	if err != nil || e == nil {
		return "", false, err
	}
	return e.Message, true, nil
}

func (s *IndexStore) Clear(ctx context.Context) error {
	return s.db.ClearErrors(ctx)
}
