package usage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ModelUsage is the running total for one model.
type ModelUsage struct {
	Model            string    `json:"model"`
	PromptTokens     int64     `json:"promptTokens"`
	CompletionTokens int64     `json:"completionTokens"`
	Calls            int64     `json:"calls"`
	Cost             float64   `json:"cost"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func (m ModelUsage) TotalTokens() int64 {
	return m.PromptTokens + m.CompletionTokens
}

// Store persists per-model totals. Add must be an atomic increment: two
// writers adding concurrently never lose an update.
type Store interface {
	Add(ctx context.Context, delta ModelUsage) error
	Load(ctx context.Context) ([]ModelUsage, error)
	Reset(ctx context.Context) error
	Close() error
}

// MemoryStore keeps totals for the lifetime of the process.
type MemoryStore struct {
	mu     sync.Mutex
	models map[string]ModelUsage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{models: make(map[string]ModelUsage)}
}

func (s *MemoryStore) Add(_ context.Context, delta ModelUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.models[delta.Model]
	cur.Model = delta.Model
	cur.PromptTokens += delta.PromptTokens
	cur.CompletionTokens += delta.CompletionTokens
	cur.Calls += delta.Calls
	cur.Cost += delta.Cost
	cur.UpdatedAt = time.Now().UTC()
	s.models[delta.Model] = cur
	return nil
}

func (s *MemoryStore) Load(context.Context) ([]ModelUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ModelUsage, 0, len(s.models))
	for _, m := range s.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out, nil
}

func (s *MemoryStore) Reset(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models = make(map[string]ModelUsage)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
