package store

import (
	"context"
	"sync"

	"github.com/bcrosbie/quoteengine/internal/domain"
)

// MemoryBackend keeps the saved record set in process memory. Records do not
// survive a restart.
type MemoryBackend struct {
	mu      sync.Mutex
	records []domain.WorkflowRecord
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (b *MemoryBackend) Load(context.Context) ([]domain.WorkflowRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.WorkflowRecord, 0, len(b.records))
	for _, record := range b.records {
		copied, err := domain.CloneRecord(record)
		if err != nil {
			return nil, err
		}
		out = append(out, copied)
	}
	return out, nil
}

func (b *MemoryBackend) Save(_ context.Context, records []domain.WorkflowRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	saved := make([]domain.WorkflowRecord, 0, len(records))
	for _, record := range records {
		copied, err := domain.CloneRecord(record)
		if err != nil {
			return err
		}
		saved = append(saved, copied)
	}
	b.records = saved
	return nil
}

func (b *MemoryBackend) Close() error { return nil }
