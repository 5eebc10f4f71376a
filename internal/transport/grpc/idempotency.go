package grpcx

import (
	"sync"
	"time"

	"github.com/bcrosbie/quoteengine/internal/domain"
)

type IdempotencyRecord struct {
	RequestHash  string
	ResponseJSON string
	Completed    bool
	CreatedAt    time.Time
}

// IdempotencyStore reserves a key before the handler runs. Reserve returns
// the existing record and false when the key is already taken.
type IdempotencyStore interface {
	Reserve(method, key, requestHash string) (IdempotencyRecord, bool, error)
	Complete(method, key, responseJSON string) error
	Release(method, key string) error
}

// MemoryIdempotencyStore keeps keys in process memory and forgets them after ttl.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	records map[string]IdempotencyRecord
}

func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryIdempotencyStore{
		ttl:     ttl,
		now:     time.Now,
		records: map[string]IdempotencyRecord{},
	}
}

func (s *MemoryIdempotencyStore) Reserve(method, key, requestHash string) (IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evict(now)
	slot := method + "::" + key
	if record, ok := s.records[slot]; ok {
		return record, false, nil
	}
	s.records[slot] = IdempotencyRecord{RequestHash: requestHash, CreatedAt: now}
	return IdempotencyRecord{}, true, nil
}

func (s *MemoryIdempotencyStore) Complete(method, key, responseJSON string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := method + "::" + key
	record, ok := s.records[slot]
	if !ok {
		return domain.NotFound("idempotency key not found")
	}
	record.ResponseJSON = responseJSON
	record.Completed = true
	s.records[slot] = record
	return nil
}

func (s *MemoryIdempotencyStore) Release(method, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := method + "::" + key
	if record, ok := s.records[slot]; ok && !record.Completed {
		delete(s.records, slot)
	}
	return nil
}

func (s *MemoryIdempotencyStore) evict(now time.Time) {
	for slot, record := range s.records {
		if now.Sub(record.CreatedAt) > s.ttl {
			delete(s.records, slot)
		}
	}
}
