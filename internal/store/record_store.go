package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bcrosbie/quoteengine/internal/domain"
	"github.com/bcrosbie/quoteengine/internal/metrics"
	"github.com/bcrosbie/quoteengine/internal/stages"
	"github.com/google/uuid"
)

const (
	DefaultFlushDebounce = time.Second
	defaultFlushTimeout  = 30 * time.Second
)

type Options struct {
	FlushDebounce time.Duration
	RecordTTL     time.Duration
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
	Now           func() time.Time
	NewID         func() string
}

// RecordStore keeps workflow records in memory and writes them behind a
// debounced flush. A crash inside the debounce window loses those writes.
type RecordStore struct {
	backend Backend
	opts    Options

	mu      sync.RWMutex
	records map[string]domain.WorkflowRecord
	locks   *keyedMutex

	flushMu sync.Mutex
	timer   *time.Timer
	dirty   bool
	closed  bool

	saveMu sync.Mutex
}

func NewRecordStore(backend Backend, opts Options) *RecordStore {
	if opts.FlushDebounce <= 0 {
		opts.FlushDebounce = DefaultFlushDebounce
	}
	if opts.RecordTTL <= 0 {
		opts.RecordTTL = domain.DefaultRecordTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &RecordStore{
		backend: backend,
		opts:    opts,
		records: map[string]domain.WorkflowRecord{},
		locks:   newKeyedMutex(),
	}
}

func (s *RecordStore) Load(ctx context.Context) error {
	loaded, err := s.backend.Load(ctx)
	if err != nil {
		return err
	}

	next := make(map[string]domain.WorkflowRecord, len(loaded))
	for _, record := range loaded {
		next[record.ID] = domain.NormalizeRecord(record)
	}

	s.mu.Lock()
	s.records = next
	s.mu.Unlock()
	s.opts.Logger.Info("record store loaded", "records", len(next))
	return nil
}

// Flush writes the current state immediately, cancelling any pending timer.
func (s *RecordStore) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.dirty = false
	s.flushMu.Unlock()

	if err := s.save(ctx); err != nil {
		s.flushMu.Lock()
		s.dirty = true
		s.flushMu.Unlock()
		return err
	}
	return nil
}

func (s *RecordStore) Close() error {
	s.flushMu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	pending := s.dirty
	s.dirty = false
	s.flushMu.Unlock()

	if pending {
		ctx, cancel := context.WithTimeout(context.Background(), defaultFlushTimeout)
		defer cancel()
		if err := s.save(ctx); err != nil {
			s.opts.Logger.Error("final record store flush failed", "error", err)
		}
	}
	return s.backend.Close()
}

func (s *RecordStore) Create(params domain.CreateParams) (domain.WorkflowRecord, error) {
	now := s.opts.Now()
	record := domain.NormalizeRecord(domain.WorkflowRecord{
		ID:             s.opts.NewID(),
		CurrentStage:   domain.StageInit,
		History:        []domain.StageTransition{{Stage: domain.StageInit, At: now, Trigger: domain.TriggerSystem}},
		Title:          params.Title,
		Brief:          params.Brief,
		ClientID:       params.ClientID,
		CounterpartyID: params.CounterpartyID,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(s.opts.RecordTTL),
	})

	s.mu.Lock()
	if _, exists := s.records[record.ID]; exists {
		s.mu.Unlock()
		return domain.WorkflowRecord{}, domain.Conflict("record id already exists")
	}
	s.records[record.ID] = record
	s.mu.Unlock()

	s.markDirty()
	return s.clone(record)
}

func (s *RecordStore) Get(id string) (domain.WorkflowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return domain.WorkflowRecord{}, domain.RecordNotFound(id)
	}
	return s.clone(record)
}

// Update merges patch into the record without touching its stage.
func (s *RecordStore) Update(id string, patch domain.RecordPatch) (domain.WorkflowRecord, error) {
	return s.Mutate(id, func(m *Mutation) error {
		m.Apply(patch)
		return nil
	})
}

func (s *RecordStore) Transition(id string, to domain.Stage, trigger domain.TriggerKind, metadata map[string]any) (domain.WorkflowRecord, error) {
	return s.Mutate(id, func(m *Mutation) error {
		return m.Transition(to, trigger, metadata)
	})
}

// Mutate runs fn against a private copy of the record and commits it only
// if fn succeeds. Mutations of one record are serialized.
func (s *RecordStore) Mutate(id string, fn func(*Mutation) error) (domain.WorkflowRecord, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	current, err := s.Get(id)
	if err != nil {
		return domain.WorkflowRecord{}, err
	}

	now := s.opts.Now()
	// History stays in time order even if the wall clock steps backwards.
	if last, ok := current.LastTransition(); ok && now.Before(last.At) {
		now = last.At
	}
	mutation := &Mutation{record: &current, now: now}
	if err := fn(mutation); err != nil {
		return domain.WorkflowRecord{}, err
	}

	next := *mutation.record
	if next.ID != id {
		return domain.WorkflowRecord{}, domain.Internal("mutation changed the record id", nil)
	}
	if last, ok := next.LastTransition(); !ok || last.Stage != next.CurrentStage {
		return domain.WorkflowRecord{}, domain.Internal("current stage diverged from history", nil)
	}
	next.UpdatedAt = mutation.now
	// Only records that survive an encode round trip are committed, so later
	// reads and flushes cannot fail on them.
	next, err = s.clone(domain.NormalizeRecord(next))
	if err != nil {
		return domain.WorkflowRecord{}, err
	}

	s.mu.Lock()
	if _, ok := s.records[id]; !ok {
		s.mu.Unlock()
		return domain.WorkflowRecord{}, domain.RecordNotFound(id)
	}
	s.records[id] = next
	s.mu.Unlock()

	for _, step := range mutation.steps {
		s.opts.Metrics.RecordTransition(context.Background(), step.from, step.to, step.trigger)
	}
	s.markDirty()
	return s.clone(next)
}

// List returns matching records, most recently updated first.
func (s *RecordStore) List(filter domain.RecordFilter) []domain.WorkflowRecord {
	s.mu.RLock()
	out := make([]domain.WorkflowRecord, 0, len(s.records))
	for _, record := range s.records {
		if !matches(record, filter) {
			continue
		}
		out = append(out, record)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	cloned := out[:0]
	for _, record := range out {
		copied, err := domain.CloneRecord(record)
		if err != nil {
			s.opts.Logger.Error("record skipped from listing", "record_id", record.ID, "error", err)
			continue
		}
		cloned = append(cloned, copied)
	}
	return cloned
}

// SweepExpired removes records whose TTL has passed and returns them.
func (s *RecordStore) SweepExpired(now time.Time) []domain.WorkflowRecord {
	s.mu.Lock()
	removed := []domain.WorkflowRecord{}
	for id, record := range s.records {
		if !record.Expired(now) {
			continue
		}
		removed = append(removed, record)
		delete(s.records, id)
	}
	s.mu.Unlock()

	if len(removed) == 0 {
		return removed
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].ID < removed[j].ID })
	s.opts.Metrics.RecordSwept(context.Background(), len(removed))
	s.markDirty()
	return removed
}

func (s *RecordStore) Delete(id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	s.mu.Lock()
	if _, ok := s.records[id]; !ok {
		s.mu.Unlock()
		return domain.RecordNotFound(id)
	}
	delete(s.records, id)
	s.mu.Unlock()

	s.markDirty()
	return nil
}

func (s *RecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *RecordStore) snapshot() ([]domain.WorkflowRecord, error) {
	s.mu.RLock()
	out := make([]domain.WorkflowRecord, 0, len(s.records))
	for _, record := range s.records {
		copied, err := domain.CloneRecord(record)
		if err != nil {
			s.mu.RUnlock()
			return nil, err
		}
		out = append(out, copied)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// clone copies a record for a caller, reporting encode failures as internal
// errors that keep their cause.
func (s *RecordStore) clone(record domain.WorkflowRecord) (domain.WorkflowRecord, error) {
	copied, err := domain.CloneRecord(record)
	if err != nil {
		return domain.WorkflowRecord{}, domain.Internal("record cannot be encoded", err)
	}
	return copied, nil
}

// markDirty restarts the debounce window.
func (s *RecordStore) markDirty() {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	if s.closed {
		return
	}
	s.dirty = true
	if s.timer == nil {
		s.timer = time.AfterFunc(s.opts.FlushDebounce, s.flushDirty)
		return
	}
	s.timer.Reset(s.opts.FlushDebounce)
}

func (s *RecordStore) flushDirty() {
	s.flushMu.Lock()
	if !s.dirty || s.closed {
		s.flushMu.Unlock()
		return
	}
	s.dirty = false
	s.flushMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), defaultFlushTimeout)
	defer cancel()
	if err := s.save(ctx); err != nil {
		// Left dirty so the next mutation schedules a retry.
		s.flushMu.Lock()
		s.dirty = true
		s.flushMu.Unlock()
		s.opts.Metrics.RecordFlushFailure(ctx)
		s.opts.Logger.Error("record store flush failed", "error", err)
	}
}

func (s *RecordStore) save(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	records, err := s.snapshot()
	if err != nil {
		return err
	}
	return s.backend.Save(ctx, records)
}

func matches(record domain.WorkflowRecord, filter domain.RecordFilter) bool {
	if filter.ClientID != "" && record.ClientID != filter.ClientID {
		return false
	}
	if filter.CounterpartyID != "" && record.CounterpartyID != filter.CounterpartyID {
		return false
	}
	if filter.Stage != "" && record.CurrentStage != filter.Stage {
		return false
	}
	if filter.RequiresReview != nil && record.RequiresHumanReview != *filter.RequiresReview {
		return false
	}
	return true
}

type transitionStep struct {
	from    domain.Stage
	to      domain.Stage
	trigger domain.TriggerKind
}

// Mutation is the working copy handed to Mutate callbacks.
type Mutation struct {
	record *domain.WorkflowRecord
	now    time.Time
	steps  []transitionStep
}

func (m *Mutation) Record() *domain.WorkflowRecord {
	return m.record
}

func (m *Mutation) Now() time.Time {
	return m.now
}

func (m *Mutation) Apply(patch domain.RecordPatch) {
	patch.Apply(m.record)
}

// Transition validates and appends one history entry.
func (m *Mutation) Transition(to domain.Stage, trigger domain.TriggerKind, metadata map[string]any) error {
	from := m.record.CurrentStage
	if err := stages.ValidateTrigger(from, to, trigger); err != nil {
		return err
	}

	var copied map[string]any
	if len(metadata) > 0 {
		copied = make(map[string]any, len(metadata))
		for key, value := range metadata {
			copied[key] = value
		}
	}
	m.record.History = append(m.record.History, domain.StageTransition{
		Stage:    to,
		At:       m.now,
		Trigger:  trigger,
		Metadata: copied,
	})
	m.record.CurrentStage = to
	m.steps = append(m.steps, transitionStep{from: from, to: to, trigger: trigger})
	return nil
}
