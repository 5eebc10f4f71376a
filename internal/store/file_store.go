package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/bcrosbie/quoteengine/internal/domain"
)

// FileBackend stores every record as one JSON array on disk.
type FileBackend struct {
	path string
}

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

func (b *FileBackend) Path() string {
	return b.path
}

func (b *FileBackend) Load(ctx context.Context) ([]domain.WorkflowRecord, error) {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return nil, domain.Internal("failed to create data directory", err)
	}

	raw, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []domain.WorkflowRecord{}, b.Save(ctx, nil)
		}
		return nil, domain.Internal("failed to read data file", err)
	}
	if len(raw) == 0 {
		return []domain.WorkflowRecord{}, nil
	}

	var parsed []domain.WorkflowRecord
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, domain.Internal("failed to parse data file", err)
	}
	for i := range parsed {
		parsed[i] = domain.NormalizeRecord(parsed[i])
	}
	return parsed, nil
}

func (b *FileBackend) Save(_ context.Context, records []domain.WorkflowRecord) error {
	if records == nil {
		records = []domain.WorkflowRecord{}
	}
	serialized, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return domain.Internal("failed to serialize records", err)
	}

	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return domain.Internal("failed to create data directory", err)
	}
	unlock, err := lockFile(b.path + ".lock")
	if err != nil {
		return domain.Internal("failed to lock data file", err)
	}
	defer func() {
		_ = unlock()
	}()

	tempPath := b.path + ".tmp"
	if err := os.WriteFile(tempPath, append(serialized, '\n'), 0o600); err != nil {
		return domain.Internal("failed to write temporary data file", err)
	}
	if err := os.Rename(tempPath, b.path); err != nil {
		return domain.Internal("failed to atomically persist data file", err)
	}
	return nil
}

func (b *FileBackend) Close() error {
	return nil
}
