package store

import (
	"context"

	"github.com/bcrosbie/quoteengine/internal/domain"
)

// Backend is the durable side of the record store. Save receives the full
// record set and replaces whatever was stored before.
type Backend interface {
	Load(ctx context.Context) ([]domain.WorkflowRecord, error)
	Save(ctx context.Context, records []domain.WorkflowRecord) error
	Close() error
}
