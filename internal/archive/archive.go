// Package archive copies records out of the live store before they are
// removed, either on cancellation or when their TTL runs out.
package archive

import (
	"context"
	"fmt"

	"github.com/bcrosbie/quoteengine/internal/domain"
)

type Archiver interface {
	Archive(ctx context.Context, record domain.WorkflowRecord) error
}

// NopArchiver drops records. It is used when no object store is configured.
type NopArchiver struct{}

func (NopArchiver) Archive(context.Context, domain.WorkflowRecord) error {
	return nil
}

// ObjectName places a record under records/<yyyy>/<mm>/<id>.json, keyed by
// its creation month.
func ObjectName(record domain.WorkflowRecord) string {
	created := record.CreatedAt.UTC()
	return fmt.Sprintf("records/%04d/%02d/%s.json", created.Year(), int(created.Month()), record.ID)
}
