// Package extractor is the boundary to the generative model that turns a
// brief into structured facts and drafts a scope.
package extractor

import (
	"context"

	"github.com/bcrosbie/quoteengine/internal/domain"
)

// Model is fallible; callers treat every error as an upstream failure.
type Model interface {
	Extract(ctx context.Context, title, brief string) (domain.ExtractionResult, error)
	DraftScope(ctx context.Context, record domain.WorkflowRecord) (domain.ScopeDocument, error)
}

const (
	SourceHeuristic = "heuristic"
	SourceModel     = "model"
)
