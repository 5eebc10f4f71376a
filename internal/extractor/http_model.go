package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bcrosbie/quoteengine/internal/domain"
	"github.com/bcrosbie/quoteengine/internal/redact"
)

const maxResponseBytes = 1 << 20

// HTTPModel calls a sidecar that exposes POST /extract and POST /scope.
type HTTPModel struct {
	url      string
	client   *http.Client
	redactor *redact.Redactor
}

func NewHTTPModel(url string, timeout time.Duration, redactor *redact.Redactor) *HTTPModel {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPModel{
		url:      strings.TrimRight(strings.TrimSpace(url), "/"),
		client:   &http.Client{Timeout: timeout},
		redactor: redactor,
	}
}

type extractRequest struct {
	Title string `json:"title"`
	Brief string `json:"brief"`
}

type scopeRequest struct {
	Title         string                   `json:"title"`
	Brief         string                   `json:"brief"`
	Extraction    *domain.ExtractionResult `json:"extraction"`
	Answers       map[string]string        `json:"answers"`
	RiskNotes     []string                 `json:"risk_notes"`
	PreviousScope *domain.ScopeDocument    `json:"previous_scope,omitempty"`
}

func (m *HTTPModel) Extract(ctx context.Context, title, brief string) (domain.ExtractionResult, error) {
	var out domain.ExtractionResult
	err := m.post(ctx, "/extract", extractRequest{
		Title: m.redactor.Apply(title),
		Brief: m.redactor.Apply(brief),
	}, &out)
	if err != nil {
		return domain.ExtractionResult{}, err
	}
	out.Source = SourceModel
	return out, nil
}

func (m *HTTPModel) DraftScope(ctx context.Context, record domain.WorkflowRecord) (domain.ScopeDocument, error) {
	request := scopeRequest{
		Title:         m.redactor.Apply(record.Title),
		Brief:         m.redactor.Apply(record.Brief),
		Extraction:    record.Extraction,
		Answers:       map[string]string{},
		RiskNotes:     record.RiskNotes,
		PreviousScope: record.Scope,
	}
	if record.Clarification != nil {
		for key, value := range record.Clarification.Resolved() {
			request.Answers[key] = m.redactor.Apply(value)
		}
	}

	var out domain.ScopeDocument
	if err := m.post(ctx, "/scope", request, &out); err != nil {
		return domain.ScopeDocument{}, err
	}
	return out, nil
}

func (m *HTTPModel) post(ctx context.Context, path string, body any, out any) error {
	requestBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url+path, bytes.NewReader(requestBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call model %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("model %s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("failed to decode model %s response: %w", path, err)
	}
	return nil
}
