package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bcrosbie/quoteengine/internal/archive"
	"github.com/bcrosbie/quoteengine/internal/domain"
	"github.com/bcrosbie/quoteengine/internal/extractor"
	"github.com/bcrosbie/quoteengine/internal/logger"
	"github.com/bcrosbie/quoteengine/internal/metrics"
	"github.com/bcrosbie/quoteengine/internal/pricing"
	"github.com/bcrosbie/quoteengine/internal/risk"
	"github.com/bcrosbie/quoteengine/internal/schema"
	"github.com/bcrosbie/quoteengine/internal/scoring"
	"github.com/bcrosbie/quoteengine/internal/stages"
	"github.com/bcrosbie/quoteengine/internal/store"
)

type Dependencies struct {
	Store       *store.RecordStore
	Model       extractor.Model
	Pricer      *pricing.Pricer
	Archiver    archive.Archiver
	Metrics     *metrics.Metrics
	StoreDriver string
	Now         func() time.Time
}

// QuoteService drives records through the quoting pipeline. Every mutating
// operation commits its field updates and stage changes together.
type QuoteService struct {
	store       *store.RecordStore
	model       extractor.Model
	pricer      *pricing.Pricer
	archiver    archive.Archiver
	metrics     *metrics.Metrics
	storeDriver string
	now         func() time.Time
}

func NewQuoteService(deps Dependencies) *QuoteService {
	if deps.Model == nil {
		deps.Model = extractor.NewHeuristicModel()
	}
	if deps.Pricer == nil {
		deps.Pricer = pricing.New(pricing.Config{})
	}
	if deps.Archiver == nil {
		deps.Archiver = archive.NopArchiver{}
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	return &QuoteService{
		store:       deps.Store,
		model:       deps.Model,
		pricer:      deps.Pricer,
		archiver:    deps.Archiver,
		metrics:     deps.Metrics,
		storeDriver: deps.StoreDriver,
		now:         deps.Now,
	}
}

type CreateRecordRequest struct {
	Title          string `json:"title"`
	Brief          string `json:"brief"`
	ClientID       string `json:"client_id"`
	CounterpartyID string `json:"counterparty_id"`
}

type RecordIDRequest struct {
	ID string `json:"id"`
}

type ExtractionRequest struct {
	ID         string                  `json:"id"`
	Extraction domain.ExtractionResult `json:"extraction"`
}

type ClarificationRequest struct {
	ID      string            `json:"id"`
	Answers map[string]string `json:"answers"`
	Skipped []string          `json:"skipped"`
}

type ScopeRequest struct {
	ID    string                 `json:"id"`
	Scope domain.ScopeDocument   `json:"scope"`
	Risk  *domain.RiskAssessment `json:"risk,omitempty"`
}

type ApproveScopeRequest struct {
	ID               string `json:"id"`
	BaseRateLamports int64  `json:"base_rate_lamports"`
}

type RequoteRequest struct {
	ID               string  `json:"id"`
	RevisedHours     float64 `json:"revised_hours"`
	Urgency          string  `json:"urgency"`
	BaseRateLamports int64   `json:"base_rate_lamports"`
}

type FundingRequest struct {
	ID          string `json:"id"`
	ExternalRef string `json:"external_ref"`
}

type CancelRequest struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

type ReviewRequest struct {
	ID   string `json:"id"`
	Note string `json:"note"`
}

type ListRecordsRequest struct {
	ClientID       string `json:"client_id"`
	CounterpartyID string `json:"counterparty_id"`
	Stage          string `json:"stage"`
	RequiresReview *bool  `json:"requires_review"`
	Limit          int    `json:"limit"`
}

type AssessRiskRequest struct {
	ScopeText    string            `json:"scope_text"`
	Deliverables []string          `json:"deliverables"`
	Answers      map[string]string `json:"answers"`
}

// RecordView pairs a record with the verbs a caller may invoke next.
type RecordView struct {
	Record      domain.WorkflowRecord `json:"record"`
	NextActions []stages.Action       `json:"next_actions"`
}

func View(record domain.WorkflowRecord) RecordView {
	return RecordView{Record: record, NextActions: stages.NextActions(record.CurrentStage)}
}

func (s *QuoteService) Health() map[string]any {
	return map[string]any{
		"status":       "ok",
		"store_driver": s.storeDriver,
		"records":      s.store.Len(),
		"time_utc":     s.now().Format(time.RFC3339Nano),
	}
}

func (s *QuoteService) CreateRecord(ctx context.Context, request CreateRecordRequest) (domain.WorkflowRecord, error) {
	params, err := schema.CreateParams(domain.CreateParams{
		Title:          request.Title,
		Brief:          request.Brief,
		ClientID:       request.ClientID,
		CounterpartyID: request.CounterpartyID,
	})
	if err != nil {
		return domain.WorkflowRecord{}, err
	}
	record, err := s.store.Create(params)
	if err != nil {
		return domain.WorkflowRecord{}, err
	}
	logger.WithContext(logger.WithRecordID(ctx, record.ID)).Info("record created", "client_id", record.ClientID)
	return record, nil
}

func (s *QuoteService) GetRecord(request RecordIDRequest) (domain.WorkflowRecord, error) {
	id, err := schema.RecordID(request.ID)
	if err != nil {
		return domain.WorkflowRecord{}, err
	}
	return s.store.Get(id)
}

func (s *QuoteService) ListRecords(request ListRecordsRequest) ([]domain.WorkflowRecord, error) {
	filter := domain.RecordFilter{
		ClientID:       strings.TrimSpace(request.ClientID),
		CounterpartyID: strings.TrimSpace(request.CounterpartyID),
		RequiresReview: request.RequiresReview,
		Limit:          request.Limit,
	}
	if request.Limit < 0 {
		return nil, domain.InvalidArgument("limit must not be negative")
	}
	if strings.TrimSpace(request.Stage) != "" {
		stage, err := stages.Parse(request.Stage)
		if err != nil {
			return nil, err
		}
		filter.Stage = stage
	}
	return s.store.List(filter), nil
}

// Analyze runs the extractor. A failed or malformed extraction sends the
// record back to init with an error trigger.
func (s *QuoteService) Analyze(ctx context.Context, request RecordIDRequest) (domain.WorkflowRecord, error) {
	id, err := schema.RecordID(request.ID)
	if err != nil {
		return domain.WorkflowRecord{}, err
	}
	record, err := s.store.Transition(id, domain.StageAnalyzing, domain.TriggerUser, nil)
	if err != nil {
		return domain.WorkflowRecord{}, err
	}

	extraction, err := s.model.Extract(ctx, record.Title, record.Brief)
	if err == nil {
		extraction, err = schema.Extraction(extraction)
	}
	if err != nil {
		return domain.WorkflowRecord{}, s.fallBack(ctx, id, domain.StageInit, "extraction failed", err)
	}
	return s.AdvanceAfterExtraction(ctx, ExtractionRequest{ID: id, Extraction: extraction})
}

func (s *QuoteService) AdvanceAfterExtraction(ctx context.Context, request ExtractionRequest) (domain.WorkflowRecord, error) {
	id, err := schema.RecordID(request.ID)
	if err != nil {
		return domain.WorkflowRecord{}, err
	}
	extraction, err := schema.Extraction(request.Extraction)
	if err != nil {
		return domain.WorkflowRecord{}, err
	}

	return s.store.Mutate(id, func(m *store.Mutation) error {
		record := m.Record()
		next := domain.StageScopeDraft
		if len(extraction.OpenQuestions) > 0 {
			next = domain.StageClarifyPending
		}
		if err := requireStage(record, next, domain.StageInit, domain.StageAnalyzing); err != nil {
			return err
		}
		if record.CurrentStage == domain.StageInit {
			if err := m.Transition(domain.StageAnalyzing, domain.TriggerAutomatic, nil); err != nil {
				return err
			}
		}
		m.Apply(domain.RecordPatch{Extraction: &extraction})
		return m.Transition(next, domain.TriggerModel, map[string]any{
			"open_questions": len(extraction.OpenQuestions),
			"source":         extraction.Source,
		})
	})
}

func (s *QuoteService) SubmitClarification(ctx context.Context, request ClarificationRequest) (domain.WorkflowRecord, error) {
	id, err := schema.RecordID(request.ID)
	if err != nil {
		return domain.WorkflowRecord{}, err
	}
	return s.store.Mutate(id, func(m *store.Mutation) error {
		record := m.Record()
		if err := requireStage(record, domain.StageClarifyComplete, domain.StageClarifyPending); err != nil {
			return err
		}
		var questions []domain.ClarificationQuestion
		if record.Extraction != nil {
			questions = record.Extraction.OpenQuestions
		}
		answers, err := schema.Clarification(questions, request.Answers, request.Skipped, m.Now())
		if err != nil {
			return err
		}
		m.Apply(domain.RecordPatch{Clarification: &answers})
		return m.Transition(domain.StageClarifyComplete, domain.TriggerUser, map[string]any{
			"answered":         len(answers.Answers),
			"defaults_applied": len(answers.AppliedDefaults),
		})
	})
}

// GenerateScope drafts a scope with the model. A failed or malformed draft
// sends the record back to clarify_pending.
func (s *QuoteService) GenerateScope(ctx context.Context, request RecordIDRequest) (domain.WorkflowRecord, error) {
	id, err := schema.RecordID(request.ID)
	if err != nil {
		return domain.WorkflowRecord{}, err
	}
	record, err := s.store.Mutate(id, func(m *store.Mutation) error {
		record := m.Record()
		if err := requireStage(record, domain.StageScopeDraft, domain.StageClarifyComplete, domain.StageScopeDraft, domain.StageScopeReady); err != nil {
			return err
		}
		if record.Extraction == nil {
			return domain.FailedPrecondition("record has no extraction to scope from")
		}
		if record.CurrentStage == domain.StageScopeDraft {
			return nil
		}
		return m.Transition(domain.StageScopeDraft, domain.TriggerUser, nil)
	})
	if err != nil {
		return domain.WorkflowRecord{}, err
	}

	scope, err := s.model.DraftScope(ctx, record)
	if err == nil {
		scope, err = schema.Scope(scope)
	}
	if err != nil {
		return domain.WorkflowRecord{}, s.fallBack(ctx, id, domain.StageClarifyPending, "scope generation failed", err)
	}

	return s.AdvanceAfterScopeGeneration(ctx, ScopeRequest{ID: id, Scope: scope})
}

// AdvanceAfterScopeGeneration stores a scope and its risk flags. Without an
// assessment the risk heuristic runs on the scope itself.
func (s *QuoteService) AdvanceAfterScopeGeneration(ctx context.Context, request ScopeRequest) (domain.WorkflowRecord, error) {
	id, err := schema.RecordID(request.ID)
	if err != nil {
		return domain.WorkflowRecord{}, err
	}
	scope, err := schema.Scope(request.Scope)
	if err != nil {
		return domain.WorkflowRecord{}, err
	}

	record, err := s.store.Mutate(id, func(m *store.Mutation) error {
		record := m.Record()
		if err := requireStage(record, domain.StageScopeReady, domain.StageClarifyComplete, domain.StageScopeDraft); err != nil {
			return err
		}
		assessment := scopeRisk(*record, scope, request.Risk)
		if record.CurrentStage == domain.StageClarifyComplete {
			if err := m.Transition(domain.StageScopeDraft, domain.TriggerAutomatic, nil); err != nil {
				return err
			}
		}

		scope.GeneratedAt = m.Now()
		notes := risk.Notes(assessment)
		review := assessment.RequiresHumanReview
		m.Apply(domain.RecordPatch{
			Scope:               &scope,
			ComplianceFlags:     assessment.Flags,
			RiskNotes:           notes,
			RequiresHumanReview: &review,
		})
		return m.Transition(domain.StageScopeReady, domain.TriggerModel, map[string]any{
			"flags":                 len(assessment.Flags),
			"requires_human_review": review,
		})
	})
	if err != nil {
		return domain.WorkflowRecord{}, err
	}
	if record.RequiresHumanReview {
		logger.WithContext(logger.WithRecordID(ctx, id)).Warn("record flagged for human review", "flags", record.ComplianceFlags)
	}
	return record, nil
}

// ApproveScope scores the approved scope and prices the first quote.
func (s *QuoteService) ApproveScope(ctx context.Context, request ApproveScopeRequest) (domain.WorkflowRecord, error) {
	id, err := schema.RecordID(request.ID)
	if err != nil {
		return domain.WorkflowRecord{}, err
	}
	if err := schema.BaseRate(request.BaseRateLamports); err != nil {
		return domain.WorkflowRecord{}, err
	}

	record, err := s.store.Mutate(id, func(m *store.Mutation) error {
		record := m.Record()
		if err := requireStage(record, domain.StageComplexityCalc, domain.StageScopeReady); err != nil {
			return err
		}
		if record.Extraction == nil || record.Scope == nil {
			return domain.FailedPrecondition("record needs an extraction and a scope before pricing")
		}

		inputs := scoring.DeriveInputs(*record.Extraction, *record.Scope, record.ComplianceFlags)
		if err := schema.ComplexityInputs(inputs); err != nil {
			return err
		}
		complexity := scoring.Score(inputs)
		quote, err := s.pricer.Quote(domain.PricingInput{
			ComplexityScore:  complexity.ComplexityScore,
			EstimatedHours:   inputs.EstimatedHours,
			BaseRateLamports: request.BaseRateLamports,
			Confidence:       inputs.ConfidenceScore,
			Phases:           record.Scope.Phases,
			Urgency:          domain.UrgencyStandard,
		}, m.Now())
		if err != nil {
			return err
		}

		if err := m.Transition(domain.StageComplexityCalc, domain.TriggerUser, nil); err != nil {
			return err
		}
		m.Apply(domain.RecordPatch{Complexity: &complexity, Pricing: &quote})
		return m.Transition(domain.StageQuoteReady, domain.TriggerSystem, map[string]any{
			"complexity_score": complexity.ComplexityScore,
			"total_lamports":   quote.TotalLamports,
		})
	})
	if err != nil {
		return domain.WorkflowRecord{}, err
	}
	s.metrics.RecordQuote(ctx, metrics.QuoteKindInitial)
	return record, nil
}

func (s *QuoteService) BeginEdit(ctx context.Context, request RecordIDRequest) (domain.WorkflowRecord, error) {
	id, err := schema.RecordID(request.ID)
	if err != nil {
		return domain.WorkflowRecord{}, err
	}
	return s.store.Transition(id, domain.StageQuoteEditing, domain.TriggerUser, nil)
}

// Requote prices revised drivers. The replaced quote moves to pricing_history.
// A zero base rate keeps the previous one.
func (s *QuoteService) Requote(ctx context.Context, request RequoteRequest) (domain.WorkflowRecord, error) {
	id, err := schema.RecordID(request.ID)
	if err != nil {
		return domain.WorkflowRecord{}, err
	}
	drivers, err := schema.Drivers(domain.QuoteDrivers{RevisedHours: request.RevisedHours, Urgency: request.Urgency})
	if err != nil {
		return domain.WorkflowRecord{}, err
	}
	if request.BaseRateLamports < 0 {
		return domain.WorkflowRecord{}, domain.InvalidArgument("base_rate_lamports must not be negative")
	}

	record, err := s.store.Mutate(id, func(m *store.Mutation) error {
		record := m.Record()
		if err := requireStage(record, domain.StageQuoteReady, domain.StageQuoteEditing); err != nil {
			return err
		}
		if record.Pricing == nil || record.Complexity == nil {
			return domain.FailedPrecondition("record has no quote to revise")
		}
		prev := *record.Pricing
		rate := request.BaseRateLamports
		if rate == 0 {
			rate = prev.Breakdown.BaseRateLamports
		}
		quote, err := s.pricer.Requote(prev, record.Complexity.ComplexityScore, drivers, rate, prev.Confidence, m.Now())
		if err != nil {
			return err
		}

		record.PricingHistory = append(record.PricingHistory, prev)
		m.Apply(domain.RecordPatch{Pricing: &quote})
		return m.Transition(domain.StageQuoteReady, domain.TriggerUser, map[string]any{
			"revision":       quote.Revision,
			"urgency":        quote.Urgency,
			"total_lamports": quote.TotalLamports,
		})
	})
	if err != nil {
		return domain.WorkflowRecord{}, err
	}
	s.metrics.RecordQuote(ctx, metrics.QuoteKindRequote)
	return record, nil
}

// ConfirmQuote accepts the current quote. Expired quotes need a requote and
// flagged records need a review first.
func (s *QuoteService) ConfirmQuote(ctx context.Context, request RecordIDRequest) (domain.WorkflowRecord, error) {
	id, err := schema.RecordID(request.ID)
	if err != nil {
		return domain.WorkflowRecord{}, err
	}
	return s.store.Mutate(id, func(m *store.Mutation) error {
		record := m.Record()
		if err := requireStage(record, domain.StageConfirmed, domain.StageQuoteReady); err != nil {
			return err
		}
		if record.Pricing == nil {
			return domain.FailedPrecondition("record has no quote to confirm")
		}
		if pricing.IsExpired(*record.Pricing, m.Now()) {
			return domain.QuoteExpired(fmt.Sprintf("quote expired at %s; begin an edit and requote", record.Pricing.ValidUntil.Format(time.RFC3339)))
		}
		if record.RequiresHumanReview {
			return domain.FailedPrecondition("record is awaiting human review")
		}
		return m.Transition(domain.StageConfirmed, domain.TriggerUser, map[string]any{
			"revision":       record.Pricing.Revision,
			"total_lamports": record.Pricing.TotalLamports,
		})
	})
}

// MarkReviewed clears the human review gate raised by critical risk flags.
func (s *QuoteService) MarkReviewed(ctx context.Context, request ReviewRequest) (domain.WorkflowRecord, error) {
	id, err := schema.RecordID(request.ID)
	if err != nil {
		return domain.WorkflowRecord{}, err
	}
	note, err := schema.Reason(request.Note)
	if err != nil {
		return domain.WorkflowRecord{}, err
	}
	return s.store.Mutate(id, func(m *store.Mutation) error {
		record := m.Record()
		if stages.IsTerminal(record.CurrentStage) {
			return domain.FailedPrecondition(fmt.Sprintf("record is %s", record.CurrentStage))
		}
		if !record.RequiresHumanReview {
			return domain.FailedPrecondition("record is not awaiting human review")
		}
		cleared := false
		entry := "reviewed at " + m.Now().Format(time.RFC3339)
		if note != "" {
			entry += ": " + note
		}
		m.Apply(domain.RecordPatch{
			RequiresHumanReview: &cleared,
			RiskNotes:           append(append([]string{}, record.RiskNotes...), entry),
		})
		return nil
	})
}

func (s *QuoteService) RecordFunding(ctx context.Context, request FundingRequest) (domain.WorkflowRecord, error) {
	id, err := schema.RecordID(request.ID)
	if err != nil {
		return domain.WorkflowRecord{}, err
	}
	ref, err := schema.FundingRef(request.ExternalRef)
	if err != nil {
		return domain.WorkflowRecord{}, err
	}
	return s.store.Mutate(id, func(m *store.Mutation) error {
		if err := requireStage(m.Record(), domain.StageFunded, domain.StageConfirmed); err != nil {
			return err
		}
		m.Apply(domain.RecordPatch{FundingRef: &ref})
		return m.Transition(domain.StageFunded, domain.TriggerSystem, map[string]any{"external_ref": ref})
	})
}

func (s *QuoteService) Cancel(ctx context.Context, request CancelRequest) (domain.WorkflowRecord, error) {
	id, err := schema.RecordID(request.ID)
	if err != nil {
		return domain.WorkflowRecord{}, err
	}
	reason, err := schema.Reason(request.Reason)
	if err != nil {
		return domain.WorkflowRecord{}, err
	}
	return s.store.Mutate(id, func(m *store.Mutation) error {
		var metadata map[string]any
		if reason != "" {
			metadata = map[string]any{"reason": reason}
		}
		if err := m.Transition(domain.StageCancelled, domain.TriggerUser, metadata); err != nil {
			return err
		}
		m.Apply(domain.RecordPatch{CancelReason: &reason})
		return nil
	})
}

// ArchiveRecord copies a cancelled record to the archive and removes it.
func (s *QuoteService) ArchiveRecord(ctx context.Context, request RecordIDRequest) error {
	id, err := schema.RecordID(request.ID)
	if err != nil {
		return err
	}
	record, err := s.store.Get(id)
	if err != nil {
		return err
	}
	if record.CurrentStage != domain.StageCancelled {
		return domain.FailedPrecondition(fmt.Sprintf("only cancelled records can be archived; record is %s", record.CurrentStage))
	}
	if err := s.archiver.Archive(ctx, record); err != nil {
		return domain.UpstreamFailure("failed to archive record", err)
	}
	if err := s.store.Delete(id); err != nil {
		return err
	}
	logger.WithContext(logger.WithRecordID(ctx, id)).Info("record archived")
	return nil
}

// SweepExpired removes records past their TTL and archives them. Archive
// failures are logged; the records are already gone from the store.
func (s *QuoteService) SweepExpired(ctx context.Context) int {
	removed := s.store.SweepExpired(s.now())
	for _, record := range removed {
		if err := s.archiver.Archive(ctx, record); err != nil {
			logger.WithContext(logger.WithRecordID(ctx, record.ID)).Error("failed to archive expired record", "error", err)
		}
	}
	if len(removed) > 0 {
		logger.Info(ctx, "expired records swept", "count", len(removed))
	}
	return len(removed)
}

func (s *QuoteService) Summary() domain.Summary {
	summary := domain.Summary{}
	summary.Counts.ByStage = make(map[domain.Stage]int, len(stages.All()))
	for _, stage := range stages.All() {
		summary.Counts.ByStage[stage] = 0
	}

	for _, record := range s.store.List(domain.RecordFilter{}) {
		summary.Counts.Records++
		summary.Counts.ByStage[record.CurrentStage]++
		if record.RequiresHumanReview && !stages.IsTerminal(record.CurrentStage) {
			summary.Counts.AwaitingReview++
		}
		if record.Pricing == nil {
			continue
		}
		switch record.CurrentStage {
		case domain.StageQuoteReady, domain.StageQuoteEditing:
			summary.Totals.QuotedLamports += record.Pricing.TotalLamports
		case domain.StageConfirmed:
			summary.Totals.ConfirmedLamports += record.Pricing.TotalLamports
		case domain.StageFunded:
			summary.Totals.FundedLamports += record.Pricing.TotalLamports
		}
	}
	return summary
}

func (s *QuoteService) ScoreComplexity(inputs domain.ComplexityInputs) (domain.ComplexityResult, error) {
	if err := schema.ComplexityInputs(inputs); err != nil {
		return domain.ComplexityResult{}, err
	}
	return scoring.Score(inputs), nil
}

func (s *QuoteService) PreviewQuote(input domain.PricingInput) (domain.PricingResult, error) {
	return s.pricer.Quote(input, s.now())
}

func (s *QuoteService) AssessRisk(request AssessRiskRequest) domain.RiskAssessment {
	return risk.Assess(request.ScopeText, request.Deliverables, request.Answers)
}

// fallBack moves a record out of a waiting stage after an upstream failure.
// The returned error always reports the upstream failure.
func (s *QuoteService) fallBack(ctx context.Context, id string, to domain.Stage, message string, cause error) error {
	log := logger.WithContext(logger.WithRecordID(ctx, id))
	log.Warn(message, "error", cause)

	_, err := s.store.Transition(id, to, domain.TriggerError, map[string]any{"reason": cause.Error()})
	if err != nil {
		log.Error("failed to record error transition", "to", to, "error", err)
	}
	var appErr *domain.AppError
	if errors.As(cause, &appErr) && appErr.Code == domain.CodeUpstreamFailure {
		return appErr
	}
	return domain.UpstreamFailure(message, cause)
}

// scopeRisk uses the supplied assessment, re-deriving the review flag from
// its critical flags, or assesses the scope when none was supplied.
func scopeRisk(record domain.WorkflowRecord, scope domain.ScopeDocument, supplied *domain.RiskAssessment) domain.RiskAssessment {
	if supplied == nil {
		var answers map[string]string
		if record.Clarification != nil {
			answers = record.Clarification.Resolved()
		}
		return risk.Assess(record.Brief+"\n"+scope.Summary+"\n"+strings.Join(scope.Assumptions, "\n"), scope.DeliverableTexts(), answers)
	}
	assessment := domain.RiskAssessment{
		Flags:               append([]string{}, supplied.Flags...),
		Explanations:        append([]string{}, supplied.Explanations...),
		RequiresHumanReview: supplied.RequiresHumanReview,
	}
	for _, flag := range assessment.Flags {
		if risk.IsCritical(flag) {
			assessment.RequiresHumanReview = true
		}
	}
	return assessment
}

func requireStage(record *domain.WorkflowRecord, target domain.Stage, accepted ...domain.Stage) error {
	for _, stage := range accepted {
		if record.CurrentStage == stage {
			return nil
		}
	}
	return domain.InvalidTransition(record.CurrentStage, target, stages.Allowed(record.CurrentStage))
}
