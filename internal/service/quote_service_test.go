package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bcrosbie/quoteengine/internal/domain"
	"github.com/bcrosbie/quoteengine/internal/extractor"
	"github.com/bcrosbie/quoteengine/internal/pricing"
	"github.com/bcrosbie/quoteengine/internal/risk"
	"github.com/bcrosbie/quoteengine/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRate = 66_666_666

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingArchiver struct {
	mu       sync.Mutex
	archived []string
	err      error
}

func (a *recordingArchiver) Archive(_ context.Context, record domain.WorkflowRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.archived = append(a.archived, record.ID)
	return nil
}

// scriptedModel fails the first extract or scope call when asked to, then
// defers to the heuristic model.
type scriptedModel struct {
	mu          sync.Mutex
	extractErr  error
	scopeErr    error
	extractions []domain.ExtractionResult
	fallback    *extractor.HeuristicModel
}

func (m *scriptedModel) Extract(ctx context.Context, title, brief string) (domain.ExtractionResult, error) {
	m.mu.Lock()
	if err := m.extractErr; err != nil {
		m.extractErr = nil
		m.mu.Unlock()
		return domain.ExtractionResult{}, err
	}
	if len(m.extractions) > 0 {
		next := m.extractions[0]
		m.extractions = m.extractions[1:]
		m.mu.Unlock()
		return next, nil
	}
	m.mu.Unlock()
	return m.fallback.Extract(ctx, title, brief)
}

func (m *scriptedModel) DraftScope(ctx context.Context, record domain.WorkflowRecord) (domain.ScopeDocument, error) {
	m.mu.Lock()
	if err := m.scopeErr; err != nil {
		m.scopeErr = nil
		m.mu.Unlock()
		return domain.ScopeDocument{}, err
	}
	m.mu.Unlock()
	return m.fallback.DraftScope(ctx, record)
}

type fixture struct {
	svc      *QuoteService
	store    *store.RecordStore
	clock    *testClock
	model    *scriptedModel
	archiver *recordingArchiver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	counter := 0
	var idMu sync.Mutex
	recordStore := store.NewRecordStore(store.NewMemoryBackend(), store.Options{
		FlushDebounce: time.Hour,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:           clock.Now,
		NewID: func() string {
			idMu.Lock()
			defer idMu.Unlock()
			counter++
			return fmt.Sprintf("rec-%03d", counter)
		},
	})
	t.Cleanup(func() { _ = recordStore.Close() })

	model := &scriptedModel{fallback: extractor.NewHeuristicModel()}
	archiver := &recordingArchiver{}
	svc := NewQuoteService(Dependencies{
		Store:       recordStore,
		Model:       model,
		Pricer:      pricing.New(pricing.Config{}),
		Archiver:    archiver,
		StoreDriver: "memory",
		Now:         clock.Now,
	})
	return &fixture{svc: svc, store: recordStore, clock: clock, model: model, archiver: archiver}
}

func (f *fixture) create(t *testing.T, title, brief string) domain.WorkflowRecord {
	t.Helper()
	record, err := f.svc.CreateRecord(context.Background(), CreateRecordRequest{
		Title:          title,
		Brief:          brief,
		ClientID:       "client-1",
		CounterpartyID: "provider-1",
	})
	require.NoError(t, err)
	return record
}

const nftTitle = "NFT marketplace on Solana-like chain"
const nftBrief = "Artists mint NFTs, list them for sale and collectors bid in timed auctions."

func historyStages(record domain.WorkflowRecord) []domain.Stage {
	out := make([]domain.Stage, 0, len(record.History))
	for _, entry := range record.History {
		out = append(out, entry.Stage)
	}
	return out
}

func TestQuotePipelineHappyPath(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	record := f.create(t, nftTitle, nftBrief)
	assert.Equal(t, domain.StageInit, record.CurrentStage)

	record, err := f.svc.Analyze(ctx, RecordIDRequest{ID: record.ID})
	require.NoError(t, err)
	require.Equal(t, domain.StageClarifyPending, record.CurrentStage)
	require.NotNil(t, record.Extraction)
	require.NotEmpty(t, record.Extraction.OpenQuestions)

	record, err = f.svc.SubmitClarification(ctx, ClarificationRequest{
		ID:      record.ID,
		Answers: map[string]string{"tech_stack": "Rust programs with a React frontend"},
		Skipped: []string{"timeline"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StageClarifyComplete, record.CurrentStage)
	assert.Contains(t, record.Clarification.AppliedDefaults, "timeline")

	record, err = f.svc.GenerateScope(ctx, RecordIDRequest{ID: record.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.StageScopeReady, record.CurrentStage)
	require.NotNil(t, record.Scope)
	assert.Contains(t, record.ComplianceFlags, risk.FlagFinancialServices)
	assert.False(t, record.RequiresHumanReview)

	record, err = f.svc.ApproveScope(ctx, ApproveScopeRequest{ID: record.ID, BaseRateLamports: testRate})
	require.NoError(t, err)
	assert.Equal(t, domain.StageQuoteReady, record.CurrentStage)
	require.NotNil(t, record.Complexity)
	require.NotNil(t, record.Pricing)
	first := *record.Pricing
	assert.Equal(t, 1, first.Revision)
	assert.Equal(t, first.LabourLamports+first.ContingencyLamports+first.FixedFeeLamports-first.DiscountLamports, first.TotalLamports)
	assert.Equal(t, record.Scope.TotalHours(), first.Breakdown.EstimatedHours)

	record, err = f.svc.BeginEdit(ctx, RecordIDRequest{ID: record.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.StageQuoteEditing, record.CurrentStage)

	record, err = f.svc.Requote(ctx, RequoteRequest{ID: record.ID, Urgency: "urgent"})
	require.NoError(t, err)
	assert.Equal(t, domain.StageQuoteReady, record.CurrentStage)
	require.Len(t, record.PricingHistory, 1)
	assert.Equal(t, first, record.PricingHistory[0])
	assert.Equal(t, 2, record.Pricing.Revision)
	assert.Greater(t, record.Pricing.TotalLamports, first.TotalLamports)

	record, err = f.svc.ConfirmQuote(ctx, RecordIDRequest{ID: record.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.StageConfirmed, record.CurrentStage)

	record, err = f.svc.RecordFunding(ctx, FundingRequest{ID: record.ID, ExternalRef: "escrow-7Qx"})
	require.NoError(t, err)
	assert.Equal(t, domain.StageFunded, record.CurrentStage)
	assert.Equal(t, "escrow-7Qx", record.FundingRef)

	assert.Equal(t, []domain.Stage{
		domain.StageInit,
		domain.StageAnalyzing,
		domain.StageClarifyPending,
		domain.StageClarifyComplete,
		domain.StageScopeDraft,
		domain.StageScopeReady,
		domain.StageComplexityCalc,
		domain.StageQuoteReady,
		domain.StageQuoteEditing,
		domain.StageQuoteReady,
		domain.StageConfirmed,
		domain.StageFunded,
	}, historyStages(record))

	summary := f.svc.Summary()
	assert.Equal(t, 1, summary.Counts.Records)
	assert.Equal(t, 1, summary.Counts.ByStage[domain.StageFunded])
	assert.Equal(t, record.Pricing.TotalLamports, summary.Totals.FundedLamports)
}

func TestSkippingEveryQuestionStillReachesScopeReady(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	record := f.create(t, nftTitle, "Collectors mint NFTs.")

	record, err := f.svc.Analyze(ctx, RecordIDRequest{ID: record.ID})
	require.NoError(t, err)
	require.Equal(t, domain.StageClarifyPending, record.CurrentStage)

	skipped := []string{}
	for _, question := range record.Extraction.OpenQuestions {
		skipped = append(skipped, question.ID)
	}
	assert.Contains(t, skipped, "tech_stack")

	record, err = f.svc.SubmitClarification(ctx, ClarificationRequest{ID: record.ID, Skipped: skipped})
	require.NoError(t, err)
	assert.Empty(t, record.Clarification.Answers)
	assert.Len(t, record.Clarification.AppliedDefaults, len(skipped))

	record, err = f.svc.GenerateScope(ctx, RecordIDRequest{ID: record.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.StageScopeReady, record.CurrentStage)
}

func TestAnalyzeWithoutQuestionsGoesStraightToScopeDraft(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	record := f.create(t, "Clinic portal", "Patients book visits. React and Postgres, launch in 6 weeks, with Figma designs ready.")

	record, err := f.svc.Analyze(ctx, RecordIDRequest{ID: record.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.StageScopeDraft, record.CurrentStage)

	record, err = f.svc.GenerateScope(ctx, RecordIDRequest{ID: record.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.StageScopeReady, record.CurrentStage)
	assert.True(t, record.RequiresHumanReview)
	assert.Contains(t, record.ComplianceFlags, risk.FlagHealthData)
}

func TestHumanReviewGatesConfirmation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	record := f.create(t, "Clinic portal", "Patients book visits. React and Postgres, launch in 6 weeks, with Figma designs ready.")
	_, err := f.svc.Analyze(ctx, RecordIDRequest{ID: record.ID})
	require.NoError(t, err)
	_, err = f.svc.GenerateScope(ctx, RecordIDRequest{ID: record.ID})
	require.NoError(t, err)
	_, err = f.svc.ApproveScope(ctx, ApproveScopeRequest{ID: record.ID, BaseRateLamports: testRate})
	require.NoError(t, err)

	_, err = f.svc.ConfirmQuote(ctx, RecordIDRequest{ID: record.ID})
	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.CodeFailedPrecondition), err.Error())

	summary := f.svc.Summary()
	assert.Equal(t, 1, summary.Counts.AwaitingReview)
	assert.Equal(t, record.ID, mustList(t, f.svc, ListRecordsRequest{RequiresReview: boolPtr(true)})[0].ID)

	reviewed, err := f.svc.MarkReviewed(ctx, ReviewRequest{ID: record.ID, Note: "BAA signed"})
	require.NoError(t, err)
	assert.False(t, reviewed.RequiresHumanReview)
	assert.Contains(t, reviewed.RiskNotes[len(reviewed.RiskNotes)-1], "BAA signed")

	confirmed, err := f.svc.ConfirmQuote(ctx, RecordIDRequest{ID: record.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.StageConfirmed, confirmed.CurrentStage)

	_, err = f.svc.MarkReviewed(ctx, ReviewRequest{ID: record.ID})
	assert.True(t, domain.HasCode(err, domain.CodeFailedPrecondition))
}

func TestSuppliedRiskWithCriticalFlagForcesReview(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	record := f.create(t, nftTitle, nftBrief)
	record, err := f.svc.AdvanceAfterExtraction(ctx, ExtractionRequest{ID: record.ID, Extraction: domain.ExtractionResult{
		ProjectType: "nft_marketplace",
		Features:    []string{"minting"},
		Confidence:  0.8,
	}})
	require.NoError(t, err)
	require.Equal(t, domain.StageScopeDraft, record.CurrentStage)

	record, err = f.svc.AdvanceAfterScopeGeneration(ctx, ScopeRequest{
		ID: record.ID,
		Scope: domain.ScopeDocument{
			Summary:      "Minting site",
			Deliverables: []domain.Deliverable{{Title: "Minting"}},
			Phases:       []domain.PhaseEstimate{{Name: "Build", Hours: 30}},
		},
		Risk: &domain.RiskAssessment{Flags: []string{risk.FlagGambling}, Explanations: []string{"raffles"}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StageScopeReady, record.CurrentStage)
	assert.True(t, record.RequiresHumanReview)
	assert.Equal(t, []string{"gambling: raffles [critical]"}, record.RiskNotes)
}

func TestConfirmingAnExpiredQuoteFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := driveToQuoteReady(t, f)

	f.clock.Advance(pricing.DefaultValidity + time.Minute)
	_, err := f.svc.ConfirmQuote(ctx, RecordIDRequest{ID: id})
	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.CodeQuoteExpired), err.Error())

	record, err := f.svc.GetRecord(RecordIDRequest{ID: id})
	require.NoError(t, err)
	assert.Equal(t, domain.StageQuoteReady, record.CurrentStage)

	_, err = f.svc.BeginEdit(ctx, RecordIDRequest{ID: id})
	require.NoError(t, err)
	requoted, err := f.svc.Requote(ctx, RequoteRequest{ID: id})
	require.NoError(t, err)
	assert.Equal(t, record.Pricing.TotalLamports, requoted.Pricing.TotalLamports)
	assert.True(t, requoted.Pricing.ValidUntil.After(f.clock.Now()))

	confirmed, err := f.svc.ConfirmQuote(ctx, RecordIDRequest{ID: id})
	require.NoError(t, err)
	assert.Equal(t, domain.StageConfirmed, confirmed.CurrentStage)
}

func TestRequoteKeepsEveryPriorQuote(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := driveToQuoteReady(t, f)

	var totals []int64
	for _, urgency := range []string{"priority", "urgent", "standard"} {
		_, err := f.svc.BeginEdit(ctx, RecordIDRequest{ID: id})
		require.NoError(t, err)
		record, err := f.svc.Requote(ctx, RequoteRequest{ID: id, Urgency: urgency, RevisedHours: 120})
		require.NoError(t, err)
		totals = append(totals, record.Pricing.TotalLamports)
	}

	record, err := f.svc.GetRecord(RecordIDRequest{ID: id})
	require.NoError(t, err)
	require.Len(t, record.PricingHistory, 3)
	for i, prior := range record.PricingHistory {
		assert.Equal(t, i+1, prior.Revision)
	}
	assert.Equal(t, 4, record.Pricing.Revision)
	assert.Equal(t, totals[1], record.PricingHistory[2].TotalLamports)
	assert.Equal(t, 120.0, record.Pricing.Breakdown.EstimatedHours)
}

func TestRequoteRejectsBadDriversWithoutTouchingTheRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := driveToQuoteReady(t, f)
	_, err := f.svc.BeginEdit(ctx, RecordIDRequest{ID: id})
	require.NoError(t, err)
	before, err := f.svc.GetRecord(RecordIDRequest{ID: id})
	require.NoError(t, err)

	_, err = f.svc.Requote(ctx, RequoteRequest{ID: id, Urgency: "yesterday"})
	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.CodeInvalidArgument))

	after, err := f.svc.GetRecord(RecordIDRequest{ID: id})
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestApproveScopeRejectsInvalidRate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	record := f.create(t, nftTitle, nftBrief)

	_, err := f.svc.ApproveScope(ctx, ApproveScopeRequest{ID: record.ID, BaseRateLamports: 0})
	assert.True(t, domain.HasCode(err, domain.CodeInvalidArgument))

	_, err = f.svc.ApproveScope(ctx, ApproveScopeRequest{ID: record.ID, BaseRateLamports: testRate})
	assert.True(t, domain.HasCode(err, domain.CodeInvalidTransition))
}

func TestExtractionFailureReturnsRecordToInit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	record := f.create(t, nftTitle, nftBrief)
	f.model.extractErr = errors.New("model timed out")

	_, err := f.svc.Analyze(ctx, RecordIDRequest{ID: record.ID})
	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.CodeUpstreamFailure))

	record, err = f.svc.GetRecord(RecordIDRequest{ID: record.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.StageInit, record.CurrentStage)
	last, _ := record.LastTransition()
	assert.Equal(t, domain.TriggerError, last.Trigger)
	assert.Equal(t, "model timed out", last.Metadata["reason"])
	assert.Nil(t, record.Extraction)

	record, err = f.svc.Analyze(ctx, RecordIDRequest{ID: record.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.StageClarifyPending, record.CurrentStage)
}

func TestMalformedExtractionIsAnUpstreamFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	record := f.create(t, nftTitle, nftBrief)
	f.model.extractions = []domain.ExtractionResult{{ProjectType: "nft_marketplace", Confidence: 1.7}}

	_, err := f.svc.Analyze(ctx, RecordIDRequest{ID: record.ID})
	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.CodeUpstreamFailure))

	record, err = f.svc.GetRecord(RecordIDRequest{ID: record.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.StageInit, record.CurrentStage)
}

func TestAdvanceAfterExtractionRejectsMalformedInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	record := f.create(t, nftTitle, nftBrief)

	_, err := f.svc.AdvanceAfterExtraction(ctx, ExtractionRequest{ID: record.ID, Extraction: domain.ExtractionResult{
		ProjectType:   "nft_marketplace",
		SecurityLevel: "galactic",
		Confidence:    -1,
	}})
	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.CodeInvalidArgument))

	after, err := f.svc.GetRecord(RecordIDRequest{ID: record.ID})
	require.NoError(t, err)
	assert.Equal(t, record, after)
}

func TestScopeFailureReturnsRecordToClarifyPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	record := f.create(t, nftTitle, nftBrief)
	record, err := f.svc.Analyze(ctx, RecordIDRequest{ID: record.ID})
	require.NoError(t, err)
	record, err = f.svc.SubmitClarification(ctx, ClarificationRequest{ID: record.ID})
	require.NoError(t, err)

	f.model.scopeErr = domain.UpstreamFailure("scope model returned 503", nil)
	_, err = f.svc.GenerateScope(ctx, RecordIDRequest{ID: record.ID})
	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.CodeUpstreamFailure))

	record, err = f.svc.GetRecord(RecordIDRequest{ID: record.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.StageClarifyPending, record.CurrentStage)
	last, _ := record.LastTransition()
	assert.Equal(t, domain.TriggerError, last.Trigger)

	_, err = f.svc.SubmitClarification(ctx, ClarificationRequest{ID: record.ID})
	require.NoError(t, err)
	record, err = f.svc.GenerateScope(ctx, RecordIDRequest{ID: record.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.StageScopeReady, record.CurrentStage)
}

func TestCancelFromEveryNonTerminalStage(t *testing.T) {
	ctx := context.Background()
	routes := map[domain.Stage][]domain.Stage{
		domain.StageInit:            {},
		domain.StageAnalyzing:       {domain.StageAnalyzing},
		domain.StageClarifyPending:  {domain.StageAnalyzing, domain.StageClarifyPending},
		domain.StageClarifyComplete: {domain.StageAnalyzing, domain.StageClarifyPending, domain.StageClarifyComplete},
		domain.StageScopeDraft:      {domain.StageAnalyzing, domain.StageScopeDraft},
		domain.StageScopeReady:      {domain.StageAnalyzing, domain.StageScopeDraft, domain.StageScopeReady},
		domain.StageComplexityCalc:  {domain.StageAnalyzing, domain.StageScopeDraft, domain.StageScopeReady, domain.StageComplexityCalc},
		domain.StageQuoteReady:      {domain.StageAnalyzing, domain.StageScopeDraft, domain.StageScopeReady, domain.StageComplexityCalc, domain.StageQuoteReady},
		domain.StageQuoteEditing:    {domain.StageAnalyzing, domain.StageScopeDraft, domain.StageScopeReady, domain.StageComplexityCalc, domain.StageQuoteReady, domain.StageQuoteEditing},
		domain.StageConfirmed:       {domain.StageAnalyzing, domain.StageScopeDraft, domain.StageScopeReady, domain.StageComplexityCalc, domain.StageQuoteReady, domain.StageConfirmed},
	}

	for stage, route := range routes {
		t.Run(string(stage), func(t *testing.T) {
			f := newFixture(t)
			record := f.create(t, nftTitle, nftBrief)
			for _, next := range route {
				_, err := f.store.Transition(record.ID, next, domain.TriggerSystem, nil)
				require.NoError(t, err)
			}

			cancelled, err := f.svc.Cancel(ctx, CancelRequest{ID: record.ID, Reason: "client withdrew"})
			require.NoError(t, err)
			assert.Equal(t, domain.StageCancelled, cancelled.CurrentStage)
			assert.Equal(t, "client withdrew", cancelled.CancelReason)

			_, err = f.svc.Cancel(ctx, CancelRequest{ID: record.ID})
			assert.True(t, domain.HasCode(err, domain.CodeInvalidTransition))
		})
	}
}

func TestCancelIsUnavailableOnceFunded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	record := f.create(t, nftTitle, nftBrief)
	for _, next := range []domain.Stage{
		domain.StageAnalyzing, domain.StageScopeDraft, domain.StageScopeReady, domain.StageComplexityCalc,
		domain.StageQuoteReady, domain.StageConfirmed, domain.StageFunded,
	} {
		_, err := f.store.Transition(record.ID, next, domain.TriggerSystem, nil)
		require.NoError(t, err)
	}

	_, err := f.svc.Cancel(ctx, CancelRequest{ID: record.ID})
	require.Error(t, err)
	assert.True(t, domain.HasCode(err, domain.CodeInvalidTransition))
}

func TestConcurrentCancelsCommitOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	record := f.create(t, nftTitle, nftBrief)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Cancel(ctx, CancelRequest{ID: record.ID}); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	got, err := f.svc.GetRecord(RecordIDRequest{ID: record.ID})
	require.NoError(t, err)
	assert.Len(t, got.History, 2)
}

func TestArchiveRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	live := f.create(t, nftTitle, nftBrief)
	err := f.svc.ArchiveRecord(ctx, RecordIDRequest{ID: live.ID})
	assert.True(t, domain.HasCode(err, domain.CodeFailedPrecondition))

	_, err = f.svc.Cancel(ctx, CancelRequest{ID: live.ID})
	require.NoError(t, err)

	f.archiver.err = errors.New("bucket unreachable")
	err = f.svc.ArchiveRecord(ctx, RecordIDRequest{ID: live.ID})
	assert.True(t, domain.HasCode(err, domain.CodeUpstreamFailure))
	_, err = f.svc.GetRecord(RecordIDRequest{ID: live.ID})
	require.NoError(t, err, "a failed archive must keep the record")

	f.archiver.err = nil
	require.NoError(t, f.svc.ArchiveRecord(ctx, RecordIDRequest{ID: live.ID}))
	assert.Equal(t, []string{live.ID}, f.archiver.archived)
	_, err = f.svc.GetRecord(RecordIDRequest{ID: live.ID})
	assert.True(t, domain.HasCode(err, domain.CodeNotFound))
}

func TestSweepExpiredArchivesRecords(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	old := f.create(t, nftTitle, nftBrief)
	f.clock.Advance(6 * 24 * time.Hour)
	fresh := f.create(t, "Landing page", "A website for a bakery with a contact form.")

	f.clock.Advance(36 * time.Hour)
	assert.Equal(t, 1, f.svc.SweepExpired(ctx))
	assert.Equal(t, []string{old.ID}, f.archiver.archived)

	_, err := f.svc.GetRecord(RecordIDRequest{ID: fresh.ID})
	assert.NoError(t, err)
	assert.Equal(t, 0, f.svc.SweepExpired(ctx))
}

func TestGetRecordValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetRecord(RecordIDRequest{ID: "  "})
	assert.True(t, domain.HasCode(err, domain.CodeInvalidArgument))
	_, err = f.svc.GetRecord(RecordIDRequest{ID: "missing"})
	assert.True(t, domain.HasCode(err, domain.CodeNotFound))
}

func TestListRecordsFilters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.create(t, nftTitle, nftBrief)
	f.clock.Advance(time.Minute)
	second := f.create(t, "Landing page", "A website for a bakery.")
	_, err := f.svc.Cancel(ctx, CancelRequest{ID: second.ID})
	require.NoError(t, err)

	all := mustList(t, f.svc, ListRecordsRequest{})
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)

	initOnly := mustList(t, f.svc, ListRecordsRequest{Stage: "INIT"})
	require.Len(t, initOnly, 1)
	assert.Equal(t, first.ID, initOnly[0].ID)

	_, err = f.svc.ListRecords(ListRecordsRequest{Stage: "paused"})
	assert.True(t, domain.HasCode(err, domain.CodeInvalidArgument))
	_, err = f.svc.ListRecords(ListRecordsRequest{Limit: -1})
	assert.True(t, domain.HasCode(err, domain.CodeInvalidArgument))
}

func TestPreviews(t *testing.T) {
	f := newFixture(t)

	score, err := f.svc.ScoreComplexity(domain.ComplexityInputs{
		FeatureCount:     2,
		SecurityLevel:    domain.SecurityNone,
		DeadlinePressure: domain.PressureLow,
		ConfidenceScore:  0.9,
	})
	require.NoError(t, err)
	assert.Less(t, score.ComplexityScore, 20.0)
	assert.Contains(t, score.Explanation, "Low complexity project")

	quote, err := f.svc.PreviewQuote(domain.PricingInput{
		ComplexityScore:  85,
		EstimatedHours:   40,
		BaseRateLamports: testRate,
		Confidence:       0.9,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5_350_799_946), quote.TotalLamports)
	assert.Equal(t, 0, f.store.Len(), "previews never create records")

	_, err = f.svc.PreviewQuote(domain.PricingInput{ComplexityScore: 85, EstimatedHours: 0, BaseRateLamports: testRate})
	assert.True(t, domain.HasCode(err, domain.CodeInvalidArgument))

	assessment := f.svc.AssessRisk(AssessRiskRequest{ScopeText: "A crypto lending desk for customers in the United States"})
	assert.True(t, assessment.RequiresHumanReview)
	assert.True(t, assessment.Has(risk.FlagFinancialRegulatedRegion))
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	f.create(t, nftTitle, nftBrief)
	health := f.svc.Health()
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "memory", health["store_driver"])
	assert.Equal(t, 1, health["records"])
}

func driveToQuoteReady(t *testing.T, f *fixture) string {
	t.Helper()
	ctx := context.Background()
	record := f.create(t, nftTitle, nftBrief)
	_, err := f.svc.Analyze(ctx, RecordIDRequest{ID: record.ID})
	require.NoError(t, err)
	_, err = f.svc.SubmitClarification(ctx, ClarificationRequest{ID: record.ID})
	require.NoError(t, err)
	_, err = f.svc.GenerateScope(ctx, RecordIDRequest{ID: record.ID})
	require.NoError(t, err)
	record, err = f.svc.ApproveScope(ctx, ApproveScopeRequest{ID: record.ID, BaseRateLamports: testRate})
	require.NoError(t, err)
	require.Equal(t, domain.StageQuoteReady, record.CurrentStage)
	return record.ID
}

func mustList(t *testing.T, svc *QuoteService, request ListRecordsRequest) []domain.WorkflowRecord {
	t.Helper()
	records, err := svc.ListRecords(request)
	require.NoError(t, err)
	return records
}

func boolPtr(value bool) *bool {
	return &value
}
