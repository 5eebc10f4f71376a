package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Stage string

const (
	StageInit            Stage = "init"
	StageAnalyzing       Stage = "analyzing"
	StageClarifyPending  Stage = "clarify_pending"
	StageClarifyComplete Stage = "clarify_complete"
	StageScopeDraft      Stage = "scope_draft"
	StageScopeReady      Stage = "scope_ready"
	StageComplexityCalc  Stage = "complexity_calc"
	StageQuoteReady      Stage = "quote_ready"
	StageQuoteEditing    Stage = "quote_editing"
	StageConfirmed       Stage = "confirmed"
	StageFunded          Stage = "funded"
	StageCancelled       Stage = "cancelled"
)

type TriggerKind string

const (
	TriggerAutomatic TriggerKind = "automatic"
	TriggerUser      TriggerKind = "user"
	TriggerSystem    TriggerKind = "system"
	TriggerModel     TriggerKind = "model"
	TriggerError     TriggerKind = "error"
)

const (
	SecurityNone     = "none"
	SecurityBasic    = "basic"
	SecurityAdvanced = "advanced"
	SecurityCritical = "critical"

	PressureLow    = "low"
	PressureMedium = "medium"
	PressureHigh   = "high"

	UrgencyStandard = "standard"
	UrgencyPriority = "priority"
	UrgencyUrgent   = "urgent"
)

// DefaultRecordTTL is how long a record lives before the sweep removes it.
const DefaultRecordTTL = 7 * 24 * time.Hour

type StageTransition struct {
	Stage    Stage          `json:"stage"`
	At       time.Time      `json:"at"`
	Trigger  TriggerKind    `json:"trigger"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type WorkflowRecord struct {
	ID                  string                `json:"id"`
	CurrentStage        Stage                 `json:"current_stage"`
	History             []StageTransition     `json:"history"`
	Title               string                `json:"title"`
	Brief               string                `json:"brief"`
	ClientID            string                `json:"client_id"`
	CounterpartyID      string                `json:"counterparty_id"`
	Extraction          *ExtractionResult     `json:"extraction"`
	Clarification       *ClarificationAnswers `json:"clarification"`
	Scope               *ScopeDocument        `json:"scope"`
	Complexity          *ComplexityResult     `json:"complexity"`
	Pricing             *PricingResult        `json:"pricing"`
	PricingHistory      []PricingResult       `json:"pricing_history"`
	ComplianceFlags     []string              `json:"compliance_flags"`
	RiskNotes           []string              `json:"risk_notes"`
	RequiresHumanReview bool                  `json:"requires_human_review"`
	FundingRef          string                `json:"funding_ref,omitempty"`
	CancelReason        string                `json:"cancel_reason,omitempty"`
	CreatedAt           time.Time             `json:"created_at"`
	UpdatedAt           time.Time             `json:"updated_at"`
	ExpiresAt           time.Time             `json:"expires_at"`
}

// LastTransition returns the most recent history entry.
func (r WorkflowRecord) LastTransition() (StageTransition, bool) {
	if len(r.History) == 0 {
		return StageTransition{}, false
	}
	return r.History[len(r.History)-1], true
}

func (r WorkflowRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

type CreateParams struct {
	Title          string `json:"title"`
	Brief          string `json:"brief"`
	ClientID       string `json:"client_id"`
	CounterpartyID string `json:"counterparty_id"`
}

type ClarificationQuestion struct {
	ID            string `json:"id"`
	Field         string `json:"field"`
	Question      string `json:"question"`
	DefaultAnswer string `json:"default_answer"`
	Required      bool   `json:"required"`
}

type ExtractionResult struct {
	ProjectType      string                  `json:"project_type"`
	Features         []string                `json:"features"`
	Integrations     []string                `json:"integrations"`
	TechStack        []string                `json:"tech_stack"`
	SecurityLevel    string                  `json:"security_level"`
	ComplianceFlags  []string                `json:"compliance_flags"`
	CustomLogicFlags []string                `json:"custom_logic_flags"`
	DeadlinePressure string                  `json:"deadline_pressure"`
	MissingAssets    []string                `json:"missing_assets"`
	OpenQuestions    []ClarificationQuestion `json:"open_questions"`
	Confidence       float64                 `json:"confidence"`
	Source           string                  `json:"source,omitempty"`
}

type ClarificationAnswers struct {
	Answers         map[string]string `json:"answers"`
	Skipped         []string          `json:"skipped"`
	AppliedDefaults map[string]string `json:"applied_defaults"`
	SubmittedAt     time.Time         `json:"submitted_at"`
}

// Resolved merges explicit answers over applied defaults.
func (c ClarificationAnswers) Resolved() map[string]string {
	out := make(map[string]string, len(c.Answers)+len(c.AppliedDefaults))
	for key, value := range c.AppliedDefaults {
		out[key] = value
	}
	for key, value := range c.Answers {
		out[key] = value
	}
	return out
}

type Deliverable struct {
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
}

type PhaseEstimate struct {
	Name  string  `json:"name"`
	Hours float64 `json:"hours"`
}

type ScopeDocument struct {
	Summary      string          `json:"summary"`
	Deliverables []Deliverable   `json:"deliverables"`
	Phases       []PhaseEstimate `json:"phases"`
	Assumptions  []string        `json:"assumptions"`
	OutOfScope   []string        `json:"out_of_scope"`
	GeneratedAt  time.Time       `json:"generated_at"`
}

func (s ScopeDocument) TotalHours() float64 {
	total := 0.0
	for _, phase := range s.Phases {
		total += phase.Hours
	}
	return total
}

// DeliverableTexts flattens deliverables for keyword scanning.
func (s ScopeDocument) DeliverableTexts() []string {
	out := make([]string, 0, len(s.Deliverables))
	for _, item := range s.Deliverables {
		out = append(out, strings.TrimSpace(item.Title+" "+item.Description+" "+strings.Join(item.AcceptanceCriteria, " ")))
	}
	return out
}

type ComplexityInputs struct {
	FeatureCount      int      `json:"feature_count"`
	IntegrationCount  int      `json:"integration_count"`
	SecurityLevel     string   `json:"security_level"`
	ComplianceFlags   []string `json:"compliance_flags"`
	CustomLogicFlags  []string `json:"custom_logic_flags"`
	AssetMissingCount int      `json:"asset_missing_count"`
	DeadlinePressure  string   `json:"deadline_pressure"`
	DeliverableCount  int      `json:"deliverable_count"`
	EstimatedHours    float64  `json:"estimated_hours"`
	ConfidenceScore   float64  `json:"confidence_score"`
}

type ComplexityBreakdown struct {
	FeatureScore       float64 `json:"feature_score"`
	IntegrationScore   float64 `json:"integration_score"`
	SecurityScore      float64 `json:"security_score"`
	ComplianceScore    float64 `json:"compliance_score"`
	CustomLogicScore   float64 `json:"custom_logic_score"`
	TimelineScore      float64 `json:"timeline_score"`
	UncertaintyPenalty float64 `json:"uncertainty_penalty"`
}

type NamedScore struct {
	Name  string
	Score float64
}

// Components lists the seven sub-scores in a fixed order.
func (b ComplexityBreakdown) Components() []NamedScore {
	return []NamedScore{
		{Name: "features", Score: b.FeatureScore},
		{Name: "integrations", Score: b.IntegrationScore},
		{Name: "security", Score: b.SecurityScore},
		{Name: "compliance", Score: b.ComplianceScore},
		{Name: "custom_logic", Score: b.CustomLogicScore},
		{Name: "timeline", Score: b.TimelineScore},
		{Name: "uncertainty", Score: b.UncertaintyPenalty},
	}
}

func (b ComplexityBreakdown) Sum() float64 {
	total := 0.0
	for _, component := range b.Components() {
		total += component.Score
	}
	return total
}

type ComplexityResult struct {
	ComplexityScore float64             `json:"complexity_score"`
	Breakdown       ComplexityBreakdown `json:"breakdown"`
	Explanation     string              `json:"explanation"`
	ModelVersion    string              `json:"model_version"`
	Inputs          ComplexityInputs    `json:"inputs"`
}

type PricingBreakdown struct {
	EstimatedHours       float64 `json:"estimated_hours"`
	BaseRateLamports     int64   `json:"base_rate_lamports"`
	ComplexityScore      float64 `json:"complexity_score"`
	ComplexityMultiplier float64 `json:"complexity_multiplier"`
	ContingencyPercent   float64 `json:"contingency_percent"`
	PlatformFeeRate      float64 `json:"platform_fee_rate"`
}

type PricingResult struct {
	LabourLamports       int64            `json:"labour_lamports"`
	ContingencyLamports  int64            `json:"contingency_lamports"`
	FixedFeeLamports     int64            `json:"fixed_fee_lamports"`
	DiscountLamports     int64            `json:"discount_lamports"`
	TotalLamports        int64            `json:"total_lamports"`
	LabourSOL            float64          `json:"labour_sol"`
	ContingencySOL       float64          `json:"contingency_sol"`
	FixedFeeSOL          float64          `json:"fixed_fee_sol"`
	DiscountSOL          float64          `json:"discount_sol"`
	TotalSOL             float64          `json:"total_sol"`
	TotalFiat            float64          `json:"total_fiat,omitempty"`
	FiatCurrency         string           `json:"fiat_currency,omitempty"`
	Breakdown            PricingBreakdown `json:"breakdown"`
	Phases               []PhaseEstimate  `json:"phases"`
	Urgency              string           `json:"urgency"`
	Confidence           float64          `json:"confidence"`
	Revision             int              `json:"revision"`
	QuotedAt             time.Time        `json:"quoted_at"`
	ValidUntil           time.Time        `json:"valid_until"`
	PricingConfigVersion string           `json:"pricing_config_version"`
}

type PricingInput struct {
	ComplexityScore  float64         `json:"complexity_score"`
	EstimatedHours   float64         `json:"estimated_hours"`
	BaseRateLamports int64           `json:"base_rate_lamports"`
	Confidence       float64         `json:"confidence"`
	Phases           []PhaseEstimate `json:"phases,omitempty"`
	Urgency          string          `json:"urgency,omitempty"`
}

// QuoteDrivers are the revised scope facts a requote is computed from.
// Zero RevisedHours keeps the previous estimate.
type QuoteDrivers struct {
	RevisedHours float64 `json:"revised_hours"`
	Urgency      string  `json:"urgency"`
}

type RiskAssessment struct {
	Flags               []string `json:"flags"`
	Explanations        []string `json:"explanations"`
	RequiresHumanReview bool     `json:"requires_human_review"`
}

func (r RiskAssessment) Has(flag string) bool {
	for _, item := range r.Flags {
		if item == flag {
			return true
		}
	}
	return false
}

type RecordFilter struct {
	ClientID       string `json:"client_id"`
	CounterpartyID string `json:"counterparty_id"`
	Stage          Stage  `json:"stage"`
	RequiresReview *bool  `json:"requires_review"`
	Limit          int    `json:"limit"`
}

// RecordPatch is a partial update; nil fields are left untouched.
type RecordPatch struct {
	Title               *string               `json:"title,omitempty"`
	Brief               *string               `json:"brief,omitempty"`
	Extraction          *ExtractionResult     `json:"extraction,omitempty"`
	Clarification       *ClarificationAnswers `json:"clarification,omitempty"`
	Scope               *ScopeDocument        `json:"scope,omitempty"`
	Complexity          *ComplexityResult     `json:"complexity,omitempty"`
	Pricing             *PricingResult        `json:"pricing,omitempty"`
	ComplianceFlags     []string              `json:"compliance_flags,omitempty"`
	RiskNotes           []string              `json:"risk_notes,omitempty"`
	RequiresHumanReview *bool                 `json:"requires_human_review,omitempty"`
	FundingRef          *string               `json:"funding_ref,omitempty"`
	CancelReason        *string               `json:"cancel_reason,omitempty"`
}

// Apply merges the patch into record. Populated slots are replaced, never cleared.
func (p RecordPatch) Apply(record *WorkflowRecord) {
	if p.Title != nil {
		record.Title = *p.Title
	}
	if p.Brief != nil {
		record.Brief = *p.Brief
	}
	if p.Extraction != nil {
		record.Extraction = p.Extraction
	}
	if p.Clarification != nil {
		record.Clarification = p.Clarification
	}
	if p.Scope != nil {
		record.Scope = p.Scope
	}
	if p.Complexity != nil {
		record.Complexity = p.Complexity
	}
	if p.Pricing != nil {
		record.Pricing = p.Pricing
	}
	if p.ComplianceFlags != nil {
		record.ComplianceFlags = p.ComplianceFlags
	}
	if p.RiskNotes != nil {
		record.RiskNotes = p.RiskNotes
	}
	if p.RequiresHumanReview != nil {
		record.RequiresHumanReview = *p.RequiresHumanReview
	}
	if p.FundingRef != nil {
		record.FundingRef = *p.FundingRef
	}
	if p.CancelReason != nil {
		record.CancelReason = *p.CancelReason
	}
}

type Summary struct {
	Counts struct {
		Records        int           `json:"records"`
		ByStage        map[Stage]int `json:"by_stage"`
		AwaitingReview int           `json:"awaiting_review"`
	} `json:"counts"`
	Totals struct {
		QuotedLamports    int64 `json:"quoted_lamports"`
		ConfirmedLamports int64 `json:"confirmed_lamports"`
		FundedLamports    int64 `json:"funded_lamports"`
	} `json:"totals"`
}

// CloneRecord deep-copies a record through its persisted JSON form. It fails
// when metadata holds a value JSON cannot encode.
func CloneRecord(in WorkflowRecord) (WorkflowRecord, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return WorkflowRecord{}, fmt.Errorf("encode record %s: %w", in.ID, err)
	}
	var out WorkflowRecord
	if err := json.Unmarshal(raw, &out); err != nil {
		return WorkflowRecord{}, fmt.Errorf("decode record %s: %w", in.ID, err)
	}
	return withRecordDefaults(out), nil
}

func withRecordDefaults(record WorkflowRecord) WorkflowRecord {
	if record.History == nil {
		record.History = []StageTransition{}
	}
	if record.PricingHistory == nil {
		record.PricingHistory = []PricingResult{}
	}
	if record.ComplianceFlags == nil {
		record.ComplianceFlags = []string{}
	}
	if record.RiskNotes == nil {
		record.RiskNotes = []string{}
	}
	return record
}

// NormalizeRecord fills empty collections after decoding persisted state.
func NormalizeRecord(record WorkflowRecord) WorkflowRecord {
	return withRecordDefaults(record)
}
