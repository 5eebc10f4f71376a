// Package schema validates values crossing into the engine. Each function
// returns an already-normalized value or a single error listing every
// violation it found. Out-of-range values are rejected, never clamped.
package schema

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bcrosbie/quoteengine/internal/domain"
)

const (
	MaxTitleLength  = 200
	MaxBriefLength  = 20000
	MaxPartyID      = 128
	MaxReasonLength = 1000
	MaxFundingRef   = 256
	MaxListItems    = 200
)

var allowedSecurityLevels = map[string]struct{}{
	domain.SecurityNone:     {},
	domain.SecurityBasic:    {},
	domain.SecurityAdvanced: {},
	domain.SecurityCritical: {},
}

var allowedPressures = map[string]struct{}{
	domain.PressureLow:    {},
	domain.PressureMedium: {},
	domain.PressureHigh:   {},
}

var allowedUrgencies = map[string]struct{}{
	domain.UrgencyStandard: {},
	domain.UrgencyPriority: {},
	domain.UrgencyUrgent:   {},
}

type violations []string

func (v *violations) add(format string, args ...any) {
	*v = append(*v, fmt.Sprintf(format, args...))
}

func (v violations) err() error {
	if len(v) == 0 {
		return nil
	}
	return domain.ValidationFailed(v)
}

func CreateParams(in domain.CreateParams) (domain.CreateParams, error) {
	out := domain.CreateParams{
		Title:          strings.TrimSpace(in.Title),
		Brief:          strings.TrimSpace(in.Brief),
		ClientID:       strings.TrimSpace(in.ClientID),
		CounterpartyID: strings.TrimSpace(in.CounterpartyID),
	}

	var problems violations
	switch {
	case out.Title == "":
		problems.add("title is required")
	case len(out.Title) > MaxTitleLength:
		problems.add("title must be at most %d characters", MaxTitleLength)
	}
	switch {
	case out.Brief == "":
		problems.add("brief is required")
	case len(out.Brief) > MaxBriefLength:
		problems.add("brief must be at most %d characters", MaxBriefLength)
	}
	if out.ClientID == "" {
		problems.add("client_id is required")
	} else if len(out.ClientID) > MaxPartyID {
		problems.add("client_id must be at most %d characters", MaxPartyID)
	}
	if len(out.CounterpartyID) > MaxPartyID {
		problems.add("counterparty_id must be at most %d characters", MaxPartyID)
	}
	if out.ClientID != "" && out.ClientID == out.CounterpartyID {
		problems.add("client_id and counterparty_id must differ")
	}
	return out, problems.err()
}

// Extraction checks a model extraction result. Empty levels default to the
// lowest tier; unknown levels are rejected.
func Extraction(in domain.ExtractionResult) (domain.ExtractionResult, error) {
	var problems violations
	out := domain.ExtractionResult{
		ProjectType:      strings.TrimSpace(in.ProjectType),
		Features:         cleanList("features", in.Features, &problems),
		Integrations:     cleanList("integrations", in.Integrations, &problems),
		TechStack:        cleanList("tech_stack", in.TechStack, &problems),
		SecurityLevel:    strings.ToLower(strings.TrimSpace(in.SecurityLevel)),
		ComplianceFlags:  cleanList("compliance_flags", in.ComplianceFlags, &problems),
		CustomLogicFlags: cleanList("custom_logic_flags", in.CustomLogicFlags, &problems),
		DeadlinePressure: strings.ToLower(strings.TrimSpace(in.DeadlinePressure)),
		MissingAssets:    cleanList("missing_assets", in.MissingAssets, &problems),
		Confidence:       in.Confidence,
		Source:           strings.TrimSpace(in.Source),
	}

	if out.SecurityLevel == "" {
		out.SecurityLevel = domain.SecurityNone
	}
	if _, ok := allowedSecurityLevels[out.SecurityLevel]; !ok {
		problems.add("security_level %q is not one of none, basic, advanced, critical", in.SecurityLevel)
	}
	if out.DeadlinePressure == "" {
		out.DeadlinePressure = domain.PressureLow
	}
	if _, ok := allowedPressures[out.DeadlinePressure]; !ok {
		problems.add("deadline_pressure %q is not one of low, medium, high", in.DeadlinePressure)
	}
	checkUnit("confidence", out.Confidence, &problems)

	seen := map[string]struct{}{}
	out.OpenQuestions = make([]domain.ClarificationQuestion, 0, len(in.OpenQuestions))
	for index, question := range in.OpenQuestions {
		cleaned := domain.ClarificationQuestion{
			ID:            strings.TrimSpace(question.ID),
			Field:         strings.TrimSpace(question.Field),
			Question:      strings.TrimSpace(question.Question),
			DefaultAnswer: strings.TrimSpace(question.DefaultAnswer),
			Required:      question.Required,
		}
		if cleaned.ID == "" {
			problems.add("open_questions[%d].id is required", index)
			continue
		}
		if _, dup := seen[cleaned.ID]; dup {
			problems.add("open_questions[%d].id %q is duplicated", index, cleaned.ID)
			continue
		}
		seen[cleaned.ID] = struct{}{}
		if cleaned.Question == "" {
			problems.add("open_questions[%d].question is required", index)
		}
		if cleaned.Field == "" {
			cleaned.Field = cleaned.ID
		}
		out.OpenQuestions = append(out.OpenQuestions, cleaned)
	}
	return out, problems.err()
}

// Clarification checks answers against the open questions and records the
// defaults applied for skipped or unanswered ones.
func Clarification(questions []domain.ClarificationQuestion, answers map[string]string, skipped []string, now time.Time) (domain.ClarificationAnswers, error) {
	var problems violations
	byID := make(map[string]domain.ClarificationQuestion, len(questions))
	for _, question := range questions {
		byID[question.ID] = question
	}

	out := domain.ClarificationAnswers{
		Answers:         map[string]string{},
		Skipped:         []string{},
		AppliedDefaults: map[string]string{},
		SubmittedAt:     now.UTC(),
	}

	for rawID, answer := range answers {
		id := strings.TrimSpace(rawID)
		if _, ok := byID[id]; !ok {
			problems.add("answer for unknown question %q", rawID)
			continue
		}
		if trimmed := strings.TrimSpace(answer); trimmed != "" {
			out.Answers[id] = trimmed
		}
	}

	skippedSet := map[string]struct{}{}
	for _, rawID := range skipped {
		id := strings.TrimSpace(rawID)
		if _, ok := byID[id]; !ok {
			problems.add("skipped unknown question %q", rawID)
			continue
		}
		if _, answered := out.Answers[id]; answered {
			problems.add("question %q is both answered and skipped", id)
			continue
		}
		if _, dup := skippedSet[id]; dup {
			continue
		}
		skippedSet[id] = struct{}{}
		out.Skipped = append(out.Skipped, id)
	}

	for _, question := range questions {
		if _, answered := out.Answers[question.ID]; answered {
			continue
		}
		if question.DefaultAnswer != "" {
			out.AppliedDefaults[question.ID] = question.DefaultAnswer
			continue
		}
		if question.Required {
			problems.add("question %q is required and has no default", question.ID)
		}
	}
	return out, problems.err()
}

func Scope(in domain.ScopeDocument) (domain.ScopeDocument, error) {
	var problems violations
	out := domain.ScopeDocument{
		Summary:      strings.TrimSpace(in.Summary),
		Deliverables: make([]domain.Deliverable, 0, len(in.Deliverables)),
		Phases:       make([]domain.PhaseEstimate, 0, len(in.Phases)),
		Assumptions:  cleanList("assumptions", in.Assumptions, &problems),
		OutOfScope:   cleanList("out_of_scope", in.OutOfScope, &problems),
		GeneratedAt:  in.GeneratedAt,
	}
	if out.Summary == "" {
		problems.add("scope summary is required")
	}
	if len(in.Deliverables) == 0 {
		problems.add("scope needs at least one deliverable")
	}
	for index, item := range in.Deliverables {
		cleaned := domain.Deliverable{
			Title:              strings.TrimSpace(item.Title),
			Description:        strings.TrimSpace(item.Description),
			AcceptanceCriteria: cleanList(fmt.Sprintf("deliverables[%d].acceptance_criteria", index), item.AcceptanceCriteria, &problems),
		}
		if cleaned.Title == "" {
			problems.add("deliverables[%d].title is required", index)
		}
		out.Deliverables = append(out.Deliverables, cleaned)
	}
	if len(in.Phases) == 0 {
		problems.add("scope needs at least one phase estimate")
	}
	for index, phase := range in.Phases {
		cleaned := domain.PhaseEstimate{Name: strings.TrimSpace(phase.Name), Hours: phase.Hours}
		if cleaned.Name == "" {
			problems.add("phases[%d].name is required", index)
		}
		if !finite(cleaned.Hours) || cleaned.Hours <= 0 {
			problems.add("phases[%d].hours must be a positive number", index)
		}
		out.Phases = append(out.Phases, cleaned)
	}
	return out, problems.err()
}

func ComplexityInputs(in domain.ComplexityInputs) error {
	var problems violations
	counts := map[string]int{
		"feature_count":       in.FeatureCount,
		"integration_count":   in.IntegrationCount,
		"asset_missing_count": in.AssetMissingCount,
		"deliverable_count":   in.DeliverableCount,
	}
	for _, name := range []string{"feature_count", "integration_count", "asset_missing_count", "deliverable_count"} {
		if counts[name] < 0 {
			problems.add("%s must not be negative", name)
		}
	}
	if _, ok := allowedSecurityLevels[strings.ToLower(strings.TrimSpace(in.SecurityLevel))]; !ok {
		problems.add("security_level %q is not one of none, basic, advanced, critical", in.SecurityLevel)
	}
	if _, ok := allowedPressures[strings.ToLower(strings.TrimSpace(in.DeadlinePressure))]; !ok {
		problems.add("deadline_pressure %q is not one of low, medium, high", in.DeadlinePressure)
	}
	if !finite(in.EstimatedHours) || in.EstimatedHours < 0 {
		problems.add("estimated_hours must be a non-negative number")
	}
	checkUnit("confidence_score", in.ConfidenceScore, &problems)
	return problems.err()
}

// MaxQuoteLamports bounds every priced amount. Below 2^53 lamports float64
// arithmetic is exact to the lamport and sums cannot overflow int64.
const MaxQuoteLamports = 1 << 53

// worstCaseQuoteFactor is the largest multiplier (2.0) times the largest
// contingency (1.3) times the platform fee (1.05).
const worstCaseQuoteFactor = 2.0 * 1.3 * 1.05

func PricingInput(in domain.PricingInput) error {
	var problems violations
	if !finite(in.ComplexityScore) || in.ComplexityScore < 0 || in.ComplexityScore > 100 {
		problems.add("complexity_score must be within [0, 100]")
	}
	if !finite(in.EstimatedHours) || in.EstimatedHours <= 0 {
		problems.add("estimated_hours must be a positive number")
	}
	if in.BaseRateLamports <= 0 {
		problems.add("base_rate_lamports must be positive")
	}
	if finite(in.EstimatedHours) && in.EstimatedHours > 0 && in.BaseRateLamports > 0 &&
		in.EstimatedHours*float64(in.BaseRateLamports)*worstCaseQuoteFactor > MaxQuoteLamports {
		problems.add("estimated_hours x base_rate_lamports would exceed the %d lamport quote ceiling", int64(MaxQuoteLamports))
	}
	checkUnit("confidence", in.Confidence, &problems)
	for index, phase := range in.Phases {
		if !finite(phase.Hours) || phase.Hours < 0 {
			problems.add("phases[%d].hours must be a non-negative number", index)
		}
	}
	if in.Urgency != "" {
		if _, ok := allowedUrgencies[in.Urgency]; !ok {
			problems.add("urgency %q is not one of standard, priority, urgent", in.Urgency)
		}
	}
	return problems.err()
}

// Drivers normalizes requote drivers; empty urgency means standard.
func Drivers(in domain.QuoteDrivers) (domain.QuoteDrivers, error) {
	var problems violations
	out := domain.QuoteDrivers{
		RevisedHours: in.RevisedHours,
		Urgency:      strings.ToLower(strings.TrimSpace(in.Urgency)),
	}
	if out.Urgency == "" {
		out.Urgency = domain.UrgencyStandard
	}
	if _, ok := allowedUrgencies[out.Urgency]; !ok {
		problems.add("urgency %q is not one of standard, priority, urgent", in.Urgency)
	}
	if !finite(out.RevisedHours) || out.RevisedHours < 0 {
		problems.add("revised_hours must be a non-negative number")
	}
	return out, problems.err()
}

func BaseRate(rate int64) error {
	if rate <= 0 {
		return domain.InvalidArgument("base_rate_lamports must be positive")
	}
	return nil
}

func FundingRef(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", domain.InvalidArgument("external funding reference is required")
	}
	if len(ref) > MaxFundingRef {
		return "", domain.InvalidArgument(fmt.Sprintf("external funding reference must be at most %d characters", MaxFundingRef))
	}
	return ref, nil
}

func Reason(reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) > MaxReasonLength {
		return "", domain.InvalidArgument(fmt.Sprintf("reason must be at most %d characters", MaxReasonLength))
	}
	return reason, nil
}

func RecordID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", domain.InvalidArgument("record id is required")
	}
	return id, nil
}

func cleanList(name string, items []string, problems *violations) []string {
	if len(items) > MaxListItems {
		problems.add("%s has %d items; at most %d allowed", name, len(items), MaxListItems)
	}
	seen := map[string]struct{}{}
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

func checkUnit(name string, value float64, problems *violations) {
	if !finite(value) || value < 0 || value > 1 {
		problems.add("%s must be within [0, 1]", name)
	}
}

func finite(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0)
}
