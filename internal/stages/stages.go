// Package stages holds the workflow transition table and the verbs a caller
// may invoke from each stage.
package stages

import (
	"fmt"
	"strings"

	"github.com/bcrosbie/quoteengine/internal/domain"
)

type Action string

const (
	ActionAnalyze             Action = "analyze"
	ActionSubmitClarification Action = "submit_clarification"
	ActionGenerateScope       Action = "generate_scope"
	ActionApproveScope        Action = "approve_scope"
	ActionBeginEdit           Action = "begin_edit"
	ActionRequote             Action = "requote"
	ActionConfirmQuote        Action = "confirm_quote"
	ActionRecordFunding       Action = "record_funding"
	ActionCancel              Action = "cancel"
	ActionArchive             Action = "archive"
)

var ordered = []domain.Stage{
	domain.StageInit,
	domain.StageAnalyzing,
	domain.StageClarifyPending,
	domain.StageClarifyComplete,
	domain.StageScopeDraft,
	domain.StageScopeReady,
	domain.StageComplexityCalc,
	domain.StageQuoteReady,
	domain.StageQuoteEditing,
	domain.StageConfirmed,
	domain.StageFunded,
	domain.StageCancelled,
}

var transitions = map[domain.Stage][]domain.Stage{
	domain.StageInit:            {domain.StageAnalyzing, domain.StageCancelled},
	domain.StageAnalyzing:       {domain.StageClarifyPending, domain.StageScopeDraft, domain.StageInit, domain.StageCancelled},
	domain.StageClarifyPending:  {domain.StageClarifyComplete, domain.StageCancelled},
	domain.StageClarifyComplete: {domain.StageScopeDraft, domain.StageCancelled},
	domain.StageScopeDraft:      {domain.StageScopeReady, domain.StageClarifyPending, domain.StageCancelled},
	domain.StageScopeReady:      {domain.StageComplexityCalc, domain.StageScopeDraft, domain.StageCancelled},
	domain.StageComplexityCalc:  {domain.StageQuoteReady, domain.StageScopeReady, domain.StageCancelled},
	domain.StageQuoteReady:      {domain.StageQuoteEditing, domain.StageConfirmed, domain.StageCancelled},
	domain.StageQuoteEditing:    {domain.StageQuoteReady, domain.StageCancelled},
	domain.StageConfirmed:       {domain.StageFunded, domain.StageCancelled},
	domain.StageFunded:          {},
	domain.StageCancelled:       {},
}

var actions = map[domain.Stage][]Action{
	domain.StageInit:            {ActionAnalyze, ActionCancel},
	domain.StageAnalyzing:       {ActionCancel},
	domain.StageClarifyPending:  {ActionSubmitClarification, ActionCancel},
	domain.StageClarifyComplete: {ActionGenerateScope, ActionCancel},
	domain.StageScopeDraft:      {ActionCancel},
	domain.StageScopeReady:      {ActionApproveScope, ActionGenerateScope, ActionCancel},
	domain.StageComplexityCalc:  {ActionCancel},
	domain.StageQuoteReady:      {ActionConfirmQuote, ActionBeginEdit, ActionCancel},
	domain.StageQuoteEditing:    {ActionRequote, ActionCancel},
	domain.StageConfirmed:       {ActionRecordFunding, ActionCancel},
	domain.StageFunded:          {},
	domain.StageCancelled:       {ActionArchive},
}

var waiting = map[domain.Stage]struct{}{
	domain.StageAnalyzing:      {},
	domain.StageScopeDraft:     {},
	domain.StageComplexityCalc: {},
}

// All returns every stage in pipeline order.
func All() []domain.Stage {
	return append([]domain.Stage(nil), ordered...)
}

func Known(stage domain.Stage) bool {
	_, ok := transitions[stage]
	return ok
}

func Parse(raw string) (domain.Stage, error) {
	stage := domain.Stage(strings.ToLower(strings.TrimSpace(raw)))
	if !Known(stage) {
		return "", domain.InvalidArgument(fmt.Sprintf("unknown stage %q", raw))
	}
	return stage, nil
}

// Allowed returns the legal destinations from a stage.
func Allowed(from domain.Stage) []domain.Stage {
	return append([]domain.Stage(nil), transitions[from]...)
}

func CanTransition(from, to domain.Stage) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

func Validate(from, to domain.Stage) error {
	if !Known(from) {
		return domain.InvalidArgument(fmt.Sprintf("unknown stage %q", from))
	}
	if !Known(to) {
		return domain.InvalidArgument(fmt.Sprintf("unknown stage %q", to))
	}
	if !CanTransition(from, to) {
		return domain.InvalidTransition(from, to, transitions[from])
	}
	return nil
}

// ValidateTrigger applies the edge check plus the rule that a waiting stage
// is only left by the engine itself, cancellation excepted.
func ValidateTrigger(from, to domain.Stage, trigger domain.TriggerKind) error {
	if err := ValidateTriggerKind(trigger); err != nil {
		return err
	}
	if err := Validate(from, to); err != nil {
		return err
	}
	if trigger == domain.TriggerUser && IsWaiting(from) && to != domain.StageCancelled {
		return domain.InvalidTransition(from, to, []domain.Stage{domain.StageCancelled})
	}
	return nil
}

func ValidateTriggerKind(trigger domain.TriggerKind) error {
	switch trigger {
	case domain.TriggerAutomatic, domain.TriggerUser, domain.TriggerSystem, domain.TriggerModel, domain.TriggerError:
		return nil
	default:
		return domain.InvalidArgument(fmt.Sprintf("unknown trigger %q", trigger))
	}
}

func IsTerminal(stage domain.Stage) bool {
	switch stage {
	case domain.StageFunded, domain.StageCancelled:
		return true
	default:
		return false
	}
}

func IsWaiting(stage domain.Stage) bool {
	_, ok := waiting[stage]
	return ok
}

// NextActions lists caller-facing verbs for a stage. Waiting stages expose
// only cancel.
func NextActions(stage domain.Stage) []Action {
	return append([]Action(nil), actions[stage]...)
}
