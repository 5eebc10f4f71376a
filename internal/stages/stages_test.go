package stages

import (
	"strings"
	"testing"

	"github.com/bcrosbie/quoteengine/internal/domain"
)

func TestValidateAcceptsEveryListedEdge(t *testing.T) {
	for from, destinations := range transitions {
		for _, to := range destinations {
			if err := Validate(from, to); err != nil {
				t.Fatalf("expected %s -> %s to be allowed, got %v", from, to, err)
			}
		}
	}
}

func TestValidateRejectsUnlistedEdges(t *testing.T) {
	cases := []struct {
		from domain.Stage
		to   domain.Stage
	}{
		{domain.StageInit, domain.StageQuoteReady},
		{domain.StageClarifyPending, domain.StageScopeReady},
		{domain.StageQuoteReady, domain.StageFunded},
		{domain.StageFunded, domain.StageCancelled},
		{domain.StageCancelled, domain.StageInit},
		{domain.StageQuoteEditing, domain.StageConfirmed},
	}
	for _, tc := range cases {
		err := Validate(tc.from, tc.to)
		if !domain.HasCode(err, domain.CodeInvalidTransition) {
			t.Fatalf("expected invalid transition for %s -> %s, got %v", tc.from, tc.to, err)
		}
	}
}

func TestInvalidTransitionNamesAllowedDestinations(t *testing.T) {
	err := Validate(domain.StageInit, domain.StageQuoteReady)
	appErr, ok := domain.AsAppError(err)
	if !ok {
		t.Fatalf("expected AppError, got %v", err)
	}
	if !strings.Contains(appErr.Message, "analyzing") || !strings.Contains(appErr.Message, "cancelled") {
		t.Fatalf("expected allowed set in message, got %q", appErr.Message)
	}
	allowed, _ := appErr.Details["allowed"].([]string)
	if len(allowed) != 2 {
		t.Fatalf("expected two allowed destinations, got %v", appErr.Details["allowed"])
	}

	terminal, _ := domain.AsAppError(Validate(domain.StageFunded, domain.StageCancelled))
	if !strings.Contains(terminal.Message, "allowed: none") {
		t.Fatalf("expected terminal stage to report no destinations, got %q", terminal.Message)
	}
}

func TestEveryNonTerminalStageCanCancel(t *testing.T) {
	for _, stage := range All() {
		if IsTerminal(stage) {
			if len(Allowed(stage)) != 0 {
				t.Fatalf("terminal stage %s has outgoing edges", stage)
			}
			continue
		}
		if !CanTransition(stage, domain.StageCancelled) {
			t.Fatalf("expected %s to allow cancellation", stage)
		}
	}
}

func TestUserTriggerCannotLeaveWaitingStage(t *testing.T) {
	err := ValidateTrigger(domain.StageAnalyzing, domain.StageScopeDraft, domain.TriggerUser)
	if !domain.HasCode(err, domain.CodeInvalidTransition) {
		t.Fatalf("expected user trigger to be rejected, got %v", err)
	}
	if err := ValidateTrigger(domain.StageAnalyzing, domain.StageScopeDraft, domain.TriggerModel); err != nil {
		t.Fatalf("expected model trigger to pass, got %v", err)
	}
	if err := ValidateTrigger(domain.StageComplexityCalc, domain.StageCancelled, domain.TriggerUser); err != nil {
		t.Fatalf("expected user cancellation to pass, got %v", err)
	}
	if err := ValidateTrigger(domain.StageInit, domain.StageAnalyzing, "robot"); !domain.HasCode(err, domain.CodeInvalidArgument) {
		t.Fatalf("expected unknown trigger to be rejected, got %v", err)
	}
}

func TestNextActionsForWaitingStagesOnlyCancel(t *testing.T) {
	for stage := range waiting {
		got := NextActions(stage)
		if len(got) != 1 || got[0] != ActionCancel {
			t.Fatalf("expected only cancel for %s, got %v", stage, got)
		}
	}
	if got := NextActions(domain.StageFunded); len(got) != 0 {
		t.Fatalf("expected no actions for funded, got %v", got)
	}
}

func TestParse(t *testing.T) {
	stage, err := Parse("  Quote_Ready ")
	if err != nil || stage != domain.StageQuoteReady {
		t.Fatalf("expected quote_ready, got %q err=%v", stage, err)
	}
	if _, err := Parse("shipped"); !domain.HasCode(err, domain.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestAllowedReturnsCopy(t *testing.T) {
	allowed := Allowed(domain.StageInit)
	allowed[0] = domain.StageFunded
	if !CanTransition(domain.StageInit, domain.StageAnalyzing) {
		t.Fatalf("mutating Allowed result changed the table")
	}
}
