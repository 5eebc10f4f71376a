// Package scoring turns pipeline facts into a 0-100 complexity score with a
// per-component breakdown.
package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/bcrosbie/quoteengine/internal/domain"
	"github.com/bcrosbie/quoteengine/internal/risk"
)

const ModelVersion = "complexity-v1"

const (
	maxFeatureScore     = 25.0
	maxIntegrationScore = 20.0
	maxComplianceScore  = 15.0
	maxCustomLogicScore = 15.0
	maxMissingPenalty   = 5.0
	unknownFlagWeight   = 3.0
	topDriverCount      = 3
)

var securityScores = map[string]float64{
	domain.SecurityNone:     0,
	domain.SecurityBasic:    5,
	domain.SecurityAdvanced: 10,
	domain.SecurityCritical: 15,
}

var timelineScores = map[string]float64{
	domain.PressureLow:    0,
	domain.PressureMedium: 5,
	domain.PressureHigh:   10,
}

// complianceWeights covers every flag risk.Assess emits plus the labels an
// extractor commonly reports.
var complianceWeights = map[string]float64{
	risk.FlagHealthData:               8,
	"hipaa":                           8,
	"health":                          8,
	risk.FlagPaymentCardData:          7,
	"pci":                             7,
	"pci_dss":                         7,
	"payment_card":                    7,
	risk.FlagFinancialRegulatedRegion: 7,
	"financial_regulated":             7,
	risk.FlagGambling:                 6,
	"kyc":                             6,
	"aml":                             6,
	"sox":                             6,
	"coppa":                           6,
	risk.FlagFinancialServices:        5,
	"financial":                       5,
	risk.FlagAIRegulation:             5,
	"gdpr":                            5,
	risk.FlagAdultContent:             4,
	risk.FlagPersonalData:             4,
	"ccpa":                            4,
}

var customLogicWeights = map[string]float64{
	"machine_learning": 8,
	"ml":               8,
	"ai":               8,
	"blockchain":       7,
	"smart_contract":   7,
	"realtime":         5,
	"real_time":        5,
	"custom_algorithm": 4,
	"data_pipeline":    4,
}

// Score is deterministic: equal inputs always yield an equal result.
func Score(inputs domain.ComplexityInputs) domain.ComplexityResult {
	breakdown := domain.ComplexityBreakdown{
		FeatureScore:       featureScore(inputs.FeatureCount),
		IntegrationScore:   math.Min(maxIntegrationScore, 4*float64(max(inputs.IntegrationCount, 0))),
		SecurityScore:      securityScores[normalizeLevel(inputs.SecurityLevel)],
		ComplianceScore:    weightedFlags(inputs.ComplianceFlags, complianceWeights, maxComplianceScore),
		CustomLogicScore:   weightedFlags(inputs.CustomLogicFlags, customLogicWeights, maxCustomLogicScore),
		TimelineScore:      timelineScores[normalizeLevel(inputs.DeadlinePressure)],
		UncertaintyPenalty: uncertaintyPenalty(inputs.AssetMissingCount, inputs.ConfidenceScore),
	}

	total := round1(clamp(breakdown.Sum(), 0, 100))
	return domain.ComplexityResult{
		ComplexityScore: total,
		Breakdown:       breakdown,
		Explanation:     explain(total, breakdown),
		ModelVersion:    ModelVersion,
		Inputs:          inputs,
	}
}

// Band returns the human label for a score.
func Band(score float64) string {
	switch {
	case score < 20:
		return "Low complexity project"
	case score < 40:
		return "Moderate complexity project"
	case score < 70:
		return "High complexity project"
	default:
		return "Very high complexity project"
	}
}

// DeriveInputs maps validated pipeline artifacts onto scoring inputs.
func DeriveInputs(extraction domain.ExtractionResult, scope domain.ScopeDocument, complianceFlags []string) domain.ComplexityInputs {
	return domain.ComplexityInputs{
		FeatureCount:      len(extraction.Features),
		IntegrationCount:  len(extraction.Integrations),
		SecurityLevel:     extraction.SecurityLevel,
		ComplianceFlags:   union(extraction.ComplianceFlags, complianceFlags),
		CustomLogicFlags:  union(extraction.CustomLogicFlags, nil),
		AssetMissingCount: len(extraction.MissingAssets),
		DeadlinePressure:  extraction.DeadlinePressure,
		DeliverableCount:  len(scope.Deliverables),
		EstimatedHours:    scope.TotalHours(),
		ConfidenceScore:   extraction.Confidence,
	}
}

func featureScore(count int) float64 {
	if count <= 0 {
		return 0
	}
	if count <= 5 {
		return 5 * float64(count)
	}
	return math.Min(maxFeatureScore, 25+10*math.Log10(float64(count-4)))
}

func weightedFlags(flags []string, weights map[string]float64, limit float64) float64 {
	total := 0.0
	for _, flag := range union(flags, nil) {
		weight, ok := weights[flag]
		if !ok {
			weight = unknownFlagWeight
		}
		total += weight
	}
	return math.Min(limit, total)
}

func uncertaintyPenalty(missing int, confidence float64) float64 {
	missingPart := math.Min(maxMissingPenalty, float64(max(missing, 0))*1.5)
	confidencePart := (1 - clamp(confidence, 0, 1)) * 5
	return round1(missingPart + confidencePart)
}

func explain(total float64, breakdown domain.ComplexityBreakdown) string {
	components := breakdown.Components()
	sort.SliceStable(components, func(i, j int) bool {
		return components[i].Score > components[j].Score
	})

	drivers := make([]string, 0, topDriverCount)
	for _, component := range components {
		if component.Score <= 0 || len(drivers) == topDriverCount {
			break
		}
		drivers = append(drivers, fmt.Sprintf("%s (%.1f)", component.Name, component.Score))
	}

	text := fmt.Sprintf("%s: %.1f/100.", Band(total), total)
	if len(drivers) == 0 {
		return text + " No significant complexity drivers."
	}
	return text + " Main drivers: " + strings.Join(drivers, ", ") + "."
}

// NormalizeFlag folds case and separators so "Smart-Contract" matches smart_contract.
func NormalizeFlag(flag string) string {
	flag = strings.ToLower(strings.TrimSpace(flag))
	return strings.NewReplacer("-", "_", " ", "_").Replace(flag)
}

func normalizeLevel(level string) string {
	return strings.ToLower(strings.TrimSpace(level))
}

func union(left, right []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(left)+len(right))
	for _, group := range [][]string{left, right} {
		for _, flag := range group {
			normalized := NormalizeFlag(flag)
			if normalized == "" {
				continue
			}
			if _, ok := seen[normalized]; ok {
				continue
			}
			seen[normalized] = struct{}{}
			out = append(out, normalized)
		}
	}
	return out
}

func clamp(value, low, high float64) float64 {
	return math.Max(low, math.Min(high, value))
}

func round1(value float64) float64 {
	return math.Round(value*10) / 10
}
