// Package risk flags scope text that touches regulated domains. It leans
// toward false positives: a flagged record costs a review, a missed one costs
// a compliance incident.
package risk

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/bcrosbie/quoteengine/internal/domain"
)

const (
	FlagFinancialServices        = "financial_services"
	FlagFinancialRegulatedRegion = "financial_regulated_region"
	FlagHealthData               = "health_data"
	FlagPaymentCardData          = "payment_card_data"
	FlagAdultContent             = "adult_content"
	FlagGambling                 = "gambling"
	FlagPersonalData             = "personal_data"
	FlagAIRegulation             = "ai_regulation"
)

var critical = map[string]struct{}{
	FlagFinancialRegulatedRegion: {},
	FlagHealthData:               {},
	FlagPaymentCardData:          {},
	FlagGambling:                 {},
}

type keywordSet struct {
	flag        string
	description string
	keywords    []string
}

var (
	financial = compile(FlagFinancialServices, "financial or crypto services", []string{
		"bank", "banking", "loan", "loans", "lending", "crypto", "cryptocurrency", "defi",
		"token", "tokens", "stablecoin", "trading", "exchange", "brokerage", "investment",
		"investments", "securities", "forex", "remittance", "escrow", "wallet", "nft", "nfts",
	})
	jurisdiction = compile(FlagFinancialRegulatedRegion, "regulated jurisdiction", []string{
		"usa", "united states", "u.s.", "eu", "european union", "uk", "united kingdom",
		"sec", "finra", "fca", "mas", "singapore", "new york", "california", "ofac", "mica",
	})
	sets = []keywordSet{
		compile(FlagHealthData, "health data", []string{
			"health", "healthcare", "medical", "patient", "patients", "hipaa", "clinical",
			"diagnosis", "ehr", "phi", "telemedicine", "prescription", "prescriptions",
		}),
		compile(FlagPaymentCardData, "payment card data", []string{
			"credit card", "credit cards", "debit card", "card number", "card numbers",
			"pci", "pci dss", "cvv", "cardholder", "card payments",
		}),
		compile(FlagAdultContent, "adult content", []string{
			"adult content", "nsfw", "porn", "pornography", "explicit content", "escort",
		}),
		compile(FlagGambling, "gambling", []string{
			"gambling", "casino", "betting", "sportsbook", "lottery", "poker", "wager", "wagers",
		}),
		compile(FlagPersonalData, "personal data", []string{
			"personal data", "pii", "gdpr", "ssn", "social security", "date of birth",
			"passport", "biometric", "biometrics", "kyc", "home address",
		}),
		compile(FlagAIRegulation, "regulated AI use", []string{
			"facial recognition", "biometric identification", "credit scoring",
			"automated decision", "automated decisions", "deepfake", "deepfakes",
			"emotion recognition", "ai act",
		}),
	}
)

func compile(flag, description string, keywords []string) keywordSet {
	normalized := make([]string, 0, len(keywords))
	for _, keyword := range keywords {
		normalized = append(normalized, normalize(keyword))
	}
	return keywordSet{flag: flag, description: description, keywords: normalized}
}

// matches expects text from normalize, so every keyword hit sits between
// single spaces and substrings of longer words never match.
func (k keywordSet) matches(text string) []string {
	out := []string{}
	for _, keyword := range k.keywords {
		if strings.Contains(text, keyword) {
			out = append(out, strings.TrimSpace(keyword))
		}
	}
	return out
}

// normalize lower-cases text and collapses every non-alphanumeric run into a
// single space, padding both ends.
func normalize(text string) string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	return " " + strings.Join(words, " ") + " "
}

// Assess scans scope text, deliverable descriptions and clarification answers.
func Assess(scopeText string, deliverables []string, answers map[string]string) domain.RiskAssessment {
	parts := append([]string{scopeText}, deliverables...)
	keys := make([]string, 0, len(answers))
	for key := range answers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		parts = append(parts, answers[key])
	}
	text := normalize(strings.Join(parts, "\n"))

	assessment := domain.RiskAssessment{Flags: []string{}, Explanations: []string{}}
	add := func(flag, explanation string) {
		assessment.Flags = append(assessment.Flags, flag)
		assessment.Explanations = append(assessment.Explanations, explanation)
		if IsCritical(flag) {
			assessment.RequiresHumanReview = true
		}
	}

	if terms := financial.matches(text); len(terms) > 0 {
		add(FlagFinancialServices, explain(financial.description, terms))
		if regions := jurisdiction.matches(text); len(regions) > 0 {
			add(FlagFinancialRegulatedRegion, fmt.Sprintf("financial services offered in a regulated jurisdiction (%s)", strings.Join(regions, ", ")))
		}
	}
	for _, set := range sets {
		if terms := set.matches(text); len(terms) > 0 {
			add(set.flag, explain(set.description, terms))
		}
	}
	return assessment
}

func IsCritical(flag string) bool {
	_, ok := critical[flag]
	return ok
}

// Notes renders an assessment as record risk notes.
func Notes(assessment domain.RiskAssessment) []string {
	out := make([]string, 0, len(assessment.Flags))
	for i, flag := range assessment.Flags {
		note := flag
		if i < len(assessment.Explanations) {
			note += ": " + assessment.Explanations[i]
		}
		if IsCritical(flag) {
			note += " [critical]"
		}
		out = append(out, note)
	}
	return out
}

func explain(description string, terms []string) string {
	return fmt.Sprintf("%s terms found (%s)", description, strings.Join(terms, ", "))
}
