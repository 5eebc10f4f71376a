package extractor

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/bcrosbie/quoteengine/internal/domain"
)

type keywordRule struct {
	value    string
	keywords []string
}

var projectTypeRules = []keywordRule{
	{value: "nft_marketplace", keywords: []string{"nft", "nfts"}},
	{value: "marketplace", keywords: []string{"marketplace"}},
	{value: "mobile_app", keywords: []string{"mobile app", "ios", "android"}},
	{value: "dashboard", keywords: []string{"dashboard", "admin panel"}},
	{value: "api_service", keywords: []string{"api", "backend service", "microservice"}},
	{value: "website", keywords: []string{"website", "landing page", "blog"}},
}

var featureRules = []keywordRule{
	{value: "authentication", keywords: []string{"login", "sign in", "signup", "sign up", "auth", "authentication"}},
	{value: "user_profiles", keywords: []string{"profile", "profiles"}},
	{value: "listings", keywords: []string{"list", "listing", "listings", "catalog"}},
	{value: "minting", keywords: []string{"mint", "minting"}},
	{value: "auctions", keywords: []string{"bid", "bids", "auction", "auctions"}},
	{value: "payments", keywords: []string{"payment", "payments", "checkout", "subscription", "subscriptions"}},
	{value: "wallet_connect", keywords: []string{"wallet", "wallets"}},
	{value: "search", keywords: []string{"search", "filter", "filters"}},
	{value: "messaging", keywords: []string{"chat", "messaging", "messages"}},
	{value: "notifications", keywords: []string{"notification", "notifications", "alerts"}},
	{value: "admin_panel", keywords: []string{"admin", "moderation"}},
	{value: "analytics", keywords: []string{"analytics", "reports", "reporting", "metrics"}},
	{value: "file_uploads", keywords: []string{"upload", "uploads"}},
}

var integrationRules = []keywordRule{
	{value: "stripe", keywords: []string{"stripe"}},
	{value: "paypal", keywords: []string{"paypal"}},
	{value: "twilio", keywords: []string{"twilio", "sms"}},
	{value: "sendgrid", keywords: []string{"sendgrid", "email"}},
	{value: "solana", keywords: []string{"solana"}},
	{value: "ethereum", keywords: []string{"ethereum", "metamask"}},
	{value: "phantom", keywords: []string{"phantom"}},
	{value: "google", keywords: []string{"google", "gmail"}},
	{value: "shopify", keywords: []string{"shopify"}},
	{value: "slack", keywords: []string{"slack"}},
	{value: "salesforce", keywords: []string{"salesforce", "crm"}},
	{value: "aws", keywords: []string{"aws", "s3"}},
}

var techRules = []keywordRule{
	{value: "react", keywords: []string{"react"}},
	{value: "nextjs", keywords: []string{"next js", "nextjs"}},
	{value: "vue", keywords: []string{"vue"}},
	{value: "go", keywords: []string{"golang", "go backend"}},
	{value: "node", keywords: []string{"node", "nodejs", "node js"}},
	{value: "python", keywords: []string{"python", "django", "flask"}},
	{value: "rust", keywords: []string{"rust", "anchor"}},
	{value: "postgres", keywords: []string{"postgres", "postgresql"}},
	{value: "flutter", keywords: []string{"flutter"}},
	{value: "swift", keywords: []string{"swift"}},
	{value: "kotlin", keywords: []string{"kotlin"}},
}

var complianceRules = []keywordRule{
	{value: "hipaa", keywords: []string{"hipaa"}},
	{value: "gdpr", keywords: []string{"gdpr"}},
	{value: "pci", keywords: []string{"pci", "pci dss"}},
	{value: "kyc", keywords: []string{"kyc", "know your customer"}},
	{value: "aml", keywords: []string{"aml", "anti money laundering"}},
	{value: "sox", keywords: []string{"sox"}},
}

var customLogicRules = []keywordRule{
	{value: "machine_learning", keywords: []string{"machine learning", "ml model", "ai", "recommendation engine"}},
	{value: "smart_contract", keywords: []string{"smart contract", "smart contracts", "nft", "nfts", "mint", "royalties"}},
	{value: "blockchain", keywords: []string{"blockchain", "solana", "ethereum", "on chain"}},
	{value: "realtime", keywords: []string{"real time", "realtime", "live", "websocket", "websockets"}},
	{value: "custom_algorithm", keywords: []string{"algorithm", "matching", "pricing engine", "scheduling"}},
}

var (
	criticalSecurity = []string{"hipaa", "pci", "custody", "private keys", "medical records"}
	advancedSecurity = []string{"encryption", "kyc", "2fa", "mfa", "audit", "smart contract", "smart contracts", "escrow", "wallet"}
	basicSecurity    = []string{"login", "auth", "authentication", "password", "accounts", "sign in"}
	highPressure     = []string{"asap", "urgent", "urgently", "yesterday", "immediately", "rush"}
	mediumPressure   = []string{"deadline", "soon", "next month", "launch date"}
	timelineWords    = []string{"week", "weeks", "month", "months", "day", "days", "deadline", "asap", "urgent", "quarter", "q1", "q2", "q3", "q4"}
	audienceWords    = []string{"users", "customers", "audience", "clients", "collectors", "artists", "patients", "students", "buyers", "sellers", "members"}
	designWords      = []string{"figma", "design", "designs", "mockup", "mockups", "wireframe", "wireframes", "brand guide"}
)

// HeuristicModel extracts facts by keyword matching. It is deterministic and
// stands in for the generative model when none is configured.
type HeuristicModel struct{}

func NewHeuristicModel() *HeuristicModel {
	return &HeuristicModel{}
}

func (h *HeuristicModel) Extract(_ context.Context, title, brief string) (domain.ExtractionResult, error) {
	text := normalize(title + "\n" + brief)
	if strings.TrimSpace(text) == "" {
		return domain.ExtractionResult{}, fmt.Errorf("brief is empty")
	}

	result := domain.ExtractionResult{
		ProjectType:      firstMatch(text, projectTypeRules, "custom_software"),
		Features:         allMatches(text, featureRules),
		Integrations:     allMatches(text, integrationRules),
		TechStack:        allMatches(text, techRules),
		SecurityLevel:    securityLevel(text),
		ComplianceFlags:  allMatches(text, complianceRules),
		CustomLogicFlags: allMatches(text, customLogicRules),
		DeadlinePressure: deadlinePressure(text),
		MissingAssets:    []string{},
		OpenQuestions:    []domain.ClarificationQuestion{},
		Source:           SourceHeuristic,
	}
	if len(result.Features) == 0 {
		result.Features = []string{"core_workflow"}
	}
	if !containsAny(text, designWords) {
		result.MissingAssets = append(result.MissingAssets, "designs")
	}

	if len(result.TechStack) == 0 {
		result.OpenQuestions = append(result.OpenQuestions, domain.ClarificationQuestion{
			ID:            "tech_stack",
			Field:         "tech_stack",
			Question:      "Do you have a preferred technology stack?",
			DefaultAnswer: "Provider's recommended stack",
		})
	}
	if !containsAny(text, timelineWords) {
		result.OpenQuestions = append(result.OpenQuestions, domain.ClarificationQuestion{
			ID:            "timeline",
			Field:         "deadline_pressure",
			Question:      "When do you need this delivered?",
			DefaultAnswer: "No fixed deadline; about 8 weeks",
		})
	}
	if !containsAny(text, audienceWords) {
		result.OpenQuestions = append(result.OpenQuestions, domain.ClarificationQuestion{
			ID:            "target_users",
			Field:         "target_users",
			Question:      "Who are the primary users?",
			DefaultAnswer: "General public",
		})
	}

	confidence := 0.9 - 0.1*float64(len(result.OpenQuestions)) - 0.05*float64(len(result.MissingAssets))
	result.Confidence = math.Round(math.Max(0.4, confidence)*100) / 100
	return result, nil
}

const (
	discoveryHours        = 8.0
	hoursPerFeature       = 12.0
	hoursPerIntegration   = 8.0
	hoursPerCustomLogic   = 16.0
	designHoursPerFeature = 4.0
	launchHours           = 6.0
)

func (h *HeuristicModel) DraftScope(_ context.Context, record domain.WorkflowRecord) (domain.ScopeDocument, error) {
	if record.Extraction == nil {
		return domain.ScopeDocument{}, fmt.Errorf("record %s has no extraction to scope from", record.ID)
	}
	extraction := record.Extraction

	deliverables := make([]domain.Deliverable, 0, len(extraction.Features)+len(extraction.Integrations)+1)
	for _, feature := range extraction.Features {
		label := humanize(feature)
		deliverables = append(deliverables, domain.Deliverable{
			Title:       label,
			Description: fmt.Sprintf("%s for %s", label, record.Title),
			AcceptanceCriteria: []string{
				fmt.Sprintf("%s works end to end in staging", label),
				"Covered by automated tests",
			},
		})
	}
	for _, integration := range extraction.Integrations {
		deliverables = append(deliverables, domain.Deliverable{
			Title:              humanize(integration) + " integration",
			Description:        fmt.Sprintf("Connect %s to the %s integration", record.Title, integration),
			AcceptanceCriteria: []string{"Sandbox credentials verified", "Failure paths handled"},
		})
	}
	deliverables = append(deliverables, domain.Deliverable{
		Title:              "Launch",
		Description:        "Production deployment and handover",
		AcceptanceCriteria: []string{"Deployed to production", "Runbook delivered"},
	})

	build := hoursPerFeature*float64(len(extraction.Features)) +
		hoursPerIntegration*float64(len(extraction.Integrations)) +
		hoursPerCustomLogic*float64(len(extraction.CustomLogicFlags))
	phases := []domain.PhaseEstimate{
		{Name: "Discovery", Hours: discoveryHours},
		{Name: "Design", Hours: designHoursPerFeature * float64(len(extraction.Features))},
		{Name: "Build", Hours: build},
		{Name: "QA", Hours: math.Round(build*0.2*10) / 10},
		{Name: "Launch", Hours: launchHours},
	}

	assumptions := []string{}
	if record.Clarification != nil {
		resolved := record.Clarification.Resolved()
		for _, question := range extraction.OpenQuestions {
			if answer, ok := resolved[question.ID]; ok {
				assumptions = append(assumptions, fmt.Sprintf("%s: %s", humanize(question.ID), answer))
			}
		}
	}
	if len(extraction.TechStack) > 0 {
		assumptions = append(assumptions, "Stack: "+strings.Join(extraction.TechStack, ", "))
	}

	return domain.ScopeDocument{
		Summary: fmt.Sprintf("%s: %s with %d features and %d integrations.",
			record.Title, humanize(extraction.ProjectType), len(extraction.Features), len(extraction.Integrations)),
		Deliverables: deliverables,
		Phases:       phases,
		Assumptions:  assumptions,
		OutOfScope:   []string{"Ongoing maintenance after launch", "Content and copywriting"},
	}, nil
}

func firstMatch(text string, rules []keywordRule, fallback string) string {
	for _, rule := range rules {
		if containsAny(text, rule.keywords) {
			return rule.value
		}
	}
	return fallback
}

func allMatches(text string, rules []keywordRule) []string {
	out := []string{}
	for _, rule := range rules {
		if containsAny(text, rule.keywords) {
			out = append(out, rule.value)
		}
	}
	return out
}

func securityLevel(text string) string {
	switch {
	case containsAny(text, criticalSecurity):
		return domain.SecurityCritical
	case containsAny(text, advancedSecurity):
		return domain.SecurityAdvanced
	case containsAny(text, basicSecurity):
		return domain.SecurityBasic
	default:
		return domain.SecurityNone
	}
}

func deadlinePressure(text string) string {
	switch {
	case containsAny(text, highPressure):
		return domain.PressureHigh
	case containsAny(text, mediumPressure):
		return domain.PressureMedium
	default:
		return domain.PressureLow
	}
}

func containsAny(text string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(text, normalize(keyword)) {
			return true
		}
	}
	return false
}

// normalize pads words with single spaces so matches land on word boundaries.
func normalize(text string) string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	return " " + strings.Join(words, " ") + " "
}

func humanize(value string) string {
	value = strings.ReplaceAll(value, "_", " ")
	if value == "" {
		return value
	}
	runes := []rune(value)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
