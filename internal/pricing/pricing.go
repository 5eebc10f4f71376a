// Package pricing converts a complexity score and effort estimate into an
// itemized quote in lamports.
package pricing

import (
	"fmt"
	"math"
	"time"

	"github.com/bcrosbie/quoteengine/internal/domain"
	"github.com/bcrosbie/quoteengine/internal/schema"
)

const (
	ConfigVersion       = "pricing-v1"
	LamportsPerSOL      = 1_000_000_000
	PlatformFeeRate     = 0.05
	MinContingency      = 0.05
	ContingencyPerDoubt = 0.30
	DefaultValidity     = 7 * 24 * time.Hour
)

var urgencyPenalty = map[string]float64{
	domain.UrgencyStandard: 0,
	domain.UrgencyPriority: 5,
	domain.UrgencyUrgent:   10,
}

type Config struct {
	// Validity is how long a quote may be confirmed. Zero means seven days.
	Validity time.Duration
	// FiatRate is the reference price of one SOL; zero disables fiat display.
	FiatRate     float64
	FiatCurrency string
}

type Pricer struct {
	cfg Config
}

func New(cfg Config) *Pricer {
	if cfg.Validity <= 0 {
		cfg.Validity = DefaultValidity
	}
	if cfg.FiatCurrency == "" {
		cfg.FiatCurrency = "USD"
	}
	return &Pricer{cfg: cfg}
}

// Quote prices a first revision.
func (p *Pricer) Quote(input domain.PricingInput, now time.Time) (domain.PricingResult, error) {
	return p.quote(input, 1, now)
}

// Requote prices revised drivers against the prior quote. baseScore is the
// unadjusted complexity score; prev is never modified.
func (p *Pricer) Requote(prev domain.PricingResult, baseScore float64, drivers domain.QuoteDrivers, baseRate int64, confidence float64, now time.Time) (domain.PricingResult, error) {
	drivers, err := schema.Drivers(drivers)
	if err != nil {
		return domain.PricingResult{}, err
	}

	oldHours := prev.Breakdown.EstimatedHours
	newHours := drivers.RevisedHours
	if newHours == 0 {
		newHours = oldHours
	}

	phases := make([]domain.PhaseEstimate, 0, len(prev.Phases))
	ratio := 1.0
	if oldHours > 0 {
		ratio = newHours / oldHours
	}
	for _, phase := range prev.Phases {
		phases = append(phases, domain.PhaseEstimate{Name: phase.Name, Hours: round(phase.Hours*ratio, 2)})
	}

	score := math.Min(100, baseScore+urgencyPenalty[drivers.Urgency])
	return p.quote(domain.PricingInput{
		ComplexityScore:  score,
		EstimatedHours:   newHours,
		BaseRateLamports: baseRate,
		Confidence:       confidence,
		Phases:           phases,
		Urgency:          drivers.Urgency,
	}, prev.Revision+1, now)
}

func (p *Pricer) quote(input domain.PricingInput, revision int, now time.Time) (domain.PricingResult, error) {
	if err := schema.PricingInput(input); err != nil {
		return domain.PricingResult{}, err
	}
	if input.Urgency == "" {
		input.Urgency = domain.UrgencyStandard
	}

	multiplier := Multiplier(input.ComplexityScore)
	contingencyPct := ContingencyPercent(input.Confidence)

	labour, err := lamports("labour", input.EstimatedHours*float64(input.BaseRateLamports)*multiplier)
	if err != nil {
		return domain.PricingResult{}, err
	}
	contingency, err := lamports("contingency", float64(labour)*contingencyPct)
	if err != nil {
		return domain.PricingResult{}, err
	}
	fee, err := lamports("fee", float64(labour+contingency)*PlatformFeeRate)
	if err != nil {
		return domain.PricingResult{}, err
	}
	var discount int64
	total := labour + contingency + fee - discount
	if total < 0 || total > schema.MaxQuoteLamports {
		return domain.PricingResult{}, domain.InvalidArgument(fmt.Sprintf("total of %d lamports is outside [0, %d]", total, int64(schema.MaxQuoteLamports)))
	}

	result := domain.PricingResult{
		LabourLamports:      labour,
		ContingencyLamports: contingency,
		FixedFeeLamports:    fee,
		DiscountLamports:    discount,
		TotalLamports:       total,
		LabourSOL:           ToSOL(labour),
		ContingencySOL:      ToSOL(contingency),
		FixedFeeSOL:         ToSOL(fee),
		DiscountSOL:         ToSOL(discount),
		TotalSOL:            ToSOL(total),
		Breakdown: domain.PricingBreakdown{
			EstimatedHours:       input.EstimatedHours,
			BaseRateLamports:     input.BaseRateLamports,
			ComplexityScore:      input.ComplexityScore,
			ComplexityMultiplier: multiplier,
			ContingencyPercent:   contingencyPct,
			PlatformFeeRate:      PlatformFeeRate,
		},
		Phases:               append([]domain.PhaseEstimate{}, input.Phases...),
		Urgency:              input.Urgency,
		Confidence:           input.Confidence,
		Revision:             revision,
		QuotedAt:             now.UTC(),
		ValidUntil:           now.UTC().Add(p.cfg.Validity),
		PricingConfigVersion: ConfigVersion,
	}
	if p.cfg.FiatRate > 0 {
		result.TotalFiat = round(result.TotalSOL*p.cfg.FiatRate, 2)
		result.FiatCurrency = p.cfg.FiatCurrency
	}
	return result, nil
}

// Multiplier maps a 0-100 score onto 0.8x-2.0x, rounded to four places.
func Multiplier(score float64) float64 {
	return round(0.8+(score/100)*1.2, 4)
}

func ContingencyPercent(confidence float64) float64 {
	return round(math.Max(MinContingency, (1-confidence)*ContingencyPerDoubt), 4)
}

func IsExpired(result domain.PricingResult, now time.Time) bool {
	return !result.ValidUntil.IsZero() && now.After(result.ValidUntil)
}

func ToSOL(lamports int64) float64 {
	return float64(lamports) / LamportsPerSOL
}

// lamports rounds an amount to whole lamports, rejecting anything that is not
// a finite value within the quote ceiling.
func lamports(name string, amount float64) (int64, error) {
	rounded := math.Round(amount)
	if math.IsNaN(rounded) || rounded < 0 || rounded > schema.MaxQuoteLamports {
		return 0, domain.InvalidArgument(fmt.Sprintf("%s amount is outside [0, %d] lamports", name, int64(schema.MaxQuoteLamports)))
	}
	return int64(rounded), nil
}

func round(value float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(value*scale) / scale
}
