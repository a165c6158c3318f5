package worker

import (
	"context"
	"fmt"

	"github.com/hupe1980/dealmesh/core"
	"github.com/hupe1980/dealmesh/internal/util"
)

// Price comparison categories from best to worst.
const (
	CategoryExceptional  = "Exceptional Deal"
	CategoryGood         = "Good Deal"
	CategoryFair         = "Fair Price"
	CategorySlightlyOver = "Slightly Overpaid"
	CategoryOverpaid     = "Overpaid"
)

// expectedMilesPerYear is the yearly mileage a car of average use accrues.
const expectedMilesPerYear = 12000

// Comparison positions the paid price against the researched market and
// writes price_comparison.
func (w *Workers) Comparison(_ context.Context, s *core.AnalysisState) core.Patch {
	patch := core.LogStart(NameComparison, nil)

	research := s.PriceResearch
	if !research.Usable() {
		msg := "No price research data"
		if research != nil && research.Success {
			msg = fmt.Sprintf("Insufficient price research data (%d samples)", research.SampleCount)
		}
		res := &core.PriceComparison{Status: core.Err(core.KindDependency, "%s", msg).Status()}
		patch = patch.Merge(core.LogError(NameComparison, res.Error, nil))
		patch.PriceComparison = res
		return patch
	}

	paid := s.Car.PricePaid
	median := research.MedianPrice
	delta := paid - median
	pct := 0.0
	if median > 0 {
		pct = delta / median * 100
	}

	res := &core.PriceComparison{
		Status:          core.Ok().Status(),
		PricePaid:       paid,
		MarketMedian:    median,
		MarketMin:       research.PriceRange.Min,
		MarketMax:       research.PriceRange.Max,
		PriceDelta:      delta,
		PriceDeltaPct:   pct,
		VerdictCategory: Categorize(paid, median, research.PriceRange.Min),
		Percentile:      Percentile(paid, research.PriceRange.Min, research.PriceRange.Max),
		SampleCount:     research.SampleCount,
		SearchMethod:    research.SearchMethod,
	}
	line := fmt.Sprintf("Price comparison: %s (%s)", res.VerdictCategory, signedMoney(delta))
	patch = patch.Merge(core.LogComplete(NameComparison, map[string]any{
		"category":        res.VerdictCategory,
		"price_delta_pct": pct,
	}))
	patch.DbgLogs = append(patch.DbgLogs, line)
	patch.PriceComparison = res
	return patch
}

// Categorize buckets the paid price relative to the market.
func Categorize(paid, median, marketMin float64) string {
	switch {
	case paid < marketMin:
		return CategoryExceptional
	case paid < 0.95*median:
		return CategoryGood
	case paid <= 1.05*median:
		return CategoryFair
	case paid <= 1.15*median:
		return CategorySlightlyOver
	default:
		return CategoryOverpaid
	}
}

// Percentile locates paid within [lo, hi] on a 0-100 scale.
func Percentile(paid, lo, hi float64) float64 {
	p := (paid - lo) / max(1e-9, hi-lo) * 100
	return min(max(p, 0), 100)
}

// Scoring computes the rule-based deal score and writes deal_score.
func (w *Workers) Scoring(_ context.Context, s *core.AnalysisState) core.Patch {
	patch := core.LogStart(NameScoring, nil)

	cmp := s.PriceComparison
	if cmp == nil || !cmp.Success {
		res := &core.DealScore{Status: core.Err(core.KindDependency, "No price comparison data").Status()}
		patch = patch.Merge(core.LogError(NameScoring, res.Error, nil))
		patch.DealScore = res
		return patch
	}

	res := RuleScore(s.Car, cmp, w.now().Year())
	patch = patch.Merge(core.LogComplete(NameScoring, map[string]any{
		"score":   res.Score,
		"verdict": res.Verdict,
	}))
	patch.DealScore = res
	return patch
}

// RuleScore applies the additive scoring rules: base 50, then price delta,
// mileage against age-expected mileage, age and data quality, clamped to
// 0-100.
func RuleScore(car core.Car, cmp *core.PriceComparison, currentYear int) *core.DealScore {
	score := 50.0
	var breakdown []core.ScoreAdjustment
	add := func(factor string, points float64, detail string) {
		score += points
		breakdown = append(breakdown, core.ScoreAdjustment{Factor: factor, Points: points, Detail: detail})
	}

	add("price_impact", priceImpact(cmp.PriceDeltaPct), fmt.Sprintf("%+.1f%% vs market median", cmp.PriceDeltaPct))

	age := max(currentYear-car.Year, 0)
	mileageDelta := car.Mileage - age*expectedMilesPerYear
	add("mileage_vs_expected", mileageImpact(mileageDelta), fmt.Sprintf("%s miles vs %s expected", util.Thousands(float64(car.Mileage)), util.Thousands(float64(age*expectedMilesPerYear))))

	switch {
	case age <= 3:
		add("car_age", 5, fmt.Sprintf("%d years old", age))
	case age >= 10:
		add("car_age", -5, fmt.Sprintf("%d years old", age))
	default:
		add("car_age", 0, fmt.Sprintf("%d years old", age))
	}

	add("sample_size", 0, fmt.Sprintf("%d comparable prices", cmp.SampleCount))
	if cmp.SearchMethod == SearchMethodWeb && cmp.SampleCount >= 10 {
		add("data_quality_bonus", 10, "live market data with at least 10 samples")
	}

	score = min(max(score, 0), 100)
	confidence := "medium"
	if cmp.SearchMethod == SearchMethodWeb {
		confidence = "high"
	}
	return &core.DealScore{
		Status:     core.Ok().Status(),
		Score:      score,
		Verdict:    core.DealVerdict(score),
		Breakdown:  breakdown,
		Confidence: confidence,
	}
}

func priceImpact(pct float64) float64 {
	switch {
	case pct <= -20:
		return 40
	case pct <= -10:
		return 30
	case pct <= -5:
		return 20
	case pct <= 5:
		return 10
	case pct <= 15:
		return -15
	default:
		return -30
	}
}

func mileageImpact(delta int) float64 {
	switch {
	case delta <= -20000:
		return 15
	case delta <= -10000:
		return 10
	case delta <= 10000:
		return 5
	case delta <= 30000:
		return -5
	default:
		return -15
	}
}

// signedMoney renders "+$1,300" or "-$1,300".
func signedMoney(v float64) string {
	if v >= 0 {
		return "+" + util.Money(v)
	}
	return util.Money(v)
}
