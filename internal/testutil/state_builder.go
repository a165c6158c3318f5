package testutil

import (
	"time"

	"github.com/hupe1980/dealmesh/core"
)

// Camry returns the reference car used across pipeline tests: a 2020 Toyota
// Camry with 35,000 miles bought for $22,500.
func Camry() core.Car {
	return core.Car{Make: "Toyota", Model: "Camry", Year: 2020, Mileage: 35000, PricePaid: 22500, CleanTitle: true}
}

// Clock returns a fixed clock in the middle of the given year.
func Clock(year int) func() time.Time {
	t := time.Date(year, time.June, 15, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

// StateBuilder helps construct analysis states with fluent chaining for tests.
// Example:
//
//	st := NewStateBuilder(Camry()).Research(22000, 26000).Retry("price_research", 1).Build()
type StateBuilder struct {
	state *core.AnalysisState
}

// NewStateBuilder creates a builder for a fresh state of car.
func NewStateBuilder(car core.Car) *StateBuilder {
	return &StateBuilder{state: core.NewAnalysisState("run-test", car)}
}

// Research sets a successful price research over the given prices (chainable).
func (b *StateBuilder) Research(prices ...float64) *StateBuilder {
	b.state.PriceResearch = ResearchOf(prices...)
	return b
}

// FailedResearch sets a failed price research (chainable).
func (b *StateBuilder) FailedResearch(msg string) *StateBuilder {
	b.state.PriceResearch = &core.PriceResearch{Status: core.Err(core.KindNoData, "%s", msg).Status()}
	return b
}

// Comparison sets a successful comparison with the given median and delta
// percent (chainable).
func (b *StateBuilder) Comparison(median, pct float64, samples int) *StateBuilder {
	paid := b.state.Car.PricePaid
	b.state.PriceComparison = &core.PriceComparison{
		Status:          core.Ok().Status(),
		PricePaid:       paid,
		MarketMedian:    median,
		PriceDelta:      paid - median,
		PriceDeltaPct:   pct,
		VerdictCategory: "Good Deal",
		SampleCount:     samples,
		SearchMethod:    "tavily_real_web_search",
	}
	return b
}

// DealScore sets a successful rule score (chainable).
func (b *StateBuilder) DealScore(score float64) *StateBuilder {
	b.state.DealScore = &core.DealScore{Status: core.Ok().Status(), Score: score, Verdict: core.DealVerdict(score)}
	return b
}

// LLMScore sets a successful LLM opinion (chainable).
func (b *StateBuilder) LLMScore(score float64) *StateBuilder {
	b.state.LLMOpinion = &core.LLMOpinion{Status: core.Ok().Status(), Score: score, Verdict: core.ShortVerdict(score)}
	return b
}

// Market sets the market summary slot (chainable).
func (b *StateBuilder) Market(m core.MarketAnalysis) *StateBuilder {
	b.state.MarketAnalysis = &m
	return b
}

// Insight sets a retrieval sub-source (chainable).
func (b *StateBuilder) Insight(source string, in core.Insight) *StateBuilder {
	b.state.RAGInsights[source] = in
	return b
}

// Retry sets a retry counter (chainable).
func (b *StateBuilder) Retry(domain string, n int) *StateBuilder {
	b.state.Retries[domain] = n
	return b
}

// Barrier sets the round a barrier last passed (chainable).
func (b *StateBuilder) Barrier(name string, round int) *StateBuilder {
	b.state.Barriers[name] = round
	return b
}

// With applies an arbitrary mutation (chainable).
func (b *StateBuilder) With(fn func(s *core.AnalysisState)) *StateBuilder {
	fn(b.state)
	return b
}

// Build returns the assembled state.
func (b *StateBuilder) Build() *core.AnalysisState { return b.state }

// ResearchOf returns a successful price research over prices, which must be
// sorted.
func ResearchOf(prices ...float64) *core.PriceResearch {
	r := &core.PriceResearch{
		Status:          core.Ok().Status(),
		ExtractedPrices: prices,
		SampleCount:     len(prices),
		SearchMethod:    "tavily_real_web_search",
	}
	if n := len(prices); n > 0 {
		r.PriceRange = core.PriceRange{Min: prices[0], Max: prices[n-1]}
		if n%2 == 0 {
			r.MedianPrice = (prices[n/2-1] + prices[n/2]) / 2
		} else {
			r.MedianPrice = prices[n/2]
		}
	}
	return r
}
