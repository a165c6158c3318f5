package checker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/dealmesh/core"
	"github.com/hupe1980/dealmesh/graph"
	"github.com/hupe1980/dealmesh/internal/testutil"
)

func newTestCheckers() *Checkers {
	return New(func(o *Options) {
		o.Research.Backoff = 0
		o.Comparison.Backoff = 0
		o.Scoring.Backoff = 0
		o.Barrier = BarrierPolicy{MaxPolls: 5}
	})
}

func TestResearchCheck(t *testing.T) {
	c := newTestCheckers()
	ctx := context.Background()

	t.Run("usable", func(t *testing.T) {
		st := testutil.NewStateBuilder(testutil.Camry()).Research(23000, 23500, 24000, 24500, 25000).Build()

		assert.Equal(t, graph.LabelAdvance, c.ResearchRoute(st))
		patch := c.ResearchCheck(ctx, st)
		require.NotNil(t, patch.ResearchOK)
		assert.True(t, *patch.ResearchOK)
		assert.Empty(t, patch.AnalysisErrors)
		assert.Empty(t, patch.Retries)
	})

	t.Run("retry", func(t *testing.T) {
		st := testutil.NewStateBuilder(testutil.Camry()).
			FailedResearch("Failed to find any valid car prices from 4 search queries").
			Retry(core.DomainPriceResearch, 1).
			Build()

		assert.Equal(t, graph.LabelRetry, c.ResearchRoute(st))
		patch := c.ResearchCheck(ctx, st)
		assert.Equal(t, map[string]int{core.DomainPriceResearch: 2}, patch.Retries)
		assert.False(t, *patch.ResearchOK)
		assert.False(t, patch.ResearchFinal)
		assert.Contains(t, patch.DbgLogs, "[research_check] warn: retry 2/3")
	})

	t.Run("exhausted", func(t *testing.T) {
		st := testutil.NewStateBuilder(testutil.Camry()).
			FailedResearch("Failed to find any valid car prices from 4 search queries").
			Retry(core.DomainPriceResearch, 3).
			Build()

		assert.Equal(t, graph.LabelAdvance, c.ResearchRoute(st))
		patch := c.ResearchCheck(ctx, st)
		assert.Equal(t, []string{
			"TAVILY_SEARCH_FAILED: Unable to fetch market data after 3 attempts. Failed to find any valid car prices from 4 search queries",
		}, patch.AnalysisErrors)
		assert.True(t, patch.ResearchFinal)
		assert.True(t, patch.FailedPermanently)
		assert.Empty(t, patch.Retries)
	})

	t.Run("thin sample retries", func(t *testing.T) {
		st := testutil.NewStateBuilder(testutil.Camry()).Research(23000, 24000).Build()

		assert.Equal(t, graph.LabelRetry, c.ResearchRoute(st))
		patch := c.ResearchCheck(ctx, st)
		assert.Equal(t, map[string]int{core.DomainPriceResearch: 1}, patch.Retries)
		assert.False(t, *patch.ResearchOK)
		assert.Empty(t, patch.AnalysisErrors)
	})

	t.Run("thin sample exhausted", func(t *testing.T) {
		st := testutil.NewStateBuilder(testutil.Camry()).
			Research(23000, 24000).
			Retry(core.DomainPriceResearch, 3).
			Build()

		assert.Equal(t, graph.LabelAdvance, c.ResearchRoute(st))
		patch := c.ResearchCheck(ctx, st)
		assert.Equal(t, []string{
			"TAVILY_SEARCH_FAILED: Unable to fetch market data after 3 attempts. Only 2 price samples found (need 5).",
		}, patch.AnalysisErrors)
		assert.True(t, patch.ResearchFinal)
		assert.True(t, patch.FailedPermanently)
		assert.False(t, *patch.ResearchOK)
	})

	t.Run("already final", func(t *testing.T) {
		st := testutil.NewStateBuilder(testutil.Camry()).
			FailedResearch("no prices").
			Retry(core.DomainPriceResearch, 3).
			With(func(s *core.AnalysisState) { s.ResearchFinal = true }).
			Build()

		assert.Equal(t, graph.LabelAdvance, c.ResearchRoute(st))
		assert.Empty(t, c.ResearchCheck(ctx, st).AnalysisErrors)
	})
}

func TestComparisonCheck_UpstreamFinal(t *testing.T) {
	c := newTestCheckers()
	st := testutil.NewStateBuilder(testutil.Camry()).
		FailedResearch("no prices").
		With(func(s *core.AnalysisState) {
			s.ResearchFinal = true
			s.PriceComparison = &core.PriceComparison{Status: core.Err(core.KindDependency, "No price research data").Status()}
		}).
		Build()

	assert.Equal(t, graph.LabelAdvance, c.ComparisonRoute(st))
	patch := c.ComparisonCheck(context.Background(), st)
	assert.Empty(t, patch.AnalysisErrors)
	assert.Empty(t, patch.Retries)
	assert.False(t, patch.ComparisonFinal)
	assert.False(t, *patch.ComparisonOK)
}

func TestScoringCheck_Exhausted(t *testing.T) {
	c := newTestCheckers()
	st := testutil.NewStateBuilder(testutil.Camry()).
		Retry(core.DomainDealScoring, 3).
		With(func(s *core.AnalysisState) {
			s.DealScore = &core.DealScore{Status: core.Err(core.KindDependency, "No price comparison data").Status()}
		}).
		Build()

	patch := c.ScoringCheck(context.Background(), st)

	assert.Equal(t, []string{"DEAL_SCORING_FAILED: Unable to score deal after 3 attempts. No price comparison data"}, patch.AnalysisErrors)
	assert.True(t, patch.ScoringFinal)
}

func TestComparisonCheck_MissingResult(t *testing.T) {
	c := newTestCheckers()
	st := testutil.NewStateBuilder(testutil.Camry()).Retry(core.DomainPriceComparison, 3).Build()

	patch := c.ComparisonCheck(context.Background(), st)

	assert.Equal(t, []string{"PRICE_COMPARISON_FAILED: Unable to compare prices after 3 attempts. no result"}, patch.AnalysisErrors)
}

func TestBarrierPolicy_Polls(t *testing.T) {
	assert.Equal(t, 400, DefaultOptions().Barrier.Polls())
	assert.Equal(t, 7, BarrierPolicy{MaxPolls: 7}.Polls())
	assert.Equal(t, DefaultMaxPolls, BarrierPolicy{}.Polls())
}
