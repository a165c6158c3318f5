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

func TestJoinScores(t *testing.T) {
	c := newTestCheckers()
	ctx := context.Background()

	t.Run("waits for llm branch", func(t *testing.T) {
		st := testutil.NewStateBuilder(testutil.Camry()).DealScore(90).Build()

		assert.Equal(t, graph.LabelWait, c.JoinScoresRoute(st))
		patch := c.JoinScores(ctx, st)
		assert.Equal(t, map[string]int{NameJoinScores: 1}, patch.Retries)
		require.NotNil(t, patch.AwaitingScores)
		assert.True(t, *patch.AwaitingScores)
		assert.Empty(t, patch.Barriers)
	})

	t.Run("passes once both landed", func(t *testing.T) {
		st := testutil.NewStateBuilder(testutil.Camry()).DealScore(90).LLMScore(85).Build()

		assert.Equal(t, graph.LabelAdvance, c.JoinScoresRoute(st))
		patch := c.JoinScores(ctx, st)
		assert.Equal(t, map[string]int{NameJoinScores: 1}, patch.Barriers)
		assert.False(t, *patch.AwaitingScores)
	})

	t.Run("absorbs second activation of a round", func(t *testing.T) {
		st := testutil.NewStateBuilder(testutil.Camry()).DealScore(90).LLMScore(85).Barrier(NameJoinScores, 1).Build()

		assert.Equal(t, graph.LabelAbsorb, c.JoinScoresRoute(st))
		patch := c.JoinScores(ctx, st)
		assert.Empty(t, patch.Barriers)
		assert.Nil(t, patch.AwaitingScores)
	})

	t.Run("new round after llm retry", func(t *testing.T) {
		st := testutil.NewStateBuilder(testutil.Camry()).
			DealScore(90).LLMScore(40).
			Barrier(NameJoinScores, 1).
			Retry(core.DomainLLMOpinion, 1).
			Build()

		assert.Equal(t, graph.LabelAdvance, c.JoinScoresRoute(st))
		assert.Equal(t, map[string]int{NameJoinScores: 2}, c.JoinScores(ctx, st).Barriers)
	})

	t.Run("failed llm counts as landed", func(t *testing.T) {
		st := testutil.NewStateBuilder(testutil.Camry()).
			DealScore(90).
			With(func(s *core.AnalysisState) {
				s.LLMOpinion = &core.LLMOpinion{Status: core.Err(core.KindProvider, "LLM error: rate limited").Status()}
			}).
			Build()

		assert.Equal(t, graph.LabelAdvance, c.JoinScoresRoute(st))
	})

	t.Run("permanent failure counts as landed", func(t *testing.T) {
		st := testutil.NewStateBuilder(testutil.Camry()).
			LLMScore(50).
			With(func(s *core.AnalysisState) { s.ResearchFinal = true }).
			Build()

		assert.Equal(t, graph.LabelAdvance, c.JoinScoresRoute(st))
	})

	t.Run("times out", func(t *testing.T) {
		st := testutil.NewStateBuilder(testutil.Camry()).DealScore(90).Retry(NameJoinScores, 5).Build()

		assert.Equal(t, graph.LabelAdvance, c.JoinScoresRoute(st))
		patch := c.JoinScores(ctx, st)
		assert.Equal(t, map[string]int{NameJoinScores: 1}, patch.Barriers)
		assert.False(t, *patch.AwaitingScores)
		assert.Contains(t, patch.DbgLogs, "[join_scores] warn: max wait exceeded; advancing without llm_opinion")
	})

	t.Run("each round polls on its own budget", func(t *testing.T) {
		st := testutil.NewStateBuilder(testutil.Camry()).
			DealScore(90).
			Barrier(NameJoinScores, 1).
			Retry(NameJoinScores, 5).
			Retry(core.DomainLLMOpinion, 1).
			Build()

		assert.Equal(t, graph.LabelWait, c.JoinScoresRoute(st))
		patch := c.JoinScores(ctx, st)
		assert.Equal(t, map[string]int{"join_scores#2": 1}, patch.Retries)

		st.Apply(patch)
		st.Retries[PollKey(NameJoinScores, 2)] = 5
		assert.Equal(t, graph.LabelAdvance, c.JoinScoresRoute(st))
		assert.Equal(t, map[string]int{NameJoinScores: 2}, c.JoinScores(ctx, st).Barriers)
	})
}

func TestFanIn(t *testing.T) {
	c := newTestCheckers()
	st := testutil.NewStateBuilder(testutil.Camry()).Market(core.MarketAnalysis{}).Build()

	assert.Equal(t, graph.LabelWait, c.FanInRoute(st))
	patch := c.FanIn(context.Background(), st)
	assert.Nil(t, patch.AwaitingScores)
	require.Len(t, patch.AgentLogs, 1)
	assert.Equal(t, []string{"residual_analysis", "news_analysis"}, patch.AgentLogs[0].Payload["waiting"])

	st.ResidualAnalysis = &core.ResidualAnalysis{}
	st.NewsAnalysis = &core.NewsAnalysis{}
	assert.Equal(t, graph.LabelAdvance, c.FanInRoute(st))

	st.Apply(c.FanIn(context.Background(), st))
	assert.Equal(t, graph.LabelAbsorb, c.FanInRoute(st))
}

func TestValuationJoin(t *testing.T) {
	c := newTestCheckers()
	st := testutil.NewStateBuilder(testutil.Camry()).
		Insight(core.InsightCarsXE, core.Insight{Status: core.Err(core.KindDisabled, "CarsXE API disabled").Status()}).
		Build()

	assert.Equal(t, graph.LabelWait, c.ValuationJoinRoute(st))

	st.RAGInsights[core.InsightEarly] = core.Insight{Status: core.Ok().Status()}
	assert.Equal(t, graph.LabelWait, c.ValuationJoinRoute(st), "fan_in has not passed")

	st.Barriers[NameFanIn] = 1
	assert.Equal(t, graph.LabelAdvance, c.ValuationJoinRoute(st))
}
