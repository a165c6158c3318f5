package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/dealmesh/core"
	"github.com/hupe1980/dealmesh/internal/testutil"
	"github.com/hupe1980/dealmesh/memory"
	"github.com/hupe1980/dealmesh/predictor"
)

func TestCondition(t *testing.T) {
	t.Run("flags", func(t *testing.T) {
		car := testutil.Camry()
		car.AccidentHistory = "None reported"
		patch := newTestWorkers().Condition(context.Background(), core.NewAnalysisState("r", car))

		rep := patch.ConditionReport
		require.NotNil(t, rep)
		assert.True(t, rep.Success)
		assert.Equal(t, "2020 Toyota Camry", rep.Summary)
		assert.Equal(t, 35000, rep.Mileage)
		assert.Equal(t, core.ConditionFlags{AccidentHistory: "None reported", CleanTitle: true}, rep.Flags)
	})

	t.Run("condition wins over accident history", func(t *testing.T) {
		car := testutil.Camry()
		car.Condition = "Minor fender bender"
		car.AccidentHistory = "None"
		patch := newTestWorkers().Condition(context.Background(), core.NewAnalysisState("r", car))
		assert.Equal(t, "Minor fender bender", patch.ConditionReport.Flags.AccidentHistory)
	})

	t.Run("unknown", func(t *testing.T) {
		patch := newTestWorkers().Condition(context.Background(), core.NewAnalysisState("r", testutil.Camry()))
		assert.Equal(t, "Unknown", patch.ConditionReport.Flags.AccidentHistory)
	})

	t.Run("invalid car", func(t *testing.T) {
		car := testutil.Camry()
		car.Model = ""
		patch := newTestWorkers().Condition(context.Background(), core.NewAnalysisState("r", car))
		assert.True(t, patch.ConditionReport.Failed())
		assert.Contains(t, patch.ConditionReport.Error, "model is required")
	})
}

func TestResidual(t *testing.T) {
	t.Run("unavailable", func(t *testing.T) {
		patch := newTestWorkers().Residual(context.Background(), core.NewAnalysisState("r", testutil.Camry()))
		require.NotNil(t, patch.ResidualAnalysis)
		assert.False(t, patch.ResidualAnalysis.Success)
		assert.Equal(t, "ML predictor unavailable; ensure model artifact is loaded", patch.ResidualAnalysis.Error)
		assert.Zero(t, patch.ResidualAnalysis.PredictedPrice)
	})

	t.Run("prediction", func(t *testing.T) {
		w := newTestWorkers(func(o *Options) { o.Predictor = &testutil.Predictor{Price: 21750} })
		patch := w.Residual(context.Background(), core.NewAnalysisState("r", testutil.Camry()))

		res := patch.ResidualAnalysis
		require.NotNil(t, res)
		assert.True(t, res.Success)
		assert.Equal(t, 21750.0, res.PredictedPrice)
		assert.Equal(t, 3, res.FeaturesUsed[predictor.FeatureVehicleAge])
		assert.InDelta(t, 11666.67, res.FeaturesUsed[predictor.FeatureMileagePerYear], 0.01)
	})

	t.Run("failure", func(t *testing.T) {
		w := newTestWorkers(func(o *Options) { o.Predictor = &testutil.Predictor{Err: errors.New("bad artifact")} })
		patch := w.Residual(context.Background(), core.NewAnalysisState("r", testutil.Camry()))
		assert.Equal(t, "residual prediction failed: bad artifact", patch.ResidualAnalysis.Error)
	})
}

func TestNews(t *testing.T) {
	patch := newTestWorkers().News(context.Background(), core.NewAnalysisState("r", testutil.Camry()))

	require.NotNil(t, patch.NewsAnalysis)
	assert.False(t, patch.NewsAnalysis.Success)
	assert.Equal(t, core.KindNotImplemented, patch.NewsAnalysis.Kind)
	assert.Equal(t, "News/policy analysis not yet implemented", patch.NewsAnalysis.Error)
}

func TestValuation(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		patch := newTestWorkers().Valuation(context.Background(), core.NewAnalysisState("r", testutil.Camry()))
		in := patch.RAGInsights[core.InsightCarsXE]
		assert.False(t, in.Success)
		assert.Equal(t, "CarsXE API disabled", in.Error)
	})

	t.Run("payload", func(t *testing.T) {
		raw := map[string]any{"averageMarketPrice": 24100.0}
		w := newTestWorkers(func(o *Options) { o.Valuator = &testutil.Valuator{Raw: raw} })
		patch := w.Valuation(context.Background(), core.NewAnalysisState("r", testutil.Camry()))
		in := patch.RAGInsights[core.InsightCarsXE]
		assert.True(t, in.Success)
		assert.Equal(t, raw, in.Raw)
	})

	t.Run("error", func(t *testing.T) {
		w := newTestWorkers(func(o *Options) { o.Valuator = &testutil.Valuator{Err: errors.New("401 unauthorized")} })
		patch := w.Valuation(context.Background(), core.NewAnalysisState("r", testutil.Camry()))
		in := patch.RAGInsights[core.InsightCarsXE]
		assert.Equal(t, core.KindProvider, in.Kind)
		assert.Equal(t, "401 unauthorized", in.Error)
	})
}

func seededKnowledge(t *testing.T) *memory.InMemoryStore {
	t.Helper()
	kb := memory.NewInMemoryStore()
	prior := core.Car{Make: "Toyota", Model: "Camry", Year: 2019, Mileage: 41000, PricePaid: 21000}
	require.NoError(t, kb.Index(context.Background(), core.CollectionCars, core.KnowledgeDoc{
		ID:       "car_1",
		Content:  CarDocument(prior),
		Metadata: CarMetadata(prior),
	}))
	require.NoError(t, kb.Index(context.Background(), core.CollectionKnowledge, core.KnowledgeDoc{
		ID:       "kb_1",
		Content:  "Camry models hold value well; pricing factors include mileage and trim.",
		Metadata: map[string]string{"title": "Camry resale"},
	}))
	return kb
}

func TestEarlyRAG(t *testing.T) {
	store := testutil.NewStore()
	store.Context = "Seen 2 Camry analyses with avg score 78"
	w := newTestWorkers(func(o *Options) {
		o.Knowledge = seededKnowledge(t)
		o.GraphContext = store
	})

	patch := w.EarlyRAG(context.Background(), core.NewAnalysisState("r", testutil.Camry()))

	in := patch.RAGInsights[core.InsightEarly]
	require.True(t, in.Success)
	require.Len(t, in.SimilarCases, 1)
	assert.InDelta(t, 0.8, in.SimilarCases[0].Similarity, 1e-9)
	assert.Equal(t, `Similar cases (top 3):
- 2019 Toyota Camry, paid $21,000 (sim 0.80)
Knowledge snippets (top 2):
- Camry resale (sim 0.43): Camry models hold value well; pricing factors include mileage and trim.
Graph context:
Seen 2 Camry analyses with avg score 78`, in.Brief)
}

func TestEarlyRAG_EmptyKnowledgeBase(t *testing.T) {
	w := newTestWorkers(func(o *Options) { o.Knowledge = memory.NewInMemoryStore() })

	patch := w.EarlyRAG(context.Background(), core.NewAnalysisState("r", testutil.Camry()))

	in := patch.RAGInsights[core.InsightEarly]
	assert.True(t, in.Success)
	assert.Empty(t, in.Brief)
}

func TestEarlyRAG_Unavailable(t *testing.T) {
	patch := newTestWorkers().EarlyRAG(context.Background(), core.NewAnalysisState("r", testutil.Camry()))

	in := patch.RAGInsights[core.InsightEarly]
	assert.False(t, in.Success)
	assert.Equal(t, "knowledge base unavailable", in.Error)
}

func TestFormatBrief_TruncatesSnippets(t *testing.T) {
	long := make([]rune, 200)
	for i := range long {
		long[i] = 'a'
	}
	brief := FormatBrief(nil, []core.KnowledgeItem{
		{Content: string(long), Similarity: 0.5, Metadata: map[string]string{"category": "pricing"}},
		{Content: "short", Similarity: 0.4},
		{Content: "dropped", Similarity: 0.3},
	})

	assert.Contains(t, brief, "- pricing (sim 0.50): "+string(long[:140])+"…")
	assert.Contains(t, brief, "- entry (sim 0.40): short")
	assert.NotContains(t, brief, "dropped")
}

func TestMarketSummary(t *testing.T) {
	t.Run("complete", func(t *testing.T) {
		st := testutil.NewStateBuilder(testutil.Camry()).
			Research(camryComps...).
			Comparison(23800, -5.46, 15).
			DealScore(90).
			LLMScore(85).
			Build()

		patch := newTestWorkers().MarketSummary(context.Background(), st)

		m := patch.MarketAnalysis
		require.NotNil(t, m)
		assert.True(t, m.Success)
		assert.Equal(t, 23800.0, m.MarketMedian)
		assert.Equal(t, "Good Deal", m.DealCategory)
		assert.Equal(t, 90.0, m.RuleScore)
		assert.Equal(t, 85.0, m.LLMScore)
		assert.Equal(t, "Good", m.LLMVerdict)
	})

	t.Run("incomplete", func(t *testing.T) {
		st := testutil.NewStateBuilder(testutil.Camry()).FailedResearch("no prices").Build()

		patch := newTestWorkers().MarketSummary(context.Background(), st)

		assert.False(t, patch.MarketAnalysis.Success)
		assert.Equal(t, "market data incomplete", patch.MarketAnalysis.Error)
		assert.Zero(t, patch.MarketAnalysis.MarketMedian)
	})
}
