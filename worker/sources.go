package worker

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/hupe1980/dealmesh/core"
	"github.com/hupe1980/dealmesh/internal/util"
	"github.com/hupe1980/dealmesh/predictor"
)

// Retrieval limits of the early brief.
const (
	earlySimilarLimit     = 5
	earlySimilarThreshold = 0.6
	earlyKnowledgeLimit   = 3
	briefCases            = 3
	briefSnippets         = 2
	briefSnippetChars     = 140
)

// Condition derives condition flags from the raw car record.
func (w *Workers) Condition(_ context.Context, s *core.AnalysisState) core.Patch {
	car := s.Car
	patch := core.LogStart(NameCondition, car.Context())

	if err := car.Validate(); err != nil {
		res := &core.ConditionReport{Status: core.Err(core.KindDependency, "%v", err).Status()}
		patch = patch.Merge(core.LogError(NameCondition, res.Error, nil))
		patch.ConditionReport = res
		return patch
	}

	accident := strings.TrimSpace(car.Condition)
	if accident == "" {
		accident = strings.TrimSpace(car.AccidentHistory)
	}
	if accident == "" {
		accident = "Unknown"
	}
	res := &core.ConditionReport{
		Status:  core.Ok().Status(),
		Summary: car.Title(),
		Mileage: car.Mileage,
		Flags:   core.ConditionFlags{AccidentHistory: accident, CleanTitle: car.CleanTitle},
	}
	patch = patch.Merge(core.LogComplete(NameCondition, map[string]any{"clean_title": car.CleanTitle}))
	patch.ConditionReport = res
	return patch
}

// Residual estimates the residual value with the regression predictor. It
// reports the predictor as unavailable instead of guessing.
func (w *Workers) Residual(ctx context.Context, s *core.AnalysisState) core.Patch {
	patch := core.LogStart(NameResidual, s.Car.Context())

	if w.opts.Predictor == nil {
		res := &core.ResidualAnalysis{Status: core.Err(core.KindUnavailable, "ML predictor unavailable; ensure model artifact is loaded").Status()}
		patch = patch.Merge(core.LogError(NameResidual, res.Error, nil))
		patch.ResidualAnalysis = res
		return patch
	}

	features := predictor.Features(s.Car, w.now())
	var price float64
	err := w.call(ctx, collabPredictor, "predict", 0, func(ctx context.Context) error {
		var err error
		price, err = w.opts.Predictor.Predict(ctx, features)
		return err
	})
	if err != nil {
		res := &core.ResidualAnalysis{Status: core.Err(core.KindProvider, "residual prediction failed: %v", err).Status(), FeaturesUsed: features}
		patch = patch.Merge(core.LogError(NameResidual, res.Error, nil))
		patch.ResidualAnalysis = res
		return patch
	}

	res := &core.ResidualAnalysis{Status: core.Ok().Status(), PredictedPrice: price, FeaturesUsed: features}
	patch = patch.Merge(core.LogComplete(NameResidual, map[string]any{"predicted_price": price}))
	patch.ResidualAnalysis = res
	return patch
}

// News is the news and policy placeholder. It always reports that the
// analysis is not implemented.
func (w *Workers) News(_ context.Context, s *core.AnalysisState) core.Patch {
	patch := core.LogStart(NameNews, s.Car.Context())
	patch.NewsAnalysis = &core.NewsAnalysis{
		Status: core.Err(core.KindNotImplemented, "News/policy analysis not yet implemented").Status(),
	}
	return patch.Merge(core.LogComplete(NameNews, map[string]any{"implemented": false}))
}

// Valuation looks the car up with the third-party valuation API and stores
// the raw payload under rag_insights["carsxe"].
func (w *Workers) Valuation(ctx context.Context, s *core.AnalysisState) core.Patch {
	patch := core.LogStart(NameValuation, s.Car.Context())

	if w.opts.Valuator == nil {
		in := core.Insight{Status: core.Err(core.KindDisabled, "CarsXE API disabled").Status()}
		patch = patch.Merge(core.LogWarn(NameValuation, in.Error, nil))
		patch.RAGInsights = core.Insights(core.InsightCarsXE, in)
		return patch
	}

	var raw map[string]any
	err := w.call(ctx, collabValuation, "lookup", w.opts.Timeouts.Valuation, func(ctx context.Context) error {
		var err error
		raw, err = w.opts.Valuator.Lookup(ctx, s.Car)
		return err
	})
	if err != nil {
		in := core.Insight{Status: core.Err(core.KindProvider, "%v", err).Status()}
		patch = patch.Merge(core.LogError(NameValuation, in.Error, nil))
		patch.RAGInsights = core.Insights(core.InsightCarsXE, in)
		return patch
	}

	patch = patch.Merge(core.LogComplete(NameValuation, map[string]any{"fields": len(raw)}))
	patch.RAGInsights = core.Insights(core.InsightCarsXE, core.Insight{Status: core.Ok().Status(), Raw: raw})
	return patch
}

// CarQuery is the similarity query used to find prior analyses of a car.
func CarQuery(car core.Car) string {
	return fmt.Sprintf("%d %s %s used car", car.Year, car.Make, car.Model)
}

// CarDocument is the indexed text of an analysed car.
func CarDocument(car core.Car) string {
	return fmt.Sprintf("%d %s %s used car, %d miles, paid %s", car.Year, car.Make, car.Model, car.Mileage, util.Money(car.PricePaid))
}

// CarMetadata is the metadata indexed alongside CarDocument.
func CarMetadata(car core.Car) map[string]string {
	return map[string]string{
		"year":       strconv.Itoa(car.Year),
		"make":       car.Make,
		"model":      car.Model,
		"mileage":    strconv.Itoa(car.Mileage),
		"price_paid": strconv.FormatFloat(car.PricePaid, 'f', -1, 64),
	}
}

// EarlyRAG retrieves similar prior cars and knowledge snippets and formats a
// short brief for the LLM opinion prompt. It does not call the LLM.
func (w *Workers) EarlyRAG(ctx context.Context, s *core.AnalysisState) core.Patch {
	car := s.Car
	patch := core.LogStart(NameEarlyRAG, car.Context())

	fail := func(kind string, err error) core.Patch {
		in := core.Insight{Status: core.Err(kind, "%v", err).Status()}
		p := patch.Merge(core.LogError(NameEarlyRAG, in.Error, nil))
		p.RAGInsights = core.Insights(core.InsightEarly, in)
		return p
	}
	if w.opts.Knowledge == nil {
		return fail(core.KindUnavailable, errKnowledgeUnavailable)
	}

	var similar, snippets []core.KnowledgeItem
	err := w.call(ctx, collabKnowledge, "similar", w.opts.Timeouts.Knowledge, func(ctx context.Context) error {
		var err error
		similar, err = w.opts.Knowledge.Similar(ctx, core.CollectionCars, CarQuery(car), earlySimilarLimit, earlySimilarThreshold)
		if err != nil {
			return err
		}
		query := fmt.Sprintf("%d %s %s used car pricing factors", car.Year, car.Make, car.Model)
		for _, coll := range []string{core.CollectionKnowledge, core.CollectionAnalyses} {
			items, err := w.opts.Knowledge.Similar(ctx, coll, query, earlyKnowledgeLimit, 0)
			if err != nil {
				return err
			}
			snippets = append(snippets, items...)
		}
		return nil
	})
	if err != nil {
		return fail(core.KindProvider, err)
	}
	slices.SortStableFunc(snippets, func(a, b core.KnowledgeItem) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		}
		return 0
	})

	brief := FormatBrief(similar, snippets)
	if gc := w.graphContext(ctx, car); gc != "" {
		if brief != "" {
			brief += "\n"
		}
		brief += "Graph context:\n" + gc
	}

	in := core.Insight{Status: core.Ok().Status(), Brief: brief, SimilarCases: similar, Snippets: snippets}
	patch = patch.Merge(core.LogComplete(NameEarlyRAG, map[string]any{"has_brief": brief != ""}))
	patch.RAGInsights = core.Insights(core.InsightEarly, in)
	return patch
}

// FormatBrief renders the top similar cases and knowledge snippets.
func FormatBrief(similar, snippets []core.KnowledgeItem) string {
	var lines []string
	if len(similar) > 0 {
		lines = append(lines, "Similar cases (top 3):")
		for _, it := range similar[:min(briefCases, len(similar))] {
			md := it.Metadata
			price, _ := strconv.ParseFloat(md["price_paid"], 64)
			lines = append(lines, fmt.Sprintf("- %s %s %s, paid %s (sim %.2f)", md["year"], md["make"], md["model"], util.Money(price), it.Similarity))
		}
	}
	if len(snippets) > 0 {
		lines = append(lines, "Knowledge snippets (top 2):")
		for _, it := range snippets[:min(briefSnippets, len(snippets))] {
			title := it.Metadata["title"]
			if title == "" {
				title = it.Metadata["category"]
			}
			if title == "" {
				title = "entry"
			}
			doc := strings.TrimSpace(it.Content)
			if short := util.Truncate(doc, briefSnippetChars); short != doc {
				doc = short + "…"
			}
			lines = append(lines, fmt.Sprintf("- %s (sim %.2f): %s", title, it.Similarity, doc))
		}
	}
	return strings.Join(lines, "\n")
}

// graphContext asks the store for related analyses. Failures are logged and
// yield "".
func (w *Workers) graphContext(ctx context.Context, car core.Car) string {
	if w.opts.GraphContext == nil {
		return ""
	}
	var out string
	err := w.call(ctx, collabStore, "context", w.opts.Timeouts.Store, func(ctx context.Context) error {
		var err error
		out, err = w.opts.GraphContext.ContextFor(ctx, car)
		return err
	})
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

// MarketSummary condenses the market sub-pipeline into market_analysis.
func (w *Workers) MarketSummary(_ context.Context, s *core.AnalysisState) core.Patch {
	patch := core.LogStart(NameMarketSummary, nil)

	research, cmp := s.PriceResearch, s.PriceComparison
	res := &core.MarketAnalysis{}
	if research.Usable() && cmp != nil && cmp.Success {
		res.Status = core.Ok().Status()
	} else {
		res.Status = core.Err(core.KindDependency, "market data incomplete").Status()
	}
	if cmp != nil && cmp.Success {
		res.MarketMedian = cmp.MarketMedian
		res.PriceDelta = cmp.PriceDelta
		res.PriceDeltaPct = cmp.PriceDeltaPct
		res.DealCategory = cmp.VerdictCategory
	}
	if d := s.DealScore; d != nil {
		res.RuleScore, res.RuleVerdict = d.Score, d.Verdict
	}
	if o := s.LLMOpinion; o != nil {
		res.LLMScore, res.LLMVerdict = o.Score, o.Verdict
	}

	patch = patch.Merge(core.LogComplete(NameMarketSummary, map[string]any{"success": res.Success}))
	patch.MarketAnalysis = res
	return patch
}
