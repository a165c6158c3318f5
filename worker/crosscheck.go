package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/hupe1980/dealmesh/core"
	"github.com/hupe1980/dealmesh/internal/util"
	"github.com/hupe1980/dealmesh/valuation/carsxe"
)

// Issue types raised by the cross-check.
const (
	IssueScoreDisagreement = "score_disagreement"
	IssueResidualVsMarket  = "residual_vs_market"
	IssueCarsXEVsMarket    = "carsxe_vs_market"
	IssueDeltaHighLLMHigh  = "delta_high_but_llm_positive"
)

var critiquePrompt = util.MustParse("critique", `You are a car pricing QA assistant. Given the car info and agent outputs, list inconsistencies and suggest concise fixes. Keep it under 120 words.

Car: {{.Car}}
Market: {{.Market}}
Residual: {{.Residual}}
Issues: {{.Issues}}
`)

var refinePrompt = util.MustParse("refine", `Act as a senior car pricing analyst. Rewrite the following summary into a concise Markdown report with sections: Inputs, Sources, Conflicts, Synthesis, Recommendation. Explain disagreements (market vs residual vs CarsXE vs LLM) and give a short rationale. Do not invent numbers.

Baseline:
{{.}}
`)

var enhancePrompt = util.MustParse("enhance", `You are a professional car market analyst with access to the following reference material:

{{.Retrieved}}

Analyse this vehicle: {{.Car.Year}} {{.Car.Make}} {{.Car.Model}}
- Purchase price: {{money .Car.PricePaid}}
- Mileage: {{thousands .Mileage}} miles

Weigh market data, similar past analyses and reliability. Point out contradictions in the references. Give a short price assessment and a buying recommendation.
`)

// Consistency cross-checks the market, residual and valuation outputs and
// writes consistency_report. The optional LLM critique never fails the step.
func (w *Workers) Consistency(ctx context.Context, s *core.AnalysisState) core.Patch {
	patch := core.LogStart(NameConsistency, s.Car.Context())

	issues := CrossCheck(s)
	res := &core.ConsistencyReport{Status: core.Ok().Status(), Issues: issues}

	if w.opts.Critique && w.opts.Model != nil {
		prompt, err := critiquePrompt.Render(map[string]any{
			"Car":      compactJSON(s.Car),
			"Market":   compactJSON(s.MarketAnalysis),
			"Residual": compactJSON(s.ResidualAnalysis),
			"Issues":   compactJSON(issues),
		})
		if err == nil {
			var text string
			if text, err = w.complete(ctx, prompt); err == nil {
				res.Critique = strings.TrimSpace(text)
			}
		}
		if err != nil {
			patch = patch.Merge(core.LogWarn(NameConsistency, "critique skipped", map[string]any{"error": err.Error()}))
		}
	}

	patch = patch.Merge(core.LogComplete(NameConsistency, map[string]any{"issue_count": len(issues)}))
	patch.ConsistencyReport = res
	return patch
}

// CrossCheck applies the independent numeric consistency rules.
func CrossCheck(s *core.AnalysisState) []core.Issue {
	issues := []core.Issue{}
	market := s.MarketAnalysis
	if market == nil {
		market = &core.MarketAnalysis{}
	}
	median := market.MarketMedian

	if market.RuleScore > 0 && market.LLMScore > 0 && math.Abs(market.RuleScore-market.LLMScore) >= 25 {
		issues = append(issues, core.Issue{
			Type:     IssueScoreDisagreement,
			Severity: "medium",
			Details:  fmt.Sprintf("Rule %g vs LLM %g", market.RuleScore, market.LLMScore),
			Action:   "Revisit market comps or regenerate LLM opinion",
		})
	}

	if r := s.ResidualAnalysis; r != nil && r.Success && median > 0 {
		gap := (r.PredictedPrice - median) / median * 100
		if math.Abs(gap) >= 20 {
			issues = append(issues, core.Issue{
				Type:     IssueResidualVsMarket,
				Severity: "medium",
				Details:  fmt.Sprintf("Residual %s vs market %s (%+.1f%%)", util.Thousands(r.PredictedPrice), util.Thousands(median), gap),
				Action:   "Check model features or market comps; verify mileage normalization",
			})
		}
	}

	if avg, ok := carsXEAverage(s); ok && median > 0 {
		gap := (avg - median) / median * 100
		if math.Abs(gap) >= 15 {
			issues = append(issues, core.Issue{
				Type:     IssueCarsXEVsMarket,
				Severity: "low",
				Details:  fmt.Sprintf("CarsXE %s vs market %s (%+.1f%%)", util.Thousands(avg), util.Thousands(median), gap),
				Action:   "Use blended reference or prefer source with higher reliability",
			})
		}
	}

	if market.Success && market.PriceDeltaPct > 15 && market.LLMScore >= 75 {
		issues = append(issues, core.Issue{
			Type:     IssueDeltaHighLLMHigh,
			Severity: "low",
			Details:  fmt.Sprintf("Delta %+.1f%% with LLM score %g", market.PriceDeltaPct, market.LLMScore),
			Action:   "Explain rationale (rare trim, options) or lower LLM score",
		})
	}
	return issues
}

func carsXEAverage(s *core.AnalysisState) (float64, bool) {
	in, ok := s.Insight(core.InsightCarsXE)
	if !ok || !in.Success {
		return 0, false
	}
	return carsxe.AveragePrice(in.Raw)
}

// vectorQueries are the retrieval queries of the insights step.
func vectorQueries(car core.Car) []string {
	return []string{
		fmt.Sprintf("%d %s %s price analysis", car.Year, car.Make, car.Model),
		fmt.Sprintf("%s %s market value", car.Make, car.Model),
		fmt.Sprintf("%s reliability review", car.Make),
		fmt.Sprintf("used car %s %s buying guide", car.Make, car.Model),
	}
}

const vectorPerQuery = 3

// VectorInsights gathers knowledge and prior analyses relevant to the car,
// optionally asks the LLM for an enhanced analysis, and stores the result in
// rag_insights["vector"].
func (w *Workers) VectorInsights(ctx context.Context, s *core.AnalysisState) core.Patch {
	car := s.Car
	patch := core.LogStart(NameVectorInsights, car.Context())

	if w.opts.Knowledge == nil {
		in := core.Insight{Status: core.Err(core.KindUnavailable, "%v", errKnowledgeUnavailable).Status()}
		patch = patch.Merge(core.LogError(NameVectorInsights, in.Error, nil))
		patch.RAGInsights = core.Insights(core.InsightVector, in)
		return patch
	}

	var items []core.KnowledgeItem
	err := w.call(ctx, collabKnowledge, "similar", w.opts.Timeouts.Knowledge, func(ctx context.Context) error {
		seen := map[string]bool{}
		for _, q := range vectorQueries(car) {
			for _, coll := range []string{core.CollectionKnowledge, core.CollectionAnalyses} {
				found, err := w.opts.Knowledge.Similar(ctx, coll, q, vectorPerQuery, 0)
				if err != nil {
					return err
				}
				for _, it := range found {
					key := coll + "/" + it.ID
					if seen[key] {
						continue
					}
					seen[key] = true
					if it.Metadata == nil {
						it.Metadata = map[string]string{}
					}
					if it.Metadata["type"] == "" {
						it.Metadata["type"] = coll
					}
					items = append(items, it)
				}
			}
		}
		return nil
	})
	if err != nil {
		in := core.Insight{Status: core.Err(core.KindProvider, "%v", err).Status()}
		patch = patch.Merge(core.LogError(NameVectorInsights, in.Error, nil))
		patch.RAGInsights = core.Insights(core.InsightVector, in)
		return patch
	}

	retrieved := FormatRetrieved(items)
	if gc := w.graphContext(ctx, car); gc != "" {
		retrieved = "[Graph Context]\n" + gc + "\n\n[Vector Context]\n" + retrieved
	}

	in := core.Insight{Status: core.Ok().Status(), RetrievedInfo: retrieved, Confidence: meanSimilarity(items)}
	for _, it := range items {
		if it.Metadata["type"] == core.CollectionAnalyses {
			in.SimilarCases = append(in.SimilarCases, it)
		}
	}

	if w.opts.Enhance && w.opts.Model != nil {
		prompt, err := enhancePrompt.Render(map[string]any{"Car": car, "Mileage": float64(car.Mileage), "Retrieved": retrieved})
		if err == nil {
			var text string
			if text, err = w.complete(ctx, prompt); err == nil {
				in.EnhancedAnalysis = strings.TrimSpace(text)
			}
		}
		if err != nil {
			patch = patch.Merge(core.LogWarn(NameVectorInsights, "enhanced analysis skipped", map[string]any{"error": err.Error()}))
		}
	}

	patch = patch.Merge(core.LogComplete(NameVectorInsights, map[string]any{"items": len(items), "confidence": in.Confidence}))
	patch.RAGInsights = core.Insights(core.InsightVector, in)
	return patch
}

// FormatRetrieved renders retrieved items as a numbered reference list.
func FormatRetrieved(items []core.KnowledgeItem) string {
	if len(items) == 0 {
		return "No relevant reference information"
	}
	parts := make([]string, 0, len(items))
	for i, it := range items {
		md := it.Metadata
		var head string
		switch md["type"] {
		case core.CollectionKnowledge:
			title := md["title"]
			if title == "" {
				title = fmt.Sprintf("Reference %d", i+1)
			}
			head = fmt.Sprintf("[%s] (similarity %.2f)", title, it.Similarity)
		case core.CollectionAnalyses:
			score := md["rule_score"]
			if score == "" {
				score = "N/A"
			}
			head = fmt.Sprintf("[Analysis %s] (similarity %.2f, score %s)", md["car_id"], it.Similarity, score)
		case core.CollectionCars:
			head = fmt.Sprintf("[%s %s %s] (similarity %.2f)", md["year"], md["make"], md["model"], it.Similarity)
		default:
			head = fmt.Sprintf("[Reference %d] (similarity %.2f)", i+1, it.Similarity)
		}
		parts = append(parts, head+"\n"+it.Content+"\n")
	}
	return strings.Join(parts, "\n")
}

func meanSimilarity(items []core.KnowledgeItem) float64 {
	if len(items) == 0 {
		return 0
	}
	var sum float64
	for _, it := range items {
		sum += it.Similarity
	}
	return sum / float64(len(items))
}

// Summary composes the deterministic baseline markdown and optionally lets
// the LLM rewrite it. The report is never blank.
func (w *Workers) Summary(ctx context.Context, s *core.AnalysisState) core.Patch {
	patch := core.LogStart(NameSummary, s.Car.Context())

	baseline := BaselineMarkdown(s)
	res := &core.SummaryReport{Status: core.Ok().Status(), Baseline: baseline, Markdown: baseline}

	if w.opts.Refine && w.opts.Model != nil {
		prompt, err := refinePrompt.Render(baseline)
		if err == nil {
			var text string
			if text, err = w.complete(ctx, prompt); err == nil && strings.TrimSpace(text) != "" {
				res.Markdown = strings.TrimSpace(text)
				res.Refined = true
			}
		}
		if err != nil {
			patch = patch.Merge(core.LogWarn(NameSummary, "refinement skipped", map[string]any{"error": err.Error()}))
		}
	}

	category := ""
	if s.MarketAnalysis != nil {
		category = s.MarketAnalysis.DealCategory
	}
	patch = patch.Merge(core.LogComplete(NameSummary, map[string]any{"deal_category": category, "refined": res.Refined}))
	patch.SummaryReport = res
	return patch
}

// BaselineMarkdown renders the source-aware summary of everything computed
// so far.
func BaselineMarkdown(s *core.AnalysisState) string {
	car := s.Car
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	line("# %s", car.Title())
	line("")
	line("## Sources")
	line("- Paid: %s", util.Money(car.PricePaid))
	market := s.MarketAnalysis
	if market != nil {
		line("- Market median: %s (Δ %s, %+.1f%%), verdict: %s", util.Money(market.MarketMedian), util.Money(market.PriceDelta), market.PriceDeltaPct, market.DealCategory)
		line("- Rule score: %g / LLM score: %g", market.RuleScore, market.LLMScore)
	}
	if r := s.ResidualAnalysis; r != nil && r.PredictedPrice > 0 {
		line("- Residual model: %s", util.Money(r.PredictedPrice))
	}
	if avg, ok := carsXEAverage(s); ok {
		line("- CarsXE avg: %s", util.Money(avg))
	}
	line("")

	if early, ok := s.Insight(core.InsightEarly); ok && early.Brief != "" {
		line("## Early context")
		line("%s", early.Brief)
		line("")
	}
	if vec, ok := s.Insight(core.InsightVector); ok && vec.RetrievedInfo != "" {
		line("## Retrieved evidence")
		line("%s", util.Truncate(vec.RetrievedInfo, 800))
		line("")
	}
	if c := s.ConsistencyReport; c != nil && len(c.Issues) > 0 {
		line("## Conflicts & cross-check")
		for _, it := range c.Issues {
			line("- [%s] %s: %s → %s", it.Severity, it.Type, it.Details, it.Action)
		}
		line("")
	}

	line("## Synthesis")
	if market != nil && market.Success {
		if pct := market.PriceDeltaPct; math.Abs(pct) >= 15 {
			direction := "undervalued"
			if pct > 0 {
				direction = "overpriced"
			}
			line("Overall the deal looks %s by %+.1f%% vs market median.", direction, pct)
		} else {
			line("Overall the deal is close to market median.")
		}
	} else {
		line("Market data unavailable; no price verdict could be reached.")
	}
	return strings.TrimRight(b.String(), "\n")
}

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
