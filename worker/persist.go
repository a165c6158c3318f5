package worker

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/hupe1980/dealmesh/core"
	"github.com/hupe1980/dealmesh/internal/util"
)

// AnalysisVersion is stored with every persisted analysis.
const AnalysisVersion = "3.0"

// Persist writes the car, its analysis and the observed market prices to
// the relational store, then syncs both into the knowledge base. Failures
// are captured in the persistence slot.
func (w *Workers) Persist(ctx context.Context, s *core.AnalysisState) core.Patch {
	patch := core.LogStart(NamePersist, s.Car.Context())
	res := &core.Persistence{}

	if w.opts.Store == nil {
		res.Status = core.Err(core.KindDisabled, "persistence disabled").Status()
	} else if err := w.save(ctx, s, res); err != nil {
		res.Status = core.Err(core.KindProvider, "%v", err).Status()
		patch = patch.Merge(core.LogError(NamePersist, res.Error, nil))
	} else {
		res.Status = core.Ok().Status()
	}

	if w.opts.Knowledge != nil && (res.Success || w.opts.Store == nil) {
		if err := w.index(ctx, s, res); err != nil {
			patch = patch.Merge(core.LogWarn(NamePersist, "knowledge sync failed", map[string]any{"error": err.Error()}))
		} else {
			res.Indexed = true
		}
	}

	patch = patch.Merge(core.LogComplete(NamePersist, map[string]any{
		"success":     res.Success,
		"car_id":      res.CarID,
		"analysis_id": res.AnalysisID,
		"indexed":     res.Indexed,
	}))
	patch.Persistence = res
	return patch
}

func (w *Workers) save(ctx context.Context, s *core.AnalysisState, res *core.Persistence) error {
	return w.call(ctx, collabStore, "save", w.opts.Timeouts.Store, func(ctx context.Context) error {
		carID, err := w.opts.Store.SaveCar(ctx, s.Car, s.SessionID)
		if err != nil {
			return fmt.Errorf("save car: %w", err)
		}
		res.CarID = carID

		analysisID, err := w.opts.Store.SaveAnalysis(ctx, carID, AnalysisRecordOf(s))
		if err != nil {
			return fmt.Errorf("save analysis: %w", err)
		}
		res.AnalysisID = analysisID

		if r := s.PriceResearch; r != nil && len(r.Listings) > 0 {
			rows := make([]core.MarketDataRecord, 0, len(r.Listings))
			for _, l := range r.Listings {
				rows = append(rows, core.MarketDataRecord{SearchQuery: l.Query, Price: l.Price, URL: l.URL, Source: l.Source})
			}
			if err := w.opts.Store.SaveMarketData(ctx, carID, rows); err != nil {
				return fmt.Errorf("save market data: %w", err)
			}
		}
		return nil
	})
}

func (w *Workers) index(ctx context.Context, s *core.AnalysisState, res *core.Persistence) error {
	id := s.RunID
	if res.CarID > 0 {
		id = strconv.FormatInt(res.CarID, 10)
	}
	carMeta := CarMetadata(s.Car)
	carMeta["type"] = core.CollectionCars
	carMeta["car_id"] = id

	rec := AnalysisRecordOf(s)
	analysisMeta := map[string]string{
		"type":          core.CollectionAnalyses,
		"car_id":        id,
		"make":          s.Car.Make,
		"model":         s.Car.Model,
		"year":          strconv.Itoa(s.Car.Year),
		"rule_score":    strconv.FormatFloat(rec.RuleScore, 'f', -1, 64),
		"llm_score":     strconv.FormatFloat(rec.LLMScore, 'f', -1, 64),
		"deal_category": rec.DealCategory,
	}
	text := CarDocument(s.Car)
	if s.SummaryReport != nil {
		text = s.SummaryReport.Markdown
	}

	return w.call(ctx, collabKnowledge, "index", w.opts.Timeouts.Knowledge, func(ctx context.Context) error {
		if err := w.opts.Knowledge.Index(ctx, core.CollectionCars, core.KnowledgeDoc{ID: "car_" + id, Content: CarDocument(s.Car), Metadata: carMeta}); err != nil {
			return err
		}
		return w.opts.Knowledge.Index(ctx, core.CollectionAnalyses, core.KnowledgeDoc{ID: "analysis_" + id, Content: text, Metadata: analysisMeta})
	})
}

// AnalysisRecordOf condenses the state into the persisted analysis row.
func AnalysisRecordOf(s *core.AnalysisState) core.AnalysisRecord {
	rec := core.AnalysisRecord{Success: !s.FailedPermanently, Version: AnalysisVersion}
	if d := s.DealScore; d != nil {
		rec.RuleScore, rec.RuleVerdict = d.Score, d.Verdict
	}
	if o := s.LLMOpinion; o != nil {
		rec.LLMScore, rec.LLMVerdict, rec.LLMReasoning = o.Score, o.Verdict, o.Reasoning
	}
	if c := s.PriceComparison; c != nil && c.Success {
		rec.MarketMedian = c.MarketMedian
		rec.PriceDelta = c.PriceDelta
		rec.PriceDeltaPct = c.PriceDeltaPct
		rec.DealCategory = c.VerdictCategory
	}
	if r := s.PriceResearch; r != nil {
		rec.DataSource = r.SearchMethod
		rec.SampleCount = r.SampleCount
	}
	return rec
}

var carReport = util.MustParse("car_report", `# {{.Car.Title}}

## Vehicle Condition
- Clean title: {{.CleanTitle}}
- Accident history: {{.Accident}}

## Market Pricing
- Market median: {{.Median}}
- Price delta: {{.Delta}} ({{pct .DeltaPct}})
- Deal category: {{.Category}}

## Scoring
- Rule-based score: {{.RuleScore}} ({{.RuleVerdict}})
- LLM score: {{.LLMScore}} ({{.LLMVerdict}})

## Residual Value
- Predicted resale: {{.Residual}}

## External Insights
- CarsXE: {{.CarsXE}}
- Vector cases: {{.VectorCases}}

## Notes
{{.Notes}}`)

// Report assembles the per-car report and appends it to car_reports.
func (w *Workers) Report(_ context.Context, s *core.AnalysisState) core.Patch {
	patch := core.LogStart(NameReport, nil)

	md, err := RenderCarMarkdown(s)
	if err != nil {
		patch = patch.Merge(core.LogWarn(NameReport, "markdown rendering failed", map[string]any{"error": err.Error()}))
		md = "# " + s.Car.Title()
	}

	errs := slices.Clone(s.AnalysisErrors)
	if errs == nil {
		errs = []string{}
	}
	rep := core.CarReport{
		RunID:             s.RunID,
		Car:               s.Car,
		PriceResearch:     s.PriceResearch,
		PriceComparison:   s.PriceComparison,
		DealScore:         s.DealScore,
		LLMOpinion:        s.LLMOpinion,
		MarketAnalysis:    s.MarketAnalysis,
		ConditionReport:   s.ConditionReport,
		ResidualAnalysis:  s.ResidualAnalysis,
		NewsAnalysis:      s.NewsAnalysis,
		RAGInsights:       s.RAGInsights,
		ConsistencyReport: s.ConsistencyReport,
		SummaryReport:     s.SummaryReport,
		Persistence:       s.Persistence,
		Retries:           s.Retries,
		MarkdownReport:    md,
		Status: core.AnalysisStatus{
			Success:           !s.FailedPermanently,
			FailedPermanently: s.FailedPermanently,
			Errors:            errs,
			ErrorCount:        len(errs),
		},
		Timestamp: w.now().UTC(),
	}
	if len(errs) > 0 {
		rep.Error = errs[len(errs)-1]
	}

	patch = patch.Merge(core.LogComplete(NameReport, map[string]any{"success": rep.Status.Success, "error_count": len(errs)}))
	patch.CarReports = []core.CarReport{rep}
	return patch
}

// RenderCarMarkdown renders the per-car markdown report.
func RenderCarMarkdown(s *core.AnalysisState) (string, error) {
	data := map[string]any{
		"Car":         s.Car,
		"CleanTitle":  "Unknown",
		"Accident":    "Unknown",
		"Median":      "N/A",
		"Delta":       "N/A",
		"DeltaPct":    0.0,
		"Category":    "Unknown",
		"RuleScore":   "N/A",
		"RuleVerdict": "Unknown",
		"LLMScore":    "N/A",
		"LLMVerdict":  "Unknown",
		"Residual":    "N/A",
		"CarsXE":      false,
		"VectorCases": 0,
		"Notes":       "See structured data.",
	}
	if c := s.ConditionReport; c != nil && c.Success {
		data["CleanTitle"] = c.Flags.CleanTitle
		data["Accident"] = c.Flags.AccidentHistory
	}
	if m := s.MarketAnalysis; m != nil {
		if m.MarketMedian > 0 {
			data["Median"] = util.Money(m.MarketMedian)
			data["Delta"] = util.Money(m.PriceDelta)
			data["DeltaPct"] = m.PriceDeltaPct
		}
		if m.DealCategory != "" {
			data["Category"] = m.DealCategory
		}
		if m.RuleVerdict != "" {
			data["RuleScore"], data["RuleVerdict"] = fmt.Sprintf("%g", m.RuleScore), m.RuleVerdict
		}
		if m.LLMVerdict != "" {
			data["LLMScore"], data["LLMVerdict"] = fmt.Sprintf("%g", m.LLMScore), m.LLMVerdict
		}
	}
	if r := s.ResidualAnalysis; r != nil && r.Success {
		data["Residual"] = util.Money(r.PredictedPrice)
	}
	if in, ok := s.Insight(core.InsightCarsXE); ok {
		data["CarsXE"] = in.Success
	}
	if in, ok := s.Insight(core.InsightVector); ok {
		data["VectorCases"] = len(in.SimilarCases)
	}
	if sum := s.SummaryReport; sum != nil && strings.TrimSpace(sum.Markdown) != "" {
		data["Notes"] = sum.Markdown
	}
	return carReport.Render(data)
}
