// Package pipeline wires workers and control nodes into the single-car
// analysis graph.
//
// After condition assessment the graph fans out into five branches: the
// market sub-pipeline (research, comparison, scoring and LLM opinion, each
// gated by a retry guard, joined and reconciled by the resolver), residual
// prediction, news, third-party valuation and the early retrieval brief.
// Three barriers join them before the serial tail of consistency check,
// vector insights, summary, persistence and the per-car report.
package pipeline

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/dealmesh/checker"
	"github.com/hupe1980/dealmesh/core"
	"github.com/hupe1980/dealmesh/graph"
	"github.com/hupe1980/dealmesh/logging"
	"github.com/hupe1980/dealmesh/metrics"
	"github.com/hupe1980/dealmesh/worker"
)

// Entry is the first node of every run.
const Entry = worker.NameCondition

// Options configures the compiled graph.
type Options struct {
	MaxSteps int
	Logger   logging.Logger
	Metrics  *metrics.Metrics
	Tracer   trace.Tracer
}

// New builds and compiles the analysis graph.
func New(w *worker.Workers, c *checker.Checkers, optFns ...func(o *Options)) (*graph.Compiled, error) {
	opts := Options{MaxSteps: graph.DefaultMaxSteps}
	for _, fn := range optFns {
		fn(&opts)
	}

	g := graph.New()
	for name, fn := range w.Registry() {
		g.AddNode(name, graph.NodeFunc(fn))
	}
	g.AddNode(checker.NameResearchCheck, c.ResearchCheck).
		AddNode(checker.NameComparisonCheck, c.ComparisonCheck).
		AddNode(checker.NameScoringCheck, c.ScoringCheck).
		AddNode(checker.NameJoinScores, c.JoinScores).
		AddNode(checker.NameResolver, c.Resolver).
		AddNode(checker.NameFanIn, c.FanIn).
		AddNode(checker.NameValuationJoin, c.ValuationJoin)

	g.SetEntry(Entry).
		AddEdge(worker.NameCondition,
			worker.NameResearch, worker.NameResidual, worker.NameNews, worker.NameValuation, worker.NameEarlyRAG)

	// Market sub-pipeline.
	g.AddEdge(worker.NameResearch, checker.NameResearchCheck).
		AddConditionalEdge(checker.NameResearchCheck,
			when(c.ResearchRoute, graph.LabelRetry, worker.NameResearch),
			advance(worker.NameComparison),
		).
		AddEdge(worker.NameComparison, checker.NameComparisonCheck).
		AddConditionalEdge(checker.NameComparisonCheck,
			when(c.ComparisonRoute, graph.LabelRetry, worker.NameComparison),
			advance(worker.NameScoring, worker.NameLLMOpinion),
		).
		AddEdge(worker.NameScoring, checker.NameScoringCheck).
		AddConditionalEdge(checker.NameScoringCheck,
			when(c.ScoringRoute, graph.LabelRetry, worker.NameScoring),
			advance(checker.NameJoinScores),
		).
		AddEdge(worker.NameLLMOpinion, checker.NameJoinScores).
		AddConditionalEdge(checker.NameJoinScores,
			when(c.JoinScoresRoute, graph.LabelWait, checker.NameJoinScores),
			when(c.JoinScoresRoute, graph.LabelAbsorb, graph.END),
			advance(checker.NameResolver),
		).
		AddConditionalEdge(checker.NameResolver,
			when(c.ResolverRoute, graph.LabelRetryLLM, worker.NameLLMOpinion),
			when(c.ResolverRoute, graph.LabelRefresh, worker.NameResearch),
			advance(worker.NameMarketSummary),
		)

	// Branch fan-in.
	g.AddEdge(worker.NameMarketSummary, checker.NameFanIn).
		AddEdge(worker.NameResidual, checker.NameFanIn).
		AddEdge(worker.NameNews, checker.NameFanIn).
		AddConditionalEdge(checker.NameFanIn,
			when(c.FanInRoute, graph.LabelWait, checker.NameFanIn),
			when(c.FanInRoute, graph.LabelAbsorb, graph.END),
			advance(checker.NameValuationJoin),
		).
		AddEdge(worker.NameValuation, checker.NameValuationJoin).
		AddEdge(worker.NameEarlyRAG, checker.NameValuationJoin).
		AddConditionalEdge(checker.NameValuationJoin,
			when(c.ValuationJoinRoute, graph.LabelWait, checker.NameValuationJoin),
			when(c.ValuationJoinRoute, graph.LabelAbsorb, graph.END),
			advance(worker.NameConsistency),
		)

	// Serial tail.
	g.AddEdge(worker.NameConsistency, worker.NameVectorInsights).
		AddEdge(worker.NameVectorInsights, worker.NameSummary).
		AddEdge(worker.NameSummary, worker.NamePersist).
		AddEdge(worker.NamePersist, worker.NameReport).
		AddEdge(worker.NameReport, graph.END)

	return g.Compile(func(o *graph.Options) {
		o.MaxSteps = opts.MaxSteps
		o.Logger = opts.Logger
		o.Metrics = opts.Metrics
		o.Tracer = opts.Tracer
	})
}

// when builds a branch taken when route returns label.
func when(route func(*core.AnalysisState) string, label string, to ...string) graph.Branch {
	return graph.Branch{
		Label: label,
		When:  func(s *core.AnalysisState) bool { return route(s) == label },
		To:    to,
	}
}

func advance(to ...string) graph.Branch {
	return graph.Branch{Label: graph.LabelAdvance, To: to}
}
