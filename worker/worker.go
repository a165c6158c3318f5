package worker

import (
	"context"
	"errors"
	"time"

	"github.com/hupe1980/dealmesh/core"
	"github.com/hupe1980/dealmesh/logging"
	"github.com/hupe1980/dealmesh/metrics"
	"github.com/hupe1980/dealmesh/model"
)

// Worker names. They double as graph node names and as the agent field of
// log entries.
const (
	NameCondition      = "condition"
	NameResearch       = "research"
	NameComparison     = "comparison"
	NameScoring        = "scoring"
	NameLLMOpinion     = "llm_opinion"
	NameMarketSummary  = "market_summary"
	NameResidual       = "residual"
	NameNews           = "news"
	NameValuation      = "valuation"
	NameEarlyRAG       = "early_rag"
	NameConsistency    = "consistency"
	NameVectorInsights = "vector_insights"
	NameSummary        = "summary"
	NamePersist        = "persist"
	NameReport         = "report"
)

// Collaborator labels used for metrics and logs.
const (
	collabSearch    = "search"
	collabLLM       = "llm"
	collabPredictor = "predictor"
	collabValuation = "valuation"
	collabKnowledge = "knowledge"
	collabStore     = "store"
)

var (
	// ErrNoModel is reported when an LLM step runs without a configured model.
	ErrNoModel = errors.New("worker: no language model configured")

	errKnowledgeUnavailable = errors.New("knowledge base unavailable")
)

// Func is the signature shared by every worker: read a snapshot, return a patch.
type Func func(ctx context.Context, s *core.AnalysisState) core.Patch

// Timeouts bound each external call.
type Timeouts struct {
	Search    time.Duration
	LLM       time.Duration
	Valuation time.Duration
	Knowledge time.Duration
	Store     time.Duration
}

// DefaultTimeouts returns the production timeouts.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Search:    20 * time.Second,
		LLM:       60 * time.Second,
		Valuation: 15 * time.Second,
		Knowledge: 10 * time.Second,
		Store:     10 * time.Second,
	}
}

// Options configures a Workers set. Every collaborator is optional; a worker
// whose collaborator is missing reports the gap in its own slot.
type Options struct {
	Searcher     core.Searcher
	Model        model.Model
	Predictor    core.Predictor
	Valuator     core.Valuator
	Knowledge    core.KnowledgeBase
	Store        core.AnalysisStore
	GraphContext core.GraphContext

	Logger   logging.Logger
	Metrics  *metrics.Metrics
	Timeouts Timeouts
	Clock    func() time.Time

	// PreferredDomains restricts price research to trusted listing sites.
	PreferredDomains []string
	// MaxResults is requested per search query.
	MaxResults int

	// Optional LLM passes. Their failures never fail the owning worker.
	Critique bool
	Refine   bool
	Enhance  bool

	// Stream requests incremental model output. The text is still consumed
	// whole.
	Stream bool
}

// Workers holds the collaborators shared by all workers of one engine. It is
// safe for concurrent use by many cars.
type Workers struct {
	opts Options
}

// New builds a Workers set with sensible defaults.
func New(optFns ...func(o *Options)) *Workers {
	opts := Options{
		Logger:           logging.NoOpLogger{},
		Timeouts:         DefaultTimeouts(),
		Clock:            time.Now,
		PreferredDomains: PreferredDomains,
		MaxResults:       12,
		Critique:         true,
		Refine:           true,
		Enhance:          true,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Workers{opts: opts}
}

// Registry returns every worker keyed by its name.
func (w *Workers) Registry() map[string]Func {
	return map[string]Func{
		NameCondition:      w.Condition,
		NameResearch:       w.Research,
		NameComparison:     w.Comparison,
		NameScoring:        w.Scoring,
		NameLLMOpinion:     w.LLMOpinion,
		NameMarketSummary:  w.MarketSummary,
		NameResidual:       w.Residual,
		NameNews:           w.News,
		NameValuation:      w.Valuation,
		NameEarlyRAG:       w.EarlyRAG,
		NameConsistency:    w.Consistency,
		NameVectorInsights: w.VectorInsights,
		NameSummary:        w.Summary,
		NamePersist:        w.Persist,
		NameReport:         w.Report,
	}
}

func (w *Workers) now() time.Time { return w.opts.Clock() }

// timed runs fn under timeout and returns how long it took.
func timed(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) (time.Duration, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := time.Now()
	err := fn(ctx)
	return time.Since(start), err
}

// call runs op against a collaborator under its timeout and records latency.
func (w *Workers) call(ctx context.Context, collaborator, op string, timeout time.Duration, fn func(ctx context.Context) error) error {
	dur, err := timed(ctx, timeout, fn)
	w.opts.Metrics.ObserveExternalCall(collaborator, dur, err)
	if pl, ok := w.opts.Logger.(*logging.PipelineLogger); ok {
		pl.LogExternalCall(collaborator, op, dur, err)
	} else if err != nil {
		w.opts.Logger.Warn("External call failed", "collaborator", collaborator, "operation", op, "error", err)
	}
	return err
}

// complete sends one prompt to the configured model.
func (w *Workers) complete(ctx context.Context, prompt string) (string, error) {
	if w.opts.Model == nil {
		return "", ErrNoModel
	}
	req := model.Prompt(prompt)
	req.Stream = w.opts.Stream
	var out model.Completion
	dur, err := timed(ctx, w.opts.Timeouts.LLM, func(ctx context.Context) error {
		var err error
		out, err = model.Complete(ctx, w.opts.Model, req)
		return err
	})
	w.opts.Metrics.ObserveExternalCall(collabLLM, dur, err)
	name := w.modelName()
	if pl, ok := w.opts.Logger.(*logging.PipelineLogger); ok {
		pl.LogLLMCall(name, out.Usage.TotalTokens, dur, err == nil, err)
	} else if err != nil {
		w.opts.Logger.Warn("LLM call failed", "model", name, "duration", dur, "error", err)
	}
	return out.Text, err
}

func (w *Workers) modelName() string {
	if w.opts.Model == nil {
		return ""
	}
	return w.opts.Model.Info().Name
}
