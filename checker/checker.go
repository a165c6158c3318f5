// Package checker provides the control nodes of the analysis graph: bounded
// retry guards paired with the market workers, the join barriers that wait
// for parallel branches, and the score disagreement resolver.
//
// Every control node comes as a pair: a node function that returns the patch
// (counters, flags, errors, backoff) and a route function that returns the
// label of the branch to take. Both are pure functions of the same snapshot,
// so the route always agrees with the patch.
package checker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/dealmesh/core"
	"github.com/hupe1980/dealmesh/graph"
	"github.com/hupe1980/dealmesh/logging"
	"github.com/hupe1980/dealmesh/metrics"
)

// Node names of the control nodes.
const (
	NameResearchCheck   = "research_check"
	NameComparisonCheck = "comparison_check"
	NameScoringCheck    = "scoring_check"
	NameJoinScores      = "join_scores"
	NameFanIn           = "fan_in"
	NameValuationJoin   = "valuation_join"
	NameResolver        = "resolver"
)

// Policy is the bounded retry policy of one domain.
type Policy struct {
	Cap     int
	Backoff time.Duration
}

// BarrierPolicy bounds how long a barrier polls.
type BarrierPolicy struct {
	Backoff time.Duration
	MaxWait time.Duration
	// MaxPolls applies when Backoff is zero.
	MaxPolls int
}

// Polls returns the number of polls after which a barrier gives up.
func (p BarrierPolicy) Polls() int {
	if p.Backoff > 0 && p.MaxWait > 0 {
		return max(int(p.MaxWait/p.Backoff), 1)
	}
	if p.MaxPolls > 0 {
		return p.MaxPolls
	}
	return DefaultMaxPolls
}

// Defaults.
const (
	DefaultMaxPolls   = 200
	DefaultLLMRetries = 2
	DefaultRefreshes  = 1
)

// Options configures the control nodes.
type Options struct {
	Research   Policy
	Comparison Policy
	Scoring    Policy
	Barrier    BarrierPolicy

	// LLMRetryCap and RefreshCap bound the disagreement remediation.
	LLMRetryCap int
	RefreshCap  int

	Logger  logging.Logger
	Metrics *metrics.Metrics
}

// DefaultOptions returns the production policies.
func DefaultOptions() Options {
	return Options{
		Research:    Policy{Cap: 3, Backoff: 200 * time.Millisecond},
		Comparison:  Policy{Cap: 3, Backoff: 100 * time.Millisecond},
		Scoring:     Policy{Cap: 3, Backoff: 100 * time.Millisecond},
		Barrier:     BarrierPolicy{Backoff: 50 * time.Millisecond, MaxWait: 20 * time.Second},
		LLMRetryCap: DefaultLLMRetries,
		RefreshCap:  DefaultRefreshes,
		Logger:      logging.NoOpLogger{},
	}
}

// Checkers holds the control nodes of one engine. It is stateless and safe
// for concurrent use.
type Checkers struct {
	opts Options

	research   guard
	comparison guard
	scoring    guard
	join       barrier
	fanIn      barrier
	valuation  barrier
}

// New creates the control nodes.
func New(optFns ...func(o *Options)) *Checkers {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	c := &Checkers{opts: opts}
	c.research = guard{
		name:    NameResearchCheck,
		domain:  core.DomainPriceResearch,
		kind:    core.KindSearchFailed,
		message: "Unable to fetch market data after %d attempts.",
		policy:  opts.Research,
		status: func(s *core.AnalysisState) *core.Status {
			if s.PriceResearch == nil {
				return nil
			}
			return &s.PriceResearch.Status
		},
		usable: func(s *core.AnalysisState) string {
			if s.PriceResearch.Usable() {
				return ""
			}
			return fmt.Sprintf("Only %d price samples found (need %d).", s.PriceResearch.SampleCount, core.MinResearchSamples)
		},
		final:         func(s *core.AnalysisState) bool { return s.ResearchFinal },
		upstreamFinal: func(*core.AnalysisState) bool { return false },
		mark: func(p *core.Patch, ok, final bool) {
			p.ResearchOK = core.Flag(ok)
			p.ResearchFinal = final
		},
	}
	c.comparison = guard{
		name:    NameComparisonCheck,
		domain:  core.DomainPriceComparison,
		kind:    core.KindComparisonFailed,
		message: "Unable to compare prices after %d attempts.",
		policy:  opts.Comparison,
		status: func(s *core.AnalysisState) *core.Status {
			if s.PriceComparison == nil {
				return nil
			}
			return &s.PriceComparison.Status
		},
		final:         func(s *core.AnalysisState) bool { return s.ComparisonFinal },
		upstreamFinal: func(s *core.AnalysisState) bool { return s.ResearchFinal },
		mark: func(p *core.Patch, ok, final bool) {
			p.ComparisonOK = core.Flag(ok)
			p.ComparisonFinal = final
		},
	}
	c.scoring = guard{
		name:    NameScoringCheck,
		domain:  core.DomainDealScoring,
		kind:    core.KindScoringFailed,
		message: "Unable to score deal after %d attempts.",
		policy:  opts.Scoring,
		status: func(s *core.AnalysisState) *core.Status {
			if s.DealScore == nil {
				return nil
			}
			return &s.DealScore.Status
		},
		final:         func(s *core.AnalysisState) bool { return s.ScoringFinal },
		upstreamFinal: func(s *core.AnalysisState) bool { return s.ResearchFinal || s.ComparisonFinal },
		mark: func(p *core.Patch, ok, final bool) {
			p.ScoringOK = core.Flag(ok)
			p.ScoringFinal = final
		},
	}
	c.join = barrier{
		name:   NameJoinScores,
		round:  (*core.AnalysisState).ScoreRound,
		scores: true,
		pending: func(s *core.AnalysisState) []string {
			var out []string
			if !dealLanded(s) {
				out = append(out, "deal_score")
			}
			if !llmLanded(s) {
				out = append(out, "llm_opinion")
			}
			return out
		},
	}
	c.fanIn = barrier{
		name:  NameFanIn,
		round: func(*core.AnalysisState) int { return 1 },
		pending: func(s *core.AnalysisState) []string {
			var out []string
			if s.MarketAnalysis == nil {
				out = append(out, "market_analysis")
			}
			if s.ResidualAnalysis == nil {
				out = append(out, "residual_analysis")
			}
			if s.NewsAnalysis == nil {
				out = append(out, "news_analysis")
			}
			return out
		},
	}
	c.valuation = barrier{
		name:  NameValuationJoin,
		round: func(*core.AnalysisState) int { return 1 },
		pending: func(s *core.AnalysisState) []string {
			var out []string
			if s.Barriers[NameFanIn] < 1 {
				out = append(out, NameFanIn)
			}
			for _, src := range []string{core.InsightCarsXE, core.InsightEarly} {
				if _, ok := s.Insight(src); !ok {
					out = append(out, "rag_insights."+src)
				}
			}
			return out
		},
	}
	return c
}

// ResearchCheck guards price research.
func (c *Checkers) ResearchCheck(ctx context.Context, s *core.AnalysisState) core.Patch {
	return c.research.run(ctx, c.opts, s)
}

// ResearchRoute returns retry or advance.
func (c *Checkers) ResearchRoute(s *core.AnalysisState) string { return c.research.decide(s) }

// ComparisonCheck guards price comparison.
func (c *Checkers) ComparisonCheck(ctx context.Context, s *core.AnalysisState) core.Patch {
	return c.comparison.run(ctx, c.opts, s)
}

// ComparisonRoute returns retry or advance.
func (c *Checkers) ComparisonRoute(s *core.AnalysisState) string { return c.comparison.decide(s) }

// ScoringCheck guards the rule-based score.
func (c *Checkers) ScoringCheck(ctx context.Context, s *core.AnalysisState) core.Patch {
	return c.scoring.run(ctx, c.opts, s)
}

// ScoringRoute returns retry or advance.
func (c *Checkers) ScoringRoute(s *core.AnalysisState) string { return c.scoring.decide(s) }

// guard is a bounded retry policy for one worker's result slot.
type guard struct {
	name    string
	domain  string
	kind    string
	message string
	policy  Policy

	status        func(s *core.AnalysisState) *core.Status
	// usable vets a successful result further. It returns why the result
	// cannot be used, or "" when it can. Optional.
	usable        func(s *core.AnalysisState) string
	final         func(s *core.AnalysisState) bool
	upstreamFinal func(s *core.AnalysisState) bool
	mark          func(p *core.Patch, ok, final bool)
}

type guardState int

const (
	guardUsable guardState = iota
	guardSkip
	guardRetry
	guardExhausted
)

// rejection returns why the current result cannot be used, or "" when it
// is usable.
func (g guard) rejection(s *core.AnalysisState) string {
	st := g.status(s)
	switch {
	case st == nil:
		return "no result"
	case !st.Success:
		return strings.TrimSpace(st.Error)
	case g.usable != nil:
		return g.usable(s)
	}
	return ""
}

func (g guard) state(s *core.AnalysisState) guardState {
	if st := g.status(s); st != nil && st.Success && (g.usable == nil || g.usable(s) == "") {
		return guardUsable
	}
	// A terminal failure upstream, or of this domain itself, was already
	// reported once.
	if g.upstreamFinal(s) || g.final(s) {
		return guardSkip
	}
	if s.Attempts(g.domain) < g.policy.Cap {
		return guardRetry
	}
	return guardExhausted
}

func (g guard) decide(s *core.AnalysisState) string {
	if g.state(s) == guardRetry {
		return graph.LabelRetry
	}
	return graph.LabelAdvance
}

func (g guard) run(ctx context.Context, opts Options, s *core.AnalysisState) core.Patch {
	var patch core.Patch
	switch g.state(s) {
	case guardUsable:
		g.mark(&patch, true, false)
		patch = patch.Merge(core.LogComplete(g.name, map[string]any{"attempts": s.Attempts(g.domain)}))

	case guardSkip:
		g.mark(&patch, false, false)
		patch = patch.Merge(core.LogWarn(g.name, "upstream failed permanently; not retrying", nil))

	case guardRetry:
		attempt := s.Attempts(g.domain) + 1
		g.mark(&patch, false, false)
		patch.Retries = core.Counter(g.domain, attempt)
		patch = patch.Merge(core.LogWarn(g.name, fmt.Sprintf("retry %d/%d", attempt, g.policy.Cap), map[string]any{
			"domain": g.domain,
			"error":  g.rejection(s),
		}))
		opts.Metrics.IncRetry(g.domain)
		opts.Logger.Warn("Retrying stage", "domain", g.domain, "attempt", attempt, "cap", g.policy.Cap)
		sleep(ctx, g.policy.Backoff)

	case guardExhausted:
		detail := fmt.Sprintf(g.message, g.policy.Cap)
		if last := g.rejection(s); last != "" {
			detail += " " + last
		}
		entry := core.FormatError(g.kind, detail)
		g.mark(&patch, false, true)
		patch.AnalysisErrors = []string{entry}
		patch.FailedPermanently = true
		patch = patch.Merge(core.LogError(g.name, entry, map[string]any{"domain": g.domain}))
		opts.Metrics.IncPermanentFailure(g.kind)
		opts.Logger.Error("Stage failed permanently", "domain", g.domain, "error", entry)
	}
	return patch
}

// sleep blocks for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
