package checker

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/dealmesh/core"
	"github.com/hupe1980/dealmesh/graph"
)

// barrier waits until every input of a join has landed. It fires once per
// round; later activations in the same round are absorbed.
type barrier struct {
	name    string
	round   func(s *core.AnalysisState) int
	pending func(s *core.AnalysisState) []string
	// scores marks the join_scores barrier, the only one that maintains
	// AwaitingScores.
	scores bool
}

type barrierState int

const (
	barrierAbsorb barrierState = iota
	barrierPass
	barrierWait
	barrierTimeout
)

// PollKey is the retry counter a barrier polls under in round. Every round
// gets its own budget, so max wait bounds a single round.
func PollKey(name string, round int) string {
	if round <= 1 {
		return name
	}
	return fmt.Sprintf("%s#%d", name, round)
}

func (b barrier) polls(s *core.AnalysisState) int {
	return s.Attempts(PollKey(b.name, b.round(s)))
}

func (b barrier) state(s *core.AnalysisState, polls int) barrierState {
	if s.Barriers[b.name] >= b.round(s) {
		return barrierAbsorb
	}
	if len(b.pending(s)) == 0 {
		return barrierPass
	}
	if b.polls(s) >= polls {
		return barrierTimeout
	}
	return barrierWait
}

func (b barrier) decide(s *core.AnalysisState, polls int) string {
	switch b.state(s, polls) {
	case barrierAbsorb:
		return graph.LabelAbsorb
	case barrierWait:
		return graph.LabelWait
	default:
		return graph.LabelAdvance
	}
}

func (b barrier) run(ctx context.Context, opts Options, s *core.AnalysisState) core.Patch {
	polls := opts.Barrier.Polls()
	round := b.round(s)

	var patch core.Patch
	switch b.state(s, polls) {
	case barrierAbsorb:
		patch = core.LogComplete(b.name, map[string]any{"absorbed": true, "round": round})

	case barrierPass:
		patch.Barriers = core.Counter(b.name, round)
		if b.scores {
			patch.AwaitingScores = core.Flag(false)
		}
		patch = patch.Merge(core.LogComplete(b.name, map[string]any{"round": round}))

	case barrierTimeout:
		missing := b.pending(s)
		patch.Barriers = core.Counter(b.name, round)
		if b.scores {
			patch.AwaitingScores = core.Flag(false)
		}
		patch = patch.Merge(core.LogWarn(b.name, "max wait exceeded; advancing without "+strings.Join(missing, ", "), map[string]any{
			"round": round,
			"polls": b.polls(s),
		}))
		opts.Logger.Warn("Barrier timed out", "barrier", b.name, "missing", missing)

	case barrierWait:
		poll := b.polls(s) + 1
		patch.Retries = core.Counter(PollKey(b.name, round), poll)
		if b.scores {
			patch.AwaitingScores = core.Flag(true)
		}
		if poll == 1 {
			patch = patch.Merge(core.LogStart(b.name, map[string]any{
				"round":   round,
				"waiting": b.pending(s),
			}))
		}
		sleep(ctx, opts.Barrier.Backoff)
	}
	return patch
}

// dealLanded reports whether the rule-based branch produced a score or
// failed permanently.
func dealLanded(s *core.AnalysisState) bool {
	return s.DealScore.HasScore() || s.ScoringFinal || s.ComparisonFinal || s.ResearchFinal
}

// llmLanded reports whether the LLM branch wrote any result.
func llmLanded(s *core.AnalysisState) bool {
	return s.LLMOpinion.HasScore() || (s.LLMOpinion != nil && s.LLMOpinion.Failed())
}

// JoinScores is the barrier after the two scoring branches.
func (c *Checkers) JoinScores(ctx context.Context, s *core.AnalysisState) core.Patch {
	return c.join.run(ctx, c.opts, s)
}

// JoinScoresRoute returns wait, absorb or advance.
func (c *Checkers) JoinScoresRoute(s *core.AnalysisState) string {
	return c.join.decide(s, c.opts.Barrier.Polls())
}

// FanIn is the barrier after the market, residual and news branches.
func (c *Checkers) FanIn(ctx context.Context, s *core.AnalysisState) core.Patch {
	return c.fanIn.run(ctx, c.opts, s)
}

// FanInRoute returns wait, absorb or advance.
func (c *Checkers) FanInRoute(s *core.AnalysisState) string {
	return c.fanIn.decide(s, c.opts.Barrier.Polls())
}

// ValuationJoin is the barrier that waits for the external valuation and
// the early retrieval brief.
func (c *Checkers) ValuationJoin(ctx context.Context, s *core.AnalysisState) core.Patch {
	return c.valuation.run(ctx, c.opts, s)
}

// ValuationJoinRoute returns wait, absorb or advance.
func (c *Checkers) ValuationJoinRoute(s *core.AnalysisState) string {
	return c.valuation.decide(s, c.opts.Barrier.Polls())
}
