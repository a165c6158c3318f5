package checker

import (
	"context"
	"fmt"
	"math"

	"github.com/hupe1980/dealmesh/core"
	"github.com/hupe1980/dealmesh/graph"
)

// MajorScoreGap is the absolute score difference that counts as a major
// disagreement regardless of verdict tiers.
const MajorScoreGap = 30

type resolution int

const (
	resolvePassThrough resolution = iota
	resolveAccept
	resolveRetryLLM
	resolveRefresh
	resolveGiveUp
)

// MajorDisagreement reports whether a rule-based and an LLM score disagree
// enough to remediate: two or more verdict tiers apart, or at least
// MajorScoreGap points apart.
func MajorDisagreement(rule, llm float64) bool {
	tiers := core.VerdictTier(rule) - core.VerdictTier(llm)
	if tiers < 0 {
		tiers = -tiers
	}
	return tiers >= 2 || math.Abs(rule-llm) >= MajorScoreGap
}

func scores(s *core.AnalysisState) (rule, llm float64, ok bool) {
	if s.DealScore == nil || s.LLMOpinion == nil {
		return 0, 0, false
	}
	rule, llm = s.DealScore.Score, s.LLMOpinion.Score
	return rule, llm, rule > 0 && llm > 0
}

func (c *Checkers) resolve(s *core.AnalysisState) resolution {
	rule, llm, ok := scores(s)
	switch {
	case !ok:
		return resolvePassThrough
	case !MajorDisagreement(rule, llm):
		return resolveAccept
	case s.Attempts(core.DomainLLMOpinion) < c.opts.LLMRetryCap:
		return resolveRetryLLM
	case s.Attempts(core.DomainScoreDisagreement) < c.opts.RefreshCap:
		return resolveRefresh
	default:
		return resolveGiveUp
	}
}

// ResolverRoute returns retry_llm, refresh or advance.
func (c *Checkers) ResolverRoute(s *core.AnalysisState) string {
	switch c.resolve(s) {
	case resolveRetryLLM:
		return graph.LabelRetryLLM
	case resolveRefresh:
		return graph.LabelRefresh
	default:
		return graph.LabelAdvance
	}
}

// Resolver compares the two scores once both branches landed. A major
// disagreement is remediated by regenerating the LLM opinion, then by
// refreshing the whole market research; when both budgets are spent the
// analysis is marked as permanently failed and advances.
func (c *Checkers) Resolver(_ context.Context, s *core.AnalysisState) core.Patch {
	rule, llm, _ := scores(s)
	llmRetries := s.Attempts(core.DomainLLMOpinion)
	refreshes := s.Attempts(core.DomainScoreDisagreement)
	payload := map[string]any{"rule_score": rule, "llm_score": llm}

	var patch core.Patch
	switch c.resolve(s) {
	case resolvePassThrough:
		patch = core.LogWarn(NameResolver, "scores missing; passing through", payload)

	case resolveAccept:
		patch.LLMRetry = core.Flag(false)
		patch.ScoreDisagreeRetry = core.Flag(false)
		patch = patch.Merge(core.LogComplete(NameResolver, payload))

	case resolveRetryLLM:
		patch.Retries = core.Counter(core.DomainLLMOpinion, llmRetries+1)
		patch.LLMRetry = core.Flag(true)
		patch = patch.Merge(core.LogWarn(NameResolver,
			fmt.Sprintf("major disagreement; regenerating LLM opinion (%d/%d)", llmRetries+1, c.opts.LLMRetryCap), payload))
		c.opts.Metrics.IncRetry(core.DomainLLMOpinion)
		c.opts.Logger.Warn("Score disagreement", "action", "retry_llm", "rule_score", rule, "llm_score", llm)

	case resolveRefresh:
		patch.Retries = core.Counter(core.DomainScoreDisagreement, refreshes+1)
		patch.LLMRetry = core.Flag(false)
		patch.ScoreDisagreeRetry = core.Flag(true)
		patch.Reset = []core.Slot{core.SlotDealScore, core.SlotLLMOpinion}
		patch = patch.Merge(core.LogWarn(NameResolver,
			fmt.Sprintf("major disagreement; refreshing market research (%d/%d)", refreshes+1, c.opts.RefreshCap), payload))
		c.opts.Metrics.IncRetry(core.DomainScoreDisagreement)
		c.opts.Logger.Warn("Score disagreement", "action", "refresh", "rule_score", rule, "llm_score", llm)

	case resolveGiveUp:
		entry := core.FormatError(core.KindDisagreement, fmt.Sprintf(
			"Rule-based score (%g) and LLM score (%g) disagree after LLM retries (%d) and research refresh (%d)",
			rule, llm, llmRetries, refreshes))
		patch.AnalysisErrors = []string{entry}
		patch.FailedPermanently = true
		patch.LLMRetry = core.Flag(false)
		patch.ScoreDisagreeRetry = core.Flag(false)
		patch = patch.Merge(core.LogError(NameResolver, entry, payload))
		c.opts.Metrics.IncPermanentFailure(core.KindDisagreement)
		c.opts.Logger.Error("Score disagreement persisted", "rule_score", rule, "llm_score", llm)
	}
	return patch
}
