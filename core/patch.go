package core

import (
	"maps"
	"slices"
)

// Patch is a partial update returned by a node. A nil pointer or empty
// collection means "not written".
type Patch struct {
	PriceResearch     *PriceResearch
	PriceComparison   *PriceComparison
	DealScore         *DealScore
	LLMOpinion        *LLMOpinion
	MarketAnalysis    *MarketAnalysis
	ConditionReport   *ConditionReport
	ResidualAnalysis  *ResidualAnalysis
	NewsAnalysis      *NewsAnalysis
	ConsistencyReport *ConsistencyReport
	SummaryReport     *SummaryReport
	Persistence       *Persistence
	RAGInsights       map[string]Insight

	Retries  map[string]int
	Barriers map[string]int

	AnalysisErrors []string
	DbgLogs        []string
	AgentLogs      []AgentLog
	CarReports     []CarReport

	FailedPermanently bool
	ResearchFinal     bool
	ComparisonFinal   bool
	ScoringFinal      bool

	ResearchOK         *bool
	ComparisonOK       *bool
	ScoringOK          *bool
	AwaitingScores     *bool
	LLMRetry           *bool
	ScoreDisagreeRetry *bool

	// Reset clears slots before the writes of the same patch are applied.
	Reset []Slot
}

// Flag returns a pointer for the transient routing flags of a Patch.
func Flag(v bool) *bool { return &v }

// Merge composes p followed by o into a single patch so that applying the
// result equals applying p then o.
func (p Patch) Merge(o Patch) Patch {
	out := p
	out.RAGInsights = maps.Clone(p.RAGInsights)
	out.Retries = maps.Clone(p.Retries)
	out.Barriers = maps.Clone(p.Barriers)
	out.AnalysisErrors = slices.Clone(p.AnalysisErrors)
	out.DbgLogs = slices.Clone(p.DbgLogs)
	out.AgentLogs = slices.Clone(p.AgentLogs)
	out.CarReports = slices.Clone(p.CarReports)
	out.Reset = slices.Clone(p.Reset)

	for _, slot := range o.Reset {
		switch slot {
		case SlotDealScore:
			out.DealScore = nil
		case SlotLLMOpinion:
			out.LLMOpinion = nil
		}
		if !slices.Contains(out.Reset, slot) {
			out.Reset = append(out.Reset, slot)
		}
	}

	lastWrite(&out.PriceResearch, o.PriceResearch)
	lastWrite(&out.PriceComparison, o.PriceComparison)
	lastWrite(&out.DealScore, o.DealScore)
	lastWrite(&out.LLMOpinion, o.LLMOpinion)
	lastWrite(&out.MarketAnalysis, o.MarketAnalysis)
	lastWrite(&out.ConditionReport, o.ConditionReport)
	lastWrite(&out.ResidualAnalysis, o.ResidualAnalysis)
	lastWrite(&out.NewsAnalysis, o.NewsAnalysis)
	lastWrite(&out.ConsistencyReport, o.ConsistencyReport)
	lastWrite(&out.SummaryReport, o.SummaryReport)
	lastWrite(&out.Persistence, o.Persistence)

	out.RAGInsights = mergeKeys(out.RAGInsights, o.RAGInsights)
	out.Retries = maxKeys(out.Retries, o.Retries)
	out.Barriers = maxKeys(out.Barriers, o.Barriers)

	out.AnalysisErrors = append(out.AnalysisErrors, o.AnalysisErrors...)
	out.DbgLogs = append(out.DbgLogs, o.DbgLogs...)
	out.AgentLogs = append(out.AgentLogs, o.AgentLogs...)
	out.CarReports = append(out.CarReports, o.CarReports...)

	out.FailedPermanently = out.FailedPermanently || o.FailedPermanently
	out.ResearchFinal = out.ResearchFinal || o.ResearchFinal
	out.ComparisonFinal = out.ComparisonFinal || o.ComparisonFinal
	out.ScoringFinal = out.ScoringFinal || o.ScoringFinal

	lastWrite(&out.ResearchOK, o.ResearchOK)
	lastWrite(&out.ComparisonOK, o.ComparisonOK)
	lastWrite(&out.ScoringOK, o.ScoringOK)
	lastWrite(&out.AwaitingScores, o.AwaitingScores)
	lastWrite(&out.LLMRetry, o.LLMRetry)
	lastWrite(&out.ScoreDisagreeRetry, o.ScoreDisagreeRetry)

	return out
}

// Insights builds a RAGInsights patch for a single sub-source.
func Insights(source string, in Insight) map[string]Insight {
	return map[string]Insight{source: in}
}

// Counter builds a single-key counter map for Retries or Barriers.
func Counter(key string, n int) map[string]int {
	return map[string]int{key: n}
}
