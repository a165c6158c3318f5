package core

import (
	"maps"
	"slices"
	"time"
)

// Retry domains tracked in AnalysisState.Retries.
const (
	DomainPriceResearch     = "price_research"
	DomainPriceComparison   = "price_comparison"
	DomainDealScoring       = "deal_scoring"
	DomainLLMOpinion        = "llm_opinion"
	DomainScoreDisagreement = "score_disagreement"
)

// Slot names a resettable result slot.
type Slot string

// Resettable slots.
const (
	SlotDealScore  Slot = "deal_score"
	SlotLLMOpinion Slot = "llm_opinion"
)

// Strategy names how a field of AnalysisState merges concurrent writes.
type Strategy string

// Merge strategies.
const (
	LastWriteWins Strategy = "last_write_wins"
	MergeByKey    Strategy = "merge_by_key"
	MaxByKey      Strategy = "max_by_key"
	AppendOnly    Strategy = "append_only"
	SetOnce       Strategy = "set_once"
)

// MergeStrategies declares the strategy of every mergeable field, keyed by its
// serialized name. Apply and Merge implement exactly this table.
var MergeStrategies = map[string]Strategy{
	"price_research":       LastWriteWins,
	"price_comparison":     LastWriteWins,
	"deal_score":           LastWriteWins,
	"llm_opinion":          LastWriteWins,
	"market_analysis":      LastWriteWins,
	"condition_report":     LastWriteWins,
	"residual_analysis":    LastWriteWins,
	"news_analysis":        LastWriteWins,
	"consistency_report":   LastWriteWins,
	"summary_report":       LastWriteWins,
	"persistence":          LastWriteWins,
	"rag_insights":         MergeByKey,
	"retries":              MaxByKey,
	"barriers":             MaxByKey,
	"analysis_errors":      AppendOnly,
	"dbg_logs":             AppendOnly,
	"agent_logs":           AppendOnly,
	"car_reports":          AppendOnly,
	"failed_permanently":   SetOnce,
	"research_final":       SetOnce,
	"comparison_final":     SetOnce,
	"scoring_final":        SetOnce,
	"research_ok":          LastWriteWins,
	"comparison_ok":        LastWriteWins,
	"scoring_ok":           LastWriteWins,
	"awaiting_scores":      LastWriteWins,
	"llm_retry":            LastWriteWins,
	"score_disagree_retry": LastWriteWins,
}

// AnalysisState is the unit of work for one car. Nodes never mutate it
// directly: they read a snapshot and return a Patch which the executor applies.
// Result slots are immutable once written.
type AnalysisState struct {
	RunID     string    `json:"run_id"`
	SessionID string    `json:"session_id,omitempty"`
	Car       Car       `json:"current_car"`
	StartedAt time.Time `json:"started_at"`

	PriceResearch     *PriceResearch     `json:"price_research,omitempty"`
	PriceComparison   *PriceComparison   `json:"price_comparison,omitempty"`
	DealScore         *DealScore         `json:"deal_score,omitempty"`
	LLMOpinion        *LLMOpinion        `json:"llm_opinion,omitempty"`
	MarketAnalysis    *MarketAnalysis    `json:"market_analysis,omitempty"`
	ConditionReport   *ConditionReport   `json:"condition_report,omitempty"`
	ResidualAnalysis  *ResidualAnalysis  `json:"residual_analysis,omitempty"`
	NewsAnalysis      *NewsAnalysis      `json:"news_analysis,omitempty"`
	ConsistencyReport *ConsistencyReport `json:"consistency_report,omitempty"`
	SummaryReport     *SummaryReport     `json:"summary_report,omitempty"`
	Persistence       *Persistence       `json:"persistence,omitempty"`
	RAGInsights       map[string]Insight `json:"rag_insights"`

	Retries  map[string]int `json:"retries"`
	Barriers map[string]int `json:"barriers"`

	AnalysisErrors []string    `json:"analysis_errors"`
	DbgLogs        []string    `json:"dbg_logs"`
	AgentLogs      []AgentLog  `json:"agent_logs"`
	CarReports     []CarReport `json:"car_reports"`

	FailedPermanently bool `json:"failed_permanently"`
	ResearchFinal     bool `json:"research_final"`
	ComparisonFinal   bool `json:"comparison_final"`
	ScoringFinal      bool `json:"scoring_final"`

	ResearchOK         bool `json:"research_ok"`
	ComparisonOK       bool `json:"comparison_ok"`
	ScoringOK          bool `json:"scoring_ok"`
	AwaitingScores     bool `json:"awaiting_scores"`
	LLMRetry           bool `json:"llm_retry"`
	ScoreDisagreeRetry bool `json:"score_disagree_retry"`
}

// NewAnalysisState creates a fresh state for one car: empty error list and
// empty retry map.
func NewAnalysisState(runID string, car Car) *AnalysisState {
	return &AnalysisState{
		RunID:          runID,
		Car:            car,
		StartedAt:      time.Now().UTC(),
		RAGInsights:    map[string]Insight{},
		Retries:        map[string]int{},
		Barriers:       map[string]int{},
		AnalysisErrors: []string{},
		DbgLogs:        []string{},
		AgentLogs:      []AgentLog{},
		CarReports:     []CarReport{},
	}
}

// Clone returns a snapshot safe to hand to a concurrently running node.
func (s *AnalysisState) Clone() *AnalysisState {
	c := *s
	c.RAGInsights = maps.Clone(s.RAGInsights)
	c.Retries = maps.Clone(s.Retries)
	c.Barriers = maps.Clone(s.Barriers)
	c.AnalysisErrors = slices.Clone(s.AnalysisErrors)
	c.DbgLogs = slices.Clone(s.DbgLogs)
	c.AgentLogs = slices.Clone(s.AgentLogs)
	c.CarReports = slices.Clone(s.CarReports)
	if c.RAGInsights == nil {
		c.RAGInsights = map[string]Insight{}
	}
	if c.Retries == nil {
		c.Retries = map[string]int{}
	}
	if c.Barriers == nil {
		c.Barriers = map[string]int{}
	}
	return &c
}

// Attempts returns the retry counter of a domain.
func (s *AnalysisState) Attempts(domain string) int { return s.Retries[domain] }

// Insight returns a retrieval sub-source if it was written.
func (s *AnalysisState) Insight(source string) (Insight, bool) {
	in, ok := s.RAGInsights[source]
	return in, ok
}

// ScoreRound identifies the current scoring round. Every remediation step of
// the disagreement resolver starts a new one.
func (s *AnalysisState) ScoreRound() int {
	return 1 + s.Retries[DomainLLMOpinion] + s.Retries[DomainScoreDisagreement]
}

// Apply merges a patch into the state following MergeStrategies.
func (s *AnalysisState) Apply(p Patch) {
	for _, slot := range p.Reset {
		switch slot {
		case SlotDealScore:
			s.DealScore = nil
		case SlotLLMOpinion:
			s.LLMOpinion = nil
		}
	}

	lastWrite(&s.PriceResearch, p.PriceResearch)
	lastWrite(&s.PriceComparison, p.PriceComparison)
	lastWrite(&s.DealScore, p.DealScore)
	lastWrite(&s.LLMOpinion, p.LLMOpinion)
	lastWrite(&s.MarketAnalysis, p.MarketAnalysis)
	lastWrite(&s.ConditionReport, p.ConditionReport)
	lastWrite(&s.ResidualAnalysis, p.ResidualAnalysis)
	lastWrite(&s.NewsAnalysis, p.NewsAnalysis)
	lastWrite(&s.ConsistencyReport, p.ConsistencyReport)
	lastWrite(&s.SummaryReport, p.SummaryReport)
	lastWrite(&s.Persistence, p.Persistence)

	s.RAGInsights = mergeKeys(s.RAGInsights, p.RAGInsights)
	s.Retries = maxKeys(s.Retries, p.Retries)
	s.Barriers = maxKeys(s.Barriers, p.Barriers)

	s.AnalysisErrors = append(s.AnalysisErrors, p.AnalysisErrors...)
	s.DbgLogs = append(s.DbgLogs, p.DbgLogs...)
	s.AgentLogs = append(s.AgentLogs, p.AgentLogs...)
	s.CarReports = append(s.CarReports, p.CarReports...)

	s.FailedPermanently = s.FailedPermanently || p.FailedPermanently
	s.ResearchFinal = s.ResearchFinal || p.ResearchFinal
	s.ComparisonFinal = s.ComparisonFinal || p.ComparisonFinal
	s.ScoringFinal = s.ScoringFinal || p.ScoringFinal

	lastWriteValue(&s.ResearchOK, p.ResearchOK)
	lastWriteValue(&s.ComparisonOK, p.ComparisonOK)
	lastWriteValue(&s.ScoringOK, p.ScoringOK)
	lastWriteValue(&s.AwaitingScores, p.AwaitingScores)
	lastWriteValue(&s.LLMRetry, p.LLMRetry)
	lastWriteValue(&s.ScoreDisagreeRetry, p.ScoreDisagreeRetry)
}

func lastWrite[T any](dst **T, src *T) {
	if src != nil {
		*dst = src
	}
}

func lastWriteValue[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func mergeKeys[K comparable, V any](dst, src map[K]V) map[K]V {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[K]V, len(src))
	}
	maps.Copy(dst, src)
	return dst
}

func maxKeys[K comparable](dst, src map[K]int) map[K]int {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[K]int, len(src))
	}
	for k, v := range src {
		if v > dst[k] {
			dst[k] = v
		}
	}
	return dst
}
