package core

import "time"

// Listing is one accepted price observation from a search result.
type Listing struct {
	Price  float64 `json:"price"`
	URL    string  `json:"url"`
	Source string  `json:"source"`
	Query  string  `json:"query"`
}

// PriceRange is the observed min/max of the accepted sample.
type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// PriceResearch is written by the price research worker.
type PriceResearch struct {
	Status
	SearchQueries   []string   `json:"search_queries,omitempty"`
	ExtractedPrices []float64  `json:"extracted_prices,omitempty"`
	Listings        []Listing  `json:"listings,omitempty"`
	MedianPrice     float64    `json:"median_price,omitempty"`
	PriceRange      PriceRange `json:"price_range"`
	SampleCount     int        `json:"sample_count"`
	OutliersRemoved int        `json:"outliers_removed,omitempty"`
	SearchMethod    string     `json:"search_method"`
	Timestamp       time.Time  `json:"timestamp"`
}

// MinResearchSamples is the smallest price sample that can drive a comparison.
const MinResearchSamples = 5

// Usable reports whether the research succeeded with enough samples.
func (r *PriceResearch) Usable() bool {
	return r != nil && r.Success && r.SampleCount >= MinResearchSamples
}

// PriceComparison is written by the price comparison worker.
type PriceComparison struct {
	Status
	PricePaid       float64 `json:"price_paid"`
	MarketMedian    float64 `json:"market_median"`
	MarketMin       float64 `json:"market_min"`
	MarketMax       float64 `json:"market_max"`
	PriceDelta      float64 `json:"price_delta"`
	PriceDeltaPct   float64 `json:"price_delta_pct"`
	VerdictCategory string  `json:"verdict_category,omitempty"`
	Percentile      float64 `json:"percentile_position"`
	SampleCount     int     `json:"sample_count"`
	SearchMethod    string  `json:"search_method,omitempty"`
}

// ScoreAdjustment is one line of the rule-based score breakdown.
type ScoreAdjustment struct {
	Factor string  `json:"factor"`
	Points float64 `json:"points"`
	Detail string  `json:"detail"`
}

// DealScore is the rule-based score.
type DealScore struct {
	Status
	Score      float64           `json:"score"`
	Verdict    string            `json:"verdict,omitempty"`
	Breakdown  []ScoreAdjustment `json:"scoring_breakdown,omitempty"`
	Confidence string            `json:"confidence,omitempty"`
}

// HasScore is the truth test used by the join barrier.
func (d *DealScore) HasScore() bool { return d != nil && (d.Score > 0 || d.Success) }

// LLMOpinion is the LLM-based score.
type LLMOpinion struct {
	Status
	Score     float64 `json:"score"`
	Verdict   string  `json:"verdict"`
	Reasoning string  `json:"reasoning"`
	Model     string  `json:"model,omitempty"`
}

// HasScore is the truth test used by the join barrier.
func (o *LLMOpinion) HasScore() bool { return o != nil && (o.Score > 0 || o.Success) }

// MarketAnalysis condenses the market sub-pipeline for downstream consumers.
type MarketAnalysis struct {
	Status
	MarketMedian  float64 `json:"market_median,omitempty"`
	PriceDelta    float64 `json:"price_delta,omitempty"`
	PriceDeltaPct float64 `json:"price_delta_pct,omitempty"`
	DealCategory  string  `json:"deal_category,omitempty"`
	RuleScore     float64 `json:"rule_score,omitempty"`
	RuleVerdict   string  `json:"rule_verdict,omitempty"`
	LLMScore      float64 `json:"llm_score,omitempty"`
	LLMVerdict    string  `json:"llm_verdict,omitempty"`
}

// ConditionFlags are derived from the raw car record.
type ConditionFlags struct {
	AccidentHistory string `json:"accident_history"`
	CleanTitle      bool   `json:"clean_title"`
}

// ConditionReport is written by the condition assessment worker.
type ConditionReport struct {
	Status
	Summary string         `json:"summary,omitempty"`
	Mileage int            `json:"mileage,omitempty"`
	Flags   ConditionFlags `json:"condition_flags"`
}

// ResidualAnalysis is written by the residual-value worker.
type ResidualAnalysis struct {
	Status
	PredictedPrice float64        `json:"predicted_price,omitempty"`
	FeaturesUsed   map[string]any `json:"features_used,omitempty"`
}

// NewsAnalysis is written by the news/policy worker.
type NewsAnalysis struct {
	Status
	Items []string `json:"items,omitempty"`
}

// Insight sources in AnalysisState.RAGInsights.
const (
	InsightEarly  = "early"
	InsightCarsXE = "carsxe"
	InsightVector = "vector"
)

// Insight is one retrieval or third-party sub-source.
type Insight struct {
	Status
	Brief            string          `json:"brief,omitempty"`
	SimilarCases     []KnowledgeItem `json:"similar_cases,omitempty"`
	Snippets         []KnowledgeItem `json:"snippets,omitempty"`
	RetrievedInfo    string          `json:"retrieved_info,omitempty"`
	EnhancedAnalysis string          `json:"enhanced_analysis,omitempty"`
	Confidence       float64         `json:"confidence,omitempty"`
	Raw              map[string]any  `json:"raw,omitempty"`
}

// Issue is one finding of the consistency cross-check.
type Issue struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Details  string `json:"details"`
	Action   string `json:"action"`
}

// ConsistencyReport is written by the cross-check worker.
type ConsistencyReport struct {
	Status
	Issues   []Issue `json:"issues"`
	Critique string  `json:"llm_critique,omitempty"`
}

// SummaryReport is written by the summary worker. Markdown is never empty.
type SummaryReport struct {
	Status
	Baseline string `json:"baseline_markdown"`
	Markdown string `json:"analysis_text"`
	Refined  bool   `json:"refined"`
}

// Persistence records the outcome of the write path.
type Persistence struct {
	Status
	CarID      int64 `json:"car_id,omitempty"`
	AnalysisID int64 `json:"analysis_id,omitempty"`
	Indexed    bool  `json:"indexed"`
}

// AnalysisStatus is the per-car status block.
type AnalysisStatus struct {
	Success           bool     `json:"success"`
	FailedPermanently bool     `json:"failed_permanently"`
	Errors            []string `json:"errors"`
	ErrorCount        int      `json:"error_count"`
}

// CarReport is the boundary artifact of one completed car.
type CarReport struct {
	RunID             string             `json:"run_id"`
	Car               Car                `json:"car"`
	PriceResearch     *PriceResearch     `json:"price_research,omitempty"`
	PriceComparison   *PriceComparison   `json:"price_comparison,omitempty"`
	DealScore         *DealScore         `json:"deal_score,omitempty"`
	LLMOpinion        *LLMOpinion        `json:"llm_opinion,omitempty"`
	MarketAnalysis    *MarketAnalysis    `json:"market_analysis,omitempty"`
	ConditionReport   *ConditionReport   `json:"condition_report,omitempty"`
	ResidualAnalysis  *ResidualAnalysis  `json:"residual_analysis,omitempty"`
	NewsAnalysis      *NewsAnalysis      `json:"news_analysis,omitempty"`
	RAGInsights       map[string]Insight `json:"rag_insights,omitempty"`
	ConsistencyReport *ConsistencyReport `json:"consistency_report,omitempty"`
	SummaryReport     *SummaryReport     `json:"summary_report,omitempty"`
	Persistence       *Persistence       `json:"persistence,omitempty"`
	Retries           map[string]int     `json:"retries,omitempty"`
	MarkdownReport    string             `json:"markdown_report"`
	Status            AnalysisStatus     `json:"analysis_status"`
	Error             string             `json:"error,omitempty"`
	Timestamp         time.Time          `json:"analysis_timestamp"`
}

// RuleScore returns the rule score when the scorer succeeded.
func (r CarReport) RuleScore() (float64, bool) {
	if r.DealScore == nil || !r.DealScore.Success {
		return 0, false
	}
	return r.DealScore.Score, true
}

// LLMScore returns the LLM score when one was produced.
func (r CarReport) LLMScore() (float64, bool) {
	if r.LLMOpinion == nil || r.LLMOpinion.Score <= 0 {
		return 0, false
	}
	return r.LLMOpinion.Score, true
}
