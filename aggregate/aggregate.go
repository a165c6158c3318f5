// Package aggregate folds finalized per-car reports into the batch summary.
// It is pure: no I/O, no retries.
package aggregate

import (
	"math"
	"time"

	"github.com/hupe1980/dealmesh/core"
)

// Agreement bands on the absolute rule/LLM score difference.
const (
	CloseBand = 10
	AgreeBand = 20
)

// ScoringComparison compares the two scorers over successful analyses.
type ScoringComparison struct {
	AverageRuleScore float64 `json:"average_rule_score"`
	AverageLLMScore  float64 `json:"average_llm_score"`
	AgreementRate    float64 `json:"agreement_rate"`
	// Agreements are within AgreeBand points, Disagreements beyond it.
	Agreements    int `json:"agreements"`
	Disagreements int `json:"disagreements"`
	Close         int `json:"close"`
	Minor         int `json:"minor"`
	Major         int `json:"major"`
}

// ErrorAnalysis tallies the errors of failed analyses by kind.
type ErrorAnalysis struct {
	TotalErrors    int            `json:"total_errors"`
	ErrorTypes     map[string]int `json:"error_types"`
	DetailedErrors []string       `json:"detailed_errors"`
}

// Summary is the batch-level view.
type Summary struct {
	TotalCars          int     `json:"total_cars_analyzed"`
	SuccessfulAnalyses int     `json:"successful_analyses"`
	FailedAnalyses     int     `json:"failed_analyses"`
	SuccessRate        float64 `json:"success_rate"`

	// AverageDealScore and DealCategories mirror the rule-based figures for
	// older consumers.
	AverageDealScore float64        `json:"average_deal_score"`
	DealCategories   map[string]int `json:"deal_categories"`

	AverageRuleScore  float64           `json:"average_rule_score"`
	AverageLLMScore   float64           `json:"average_llm_score"`
	ScoringComparison ScoringComparison `json:"scoring_comparison"`

	RuleCategories map[string]int `json:"rule_based_categories"`
	LLMCategories  map[string]int `json:"llm_opinion_categories"`

	ErrorAnalysis ErrorAnalysis `json:"error_analysis"`
}

// Report is the boundary artifact of a batch.
type Report struct {
	SessionID   string           `json:"session_id,omitempty"`
	Summary     Summary          `json:"summary"`
	CarReports  []core.CarReport `json:"car_reports"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// Summarize folds reports into a Summary. Averages and verdict tables only
// consider successful analyses; errors only come from failed ones.
func Summarize(reports []core.CarReport) Summary {
	s := Summary{
		TotalCars:      len(reports),
		RuleCategories: map[string]int{},
		LLMCategories:  map[string]int{},
		ErrorAnalysis: ErrorAnalysis{
			ErrorTypes:     map[string]int{},
			DetailedErrors: []string{},
		},
	}

	var ruleScores, llmScores []float64
	for _, r := range reports {
		if !r.Status.Success {
			for _, e := range r.Status.Errors {
				s.ErrorAnalysis.DetailedErrors = append(s.ErrorAnalysis.DetailedErrors, e)
				s.ErrorAnalysis.ErrorTypes[core.ErrorKind(e)]++
			}
			continue
		}

		s.SuccessfulAnalyses++
		s.RuleCategories[ruleVerdict(r)]++
		s.LLMCategories[llmVerdict(r)]++

		rule, hasRule := r.RuleScore()
		llm, hasLLM := r.LLMScore()
		if hasRule {
			ruleScores = append(ruleScores, rule)
		}
		if hasLLM {
			llmScores = append(llmScores, llm)
		}
		if hasRule && hasLLM {
			s.ScoringComparison.add(math.Abs(rule - llm))
		}
	}

	s.FailedAnalyses = s.TotalCars - s.SuccessfulAnalyses
	if s.TotalCars > 0 {
		s.SuccessRate = round1(float64(s.SuccessfulAnalyses) / float64(s.TotalCars) * 100)
	}
	s.AverageRuleScore = round1(mean(ruleScores))
	s.AverageLLMScore = round1(mean(llmScores))
	s.AverageDealScore = s.AverageRuleScore
	s.DealCategories = s.RuleCategories

	sc := &s.ScoringComparison
	sc.AverageRuleScore = s.AverageRuleScore
	sc.AverageLLMScore = s.AverageLLMScore
	if n := sc.Agreements + sc.Disagreements; n > 0 {
		sc.AgreementRate = round1(float64(sc.Agreements) / float64(n) * 100)
	}

	s.ErrorAnalysis.TotalErrors = len(s.ErrorAnalysis.DetailedErrors)
	return s
}

// New builds the batch report.
func New(sessionID string, reports []core.CarReport, now time.Time) Report {
	if reports == nil {
		reports = []core.CarReport{}
	}
	return Report{
		SessionID:   sessionID,
		Summary:     Summarize(reports),
		CarReports:  reports,
		GeneratedAt: now.UTC(),
	}
}

func (sc *ScoringComparison) add(diff float64) {
	switch {
	case diff <= CloseBand:
		sc.Close++
	case diff <= AgreeBand:
		sc.Minor++
	default:
		sc.Major++
	}
	if diff <= AgreeBand {
		sc.Agreements++
	} else {
		sc.Disagreements++
	}
}

func ruleVerdict(r core.CarReport) string {
	if r.DealScore == nil || r.DealScore.Verdict == "" {
		return "Unknown"
	}
	return r.DealScore.Verdict
}

func llmVerdict(r core.CarReport) string {
	if r.LLMOpinion == nil || r.LLMOpinion.Verdict == "" {
		return "Unknown"
	}
	return r.LLMOpinion.Verdict
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
