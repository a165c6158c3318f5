package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/dealmesh/core"
	"github.com/hupe1980/dealmesh/internal/testutil"
)

func okReport(rule, llm float64) core.CarReport {
	st := testutil.NewStateBuilder(testutil.Camry()).DealScore(rule).LLMScore(llm).Build()
	return core.CarReport{
		Car:        st.Car,
		DealScore:  st.DealScore,
		LLMOpinion: st.LLMOpinion,
		Status:     core.AnalysisStatus{Success: true, Errors: []string{}},
	}
}

func failedReport(errs ...string) core.CarReport {
	return core.CarReport{
		Car:    core.Car{Make: "Honda", Model: "Civic", Year: 2018},
		Status: core.AnalysisStatus{FailedPermanently: true, Errors: errs, ErrorCount: len(errs)},
		Error:  errs[len(errs)-1],
	}
}

func TestSummarize(t *testing.T) {
	reports := []core.CarReport{
		okReport(90, 85),
		okReport(60, 90),
		failedReport("TAVILY_SEARCH_FAILED: Unable to fetch market data after 3 attempts. no prices"),
	}

	s := Summarize(reports)

	assert.Equal(t, 3, s.TotalCars)
	assert.Equal(t, 2, s.SuccessfulAnalyses)
	assert.Equal(t, 1, s.FailedAnalyses)
	assert.Equal(t, 66.7, s.SuccessRate)
	assert.Equal(t, 75.0, s.AverageRuleScore)
	assert.Equal(t, 87.5, s.AverageLLMScore)
	assert.Equal(t, 75.0, s.AverageDealScore)

	assert.Equal(t, map[string]int{"Exceptional Deal ⭐⭐⭐": 1, "Fair Deal ⭐": 1}, s.RuleCategories)
	assert.Equal(t, s.RuleCategories, s.DealCategories)
	assert.Equal(t, map[string]int{"Good": 1, "Exceptional": 1}, s.LLMCategories)

	sc := s.ScoringComparison
	assert.Equal(t, 1, sc.Agreements)
	assert.Equal(t, 1, sc.Disagreements)
	assert.Equal(t, 1, sc.Close)
	assert.Equal(t, 1, sc.Major)
	assert.Equal(t, 50.0, sc.AgreementRate)

	assert.Equal(t, 1, s.ErrorAnalysis.TotalErrors)
	assert.Equal(t, map[string]int{"TAVILY_SEARCH_FAILED": 1}, s.ErrorAnalysis.ErrorTypes)
}

func TestSummarize_Bands(t *testing.T) {
	s := Summarize([]core.CarReport{okReport(80, 70), okReport(80, 65), okReport(80, 59)})

	assert.Equal(t, 1, s.ScoringComparison.Close)
	assert.Equal(t, 1, s.ScoringComparison.Minor)
	assert.Equal(t, 1, s.ScoringComparison.Major)
	assert.Equal(t, 2, s.ScoringComparison.Agreements)
	assert.Equal(t, 66.7, s.ScoringComparison.AgreementRate)
}

func TestSummarize_ErrorKinds(t *testing.T) {
	s := Summarize([]core.CarReport{
		failedReport("TAVILY_SEARCH_FAILED: a", "DISAGREEMENT_PERSISTENT: b"),
		failedReport("no colon here"),
		failedReport(" "),
	})

	assert.Equal(t, 4, s.ErrorAnalysis.TotalErrors)
	assert.Equal(t, map[string]int{
		"TAVILY_SEARCH_FAILED":    1,
		"DISAGREEMENT_PERSISTENT": 1,
		"no colon here":           1,
		core.KindUnknown:          1,
	}, s.ErrorAnalysis.ErrorTypes)
	assert.Zero(t, s.SuccessRate)
	assert.Zero(t, s.AverageRuleScore)
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)

	assert.Zero(t, s.TotalCars)
	assert.Zero(t, s.SuccessRate)
	assert.NotNil(t, s.ErrorAnalysis.DetailedErrors)
}

func TestMarkdown(t *testing.T) {
	failed := failedReport("TAVILY_SEARCH_FAILED: no prices")
	ok := okReport(90, 85)
	ok.MarkdownReport = "# 2020 Toyota Camry\nper-car body"
	r := New("s-1", []core.CarReport{ok, failed}, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))

	md, err := Markdown(r)

	require.NoError(t, err)
	assert.Contains(t, md, "Generated: 2024-01-02 03:04:05 UTC")
	assert.Contains(t, md, "- Success rate: 50.0%")
	assert.Contains(t, md, "- Agreement rate: 100.0% (1 close, 0 minor, 0 major)")
	assert.Contains(t, md, "## Rule-based verdicts\n- Exceptional Deal ⭐⭐⭐: 1")
	assert.Contains(t, md, "## Errors\n- TAVILY_SEARCH_FAILED: 1")
	assert.Contains(t, md, "- 2020 Toyota Camry: ok, rule 90, LLM 85")
	assert.Contains(t, md, "- 2018 Honda Civic: failed (TAVILY_SEARCH_FAILED)")
	assert.Contains(t, md, "---\n\n# 2020 Toyota Camry\nper-car body")
}
