package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCar() Car {
	return Car{Make: "Toyota", Model: "Camry", Year: 2020, Mileage: 35000, PricePaid: 22500}
}

func TestAnalysisState_ApplyLastWriteWinsSlots(t *testing.T) {
	s := NewAnalysisState("run-1", testCar())

	s.Apply(Patch{DealScore: &DealScore{Status: Ok().Status(), Score: 60}})
	s.Apply(Patch{DealScore: &DealScore{Status: Ok().Status(), Score: 90}})
	s.Apply(Patch{})

	require.NotNil(t, s.DealScore)
	assert.Equal(t, 90.0, s.DealScore.Score)
}

func TestAnalysisState_ApplyAppendsLists(t *testing.T) {
	s := NewAnalysisState("run-1", testCar())

	s.Apply(Patch{AnalysisErrors: []string{"A: one"}, DbgLogs: []string{"x"}})
	s.Apply(Patch{AnalysisErrors: []string{"B: two"}, DbgLogs: []string{"y"}})

	assert.Equal(t, []string{"A: one", "B: two"}, s.AnalysisErrors)
	assert.Equal(t, []string{"x", "y"}, s.DbgLogs)
}

func TestAnalysisState_RetriesNeverDecrease(t *testing.T) {
	s := NewAnalysisState("run-1", testCar())

	s.Apply(Patch{Retries: Counter(DomainPriceResearch, 2)})
	s.Apply(Patch{Retries: Counter(DomainPriceResearch, 1)})
	s.Apply(Patch{Retries: Counter(DomainLLMOpinion, 1)})

	assert.Equal(t, 2, s.Attempts(DomainPriceResearch))
	assert.Equal(t, 1, s.Attempts(DomainLLMOpinion))
	assert.Equal(t, 0, s.Attempts(DomainScoreDisagreement))
}

func TestAnalysisState_SetOnceFlags(t *testing.T) {
	s := NewAnalysisState("run-1", testCar())

	s.Apply(Patch{FailedPermanently: true, ResearchFinal: true})
	s.Apply(Patch{})

	assert.True(t, s.FailedPermanently)
	assert.True(t, s.ResearchFinal)
}

func TestAnalysisState_TransientFlagsOverwrite(t *testing.T) {
	s := NewAnalysisState("run-1", testCar())

	s.Apply(Patch{LLMRetry: Flag(true)})
	assert.True(t, s.LLMRetry)

	s.Apply(Patch{AwaitingScores: Flag(true)})
	assert.True(t, s.LLMRetry, "unwritten flags keep their value")

	s.Apply(Patch{LLMRetry: Flag(false)})
	assert.False(t, s.LLMRetry)
}

func TestAnalysisState_ResetBeforeWrite(t *testing.T) {
	s := NewAnalysisState("run-1", testCar())
	s.Apply(Patch{
		DealScore:  &DealScore{Score: 80},
		LLMOpinion: &LLMOpinion{Score: 40},
	})

	s.Apply(Patch{Reset: []Slot{SlotDealScore, SlotLLMOpinion}, LLMOpinion: &LLMOpinion{Score: 70}})

	assert.Nil(t, s.DealScore)
	require.NotNil(t, s.LLMOpinion)
	assert.Equal(t, 70.0, s.LLMOpinion.Score)
}

func TestAnalysisState_InsightsMergeByKey(t *testing.T) {
	s := NewAnalysisState("run-1", testCar())

	s.Apply(Patch{RAGInsights: Insights(InsightCarsXE, Insight{Status: Err(KindDisabled, "CarsXE API disabled").Status()})})
	s.Apply(Patch{RAGInsights: Insights(InsightEarly, Insight{Status: Ok().Status(), Brief: "b"})})

	carsxe, ok := s.Insight(InsightCarsXE)
	require.True(t, ok)
	assert.False(t, carsxe.Success)

	early, ok := s.Insight(InsightEarly)
	require.True(t, ok)
	assert.Equal(t, "b", early.Brief)
}

func TestAnalysisState_CloneIsolation(t *testing.T) {
	s := NewAnalysisState("run-1", testCar())
	s.Apply(Patch{Retries: Counter(DomainPriceResearch, 1), AnalysisErrors: []string{"A: x"}})

	c := s.Clone()
	c.Apply(Patch{Retries: Counter(DomainPriceResearch, 3), AnalysisErrors: []string{"B: y"}})

	assert.Equal(t, 1, s.Attempts(DomainPriceResearch))
	assert.Len(t, s.AnalysisErrors, 1)
	assert.Equal(t, 3, c.Attempts(DomainPriceResearch))
	assert.Len(t, c.AnalysisErrors, 2)
}

func TestPatch_MergeEqualsSequentialApply(t *testing.T) {
	p1 := Patch{
		DealScore:      &DealScore{Score: 50},
		Retries:        Counter(DomainDealScoring, 1),
		AnalysisErrors: []string{"A: first"},
		LLMRetry:       Flag(true),
	}
	p2 := Patch{
		Reset:          []Slot{SlotDealScore},
		Retries:        Counter(DomainDealScoring, 2),
		AnalysisErrors: []string{"B: second"},
		LLMRetry:       Flag(false),
		ScoringFinal:   true,
	}

	sequential := NewAnalysisState("run-1", testCar())
	sequential.Apply(p1)
	sequential.Apply(p2)

	merged := NewAnalysisState("run-1", testCar())
	merged.Apply(p1.Merge(p2))

	assert.Equal(t, sequential.DealScore, merged.DealScore)
	assert.Equal(t, sequential.Retries, merged.Retries)
	assert.Equal(t, sequential.AnalysisErrors, merged.AnalysisErrors)
	assert.Equal(t, sequential.LLMRetry, merged.LLMRetry)
	assert.Equal(t, sequential.ScoringFinal, merged.ScoringFinal)
}

func TestPatch_MergeDoesNotAliasInputs(t *testing.T) {
	p1 := Patch{AnalysisErrors: []string{"A: x"}, Retries: Counter(DomainPriceResearch, 1)}
	_ = p1.Merge(Patch{AnalysisErrors: []string{"B: y"}, Retries: Counter(DomainPriceResearch, 2)})

	assert.Equal(t, []string{"A: x"}, p1.AnalysisErrors)
	assert.Equal(t, 1, p1.Retries[DomainPriceResearch])
}

func TestAnalysisState_ScoreRound(t *testing.T) {
	s := NewAnalysisState("run-1", testCar())
	assert.Equal(t, 1, s.ScoreRound())

	s.Apply(Patch{Retries: map[string]int{DomainLLMOpinion: 2, DomainScoreDisagreement: 1}})
	assert.Equal(t, 4, s.ScoreRound())
}

func TestMergeStrategies_CoverAllAccumulatingFields(t *testing.T) {
	for _, field := range []string{"analysis_errors", "dbg_logs", "agent_logs", "car_reports"} {
		assert.Equal(t, AppendOnly, MergeStrategies[field], field)
	}
	assert.Equal(t, SetOnce, MergeStrategies["failed_permanently"])
	assert.Equal(t, MaxByKey, MergeStrategies["retries"])
}

func TestHasScore(t *testing.T) {
	var nilScore *DealScore
	assert.False(t, nilScore.HasScore())
	assert.False(t, (&DealScore{Status: Err(KindDependency, "no data").Status()}).HasScore())
	assert.True(t, (&DealScore{Score: 42}).HasScore())
	assert.True(t, (&LLMOpinion{Status: Ok().Status()}).HasScore())
	assert.False(t, (&LLMOpinion{Verdict: "Unknown"}).HasScore())
}

func TestPriceResearch_Usable(t *testing.T) {
	var missing *PriceResearch
	assert.False(t, missing.Usable())
	assert.False(t, (&PriceResearch{Status: Err(KindNoData, "no prices").Status()}).Usable())
	assert.False(t, (&PriceResearch{Status: Ok().Status(), SampleCount: MinResearchSamples - 1}).Usable())
	assert.True(t, (&PriceResearch{Status: Ok().Status(), SampleCount: MinResearchSamples}).Usable())
}
