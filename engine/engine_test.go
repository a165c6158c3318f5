package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/dealmesh/aggregate"
	"github.com/hupe1980/dealmesh/artifact"
	"github.com/hupe1980/dealmesh/core"
	"github.com/hupe1980/dealmesh/graph"
	"github.com/hupe1980/dealmesh/internal/testutil"
	"github.com/hupe1980/dealmesh/runner"
)

var fixedNow = time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)

// reportNode succeeds for every car except make "Broken", which yields no
// report at all, and make "Lemon", which reports a failure.
func reportNode(_ context.Context, s *core.AnalysisState) core.Patch {
	switch s.Car.Make {
	case "Broken":
		return core.Patch{}
	case "Lemon":
		msg := core.FormatError("TAVILY_SEARCH_FAILED", "no prices")
		return core.Patch{CarReports: []core.CarReport{{
			RunID:  s.RunID,
			Car:    s.Car,
			Status: core.AnalysisStatus{FailedPermanently: true, Errors: []string{msg}, ErrorCount: 1},
			Error:  msg,
		}}}
	}
	return core.Patch{CarReports: []core.CarReport{{
		RunID:     s.RunID,
		Car:       s.Car,
		DealScore: &core.DealScore{Status: core.Status{Success: true}, Score: 80, Verdict: "Good Deal ⭐⭐"},
		Status:    core.AnalysisStatus{Success: true, Errors: []string{}},
	}}}
}

func newRunner(t *testing.T) *runner.Runner {
	t.Helper()
	g, err := graph.New().AddNode("report", reportNode).SetEntry("report").Compile()
	require.NoError(t, err)
	return runner.New(g)
}

func car(mk string) core.Car {
	c := testutil.Camry()
	c.Make = mk
	return c
}

func TestAnalyze(t *testing.T) {
	store := testutil.NewStore()
	artifacts := artifact.NewInMemoryStore()
	e := New(newRunner(t), func(o *Options) {
		o.Concurrency = 2
		o.Sessions = store
		o.Artifacts = artifacts
		o.Clock = func() time.Time { return fixedNow }
	})

	res, err := e.Analyze(context.Background(), []core.Car{car("Toyota"), car("Lemon"), car("Broken"), car("Honda")})

	require.NoError(t, err)
	r := res.Report
	require.Len(t, r.CarReports, 4)
	for i, want := range []string{"Toyota", "Lemon", "Broken", "Honda"} {
		assert.Equal(t, want, r.CarReports[i].Car.Make, "reports keep input order")
	}
	assert.Equal(t, 2, r.Summary.SuccessfulAnalyses)
	assert.Equal(t, 50.0, r.Summary.SuccessRate)
	assert.Equal(t, map[string]int{"TAVILY_SEARCH_FAILED": 1, core.KindUnknown: 1}, r.Summary.ErrorAnalysis.ErrorTypes)

	broken := r.CarReports[2]
	assert.True(t, broken.Status.FailedPermanently)
	assert.Contains(t, broken.Error, "UNKNOWN_ERROR: ")
	assert.Contains(t, broken.Error, runner.ErrNoReport.Error())

	cars, successful, completed := store.Session(r.SessionID)
	assert.Equal(t, 4, cars)
	assert.Equal(t, 2, successful)
	assert.True(t, completed)

	assert.Equal(t, []string{
		"mem://reports/dealmesh_20240301_123045.json",
		"mem://reports/dealmesh_20240301_123045.md",
	}, res.Artifacts)

	data, err := artifacts.Get(context.Background(), "reports/dealmesh_20240301_123045.json")
	require.NoError(t, err)
	var decoded aggregate.Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, r.SessionID, decoded.SessionID)
	assert.Equal(t, 4, decoded.Summary.TotalCars)

	md, err := artifacts.Get(context.Background(), "reports/dealmesh_20240301_123045.md")
	require.NoError(t, err)
	assert.Contains(t, string(md), "# Car Deal Analysis Report")
}

func TestAnalyze_NoCars(t *testing.T) {
	_, err := New(newRunner(t)).Analyze(context.Background(), nil)

	require.ErrorIs(t, err, ErrNoCars)
}

func TestAnalyze_DisableArtifacts(t *testing.T) {
	e := New(newRunner(t), func(o *Options) { o.DisableArtifacts = true })

	res, err := e.Analyze(context.Background(), []core.Car{car("Toyota")})

	require.NoError(t, err)
	assert.Empty(t, res.Artifacts)
}

func TestAnalyze_Callbacks(t *testing.T) {
	var (
		mu     sync.Mutex
		events []string
	)
	record := func(_ context.Context, c *CallbackContext) error {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, string(c.CallbackType)+":"+c.Car.Make)
		return nil
	}
	e := New(newRunner(t), func(o *Options) { o.Concurrency = 1 })
	for _, typ := range []CallbackType{CallbackBeforeCar, CallbackAfterCar, CallbackOnError, CallbackAfterBatch} {
		e.Callbacks().RegisterCallback(NewFunctionCallback(typ, record))
	}

	_, err := e.Analyze(context.Background(), []core.Car{car("Toyota"), car("Broken")})

	require.NoError(t, err)
	assert.Equal(t, []string{
		"before_car:Toyota", "after_car:Toyota",
		"before_car:Broken", "on_error:Broken", "after_car:Broken",
		"after_batch:",
	}, events)
}

func TestAnalyze_BeforeCarErrorStopsBatch(t *testing.T) {
	e := New(newRunner(t))
	e.Callbacks().RegisterCallback(NewFunctionCallback(CallbackBeforeCar, func(context.Context, *CallbackContext) error {
		return errors.New("quota exceeded")
	}))

	_, err := e.Analyze(context.Background(), []core.Car{car("Toyota")})

	require.EqualError(t, err, "before_car callback: quota exceeded")
}

func TestAnalyze_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(newRunner(t)).Analyze(ctx, []core.Car{car("Toyota")})

	require.ErrorIs(t, err, context.Canceled)
}

func TestLoggingCallback(t *testing.T) {
	var lines []string
	cb := NewLoggingCallback(CallbackAfterCar, func(msg string) { lines = append(lines, msg) })

	rep := reportNode(context.Background(), core.NewAnalysisState("r", car("Lemon"))).CarReports[0]
	require.NoError(t, cb.Execute(context.Background(), &CallbackContext{
		Index:        1,
		Car:          rep.Car,
		Report:       &rep,
		CallbackType: CallbackAfterCar,
	}))
	require.NoError(t, cb.Execute(context.Background(), &CallbackContext{
		Summary: &aggregate.Summary{TotalCars: 3, SuccessfulAnalyses: 2},
	}))

	assert.Equal(t, []string{
		"[after_car] #2 2020 Lemon Camry: failed TAVILY_SEARCH_FAILED: no prices",
		"[after_car] 2/3 successful",
	}, lines)
}
