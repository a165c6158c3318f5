package dealmesh

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/dealmesh/artifact"
	"github.com/hupe1980/dealmesh/config"
	"github.com/hupe1980/dealmesh/core"
	"github.com/hupe1980/dealmesh/engine"
	"github.com/hupe1980/dealmesh/internal/testutil"
	"github.com/hupe1980/dealmesh/logging"
	"github.com/hupe1980/dealmesh/model"
	"github.com/hupe1980/dealmesh/session"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.LLM.Provider = "none"
	cfg.Artifact.Backend = "memory"
	cfg.Pipeline.Research.Backoff = 0
	cfg.Pipeline.Comparison.Backoff = 0
	cfg.Pipeline.Scoring.Backoff = 0
	cfg.Pipeline.Join.Backoff = 0
	cfg.Pipeline.Critique = false
	cfg.Pipeline.Refine = false
	cfg.Pipeline.Enhance = false
	return cfg
}

func newTestMesh(t *testing.T, m model.Model, searcher core.Searcher, artifacts core.ArtifactStore, callbacks ...engine.Callback) *DealMesh {
	t.Helper()
	d, err := New(context.Background(), testConfig(t), func(o *Options) {
		o.Logger = logging.NoOpLogger{}
		o.Registerer = prometheus.NewRegistry()
		o.Model = m
		o.Searcher = searcher
		o.Artifacts = artifacts
		o.Callbacks = callbacks
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestAnalyze(t *testing.T) {
	searcher := testutil.NewSearcher(testutil.Listings(testutil.Camry(), 22400, 23000, 23800, 24400, 25200)...)
	m := model.NewMockModel("mock", "mock").
		AddResponse("professional car market analyst", `{"score": 85, "verdict": "Good", "reasoning": "Below median"}`)
	artifacts := artifact.NewInMemoryStore()
	var seen []string
	cb := engine.NewLoggingCallback(engine.CallbackAfterCar, func(msg string) { seen = append(seen, msg) })

	d := newTestMesh(t, m, searcher, artifacts, cb)
	res, err := d.Analyze(context.Background(), []core.Car{testutil.Camry()})

	require.NoError(t, err)
	require.Len(t, res.Report.CarReports, 1)
	assert.Equal(t, 1, res.Report.Summary.TotalCars)
	assert.NotEmpty(t, searcher.Queries())
	assert.Len(t, res.Artifacts, 2)
	require.Len(t, seen, 1)
	assert.Contains(t, seen[0], "2020 Toyota Camry")

	keys, err := artifacts.List(context.Background(), "reports/")
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	sess, err := d.Session(res.Report.SessionID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, sess.Status)
	assert.Equal(t, 1, sess.CarCount)
}

func TestAnalyzeText(t *testing.T) {
	searcher := testutil.NewSearcher()
	m := model.NewMockModel("mock", "mock").
		AddResponse("precise data extractor", `[{"make": "Toyota", "model": "Camry", "year": 2020, "mileage": 35000, "price_paid": 22500}]`)

	res, err := newTestMesh(t, m, searcher, nil).AnalyzeText(context.Background(), "2020 Toyota Camry, 35k miles, paid $22,500")

	require.NoError(t, err)
	require.Len(t, res.Report.CarReports, 1)
	rep := res.Report.CarReports[0]
	assert.Equal(t, "Camry", rep.Car.Model)
	assert.False(t, rep.Status.Success)
	assert.Equal(t, "TAVILY_SEARCH_FAILED", core.ErrorKind(rep.Error))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Search.Provider = "bing"

	_, err := New(context.Background(), cfg)

	require.ErrorIs(t, err, config.ErrInvalid)
}

func TestNew_NoModel(t *testing.T) {
	d := newTestMesh(t, nil, testutil.NewSearcher(), nil)

	_, err := d.Extract(context.Background(), "2020 Toyota Camry")

	require.Error(t, err)
}
