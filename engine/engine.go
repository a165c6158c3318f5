package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/dealmesh/aggregate"
	"github.com/hupe1980/dealmesh/artifact"
	"github.com/hupe1980/dealmesh/core"
	"github.com/hupe1980/dealmesh/logging"
	"github.com/hupe1980/dealmesh/metrics"
	"github.com/hupe1980/dealmesh/runner"
)

// ErrNoCars is returned by Analyze for an empty batch.
var ErrNoCars = errors.New("engine: no cars to analyze")

// DefaultConcurrency bounds the number of cars analysed at once.
const DefaultConcurrency = 4

// DefaultReportPrefix is the artifact key prefix of batch reports.
const DefaultReportPrefix = "reports/"

// Options configures an Engine.
type Options struct {
	// Concurrency limits parallel car runs. Values < 1 mean DefaultConcurrency.
	Concurrency int

	// Sessions records batch sessions. Optional.
	Sessions core.SessionRecorder

	// Artifacts receives the batch JSON and markdown. Defaults to an
	// in-memory store; set to nil explicitly via DisableArtifacts.
	Artifacts        core.ArtifactStore
	DisableArtifacts bool
	ReportPrefix     string

	Logger  logging.Logger
	Metrics *metrics.Metrics
	Clock   func() time.Time

	Callbacks *CallbackManager
}

// Result is the outcome of a batch.
type Result struct {
	Report aggregate.Report
	// Artifacts holds the locations returned by the artifact store.
	Artifacts []string
}

// Engine analyses batches of cars, one graph run per car.
type Engine struct {
	runner *runner.Runner
	opts   Options
}

// New creates an Engine on top of a car runner.
func New(r *runner.Runner, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Concurrency:  DefaultConcurrency,
		Artifacts:    artifact.NewInMemoryStore(),
		ReportPrefix: DefaultReportPrefix,
		Logger:       logging.NoOpLogger{},
		Clock:        time.Now,
		Callbacks:    NewCallbackManager(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Callbacks == nil {
		opts.Callbacks = NewCallbackManager()
	}
	if opts.DisableArtifacts {
		opts.Artifacts = nil
	}
	return &Engine{runner: r, opts: opts}
}

// Callbacks returns the manager used for lifecycle hooks.
func (e *Engine) Callbacks() *CallbackManager { return e.opts.Callbacks }

// Analyze runs every car through the pipeline and aggregates the reports in
// input order. A car whose run fails outright gets a failed report, so the
// batch only errors on cancellation, a BeforeCar callback error or an
// artifact write failure.
func (e *Engine) Analyze(ctx context.Context, cars []core.Car) (*Result, error) {
	if len(cars) == 0 {
		return nil, ErrNoCars
	}

	sessionID := core.NewID()
	log := e.opts.Logger
	if e.opts.Sessions != nil {
		if err := e.opts.Sessions.CreateSession(ctx, sessionID, len(cars)); err != nil {
			log.Warn("Failed to create analysis session", "session_id", sessionID, "error", err)
		}
	}
	log.Info("Batch started", "session_id", sessionID, "cars", len(cars), "concurrency", e.opts.Concurrency)

	reports := make([]core.CarReport, len(cars))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for i, car := range cars {
		g.Go(func() error {
			rep, err := e.analyzeOne(gctx, sessionID, i, car)
			if err != nil {
				return err
			}
			reports[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := aggregate.New(sessionID, reports, e.opts.Clock())
	summary := report.Summary

	if e.opts.Sessions != nil {
		if err := e.opts.Sessions.CompleteSession(ctx, sessionID, summary.SuccessfulAnalyses); err != nil {
			log.Warn("Failed to complete analysis session", "session_id", sessionID, "error", err)
		}
	}
	if err := e.opts.Callbacks.ExecuteCallbacks(ctx, CallbackAfterBatch, &CallbackContext{
		SessionID: sessionID,
		Summary:   &summary,
	}); err != nil {
		log.Warn("Callback failed", "error", err)
	}

	out := &Result{Report: report}
	if e.opts.Artifacts != nil {
		locations, err := e.writeArtifacts(ctx, report)
		if err != nil {
			return out, err
		}
		out.Artifacts = locations
	}

	log.Info("Batch finished",
		"session_id", sessionID,
		"successful", summary.SuccessfulAnalyses,
		"failed", summary.FailedAnalyses,
		"success_rate", summary.SuccessRate,
	)
	return out, nil
}

func (e *Engine) analyzeOne(ctx context.Context, sessionID string, index int, car core.Car) (core.CarReport, error) {
	cbCtx := &CallbackContext{SessionID: sessionID, Index: index, Car: car}
	if err := e.opts.Callbacks.ExecuteCallbacks(ctx, CallbackBeforeCar, cbCtx); err != nil {
		return core.CarReport{}, err
	}

	e.opts.Metrics.CarStarted()
	res, err := e.runner.Run(ctx, sessionID, car)
	var rep core.CarReport
	switch {
	case err != nil && ctx.Err() != nil:
		e.opts.Metrics.CarFinished(false)
		return core.CarReport{}, ctx.Err()
	case err != nil:
		rep = failedReport(car, err, e.opts.Clock())
		if res != nil && res.State != nil {
			rep.RunID = res.State.RunID
		}
		cbCtx.Err = err
		cbCtx.Report = &rep
		if cbErr := e.opts.Callbacks.ExecuteCallbacks(ctx, CallbackOnError, cbCtx); cbErr != nil {
			e.opts.Logger.Warn("Callback failed", "error", cbErr)
		}
	default:
		rep = res.Report
	}
	e.opts.Metrics.CarFinished(rep.Status.Success)

	cbCtx.Report = &rep
	if cbErr := e.opts.Callbacks.ExecuteCallbacks(ctx, CallbackAfterCar, cbCtx); cbErr != nil {
		e.opts.Logger.Warn("Callback failed", "error", cbErr)
	}
	return rep, nil
}

func failedReport(car core.Car, err error, now time.Time) core.CarReport {
	msg := core.FormatError(core.KindUnknown, err.Error())
	return core.CarReport{
		Car: car,
		Status: core.AnalysisStatus{
			FailedPermanently: true,
			Errors:            []string{msg},
			ErrorCount:        1,
		},
		Error:     msg,
		Timestamp: now.UTC(),
	}
}

// ReportKeys returns the artifact keys for a report generated at t.
func (e *Engine) ReportKeys(t time.Time) (jsonKey, mdKey string) {
	base := path.Join(e.opts.ReportPrefix, "dealmesh_"+t.UTC().Format("20060102_150405"))
	return base + ".json", base + ".md"
}

func (e *Engine) writeArtifacts(ctx context.Context, report aggregate.Report) ([]string, error) {
	jsonKey, mdKey := e.ReportKeys(report.GeneratedAt)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("engine: encode report: %w", err)
	}
	md, err := aggregate.Markdown(report)
	if err != nil {
		return nil, fmt.Errorf("engine: render report: %w", err)
	}

	var locations []string
	for _, a := range []struct {
		key, contentType string
		data             []byte
	}{
		{jsonKey, "application/json", data},
		{mdKey, "text/markdown", []byte(md)},
	} {
		loc, err := e.opts.Artifacts.Save(ctx, a.key, a.data, a.contentType)
		if err != nil {
			return locations, fmt.Errorf("engine: save %s: %w", a.key, err)
		}
		locations = append(locations, loc)
	}
	return locations, nil
}
