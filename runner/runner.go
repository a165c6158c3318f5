package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/dealmesh/core"
	"github.com/hupe1980/dealmesh/graph"
	"github.com/hupe1980/dealmesh/logging"
)

// ErrNoReport is returned when a run finished without producing a report and
// no fallback was configured.
var ErrNoReport = errors.New("runner: run produced no report")

// Options holds dependency + configuration overrides passed to New().
type Options struct {
	// Fallback builds the report when the graph aborts before its report
	// node (step limit, node panic).
	Fallback graph.NodeFunc
	// Logger receives run summaries. A *logging.PipelineLogger additionally
	// gets run-scoped context.
	Logger logging.Logger
	Tracer trace.Tracer
}

// Result is the outcome of one car's run.
type Result struct {
	State    *core.AnalysisState
	Report   core.CarReport
	Steps    int
	Duration time.Duration
}

// Runner drives single cars through a compiled analysis graph. Public
// methods are safe for concurrent use.
type Runner struct {
	graph *graph.Compiled
	opts  Options

	activeRuns map[string]context.CancelFunc
	mu         sync.Mutex
}

// New constructs a Runner with optional overrides.
func New(g *graph.Compiled, optFns ...func(o *Options)) *Runner {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/hupe1980/dealmesh/runner")
	}
	return &Runner{
		graph:      g,
		opts:       opts,
		activeRuns: make(map[string]context.CancelFunc),
	}
}

// Run analyses one car. Worker failures never surface as errors: they end up
// in the report. An error is returned only when ctx is done or no report
// could be produced.
func (r *Runner) Run(ctx context.Context, sessionID string, car core.Car) (*Result, error) {
	runID := core.NewID()
	state := core.NewAnalysisState(runID, car)
	state.SessionID = sessionID

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.mu.Lock()
	r.activeRuns[runID] = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.activeRuns, runID)
		r.mu.Unlock()
	}()

	ctx, span := r.opts.Tracer.Start(ctx, "car.analyze", trace.WithAttributes(
		attribute.String("dealmesh.run_id", runID),
		attribute.String("dealmesh.car", car.Title()),
	))
	defer span.End()

	start := time.Now()
	res, err := r.graph.Run(ctx, state)
	out := &Result{State: state, Duration: time.Since(start)}
	if res != nil {
		out.Steps = res.Steps
	}

	if err != nil {
		span.RecordError(err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			span.SetStatus(codes.Error, "cancelled")
			return out, ctxErr
		}
		r.opts.Logger.Error("Graph aborted", "run_id", runID, "error", err)
		if len(state.CarReports) == 0 && r.opts.Fallback != nil {
			state.Apply(core.Patch{
				AnalysisErrors:    []string{core.FormatError(core.KindUnknown, err.Error())},
				FailedPermanently: true,
			})
			state.Apply(r.opts.Fallback(ctx, state.Clone()))
		}
	}

	if len(state.CarReports) == 0 {
		span.SetStatus(codes.Error, ErrNoReport.Error())
		return out, fmt.Errorf("%w: %s", ErrNoReport, car.Title())
	}
	out.Report = state.CarReports[len(state.CarReports)-1]

	success := out.Report.Status.Success
	span.SetAttributes(
		attribute.Bool("dealmesh.success", success),
		attribute.Int("dealmesh.steps", out.Steps),
	)
	if !success {
		span.SetStatus(codes.Error, out.Report.Error)
	}
	r.logRun(sessionID, runID, car, out)
	return out, nil
}

// Cancel cancels a running car analysis by run ID.
func (r *Runner) Cancel(runID string) error {
	r.mu.Lock()
	cancel, exists := r.activeRuns[runID]
	r.mu.Unlock()

	if !exists {
		return fmt.Errorf("run %s not found", runID)
	}

	cancel()

	return nil
}

// Active returns the IDs of the runs in flight.
func (r *Runner) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.activeRuns))
	for id := range r.activeRuns {
		ids = append(ids, id)
	}
	return ids
}

func (r *Runner) logRun(sessionID, runID string, car core.Car, out *Result) {
	status := out.Report.Status
	if pl, ok := r.opts.Logger.(*logging.PipelineLogger); ok {
		pl.WithRun(sessionID, runID).LogRun(car.Title(), out.Steps, out.Duration, status.Success, status.ErrorCount)
		return
	}
	r.opts.Logger.Info("Car analysis finished",
		"run_id", runID,
		"car", car.Title(),
		"steps", out.Steps,
		"duration", out.Duration,
		"success", status.Success,
		"errors", status.ErrorCount,
	)
}
