// Package engine runs batches of cars through the analysis pipeline.
//
// An Engine wraps a runner.Runner and adds what a batch needs:
//
//   - bounded concurrency over the cars (errgroup with a limit);
//   - an analysis session recorded through core.SessionRecorder;
//   - a synthesized failed report for any car whose run yields none;
//   - aggregation into an aggregate.Report, kept in input order;
//   - report artifacts written as reports/dealmesh_<UTC timestamp>.json
//     and .md through a core.ArtifactStore.
//
// # Callbacks
//
// Lifecycle hooks run synchronously at before_car, after_car, on_error and
// after_batch. Only a before_car error stops the batch; the others are
// logged.
//
//	eng := engine.New(r)
//	eng.Callbacks().RegisterCallback(engine.NewLoggingCallback(
//	    engine.CallbackAfterCar,
//	    func(msg string) { fmt.Fprintln(os.Stderr, msg) },
//	))
//	res, err := eng.Analyze(ctx, cars)
package engine
