// Package graph implements the superstep executor that drives one car through
// the analysis pipeline.
//
// A graph is a set of named nodes joined by static edges and conditional
// edges. Execution proceeds in supersteps: every active node runs
// concurrently on its own snapshot of the state, the returned patches are
// applied in node-name order, and the union of static targets and chosen
// conditional targets becomes the next active set. Duplicate activations in
// one step collapse into one. The run ends when no node is active.
package graph

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/dealmesh/core"
	"github.com/hupe1980/dealmesh/logging"
	"github.com/hupe1980/dealmesh/metrics"
)

// END is the terminal pseudo node. Routing to it deactivates the path.
const END = "__end__"

// Route labels. Every conditional edge needs a stay-type label and an
// advance label.
const (
	LabelAdvance  = "advance"
	LabelRetry    = "retry"
	LabelWait     = "wait"
	LabelRefresh  = "refresh"
	LabelAbsorb   = "absorb"
	LabelRetryLLM = "retry_llm"
)

// DefaultMaxSteps bounds a run.
const DefaultMaxSteps = 500

var stayLabels = []string{LabelRetry, LabelWait, LabelRefresh}

var (
	// ErrStepLimit is returned when a run exceeds MaxSteps.
	ErrStepLimit = errors.New("graph: step limit exceeded")
	// ErrUnknownNode is returned when an edge names a node that was never added.
	ErrUnknownNode = errors.New("graph: unknown node")
	// ErrInvalidGraph is returned by Compile for structurally broken graphs.
	ErrInvalidGraph = errors.New("graph: invalid graph")
)

// NodeFunc reads a snapshot and returns a patch. It must not mutate the
// snapshot.
type NodeFunc func(ctx context.Context, s *core.AnalysisState) core.Patch

// Branch is one row of a conditional edge table. The first row whose When
// holds wins; a nil When is the default row.
type Branch struct {
	Label string
	When  func(s *core.AnalysisState) bool
	To    []string
}

// Graph collects nodes and edges before compilation. It is not safe for
// concurrent mutation.
type Graph struct {
	entry    string
	nodes    map[string]NodeFunc
	edges    map[string][]string
	branches map[string][]Branch
	errs     []error
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes:    map[string]NodeFunc{},
		edges:    map[string][]string{},
		branches: map[string][]Branch{},
	}
}

// AddNode registers a node (chainable).
func (g *Graph) AddNode(name string, fn NodeFunc) *Graph {
	switch {
	case name == "" || name == END:
		g.errs = append(g.errs, fmt.Errorf("%w: reserved node name %q", ErrInvalidGraph, name))
	case fn == nil:
		g.errs = append(g.errs, fmt.Errorf("%w: node %s has no function", ErrInvalidGraph, name))
	case g.nodes[name] != nil:
		g.errs = append(g.errs, fmt.Errorf("%w: duplicate node %s", ErrInvalidGraph, name))
	default:
		g.nodes[name] = fn
	}
	return g
}

// SetEntry sets the node activated by the first superstep (chainable).
func (g *Graph) SetEntry(name string) *Graph {
	g.entry = name
	return g
}

// AddEdge adds static edges from one node to each target (chainable).
func (g *Graph) AddEdge(from string, to ...string) *Graph {
	g.edges[from] = append(g.edges[from], to...)
	return g
}

// AddConditionalEdge sets the branch table of a node (chainable).
func (g *Graph) AddConditionalEdge(from string, branches ...Branch) *Graph {
	if _, exists := g.branches[from]; exists {
		g.errs = append(g.errs, fmt.Errorf("%w: node %s already has a conditional edge", ErrInvalidGraph, from))
		return g
	}
	g.branches[from] = branches
	return g
}

// Options configures a compiled graph.
type Options struct {
	MaxSteps int
	Logger   logging.Logger
	Metrics  *metrics.Metrics
	Tracer   trace.Tracer
}

// Compiled is an immutable, validated graph. It is safe for concurrent use;
// every Run owns its state.
type Compiled struct {
	entry    string
	nodes    map[string]NodeFunc
	edges    map[string][]string
	branches map[string][]Branch
	opts     Options
}

// Compile validates the graph and freezes it.
func (g *Graph) Compile(optFns ...func(o *Options)) (*Compiled, error) {
	opts := Options{MaxSteps: DefaultMaxSteps, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/hupe1980/dealmesh/graph")
	}

	errs := slices.Clone(g.errs)
	if g.nodes[g.entry] == nil {
		errs = append(errs, fmt.Errorf("%w: entry %q", ErrUnknownNode, g.entry))
	}
	known := func(name string) bool { return name == END || g.nodes[name] != nil }
	for from, targets := range g.edges {
		if g.nodes[from] == nil {
			errs = append(errs, fmt.Errorf("%w: edge source %q", ErrUnknownNode, from))
		}
		for _, to := range targets {
			if !known(to) {
				errs = append(errs, fmt.Errorf("%w: edge %s -> %q", ErrUnknownNode, from, to))
			}
		}
	}
	for from, table := range g.branches {
		if g.nodes[from] == nil {
			errs = append(errs, fmt.Errorf("%w: conditional edge source %q", ErrUnknownNode, from))
		}
		errs = append(errs, validateBranches(from, table, known)...)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return &Compiled{
		entry:    g.entry,
		nodes:    g.nodes,
		edges:    g.edges,
		branches: g.branches,
		opts:     opts,
	}, nil
}

func validateBranches(from string, table []Branch, known func(string) bool) []error {
	var (
		errs       []error
		labels     []string
		hasDefault bool
	)
	for _, b := range table {
		labels = append(labels, b.Label)
		hasDefault = hasDefault || b.When == nil
		if len(b.To) == 0 {
			errs = append(errs, fmt.Errorf("%w: %s branch %q has no target", ErrInvalidGraph, from, b.Label))
		}
		for _, to := range b.To {
			if !known(to) {
				errs = append(errs, fmt.Errorf("%w: %s branch %q -> %q", ErrUnknownNode, from, b.Label, to))
			}
		}
	}
	if !slices.ContainsFunc(labels, func(l string) bool { return slices.Contains(stayLabels, l) }) {
		errs = append(errs, fmt.Errorf("%w: %s has no stay label (retry, wait or refresh)", ErrInvalidGraph, from))
	}
	if !slices.Contains(labels, LabelAdvance) {
		errs = append(errs, fmt.Errorf("%w: %s has no advance label", ErrInvalidGraph, from))
	}
	if !hasDefault {
		errs = append(errs, fmt.Errorf("%w: %s has no default branch", ErrInvalidGraph, from))
	}
	return errs
}

// Result describes a finished run.
type Result struct {
	State *core.AnalysisState
	Steps int
	// Path lists the active set of every superstep.
	Path [][]string
}

type stepOutput struct {
	patch  core.Patch
	routed []string
	label  string
}

// Run executes the graph on state until no node is active. The state is
// updated in place and also returned through the result. Executor faults
// (cancellation, step limit, node panic) are the only errors.
func (c *Compiled) Run(ctx context.Context, state *core.AnalysisState) (*Result, error) {
	res := &Result{State: state}
	active := []string{c.entry}

	for len(active) > 0 {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if res.Steps >= c.opts.MaxSteps {
			return res, fmt.Errorf("%w: %d steps, active %v", ErrStepLimit, res.Steps, active)
		}
		res.Steps++
		slices.Sort(active)
		res.Path = append(res.Path, active)

		outs, err := c.superstep(ctx, res.Steps, state, active)
		if err != nil {
			return res, err
		}

		var next []string
		for i, name := range active {
			state.Apply(outs[i].patch)
			next = append(next, c.edges[name]...)
			if outs[i].label != "" {
				c.opts.Logger.Debug("Route selected", "node", name, "label", outs[i].label, "to", outs[i].routed)
				next = append(next, outs[i].routed...)
			}
		}
		active = compact(next)
	}
	return res, nil
}

// superstep runs every active node on its own snapshot and resolves each
// node's conditional route on the snapshot it observed.
func (c *Compiled) superstep(ctx context.Context, step int, state *core.AnalysisState, active []string) ([]stepOutput, error) {
	outs := make([]stepOutput, len(active))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, name := range active {
		snap := state.Clone()
		eg.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("graph: node %s panicked: %v", name, r)
					c.logPanic(snap, err)
				}
			}()
			outs[i].patch = c.runNode(egCtx, step, name, snap)
			outs[i].label, outs[i].routed = c.route(name, snap)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return outs, nil
}

func (c *Compiled) runNode(ctx context.Context, step int, name string, snap *core.AnalysisState) core.Patch {
	ctx, span := c.opts.Tracer.Start(ctx, "node."+name, trace.WithAttributes(
		attribute.String("dealmesh.node", name),
		attribute.Int("dealmesh.step", step),
		attribute.String("dealmesh.run_id", snap.RunID),
	))
	defer span.End()

	start := time.Now()
	patch := c.nodes[name](ctx, snap)
	dur := time.Since(start)

	c.opts.Metrics.ObserveNode(name, dur)
	var nodeErr error
	if n := len(patch.AnalysisErrors); n > 0 {
		nodeErr = errors.New(patch.AnalysisErrors[n-1])
		span.SetStatus(codes.Error, nodeErr.Error())
	}
	if pl, ok := c.opts.Logger.(*logging.PipelineLogger); ok {
		pl.WithRun(snap.SessionID, snap.RunID).LogNode(name, step, dur, nodeErr)
	} else {
		c.opts.Logger.Debug("Node executed", "node", name, "step", step, "duration", dur)
	}
	return patch
}

// logPanic runs inside the recovering defer, so the stack still shows the
// panic site.
func (c *Compiled) logPanic(snap *core.AnalysisState, err error) {
	if pl, ok := c.opts.Logger.(*logging.PipelineLogger); ok {
		pl.WithRun(snap.SessionID, snap.RunID).ErrorWithStack(err, "Node panicked")
		return
	}
	c.opts.Logger.Error("Node panicked", "error", err)
}

// route picks the first matching branch of name's conditional edge.
func (c *Compiled) route(name string, snap *core.AnalysisState) (string, []string) {
	for _, b := range c.branches[name] {
		if b.When == nil || b.When(snap) {
			return b.Label, b.To
		}
	}
	return "", nil
}

// compact drops END and duplicate activations.
func compact(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == END || slices.Contains(out, n) {
			continue
		}
		out = append(out, n)
	}
	return out
}
