package graph

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/dealmesh/core"
	"github.com/hupe1980/dealmesh/logging"
)

func logNode(name string) NodeFunc {
	return func(context.Context, *core.AnalysisState) core.Patch {
		return core.Patch{DbgLogs: []string{name}}
	}
}

func newState() *core.AnalysisState {
	return core.NewAnalysisState("run-1", core.Car{Make: "Toyota", Model: "Camry", Year: 2020})
}

func TestRun_Linear(t *testing.T) {
	g, err := New().
		AddNode("a", logNode("a")).
		AddNode("b", logNode("b")).
		SetEntry("a").
		AddEdge("a", "b").
		AddEdge("b", END).
		Compile()
	require.NoError(t, err)

	res, err := g.Run(context.Background(), newState())

	require.NoError(t, err)
	assert.Equal(t, 2, res.Steps)
	assert.Equal(t, []string{"a", "b"}, res.State.DbgLogs)
	assert.Equal(t, [][]string{{"a"}, {"b"}}, res.Path)
}

func TestRun_FanOutAppliesInNameOrder(t *testing.T) {
	g, err := New().
		AddNode("start", logNode("start")).
		AddNode("zeta", logNode("zeta")).
		AddNode("alpha", logNode("alpha")).
		AddNode("join", logNode("join")).
		SetEntry("start").
		AddEdge("start", "zeta", "alpha").
		AddEdge("zeta", "join").
		AddEdge("alpha", "join").
		Compile()
	require.NoError(t, err)

	res, err := g.Run(context.Background(), newState())

	require.NoError(t, err)
	// join is activated twice in the same step but runs once.
	assert.Equal(t, []string{"start", "alpha", "zeta", "join"}, res.State.DbgLogs)
	assert.Equal(t, [][]string{{"start"}, {"alpha", "zeta"}, {"join"}}, res.Path)
}

func TestRun_NodesSeeSnapshot(t *testing.T) {
	var seen []int
	writer := func(context.Context, *core.AnalysisState) core.Patch {
		return core.Patch{Retries: core.Counter("x", 1)}
	}
	reader := func(_ context.Context, s *core.AnalysisState) core.Patch {
		seen = append(seen, s.Attempts("x"))
		return core.Patch{}
	}
	g, err := New().
		AddNode("start", logNode("start")).
		AddNode("a_writer", writer).
		AddNode("b_reader", reader).
		SetEntry("start").
		AddEdge("start", "a_writer", "b_reader").
		Compile()
	require.NoError(t, err)

	res, err := g.Run(context.Background(), newState())

	require.NoError(t, err)
	assert.Equal(t, []int{0}, seen)
	assert.Equal(t, 1, res.State.Attempts("x"))
}

func TestRun_ConditionalRetryLoop(t *testing.T) {
	work := func(_ context.Context, s *core.AnalysisState) core.Patch {
		return core.Patch{Retries: core.Counter("work", s.Attempts("work")+1)}
	}
	g, err := New().
		AddNode("work", work).
		AddNode("done", logNode("done")).
		SetEntry("work").
		AddConditionalEdge("work",
			Branch{Label: LabelRetry, When: func(s *core.AnalysisState) bool { return s.Attempts("work") < 2 }, To: []string{"work"}},
			Branch{Label: LabelAdvance, To: []string{"done"}},
		).
		Compile()
	require.NoError(t, err)

	res, err := g.Run(context.Background(), newState())

	require.NoError(t, err)
	// The route is decided on the snapshot each attempt observed: 0, 1, 2.
	assert.Equal(t, 3, res.State.Attempts("work"))
	assert.Equal(t, [][]string{{"work"}, {"work"}, {"work"}, {"done"}}, res.Path)
}

func TestCompile_Validation(t *testing.T) {
	noop := logNode("n")
	always := func(*core.AnalysisState) bool { return true }

	tests := []struct {
		name  string
		build func() *Graph
		want  error
		msg   string
	}{
		{
			name:  "missing entry",
			build: func() *Graph { return New().AddNode("a", noop) },
			want:  ErrUnknownNode,
			msg:   `entry ""`,
		},
		{
			name:  "unknown edge target",
			build: func() *Graph { return New().AddNode("a", noop).SetEntry("a").AddEdge("a", "ghost") },
			want:  ErrUnknownNode,
			msg:   `edge a -> "ghost"`,
		},
		{
			name:  "duplicate node",
			build: func() *Graph { return New().AddNode("a", noop).AddNode("a", noop).SetEntry("a") },
			want:  ErrInvalidGraph,
			msg:   "duplicate node a",
		},
		{
			name: "no stay label",
			build: func() *Graph {
				return New().AddNode("a", noop).SetEntry("a").AddConditionalEdge("a",
					Branch{Label: LabelAdvance, To: []string{END}})
			},
			want: ErrInvalidGraph,
			msg:  "a has no stay label",
		},
		{
			name: "no advance label",
			build: func() *Graph {
				return New().AddNode("a", noop).SetEntry("a").AddConditionalEdge("a",
					Branch{Label: LabelRetry, To: []string{"a"}})
			},
			want: ErrInvalidGraph,
			msg:  "a has no advance label",
		},
		{
			name: "no default branch",
			build: func() *Graph {
				return New().AddNode("a", noop).SetEntry("a").AddConditionalEdge("a",
					Branch{Label: LabelRetry, When: always, To: []string{"a"}},
					Branch{Label: LabelAdvance, When: always, To: []string{END}})
			},
			want: ErrInvalidGraph,
			msg:  "a has no default branch",
		},
		{
			name: "unknown branch target",
			build: func() *Graph {
				return New().AddNode("a", noop).SetEntry("a").AddConditionalEdge("a",
					Branch{Label: LabelWait, When: always, To: []string{"a"}},
					Branch{Label: LabelAdvance, To: []string{"ghost"}})
			},
			want: ErrUnknownNode,
			msg:  `a branch "advance" -> "ghost"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build().Compile()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestRun_StepLimit(t *testing.T) {
	g, err := New().
		AddNode("loop", logNode("loop")).
		SetEntry("loop").
		AddEdge("loop", "loop").
		Compile(func(o *Options) { o.MaxSteps = 10 })
	require.NoError(t, err)

	res, err := g.Run(context.Background(), newState())

	require.ErrorIs(t, err, ErrStepLimit)
	assert.Equal(t, 10, res.Steps)
	assert.Len(t, res.State.DbgLogs, 10)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g, err := New().
		AddNode("a", func(context.Context, *core.AnalysisState) core.Patch {
			cancel()
			return core.Patch{}
		}).
		AddNode("b", logNode("b")).
		SetEntry("a").
		AddEdge("a", "b").
		Compile()
	require.NoError(t, err)

	res, err := g.Run(ctx, newState())

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Steps)
	assert.Empty(t, res.State.DbgLogs)
}

func TestRun_PanicBecomesError(t *testing.T) {
	g, err := New().
		AddNode("first", logNode("first")).
		AddNode("boom", func(context.Context, *core.AnalysisState) core.Patch {
			panic("nil map")
		}).
		SetEntry("first").
		AddEdge("first", "boom").
		Compile()
	require.NoError(t, err)

	res, err := g.Run(context.Background(), newState())

	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrStepLimit))
	assert.Contains(t, err.Error(), "node boom panicked: nil map")
	// Earlier supersteps stay applied; the run stops at the panicking step.
	assert.Equal(t, 2, res.Steps)
	assert.Equal(t, []string{"first"}, res.State.DbgLogs)
}

func TestRun_LogsNodes(t *testing.T) {
	buf := &bytes.Buffer{}
	cfg := logging.DefaultLoggerConfig()
	cfg.Output = buf
	cfg.Level = logging.LogLevelDebug
	logger := logging.NewLogger(cfg)

	g, err := New().
		AddNode("ok", logNode("ok")).
		AddNode("failed", func(context.Context, *core.AnalysisState) core.Patch {
			return core.Patch{AnalysisErrors: []string{"PRICE_COMPARISON_FAILED: no data"}}
		}).
		AddNode("boom", func(context.Context, *core.AnalysisState) core.Patch { panic("nil map") }).
		SetEntry("ok").
		AddEdge("ok", "failed").
		AddEdge("failed", "boom").
		Compile(func(o *Options) { o.Logger = logger })
	require.NoError(t, err)

	_, err = g.Run(context.Background(), newState())
	require.Error(t, err)

	out := buf.String()
	assert.Contains(t, out, `"msg":"Node executed","run_id":"run-1","node":"ok","step":1`)
	assert.Contains(t, out, `"msg":"Node failed"`)
	assert.Contains(t, out, `"error":"PRICE_COMPARISON_FAILED: no data"`)
	assert.Contains(t, out, `"msg":"Node panicked"`)
	assert.Contains(t, out, `"stack_trace":"goroutine`)
}
