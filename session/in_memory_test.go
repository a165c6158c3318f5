package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	created   []string
	completed map[string]int
	err       error
}

func (r *recorder) CreateSession(_ context.Context, id string, _ int) error {
	r.created = append(r.created, id)
	return r.err
}

func (r *recorder) CompleteSession(_ context.Context, id string, successful int) error {
	if r.completed == nil {
		r.completed = map[string]int{}
	}
	r.completed[id] = successful
	return r.err
}

func tick(start time.Time) func() time.Time {
	n := 0
	return func() time.Time {
		n++
		return start.Add(time.Duration(n) * time.Second)
	}
}

func TestInMemoryStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore(func(o *Options) { o.Clock = tick(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)) })

	require.NoError(t, s.CreateSession(ctx, "s-1", 3))
	sess, err := s.Get("s-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, sess.Status)
	assert.Equal(t, 3, sess.CarCount)
	assert.Nil(t, sess.CompletedAt)

	require.NoError(t, s.CompleteSession(ctx, "s-1", 2))
	sess, err = s.Get("s-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, sess.Status)
	assert.Equal(t, 2, sess.Successful)
	require.NotNil(t, sess.CompletedAt)
	assert.True(t, sess.CompletedAt.After(sess.StartedAt))
}

func TestInMemoryStore_NotFound(t *testing.T) {
	s := NewInMemoryStore()

	_, err := s.Get("missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, s.CompleteSession(context.Background(), "missing", 1), ErrNotFound)
}

func TestInMemoryStore_Next(t *testing.T) {
	ctx := context.Background()
	next := &recorder{}
	s := NewInMemoryStore(func(o *Options) { o.Next = next })

	require.NoError(t, s.CreateSession(ctx, "s-1", 1))
	require.NoError(t, s.CompleteSession(ctx, "s-1", 1))
	assert.Equal(t, []string{"s-1"}, next.created)
	assert.Equal(t, map[string]int{"s-1": 1}, next.completed)

	next.err = errors.New("db down")
	require.ErrorContains(t, s.CreateSession(ctx, "s-2", 1), "db down")
	_, err := s.Get("s-2")
	require.NoError(t, err)
}

func TestInMemoryStore_Eviction(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore(func(o *Options) {
		o.Capacity = 2
		o.Clock = tick(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	})

	require.NoError(t, s.CreateSession(ctx, "old", 1))
	require.NoError(t, s.CompleteSession(ctx, "old", 1))
	require.NoError(t, s.CreateSession(ctx, "running", 1))
	require.NoError(t, s.CreateSession(ctx, "new", 1))

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].ID)
	assert.Equal(t, "running", list[1].ID)
}
