package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/dealmesh/core"
)

// Session statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
)

// ErrNotFound is returned for unknown session ids.
var ErrNotFound = errors.New("session: not found")

// Session is a snapshot of one batch.
type Session struct {
	ID          string     `json:"id"`
	CarCount    int        `json:"car_count"`
	Successful  int        `json:"successful"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Options configures an InMemoryStore.
type Options struct {
	// Next receives every call after the in-memory record is updated. Its
	// errors are returned to the caller.
	Next core.SessionRecorder
	// Capacity bounds the retained sessions; the oldest completed ones are
	// evicted first. Zero keeps everything.
	Capacity int
	Clock    func() time.Time
}

// InMemoryStore is a volatile session recorder. It is safe for concurrent use.
type InMemoryStore struct {
	opts     Options
	mu       sync.RWMutex
	sessions map[string]*Session
}

var _ core.SessionRecorder = (*InMemoryStore)(nil)

// NewInMemoryStore constructs an empty store.
func NewInMemoryStore(optFns ...func(o *Options)) *InMemoryStore {
	opts := Options{Capacity: 1000, Clock: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &InMemoryStore{opts: opts, sessions: make(map[string]*Session)}
}

// CreateSession records a running batch.
func (s *InMemoryStore) CreateSession(ctx context.Context, id string, carCount int) error {
	s.mu.Lock()
	s.sessions[id] = &Session{
		ID:        id,
		CarCount:  carCount,
		Status:    StatusRunning,
		StartedAt: s.opts.Clock().UTC(),
	}
	s.evictLocked()
	s.mu.Unlock()

	if s.opts.Next != nil {
		return s.opts.Next.CreateSession(ctx, id, carCount)
	}
	return nil
}

// CompleteSession marks a batch finished.
func (s *InMemoryStore) CompleteSession(ctx context.Context, id string, successful int) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		now := s.opts.Clock().UTC()
		sess.Successful = successful
		sess.Status = StatusCompleted
		sess.CompletedAt = &now
	}
	s.mu.Unlock()

	if s.opts.Next != nil {
		return s.opts.Next.CompleteSession(ctx, id, successful)
	}
	if !ok {
		return fmt.Errorf("complete session %s: %w", id, ErrNotFound)
	}
	return nil
}

// Get returns a copy of the session.
func (s *InMemoryStore) Get(id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return sess.clone(), nil
}

// List returns all retained sessions, newest first.
func (s *InMemoryStore) List() []Session {
	s.mu.RLock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// evictLocked drops the oldest completed sessions above capacity. Running
// sessions are never evicted.
func (s *InMemoryStore) evictLocked() {
	if s.opts.Capacity <= 0 || len(s.sessions) <= s.opts.Capacity {
		return
	}
	var done []*Session
	for _, sess := range s.sessions {
		if sess.Status == StatusCompleted {
			done = append(done, sess)
		}
	}
	sort.Slice(done, func(i, j int) bool { return done[i].StartedAt.Before(done[j].StartedAt) })
	for _, sess := range done {
		if len(s.sessions) <= s.opts.Capacity {
			return
		}
		delete(s.sessions, sess.ID)
	}
}

func (s *Session) clone() Session {
	c := *s
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return c
}
