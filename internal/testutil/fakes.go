package testutil

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/hupe1980/dealmesh/core"
	"github.com/hupe1980/dealmesh/internal/util"
)

// Interface compliance (compile-time assertions)
var (
	_ core.Searcher        = (*Searcher)(nil)
	_ core.Predictor       = (*Predictor)(nil)
	_ core.Valuator        = (*Valuator)(nil)
	_ core.AnalysisStore   = (*Store)(nil)
	_ core.SessionRecorder = (*Store)(nil)
	_ core.GraphContext    = (*Store)(nil)
)

// Listings renders one search result per price for car, each on a trusted
// listing domain with a title naming the car and a mileage close to it.
func Listings(car core.Car, prices ...float64) []core.SearchResult {
	out := make([]core.SearchResult, 0, len(prices))
	for i, p := range prices {
		out = append(out, core.SearchResult{
			Title:   fmt.Sprintf("Used %d %s %s for sale", car.Year, car.Make, car.Model),
			URL:     fmt.Sprintf("https://www.cars.com/vehicledetail/%d/", i+1),
			Content: fmt.Sprintf("Listed at %s with %s miles", util.Money(p), util.Thousands(float64(car.Mileage-1000))),
		})
	}
	return out
}

// Searcher is a scripted core.Searcher. Respond decides the reply per query;
// a nil Respond returns no results.
type Searcher struct {
	Respond func(query string) ([]core.SearchResult, error)

	mu      sync.Mutex
	queries []string
}

// NewSearcher returns a searcher answering every query with results.
func NewSearcher(results ...core.SearchResult) *Searcher {
	return &Searcher{Respond: func(string) ([]core.SearchResult, error) { return results, nil }}
}

// Search implements core.Searcher.
func (s *Searcher) Search(ctx context.Context, query string, _ int, _ []string) ([]core.SearchResult, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	respond := s.Respond
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if respond == nil {
		return nil, nil
	}
	return respond(query)
}

// Queries returns the queries received so far.
func (s *Searcher) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.queries)
}

// Predictor is a fixed-answer core.Predictor.
type Predictor struct {
	Price float64
	Err   error
}

// Predict implements core.Predictor.
func (p *Predictor) Predict(context.Context, core.Features) (float64, error) {
	return p.Price, p.Err
}

// Valuator is a fixed-answer core.Valuator.
type Valuator struct {
	Raw map[string]any
	Err error
}

// Lookup implements core.Valuator.
func (v *Valuator) Lookup(context.Context, core.Car) (map[string]any, error) {
	if v.Err != nil {
		return nil, v.Err
	}
	return maps.Clone(v.Raw), nil
}

// SavedAnalysis is one SaveAnalysis call.
type SavedAnalysis struct {
	CarID  int64
	Record core.AnalysisRecord
}

// Store is an in-memory relational store fake. Set the *Err fields to inject
// failures.
type Store struct {
	SaveCarErr      error
	SaveAnalysisErr error
	MarketDataErr   error
	Context         string

	mu        sync.Mutex
	nextID    int64
	cars      []core.Car
	analyses  []SavedAnalysis
	market    map[int64][]core.MarketDataRecord
	sessions  map[string]int
	completed map[string]int
}

// NewStore returns an empty store fake.
func NewStore() *Store {
	return &Store{market: map[int64][]core.MarketDataRecord{}, sessions: map[string]int{}, completed: map[string]int{}}
}

// SaveCar implements core.AnalysisStore.
func (s *Store) SaveCar(_ context.Context, car core.Car, _ string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveCarErr != nil {
		return 0, s.SaveCarErr
	}
	s.nextID++
	s.cars = append(s.cars, car)
	return s.nextID, nil
}

// SaveAnalysis implements core.AnalysisStore.
func (s *Store) SaveAnalysis(_ context.Context, carID int64, rec core.AnalysisRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveAnalysisErr != nil {
		return 0, s.SaveAnalysisErr
	}
	s.nextID++
	s.analyses = append(s.analyses, SavedAnalysis{CarID: carID, Record: rec})
	return s.nextID, nil
}

// SaveMarketData implements core.AnalysisStore.
func (s *Store) SaveMarketData(_ context.Context, carID int64, rows []core.MarketDataRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.MarketDataErr != nil {
		return s.MarketDataErr
	}
	s.market[carID] = append(s.market[carID], rows...)
	return nil
}

// CreateSession implements core.SessionRecorder.
func (s *Store) CreateSession(_ context.Context, id string, carCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = carCount
	return nil
}

// CompleteSession implements core.SessionRecorder.
func (s *Store) CompleteSession(_ context.Context, id string, successful int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("session %s not found", id)
	}
	s.completed[id] = successful
	return nil
}

// ContextFor implements core.GraphContext.
func (s *Store) ContextFor(context.Context, core.Car) (string, error) {
	return s.Context, nil
}

// Cars returns the saved cars.
func (s *Store) Cars() []core.Car {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.cars)
}

// Analyses returns the saved analyses.
func (s *Store) Analyses() []SavedAnalysis {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.analyses)
}

// MarketData returns the market rows saved for carID.
func (s *Store) MarketData(carID int64) []core.MarketDataRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.market[carID])
}

// Session returns the car count and completed success count of a session.
func (s *Store) Session(id string) (cars, successful int, completed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	successful, completed = s.completed[id]
	return s.sessions[id], successful, completed
}
