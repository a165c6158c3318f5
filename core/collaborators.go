package core

import "context"

// Features is the engineered feature map a Predictor expects.
type Features map[string]any

// Predictor is the residual-value regression collaborator.
type Predictor interface {
	Predict(ctx context.Context, features Features) (float64, error)
}

// Valuator is the optional third-party valuation collaborator.
type Valuator interface {
	Lookup(ctx context.Context, car Car) (map[string]any, error)
}

// AnalysisRecord is the persisted summary of one analysis.
type AnalysisRecord struct {
	RuleScore     float64
	RuleVerdict   string
	LLMScore      float64
	LLMVerdict    string
	LLMReasoning  string
	MarketMedian  float64
	PriceDelta    float64
	PriceDeltaPct float64
	DealCategory  string
	DataSource    string
	SampleCount   int
	Success       bool
	Version       string
}

// MarketDataRecord is one persisted price observation.
type MarketDataRecord struct {
	SearchQuery string
	Price       float64
	URL         string
	Source      string
	Similarity  float64
}

// AnalysisStore is the relational persistence collaborator. Each call is an
// INSERT-style operation; no cross-car locking is required.
type AnalysisStore interface {
	SaveCar(ctx context.Context, car Car, sessionID string) (int64, error)
	SaveAnalysis(ctx context.Context, carID int64, rec AnalysisRecord) (int64, error)
	SaveMarketData(ctx context.Context, carID int64, rows []MarketDataRecord) error
}

// SessionRecorder tracks batch sessions.
type SessionRecorder interface {
	CreateSession(ctx context.Context, id string, carCount int) error
	CompleteSession(ctx context.Context, id string, successful int) error
}

// GraphContext returns freeform context for a car, or "" when nothing is known.
type GraphContext interface {
	ContextFor(ctx context.Context, car Car) (string, error)
}
