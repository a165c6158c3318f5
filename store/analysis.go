package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hupe1980/dealmesh/core"
	"github.com/hupe1980/dealmesh/internal/util"
)

// Session statuses.
const (
	SessionRunning   = "running"
	SessionCompleted = "completed"
)

// SaveCar inserts the car and returns its id.
func (s *Store) SaveCar(ctx context.Context, car core.Car, sessionID string) (int64, error) {
	const q = `INSERT INTO cars (session_id, make, model, year, mileage, price_paid, trim_level, vin, fuel_type, transmission, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`
	id, err := s.insert(ctx, q,
		nullString(sessionID), car.Make, car.Model, car.Year, car.Mileage, car.PricePaid,
		nullString(car.Trim), nullString(car.VIN), nullString(car.FuelType), nullString(car.Transmission),
		s.now(),
	)
	if err != nil {
		return 0, fmt.Errorf("store: save car: %w", err)
	}
	return id, nil
}

// SaveAnalysis inserts an analysis row for carID.
func (s *Store) SaveAnalysis(ctx context.Context, carID int64, rec core.AnalysisRecord) (int64, error) {
	const q = `INSERT INTO analyses (car_id, rule_score, rule_verdict, llm_score, llm_verdict, llm_reasoning,
 market_median, price_delta, price_delta_pct, deal_category, data_source, sample_count, success, version, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`
	id, err := s.insert(ctx, q,
		carID, rec.RuleScore, nullString(rec.RuleVerdict), rec.LLMScore, nullString(rec.LLMVerdict), nullString(rec.LLMReasoning),
		rec.MarketMedian, rec.PriceDelta, rec.PriceDeltaPct, nullString(rec.DealCategory), nullString(rec.DataSource),
		rec.SampleCount, rec.Success, rec.Version, s.now(),
	)
	if err != nil {
		return 0, fmt.Errorf("store: save analysis: %w", err)
	}
	return id, nil
}

// SaveMarketData inserts one row per observation in a single transaction.
func (s *Store) SaveMarketData(ctx context.Context, carID int64, rows []core.MarketDataRecord) (err error) {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: save market data: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	q := s.rebind(`INSERT INTO market_data (car_id, search_query, price, url, source, similarity, created_at) VALUES (?,?,?,?,?,?,?)`)
	now := s.now()
	for _, r := range rows {
		if _, err = tx.ExecContext(ctx, q, carID, nullString(r.SearchQuery), r.Price, nullString(r.URL), nullString(r.Source), r.Similarity, now); err != nil {
			return fmt.Errorf("store: save market data: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("store: save market data: %w", err)
	}
	return nil
}

// CreateSession records the start of a batch.
func (s *Store) CreateSession(ctx context.Context, id string, carCount int) error {
	q := s.rebind(`INSERT INTO sessions (id, car_count, successful, status, started_at) VALUES (?,?,?,?,?)`)
	if _, err := s.db.ExecContext(ctx, q, id, carCount, 0, SessionRunning, s.now()); err != nil {
		return fmt.Errorf("store: create session: %w", err)
	}
	return nil
}

// CompleteSession marks a batch finished. It returns ErrNotFound for unknown ids.
func (s *Store) CompleteSession(ctx context.Context, id string, successful int) error {
	q := s.rebind(`UPDATE sessions SET successful=?, status=?, completed_at=? WHERE id=?`)
	res, err := s.db.ExecContext(ctx, q, successful, SessionCompleted, s.now(), id)
	if err != nil {
		return fmt.Errorf("store: complete session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("store: complete session %s: %w", id, ErrNotFound)
	}
	return nil
}

// ContextLimit caps the rows rendered by ContextFor.
const ContextLimit = 8

// ContextFor implements core.GraphContext: successful analyses of the same
// make and model within two model years, best rule score first.
func (s *Store) ContextFor(ctx context.Context, car core.Car) (string, error) {
	if strings.TrimSpace(car.Make) == "" || strings.TrimSpace(car.Model) == "" || car.Year <= 0 {
		return "", nil
	}
	q := s.rebind(`SELECT c.year, c.mileage, c.price_paid, a.rule_score, a.deal_category, a.market_median
FROM cars c JOIN analyses a ON a.car_id = c.id
WHERE LOWER(c.make) = LOWER(?) AND LOWER(c.model) = LOWER(?) AND c.year BETWEEN ? AND ? AND a.success = ?
ORDER BY a.rule_score DESC
LIMIT ` + fmt.Sprint(ContextLimit))

	rows, err := s.db.QueryContext(ctx, q, car.Make, car.Model, car.Year-2, car.Year+2, true)
	if err != nil {
		return "", fmt.Errorf("store: context for %s: %w", car.Title(), err)
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var (
			year, mileage int
			paid          float64
			score, median sql.NullFloat64
			category      sql.NullString
		)
		if err := rows.Scan(&year, &mileage, &paid, &score, &category, &median); err != nil {
			return "", fmt.Errorf("store: context for %s: %w", car.Title(), err)
		}
		lines = append(lines, fmt.Sprintf("- %d: score %.0f, category %s, paid %s vs median %s (mileage %s)",
			year, score.Float64, category.String, util.Money(paid), util.Money(median.Float64), util.Thousands(float64(mileage))))
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("store: context for %s: %w", car.Title(), err)
	}
	if len(lines) == 0 {
		return "", nil
	}
	header := fmt.Sprintf("Similar %s %s within ±2 years (top %d by score):", car.Make, car.Model, len(lines))
	return header + "\n" + strings.Join(lines, "\n"), nil
}
