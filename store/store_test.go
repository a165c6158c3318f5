package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/dealmesh/core"
)

var camry = core.Car{Make: "Toyota", Model: "Camry", Year: 2020, Mileage: 35000, PricePaid: 22500}

func newMock(t *testing.T, d Dialect) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s := New(db, d)
	s.now = func() time.Time { return time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC) }
	return s, mock
}

func TestSaveCar_SQLite(t *testing.T) {
	s, mock := newMock(t, SQLite)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO cars (session_id, make, model")).
		WithArgs("sess-1", "Toyota", "Camry", 2020, 35000, 22500.0, nil, nil, nil, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(7, 1))

	id, err := s.SaveCar(context.Background(), camry, "sess-1")

	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAnalysis_PostgresReturning(t *testing.T) {
	s, mock := newMock(t, Postgres)
	mock.ExpectQuery(regexp.QuoteMeta("VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15) RETURNING id")).
		WithArgs(int64(7), 90.0, "Exceptional Deal ⭐⭐⭐", 85.0, "Good", "solid", 23800.0, -1300.0, -5.46,
			"Good Deal", "tavily_real_web_search", 15, true, "3.0", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))

	id, err := s.SaveAnalysis(context.Background(), 7, core.AnalysisRecord{
		RuleScore: 90, RuleVerdict: "Exceptional Deal ⭐⭐⭐", LLMScore: 85, LLMVerdict: "Good", LLMReasoning: "solid",
		MarketMedian: 23800, PriceDelta: -1300, PriceDeltaPct: -5.46, DealCategory: "Good Deal",
		DataSource: "tavily_real_web_search", SampleCount: 15, Success: true, Version: "3.0",
	})

	require.NoError(t, err)
	assert.Equal(t, int64(11), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveMarketData(t *testing.T) {
	t.Run("commits all rows", func(t *testing.T) {
		s, mock := newMock(t, MySQL)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO market_data")).
			WithArgs(int64(3), "q1", 21000.0, "https://cars.com/a", "cars.com", 0.0, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO market_data")).
			WithArgs(int64(3), "q2", 24000.0, nil, nil, 0.0, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(2, 1))
		mock.ExpectCommit()

		err := s.SaveMarketData(context.Background(), 3, []core.MarketDataRecord{
			{SearchQuery: "q1", Price: 21000, URL: "https://cars.com/a", Source: "cars.com"},
			{SearchQuery: "q2", Price: 24000},
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		s, mock := newMock(t, MySQL)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO market_data")).WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		err := s.SaveMarketData(context.Background(), 3, []core.MarketDataRecord{{Price: 1}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty is a no-op", func(t *testing.T) {
		s, mock := newMock(t, MySQL)
		require.NoError(t, s.SaveMarketData(context.Background(), 3, nil))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSessions(t *testing.T) {
	s, mock := newMock(t, Postgres)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sessions (id, car_count, successful, status, started_at) VALUES ($1,$2,$3,$4,$5)")).
		WithArgs("s1", 3, 0, SessionRunning, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET successful=$1, status=$2, completed_at=$3 WHERE id=$4")).
		WithArgs(2, SessionCompleted, sqlmock.AnyArg(), "s1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions")).
		WithArgs(0, SessionCompleted, sqlmock.AnyArg(), "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, "s1", 3))
	require.NoError(t, s.CompleteSession(ctx, "s1", 2))
	assert.ErrorIs(t, s.CompleteSession(ctx, "missing", 0), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContextFor(t *testing.T) {
	s, mock := newMock(t, SQLite)
	mock.ExpectQuery(regexp.QuoteMeta("FROM cars c JOIN analyses a ON a.car_id = c.id")).
		WithArgs("Toyota", "Camry", 2018, 2022, true).
		WillReturnRows(sqlmock.NewRows([]string{"year", "mileage", "price_paid", "rule_score", "deal_category", "market_median"}).
			AddRow(2019, 40000, 20000.0, 85.0, "Good Deal", 21000.0).
			AddRow(2021, 12000, 27000.0, 60.0, "Fair Price", 26500.0))

	text, err := s.ContextFor(context.Background(), camry)

	require.NoError(t, err)
	assert.Equal(t, "Similar Toyota Camry within ±2 years (top 2 by score):\n"+
		"- 2019: score 85, category Good Deal, paid $20,000 vs median $21,000 (mileage 40,000)\n"+
		"- 2021: score 60, category Fair Price, paid $27,000 vs median $26,500 (mileage 12,000)", text)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContextFor_EmptyAndIncomplete(t *testing.T) {
	s, mock := newMock(t, SQLite)
	mock.ExpectQuery("FROM cars").
		WillReturnRows(sqlmock.NewRows([]string{"year", "mileage", "price_paid", "rule_score", "deal_category", "market_median"}))

	text, err := s.ContextFor(context.Background(), camry)
	require.NoError(t, err)
	assert.Empty(t, text)

	text, err = s.ContextFor(context.Background(), core.Car{Make: "Toyota"})
	require.NoError(t, err)
	assert.Empty(t, text)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	s, mock := newMock(t, MySQL)
	for range 4 {
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestParseDialectAndRebind(t *testing.T) {
	for in, want := range map[string]Dialect{"postgresql": Postgres, "MySQL": MySQL, "sqlite3": SQLite, "": SQLite} {
		d, err := ParseDialect(in)
		require.NoError(t, err)
		assert.Equal(t, want, d)
	}
	_, err := ParseDialect("oracle")
	assert.ErrorIs(t, err, ErrUnsupportedDialect)

	assert.Equal(t, "a=$1 AND b=$2", (&Store{dialect: Postgres}).rebind("a=? AND b=?"))
	assert.Equal(t, "a=?", (&Store{dialect: MySQL}).rebind("a=?"))
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, SQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	save := func(car core.Car, score float64, success bool) {
		id, err := s.SaveCar(ctx, car, "")
		require.NoError(t, err)
		_, err = s.SaveAnalysis(ctx, id, core.AnalysisRecord{
			RuleScore: score, DealCategory: "Good Deal", MarketMedian: 21000, Success: success, Version: "3.0",
		})
		require.NoError(t, err)
	}
	save(core.Car{Make: "Toyota", Model: "Camry", Year: 2019, Mileage: 40000, PricePaid: 20000}, 85, true)
	save(core.Car{Make: "Toyota", Model: "Camry", Year: 2021, Mileage: 12000, PricePaid: 27000}, 60, false)
	save(core.Car{Make: "Toyota", Model: "Camry", Year: 2015, Mileage: 90000, PricePaid: 9000}, 95, true)
	save(core.Car{Make: "Honda", Model: "Civic", Year: 2020, Mileage: 30000, PricePaid: 19000}, 99, true)

	text, err := s.ContextFor(ctx, camry)
	require.NoError(t, err)
	assert.Equal(t, "Similar Toyota Camry within ±2 years (top 1 by score):\n"+
		"- 2019: score 85, category Good Deal, paid $20,000 vs median $21,000 (mileage 40,000)", text)

	require.NoError(t, s.CreateSession(ctx, "s1", 2))
	require.NoError(t, s.CompleteSession(ctx, "s1", 1))
}
