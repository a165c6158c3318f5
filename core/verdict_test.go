package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVerdictTier(t *testing.T) {
	tests := []struct {
		score float64
		tier  int
	}{
		{0, 1}, {39.9, 1}, {40, 2}, {59, 2}, {60, 3}, {74.5, 3}, {75, 4}, {89, 4}, {90, 5}, {100, 5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.tier, VerdictTier(tt.score), "score %v", tt.score)
	}
}

func TestVerdictTier_OrderPreserving(t *testing.T) {
	for a := 0.0; a <= 100; a += 0.5 {
		for b := a; b <= 100; b += 7.25 {
			if VerdictTier(a) > VerdictTier(b) {
				t.Fatalf("VerdictTier(%v)=%d > VerdictTier(%v)=%d", a, VerdictTier(a), b, VerdictTier(b))
			}
		}
	}
}

func TestDealVerdict(t *testing.T) {
	assert.Equal(t, "Exceptional Deal ⭐⭐⭐", DealVerdict(90))
	assert.Equal(t, "Good Deal ⭐⭐", DealVerdict(80))
	assert.Equal(t, "Fair Deal ⭐", DealVerdict(60))
	assert.Equal(t, "Poor Deal ⚠️", DealVerdict(45))
	assert.Equal(t, "Bad Deal ❌", DealVerdict(10))
	assert.Equal(t, "Good", ShortVerdict(85))
	assert.Equal(t, []string{"Exceptional", "Good", "Fair", "Poor", "Bad"}, ShortVerdicts())
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "TAVILY_SEARCH_FAILED", ErrorKind("TAVILY_SEARCH_FAILED: Unable to fetch market data"))
	assert.Equal(t, "DISAGREEMENT_PERSISTENT", ErrorKind("DISAGREEMENT_PERSISTENT: a: b"))
	assert.Equal(t, "boom", ErrorKind("boom"))
	assert.Equal(t, KindUnknown, ErrorKind(""))
	assert.Equal(t, KindUnknown, ErrorKind(": detail"))
}

func TestOutcome(t *testing.T) {
	ok := Ok()
	assert.True(t, ok.IsOk())
	assert.True(t, ok.Status().Success)

	failed := Err(KindNoData, "found %d prices", 0)
	assert.False(t, failed.IsOk())
	assert.Equal(t, KindNoData, failed.Kind())
	assert.Equal(t, "NO_DATA: found 0 prices", failed.String())

	st := failed.Status()
	assert.True(t, st.Failed())
	assert.Equal(t, KindNoData, st.Outcome().Kind())
	assert.Equal(t, KindUnknown, Status{Error: "x"}.Outcome().Kind())
}

func TestCar(t *testing.T) {
	car := Car{Make: "Honda", Model: "Civic", Year: 2019, Mileage: 45000, PricePaid: 18500}
	assert.NoError(t, car.Validate())
	assert.Equal(t, "2019 Honda Civic", car.Title())
	assert.Equal(t, 6, car.Age(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 0, car.Age(time.Date(2018, 6, 1, 0, 0, 0, 0, time.UTC)))

	bad := car
	bad.PricePaid = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidCar)
}

func TestAgentLog(t *testing.T) {
	p := LogStart("market_price", map[string]any{"make": "Toyota"})
	if assert.Len(t, p.AgentLogs, 1) {
		entry := p.AgentLogs[0]
		assert.NotEmpty(t, entry.ID)
		assert.Equal(t, EventStart, entry.Event)
		assert.Equal(t, "Toyota", entry.Payload["make"])
	}
	assert.Equal(t, []string{"[market_price] start: start"}, p.DbgLogs)

	e := LogError("residual_value", "predictor unavailable", nil)
	assert.Equal(t, "[residual_value] error: predictor unavailable", e.DbgLogs[0])
	assert.NotNil(t, e.AgentLogs[0].Payload)
}

func TestDomainAllowed(t *testing.T) {
	domains := []string{"cars.com", "kbb.com"}
	assert.True(t, DomainAllowed("https://www.cars.com/vehicledetail/1", domains))
	assert.True(t, DomainAllowed("https://KBB.com/toyota", domains))
	assert.False(t, DomainAllowed("https://example.com/cars.com", domains))
	assert.False(t, DomainAllowed("::bad", domains))
	assert.True(t, DomainAllowed("https://anything.org", nil))

	got := FilterDomains([]SearchResult{{URL: "https://cars.com/a"}, {URL: "https://ebay.com/b"}}, domains)
	assert.Len(t, got, 1)
}
