package carsxe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/dealmesh/core"
)

func TestClient_LookupByYMM(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/ymm", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "key-1", q.Get("key"))
		assert.Equal(t, "2020", q.Get("year"))
		assert.Equal(t, "Toyota", q.Get("make"))
		assert.Equal(t, "Camry", q.Get("model"))
		assert.Equal(t, "35000", q.Get("mileage"))
		_, _ = w.Write([]byte(`{"success": true, "averageMarketPrice": 24100}`))
	}))
	defer srv.Close()

	c := New(func(o *Options) {
		o.APIKey = "key-1"
		o.BaseURL = srv.URL
	})
	raw, err := c.Lookup(context.Background(), core.Car{Make: "Toyota", Model: "Camry", Year: 2020, Mileage: 35000})

	require.NoError(t, err)
	avg, ok := AveragePrice(raw)
	assert.True(t, ok)
	assert.Equal(t, 24100.0, avg)
}

func TestClient_LookupByVIN(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/vin", r.URL.Path)
		assert.Equal(t, "4T1B11HK0LU000000", r.URL.Query().Get("vin"))
		_, _ = w.Write([]byte(`{"average_price": "19999.5"}`))
	}))
	defer srv.Close()

	c := New(func(o *Options) {
		o.APIKey = "k"
		o.BaseURL = srv.URL
	})
	raw, err := c.Lookup(context.Background(), core.Car{VIN: "4T1B11HK0LU000000"})

	require.NoError(t, err)
	avg, ok := AveragePrice(raw)
	assert.True(t, ok)
	assert.Equal(t, 19999.5, avg)
}

func TestClient_LookupErrors(t *testing.T) {
	_, err := New().Lookup(context.Background(), core.Car{})
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.False(t, New().Available())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusPaymentRequired)
	}))
	defer srv.Close()

	_, err = New(func(o *Options) {
		o.APIKey = "k"
		o.BaseURL = srv.URL
	}).Lookup(context.Background(), core.Car{Year: 2020})
	assert.ErrorContains(t, err, "lookup failed (402)")
}

func TestAveragePrice_Missing(t *testing.T) {
	_, ok := AveragePrice(map[string]any{"foo": 1})
	assert.False(t, ok)
	_, ok = AveragePrice(map[string]any{"average": 0.0})
	assert.False(t, ok)
}
