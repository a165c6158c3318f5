package tavily

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Search(t *testing.T) {
	var got request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/search", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"results": [
			{"title": "Used 2020 Toyota Camry", "url": "https://www.cars.com/a", "content": "$23,500", "score": 0.9},
			{"title": "Spam", "url": "https://spam.example/b", "content": "$1"}
		]}`))
	}))
	defer srv.Close()

	c := New(func(o *Options) {
		o.APIKey = "tvly-key"
		o.BaseURL = srv.URL
	})
	results, err := c.Search(context.Background(), "used 2020 Toyota Camry", 12, []string{"cars.com"})

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "https://www.cars.com/a", results[0].URL)
	assert.Equal(t, 0.9, results[0].Score)
	assert.Equal(t, "tvly-key", got.APIKey)
	assert.Equal(t, 12, got.MaxResults)
	assert.Equal(t, "basic", got.SearchDepth)
	assert.Equal(t, []string{"cars.com"}, got.IncludeDomains)
}

func TestClient_SearchStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(func(o *Options) { o.BaseURL = srv.URL })
	_, err := c.Search(context.Background(), "q", 5, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Contains(t, err.Error(), "invalid key")
}
