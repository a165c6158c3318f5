// Package tavily implements core.Searcher against the Tavily search API.
package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hupe1980/dealmesh/core"
)

// DefaultBaseURL is the public Tavily endpoint.
const DefaultBaseURL = "https://api.tavily.com"

// Options configure the Tavily client.
type Options struct {
	APIKey      string
	BaseURL     string
	SearchDepth string // basic or advanced
	HTTPClient  *http.Client
}

// Client calls POST /search.
type Client struct {
	opts Options
}

// New creates a client.
func New(optFns ...func(o *Options)) *Client {
	opts := Options{BaseURL: DefaultBaseURL, SearchDepth: "basic"}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	return &Client{opts: opts}
}

type request struct {
	APIKey         string   `json:"api_key"`
	Query          string   `json:"query"`
	SearchDepth    string   `json:"search_depth"`
	MaxResults     int      `json:"max_results"`
	IncludeDomains []string `json:"include_domains,omitempty"`
}

type response struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Search implements core.Searcher.
func (c *Client) Search(ctx context.Context, query string, maxResults int, allowedDomains []string) ([]core.SearchResult, error) {
	body, err := json.Marshal(request{
		APIKey:         c.opts.APIKey,
		Query:          query,
		SearchDepth:    c.opts.SearchDepth,
		MaxResults:     maxResults,
		IncludeDomains: allowedDomains,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tavily: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tavily: status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var raw response
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("tavily: decode: %w", err)
	}
	out := make([]core.SearchResult, 0, len(raw.Results))
	for _, r := range raw.Results {
		out = append(out, core.SearchResult{Title: r.Title, URL: r.URL, Content: r.Content, Score: r.Score})
	}
	return core.FilterDomains(out, allowedDomains), nil
}
