// Package serper implements core.Searcher against the serper.dev Google
// search API.
package serper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hupe1980/dealmesh/core"
)

// DefaultBaseURL is the public serper endpoint.
const DefaultBaseURL = "https://google.serper.dev"

// Options configure the serper client.
type Options struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// Client calls POST /search.
type Client struct {
	opts Options
}

// New creates a client.
func New(optFns ...func(o *Options)) *Client {
	opts := Options{BaseURL: DefaultBaseURL}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	return &Client{opts: opts}
}

// siteQuery restricts a Google query to the given domains.
func siteQuery(q string, sites []string) string {
	if len(sites) == 0 {
		return q
	}
	ors := make([]string, len(sites))
	for i, s := range sites {
		ors[i] = "site:" + s
	}
	return q + " (" + strings.Join(ors, " OR ") + ")"
}

// Search implements core.Searcher.
func (c *Client) Search(ctx context.Context, query string, maxResults int, allowedDomains []string) ([]core.SearchResult, error) {
	payload := map[string]any{"q": siteQuery(query, allowedDomains), "num": maxResults}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", c.opts.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("serper: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("serper: status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var raw struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("serper: decode: %w", err)
	}
	var out []core.SearchResult
	for i, r := range raw.Organic {
		if maxResults > 0 && i >= maxResults {
			break
		}
		out = append(out, core.SearchResult{Title: r.Title, URL: r.Link, Content: r.Snippet})
	}
	return core.FilterDomains(out, allowedDomains), nil
}
