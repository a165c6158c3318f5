// Package brave implements core.Searcher against the Brave web search API.
package brave

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hupe1980/dealmesh/core"
)

// DefaultBaseURL is the public Brave endpoint.
const DefaultBaseURL = "https://api.search.brave.com"

// maxCount is the largest page size Brave accepts.
const maxCount = 20

// Options configure the Brave client.
type Options struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// Client calls GET /res/v1/web/search.
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

// Search implements core.Searcher. Brave has no domain parameter, so the
// allow-list is expressed with site: operators and enforced on the results.
func (c *Client) Search(ctx context.Context, query string, maxResults int, allowedDomains []string) ([]core.SearchResult, error) {
	q := query
	if len(allowedDomains) > 0 {
		sites := make([]string, len(allowedDomains))
		for i, d := range allowedDomains {
			sites[i] = "site:" + d
		}
		q += " (" + strings.Join(sites, " OR ") + ")"
	}
	count := maxResults
	if count <= 0 || count > maxCount {
		count = maxCount
	}
	params := url.Values{}
	params.Set("q", q)
	params.Set("count", strconv.Itoa(count))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL+"/res/v1/web/search?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.opts.APIKey)

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("brave: status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var raw struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("brave: decode: %w", err)
	}
	var out []core.SearchResult
	for i, r := range raw.Web.Results {
		if i >= count {
			break
		}
		out = append(out, core.SearchResult{Title: r.Title, URL: r.URL, Content: r.Description})
	}
	return core.FilterDomains(out, allowedDomains), nil
}
