package core

import (
	"context"
	"net/url"
	"slices"
	"strings"
)

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}

// Searcher is the web search collaborator. Implementations restrict results to
// allowedDomains when it is non-empty.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int, allowedDomains []string) ([]SearchResult, error)
}

// DomainAllowed reports whether the registrable part (last two labels) of
// rawURL's host is in domains. An empty list allows everything.
func DomainAllowed(rawURL string, domains []string) bool {
	if len(domains) == 0 {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	parts := strings.Split(host, ".")
	base := host
	if len(parts) >= 2 {
		base = strings.Join(parts[len(parts)-2:], ".")
	}
	return slices.Contains(domains, base)
}

// FilterDomains drops results outside domains.
func FilterDomains(results []SearchResult, domains []string) []SearchResult {
	if len(domains) == 0 {
		return results
	}
	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		if DomainAllowed(r.URL, domains) {
			out = append(out, r)
		}
	}
	return out
}
