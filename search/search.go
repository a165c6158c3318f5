// Package search builds the web search collaborator used by price research.
// Providers live in subpackages; New selects one by name and Cached adds a
// result cache in front of any core.Searcher.
package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hupe1980/dealmesh/cache"
	"github.com/hupe1980/dealmesh/core"
	"github.com/hupe1980/dealmesh/logging"
	"github.com/hupe1980/dealmesh/search/brave"
	"github.com/hupe1980/dealmesh/search/serper"
	"github.com/hupe1980/dealmesh/search/tavily"
)

// Provider names a search backend.
type Provider string

// Supported providers.
const (
	ProviderTavily Provider = "tavily"
	ProviderSerper Provider = "serper"
	ProviderBrave  Provider = "brave"
)

var (
	// ErrUnsupportedProvider is returned by New for unknown provider names.
	ErrUnsupportedProvider = errors.New("search: unsupported provider")
	// ErrMissingAPIKey is returned by New when no key is configured.
	ErrMissingAPIKey = errors.New("search: missing api key")
)

// Options configure New.
type Options struct {
	Provider   Provider
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// New returns the searcher for opts.Provider.
func New(opts Options) (core.Searcher, error) {
	if opts.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	switch Provider(strings.ToLower(string(opts.Provider))) {
	case ProviderTavily, "":
		return tavily.New(func(o *tavily.Options) {
			o.APIKey = opts.APIKey
			o.HTTPClient = opts.HTTPClient
			if opts.BaseURL != "" {
				o.BaseURL = opts.BaseURL
			}
		}), nil
	case ProviderSerper:
		return serper.New(func(o *serper.Options) {
			o.APIKey = opts.APIKey
			o.HTTPClient = opts.HTTPClient
			if opts.BaseURL != "" {
				o.BaseURL = opts.BaseURL
			}
		}), nil
	case ProviderBrave:
		return brave.New(func(o *brave.Options) {
			o.APIKey = opts.APIKey
			o.HTTPClient = opts.HTTPClient
			if opts.BaseURL != "" {
				o.BaseURL = opts.BaseURL
			}
		}), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, opts.Provider)
	}
}

// Cached memoizes non-empty result sets of the wrapped searcher. Empty results
// and errors are never cached so that research retries hit the provider again.
type Cached struct {
	next   core.Searcher
	cache  cache.Cache
	ttl    time.Duration
	scope  string
	logger logging.Logger
}

// NewCached wraps next. scope namespaces keys (typically the provider name).
func NewCached(next core.Searcher, c cache.Cache, ttl time.Duration, scope string, logger logging.Logger) *Cached {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Cached{next: next, cache: c, ttl: ttl, scope: scope, logger: logger}
}

// Search implements core.Searcher.
func (c *Cached) Search(ctx context.Context, query string, maxResults int, allowedDomains []string) ([]core.SearchResult, error) {
	key := cacheKey(c.scope, query, maxResults, allowedDomains)
	if raw, err := c.cache.Get(ctx, key); err == nil {
		var results []core.SearchResult
		if jerr := json.Unmarshal(raw, &results); jerr == nil {
			return results, nil
		}
	} else if !errors.Is(err, cache.ErrMiss) {
		c.logger.Warn("search cache read failed", "error", err)
	}

	results, err := c.next.Search(ctx, query, maxResults, allowedDomains)
	if err != nil || len(results) == 0 {
		return results, err
	}
	if raw, jerr := json.Marshal(results); jerr == nil {
		if serr := c.cache.Set(ctx, key, raw, c.ttl); serr != nil {
			c.logger.Warn("search cache write failed", "error", serr)
		}
	}
	return results, nil
}

func cacheKey(scope, query string, maxResults int, domains []string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%d\x00%s", scope, strings.ToLower(strings.TrimSpace(query)), maxResults, strings.Join(domains, ","))
	return "search:" + hex.EncodeToString(h.Sum(nil))
}
