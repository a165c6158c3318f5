package worker

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/hupe1980/dealmesh/core"
)

// PreferredDomains are the trusted listing sites price research is
// restricted to.
var PreferredDomains = []string{"autotrader.com", "cars.com", "cargurus.com", "edmunds.com", "kbb.com"}

// SearchMethodWeb marks research backed by live web search results.
const SearchMethodWeb = "tavily_real_web_search"

// Price sample policy.
const (
	MinValidPrice    = 5000.0
	MaxValidPrice    = 120000.0
	mileageTolerance = 0.40
	iqrMinSamples    = 12
	iqrMultiplier    = 2.0
	trimKeepRatio    = 0.7
)

var mileagePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)([0-9]{1,3}(?:,[0-9]{3})+)\s*(?:miles|mi)\b`),
	regexp.MustCompile(`(?i)\b([0-9]{4,6})\s*(?:miles|mi)\b`),
}

// pricePatterns are tried in order; every match of every pattern is a
// candidate.
var pricePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\$([0-9]{1,3}(?:,[0-9]{3})*(?:\.[0-9]{2})?)`),
	regexp.MustCompile(`(?i)from\s+\$([0-9]{1,3}(?:,[0-9]{3})*)`),
	regexp.MustCompile(`(?i)to\s+\$([0-9]{1,3}(?:,[0-9]{3})*)`),
	regexp.MustCompile(`(?i)range\s+from\s+\$([0-9]{1,3}(?:,[0-9]{3})*)`),
	regexp.MustCompile(`(?i)sale\s+from\s+\$([0-9]{1,3}(?:,[0-9]{3})*)`),
	regexp.MustCompile(`(?i)starting\s+at\s+\$([0-9]{1,3}(?:,[0-9]{3})*)`),
	regexp.MustCompile(`(?i)prices?\s+range\s+from\s+\$([0-9]{1,3}(?:,[0-9]{3})*)`),
	regexp.MustCompile(`(?i)([0-9]{1,3}(?:,[0-9]{3})*)\s*dollars?`),
	regexp.MustCompile(`(?i)Price:?\s*\$?([0-9]{1,3}(?:,[0-9]{3})*)`),
	regexp.MustCompile(`(?i)Asking:?\s*\$?([0-9]{1,3}(?:,[0-9]{3})*)`),
	regexp.MustCompile(`(?i)MSRP:?\s*\$([0-9]{1,3}(?:,[0-9]{3})*)`),
	regexp.MustCompile(`(?i)trade-in\s+prices?\s+range\s+from\s+\$([0-9]{1,3}(?:,[0-9]{3})*)`),
	regexp.MustCompile(`\$([0-9]{5,7})`),
}

// thousandsPattern matches "25k" shorthand. A trailing "mi"/"miles" marks a
// mileage, not a price.
var thousandsPattern = regexp.MustCompile(`(?i)\b([0-9]{2,3})k\b(\s*mi(?:les)?\b)?`)

// SearchQueries returns the templated queries issued for a car.
func SearchQueries(car core.Car) []string {
	return []string{
		fmt.Sprintf("used %d %s %s for sale price", car.Year, car.Make, car.Model),
		fmt.Sprintf("%d %s %s used car market value", car.Year, car.Make, car.Model),
		fmt.Sprintf("%d %s %s %d miles used car", car.Year, car.Make, car.Model, car.Mileage),
		fmt.Sprintf("buy used %d %s %s", car.Year, car.Make, car.Model),
	}
}

// Research searches trusted listing sites for comparable prices and writes
// price_research. It never substitutes synthetic prices.
func (w *Workers) Research(ctx context.Context, s *core.AnalysisState) core.Patch {
	car := s.Car
	patch := core.LogStart(NameResearch, car.Context())

	if w.opts.Searcher == nil {
		res := &core.PriceResearch{Status: core.Err(core.KindUnavailable, "search provider not configured").Status(), Timestamp: w.now().UTC()}
		patch = patch.Merge(core.LogError(NameResearch, res.Error, nil))
		patch.PriceResearch = res
		return patch
	}

	queries := SearchQueries(car)
	var (
		listings []core.Listing
		seen     = map[float64]bool{}
	)
	for _, q := range queries {
		var results []core.SearchResult
		err := w.call(ctx, collabSearch, "search", w.opts.Timeouts.Search, func(ctx context.Context) error {
			var err error
			results, err = w.opts.Searcher.Search(ctx, q, w.opts.MaxResults, w.opts.PreferredDomains)
			return err
		})
		if err != nil {
			// One failed query does not fail the research.
			patch = patch.Merge(core.LogWarn(NameResearch, "search query failed", map[string]any{"query": q, "error": err.Error()}))
			continue
		}
		for _, r := range results {
			for _, p := range w.pricesFrom(r, car) {
				if seen[p] {
					continue
				}
				seen[p] = true
				listings = append(listings, core.Listing{Price: p, URL: r.URL, Source: hostOf(r.URL), Query: q})
			}
		}
		if err := ctx.Err(); err != nil {
			break
		}
	}

	if len(listings) == 0 {
		res := &core.PriceResearch{
			Status:        core.Err(core.KindNoData, "Failed to find any valid car prices from %d search queries", len(queries)).Status(),
			SearchQueries: queries,
			SearchMethod:  SearchMethodWeb,
			Timestamp:     w.now().UTC(),
		}
		patch = patch.Merge(core.LogError(NameResearch, res.Error, nil))
		patch.PriceResearch = res
		return patch
	}

	prices := make([]float64, 0, len(listings))
	for _, l := range listings {
		prices = append(prices, l.Price)
	}
	slices.Sort(prices)
	kept := TrimOutliers(prices)

	res := &core.PriceResearch{
		Status:          core.Ok().Status(),
		SearchQueries:   queries,
		ExtractedPrices: kept,
		Listings:        listings,
		MedianPrice:     Median(kept),
		PriceRange:      core.PriceRange{Min: kept[0], Max: kept[len(kept)-1]},
		SampleCount:     len(kept),
		OutliersRemoved: len(prices) - len(kept),
		SearchMethod:    SearchMethodWeb,
		Timestamp:       w.now().UTC(),
	}
	patch = patch.Merge(core.LogComplete(NameResearch, map[string]any{
		"median_price": res.MedianPrice,
		"sample_count": res.SampleCount,
	}))
	patch.PriceResearch = res
	return patch
}

// pricesFrom applies the domain, title and mileage filters to one result and
// extracts the valid prices it mentions.
func (w *Workers) pricesFrom(r core.SearchResult, car core.Car) []float64 {
	if !core.DomainAllowed(r.URL, w.opts.PreferredDomains) {
		return nil
	}
	title := strings.ToLower(r.Title)
	if !strings.Contains(title, strings.ToLower(car.Make)) || !strings.Contains(title, strings.ToLower(car.Model)) {
		return nil
	}
	text := r.Content + " " + r.Title
	if !WithinMileageWindow(text, car.Mileage) {
		return nil
	}
	return ExtractPrices(text)
}

// ExtractPrices returns every price mention in text within the valid range,
// in pattern order. Duplicates are kept.
func ExtractPrices(text string) []float64 {
	var out []float64
	for _, re := range pricePatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if p, ok := parsePrice(m[1]); ok {
				out = append(out, p)
			}
		}
	}
	for _, m := range thousandsPattern.FindAllStringSubmatch(text, -1) {
		if m[2] != "" {
			continue
		}
		if p, ok := parsePrice(m[1] + "000"); ok {
			out = append(out, p)
		}
	}
	return out
}

// parsePrice parses a captured amount and reports whether it is a plausible
// used car price.
func parsePrice(raw string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, v >= MinValidPrice && v <= MaxValidPrice
}

// ExtractMileages returns every mileage mention in text.
func ExtractMileages(text string) []int {
	var out []int
	for _, re := range mileagePatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if v, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", "")); err == nil {
				out = append(out, v)
			}
		}
	}
	return out
}

// WithinMileageWindow reports whether text mentions a mileage within ±40% of
// target. Text without any detectable mileage is accepted, as is a zero
// target.
func WithinMileageWindow(text string, target int) bool {
	if target <= 0 {
		return true
	}
	vals := ExtractMileages(text)
	if len(vals) == 0 {
		return true
	}
	low := int(float64(target) * (1 - mileageTolerance))
	high := int(float64(target) * (1 + mileageTolerance))
	for _, v := range vals {
		if v >= low && v <= high {
			return true
		}
	}
	return false
}

// TrimOutliers drops values outside [Q1-2*IQR, Q3+2*IQR] for samples of at
// least 12 sorted values. The untrimmed sample is returned when trimming
// would keep fewer than 5 points or less than 70% of them.
func TrimOutliers(sorted []float64) []float64 {
	n := len(sorted)
	if n < iqrMinSamples {
		return sorted
	}
	q1 := sorted[int(0.25*float64(n-1))]
	q3 := sorted[int(0.75*float64(n-1))]
	iqr := q3 - q1
	low, high := q1-iqrMultiplier*iqr, q3+iqrMultiplier*iqr

	kept := make([]float64, 0, n)
	for _, v := range sorted {
		if v >= low && v <= high {
			kept = append(kept, v)
		}
	}
	if len(kept) < 5 || float64(len(kept)) < trimKeepRatio*float64(n) {
		return sorted
	}
	return kept
}

// Median returns the median of sorted values, or 0 for an empty slice.
func Median(sorted []float64) float64 {
	n := len(sorted)
	switch {
	case n == 0:
		return 0
	case n%2 == 0:
		return (sorted[n/2-1] + sorted[n/2]) / 2
	default:
		return sorted[n/2]
	}
}

func hostOf(rawURL string) string {
	host := rawURL
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}
