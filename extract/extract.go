// Package extract turns a plain text car listing into car records by asking
// the language model for a JSON array.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hupe1980/dealmesh/core"
	"github.com/hupe1980/dealmesh/internal/util"
	"github.com/hupe1980/dealmesh/logging"
	"github.com/hupe1980/dealmesh/model"
	"github.com/hupe1980/dealmesh/worker"
)

var (
	// ErrEmptyInput is returned for blank listings.
	ErrEmptyInput = errors.New("extract: empty input")
	// ErrNoCars is returned when the reply holds no valid car.
	ErrNoCars = errors.New("extract: no valid cars found")
)

var extractPrompt = util.MustParse("extract", `You are a precise data extractor for used car purchases.
Extract every car from the text below.

Return a JSON array only. Each element has the fields:
- make (string)
- model (string)
- year (integer)
- mileage (integer, miles)
- price_paid (number, US dollars)
Optional fields when stated: trim, fuel_type, transmission, condition.

Text:
{{.}}
`)

// Options configures an Extractor.
type Options struct {
	Timeout time.Duration
	// MaxInput truncates very long listings before prompting.
	MaxInput int
	Logger   logging.Logger
}

// Extractor extracts cars with a model.
type Extractor struct {
	model model.Model
	opts  Options
}

// New creates an Extractor.
func New(m model.Model, optFns ...func(o *Options)) *Extractor {
	opts := Options{
		Timeout:  60 * time.Second,
		MaxInput: 20000,
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Extractor{model: m, opts: opts}
}

// Extract returns the valid cars found in text, indexed in reply order.
// Entries failing validation are skipped with a warning.
func (e *Extractor) Extract(ctx context.Context, text string) ([]core.Car, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	if e.model == nil {
		return nil, worker.ErrNoModel
	}

	prompt, err := extractPrompt.Render(util.Truncate(text, e.opts.MaxInput))
	if err != nil {
		return nil, err
	}
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}
	resp, err := model.Complete(ctx, e.model, model.Prompt(prompt))
	if err != nil {
		return nil, fmt.Errorf("extract: model call: %w", err)
	}

	cars, err := Parse(resp.Text)
	if err != nil {
		return nil, err
	}

	valid := cars[:0]
	for i, c := range cars {
		if err := c.Validate(); err != nil {
			e.opts.Logger.Warn("Skipping extracted car", "index", i, "error", err)
			continue
		}
		c.Index = len(valid)
		valid = append(valid, c)
	}
	if len(valid) == 0 {
		return nil, ErrNoCars
	}
	e.opts.Logger.Info("Cars extracted", "count", len(valid), "skipped", len(cars)-len(valid))
	return valid, nil
}

// Parse decodes a model reply into cars without validating them. A single
// object is accepted as a one-element array.
func Parse(reply string) ([]core.Car, error) {
	raw, err := worker.DecodeJSON(reply)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case map[string]any:
		if list, ok := v["cars"].([]any); ok {
			items = list
		} else {
			items = []any{v}
		}
	default:
		return nil, fmt.Errorf("extract: expected a JSON array, got %T", raw)
	}

	cars := make([]core.Car, 0, len(items))
	for _, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			continue
		}
		cars = append(cars, carFrom(obj))
	}
	return cars, nil
}

func carFrom(obj map[string]any) core.Car {
	return core.Car{
		Make:         str(obj["make"]),
		Model:        str(obj["model"]),
		Year:         int(num(obj["year"])),
		Mileage:      int(num(obj["mileage"])),
		PricePaid:    num(obj["price_paid"]),
		Trim:         str(obj["trim"]),
		FuelType:     str(obj["fuel_type"]),
		Transmission: str(obj["transmission"]),
		Condition:    str(obj["condition"]),
	}
}

func str(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// num accepts JSON numbers and strings like "$22,500" or "35,000 mi".
func num(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		s := strings.Map(func(r rune) rune {
			if (r >= '0' && r <= '9') || r == '.' || r == '-' {
				return r
			}
			return -1
		}, x)
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}
