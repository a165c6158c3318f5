// Package carsxe is the optional third-party valuation collaborator backed by
// the CarsXE market value API.
package carsxe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hupe1980/dealmesh/core"
)

// DefaultBaseURL is the public CarsXE endpoint.
const DefaultBaseURL = "https://api.carsxe.com"

// ErrNotConfigured is returned by Lookup when no API key is set.
var ErrNotConfigured = errors.New("carsxe: client unavailable, set an api key")

// Options configure the client.
type Options struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// Client looks up market values by VIN when the car has one and by
// year/make/model otherwise.
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

// Available reports whether the client has credentials.
func (c *Client) Available() bool { return c != nil && c.opts.APIKey != "" }

// Lookup implements core.Valuator.
func (c *Client) Lookup(ctx context.Context, car core.Car) (map[string]any, error) {
	if !c.Available() {
		return nil, ErrNotConfigured
	}
	params := url.Values{}
	params.Set("key", c.opts.APIKey)
	path := "/v1/ymm"
	if car.VIN != "" {
		path = "/v1/vin"
		params.Set("vin", car.VIN)
	} else {
		params.Set("year", strconv.Itoa(car.Year))
		params.Set("make", car.Make)
		params.Set("model", car.Model)
		if car.Trim != "" {
			params.Set("trim", car.Trim)
		}
	}
	params.Set("mileage", strconv.Itoa(car.Mileage))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("carsxe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("carsxe: lookup failed (%d): %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("carsxe: decode: %w", err)
	}
	return out, nil
}

// averageKeys are the payload fields holding an average market price, in
// lookup order.
var averageKeys = []string{"averageMarketPrice", "average_market_price", "average_price", "average"}

// AveragePrice extracts the average market price from a lookup payload.
func AveragePrice(raw map[string]any) (float64, bool) {
	for _, key := range averageKeys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		switch x := v.(type) {
		case float64:
			return x, x > 0
		case int:
			return float64(x), x > 0
		case string:
			f, err := strconv.ParseFloat(x, 64)
			if err == nil {
				return f, f > 0
			}
		case json.Number:
			f, err := x.Float64()
			if err == nil {
				return f, f > 0
			}
		}
	}
	return 0, false
}
