package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidCar is returned by Car.Validate for records that cannot be analysed.
var ErrInvalidCar = errors.New("invalid car")

// Car is the input record of one analysis. It is set once when the state is
// created and treated as read-only by every worker.
type Car struct {
	Make      string  `json:"make" yaml:"make"`
	Model     string  `json:"model" yaml:"model"`
	Year      int     `json:"year" yaml:"year"`
	Mileage   int     `json:"mileage" yaml:"mileage"`
	PricePaid float64 `json:"price_paid" yaml:"price_paid"`

	Trim               string  `json:"trim,omitempty" yaml:"trim,omitempty"`
	VIN                string  `json:"vin,omitempty" yaml:"vin,omitempty"`
	FuelType           string  `json:"fuel_type,omitempty" yaml:"fuel_type,omitempty"`
	Transmission       string  `json:"transmission,omitempty" yaml:"transmission,omitempty"`
	Horsepower         float64 `json:"hp,omitempty" yaml:"hp,omitempty"`
	EngineDisplacement float64 `json:"engine_displacement,omitempty" yaml:"engine_displacement,omitempty"`
	VEngine            bool    `json:"is_v_engine,omitempty" yaml:"is_v_engine,omitempty"`
	Condition          string  `json:"condition,omitempty" yaml:"condition,omitempty"`
	AccidentHistory    string  `json:"accident_history,omitempty" yaml:"accident_history,omitempty"`
	CleanTitle         bool    `json:"clean_title,omitempty" yaml:"clean_title,omitempty"`

	// Index is the position of the car in its batch.
	Index int `json:"index" yaml:"-"`
}

// Title renders "2020 Toyota Camry".
func (c Car) Title() string {
	return strings.TrimSpace(fmt.Sprintf("%d %s %s", c.Year, c.Make, c.Model))
}

// Age returns the vehicle age in whole years relative to now. It never goes
// below zero.
func (c Car) Age(now time.Time) int {
	if c.Year <= 0 {
		return 0
	}
	return max(now.Year()-c.Year, 0)
}

// Context returns the basic identity fields used as agent-log payloads.
func (c Car) Context() map[string]any {
	return map[string]any{
		"year":       c.Year,
		"make":       c.Make,
		"model":      c.Model,
		"mileage":    c.Mileage,
		"price_paid": c.PricePaid,
	}
}

// Validate checks the identity fields every worker depends on.
func (c Car) Validate() error {
	switch {
	case strings.TrimSpace(c.Make) == "":
		return fmt.Errorf("%w: make is required", ErrInvalidCar)
	case strings.TrimSpace(c.Model) == "":
		return fmt.Errorf("%w: model is required", ErrInvalidCar)
	case c.Year < 1900:
		return fmt.Errorf("%w: year %d out of range", ErrInvalidCar, c.Year)
	case c.Mileage < 0:
		return fmt.Errorf("%w: negative mileage", ErrInvalidCar)
	case c.PricePaid <= 0:
		return fmt.Errorf("%w: price_paid must be positive", ErrInvalidCar)
	}
	return nil
}
