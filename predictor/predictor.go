// Package predictor provides the residual-value regression collaborator: a
// feature adapter mapping raw car attributes onto the engineered schema and a
// linear model on log1p(price) loaded from a YAML artifact.
package predictor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/dealmesh/core"
)

// Feature names of the engineered schema.
const (
	FeatureHP                 = "hp"
	FeatureEngineDisplacement = "engine displacement"
	FeatureVehicleAge         = "Vehicle_Age"
	FeatureMileagePerYear     = "Mileage_per_Year"
	FeatureFuelType           = "fuel_type"
	FeatureTransmission       = "transmission"
	FeatureVEngine            = "is_v_engine"
	FeatureCleanTitle         = "clean_title"
)

// ErrInvalidModel is returned when an artifact cannot be used.
var ErrInvalidModel = errors.New("predictor: invalid model artifact")

// Features adapts raw car attributes into the engineered feature map. Age is
// measured against now's year and never negative; mileage per year falls back
// to total mileage for brand-new cars.
func Features(car core.Car, now time.Time) core.Features {
	age := car.Age(now)
	perYear := float64(car.Mileage)
	if age > 0 {
		perYear = float64(car.Mileage) / float64(age)
	}
	return core.Features{
		FeatureHP:                 car.Horsepower,
		FeatureEngineDisplacement: car.EngineDisplacement,
		FeatureVehicleAge:         age,
		FeatureMileagePerYear:     perYear,
		FeatureFuelType:           orOther(car.FuelType),
		FeatureTransmission:       orOther(car.Transmission),
		FeatureVEngine:            boolToInt(car.VEngine),
		FeatureCleanTitle:         boolToInt(car.CleanTitle),
	}
}

func orOther(s string) string {
	if strings.TrimSpace(s) == "" {
		return "OTHER"
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Linear is a linear regression on numeric features plus per-category offsets.
type Linear struct {
	Name         string                        `yaml:"name"`
	Target       string                        `yaml:"target"` // log1p or identity
	Intercept    float64                       `yaml:"intercept"`
	Coefficients map[string]float64            `yaml:"coefficients"`
	Categorical  map[string]map[string]float64 `yaml:"categorical"`
}

// Load reads a YAML artifact from path.
func Load(path string) (*Linear, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("predictor: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes a YAML artifact.
func Parse(raw []byte) (*Linear, error) {
	var m Linear
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	if len(m.Coefficients) == 0 {
		return nil, fmt.Errorf("%w: no coefficients", ErrInvalidModel)
	}
	switch m.Target {
	case "", "log1p":
		m.Target = "log1p"
	case "identity":
	default:
		return nil, fmt.Errorf("%w: unknown target %q", ErrInvalidModel, m.Target)
	}
	return &m, nil
}

// Predict implements core.Predictor.
func (m *Linear) Predict(ctx context.Context, features core.Features) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	y := m.Intercept
	for name, coef := range m.Coefficients {
		v, ok := features[name]
		if !ok {
			continue
		}
		x, err := toFloat(v)
		if err != nil {
			return 0, fmt.Errorf("predictor: feature %q: %w", name, err)
		}
		y += coef * x
	}
	for name, levels := range m.Categorical {
		v, ok := features[name]
		if !ok {
			continue
		}
		y += levels[strings.ToUpper(fmt.Sprint(v))]
	}
	if m.Target == "log1p" {
		y = math.Expm1(y)
	}
	if math.IsNaN(y) || math.IsInf(y, 0) {
		return 0, fmt.Errorf("predictor: non-finite prediction")
	}
	return y, nil
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}
