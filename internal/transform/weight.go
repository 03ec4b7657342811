package transform

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/catalog-sync/internal/types"
)

var (
	gramsPerPound    = decimal.RequireFromString("453.59")
	gramsPerOunce    = gramsPerPound.Div(decimal.NewFromInt(16))
	gramsPerKilogram = decimal.NewFromInt(1000)
)

// ParseWeightUnit reads the unit spellings used by the platforms
// (g, grams, GRAMS, kg, KILOGRAMS, lb, lbs, POUNDS, oz, OUNCES).
// Unknown units are treated as grams.
func ParseWeightUnit(s string) types.WeightUnit {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "kg", "kgs", "kilogram", "kilograms":
		return types.WeightUnitKilograms
	case "lb", "lbs", "pound", "pounds":
		return types.WeightUnitPounds
	case "oz", "ounce", "ounces":
		return types.WeightUnitOunces
	default:
		return types.WeightUnitGrams
	}
}

// ToGrams converts a weight to grams rounded to 0.01 g.
// 1 lb = 16 oz = 453.59 g; 1 kg = 1000 g.
func ToGrams(value decimal.Decimal, unit types.WeightUnit) decimal.Decimal {
	var grams decimal.Decimal
	switch unit {
	case types.WeightUnitKilograms:
		grams = value.Mul(gramsPerKilogram)
	case types.WeightUnitPounds:
		grams = value.Mul(gramsPerPound)
	case types.WeightUnitOunces:
		grams = value.Mul(gramsPerOunce)
	default:
		grams = value
	}
	return grams.Round(2)
}
