package transform

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"github.com/catalog-sync/internal/types"
)

func TestHandleProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("slug normalization is idempotent", prop.ForAll(
		func(s string) bool {
			once := NormalizeSlug(s)
			return NormalizeSlug(once) == once
		},
		gen.AnyString(),
	))

	properties.Property("handles never start, end or double a dash", prop.ForAll(
		func(s string) bool {
			h := NormalizeSlug(s)
			return !strings.HasPrefix(h, "-") && !strings.HasSuffix(h, "-") && !strings.Contains(h, "--")
		},
		gen.AnyString(),
	))

	properties.Property("handle is deterministic and non-empty with an id", prop.ForAll(
		func(slug string, id uint32) bool {
			src := decimal.NewFromInt(int64(id) + 1).String()
			a := Handle(types.PlatformShopify, slug, src)
			b := Handle(types.PlatformShopify, slug, src)
			return a == b && a != ""
		},
		gen.AnyString(),
		gen.UInt32(),
	))

	properties.TestingRun(t)
}

func TestWeightProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	// weights in hundredths, 0.00 .. 1000.00
	hundredths := gen.Int64Range(0, 100000).Map(func(v int64) decimal.Decimal {
		return decimal.New(v, -2)
	})

	properties.Property("16 oz weigh the same as 1 lb", prop.ForAll(
		func(w decimal.Decimal) bool {
			return ToGrams(w.Mul(decimal.NewFromInt(16)), types.WeightUnitOunces).
				Equal(ToGrams(w, types.WeightUnitPounds))
		},
		hundredths,
	))

	properties.Property("kg is exactly 1000 g", prop.ForAll(
		func(w decimal.Decimal) bool {
			return ToGrams(w, types.WeightUnitKilograms).Equal(w.Mul(decimal.NewFromInt(1000)))
		},
		hundredths,
	))

	properties.Property("grams are rounded to 0.01", prop.ForAll(
		func(w decimal.Decimal, unit types.WeightUnit) bool {
			g := ToGrams(w, unit)
			return g.Equal(g.Round(2)) && !g.IsNegative()
		},
		hundredths,
		gen.OneConstOf(types.WeightUnitGrams, types.WeightUnitKilograms, types.WeightUnitPounds, types.WeightUnitOunces),
	))

	properties.TestingRun(t)
}

func TestParseWeightUnit(t *testing.T) {
	cases := map[string]types.WeightUnit{
		"POUNDS":    types.WeightUnitPounds,
		"lb":        types.WeightUnitPounds,
		"OUNCES":    types.WeightUnitOunces,
		"KILOGRAMS": types.WeightUnitKilograms,
		"kg":        types.WeightUnitKilograms,
		"GRAMS":     types.WeightUnitGrams,
		"":          types.WeightUnitGrams,
	}
	for in, want := range cases {
		if got := ParseWeightUnit(in); got != want {
			t.Errorf("ParseWeightUnit(%q) = %q, want %q", in, got, want)
		}
	}
}
