package types

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: ParsePlatform accepts exactly the known platforms and round-trips them
func TestParsePlatformProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("known platforms round-trip", prop.ForAll(
		func(p Platform) bool {
			got, err := ParsePlatform(string(p))
			return err == nil && got == p
		},
		gen.OneConstOf(PlatformShopify, PlatformWooCommerce),
	))

	properties.Property("other names are rejected", prop.ForAll(
		func(s string) bool {
			if s == string(PlatformShopify) || s == string(PlatformWooCommerce) {
				return true
			}
			_, err := ParsePlatform(s)
			return err != nil
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
