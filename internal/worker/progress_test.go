package worker

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestEstimatePercent(t *testing.T) {
	tests := []struct {
		name   string
		synced int
		total  *int
		want   float64
	}{
		{"nothing synced", 0, nil, 0},
		{"known total", 250, intPtr(1000), 25},
		{"known total capped", 1000, intPtr(1000), 95},
		{"estimated small catalog", 500, nil, 50},
		{"estimated large catalog", 5000, nil, 83.3},
		{"zero total falls back to estimate", 100, intPtr(0), 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimatePercent(tt.synced, tt.total))
		})
	}
}

func TestEstimatedTotal(t *testing.T) {
	assert.Equal(t, 1000, EstimatedTotal(10, nil))
	assert.Equal(t, 6000, EstimatedTotal(5000, nil))
	assert.Equal(t, 42, EstimatedTotal(10, intPtr(42)))
}

func TestProgressProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("percent never decreases as more products sync", prop.ForAll(
		func(a, b, total int) bool {
			lo, hi := min(a, b), max(a, b)
			return EstimatePercent(lo, &total) <= EstimatePercent(hi, &total) &&
				EstimatePercent(lo, nil) <= EstimatePercent(hi, nil)
		},
		gen.IntRange(0, 200000),
		gen.IntRange(0, 200000),
		gen.IntRange(1, 100000),
	))

	properties.Property("running runs stay below completion", prop.ForAll(
		func(synced, total int) bool {
			return EstimatePercent(synced, &total) <= 95 && EstimatePercent(synced, nil) <= 90
		},
		gen.IntRange(0, 1000000),
		gen.IntRange(1, 1000000),
	))

	properties.TestingRun(t)
}
