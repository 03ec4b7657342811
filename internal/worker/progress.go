package worker

import "math"

const (
	knownTotalCap     = 95.0
	estimatedTotalCap = 90.0
	minEstimatedTotal = 1000
)

// EstimatePercent returns the progress shown while a run is active. With a
// reported total it is synced/total capped at 95%; without one the total is
// estimated as max(synced*1.2, 1000) and the result capped at 90%. Only a
// finished run reports 100%.
func EstimatePercent(synced int, total *int) float64 {
	if synced <= 0 {
		return 0
	}
	if total != nil && *total > 0 {
		return round1(math.Min(float64(synced)/float64(*total)*100, knownTotalCap))
	}
	estimated := math.Max(float64(synced)*1.2, minEstimatedTotal)
	return round1(math.Min(float64(synced)/estimated*100, estimatedTotalCap))
}

// EstimatedTotal is the denominator EstimatePercent used
func EstimatedTotal(synced int, total *int) int {
	if total != nil && *total > 0 {
		return *total
	}
	return int(math.Max(math.Ceil(float64(synced)*1.2), minEstimatedTotal))
}

func round1(v float64) float64 {
	return math.Floor(v*10) / 10
}
