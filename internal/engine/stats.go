package engine

import "github.com/kjstillabower/climate-history-service/internal/models"

// summarize computes min, mean and max. The mean is clamped into [min, max] since
// summing identical values can round the quotient just past them.
func summarize(values []float64) models.TemperatureStats {
	if len(values) == 0 {
		return models.TemperatureStats{}
	}
	lo, hi, sum := values[0], values[0], 0.0
	for _, v := range values {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
		sum += v
	}
	avg := sum / float64(len(values))
	if avg < lo {
		avg = lo
	}
	if avg > hi {
		avg = hi
	}
	return models.TemperatureStats{Min: &lo, Avg: &avg, Max: &hi}
}
