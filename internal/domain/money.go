package domain

import "math"

// Round2 rounds a monetary amount to 2 decimals. Applied at every pricing
// composition step so repeated arithmetic cannot drift.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
