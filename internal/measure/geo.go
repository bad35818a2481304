package measure

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// EarthRadiusKm is the mean earth radius used for straight-line distances.
const EarthRadiusKm = 6371.0

// StraightLineLabel is the duration label of line records.
const StraightLineLabel = "straight line"

// HaversineKm returns the great-circle distance between a and b.
func HaversineKm(a, b orb.Point) float64 {
	lat1 := deg2rad(a.Lat())
	lat2 := deg2rad(b.Lat())
	dLat := lat2 - lat1
	dLon := deg2rad(b.Lon() - a.Lon())

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// FormatDuration renders seconds as "1 h 5 min", or "25 min" under an hour.
func FormatDuration(seconds float64) string {
	total := int(math.Round(seconds / 60))
	if total < 0 {
		total = 0
	}
	h, m := total/60, total%60
	if h == 0 {
		return fmt.Sprintf("%d min", m)
	}
	return fmt.Sprintf("%d h %d min", h, m)
}

func deg2rad(d float64) float64 { return d * math.Pi / 180 }
