// Package geo provides the geofence check consumed by the response flow.
// Check is a pure function; it performs no I/O and holds no state.
package geo

import "math"

const earthRadiusMeters = 6371000

// Result reports a position against a circular fence.
type Result struct {
	IsInside       bool    `json:"is_inside"`
	DistanceMeters float64 `json:"distance_meters"`
}

// Check returns whether (lat, lng) lies within radiusMeters of the fence
// centre, along with the great-circle distance.
func Check(centerLat, centerLng, lat, lng, radiusMeters float64) Result {
	d := Distance(centerLat, centerLng, lat, lng)
	return Result{IsInside: d <= radiusMeters, DistanceMeters: d}
}

// Distance computes the haversine great-circle distance in meters.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := radians(lat1)
	phi2 := radians(lat2)
	dPhi := radians(lat2 - lat1)
	dLambda := radians(lng2 - lng1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
