package geofence

import (
	"math"
	"time"
)

// Coordinate is an immutable latitude/longitude pair in decimal degrees.
type Coordinate struct {
	Latitude  float64
	Longitude float64
}

// Reading is a single sample from a location provider. Fresher readings with
// better accuracy supersede older ones.
type Reading struct {
	Coordinate     Coordinate
	AccuracyMeters float64
	CapturedAt     time.Time
}

// Verdict classifies a coordinate against the campus fence.
type Verdict struct {
	DistanceKm float64
	OnCampus   bool
}

// Fence is a circular geofence around a campus center.
type Fence struct {
	Center   Coordinate
	RadiusKm float64
}

// Evaluate computes the great-circle distance from the fence center and
// whether the coordinate falls inside the radius. Pure and total: any two
// finite coordinates produce a result.
func (f Fence) Evaluate(c Coordinate) Verdict {
	d := DistanceKm(c, f.Center)
	return Verdict{DistanceKm: d, OnCampus: d <= f.RadiusKm}
}

const earthRadiusKm = 6371

// DistanceKm returns the haversine distance between two coordinates in km.
func DistanceKm(a, b Coordinate) float64 {
	dLat := (b.Latitude - a.Latitude) * (math.Pi / 180)
	dLon := (b.Longitude - a.Longitude) * (math.Pi / 180)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Latitude*(math.Pi/180))*math.Cos(b.Latitude*(math.Pi/180))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}
