package geofence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var campus = Coordinate{Latitude: 18.4550, Longitude: 79.5217}

func TestEvaluate_AtCenter(t *testing.T) {
	fence := Fence{Center: campus, RadiusKm: 0.5}

	v := fence.Evaluate(campus)

	assert.InDelta(t, 0, v.DistanceKm, 1e-9)
	assert.True(t, v.OnCampus)
}

func TestEvaluate_JustOutsideRadius(t *testing.T) {
	fence := Fence{Center: campus, RadiusKm: 0.5}

	// One degree of latitude is ~111 km, so ~0.0050 degrees is ~555 m north
	// of the center: outside the 500 m fence.
	outside := Coordinate{Latitude: campus.Latitude + 0.0050, Longitude: campus.Longitude}

	v := fence.Evaluate(outside)

	assert.Greater(t, v.DistanceKm, fence.RadiusKm)
	assert.False(t, v.OnCampus)
}

func TestEvaluate_WellInsideRadius(t *testing.T) {
	fence := Fence{Center: campus, RadiusKm: 0.5}

	// ~110 m east of center.
	inside := Coordinate{Latitude: campus.Latitude, Longitude: campus.Longitude + 0.0010}

	v := fence.Evaluate(inside)

	assert.Less(t, v.DistanceKm, fence.RadiusKm)
	assert.True(t, v.OnCampus)
}

func TestDistanceKm_Symmetric(t *testing.T) {
	a := Coordinate{Latitude: 18.4550, Longitude: 79.5217}
	b := Coordinate{Latitude: 17.3850, Longitude: 78.4867}

	assert.InDelta(t, DistanceKm(a, b), DistanceKm(b, a), 1e-9)
}
