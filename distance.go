package geolocate

import (
	"math"

	"github.com/golang/geo/s1"
)

const (
	// EarthRadiusKm is the equatorial radius. Cell sizes given in kilometres
	// are converted with the degree length at the equator.
	EarthRadiusKm = 6378.137

	// KmPerDegree is the length of one degree of arc at the equator.
	KmPerDegree = 2 * math.Pi * EarthRadiusKm / 360
)

// DegreesForKm converts a distance along the equator to degrees.
func DegreesForKm(km float64) float64 {
	return km / KmPerDegree
}

// SphereDistanceKm returns the great-circle distance between a and b.
func SphereDistanceKm(a, b Coord) float64 {
	return AngleToKm(a.LatLng().Distance(b.LatLng()))
}

// AngleToKm converts a central angle to a surface distance.
func AngleToKm(a s1.Angle) float64 {
	return a.Radians() * EarthRadiusKm
}

// DegreeDistance is the naive Euclidean distance in degree space. It ignores
// both the date line and the convergence of meridians.
func DegreeDistance(a, b Coord) float64 {
	return math.Hypot(a.Lat-b.Lat, a.Long-b.Long)
}
