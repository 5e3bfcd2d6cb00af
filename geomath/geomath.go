// Package geomath holds the pure distance/bearing kernel shared by the
// corridor analyzer, the hazard repository and the proximity alerting.
package geomath

import (
	"math"

	"dodanati/models"
)

const (
	earthRadiusKm = 6371.0

	// Local equirectangular scale. Valid for segments up to a few km.
	metersPerDegLat = 111320.0

	// Segments shorter than this (squared meters) are treated as points.
	minSegmentLen2 = 1e-9
)

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// HaversineKm returns the great-circle distance between two points in
// kilometers. Symmetric; zero for identical points.
func HaversineKm(a, b models.Point) float64 {
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)
	latA := toRadians(a.Lat)
	latB := toRadians(b.Lat)

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	h := sinLat*sinLat + math.Cos(latA)*math.Cos(latB)*sinLng*sinLng
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

// HaversineMeters is HaversineKm in meters.
func HaversineMeters(a, b models.Point) float64 {
	return HaversineKm(a, b) * 1000
}

// PointToSegmentMeters returns the distance from p to the segment s-e,
// projected on a flat plane centered at the mean latitude of the three
// points. The projection parameter is clamped to [0,1]; degenerate
// segments collapse to s.
func PointToSegmentMeters(p, s, e models.Point) float64 {
	midLat := (p.Lat + s.Lat + e.Lat) / 3
	mPerDegLng := metersPerDegLat * math.Cos(toRadians(midLat))

	px := (p.Lng - s.Lng) * mPerDegLng
	py := (p.Lat - s.Lat) * metersPerDegLat
	ex := (e.Lng - s.Lng) * mPerDegLng
	ey := (e.Lat - s.Lat) * metersPerDegLat

	t := 0.0
	len2 := ex*ex + ey*ey
	if len2 > minSegmentLen2 {
		t = (px*ex + py*ey) / len2
		if t < 0 {
			t = 0
		} else if t > 1 {
			t = 1
		}
	}

	dx := px - t*ex
	dy := py - t*ey
	return math.Sqrt(dx*dx + dy*dy)
}

// BearingDeg returns the initial great-circle bearing from one point to
// another, in [0, 360).
func BearingDeg(from, to models.Point) float64 {
	latF := toRadians(from.Lat)
	latT := toRadians(to.Lat)
	dLng := toRadians(to.Lng - from.Lng)

	y := math.Sin(dLng) * math.Cos(latT)
	x := math.Cos(latF)*math.Sin(latT) - math.Sin(latF)*math.Cos(latT)*math.Cos(dLng)
	return normalizeDeg(math.Atan2(y, x) * 180 / math.Pi)
}

// HeadingDelta returns the signed shortest rotation from heading a to
// heading b, in (-180, 180].
func HeadingDelta(a, b float64) float64 {
	d := math.Mod(b-a, 360)
	if d > 180 {
		d -= 360
	} else if d <= -180 {
		d += 360
	}
	return d
}

// SmoothHeading applies exponential smoothing to a circular heading:
// the signed shortest delta from prev to next is scaled by alpha and the
// result wrapped into [0, 360). A transition from 359 to 2 degrees moves
// through 0, never the long way around.
func SmoothHeading(prev, next, alpha float64) float64 {
	return normalizeDeg(prev + alpha*HeadingDelta(prev, next))
}

// ZoomLevel derives a web-map zoom level from a viewport longitude span:
// round(log2(360/span)). Spans at or below zero yield the maximum level.
func ZoomLevel(lngSpan float64) int {
	if lngSpan <= 0 {
		return 21
	}
	z := math.Round(math.Log2(360 / lngSpan))
	if z < 0 {
		return 0
	}
	if z > 21 {
		return 21
	}
	return int(z)
}

func normalizeDeg(deg float64) float64 {
	d := math.Mod(deg, 360)
	if d < 0 {
		d += 360
	}
	return d
}
