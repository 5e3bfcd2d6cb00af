// Package corridor decides which hazards matter for a planned route by
// testing them against a fixed-width buffer around the route polyline.
// Everything here is pure; the same functions back the offline summary
// and the route-summary endpoint.
package corridor

import (
	"math"

	"dodanati/geomath"
	"dodanati/models"
)

const (
	// DefaultWidthMeters is the corridor half-width used by the app.
	DefaultWidthMeters = 80.0

	// bboxPadDeg pads a segment's bounding box before the exact distance
	// check, roughly 200 m. Safe for the corridor widths the app uses.
	bboxPadDeg = 0.002
)

// Route is a planned trip. Waypoints holds the routing polyline when one
// was available; with one point or none the route degrades to the
// straight origin to destination segment.
type Route struct {
	Origin      models.Point   `json:"origin"`
	Destination models.Point   `json:"destination"`
	Waypoints   []models.Point `json:"waypoints,omitempty"`
}

type segment struct {
	a, b models.Point
}

func (r Route) segments() []segment {
	if len(r.Waypoints) > 1 {
		segs := make([]segment, 0, len(r.Waypoints)-1)
		for i := 1; i < len(r.Waypoints); i++ {
			segs = append(segs, segment{r.Waypoints[i-1], r.Waypoints[i]})
		}
		return segs
	}
	return []segment{{r.Origin, r.Destination}}
}

// DistanceKm is the length of the polyline, or of the straight segment
// when there is no polyline.
func (r Route) DistanceKm() float64 {
	if len(r.Waypoints) > 1 {
		var total float64
		for i := 1; i < len(r.Waypoints); i++ {
			total += geomath.HaversineKm(r.Waypoints[i-1], r.Waypoints[i])
		}
		return total
	}
	return geomath.HaversineKm(r.Origin, r.Destination)
}

// InCorridor reports whether the hazard lies within widthMeters of the
// route. Segments whose padded bounding box misses the hazard are skipped
// without computing a distance, and the scan stops at the first segment
// close enough, so the minimum found is not necessarily the global one.
func InCorridor(h *models.HazardReport, route Route, widthMeters float64) bool {
	p := models.Point{Lat: h.Lat, Lng: h.Lng}
	min := math.MaxFloat64
	for _, seg := range route.segments() {
		if !inPaddedBBox(p, seg.a, seg.b) {
			continue
		}
		if d := geomath.PointToSegmentMeters(p, seg.a, seg.b); d < min {
			min = d
		}
		if min <= widthMeters {
			return true
		}
	}
	return min <= widthMeters
}

// Filter returns the active hazards inside the corridor, in input order.
func Filter(hazards []models.HazardReport, route Route, widthMeters float64) []models.HazardReport {
	out := make([]models.HazardReport, 0)
	for i := range hazards {
		if !hazards[i].IsActive {
			continue
		}
		if InCorridor(&hazards[i], route, widthMeters) {
			out = append(out, hazards[i])
		}
	}
	return out
}

// Summarize builds the route summary: total distance plus a per-category
// count of the active hazards inside the corridor. Pure function of its
// inputs, so the offline and the server-computed summaries agree.
func Summarize(hazards []models.HazardReport, route Route, widthMeters float64) models.RouteSummary {
	counts := make(map[int]int)
	relevant := Filter(hazards, route, widthMeters)
	for i := range relevant {
		counts[relevant[i].CategoryID]++
	}

	byCategory := make([]models.CategoryCount, 0, len(counts))
	for _, cat := range models.Categories {
		n, ok := counts[cat.ID]
		if !ok {
			continue
		}
		byCategory = append(byCategory, models.CategoryCount{
			CategoryID: cat.ID,
			Slug:       cat.Slug,
			Names:      cat.Names,
			Count:      n,
		})
	}

	return models.RouteSummary{
		DistanceKm:   round2(route.DistanceKm()),
		HazardsCount: len(relevant),
		ByCategory:   byCategory,
	}
}

func inPaddedBBox(p, a, b models.Point) bool {
	minLat := math.Min(a.Lat, b.Lat) - bboxPadDeg
	maxLat := math.Max(a.Lat, b.Lat) + bboxPadDeg
	minLng := math.Min(a.Lng, b.Lng) - bboxPadDeg
	maxLng := math.Max(a.Lng, b.Lng) + bboxPadDeg
	return p.Lat >= minLat && p.Lat <= maxLat && p.Lng >= minLng && p.Lng <= maxLng
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
