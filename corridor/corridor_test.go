package corridor

import (
	"testing"

	"dodanati/models"
)

// A short drive through Algiers, polyline passing within ~20 m of the
// pothole at 36.76,3.05.
var algiersRoute = Route{
	Origin:      models.Point{Lat: 36.7525, Lng: 3.04197},
	Destination: models.Point{Lat: 36.77, Lng: 3.06},
	Waypoints: []models.Point{
		{Lat: 36.7525, Lng: 3.04197},
		{Lat: 36.755, Lng: 3.044},
		{Lat: 36.758, Lng: 3.047},
		{Lat: 36.76, Lng: 3.0502},
		{Lat: 36.763, Lng: 3.053},
		{Lat: 36.766, Lng: 3.056},
		{Lat: 36.77, Lng: 3.06},
	},
}

func activeHazard(id int64, categoryID int, lat, lng float64) models.HazardReport {
	return models.HazardReport{
		ID:         id,
		CategoryID: categoryID,
		Severity:   3,
		Lat:        lat,
		Lng:        lng,
		IsActive:   true,
	}
}

func TestSummarizeAlgiersCorridor(t *testing.T) {
	hazards := []models.HazardReport{
		activeHazard(1, 2, 36.76, 3.05),     // pothole right on the route
		activeHazard(2, 1, 36.80, 3.10),     // speed bump far away
		activeHazard(3, 5, 36.7525, 3.2000), // flooding off to the east
	}

	sum := Summarize(hazards, algiersRoute, 80)

	if sum.HazardsCount != 1 {
		t.Fatalf("HazardsCount = %d, expected 1", sum.HazardsCount)
	}
	if len(sum.ByCategory) != 1 || sum.ByCategory[0].Slug != "pothole" || sum.ByCategory[0].Count != 1 {
		t.Errorf("ByCategory = %+v, expected one pothole", sum.ByCategory)
	}
	if sum.DistanceKm < 2.4 || sum.DistanceKm > 2.7 {
		t.Errorf("DistanceKm = %f, expected roughly 2.5", sum.DistanceKm)
	}
}

func TestFilterSkipsInactive(t *testing.T) {
	onRoute := activeHazard(1, 2, 36.76, 3.05)
	onRoute.IsActive = false

	got := Filter([]models.HazardReport{onRoute}, algiersRoute, 80)
	if len(got) != 0 {
		t.Errorf("Filter = %+v, expected inactive hazards dropped", got)
	}
}

func TestFilterExactWidth(t *testing.T) {
	// Constant-latitude segment; the hazard sits 150 m north of it.
	route := Route{
		Origin:      models.Point{Lat: 36.76, Lng: 3.05},
		Destination: models.Point{Lat: 36.76, Lng: 3.06},
	}
	h := activeHazard(1, 3, 36.7613477, 3.055)

	if got := Filter([]models.HazardReport{h}, route, 160); len(got) != 1 {
		t.Errorf("width 160: Filter = %+v, expected the hazard included", got)
	}
	if got := Filter([]models.HazardReport{h}, route, 140); len(got) != 0 {
		t.Errorf("width 140: Filter = %+v, expected the hazard excluded", got)
	}
}

func TestStraightLineFallback(t *testing.T) {
	// No polyline at all: the corridor is the straight segment.
	route := Route{
		Origin:      models.Point{Lat: 36.7525, Lng: 3.04197},
		Destination: models.Point{Lat: 36.77, Lng: 3.06},
	}
	mid := activeHazard(1, 4, 36.76125, 3.050985)
	far := activeHazard(2, 4, 36.70, 3.20)

	got := Filter([]models.HazardReport{mid, far}, route, 80)
	if len(got) != 1 || got[0].ID != 1 {
		t.Errorf("Filter = %+v, expected only the midpoint hazard", got)
	}

	sum := Summarize(nil, route, 80)
	if sum.DistanceKm < 2.4 || sum.DistanceKm > 2.7 {
		t.Errorf("straight DistanceKm = %f, expected roughly 2.5", sum.DistanceKm)
	}
}

func TestZeroLengthRoute(t *testing.T) {
	// Origin and destination identical; must not blow up, the corridor
	// degrades to a disc around the point.
	p := models.Point{Lat: 36.76, Lng: 3.05}
	route := Route{Origin: p, Destination: p}
	near := activeHazard(1, 2, 36.7604, 3.05) // ~45 m north

	got := Filter([]models.HazardReport{near}, route, 80)
	if len(got) != 1 {
		t.Errorf("Filter = %+v, expected the nearby hazard", got)
	}
}

func TestSummarizeGroupsByCategory(t *testing.T) {
	hazards := []models.HazardReport{
		activeHazard(1, 2, 36.76, 3.05),
		activeHazard(2, 2, 36.758, 3.047),
		activeHazard(3, 1, 36.7525, 3.04197),
	}

	sum := Summarize(hazards, algiersRoute, 80)

	if sum.HazardsCount != 3 {
		t.Fatalf("HazardsCount = %d, expected 3", sum.HazardsCount)
	}
	if len(sum.ByCategory) != 2 {
		t.Fatalf("ByCategory = %+v, expected two rows", sum.ByCategory)
	}
	// Rows come out in taxonomy order.
	if sum.ByCategory[0].Slug != "speed_bump" || sum.ByCategory[0].Count != 1 {
		t.Errorf("ByCategory[0] = %+v, expected speed_bump x1", sum.ByCategory[0])
	}
	if sum.ByCategory[1].Slug != "pothole" || sum.ByCategory[1].Count != 2 {
		t.Errorf("ByCategory[1] = %+v, expected pothole x2", sum.ByCategory[1])
	}
}

func TestSummarizeEmpty(t *testing.T) {
	sum := Summarize(nil, algiersRoute, 80)
	if sum.HazardsCount != 0 || len(sum.ByCategory) != 0 {
		t.Errorf("empty Summarize = %+v, expected zero counts", sum)
	}
	if sum.DistanceKm <= 0 {
		t.Errorf("DistanceKm = %f, expected the route length regardless of hazards", sum.DistanceKm)
	}
}
