// Package routing resolves drive route polylines. The engine does not
// compute turn-by-turn paths itself; a Provider does, and in dev that
// is a canned GeoJSON file or the straight line between the endpoints.
package routing

import (
	"context"
	"fmt"
	"os"

	geojson "github.com/paulmach/go.geojson"

	"dodanati/corridor"
	"dodanati/models"
)

// Provider resolves the polyline for a planned trip.
type Provider interface {
	Route(ctx context.Context, origin, destination models.Point) (corridor.Route, error)
}

// StraightLine is the no-routing fallback: a single segment from origin
// to destination.
type StraightLine struct{}

func (StraightLine) Route(_ context.Context, origin, destination models.Point) (corridor.Route, error) {
	return corridor.Route{Origin: origin, Destination: destination}, nil
}

// FileProvider serves one fixed polyline loaded from a GeoJSON file.
// The requested endpoints are ignored; dev drives always follow the
// canned route.
type FileProvider struct {
	route corridor.Route
}

// LoadFile parses a GeoJSON document holding a LineString: bare, as a
// Feature, or as the first LineString feature of a collection.
func LoadFile(path string) (*FileProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read route file: %w", err)
	}
	line, err := extractLineString(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	route, err := routeFromLine(line)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &FileProvider{route: route}, nil
}

func (p *FileProvider) Route(context.Context, models.Point, models.Point) (corridor.Route, error) {
	return p.route, nil
}

// Polyline returns the loaded route for callers that drive it directly,
// like the position simulator.
func (p *FileProvider) Polyline() corridor.Route {
	return p.route
}

func extractLineString(data []byte) ([][]float64, error) {
	if fc, err := geojson.UnmarshalFeatureCollection(data); err == nil && fc.Type == "FeatureCollection" {
		for _, feature := range fc.Features {
			if feature.Geometry != nil && feature.Geometry.IsLineString() {
				return feature.Geometry.LineString, nil
			}
		}
		return nil, fmt.Errorf("no LineString feature in collection")
	}
	if f, err := geojson.UnmarshalFeature(data); err == nil && f.Geometry != nil && f.Geometry.IsLineString() {
		return f.Geometry.LineString, nil
	}
	if g, err := geojson.UnmarshalGeometry(data); err == nil && g.IsLineString() {
		return g.LineString, nil
	}
	return nil, fmt.Errorf("not a GeoJSON LineString document")
}

// routeFromLine converts GeoJSON [lng, lat] pairs into a route whose
// Waypoints carry the full polyline.
func routeFromLine(line [][]float64) (corridor.Route, error) {
	if len(line) < 2 {
		return corridor.Route{}, fmt.Errorf("route needs at least 2 coordinates, got %d", len(line))
	}
	points := make([]models.Point, len(line))
	for i, c := range line {
		if len(c) < 2 {
			return corridor.Route{}, fmt.Errorf("coordinate %d has %d components", i, len(c))
		}
		points[i] = models.Point{Lat: c[1], Lng: c[0]}
	}
	return corridor.Route{
		Origin:      points[0],
		Destination: points[len(points)-1],
		Waypoints:   points,
	}, nil
}
