package server

import (
	"math"
	"testing"

	"dodanati/models"
)

func TestClusterLevelBounds(t *testing.T) {
	world := models.Viewport{MinLat: -80, MaxLat: 80, MinLng: -179, MaxLng: 179}
	if lv := clusterLevel(world, 160); lv != minClusterLevel {
		t.Errorf("world viewport level = %d, want %d", lv, minClusterLevel)
	}

	street := models.Viewport{MinLat: 36.7520, MaxLat: 36.7530, MinLng: 3.0415, MaxLng: 3.0425}
	if lv := clusterLevel(street, 160); lv != maxClusterLevel {
		t.Errorf("street viewport level = %d, want %d", lv, maxClusterLevel)
	}

	city := models.Viewport{MinLat: 36.65, MaxLat: 36.85, MinLng: 2.95, MaxLng: 3.15}
	if lv := clusterLevel(city, 160); lv <= minClusterLevel || lv >= maxClusterLevel {
		t.Errorf("city viewport level = %d, want strictly between %d and %d", lv, minClusterLevel, maxClusterLevel)
	}
}

func TestClusterAggregator(t *testing.T) {
	vp := models.Viewport{MinLat: 36.65, MaxLat: 36.85, MinLng: 2.95, MaxLng: 3.15}
	a := newClusterAggregator(vp, 160)

	// Three reports at the same crossing, one lone report 10km away.
	a.AddPoint(36.7850, 3.0590)
	a.AddPoint(36.7850, 3.0590)
	a.AddPoint(36.7850, 3.0590)
	a.AddPoint(36.7000, 2.9800)

	clusters := a.ToClusters()
	if len(clusters) != 2 {
		t.Fatalf("got %d clusters, want 2", len(clusters))
	}

	var total int64
	for _, c := range clusters {
		total += c.Count
	}
	if total != 4 {
		t.Errorf("cluster counts sum to %d, want 4", total)
	}

	for _, c := range clusters {
		if c.Count != 1 {
			continue
		}
		// A singleton keeps the hazard's exact position.
		if math.Abs(c.Lat-36.7000) > 1e-4 || math.Abs(c.Lng-2.9800) > 1e-4 {
			t.Errorf("singleton cluster landed at %f,%f, want 36.7,2.98", c.Lat, c.Lng)
		}
	}
}
