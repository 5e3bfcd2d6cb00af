package server

import (
	"github.com/golang/geo/r1"
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"

	"dodanati/models"
)

// Cluster cell levels bracket a whole-city overview (6) and street
// level (16).
const (
	minClusterLevel = 6
	maxClusterLevel = 16
)

type clusterCell struct {
	count    int64
	origCell s2.CellID
}

// clusterAggregator folds hazard points into S2 cells sized so the
// viewport holds roughly targetCells clusters.
type clusterAggregator struct {
	level int
	cells map[s2.CellID]*clusterCell
}

func clusterLevel(vp models.Viewport, targetCells int) int {
	minLL := s2.LatLngFromDegrees(vp.MinLat, vp.MinLng)
	maxLL := s2.LatLngFromDegrees(vp.MaxLat, vp.MaxLng)

	rect := s2.Rect{
		Lat: r1.Interval{
			Lo: minLL.Lat.Radians(),
			Hi: maxLL.Lat.Radians()},
		Lng: s1.Interval{
			Lo: minLL.Lng.Radians(),
			Hi: maxLL.Lng.Radians()},
	}

	vpArea := rect.Area()

	center := vp.Center()
	centerCell := s2.CellIDFromLatLng(s2.LatLngFromDegrees(center.Lat, center.Lng))

	for lv := maxClusterLevel; lv >= minClusterLevel; lv-- {
		cc := s2.CellFromCellID(centerCell.Parent(lv))
		if vpArea/cc.ApproxArea() < float64(targetCells) {
			return lv
		}
	}
	return minClusterLevel // Large enough level
}

func newClusterAggregator(vp models.Viewport, targetCells int) clusterAggregator {
	return clusterAggregator{
		level: clusterLevel(vp, targetCells),
		cells: make(map[s2.CellID]*clusterCell),
	}
}

func (a *clusterAggregator) AddPoint(lat, lng float64) {
	pc := s2.CellIDFromLatLng(s2.LatLngFromDegrees(lat, lng))
	parent := pc.Parent(a.level)
	if _, ok := a.cells[parent]; !ok {
		a.cells[parent] = &clusterCell{}
	}
	a.cells[parent].count += 1
	a.cells[parent].origCell = pc
}

// ToClusters renders the cells. A cell holding a single hazard keeps the
// hazard's exact position instead of snapping to the cell center.
func (a *clusterAggregator) ToClusters() []models.HazardCluster {
	r := make([]models.HazardCluster, 0, len(a.cells))
	for c, cell := range a.cells {
		ll := c.LatLng()
		if cell.count == 1 {
			ll = cell.origCell.LatLng()
		}
		r = append(r, models.HazardCluster{
			Lat:   ll.Lat.Degrees(),
			Lng:   ll.Lng.Degrees(),
			Count: cell.count,
		})
	}
	return r
}
