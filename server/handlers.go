package server

import (
	"database/sql"
	"encoding/json"
	"math"
	"net/http"
	"time"

	"dodanati/api"
	"dodanati/config"
	"dodanati/corridor"
	"dodanati/geomath"
	"dodanati/metrics"
	"dodanati/models"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var feedUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for now
		return true
	},
}

// Handlers holds all HTTP handlers
type Handlers struct {
	db  *sql.DB
	hub *Hub
	cfg *config.Server
}

// NewHandlers creates the endpoint set backed by the given database and
// live feed hub.
func NewHandlers(db *sql.DB, hub *Hub, cfg *config.Server) *Handlers {
	return &Handlers{db: db, hub: hub, cfg: cfg}
}

// Submit accepts a single hazard report from a connected device.
func (h *Handlers) Submit(c *gin.Context) {
	var args api.SubmitArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		log.Warnf("Invalid submit request body: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if args.DeviceUUID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device_uuid is required"})
		return
	}

	draft := models.ReportDraft{
		CategoryID: args.CategoryID,
		Severity:   args.Severity,
		Note:       args.Note,
		Lat:        args.Lat,
		Lng:        args.Lng,
	}
	if err := models.ValidateDraft(&draft); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hazard, merged, dist, err := saveHazard(h.db, h.cfg, incomingReport{
		DeviceUUID: args.DeviceUUID,
		CategoryID: args.CategoryID,
		Severity:   args.Severity,
		Note:       args.Note,
		Lat:        args.Lat,
		Lng:        args.Lng,
		Platform:   args.Platform,
		AppVersion: args.AppVersion,
		Locale:     args.Locale,
		ReportedAt: time.Now().UTC(),
	})
	if err != nil {
		log.Errorf("Failed to save hazard report: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save hazard report"})
		return
	}

	if merged {
		metrics.HazardsMergedTotal.Inc()
		h.hub.BroadcastEvent(api.ActionMerged, hazard)
	} else {
		metrics.HazardsCreatedTotal.Inc()
		h.hub.BroadcastEvent(api.ActionCreated, hazard)
	}

	c.JSON(http.StatusOK, api.SubmitResult{
		Data: hazard,
		Meta: api.SubmitMeta{Merged: merged, DistanceM: dist, ReportsCount: hazard.ReportsCount},
	})
}

// BulkSync drains a device's offline queue in one request. Items are
// processed independently; a bad item is counted as failed and the rest
// still land.
func (h *Handlers) BulkSync(c *gin.Context) {
	var args api.BulkArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		log.Warnf("Invalid bulk sync request body: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if args.DeviceUUID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device_uuid is required"})
		return
	}
	if len(args.Items) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No items to sync"})
		return
	}

	created := 0
	failed := 0
	saved := make([]models.HazardReport, 0, len(args.Items))
	for _, item := range args.Items {
		draft := models.ReportDraft{
			CategoryID: item.CategoryID,
			Severity:   item.Severity,
			Note:       item.Note,
			Lat:        item.Lat,
			Lng:        item.Lng,
		}
		if err := models.ValidateDraft(&draft); err != nil {
			log.Warnf("Skipping invalid bulk item %q: %v", item.ClientRef, err)
			metrics.BulkItemsTotal.WithLabelValues("failed").Inc()
			failed++
			continue
		}

		reportedAt := time.Now().UTC()
		if item.QueuedAt > 0 {
			reportedAt = time.UnixMilli(item.QueuedAt).UTC()
		}

		hazard, merged, _, err := saveHazard(h.db, h.cfg, incomingReport{
			DeviceUUID: args.DeviceUUID,
			CategoryID: item.CategoryID,
			Severity:   item.Severity,
			Note:       item.Note,
			Lat:        item.Lat,
			Lng:        item.Lng,
			ClientRef:  item.ClientRef,
			Platform:   args.Platform,
			AppVersion: args.AppVersion,
			Locale:     args.Locale,
			ReportedAt: reportedAt,
		})
		if err != nil {
			log.Errorf("Failed to save bulk item %q: %v", item.ClientRef, err)
			metrics.BulkItemsTotal.WithLabelValues("failed").Inc()
			failed++
			continue
		}

		created++
		if merged {
			metrics.HazardsMergedTotal.Inc()
			metrics.BulkItemsTotal.WithLabelValues("merged").Inc()
			h.hub.BroadcastEvent(api.ActionMerged, hazard)
		} else {
			metrics.HazardsCreatedTotal.Inc()
			metrics.BulkItemsTotal.WithLabelValues("created").Inc()
			h.hub.BroadcastEvent(api.ActionCreated, hazard)
		}
		saved = append(saved, hazard)
	}

	log.Infof("Bulk sync from device %s: %d saved, %d failed", args.DeviceUUID, created, failed)

	c.JSON(http.StatusOK, api.BulkResult{
		Data: saved,
		Meta: api.BulkMeta{CreatedCount: created, FailedCount: failed},
	})
}

// Nearby returns the active hazards for a viewport, either as raw points
// or aggregated clusters. Mode auto resolves to points close in and
// clusters zoomed out, unless the viewport is sparse enough that points
// are cheap anyway.
func (h *Handlers) Nearby(c *gin.Context) {
	var q api.NearbyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters"})
		return
	}

	vp := models.Viewport{MinLat: q.MinLat, MaxLat: q.MaxLat, MinLng: q.MinLng, MaxLng: q.MaxLng}
	if vp.MinLat >= vp.MaxLat || vp.MinLng >= vp.MaxLng {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid viewport"})
		return
	}

	zoom := q.Zoom
	if zoom == 0 {
		zoom = geomath.ZoomLevel(vp.MaxLng - vp.MinLng)
	}

	total, err := countActiveInViewport(h.db, vp)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query hazards"})
		return
	}

	mode := q.Mode
	if mode == "" || mode == api.ModeAuto {
		if zoom >= h.cfg.PointsMinZoom || total <= h.cfg.PointsMaxRows {
			mode = api.ModePoints
		} else {
			mode = api.ModeClusters
		}
	}

	switch mode {
	case api.ModePoints:
		points, err := getActiveInViewport(h.db, vp, maxPointRows)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query hazards"})
			return
		}
		data, err := json.Marshal(points)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to encode hazards"})
			return
		}
		metrics.NearbyRequestsTotal.WithLabelValues(api.ModePoints).Inc()
		c.JSON(http.StatusOK, api.NearbyResult{
			Mode: api.ModePoints,
			Data: data,
			Meta: api.NearbyMeta{TotalInRadius: total, Returned: len(points)},
		})

	case api.ModeClusters:
		points, err := getActiveInViewport(h.db, vp, maxClusterRows)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query hazards"})
			return
		}
		aggr := newClusterAggregator(vp, h.cfg.ClusterTargets)
		for _, p := range points {
			aggr.AddPoint(p.Lat, p.Lng)
		}
		clusters := aggr.ToClusters()
		data, err := json.Marshal(clusters)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to encode clusters"})
			return
		}
		metrics.NearbyRequestsTotal.WithLabelValues(api.ModeClusters).Inc()
		c.JSON(http.StatusOK, api.NearbyResult{
			Mode: api.ModeClusters,
			Data: data,
			Meta: api.NearbyMeta{TotalInRadius: total, Returned: len(clusters)},
		})

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown mode"})
	}
}

// RouteSummary counts the active hazards inside a route corridor. The
// exact cut is the same segment-distance filter the mobile engine runs
// offline, so both sides agree on what the corridor contains.
func (h *Handlers) RouteSummary(c *gin.Context) {
	var args api.RouteSummaryArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		log.Warnf("Invalid route summary request body: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	route := corridor.Route{
		Origin:      args.Origin,
		Destination: args.Destination,
		Waypoints:   args.Waypoints,
	}
	if route.Origin == route.Destination && len(route.Waypoints) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Origin and destination are required"})
		return
	}

	width := args.WidthM
	if width <= 0 {
		width = corridor.DefaultWidthMeters
	}

	rows, err := getActiveInViewport(h.db, routeBBox(route, width), maxClusterRows)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query hazards"})
		return
	}

	summary := corridor.Summarize(rows, route, width)
	c.JSON(http.StatusOK, api.RouteSummaryResult{Data: summary})
}

// Feedback records one device's vote on a hazard. Enough net downvotes
// retire the hazard and push a deactivation event on the live feed.
func (h *Handlers) Feedback(c *gin.Context) {
	var args api.FeedbackArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		log.Warnf("Invalid feedback request body: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if args.DeviceUUID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device_uuid is required"})
		return
	}
	if args.Vote != 1 && args.Vote != -1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "vote must be +1 or -1"})
		return
	}

	if _, err := getHazard(h.db, args.HazardID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Hazard not found"})
		return
	}

	hazard, deactivated, err := applyFeedback(h.db, args.HazardID, args.DeviceUUID, args.Vote)
	if err != nil {
		log.Errorf("Failed to apply feedback on hazard %d: %v", args.HazardID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record vote"})
		return
	}

	if deactivated {
		metrics.HazardsDeactivatedTotal.WithLabelValues("votes").Inc()
		h.hub.BroadcastEvent(api.ActionDeactivated, hazard)
	}

	c.JSON(http.StatusOK, api.FeedbackResult{Data: hazard})
}

// Live upgrades the connection and subscribes it to the hazard feed.
func (h *Handlers) Live(c *gin.Context) {
	conn, err := feedUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Errorf("Failed to upgrade live feed connection: %v", err)
		return
	}
	h.hub.RegisterClient(conn)
}

// Health reports service liveness and live feed stats.
func (h *Handlers) Health(c *gin.Context) {
	clients, events := h.hub.GetStats()
	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"service":      "dodanati-server",
		"time":         time.Now().UTC().Format(time.RFC3339),
		"live_clients": clients,
		"events_sent":  events,
	})
}

// routeBBox is the corridor's bounding box padded by the corridor width
// so the row prefilter cannot exclude a hazard the exact filter would
// keep.
func routeBBox(route corridor.Route, widthM float64) models.Viewport {
	pts := append([]models.Point{route.Origin, route.Destination}, route.Waypoints...)
	vp := models.Viewport{MinLat: 90, MaxLat: -90, MinLng: 180, MaxLng: -180}
	for _, p := range pts {
		vp.MinLat = math.Min(vp.MinLat, p.Lat)
		vp.MaxLat = math.Max(vp.MaxLat, p.Lat)
		vp.MinLng = math.Min(vp.MinLng, p.Lng)
		vp.MaxLng = math.Max(vp.MaxLng, p.Lng)
	}

	latPad, lngPad := padDegrees((vp.MinLat+vp.MaxLat)/2, widthM)
	vp.MinLat -= latPad + 0.002
	vp.MaxLat += latPad + 0.002
	vp.MinLng -= lngPad + 0.002
	vp.MaxLng += lngPad + 0.002
	return vp
}
