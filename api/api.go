// Package api is the wire contract between the mobile engine and the
// hazard backend. Client, server and simulator all build against it.
package api

import (
	"encoding/json"

	"dodanati/models"
)

const (
	SubmitEndpoint       = "/hazards"
	BulkSyncEndpoint     = "/hazards/bulk"
	NearbyEndpoint       = "/hazards/nearby"
	RouteSummaryEndpoint = "/hazards-route-summary"
	FeedbackEndpoint     = "/hazards/feedback"
	LiveEndpoint         = "/hazards/live"
	HealthEndpoint       = "/health"
)

// Nearby response modes. Auto lets the server pick points or clusters.
const (
	ModeAuto     = "auto"
	ModePoints   = "points"
	ModeClusters = "clusters"
)

// Live feed actions.
const (
	ActionCreated     = "created"
	ActionMerged      = "merged"
	ActionDeactivated = "deactivated"
)

type SubmitArgs struct {
	DeviceUUID string  `json:"device_uuid"`
	CategoryID int     `json:"category_id"`
	Severity   int     `json:"severity"`
	Note       string  `json:"note,omitempty"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	Platform   string  `json:"platform,omitempty"`
	AppVersion string  `json:"app_version,omitempty"`
	Locale     string  `json:"locale,omitempty"`
}

type SubmitMeta struct {
	Merged       bool    `json:"merged"`
	DistanceM    float64 `json:"distance_m"`
	ReportsCount int     `json:"reports_count"`
}

type SubmitResult struct {
	Data models.HazardReport `json:"data"`
	Meta SubmitMeta          `json:"meta"`
}

// BulkItem is one queued report inside a bulk flush. Device metadata is
// hoisted to BulkArgs; ClientRef carries the queue temp id back and forth.
type BulkItem struct {
	ClientRef  string  `json:"client_ref"`
	CategoryID int     `json:"category_id"`
	Severity   int     `json:"severity"`
	Note       string  `json:"note,omitempty"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	QueuedAt   int64   `json:"queued_at"` // epoch ms
}

type BulkArgs struct {
	DeviceUUID string     `json:"device_uuid"`
	Platform   string     `json:"platform,omitempty"`
	AppVersion string     `json:"app_version,omitempty"`
	Locale     string     `json:"locale,omitempty"`
	Items      []BulkItem `json:"items"`
}

type BulkMeta struct {
	CreatedCount int `json:"created_count"`
	FailedCount  int `json:"failed_count"`
}

type BulkResult struct {
	Data []models.HazardReport `json:"data"`
	Meta BulkMeta              `json:"meta"`
}

type NearbyQuery struct {
	Lat    float64 `form:"lat"`
	Lng    float64 `form:"lng"`
	Zoom   int     `form:"zoom"`
	MinLat float64 `form:"minLat"`
	MaxLat float64 `form:"maxLat"`
	MinLng float64 `form:"minLng"`
	MaxLng float64 `form:"maxLng"`
	Mode   string  `form:"mode"`
}

type NearbyMeta struct {
	TotalInRadius int `json:"total_in_radius"`
	Returned      int `json:"returned"`
}

// NearbyResult keeps Data raw; its element type depends on Mode. Decode
// it with Points() or Clusters(), never both.
type NearbyResult struct {
	Mode string          `json:"mode"`
	Data json.RawMessage `json:"data"`
	Meta NearbyMeta      `json:"meta"`
}

func (r *NearbyResult) Points() ([]models.HazardReport, error) {
	var out []models.HazardReport
	err := json.Unmarshal(r.Data, &out)
	return out, err
}

func (r *NearbyResult) Clusters() ([]models.HazardCluster, error) {
	var out []models.HazardCluster
	err := json.Unmarshal(r.Data, &out)
	return out, err
}

type RouteSummaryArgs struct {
	Origin      models.Point   `json:"origin"`
	Destination models.Point   `json:"destination"`
	Waypoints   []models.Point `json:"waypoints,omitempty"`
	WidthM      float64        `json:"width_m,omitempty"` // 0 means server default
}

type RouteSummaryResult struct {
	Data models.RouteSummary `json:"data"`
}

type FeedbackArgs struct {
	DeviceUUID string `json:"device_uuid"`
	HazardID   int64  `json:"hazard_id"`
	Vote       int    `json:"vote"` // +1 or -1
}

type FeedbackResult struct {
	Data models.HazardReport `json:"data"`
}

// LiveEvent is one message on the live websocket feed.
type LiveEvent struct {
	Action string              `json:"action"`
	Hazard models.HazardReport `json:"hazard"`
}

type ErrorResult struct {
	Error string `json:"error"`
}
