package models

import (
	"fmt"
	"time"
)

// HazardReport is a server-confirmed hazard. Instances are immutable;
// the repository replaces them wholesale by id on upsert.
type HazardReport struct {
	ID             int64     `json:"id"`
	CategoryID     int       `json:"category_id"`
	Severity       int       `json:"severity"`
	Note           string    `json:"note,omitempty"`
	Lat            float64   `json:"lat"`
	Lng            float64   `json:"lng"`
	ReportsCount   int       `json:"reports_count"`
	LastReportedAt time.Time `json:"last_reported_at"`
	IsActive       bool      `json:"is_active"`
	Upvotes        int       `json:"upvotes"`
	Downvotes      int       `json:"downvotes"`
	IsMine         bool      `json:"is_mine,omitempty"`
	// IsOffline marks synthetic merged-view entries built from the local
	// queue. Never set on server data.
	IsOffline bool `json:"is_offline,omitempty"`
}

// QueuedReport is a hazard submission captured locally before server
// acceptance. It lives in the offline queue blob until synced or expired.
type QueuedReport struct {
	TempID        string  `json:"temp_id"`
	DeviceUUID    string  `json:"device_uuid"`
	CategoryID    int     `json:"category_id"`
	Severity      int     `json:"severity"`
	Note          string  `json:"note,omitempty"`
	Lat           float64 `json:"lat"`
	Lng           float64 `json:"lng"`
	QueuedAt      int64   `json:"queued_at"` // epoch ms
	CategorySlug  string  `json:"category_slug"`
	CategoryLabel string  `json:"category_label"`
	Platform      string  `json:"platform"`
	AppVersion    string  `json:"app_version"`
	Locale        string  `json:"locale"`
}

// ReportDraft is what the UI hands over when the user files a hazard.
type ReportDraft struct {
	CategoryID int     `json:"category_id"`
	Severity   int     `json:"severity"`
	Note       string  `json:"note,omitempty"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
}

// HazardCluster is an aggregated marker for low zoom levels. Cluster data
// and point data are never rendered together for the same viewport.
type HazardCluster struct {
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Count int64   `json:"count"`
}

// CategoryCount is one row of a route summary breakdown.
type CategoryCount struct {
	CategoryID int               `json:"category_id"`
	Slug       string            `json:"slug"`
	Names      map[string]string `json:"names"`
	Count      int               `json:"count"`
}

// RouteSummary describes the hazards along a route corridor. The offline
// analyzer and the route-summary endpoint produce the identical shape.
type RouteSummary struct {
	DistanceKm   float64         `json:"distance_km"`
	HazardsCount int             `json:"hazards_count"`
	ByCategory   []CategoryCount `json:"by_category"`
}

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// PositionFix is one sample from the position/heading stream. Heading and
// speed may be missing depending on the platform sensors.
type PositionFix struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Heading    float64   `json:"heading"`
	HasHeading bool      `json:"has_heading"`
	SpeedMps   float64   `json:"speed_mps"`
	At         time.Time `json:"at"`
}

// Viewport is the visible map window.
type Viewport struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLng float64 `json:"max_lng"`
}

// Center returns the viewport midpoint.
func (v Viewport) Center() Point {
	return Point{
		Lat: (v.MinLat + v.MaxLat) / 2,
		Lng: (v.MinLng + v.MaxLng) / 2,
	}
}

// ValidationError is a blocking, user-facing input problem. It is raised
// before any network call is attempted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ValidateDraft checks a report draft the way the submission form does:
// a category must be selected, severity must be 1..5 and the coordinates
// must be on the map.
func ValidateDraft(d *ReportDraft) error {
	if d.CategoryID == 0 {
		return &ValidationError{Field: "category", Message: "no category selected"}
	}
	if CategoryByID(d.CategoryID) == nil {
		return &ValidationError{Field: "category", Message: fmt.Sprintf("unknown category %d", d.CategoryID)}
	}
	if d.Severity < 1 || d.Severity > 5 {
		return &ValidationError{Field: "severity", Message: fmt.Sprintf("severity %d outside 1..5", d.Severity)}
	}
	if d.Lat < -90 || d.Lat > 90 {
		return &ValidationError{Field: "lat", Message: fmt.Sprintf("latitude %f out of range", d.Lat)}
	}
	if d.Lng < -180 || d.Lng > 180 {
		return &ValidationError{Field: "lng", Message: fmt.Sprintf("longitude %f out of range", d.Lng)}
	}
	return nil
}
