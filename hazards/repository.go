// Package hazards holds the device-side hazard repository: the merged
// view of server-confirmed hazards and locally queued reports, fed by
// debounced viewport fetches and backed by a durable cache.
package hazards

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/apex/log"

	"dodanati/api"
	"dodanati/client"
	"dodanati/config"
	"dodanati/geomath"
	"dodanati/metrics"
	"dodanati/models"
	"dodanati/queue"
	"dodanati/storage"
)

// View is the current map representation. Exactly one of Points and
// Clusters is populated, selected by Mode; switching modes drops the
// other side.
type View struct {
	Mode     string
	Points   []models.HazardReport
	Clusters []models.HazardCluster
}

type cacheMeta struct {
	Mode      string  `json:"mode"`
	FetchedAt int64   `json:"fetched_at"` // epoch ms
	CenterLat float64 `json:"center_lat"`
	CenterLng float64 `json:"center_lng"`
	Zoom      int     `json:"zoom"`
	Count     int     `json:"count"`
}

// Repository owns hazard state for one device. All methods are safe for
// concurrent use.
type Repository struct {
	cfg   *config.Engine
	api   *client.Client
	queue *queue.Store
	blobs *storage.Store
	now   func() time.Time

	mu         sync.Mutex
	mode       string
	points     []models.HazardReport
	clusters   []models.HazardCluster
	fetchedAt  time.Time
	lastCenter models.Point
	lastZoom   int
	hasData    bool

	online  bool
	seq     uint64
	pending *time.Timer
	closed  bool
}

// NewRepository builds the repository and restores the last cached
// snapshot so offline sessions start with data.
func NewRepository(cfg *config.Engine, apiClient *client.Client, q *queue.Store, blobs *storage.Store) *Repository {
	r := &Repository{
		cfg:   cfg,
		api:   apiClient,
		queue: q,
		blobs: blobs,
		now:   time.Now,
		mode:  api.ModePoints,
	}
	r.restoreCache()
	return r
}

func (r *Repository) restoreCache() {
	var meta cacheMeta
	if err := r.blobs.Read(storage.KeyCacheMeta, &meta); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Warnf("Hazard cache meta unreadable, starting cold: %v", err)
		}
		return
	}

	switch meta.Mode {
	case api.ModePoints:
		var points []models.HazardReport
		if err := r.blobs.Read(storage.KeyHazardPoints, &points); err != nil {
			log.Warnf("Points cache unreadable, starting cold: %v", err)
			return
		}
		r.points = points
	case api.ModeClusters:
		var clusters []models.HazardCluster
		if err := r.blobs.Read(storage.KeyHazardClusters, &clusters); err != nil {
			log.Warnf("Clusters cache unreadable, starting cold: %v", err)
			return
		}
		r.clusters = clusters
	default:
		log.Warnf("Hazard cache meta has unknown mode %q, ignoring", meta.Mode)
		return
	}

	r.mode = meta.Mode
	r.fetchedAt = time.UnixMilli(meta.FetchedAt)
	r.lastCenter = models.Point{Lat: meta.CenterLat, Lng: meta.CenterLng}
	r.lastZoom = meta.Zoom
	r.hasData = true
	log.Infof("Restored %s cache (%d entries, fetched %s)", meta.Mode, meta.Count, r.fetchedAt.Format(time.RFC3339))
}

// SetOnline flips the connectivity flag fed by the platform reachability
// signal. While offline every fetch is skipped in favor of the cache.
func (r *Repository) SetOnline(online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.online = online
}

// Online reports the current connectivity flag.
func (r *Repository) Online() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online
}

// RequestViewport notes a map viewport change. The actual fetch decision
// runs only after the viewport has been stable for the configured
// debounce window; rapid pans keep pushing it back.
func (r *Repository) RequestViewport(vp models.Viewport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if r.pending != nil {
		r.pending.Stop()
	}
	r.pending = time.AfterFunc(r.cfg.ViewportDebounce, func() {
		r.evaluate(vp)
	})
}

// FetchNow bypasses the debounce and suppression gates and fetches the
// viewport synchronously. Drive mode uses it to force a fresh point set.
func (r *Repository) FetchNow(ctx context.Context, vp models.Viewport, mode string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	if !r.online {
		r.mu.Unlock()
		metrics.CacheServedTotal.Inc()
		log.Info("Offline, serving cached hazards")
		return nil
	}
	r.seq++
	seq := r.seq
	r.mu.Unlock()

	return r.fetch(ctx, vp, mode, seq)
}

// evaluate runs after the debounce window. It decides whether the
// viewport change warrants a network fetch.
func (r *Repository) evaluate(vp models.Viewport) {
	center := vp.Center()
	zoom := geomath.ZoomLevel(vp.MaxLng - vp.MinLng)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if !r.online {
		r.mu.Unlock()
		metrics.CacheServedTotal.Inc()
		log.Debug("Viewport changed while offline, keeping cached snapshot")
		return
	}

	if r.hasData && r.now().Sub(r.fetchedAt) < r.cfg.CacheTTL {
		movedKm := geomath.HaversineKm(center, r.lastCenter)
		zoomDelta := zoom - r.lastZoom
		if zoomDelta < 0 {
			zoomDelta = -zoomDelta
		}
		if movedKm < r.cfg.RefetchDistanceKm && zoomDelta < r.cfg.RefetchZoomDelta {
			r.mu.Unlock()
			metrics.HazardFetchesTotal.WithLabelValues("suppressed").Inc()
			log.Debugf("Fetch suppressed: moved %.2f km, zoom delta %d", movedKm, zoomDelta)
			return
		}
	}

	r.seq++
	seq := r.seq
	r.mu.Unlock()

	if err := r.fetch(context.Background(), vp, api.ModeAuto, seq); err != nil {
		log.Warnf("Viewport fetch failed: %v", err)
	}
}

func (r *Repository) fetch(ctx context.Context, vp models.Viewport, mode string, seq uint64) error {
	center := vp.Center()
	zoom := geomath.ZoomLevel(vp.MaxLng - vp.MinLng)
	start := r.now()

	resp, err := r.api.Nearby(ctx, &api.NearbyQuery{
		Lat:    center.Lat,
		Lng:    center.Lng,
		Zoom:   zoom,
		MinLat: vp.MinLat,
		MaxLat: vp.MaxLat,
		MinLng: vp.MinLng,
		MaxLng: vp.MaxLng,
		Mode:   mode,
	})
	if err != nil {
		metrics.HazardFetchesTotal.WithLabelValues("error").Inc()
		if client.IsNetwork(err) {
			metrics.CacheServedTotal.Inc()
			log.Warnf("Nearby fetch hit a network error, serving cache: %v", err)
			return nil
		}
		return err
	}
	metrics.HazardFetchDurationSeconds.Observe(r.now().Sub(start).Seconds())

	switch resp.Mode {
	case api.ModePoints:
		points, err := resp.Points()
		if err != nil {
			return err
		}
		return r.applyPoints(seq, points, center, zoom)
	case api.ModeClusters:
		clusters, err := resp.Clusters()
		if err != nil {
			return err
		}
		return r.applyClusters(seq, clusters, center, zoom)
	default:
		log.Errorf("Nearby response with unknown mode %q dropped", resp.Mode)
		return nil
	}
}

// applyPoints installs a points response unless a newer fetch has been
// issued since; stale responses are discarded so they can never clobber
// fresher data.
func (r *Repository) applyPoints(seq uint64, points []models.HazardReport, center models.Point, zoom int) error {
	r.mu.Lock()
	if seq != r.seq {
		r.mu.Unlock()
		metrics.HazardFetchesTotal.WithLabelValues("stale").Inc()
		log.Debugf("Discarding stale points response (seq %d < %d)", seq, r.seq)
		return nil
	}
	r.mode = api.ModePoints
	r.points = points
	r.clusters = nil
	r.fetchedAt = r.now()
	r.lastCenter = center
	r.lastZoom = zoom
	r.hasData = true
	r.persistLocked()
	r.mu.Unlock()

	metrics.HazardFetchesTotal.WithLabelValues("ok").Inc()
	log.Infof("Fetched %d hazard points (zoom %d)", len(points), zoom)
	return nil
}

func (r *Repository) applyClusters(seq uint64, clusters []models.HazardCluster, center models.Point, zoom int) error {
	r.mu.Lock()
	if seq != r.seq {
		r.mu.Unlock()
		metrics.HazardFetchesTotal.WithLabelValues("stale").Inc()
		log.Debugf("Discarding stale clusters response (seq %d < %d)", seq, r.seq)
		return nil
	}
	r.mode = api.ModeClusters
	r.clusters = clusters
	r.points = nil
	r.fetchedAt = r.now()
	r.lastCenter = center
	r.lastZoom = zoom
	r.hasData = true
	r.persistLocked()
	r.mu.Unlock()

	metrics.HazardFetchesTotal.WithLabelValues("ok").Inc()
	log.Infof("Fetched %d hazard clusters (zoom %d)", len(clusters), zoom)
	return nil
}

// persistLocked mirrors the in-memory state to durable storage. Callers
// hold r.mu. Failures are cache-miss territory, never fatal.
func (r *Repository) persistLocked() {
	meta := cacheMeta{
		Mode:      r.mode,
		FetchedAt: r.fetchedAt.UnixMilli(),
		CenterLat: r.lastCenter.Lat,
		CenterLng: r.lastCenter.Lng,
		Zoom:      r.lastZoom,
	}

	switch r.mode {
	case api.ModePoints:
		meta.Count = len(r.points)
		if err := r.blobs.Write(storage.KeyHazardPoints, r.points); err != nil {
			log.Errorf("Failed to persist points cache: %v", err)
		}
		if err := r.blobs.Delete(storage.KeyHazardClusters); err != nil {
			log.Errorf("Failed to drop clusters cache: %v", err)
		}
	case api.ModeClusters:
		meta.Count = len(r.clusters)
		if err := r.blobs.Write(storage.KeyHazardClusters, r.clusters); err != nil {
			log.Errorf("Failed to persist clusters cache: %v", err)
		}
		if err := r.blobs.Delete(storage.KeyHazardPoints); err != nil {
			log.Errorf("Failed to drop points cache: %v", err)
		}
	}

	if err := r.blobs.Write(storage.KeyCacheMeta, &meta); err != nil {
		log.Errorf("Failed to persist cache meta: %v", err)
	}
}

// Upsert installs a server-confirmed hazard into the point set: replace
// by id when present, prepend otherwise. In cluster view the hazard is
// not tracked; the next points fetch will include it.
func (r *Repository) Upsert(h models.HazardReport) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mode != api.ModePoints {
		log.Debugf("Upsert of hazard %d skipped in cluster view", h.ID)
		return
	}

	for i := range r.points {
		if r.points[i].ID == h.ID {
			// The live feed echoes our own submissions without the
			// ownership flag; a replace must not lose it.
			h.IsMine = h.IsMine || r.points[i].IsMine
			r.points[i] = h
			r.persistLocked()
			return
		}
	}
	r.points = append([]models.HazardReport{h}, r.points...)
	r.persistLocked()
}

// Deactivate marks a synced hazard inactive in place. The entry stays
// in the point set; alerting and corridor filtering skip inactive
// hazards, and the map renders them as cleared.
func (r *Repository) Deactivate(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mode != api.ModePoints {
		return
	}
	for i := range r.points {
		if r.points[i].ID == id {
			r.points[i].IsActive = false
			r.persistLocked()
			return
		}
	}
}

// MergedView returns queued local reports, mapped to synthetic offline
// entries, followed by the synced point set. Queued entries get negative
// ids so they can never collide with server ids, and they are never
// deduplicated: a queued report and its synced counterpart cannot
// coexist, the swap in the sync path is atomic.
func (r *Repository) MergedView() []models.HazardReport {
	queued := r.queue.Entries()

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.HazardReport, 0, len(queued)+len(r.points))
	for i, qr := range queued {
		out = append(out, models.HazardReport{
			ID:             -int64(i + 1),
			CategoryID:     qr.CategoryID,
			Severity:       qr.Severity,
			Note:           qr.Note,
			Lat:            qr.Lat,
			Lng:            qr.Lng,
			ReportsCount:   1,
			LastReportedAt: time.UnixMilli(qr.QueuedAt),
			IsActive:       true,
			IsMine:         true,
			IsOffline:      true,
		})
	}
	out = append(out, r.points...)
	return out
}

// PointSet returns a copy of the synced point set. Empty in cluster view.
func (r *Repository) PointSet() []models.HazardReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.HazardReport, len(r.points))
	copy(out, r.points)
	return out
}

// CurrentView returns the tagged map representation.
func (r *Repository) CurrentView() View {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := View{Mode: r.mode}
	if r.mode == api.ModePoints {
		v.Points = make([]models.HazardReport, len(r.points))
		copy(v.Points, r.points)
	} else {
		v.Clusters = make([]models.HazardCluster, len(r.clusters))
		copy(v.Clusters, r.clusters)
	}
	return v
}

// Stop cancels any pending debounce timer. No fetch decision runs after
// Stop returns.
func (r *Repository) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	if r.pending != nil {
		r.pending.Stop()
		r.pending = nil
	}
}
