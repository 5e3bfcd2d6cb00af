// Package engine wires the hazard subsystems into one device session:
// the offline queue, the hazard repository, the sync coordinator and the
// drive-mode alerting, plus the ambient/drive location handover.
package engine

import (
	"context"
	"math"
	"sync"

	"github.com/apex/log"

	"dodanati/alert"
	"dodanati/api"
	"dodanati/client"
	"dodanati/config"
	"dodanati/corridor"
	"dodanati/hazards"
	"dodanati/metrics"
	"dodanati/models"
	"dodanati/position"
	"dodanati/queue"
	"dodanati/storage"
	"dodanati/syncer"
)

// Zoom levels for the self-issued viewports around the device.
const (
	ambientZoom = 15
	driveZoom   = 16
)

// SubmitOutcome tells the UI what happened to a report: accepted by the
// server (Hazard set) or parked in the offline queue (Queued set).
type SubmitOutcome struct {
	Hazard    *models.HazardReport
	Queued    *models.QueuedReport
	Merged    bool
	DistanceM float64
}

// Session is one device's engine instance.
type Session struct {
	cfg     *config.Engine
	device  queue.DeviceInfo
	speaker alert.Speaker

	blobs *storage.Store
	queue *queue.Store
	api   *client.Client
	repo  *hazards.Repository
	sync  *syncer.Coordinator

	mu            sync.Mutex
	ambientSrc    position.Source
	ambientCancel func()
	ambientDone   chan struct{}
	drive         *alert.Engine
	swapping      bool
	lastPos       models.Point
	hasPos        bool
	closed        bool
}

// New builds a session. prompt fires once per reconnect while reports
// are queued; pass nil to disable the sync prompt.
func New(cfg *config.Engine, device queue.DeviceInfo, speaker alert.Speaker, prompt func(pending int)) (*Session, error) {
	metrics.Register()

	blobs, err := storage.New(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	apiClient := client.New(cfg)
	q := queue.New(blobs, device)
	repo := hazards.NewRepository(cfg, apiClient, q, blobs)

	s := &Session{
		cfg:     cfg,
		device:  device,
		speaker: speaker,
		blobs:   blobs,
		queue:   q,
		api:     apiClient,
		repo:    repo,
		sync:    syncer.New(apiClient, q, repo, device, prompt),
	}
	log.Infof("Engine session up for device %s (%d queued)", device.UUID, q.Len())
	return s, nil
}

// SetToken forwards the bearer token issued by the auth collaborator.
func (s *Session) SetToken(token string) {
	s.api.SetToken(token)
}

// SetOnline feeds the platform connectivity signal to every subsystem
// that cares.
func (s *Session) SetOnline(online bool) {
	s.repo.SetOnline(online)
	s.sync.SetOnline(online)
}

// Hazards exposes the repository for map rendering.
func (s *Session) Hazards() *hazards.Repository { return s.repo }

// Queue exposes the offline queue for UI listings.
func (s *Session) Queue() *queue.Store { return s.queue }

// Sync exposes the sync coordinator for manual retries.
func (s *Session) Sync() *syncer.Coordinator { return s.sync }

// SubmitReport validates and files a hazard report. Validation failures
// surface immediately and nothing leaves the device. Online submissions
// go straight to the backend and into the repository; offline ones (or
// ones hitting a network error) land in the queue instead.
func (s *Session) SubmitReport(ctx context.Context, draft *models.ReportDraft) (*SubmitOutcome, error) {
	if err := models.ValidateDraft(draft); err != nil {
		return nil, err
	}

	if !s.sync.Online() {
		entry := s.queue.Add(draft)
		return &SubmitOutcome{Queued: &entry}, nil
	}

	result, err := s.api.Submit(ctx, &api.SubmitArgs{
		DeviceUUID: s.device.UUID,
		CategoryID: draft.CategoryID,
		Severity:   draft.Severity,
		Note:       draft.Note,
		Lat:        draft.Lat,
		Lng:        draft.Lng,
		Platform:   s.device.Platform,
		AppVersion: s.device.AppVersion,
		Locale:     s.device.Locale,
	})
	if err != nil {
		if client.IsNetwork(err) {
			log.Warnf("Submit hit a network error, queueing instead: %v", err)
			entry := s.queue.Add(draft)
			return &SubmitOutcome{Queued: &entry}, nil
		}
		return nil, err
	}

	s.repo.Upsert(result.Data)
	return &SubmitOutcome{
		Hazard:    &result.Data,
		Merged:    result.Meta.Merged,
		DistanceM: result.Meta.DistanceM,
	}, nil
}

// SyncNow flushes the offline queue in bulk.
func (s *Session) SyncNow(ctx context.Context) (int, error) {
	return s.sync.SyncAll(ctx)
}

// RouteSummary returns the hazard summary for a route: from the backend
// when reachable, otherwise computed locally over the merged view. Both
// paths produce the same shape.
func (s *Session) RouteSummary(ctx context.Context, route corridor.Route) (*models.RouteSummary, error) {
	if s.sync.Online() {
		sum, err := s.api.RouteSummary(ctx, &api.RouteSummaryArgs{
			Origin:      route.Origin,
			Destination: route.Destination,
			Waypoints:   route.Waypoints,
			WidthM:      s.cfg.CorridorWidthM,
		})
		if err == nil {
			return sum, nil
		}
		if !client.IsNetwork(err) {
			return nil, err
		}
		log.Warnf("Route summary request failed, computing locally: %v", err)
	}

	sum := corridor.Summarize(s.repo.MergedView(), route, s.cfg.CorridorWidthM)
	return &sum, nil
}

// StartAmbient subscribes the map-follow location stream. Each fix moves
// the tracked position and nudges the repository's viewport.
func (s *Session) StartAmbient(src position.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.swapping || s.ambientCancel != nil || s.drive != nil {
		return
	}
	s.ambientSrc = src
	s.subscribeAmbientLocked(src)
}

// subscribeAmbientLocked wires the ambient consumer. Callers hold s.mu.
func (s *Session) subscribeAmbientLocked(src position.Source) {
	ch, cancel := src.Subscribe()
	done := make(chan struct{})
	s.ambientCancel = cancel
	s.ambientDone = done

	go func() {
		defer close(done)
		for fix := range ch {
			s.onAmbientFix(fix)
		}
	}()
}

func (s *Session) onAmbientFix(fix models.PositionFix) {
	pos := models.Point{Lat: fix.Lat, Lng: fix.Lng}

	s.mu.Lock()
	s.lastPos = pos
	s.hasPos = true
	s.mu.Unlock()

	s.repo.RequestViewport(viewportAround(pos, ambientZoom))
}

// StartDrive switches the session into drive mode: the ambient
// subscription is released first, a fresh point set is forced for the
// area around the device, and a new alert engine takes over the stream.
func (s *Session) StartDrive(ctx context.Context) {
	s.mu.Lock()
	if s.closed || s.drive != nil || s.swapping {
		s.mu.Unlock()
		return
	}
	s.swapping = true
	cancel := s.ambientCancel
	done := s.ambientDone
	s.ambientCancel = nil
	src := s.ambientSrc
	pos, hasPos := s.lastPos, s.hasPos
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	if hasPos {
		if err := s.repo.FetchNow(ctx, viewportAround(pos, driveZoom), api.ModePoints); err != nil {
			log.Warnf("Drive-mode point fetch failed, alerting over cache: %v", err)
		}
	}

	eng := alert.NewEngine(s.cfg, s.repo, src, s.speaker, s.device.Locale)

	s.mu.Lock()
	s.swapping = false
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.drive = eng
	s.mu.Unlock()

	eng.Start()
	log.Info("Drive mode started")
}

// StopDrive ends drive mode synchronously: speech is cancelled, the
// stream handed back to the ambient consumer and the map returned to
// its follow framing. When StopDrive returns no further alert can fire.
func (s *Session) StopDrive() {
	s.mu.Lock()
	eng := s.drive
	s.drive = nil
	src := s.ambientSrc
	closed := s.closed
	s.mu.Unlock()

	if eng == nil {
		return
	}
	eng.Stop()

	if src != nil && !closed {
		s.mu.Lock()
		if !s.closed && s.ambientCancel == nil {
			s.subscribeAmbientLocked(src)
		}
		pos, hasPos := s.lastPos, s.hasPos
		s.mu.Unlock()

		// Put the map back on its follow framing right away instead of
		// waiting for the next fix.
		if hasPos {
			s.repo.RequestViewport(viewportAround(pos, ambientZoom))
		}
	}
	log.Info("Drive mode stopped")
}

// Close tears the whole session down: drive mode, ambient subscription
// and the repository's timers.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	eng := s.drive
	s.drive = nil
	cancel := s.ambientCancel
	done := s.ambientDone
	s.ambientCancel = nil
	s.mu.Unlock()

	if eng != nil {
		eng.Stop()
	}
	if cancel != nil {
		cancel()
		<-done
	}
	s.repo.Stop()
	log.Info("Engine session closed")
}

func viewportAround(center models.Point, zoom int) models.Viewport {
	span := 360 / math.Pow(2, float64(zoom))
	return models.Viewport{
		MinLat: center.Lat - span/2,
		MaxLat: center.Lat + span/2,
		MinLng: center.Lng - span/2,
		MaxLng: center.Lng + span/2,
	}
}
