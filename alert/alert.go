// Package alert turns the drive-mode position stream and the hazard
// point set into throttled spoken warnings. One Engine is built per
// drive session and owns all its cooldown state.
package alert

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/apex/log"

	"dodanati/config"
	"dodanati/geomath"
	"dodanati/metrics"
	"dodanati/models"
	"dodanati/position"
)

// headingAlpha is the smoothing factor for the circular heading filter.
const headingAlpha = 0.25

// PointSource supplies the hazards currently eligible for alerting.
type PointSource interface {
	PointSet() []models.HazardReport
}

// Speaker voices alerts. Cancel must stop any in-progress utterance
// before returning.
type Speaker interface {
	Speak(text string)
	Cancel()
}

// Engine is the drive-session alert state machine.
type Engine struct {
	cfg     *config.Engine
	points  PointSource
	source  position.Source
	speaker Speaker
	locale  string
	now     func() time.Time

	mu              sync.Mutex
	running         bool
	stopped         bool
	cancelSub       func()
	wg              sync.WaitGroup
	smoothedHeading float64
	hasHeading      bool
	lastPos         models.Point
	hasLastPos      bool
	lastGlobalAlert time.Time
	lastHazardAlert map[int64]time.Time
}

// NewEngine builds an idle engine for one drive session.
func NewEngine(cfg *config.Engine, points PointSource, source position.Source, speaker Speaker, locale string) *Engine {
	return &Engine{
		cfg:             cfg,
		points:          points,
		source:          source,
		speaker:         speaker,
		locale:          locale,
		now:             time.Now,
		lastHazardAlert: make(map[int64]time.Time),
	}
}

// Start subscribes to the position stream and begins evaluating fixes.
// The caller must have released any ambient subscription first; drive and
// ambient streams are never held concurrently.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running || e.stopped || e.source == nil {
		return
	}
	e.running = true

	ch, cancel := e.source.Subscribe()
	e.cancelSub = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for fix := range ch {
			e.HandleFix(fix)
		}
	}()
	log.Info("Proximity alerting started")
}

// Stop tears the session down synchronously: after it returns the
// subscription is released, in-progress speech is cancelled and no
// further alert can fire.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.running = false
	cancel := e.cancelSub
	e.cancelSub = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
	e.speaker.Cancel()
	log.Info("Proximity alerting stopped")
}

// HandleFix evaluates one position fix against the point set. At most
// one utterance is spoken per fix.
func (e *Engine) HandleFix(fix models.PositionFix) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}

	now := e.now()
	pos := models.Point{Lat: fix.Lat, Lng: fix.Lng}
	moving := fix.SpeedMps > e.cfg.MovingSpeedMps

	// Heading is only trustworthy while moving; a parked phone's compass
	// jitter must not steer the cone.
	if moving {
		heading, ok := fix.Heading, fix.HasHeading
		if !ok && e.hasLastPos {
			heading = geomath.BearingDeg(e.lastPos, pos)
			ok = true
		}
		if ok {
			if e.hasHeading {
				e.smoothedHeading = geomath.SmoothHeading(e.smoothedHeading, heading, headingAlpha)
			} else {
				e.smoothedHeading = heading
				e.hasHeading = true
			}
		}
	}
	e.lastPos = pos
	e.hasLastPos = true

	// Global cooldown comes before every other gate.
	if now.Sub(e.lastGlobalAlert) < e.cfg.GlobalCooldown {
		metrics.AlertsSuppressedTotal.WithLabelValues("global_cooldown").Inc()
		return
	}

	for _, h := range e.points.PointSet() {
		if !h.IsActive {
			continue
		}
		distM := geomath.HaversineMeters(pos, models.Point{Lat: h.Lat, Lng: h.Lng})
		if distM >= e.cfg.AlertDistanceM {
			continue
		}

		if last, ok := e.lastHazardAlert[h.ID]; ok && now.Sub(last) < e.cfg.PerHazardCooldown {
			metrics.AlertsSuppressedTotal.WithLabelValues("hazard_cooldown").Inc()
			continue
		}

		// Forward cone applies only while moving with a known heading.
		if moving && e.hasHeading {
			delta := geomath.HeadingDelta(e.smoothedHeading, geomath.BearingDeg(pos, models.Point{Lat: h.Lat, Lng: h.Lng}))
			if math.Abs(delta) > e.cfg.ConeHalfAngleDeg {
				metrics.AlertsSuppressedTotal.WithLabelValues("outside_cone").Inc()
				continue
			}
		}

		e.announce(h, distM, now)
		return
	}
}

func (e *Engine) announce(h models.HazardReport, distM float64, now time.Time) {
	rounded := int(math.Round(distM/10) * 10)

	label := "Hazard"
	if cat := models.CategoryByID(h.CategoryID); cat != nil {
		label = cat.Label(e.locale)
	}

	e.speaker.Speak(fmt.Sprintf("%s in %d m", label, rounded))
	e.lastGlobalAlert = now
	e.lastHazardAlert[h.ID] = now

	metrics.AlertsAnnouncedTotal.Inc()
	log.Infof("Alert: hazard %d (%s) at %d m", h.ID, label, rounded)
}
