// Dev/test drive simulator. Runs the full on-device engine against a
// local dev server: ambient map following, an online report, an offline
// window with queued reports, the reconnect sync prompt, and a drive
// with spoken proximity alerts. Useful for dev/test/troubleshooting.
package main

import (
	"context"
	"flag"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"dodanati/client"
	"dodanati/config"
	"dodanati/corridor"
	"dodanati/engine"
	"dodanati/live"
	"dodanati/models"
	"dodanati/position"
	"dodanati/queue"
	"dodanati/routing"
)

// Built-in test drive through central Algiers.
var (
	origin      = models.Point{Lat: 36.7525, Lng: 3.04197}
	destination = models.Point{Lat: 36.77, Lng: 3.06}
)

// navSpanDeg is the viewport span the simulated map shows while
// navigating, zoom level 13.
const navSpanDeg = 360.0 / (1 << 13)

// logSpeaker voices alerts into the log.
type logSpeaker struct{}

func (logSpeaker) Speak(text string) { log.Infof("[voice] %s", text) }
func (logSpeaker) Cancel()           {}

func main() {
	routeFile := flag.String("route", "", "GeoJSON LineString file to drive instead of the built-in route")
	speed := flag.Float64("speed", 14, "simulated speed in m/s")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Info(".env file not found, using system environment variables")
	}
	cfg := config.LoadEngine()
	log.SetLevelFromString(cfg.LogLevel)

	ctx := context.Background()
	route := loadRoute(ctx, *routeFile)

	device := queue.DeviceInfo{
		UUID:       uuid.NewString(),
		Platform:   "sim",
		AppVersion: "dev",
		Locale:     "fr",
	}

	// Fail early when no dev server is listening.
	if err := client.New(cfg).Health(ctx); err != nil {
		log.Fatalf("Dev server at %s is not reachable: %v", cfg.BaseURL, err)
	}

	// The sync prompt normally asks the user; the simulator plays a user
	// who always confirms.
	promptCh := make(chan int, 1)
	prompt := func(pending int) {
		select {
		case promptCh <- pending:
		default:
		}
	}

	session, err := engine.New(cfg, device, logSpeaker{}, prompt)
	if err != nil {
		log.Fatalf("Could not build engine session: %v", err)
	}
	defer session.Close()

	feed, err := live.New(cfg, session.Hazards())
	if err != nil {
		log.Fatalf("Could not build live feed listener: %v", err)
	}
	feed.Start()
	defer feed.Stop()

	session.SetOnline(true)

	// One fix per simulated second, replayed at 10x, after a short idle
	// stretch parked at the origin.
	track := idleAt(origin, 20)
	track = append(track, position.TrackAlong(route, *speed, time.Second)...)
	sim := position.NewSimulator(track, 100*time.Millisecond)
	session.StartAmbient(sim)
	sim.Start()

	// File a pothole right on the route while still online.
	report(ctx, session, &models.ReportDraft{
		CategoryID: 2,
		Severity:   4,
		Note:       "deep pothole in the right lane",
		Lat:        36.76,
		Lng:        3.05,
	})
	printSummary(ctx, session, route)

	// Drop the network and keep reporting; both land in the queue. The
	// speed bump sits beside the route: close enough to be voiced during
	// the drive, too far off to count in the corridor summary.
	log.Info("--- going offline ---")
	session.SetOnline(false)
	report(ctx, session, &models.ReportDraft{CategoryID: 1, Severity: 3, Lat: 36.7581, Lng: 3.0494})
	report(ctx, session, &models.ReportDraft{CategoryID: 2, Severity: 5, Note: "half the lane is gone", Lat: 36.7600, Lng: 3.0501})
	log.Infof("Queue now holds %d reports", session.Queue().Len())

	log.Info("--- back online ---")
	session.SetOnline(true)
	select {
	case pending := <-promptCh:
		log.Infof("Sync prompt: %d queued reports, confirming", pending)
		synced, err := session.SyncNow(ctx)
		if err != nil {
			log.Warnf("Sync finished with failures: %v", err)
		}
		log.Infof("Flushed %d queued reports", synced)
	case <-time.After(2 * time.Second):
		log.Warn("No sync prompt fired")
	}

	// Drive the route. The map keeps following the vehicle so the point
	// set stays fresh around it while the alert engine owns the stream.
	session.StartDrive(ctx)
	mapCh, mapCancel := sim.Subscribe()
	followDone := make(chan struct{})
	go func() {
		defer close(followDone)
		for fix := range mapCh {
			session.Hazards().RequestViewport(navViewport(models.Point{Lat: fix.Lat, Lng: fix.Lng}))
		}
	}()

	<-sim.Done()
	session.StopDrive()
	mapCancel()
	<-followDone
	sim.Stop()

	printSummary(ctx, session, route)

	log.Info("--- final merged view ---")
	for _, h := range session.Hazards().MergedView() {
		cat := models.CategoryByID(h.CategoryID)
		slug := "?"
		if cat != nil {
			slug = cat.Slug
		}
		suffix := ""
		if h.IsOffline {
			suffix = " (queued locally)"
		}
		log.Infof("hazard %d %s severity %d at %.5f,%.5f (%d reports)%s",
			h.ID, slug, h.Severity, h.Lat, h.Lng, h.ReportsCount, suffix)
	}
}

// loadRoute prefers a recorded GeoJSON polyline and falls back to the
// straight segment between the built-in endpoints.
func loadRoute(ctx context.Context, path string) corridor.Route {
	if path == "" {
		route, err := routing.StraightLine{}.Route(ctx, origin, destination)
		if err != nil {
			log.Fatalf("Could not build straight route: %v", err)
		}
		return route
	}

	provider, err := routing.LoadFile(path)
	if err != nil {
		log.Fatalf("Could not load route file %s: %v", path, err)
	}
	route, err := provider.Route(ctx, origin, destination)
	if err != nil {
		log.Fatalf("Could not build route from %s: %v", path, err)
	}
	return route
}

func idleAt(p models.Point, n int) []models.PositionFix {
	fixes := make([]models.PositionFix, n)
	for i := range fixes {
		fixes[i] = models.PositionFix{Lat: p.Lat, Lng: p.Lng}
	}
	return fixes
}

func navViewport(center models.Point) models.Viewport {
	return models.Viewport{
		MinLat: center.Lat - navSpanDeg/2,
		MaxLat: center.Lat + navSpanDeg/2,
		MinLng: center.Lng - navSpanDeg/2,
		MaxLng: center.Lng + navSpanDeg/2,
	}
}

func report(ctx context.Context, s *engine.Session, draft *models.ReportDraft) {
	outcome, err := s.SubmitReport(ctx, draft)
	if err != nil {
		log.Errorf("Report rejected: %v", err)
		return
	}
	switch {
	case outcome.Queued != nil:
		log.Infof("Report parked in the offline queue as %s", outcome.Queued.TempID)
	case outcome.Merged:
		log.Infof("Report merged into hazard %d (%.0f m away, now %d reports)",
			outcome.Hazard.ID, outcome.DistanceM, outcome.Hazard.ReportsCount)
	default:
		log.Infof("Report accepted as hazard %d", outcome.Hazard.ID)
	}
}

func printSummary(ctx context.Context, s *engine.Session, route corridor.Route) {
	sum, err := s.RouteSummary(ctx, route)
	if err != nil {
		log.Errorf("Route summary failed: %v", err)
		return
	}
	log.Infof("Route summary: %.2f km, %d hazards in the corridor", sum.DistanceKm, sum.HazardsCount)
	for _, row := range sum.ByCategory {
		log.Infof("  %s: %d", row.Slug, row.Count)
	}
}
