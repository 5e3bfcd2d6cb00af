package position

import (
	"sync"
	"time"

	"github.com/apex/log"

	"dodanati/corridor"
	"dodanati/geomath"
	"dodanati/models"
)

// Simulator replays a prerecorded track as a position stream. Used by the
// drive simulator and by tests; implements Source.
type Simulator struct {
	track    []models.PositionFix
	interval time.Duration

	mu      sync.Mutex
	subs    map[chan models.PositionFix]struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewSimulator builds a simulator emitting one fix per interval.
func NewSimulator(track []models.PositionFix, interval time.Duration) *Simulator {
	return &Simulator{
		track:    track,
		interval: interval,
		subs:     make(map[chan models.PositionFix]struct{}),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the replay. Calling Start twice is a no-op.
func (s *Simulator) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.wg.Add(1)
	go s.run()
	log.Infof("Position simulator started (%d fixes, one per %v)", len(s.track), s.interval)
}

func (s *Simulator) run() {
	defer s.wg.Done()
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for i := 0; i < len(s.track); i++ {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			fix := s.track[i]
			fix.At = time.Now()
			s.emit(fix)
		}
	}
}

// emit fans the fix out to every subscriber. Slow subscribers lose fixes
// rather than stall the stream.
func (s *Simulator) emit(fix models.PositionFix) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- fix:
		default:
		}
	}
}

// Subscribe implements Source.
func (s *Simulator) Subscribe() (<-chan models.PositionFix, func()) {
	ch := make(chan models.PositionFix, 16)

	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// Done is closed when the track has been fully replayed.
func (s *Simulator) Done() <-chan struct{} {
	return s.doneCh
}

// Subscribers returns the number of attached listeners.
func (s *Simulator) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Stop halts the replay and closes all subscriber channels.
func (s *Simulator) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		close(ch)
		delete(s.subs, ch)
	}
}

// TrackAlong samples a route into a fix stream at the given speed, one
// fix per interval, headings following the segment bearings.
func TrackAlong(route corridor.Route, speedMps float64, interval time.Duration) []models.PositionFix {
	pts := route.Waypoints
	if len(pts) < 2 {
		pts = []models.Point{route.Origin, route.Destination}
	}

	step := speedMps * interval.Seconds()
	if step <= 0 {
		step = 1
	}

	fixes := make([]models.PositionFix, 0)
	for i := 1; i < len(pts); i++ {
		a, b := pts[i-1], pts[i]
		segM := geomath.HaversineMeters(a, b)
		if segM < 1 {
			continue
		}
		heading := geomath.BearingDeg(a, b)
		for d := 0.0; d < segM; d += step {
			t := d / segM
			fixes = append(fixes, models.PositionFix{
				Lat:        a.Lat + (b.Lat-a.Lat)*t,
				Lng:        a.Lng + (b.Lng-a.Lng)*t,
				Heading:    heading,
				HasHeading: true,
				SpeedMps:   speedMps,
			})
		}
	}

	if len(fixes) == 0 {
		return []models.PositionFix{{Lat: route.Origin.Lat, Lng: route.Origin.Lng}}
	}

	last := pts[len(pts)-1]
	fixes = append(fixes, models.PositionFix{
		Lat:        last.Lat,
		Lng:        last.Lng,
		Heading:    fixes[len(fixes)-1].Heading,
		HasHeading: true,
		SpeedMps:   0,
	})
	return fixes
}
