package server

import (
	"database/sql"
	"sync"
	"time"

	"dodanati/api"
	"dodanati/config"
	"dodanati/metrics"

	"github.com/apex/log"
)

// Sweeper periodically retires hazards that nobody has reconfirmed
// within the retention window.
type Sweeper struct {
	db   *sql.DB
	hub  *Hub
	cfg  *config.Server
	stop chan struct{}
	wg   sync.WaitGroup
}

func NewSweeper(db *sql.DB, hub *Hub, cfg *config.Server) *Sweeper {
	return &Sweeper{
		db:   db,
		hub:  hub,
		cfg:  cfg,
		stop: make(chan struct{}),
	}
}

// Start launches the sweep loop. One sweep runs immediately so a long
// dormant database is cleaned on boot.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.sweep()

		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	close(s.stop)
	s.wg.Wait()
}

func (s *Sweeper) sweep() {
	cutoff := time.Now().UTC().Add(-s.cfg.DeactivateAfter)
	stale, err := sweepStale(s.db, cutoff)
	if err != nil {
		log.Errorf("Hazard sweep failed: %v", err)
		return
	}
	if len(stale) == 0 {
		return
	}

	for _, h := range stale {
		metrics.HazardsDeactivatedTotal.WithLabelValues("stale").Inc()
		s.hub.BroadcastEvent(api.ActionDeactivated, h)
	}
	log.Infof("Sweep deactivated %d stale hazards", len(stale))
}
