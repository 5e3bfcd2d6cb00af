// Package queue keeps not-yet-synced hazard reports in a durable FIFO.
// The in-memory slice is authoritative; every mutation rewrites the whole
// persisted blob, and persistence failures are logged, never surfaced.
package queue

import (
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/apex/log"

	"dodanati/metrics"
	"dodanati/models"
	"dodanati/storage"
)

// DefaultTTL is how long an entry may wait before load() drops it.
const DefaultTTL = 24 * time.Hour

// DeviceInfo is the client context denormalized into every queued entry.
type DeviceInfo struct {
	UUID       string
	Platform   string
	AppVersion string
	Locale     string
}

// Store is the local submission queue.
type Store struct {
	mu      sync.Mutex
	blobs   *storage.Store
	device  DeviceInfo
	ttl     time.Duration
	now     func() time.Time
	entries []models.QueuedReport
}

// New loads the queue from durable storage, evicting entries older than
// the TTL. When eviction dropped something the filtered set is written
// back immediately.
func New(blobs *storage.Store, device DeviceInfo) *Store {
	return newWithClock(blobs, device, DefaultTTL, time.Now)
}

func newWithClock(blobs *storage.Store, device DeviceInfo, ttl time.Duration, now func() time.Time) *Store {
	s := &Store{
		blobs:  blobs,
		device: device,
		ttl:    ttl,
		now:    now,
	}
	s.load()
	return s
}

func (s *Store) load() {
	var stored []models.QueuedReport
	if err := s.blobs.Read(storage.KeyOfflineQueue, &stored); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Warnf("Offline queue blob unreadable, starting empty: %v", err)
		}
		return
	}

	cutoff := s.now().UnixMilli() - s.ttl.Milliseconds()
	kept := make([]models.QueuedReport, 0, len(stored))
	for _, entry := range stored {
		if entry.QueuedAt < cutoff {
			log.Infof("Dropping expired queued report %s (age > %v)", entry.TempID, s.ttl)
			continue
		}
		kept = append(kept, entry)
	}

	s.entries = kept
	metrics.QueueDepth.Set(float64(len(kept)))
	if len(kept) != len(stored) {
		s.persist()
	}
}

// Add queues a draft and returns the stored entry. The draft is assumed
// to have passed models.ValidateDraft already; the write-through to
// storage is best-effort.
func (s *Store) Add(draft *models.ReportDraft) models.QueuedReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry := models.QueuedReport{
		TempID:     tempID(now),
		DeviceUUID: s.device.UUID,
		CategoryID: draft.CategoryID,
		Severity:   draft.Severity,
		Note:       draft.Note,
		Lat:        draft.Lat,
		Lng:        draft.Lng,
		QueuedAt:   now.UnixMilli(),
		Platform:   s.device.Platform,
		AppVersion: s.device.AppVersion,
		Locale:     s.device.Locale,
	}
	if cat := models.CategoryByID(draft.CategoryID); cat != nil {
		entry.CategorySlug = cat.Slug
		entry.CategoryLabel = cat.Label(s.device.Locale)
	}

	s.entries = append(s.entries, entry)
	s.persist()
	metrics.ReportsQueuedTotal.Inc()
	metrics.QueueDepth.Set(float64(len(s.entries)))
	log.Infof("Queued report %s (%s) at %f,%f", entry.TempID, entry.CategorySlug, entry.Lat, entry.Lng)
	return entry
}

// Remove drops the entry with the given temp id and rewrites the blob.
// Removing an unknown id is a no-op.
func (s *Store) Remove(tempID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	for _, entry := range s.entries {
		if entry.TempID != tempID {
			kept = append(kept, entry)
		}
	}
	if len(kept) == len(s.entries) {
		return
	}
	s.entries = kept
	s.persist()
	metrics.QueueDepth.Set(float64(len(s.entries)))
}

// Clear empties the queue and deletes the persisted blob entirely.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = nil
	metrics.QueueDepth.Set(0)
	if err := s.blobs.Delete(storage.KeyOfflineQueue); err != nil {
		log.Errorf("Failed to delete offline queue blob: %v", err)
	}
}

// Entries returns a snapshot of the queue in FIFO order.
func (s *Store) Entries() []models.QueuedReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.QueuedReport, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the number of queued reports.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// persist rewrites the whole queue blob. Callers hold s.mu.
func (s *Store) persist() {
	if err := s.blobs.Write(storage.KeyOfflineQueue, s.entries); err != nil {
		log.Errorf("Failed to persist offline queue (%d entries): %v", len(s.entries), err)
	}
}

func tempID(now time.Time) string {
	return fmt.Sprintf("temp_%d_%s", now.UnixMilli(), strconv.FormatInt(rand.Int63(), 36))
}
