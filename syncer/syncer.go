// Package syncer flushes the offline queue to the backend and reconciles
// the results into the hazard repository. Retries are never automatic;
// the coordinator only raises a prompt when connectivity comes back.
package syncer

import (
	"context"
	"fmt"
	"sync"

	"github.com/apex/log"

	"dodanati/api"
	"dodanati/client"
	"dodanati/hazards"
	"dodanati/metrics"
	"dodanati/models"
	"dodanati/queue"
)

// PartialSyncFailure reports a bulk flush where some items failed. The
// queue is kept intact because the response does not say which ones.
type PartialSyncFailure struct {
	Created int
	Failed  int
}

func (e *PartialSyncFailure) Error() string {
	return fmt.Sprintf("bulk sync: %d created, %d failed, queue retained", e.Created, e.Failed)
}

// Coordinator pushes queued reports to the backend.
type Coordinator struct {
	api    *client.Client
	queue  *queue.Store
	repo   *hazards.Repository
	device queue.DeviceInfo

	mu     sync.Mutex
	online bool
	prompt func(pending int)
}

// New builds a coordinator. prompt is invoked once per offline-to-online
// transition while the queue is non-empty; pass nil to disable.
func New(apiClient *client.Client, q *queue.Store, repo *hazards.Repository, device queue.DeviceInfo, prompt func(pending int)) *Coordinator {
	return &Coordinator{
		api:    apiClient,
		queue:  q,
		repo:   repo,
		device: device,
		prompt: prompt,
	}
}

// SetOnline feeds the platform connectivity signal. The sync prompt is
// edge-triggered: it fires on the offline-to-online flank only, never on
// repeated online notifications.
func (c *Coordinator) SetOnline(online bool) {
	c.mu.Lock()
	wasOnline := c.online
	c.online = online
	c.mu.Unlock()

	if online {
		metrics.ConnectivityOnline.Set(1)
	} else {
		metrics.ConnectivityOnline.Set(0)
	}

	if online && !wasOnline {
		if pending := c.queue.Len(); pending > 0 && c.prompt != nil {
			log.Infof("Back online with %d queued reports, prompting for sync", pending)
			c.prompt(pending)
		}
	}
}

// Online reports the last connectivity signal received.
func (c *Coordinator) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// SyncOne submits a single queued report. On success the server hazard
// replaces the queued entry atomically from the caller's point of view:
// the upsert happens first, then the queue entry is removed. On failure
// the entry stays queued and the error propagates.
func (c *Coordinator) SyncOne(ctx context.Context, entry models.QueuedReport) (*api.SubmitResult, error) {
	result, err := c.api.Submit(ctx, &api.SubmitArgs{
		DeviceUUID: entry.DeviceUUID,
		CategoryID: entry.CategoryID,
		Severity:   entry.Severity,
		Note:       entry.Note,
		Lat:        entry.Lat,
		Lng:        entry.Lng,
		Platform:   entry.Platform,
		AppVersion: entry.AppVersion,
		Locale:     entry.Locale,
	})
	if err != nil {
		metrics.SyncReportsTotal.WithLabelValues("failed").Inc()
		log.Warnf("Sync of %s failed, keeping it queued: %v", entry.TempID, err)
		return nil, err
	}

	c.repo.Upsert(result.Data)
	c.queue.Remove(entry.TempID)

	if result.Meta.Merged {
		metrics.SyncReportsTotal.WithLabelValues("merged").Inc()
		log.Infof("Report %s merged into hazard %d (%.0f m away)", entry.TempID, result.Data.ID, result.Meta.DistanceM)
	} else {
		metrics.SyncReportsTotal.WithLabelValues("created").Inc()
		log.Infof("Report %s became hazard %d", entry.TempID, result.Data.ID)
	}
	return result, nil
}

// SyncAll flushes the whole queue in one bulk request. Device metadata is
// hoisted to the request level; each item carries its temp id as the
// client_ref. Every created hazard is upserted. The queue is cleared only
// when nothing failed; a partial result keeps all items queued and
// returns a *PartialSyncFailure.
func (c *Coordinator) SyncAll(ctx context.Context) (int, error) {
	entries := c.queue.Entries()
	if len(entries) == 0 {
		return 0, nil
	}

	args := &api.BulkArgs{
		DeviceUUID: c.device.UUID,
		Platform:   c.device.Platform,
		AppVersion: c.device.AppVersion,
		Locale:     c.device.Locale,
		Items:      make([]api.BulkItem, 0, len(entries)),
	}
	for _, entry := range entries {
		args.Items = append(args.Items, api.BulkItem{
			ClientRef:  entry.TempID,
			CategoryID: entry.CategoryID,
			Severity:   entry.Severity,
			Note:       entry.Note,
			Lat:        entry.Lat,
			Lng:        entry.Lng,
			QueuedAt:   entry.QueuedAt,
		})
	}

	result, err := c.api.SyncBulk(ctx, args)
	if err != nil {
		metrics.SyncBatchesTotal.WithLabelValues("error").Inc()
		log.Warnf("Bulk sync of %d reports failed: %v", len(entries), err)
		return 0, err
	}

	for _, h := range result.Data {
		c.repo.Upsert(h)
	}
	metrics.SyncReportsTotal.WithLabelValues("created").Add(float64(result.Meta.CreatedCount))

	if result.Meta.FailedCount > 0 {
		metrics.SyncReportsTotal.WithLabelValues("failed").Add(float64(result.Meta.FailedCount))
		metrics.SyncBatchesTotal.WithLabelValues("partial").Inc()
		log.Warnf("Bulk sync partial: %d created, %d failed; queue retained", result.Meta.CreatedCount, result.Meta.FailedCount)
		return result.Meta.CreatedCount, &PartialSyncFailure{Created: result.Meta.CreatedCount, Failed: result.Meta.FailedCount}
	}

	c.queue.Clear()
	metrics.SyncBatchesTotal.WithLabelValues("ok").Inc()
	log.Infof("Bulk sync complete: %d reports created", result.Meta.CreatedCount)
	return result.Meta.CreatedCount, nil
}
