package server

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"dodanati/common"
	"dodanati/config"
	"dodanati/geomath"
	"dodanati/models"

	"github.com/apex/log"
)

const (
	// Hard cap on point rows returned for a single request, whatever the
	// viewport size.
	maxPointRows = 1000

	// Hard cap on rows fed into the cluster aggregator or a corridor
	// scan.
	maxClusterRows = 50000

	// Net "it's gone" votes that retire a hazard.
	clearedVotesThreshold = 3

	metersPerDegree = 111320.0
)

const hazardColumns = `id, category_id, severity, note, lat, lng,
	  reports_count, upvotes, downvotes, is_active, last_reported_at`

// incomingReport is one report normalized from either the live submit
// endpoint or a bulk sync item.
type incomingReport struct {
	DeviceUUID string
	CategoryID int
	Severity   int
	Note       string
	Lat        float64
	Lng        float64
	ClientRef  string
	Platform   string
	AppVersion string
	Locale     string
	ReportedAt time.Time
}

func scanHazard(rows *sql.Rows) (models.HazardReport, error) {
	var (
		h    models.HazardReport
		note sql.NullString
	)
	if err := rows.Scan(&h.ID, &h.CategoryID, &h.Severity, &note, &h.Lat, &h.Lng,
		&h.ReportsCount, &h.Upvotes, &h.Downvotes, &h.IsActive, &h.LastReportedAt); err != nil {
		return models.HazardReport{}, err
	}
	h.Note = note.String
	return h, nil
}

// padDegrees converts a radius in meters to degree offsets at the given
// latitude. The longitude scale is clamped near the poles.
func padDegrees(lat, meters float64) (latPad, lngPad float64) {
	cos := math.Cos(lat * math.Pi / 180)
	if cos < 0.01 {
		cos = 0.01
	}
	return meters / metersPerDegree, meters / (metersPerDegree * cos)
}

// saveHazard folds one incoming report into the hazard table: a report
// within the merge radius of an active hazard of the same category
// reinforces it, anything else becomes a new hazard.
func saveHazard(db *sql.DB, cfg *config.Server, r incomingReport) (models.HazardReport, bool, float64, error) {
	log.Infof("Write: Saving hazard report from device %s at %f,%f", r.DeviceUUID, r.Lat, r.Lng)

	cand, dist, err := findMergeCandidate(db, r, cfg.MergeRadiusM)
	if err != nil {
		return models.HazardReport{}, false, 0, err
	}

	var id int64
	merged := cand != nil
	if merged {
		if err := mergeHazard(db, cand.ID, r.Severity, r.ReportedAt); err != nil {
			return models.HazardReport{}, false, 0, err
		}
		id = cand.ID
	} else {
		id, err = insertHazard(db, r)
		if err != nil {
			return models.HazardReport{}, false, 0, err
		}
		dist = 0
	}

	recordReporter(db, id, r)

	h, err := getHazard(db, id)
	if err != nil {
		return models.HazardReport{}, false, 0, err
	}
	h.IsMine = true
	return h, merged, math.Round(dist*10) / 10, nil
}

// findMergeCandidate returns the nearest active hazard of the same
// category within radiusM of the report, or nil. Candidates come from a
// bbox prefilter; the exact cut uses haversine distance.
func findMergeCandidate(db *sql.DB, r incomingReport, radiusM float64) (*models.HazardReport, float64, error) {
	latPad, lngPad := padDegrees(r.Lat, radiusM)
	rows, err := db.Query(`
	  SELECT `+hazardColumns+`
	  FROM hazards
	  WHERE is_active = TRUE AND category_id = ?
	    AND lat BETWEEN ? AND ? AND lng BETWEEN ? AND ?`,
		r.CategoryID, r.Lat-latPad, r.Lat+latPad, r.Lng-lngPad, r.Lng+lngPad)
	if err != nil {
		log.Errorf("Could not retrieve merge candidates: %v", err)
		return nil, 0, err
	}
	defer rows.Close()

	from := models.Point{Lat: r.Lat, Lng: r.Lng}
	var (
		best     *models.HazardReport
		bestDist float64
	)
	for rows.Next() {
		h, err := scanHazard(rows)
		if err != nil {
			log.Warnf("Cannot scan a hazard row: %v", err)
			continue
		}
		d := geomath.HaversineMeters(from, models.Point{Lat: h.Lat, Lng: h.Lng})
		if d > radiusM {
			continue
		}
		if best == nil || d < bestDist {
			c := h
			best = &c
			bestDist = d
		}
	}
	return best, bestDist, rows.Err()
}

func insertHazard(db *sql.DB, r incomingReport) (int64, error) {
	result, err := db.Exec(`INSERT
	  INTO hazards (category_id, severity, note, lat, lng, reports_count, last_reported_at)
	  VALUES (?, ?, ?, ?, ?, 1, ?)`,
		r.CategoryID, r.Severity, r.Note, r.Lat, r.Lng, r.ReportedAt)
	if err != nil {
		log.Errorf("Could not insert hazard: %v", err)
		return 0, err
	}
	return result.LastInsertId()
}

// mergeHazard reinforces an existing hazard with one more report. The
// severity only ratchets up and a stale bulk item never rolls the
// last_reported_at timestamp backwards.
func mergeHazard(db *sql.DB, id int64, severity int, reportedAt time.Time) error {
	result, err := db.Exec(`UPDATE hazards
		SET reports_count = reports_count + 1,
		    severity = GREATEST(severity, ?),
		    last_reported_at = GREATEST(last_reported_at, ?)
		WHERE id = ?`, severity, reportedAt, id)
	common.LogResult("mergeHazard", result, err, true)
	return err
}

func recordReporter(db *sql.DB, hazardID int64, r incomingReport) {
	result, err := db.Exec(`INSERT
	  INTO hazard_reporters (hazard_id, device_uuid, client_ref, platform, app_version, locale, reported_at)
	  VALUES (?, ?, ?, ?, ?, ?, ?)`,
		hazardID, r.DeviceUUID, r.ClientRef, r.Platform, r.AppVersion, r.Locale, r.ReportedAt)
	common.LogResult("recordReporter", result, err, true)
}

func getHazard(db *sql.DB, id int64) (models.HazardReport, error) {
	rows, err := db.Query(`SELECT `+hazardColumns+` FROM hazards WHERE id = ?`, id)
	if err != nil {
		return models.HazardReport{}, err
	}
	defer rows.Close()

	// Take only the first row. Ignore others as duplicates are not expected.
	if !rows.Next() {
		return models.HazardReport{}, fmt.Errorf("hazard %d wasn't found", id)
	}
	return scanHazard(rows)
}

func countActiveInViewport(db *sql.DB, vp models.Viewport) (int, error) {
	rows, err := db.Query(`
	   SELECT COUNT(*)
	   FROM hazards
	   WHERE is_active = TRUE
	     AND lat BETWEEN ? AND ? AND lng BETWEEN ? AND ?
	 `, vp.MinLat, vp.MaxLat, vp.MinLng, vp.MaxLng)
	if err != nil {
		log.Errorf("Could not count hazards in viewport: %v", err)
		return 0, err
	}
	defer rows.Close()

	cnt := 0
	if !rows.Next() {
		return 0, fmt.Errorf("zero rows counting hazards in viewport")
	}
	if err := rows.Scan(&cnt); err != nil {
		return 0, err
	}
	return cnt, nil
}

func getActiveInViewport(db *sql.DB, vp models.Viewport, limit int) ([]models.HazardReport, error) {
	if limit <= 0 {
		limit = maxPointRows
	} else if limit > maxClusterRows {
		limit = maxClusterRows
	}
	rows, err := db.Query(`
	  SELECT `+hazardColumns+`
	  FROM hazards
	  WHERE is_active = TRUE
	    AND lat BETWEEN ? AND ? AND lng BETWEEN ? AND ?
	  ORDER BY last_reported_at DESC
	  LIMIT ?`, vp.MinLat, vp.MaxLat, vp.MinLng, vp.MaxLng, limit)
	if err != nil {
		log.Errorf("Could not retrieve hazards in viewport: %v", err)
		return nil, err
	}
	defer rows.Close()

	r := make([]models.HazardReport, 0, 100)
	for rows.Next() {
		h, err := scanHazard(rows)
		if err != nil {
			log.Warnf("Cannot scan a hazard row: %v", err)
			continue
		}
		r = append(r, h)
	}
	return r, rows.Err()
}

// applyFeedback upserts one device's vote on a hazard and refolds the
// counters from the per-device rows, so a device changing its mind never
// double counts. The returned flag reports whether this vote pushed the
// hazard over the cleared threshold.
func applyFeedback(db *sql.DB, hazardID int64, deviceUUID string, vote int) (models.HazardReport, bool, error) {
	log.Infof("Write: Vote %+d on hazard %d from device %s", vote, hazardID, deviceUUID)

	result, err := db.Exec(`INSERT INTO hazard_votes (hazard_id, device_uuid, vote) VALUES (?, ?, ?)
	                        ON DUPLICATE KEY UPDATE vote=?, voted_at=CURRENT_TIMESTAMP`,
		hazardID, deviceUUID, vote, vote)
	common.LogResult("applyFeedback", result, err, false)
	if err != nil {
		return models.HazardReport{}, false, err
	}

	if _, err := db.Exec(`UPDATE hazards h
		SET h.upvotes = (SELECT COUNT(*) FROM hazard_votes v WHERE v.hazard_id = h.id AND v.vote = 1),
		    h.downvotes = (SELECT COUNT(*) FROM hazard_votes v WHERE v.hazard_id = h.id AND v.vote = -1)
		WHERE h.id = ?`, hazardID); err != nil {
		log.Errorf("Could not refold vote counters for hazard %d: %v", hazardID, err)
		return models.HazardReport{}, false, err
	}

	h, err := getHazard(db, hazardID)
	if err != nil {
		return models.HazardReport{}, false, err
	}
	if h.IsActive && h.Downvotes-h.Upvotes >= clearedVotesThreshold {
		if err := deactivateHazard(db, h.ID); err != nil {
			return h, false, err
		}
		h.IsActive = false
		return h, true, nil
	}
	return h, false, nil
}

func deactivateHazard(db *sql.DB, id int64) error {
	result, err := db.Exec(`UPDATE hazards SET is_active = FALSE WHERE id = ?`, id)
	common.LogResult("deactivateHazard", result, err, true)
	return err
}

// sweepStale retires active hazards whose last report is older than the
// cutoff and returns them so the caller can push deactivation events.
func sweepStale(db *sql.DB, olderThan time.Time) ([]models.HazardReport, error) {
	rows, err := db.Query(`
	  SELECT `+hazardColumns+`
	  FROM hazards
	  WHERE is_active = TRUE AND last_reported_at < ?`, olderThan)
	if err != nil {
		log.Errorf("Could not retrieve stale hazards: %v", err)
		return nil, err
	}

	stale := make([]models.HazardReport, 0)
	for rows.Next() {
		h, err := scanHazard(rows)
		if err != nil {
			log.Warnf("Cannot scan a hazard row: %v", err)
			continue
		}
		stale = append(stale, h)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	for i := range stale {
		if err := deactivateHazard(db, stale[i].ID); err != nil {
			return stale[:i], err
		}
		stale[i].IsActive = false
	}
	return stale, nil
}
