package server

import (
	"database/sql"
	"fmt"
	"math"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jknair0/beforeeach"

	"dodanati/config"
	"dodanati/models"
)

var (
	db   *sql.DB
	mock sqlmock.Sqlmock
)

func setUp() {
	db, mock, _ = sqlmock.New()
}

func tearDown() {
	db.Close()
}

var it = beforeeach.Create(setUp, tearDown)

var hazardTestCols = []string{
	"id", "category_id", "severity", "note", "lat", "lng",
	"reports_count", "upvotes", "downvotes", "is_active", "last_reported_at",
}

func testServerConfig() *config.Server {
	return &config.Server{
		Port:            "8080",
		MergeRadiusM:    30,
		PointsMinZoom:   14,
		PointsMaxRows:   200,
		ClusterTargets:  160,
		SweepInterval:   time.Hour,
		DeactivateAfter: 90 * 24 * time.Hour,
		RateLimitRPS:    1000,
		RateLimitBurst:  1000,
		LogLevel:        "info",
	}
}

func TestSaveHazardInsertsWhenNothingNearby(t *testing.T) {
	it(func() {
		reportedAt := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

		mock.ExpectQuery("SELECT (.+) FROM hazards WHERE is_active = TRUE AND category_id = (.+) AND lat BETWEEN (.+)").
			WithArgs(2, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows(hazardTestCols))
		mock.ExpectExec("INSERT INTO hazards \\(category_id, severity, note, lat, lng, reports_count, last_reported_at\\) VALUES (.+)").
			WithArgs(2, 3, "deep one", 36.76, 3.05, reportedAt).
			WillReturnResult(sqlmock.NewResult(7, 1))
		mock.ExpectExec("INSERT INTO hazard_reporters (.+)").
			WithArgs(int64(7), "device-1", "", "", "", "", reportedAt).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectQuery("SELECT (.+) FROM hazards WHERE id = (.+)").
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows(hazardTestCols).
				AddRow(7, 2, 3, "deep one", 36.76, 3.05, 1, 0, 0, true, reportedAt))

		h, merged, dist, err := saveHazard(db, testServerConfig(), incomingReport{
			DeviceUUID: "device-1",
			CategoryID: 2,
			Severity:   3,
			Note:       "deep one",
			Lat:        36.76,
			Lng:        3.05,
			ReportedAt: reportedAt,
		})
		if err != nil {
			t.Fatalf("saveHazard: unexpected error: %v", err)
		}
		if merged {
			t.Errorf("saveHazard: expected a fresh insert, got a merge")
		}
		if dist != 0 {
			t.Errorf("saveHazard: expected zero distance for an insert, got %f", dist)
		}
		if h.ID != 7 || h.ReportsCount != 1 {
			t.Errorf("saveHazard: expected hazard 7 with 1 report, got %d with %d", h.ID, h.ReportsCount)
		}
		if !h.IsMine {
			t.Errorf("saveHazard: expected the saved hazard to be marked as the reporter's own")
		}
	})
}

func TestSaveHazardMergesIntoNearestWithinRadius(t *testing.T) {
	it(func() {
		reportedAt := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

		// Three active potholes inside the bbox prefilter: one ~22m north,
		// one ~11m north, one on the bbox diagonal ~41m away. Only the
		// first two survive the haversine cut and the nearest wins.
		mock.ExpectQuery("SELECT (.+) FROM hazards WHERE is_active = TRUE AND category_id = (.+) AND lat BETWEEN (.+)").
			WithArgs(2, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows(hazardTestCols).
				AddRow(11, 2, 2, "", 36.76020, 3.05, 2, 0, 0, true, reportedAt).
				AddRow(12, 2, 2, "", 36.76010, 3.05, 2, 0, 0, true, reportedAt).
				AddRow(13, 2, 2, "", 36.76026, 3.05032, 2, 0, 0, true, reportedAt))
		mock.ExpectExec("UPDATE hazards SET reports_count = reports_count \\+ 1, severity = GREATEST(.+)").
			WithArgs(4, reportedAt, int64(12)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO hazard_reporters (.+)").
			WithArgs(int64(12), "device-1", "", "", "", "", reportedAt).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectQuery("SELECT (.+) FROM hazards WHERE id = (.+)").
			WithArgs(int64(12)).
			WillReturnRows(sqlmock.NewRows(hazardTestCols).
				AddRow(12, 2, 4, "", 36.76010, 3.05, 3, 0, 0, true, reportedAt))

		h, merged, dist, err := saveHazard(db, testServerConfig(), incomingReport{
			DeviceUUID: "device-1",
			CategoryID: 2,
			Severity:   4,
			Lat:        36.76,
			Lng:        3.05,
			ReportedAt: reportedAt,
		})
		if err != nil {
			t.Fatalf("saveHazard: unexpected error: %v", err)
		}
		if !merged {
			t.Fatalf("saveHazard: expected a merge, got a fresh insert")
		}
		if h.ID != 12 {
			t.Errorf("saveHazard: merged into hazard %d, want the nearest (12)", h.ID)
		}
		if math.Abs(dist-11.1) > 0.1 {
			t.Errorf("saveHazard: merge distance %f, want about 11.1m", dist)
		}
		if h.ReportsCount != 3 || h.Severity != 4 {
			t.Errorf("saveHazard: got count=%d severity=%d, want count=3 severity=4", h.ReportsCount, h.Severity)
		}
	})
}

func TestGetActiveInViewport(t *testing.T) {
	it(func() {
		reportedAt := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

		mock.ExpectQuery("SELECT (.+) FROM hazards WHERE is_active = TRUE AND lat BETWEEN (.+) ORDER BY last_reported_at DESC LIMIT (.+)").
			WithArgs(36.70, 36.80, 3.00, 3.10, maxPointRows).
			WillReturnRows(sqlmock.NewRows(hazardTestCols).
				AddRow(1, 1, 3, "by the school", 36.75, 3.04, 4, 2, 0, true, reportedAt).
				AddRow(2, 2, 5, nil, 36.76, 3.05, 1, 0, 0, true, reportedAt))

		vp := models.Viewport{MinLat: 36.70, MaxLat: 36.80, MinLng: 3.00, MaxLng: 3.10}
		got, err := getActiveInViewport(db, vp, maxPointRows)
		if err != nil {
			t.Fatalf("getActiveInViewport: unexpected error: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("getActiveInViewport: got %d rows, want 2", len(got))
		}
		if got[0].Note != "by the school" {
			t.Errorf("getActiveInViewport: note = %q, want %q", got[0].Note, "by the school")
		}
		if got[1].Note != "" {
			t.Errorf("getActiveInViewport: NULL note should scan to empty, got %q", got[1].Note)
		}
	})
}

func TestApplyFeedback(t *testing.T) {
	it(func() {
		reportedAt := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

		testCases := []struct {
			name      string
			vote      int
			upvotes   int
			downvotes int

			expectDeactivate bool
		}{
			{
				name:      "Upvote keeps hazard active",
				vote:      1,
				upvotes:   5,
				downvotes: 1,

				expectDeactivate: false,
			},
			{
				name:      "Downvotes past the threshold retire the hazard",
				vote:      -1,
				upvotes:   0,
				downvotes: 3,

				expectDeactivate: true,
			},
		}

		for _, testCase := range testCases {
			mock.ExpectExec("INSERT INTO hazard_votes \\(hazard_id, device_uuid, vote\\) VALUES (.+) ON DUPLICATE KEY UPDATE vote=(.+)").
				WithArgs(int64(42), "device-9", testCase.vote, testCase.vote).
				WillReturnResult(sqlmock.NewResult(1, 1))
			mock.ExpectExec("UPDATE hazards h SET h.upvotes = (.+) WHERE h.id = (.+)").
				WithArgs(int64(42)).
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectQuery("SELECT (.+) FROM hazards WHERE id = (.+)").
				WithArgs(int64(42)).
				WillReturnRows(sqlmock.NewRows(hazardTestCols).
					AddRow(42, 1, 3, "", 36.75, 3.04, 2, testCase.upvotes, testCase.downvotes, true, reportedAt))
			if testCase.expectDeactivate {
				mock.ExpectExec("UPDATE hazards SET is_active = FALSE WHERE id = (.+)").
					WithArgs(int64(42)).
					WillReturnResult(sqlmock.NewResult(0, 1))
			}

			h, deactivated, err := applyFeedback(db, 42, "device-9", testCase.vote)
			if err != nil {
				t.Fatalf("%s, applyFeedback: unexpected error: %v", testCase.name, err)
			}
			if deactivated != testCase.expectDeactivate {
				t.Errorf("%s, applyFeedback: deactivated = %v, want %v", testCase.name, deactivated, testCase.expectDeactivate)
			}
			if h.IsActive == testCase.expectDeactivate {
				t.Errorf("%s, applyFeedback: is_active = %v after vote", testCase.name, h.IsActive)
			}
			if h.Upvotes != testCase.upvotes || h.Downvotes != testCase.downvotes {
				t.Errorf("%s, applyFeedback: votes %d/%d, want %d/%d",
					testCase.name, h.Upvotes, h.Downvotes, testCase.upvotes, testCase.downvotes)
			}
		}
	})
}

func TestApplyFeedbackVoteError(t *testing.T) {
	it(func() {
		mock.ExpectExec("INSERT INTO hazard_votes (.+)").
			WithArgs(int64(42), "device-9", 1, 1).
			WillReturnError(fmt.Errorf("test vote error"))

		if _, _, err := applyFeedback(db, 42, "device-9", 1); err == nil {
			t.Errorf("applyFeedback: expected error when the vote upsert fails")
		}
	})
}

func TestSweepStale(t *testing.T) {
	it(func() {
		cutoff := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
		lastSeen := cutoff.Add(-48 * time.Hour)

		mock.ExpectQuery("SELECT (.+) FROM hazards WHERE is_active = TRUE AND last_reported_at < (.+)").
			WithArgs(cutoff).
			WillReturnRows(sqlmock.NewRows(hazardTestCols).
				AddRow(3, 1, 2, "", 36.71, 3.01, 1, 0, 0, true, lastSeen).
				AddRow(4, 4, 3, "", 36.72, 3.02, 2, 1, 0, true, lastSeen))
		mock.ExpectExec("UPDATE hazards SET is_active = FALSE WHERE id = (.+)").
			WithArgs(int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE hazards SET is_active = FALSE WHERE id = (.+)").
			WithArgs(int64(4)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		stale, err := sweepStale(db, cutoff)
		if err != nil {
			t.Fatalf("sweepStale: unexpected error: %v", err)
		}
		if len(stale) != 2 {
			t.Fatalf("sweepStale: retired %d hazards, want 2", len(stale))
		}
		for _, h := range stale {
			if h.IsActive {
				t.Errorf("sweepStale: hazard %d still marked active", h.ID)
			}
		}
	})
}
