package live

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dodanati/api"
	"dodanati/client"
	"dodanati/config"
	"dodanati/hazards"
	"dodanati/models"
	"dodanati/queue"
	"dodanati/storage"
)

var upgrader = websocket.Upgrader{}

var testDevice = queue.DeviceInfo{
	UUID:     "11111111-2222-3333-4444-555555555555",
	Platform: "android",
	Locale:   "fr",
}

// hold keeps the server side of the feed open until the client hangs
// up, answering pings along the way.
func hold(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func newFixture(t *testing.T, handler http.HandlerFunc) (*Listener, *hazards.Repository) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	blobs, err := storage.New(t.TempDir())
	require.NoError(t, err)
	cfg := &config.Engine{
		BaseURL:           srv.URL,
		HTTPTimeout:       2 * time.Second,
		CacheTTL:          time.Hour,
		RefetchDistanceKm: 2,
		RefetchZoomDelta:  1,
		ViewportDebounce:  20 * time.Millisecond,
	}
	q := queue.New(blobs, testDevice)
	repo := hazards.NewRepository(cfg, client.New(cfg), q, blobs)

	l, err := New(cfg, repo)
	require.NoError(t, err)
	l.base = 5 * time.Millisecond
	l.max = 20 * time.Millisecond
	t.Cleanup(l.Stop)
	return l, repo
}

func TestFeedURL(t *testing.T) {
	cases := []struct{ base, want string }{
		{"http://localhost:8080", "ws://localhost:8080/hazards/live"},
		{"http://localhost:8080/", "ws://localhost:8080/hazards/live"},
		{"https://api.dodanati.example", "wss://api.dodanati.example/hazards/live"},
	}
	for _, c := range cases {
		got, err := feedURL(c.base)
		require.NoError(t, err)
		assert.Equal(t, c.want, got)
	}
}

func TestListenerAppliesCreatedAndMerged(t *testing.T) {
	l, repo := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, api.LiveEndpoint, r.URL.Path)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteJSON(api.LiveEvent{
			Action: api.ActionCreated,
			Hazard: models.HazardReport{ID: 42, CategoryID: 2, Severity: 3, ReportsCount: 1, IsActive: true},
		})
		conn.WriteJSON(api.LiveEvent{
			Action: api.ActionMerged,
			Hazard: models.HazardReport{ID: 42, CategoryID: 2, Severity: 4, ReportsCount: 2, IsActive: true},
		})
		hold(conn)
	})

	l.Start()

	require.Eventually(t, func() bool {
		points := repo.PointSet()
		return len(points) == 1 && points[0].ReportsCount == 2
	}, time.Second, 5*time.Millisecond)

	points := repo.PointSet()
	assert.Equal(t, int64(42), points[0].ID)
	assert.Equal(t, 4, points[0].Severity, "merge replaces the stored hazard")
}

func TestListenerDeactivates(t *testing.T) {
	l, repo := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteJSON(api.LiveEvent{
			Action: api.ActionDeactivated,
			Hazard: models.HazardReport{ID: 7},
		})
		hold(conn)
	})

	repo.Upsert(models.HazardReport{ID: 7, CategoryID: 1, Severity: 2, IsActive: true})
	l.Start()

	require.Eventually(t, func() bool {
		points := repo.PointSet()
		return len(points) == 1 && !points[0].IsActive
	}, time.Second, 5*time.Millisecond)
}

func TestListenerReconnectsAfterDrop(t *testing.T) {
	var conns atomic.Int64
	l, repo := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if conns.Add(1) == 1 {
			conn.WriteJSON(api.LiveEvent{
				Action: api.ActionCreated,
				Hazard: models.HazardReport{ID: 1, CategoryID: 1, IsActive: true},
			})
			conn.Close()
			return
		}
		conn.WriteJSON(api.LiveEvent{
			Action: api.ActionCreated,
			Hazard: models.HazardReport{ID: 2, CategoryID: 1, IsActive: true},
		})
		hold(conn)
	})

	l.Start()

	require.Eventually(t, func() bool {
		return len(repo.PointSet()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, conns.Load(), int64(2))
}

func TestListenerSkipsMalformedEvents(t *testing.T) {
	l, repo := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
		conn.WriteJSON(api.LiveEvent{
			Action: api.ActionCreated,
			Hazard: models.HazardReport{ID: 5, CategoryID: 1, IsActive: true},
		})
		hold(conn)
	})

	l.Start()

	require.Eventually(t, func() bool {
		points := repo.PointSet()
		return len(points) == 1 && points[0].ID == 5
	}, time.Second, 5*time.Millisecond)
}

func TestListenerIgnoresUnknownActions(t *testing.T) {
	l, repo := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteJSON(api.LiveEvent{
			Action: "resurrected",
			Hazard: models.HazardReport{ID: 9, CategoryID: 1, IsActive: true},
		})
		conn.WriteJSON(api.LiveEvent{
			Action: api.ActionCreated,
			Hazard: models.HazardReport{ID: 10, CategoryID: 1, IsActive: true},
		})
		hold(conn)
	})

	l.Start()

	require.Eventually(t, func() bool {
		points := repo.PointSet()
		return len(points) == 1 && points[0].ID == 10
	}, time.Second, 5*time.Millisecond)
}

func TestStopHaltsFeed(t *testing.T) {
	connected := make(chan *websocket.Conn, 1)
	l, repo := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connected <- conn
		hold(conn)
	})

	l.Start()
	l.Start() // second Start is a no-op

	var conn *websocket.Conn
	select {
	case conn = <-connected:
	case <-time.After(time.Second):
		t.Fatal("listener never connected")
	}

	l.Stop()
	l.Stop() // and Stop is idempotent

	conn.WriteJSON(api.LiveEvent{
		Action: api.ActionCreated,
		Hazard: models.HazardReport{ID: 3, CategoryID: 1, IsActive: true},
	})
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, repo.PointSet(), "events after Stop are not applied")
}
