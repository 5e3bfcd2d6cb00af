package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dodanati/api"
	"dodanati/models"
)

// newFeedServer wraps a hub in a minimal upgrade endpoint so tests can
// dial it with a real websocket client.
func newFeedServer(hub *Hub) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := feedUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.RegisterClient(conn)
	}))
}

func dialFeed(t *testing.T, srv *httptest.Server) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	require.Eventually(t, func() bool {
		clients, _ := hub.GetStats()
		return clients == want
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHubBroadcastReachesEverySubscriber(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	srv := newFeedServer(hub)
	defer srv.Close()

	first := dialFeed(t, srv)
	defer first.Close()
	second := dialFeed(t, srv)
	defer second.Close()
	waitForClients(t, hub, 2)

	hub.BroadcastEvent(api.ActionCreated, models.HazardReport{
		ID:             9,
		CategoryID:     2,
		Severity:       4,
		Lat:            36.76,
		Lng:            3.05,
		ReportsCount:   1,
		IsActive:       true,
		LastReportedAt: time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC),
		IsMine:         true,
	})

	for _, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)

		var ev api.LiveEvent
		require.NoError(t, json.Unmarshal(msg, &ev))
		assert.Equal(t, api.ActionCreated, ev.Action)
		assert.Equal(t, int64(9), ev.Hazard.ID)
		// Ownership is a per-device view and never leaks into the feed.
		assert.False(t, ev.Hazard.IsMine)
	}

	_, events := hub.GetStats()
	assert.Equal(t, 1, events)
}

func TestHubDropsDisconnectedClients(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	srv := newFeedServer(hub)
	defer srv.Close()

	conn := dialFeed(t, srv)
	waitForClients(t, hub, 1)

	require.NoError(t, conn.Close())
	waitForClients(t, hub, 0)
}
