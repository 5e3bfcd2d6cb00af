package server

import (
	"encoding/json"
	"sync"
	"time"

	"dodanati/api"
	"dodanati/metrics"
	"dodanati/models"

	"github.com/apex/log"
	"github.com/gorilla/websocket"
)

const (
	feedWriteTimeout = 10 * time.Second
	feedPongTimeout  = 60 * time.Second
	feedPingInterval = 54 * time.Second
	feedReadLimit    = 512
)

// Hub fans hazard lifecycle events out to every connected live feed
// subscriber.
type Hub struct {
	clients map[*feedClient]bool

	broadcast  chan []byte
	register   chan *feedClient
	unregister chan *feedClient

	mutex sync.RWMutex

	connectedClients int
	eventsSent       int
}

// feedClient is one websocket subscriber on the live feed.
type feedClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a live feed hub. Run must be started for events to
// move.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*feedClient]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *feedClient),
		unregister: make(chan *feedClient),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.connectedClients = len(h.clients)
			h.mutex.Unlock()
			metrics.LiveFeedClients.Set(float64(h.connectedClients))
			log.Infof("Live feed client connected. Total clients: %d", h.connectedClients)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.connectedClients = len(h.clients)
			}
			h.mutex.Unlock()
			metrics.LiveFeedClients.Set(float64(h.connectedClients))
			log.Infof("Live feed client disconnected. Total clients: %d", h.connectedClients)

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.connectedClients = len(h.clients)
			h.eventsSent++
			h.mutex.Unlock()
			metrics.LiveFeedClients.Set(float64(h.connectedClients))
		}
	}
}

// BroadcastEvent pushes one hazard lifecycle event to every subscriber.
// Slow subscribers are dropped rather than allowed to stall the feed.
func (h *Hub) BroadcastEvent(action string, hazard models.HazardReport) {
	// The feed is shared; report ownership is a per-device view.
	hazard.IsMine = false

	data, err := json.Marshal(api.LiveEvent{Action: action, Hazard: hazard})
	if err != nil {
		log.Errorf("Failed to marshal live event: %v", err)
		return
	}

	h.broadcast <- data
	log.Debugf("Broadcast %s event for hazard %d", action, hazard.ID)
}

// RegisterClient attaches an upgraded connection to the hub and starts
// its pumps.
func (h *Hub) RegisterClient(conn *websocket.Conn) {
	client := &feedClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

// GetStats returns the connected client count and the number of events
// sent since startup.
func (h *Hub) GetStats() (clients, events int) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.connectedClients, h.eventsSent
}

// readPump drains the connection. Subscribers never send anything
// meaningful; reads exist to process pongs and notice disconnects.
func (c *feedClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(feedReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(feedPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(feedPongTimeout))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warnf("Live feed read error: %v", err)
			}
			break
		}
	}
}

// writePump pumps hub events to the connection and keeps it alive with
// periodic pings.
func (c *feedClient) writePump() {
	ticker := time.NewTicker(feedPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
