// Package live keeps the hazard repository current with server-pushed
// events from the live websocket feed.
package live

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/gorilla/websocket"

	"dodanati/api"
	"dodanati/config"
	"dodanati/hazards"
)

const (
	readDeadline   = 60 * time.Second
	pingInterval   = 54 * time.Second
	writeTimeout   = 10 * time.Second
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Listener dials the live hazard feed and applies every event to the
// repository. It reconnects with backoff until Stop is called.
type Listener struct {
	url  string
	repo *hazards.Repository

	// Backoff bounds, overridable in tests.
	base time.Duration
	max  time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

// New builds a listener for the feed derived from the engine base URL.
func New(cfg *config.Engine, repo *hazards.Repository) (*Listener, error) {
	feedURL, err := feedURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	return &Listener{
		url:  feedURL,
		repo: repo,
		base: initialBackoff,
		max:  maxBackoff,
	}, nil
}

// feedURL maps the http(s) API base onto the ws(s) live endpoint.
func feedURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + api.LiveEndpoint
	return u.String(), nil
}

// Start launches the feed loop. Calling Start on a running listener is
// a no-op.
func (l *Listener) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.running = true
	l.wg.Add(1)
	go l.run(ctx)
}

// Stop disconnects the feed and waits for the loop to exit. Safe to
// call more than once.
func (l *Listener) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	cancel := l.cancel
	l.mu.Unlock()

	cancel()
	l.wg.Wait()
}

func (l *Listener) run(ctx context.Context) {
	defer l.wg.Done()

	backoff := l.base
	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warnf("Live feed dial failed, retrying in %s: %v", backoff, err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > l.max {
				backoff = l.max
			}
			continue
		}

		log.Info("Live hazard feed connected")
		backoff = l.base
		l.pump(ctx, conn)
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		log.Warn("Live hazard feed disconnected, reconnecting")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
	}
}

// pump reads events until the connection drops or ctx is canceled. A
// side goroutine keeps the connection alive with pings and closes it
// on cancellation so the blocking read returns.
func (l *Listener) pump(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warnf("Live feed read error: %v", err)
			}
			return
		}

		var event api.LiveEvent
		if err := json.Unmarshal(message, &event); err != nil {
			log.Warnf("Dropping malformed live event: %v", err)
			continue
		}
		l.apply(event)
	}
}

func (l *Listener) apply(event api.LiveEvent) {
	switch event.Action {
	case api.ActionCreated, api.ActionMerged:
		l.repo.Upsert(event.Hazard)
		log.Debugf("Live %s applied for hazard %d", event.Action, event.Hazard.ID)
	case api.ActionDeactivated:
		l.repo.Deactivate(event.Hazard.ID)
		log.Debugf("Live deactivation applied for hazard %d", event.Hazard.ID)
	default:
		log.Warnf("Dropping live event with unknown action %q", event.Action)
	}
}
