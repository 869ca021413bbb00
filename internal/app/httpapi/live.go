package httpapi

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	app "github.com/estrateo/estrateo/internal/app"
	"github.com/estrateo/estrateo/internal/app/domain/dashboard"
	"github.com/estrateo/estrateo/internal/app/events"
	"github.com/estrateo/estrateo/internal/httputil"
	"github.com/estrateo/estrateo/pkg/logger"
)

const (
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = livePongWait * 9 / 10
	liveBuffer     = 64
)

// liveMessage is one frame pushed to dashboard clients.
type liveMessage struct {
	Type    string             `json:"type"`
	Event   *events.Event      `json:"event,omitempty"`
	Summary *dashboard.Summary `json:"summary,omitempty"`
}

// liveHub streams dashboard snapshots and activity events over WebSocket.
type liveHub struct {
	app      *app.Application
	log      *logger.Logger
	upgrader websocket.Upgrader
	clients  atomic.Int64
}

func newLiveHub(application *app.Application, origins []string, log *logger.Logger) *liveHub {
	hub := &liveHub{app: application, log: log}
	hub.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(origins),
	}
	return hub
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

func (hub *liveHub) serve(w http.ResponseWriter, r *http.Request) {
	rid := restaurantID(r)
	summary, err := hub.app.Dashboard.Summary(r.Context(), rid, 0)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.WithContext(r.Context()).WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	hub.clients.Add(1)
	defer hub.clients.Add(-1)

	out := make(chan events.Event, liveBuffer)
	unsubscribe := hub.app.Events.SubscribeFiltered(events.ForRestaurant(rid), func(ev events.Event) {
		select {
		case out <- ev:
		default:
			// slow client; drop rather than block publishers
		}
	})
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(livePongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(livePongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := hub.write(conn, liveMessage{Type: "snapshot", Summary: &summary}); err != nil {
		return
	}

	ticker := time.NewTicker(livePingPeriod)
	defer ticker.Stop()

	// the request context no longer applies once hijacked
	ctx := logger.WithTraceID(context.Background(), logger.TraceID(r.Context()))
	for {
		select {
		case <-done:
			return
		case ev := <-out:
			if err := hub.write(conn, liveMessage{Type: "event", Event: &ev}); err != nil {
				return
			}
			fresh, err := hub.app.Dashboard.Summary(ctx, rid, 0)
			if err != nil {
				hub.log.WithContext(ctx).WithError(err).Warn("refresh live dashboard")
				continue
			}
			if err := hub.write(conn, liveMessage{Type: "snapshot", Summary: &fresh}); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (hub *liveHub) write(conn *websocket.Conn, msg liveMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
	return conn.WriteJSON(msg)
}
