package handler

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Shivanand-hulikatti/parking-reservations/internal/feed"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsMessage is one frame sent to feed clients.
type wsMessage struct {
	Data  any       `json:"data,omitempty"`
	Error string    `json:"error,omitempty"`
	At    time.Time `json:"at"`
}

// WatchSpaces handles GET /ws/spaces
func (h *Handler) WatchSpaces(w http.ResponseWriter, r *http.Request) {
	h.serveFeed(w, r, func(ctx context.Context) (any, error) {
		return h.spaces.ListSpaces(ctx)
	})
}

// WatchActiveReservation handles GET /ws/reservations/active
// A null data frame means the driver holds no space.
func (h *Handler) WatchActiveReservation(w http.ResponseWriter, r *http.Request) {
	userID := principal(r).UserID
	h.serveFeed(w, r, func(ctx context.Context) (any, error) {
		return h.coordinator.ActiveReservation(ctx, userID)
	})
}

// WatchReport handles GET /ws/admin/report
func (h *Handler) WatchReport(w http.ResponseWriter, r *http.Request) {
	h.serveFeed(w, r, func(ctx context.Context) (any, error) {
		return h.reports.ReportNow(ctx)
	})
}

// serveFeed upgrades the connection and streams the query's snapshots until
// the client goes away.
func (h *Handler) serveFeed(w http.ResponseWriter, r *http.Request, q feed.Query) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	// The request context is not cancelled for hijacked connections.
	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()

	sub := h.hub.Subscribe(ctx, q)
	defer sub.Unsubscribe()

	// Reader: only needed to process pongs and notice the close.
	go func() {
		defer cancel()
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("websocket read: %v", err)
				}
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-sub.C:
			if !ok {
				return
			}
			msg := wsMessage{Data: snap.Data, At: snap.At}
			if snap.Err != nil {
				log.Printf("feed query: %v", snap.Err)
				msg = wsMessage{Error: "failed to load data", At: snap.At}
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
