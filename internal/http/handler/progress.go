package handler

import (
	"log"
	"net/http"
	"time"

	"autorun/internal/auth"
	"autorun/internal/progress"

	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsBuffer       = 64
)

// ProgressHandler streams the caller's progress events over a websocket.
type ProgressHandler struct {
	Hub            *progress.Hub
	AllowedOrigins []string
}

func (h *ProgressHandler) upgrader() websocket.Upgrader {
	u := websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096}
	if len(h.AllowedOrigins) > 0 {
		allowed := map[string]bool{}
		for _, o := range h.AllowedOrigins {
			allowed[o] = true
		}
		u.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed["*"] || allowed[origin]
		}
	}
	return u
}

func (h *ProgressHandler) Stream(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	accountID := queryUint(r, "account_id")

	up := h.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, cancel := h.Hub.Subscribe(wsBuffer, progress.ForOwner(uid, accountID))
	defer cancel()

	// the client never sends; reading only detects the close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				log.Printf("progress ws user=%d write: %v\n", uid, err)
				return
			}
		}
	}
}
