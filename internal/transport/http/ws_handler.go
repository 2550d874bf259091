package http

import (
	"log"
	"net/http"

	"legalia-progress-service/internal/app"
	"github.com/gorilla/websocket"
)

// WSHandler streams a user's accepted submission results over a
// websocket so the app can react live (XP toasts, streak flame).
type WSHandler struct {
	feed     *app.ProgressFeed
	upgrader websocket.Upgrader
}

func NewWSHandler(feed *app.ProgressFeed) *WSHandler {
	return &WSHandler{
		feed: feed,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

// ServeWS upgrades the request and forwards progress-feed updates until
// the client disconnects.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	updates, cancel := h.feed.Subscribe(userID)
	defer cancel()

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		// The client sends nothing meaningful; reading just detects the
		// close frame.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(outboundMessage[any]{Type: "progress", Payload: update}); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		case <-readerDone:
			return
		}
	}
}
