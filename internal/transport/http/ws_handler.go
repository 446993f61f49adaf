package http

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"paidquiz-service/internal/app"
	"paidquiz-service/internal/domain"
)

// WSHandler streams submission lifecycle events to operator dashboards.
type WSHandler struct {
	feed     *app.Feed
	upgrader websocket.Upgrader
}

func NewWSHandler(feed *app.Feed) *WSHandler {
	return &WSHandler{
		feed: feed,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type outboundMessage struct {
	Type    string                 `json:"type"`
	Payload domain.SubmissionEvent `json:"payload"`
}

// ServeWS upgrades the request and forwards feed events for one test until
// the client disconnects.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	testID := r.URL.Query().Get("testId")
	if testID == "" {
		http.Error(w, "missing testId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	events, cancel := h.feed.Subscribe(testID)
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for ev := range events {
			if err := conn.WriteJSON(outboundMessage{Type: "submission", Payload: ev}); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	// Read pump: the feed is outbound-only, a read error means the client
	// went away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	cancel()
	<-writerDone
}
