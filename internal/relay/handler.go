package relay

import (
	"log"
	"net/http"

	"github.com/claudio-mas/SGDI-20-sub001/internal/middleware"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The collaboration channel carries no credentials of its own;
		// auth lives with the surrounding session. Origins are left open.
		return true
	},
}

// WebSocketHandler upgrades document collaboration connections.
type WebSocketHandler struct {
	hub *Hub
}

func NewWebSocketHandler(hub *Hub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

// Hub exposes the handler's hub for presence queries.
func (h *WebSocketHandler) Hub() *Hub {
	return h.hub
}

// HandleDocumentConnection upgrades an HTTP request to a websocket and
// attaches it to the document's room.
func (h *WebSocketHandler) HandleDocumentConnection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	documentID := mux.Vars(r)["id"]
	if documentID == "" {
		http.Error(w, "missing document id", http.StatusBadRequest)
		return
	}

	ctx, span := middleware.StartSpan(ctx, "WebSocket.Connect",
		attribute.String("document.id", documentID),
	)
	defer span.End()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("relay: websocket upgrade failed: %v", err)
		middleware.AddSpanError(ctx, err)
		return
	}

	client := NewClient(h.hub, conn, documentID)
	h.hub.register <- client

	go client.writePump()
	go client.readPump()

	log.Printf("✓ WebSocket connection %s established for document %s", client.ID, documentID)
}
