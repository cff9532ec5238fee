package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/claudio-mas/SGDI-20-sub001/internal/relay"

	"github.com/gorilla/mux"
)

// Handler wires HTTP endpoints to the relay hub.
type Handler struct {
	wsHandler *relay.WebSocketHandler
}

func NewHandler(wsHandler *relay.WebSocketHandler) *Handler {
	return &Handler{wsHandler: wsHandler}
}

// GetDocumentPresence returns the current participant list for a document.
// Lets dashboards show who is in a document without opening a websocket.
func (h *Handler) GetDocumentPresence(w http.ResponseWriter, r *http.Request) {
	documentID := mux.Vars(r)["id"]

	participants := h.wsHandler.Hub().Presence(documentID)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"documentId":   documentID,
		"participants": participants,
		"count":        len(participants),
	}); err != nil {
		log.Printf("api: encoding presence response: %v", err)
	}
}

// HealthCheck is the liveness probe.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
