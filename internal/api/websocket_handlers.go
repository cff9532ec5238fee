package api

import (
	"net/http"
)

// WebSocket endpoints

// HandleDocumentWebSocket handles collaboration connections for one document.
func (h *Handler) HandleDocumentWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHandler.HandleDocumentConnection(w, r)
}
