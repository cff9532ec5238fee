package api

import (
	"github.com/claudio-mas/SGDI-20-sub001/internal/middleware"

	"github.com/gorilla/mux"
)

func SetupRoutes(h *Handler) *mux.Router {
	r := mux.NewRouter()

	// Apply global middleware
	// Middleware runs in order - tracing first, then recovery, then CORS
	r.Use(middleware.TracingMiddleware)       // Add tracing spans to all requests
	r.Use(middleware.ErrorRecoveryMiddleware) // Catch panics
	r.Use(middleware.CORSMiddleware)          // Handle CORS

	// API routes
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/documents/{id}/presence", h.GetDocumentPresence).Methods("GET")
	api.HandleFunc("/health", h.HealthCheck).Methods("GET")

	// WebSocket routes; connection attempts are rate limited per remote
	r.HandleFunc("/ws/document/{id}",
		middleware.RateLimitFunc(middleware.WebSocketLimiter, h.HandleDocumentWebSocket))

	return r
}
