package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/claudio-mas/SGDI-20-sub001/internal/api"
	"github.com/claudio-mas/SGDI-20-sub001/internal/config"
	"github.com/claudio-mas/SGDI-20-sub001/internal/relay"
	"github.com/claudio-mas/SGDI-20-sub001/internal/telemetry"
)

func main() {
	log.Println("🚀 Starting collaboration relay...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	// Initialize Jaeger tracing first so all operations are traced
	jaegerShutdown, err := telemetry.InitJaeger("collab-relay", cfg.JaegerEndpoint)
	if err != nil {
		log.Printf("⚠️  Failed to initialize Jaeger: %v (continuing without tracing)", err)
		jaegerShutdown = func(ctx context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			log.Printf("⚠️  Failed to shutdown Jaeger: %v", err)
		}
	}()

	// Start the relay hub
	hub := relay.NewHub()
	hub.Start()

	wsHandler := relay.NewWebSocketHandler(hub)
	handler := api.NewHandler(wsHandler)
	router := api.SetupRoutes(handler)

	addr := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("🌐 Relay listening on http://%s", addr)
		log.Printf("📚 Endpoints:")
		log.Printf("   GET /ws/document/{id}           - Join document collaboration")
		log.Printf("   GET /api/documents/{id}/presence - Current participants")
		log.Printf("   GET /api/health                  - Liveness probe")
		log.Println()

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shut down
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("\n🛑 Shutting down relay...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️  Server forced to shutdown: %v", err)
	}

	// Close all active websocket connections
	hub.Shutdown()

	log.Println("✓ Relay shutdown complete")
}
