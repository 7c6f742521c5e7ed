// Package server provides HTTP server initialization and lifecycle
// management for the Revise review API.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/revisehq/revise/internal/config"
	"github.com/revisehq/revise/internal/session"
	"github.com/revisehq/revise/internal/storage"
	"github.com/revisehq/revise/web/handlers"
)

// securityHeadersMiddleware adds security headers to all HTTP responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Start initializes and starts the HTTP server.
// Returns the actual address being listened on (useful for testing with
// port 0) and the WebSocketHub for wiring session progress broadcasts.
// The tracker parameter may be nil; it feeds the live queue metrics in
// /api/stats.
func Start(ctx context.Context, cfg *config.Config, store storage.ReviewStore,
	orchestrator *session.Orchestrator, tracker *session.Tracker) (string, *handlers.WebSocketHub) {

	mux := http.NewServeMux()

	// Create WebSocket hub
	wsHub := handlers.NewWebSocketHub()
	go wsHub.Run()

	// Create rate limiter (10 req/sec, burst of 20)
	rateLimiter := handlers.NewRateLimiter(10.0, 20)

	reviewHandlers := handlers.NewReviewHandlers(orchestrator, wsHub)

	var queueGetter handlers.QueueDepthGetter
	if tracker != nil {
		queueGetter = tracker
	}
	statsHandler := handlers.NewStatsHandler(store, queueGetter)
	activityHandler := handlers.NewActivityHandler(store)
	masteryHandler := handlers.NewMasteryHandler(store)

	// API routes (require auth in production mode)
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/api/session", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			reviewHandlers.GetSession(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	for route, handler := range map[string]http.HandlerFunc{
		"/api/session/load":    reviewHandlers.PostLoad,
		"/api/session/start":   reviewHandlers.PostStart,
		"/api/session/reveal":  reviewHandlers.PostReveal,
		"/api/session/grade":   reviewHandlers.PostGrade,
		"/api/session/abandon": reviewHandlers.PostAbandon,
	} {
		handler := handler
		apiMux.HandleFunc(route, func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost {
				handler(w, r)
			} else {
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}
		})
	}

	apiMux.HandleFunc("/api/stats", statsHandler.GetStats)
	apiMux.HandleFunc("/api/activity", activityHandler.GetActivity)
	apiMux.HandleFunc("/api/mastery", masteryHandler.ListMastery)
	apiMux.HandleFunc("/api/mastery/{concept_id}", masteryHandler.GetMastery)

	// Health endpoint - no auth required, used by monitoring
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","version":"1.0.0"}`))
	})

	// Wrap API routes with auth middleware
	mux.Handle("/api/", handlers.RequireAuth(apiMux, cfg))

	// WebSocket endpoint (no auth required - origin validation handles security)
	mux.Handle("/ws", wsHub)

	// Wrap entire server with rate limiting, then security headers
	handler := handlers.RateLimitMiddleware(mux, rateLimiter)
	handler = securityHeadersMiddleware(handler)

	// Create server with security timeouts
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("Failed to listen on %s: %v", addr, err)
	}

	actualAddr := listener.Addr().String()

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
		}
	}()

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		wsHub.Stop()
	}()

	return actualAddr, wsHub
}
