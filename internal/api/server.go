package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"maker-auction/internal/auction"
	"maker-auction/internal/config"
)

// Deps are the collaborators the API serves.
type Deps struct {
	Engine   Engine
	Balances Balances
	History  History // optional
	Decimals int32   // bid token decimals, for display units
}

// Server runs the HTTP/WebSocket API.
type Server struct {
	cfg      config.APIConfig
	hub      *Hub
	handlers *Handlers
	limiter  *RateLimiter
	server   *http.Server
	logger   *slog.Logger
}

// NewServer creates a new API server
func NewServer(cfg config.APIConfig, deps Deps, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(cfg, deps, hub, logger)
	limiter := NewRateLimiter(cfg.RateLimit, cfg.RateBurst)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handlers.HandleHealth)
	mux.HandleFunc("GET /api/status", handlers.HandleStatus)
	mux.HandleFunc("GET /api/auctions", handlers.HandleListAuctions)
	mux.HandleFunc("GET /api/auctions/{token}", handlers.HandleShowAuction)
	mux.HandleFunc("POST /api/auctions/{token}/start", handlers.HandleStart)
	mux.HandleFunc("POST /api/auctions/{token}/bid", handlers.HandlePlaceBid)
	mux.HandleFunc("POST /api/auctions/{token}/end", handlers.HandleEnd)
	mux.HandleFunc("POST /api/skim", handlers.HandleSkim)
	mux.HandleFunc("POST /api/unwind", handlers.HandleUnwind)
	mux.HandleFunc("GET /api/staked", handlers.HandleStaked)
	mux.HandleFunc("GET /api/history/{token}", handlers.HandleHistory)
	mux.HandleFunc("POST /api/admin/receiver", handlers.HandleUpdateReceiver)
	mux.HandleFunc("POST /api/admin/whitelist", handlers.HandleUpdateWhitelist)
	mux.HandleFunc("GET /ws", handlers.HandleWebSocket)

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:      limiter.Middleware(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		hub:      hub,
		handlers: handlers,
		limiter:  limiter,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Handler returns the routed, rate-limited handler (useful with httptest).
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Hub returns the event stream hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start runs the hub and serves until Stop is called or ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	s.logger.Info("api server starting", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop() error {
	s.logger.Info("stopping api server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Publish broadcasts an engine event to stream subscribers. id is the
// journal ID if the event was journaled.
func (s *Server) Publish(evt auction.Event, id string) {
	s.hub.Broadcast(NewEventMessage(evt, id))
}
