package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/room4-2/voicebank/config"
	"github.com/room4-2/voicebank/logging"
	"github.com/room4-2/voicebank/messages"
	"github.com/room4-2/voicebank/session"
)

type Server struct {
	httpServer     *http.Server
	router         chi.Router
	upgrader       websocket.Upgrader
	sessionManager *session.Manager
	config         *config.Config
	logger         *zap.Logger
}

// NewServerWebsocket wires the relay endpoint, health check and the HTTP API routes
func NewServerWebsocket(cfg *config.Config, sessionManager *session.Manager, apiRoutes chi.Router, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		sessionManager: sessionManager,
		config:         cfg,
		logger:         logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024, // 64KB for audio frames
			WriteBufferSize: 64 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Check allowed origins
				origin := r.Header.Get("Origin")
				for _, allowed := range cfg.AllowedOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/realtime", s.handleRealtime)
	r.Get("/health", s.handleHealth)
	if apiRoutes != nil {
		r.Mount("/", apiRoutes)
	}
	s.router = r

	// No read/write timeouts: relay sockets are long-lived
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for connections
func (s *Server) Start() error {
	s.logger.Info("Server starting",
		zap.Int("port", s.config.Port),
		zap.String("relay", fmt.Sprintf("ws://localhost:%d/realtime", s.config.Port)))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server")
	s.sessionManager.Shutdown()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	// Upgrade HTTP to WebSocket
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	pair, err := s.sessionManager.CreatePair(r.Context(), conn)
	if err != nil {
		code, reason := session.CloseCodeFor(err)
		s.logger.Warn("Relay refused", zap.Error(err), zap.Int("close_code", code))
		_ = conn.WriteControl(websocket.CloseMessage, messages.CloseMessage(code, reason), time.Now().Add(time.Second))
		conn.Close()
		return
	}

	s.logger.Info("Relay pair created", zap.String("pair", logging.ShortID(pair.ID)))

	// Start relaying (runs in goroutines)
	pair.Start()

	// Wait for pair to close
	<-pair.CloseChan

	// Clean up
	_ = s.sessionManager.RemovePair(context.Background(), pair.ID)
	s.logger.Info("Relay pair closed", zap.String("pair", logging.ShortID(pair.ID)), zap.NamedError("cause", pair.Err()))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","sessions":%d}`, s.sessionManager.GetActiveSessionCount())
}
