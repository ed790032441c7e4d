package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"voiceagent-server/pkg/config"
	"voiceagent-server/pkg/media"
	"voiceagent-server/pkg/metrics"
	"voiceagent-server/pkg/version"
)

// ConnectionHandler runs one media stream to completion. The session
// manager satisfies this.
type ConnectionHandler interface {
	HandleConnection(ctx context.Context, conn media.WSConn)
	Count() int
}

// mediaUpgrader configures the media stream WebSocket upgrade. Telephony
// providers connect from their own infrastructure, so any origin is allowed.
var mediaUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server exposes the media stream WebSocket endpoint plus health and
// metrics endpoints
type Server struct {
	logger     *logrus.Logger
	config     config.HTTPConfig
	sessions   ConnectionHandler
	httpServer *http.Server
	mux        *http.ServeMux
	startTime  time.Time
}

// NewServer creates the HTTP server and registers its endpoints
func NewServer(logger *logrus.Logger, cfg config.HTTPConfig, sessions ConnectionHandler) *Server {
	server := &Server{
		logger:    logger,
		config:    cfg,
		sessions:  sessions,
		mux:       http.NewServeMux(),
		startTime: time.Now(),
	}

	server.mux.HandleFunc("/health", server.healthHandler)
	server.mux.HandleFunc("/healthz", server.healthHandler)
	server.mux.HandleFunc("/health/live", server.livenessHandler)
	server.mux.HandleFunc("/health/ready", server.healthHandler)
	server.mux.HandleFunc("/ws/media", server.mediaHandler)
	metrics.RegisterHandler(server.mux)

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      server.mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// Start begins serving in a background goroutine
func (s *Server) Start() {
	s.logger.WithField("port", s.config.Port).Info("Starting HTTP server")

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server failed")
		}
	}()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}

// mediaHandler upgrades the connection and runs the call to completion.
// WriteTimeout does not apply to hijacked WebSocket connections, so a call
// can outlive it.
func (s *Server) mediaHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := mediaUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("Media WebSocket upgrade failed")
		return
	}

	s.logger.WithField("remote_addr", r.RemoteAddr).Info("Media stream connected")
	s.sessions.HandleConnection(r.Context(), conn)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":       "ok",
		"version":      version.Version,
		"uptime":       time.Since(s.startTime).String(),
		"active_calls": s.sessions.Count(),
		"started_at":   s.startTime.Format(time.RFC3339),
	}

	w.Header().Set("Server", version.ServerHeader())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(status)
}

func (s *Server) livenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
}
