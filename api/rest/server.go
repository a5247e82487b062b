package rest

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/abcfe/abcfe-wallet/api"
	"github.com/abcfe/abcfe-wallet/common/logger"
	"github.com/abcfe/abcfe-wallet/config"
	"github.com/abcfe/abcfe-wallet/keyring"
	"github.com/abcfe/abcfe-wallet/scanner"
	"github.com/abcfe/abcfe-wallet/signer"
)

// Server REST API server
type Server struct {
	host       string
	port       int
	httpServer *http.Server
	handler    http.Handler
	wsHub      *api.WSHub
	limiter    *RateLimiter
}

// NewServer creates the REST API server
func NewServer(cfg *config.Config, ctrl *keyring.Controller, queue *signer.Queue, scanners *scanner.Manager, wsHub *api.WSHub) *Server {
	chainID := big.NewInt(cfg.Chain.ChainID)
	limiter := NewRateLimiter(NewRateLimitConfig(cfg.Server), nil)
	s := &Server{
		host:    cfg.Server.Host,
		port:    cfg.Server.RestPort,
		handler: setupRouter(ctrl, queue, scanners, wsHub, chainID, limiter),
		wsHub:   wsHub,
		limiter: limiter,
	}

	// signing handlers wait for the human answer
	writeTimeout := cfg.SignRequestTimeout() + 10*time.Second
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.host, s.port),
		Handler:      s.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler returns the router, used by tests
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the REST API server
func (s *Server) Start() error {
	logger.Info("REST API Server starting on ", s.httpServer.Addr)
	logger.Info("WebSocket available at ws://", s.httpServer.Addr, "/ws")
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("REST API Server error:", err)
		}
	}()

	return nil
}

// Stop shuts the REST API server down
func (s *Server) Stop(ctx context.Context) error {
	logger.Info("Shutting down REST API Server...")
	s.limiter.Stop()
	return s.httpServer.Shutdown(ctx)
}

// GetWSHub returns the WebSocket Hub
func (s *Server) GetWSHub() *api.WSHub {
	return s.wsHub
}
