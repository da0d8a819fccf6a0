package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lumabook/lumabook/pkg/auth"
	"github.com/lumabook/lumabook/pkg/config"
	"github.com/lumabook/lumabook/pkg/event"
	"github.com/lumabook/lumabook/pkg/handler"
	"github.com/lumabook/lumabook/pkg/utils"
)

type Server struct {
	ginEngine *gin.Engine
	cfg       *config.AppConfig
	logger    *slog.Logger
	port      int
}

func NewServer(cfg *config.AppConfig, chatHandler *handler.ChatHandler, tokenHandler *handler.TokenHandler, wsHandler *event.WSHandler, tokens *auth.StreamTokenService) *Server {
	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery())
	ginEngine.Use(corsMiddleware(cfg.AllowedOrigins()))

	s := &Server{
		ginEngine: ginEngine,
		cfg:       cfg,
		logger:    utils.GetLogger(),
	}
	s.setupRoutes(chatHandler, tokenHandler, wsHandler, tokens)
	return s
}

// corsMiddleware handles browser cross-origin requests for the JSON API.
// Requests without an Origin header are not browser CORS requests and pass
// through untouched.
func corsMiddleware(allowed []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if origin != "" {
			if !originAllowed(origin, allowed) {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			// Echo the Origin rather than "*" so custom schemes work.
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-User-ID, Idempotency-Key")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// streamOriginGate rejects browser requests to stream endpoints from origins
// outside the allowlist. Stream tokens ride in query strings, so a page on a
// hostile origin could otherwise open an EventSource with a leaked token.
// Non-browser clients send no Origin and are admitted; the stream token
// still gates them.
func streamOriginGate(allowed []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			c.Next()
			return
		}
		if !originAllowed(origin, allowed) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
			return
		}
		c.Next()
	}
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}

	// Typical localhost dev origins are always fine.
	if strings.HasPrefix(origin, "http://localhost") ||
		strings.HasPrefix(origin, "http://127.0.0.1") ||
		strings.HasPrefix(origin, "https://localhost") ||
		strings.HasPrefix(origin, "https://127.0.0.1") {
		return true
	}
	return false
}

func (s *Server) setupRoutes(chatHandler *handler.ChatHandler, tokenHandler *handler.TokenHandler, wsHandler *event.WSHandler, tokens *auth.StreamTokenService) {
	s.ginEngine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Authenticated JSON API
	// /api/v1
	apiGroup := s.ginEngine.Group("/api/v1")
	apiGroup.Use(handler.UserIdentity())
	chatHandler.RegisterRoutes(apiGroup)
	tokenHandler.RegisterRoutes(apiGroup)

	// Lifecycle event websocket
	// /api/v1/events/ws
	apiGroup.GET("/events/ws", wsHandler.Handle)

	// Reply stream endpoints use minted stream tokens, not the identity
	// header, and carry the origin gate on top of general CORS.
	streamGroup := s.ginEngine.Group("/stream")
	streamGroup.Use(streamOriginGate(s.cfg.AllowedOrigins()))
	streamGroup.Use(handler.StreamTokenAuth(tokens))
	chatHandler.RegisterStreamRoutes(streamGroup)
}

func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host(), s.cfg.Port())
	srv := &http.Server{Addr: addr, Handler: s.ginEngine}

	// Attempt to listen first; if the port is occupied return immediately
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}

	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port = tcpAddr.Port
	} else {
		s.port = s.cfg.Port()
	}
	s.logger.Info("server listening", "addr", ln.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve(ln)
	}()

	// Graceful shutdown on context cancellation
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := <-errChan; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
