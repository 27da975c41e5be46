// Package api exposes the reversal configuration, sessions and market state over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rewired-gh/marketpulse/internal/engine"
	"github.com/rewired-gh/marketpulse/internal/exchange"
	"github.com/rewired-gh/marketpulse/internal/logger"
	"github.com/rewired-gh/marketpulse/internal/models"
	"github.com/rewired-gh/marketpulse/internal/storage"
)

// Reversal is the state machine surface used by the handlers.
type Reversal interface {
	Configuration() models.ReversalConfiguration
	UpdateConfiguration(cfg models.ReversalConfiguration) error
	State() models.ReversalState
	GetSession(id int64) (*models.ReversalState, *models.ReversalCoinsStates, error)
}

// History lists persisted sessions.
type History interface {
	ListSessions(limit int, eventsOnly bool) ([]models.ReversalState, error)
}

type Market interface {
	Snapshot() engine.Snapshot
}

type Instruments interface {
	Supported() []exchange.Supported
}

type Stream interface {
	SinceLastMessage() time.Duration
}

// Server wires handlers onto a gin router.
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	reversal    Reversal
	history     History
	market      Market
	instruments Instruments
	stream      Stream
	staleAfter  time.Duration
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// Dependencies groups the collaborators served by the API. Instruments and
// Stream may be nil.
type Dependencies struct {
	Reversal    Reversal
	History     History
	Market      Market
	Instruments Instruments
	Stream      Stream
	StaleAfter  time.Duration
}

// NewServer builds the router.
func NewServer(deps Dependencies) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router:      router,
		reversal:    deps.Reversal,
		history:     deps.History,
		market:      deps.Market,
		instruments: deps.Instruments,
		stream:      deps.Stream,
		staleAfter:  deps.StaleAfter,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	api.GET("/health", s.handleHealth)

	rev := api.Group("/reversal")
	rev.GET("", s.handleActiveSession)
	rev.GET("/configuration", s.handleGetConfiguration)
	rev.PUT("/configuration", s.handleUpdateConfiguration)
	rev.GET("/history", s.handleHistory)
	rev.GET("/:id", s.handleGetSession)

	market := api.Group("/market")
	market.GET("/state", s.handleMarketState)
	market.GET("/instruments", s.handleInstruments)
}

// Handler returns the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	logger.Info("Starting HTTP server on %s", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// handleHealth reports stream freshness
// GET /api/health
func (s *Server) handleHealth(c *gin.Context) {
	if s.stream == nil {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
		return
	}
	idle := s.stream.SinceLastMessage()
	if s.staleAfter > 0 && idle > s.staleAfter {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":            "degraded",
			"last_message_secs": idle.Seconds(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":            "healthy",
		"last_message_secs": idle.Seconds(),
	})
}

// GET /api/reversal
func (s *Server) handleActiveSession(c *gin.Context) {
	c.JSON(http.StatusOK, s.reversal.State())
}

// GET /api/reversal/configuration
func (s *Server) handleGetConfiguration(c *gin.Context) {
	c.JSON(http.StatusOK, s.reversal.Configuration())
}

// handleUpdateConfiguration validates and applies a new configuration
// PUT /api/reversal/configuration
func (s *Server) handleUpdateConfiguration(c *gin.Context) {
	var cfg models.ReversalConfiguration
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "VALIDATION_ERROR",
			"message": err.Error(),
		})
		return
	}
	if err := s.reversal.UpdateConfiguration(cfg); err != nil {
		if errors.Is(err, models.ErrInvalidConfiguration) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "VALIDATION_ERROR",
				"message": err.Error(),
			})
			return
		}
		logger.Error("Failed to update reversal configuration: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "INTERNAL_ERROR",
			"message": "failed to update configuration",
		})
		return
	}
	c.JSON(http.StatusOK, s.reversal.Configuration())
}

// GET /api/reversal/:id
func (s *Server) handleGetSession(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "VALIDATION_ERROR",
			"message": "session id must be a positive integer",
		})
		return
	}
	state, coins, err := s.reversal.GetSession(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "NOT_FOUND",
				"message": fmt.Sprintf("session %d not found", id),
			})
			return
		}
		logger.Error("Failed to load reversal session %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "INTERNAL_ERROR",
			"message": "failed to load session",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"state":        state,
		"coins_states": coins,
	})
}

// handleHistory lists persisted sessions, newest first
// GET /api/reversal/history?limit=50&events_only=true
func (s *Server) handleHistory(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "VALIDATION_ERROR",
				"message": fmt.Sprintf("limit must be between 1 and %d", maxHistoryLimit),
			})
			return
		}
		limit = n
	}
	eventsOnly := false
	if raw := c.Query("events_only"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "VALIDATION_ERROR",
				"message": "events_only must be a boolean",
			})
			return
		}
		eventsOnly = b
	}

	sessions, err := s.history.ListSessions(limit, eventsOnly)
	if err != nil {
		logger.Error("Failed to list reversal sessions: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "INTERNAL_ERROR",
			"message": "failed to list sessions",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// GET /api/market/state
func (s *Server) handleMarketState(c *gin.Context) {
	c.JSON(http.StatusOK, s.market.Snapshot())
}

// GET /api/market/instruments
func (s *Server) handleInstruments(c *gin.Context) {
	supported := []exchange.Supported{}
	if s.instruments != nil {
		supported = s.instruments.Supported()
	}
	c.JSON(http.StatusOK, gin.H{"supported": supported})
}
